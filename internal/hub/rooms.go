package hub

import "sync"

// RoomRegistry tracks which connections are subscribed to which chat
// rooms. It is mechanism only: participant checks happen before Join is
// called.
type RoomRegistry struct {
	mu     sync.RWMutex
	rooms  map[string]map[string]*Client // chatId -> connectionId -> client
	byConn map[string]map[string]bool    // connectionId -> joined chatIds
}

func NewRoomRegistry() *RoomRegistry {
	return &RoomRegistry{
		rooms:  make(map[string]map[string]*Client),
		byConn: make(map[string]map[string]bool),
	}
}

// Join adds the client to the room's fan-out set. No-op if already joined.
func (r *RoomRegistry) Join(c *Client, roomID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.rooms[roomID]
	if !ok {
		room = make(map[string]*Client)
		r.rooms[roomID] = room
	}
	room[c.ID] = c

	joined, ok := r.byConn[c.ID]
	if !ok {
		joined = make(map[string]bool)
		r.byConn[c.ID] = joined
	}
	joined[roomID] = true
}

// Leave removes the connection from one room.
func (r *RoomRegistry) Leave(connID, roomID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.leaveLocked(connID, roomID)
}

// LeaveAll removes the connection from every room it joined. Called on
// disconnect.
func (r *RoomRegistry) LeaveAll(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for roomID := range r.byConn[connID] {
		r.leaveLocked(connID, roomID)
	}
	delete(r.byConn, connID)
}

func (r *RoomRegistry) leaveLocked(connID, roomID string) {
	if room, ok := r.rooms[roomID]; ok {
		delete(room, connID)
		if len(room) == 0 {
			delete(r.rooms, roomID)
		}
	}
	if joined, ok := r.byConn[connID]; ok {
		delete(joined, roomID)
	}
}

// Members returns a snapshot of the clients joined to the room.
func (r *RoomRegistry) Members(roomID string) []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()

	room := r.rooms[roomID]
	members := make([]*Client, 0, len(room))
	for _, c := range room {
		members = append(members, c)
	}
	return members
}

// Joined reports whether the connection is subscribed to the room.
func (r *RoomRegistry) Joined(connID, roomID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byConn[connID][roomID]
}

// Snapshot returns the connection IDs per room, for monitoring.
func (r *RoomRegistry) Snapshot() map[string][]string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string][]string, len(r.rooms))
	for roomID, room := range r.rooms {
		conns := make([]string, 0, len(room))
		for connID := range room {
			conns = append(conns, connID)
		}
		out[roomID] = conns
	}
	return out
}
