package hub

import "sync"

// PresenceRegistry maps live connection IDs to user IDs and derives
// online state from per-user connection counts. A user is online while
// at least one connection is bound to them; multiple tabs or devices
// are legal and only the zero to one and one to zero transitions are
// reported to callers.
type PresenceRegistry struct {
	mu     sync.RWMutex
	byConn map[string]string // connectionId -> userId
	counts map[string]int    // userId -> live connection count
}

func NewPresenceRegistry() *PresenceRegistry {
	return &PresenceRegistry{
		byConn: make(map[string]string),
		counts: make(map[string]int),
	}
}

// Register binds a connection to a user and reports whether this is the
// user's first live connection. Re-registering the same connection for
// a different user rebinds it.
func (p *PresenceRegistry) Register(connID, userID string) (first bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if prev, ok := p.byConn[connID]; ok {
		if prev == userID {
			return false
		}
		p.dropLocked(connID, prev)
	}

	p.byConn[connID] = userID
	p.counts[userID]++
	return p.counts[userID] == 1
}

// Unregister removes the binding for connID. Idempotent: unknown
// connections are a no-op. Reports the bound user and whether this was
// their last live connection.
func (p *PresenceRegistry) Unregister(connID string) (userID string, last bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	userID, ok := p.byConn[connID]
	if !ok {
		return "", false
	}

	return userID, p.dropLocked(connID, userID)
}

func (p *PresenceRegistry) dropLocked(connID, userID string) (last bool) {
	delete(p.byConn, connID)
	p.counts[userID]--
	if p.counts[userID] <= 0 {
		delete(p.counts, userID)
		return true
	}
	return false
}

// UserFor returns the user bound to connID, or "" when unregistered.
func (p *PresenceRegistry) UserFor(connID string) string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.byConn[connID]
}

// IsOnline reports whether the user has at least one live connection.
func (p *PresenceRegistry) IsOnline(userID string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.counts[userID] > 0
}

// OnlineUserIDs returns a snapshot of every currently online user.
func (p *PresenceRegistry) OnlineUserIDs() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	ids := make([]string, 0, len(p.counts))
	for id := range p.counts {
		ids = append(ids, id)
	}
	return ids
}

// ConnectionCount returns the number of registered connections.
func (p *PresenceRegistry) ConnectionCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.byConn)
}

// UserCount returns the number of distinct online users.
func (p *PresenceRegistry) UserCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.counts)
}
