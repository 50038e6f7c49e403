package hub

import (
	"context"
	"errors"
	"log"
	"net/http"
	"sync"

	"sharecare/internal/event"
	"sharecare/internal/lock"
	"sharecare/internal/model"
	"sharecare/internal/repo"
	"sharecare/internal/safety"

	"github.com/gorilla/websocket"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

type inboundMessage struct {
	event  event.WsEvent
	client *Client
}

// Hub is the relay core: it owns the client set, the presence registry
// and the room registry, and runs the message pipeline. Client
// lifecycle is serialized through the register/unregister channels;
// inbound events are processed by a worker pool with a per-chat lock
// keeping persist-then-broadcast atomic per room.
type Hub struct {
	chats    repo.ChatRepository
	messages repo.MessageRepository

	presence  *PresenceRegistry
	rooms     *RoomRegistry
	clients   map[string]*Client
	clientsMu sync.RWMutex

	register   chan *Client
	unregister chan *Client
	inbound    chan inboundMessage

	chatLocks *lock.KeyedMutex

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// NewHub wires the relay. chatLocks is shared with the HTTP write path
// so socket and side-channel writes to one chat serialize together.
func NewHub(chats repo.ChatRepository, messages repo.MessageRepository, chatLocks *lock.KeyedMutex) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	h := &Hub{
		chats:      chats,
		messages:   messages,
		presence:   NewPresenceRegistry(),
		rooms:      NewRoomRegistry(),
		clients:    make(map[string]*Client),
		register:   make(chan *Client, 1024),
		unregister: make(chan *Client, 1024),
		inbound:    make(chan inboundMessage, 4096), // buffer for burst handling
		chatLocks:  chatLocks,
		ctx:        ctx,
		cancel:     cancel,
	}

	// run manager loop
	go h.run()

	// start worker loop
	for i := 0; i < workerPoolSize; i++ {
		h.wg.Add(1)
		go func() {
			defer h.wg.Done()
			for {
				select {
				case <-h.ctx.Done():
					return
				case in, ok := <-h.inbound:
					if !ok {
						return
					}
					h.handleEvent(in.event, in.client)
				}
			}
		}()
	}

	return h
}

func (h *Hub) run() {
	for {
		select {
		case <-h.ctx.Done():
			return
		case c := <-h.register:
			h.addClient(c)
		case c := <-h.unregister:
			h.removeClient(c)
		}
	}
}

func (h *Hub) addClient(c *Client) {
	h.clientsMu.Lock()
	h.clients[c.ID] = c
	h.clientsMu.Unlock()
}

// removeClient tears down everything the connection touched: room
// membership, the presence binding and, when this was the user's last
// connection, the offline broadcast.
func (h *Hub) removeClient(c *Client) {
	h.clientsMu.Lock()
	delete(h.clients, c.ID)
	h.clientsMu.Unlock()

	h.rooms.LeaveAll(c.ID)

	userID, last := h.presence.Unregister(c.ID)
	c.Close()

	if last {
		h.broadcastAll(event.EventUserOffline, event.PresencePayload{UserID: userID})
		log.Printf("user %s offline (last connection %s closed)", userID, c.ID)
	}
}

// -----------------------------------------------------------------
// Event dispatch
// -----------------------------------------------------------------

func (h *Hub) handleEvent(ev event.WsEvent, c *Client) {
	switch ev.Event {
	case event.EventRegisterUser:
		payload, err := event.Decode[event.RegisterUserPayload](ev)
		if err != nil {
			h.sendError(c, "invalid register_user payload")
			return
		}
		h.handleRegisterUser(c, payload)

	case event.EventJoinChat:
		payload, err := event.Decode[event.JoinChatPayload](ev)
		if err != nil {
			h.sendError(c, "invalid join_chat payload")
			return
		}
		h.handleJoinChat(c, payload)

	case event.EventSendMessage:
		payload, err := event.Decode[event.SendMessagePayload](ev)
		if err != nil {
			h.sendError(c, "invalid send_message payload")
			return
		}
		h.handleSendMessage(c, payload)

	case event.EventMarkRead:
		payload, err := event.Decode[event.MarkReadPayload](ev)
		if err != nil {
			h.sendError(c, "invalid mark_read payload")
			return
		}
		h.handleMarkRead(c, payload)

	case event.EventTyping:
		payload, err := event.Decode[event.TypingPayload](ev)
		if err != nil {
			return
		}
		h.broadcastRoom(payload.ChatID, event.EventDisplayTyping, event.PresencePayload{UserID: payload.UserID}, c.ID)

	case event.EventStopTyping:
		payload, err := event.Decode[event.TypingPayload](ev)
		if err != nil {
			return
		}
		h.broadcastRoom(payload.ChatID, event.EventHideTyping, event.PresencePayload{UserID: payload.UserID}, c.ID)

	default:
		log.Printf("unknown event type from client %s: %s", c.ID, ev.Event)
	}
}

func (h *Hub) handleRegisterUser(c *Client, p event.RegisterUserPayload) {
	if p.UserID == "" {
		h.sendError(c, "userId is required")
		return
	}

	first := h.presence.Register(c.ID, p.UserID)
	if first {
		h.broadcastAll(event.EventUserOnline, event.PresencePayload{UserID: p.UserID})
		log.Printf("user %s online (connection %s)", p.UserID, c.ID)
	}

	// Every new connection gets the current snapshot, not just the
	// user's first one.
	h.sendTo(c, event.EventOnlineUsersList, h.presence.OnlineUserIDs())
}

func (h *Hub) handleJoinChat(c *Client, p event.JoinChatPayload) {
	userID := h.presence.UserFor(c.ID)
	if userID == "" {
		h.sendError(c, "register before joining a chat")
		return
	}

	chat, err := h.chats.FindByID(h.ctx, p.ChatID)
	if err != nil {
		if errors.Is(err, repo.ErrChatNotFound) || errors.Is(err, repo.ErrInvalidChatID) {
			h.sendError(c, "chat not found")
		} else {
			h.sendError(c, "failed to join chat")
		}
		return
	}

	if !chat.IsParticipant(userID) {
		h.sendError(c, "not a participant of this chat")
		return
	}

	h.rooms.Join(c, p.ChatID)
}

// handleSendMessage is the pipeline write path: validate, persist,
// update the chat summary, then fan out. The per-chat lock guarantees
// broadcasts leave in persistence completion order for the room.
func (h *Hub) handleSendMessage(c *Client, p event.SendMessagePayload) {
	kind := p.Kind
	if kind == "" {
		kind = model.KindText
	}
	if kind != model.KindText && kind != model.KindImage {
		h.sendError(c, "unsupported message kind")
		return
	}

	text := p.Text
	if text == "" && kind == model.KindImage {
		text = model.ImagePlaceholder
	}
	if text == "" {
		h.sendError(c, "message text is required")
		return
	}

	if kind == model.KindText {
		if verdict := safety.CheckMessage(text); !verdict.IsSafe {
			h.sendError(c, verdict.Reason)
			return
		}
	}

	chatOID, err := primitive.ObjectIDFromHex(p.ChatID)
	if err != nil {
		h.sendError(c, "chat not found")
		return
	}

	unlock := h.chatLocks.Lock(p.ChatID)
	defer unlock()

	chat, err := h.chats.FindByID(h.ctx, p.ChatID)
	if err != nil {
		if errors.Is(err, repo.ErrChatNotFound) {
			h.sendError(c, "chat not found")
		} else {
			h.sendError(c, "failed to send message")
		}
		return
	}
	if !chat.IsParticipant(p.SenderID) {
		h.sendError(c, "not a participant of this chat")
		return
	}

	msg := &model.Message{
		ChatID:   chatOID,
		SenderID: p.SenderID,
		Text:     text,
		Kind:     kind,
		MediaURL: p.MediaURL,
		ReadBy:   []string{p.SenderID}, // a sender has read their own message
	}

	persisted, err := h.messages.Insert(h.ctx, msg)
	if err != nil {
		// Durability failed: report to the sender only, never broadcast.
		h.sendError(c, "Failed to send message")
		return
	}

	// Best-effort: the message is durable, the preview can lag.
	if err := h.chats.UpdateLastMessage(h.ctx, p.ChatID, model.LastMessage{
		Text:     text,
		SenderID: p.SenderID,
		SentAt:   persisted.CreatedAt,
	}); err != nil {
		log.Printf("last message update failed for chat %s: %v", p.ChatID, err)
	}

	// Sender included: its client reconciles against the server copy.
	h.broadcastRoom(p.ChatID, event.EventReceiveMessage, persisted, "")
}

func (h *Hub) handleMarkRead(c *Client, p event.MarkReadPayload) {
	if _, err := h.messages.MarkRead(h.ctx, p.ChatID, p.UserID); err != nil {
		h.sendError(c, "failed to mark messages read")
		return
	}

	// One event per call, not one per message.
	h.broadcastRoom(p.ChatID, event.EventMessagesRead, event.MessagesReadPayload{
		ChatID: p.ChatID,
		UserID: p.UserID,
	}, "")
}

// -----------------------------------------------------------------
// Fan-out
// -----------------------------------------------------------------

func (h *Hub) sendTo(c *Client, name string, v any) {
	ev, err := event.Outbound(name, v)
	if err != nil {
		log.Printf("failed to encode %s event: %v", name, err)
		return
	}
	if !c.SafeSend(ev, sendTimeout) {
		log.Printf("egress full for client %s, dropping %s", c.ID, name)
	}
}

func (h *Hub) sendError(c *Client, message string) {
	h.sendTo(c, event.EventError, model.ErrorPayload{Message: message})
}

func (h *Hub) broadcastAll(name string, v any) {
	ev, err := event.Outbound(name, v)
	if err != nil {
		log.Printf("failed to encode %s event: %v", name, err)
		return
	}

	h.clientsMu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.clientsMu.RUnlock()

	for _, c := range clients {
		c.SafeSend(ev, sendTimeout)
	}
}

func (h *Hub) broadcastRoom(roomID, name string, v any, excludeConnID string) {
	ev, err := event.Outbound(name, v)
	if err != nil {
		log.Printf("failed to encode %s event: %v", name, err)
		return
	}

	for _, c := range h.rooms.Members(roomID) {
		if c.ID == excludeConnID {
			continue
		}
		if !c.SafeSend(ev, sendTimeout) {
			log.Printf("egress full for client %s in room %s", c.ID, roomID)
		}
	}
}

// BroadcastMessage pushes an already-persisted message to the live
// room. Used by the HTTP send path and for reveal system messages.
func (h *Hub) BroadcastMessage(msg *model.Message) {
	h.broadcastRoom(msg.ChatID.Hex(), event.EventReceiveMessage, msg, "")
}

// Presence exposes the registry for monitoring.
func (h *Hub) Presence() *PresenceRegistry { return h.presence }

// Rooms exposes the room registry for monitoring.
func (h *Hub) Rooms() *RoomRegistry { return h.rooms }

// -----------------------------------------------------------------
// Transport
// -----------------------------------------------------------------

var websocketUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     checkOrigin,
}

func checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")

	switch origin {
	case "http://localhost:3000":
		return true
	case "https://www.sharecare.org":
		return true
	default:
		return false
	}
}

func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocketUpgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Println(err)
		return
	}

	RegisterClient(conn, h)
}

// Stop shuts the hub down and closes every live connection. The inbound
// queue is never closed: reader goroutines may still be forwarding
// frames while they wind down, so the workers exit through ctx instead.
func (h *Hub) Stop() {
	h.cancel()

	h.clientsMu.RLock()
	for _, c := range h.clients {
		c.Close()
	}
	h.clientsMu.RUnlock()

	h.wg.Wait()
}

// connectedCount reports live connections, for the monitor service.
func (h *Hub) connectedCount() int {
	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()
	return len(h.clients)
}
