package event

import (
	"encoding/json"
	"fmt"
)

// Client to Server events
const (
	EventRegisterUser = "register_user"
	EventJoinChat     = "join_chat"
	EventSendMessage  = "send_message"
	EventMarkRead     = "mark_read"
	EventTyping       = "typing"
	EventStopTyping   = "stop_typing"
)

// Server to Client events
const (
	EventUserOnline      = "user_online"
	EventUserOffline     = "user_offline"
	EventOnlineUsersList = "online_users_list"
	EventReceiveMessage  = "receive_message"
	EventMessagesRead    = "messages_read"
	EventDisplayTyping   = "display_typing"
	EventHideTyping      = "hide_typing"
	EventError           = "error"
)

// WsEvent is the wire frame for every websocket exchange: a named event
// plus its JSON payload.
type WsEvent struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// RegisterUserPayload binds the connection to a user identity.
type RegisterUserPayload struct {
	UserID string `json:"userId"`
}

// JoinChatPayload subscribes the connection to a chat room.
type JoinChatPayload struct {
	ChatID string `json:"chatId"`
}

// SendMessagePayload carries a new message through the pipeline.
type SendMessagePayload struct {
	ChatID   string `json:"chatId"`
	SenderID string `json:"senderId"`
	Text     string `json:"text"`
	Kind     string `json:"kind"`
	MediaURL string `json:"mediaUrl,omitempty"`
}

// MarkReadPayload marks every message in the chat as read by the user.
type MarkReadPayload struct {
	ChatID string `json:"chatId"`
	UserID string `json:"userId"`
}

// TypingPayload starts or stops a typing indicator.
type TypingPayload struct {
	ChatID string `json:"chatId"`
	UserID string `json:"userId"`
}

// PresencePayload announces an online/offline transition.
type PresencePayload struct {
	UserID string `json:"userId"`
}

// MessagesReadPayload announces that a user read a chat.
type MessagesReadPayload struct {
	ChatID string `json:"chatId"`
	UserID string `json:"userId"`
}

// Outbound marshals v into a server-to-client event frame.
func Outbound(name string, v any) (WsEvent, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return WsEvent{}, fmt.Errorf("marshal %s payload: %w", name, err)
	}
	return WsEvent{Event: name, Payload: raw}, nil
}

// Decode unmarshals the frame payload into the typed payload struct for
// its event kind.
func Decode[T any](ev WsEvent) (T, error) {
	var out T
	if err := json.Unmarshal(ev.Payload, &out); err != nil {
		return out, fmt.Errorf("decode %s payload: %w", ev.Event, err)
	}
	return out, nil
}
