package model

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Message kinds
const (
	KindText   = "text"
	KindImage  = "image"
	KindSystem = "system"
)

// SystemSender is the sender id stamped on relay-generated messages.
const SystemSender = "SYSTEM"

// ImagePlaceholder replaces an empty body on image messages so the
// last-message preview stays human-readable.
const ImagePlaceholder = "Sent an image"

// Message is an immutable chat message in MongoDB. ReadBy is the only
// field mutated after creation and it only ever grows.
type Message struct {
	ID        primitive.ObjectID `json:"id" bson:"_id,omitempty"`
	ChatID    primitive.ObjectID `json:"chatId" bson:"chat_id"`
	SenderID  string             `json:"senderId" bson:"sender_id"`
	Text      string             `json:"text" bson:"text"`
	Kind      string             `json:"kind" bson:"kind"`
	MediaURL  string             `json:"mediaUrl,omitempty" bson:"media_url,omitempty"`
	ReadBy    []string           `json:"readBy" bson:"read_by"`
	CreatedAt time.Time          `json:"createdAt" bson:"created_at"`
}

// ReadByUser reports whether userID already appears in ReadBy.
func (m *Message) ReadByUser(userID string) bool {
	for _, id := range m.ReadBy {
		if id == userID {
			return true
		}
	}
	return false
}
