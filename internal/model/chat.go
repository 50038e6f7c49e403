package model

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Chat statuses
const (
	ChatStatusActive    = "active"
	ChatStatusCompleted = "completed"
	ChatStatusExpired   = "expired"
)

// Participant roles
const (
	RoleRequester = "requester"
	RoleDonor     = "donor"
	RoleManager   = "manager"
	RoleVolunteer = "volunteer"
)

// Chat context kinds
const (
	ContextPostRequest  = "post_request"
	ContextPointRequest = "point_request"
	ContextDeliveryTask = "delivery_task"
	ContextDirect       = "direct"
)

// Chat represents a pairwise conversation document in MongoDB.
// Identity flags on participants drive the mutual-consent reveal flow.
type Chat struct {
	ID           primitive.ObjectID `json:"id" bson:"_id,omitempty"`
	Participants []Participant      `json:"participants" bson:"participants"`
	Context      ChatContext        `json:"context" bson:"context"`
	Status       string             `json:"status" bson:"status"`
	IsAnonymous  bool               `json:"isAnonymous" bson:"is_anonymous"`
	ExpiresAt    *time.Time         `json:"expiresAt,omitempty" bson:"expires_at,omitempty"`
	LastMessage  *LastMessage       `json:"lastMessage" bson:"last_message"`
	CreatedAt    time.Time          `json:"createdAt" bson:"created_at"`
	UpdatedAt    time.Time          `json:"updatedAt" bson:"updated_at"`
}

// Participant is one side of a chat. A user id appears at most once
// per chat.
type Participant struct {
	UserID            string `json:"userId" bson:"user_id"`
	Role              string `json:"role" bson:"role"`
	IdentityRevealed  bool   `json:"identityRevealed" bson:"identity_revealed"`
	IdentityRequested bool   `json:"identityRequested" bson:"identity_requested"`
}

// ChatContext links the chat to the originating transaction. Opaque to
// the relay.
type ChatContext struct {
	ItemID      string `json:"itemId" bson:"item_id"`
	ReferenceID string `json:"referenceId,omitempty" bson:"reference_id,omitempty"`
	Kind        string `json:"kind" bson:"kind"`
}

// LastMessage is the denormalized preview cached on the chat for
// list-view ordering without scanning the message log.
type LastMessage struct {
	Text     string    `json:"text" bson:"text"`
	SenderID string    `json:"senderId" bson:"sender_id"`
	SentAt   time.Time `json:"sentAt" bson:"sent_at"`
}

// ParticipantIndex returns the index of userID in the participant set,
// or -1 if the user is not part of the chat.
func (c *Chat) ParticipantIndex(userID string) int {
	for i, p := range c.Participants {
		if p.UserID == userID {
			return i
		}
	}
	return -1
}

// IsParticipant reports whether userID belongs to the chat.
func (c *Chat) IsParticipant(userID string) bool {
	return c.ParticipantIndex(userID) != -1
}

// Other returns the participant that is not userID. For the pairwise
// chats the reveal flow assumes, there is at most one.
func (c *Chat) Other(userID string) *Participant {
	for i := range c.Participants {
		if c.Participants[i].UserID != userID {
			return &c.Participants[i]
		}
	}
	return nil
}
