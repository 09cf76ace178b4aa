package entities

import (
	"time"

	"github.com/google/uuid"
)

// ChatMessage is the durable message record as the coordination layer sees
// it. Listing and querying messages belongs to the CRUD API, not here; the
// coordinator only creates them and fans them out.
type ChatMessage struct {
	MessageId      uuid.UUID              `json:"id" bson:"messageId"`
	ConversationId uuid.UUID              `json:"conversationId" bson:"conversationId"`
	SenderId       uuid.UUID              `json:"senderId" bson:"senderId"`
	SenderName     string                 `json:"senderName" bson:"senderName"`
	Content        string                 `json:"content" bson:"content"`
	MessageType    string                 `json:"messageType" bson:"messageType"`
	Metadata       map[string]interface{} `json:"metadata,omitempty" bson:"metadata,omitempty"`
	ReadBy         []uuid.UUID            `json:"readBy,omitempty" bson:"readBy"`
	CreatedAt      time.Time              `json:"createdAt" bson:"createdAt"`
}

// Notification is one event relayed from a room to a participant's
// connection registry. When the user is offline it becomes the durable
// offline-queue entry.
type Notification struct {
	Type           string                 `json:"type"`
	ConversationId uuid.UUID              `json:"conversationId"`
	Payload        map[string]interface{} `json:"payload"`
	EnqueuedAt     time.Time              `json:"enqueuedAt"`
}

// Frame converts the notification back into the wire envelope pushed to the
// user's live socket.
func (n *Notification) Frame() *Frame {
	return &Frame{
		Type:           n.Type,
		Payload:        n.Payload,
		ConversationId: n.ConversationId.String(),
	}
}

// DedupKey identifies a notification across the primary and fallback
// queues. Payloads carrying a message id win; everything else falls back to
// the enqueue instant.
func (n *Notification) DedupKey() string {
	if id, ok := n.Payload["id"].(string); ok && id != "" {
		return id
	}
	return n.EnqueuedAt.UTC().Format(time.RFC3339Nano)
}

// ExternalMessage is the body of the internal room relay call used when a
// user with no direct room socket sends into a conversation.
type ExternalMessage struct {
	UserId      uuid.UUID              `json:"userId"`
	UserName    string                 `json:"userName"`
	Content     string                 `json:"content"`
	MessageType string                 `json:"messageType,omitempty"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
	TempId      string                 `json:"tempId,omitempty"`
}

// Connection is one live socket directly attached to a room. A user may
// hold several of these at once (multi-device).
type Connection struct {
	Socket         ClientSocket
	UserId         uuid.UUID
	UserName       string
	ConnectionId   string
	ConnectedAt    time.Time
	LastActivityAt time.Time
}

// Identity is the verified tuple returned by the auth-code exchange.
type Identity struct {
	UserId      uuid.UUID `json:"userId"`
	Email       string    `json:"email"`
	Role        string    `json:"role"`
	FranchiseId uuid.UUID `json:"franchiseId"`
}
