package entities

import (
	"context"

	"github.com/google/uuid"
)

// Persistence is the boundary to the durable store owned by the CRUD layer.
// The coordination layer treats every method as a fallible remote call:
// message persistence failures abort the send and reach the sender, while
// connection bookkeeping failures are only logged.
type Persistence interface {
	// PersistMessage stores the message and, best effort, advances the
	// conversation's last-message pointer and increments the unread counter
	// of every other active participant. Returns the generated message id.
	PersistMessage(ctx context.Context, conversationId, senderId uuid.UUID, content, messageType string, metadata map[string]interface{}) (uuid.UUID, error)

	// AppendReadReceipt adds userId to the message's read-by list and resets
	// the reader's unread counter for the conversation. Idempotent per
	// (messageId, userId).
	AppendReadReceipt(ctx context.Context, messageId, userId uuid.UUID) error

	// ListActiveParticipants returns the members of the conversation that
	// have not left (no "left" timestamp).
	ListActiveParticipants(ctx context.Context, conversationId uuid.UUID) ([]uuid.UUID, error)

	// ListConversationsForUser returns the conversations the user currently
	// belongs to. Loaded once per registry activation.
	ListConversationsForUser(ctx context.Context, userId uuid.UUID) ([]uuid.UUID, error)

	// LookupDisplayName resolves a user id to its display name.
	LookupDisplayName(ctx context.Context, userId uuid.UUID) (string, error)

	// TrackConnection and UntrackConnection maintain the bookkeeping row for
	// a live room socket. Both are best effort.
	TrackConnection(ctx context.Context, conversationId, userId uuid.UUID, connectionId string) error
	UntrackConnection(ctx context.Context, connectionId string) error
}
