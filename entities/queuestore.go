package entities

import (
	"context"

	"github.com/google/uuid"
)

// QueueStore is one durable backend for a user's offline notifications: a
// TTL-bounded, capped list. Appending beyond the cap silently drops the
// oldest entries.
type QueueStore interface {
	// Append adds the notification to the end of the user's queue, trimming
	// the queue to the store's cap.
	Append(ctx context.Context, userId uuid.UUID, notification Notification) error

	// ReadAll returns the queued notifications in insertion order without
	// removing them.
	ReadAll(ctx context.Context, userId uuid.UUID) ([]Notification, error)

	// Clear deletes the user's queue.
	Clear(ctx context.Context, userId uuid.UUID) error

	// Cap returns the maximum number of entries the store keeps per user.
	Cap() int
}
