// Package actors implements the two per-entity stateful actors of the
// real-time layer: one RoomCoordinator per conversation and one
// ConnectionRegistry per user, addressed through the Directory. Each
// instance serializes access to its own state; instances only talk to each
// other through the relay interfaces below.
package actors

import (
	"context"
	"time"

	"github.com/google/uuid"

	"backend/entities"
)

// Timings groups the liveness and cleanup knobs shared by both actor
// types. Tests shrink them; production uses the defaults.
type Timings struct {
	// TypingTTL is the quiet period after which a typing indicator
	// auto-expires.
	TypingTTL time.Duration
	// StaleAfter is the inactivity window after which a connection is
	// closed by the reaper.
	StaleAfter time.Duration
	// ReapActive is the reap cadence while live connections exist.
	ReapActive time.Duration
	// ReapEmpty is the backed-off cadence for an empty room.
	ReapEmpty time.Duration
}

func DefaultTimings() Timings {
	return Timings{
		TypingTTL:  5 * time.Second,
		StaleAfter: 120 * time.Second,
		ReapActive: 60 * time.Second,
		ReapEmpty:  300 * time.Second,
	}
}

// RegistryNotifier delivers one notification to a user's connection
// registry. Implemented by the Directory; faked in tests.
type RegistryNotifier interface {
	Notify(ctx context.Context, userId uuid.UUID, notification entities.Notification) error
}

// RoomRelay forwards user actions from a connection registry to the owning
// room coordinator. Implemented by the Directory.
type RoomRelay interface {
	DeliverMessage(ctx context.Context, conversationId uuid.UUID, message entities.ExternalMessage) error
	DeliverTyping(ctx context.Context, conversationId, userId uuid.UUID, userName string, isTyping bool) error
}

// Close code sent when a connection is reaped or superseded, matching the
// websocket "going away" status.
const closeCodeGoingAway = 1001
