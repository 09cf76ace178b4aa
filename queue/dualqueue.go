package queue

import (
	"context"
	"fmt"
	"log"
	"sort"

	"github.com/google/uuid"

	"backend/entities"
)

// DualQueue is the durable queue a connection registry actually talks to:
// appends go to the primary store, failing over to the fallback store, and
// the reconnect flush merges both sides. Because a primary write can throw
// after the entry landed, the same notification may exist in both stores;
// the merge deduplicates on read instead of guaranteeing exclusive
// failover.
type DualQueue struct {
	userId   uuid.UUID
	primary  entities.QueueStore
	fallback entities.QueueStore
}

func NewDualQueue(userId uuid.UUID, primary, fallback entities.QueueStore) *DualQueue {
	return &DualQueue{userId: userId, primary: primary, fallback: fallback}
}

// Append tries the primary queue first and the fallback queue second. Only
// a double failure loses the notification; the caller decides whether that
// is surfaced or just logged.
func (q *DualQueue) Append(ctx context.Context, notification entities.Notification) error {
	primaryErr := q.primary.Append(ctx, q.userId, notification)
	if primaryErr == nil {
		return nil
	}
	log.Printf("DualQueue: Append: primary queue failed for user %s, trying fallback: %v", q.userId, primaryErr)

	if q.fallback == nil {
		return fmt.Errorf("DualQueue: Append: primary failed and no fallback configured: %w", primaryErr)
	}
	if fallbackErr := q.fallback.Append(ctx, q.userId, notification); fallbackErr != nil {
		return fmt.Errorf("DualQueue: Append: both queues failed for user %s: primary %v, fallback %w", q.userId, primaryErr, fallbackErr)
	}
	return nil
}

// ReadMerged concatenates both queues (primary entries first, so they win
// dedup ties by insertion order), deduplicates by the notification's dedup
// key, and sorts by original enqueue time ascending. It does not delete
// anything; the caller clears the queues only after the read-back
// succeeded.
func (q *DualQueue) ReadMerged(ctx context.Context) ([]entities.Notification, error) {
	merged, err := q.primary.ReadAll(ctx, q.userId)
	if err != nil {
		log.Printf("DualQueue: ReadMerged: error reading primary queue for user %s: %v", q.userId, err)
		merged = nil
	}
	primaryOK := err == nil

	var fallbackOK bool
	if q.fallback != nil {
		fallbackEntries, fallbackErr := q.fallback.ReadAll(ctx, q.userId)
		if fallbackErr != nil {
			log.Printf("DualQueue: ReadMerged: error reading fallback queue for user %s: %v", q.userId, fallbackErr)
		} else {
			merged = append(merged, fallbackEntries...)
			fallbackOK = true
		}
	}

	if !primaryOK && !fallbackOK {
		return nil, fmt.Errorf("DualQueue: ReadMerged: both queues unreadable for user %s", q.userId)
	}

	seen := make(map[string]struct{}, len(merged))
	deduped := merged[:0]
	for _, notification := range merged {
		key := notification.DedupKey()
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		deduped = append(deduped, notification)
	}

	sort.SliceStable(deduped, func(i, j int) bool {
		return deduped[i].EnqueuedAt.Before(deduped[j].EnqueuedAt)
	})
	return deduped, nil
}

// Clear deletes both queues. Called after every read-back entry was pushed
// to the live socket.
func (q *DualQueue) Clear(ctx context.Context) {
	if err := q.primary.Clear(ctx, q.userId); err != nil {
		log.Printf("DualQueue: Clear: error clearing primary queue for user %s: %v", q.userId, err)
	}
	if q.fallback != nil {
		if err := q.fallback.Clear(ctx, q.userId); err != nil {
			log.Printf("DualQueue: Clear: error clearing fallback queue for user %s: %v", q.userId, err)
		}
	}
}
