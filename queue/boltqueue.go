package queue

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"

	"backend/entities"
)

// BoltQueueCap is the fallback queue's per-user entry cap, half the primary
// store's.
const BoltQueueCap = 50

// BoltQueue is the fallback durable queue, scoped to this instance's own
// storage: one bbolt bucket per user, entries keyed by an increasing
// sequence. It absorbs notifications only while the primary store is
// failing.
type BoltQueue struct {
	db  *bolt.DB
	cap int
	ttl time.Duration
}

// NewBoltQueue opens (or creates) the fallback store at path.
func NewBoltQueue(path string) (*BoltQueue, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("BoltQueue: NewBoltQueue: error opening %s: %w", path, err)
	}
	return &BoltQueue{db: db, cap: BoltQueueCap, ttl: QueueTTL}, nil
}

func (q *BoltQueue) bucketName(userId uuid.UUID) []byte {
	return []byte(fmt.Sprintf("offline_queue:%s", userId))
}

// Append writes the notification under the next sequence number and drops
// the oldest entries beyond the cap.
func (q *BoltQueue) Append(_ context.Context, userId uuid.UUID, notification entities.Notification) error {
	data, err := json.Marshal(notification)
	if err != nil {
		return fmt.Errorf("BoltQueue: Append: error serializing notification: %w", err)
	}

	err = q.db.Update(func(tx *bolt.Tx) error {
		bucket, err := tx.CreateBucketIfNotExists(q.bucketName(userId))
		if err != nil {
			return err
		}
		seq, err := bucket.NextSequence()
		if err != nil {
			return err
		}
		key := make([]byte, 8)
		binary.BigEndian.PutUint64(key, seq)
		if err := bucket.Put(key, data); err != nil {
			return err
		}

		// Trim from the head until the cap holds again.
		count := 0
		if err := bucket.ForEach(func(_, _ []byte) error { count++; return nil }); err != nil {
			return err
		}
		// Deleting during iteration must go through the cursor.
		excess := count - q.cap
		cursor := bucket.Cursor()
		for k, _ := cursor.First(); k != nil && excess > 0; k, _ = cursor.Next() {
			if err := cursor.Delete(); err != nil {
				return err
			}
			excess--
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("BoltQueue: Append: error appending for user %s: %w", userId, err)
	}
	return nil
}

// ReadAll returns the queued notifications in insertion order, skipping
// entries past their TTL.
func (q *BoltQueue) ReadAll(_ context.Context, userId uuid.UUID) ([]entities.Notification, error) {
	var notifications []entities.Notification
	cutoff := time.Now().UTC().Add(-q.ttl)

	err := q.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(q.bucketName(userId))
		if bucket == nil {
			return nil
		}
		return bucket.ForEach(func(_, value []byte) error {
			var notification entities.Notification
			if err := json.Unmarshal(value, &notification); err != nil {
				// Undecodable entries are dropped on the next Clear.
				return nil
			}
			if notification.EnqueuedAt.Before(cutoff) {
				return nil
			}
			notifications = append(notifications, notification)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("BoltQueue: ReadAll: error reading queue for user %s: %w", userId, err)
	}
	return notifications, nil
}

func (q *BoltQueue) Clear(_ context.Context, userId uuid.UUID) error {
	err := q.db.Update(func(tx *bolt.Tx) error {
		if tx.Bucket(q.bucketName(userId)) == nil {
			return nil
		}
		return tx.DeleteBucket(q.bucketName(userId))
	})
	if err != nil {
		return fmt.Errorf("BoltQueue: Clear: error clearing queue for user %s: %w", userId, err)
	}
	return nil
}

func (q *BoltQueue) Cap() int {
	return q.cap
}

func (q *BoltQueue) Close() error {
	return q.db.Close()
}
