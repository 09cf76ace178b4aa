// Package queue implements the durable offline-notification queues: a
// Redis-backed primary, a bbolt-backed per-instance fallback, and the
// DualQueue failover policy tying them together.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"backend/entities"
)

const (
	// RedisQueueCap is the primary queue's per-user entry cap.
	RedisQueueCap = 100
	// QueueTTL bounds how long undelivered notifications survive.
	QueueTTL = 7 * 24 * time.Hour
)

// RedisQueue is the primary durable queue: one capped, TTL-bounded Redis
// list per user.
type RedisQueue struct {
	client *redis.Client
	cap    int
	ttl    time.Duration
}

func NewRedisQueue(client *redis.Client) *RedisQueue {
	return &RedisQueue{client: client, cap: RedisQueueCap, ttl: QueueTTL}
}

func (q *RedisQueue) key(userId uuid.UUID) string {
	return fmt.Sprintf("offline_queue:%s", userId)
}

// Append pushes the notification onto the tail of the user's list, trims
// the list to the cap most-recent entries and refreshes the TTL, all in one
// pipeline.
func (q *RedisQueue) Append(ctx context.Context, userId uuid.UUID, notification entities.Notification) error {
	data, err := json.Marshal(notification)
	if err != nil {
		return fmt.Errorf("RedisQueue: Append: error serializing notification: %w", err)
	}

	key := q.key(userId)
	pipe := q.client.TxPipeline()
	pipe.RPush(ctx, key, data)
	pipe.LTrim(ctx, key, int64(-q.cap), -1)
	pipe.Expire(ctx, key, q.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("RedisQueue: Append: error appending to queue %s: %w", key, err)
	}
	return nil
}

// ReadAll returns the queued notifications in insertion order. Entries that
// no longer deserialize are logged and skipped.
func (q *RedisQueue) ReadAll(ctx context.Context, userId uuid.UUID) ([]entities.Notification, error) {
	entries, err := q.client.LRange(ctx, q.key(userId), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("RedisQueue: ReadAll: error reading queue %s: %w", q.key(userId), err)
	}

	notifications := make([]entities.Notification, 0, len(entries))
	for _, entry := range entries {
		var notification entities.Notification
		if err := json.Unmarshal([]byte(entry), &notification); err != nil {
			log.Printf("RedisQueue: ReadAll: skipping undecodable entry in queue %s: %v", q.key(userId), err)
			continue
		}
		notifications = append(notifications, notification)
	}
	return notifications, nil
}

func (q *RedisQueue) Clear(ctx context.Context, userId uuid.UUID) error {
	if err := q.client.Del(ctx, q.key(userId)).Err(); err != nil {
		return fmt.Errorf("RedisQueue: Clear: error deleting queue %s: %w", q.key(userId), err)
	}
	return nil
}

func (q *RedisQueue) Cap() int {
	return q.cap
}
