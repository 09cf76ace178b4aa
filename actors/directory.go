package actors

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/reugn/go-quartz/job"
	quartzlogger "github.com/reugn/go-quartz/logger"
	"github.com/reugn/go-quartz/quartz"

	"backend/entities"
	"backend/queue"
)

// QueueFactory builds the durable dual queue for one user's registry.
type QueueFactory func(userId uuid.UUID) *queue.DualQueue

// Directory maps a logical key to its actor instance: one RoomCoordinator
// per conversation id, one ConnectionRegistry per user id. Instances are
// created lazily on first request and keep only warm-cache state; the
// directory also owns the quartz scheduler that drives every instance's
// recurring reap timer.
type Directory struct {
	persistence entities.Persistence
	broker      entities.EventBroker
	queues      QueueFactory
	timings     Timings

	mu         sync.Mutex
	rooms      map[uuid.UUID]*RoomCoordinator
	registries map[uuid.UUID]*ConnectionRegistry

	scheduler quartz.Scheduler
	intervals map[string]time.Duration
}

// NewDirectory wires the boundaries shared by every instance. broker may be
// nil when no event stream is configured.
func NewDirectory(persistence entities.Persistence, broker entities.EventBroker, queues QueueFactory, timings Timings) *Directory {
	scheduler, _ := quartz.NewStdScheduler(
		quartz.WithLogger(quartzlogger.NewSimpleLogger(nil, quartzlogger.LevelOff)),
	)
	return &Directory{
		persistence: persistence,
		broker:      broker,
		queues:      queues,
		timings:     timings,
		rooms:       make(map[uuid.UUID]*RoomCoordinator),
		registries:  make(map[uuid.UUID]*ConnectionRegistry),
		scheduler:   scheduler,
		intervals:   make(map[string]time.Duration),
	}
}

// Start launches the reap scheduler.
func (d *Directory) Start(ctx context.Context) {
	d.scheduler.Start(ctx)
	log.Println("Directory: Start: reap scheduler started")
}

// Stop halts the reap scheduler.
func (d *Directory) Stop() {
	d.scheduler.Stop()
	log.Println("Directory: Stop: reap scheduler stopped")
}

// Room returns the coordinator owning the conversation, creating it on
// first request and scheduling its reap job.
func (d *Directory) Room(conversationId uuid.UUID) *RoomCoordinator {
	d.mu.Lock()
	room, ok := d.rooms[conversationId]
	if !ok {
		room = NewRoomCoordinator(conversationId, d.persistence, d, d.broker, d.timings)
		d.rooms[conversationId] = room
		log.Printf("Directory: Room: created coordinator for conversation %s", conversationId)
	}
	d.mu.Unlock()

	if !ok {
		d.scheduleReap("room/"+conversationId.String(), room.ReapStale, d.timings.ReapActive)
	}
	return room
}

// Registry returns the connection registry owning the user, creating it on
// first request and scheduling its reap job.
func (d *Directory) Registry(userId uuid.UUID) *ConnectionRegistry {
	d.mu.Lock()
	registry, ok := d.registries[userId]
	if !ok {
		registry = NewConnectionRegistry(userId, d.persistence, d, d.queues(userId), d.timings)
		d.registries[userId] = registry
		log.Printf("Directory: Registry: created connection registry for user %s", userId)
	}
	d.mu.Unlock()

	if !ok {
		d.scheduleReap("user/"+userId.String(), registry.ReapStale, d.timings.ReapActive)
	}
	return registry
}

// Notify implements RegistryNotifier: one room fanning out to one
// participant's registry.
func (d *Directory) Notify(ctx context.Context, userId uuid.UUID, notification entities.Notification) error {
	return d.Registry(userId).Notify(ctx, notification)
}

// DeliverMessage implements RoomRelay: a registry forwarding a user's
// message into the owning room.
func (d *Directory) DeliverMessage(ctx context.Context, conversationId uuid.UUID, message entities.ExternalMessage) error {
	return d.Room(conversationId).DeliverMessage(ctx, message)
}

// DeliverTyping implements RoomRelay for typing state.
func (d *Directory) DeliverTyping(ctx context.Context, conversationId, userId uuid.UUID, userName string, isTyping bool) error {
	d.Room(conversationId).DeliverTyping(ctx, userId, userName, isTyping)
	return nil
}

// scheduleReap registers a recurring job that calls reap and follows the
// cadence the instance asks for (rooms back off from the active to the
// empty interval and forth).
func (d *Directory) scheduleReap(key string, reap func() time.Duration, every time.Duration) {
	reapJob := job.NewFunctionJob(func(_ context.Context) (bool, error) {
		next := reap()
		d.reschedule(key, reap, next)
		return true, nil
	})
	detail := quartz.NewJobDetail(reapJob, quartz.NewJobKey(key))
	if err := d.scheduler.ScheduleJob(detail, quartz.NewSimpleTrigger(every)); err != nil {
		log.Printf("Directory: scheduleReap: error scheduling reap job %s: %v", key, err)
		return
	}

	d.mu.Lock()
	d.intervals[key] = every
	d.mu.Unlock()
}

// reschedule swaps the job's trigger when the requested cadence changed.
func (d *Directory) reschedule(key string, reap func() time.Duration, next time.Duration) {
	d.mu.Lock()
	current, ok := d.intervals[key]
	d.mu.Unlock()
	if ok && current == next {
		return
	}

	if err := d.scheduler.DeleteJob(quartz.NewJobKey(key)); err != nil {
		log.Printf("Directory: reschedule: error removing reap job %s: %v", key, err)
	}
	d.scheduleReap(key, reap, next)
	log.Printf("Directory: reschedule: reap job %s now fires every %s", key, next)
}

// Stats reports instance counts for the metrics endpoint.
func (d *Directory) Stats() (rooms, registries int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.rooms), len(d.registries)
}

// String identifies the directory in logs.
func (d *Directory) String() string {
	rooms, registries := d.Stats()
	return fmt.Sprintf("Directory{rooms: %d, registries: %d}", rooms, registries)
}
