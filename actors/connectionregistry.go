package actors

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"backend/entities"
	"backend/queue"
)

// ConnectionRegistry gives one user a single logical real-time endpoint
// regardless of how many conversations they belong to. It holds at most one
// live socket, enforces the per-user rate limits, forwards outbound actions
// to the owning room coordinator, and absorbs offline time through the
// durable dual queue.
type ConnectionRegistry struct {
	userId      uuid.UUID
	persistence entities.Persistence
	rooms       RoomRelay
	queue       *queue.DualQueue
	timings     Timings

	mu           sync.Mutex
	userName     string
	socket       entities.ClientSocket
	lastActivity time.Time
	memberships  map[uuid.UUID]struct{}
	loaded       bool
	limiter      *RateLimiter
}

func NewConnectionRegistry(userId uuid.UUID, persistence entities.Persistence, rooms RoomRelay, dualQueue *queue.DualQueue, timings Timings) *ConnectionRegistry {
	return &ConnectionRegistry{
		userId:      userId,
		persistence: persistence,
		rooms:       rooms,
		queue:       dualQueue,
		timings:     timings,
		memberships: make(map[uuid.UUID]struct{}),
		limiter:     NewRateLimiter(),
	}
}

func (cr *ConnectionRegistry) UserId() uuid.UUID {
	return cr.userId
}

// Register attaches the user's socket. The membership cache is refreshed
// once per activation, not per message: a membership change elsewhere
// becomes visible on the next connect. A previous socket is explicitly
// closed before being superseded, then any durably queued notifications are
// flushed to the new one.
func (cr *ConnectionRegistry) Register(ctx context.Context, socket entities.ClientSocket, userName string) {
	conversations, err := cr.persistence.ListConversationsForUser(ctx, cr.userId)
	if err != nil {
		log.Printf("ConnectionRegistry: Register: error loading memberships for user %s: %v", cr.userId, err)
	}

	cr.mu.Lock()
	previous := cr.socket
	cr.socket = socket
	cr.userName = userName
	cr.lastActivity = time.Now().UTC()
	if err == nil {
		cr.memberships = make(map[uuid.UUID]struct{}, len(conversations))
		for _, conversationId := range conversations {
			cr.memberships[conversationId] = struct{}{}
		}
		cr.loaded = true
	}
	count := len(cr.memberships)
	cr.mu.Unlock()

	if previous != nil && previous != socket {
		log.Printf("ConnectionRegistry: Register: superseding previous socket for user %s", cr.userId)
		if err := previous.Close(closeCodeGoingAway, "superseded by new connection"); err != nil {
			log.Printf("ConnectionRegistry: Register: error closing superseded socket for user %s: %v", cr.userId, err)
		}
	}

	cr.send(socket, &entities.Frame{
		Type: entities.FrameConnected,
		Payload: map[string]interface{}{
			"conversationsCount": count,
		},
	})

	cr.flushQueued(ctx, socket)
}

// flushQueued reads back both durable queues, pushes every entry to the
// live socket in original enqueue order and only then deletes the queues.
// A crash between read and push redelivers; a crash between push and delete
// redelivers too. At-least-once, never exactly-once.
func (cr *ConnectionRegistry) flushQueued(ctx context.Context, socket entities.ClientSocket) {
	queued, err := cr.queue.ReadMerged(ctx)
	if err != nil {
		log.Printf("ConnectionRegistry: flushQueued: error reading queues for user %s: %v", cr.userId, err)
		return
	}
	if len(queued) == 0 {
		return
	}

	log.Printf("ConnectionRegistry: flushQueued: delivering %d queued notifications to user %s", len(queued), cr.userId)
	for _, notification := range queued {
		if err := cr.send(socket, notification.Frame()); err != nil {
			log.Printf("ConnectionRegistry: flushQueued: error pushing queued %s notification to user %s: %v", notification.Type, cr.userId, err)
		}
	}
	cr.queue.Clear(ctx)
}

// HandleFrame processes one inbound frame from the user's socket. Non-ping
// frames pass through the per-category rate limiter before they can have
// any side effect.
func (cr *ConnectionRegistry) HandleFrame(raw []byte) {
	cr.mu.Lock()
	socket := cr.socket
	cr.lastActivity = time.Now().UTC()
	cr.mu.Unlock()
	if socket == nil {
		return
	}

	frame, err := entities.ParseFrame(raw)
	if err != nil {
		log.Printf("ConnectionRegistry: HandleFrame: unparseable frame from user %s: %v", cr.userId, err)
		cr.send(socket, entities.ErrorFrame("invalid frame"))
		return
	}

	if frame.Type != entities.FramePing && frame.Type != entities.FramePong {
		cr.mu.Lock()
		limitErr := cr.limiter.Allow(rateCategory(frame.Type), time.Now().UTC())
		cr.mu.Unlock()
		if limitErr != nil {
			log.Printf("ConnectionRegistry: HandleFrame: rate limit hit for user %s: %v", cr.userId, limitErr)
			cr.send(socket, entities.RateLimitFrame("rate limit exceeded", limitErr.ResetIn))
			return
		}
	}

	ctx := context.Background()

	switch frame.Type {
	case entities.FramePing:
		cr.send(socket, &entities.Frame{Type: entities.FramePong})

	case entities.FrameMessage:
		cr.forwardMessage(ctx, socket, frame)

	case entities.FrameTyping:
		cr.forwardTyping(ctx, frame)

	case entities.FramePong:
		// Liveness already recorded above.

	default:
		log.Printf("ConnectionRegistry: HandleFrame: unrecognized frame type %q from user %s, dropping", frame.Type, cr.userId)
	}
}

// forwardMessage checks the conversation is in the cached membership set
// and relays the message to its room coordinator. A relay failure reaches
// the user: their message did not go through.
func (cr *ConnectionRegistry) forwardMessage(ctx context.Context, socket entities.ClientSocket, frame *entities.Frame) {
	conversationId, err := uuid.Parse(frame.ConversationId)
	if err != nil {
		cr.send(socket, entities.ErrorFrame("message requires a conversationId"))
		return
	}
	if !cr.isMember(ctx, conversationId) {
		cr.send(socket, entities.ErrorFrame(fmt.Sprintf("access denied to conversation %s", conversationId)))
		return
	}

	content, _ := frame.Payload["content"].(string)
	messageType, _ := frame.Payload["messageType"].(string)
	metadata, _ := frame.Payload["metadata"].(map[string]interface{})
	tempId, _ := frame.Payload["tempId"].(string)

	cr.mu.Lock()
	userName := cr.userName
	cr.mu.Unlock()

	message := entities.ExternalMessage{
		UserId:      cr.userId,
		UserName:    userName,
		Content:     content,
		MessageType: messageType,
		Metadata:    metadata,
		TempId:      tempId,
	}
	if err := cr.rooms.DeliverMessage(ctx, conversationId, message); err != nil {
		log.Printf("ConnectionRegistry: forwardMessage: relay to conversation %s failed for user %s: %v", conversationId, cr.userId, err)
		cr.send(socket, entities.ErrorFrame(err.Error()))
	}
}

// forwardTyping relays typing state best effort: membership violations and
// relay failures are logged, never surfaced.
func (cr *ConnectionRegistry) forwardTyping(ctx context.Context, frame *entities.Frame) {
	conversationId, err := uuid.Parse(frame.ConversationId)
	if err != nil {
		log.Printf("ConnectionRegistry: forwardTyping: typing frame without conversationId from user %s, dropping", cr.userId)
		return
	}
	if !cr.isMember(ctx, conversationId) {
		log.Printf("ConnectionRegistry: forwardTyping: user %s is not a member of conversation %s, dropping", cr.userId, conversationId)
		return
	}

	isTyping, _ := frame.Payload["isTyping"].(bool)

	cr.mu.Lock()
	userName := cr.userName
	cr.mu.Unlock()

	if err := cr.rooms.DeliverTyping(ctx, conversationId, cr.userId, userName, isTyping); err != nil {
		log.Printf("ConnectionRegistry: forwardTyping: relay to conversation %s failed for user %s: %v", conversationId, cr.userId, err)
	}
}

// Notify is the internal relay entry called by a room coordinator. The
// queue-or-send policy: push immediately when a live socket is open, queue
// durably otherwise. A double queue failure drops the notification and is
// reported to the caller.
func (cr *ConnectionRegistry) Notify(ctx context.Context, notification entities.Notification) error {
	if !cr.isMember(ctx, notification.ConversationId) {
		return &entities.AccessDeniedError{
			Reason: fmt.Sprintf("conversation %s not in membership of user %s", notification.ConversationId, cr.userId),
		}
	}

	cr.mu.Lock()
	socket := cr.socket
	cr.mu.Unlock()

	if socket != nil && socket.IsOpen() {
		if err := cr.send(socket, notification.Frame()); err != nil {
			log.Printf("ConnectionRegistry: Notify: error pushing %s notification to live socket of user %s: %v", notification.Type, cr.userId, err)
		}
		return nil
	}

	if err := cr.queue.Append(ctx, notification); err != nil {
		log.Printf("ConnectionRegistry: Notify: dropping %s notification for offline user %s: %v", notification.Type, cr.userId, err)
		return &entities.UpstreamError{Op: "queue.Append", Err: err}
	}
	return nil
}

// HandleClose detaches the socket, unless a newer socket already superseded
// it.
func (cr *ConnectionRegistry) HandleClose(socket entities.ClientSocket) {
	cr.mu.Lock()
	if cr.socket == socket {
		cr.socket = nil
	}
	cr.mu.Unlock()
	log.Printf("ConnectionRegistry: HandleClose: socket detached for user %s", cr.userId)
}

// ReapStale closes the socket when no liveness signal arrived inside the
// staleness window and purges expired rate-limit windows. Returns the next
// firing interval.
func (cr *ConnectionRegistry) ReapStale() time.Duration {
	now := time.Now().UTC()

	cr.mu.Lock()
	var stale entities.ClientSocket
	if cr.socket != nil && now.Sub(cr.lastActivity) > cr.timings.StaleAfter {
		stale = cr.socket
		cr.socket = nil
	}
	cr.limiter.PurgeExpired(now)
	cr.mu.Unlock()

	if stale != nil {
		log.Printf("ConnectionRegistry: ReapStale: closing stale socket of user %s", cr.userId)
		if err := stale.Close(closeCodeGoingAway, "stale connection"); err != nil {
			log.Printf("ConnectionRegistry: ReapStale: error closing stale socket of user %s: %v", cr.userId, err)
		}
	}
	return cr.timings.ReapActive
}

// HasLiveSocket reports whether a socket is currently attached and open.
func (cr *ConnectionRegistry) HasLiveSocket() bool {
	cr.mu.Lock()
	defer cr.mu.Unlock()
	return cr.socket != nil && cr.socket.IsOpen()
}

// ensureMemberships loads the membership set the first time an instance
// needs it. A registry created by room fan-out for a user with no socket
// still has to answer membership checks before any Register ran; without
// this load every offline notification would be denied instead of queued.
// A load failure leaves the set unloaded so the next check retries.
func (cr *ConnectionRegistry) ensureMemberships(ctx context.Context) {
	cr.mu.Lock()
	loaded := cr.loaded
	cr.mu.Unlock()
	if loaded {
		return
	}

	conversations, err := cr.persistence.ListConversationsForUser(ctx, cr.userId)
	if err != nil {
		log.Printf("ConnectionRegistry: ensureMemberships: error loading memberships for user %s: %v", cr.userId, err)
		return
	}

	cr.mu.Lock()
	if !cr.loaded {
		cr.memberships = make(map[uuid.UUID]struct{}, len(conversations))
		for _, conversationId := range conversations {
			cr.memberships[conversationId] = struct{}{}
		}
		cr.loaded = true
	}
	cr.mu.Unlock()
}

func (cr *ConnectionRegistry) isMember(ctx context.Context, conversationId uuid.UUID) bool {
	cr.ensureMemberships(ctx)
	cr.mu.Lock()
	defer cr.mu.Unlock()
	_, ok := cr.memberships[conversationId]
	return ok
}

func (cr *ConnectionRegistry) send(socket entities.ClientSocket, frame *entities.Frame) error {
	err := socket.SendFrame(frame.Stamped())
	if err != nil {
		log.Printf("ConnectionRegistry: send: error sending %s frame to user %s: %v", frame.Type, cr.userId, err)
	}
	return err
}
