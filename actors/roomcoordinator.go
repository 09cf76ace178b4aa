package actors

import (
	"context"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"backend/entities"
)

// Size of one concurrent fan-out batch during the participant relay.
const fanOutBatchSize = 10

// RoomCoordinator owns the real-time state of one conversation: the
// directly-attached sockets, the typing indicators, and the fan-out of
// every event to the participants' connection registries. It bridges the
// two delivery paths so users attached directly to the room and users
// reachable only through their personal registry see the same events.
type RoomCoordinator struct {
	conversationId uuid.UUID
	persistence    entities.Persistence
	registries     RegistryNotifier
	broker         entities.EventBroker
	timings        Timings

	mu          sync.Mutex
	connections map[string]*entities.Connection
	typing      map[uuid.UUID]*typingEntry
}

// typingEntry is the outstanding auto-expiry timer for one actively-typing
// user.
type typingEntry struct {
	timer    *time.Timer
	userName string
}

// NewRoomCoordinator creates the coordinator for one conversation. broker
// may be nil when no event stream is configured.
func NewRoomCoordinator(conversationId uuid.UUID, persistence entities.Persistence, registries RegistryNotifier, broker entities.EventBroker, timings Timings) *RoomCoordinator {
	return &RoomCoordinator{
		conversationId: conversationId,
		persistence:    persistence,
		registries:     registries,
		broker:         broker,
		timings:        timings,
		connections:    make(map[string]*entities.Connection),
		typing:         make(map[uuid.UUID]*typingEntry),
	}
}

func (r *RoomCoordinator) ConversationId() uuid.UUID {
	return r.conversationId
}

// Register attaches a new direct connection: confirms to the newcomer,
// announces it to everyone else, and fire-and-forgets the bookkeeping row.
func (r *RoomCoordinator) Register(conn *entities.Connection) {
	now := time.Now().UTC()
	conn.ConnectedAt = now
	conn.LastActivityAt = now

	r.mu.Lock()
	r.connections[conn.ConnectionId] = conn
	r.mu.Unlock()

	log.Printf("RoomCoordinator: Register: connection %s for user %s in conversation %s", conn.ConnectionId, conn.UserId, r.conversationId)

	r.sendTo(conn, &entities.Frame{
		Type: entities.FrameConnected,
		Payload: map[string]interface{}{
			"connectionId":   conn.ConnectionId,
			"conversationId": r.conversationId.String(),
		},
	})

	r.broadcast(&entities.Frame{
		Type:           entities.FrameParticipantJoined,
		ConversationId: r.conversationId.String(),
		Payload: map[string]interface{}{
			"userId":       conn.UserId.String(),
			"userName":     conn.UserName,
			"connectionId": conn.ConnectionId,
		},
	}, conn.ConnectionId)

	go func() {
		if err := r.persistence.TrackConnection(context.Background(), r.conversationId, conn.UserId, conn.ConnectionId); err != nil {
			log.Printf("RoomCoordinator: Register: error tracking connection %s: %v", conn.ConnectionId, err)
		}
	}()
}

// HandleFrame processes one inbound frame from a directly-attached socket.
// A bad frame produces an error frame back to the sender and nothing else;
// the actor never dies because of one frame.
func (r *RoomCoordinator) HandleFrame(connectionId string, raw []byte) {
	r.mu.Lock()
	conn, ok := r.connections[connectionId]
	if ok {
		conn.LastActivityAt = time.Now().UTC()
	}
	r.mu.Unlock()
	if !ok {
		log.Printf("RoomCoordinator: HandleFrame: frame from unknown connection %s, ignoring", connectionId)
		return
	}

	frame, err := entities.ParseFrame(raw)
	if err != nil {
		log.Printf("RoomCoordinator: HandleFrame: unparseable frame from %s: %v", connectionId, err)
		r.sendTo(conn, entities.ErrorFrame("invalid frame"))
		return
	}

	ctx := context.Background()

	switch frame.Type {
	case entities.FramePing:
		r.sendTo(conn, &entities.Frame{Type: entities.FramePong})

	case entities.FrameMessage:
		content, _ := frame.Payload["content"].(string)
		messageType, _ := frame.Payload["messageType"].(string)
		metadata, _ := frame.Payload["metadata"].(map[string]interface{})
		tempId, _ := frame.Payload["tempId"].(string)
		if err := r.sendMessage(ctx, conn.UserId, conn.UserName, content, messageType, metadata, tempId); err != nil {
			log.Printf("RoomCoordinator: HandleFrame: message from %s rejected: %v", conn.UserId, err)
			r.sendTo(conn, entities.ErrorFrame(err.Error()))
		}

	case entities.FrameTyping:
		isTyping, _ := frame.Payload["isTyping"].(bool)
		r.handleTyping(conn.UserId, conn.UserName, isTyping, conn.ConnectionId)

	case entities.FrameRead:
		rawId, _ := frame.Payload["messageId"].(string)
		messageId, err := uuid.Parse(rawId)
		if err != nil {
			r.sendTo(conn, entities.ErrorFrame("read receipt requires a messageId"))
			return
		}
		r.handleRead(ctx, conn, messageId)

	case entities.FramePresence:
		r.broadcast(&entities.Frame{
			Type:           entities.FramePresence,
			ConversationId: r.conversationId.String(),
			Payload: map[string]interface{}{
				"userId":   conn.UserId.String(),
				"userName": conn.UserName,
				"status":   frame.Payload["status"],
			},
		}, conn.ConnectionId)

	default:
		log.Printf("RoomCoordinator: HandleFrame: unrecognized frame type %q from %s, dropping", frame.Type, connectionId)
	}
}

// HandleClose removes a connection after the socket closed or errored.
func (r *RoomCoordinator) HandleClose(connectionId string, code int, reason string) {
	r.mu.Lock()
	conn, ok := r.connections[connectionId]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(r.connections, connectionId)
	if entry, ok := r.typing[conn.UserId]; ok {
		entry.timer.Stop()
		delete(r.typing, conn.UserId)
	}
	r.mu.Unlock()

	log.Printf("RoomCoordinator: HandleClose: connection %s closed (code %d, reason %q)", connectionId, code, reason)

	r.broadcast(&entities.Frame{
		Type:           entities.FrameParticipantLeft,
		ConversationId: r.conversationId.String(),
		Payload: map[string]interface{}{
			"userId":       conn.UserId.String(),
			"userName":     conn.UserName,
			"connectionId": connectionId,
		},
	}, "")

	go func() {
		if err := r.persistence.UntrackConnection(context.Background(), connectionId); err != nil {
			log.Printf("RoomCoordinator: HandleClose: error untracking connection %s: %v", connectionId, err)
		}
	}()
}

// DeliverMessage is the internal relay entry used when a participant with
// no direct room socket sends into this conversation. Same validation,
// persistence, broadcast and fan-out as the socket path; there is simply no
// sender socket to echo to.
func (r *RoomCoordinator) DeliverMessage(ctx context.Context, message entities.ExternalMessage) error {
	senderName := message.UserName
	if senderName == "" {
		name, err := r.persistence.LookupDisplayName(ctx, message.UserId)
		if err != nil {
			log.Printf("RoomCoordinator: DeliverMessage: error resolving display name of %s: %v", message.UserId, err)
		} else {
			senderName = name
		}
	}
	return r.sendMessage(ctx, message.UserId, senderName, message.Content, message.MessageType, message.Metadata, message.TempId)
}

// DeliverTyping relays typing state from a non-attached participant to
// every other participant's registry, bypassing direct-socket broadcast.
func (r *RoomCoordinator) DeliverTyping(ctx context.Context, userId uuid.UUID, userName string, isTyping bool) {
	r.relayToParticipants(ctx, userId, entities.FrameTyping, map[string]interface{}{
		"userId":   userId.String(),
		"userName": userName,
		"isTyping": isTyping,
	})
}

// sendMessage is the single message path shared by the socket and relay
// entries: validate, persist, broadcast to direct sockets, publish to the
// event stream, fan out to the participants' registries. Persistence
// happens strictly before any broadcast; a broadcast failure never rolls
// the message back.
func (r *RoomCoordinator) sendMessage(ctx context.Context, senderId uuid.UUID, senderName, content, messageType string, metadata map[string]interface{}, tempId string) error {
	content = strings.TrimSpace(content)
	if content == "" {
		return &entities.ValidationError{Reason: "message content is empty"}
	}
	if messageType == "" {
		messageType = "text"
	}

	messageId, err := r.persistence.PersistMessage(ctx, r.conversationId, senderId, content, messageType, metadata)
	if err != nil {
		return &entities.UpstreamError{Op: "PersistMessage", Err: err}
	}
	createdAt := time.Now().UTC()

	// The sender stopped typing by sending; drop the timer without a stop
	// broadcast.
	r.mu.Lock()
	if entry, ok := r.typing[senderId]; ok {
		entry.timer.Stop()
		delete(r.typing, senderId)
	}
	r.mu.Unlock()

	payload := map[string]interface{}{
		"id":             messageId.String(),
		"conversationId": r.conversationId.String(),
		"senderId":       senderId.String(),
		"senderName":     senderName,
		"content":        content,
		"messageType":    messageType,
		"createdAt":      createdAt.Format(time.RFC3339Nano),
	}
	if len(metadata) > 0 {
		payload["metadata"] = metadata
	}
	if tempId != "" {
		payload["tempId"] = tempId
	}

	// Direct broadcast includes the sender's own sockets; the client
	// reconciles the echo against its optimistic render via tempId.
	r.broadcast(&entities.Frame{
		Type:           entities.FrameMessage,
		ConversationId: r.conversationId.String(),
		Payload:        payload,
	}, "")

	if r.broker != nil {
		message := &entities.ChatMessage{
			MessageId:      messageId,
			ConversationId: r.conversationId,
			SenderId:       senderId,
			SenderName:     senderName,
			Content:        content,
			MessageType:    messageType,
			Metadata:       metadata,
			CreatedAt:      createdAt,
		}
		go func() {
			if err := r.broker.PublishMessageEvent(context.Background(), message); err != nil {
				log.Printf("RoomCoordinator: sendMessage: error publishing message event %s: %v", messageId, err)
			}
		}()
	}

	r.relayToParticipants(ctx, senderId, entities.FrameMessage, payload)
	return nil
}

// handleRead appends the read receipt (idempotent per message and user)
// and broadcasts it to the directly-attached sockets only. Offline
// participants do not receive read receipts through their registries.
func (r *RoomCoordinator) handleRead(ctx context.Context, conn *entities.Connection, messageId uuid.UUID) {
	if err := r.persistence.AppendReadReceipt(ctx, messageId, conn.UserId); err != nil {
		log.Printf("RoomCoordinator: handleRead: error appending read receipt %s/%s: %v", messageId, conn.UserId, err)
		r.sendTo(conn, entities.ErrorFrame("could not record read receipt"))
		return
	}

	r.broadcast(&entities.Frame{
		Type:           entities.FrameRead,
		ConversationId: r.conversationId.String(),
		Payload: map[string]interface{}{
			"messageId": messageId.String(),
			"userId":    conn.UserId.String(),
			"userName":  conn.UserName,
		},
	}, "")
}

// handleTyping starts or clears the sender's auto-expiry timer. The start
// broadcast excludes the sender; the stop broadcast reaches everyone,
// sender included, so the sender sees that the stop propagated.
func (r *RoomCoordinator) handleTyping(userId uuid.UUID, userName string, isTyping bool, senderConnectionId string) {
	r.mu.Lock()
	if entry, ok := r.typing[userId]; ok {
		entry.timer.Stop()
		delete(r.typing, userId)
	}
	if isTyping {
		r.typing[userId] = &typingEntry{
			userName: userName,
			timer: time.AfterFunc(r.timings.TypingTTL, func() {
				r.expireTyping(userId, userName)
			}),
		}
	}
	r.mu.Unlock()

	if isTyping {
		r.broadcast(r.typingFrame(userId, userName, true), senderConnectionId)
	} else {
		r.broadcast(r.typingFrame(userId, userName, false), "")
	}
}

// expireTyping fires when the quiet period elapses without further typing
// events.
func (r *RoomCoordinator) expireTyping(userId uuid.UUID, userName string) {
	r.mu.Lock()
	_, ok := r.typing[userId]
	if ok {
		delete(r.typing, userId)
	}
	r.mu.Unlock()
	if !ok {
		return
	}
	r.broadcast(r.typingFrame(userId, userName, false), "")
}

func (r *RoomCoordinator) typingFrame(userId uuid.UUID, userName string, isTyping bool) *entities.Frame {
	return &entities.Frame{
		Type:           entities.FrameTyping,
		ConversationId: r.conversationId.String(),
		Payload: map[string]interface{}{
			"userId":   userId.String(),
			"userName": userName,
			"isTyping": isTyping,
		},
	}
}

// relayToParticipants fans one event out to every current participant's
// connection registry except excludeUserId. Small rooms are notified
// member-by-member; larger rooms are partitioned into batches of ten, each
// batch's members notified concurrently. A single participant's failure is
// logged and never blocks delivery to the rest.
func (r *RoomCoordinator) relayToParticipants(ctx context.Context, excludeUserId uuid.UUID, frameType string, payload map[string]interface{}) {
	participants, err := r.persistence.ListActiveParticipants(ctx, r.conversationId)
	if err != nil {
		log.Printf("RoomCoordinator: relayToParticipants: error listing participants of %s: %v", r.conversationId, err)
		return
	}

	recipients := make([]uuid.UUID, 0, len(participants))
	for _, userId := range participants {
		if userId != excludeUserId {
			recipients = append(recipients, userId)
		}
	}
	if len(recipients) == 0 {
		return
	}

	notification := entities.Notification{
		Type:           frameType,
		ConversationId: r.conversationId,
		Payload:        payload,
		EnqueuedAt:     time.Now().UTC(),
	}

	var batches sync.WaitGroup
	for start := 0; start < len(recipients); start += fanOutBatchSize {
		end := start + fanOutBatchSize
		if end > len(recipients) {
			end = len(recipients)
		}
		batch := recipients[start:end]

		batches.Add(1)
		go func(batch []uuid.UUID) {
			defer batches.Done()
			var members sync.WaitGroup
			for _, userId := range batch {
				members.Add(1)
				go func(userId uuid.UUID) {
					defer members.Done()
					if err := r.registries.Notify(ctx, userId, notification); err != nil {
						log.Printf("RoomCoordinator: relayToParticipants: error notifying user %s: %v", userId, err)
					}
				}(userId)
			}
			members.Wait()
		}(batch)
	}
	batches.Wait()
}

// ReapStale closes connections with no activity inside the staleness
// window, force-expires every outstanding typing indicator, and returns the
// cadence for the next firing: the active interval while sockets remain,
// the backed-off one once the room is empty.
func (r *RoomCoordinator) ReapStale() time.Duration {
	now := time.Now().UTC()

	r.mu.Lock()
	var stale []*entities.Connection
	for connectionId, conn := range r.connections {
		if now.Sub(conn.LastActivityAt) > r.timings.StaleAfter {
			stale = append(stale, conn)
			delete(r.connections, connectionId)
		}
	}
	expired := make(map[uuid.UUID]*typingEntry, len(r.typing))
	for userId, entry := range r.typing {
		expired[userId] = entry
		delete(r.typing, userId)
	}
	remaining := len(r.connections)
	r.mu.Unlock()

	for _, conn := range stale {
		log.Printf("RoomCoordinator: ReapStale: closing stale connection %s (user %s)", conn.ConnectionId, conn.UserId)
		if err := conn.Socket.Close(closeCodeGoingAway, "stale connection"); err != nil {
			log.Printf("RoomCoordinator: ReapStale: error closing connection %s: %v", conn.ConnectionId, err)
		}
		r.broadcast(&entities.Frame{
			Type:           entities.FrameParticipantLeft,
			ConversationId: r.conversationId.String(),
			Payload: map[string]interface{}{
				"userId":       conn.UserId.String(),
				"userName":     conn.UserName,
				"connectionId": conn.ConnectionId,
			},
		}, "")
		connectionId := conn.ConnectionId
		go func() {
			if err := r.persistence.UntrackConnection(context.Background(), connectionId); err != nil {
				log.Printf("RoomCoordinator: ReapStale: error untracking connection %s: %v", connectionId, err)
			}
		}()
	}

	for userId, entry := range expired {
		entry.timer.Stop()
		r.broadcast(r.typingFrame(userId, entry.userName, false), "")
	}

	if remaining > 0 {
		return r.timings.ReapActive
	}
	return r.timings.ReapEmpty
}

// ConnectionCount reports the number of directly-attached sockets.
func (r *RoomCoordinator) ConnectionCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.connections)
}

// broadcast sends the frame to every direct connection except
// excludeConnectionId (empty string excludes nobody). Send failures are
// isolated per connection.
func (r *RoomCoordinator) broadcast(frame *entities.Frame, excludeConnectionId string) {
	frame.Stamped()

	r.mu.Lock()
	targets := make([]*entities.Connection, 0, len(r.connections))
	for connectionId, conn := range r.connections {
		if connectionId == excludeConnectionId {
			continue
		}
		targets = append(targets, conn)
	}
	r.mu.Unlock()

	for _, conn := range targets {
		if err := conn.Socket.SendFrame(frame); err != nil {
			log.Printf("RoomCoordinator: broadcast: error sending %s frame to connection %s: %v", frame.Type, conn.ConnectionId, err)
		}
	}
}

func (r *RoomCoordinator) sendTo(conn *entities.Connection, frame *entities.Frame) {
	if err := conn.Socket.SendFrame(frame.Stamped()); err != nil {
		log.Printf("RoomCoordinator: sendTo: error sending %s frame to connection %s: %v", frame.Type, conn.ConnectionId, err)
	}
}
