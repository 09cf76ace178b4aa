package actors_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"backend/actors"
	"backend/entities"
	"backend/persistence"
	"backend/queue"
)

// registryFixture wires a registry with one conversation membership and
// in-memory queues.
type registryFixture struct {
	userId         uuid.UUID
	conversationId uuid.UUID
	persis         *persistence.MemoryPersistence
	relay          *fakeRelay
	primary        *memStore
	fallback       *memStore
	registry       *actors.ConnectionRegistry
}

func newRegistryFixture(t *testing.T) *registryFixture {
	t.Helper()
	fixture := &registryFixture{
		userId:         uuid.New(),
		conversationId: uuid.New(),
		persis:         persistence.NewMemoryPersistence(),
		relay:          &fakeRelay{},
		primary:        newMemStore(100),
		fallback:       newMemStore(50),
	}
	fixture.persis.AddParticipant(fixture.conversationId, fixture.userId)
	dualQueue := queue.NewDualQueue(fixture.userId, fixture.primary, fixture.fallback)
	fixture.registry = actors.NewConnectionRegistry(fixture.userId, fixture.persis, fixture.relay, dualQueue, testTimings())
	return fixture
}

func (f *registryFixture) notification(payload map[string]interface{}, enqueuedAt time.Time) entities.Notification {
	return entities.Notification{
		Type:           entities.FrameMessage,
		ConversationId: f.conversationId,
		Payload:        payload,
		EnqueuedAt:     enqueuedAt,
	}
}

func TestRegistryRegisterSendsConnected(t *testing.T) {
	fixture := newRegistryFixture(t)
	socket := newFakeSocket()

	fixture.registry.Register(context.Background(), socket, "Ada")

	connected := socket.framesOfType(entities.FrameConnected)
	require.Len(t, connected, 1)
	assert.Equal(t, 1, connected[0].Payload["conversationsCount"])
	assert.True(t, fixture.registry.HasLiveSocket())
}

func TestRegistryFlushesQueuedInOrder(t *testing.T) {
	fixture := newRegistryFixture(t)
	ctx := context.Background()
	base := time.Now().UTC()

	// Queued while offline, deliberately appended out of time order across
	// the two stores.
	require.NoError(t, fixture.primary.Append(ctx, fixture.userId, fixture.notification(map[string]interface{}{"id": "m2"}, base.Add(2*time.Second))))
	require.NoError(t, fixture.fallback.Append(ctx, fixture.userId, fixture.notification(map[string]interface{}{"id": "m1"}, base.Add(1*time.Second))))
	require.NoError(t, fixture.primary.Append(ctx, fixture.userId, fixture.notification(map[string]interface{}{"id": "m3"}, base.Add(3*time.Second))))

	socket := newFakeSocket()
	fixture.registry.Register(ctx, socket, "Ada")

	flushed := socket.framesOfType(entities.FrameMessage)
	require.Len(t, flushed, 3)
	assert.Equal(t, "m1", flushed[0].Payload["id"])
	assert.Equal(t, "m2", flushed[1].Payload["id"])
	assert.Equal(t, "m3", flushed[2].Payload["id"])

	assert.Equal(t, 0, fixture.primary.size(fixture.userId), "the flush should clear the primary queue")
	assert.Equal(t, 0, fixture.fallback.size(fixture.userId), "the flush should clear the fallback queue")
}

func TestRegistryNotifyPushesToLiveSocket(t *testing.T) {
	fixture := newRegistryFixture(t)
	ctx := context.Background()
	socket := newFakeSocket()
	fixture.registry.Register(ctx, socket, "Ada")

	err := fixture.registry.Notify(ctx, fixture.notification(map[string]interface{}{"id": "m1"}, time.Now().UTC()))
	require.NoError(t, err)

	require.Len(t, socket.framesOfType(entities.FrameMessage), 1)
	assert.Equal(t, 0, fixture.primary.size(fixture.userId), "a live push should not queue")
}

func TestRegistryNotifyQueuesWhileOffline(t *testing.T) {
	fixture := newRegistryFixture(t)
	ctx := context.Background()

	err := fixture.registry.Notify(ctx, fixture.notification(map[string]interface{}{"id": "m1"}, time.Now().UTC()))
	require.NoError(t, err)
	assert.Equal(t, 1, fixture.primary.size(fixture.userId))

	// A closed-but-attached socket also counts as offline.
	socket := newFakeSocket()
	fixture.registry.Register(ctx, socket, "Ada")
	socket.Close(1000, "bye")
	err = fixture.registry.Notify(ctx, fixture.notification(map[string]interface{}{"id": "m2"}, time.Now().UTC()))
	require.NoError(t, err)
	assert.Equal(t, 1, fixture.primary.size(fixture.userId), "the flush emptied the queue, then m2 was queued")
}

func TestRegistryNotifyQueuesForNeverConnectedUser(t *testing.T) {
	fixture := newRegistryFixture(t)
	ctx := context.Background()

	// The registry was created by room fan-out; no socket ever attached, so
	// the membership set must be loaded on demand before the queue decision.
	err := fixture.registry.Notify(ctx, fixture.notification(map[string]interface{}{"id": "m1"}, time.Now().UTC()))
	require.NoError(t, err, "an offline participant's notification must be queued, not denied")
	assert.Equal(t, 1, fixture.primary.size(fixture.userId))

	// First connect delivers it.
	socket := newFakeSocket()
	fixture.registry.Register(ctx, socket, "Ada")
	require.Len(t, socket.framesOfType(entities.FrameMessage), 1)
	assert.Equal(t, 0, fixture.primary.size(fixture.userId))
}

func TestRegistryMembershipLoadRetriesAfterFailure(t *testing.T) {
	fixture := newRegistryFixture(t)
	ctx := context.Background()
	notification := fixture.notification(map[string]interface{}{"id": "m1"}, time.Now().UTC())

	// The first membership load fails; the notification is denied because
	// nothing proves the user belongs to the conversation.
	fixture.persis.FailList = true
	err := fixture.registry.Notify(ctx, notification)
	var denied *entities.AccessDeniedError
	require.ErrorAs(t, err, &denied)

	// Once the store recovers the next check loads the set and queues.
	fixture.persis.FailList = false
	require.NoError(t, fixture.registry.Notify(ctx, notification))
	assert.Equal(t, 1, fixture.primary.size(fixture.userId))
}

func TestRegistryNotifyFailsOverToFallbackQueue(t *testing.T) {
	fixture := newRegistryFixture(t)
	fixture.primary.failAppend = true

	err := fixture.registry.Notify(context.Background(), fixture.notification(map[string]interface{}{"id": "m1"}, time.Now().UTC()))
	require.NoError(t, err)
	assert.Equal(t, 1, fixture.fallback.size(fixture.userId))
}

func TestRegistryNotifyDoubleQueueFailure(t *testing.T) {
	fixture := newRegistryFixture(t)
	fixture.primary.failAppend = true
	fixture.fallback.failAppend = true

	err := fixture.registry.Notify(context.Background(), fixture.notification(map[string]interface{}{"id": "m1"}, time.Now().UTC()))
	var upstream *entities.UpstreamError
	require.ErrorAs(t, err, &upstream, "a double queue failure is surfaced to the caller")
}

func TestRegistryNotifyEnforcesMembership(t *testing.T) {
	fixture := newRegistryFixture(t)

	foreign := entities.Notification{
		Type:           entities.FrameMessage,
		ConversationId: uuid.New(),
		Payload:        map[string]interface{}{"id": "m1"},
		EnqueuedAt:     time.Now().UTC(),
	}
	err := fixture.registry.Notify(context.Background(), foreign)
	var denied *entities.AccessDeniedError
	require.ErrorAs(t, err, &denied)
	assert.Equal(t, 0, fixture.primary.size(fixture.userId), "a denied notification is never queued")
}

func TestRegistryQueueCapDropsOldest(t *testing.T) {
	fixture := newRegistryFixture(t)
	ctx := context.Background()

	small := newMemStore(3)
	dualQueue := queue.NewDualQueue(fixture.userId, small, nil)
	registry := actors.NewConnectionRegistry(fixture.userId, fixture.persis, fixture.relay, dualQueue, testTimings())

	base := time.Now().UTC()
	for i := 0; i < 5; i++ {
		notification := fixture.notification(map[string]interface{}{"id": fmt.Sprintf("m%d", i)}, base.Add(time.Duration(i)*time.Second))
		require.NoError(t, registry.Notify(ctx, notification))
	}

	queued, err := small.ReadAll(ctx, fixture.userId)
	require.NoError(t, err)
	require.Len(t, queued, 3)
	assert.Equal(t, "m2", queued[0].Payload["id"], "the oldest entries are dropped first")
	assert.Equal(t, "m4", queued[2].Payload["id"])
}

func TestRegistrySupersededSocketClosed(t *testing.T) {
	fixture := newRegistryFixture(t)
	ctx := context.Background()

	first := newFakeSocket()
	fixture.registry.Register(ctx, first, "Ada")
	second := newFakeSocket()
	fixture.registry.Register(ctx, second, "Ada")

	assert.False(t, first.IsOpen(), "the superseded socket should be closed explicitly")
	assert.Equal(t, 1001, first.closeCode)
	assert.Equal(t, "superseded by new connection", first.closeReason)
	assert.True(t, second.IsOpen())

	// The old socket's close callback must not detach the new one.
	fixture.registry.HandleClose(first)
	assert.True(t, fixture.registry.HasLiveSocket())
	fixture.registry.HandleClose(second)
	assert.False(t, fixture.registry.HasLiveSocket())
}

func TestRegistryForwardMessage(t *testing.T) {
	fixture := newRegistryFixture(t)
	ctx := context.Background()
	socket := newFakeSocket()
	fixture.registry.Register(ctx, socket, "Ada")

	raw := rawFrame(t, map[string]interface{}{
		"type":           "message",
		"conversationId": fixture.conversationId.String(),
		"payload":        map[string]interface{}{"content": "hi", "tempId": "tmp-9"},
	})
	fixture.registry.HandleFrame(raw)

	require.Equal(t, 1, fixture.relay.messageCount())
	forwarded := fixture.relay.messages[0]
	assert.Equal(t, fixture.userId, forwarded.UserId)
	assert.Equal(t, "Ada", forwarded.UserName)
	assert.Equal(t, "hi", forwarded.Content)
	assert.Equal(t, "tmp-9", forwarded.TempId)
}

func TestRegistryForwardMessageChecks(t *testing.T) {
	fixture := newRegistryFixture(t)
	ctx := context.Background()
	socket := newFakeSocket()
	fixture.registry.Register(ctx, socket, "Ada")

	// Missing conversationId.
	fixture.registry.HandleFrame(rawFrame(t, map[string]interface{}{
		"type":    "message",
		"payload": map[string]interface{}{"content": "hi"},
	}))
	require.Len(t, socket.framesOfType(entities.FrameError), 1)

	// Not a member.
	fixture.registry.HandleFrame(rawFrame(t, map[string]interface{}{
		"type":           "message",
		"conversationId": uuid.NewString(),
		"payload":        map[string]interface{}{"content": "hi"},
	}))
	require.Len(t, socket.framesOfType(entities.FrameError), 2)
	assert.Equal(t, 0, fixture.relay.messageCount())

	// Relay failure reaches the user.
	fixture.relay.err = errors.New("room unavailable")
	fixture.registry.HandleFrame(rawFrame(t, map[string]interface{}{
		"type":           "message",
		"conversationId": fixture.conversationId.String(),
		"payload":        map[string]interface{}{"content": "hi"},
	}))
	require.Len(t, socket.framesOfType(entities.FrameError), 3)
}

func TestRegistryForwardTypingBestEffort(t *testing.T) {
	fixture := newRegistryFixture(t)
	ctx := context.Background()
	socket := newFakeSocket()
	fixture.registry.Register(ctx, socket, "Ada")

	fixture.registry.HandleFrame(rawFrame(t, map[string]interface{}{
		"type":           "typing",
		"conversationId": fixture.conversationId.String(),
		"payload":        map[string]interface{}{"isTyping": true},
	}))
	assert.Equal(t, 1, fixture.relay.typingCount())

	// Typing into a foreign conversation is dropped without an error frame.
	fixture.registry.HandleFrame(rawFrame(t, map[string]interface{}{
		"type":           "typing",
		"conversationId": uuid.NewString(),
		"payload":        map[string]interface{}{"isTyping": true},
	}))
	assert.Equal(t, 1, fixture.relay.typingCount())
	assert.Empty(t, socket.framesOfType(entities.FrameError))
}

func TestRegistryRateLimitsTyping(t *testing.T) {
	fixture := newRegistryFixture(t)
	ctx := context.Background()
	socket := newFakeSocket()
	fixture.registry.Register(ctx, socket, "Ada")

	raw := rawFrame(t, map[string]interface{}{
		"type":           "typing",
		"conversationId": fixture.conversationId.String(),
		"payload":        map[string]interface{}{"isTyping": true},
	})
	for i := 0; i < 21; i++ {
		fixture.registry.HandleFrame(raw)
	}

	assert.Equal(t, 20, fixture.relay.typingCount(), "the 21st typing frame in the window is dropped")
	limited := socket.framesOfType(entities.FrameError)
	require.Len(t, limited, 1)
	assert.Equal(t, "RATE_LIMIT", limited[0].Payload["code"])
	assert.NotNil(t, limited[0].Payload["resetIn"], "the client gets a retry hint")
}

func TestRegistryPingNeverRateLimited(t *testing.T) {
	fixture := newRegistryFixture(t)
	ctx := context.Background()
	socket := newFakeSocket()
	fixture.registry.Register(ctx, socket, "Ada")

	raw := rawFrame(t, map[string]interface{}{"type": "ping"})
	for i := 0; i < 200; i++ {
		fixture.registry.HandleFrame(raw)
	}
	assert.Len(t, socket.framesOfType(entities.FramePong), 200)
	assert.Empty(t, socket.framesOfType(entities.FrameError))
}

func TestRegistryMembershipLoadFailureKeepsOldSet(t *testing.T) {
	fixture := newRegistryFixture(t)
	ctx := context.Background()

	first := newFakeSocket()
	fixture.registry.Register(ctx, first, "Ada")

	// The reload fails on reconnect; the cached membership keeps working.
	fixture.persis.FailList = true
	second := newFakeSocket()
	fixture.registry.Register(ctx, second, "Ada")

	err := fixture.registry.Notify(ctx, fixture.notification(map[string]interface{}{"id": "m1"}, time.Now().UTC()))
	require.NoError(t, err)
	require.Len(t, second.framesOfType(entities.FrameMessage), 1)
}

func TestRegistryReapStale(t *testing.T) {
	fixture := newRegistryFixture(t)
	ctx := context.Background()
	timings := testTimings()

	socket := newFakeSocket()
	fixture.registry.Register(ctx, socket, "Ada")

	time.Sleep(timings.StaleAfter + 20*time.Millisecond)
	next := fixture.registry.ReapStale()

	assert.Equal(t, timings.ReapActive, next)
	assert.False(t, socket.IsOpen())
	assert.Equal(t, 1001, socket.closeCode)
	assert.False(t, fixture.registry.HasLiveSocket())
}

func TestRegistryUnparseableFrame(t *testing.T) {
	fixture := newRegistryFixture(t)
	socket := newFakeSocket()
	fixture.registry.Register(context.Background(), socket, "Ada")

	fixture.registry.HandleFrame([]byte("{broken"))
	sent := socket.framesOfType(entities.FrameError)
	require.Len(t, sent, 1)
	assert.Equal(t, "invalid frame", sent[0].Payload["message"])
}
