package actors_test

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"backend/entities"
)

// fakeSocket implements entities.ClientSocket and records everything sent
// through it.
type fakeSocket struct {
	mu          sync.Mutex
	frames      []*entities.Frame
	open        bool
	sendErr     error
	closeCode   int
	closeReason string
}

func newFakeSocket() *fakeSocket {
	return &fakeSocket{open: true}
}

func (fs *fakeSocket) SendFrame(frame *entities.Frame) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if fs.sendErr != nil {
		return fs.sendErr
	}
	fs.frames = append(fs.frames, frame)
	return nil
}

func (fs *fakeSocket) Close(code int, reason string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.open = false
	fs.closeCode = code
	fs.closeReason = reason
	return nil
}

func (fs *fakeSocket) IsOpen() bool {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.open
}

// framesOfType returns the sent frames with the given type tag, in order.
func (fs *fakeSocket) framesOfType(frameType string) []*entities.Frame {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	var matched []*entities.Frame
	for _, frame := range fs.frames {
		if frame.Type == frameType {
			matched = append(matched, frame)
		}
	}
	return matched
}

func (fs *fakeSocket) sentCount() int {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return len(fs.frames)
}

var _ entities.ClientSocket = (*fakeSocket)(nil)

// fakeNotifier stands in for the directory on the room side: it records
// every notification fanned out to a registry and can fail for chosen
// users.
type fakeNotifier struct {
	mu       sync.Mutex
	received map[uuid.UUID][]entities.Notification
	failFor  map[uuid.UUID]bool
}

func newFakeNotifier() *fakeNotifier {
	return &fakeNotifier{
		received: make(map[uuid.UUID][]entities.Notification),
		failFor:  make(map[uuid.UUID]bool),
	}
}

func (fn *fakeNotifier) Notify(_ context.Context, userId uuid.UUID, notification entities.Notification) error {
	fn.mu.Lock()
	defer fn.mu.Unlock()
	if fn.failFor[userId] {
		return fmt.Errorf("fakeNotifier: injected failure for user %s", userId)
	}
	fn.received[userId] = append(fn.received[userId], notification)
	return nil
}

func (fn *fakeNotifier) notificationsFor(userId uuid.UUID) []entities.Notification {
	fn.mu.Lock()
	defer fn.mu.Unlock()
	return append([]entities.Notification(nil), fn.received[userId]...)
}

func (fn *fakeNotifier) notifiedUserCount() int {
	fn.mu.Lock()
	defer fn.mu.Unlock()
	return len(fn.received)
}

// fakeRelay stands in for the directory on the registry side.
type fakeRelay struct {
	mu       sync.Mutex
	messages []entities.ExternalMessage
	typing   []bool
	err      error
}

func (fr *fakeRelay) DeliverMessage(_ context.Context, _ uuid.UUID, message entities.ExternalMessage) error {
	fr.mu.Lock()
	defer fr.mu.Unlock()
	if fr.err != nil {
		return fr.err
	}
	fr.messages = append(fr.messages, message)
	return nil
}

func (fr *fakeRelay) DeliverTyping(_ context.Context, _, _ uuid.UUID, _ string, isTyping bool) error {
	fr.mu.Lock()
	defer fr.mu.Unlock()
	if fr.err != nil {
		return fr.err
	}
	fr.typing = append(fr.typing, isTyping)
	return nil
}

func (fr *fakeRelay) messageCount() int {
	fr.mu.Lock()
	defer fr.mu.Unlock()
	return len(fr.messages)
}

func (fr *fakeRelay) typingCount() int {
	fr.mu.Lock()
	defer fr.mu.Unlock()
	return len(fr.typing)
}

// memStore is an in-memory QueueStore with the cap/trim behavior of the
// durable backends.
type memStore struct {
	mu         sync.Mutex
	entries    map[uuid.UUID][]entities.Notification
	capacity   int
	failAppend bool
	failRead   bool
}

func newMemStore(capacity int) *memStore {
	return &memStore{entries: make(map[uuid.UUID][]entities.Notification), capacity: capacity}
}

func (ms *memStore) Append(_ context.Context, userId uuid.UUID, notification entities.Notification) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	if ms.failAppend {
		return fmt.Errorf("memStore: injected append failure")
	}
	queue := append(ms.entries[userId], notification)
	if len(queue) > ms.capacity {
		queue = queue[len(queue)-ms.capacity:]
	}
	ms.entries[userId] = queue
	return nil
}

func (ms *memStore) ReadAll(_ context.Context, userId uuid.UUID) ([]entities.Notification, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	if ms.failRead {
		return nil, fmt.Errorf("memStore: injected read failure")
	}
	return append([]entities.Notification(nil), ms.entries[userId]...), nil
}

func (ms *memStore) Clear(_ context.Context, userId uuid.UUID) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	delete(ms.entries, userId)
	return nil
}

func (ms *memStore) Cap() int {
	return ms.capacity
}

func (ms *memStore) size(userId uuid.UUID) int {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	return len(ms.entries[userId])
}

var _ entities.QueueStore = (*memStore)(nil)
