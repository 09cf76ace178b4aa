package persistence

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"backend/entities"
)

// MemoryPersistence is the in-memory stand-in for the persistence boundary
// used by the actor tests. PersistDelay and the fail flags inject the
// latency and fault behavior of the real store.
type MemoryPersistence struct {
	mu sync.Mutex

	Messages     []*entities.ChatMessage
	Participants map[uuid.UUID][]uuid.UUID // conversationId -> active members
	Names        map[uuid.UUID]string
	Tracked      map[string]uuid.UUID // connectionId -> conversationId
	UnreadCounts map[string]int       // conversationId/userId -> count

	PersistDelay   time.Duration
	FailPersist    bool
	FailList       bool
	PersistedCount int
}

func NewMemoryPersistence() *MemoryPersistence {
	return &MemoryPersistence{
		Participants: make(map[uuid.UUID][]uuid.UUID),
		Names:        make(map[uuid.UUID]string),
		Tracked:      make(map[string]uuid.UUID),
		UnreadCounts: make(map[string]int),
	}
}

// AddParticipant declares userId an active member of the conversation.
func (mp *MemoryPersistence) AddParticipant(conversationId, userId uuid.UUID) {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	mp.Participants[conversationId] = append(mp.Participants[conversationId], userId)
}

func unreadKey(conversationId, userId uuid.UUID) string {
	return fmt.Sprintf("%s/%s", conversationId, userId)
}

func (mp *MemoryPersistence) PersistMessage(_ context.Context, conversationId, senderId uuid.UUID, content, messageType string, metadata map[string]interface{}) (uuid.UUID, error) {
	if mp.PersistDelay > 0 {
		time.Sleep(mp.PersistDelay)
	}

	mp.mu.Lock()
	defer mp.mu.Unlock()
	if mp.FailPersist {
		return uuid.Nil, fmt.Errorf("MemoryPersistence: PersistMessage: injected failure")
	}

	message := &entities.ChatMessage{
		MessageId:      uuid.New(),
		ConversationId: conversationId,
		SenderId:       senderId,
		Content:        content,
		MessageType:    messageType,
		Metadata:       metadata,
		CreatedAt:      time.Now().UTC(),
	}
	mp.Messages = append(mp.Messages, message)
	mp.PersistedCount++

	for _, userId := range mp.Participants[conversationId] {
		if userId != senderId {
			mp.UnreadCounts[unreadKey(conversationId, userId)]++
		}
	}
	return message.MessageId, nil
}

func (mp *MemoryPersistence) AppendReadReceipt(_ context.Context, messageId, userId uuid.UUID) error {
	mp.mu.Lock()
	defer mp.mu.Unlock()

	for _, message := range mp.Messages {
		if message.MessageId != messageId {
			continue
		}
		for _, reader := range message.ReadBy {
			if reader == userId {
				return nil // already recorded
			}
		}
		message.ReadBy = append(message.ReadBy, userId)
		mp.UnreadCounts[unreadKey(message.ConversationId, userId)] = 0
		return nil
	}
	return fmt.Errorf("MemoryPersistence: AppendReadReceipt: message %s not found", messageId)
}

func (mp *MemoryPersistence) ListActiveParticipants(_ context.Context, conversationId uuid.UUID) ([]uuid.UUID, error) {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	if mp.FailList {
		return nil, fmt.Errorf("MemoryPersistence: ListActiveParticipants: injected failure")
	}
	return append([]uuid.UUID(nil), mp.Participants[conversationId]...), nil
}

func (mp *MemoryPersistence) ListConversationsForUser(_ context.Context, userId uuid.UUID) ([]uuid.UUID, error) {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	if mp.FailList {
		return nil, fmt.Errorf("MemoryPersistence: ListConversationsForUser: injected failure")
	}
	var conversations []uuid.UUID
	for conversationId, members := range mp.Participants {
		for _, member := range members {
			if member == userId {
				conversations = append(conversations, conversationId)
				break
			}
		}
	}
	return conversations, nil
}

func (mp *MemoryPersistence) LookupDisplayName(_ context.Context, userId uuid.UUID) (string, error) {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	name, ok := mp.Names[userId]
	if !ok {
		return "", fmt.Errorf("MemoryPersistence: LookupDisplayName: user %s not found", userId)
	}
	return name, nil
}

func (mp *MemoryPersistence) TrackConnection(_ context.Context, conversationId, _ uuid.UUID, connectionId string) error {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	mp.Tracked[connectionId] = conversationId
	return nil
}

func (mp *MemoryPersistence) UntrackConnection(_ context.Context, connectionId string) error {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	delete(mp.Tracked, connectionId)
	return nil
}

// Unread returns the unread counter kept for the pair.
func (mp *MemoryPersistence) Unread(conversationId, userId uuid.UUID) int {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	return mp.UnreadCounts[unreadKey(conversationId, userId)]
}

var _ entities.Persistence = (*MemoryPersistence)(nil)
