package brokers

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/nats-io/nats.go"

	"backend/entities"
)

const (
	natsStreamName    = "CHAT_EVENTS"
	natsSubjectPrefix = "chat.events"
)

// NatsBroker publishes message events to a JetStream stream, one subject
// per conversation.
type NatsBroker struct {
	conn *nats.Conn
	js   nats.JetStreamContext
}

// NewNatsBroker connects to NATS and ensures the events stream exists.
func NewNatsBroker(url string) (*NatsBroker, error) {
	conn, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("NatsBroker: NewNatsBroker: error connecting to NATS at %s: %w", url, err)
	}

	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("NatsBroker: NewNatsBroker: error initializing JetStream: %w", err)
	}

	_, err = js.AddStream(&nats.StreamConfig{
		Name:     natsStreamName,
		Subjects: []string{natsSubjectPrefix + ".>"},
		Storage:  nats.FileStorage,
		Replicas: 1,
	})
	if err != nil && err != nats.ErrStreamNameAlreadyInUse {
		conn.Close()
		return nil, fmt.Errorf("NatsBroker: NewNatsBroker: error creating stream %s: %w", natsStreamName, err)
	}

	log.Printf("NatsBroker: NewNatsBroker: connected to %s, stream %s ready", url, natsStreamName)
	return &NatsBroker{conn: conn, js: js}, nil
}

// PublishMessageEvent publishes the persisted message on the
// conversation's subject.
func (b *NatsBroker) PublishMessageEvent(ctx context.Context, message *entities.ChatMessage) error {
	data, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("NatsBroker: PublishMessageEvent: error serializing message %s: %w", message.MessageId, err)
	}

	subject := fmt.Sprintf("%s.%s", natsSubjectPrefix, message.ConversationId)
	ack, err := b.js.Publish(subject, data, nats.Context(ctx))
	if err != nil {
		return fmt.Errorf("NatsBroker: PublishMessageEvent: error publishing to %s: %w", subject, err)
	}
	log.Printf("NatsBroker: PublishMessageEvent: published message %s (stream %s, seq %d)", message.MessageId, ack.Stream, ack.Sequence)
	return nil
}

func (b *NatsBroker) Close() error {
	b.conn.Close()
	return nil
}
