package brokers

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/segmentio/kafka-go"

	"backend/entities"
)

const kafkaTopic = "chat-events"

// KafkaBroker publishes message events to a Kafka topic, keyed by
// conversation id so one conversation's events stay in order on one
// partition.
type KafkaBroker struct {
	writer *kafka.Writer
}

// NewKafkaBroker builds the writer for the comma-separated broker list.
func NewKafkaBroker(brokerList string) (*KafkaBroker, error) {
	brokerAddrs := strings.Split(brokerList, ",")
	if len(brokerAddrs) == 0 || brokerAddrs[0] == "" {
		return nil, fmt.Errorf("KafkaBroker: NewKafkaBroker: empty broker list")
	}

	writer := &kafka.Writer{
		Addr:     kafka.TCP(brokerAddrs...),
		Topic:    kafkaTopic,
		Balancer: &kafka.Hash{},
	}
	log.Printf("KafkaBroker: NewKafkaBroker: writer ready for brokers %v, topic %s", brokerAddrs, kafkaTopic)
	return &KafkaBroker{writer: writer}, nil
}

// PublishMessageEvent writes the persisted message to the events topic.
func (b *KafkaBroker) PublishMessageEvent(ctx context.Context, message *entities.ChatMessage) error {
	data, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("KafkaBroker: PublishMessageEvent: error serializing message %s: %w", message.MessageId, err)
	}

	err = b.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(message.ConversationId.String()),
		Value: data,
	})
	if err != nil {
		return fmt.Errorf("KafkaBroker: PublishMessageEvent: error publishing message %s: %w", message.MessageId, err)
	}
	return nil
}

func (b *KafkaBroker) Close() error {
	return b.writer.Close()
}
