package entities

import "context"

// EventBroker publishes persisted-message events to the configured stream
// (NATS JetStream or Kafka, chosen by the broker factory). Publication is
// best effort and happens only after the message is durable; a broker
// failure never rolls back persistence or blocks the broadcast.
type EventBroker interface {
	PublishMessageEvent(ctx context.Context, message *ChatMessage) error
	Close() error
}
