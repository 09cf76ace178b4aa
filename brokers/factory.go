// Package brokers publishes persisted-message events to an external
// stream. Two backends are supported, NATS JetStream and Kafka, selected by
// configuration; the coordination layer only sees entities.EventBroker.
package brokers

import (
	"fmt"
	"log"

	"backend/entities"
)

// Config selects and parameterizes the event broker backend.
type Config struct {
	// Kind is "nats", "kafka" or "" (no event stream).
	Kind string
	// NatsURL is the NATS server URL for Kind "nats".
	NatsURL string
	// KafkaBrokers is the comma-separated broker list for Kind "kafka".
	KafkaBrokers string
}

// NewEventBroker builds the configured broker. Kind "" disables the event
// stream entirely and returns nil, which the coordinators accept.
func NewEventBroker(config Config) (entities.EventBroker, error) {
	switch config.Kind {
	case "":
		log.Println("Brokers: NewEventBroker: no event broker configured")
		return nil, nil
	case "nats":
		return NewNatsBroker(config.NatsURL)
	case "kafka":
		return NewKafkaBroker(config.KafkaBrokers)
	default:
		return nil, fmt.Errorf("Brokers: NewEventBroker: unknown broker kind %q", config.Kind)
	}
}
