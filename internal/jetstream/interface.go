package jetstream

import (
	"context"

	"github.com/nats-io/nats.go"
)

// ClientInterface is the slice of JetStream the relay queue uses.
type ClientInterface interface {
	SetupStream(ctx context.Context, streamConfig *nats.StreamConfig) error
	SetupConsumer(ctx context.Context, streamName string, consumerConfig *nats.ConsumerConfig) error

	// SubscribePull binds to an existing durable consumer.
	SubscribePull(streamName, subject, consumer string) (*nats.Subscription, error)

	// Publish reports whether the server treated the message as a duplicate.
	Publish(ctx context.Context, subject string, data []byte, headers map[string]string) (bool, error)

	IsConnected() bool
	Close()
	NatsConn() *nats.Conn
}
