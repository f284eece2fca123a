package jetstream

import (
	"context"

	"github.com/nats-io/nats.go"
)

// ClientInterface is the slice of NATS the router uses. The processor, DLQ
// worker, relay and provider sender depend on it rather than on *Client.
type ClientInterface interface {
	SetupStream(ctx context.Context, streamConfig *nats.StreamConfig) error
	SetupConsumer(ctx context.Context, streamName string, consumerConfig *nats.ConsumerConfig) error

	SubscribePush(subject, consumer, group, stream string, handler nats.MsgHandler) (*nats.Subscription, error)
	SubscribePull(streamName, subject, consumer string) (*nats.Subscription, error)
	Publish(subject string, data []byte, headers map[string]string) error

	// Request and the Core methods bypass JetStream.
	Request(ctx context.Context, subject string, data []byte, headers map[string]string) ([]byte, error)
	PublishCore(subject string, data []byte) error
	SubscribeCore(subject string, handler nats.MsgHandler) (*nats.Subscription, error)

	IsConnected() bool
	Close()
}
