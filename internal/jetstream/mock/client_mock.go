package mock

import (
	"context"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/mock"

	"gitlab.com/timkado/api/conversation-router/internal/jetstream"
)

// ClientMock is a mock implementation of the NATS client
type ClientMock struct {
	mock.Mock
}

// Ensure ClientMock implements jetstream.ClientInterface
var _ jetstream.ClientInterface = (*ClientMock)(nil)

// SetupStream mocks the SetupStream method
func (m *ClientMock) SetupStream(ctx context.Context, streamConfig *nats.StreamConfig) error {
	args := m.Called(ctx, streamConfig)
	return args.Error(0)
}

// SetupConsumer mocks the SetupConsumer method
func (m *ClientMock) SetupConsumer(ctx context.Context, streamName string, consumerConfig *nats.ConsumerConfig) error {
	args := m.Called(ctx, streamName, consumerConfig)
	return args.Error(0)
}

// SubscribePush mocks the SubscribePush method
func (m *ClientMock) SubscribePush(subject, consumer, group, stream string, handler nats.MsgHandler) (*nats.Subscription, error) {
	args := m.Called(subject, consumer, group, stream, handler)
	return subscription(args.Get(0)), args.Error(1)
}

// SubscribePull mocks the SubscribePull method
func (m *ClientMock) SubscribePull(streamName, subject, consumer string) (*nats.Subscription, error) {
	args := m.Called(streamName, subject, consumer)
	return subscription(args.Get(0)), args.Error(1)
}

// Publish mocks the Publish method
func (m *ClientMock) Publish(subject string, data []byte, headers map[string]string) error {
	args := m.Called(subject, data, headers)
	return args.Error(0)
}

// Request mocks the Request method
func (m *ClientMock) Request(ctx context.Context, subject string, data []byte, headers map[string]string) ([]byte, error) {
	args := m.Called(ctx, subject, data, headers)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

// PublishCore mocks the PublishCore method
func (m *ClientMock) PublishCore(subject string, data []byte) error {
	args := m.Called(subject, data)
	return args.Error(0)
}

// SubscribeCore mocks the SubscribeCore method
func (m *ClientMock) SubscribeCore(subject string, handler nats.MsgHandler) (*nats.Subscription, error) {
	args := m.Called(subject, handler)
	return subscription(args.Get(0)), args.Error(1)
}

// IsConnected mocks the IsConnected method
func (m *ClientMock) IsConnected() bool {
	args := m.Called()
	return args.Bool(0)
}

// Close mocks the Close method
func (m *ClientMock) Close() {
	m.Called()
}

// MockSubscription returns the nil subscription mocks hand out, since
// nats.Subscription cannot be constructed outside the nats package.
func MockSubscription() *nats.Subscription {
	return nil
}

func subscription(v interface{}) *nats.Subscription {
	if v == nil {
		return nil
	}
	return v.(*nats.Subscription)
}
