package usecase

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"gitlab.com/timkado/api/conversation-router/internal/config"
	clientmock "gitlab.com/timkado/api/conversation-router/internal/jetstream/mock"
	"gitlab.com/timkado/api/conversation-router/internal/model"
	"gitlab.com/timkado/api/conversation-router/pkg/logger"
)

func processorConfig() *config.Config {
	cfg := &config.Config{}
	cfg.NATS.Router = config.ConsumerNatsConfig{
		Stream:      "ROUTER_EVENTS",
		Consumer:    "router-events-consumer",
		QueueGroup:  "router-events",
		SubjectList: []string{"v1.router.inbound.*"},
		MaxAge:      1,
		MaxDeliver:  5,
	}
	cfg.NATS.DLQSubject = "v1.dlq"
	return cfg
}

func TestProcessor_SetupAndStart(t *testing.T) {
	logger.Log = zaptest.NewLogger(t)
	client := new(clientmock.ClientMock)
	svc := newStoreService(newMemStore(testTenant(), testDepartment()), onlineTracker(), &recordingPublisher{})
	p := NewProcessor(svc, client, processorConfig())

	client.On("SetupStream", mock.Anything, mock.AnythingOfType("*nats.StreamConfig")).Return(nil)
	client.On("SetupConsumer", mock.Anything, "ROUTER_EVENTS", mock.AnythingOfType("*nats.ConsumerConfig")).Return(nil)
	client.On("SubscribePush", "", "router-events-consumer", "router-events", "ROUTER_EVENTS", mock.AnythingOfType("nats.MsgHandler")).
		Return(clientmock.MockSubscription(), nil)

	require.NoError(t, p.Setup())
	require.NoError(t, p.Start())
	p.Stop()

	client.AssertExpectations(t)
	assert.NotNil(t, p.GetRouter())
}

func TestProcessor_RoutesInbound(t *testing.T) {
	logger.Log = zaptest.NewLogger(t)
	store := newMemStore(testTenant(), testDepartment(), agent(1))
	pub := &recordingPublisher{}
	svc := newStoreService(store, onlineTracker(1), pub)
	client := new(clientmock.ClientMock)
	p := NewProcessor(svc, client, processorConfig())

	client.On("SetupStream", mock.Anything, mock.Anything).Return(nil)
	client.On("SetupConsumer", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	require.NoError(t, p.Setup())

	metadata := &model.MessageMetadata{
		MessageSubject: model.V1RouterInbound.ForTenant("42"),
		MessageID:      "msg-1",
		TenantID:       testTenantID,
	}
	raw := []byte(`{"identity":{"channel":"whatsapp","phone":"628111"},"provider_message_id":"wamid.1","content":{"text":"halo"}}`)

	require.NoError(t, p.GetRouter().Route(testContext(t), metadata, raw))
	assert.Equal(t, 1, store.conversationCount())
	assert.Contains(t, pub.types(), model.RealtimeConversationCreated)
	assert.Contains(t, pub.types(), model.RealtimeMessageCreated)
}

func TestProcessor_SetupError(t *testing.T) {
	logger.Log = zaptest.NewLogger(t)
	client := new(clientmock.ClientMock)
	svc := newStoreService(newMemStore(testTenant(), testDepartment()), onlineTracker(), &recordingPublisher{})
	p := NewProcessor(svc, client, processorConfig())

	client.On("SetupStream", mock.Anything, mock.AnythingOfType("*nats.StreamConfig")).Return(errors.New("no jetstream"))

	err := p.Setup()
	assert.ErrorContains(t, err, "failed to setup router consumer")
	client.AssertNotCalled(t, "SubscribePush", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}
