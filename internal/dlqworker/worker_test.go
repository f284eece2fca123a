package dlqworker

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"gitlab.com/timkado/api/conversation-router/internal/apperrors"
	"gitlab.com/timkado/api/conversation-router/internal/config"
	"gitlab.com/timkado/api/conversation-router/internal/ingestion"
	clientmock "gitlab.com/timkado/api/conversation-router/internal/jetstream/mock"
	"gitlab.com/timkado/api/conversation-router/internal/model"
	"gitlab.com/timkado/api/conversation-router/internal/tenant"
)

type saverMock struct {
	mock.Mock
}

func (m *saverMock) SaveExhaustedEvent(ctx context.Context, event model.ExhaustedEvent) error {
	return m.Called(ctx, event).Error(0)
}

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.NATS.DLQStream = "ROUTER_DLQ"
	cfg.NATS.DLQSubject = "v1.dlq"
	cfg.NATS.DLQWorkers = 2
	cfg.NATS.DLQBaseDelayMinutes = 1
	cfg.NATS.DLQMaxDelayMinutes = 5
	cfg.NATS.DLQMaxAgeDays = 7
	cfg.NATS.DLQMaxDeliver = 10
	cfg.NATS.DLQAckWait = 30 * time.Second
	cfg.NATS.DLQMaxAckPending = 100
	return cfg
}

func newTestWorker(t *testing.T, handler ingestion.EventHandler) (*Worker, *saverMock) {
	router := ingestion.NewRouter()
	router.Register(model.V1RouterInbound, handler)
	router.Register(model.V1RouterSend, handler)
	store := new(saverMock)
	return &Worker{
		cfg:    testConfig(),
		logger: zaptest.NewLogger(t),
		router: router,
		store:  store,
	}, store
}

func dlqData(t *testing.T, tenantToken string) []byte {
	data, err := json.Marshal(model.DLQPayload{
		SourceSubject:   "v1.router.inbound." + tenantToken,
		Tenant:          tenantToken,
		OriginalPayload: json.RawMessage(`{"identity":{"channel":"whatsapp","phone":"628111"}}`),
		Error:           "db down",
		ErrorType:       "retryable",
		RetryCount:      5,
		MaxRetry:        5,
		Timestamp:       time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	return data
}

func TestReplay(t *testing.T) {
	meta := func(delivered uint64) *nats.MsgMetadata {
		return &nats.MsgMetadata{NumDelivered: delivered, Sequence: nats.SequencePair{Stream: 9}}
	}

	t.Run("Success acks with tenant in context", func(t *testing.T) {
		var seen int64
		w, store := newTestWorker(t, func(ctx context.Context, _ model.EventType, md *model.MessageMetadata, _ []byte) error {
			seen, _ = tenant.FromContext(ctx)
			assert.Equal(t, int64(42), md.TenantID)
			return nil
		})

		outcome, delay := w.replay(context.Background(), dlqData(t, "42"), meta(1))

		assert.Equal(t, outcomeAck, outcome)
		assert.Zero(t, delay)
		assert.Equal(t, int64(42), seen)
		store.AssertNotCalled(t, "SaveExhaustedEvent", mock.Anything, mock.Anything)
	})

	t.Run("Retryable failure backs off", func(t *testing.T) {
		w, _ := newTestWorker(t, func(context.Context, model.EventType, *model.MessageMetadata, []byte) error {
			return apperrors.NewRetryable(apperrors.ErrDatabase, "db down")
		})

		outcome, delay := w.replay(context.Background(), dlqData(t, "42"), meta(2))

		assert.Equal(t, outcomeRetry, outcome)
		assert.Equal(t, 2*time.Minute, delay)
	})

	t.Run("Retries exhausted are persisted", func(t *testing.T) {
		w, store := newTestWorker(t, func(context.Context, model.EventType, *model.MessageMetadata, []byte) error {
			return apperrors.NewRetryable(apperrors.ErrDatabase, "db down")
		})
		store.On("SaveExhaustedEvent", mock.Anything, mock.MatchedBy(func(e model.ExhaustedEvent) bool {
			return e.TenantID == 42 && e.SourceSubject == "v1.router.inbound.42" && e.RetryCount == 5 &&
				e.EventType == string(model.V1RouterInbound) && e.ErrorType == "retryable"
		})).Return(nil)

		outcome, _ := w.replay(context.Background(), dlqData(t, "42"), meta(maxRetries))

		assert.Equal(t, outcomeExhausted, outcome)
		store.AssertExpectations(t)
	})

	t.Run("Fatal failure is persisted at once", func(t *testing.T) {
		w, store := newTestWorker(t, func(context.Context, model.EventType, *model.MessageMetadata, []byte) error {
			return apperrors.NewFatal(apperrors.ErrUnresolvableIdentity, "bad identity")
		})
		store.On("SaveExhaustedEvent", mock.Anything, mock.MatchedBy(func(e model.ExhaustedEvent) bool {
			return e.ErrorType == "fatal"
		})).Return(errors.New("db gone"))

		outcome, _ := w.replay(context.Background(), dlqData(t, "42"), meta(1))

		assert.Equal(t, outcomeExhausted, outcome)
		store.AssertExpectations(t)
	})

	t.Run("Send requests are exhausted without routing", func(t *testing.T) {
		calls := 0
		w, store := newTestWorker(t, func(context.Context, model.EventType, *model.MessageMetadata, []byte) error {
			calls++
			return nil
		})
		store.On("SaveExhaustedEvent", mock.Anything, mock.MatchedBy(func(e model.ExhaustedEvent) bool {
			return e.TenantID == 42 && e.EventType == string(model.V1RouterSend) && e.ErrorType == "fatal" &&
				strings.Contains(e.LastError, "provider rejected")
		})).Return(nil)

		data, err := json.Marshal(model.DLQPayload{
			SourceSubject:   "v1.router.send.42",
			Tenant:          "42",
			OriginalPayload: json.RawMessage(`{"conversation_id":7,"content":{"text":"hi"}}`),
			Error:           "provider rejected",
			ErrorType:       "fatal",
		})
		require.NoError(t, err)

		outcome, _ := w.replay(context.Background(), data, meta(1))

		assert.Equal(t, outcomeExhausted, outcome)
		assert.Zero(t, calls, "send handler must not run again")
		store.AssertExpectations(t)
	})

	t.Run("Missing tenant is persisted without routing", func(t *testing.T) {
		called := false
		w, store := newTestWorker(t, func(context.Context, model.EventType, *model.MessageMetadata, []byte) error {
			called = true
			return nil
		})
		store.On("SaveExhaustedEvent", mock.Anything, mock.MatchedBy(func(e model.ExhaustedEvent) bool {
			return e.TenantID == 0
		})).Return(nil)

		outcome, _ := w.replay(context.Background(), dlqData(t, "unknown"), meta(1))

		assert.Equal(t, outcomeExhausted, outcome)
		assert.False(t, called)
	})

	t.Run("Garbled payload is dropped", func(t *testing.T) {
		w, store := newTestWorker(t, func(context.Context, model.EventType, *model.MessageMetadata, []byte) error {
			return nil
		})

		outcome, _ := w.replay(context.Background(), []byte("{"), meta(1))

		assert.Equal(t, outcomeDrop, outcome)
		store.AssertNotCalled(t, "SaveExhaustedEvent", mock.Anything, mock.Anything)
	})
}

func TestNewWorker_SetsUpStreamAndConsumer(t *testing.T) {
	client := new(clientmock.ClientMock)
	cfg := testConfig()

	client.On("SetupStream", mock.Anything, mock.MatchedBy(func(sc *nats.StreamConfig) bool {
		return sc.Name == "ROUTER_DLQ" && assert.Equal(t, []string{"v1.dlq.>"}, sc.Subjects) && sc.MaxAge == 7*24*time.Hour
	})).Return(nil)
	client.On("SetupConsumer", mock.Anything, "ROUTER_DLQ", mock.MatchedBy(func(cc *nats.ConsumerConfig) bool {
		return cc.Durable == "v1_dlq_worker_consumer" && cc.FilterSubject == "v1.dlq.>" && cc.MaxDeliver == 10
	})).Return(nil)

	w, err := NewWorker(cfg, zaptest.NewLogger(t), client, ingestion.NewRouter(), new(saverMock))
	require.NoError(t, err)
	t.Cleanup(w.pool.Release)
	client.AssertExpectations(t)
}

func TestNewWorker_StreamError(t *testing.T) {
	client := new(clientmock.ClientMock)
	client.On("SetupStream", mock.Anything, mock.Anything).Return(errors.New("no jetstream"))

	_, err := NewWorker(testConfig(), zaptest.NewLogger(t), client, ingestion.NewRouter(), new(saverMock))
	assert.ErrorContains(t, err, "failed to setup DLQ stream")
}

func TestCalculateBackoffDelay(t *testing.T) {
	assert.Equal(t, time.Minute, calculateBackoffDelay(0, 1, 5))
	assert.Equal(t, time.Minute, calculateBackoffDelay(1, 1, 5))
	assert.Equal(t, 4*time.Minute, calculateBackoffDelay(3, 1, 5))
	assert.Equal(t, 5*time.Minute, calculateBackoffDelay(6, 1, 5))
}

func TestSubjectTenant(t *testing.T) {
	assert.Equal(t, "42", subjectTenant("v1.dlq.42"))
	assert.Equal(t, "unknown", subjectTenant("v1.dlq.unknown"))
}
