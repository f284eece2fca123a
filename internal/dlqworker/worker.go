package dlqworker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"gitlab.com/timkado/api/conversation-router/internal/apperrors"
	"gitlab.com/timkado/api/conversation-router/internal/config"
	"gitlab.com/timkado/api/conversation-router/internal/ingestion"
	internal_js "gitlab.com/timkado/api/conversation-router/internal/jetstream"
	"gitlab.com/timkado/api/conversation-router/internal/model"
	"gitlab.com/timkado/api/conversation-router/internal/observer"
	"gitlab.com/timkado/api/conversation-router/internal/tenant"
	"gitlab.com/timkado/api/conversation-router/pkg/logger"
)

const (
	maxRetries        = 5
	defaultMsgChanCap = 100
	fetchBatchSize    = 10
	fetchMaxWait      = 5 * time.Second
)

// ExhaustedEventSaver persists events that the DLQ gave up on.
type ExhaustedEventSaver interface {
	SaveExhaustedEvent(ctx context.Context, event model.ExhaustedEvent) error
}

// Worker replays dead-lettered router events.
type Worker struct {
	cfg    *config.Config
	logger *zap.Logger
	js     internal_js.ClientInterface
	pool   *ants.Pool
	router ingestion.RouterInterface
	store  ExhaustedEventSaver
	msgCh  chan *nats.Msg
	stopWg sync.WaitGroup
	cancel context.CancelFunc
}

// NewWorker ensures the dead-letter stream and its pull consumer exist and
// prepares a pool of cfg.NATS.DLQWorkers replay goroutines.
func NewWorker(cfg *config.Config, logger *zap.Logger, jsClient internal_js.ClientInterface, router ingestion.RouterInterface, store ExhaustedEventSaver) (*Worker, error) {
	log := logger.Named("dlq_worker")
	pool, err := ants.NewPool(cfg.NATS.DLQWorkers,
		ants.WithLogger(newAntsLoggerAdapter(logger.Named("ants_pool"))),
		ants.WithPanicHandler(func(p interface{}) {
			log.Error("Replay task panicked", zap.Any("panic", p), zap.Stack("stack"))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create ants pool: %w", err)
	}

	ctx := context.Background()
	stream := dlqStreamConfig(cfg)
	if err := jsClient.SetupStream(ctx, stream); err != nil {
		pool.Release()
		return nil, fmt.Errorf("failed to setup DLQ stream '%s': %w", stream.Name, err)
	}
	consumer := dlqConsumerConfig(cfg)
	if err := jsClient.SetupConsumer(ctx, stream.Name, consumer); err != nil {
		pool.Release()
		return nil, fmt.Errorf("failed to setup DLQ consumer '%s' for stream '%s': %w", consumer.Durable, stream.Name, err)
	}

	log.Info("DLQ worker initialized",
		zap.String("stream", stream.Name),
		zap.String("consumer", consumer.Durable),
		zap.Int("pool_size", cfg.NATS.DLQWorkers),
	)
	return &Worker{
		cfg:    cfg,
		logger: log,
		js:     jsClient,
		pool:   pool,
		router: router,
		store:  store,
		msgCh:  make(chan *nats.Msg, defaultMsgChanCap),
	}, nil
}

func dlqStreamConfig(cfg *config.Config) *nats.StreamConfig {
	return &nats.StreamConfig{
		Name:      cfg.NATS.DLQStream,
		Subjects:  []string{cfg.NATS.DLQSubject + ".>"},
		Storage:   nats.FileStorage,
		Retention: nats.LimitsPolicy,
		MaxAge:    time.Duration(cfg.NATS.DLQMaxAgeDays) * 24 * time.Hour,
	}
}

func dlqConsumerConfig(cfg *config.Config) *nats.ConsumerConfig {
	return &nats.ConsumerConfig{
		Durable:       durableName(cfg.NATS.DLQSubject),
		FilterSubject: cfg.NATS.DLQSubject + ".>",
		AckPolicy:     nats.AckExplicitPolicy,
		MaxDeliver:    cfg.NATS.DLQMaxDeliver,
		AckWait:       cfg.NATS.DLQAckWait,
		MaxAckPending: cfg.NATS.DLQMaxAckPending,
		DeliverPolicy: nats.DeliverAllPolicy,
		ReplayPolicy:  nats.ReplayInstantPolicy,
	}
}

// Start binds the pull subscription and runs the fetch and dispatch loops.
// It blocks until ctx is cancelled or Stop is called.
func (w *Worker) Start(ctx context.Context) error {
	ctx, w.cancel = context.WithCancel(ctx)

	consumer := dlqConsumerConfig(w.cfg)
	sub, err := w.js.SubscribePull(w.cfg.NATS.DLQStream, consumer.FilterSubject, consumer.Durable)
	if err != nil {
		w.cancel()
		return fmt.Errorf("failed to create DLQ pull subscription: %w", err)
	}

	w.stopWg.Add(2)
	go w.fetchMessages(ctx, sub)
	go w.dispatchMessages(ctx)
	w.logger.Info("DLQ worker started", zap.String("subject", consumer.FilterSubject))

	<-ctx.Done()
	return nil
}

// Stop cancels the loops, waits for them and releases the pool. Replays
// already running on the pool finish first.
func (w *Worker) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	w.stopWg.Wait()
	close(w.msgCh)
	w.pool.Release()
	w.logger.Info("DLQ worker stopped")
}

func (w *Worker) fetchMessages(ctx context.Context, sub *nats.Subscription) {
	defer w.stopWg.Done()

	for ctx.Err() == nil {
		observer.IncDlqFetchRequest()
		fetchCtx, cancel := context.WithTimeout(ctx, fetchMaxWait)
		msgs, err := sub.Fetch(fetchBatchSize, nats.Context(fetchCtx))
		cancel()
		switch {
		case err == nil:
		case errors.Is(err, nats.ErrTimeout), errors.Is(err, context.DeadlineExceeded),
			errors.Is(err, context.Canceled), errors.Is(err, nats.ErrConnectionClosed):
			// Idle stream or shutdown; the loop condition decides.
			continue
		default:
			observer.IncDlqFetchError()
			w.logger.Error("DLQ fetch failed", zap.Error(err))
			select {
			case <-ctx.Done():
			case <-time.After(time.Second):
			}
			continue
		}

		for _, msg := range msgs {
			select {
			case w.msgCh <- msg:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (w *Worker) dispatchMessages(ctx context.Context) {
	defer w.stopWg.Done()

	for {
		observer.SetDlqQueueLength(len(w.msgCh))
		observer.SetDlqWorkersActive(w.pool.Running())

		var msg *nats.Msg
		select {
		case <-ctx.Done():
			return
		case msg = <-w.msgCh:
		}

		label := subjectTenant(msg.Subject)
		err := w.pool.Submit(func() {
			taskCtx, cancel := context.WithTimeout(context.Background(), time.Minute)
			defer cancel()
			w.handle(taskCtx, msg)
		})
		if err != nil {
			w.logger.Error("Failed to submit DLQ task", zap.Error(err))
			if nakErr := msg.NakWithDelay(5 * time.Second); nakErr != nil {
				observer.IncDlqAckFailure(label)
			}
			continue
		}
		observer.IncDlqTasksSubmitted(label)
	}
}

// errSendNotReplayable marks dead-lettered send requests. Replaying one could
// deliver a second copy of a message the provider already accepted.
var errSendNotReplayable = errors.New("outbound send is never replayed")

// replayOutcome is the fate of one DLQ message after a replay attempt.
type replayOutcome int

const (
	outcomeAck       replayOutcome = iota // replay succeeded
	outcomeRetry                          // NAK with backoff
	outcomeExhausted                      // persisted to the exhausted store, terminate
	outcomeDrop                           // unusable payload, terminate
)

// handle replays one dead-lettered message and settles it with JetStream.
func (w *Worker) handle(ctx context.Context, msg *nats.Msg) {
	startTime := time.Now()
	tenantLabel := subjectTenant(msg.Subject)
	defer func() {
		observer.ObserveDlqProcessingDuration(tenantLabel, time.Since(startTime))
	}()

	meta, err := msg.Metadata()
	if err != nil {
		w.logger.Error("Failed to get message metadata", zap.Error(err))
		if ackErr := msg.Term(); ackErr != nil {
			w.logger.Error("Failed to terminate message after metadata error", zap.Error(ackErr))
		}
		observer.IncDlqAckFailure(tenantLabel)
		return
	}

	switch outcome, delay := w.replay(ctx, msg.Data, meta); outcome {
	case outcomeAck:
		if ackErr := msg.Ack(); ackErr != nil {
			w.logger.Error("Failed to ACK successfully processed message", zap.Error(ackErr))
			observer.IncDlqAckFailure(tenantLabel)
		} else {
			observer.IncDlqAckSuccess(tenantLabel)
		}
	case outcomeRetry:
		if nakErr := msg.NakWithDelay(delay); nakErr != nil {
			w.logger.Error("Failed to NAK message with delay", zap.Error(nakErr))
			observer.IncDlqAckFailure(tenantLabel)
		} else {
			observer.IncDlqTaskRetry(tenantLabel)
		}
	case outcomeExhausted, outcomeDrop:
		if termErr := msg.Term(); termErr != nil {
			w.logger.Error("Failed to terminate message", zap.Error(termErr))
		}
		observer.IncDlqTasksDropped(tenantLabel)
	}
}

// replay routes the original event again. Fatal errors and retries beyond
// maxRetries end in the exhausted store; other failures back off.
func (w *Worker) replay(ctx context.Context, data []byte, meta *nats.MsgMetadata) (replayOutcome, time.Duration) {
	var payload model.DLQPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		w.logger.Error("Failed to unmarshal DLQ payload",
			zap.Error(err),
			zap.Uint64("sequence", meta.Sequence.Stream),
			zap.ByteString("data", data),
		)
		return outcomeDrop, 0
	}

	log := w.logger.With(
		zap.String("source_subject", payload.SourceSubject),
		zap.String("dlq_tenant", payload.Tenant),
		zap.Uint64("num_delivered", meta.NumDelivered),
	)

	tenantID, err := tenant.ParseTenantID(payload.Tenant)
	if err != nil {
		log.Warn("DLQ payload has no usable tenant, persisting as exhausted")
		return w.exhaust(ctx, log, payload, data, 0, err), 0
	}

	if base, _ := model.MapToBaseEventType(payload.SourceSubject); base == model.V1RouterSend {
		log.Warn("Outbound send is never replayed, persisting as exhausted", zap.String("dlq_error", payload.Error))
		return w.exhaust(ctx, log, payload, data, tenantID, apperrors.NewFatal(errSendNotReplayable, "%s", payload.Error)), 0
	}

	log.Info("Processing DLQ message",
		zap.Uint64("stream_sequence", meta.Sequence.Stream),
		zap.Uint64("payload_retry_count", payload.RetryCount),
	)

	routerMetadata := &model.MessageMetadata{
		MessageSubject:   payload.SourceSubject,
		TenantID:         tenantID,
		StreamSequence:   meta.Sequence.Stream,
		ConsumerSequence: meta.Sequence.Consumer,
		Timestamp:        meta.Timestamp,
		NumDelivered:     meta.NumDelivered,
	}
	handlerCtx := logger.WithLogger(tenant.WithTenantID(ctx, tenantID), log)

	processingErr := w.router.Route(handlerCtx, routerMetadata, payload.OriginalPayload)
	if processingErr == nil {
		log.Info("Successfully processed event from DLQ")
		return outcomeAck, 0
	}

	log.Warn("Failed to process event from DLQ", zap.Error(processingErr))
	if apperrors.IsFatal(processingErr) || meta.NumDelivered >= maxRetries {
		return w.exhaust(ctx, log, payload, data, tenantID, processingErr), 0
	}

	delay := calculateBackoffDelay(int(meta.NumDelivered), w.cfg.NATS.DLQBaseDelayMinutes, w.cfg.NATS.DLQMaxDelayMinutes)
	log.Info("Retrying DLQ message with backoff", zap.Duration("delay", delay))
	return outcomeRetry, delay
}

func (w *Worker) exhaust(ctx context.Context, log *zap.Logger, payload model.DLQPayload, data []byte, tenantID int64, cause error) replayOutcome {
	eventType, _ := model.MapToBaseEventType(payload.SourceSubject)
	errorType := "fatal"
	if apperrors.IsRetryable(cause) {
		errorType = "retryable"
	}
	event := model.ExhaustedEvent{
		TenantID:        tenantID,
		SourceSubject:   payload.SourceSubject,
		EventType:       string(eventType),
		ErrorType:       errorType,
		LastError:       cause.Error(),
		RetryCount:      int(payload.RetryCount),
		EventTimestamp:  payload.Timestamp,
		DLQPayload:      datatypes.JSON(data),
		OriginalPayload: datatypes.JSON(payload.OriginalPayload),
	}
	if saveErr := w.store.SaveExhaustedEvent(ctx, event); saveErr != nil {
		log.Error("Failed to save exhausted event, terminating message anyway", zap.Error(saveErr))
	}
	return outcomeExhausted
}

func durableName(dlqSubject string) string {
	return fmt.Sprintf("%s_worker_consumer", strings.ReplaceAll(dlqSubject, ".", "_"))
}

// subjectTenant returns the tenant label of a DLQ subject.
func subjectTenant(subject string) string {
	id, _ := tenant.ParseTenantID(model.SubjectTenantToken(subject))
	return tenant.Label(id)
}

// calculateBackoffDelay doubles the base delay per earlier delivery, capped at max.
func calculateBackoffDelay(retryCount int, baseDelayMinutes, maxDelayMinutes int) time.Duration {
	delay := time.Duration(baseDelayMinutes) * time.Minute
	limit := time.Duration(maxDelayMinutes) * time.Minute
	for i := 1; i < retryCount && delay < limit; i++ {
		delay *= 2
	}
	return min(delay, limit)
}

type antsLoggerAdapter struct {
	logger *zap.Logger
}

func newAntsLoggerAdapter(logger *zap.Logger) *antsLoggerAdapter {
	return &antsLoggerAdapter{logger: logger}
}

func (a *antsLoggerAdapter) Printf(format string, args ...interface{}) {
	a.logger.Info(fmt.Sprintf(format, args...))
}
