package ingestion

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"gitlab.com/timkado/api/conversation-router/internal/apperrors"
	"gitlab.com/timkado/api/conversation-router/internal/config"
	"gitlab.com/timkado/api/conversation-router/internal/jetstream"
	"gitlab.com/timkado/api/conversation-router/internal/model"
	"gitlab.com/timkado/api/conversation-router/internal/observer"
	"gitlab.com/timkado/api/conversation-router/internal/tenant"
	"gitlab.com/timkado/api/conversation-router/pkg/logger"
	"gitlab.com/timkado/api/conversation-router/pkg/utils"
)

// AckNakAction represents the decision made after processing a message
type AckNakAction int

const (
	ActionAck      AckNakAction = iota // Message processed successfully, ACK it
	ActionNak                          // DLQ failure, NAK immediately
	ActionNakDelay                     // Retryable error, NAK with calculated delay
	ActionDLQ                          // Max retries reached or fatal error, publish to DLQ then ACK
)

const consumerType = "router"

// EventConsumer is the durable push consumer for router events of every tenant.
// The tenant of each message is the last token of its subject.
type EventConsumer struct {
	client       jetstream.ClientInterface
	router       RouterInterface
	cfg          config.ConsumerNatsConfig
	dlqSubject   string
	ctx          context.Context
	cancel       context.CancelFunc
	sub          *nats.Subscription
	nakBaseDelay time.Duration
	nakMaxDelay  time.Duration
}

// NewEventConsumer creates the router event consumer
func NewEventConsumer(client jetstream.ClientInterface, router RouterInterface, cfg config.ConsumerNatsConfig, dlqSubject string) *EventConsumer {
	ctx, cancel := context.WithCancel(context.Background())
	ctx = logger.WithLogger(ctx, logger.Named("consumer").With(zap.String("consumer", cfg.Consumer)))
	return &EventConsumer{
		client:       client,
		router:       router,
		cfg:          cfg,
		dlqSubject:   dlqSubject,
		ctx:          ctx,
		cancel:       cancel,
		nakBaseDelay: cfg.NakBaseDelay,
		nakMaxDelay:  cfg.NakMaxDelay,
	}
}

// determineAckNakAction decides the fate of a message based on processing result and metadata.
// It returns the action to take (ACK, NAK_DELAY, DLQ) and the delay duration if applicable.
func determineAckNakAction(
	processingErr error,
	metadata *nats.MsgMetadata,
	maxDeliver int,
	nakBaseDelay time.Duration,
	nakMaxDelay time.Duration,
) (action AckNakAction, delay time.Duration) {
	if processingErr == nil {
		return ActionAck, 0
	}

	isRetryable := apperrors.IsRetryable(processingErr)
	numDelivered := metadata.NumDelivered

	if numDelivered >= uint64(maxDeliver) || !isRetryable {
		return ActionDLQ, 0
	}

	attempt := numDelivered
	delay = nakBaseDelay
	if attempt > 1 {
		delay = nakBaseDelay * (1 << (attempt - 1))
	}
	if delay > nakMaxDelay {
		delay = nakMaxDelay
	}
	return ActionNakDelay, delay
}

// handleMessage is the per-message callback of the push subscription
func (c *EventConsumer) handleMessage(msg *nats.Msg) {
	startTime := utils.Now()
	tenantToken := model.SubjectTenantToken(msg.Subject)
	eventType, found := model.MapToBaseEventType(msg.Subject)

	defer func() {
		observer.ObserveEventProcessingDuration(string(eventType), tenantToken, consumerType, time.Since(startTime))

		if r := recover(); r != nil {
			logger.FromContext(c.ctx).Error("[panic] Recovered from panic in message handler",
				zap.Any("panic", r),
				zap.String("subject", msg.Subject),
				zap.Duration("duration", time.Since(startTime)),
				zap.Stack("stack"),
			)
			observer.IncEventsFailed(string(eventType), tenantToken, consumerType)
			observer.IncEventProcessingAction(string(eventType), tenantToken, consumerType, "panic_nak", "panic")
			if nakErr := msg.Nak(); nakErr != nil {
				logger.FromContext(c.ctx).Error("Failed to NAK message after panic", zap.Error(nakErr))
			}
		}
	}()

	log := logger.FromContext(c.ctx)

	var msgID string
	if msg.Header != nil {
		msgID = msg.Header.Get("Nats-Msg-Id")
	}

	if !found {
		log.Warn("Unknown event type", zap.String("subject", msg.Subject))
		if nakErr := msg.Term(); nakErr != nil {
			log.Error("Failed to terminate message for unknown event type", zap.Error(nakErr))
		}
		observer.IncEventProcessingAction(string(eventType), tenantToken, consumerType, "term_unknown_type", "unknown_event_type")
		return
	}

	metadata, err := msg.Metadata()
	if err != nil {
		log.Error("Failed to read message metadata", zap.Error(err))
		if nakErr := msg.Nak(); nakErr != nil {
			log.Error("Failed to NAK message", zap.Error(nakErr))
		}
		observer.IncEventProcessingAction(string(eventType), tenantToken, consumerType, "nak_metadata_error", "metadata")
		return
	}
	if msgID == "" {
		msgID = fmt.Sprintf("msg-%d", metadata.Sequence.Stream)
	}

	observer.IncEventsReceived(string(eventType), tenantToken, consumerType)

	msgCtx := logger.WithLogger(c.ctx, log.With(
		zap.String("nats_message_id", msgID),
		zap.Uint64("stream_sequence", metadata.Sequence.Stream),
		zap.Uint64("consumer_sequence", metadata.Sequence.Consumer),
		zap.String("subject", msg.Subject),
		zap.Uint64("num_delivered", metadata.NumDelivered),
	))

	routingStart := utils.Now()
	processingErr := c.route(msgCtx, msg.Subject, msgID, metadata, msg.Data)
	observer.ObserveEventRoutingDuration(string(eventType), tenantToken, consumerType, time.Since(routingStart))

	c.settle(msgCtx, msg, msgID, eventType, tenantToken, metadata, processingErr, startTime)
}

// route resolves the tenant from subject and hands the event to the router.
// A subject without a valid tenant token is fatal.
func (c *EventConsumer) route(ctx context.Context, subject, msgID string, metadata *nats.MsgMetadata, data []byte) error {
	tenantID, err := tenant.ParseTenantID(model.SubjectTenantToken(subject))
	if err != nil {
		return apperrors.NewFatal(err, "subject %s carries no tenant", subject)
	}
	return c.router.Route(ctx, &model.MessageMetadata{
		StreamSequence:   metadata.Sequence.Stream,
		ConsumerSequence: metadata.Sequence.Consumer,
		NumDelivered:     metadata.NumDelivered,
		NumPending:       metadata.NumPending,
		Timestamp:        metadata.Timestamp,
		Stream:           metadata.Stream,
		Consumer:         metadata.Consumer,
		Domain:           metadata.Domain,
		MessageID:        msgID,
		MessageSubject:   subject,
		TenantID:         tenantID,
	}, data)
}

// newDLQPayload wraps a failed message for the dead-letter stream.
func newDLQPayload(subject string, data []byte, processingErr error, numDelivered uint64, maxDeliver int) model.DLQPayload {
	// Payloads that are not JSON are kept as a JSON string.
	if !json.Valid(data) {
		data, _ = json.Marshal(string(data))
	}
	errorType := "fatal"
	if apperrors.IsRetryable(processingErr) {
		errorType = "retryable"
	}
	return model.DLQPayload{
		SourceSubject:   subject,
		Tenant:          model.SubjectTenantToken(subject),
		OriginalPayload: json.RawMessage(data),
		Error:           processingErr.Error(),
		ErrorType:       errorType,
		RetryCount:      numDelivered,
		MaxRetry:        maxDeliver,
		Timestamp:       utils.Now(),
	}
}

// settle acknowledges, delays or dead-letters msg according to processingErr.
func (c *EventConsumer) settle(ctx context.Context, msg *nats.Msg, msgID string, eventType model.EventType, tenantToken string, metadata *nats.MsgMetadata, processingErr error, startTime time.Time) {
	log := logger.FromContext(ctx)
	action, nakDelay := determineAckNakAction(processingErr, metadata, c.cfg.MaxDeliver, c.nakBaseDelay, c.nakMaxDelay)

	errorType := "none"
	if processingErr != nil {
		errorType = SanitizeErrorType(processingErr)
	}

	switch action {
	case ActionAck:
		log.Info("Successfully processed message", zap.Duration("duration", time.Since(startTime)))
		observer.IncEventsProcessed(string(eventType), tenantToken, consumerType)
		observer.IncEventProcessingAction(string(eventType), tenantToken, consumerType, "ack_success", errorType)
		if ackErr := msg.Ack(); ackErr != nil {
			log.Error("Failed to ACK message after successful processing", zap.Error(ackErr))
		}

	case ActionNakDelay:
		log.Info("NAKing message with delay for redelivery (retryable error)",
			zap.Error(processingErr),
			zap.Int("max_deliver", c.cfg.MaxDeliver),
			zap.Duration("nak_delay", nakDelay),
		)
		observer.IncEventsFailed(string(eventType), tenantToken, consumerType)
		observer.IncEventProcessingAction(string(eventType), tenantToken, consumerType, "nak_retry", errorType)
		if nakErr := msg.NakWithDelay(nakDelay); nakErr != nil {
			log.Error("Failed to NAK message with delay", zap.Error(nakErr))
		}

	case ActionDLQ:
		isRetryable := apperrors.IsRetryable(processingErr)
		logReason := "max delivery attempts reached"
		if !isRetryable {
			logReason = "fatal error encountered"
		}
		log.Warn("Sending message to DLQ: "+logReason,
			zap.Error(processingErr),
			zap.Int("max_deliver", c.cfg.MaxDeliver),
			zap.Bool("is_retryable", isRetryable),
		)
		observer.IncEventsFailed(string(eventType), tenantToken, consumerType)

		dlqData, marshalErr := json.Marshal(newDLQPayload(msg.Subject, msg.Data, processingErr, metadata.NumDelivered, c.cfg.MaxDeliver))
		if marshalErr != nil {
			log.Error("Failed to marshal DLQ payload, NAKing original message", zap.Error(marshalErr))
			observer.IncEventProcessingAction(string(eventType), tenantToken, consumerType, "nak_dlq_marshal_fail", "dlq_marshal_fail")
			if nakErr := msg.Nak(); nakErr != nil {
				log.Error("Failed to NAK message after DLQ marshal error", zap.Error(nakErr))
			}
			return
		}

		dlqFullSubject := DLQSubject(c.dlqSubject, tenantToken)
		headers := map[string]string{"Original-Nats-Msg-Id": msgID}
		if publishErr := c.client.Publish(dlqFullSubject, dlqData, headers); publishErr != nil {
			log.Error("Failed to publish message to DLQ, NAKing original message",
				zap.Error(publishErr),
				zap.String("dlq_subject", dlqFullSubject),
			)
			observer.IncEventProcessingAction(string(eventType), tenantToken, consumerType, "nak_dlq_publish_fail", "dlq_publish_fail")
			if nakErr := msg.Nak(); nakErr != nil {
				log.Error("Failed to NAK message after DLQ publish error", zap.Error(nakErr))
			}
			return
		}
		log.Info("Message published to DLQ", zap.String("dlq_subject", dlqFullSubject))
		observer.IncEventProcessingAction(string(eventType), tenantToken, consumerType, "dlq_published_ack_success", errorType)
		if ackErr := msg.Ack(); ackErr != nil {
			log.Error("Failed to ACK message after successful DLQ publish", zap.Error(ackErr))
		}
	}
}

// DLQSubject returns the dead-letter subject for a tenant token. Messages whose
// subject has no usable tenant go to "<base>.unknown".
func DLQSubject(base, tenantToken string) string {
	id, _ := tenant.ParseTenantID(tenantToken)
	return base + "." + tenant.Label(id)
}

// Setup configures the NATS stream and the durable consumer
func (c *EventConsumer) Setup() error {
	log := logger.FromContext(c.ctx)
	log.Info("Setting up EventConsumer...", zap.String("stream", c.cfg.Stream))

	streamCfg := &nats.StreamConfig{
		Name:      c.cfg.Stream,
		Subjects:  c.cfg.SubjectList,
		Storage:   nats.FileStorage,
		Retention: nats.LimitsPolicy,
		MaxAge:    time.Duration(c.cfg.MaxAge*24) * time.Hour,
	}
	if err := c.client.SetupStream(c.ctx, streamCfg); err != nil {
		log.Error("Failed to setup router stream", zap.Error(err), zap.String("stream", c.cfg.Stream))
		return fmt.Errorf("failed to setup router stream '%s': %w", c.cfg.Stream, err)
	}

	consumerCfg := &nats.ConsumerConfig{
		Durable:        c.cfg.Consumer,
		DeliverGroup:   c.cfg.QueueGroup,
		FilterSubjects: c.cfg.SubjectList,
		AckPolicy:      nats.AckExplicitPolicy,
		DeliverSubject: nats.NewInbox(),
		MaxDeliver:     c.cfg.MaxDeliver,
		AckWait:        30 * time.Second,
		MaxAckPending:  1000,
		ReplayPolicy:   nats.ReplayInstantPolicy,
		DeliverPolicy:  nats.DeliverAllPolicy,
	}
	if err := c.client.SetupConsumer(c.ctx, c.cfg.Stream, consumerCfg); err != nil {
		log.Error("Failed to setup router consumer", zap.Error(err), zap.String("stream", c.cfg.Stream))
		return fmt.Errorf("failed to setup router consumer '%s' for stream '%s': %w", c.cfg.Consumer, c.cfg.Stream, err)
	}

	log.Info("EventConsumer setup complete")
	return nil
}

// Start subscribes to the NATS stream
func (c *EventConsumer) Start() error {
	log := logger.FromContext(c.ctx)
	log.Info("Starting EventConsumer subscription...", zap.String("stream", c.cfg.Stream))

	// The durable carries several filter subjects, so the subscription binds without one.
	sub, err := c.client.SubscribePush("", c.cfg.Consumer, c.cfg.QueueGroup, c.cfg.Stream, c.handleMessage)
	if err != nil {
		log.Error("Failed to subscribe router consumer", zap.Error(err),
			zap.String("stream", c.cfg.Stream),
			zap.String("group", c.cfg.QueueGroup),
		)
		return fmt.Errorf("failed to subscribe router consumer '%s': %w", c.cfg.Consumer, err)
	}
	c.sub = sub
	log.Info("EventConsumer subscribed successfully")
	return nil
}

// Stop unsubscribes and cleans up resources
func (c *EventConsumer) Stop() {
	log := logger.FromContext(c.ctx)
	log.Info("Stopping EventConsumer...", zap.String("stream", c.cfg.Stream))
	if c.sub != nil {
		if err := c.sub.Drain(); err != nil {
			log.Error("Error draining router subscription", zap.Error(err))
		}
	}
	if c.cancel != nil {
		c.cancel()
	}
	log.Info("EventConsumer stopped")
}

// SanitizeErrorType maps an error to a general category string for metrics.
func SanitizeErrorType(err error) string {
	if err == nil {
		return "none"
	}

	switch {
	case apperrors.IsUnresolvableIdentityError(err):
		return "identity"
	case apperrors.IsSendFailedError(err):
		return "send_failed"
	case apperrors.IsDatabaseError(err):
		return "database"
	case apperrors.IsBadRequestError(err), apperrors.IsValidationError(err):
		return "validation"
	case apperrors.IsNotFoundError(err):
		return "not_found"
	case apperrors.IsUnauthorizedError(err):
		return "unauthorized"
	case apperrors.IsConflictError(err):
		return "conflict"
	case apperrors.IsTimeoutError(err):
		return "timeout"
	case apperrors.IsNATSError(err):
		return "nats"
	}
	return observer.SanitizeErrorType(err.Error())
}
