package usecase

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"gitlab.com/timkado/api/conversation-router/internal/apperrors"
	"gitlab.com/timkado/api/conversation-router/internal/model"
	"gitlab.com/timkado/api/conversation-router/internal/storage"
	"gitlab.com/timkado/api/conversation-router/pkg/logger"
	"gitlab.com/timkado/api/conversation-router/pkg/utils"
)

// DefaultLockTimeout bounds advisory lock acquisition when no timeout is configured.
const DefaultLockTimeout = 3 * time.Second

// Publisher pushes realtime events to dashboard subscribers. Publish never blocks on delivery.
type Publisher interface {
	Publish(ctx context.Context, event model.RealtimeEvent)
}

// Sender hands one outbound message to the channel provider and returns its message id.
type Sender interface {
	Send(ctx context.Context, tenantID int64, channel model.Channel, peer model.IdentityKey, content map[string]interface{}) (string, error)
}

// PresenceChecker reports whether an agent currently has a live dashboard connection.
type PresenceChecker interface {
	IsOnline(agentID int64) bool
}

// EventService implements identity resolution, assignment and message status handling.
type EventService struct {
	directoryRepo      storage.DirectoryRepo
	conversationRepo   storage.ConversationRepo
	assignmentRepo     storage.AssignmentRepo
	messageRepo        storage.MessageRepo
	exhaustedEventRepo storage.ExhaustedEventRepo
	locker             storage.Locker
	presence           PresenceChecker
	publisher          Publisher
	sender             Sender
	lockTimeout        time.Duration
}

// Option customizes an EventService.
type Option func(*EventService)

// WithLockTimeout overrides DefaultLockTimeout.
func WithLockTimeout(d time.Duration) Option {
	return func(s *EventService) {
		if d > 0 {
			s.lockTimeout = d
		}
	}
}

// WithSender enables outbound sends.
func WithSender(sender Sender) Option {
	return func(s *EventService) {
		s.sender = sender
	}
}

// NewEventService creates a new event service
func NewEventService(
	directoryRepo storage.DirectoryRepo,
	conversationRepo storage.ConversationRepo,
	assignmentRepo storage.AssignmentRepo,
	messageRepo storage.MessageRepo,
	exhaustedEventRepo storage.ExhaustedEventRepo,
	locker storage.Locker,
	presence PresenceChecker,
	publisher Publisher,
	opts ...Option,
) *EventService {
	s := &EventService{
		directoryRepo:      directoryRepo,
		conversationRepo:   conversationRepo,
		assignmentRepo:     assignmentRepo,
		messageRepo:        messageRepo,
		exhaustedEventRepo: exhaustedEventRepo,
		locker:             locker,
		presence:           presence,
		publisher:          publisher,
		lockTimeout:        DefaultLockTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// publish wraps payload into a realtime event and hands it to the publisher.
func (s *EventService) publish(ctx context.Context, eventType model.RealtimeEventType, tenantID, conversationID int64, payload interface{}) {
	if s.publisher == nil {
		return
	}
	s.publisher.Publish(ctx, model.RealtimeEvent{
		ID:             uuid.NewString(),
		Type:           eventType,
		TenantID:       tenantID,
		ConversationID: conversationID,
		Payload:        utils.MustMarshalJSON(payload),
		At:             utils.Now(),
	})
}

// handleRepositoryError maps standard apperrors from the repository layer
// to FatalError or RetryableError for the use case layer.
func handleRepositoryError(ctx context.Context, err error, operation string) error {
	if err == nil {
		return nil
	}
	if apperrors.IsRetryable(err) || apperrors.IsFatal(err) {
		return err
	}

	log := logger.FromContext(ctx)
	logFields := []zap.Field{
		zap.String("operation", operation),
		zap.Error(err),
	}

	switch {
	case errors.Is(err, context.Canceled):
		log.Warn("Repository operation cancelled", logFields...)
		return apperrors.NewRetryable(err, "%s cancelled", operation)
	case errors.Is(err, apperrors.ErrNotFound):
		log.Warn("Repository operation failed: Not found", logFields...)
		return apperrors.NewFatal(err, "%s failed: resource not found", operation)
	case errors.Is(err, apperrors.ErrDuplicate):
		log.Warn("Repository operation failed: Duplicate resource", logFields...)
		return apperrors.NewFatal(err, "%s failed: duplicate resource", operation)
	case errors.Is(err, apperrors.ErrBadRequest):
		log.Warn("Repository operation failed: Bad request", logFields...)
		return apperrors.NewFatal(err, "%s failed: bad request data", operation)
	case errors.Is(err, apperrors.ErrUnauthorized):
		log.Error("Repository operation failed: Unauthorized", logFields...)
		return apperrors.NewFatal(err, "%s failed: unauthorized", operation)
	case errors.Is(err, apperrors.ErrConflict):
		log.Warn("Repository operation failed: Conflict", logFields...)
		return apperrors.NewRetryable(err, "%s failed: resource conflict", operation)
	case errors.Is(err, apperrors.ErrDatabase):
		log.Error("Repository operation failed: Database error", logFields...)
		return apperrors.NewRetryable(err, "%s failed: database error", operation)
	case errors.Is(err, apperrors.ErrTimeout):
		log.Warn("Repository operation failed: Timeout", logFields...)
		return apperrors.NewRetryable(err, "%s failed: operation timeout", operation)
	case errors.Is(err, apperrors.ErrNATS):
		log.Error("Repository operation failed: NATS error", logFields...)
		return apperrors.NewRetryable(err, "%s failed: NATS communication error", operation)
	}

	log.Error("Repository operation failed: Unexpected error", logFields...)
	return apperrors.NewFatal(err, "%s failed: unexpected error", operation)
}
