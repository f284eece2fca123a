package usecase

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"gitlab.com/timkado/api/conversation-router/internal/apperrors"
	"gitlab.com/timkado/api/conversation-router/internal/model"
	"gitlab.com/timkado/api/conversation-router/internal/observer"
	"gitlab.com/timkado/api/conversation-router/internal/storage"
	"gitlab.com/timkado/api/conversation-router/internal/tenant"
	"gitlab.com/timkado/api/conversation-router/pkg/logger"
)

// Assignment outcomes reported to metrics.
const (
	outcomeAssigned     = "assigned"
	outcomeUnassigned   = "unassigned"
	outcomeNoDepartment = "no_department"
	outcomeSuspended    = "suspended"
)

// ResolveOrCreate returns the conversation for the identity, creating and
// assigning it on first contact. created is true only for the call that
// inserted the row.
func (s *EventService) ResolveOrCreate(ctx context.Context, tenantID int64, key model.IdentityKey, display model.DisplayFields) (*model.Conversation, bool, error) {
	log := logger.FromContext(ctx).With(zap.String("identity", key.String()))

	if err := key.Validate(); err != nil {
		log.Warn("Rejecting unresolvable identity", zap.Error(err))
		return nil, false, apperrors.NewFatal(err, "resolve identity for tenant %d", tenantID)
	}

	existing, err := s.conversationRepo.FindByIdentity(ctx, tenantID, key)
	if err == nil {
		s.backfillDisplay(ctx, existing, display)
		return existing, false, nil
	}
	if !apperrors.IsNotFoundError(err) {
		return nil, false, handleRepositoryError(ctx, err, "FindConversationByIdentity")
	}

	t, err := s.directoryRepo.FindTenant(ctx, tenantID)
	if err != nil {
		return nil, false, handleRepositoryError(ctx, err, "FindTenant")
	}
	dept, err := s.directoryRepo.DepartmentFor(ctx, tenantID)
	if err != nil {
		if !apperrors.IsNotFoundError(err) {
			return nil, false, handleRepositoryError(ctx, err, "DepartmentFor")
		}
		dept = nil
	}

	var (
		conv    *model.Conversation
		created bool
		outcome string
	)
	lockErr := s.locker.WithLock(ctx, storage.AssignmentLockKey(tenantID), s.lockTimeout, func(ctx context.Context, acquired bool) error {
		if !acquired {
			log.Warn("Creating conversation without assignment lock")
		}

		found, err := s.conversationRepo.FindByIdentity(ctx, tenantID, key)
		if err == nil {
			conv = found
			return nil
		}
		if !apperrors.IsNotFoundError(err) {
			return err
		}

		conv = model.NewConversation(tenantID, key, display)
		var entry *model.AssignmentHistory
		switch {
		case dept == nil:
			outcome = outcomeNoDepartment
		case t.Suspended:
			conv.DepartmentID = &dept.ID
			outcome = outcomeSuspended
		default:
			conv.DepartmentID = &dept.ID
			agentID, err := s.Assign(ctx, t, dept.ID)
			if err != nil {
				return err
			}
			if agentID == nil {
				outcome = outcomeUnassigned
				break
			}
			conv.AgentID = agentID
			entry = model.NewRoundRobinEntry(conv, *agentID)
			outcome = outcomeAssigned
		}

		if err := s.conversationRepo.CreateWithAssignment(ctx, conv, entry); err != nil {
			return err
		}
		created = true
		return nil
	})

	if lockErr != nil {
		if !apperrors.IsDuplicateError(lockErr) {
			return nil, false, handleRepositoryError(ctx, lockErr, "CreateConversation")
		}
		// Another writer inserted the same identity first.
		log.Info("Conversation created concurrently, returning existing row")
		found, err := s.conversationRepo.FindByIdentity(ctx, tenantID, key)
		if err != nil {
			return nil, false, handleRepositoryError(ctx, err, "FindConversationByIdentity")
		}
		s.backfillDisplay(ctx, found, display)
		return found, false, nil
	}

	if !created {
		s.backfillDisplay(ctx, conv, display)
		return conv, false, nil
	}

	observer.IncAssignment(tenant.Label(tenantID), string(key.Channel), outcome)
	log.Info("Conversation created",
		zap.Int64("conversation_id", conv.ID),
		zap.Int64p("agent_id", conv.AgentID),
		zap.String("outcome", outcome))

	s.publish(ctx, model.RealtimeConversationCreated, tenantID, conv.ID, conv)
	if conv.AgentID != nil {
		s.publish(ctx, model.RealtimeConversationAssigned, tenantID, conv.ID, conv)
	}
	return conv, true, nil
}

// backfillDisplay fills display fields the stored conversation is missing.
// Failures are logged; the resolved conversation is still usable.
func (s *EventService) backfillDisplay(ctx context.Context, conv *model.Conversation, display model.DisplayFields) {
	updates := conv.MissingDisplay(display)
	if len(updates) == 0 {
		return
	}
	if err := s.conversationRepo.BackfillDisplay(ctx, conv, updates); err != nil {
		logger.FromContext(ctx).Warn("Failed to backfill conversation display fields",
			zap.Int64("conversation_id", conv.ID),
			zap.Error(err))
		return
	}
	s.publish(ctx, model.RealtimeConversationUpdated, conv.TenantID, conv.ID, conv)
}

// HandleInbound resolves the sender's conversation and records the inbound message.
func (s *EventService) HandleInbound(ctx context.Context, tenantID int64, payload model.InboundMessagePayload) error {
	conv, _, err := s.ResolveOrCreate(ctx, tenantID, payload.Identity, payload.Display)
	if err != nil {
		return err
	}
	if _, _, err := s.RecordInbound(ctx, conv, payload.ProviderMessageID, payload.Content); err != nil {
		return err
	}
	return nil
}

// conversationForIdentity looks up the conversation addressed by a watermark.
// A nil conversation with a nil error means the peer is unknown.
func (s *EventService) conversationForIdentity(ctx context.Context, tenantID int64, key model.IdentityKey) (*model.Conversation, error) {
	if err := key.Validate(); err != nil {
		return nil, apperrors.NewFatal(err, "resolve watermark peer")
	}
	conv, err := s.conversationRepo.FindByIdentity(ctx, tenantID, key)
	if err != nil {
		if apperrors.IsNotFoundError(err) {
			logger.FromContext(ctx).Debug("Watermark for unknown conversation ignored",
				zap.String("identity", key.String()))
			return nil, nil
		}
		return nil, handleRepositoryError(ctx, err, fmt.Sprintf("FindConversationByIdentity(%s)", key.Channel))
	}
	return conv, nil
}
