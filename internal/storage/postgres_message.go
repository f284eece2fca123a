package storage

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"gitlab.com/timkado/api/conversation-router/internal/apperrors"
	"gitlab.com/timkado/api/conversation-router/internal/model"
	"gitlab.com/timkado/api/conversation-router/internal/observer"
	"gitlab.com/timkado/api/conversation-router/pkg/logger"
	"gitlab.com/timkado/api/conversation-router/pkg/utils"
)

// CreateMessage inserts a message. A repeated provider message id returns ErrDuplicate.
func (r *PostgresRepo) CreateMessage(ctx context.Context, msg *model.Message) error {
	label, err := scope(ctx, msg.TenantID)
	if err != nil {
		return err
	}

	operation := func() error {
		msg.ID = 0
		result := r.db.WithContext(ctx).Create(msg)
		return checkConstraintViolation(result.Error)
	}

	commitPolicy := newRetryPolicy(ctx, commitRetryMaxElapsedTime)
	startTime := utils.Now()
	commitErr := retryableOperation(ctx, commitPolicy, "CreateMessage Commit", operation)
	observer.ObserveDbOperationDuration("create", "message", label, time.Since(startTime), commitErr)

	if commitErr != nil && !apperrors.IsDuplicateError(commitErr) {
		logger.FromContext(ctx).Error("Failed to create message after retries",
			zap.Int64("conversation_id", msg.ConversationID),
			zap.String("provider_message_id", msg.ProviderID()),
			zap.Error(commitErr))
	}
	return commitErr
}

// FindMessageByProviderID loads a message by the provider-assigned id.
func (r *PostgresRepo) FindMessageByProviderID(ctx context.Context, tenantID int64, providerMessageID string) (*model.Message, error) {
	label, err := scope(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	var msg model.Message
	operation := func() error {
		result := r.db.WithContext(ctx).
			Where("tenant_id = ? AND provider_message_id = ?", tenantID, providerMessageID).
			First(&msg)
		return checkConstraintViolation(result.Error)
	}

	readPolicy := newRetryPolicy(ctx, readRetryMaxElapsedTime)
	startTime := utils.Now()
	err = retryableOperation(ctx, readPolicy, "FindMessageByProviderID", operation)
	observer.ObserveDbOperationDuration("find", "message", label, time.Since(startTime), err)
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

// AdvanceMessageStatus applies one guarded status write and returns the number of rows moved.
// The WHERE clause only admits statuses that may legally move to the target, so replayed or
// out-of-order callbacks update nothing.
func (r *PostgresRepo) AdvanceMessageStatus(ctx context.Context, t model.StatusTransition) (int64, error) {
	label, err := scope(ctx, t.TenantID)
	if err != nil {
		return 0, err
	}
	from := t.AllowedFrom()
	if len(from) == 0 {
		return 0, nil
	}

	now := utils.Now()
	updates := map[string]interface{}{
		"status":     t.Target,
		"updated_at": now,
	}
	if t.Target == model.StatusFailed && t.ErrorReason != "" {
		updates["error_reason"] = t.ErrorReason
	}
	if t.Watermark != nil {
		switch t.Target {
		case model.StatusDelivered:
			updates["delivered_watermark"] = *t.Watermark
		case model.StatusRead:
			updates["read_watermark"] = *t.Watermark
		}
	}

	var rows int64
	operation := func() error {
		q := r.db.WithContext(ctx).
			Model(&model.Message{}).
			Where("tenant_id = ?", t.TenantID).
			Where("status IN ?", from)
		if t.Direction != "" {
			q = q.Where("direction = ?", t.Direction)
		}

		switch {
		case t.MessageID != 0:
			q = q.Where("id = ?", t.MessageID)
		case len(t.ProviderMessageIDs) > 0:
			q = q.Where("provider_message_id IN ?", t.ProviderMessageIDs)
			if t.ConversationID != 0 {
				q = q.Where("conversation_id = ?", t.ConversationID)
			}
		case t.ConversationID != 0 && t.Watermark != nil:
			q = q.Where("conversation_id = ? AND created_at <= ?", t.ConversationID, *t.Watermark)
			switch t.Target {
			case model.StatusDelivered:
				q = q.Where("(delivered_watermark IS NULL OR delivered_watermark < ?)", *t.Watermark)
			case model.StatusRead:
				q = q.Where("(read_watermark IS NULL OR read_watermark < ?)", *t.Watermark)
			}
		default:
			return fmt.Errorf("%w: status transition without a message selector", apperrors.ErrBadRequest)
		}

		result := q.Updates(updates)
		if result.Error != nil {
			return checkConstraintViolation(result.Error)
		}
		rows = result.RowsAffected
		return nil
	}

	commitPolicy := newRetryPolicy(ctx, commitRetryMaxElapsedTime)
	startTime := utils.Now()
	commitErr := retryableOperation(ctx, commitPolicy, "AdvanceMessageStatus", operation)
	observer.ObserveDbOperationDuration("update", "message_status", label, time.Since(startTime), commitErr)
	if commitErr != nil {
		logger.FromContext(ctx).Error("Failed to advance message status",
			zap.String("target", string(t.Target)),
			zap.Error(commitErr))
		return 0, commitErr
	}
	return rows, nil
}

// MarkInboundSeen flags unseen inbound messages of a conversation created at or before watermark.
func (r *PostgresRepo) MarkInboundSeen(ctx context.Context, tenantID, conversationID int64, watermark time.Time) (int64, error) {
	label, err := scope(ctx, tenantID)
	if err != nil {
		return 0, err
	}

	var rows int64
	operation := func() error {
		result := r.db.WithContext(ctx).
			Model(&model.Message{}).
			Where("tenant_id = ? AND conversation_id = ? AND direction = ? AND seen = ? AND created_at <= ?",
				tenantID, conversationID, model.DirectionIn, false, watermark).
			Updates(map[string]interface{}{
				"seen":       true,
				"seen_at":    watermark,
				"updated_at": utils.Now(),
			})
		if result.Error != nil {
			return checkConstraintViolation(result.Error)
		}
		rows = result.RowsAffected
		return nil
	}

	commitPolicy := newRetryPolicy(ctx, commitRetryMaxElapsedTime)
	startTime := utils.Now()
	commitErr := retryableOperation(ctx, commitPolicy, "MarkInboundSeen", operation)
	observer.ObserveDbOperationDuration("update", "message_seen", label, time.Since(startTime), commitErr)
	if commitErr != nil {
		return 0, commitErr
	}
	return rows, nil
}

// FindMessageByID loads a message of the tenant by primary key.
func (r *PostgresRepo) FindMessageByID(ctx context.Context, tenantID, id int64) (*model.Message, error) {
	label, err := scope(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	var msg model.Message
	operation := func() error {
		result := r.db.WithContext(ctx).Where("tenant_id = ? AND id = ?", tenantID, id).First(&msg)
		return checkConstraintViolation(result.Error)
	}

	readPolicy := newRetryPolicy(ctx, readRetryMaxElapsedTime)
	startTime := utils.Now()
	err = retryableOperation(ctx, readPolicy, "FindMessageByID", operation)
	observer.ObserveDbOperationDuration("find", "message", label, time.Since(startTime), err)
	if err != nil {
		return nil, err
	}
	return &msg, nil
}
