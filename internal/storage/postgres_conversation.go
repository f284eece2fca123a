package storage

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"gitlab.com/timkado/api/conversation-router/internal/apperrors"
	"gitlab.com/timkado/api/conversation-router/internal/model"
	"gitlab.com/timkado/api/conversation-router/internal/observer"
	"gitlab.com/timkado/api/conversation-router/pkg/logger"
	"gitlab.com/timkado/api/conversation-router/pkg/utils"
)

// FindConversationByIdentity looks a conversation up by its dedup key.
// Soft-deleted conversations still match so a returning customer reuses the same row.
func (r *PostgresRepo) FindConversationByIdentity(ctx context.Context, tenantID int64, key model.IdentityKey) (*model.Conversation, error) {
	label, err := scope(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	var conv model.Conversation
	operation := func() error {
		result := r.db.WithContext(ctx).
			Where("tenant_id = ? AND channel = ? AND dedup_key = ?", tenantID, key.Channel, key.DedupKey()).
			First(&conv)
		return checkConstraintViolation(result.Error)
	}

	readPolicy := newRetryPolicy(ctx, readRetryMaxElapsedTime)
	startTime := utils.Now()
	err = retryableOperation(ctx, readPolicy, "FindConversationByIdentity", operation)
	observer.ObserveDbOperationDuration("find", "conversation", label, time.Since(startTime), err)
	if err != nil {
		return nil, err
	}
	return &conv, nil
}

// FindConversationByID loads a conversation of the tenant by primary key.
func (r *PostgresRepo) FindConversationByID(ctx context.Context, tenantID, id int64) (*model.Conversation, error) {
	label, err := scope(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	var conv model.Conversation
	operation := func() error {
		result := r.db.WithContext(ctx).Where("tenant_id = ? AND id = ?", tenantID, id).First(&conv)
		return checkConstraintViolation(result.Error)
	}

	readPolicy := newRetryPolicy(ctx, readRetryMaxElapsedTime)
	startTime := utils.Now()
	err = retryableOperation(ctx, readPolicy, "FindConversationByID", operation)
	observer.ObserveDbOperationDuration("find", "conversation", label, time.Since(startTime), err)
	if err != nil {
		return nil, err
	}
	return &conv, nil
}

// CreateConversation inserts conv and, when entry is non-nil, its first assignment history
// row in one transaction. A concurrent insert of the same dedup key returns ErrDuplicate.
func (r *PostgresRepo) CreateConversation(ctx context.Context, conv *model.Conversation, entry *model.AssignmentHistory) error {
	label, err := scope(ctx, conv.TenantID)
	if err != nil {
		return err
	}

	operation := func() error {
		conv.ID = 0
		tx := r.db.WithContext(ctx).Begin()
		if tx.Error != nil {
			return fmt.Errorf("%w: failed to begin transaction: %w", apperrors.ErrDatabase, tx.Error)
		}
		var txErr error
		defer func() {
			if p := recover(); p != nil {
				tx.Rollback()
				panic(p)
			} else if txErr != nil {
				if rbErr := tx.Rollback().Error; rbErr != nil {
					logger.FromContext(ctx).Error("Failed to rollback transaction after error", zap.Error(rbErr), zap.NamedError("originalTxError", txErr))
				}
			}
		}()

		if err := tx.Create(conv).Error; err != nil {
			txErr = checkConstraintViolation(err)
			return txErr
		}

		if entry != nil {
			entry.ID = 0
			entry.ConversationID = conv.ID
			if err := tx.Create(entry).Error; err != nil {
				txErr = checkConstraintViolation(err)
				return txErr
			}
		}

		if err := tx.Commit().Error; err != nil {
			txErr = checkConstraintViolation(err)
			return txErr
		}
		return nil
	}

	commitPolicy := newRetryPolicy(ctx, commitRetryMaxElapsedTime)
	startTime := utils.Now()
	commitErr := retryableOperation(ctx, commitPolicy, "CreateConversation Commit", operation)
	observer.ObserveDbOperationDuration("create", "conversation", label, time.Since(startTime), commitErr)

	if commitErr != nil {
		if apperrors.IsDuplicateError(commitErr) {
			logger.FromContext(ctx).Debug("Conversation already created concurrently", zap.String("dedup_key", conv.DedupKey))
			return commitErr
		}
		logger.FromContext(ctx).Error("Failed to create conversation after retries", zap.String("dedup_key", conv.DedupKey), zap.Error(commitErr))
		return commitErr
	}
	return nil
}

// BackfillConversationDisplay fills display columns that are still empty. Columns a
// concurrent writer already set are left alone.
func (r *PostgresRepo) BackfillConversationDisplay(ctx context.Context, conv *model.Conversation, updates map[string]interface{}) error {
	if len(updates) == 0 {
		return nil
	}
	label, err := scope(ctx, conv.TenantID)
	if err != nil {
		return err
	}

	guarded := make(map[string]interface{}, len(updates)+1)
	for column, value := range updates {
		guarded[column] = gorm.Expr(fmt.Sprintf("COALESCE(NULLIF(%s, ''), ?)", column), value)
	}
	guarded["updated_at"] = utils.Now()

	operation := func() error {
		result := r.db.WithContext(ctx).
			Model(&model.Conversation{}).
			Where("tenant_id = ? AND id = ?", conv.TenantID, conv.ID).
			Updates(guarded)
		return checkConstraintViolation(result.Error)
	}

	commitPolicy := newRetryPolicy(ctx, commitRetryMaxElapsedTime)
	startTime := utils.Now()
	commitErr := retryableOperation(ctx, commitPolicy, "BackfillConversationDisplay", operation)
	observer.ObserveDbOperationDuration("update", "conversation", label, time.Since(startTime), commitErr)
	if commitErr != nil {
		return commitErr
	}
	conv.ApplyDisplay(updates)
	return nil
}
