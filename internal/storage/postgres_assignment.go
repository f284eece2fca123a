package storage

import (
	"context"
	"time"

	"gitlab.com/timkado/api/conversation-router/internal/model"
	"gitlab.com/timkado/api/conversation-router/internal/observer"
	"gitlab.com/timkado/api/conversation-router/internal/tenant"
	"gitlab.com/timkado/api/conversation-router/pkg/utils"
)

// LastRoundRobin returns the newest rotation entry of the tenant across all channels.
// ErrNotFound means no conversation has been assigned by rotation yet.
func (r *PostgresRepo) LastRoundRobin(ctx context.Context, tenantID int64) (*model.AssignmentHistory, error) {
	var entry model.AssignmentHistory
	operation := func() error {
		result := r.db.WithContext(ctx).
			Where("tenant_id = ? AND reason = ?", tenantID, model.ReasonRoundRobin).
			Order("id DESC").
			First(&entry)
		return checkConstraintViolation(result.Error)
	}

	readPolicy := newRetryPolicy(ctx, readRetryMaxElapsedTime)
	startTime := utils.Now()
	err := retryableOperation(ctx, readPolicy, "LastRoundRobin", operation)
	observer.ObserveDbOperationDuration("find", "assignment_history", tenant.Label(tenantID), time.Since(startTime), err)
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// AssignmentHistory lists the entries of one conversation, oldest first.
func (r *PostgresRepo) AssignmentHistory(ctx context.Context, tenantID, conversationID int64) ([]model.AssignmentHistory, error) {
	label, err := scope(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	var entries []model.AssignmentHistory
	operation := func() error {
		entries = entries[:0]
		result := r.db.WithContext(ctx).
			Where("tenant_id = ? AND conversation_id = ?", tenantID, conversationID).
			Order("id ASC").
			Find(&entries)
		return checkConstraintViolation(result.Error)
	}

	readPolicy := newRetryPolicy(ctx, readRetryMaxElapsedTime)
	startTime := utils.Now()
	err = retryableOperation(ctx, readPolicy, "AssignmentHistory", operation)
	observer.ObserveDbOperationDuration("find", "assignment_history", label, time.Since(startTime), err)
	if err != nil {
		return nil, err
	}
	return entries, nil
}
