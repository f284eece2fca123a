package storage

import (
	"context"
	"time"

	"go.uber.org/zap"

	"gitlab.com/timkado/api/conversation-router/internal/model"
	"gitlab.com/timkado/api/conversation-router/internal/observer"
	"gitlab.com/timkado/api/conversation-router/internal/tenant"
	"gitlab.com/timkado/api/conversation-router/pkg/logger"
	"gitlab.com/timkado/api/conversation-router/pkg/utils"
)

// FindTenant loads a tenant by id.
func (r *PostgresRepo) FindTenant(ctx context.Context, tenantID int64) (*model.Tenant, error) {
	var t model.Tenant
	operation := func() error {
		result := r.db.WithContext(ctx).Where("id = ?", tenantID).First(&t)
		return checkConstraintViolation(result.Error)
	}

	readPolicy := newRetryPolicy(ctx, readRetryMaxElapsedTime)
	startTime := utils.Now()
	err := retryableOperation(ctx, readPolicy, "FindTenant", operation)
	observer.ObserveDbOperationDuration("find", "tenant", tenant.Label(tenantID), time.Since(startTime), err)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// DepartmentFor returns the department new conversations of the tenant are routed to:
// the active department with the lowest id. ErrNotFound means the tenant has none.
func (r *PostgresRepo) DepartmentFor(ctx context.Context, tenantID int64) (*model.Department, error) {
	var dept model.Department
	operation := func() error {
		result := r.db.WithContext(ctx).
			Where("tenant_id = ? AND active = ?", tenantID, true).
			Order("id ASC").
			First(&dept)
		return checkConstraintViolation(result.Error)
	}

	readPolicy := newRetryPolicy(ctx, readRetryMaxElapsedTime)
	startTime := utils.Now()
	err := retryableOperation(ctx, readPolicy, "DepartmentFor", operation)
	observer.ObserveDbOperationDuration("find", "department", tenant.Label(tenantID), time.Since(startTime), err)
	if err != nil {
		return nil, err
	}
	return &dept, nil
}

// Roster returns the routable agents of accountID linked to departmentID, ordered by id.
// Admins are excluded.
func (r *PostgresRepo) Roster(ctx context.Context, accountID, departmentID int64) ([]model.Agent, error) {
	var agents []model.Agent
	operation := func() error {
		agents = agents[:0]
		result := r.db.WithContext(ctx).
			Table(r.table("agents")+" AS a").
			Select("a.*").
			Joins("JOIN "+r.table("department_agents")+" AS da ON da.agent_id = a.id").
			Where("da.department_id = ? AND a.account_id = ? AND a.role <> ?", departmentID, accountID, model.RoleAdmin).
			Order("a.id ASC").
			Find(&agents)
		return checkConstraintViolation(result.Error)
	}

	readPolicy := newRetryPolicy(ctx, readRetryMaxElapsedTime)
	startTime := utils.Now()
	err := retryableOperation(ctx, readPolicy, "Roster", operation)
	observer.ObserveDbOperationDuration("find", "roster", "", time.Since(startTime), err)
	if err != nil {
		logger.FromContext(ctx).Error("Failed to load roster",
			zap.Int64("account_id", accountID),
			zap.Int64("department_id", departmentID),
			zap.Error(err))
		return nil, err
	}
	return agents, nil
}
