package storage

import (
	"context"
	"time"

	"gitlab.com/timkado/api/conversation-router/internal/model"
)

// DirectoryRepo reads the tenant, department and agent directory.
type DirectoryRepo interface {
	FindTenant(ctx context.Context, tenantID int64) (*model.Tenant, error)
	DepartmentFor(ctx context.Context, tenantID int64) (*model.Department, error)
	Roster(ctx context.Context, accountID, departmentID int64) ([]model.Agent, error)
}

// ConversationRepo defines conversation storage operations
type ConversationRepo interface {
	FindByIdentity(ctx context.Context, tenantID int64, key model.IdentityKey) (*model.Conversation, error)
	FindByID(ctx context.Context, tenantID, id int64) (*model.Conversation, error)
	// CreateWithAssignment inserts the conversation and its first history entry atomically.
	CreateWithAssignment(ctx context.Context, conv *model.Conversation, entry *model.AssignmentHistory) error
	BackfillDisplay(ctx context.Context, conv *model.Conversation, updates map[string]interface{}) error
}

// AssignmentRepo reads the assignment history.
type AssignmentRepo interface {
	LastRoundRobin(ctx context.Context, tenantID int64) (*model.AssignmentHistory, error)
	History(ctx context.Context, tenantID, conversationID int64) ([]model.AssignmentHistory, error)
}

// MessageRepo defines message storage operations
type MessageRepo interface {
	Create(ctx context.Context, msg *model.Message) error
	FindByProviderID(ctx context.Context, tenantID int64, providerMessageID string) (*model.Message, error)
	FindByID(ctx context.Context, tenantID, id int64) (*model.Message, error)
	AdvanceStatus(ctx context.Context, t model.StatusTransition) (int64, error)
	MarkInboundSeen(ctx context.Context, tenantID, conversationID int64, watermark time.Time) (int64, error)
}

// Locker serializes critical sections across router instances.
type Locker interface {
	WithLock(ctx context.Context, key string, timeout time.Duration, fn func(ctx context.Context, acquired bool) error) error
}

// ExhaustedEventRepo defines exhausted event storage operations
type ExhaustedEventRepo interface {
	Save(ctx context.Context, event model.ExhaustedEvent) error
}

// HealthChecker reports database reachability.
type HealthChecker interface {
	Ping(ctx context.Context) error
}
