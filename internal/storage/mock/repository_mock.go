package mock

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"gitlab.com/timkado/api/conversation-router/internal/model"
)

// --- DirectoryRepo Mock ---

// DirectoryRepoMock mocks the DirectoryRepo interface
type DirectoryRepoMock struct {
	mock.Mock
}

// FindTenant mocks the FindTenant method
func (m *DirectoryRepoMock) FindTenant(ctx context.Context, tenantID int64) (*model.Tenant, error) {
	args := m.Called(ctx, tenantID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Tenant), args.Error(1)
}

// DepartmentFor mocks the DepartmentFor method
func (m *DirectoryRepoMock) DepartmentFor(ctx context.Context, tenantID int64) (*model.Department, error) {
	args := m.Called(ctx, tenantID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Department), args.Error(1)
}

// Roster mocks the Roster method
func (m *DirectoryRepoMock) Roster(ctx context.Context, accountID, departmentID int64) ([]model.Agent, error) {
	args := m.Called(ctx, accountID, departmentID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Agent), args.Error(1)
}

// --- ConversationRepo Mock ---

// ConversationRepoMock mocks the ConversationRepo interface
type ConversationRepoMock struct {
	mock.Mock
}

// FindByIdentity mocks the FindByIdentity method
func (m *ConversationRepoMock) FindByIdentity(ctx context.Context, tenantID int64, key model.IdentityKey) (*model.Conversation, error) {
	args := m.Called(ctx, tenantID, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Conversation), args.Error(1)
}

// FindByID mocks the FindByID method
func (m *ConversationRepoMock) FindByID(ctx context.Context, tenantID, id int64) (*model.Conversation, error) {
	args := m.Called(ctx, tenantID, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Conversation), args.Error(1)
}

// CreateWithAssignment mocks the CreateWithAssignment method
func (m *ConversationRepoMock) CreateWithAssignment(ctx context.Context, conv *model.Conversation, entry *model.AssignmentHistory) error {
	args := m.Called(ctx, conv, entry)
	return args.Error(0)
}

// BackfillDisplay mocks the BackfillDisplay method
func (m *ConversationRepoMock) BackfillDisplay(ctx context.Context, conv *model.Conversation, updates map[string]interface{}) error {
	args := m.Called(ctx, conv, updates)
	return args.Error(0)
}

// --- AssignmentRepo Mock ---

// AssignmentRepoMock mocks the AssignmentRepo interface
type AssignmentRepoMock struct {
	mock.Mock
}

// LastRoundRobin mocks the LastRoundRobin method
func (m *AssignmentRepoMock) LastRoundRobin(ctx context.Context, tenantID int64) (*model.AssignmentHistory, error) {
	args := m.Called(ctx, tenantID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.AssignmentHistory), args.Error(1)
}

// History mocks the History method
func (m *AssignmentRepoMock) History(ctx context.Context, tenantID, conversationID int64) ([]model.AssignmentHistory, error) {
	args := m.Called(ctx, tenantID, conversationID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.AssignmentHistory), args.Error(1)
}

// --- MessageRepo Mock ---

// MessageRepoMock mocks the MessageRepo interface
type MessageRepoMock struct {
	mock.Mock
}

// Create mocks the Create method
func (m *MessageRepoMock) Create(ctx context.Context, msg *model.Message) error {
	args := m.Called(ctx, msg)
	return args.Error(0)
}

// FindByProviderID mocks the FindByProviderID method
func (m *MessageRepoMock) FindByProviderID(ctx context.Context, tenantID int64, providerMessageID string) (*model.Message, error) {
	args := m.Called(ctx, tenantID, providerMessageID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Message), args.Error(1)
}

// FindByID mocks the FindByID method
func (m *MessageRepoMock) FindByID(ctx context.Context, tenantID, id int64) (*model.Message, error) {
	args := m.Called(ctx, tenantID, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Message), args.Error(1)
}

// AdvanceStatus mocks the AdvanceStatus method
func (m *MessageRepoMock) AdvanceStatus(ctx context.Context, t model.StatusTransition) (int64, error) {
	args := m.Called(ctx, t)
	return args.Get(0).(int64), args.Error(1)
}

// MarkInboundSeen mocks the MarkInboundSeen method
func (m *MessageRepoMock) MarkInboundSeen(ctx context.Context, tenantID, conversationID int64, watermark time.Time) (int64, error) {
	args := m.Called(ctx, tenantID, conversationID, watermark)
	return args.Get(0).(int64), args.Error(1)
}

// --- Locker Mock ---

// LockerMock mocks the Locker interface. When Acquired is configured through the
// mock expectation, fn is invoked with that value.
type LockerMock struct {
	mock.Mock
}

// WithLock mocks the WithLock method and runs fn with the configured acquired flag
func (m *LockerMock) WithLock(ctx context.Context, key string, timeout time.Duration, fn func(ctx context.Context, acquired bool) error) error {
	args := m.Called(ctx, key, timeout)
	if err := args.Error(1); err != nil {
		return err
	}
	return fn(ctx, args.Bool(0))
}

// --- ExhaustedEventRepo Mock ---

// ExhaustedEventRepoMock mocks the ExhaustedEventRepo interface
type ExhaustedEventRepoMock struct {
	mock.Mock
}

// Save mocks the Save method for ExhaustedEventRepo
func (m *ExhaustedEventRepoMock) Save(ctx context.Context, event model.ExhaustedEvent) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

// --- HealthChecker Mock ---

// HealthCheckerMock mocks the HealthChecker interface
type HealthCheckerMock struct {
	mock.Mock
}

// Ping mocks the Ping method
func (m *HealthCheckerMock) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}
