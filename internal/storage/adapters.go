package storage

import (
	"context"
	"time"

	"gitlab.com/timkado/api/conversation-router/internal/model"
)

// ConversationRepoAdapter adapts the PostgresRepo to the ConversationRepo interface
type ConversationRepoAdapter struct {
	postgres *PostgresRepo
}

// NewConversationRepoAdapter creates a new conversation repository adapter
func NewConversationRepoAdapter(postgres *PostgresRepo) ConversationRepo {
	return &ConversationRepoAdapter{postgres: postgres}
}

func (a *ConversationRepoAdapter) FindByIdentity(ctx context.Context, tenantID int64, key model.IdentityKey) (*model.Conversation, error) {
	return a.postgres.FindConversationByIdentity(ctx, tenantID, key)
}

func (a *ConversationRepoAdapter) FindByID(ctx context.Context, tenantID, id int64) (*model.Conversation, error) {
	return a.postgres.FindConversationByID(ctx, tenantID, id)
}

// CreateWithAssignment creates a conversation with its first history entry
func (a *ConversationRepoAdapter) CreateWithAssignment(ctx context.Context, conv *model.Conversation, entry *model.AssignmentHistory) error {
	return a.postgres.CreateConversation(ctx, conv, entry)
}

// BackfillDisplay fills empty display columns
func (a *ConversationRepoAdapter) BackfillDisplay(ctx context.Context, conv *model.Conversation, updates map[string]interface{}) error {
	return a.postgres.BackfillConversationDisplay(ctx, conv, updates)
}

// AssignmentRepoAdapter adapts the PostgresRepo to the AssignmentRepo interface
type AssignmentRepoAdapter struct {
	postgres *PostgresRepo
}

// NewAssignmentRepoAdapter creates a new assignment repository adapter
func NewAssignmentRepoAdapter(postgres *PostgresRepo) AssignmentRepo {
	return &AssignmentRepoAdapter{postgres: postgres}
}

func (a *AssignmentRepoAdapter) LastRoundRobin(ctx context.Context, tenantID int64) (*model.AssignmentHistory, error) {
	return a.postgres.LastRoundRobin(ctx, tenantID)
}

func (a *AssignmentRepoAdapter) History(ctx context.Context, tenantID, conversationID int64) ([]model.AssignmentHistory, error) {
	return a.postgres.AssignmentHistory(ctx, tenantID, conversationID)
}

// MessageRepoAdapter adapts the PostgresRepo to the MessageRepo interface
type MessageRepoAdapter struct {
	postgres *PostgresRepo
}

// NewMessageRepoAdapter creates a new message repository adapter
func NewMessageRepoAdapter(postgres *PostgresRepo) MessageRepo {
	return &MessageRepoAdapter{postgres: postgres}
}

// Create saves a message
func (a *MessageRepoAdapter) Create(ctx context.Context, msg *model.Message) error {
	return a.postgres.CreateMessage(ctx, msg)
}

func (a *MessageRepoAdapter) FindByProviderID(ctx context.Context, tenantID int64, providerMessageID string) (*model.Message, error) {
	return a.postgres.FindMessageByProviderID(ctx, tenantID, providerMessageID)
}

func (a *MessageRepoAdapter) FindByID(ctx context.Context, tenantID, id int64) (*model.Message, error) {
	return a.postgres.FindMessageByID(ctx, tenantID, id)
}

// AdvanceStatus applies a guarded status transition
func (a *MessageRepoAdapter) AdvanceStatus(ctx context.Context, t model.StatusTransition) (int64, error) {
	return a.postgres.AdvanceMessageStatus(ctx, t)
}

func (a *MessageRepoAdapter) MarkInboundSeen(ctx context.Context, tenantID, conversationID int64, watermark time.Time) (int64, error) {
	return a.postgres.MarkInboundSeen(ctx, tenantID, conversationID, watermark)
}

// --- ExhaustedEventRepo Adapter ---

// ExhaustedEventRepoAdapter adapts the PostgresRepo to the ExhaustedEventRepo interface
type ExhaustedEventRepoAdapter struct {
	postgres *PostgresRepo
}

// NewExhaustedEventRepoAdapter creates a new exhausted event repository adapter
func NewExhaustedEventRepoAdapter(postgres *PostgresRepo) ExhaustedEventRepo {
	return &ExhaustedEventRepoAdapter{postgres: postgres}
}

// Save saves an exhausted event
func (a *ExhaustedEventRepoAdapter) Save(ctx context.Context, event model.ExhaustedEvent) error {
	return a.postgres.SaveExhaustedEvent(ctx, event)
}

// Ensure adapters implement the interfaces
var _ DirectoryRepo = (*PostgresRepo)(nil)
var _ Locker = (*PostgresRepo)(nil)
var _ HealthChecker = (*PostgresRepo)(nil)
var _ ConversationRepo = (*ConversationRepoAdapter)(nil)
var _ AssignmentRepo = (*AssignmentRepoAdapter)(nil)
var _ MessageRepo = (*MessageRepoAdapter)(nil)
var _ ExhaustedEventRepo = (*ExhaustedEventRepoAdapter)(nil)
