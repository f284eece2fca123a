package model

import (
	"time"

	"gorm.io/gorm/schema"
)

// AssignmentReason is the closed set of causes for an assignment history entry.
type AssignmentReason string

const (
	// ReasonRoundRobin marks entries written by the rotation engine. The rotation
	// reads back only this reason, across every channel of the tenant.
	ReasonRoundRobin AssignmentReason = "round_robin"
	ReasonManual     AssignmentReason = "manual"
)

// AssignmentHistory is an append-only record of who a conversation was given to.
type AssignmentHistory struct {
	ID              int64            `json:"id" gorm:"primaryKey;autoIncrement"`
	TenantID        int64            `json:"tenant_id" gorm:"column:tenant_id;not null;index:idx_assignment_history_rotation,priority:1"`
	ConversationID  int64            `json:"conversation_id" gorm:"column:conversation_id;not null;index"`
	DepartmentID    *int64           `json:"department_id,omitempty" gorm:"column:department_id"`
	PreviousAgentID *int64           `json:"previous_agent_id,omitempty" gorm:"column:previous_agent_id"`
	NewAgentID      int64            `json:"new_agent_id" gorm:"column:new_agent_id;not null"`
	Reason          AssignmentReason `json:"reason" gorm:"column:reason;type:varchar(32);not null;index:idx_assignment_history_rotation,priority:2"`
	Channel         Channel          `json:"channel" gorm:"column:channel;type:varchar(32);not null"`
	CreatedAt       time.Time        `json:"created_at" gorm:"column:created_at;autoCreateTime"`
}

// TableName specifies the table name for GORM.
func (AssignmentHistory) TableName(namer schema.Namer) string {
	return namer.TableName("assignment_history")
}

// NewRoundRobinEntry builds the history row for a conversation assigned at creation.
// ConversationID is filled in once the conversation row exists.
func NewRoundRobinEntry(conv *Conversation, agentID int64) *AssignmentHistory {
	return &AssignmentHistory{
		TenantID:     conv.TenantID,
		DepartmentID: conv.DepartmentID,
		NewAgentID:   agentID,
		Reason:       ReasonRoundRobin,
		Channel:      conv.Channel,
	}
}
