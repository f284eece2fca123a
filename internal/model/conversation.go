package model

import (
	"time"

	"gorm.io/gorm/schema"
)

// Conversation is the canonical thread between a tenant and one customer identity.
// DedupKey is derived from the identity at creation and never changes.
type Conversation struct {
	ID           int64     `json:"id" gorm:"primaryKey;autoIncrement"`
	TenantID     int64     `json:"tenant_id" gorm:"column:tenant_id;not null;uniqueIndex:idx_conversations_identity,priority:1"`
	Channel      Channel   `json:"channel" gorm:"column:channel;type:varchar(32);not null;uniqueIndex:idx_conversations_identity,priority:2"`
	DedupKey     string    `json:"dedup_key" gorm:"column:dedup_key;not null;uniqueIndex:idx_conversations_identity,priority:3"`
	Phone        string    `json:"phone,omitempty" gorm:"column:phone"`
	PageID       string    `json:"page_id,omitempty" gorm:"column:page_id"`
	ExternalID   string    `json:"external_id,omitempty" gorm:"column:external_id"`
	DepartmentID *int64    `json:"department_id,omitempty" gorm:"column:department_id;index"`
	AgentID      *int64    `json:"agent_id,omitempty" gorm:"column:agent_id;index"`
	DisplayName  string    `json:"display_name,omitempty" gorm:"column:display_name"`
	FirstName    string    `json:"first_name,omitempty" gorm:"column:first_name"`
	LastName     string    `json:"last_name,omitempty" gorm:"column:last_name"`
	IsDeleted    bool      `json:"is_deleted,omitempty" gorm:"column:is_deleted;not null;default:false"`
	CreatedAt    time.Time `json:"created_at" gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time `json:"updated_at" gorm:"column:updated_at;autoUpdateTime"`
}

// TableName specifies the table name for GORM.
func (Conversation) TableName(namer schema.Namer) string {
	return namer.TableName("conversations")
}

// NewConversation builds an unsaved conversation for a validated identity.
func NewConversation(tenantID int64, key IdentityKey, display DisplayFields) *Conversation {
	return &Conversation{
		TenantID:    tenantID,
		Channel:     key.Channel,
		DedupKey:    key.DedupKey(),
		Phone:       key.Phone,
		PageID:      key.PageID,
		ExternalID:  key.ExternalID,
		DisplayName: display.DisplayName,
		FirstName:   display.FirstName,
		LastName:    display.LastName,
	}
}

// Identity rebuilds the identity key the conversation was created from.
func (c Conversation) Identity() IdentityKey {
	return IdentityKey{Channel: c.Channel, Phone: c.Phone, PageID: c.PageID, ExternalID: c.ExternalID}
}

// MissingDisplay returns the subset of d that would fill empty display fields on c.
// Fields already set on c are never overwritten.
func (c Conversation) MissingDisplay(d DisplayFields) map[string]interface{} {
	updates := make(map[string]interface{})
	if c.DisplayName == "" && d.DisplayName != "" {
		updates["display_name"] = d.DisplayName
	}
	if c.FirstName == "" && d.FirstName != "" {
		updates["first_name"] = d.FirstName
	}
	if c.LastName == "" && d.LastName != "" {
		updates["last_name"] = d.LastName
	}
	return updates
}

// ApplyDisplay copies the columns in updates onto c.
func (c *Conversation) ApplyDisplay(updates map[string]interface{}) {
	if v, ok := updates["display_name"].(string); ok {
		c.DisplayName = v
	}
	if v, ok := updates["first_name"].(string); ok {
		c.FirstName = v
	}
	if v, ok := updates["last_name"].(string); ok {
		c.LastName = v
	}
}
