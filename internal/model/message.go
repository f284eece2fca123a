package model

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm/schema"
)

// MessageDirection tells inbound customer messages from outbound agent messages.
type MessageDirection string

const (
	DirectionIn  MessageDirection = "in"
	DirectionOut MessageDirection = "out"
)

// Message is one message within a conversation together with its delivery state.
type Message struct {
	ID                 int64            `json:"id" gorm:"column:id;primaryKey;autoIncrement"`
	TenantID           int64            `json:"tenant_id" gorm:"column:tenant_id;not null;uniqueIndex:idx_messages_provider_id,priority:1,where:provider_message_id IS NOT NULL"`
	ConversationID     int64            `json:"conversation_id" gorm:"column:conversation_id;not null;index:idx_messages_conversation_created,priority:1"`
	Direction          MessageDirection `json:"direction" gorm:"column:direction;type:varchar(8);not null"`
	ProviderMessageID  *string          `json:"provider_message_id,omitempty" gorm:"column:provider_message_id;uniqueIndex:idx_messages_provider_id,priority:2,where:provider_message_id IS NOT NULL"`
	Status             MessageStatus    `json:"status" gorm:"column:status;type:varchar(16);not null"`
	Content            datatypes.JSON   `json:"content,omitempty" gorm:"type:jsonb;column:content"`
	ErrorReason        string           `json:"error_reason,omitempty" gorm:"column:error_reason"`
	Seen               bool             `json:"seen" gorm:"column:seen;not null;default:false"`
	SeenAt             *time.Time       `json:"seen_at,omitempty" gorm:"column:seen_at"`
	DeliveredWatermark *time.Time       `json:"delivered_watermark,omitempty" gorm:"column:delivered_watermark"`
	ReadWatermark      *time.Time       `json:"read_watermark,omitempty" gorm:"column:read_watermark"`
	CreatedAt          time.Time        `json:"created_at" gorm:"column:created_at;autoCreateTime;index:idx_messages_conversation_created,priority:2"`
	UpdatedAt          time.Time        `json:"updated_at" gorm:"column:updated_at;autoUpdateTime"`
}

// TableName specifies the base table name for GORM, respecting the Namer.
func (Message) TableName(namer schema.Namer) string {
	return namer.TableName("messages")
}

// ProviderID returns the provider message id or an empty string.
func (m Message) ProviderID() string {
	if m.ProviderMessageID == nil {
		return ""
	}
	return *m.ProviderMessageID
}

// NewMessage builds an unsaved message for conv. An empty providerMessageID is stored as NULL.
func NewMessage(conv *Conversation, dir MessageDirection, status MessageStatus, providerMessageID string, content datatypes.JSON) *Message {
	msg := &Message{
		TenantID:       conv.TenantID,
		ConversationID: conv.ID,
		Direction:      dir,
		Status:         status,
		Content:        content,
	}
	if providerMessageID != "" {
		pid := providerMessageID
		msg.ProviderMessageID = &pid
	}
	return msg
}
