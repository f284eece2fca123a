package model

import (
	"encoding/json"
	"time"
)

// RealtimeEventType names a dashboard notification.
type RealtimeEventType string

const (
	RealtimeConversationCreated  RealtimeEventType = "conversation.created"
	RealtimeConversationUpdated  RealtimeEventType = "conversation.updated"
	RealtimeConversationAssigned RealtimeEventType = "conversation.assigned"
	RealtimeMessageCreated       RealtimeEventType = "message.created"
	RealtimeMessageStatus        RealtimeEventType = "message.status"
)

// RealtimeEvent is pushed to dashboard subscribers of a tenant or conversation room.
// Origin identifies the instance that produced it so relays can drop their own echoes.
type RealtimeEvent struct {
	ID             string            `json:"id"`
	Type           RealtimeEventType `json:"type"`
	TenantID       int64             `json:"tenant_id"`
	ConversationID int64             `json:"conversation_id,omitempty"`
	Payload        json.RawMessage   `json:"payload,omitempty"`
	At             time.Time         `json:"at"`
	Origin         string            `json:"origin,omitempty"`
}

// StatusChange is the payload of a message.status event.
type StatusChange struct {
	Status             MessageStatus `json:"status"`
	Rows               int64         `json:"rows"`
	MessageID          int64         `json:"message_id,omitempty"`
	ProviderMessageIDs []string      `json:"provider_message_ids,omitempty"`
	Watermark          *time.Time    `json:"watermark,omitempty"`
	ErrorReason        string        `json:"error_reason,omitempty"`
}

// SeenChange is the payload of a conversation.updated event raised by a read watermark.
type SeenChange struct {
	SeenCount int64     `json:"seen_count"`
	Watermark time.Time `json:"watermark"`
}
