package model

import (
	"encoding/json"
	"time"

	"gitlab.com/timkado/api/conversation-router/pkg/utils"
)

// --- Ingestion NATS Payloads --- //

// InboundMessagePayload is a normalized inbound customer message published by the webhook layer.
type InboundMessagePayload struct {
	Identity          IdentityKey            `json:"identity" validate:"required"`
	Display           DisplayFields          `json:"display,omitempty"`
	ProviderMessageID string                 `json:"provider_message_id,omitempty" validate:"omitempty,max=255"`
	Content           map[string]interface{} `json:"content,omitempty"`
	Timestamp         int64                  `json:"timestamp,omitempty" validate:"omitempty,gte=0"` // unix millis of the provider event
}

// SendMessagePayload asks the router to send an agent message on an existing conversation.
type SendMessagePayload struct {
	ConversationID int64                  `json:"conversation_id" validate:"required,gt=0"`
	Content        map[string]interface{} `json:"content" validate:"required"`
	RequestedBy    int64                  `json:"requested_by,omitempty" validate:"omitempty,gt=0"`
}

// DeliveryWatermarkPayload reports that the provider delivered outbound messages to the peer.
type DeliveryWatermarkPayload struct {
	Identity           IdentityKey `json:"identity" validate:"required"`
	Watermark          int64       `json:"watermark" validate:"required,gt=0"` // unix millis
	ProviderMessageIDs []string    `json:"provider_message_ids,omitempty" validate:"omitempty,dive,required"`
}

// WatermarkTime converts the millisecond watermark to UTC time.
func (p DeliveryWatermarkPayload) WatermarkTime() time.Time {
	return utils.FromUnixMillis(p.Watermark)
}

// ReadWatermarkPayload reports that the peer read everything up to the watermark.
type ReadWatermarkPayload struct {
	Identity  IdentityKey `json:"identity" validate:"required"`
	Watermark int64       `json:"watermark" validate:"required,gt=0"` // unix millis
}

// WatermarkTime converts the millisecond watermark to UTC time.
func (p ReadWatermarkPayload) WatermarkTime() time.Time {
	return utils.FromUnixMillis(p.Watermark)
}

// --- Provider gateway request-reply --- //

// ProviderSendRequest is published to the provider gateway for one outbound message.
type ProviderSendRequest struct {
	TenantID int64                  `json:"tenant_id"`
	Channel  Channel                `json:"channel"`
	Peer     IdentityKey            `json:"peer"`
	Content  map[string]interface{} `json:"content"`
}

// ProviderSendReply is the gateway's answer to a ProviderSendRequest.
type ProviderSendReply struct {
	ProviderMessageID string `json:"provider_message_id,omitempty"`
	Error             string `json:"error,omitempty"`
}

// DLQPayload wraps a failed event on the dead-letter stream. RetryCount is the
// JetStream delivery count when the event was dead-lettered and ErrorType is
// "fatal" or "retryable".
type DLQPayload struct {
	SourceSubject   string          `json:"source_subject"`
	Tenant          string          `json:"tenant"`
	OriginalPayload json.RawMessage `json:"original_payload"`
	Error           string          `json:"error"`
	ErrorType       string          `json:"error_type"`
	RetryCount      uint64          `json:"retry_count"`
	MaxRetry        int             `json:"max_retry"`
	Timestamp       time.Time       `json:"ts"`
}
