package handler

import (
	"context"
	"time"

	"gitlab.com/timkado/api/conversation-router/internal/model"
)

// EventHandlerInterface defines the common interface for event handlers
type EventHandlerInterface interface {
	// HandleEvent processes an event
	HandleEvent(ctx context.Context, eventType model.EventType, metadata *model.MessageMetadata, rawEvent []byte) error
}

// RouterService is the domain surface the router events drive.
type RouterService interface {
	HandleInbound(ctx context.Context, tenantID int64, payload model.InboundMessagePayload) error
	SendMessage(ctx context.Context, tenantID int64, payload model.SendMessagePayload) (*model.Message, error)
	ApplyDeliveryWatermark(ctx context.Context, tenantID int64, peer model.IdentityKey, watermark time.Time, providerMessageIDs []string) (int64, error)
	ApplyReadWatermark(ctx context.Context, tenantID int64, peer model.IdentityKey, watermark time.Time) (int64, int64, error)
}

// Ensure the handler implements the interface
var _ EventHandlerInterface = (*RouterHandler)(nil)
