package handler

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"gitlab.com/timkado/api/conversation-router/internal/apperrors"
	"gitlab.com/timkado/api/conversation-router/internal/model"
	"gitlab.com/timkado/api/conversation-router/internal/tenant"
	"gitlab.com/timkado/api/conversation-router/internal/validator"
	"gitlab.com/timkado/api/conversation-router/pkg/logger"
)

// RouterHandler decodes router events and dispatches them to the service
type RouterHandler struct {
	service RouterService
}

// NewRouterHandler creates a new router event handler
func NewRouterHandler(service RouterService) *RouterHandler {
	return &RouterHandler{
		service: service,
	}
}

// HandleEvent processes one router event. The tenant always comes from the
// subject, never from the payload.
func (h *RouterHandler) HandleEvent(ctx context.Context, eventType model.EventType, metadata *model.MessageMetadata, rawEvent []byte) error {
	ctx = tenant.WithRequestID(ctx, uuid.NewString())

	log := logger.FromContext(ctx)
	log.Info("Processing router event", zap.String("type", string(eventType)))

	if metadata == nil || metadata.TenantID <= 0 {
		return apperrors.NewFatal(tenant.ErrTenantIDNotFound, "router event without tenant")
	}

	switch eventType {
	case model.V1RouterInbound:
		return h.handleInbound(ctx, metadata.TenantID, rawEvent)
	case model.V1RouterSend:
		return h.handleSend(ctx, metadata.TenantID, rawEvent)
	case model.V1RouterDelivery:
		return h.handleDelivery(ctx, metadata.TenantID, rawEvent)
	case model.V1RouterRead:
		return h.handleRead(ctx, metadata.TenantID, rawEvent)
	default:
		log.Error("Unsupported router event type", zap.String("eventType", string(eventType)))
		return apperrors.NewFatal(fmt.Errorf("unsupported router event type: %s", eventType), "unsupported router event type")
	}
}

// decode unmarshals and validates a payload. Both failures are fatal since
// redelivery cannot fix them.
func decode(ctx context.Context, rawEvent []byte, out interface{}, kind string) error {
	log := logger.FromContext(ctx)
	if err := json.Unmarshal(rawEvent, out); err != nil {
		log.Error("Failed to unmarshal payload", zap.String("kind", kind), zap.Error(err))
		return apperrors.NewFatal(err, "failed to unmarshal %s payload", kind)
	}
	if err := validator.Validate(out); err != nil {
		log.Error("Payload validation failed", zap.String("kind", kind), zap.Error(err))
		return apperrors.NewFatal(fmt.Errorf("%w: %v", apperrors.ErrValidation, err), "invalid %s payload", kind)
	}
	return nil
}

func (h *RouterHandler) handleInbound(ctx context.Context, tenantID int64, rawEvent []byte) error {
	var payload model.InboundMessagePayload
	if err := decode(ctx, rawEvent, &payload, "inbound"); err != nil {
		return err
	}
	logger.FromContext(ctx).Info("Processing inbound message",
		zap.String("channel", string(payload.Identity.Channel)),
		zap.String("provider_message_id", payload.ProviderMessageID),
	)
	return h.service.HandleInbound(ctx, tenantID, payload)
}

func (h *RouterHandler) handleSend(ctx context.Context, tenantID int64, rawEvent []byte) error {
	var payload model.SendMessagePayload
	if err := decode(ctx, rawEvent, &payload, "send"); err != nil {
		return err
	}
	_, err := h.service.SendMessage(ctx, tenantID, payload)
	return err
}

func (h *RouterHandler) handleDelivery(ctx context.Context, tenantID int64, rawEvent []byte) error {
	var payload model.DeliveryWatermarkPayload
	if err := decode(ctx, rawEvent, &payload, "delivery"); err != nil {
		return err
	}
	_, err := h.service.ApplyDeliveryWatermark(ctx, tenantID, payload.Identity, payload.WatermarkTime(), payload.ProviderMessageIDs)
	return err
}

func (h *RouterHandler) handleRead(ctx context.Context, tenantID int64, rawEvent []byte) error {
	var payload model.ReadWatermarkPayload
	if err := decode(ctx, rawEvent, &payload, "read"); err != nil {
		return err
	}
	_, _, err := h.service.ApplyReadWatermark(ctx, tenantID, payload.Identity, payload.WatermarkTime())
	return err
}
