package usecase

import (
	"context"
	"time"

	"go.uber.org/zap"

	"gitlab.com/timkado/api/conversation-router/internal/apperrors"
	"gitlab.com/timkado/api/conversation-router/internal/model"
	"gitlab.com/timkado/api/conversation-router/internal/observer"
	"gitlab.com/timkado/api/conversation-router/pkg/logger"
)

// Status update triggers reported to metrics.
const (
	triggerDeliveryWatermark = "delivery_watermark"
	triggerReadWatermark     = "read_watermark"
	triggerSendFailure       = "send_failure"
)

// ApplyDeliveryWatermark moves outbound messages to delivered. With provider
// message ids only those messages are considered, limited to the peer's
// conversation when it is known; otherwise every outbound message of the
// peer's conversation created at or before the watermark.
// Messages already delivered, read or failed are left untouched.
func (s *EventService) ApplyDeliveryWatermark(ctx context.Context, tenantID int64, peer model.IdentityKey, watermark time.Time, providerMessageIDs []string) (int64, error) {
	transition := model.StatusTransition{
		TenantID:  tenantID,
		Target:    model.StatusDelivered,
		Direction: model.DirectionOut,
		Watermark: &watermark,
	}

	conv, err := s.conversationForIdentity(ctx, tenantID, peer)
	if err != nil {
		return 0, err
	}
	switch {
	case len(providerMessageIDs) > 0:
		// An unknown peer still lets the ids through; a known one scopes them.
		transition.ProviderMessageIDs = providerMessageIDs
		if conv != nil {
			transition.ConversationID = conv.ID
		}
	case conv == nil:
		return 0, nil
	default:
		transition.ConversationID = conv.ID
	}

	rows, err := s.advance(ctx, transition, triggerDeliveryWatermark)
	if err != nil {
		return 0, err
	}
	if rows > 0 {
		s.publish(ctx, model.RealtimeMessageStatus, tenantID, transition.ConversationID, model.StatusChange{
			Status:             model.StatusDelivered,
			Rows:               rows,
			ProviderMessageIDs: providerMessageIDs,
			Watermark:          &watermark,
		})
	}
	return rows, nil
}

// ApplyReadWatermark moves sent and delivered outbound messages of the peer's
// conversation to read and marks inbound messages up to the watermark as seen.
// It returns the number of messages read and the number newly seen.
func (s *EventService) ApplyReadWatermark(ctx context.Context, tenantID int64, peer model.IdentityKey, watermark time.Time) (int64, int64, error) {
	conv, err := s.conversationForIdentity(ctx, tenantID, peer)
	if err != nil || conv == nil {
		return 0, 0, err
	}

	read, err := s.advance(ctx, model.StatusTransition{
		TenantID:       tenantID,
		Target:         model.StatusRead,
		Direction:      model.DirectionOut,
		ConversationID: conv.ID,
		Watermark:      &watermark,
		From:           []model.MessageStatus{model.StatusSent, model.StatusDelivered},
	}, triggerReadWatermark)
	if err != nil {
		return 0, 0, err
	}

	seen, err := s.messageRepo.MarkInboundSeen(ctx, tenantID, conv.ID, watermark)
	if err != nil {
		return read, 0, handleRepositoryError(ctx, err, "MarkInboundSeen")
	}

	if read > 0 {
		s.publish(ctx, model.RealtimeMessageStatus, tenantID, conv.ID, model.StatusChange{
			Status:    model.StatusRead,
			Rows:      read,
			Watermark: &watermark,
		})
	}
	if seen > 0 {
		s.publish(ctx, model.RealtimeConversationUpdated, tenantID, conv.ID, model.SeenChange{
			SeenCount: seen,
			Watermark: watermark,
		})
	}
	return read, seen, nil
}

// MarkFailed moves a queued or sent message to failed. It reports whether the
// message changed.
func (s *EventService) MarkFailed(ctx context.Context, tenantID, messageID int64, reason string) (bool, error) {
	rows, err := s.advance(ctx, model.StatusTransition{
		TenantID:    tenantID,
		Target:      model.StatusFailed,
		MessageID:   messageID,
		ErrorReason: reason,
	}, triggerSendFailure)
	if err != nil || rows == 0 {
		return false, err
	}

	var conversationID int64
	if msg, err := s.messageRepo.FindByID(ctx, tenantID, messageID); err == nil {
		conversationID = msg.ConversationID
	}
	s.publish(ctx, model.RealtimeMessageStatus, tenantID, conversationID, model.StatusChange{
		Status:      model.StatusFailed,
		Rows:        rows,
		MessageID:   messageID,
		ErrorReason: reason,
	})
	return true, nil
}

func (s *EventService) advance(ctx context.Context, t model.StatusTransition, trigger string) (int64, error) {
	rows, err := s.messageRepo.AdvanceStatus(ctx, t)
	if err != nil {
		if apperrors.IsBadRequestError(err) {
			return 0, apperrors.NewFatal(err, "advance messages to %s", t.Target)
		}
		return 0, handleRepositoryError(ctx, err, "AdvanceMessageStatus")
	}
	if rows == 0 {
		observer.IncStaleStatusUpdate(string(t.Target))
		logger.FromContext(ctx).Debug("Status update matched no messages",
			zap.String("status", string(t.Target)),
			zap.String("trigger", trigger),
			zap.Int64("conversation_id", t.ConversationID),
			zap.Int64("message_id", t.MessageID))
		return 0, nil
	}
	observer.AddStatusTransitions(string(t.Target), trigger, rows)
	return rows, nil
}
