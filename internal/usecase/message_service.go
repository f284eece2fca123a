package usecase

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/datatypes"

	"gitlab.com/timkado/api/conversation-router/internal/apperrors"
	"gitlab.com/timkado/api/conversation-router/internal/model"
	"gitlab.com/timkado/api/conversation-router/internal/observer"
	"gitlab.com/timkado/api/conversation-router/pkg/logger"
	"gitlab.com/timkado/api/conversation-router/pkg/utils"
)

// RecordInbound stores a customer message on conv with status queued.
// A provider message id seen before returns the stored message with created=false.
func (s *EventService) RecordInbound(ctx context.Context, conv *model.Conversation, providerMessageID string, content map[string]interface{}) (*model.Message, bool, error) {
	log := logger.FromContext(ctx).With(zap.Int64("conversation_id", conv.ID))

	if providerMessageID != "" {
		existing, err := s.messageRepo.FindByProviderID(ctx, conv.TenantID, providerMessageID)
		if err == nil {
			log.Debug("Inbound message already recorded", zap.String("provider_message_id", providerMessageID))
			return existing, false, nil
		}
		if !apperrors.IsNotFoundError(err) {
			return nil, false, handleRepositoryError(ctx, err, "FindMessageByProviderID")
		}
	}

	msg := model.NewMessage(conv, model.DirectionIn, model.StatusQueued, providerMessageID, contentJSON(content))
	if err := s.messageRepo.Create(ctx, msg); err != nil {
		if apperrors.IsDuplicateError(err) && providerMessageID != "" {
			existing, findErr := s.messageRepo.FindByProviderID(ctx, conv.TenantID, providerMessageID)
			if findErr != nil {
				return nil, false, handleRepositoryError(ctx, findErr, "FindMessageByProviderID")
			}
			return existing, false, nil
		}
		return nil, false, handleRepositoryError(ctx, err, "CreateInboundMessage")
	}

	log.Info("Inbound message recorded", zap.Int64("message_id", msg.ID))
	s.publish(ctx, model.RealtimeMessageCreated, conv.TenantID, conv.ID, msg)
	return msg, true, nil
}

// RecordOutbound stores a message the provider accepted, with status sent.
func (s *EventService) RecordOutbound(ctx context.Context, conv *model.Conversation, providerMessageID string, content map[string]interface{}) (*model.Message, error) {
	msg := model.NewMessage(conv, model.DirectionOut, model.StatusSent, providerMessageID, contentJSON(content))
	if err := s.messageRepo.Create(ctx, msg); err != nil {
		return nil, handleRepositoryError(ctx, err, "CreateOutboundMessage")
	}

	logger.FromContext(ctx).Info("Outbound message recorded",
		zap.Int64("conversation_id", conv.ID),
		zap.Int64("message_id", msg.ID),
		zap.String("provider_message_id", providerMessageID))
	s.publish(ctx, model.RealtimeMessageCreated, conv.TenantID, conv.ID, msg)
	return msg, nil
}

// SendMessage sends an agent message through the provider and records it.
// Sends are never retried: any failure after the provider call is returned as fatal
// so the event is not redelivered.
func (s *EventService) SendMessage(ctx context.Context, tenantID int64, payload model.SendMessagePayload) (*model.Message, error) {
	log := logger.FromContext(ctx).With(zap.Int64("conversation_id", payload.ConversationID))

	if s.sender == nil {
		return nil, apperrors.NewFatal(apperrors.ErrSendFailed, "no provider sender configured")
	}

	conv, err := s.conversationRepo.FindByID(ctx, tenantID, payload.ConversationID)
	if err != nil {
		return nil, handleRepositoryError(ctx, err, "FindConversationByID")
	}

	providerMessageID, sendErr := s.sender.Send(ctx, tenantID, conv.Channel, conv.Identity(), payload.Content)
	if sendErr != nil {
		observer.IncProviderSend(string(conv.Channel), "error")
		log.Error("Provider send failed", zap.Error(sendErr))

		failed := model.NewMessage(conv, model.DirectionOut, model.StatusFailed, "", contentJSON(payload.Content))
		failed.ErrorReason = sendErr.Error()
		if err := s.messageRepo.Create(ctx, failed); err != nil {
			log.Error("Failed to store failed outbound message", zap.Error(err))
		} else {
			s.publish(ctx, model.RealtimeMessageCreated, tenantID, conv.ID, failed)
		}
		return nil, apperrors.NewFatal(fmt.Errorf("%w: %w", apperrors.ErrSendFailed, sendErr),
			"send on conversation %d", conv.ID)
	}
	observer.IncProviderSend(string(conv.Channel), "ok")

	msg, err := s.RecordOutbound(ctx, conv, providerMessageID, payload.Content)
	if err != nil {
		var retryable *apperrors.RetryableError
		if errors.As(err, &retryable) {
			// The provider already accepted the message; redelivery would send it twice.
			return nil, apperrors.NewFatal(retryable.Unwrap(), "record sent message %s", providerMessageID)
		}
		return nil, err
	}
	return msg, nil
}

func contentJSON(content map[string]interface{}) datatypes.JSON {
	if len(content) == 0 {
		return nil
	}
	return datatypes.JSON(utils.MustMarshalJSON(content))
}
