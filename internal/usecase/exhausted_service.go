package usecase

import (
	"context"

	"go.uber.org/zap"

	"gitlab.com/timkado/api/conversation-router/internal/model"
	"gitlab.com/timkado/api/conversation-router/pkg/logger"
)

// SaveExhaustedEvent persists a DLQ event that ran out of retries.
func (s *EventService) SaveExhaustedEvent(ctx context.Context, event model.ExhaustedEvent) error {
	if err := s.exhaustedEventRepo.Save(ctx, event); err != nil {
		logger.FromContext(ctx).Error("Failed to save exhausted event",
			zap.String("source_subject", event.SourceSubject),
			zap.Error(err))
		return err
	}
	return nil
}
