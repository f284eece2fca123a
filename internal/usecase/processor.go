package usecase

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"gitlab.com/timkado/api/conversation-router/internal/config"
	"gitlab.com/timkado/api/conversation-router/internal/ingestion"
	"gitlab.com/timkado/api/conversation-router/internal/ingestion/handler"
	"gitlab.com/timkado/api/conversation-router/internal/jetstream"
	"gitlab.com/timkado/api/conversation-router/internal/model"
	"gitlab.com/timkado/api/conversation-router/pkg/logger"
)

// Processor orchestrates event processing
type Processor struct {
	service       *EventService
	jsClient      jetstream.ClientInterface
	consumer      ingestion.ConsumerInterface
	eventRouter   ingestion.RouterInterface
	routerHandler handler.EventHandlerInterface
}

// NewProcessor creates a new processor with all components wired up.
// One durable consumer serves every tenant; the tenant is carried in each subject.
func NewProcessor(service *EventService, jsClient jetstream.ClientInterface, cfg *config.Config) *Processor {
	router := ingestion.NewRouter()
	return &Processor{
		service:       service,
		jsClient:      jsClient,
		consumer:      ingestion.NewEventConsumer(jsClient, router, cfg.NATS.Router, cfg.NATS.DLQSubject),
		eventRouter:   router,
		routerHandler: handler.NewRouterHandler(service),
	}
}

// GetRouter returns the processor's event router.
func (p *Processor) GetRouter() ingestion.RouterInterface {
	return p.eventRouter
}

// Setup registers handlers and sets up the consumer
func (p *Processor) Setup() error {
	p.eventRouter.Register(model.V1RouterInbound, p.routerHandler.HandleEvent)
	p.eventRouter.Register(model.V1RouterSend, p.routerHandler.HandleEvent)
	p.eventRouter.Register(model.V1RouterDelivery, p.routerHandler.HandleEvent)
	p.eventRouter.Register(model.V1RouterRead, p.routerHandler.HandleEvent)

	p.eventRouter.RegisterDefault(func(ctx context.Context, eventType model.EventType, metadata *model.MessageMetadata, rawEvent []byte) error {
		logger.FromContext(ctx).Warn("Unhandled event type",
			zap.String("type", string(eventType)),
			zap.String("subject", metadata.MessageSubject),
		)
		return nil
	})

	if err := p.consumer.Setup(); err != nil {
		return fmt.Errorf("failed to setup router consumer: %w", err)
	}

	logger.Log.Info("Processor setup complete")
	return nil
}

// Start starts the consumer
func (p *Processor) Start() error {
	logger.Log.Info("Starting event processor...")

	defer func() {
		if r := recover(); r != nil {
			logger.Log.Error("[panic] Recovered from panic in processor",
				zap.Any("panic", r),
				zap.Stack("stack"),
			)
		}
	}()

	if err := p.consumer.Start(); err != nil {
		return fmt.Errorf("failed to start router consumer: %w", err)
	}

	logger.Log.Info("Router consumer started successfully")
	return nil
}

// Stop drains the consumer
func (p *Processor) Stop() {
	logger.Log.Info("Stopping event processor...")
	p.consumer.Stop()
	logger.Log.Info("Router consumer stopped")
}
