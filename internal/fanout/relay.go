package fanout

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"gitlab.com/timkado/api/conversation-router/internal/jetstream"
	"gitlab.com/timkado/api/conversation-router/internal/model"
	"gitlab.com/timkado/api/conversation-router/internal/tenant"
	"gitlab.com/timkado/api/conversation-router/pkg/logger"
)

// Relay mirrors realtime events between router instances over core NATS so a
// dashboard connected to any instance sees every event of its tenant.
type Relay struct {
	client jetstream.ClientInterface
	prefix string
	hub    *Hub
	sub    *nats.Subscription
	log    *zap.Logger
}

// NewRelay creates a relay publishing under prefix.<tenant>.
func NewRelay(client jetstream.ClientInterface, prefix string, hub *Hub) *Relay {
	return &Relay{
		client: client,
		prefix: prefix,
		hub:    hub,
		log:    logger.Named("fanout_relay"),
	}
}

func (r *Relay) Name() string {
	return "nats_relay"
}

// Subject returns the relay subject of a tenant.
func (r *Relay) Subject(tenantID int64) string {
	return r.prefix + "." + tenant.Label(tenantID)
}

// Forward publishes an event for the other instances.
func (r *Relay) Forward(_ context.Context, event model.RealtimeEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal realtime event: %w", err)
	}
	return r.client.PublishCore(r.Subject(event.TenantID), data)
}

// Start subscribes to events relayed by other instances.
func (r *Relay) Start() error {
	sub, err := r.client.SubscribeCore(r.prefix+".>", r.handle)
	if err != nil {
		return fmt.Errorf("failed to subscribe realtime relay: %w", err)
	}
	r.sub = sub
	r.log.Info("Realtime relay subscribed", zap.String("subject", r.prefix+".>"))
	return nil
}

func (r *Relay) handle(msg *nats.Msg) {
	var event model.RealtimeEvent
	if err := json.Unmarshal(msg.Data, &event); err != nil {
		r.log.Warn("Dropping malformed relayed event", zap.String("subject", msg.Subject), zap.Error(err))
		return
	}
	if event.Origin == r.hub.Origin() {
		return
	}
	r.hub.Inject(event)
}

// Stop unsubscribes from the relay subject.
func (r *Relay) Stop() {
	if r.sub == nil {
		return
	}
	if err := r.sub.Unsubscribe(); err != nil {
		r.log.Warn("Failed to unsubscribe realtime relay", zap.Error(err))
	}
}
