package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"gitlab.com/timkado/api/conversation-router/internal/model"
	"gitlab.com/timkado/api/conversation-router/internal/tenant"
	"gitlab.com/timkado/api/conversation-router/pkg/logger"
	"gitlab.com/timkado/api/conversation-router/pkg/utils"
)

const routingKeyPrefix = "router"

var errUnavailable = errors.New("broker connection closed")

// domainEvents are the realtime events other services subscribe to.
var domainEvents = map[model.RealtimeEventType]bool{
	model.RealtimeConversationCreated:  true,
	model.RealtimeConversationAssigned: true,
	model.RealtimeMessageStatus:        true,
}

type channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	NotifyClose(receiver chan *amqp.Error) chan *amqp.Error
	Close() error
}

type connection interface {
	channel() (channel, error)
	NotifyClose(receiver chan *amqp.Error) chan *amqp.Error
	Close() error
}

type amqpConn struct {
	*amqp.Connection
}

func (c amqpConn) channel() (channel, error) {
	ch, err := c.Connection.Channel()
	if err != nil {
		return nil, err
	}
	return ch, nil
}

type dialFunc func(ctx context.Context) (connection, error)

// Publisher forwards domain events to a topic exchange over one long-lived
// channel. A watcher re-dials when the connection or channel drops.
type Publisher struct {
	mu       sync.Mutex
	conn     connection
	ch       channel
	dial     dialFunc
	exchange string
	log      *zap.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

// NewPublisher dials the broker with backoff and declares the exchange.
func NewPublisher(ctx context.Context, url, exchange string) (*Publisher, error) {
	return newPublisher(ctx, func(ctx context.Context) (connection, error) {
		conn, err := dialWithRetry(ctx, url)
		if err != nil {
			return nil, err
		}
		return amqpConn{conn}, nil
	}, exchange)
}

func newPublisher(ctx context.Context, dial dialFunc, exchange string) (*Publisher, error) {
	p := &Publisher{
		dial:     dial,
		exchange: exchange,
		log:      logger.Named("broker"),
		done:     make(chan struct{}),
	}
	connClosed, chClosed, err := p.connect(ctx)
	if err != nil {
		return nil, err
	}

	watchCtx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	go p.watch(watchCtx, connClosed, chClosed)
	return p, nil
}

func dialWithRetry(ctx context.Context, url string) (*amqp.Connection, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 10 * time.Second
	b.MaxElapsedTime = time.Minute

	notify := func(err error, d time.Duration) {
		logger.Log.Warn("Retrying broker connection", zap.Error(err), zap.Duration("after", d))
	}
	conn, err := backoff.RetryNotifyWithData(func() (*amqp.Connection, error) {
		return amqp.Dial(url)
	}, backoff.WithContext(b, ctx), notify)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to broker after retries: %w", err)
	}
	return conn, nil
}

// connect dials, opens the publishing channel and declares the exchange.
func (p *Publisher) connect(ctx context.Context) (<-chan *amqp.Error, <-chan *amqp.Error, error) {
	conn, err := p.dial(ctx)
	if err != nil {
		return nil, nil, err
	}
	ch, err := conn.channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("failed to open amqp channel: %w", err)
	}
	if err := ch.ExchangeDeclare(p.exchange, "topic", true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("failed to declare exchange %s: %w", p.exchange, err)
	}

	connClosed := conn.NotifyClose(make(chan *amqp.Error, 1))
	chClosed := ch.NotifyClose(make(chan *amqp.Error, 1))

	p.mu.Lock()
	p.conn, p.ch = conn, ch
	p.mu.Unlock()
	return connClosed, chClosed, nil
}

func (p *Publisher) watch(ctx context.Context, connClosed, chClosed <-chan *amqp.Error) {
	defer close(p.done)
	for {
		var cause *amqp.Error
		select {
		case <-ctx.Done():
			return
		case cause = <-connClosed:
		case cause = <-chClosed:
		}
		if ctx.Err() != nil {
			return
		}
		p.log.Warn("Broker connection lost, reconnecting", zap.Any("cause", cause))

		p.mu.Lock()
		old := p.conn
		p.conn, p.ch = nil, nil
		p.mu.Unlock()
		if old != nil {
			_ = old.Close()
		}

		b := backoff.NewExponentialBackOff()
		b.InitialInterval = 200 * time.Millisecond
		b.MaxInterval = 10 * time.Second
		b.MaxElapsedTime = 0
		err := backoff.RetryNotify(func() error {
			var err error
			connClosed, chClosed, err = p.connect(ctx)
			return err
		}, backoff.WithContext(b, ctx), func(err error, d time.Duration) {
			p.log.Warn("Broker reconnect failed", zap.Error(err), zap.Duration("retry_in", d))
		})
		if err != nil {
			return
		}
		p.log.Info("Broker reconnected")
	}
}

func (p *Publisher) Name() string {
	return "amqp"
}

// Publishes reports whether events of type t leave the process through the broker.
func Publishes(t model.RealtimeEventType) bool {
	return domainEvents[t]
}

// RoutingKey builds router.<tenant>.<event type>, e.g. router.42.message.status.
func RoutingKey(event model.RealtimeEvent) string {
	return strings.Join([]string{routingKeyPrefix, tenant.Label(event.TenantID), string(event.Type)}, ".")
}

// Forward publishes domain events and ignores the dashboard-only ones.
// While the watcher is reconnecting it fails fast.
func (p *Publisher) Forward(ctx context.Context, event model.RealtimeEvent) error {
	if !Publishes(event.Type) {
		return nil
	}
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal domain event: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch == nil {
		return errUnavailable
	}
	return p.ch.PublishWithContext(ctx, p.exchange, RoutingKey(event), false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    event.ID,
		Timestamp:    utils.Now(),
		Type:         string(event.Type),
		Body:         body,
	})
}

// Close stops the watcher and closes the channel and connection.
func (p *Publisher) Close() error {
	if p.cancel != nil {
		p.cancel()
		<-p.done
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch != nil {
		_ = p.ch.Close()
		p.ch = nil
	}
	if p.conn == nil {
		return nil
	}
	err := p.conn.Close()
	p.conn = nil
	return err
}
