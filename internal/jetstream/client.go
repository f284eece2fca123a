package jetstream

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"gitlab.com/timkado/api/conversation-router/pkg/logger"
	"gitlab.com/timkado/api/conversation-router/pkg/utils"
)

// ClientName identifies router connections in NATS monitoring.
const ClientName = "conversation-router"

// Client wraps the NATS connection and its JetStream context
type Client struct {
	nc *nats.Conn
	js nats.JetStreamContext
}

var _ ClientInterface = (*Client)(nil)

// NewClient connects to NATS, retrying forever in the background, and opens
// a JetStream context. Extra options are applied after the defaults.
func NewClient(url string, opts ...nats.Option) (*Client, error) {
	log := logger.Named("nats")
	defaults := []nats.Option{
		nats.Name(ClientName),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn("NATS disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("NATS reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
		nats.ErrorHandler(func(_ *nats.Conn, sub *nats.Subscription, err error) {
			fields := []zap.Field{zap.Error(err)}
			if sub != nil {
				fields = append(fields, zap.String("subject", sub.Subject))
			}
			log.Error("NATS async error", fields...)
		}),
	}

	nc, err := nats.Connect(url, append(defaults, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}
	return &Client{nc: nc, js: js}, nil
}

// SetupStream creates the stream or updates it when its config drifted.
func (c *Client) SetupStream(ctx context.Context, cfg *nats.StreamConfig) error {
	log := logger.FromContext(ctx).With(zap.String("stream", cfg.Name), zap.Strings("subjects", cfg.Subjects))

	info, err := c.js.StreamInfo(cfg.Name)
	switch {
	case errors.Is(err, nats.ErrStreamNotFound):
		if _, err := c.js.AddStream(cfg); err != nil {
			return fmt.Errorf("failed to add stream '%s': %w", cfg.Name, err)
		}
		log.Info("Created stream")
	case err != nil:
		return fmt.Errorf("failed to get stream info for '%s': %w", cfg.Name, err)
	case utils.StreamConfigEqual(info.Config, *cfg):
		log.Debug("Stream up to date")
	default:
		if _, err := c.js.UpdateStream(cfg); err != nil {
			return fmt.Errorf("failed to update stream '%s': %w", cfg.Name, err)
		}
		log.Info("Updated stream")
	}
	return nil
}

// SetupConsumer creates the durable consumer on streamName. A consumer whose
// config drifted is recreated, since most consumer fields are immutable.
func (c *Client) SetupConsumer(ctx context.Context, streamName string, cfg *nats.ConsumerConfig) error {
	log := logger.FromContext(ctx).With(
		zap.String("stream", streamName),
		zap.String("consumer", cfg.Durable),
		zap.String("queue_group", cfg.DeliverGroup),
		zap.Strings("filter_subjects", cfg.FilterSubjects),
	)

	info, err := c.js.ConsumerInfo(streamName, cfg.Durable)
	switch {
	case errors.Is(err, nats.ErrConsumerNotFound):
	case err != nil:
		return fmt.Errorf("failed to get consumer info for stream '%s', consumer '%s': %w", streamName, cfg.Durable, err)
	case utils.ConsumerConfigEqual(info.Config, *cfg):
		log.Debug("Consumer up to date")
		return nil
	default:
		log.Warn("Consumer config drifted, recreating")
		if err := c.js.DeleteConsumer(streamName, cfg.Durable); err != nil {
			return fmt.Errorf("failed to delete consumer '%s' from stream '%s': %w", cfg.Durable, streamName, err)
		}
	}

	if _, err := c.js.AddConsumer(streamName, cfg); err != nil {
		return fmt.Errorf("failed to add consumer '%s' to stream '%s': %w", cfg.Durable, streamName, err)
	}
	log.Info("Consumer ready")
	return nil
}

// SubscribePush binds a queue-group push subscription to an existing durable.
func (c *Client) SubscribePush(subject, consumer, group, stream string, handler nats.MsgHandler) (*nats.Subscription, error) {
	sub, err := c.js.QueueSubscribe(subject, group, handler,
		nats.Durable(consumer),
		nats.ManualAck(),
		nats.BindStream(stream),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe %s on %s: %w", consumer, subject, err)
	}
	return sub, nil
}

// SubscribePull binds a pull subscription to an existing durable.
func (c *Client) SubscribePull(streamName, subject, consumer string) (*nats.Subscription, error) {
	sub, err := c.js.PullSubscribe(subject, consumer, nats.Bind(streamName, consumer))
	if err != nil {
		return nil, fmt.Errorf("failed to create pull subscription for stream '%s', consumer '%s': %w", streamName, consumer, err)
	}
	return sub, nil
}

func newMsg(subject string, data []byte, headers map[string]string) *nats.Msg {
	msg := nats.NewMsg(subject)
	msg.Data = data
	for k, v := range headers {
		msg.Header.Set(k, v)
	}
	return msg
}

// Publish publishes to JetStream and waits for the stream ack.
func (c *Client) Publish(subject string, data []byte, headers map[string]string) error {
	if _, err := c.js.PublishMsg(newMsg(subject, data, headers)); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", subject, err)
	}
	return nil
}

// Request sends a core NATS request and waits for the reply until ctx is done
func (c *Client) Request(ctx context.Context, subject string, data []byte, headers map[string]string) ([]byte, error) {
	reply, err := c.nc.RequestMsgWithContext(ctx, newMsg(subject, data, headers))
	if err != nil {
		return nil, fmt.Errorf("request on %s: %w", subject, err)
	}
	return reply.Data, nil
}

// PublishCore publishes a fire-and-forget core NATS message
func (c *Client) PublishCore(subject string, data []byte) error {
	if err := c.nc.Publish(subject, data); err != nil {
		return fmt.Errorf("failed to publish core message: %w", err)
	}
	return nil
}

// SubscribeCore subscribes to a core NATS subject
func (c *Client) SubscribeCore(subject string, handler nats.MsgHandler) (*nats.Subscription, error) {
	sub, err := c.nc.Subscribe(subject, handler)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", subject, err)
	}
	return sub, nil
}

// IsConnected reports whether the connection is currently up
func (c *Client) IsConnected() bool {
	return c.nc != nil && c.nc.IsConnected()
}

// Close drains subscriptions and closes the connection.
func (c *Client) Close() {
	if c.nc == nil {
		return
	}
	if err := c.nc.Drain(); err != nil {
		c.nc.Close()
	}
}
