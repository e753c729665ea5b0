package jetstream

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"gitlab.com/timkado/api/crm-webhook-ingestor/pkg/logger"
)

const reconnectWait = 2 * time.Second

// Client is a JetStream connection scoped to what the relay queue needs.
type Client struct {
	nc *nats.Conn
	js nats.JetStreamContext
}

var _ ClientInterface = (*Client)(nil)

// NewClient connects to url and keeps reconnecting forever; name identifies the
// connection in server monitoring.
func NewClient(url, name string) (*Client, error) {
	nc, err := nats.Connect(url,
		nats.Name(name),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(reconnectWait),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Log.Warn("Lost connection to NATS", zap.String("connection", name), zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Log.Info("Reconnected to NATS", zap.String("connection", name), zap.String("url", nc.ConnectedUrl()))
		}),
		nats.ErrorHandler(func(_ *nats.Conn, sub *nats.Subscription, err error) {
			fields := []zap.Field{zap.String("connection", name), zap.Error(err)}
			if sub != nil {
				fields = append(fields, zap.String("subject", sub.Subject))
			}
			logger.Log.Error("Async NATS error", fields...)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", url, err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}
	return &Client{nc: nc, js: js}, nil
}

// SetupStream creates the stream, or updates it in place when its definition drifted.
func (c *Client) SetupStream(ctx context.Context, want *nats.StreamConfig) error {
	log := logger.FromContext(ctx).With(zap.String("stream", want.Name))

	info, err := c.js.StreamInfo(want.Name, nats.Context(ctx))
	switch {
	case errors.Is(err, nats.ErrStreamNotFound):
		if _, err := c.js.AddStream(want, nats.Context(ctx)); err != nil {
			return fmt.Errorf("failed to add stream '%s': %w", want.Name, err)
		}
		log.Info("Created stream", zap.Strings("subjects", want.Subjects), zap.Duration("duplicates_window", want.Duplicates))
		return nil
	case err != nil:
		return fmt.Errorf("failed to get stream info for '%s': %w", want.Name, err)
	}

	if streamConfigEqual(info.Config, *want) {
		log.Debug("Stream is up to date")
		return nil
	}
	if _, err := c.js.UpdateStream(want, nats.Context(ctx)); err != nil {
		return fmt.Errorf("failed to update stream '%s': %w", want.Name, err)
	}
	log.Info("Updated stream", zap.Strings("subjects", want.Subjects))
	return nil
}

// SetupConsumer creates the durable consumer on streamName. A drifted consumer is
// recreated, since most consumer fields cannot be edited in place.
func (c *Client) SetupConsumer(ctx context.Context, streamName string, want *nats.ConsumerConfig) error {
	log := logger.FromContext(ctx).With(zap.String("stream", streamName), zap.String("consumer", want.Durable))

	info, err := c.js.ConsumerInfo(streamName, want.Durable, nats.Context(ctx))
	if err != nil && !errors.Is(err, nats.ErrConsumerNotFound) {
		return fmt.Errorf("failed to get consumer info for '%s' on stream '%s': %w", want.Durable, streamName, err)
	}

	if info != nil {
		if consumerConfigEqual(info.Config, *want) {
			log.Debug("Consumer is up to date")
			return nil
		}
		log.Warn("Consumer definition drifted, recreating",
			zap.Int("current_max_deliver", info.Config.MaxDeliver),
			zap.Int("wanted_max_deliver", want.MaxDeliver),
			zap.Duration("current_ack_wait", info.Config.AckWait),
			zap.Duration("wanted_ack_wait", want.AckWait),
		)
		if err := c.js.DeleteConsumer(streamName, want.Durable, nats.Context(ctx)); err != nil {
			return fmt.Errorf("failed to delete drifted consumer '%s': %w", want.Durable, err)
		}
	}

	if _, err := c.js.AddConsumer(streamName, want, nats.Context(ctx)); err != nil {
		return fmt.Errorf("failed to add consumer '%s' to stream '%s': %w", want.Durable, streamName, err)
	}
	log.Info("Consumer ready",
		zap.String("filter_subject", want.FilterSubject),
		zap.Int("max_deliver", want.MaxDeliver),
		zap.Bool("recreated", info != nil),
	)
	return nil
}

// SubscribePull binds a pull subscription to an existing durable consumer.
func (c *Client) SubscribePull(streamName, subject, consumer string) (*nats.Subscription, error) {
	sub, err := c.js.PullSubscribe(subject, consumer, nats.Bind(streamName, consumer))
	if err != nil {
		return nil, fmt.Errorf("failed to bind pull subscription to '%s' on stream '%s': %w", consumer, streamName, err)
	}
	return sub, nil
}

// Publish stores data on subject. duplicate is true when the server dropped the
// message because its Nats-Msg-Id was already seen inside the stream's window.
func (c *Client) Publish(ctx context.Context, subject string, data []byte, headers map[string]string) (duplicate bool, err error) {
	msg := nats.NewMsg(subject)
	msg.Data = data
	for k, v := range headers {
		msg.Header.Set(k, v)
	}

	ack, err := c.js.PublishMsg(msg, nats.Context(ctx))
	if err != nil {
		return false, fmt.Errorf("failed to publish to %s: %w", subject, err)
	}
	return ack.Duplicate, nil
}

// IsConnected reports whether the NATS connection is up.
func (c *Client) IsConnected() bool {
	return c.nc != nil && c.nc.IsConnected()
}

// NatsConn returns the underlying connection.
func (c *Client) NatsConn() *nats.Conn {
	return c.nc
}

// Close closes the connection.
func (c *Client) Close() {
	if c.nc != nil {
		c.nc.Close()
	}
}
