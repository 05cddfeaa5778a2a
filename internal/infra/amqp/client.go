// Package amqp fans local cache changes out to other instances over RabbitMQ.
package amqp

import (
	"context"
	"fmt"
	"time"

	"github.com/boddenberg/ledger-sync/internal/domain"
	"github.com/boddenberg/ledger-sync/internal/port"

	"github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// Publisher is the part of *amqp091.Channel the forwarder needs.
type Publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp091.Publishing) error
}

// Client owns the connection and the per-instance queue.
type Client struct {
	conn     *amqp091.Connection
	channel  *amqp091.Channel
	exchange string
	queue    string
}

// NewClient dials the broker, declares a fanout exchange and an exclusive
// queue bound to it so every instance sees every change.
func NewClient(url, exchange string) (*Client, error) {
	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial AMQP: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	c := &Client{conn: conn, channel: channel, exchange: exchange}
	if err := c.setup(); err != nil {
		c.Close()
		return nil, fmt.Errorf("setup exchange and queue: %w", err)
	}
	return c, nil
}

func (c *Client) setup() error {
	err := c.channel.ExchangeDeclare(
		c.exchange, // name
		"fanout",   // type
		true,       // durable
		false,      // auto-deleted
		false,      // internal
		false,      // no-wait
		nil,        // arguments
	)
	if err != nil {
		return fmt.Errorf("declare exchange: %w", err)
	}

	q, err := c.channel.QueueDeclare(
		"",    // server-named
		false, // durable
		true,  // delete when unused
		true,  // exclusive
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		return fmt.Errorf("declare queue: %w", err)
	}
	c.queue = q.Name

	if err := c.channel.QueueBind(c.queue, "", c.exchange, false, nil); err != nil {
		return fmt.Errorf("bind queue: %w", err)
	}
	return nil
}

// Channel exposes the channel for a Forwarder.
func (c *Client) Channel() Publisher {
	return c.channel
}

// Exchange returns the declared exchange name.
func (c *Client) Exchange() string {
	return c.exchange
}

// Consume starts delivering changes from other instances to pub until ctx ends.
func (c *Client) Consume(ctx context.Context, origin string, pub port.ChangePublisher, logger *zap.Logger) error {
	deliveries, err := c.channel.Consume(
		c.queue, // queue
		"",      // consumer
		false,   // auto-ack
		true,    // exclusive
		false,   // no-local
		false,   // no-wait
		nil,     // args
	)
	if err != nil {
		return fmt.Errorf("start consuming: %w", err)
	}
	return NewRelay(origin, pub, logger).Run(ctx, deliveries)
}

func (c *Client) Close() error {
	if c.channel != nil {
		c.channel.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// Forwarder publishes changes made by this instance.
type Forwarder struct {
	pub      Publisher
	exchange string
	origin   string
	timeout  time.Duration
	logger   *zap.Logger
}

// NewForwarder creates a forwarder for changes whose Origin is origin.
func NewForwarder(pub Publisher, exchange, origin string, logger *zap.Logger) *Forwarder {
	return &Forwarder{pub: pub, exchange: exchange, origin: origin, timeout: 5 * time.Second, logger: logger}
}

// Forward is a bus subscriber. Changes relayed in from other instances are ignored.
func (f *Forwarder) Forward(change domain.StateChange) {
	if change.Origin != f.origin {
		return
	}
	if err := f.publish(context.Background(), change); err != nil {
		f.logger.Warn("amqp: failed to forward change",
			zap.String("key", change.Key),
			zap.String("op", string(change.Op)),
			zap.Error(err),
		)
	}
}

func (f *Forwarder) publish(ctx context.Context, change domain.StateChange) error {
	body, err := NewChangeMessage(change).ToJSON()
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	err = f.pub.PublishWithContext(ctx, f.exchange, "", false, false, amqp091.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp091.Transient,
		Timestamp:    change.At,
		AppId:        f.origin,
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("publish message: %w", err)
	}
	return nil
}

// Relay republishes changes from other instances on the local bus.
type Relay struct {
	origin string
	pub    port.ChangePublisher
	logger *zap.Logger
}

// NewRelay creates a relay that drops messages sent by origin.
func NewRelay(origin string, pub port.ChangePublisher, logger *zap.Logger) *Relay {
	return &Relay{origin: origin, pub: pub, logger: logger}
}

// Run handles deliveries until ctx ends or the channel closes.
func (r *Relay) Run(ctx context.Context, deliveries <-chan amqp091.Delivery) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("delivery channel closed")
			}
			r.Handle(d)
		}
	}
}

// Handle processes one delivery. Malformed messages are rejected without requeue.
func (r *Relay) Handle(d amqp091.Delivery) {
	msg, err := ChangeMessageFromJSON(d.Body)
	if err != nil {
		r.logger.Warn("amqp: dropping malformed change message", zap.Error(err))
		_ = d.Nack(false, false)
		return
	}
	if msg.Change.Origin == r.origin {
		_ = d.Ack(false)
		return
	}
	r.pub.Publish(msg.Change)
	_ = d.Ack(false)
}
