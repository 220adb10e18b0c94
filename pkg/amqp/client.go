package amqp

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/angelmondragon/eduflow-sync/pkg/config"
	"github.com/angelmondragon/eduflow-sync/pkg/logger"
)

const (
	exchangeKind   = "topic"
	confirmTimeout = 10 * time.Second
	nackBackoff    = 2 * time.Second
)

var errNotConnected = errors.New("amqp connection is closed")

// Delivery is the broker message handed to consumers.
type Delivery = amqp.Delivery

// Client owns one broker connection with a confirm-mode publishing channel on
// a durable topic exchange.
type Client struct {
	conn     *amqp.Connection
	pub      *amqp.Channel
	exchange string
	logg     *logger.Logger

	pubMu     sync.Mutex
	healthy   atomic.Bool
	closeOnce sync.Once
	done      chan struct{}
}

// New dials the broker, declares the exchange and enables publisher confirms.
func New(ctx context.Context, cfg config.AMQPConfig, logg *logger.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, errors.New("amqp url is required")
	}
	exchange := strings.TrimSpace(cfg.Exchange)
	if exchange == "" {
		return nil, errors.New("amqp exchange is required")
	}

	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("connecting to rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("opening rabbitmq channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, exchangeKind, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declaring exchange %q: %w", exchange, err)
	}
	if err := ch.Confirm(false); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("enabling publisher confirms: %w", err)
	}

	c := &Client{
		conn:     conn,
		pub:      ch,
		exchange: exchange,
		logg:     logg,
		done:     make(chan struct{}),
	}
	c.healthy.Store(true)
	c.watch(ctx)

	if logg != nil {
		logg.Info(logg.WithField(ctx, "exchange", exchange), "rabbitmq client initialized")
	}
	return c, nil
}

func (c *Client) watch(ctx context.Context) {
	connClosed := c.conn.NotifyClose(make(chan *amqp.Error, 1))
	chanClosed := c.pub.NotifyClose(make(chan *amqp.Error, 1))
	go func() {
		var cause *amqp.Error
		select {
		case cause = <-connClosed:
		case cause = <-chanClosed:
		case <-c.done:
			return
		}
		c.healthy.Store(false)
		if c.logg != nil {
			var err error
			if cause != nil {
				err = cause
			}
			c.logg.Error(ctx, "rabbitmq connection lost", err)
		}
	}()
}

// Publish sends body to the exchange and waits for the broker confirm.
func (c *Client) Publish(ctx context.Context, routingKey string, body []byte, headers map[string]any) error {
	if c == nil || !c.healthy.Load() {
		return errNotConnected
	}

	c.pubMu.Lock()
	deferred, err := c.pub.PublishWithDeferredConfirmWithContext(ctx, c.exchange, routingKey, false, false, amqp.Publishing{
		Headers:      amqp.Table(headers),
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	})
	c.pubMu.Unlock()
	if err != nil {
		return fmt.Errorf("publish to %s: %w", routingKey, err)
	}

	timer := time.NewTimer(confirmTimeout)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-deferred.Done():
		if !deferred.Acked() {
			return fmt.Errorf("rabbitmq nack for %s", routingKey)
		}
		return nil
	case <-timer.C:
		return errors.New("publisher confirm timeout")
	}
}

// Consume binds queue to bindingKey and hands deliveries to fn one at a time.
// A nil error acks; an error nacks with requeue after a short pause. An empty
// queue name declares an exclusive server-named queue.
func (c *Client) Consume(ctx context.Context, queue, bindingKey string, fn func(context.Context, Delivery) error) error {
	if c == nil || !c.healthy.Load() {
		return errNotConnected
	}
	ch, err := c.conn.Channel()
	if err != nil {
		return fmt.Errorf("opening consumer channel: %w", err)
	}
	defer ch.Close()

	if err := ch.Qos(1, 0, false); err != nil {
		return fmt.Errorf("setting qos: %w", err)
	}
	durable, exclusive := true, false
	if queue == "" {
		durable, exclusive = false, true
	}
	q, err := ch.QueueDeclare(queue, durable, !durable, exclusive, false, nil)
	if err != nil {
		return fmt.Errorf("declaring queue: %w", err)
	}
	if err := ch.QueueBind(q.Name, bindingKey, c.exchange, false, nil); err != nil {
		return fmt.Errorf("binding queue %s: %w", q.Name, err)
	}
	msgs, err := ch.Consume(q.Name, "", false, exclusive, false, false, nil)
	if err != nil {
		return fmt.Errorf("registering consumer: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-msgs:
			if !ok {
				return errors.New("amqp delivery channel closed")
			}
			if err := fn(ctx, d); err != nil {
				if !sleepCtx(ctx, nackBackoff) {
					_ = d.Nack(false, true)
					return nil
				}
				_ = d.Nack(false, true)
				continue
			}
			_ = d.Ack(false)
		}
	}
}

// Ping reports whether the connection is still open.
func (c *Client) Ping(context.Context) error {
	if c == nil || !c.healthy.Load() || c.conn == nil || c.conn.IsClosed() {
		return errNotConnected
	}
	return nil
}

func (c *Client) Close() error {
	if c == nil {
		return nil
	}
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		c.healthy.Store(false)
		if c.pub != nil {
			_ = c.pub.Close()
		}
		if c.conn != nil {
			err = c.conn.Close()
		}
	})
	return err
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
