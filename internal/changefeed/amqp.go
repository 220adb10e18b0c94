package changefeed

import (
	"context"
	"errors"
	"strings"

	"github.com/angelmondragon/eduflow-sync/pkg/amqp"
	"github.com/angelmondragon/eduflow-sync/pkg/logger"
)

const bindAllChanges = "changes.#"

type amqpClient interface {
	Publish(ctx context.Context, routingKey string, body []byte, headers map[string]any) error
	Consume(ctx context.Context, queue, bindingKey string, fn func(context.Context, amqp.Delivery) error) error
	Close() error
}

// AMQPFeed carries change envelopes over a RabbitMQ topic exchange.
type AMQPFeed struct {
	client     amqpClient
	queue      string
	bindingKey string
	logg       *logger.Logger
}

// NewAMQPFeed binds queue to every change. An empty queue gives each agent a
// private queue that disappears with it.
func NewAMQPFeed(client amqpClient, queue string, logg *logger.Logger) (*AMQPFeed, error) {
	if client == nil {
		return nil, errors.New("amqp client required")
	}
	if logg == nil {
		return nil, errors.New("logger required")
	}
	return &AMQPFeed{
		client:     client,
		queue:      strings.TrimSpace(queue),
		bindingKey: bindAllChanges,
		logg:       logg,
	}, nil
}

func (f *AMQPFeed) Publish(ctx context.Context, env ChangeEnvelope) error {
	body, err := Encode(env)
	if err != nil {
		return err
	}
	headers := make(map[string]any, len(env.Attributes()))
	for k, v := range env.Attributes() {
		headers[k] = v
	}
	return f.client.Publish(ctx, RoutingKey(env.OrganizationID, env.Collection), body, headers)
}

// Receive consumes until ctx is done. Malformed bodies are acked and dropped.
func (f *AMQPFeed) Receive(ctx context.Context, fn Handler) error {
	return f.client.Consume(ctx, f.queue, f.bindingKey, func(ctx context.Context, d amqp.Delivery) error {
		logCtx := f.logg.WithField(ctx, "routing_key", d.RoutingKey)
		if deliver(logCtx, f.logg, d.Body, fn) {
			return nil
		}
		return errRedeliver
	})
}

func (f *AMQPFeed) Close() error {
	return f.client.Close()
}

var errRedeliver = errors.New("change handling failed")
