package broker

import (
	"context"
	"fmt"
	"log/slog"

	amqp "github.com/rabbitmq/amqp091-go"
)

// PublishOptions describes a single outbound message.
type PublishOptions struct {
	Exchange   string
	RoutingKey string
	Body       []byte
	Persistent bool
	Headers    map[string]interface{}
}

// Publisher publishes messages to the broker. It is the narrow surface the
// gateway dispatcher and template writer depend on.
type Publisher interface {
	Publish(ctx context.Context, opts PublishOptions) error
}

// AMQPPublisher implements Publisher over a shared Broker connection.
type AMQPPublisher struct {
	broker *Broker
	logger *slog.Logger
}

// NewPublisher wraps broker in a Publisher.
func NewPublisher(broker *Broker, logger *slog.Logger) *AMQPPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &AMQPPublisher{broker: broker, logger: logger}
}

// Publish sends opts.Body to the named exchange with the given routing key.
// Persistent messages survive a broker restart; non-persistent do not.
func (p *AMQPPublisher) Publish(ctx context.Context, opts PublishOptions) error {
	ch := p.broker.Channel()
	if ch == nil {
		return fmt.Errorf("broker channel not available")
	}

	deliveryMode := amqp.Transient
	if opts.Persistent {
		deliveryMode = amqp.Persistent
	}

	headers := amqp.Table{}
	for k, v := range opts.Headers {
		headers[k] = v
	}

	err := ch.PublishWithContext(ctx, opts.Exchange, opts.RoutingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: deliveryMode,
		Body:         opts.Body,
		Headers:      headers,
	})
	if err != nil {
		return fmt.Errorf("failed to publish to %s/%s: %w", opts.Exchange, opts.RoutingKey, err)
	}

	p.logger.Debug("message published", "exchange", opts.Exchange, "routing_key", opts.RoutingKey, "bytes", len(opts.Body))
	return nil
}
