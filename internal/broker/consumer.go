package broker

import (
	"context"
	"fmt"
	"log/slog"

	amqp "github.com/rabbitmq/amqp091-go"
)

// AttemptHeader is the message header carrying the current delivery
// attempt count, incremented by the worker on each requeue. Using a
// message-embedded counter instead of x-death keeps attempt tracking
// independent of the dead-letter plumbing, which only fires once the
// worker gives up and republishes to the failed queue itself.
const AttemptHeader = "x-attempt"

// Delivery is the narrow view of an amqp091-go delivery the worker runtime
// needs: the body, the current attempt count, and the two terminal acks.
type Delivery struct {
	Body    []byte
	Attempt int

	ack  func() error
	nack func(requeue bool) error
}

// Ack acknowledges successful processing.
func (d Delivery) Ack() error { return d.ack() }

// Nack negatively acknowledges the delivery. requeue=false drops it from
// the queue (the caller is expected to have already republished a
// retry or dead-lettered it explicitly).
func (d Delivery) Nack(requeue bool) error { return d.nack(requeue) }

// Consumer reads deliveries from a single queue.
type Consumer interface {
	// Consume starts delivering messages on the returned channel. The
	// channel closes when ctx is cancelled or the underlying channel dies.
	Consume(ctx context.Context, queue, consumerTag string) (<-chan Delivery, error)
}

// AMQPConsumer implements Consumer over a shared Broker connection.
type AMQPConsumer struct {
	broker *Broker
	logger *slog.Logger
}

// NewConsumer wraps broker in a Consumer.
func NewConsumer(broker *Broker, logger *slog.Logger) *AMQPConsumer {
	if logger == nil {
		logger = slog.Default()
	}
	return &AMQPConsumer{broker: broker, logger: logger}
}

// Consume subscribes to queue with manual acknowledgement. The attempt
// count is read from the x-attempt header (defaulting to 1 if absent).
func (c *AMQPConsumer) Consume(ctx context.Context, queue, consumerTag string) (<-chan Delivery, error) {
	ch := c.broker.Channel()
	if ch == nil {
		return nil, fmt.Errorf("broker channel not available")
	}

	deliveries, err := ch.Consume(queue, consumerTag, false, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to consume from %s: %w", queue, err)
	}

	out := make(chan Delivery)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case d, ok := <-deliveries:
				if !ok {
					return
				}
				out <- toDelivery(d)
			}
		}
	}()

	c.logger.Info("consumer started", "queue", queue, "consumer_tag", consumerTag)
	return out, nil
}

func toDelivery(d amqp.Delivery) Delivery {
	attempt := 1
	if raw, ok := d.Headers[AttemptHeader]; ok {
		switch v := raw.(type) {
		case int32:
			attempt = int(v)
		case int64:
			attempt = int(v)
		case int:
			attempt = v
		}
	}

	return Delivery{
		Body:    d.Body,
		Attempt: attempt,
		ack:     func() error { return d.Ack(false) },
		nack:    func(requeue bool) error { return d.Nack(false, requeue) },
	}
}
