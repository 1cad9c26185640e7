// Package broker wraps RabbitMQ (amqp091-go) connection management,
// topology declaration, publishing, and consumption behind small
// interfaces so the gateway and workers never touch the driver directly.
package broker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Config describes the exchange/queue topology and connection parameters.
type Config struct {
	URL            string
	Exchange       string
	EmailQueue     string
	PushQueue      string
	FailedQueue    string
	MaxAttempts    int
	ReconnectDelay time.Duration
	PrefetchCount  int
}

// Broker owns the AMQP connection and channel. It connects and declares the
// topology once, in New; a dropped connection is not re-established and
// ReconnectDelay is not used. It is safe for concurrent use by multiple publishers and
// consumers sharing the same connection.
type Broker struct {
	cfg    Config
	logger *slog.Logger

	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel
}

// New creates a Broker and performs the first connect-and-declare pass.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*Broker, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = 2 * time.Second
	}

	b := &Broker{cfg: cfg, logger: logger}
	if err := b.connect(); err != nil {
		return nil, err
	}
	if err := b.declareTopology(); err != nil {
		return nil, err
	}
	return b, nil
}

func (b *Broker) connect() error {
	conn, err := amqp.Dial(b.cfg.URL)
	if err != nil {
		return fmt.Errorf("failed to dial broker: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to open channel: %w", err)
	}
	if b.cfg.PrefetchCount > 0 {
		if err := ch.Qos(b.cfg.PrefetchCount, 0, false); err != nil {
			ch.Close()
			conn.Close()
			return fmt.Errorf("failed to set QoS: %w", err)
		}
	}

	b.mu.Lock()
	b.conn = conn
	b.ch = ch
	b.mu.Unlock()
	return nil
}

// deadLetterExchange is the direct exchange every work queue dead-letters
// into on TTL expiry or explicit nack; failedRoutingKey is the one routing
// key bound there, landing expired/exhausted messages in FailedQueue.
const (
	deadLetterExchange = "dlx.exchange"
	failedRoutingKey   = "failed"
	messageTTLMillis   = 3_600_000
)

// declareTopology declares the direct exchange carrying notification and
// template-update traffic, the per-type work queues, the shared dead-letter
// exchange they all drain into, and the failed-message queue bound to it.
func (b *Broker) declareTopology() error {
	b.mu.Lock()
	ch := b.ch
	b.mu.Unlock()

	if err := ch.ExchangeDeclare(b.cfg.Exchange, amqp.ExchangeDirect, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare exchange: %w", err)
	}

	if err := ch.ExchangeDeclare(deadLetterExchange, amqp.ExchangeDirect, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare dead-letter exchange: %w", err)
	}

	dlArgs := amqp.Table{
		"x-dead-letter-exchange":    deadLetterExchange,
		"x-dead-letter-routing-key": failedRoutingKey,
		"x-message-ttl":             int32(messageTTLMillis),
	}

	queues := []string{b.cfg.EmailQueue, b.cfg.PushQueue}
	for _, q := range queues {
		if _, err := ch.QueueDeclare(q, true, false, false, false, dlArgs); err != nil {
			return fmt.Errorf("failed to declare queue %s: %w", q, err)
		}
		if err := ch.QueueBind(q, q, b.cfg.Exchange, false, nil); err != nil {
			return fmt.Errorf("failed to bind queue %s: %w", q, err)
		}
	}

	if b.cfg.FailedQueue != "" {
		if _, err := ch.QueueDeclare(b.cfg.FailedQueue, true, false, false, false, dlArgs); err != nil {
			return fmt.Errorf("failed to declare failed queue: %w", err)
		}
		if err := ch.QueueBind(b.cfg.FailedQueue, failedRoutingKey, deadLetterExchange, false, nil); err != nil {
			return fmt.Errorf("failed to bind failed queue to dead-letter exchange: %w", err)
		}
	}

	// template.updated carries no payload-routed queue of its own; consumers
	// that care bind their own transient queue to this routing key, so no
	// binding for it is declared here.

	b.logger.Info("broker topology declared", "exchange", b.cfg.Exchange, "dlx", deadLetterExchange, "queues", queues)
	return nil
}

// Channel returns the current channel for low-level use by Publisher/Consumer.
func (b *Broker) Channel() *amqp.Channel {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ch
}

// Healthy reports whether the broker connection and channel are currently
// open, for use by the health aggregator (C8). It never round-trips a
// message; a closed channel is the only failure signal it looks at.
func (b *Broker) Healthy() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.conn != nil && !b.conn.IsClosed() && b.ch != nil
}

// Close tears down the channel and connection.
func (b *Broker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.ch != nil {
		b.ch.Close()
	}
	if b.conn != nil {
		return b.conn.Close()
	}
	return nil
}
