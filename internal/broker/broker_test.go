package broker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/rabbitmq"
)

func setupBroker(t *testing.T) *Broker {
	ctx := context.Background()

	rabbitContainer, err := rabbitmq.Run(ctx,
		"rabbitmq:3.13-management-alpine",
		rabbitmq.WithAdminUsername("guest"),
		rabbitmq.WithAdminPassword("guest"),
	)
	if err != nil {
		t.Fatalf("failed to start rabbitmq container: %v", err)
	}
	t.Cleanup(func() {
		if err := rabbitContainer.Terminate(context.Background()); err != nil {
			t.Logf("failed to terminate rabbitmq container: %v", err)
		}
	})

	amqpURL, err := rabbitContainer.AmqpURL(ctx)
	require.NoError(t, err)

	b, err := New(ctx, Config{
		URL:            amqpURL,
		Exchange:       "notifications",
		EmailQueue:     "email",
		PushQueue:      "push",
		FailedQueue:    "failed",
		ReconnectDelay: 100 * time.Millisecond,
	}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() })

	return b
}

func TestBroker_NewDeclaresTopologyAndReportsHealthy(t *testing.T) {
	b := setupBroker(t)
	assert.True(t, b.Healthy())
	assert.NotNil(t, b.Channel())
}

func TestBroker_DeclaresDeadLetterExchangeAndFailedQueue(t *testing.T) {
	b := setupBroker(t)
	ch := b.Channel()

	require.NoError(t, ch.ExchangeDeclarePassive(deadLetterExchange, "direct", true, false, false, false, nil))

	q, err := ch.QueueInspect(b.cfg.FailedQueue)
	require.NoError(t, err)
	assert.Equal(t, "failed", q.Name)
}

func TestBroker_CloseMarksConnectionUnhealthy(t *testing.T) {
	b := setupBroker(t)
	require.NoError(t, b.Close())
	assert.False(t, b.Healthy())
}

func TestAMQPPublisher_PublishSucceedsAfterTopologyDeclared(t *testing.T) {
	b := setupBroker(t)
	pub := NewPublisher(b, nil)

	err := pub.Publish(context.Background(), PublishOptions{
		Exchange:   "notifications",
		RoutingKey: "email",
		Body:       []byte(`{"hello":"world"}`),
		Persistent: true,
		Headers:    map[string]interface{}{AttemptHeader: 1},
	})
	assert.NoError(t, err)
}

func TestAMQPPublisher_PublishFailsWhenChannelUnavailable(t *testing.T) {
	b := setupBroker(t)
	require.NoError(t, b.Close())
	pub := NewPublisher(b, nil)

	err := pub.Publish(context.Background(), PublishOptions{
		Exchange:   "notifications",
		RoutingKey: "email",
		Body:       []byte("x"),
	})
	assert.Error(t, err)
}

func TestAMQPConsumer_ConsumeReceivesPublishedMessageAndAcks(t *testing.T) {
	b := setupBroker(t)
	pub := NewPublisher(b, nil)
	con := NewConsumer(b, nil)

	require.NoError(t, pub.Publish(context.Background(), PublishOptions{
		Exchange:   "notifications",
		RoutingKey: "email",
		Body:       []byte(`{"msg":"hi"}`),
		Headers:    map[string]interface{}{AttemptHeader: int32(2)},
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	deliveries, err := con.Consume(ctx, "email", "test-consumer")
	require.NoError(t, err)

	select {
	case d := <-deliveries:
		assert.Equal(t, `{"msg":"hi"}`, string(d.Body))
		assert.Equal(t, 2, d.Attempt)
		assert.NoError(t, d.Ack())
	case <-time.After(4 * time.Second):
		t.Fatal("timed out waiting for delivery")
	}
}

func TestAMQPConsumer_ConsumeStopsWhenContextCancelled(t *testing.T) {
	b := setupBroker(t)
	con := NewConsumer(b, nil)

	ctx, cancel := context.WithCancel(context.Background())
	deliveries, err := con.Consume(ctx, "push", "test-consumer-2")
	require.NoError(t, err)

	cancel()

	select {
	case _, ok := <-deliveries:
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("delivery channel did not close after context cancellation")
	}
}
