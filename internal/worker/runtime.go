package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/notifyhub/platform/internal/audit"
	"github.com/notifyhub/platform/internal/breaker"
	businesstemplate "github.com/notifyhub/platform/internal/business/template"
	"github.com/notifyhub/platform/internal/broker"
	"github.com/notifyhub/platform/internal/metrics"
	"github.com/notifyhub/platform/internal/notifications"
)

// dispatchEnvelope mirrors the wire shape the gateway publishes (see
// internal/api/handlers.dispatchEnvelope); duplicated here deliberately so
// the worker has no compile-time dependency on the HTTP handler package.
type dispatchEnvelope struct {
	NotificationID    string                 `json:"notification_id"`
	IdempotencyKey    string                 `json:"idempotency_key"`
	UserID            string                 `json:"user_id"`
	PushToken         string                 `json:"push_token,omitempty"`
	Email             string                 `json:"email,omitempty"`
	CreatedBy         string                 `json:"created_by"`
	Timestamp         time.Time              `json:"timestamp"`
	NotificationType  string                 `json:"notification_type"`
	TemplateCode      string                 `json:"template_code"`
	Variables         map[string]string      `json:"variables"`
	Priority          int                    `json:"priority"`
	Metadata          map[string]interface{} `json:"metadata,omitempty"`
}

// dlqEnvelope is published to the shared failed-message queue once retries
// are exhausted or a failure is classified non-retryable.
type dlqEnvelope struct {
	OriginalMessage json.RawMessage `json:"original_message"`
	FailureReason   string          `json:"failure_reason"`
	FailedAt        time.Time       `json:"failed_at"`
}

// Config configures one Runtime instance.
type Config struct {
	Queue           string
	FailedQueue     string
	ConsumerTag     string
	DefaultLanguage string
	MaxAttempts     int
	BaseDelay       time.Duration
	MaxDelay        time.Duration
}

// DefaultConfig returns the retry schedule from §4.7: base 1s, cap 60s, up
// to 3 attempts before escalating to the shared failed-message queue.
func DefaultConfig(queue, failedQueue, consumerTag string) Config {
	return Config{
		Queue: queue, FailedQueue: failedQueue, ConsumerTag: consumerTag,
		DefaultLanguage: "en", MaxAttempts: 3, BaseDelay: time.Second, MaxDelay: 60 * time.Second,
	}
}

// Runtime services a single queue end-to-end: idempotent dedupe, template
// resolution and rendering, transport dispatch behind a circuit breaker,
// and the retry/DLQ escalation schedule (C7).
type Runtime struct {
	cfg Config

	consumer    broker.Consumer
	publisher   broker.Publisher
	idempotency *notifications.IdempotencyStore
	status      *notifications.StatusStore
	resolver    businesstemplate.TemplateResolver
	audit       audit.Repository
	transport   Transport
	transportBr *breaker.Breaker
	metrics     *metrics.Registry
	logger      *slog.Logger
}

// New wires a Runtime's collaborators.
func New(
	cfg Config,
	consumer broker.Consumer,
	publisher broker.Publisher,
	idempotency *notifications.IdempotencyStore,
	status *notifications.StatusStore,
	resolver businesstemplate.TemplateResolver,
	auditRepo audit.Repository,
	transport Transport,
	transportBr *breaker.Breaker,
	reg *metrics.Registry,
	logger *slog.Logger,
) *Runtime {
	if logger == nil {
		logger = slog.Default()
	}
	if reg == nil {
		reg = metrics.Default()
	}
	return &Runtime{
		cfg: cfg, consumer: consumer, publisher: publisher, idempotency: idempotency,
		status: status, resolver: resolver, audit: auditRepo, transport: transport,
		transportBr: transportBr, metrics: reg, logger: logger,
	}
}

// Run subscribes to the configured queue and processes deliveries until ctx
// is cancelled. Each delivery is handled in its own goroutine so a single
// in-flight message's backoff sleep never blocks the rest of the prefetch
// window.
func (rt *Runtime) Run(ctx context.Context) error {
	deliveries, err := rt.consumer.Consume(ctx, rt.cfg.Queue, rt.cfg.ConsumerTag)
	if err != nil {
		return fmt.Errorf("failed to start consuming %s: %w", rt.cfg.Queue, err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				return nil
			}
			go rt.handle(ctx, d)
		}
	}
}

// handle runs the full per-message algorithm from §4.7, recovering from any
// panic so a single malformed message can never take down the consumer
// loop; a recovered panic requeues the message for another attempt.
func (rt *Runtime) handle(ctx context.Context, d broker.Delivery) {
	defer func() {
		if r := recover(); r != nil {
			rt.logger.Error("panic handling delivery, requeueing", "queue", rt.cfg.Queue, "panic", r)
			_ = d.Nack(true)
		}
	}()

	rt.metrics.QueueProcessedTotal.WithLabelValues(rt.cfg.Queue).Inc()

	var env dispatchEnvelope
	if err := json.Unmarshal(d.Body, &env); err != nil {
		rt.logger.Error("failed to decode delivery, dropping", "queue", rt.cfg.Queue, "error", err)
		rt.publishDLQ(ctx, d.Body, "malformed message: "+err.Error())
		_ = d.Ack()
		return
	}

	reserved, current, err := rt.idempotency.Reserve(ctx, env.NotificationID)
	if err != nil {
		rt.logger.Error("idempotency reservation failed, requeueing", "request_id", env.NotificationID, "error", err)
		_ = d.Nack(true)
		return
	}
	if !reserved {
		switch current {
		case notifications.StateSent:
			_ = d.Ack()
		case notifications.StateFailed:
			_ = d.Ack()
		default: // processing: another worker owns this delivery right now
			_ = d.Nack(true)
		}
		return
	}

	_ = rt.status.UpdateStatus(ctx, env.NotificationID, notifications.StatusPending)

	language := rt.cfg.DefaultLanguage
	if lang, ok := env.Metadata["language"].(string); ok && lang != "" {
		language = lang
	}

	tpl, err := rt.resolver.Resolve(ctx, env.TemplateCode, language, 0)
	if err != nil {
		rt.logger.Warn("template fetch failed, failing message", "request_id", env.NotificationID, "error", err)
		rt.fail(ctx, d, env, fmt.Sprintf("template fetch failed: %v", err))
		return
	}

	rendered := businesstemplate.Render(tpl.Content, env.Variables)

	recipient := env.Email
	if env.NotificationType == "push" {
		recipient = env.PushToken
	}

	start := time.Now()
	sendErr := rt.dispatch(ctx, Message{
		NotificationID: env.NotificationID,
		Recipient:      recipient,
		Subject:        env.Variables["subject"],
		Body:           rendered,
	})
	rt.metrics.TransportDuration.WithLabelValues(rt.transport.Name(), outcomeLabel(sendErr)).Observe(time.Since(start).Seconds())

	if sendErr == nil {
		rt.succeed(ctx, d, env)
		return
	}

	rt.retryOrFail(ctx, d, env, sendErr)
}

func outcomeLabel(err error) string {
	if err == nil {
		return "success"
	}
	return "failure"
}

// dispatch gates the transport call behind the shared breaker: a denied
// attempt counts as a failure without ever touching the network.
func (rt *Runtime) dispatch(ctx context.Context, msg Message) error {
	allowed, err := rt.transportBr.CanAttempt(ctx)
	if err != nil {
		rt.logger.Warn("breaker check failed, defaulting to allow", "resource", rt.transport.Name(), "error", err)
		allowed = true
	}
	if !allowed {
		return &TransportError{Err: fmt.Errorf("%s circuit breaker open", rt.transport.Name()), Retryable: true}
	}

	sendCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := rt.transport.Send(sendCtx, msg); err != nil {
		_ = rt.transportBr.RecordFailure(ctx)
		return err
	}
	_ = rt.transportBr.RecordSuccess(ctx)
	return nil
}

func (rt *Runtime) succeed(ctx context.Context, d broker.Delivery, env dispatchEnvelope) {
	if err := rt.idempotency.MarkSent(ctx, env.NotificationID); err != nil {
		rt.logger.Warn("failed to mark idempotency sent", "request_id", env.NotificationID, "error", err)
	}
	rt.appendAudit(ctx, env, audit.StatusSent, "")
	if err := rt.status.UpdateStatus(ctx, env.NotificationID, notifications.StatusDelivered); err != nil {
		rt.logger.Warn("failed to update status to delivered", "request_id", env.NotificationID, "error", err)
	}
	rt.metrics.QueueDeliveredTotal.WithLabelValues(rt.cfg.Queue).Inc()
	_ = d.Ack()
}

// retryOrFail classifies sendErr and either schedules a backoff-delayed
// republish (incrementing the attempt header) or escalates to the terminal
// failure path.
func (rt *Runtime) retryOrFail(ctx context.Context, d broker.Delivery, env dispatchEnvelope, sendErr error) {
	retryable := true
	if te, ok := sendErr.(*TransportError); ok {
		retryable = te.Retryable
	}

	rt.metrics.QueueFailedTotal.WithLabelValues(rt.cfg.Queue, fmt.Sprintf("%t", retryable)).Inc()

	if retryable && d.Attempt < rt.cfg.MaxAttempts {
		rt.scheduleRetry(ctx, d, env, d.Attempt)
		return
	}

	rt.fail(ctx, d, env, sendErr.Error())
}

// scheduleRetry sleeps for an exponentially-backed-off, jittered delay
// (clamped to MaxDelay) then republishes env with an incremented attempt
// count, acknowledging the original delivery once the republish succeeds.
func (rt *Runtime) scheduleRetry(ctx context.Context, d broker.Delivery, env dispatchEnvelope, attempt int) {
	delay := backoffDelay(rt.cfg.BaseDelay, rt.cfg.MaxDelay, attempt)
	rt.metrics.RetryAttemptsTotal.WithLabelValues(rt.cfg.Queue, "scheduled", "retryable").Inc()
	rt.metrics.RetryBackoffSeconds.WithLabelValues(rt.cfg.Queue).Observe(delay.Seconds())

	select {
	case <-ctx.Done():
		_ = d.Nack(true)
		return
	case <-time.After(delay):
	}

	body, err := json.Marshal(env)
	if err != nil {
		rt.logger.Error("failed to re-marshal envelope for retry", "request_id", env.NotificationID, "error", err)
		_ = d.Nack(true)
		return
	}

	if err := rt.publisher.Publish(ctx, broker.PublishOptions{
		Exchange:   "",
		RoutingKey: rt.cfg.Queue,
		Body:       body,
		Persistent: true,
		Headers:    map[string]interface{}{broker.AttemptHeader: attempt + 1},
	}); err != nil {
		rt.logger.Error("failed to republish retry, requeueing original", "request_id", env.NotificationID, "error", err)
		_ = d.Nack(true)
		return
	}

	_ = d.Ack()
}

// fail marks the message's terminal failure outcome: idempotency -> failed,
// an audit row, a DLQ envelope, the status record -> failed, and
// acknowledgement of the original delivery.
func (rt *Runtime) fail(ctx context.Context, d broker.Delivery, env dispatchEnvelope, reason string) {
	if err := rt.idempotency.MarkFailed(ctx, env.NotificationID); err != nil {
		rt.logger.Warn("failed to mark idempotency failed", "request_id", env.NotificationID, "error", err)
	}
	rt.appendAudit(ctx, env, audit.StatusFailed, reason)
	if err := rt.status.UpdateStatus(ctx, env.NotificationID, notifications.StatusFailed); err != nil {
		rt.logger.Warn("failed to update status to failed", "request_id", env.NotificationID, "error", err)
	}

	body, _ := json.Marshal(env)
	rt.publishDLQ(ctx, body, reason)
	rt.metrics.QueueDLQTotal.WithLabelValues(rt.cfg.Queue).Inc()
	_ = d.Ack()
}

func (rt *Runtime) publishDLQ(ctx context.Context, original json.RawMessage, reason string) {
	envelope := dlqEnvelope{OriginalMessage: original, FailureReason: reason, FailedAt: time.Now()}
	body, err := json.Marshal(envelope)
	if err != nil {
		rt.logger.Error("failed to marshal DLQ envelope", "error", err)
		return
	}

	if err := rt.publisher.Publish(ctx, broker.PublishOptions{
		Exchange:   "",
		RoutingKey: rt.cfg.FailedQueue,
		Body:       body,
		Persistent: true,
	}); err != nil {
		rt.logger.Error("failed to publish to failed queue", "queue", rt.cfg.FailedQueue, "error", err)
	}
}

func (rt *Runtime) appendAudit(ctx context.Context, env dispatchEnvelope, status audit.Status, reason string) {
	if err := rt.audit.Append(ctx, audit.Row{
		TraceID:          env.NotificationID,
		UserID:           env.UserID,
		NotificationType: env.NotificationType,
		TemplateCode:     env.TemplateCode,
		Status:           status,
		ErrorMessage:     reason,
	}); err != nil {
		rt.logger.Warn("failed to append audit row", "request_id", env.NotificationID, "error", err)
	}
}

// backoffDelay computes base*2^attempt with independently-randomized
// jitter, clamped to max.
func backoffDelay(base, max time.Duration, attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	delay := base * time.Duration(1<<uint(attempt))
	if delay > max || delay <= 0 {
		delay = max
	}
	jitter := time.Duration(rand.Int63n(int64(delay) + 1))
	total := delay/2 + jitter/2
	if total > max {
		total = max
	}
	return total
}
