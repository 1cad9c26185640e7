// Package breaker implements a circuit breaker whose state is shared across
// replicas via the cache (Redis), so every gateway/worker instance agrees on
// whether a downstream resource is healthy.
package breaker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/notifyhub/platform/internal/infrastructure/cache"
	"github.com/notifyhub/platform/internal/metrics"
)

// State is one of the three circuit breaker states.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half_open"
)

func (s State) gaugeValue() float64 {
	switch s {
	case StateHalfOpen:
		return 1
	case StateOpen:
		return 2
	default:
		return 0
	}
}

// Config configures a Breaker's thresholds.
type Config struct {
	FailureThreshold int           // consecutive failures before tripping open
	SuccessThreshold int           // consecutive half-open successes before closing
	OpenTimeout      time.Duration // how long to stay open before probing again
}

// DefaultConfig returns sane defaults for an external dependency.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		OpenTimeout:      30 * time.Second,
	}
}

// keyTTLSlack is added on top of OpenTimeout when expiring the shared
// open_time/state keys, so a stalled half-open probe can't let them vanish
// mid-check. Keeps the resulting TTL within the spec's 60-120s band for the
// timeouts this breaker is actually configured with.
const keyTTLSlack = 60 * time.Second

// keyTTL returns the expiration applied to the shared circuit-state keys:
// long enough to outlive one open period, short enough that a breaker which
// stops being touched eventually reverts to the absent-key CLOSED default.
func (b *Breaker) keyTTL() time.Duration {
	return b.cfg.OpenTimeout + keyTTLSlack
}

// Breaker is a named, Redis-backed circuit breaker. Scope identifies the
// protected resource (e.g. "smtp", "fcm", "template-cache") so distinct
// resources never share counters.
type Breaker struct {
	scope   string
	cache   cache.Cache
	cfg     Config
	logger  *slog.Logger
	metrics *metrics.Registry
}

// New creates a Breaker for scope, backed by c for shared state.
func New(scope string, c cache.Cache, cfg Config, logger *slog.Logger, reg *metrics.Registry) *Breaker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Breaker{scope: scope, cache: c, cfg: cfg, logger: logger, metrics: reg}
}

func (b *Breaker) key(suffix string) string {
	return fmt.Sprintf("circuit:%s:%s", b.scope, suffix)
}

// CanAttempt reports whether a call against the protected resource should be
// allowed right now. When the breaker is open past its timeout, it flips to
// half-open and lets the call through. While half-open, every call is let
// through until SuccessThreshold successes close the breaker or a failure
// re-opens it.
func (b *Breaker) CanAttempt(ctx context.Context) (bool, error) {
	state, err := b.stateOf(ctx)
	if err != nil {
		return false, err
	}

	switch state {
	case StateClosed, StateHalfOpen:
		return true, nil
	case StateOpen:
		openedAt, err := b.openedAt(ctx)
		if err != nil {
			return false, err
		}
		if time.Since(openedAt) <= b.cfg.OpenTimeout {
			return false, nil
		}
		// Timeout elapsed: move to half-open and let this call through.
		if err := b.transition(ctx, StateHalfOpen); err != nil {
			return false, err
		}
		return true, nil
	default:
		return true, nil
	}
}

// RecordSuccess records a successful call. In half-open state this may close
// the breaker once SuccessThreshold consecutive successes accrue; in closed
// state it resets the failure counter.
func (b *Breaker) RecordSuccess(ctx context.Context) error {
	state, err := b.stateOf(ctx)
	if err != nil {
		return err
	}

	switch state {
	case StateHalfOpen:
		successes, err := b.cache.Incr(ctx, b.key("successes"))
		if err != nil {
			return err
		}
		if int(successes) >= b.cfg.SuccessThreshold {
			return b.reset(ctx)
		}
		return nil
	case StateOpen:
		return nil
	default:
		return b.cache.Delete(ctx, b.key("failures"))
	}
}

// RecordFailure records a failed call. In closed state this may trip the
// breaker open once FailureThreshold consecutive failures accrue; in
// half-open state a single failure immediately re-opens it.
func (b *Breaker) RecordFailure(ctx context.Context) error {
	state, err := b.stateOf(ctx)
	if err != nil {
		return err
	}

	switch state {
	case StateHalfOpen:
		return b.trip(ctx)
	case StateOpen:
		return nil
	default:
		failures, err := b.cache.Incr(ctx, b.key("failures"))
		if err != nil {
			return err
		}
		if int(failures) >= b.cfg.FailureThreshold {
			return b.trip(ctx)
		}
		return nil
	}
}

// State returns the breaker's current state.
func (b *Breaker) State(ctx context.Context) (State, error) {
	return b.stateOf(ctx)
}

// Reset forces the breaker back to closed, clearing all counters. Intended
// for operator-triggered recovery, not normal operation.
func (b *Breaker) Reset(ctx context.Context) error {
	return b.reset(ctx)
}

func (b *Breaker) trip(ctx context.Context) error {
	_ = b.cache.Delete(ctx, b.key("successes"))
	if err := b.cache.Set(ctx, b.key("open_time"), time.Now().UTC(), b.keyTTL()); err != nil {
		return err
	}
	if err := b.transition(ctx, StateOpen); err != nil {
		return err
	}
	if b.metrics != nil {
		b.metrics.BreakerTrips.WithLabelValues(b.scope).Inc()
	}
	b.logger.Warn("circuit breaker opened", "scope", b.scope)
	return nil
}

func (b *Breaker) reset(ctx context.Context) error {
	_ = b.cache.Delete(ctx, b.key("failures"))
	_ = b.cache.Delete(ctx, b.key("successes"))
	_ = b.cache.Delete(ctx, b.key("open_time"))
	return b.transition(ctx, StateClosed)
}

func (b *Breaker) transition(ctx context.Context, state State) error {
	if err := b.cache.Set(ctx, b.key("state"), string(state), b.keyTTL()); err != nil {
		return err
	}
	if b.metrics != nil {
		b.metrics.BreakerState.WithLabelValues(b.scope).Set(state.gaugeValue())
	}
	b.logger.Info("circuit breaker state changed", "scope", b.scope, "state", state)
	return nil
}

func (b *Breaker) stateOf(ctx context.Context) (State, error) {
	var raw string
	err := b.cache.Get(ctx, b.key("state"), &raw)
	if err != nil {
		if cache.IsNotFound(err) {
			return StateClosed, nil
		}
		return StateClosed, err
	}
	return State(raw), nil
}

func (b *Breaker) openedAt(ctx context.Context) (time.Time, error) {
	var t time.Time
	if err := b.cache.Get(ctx, b.key("open_time"), &t); err != nil {
		if cache.IsNotFound(err) {
			return time.Now(), nil
		}
		return time.Time{}, err
	}
	return t, nil
}
