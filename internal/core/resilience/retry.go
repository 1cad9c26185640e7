// Package resilience provides reliability patterns for distributed systems:
// retry with exponential backoff and jitter, wrapped around any fallible
// operation.
package resilience

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/notifyhub/platform/internal/metrics"
)

// RetryableErrorChecker decides whether an error returned by an operation is
// worth retrying. Implementations typically inspect sentinel errors or
// wrapped status codes.
type RetryableErrorChecker interface {
	IsRetryable(err error) bool
}

// RetryPolicy configures WithRetry and WithRetryFunc.
type RetryPolicy struct {
	MaxRetries    int
	BaseDelay     time.Duration
	MaxDelay      time.Duration
	Multiplier    float64
	Jitter        bool
	ErrorChecker  RetryableErrorChecker
	Metrics       *metrics.RetryMetrics
	OperationName string
}

// DefaultRetryPolicy returns a conservative policy suited to synchronous,
// user-facing calls: three retries, 100ms base delay doubling up to 5s, with
// jitter to avoid thundering-herd retries across replicas.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: 3,
		BaseDelay:  100 * time.Millisecond,
		MaxDelay:   5 * time.Second,
		Multiplier: 2.0,
		Jitter:     true,
	}
}

// WithRetry runs operation, retrying on retryable failures according to
// policy. It returns the last error if every attempt fails, or nil as soon as
// one attempt succeeds.
func WithRetry(ctx context.Context, policy RetryPolicy, operation func() error) error {
	var lastErr error

	for attempt := 0; attempt <= policy.MaxRetries; attempt++ {
		start := time.Now()
		err := operation()
		duration := time.Since(start).Seconds()

		if err == nil {
			recordAttempt(policy, "success", "", duration)
			recordFinal(policy, "success", attempt+1)
			return nil
		}

		lastErr = err

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			recordAttempt(policy, "cancelled", errorType(err), duration)
			recordFinal(policy, "cancelled", attempt+1)
			return err
		}

		recordAttempt(policy, "failure", errorType(err), duration)

		if !shouldRetry(policy, err) || attempt == policy.MaxRetries {
			recordFinal(policy, "failure", attempt+1)
			return lastErr
		}

		delay := calculateNextDelay(policy, attempt)
		if policy.Metrics != nil {
			policy.Metrics.RecordBackoff(policy.OperationName, delay.Seconds())
		}

		if err := waitWithContext(ctx, delay); err != nil {
			return err
		}
	}

	return lastErr
}

// WithRetryFunc is the generic variant of WithRetry for operations that
// produce a value alongside their error.
func WithRetryFunc[T any](ctx context.Context, policy RetryPolicy, operation func() (T, error)) (T, error) {
	var (
		zero    T
		lastVal T
		lastErr error
	)

	for attempt := 0; attempt <= policy.MaxRetries; attempt++ {
		start := time.Now()
		val, err := operation()
		duration := time.Since(start).Seconds()

		if err == nil {
			recordAttempt(policy, "success", "", duration)
			recordFinal(policy, "success", attempt+1)
			return val, nil
		}

		lastVal, lastErr = val, err

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			recordAttempt(policy, "cancelled", errorType(err), duration)
			recordFinal(policy, "cancelled", attempt+1)
			return zero, err
		}

		recordAttempt(policy, "failure", errorType(err), duration)

		if !shouldRetry(policy, err) || attempt == policy.MaxRetries {
			recordFinal(policy, "failure", attempt+1)
			return lastVal, lastErr
		}

		delay := calculateNextDelay(policy, attempt)
		if policy.Metrics != nil {
			policy.Metrics.RecordBackoff(policy.OperationName, delay.Seconds())
		}

		if err := waitWithContext(ctx, delay); err != nil {
			return zero, err
		}
	}

	return lastVal, lastErr
}

func shouldRetry(policy RetryPolicy, err error) bool {
	if policy.ErrorChecker == nil {
		return true
	}
	return policy.ErrorChecker.IsRetryable(err)
}

func waitWithContext(ctx context.Context, delay time.Duration) error {
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func calculateNextDelay(policy RetryPolicy, attempt int) time.Duration {
	delay := float64(policy.BaseDelay) * pow(policy.Multiplier, attempt)
	if max := float64(policy.MaxDelay); delay > max {
		delay = max
	}

	if policy.Jitter {
		delay += delay * 0.1 * rand.Float64()
	}

	return time.Duration(delay)
}

func pow(base float64, exp int) float64 {
	result := 1.0
	for i := 0; i < exp; i++ {
		result *= base
	}
	return result
}

func recordAttempt(policy RetryPolicy, outcome, errType string, durationSeconds float64) {
	if policy.Metrics == nil {
		return
	}
	policy.Metrics.RecordAttempt(policy.OperationName, outcome, errType, durationSeconds)
}

func recordFinal(policy RetryPolicy, outcome string, attempts int) {
	if policy.Metrics == nil {
		return
	}
	policy.Metrics.RecordFinalAttempt(policy.OperationName, outcome, attempts)
}

func errorType(err error) string {
	if err == nil {
		return ""
	}
	return "error"
}
