package metrics

// RetryMetrics records outcomes for internal/core/resilience's retry loop.
// It is a thin view over Registry's retry collectors so callers that only
// retry (and don't care about HTTP/queue/cache metrics) can depend on the
// smaller interface.
type RetryMetrics struct {
	reg *Registry
}

// NewRetryMetrics returns a RetryMetrics backed by reg.
func NewRetryMetrics(reg *Registry) *RetryMetrics {
	return &RetryMetrics{reg: reg}
}

// RecordAttempt records a single retry attempt's outcome and latency.
func (m *RetryMetrics) RecordAttempt(operation, outcome, errorType string, durationSeconds float64) {
	if m == nil || m.reg == nil {
		return
	}
	m.reg.RetryAttemptsTotal.WithLabelValues(operation, outcome, errorType).Inc()
	m.reg.TransportDuration.WithLabelValues(operation, outcome).Observe(durationSeconds)
}

// RecordFinalAttempt records how many attempts an operation took once it
// stopped retrying, successfully or not.
func (m *RetryMetrics) RecordFinalAttempt(operation, outcome string, attempts int) {
	if m == nil || m.reg == nil {
		return
	}
	m.reg.RetryAttemptsTotal.WithLabelValues(operation, outcome, "final").Add(float64(attempts))
}

// RecordBackoff records the delay applied before a retry attempt.
func (m *RetryMetrics) RecordBackoff(operation string, delaySeconds float64) {
	if m == nil || m.reg == nil {
		return
	}
	m.reg.RetryBackoffSeconds.WithLabelValues(operation).Observe(delaySeconds)
}
