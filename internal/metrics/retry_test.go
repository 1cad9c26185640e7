package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetryMetrics_RecordAttemptUpdatesCountersAndHistogram(t *testing.T) {
	reg := New("test")
	rm := NewRetryMetrics(reg)

	rm.RecordAttempt("send_email", "success", "", 0.25)

	assert.Equal(t, float64(1), testutil.ToFloat64(reg.RetryAttemptsTotal.WithLabelValues("send_email", "success", "")))
	assert.Equal(t, 1, testutil.CollectAndCount(reg.TransportDuration))
}

func TestRetryMetrics_RecordFinalAttemptAddsAttemptCount(t *testing.T) {
	reg := New("test")
	rm := NewRetryMetrics(reg)

	rm.RecordFinalAttempt("send_push", "failed", 3)

	assert.Equal(t, float64(3), testutil.ToFloat64(reg.RetryAttemptsTotal.WithLabelValues("send_push", "failed", "final")))
}

func TestRetryMetrics_RecordBackoffObservesHistogram(t *testing.T) {
	reg := New("test")
	rm := NewRetryMetrics(reg)

	require.NotPanics(t, func() { rm.RecordBackoff("send_email", 1.5) })
	assert.Equal(t, 1, testutil.CollectAndCount(reg.RetryBackoffSeconds))
}

func TestRetryMetrics_NilReceiverIsNoop(t *testing.T) {
	var rm *RetryMetrics
	require.NotPanics(t, func() {
		rm.RecordAttempt("op", "success", "", 0.1)
		rm.RecordFinalAttempt("op", "success", 1)
		rm.RecordBackoff("op", 0.1)
	})
}

func TestRetryMetrics_NilRegistryIsNoop(t *testing.T) {
	rm := NewRetryMetrics(nil)
	require.NotPanics(t, func() {
		rm.RecordAttempt("op", "success", "", 0.1)
		rm.RecordFinalAttempt("op", "success", 1)
		rm.RecordBackoff("op", 0.1)
	})
}
