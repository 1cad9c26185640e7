// Package metrics provides the Prometheus collectors shared across the gateway,
// worker, and template-service binaries.
//
// All metrics follow the naming convention:
// notifyhub_<subsystem>_<metric_name>_<unit>
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Registry is the central collection of Prometheus collectors for this service.
// Safe for concurrent use; obtain the process-wide instance via Default().
type Registry struct {
	namespace string

	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec

	BreakerState *prometheus.GaugeVec
	BreakerTrips *prometheus.CounterVec

	QueueProcessedTotal *prometheus.CounterVec
	QueueDeliveredTotal *prometheus.CounterVec
	QueueFailedTotal    *prometheus.CounterVec
	QueueDLQTotal       *prometheus.CounterVec

	RenderDuration    *prometheus.HistogramVec
	TransportDuration *prometheus.HistogramVec

	RetryAttemptsTotal  *prometheus.CounterVec
	RetryBackoffSeconds *prometheus.HistogramVec

	CacheHitsTotal   *prometheus.CounterVec
	CacheMissesTotal *prometheus.CounterVec
}

var (
	defaultRegistry     *Registry
	defaultRegistryOnce sync.Once
)

// Default returns the process-wide singleton Registry, registered against the
// global Prometheus registry on first use.
func Default() *Registry {
	defaultRegistryOnce.Do(func() {
		defaultRegistry = New("notifyhub")
		defaultRegistry.MustRegister(prometheus.DefaultRegisterer)
	})
	return defaultRegistry
}

// New builds a Registry with the given metric namespace without registering it.
// Use MustRegister to attach it to a prometheus.Registerer (tests typically use
// a fresh prometheus.NewRegistry() to avoid collisions with the default one).
func New(namespace string) *Registry {
	if namespace == "" {
		namespace = "notifyhub"
	}

	return &Registry{
		namespace: namespace,

		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "http", Name: "requests_total",
			Help: "Total HTTP requests handled, by method/path/status.",
		}, []string{"method", "path", "status"}),

		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "http", Name: "request_duration_seconds",
			Help: "HTTP request latency.", Buckets: prometheus.DefBuckets,
		}, []string{"method", "path"}),

		BreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "breaker", Name: "state",
			Help: "Circuit breaker state per resource (0=closed, 1=half_open, 2=open).",
		}, []string{"resource"}),

		BreakerTrips: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "breaker", Name: "trips_total",
			Help: "Total times a circuit breaker opened, by resource.",
		}, []string{"resource"}),

		QueueProcessedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "worker", Name: "processed_total",
			Help: "Total messages picked up from a queue, by queue.",
		}, []string{"queue"}),

		QueueDeliveredTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "worker", Name: "delivered_total",
			Help: "Total notifications successfully delivered, by queue.",
		}, []string{"queue"}),

		QueueFailedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "worker", Name: "failed_total",
			Help: "Total notification delivery failures, by queue and retryability.",
		}, []string{"queue", "retryable"}),

		QueueDLQTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "worker", Name: "dlq_total",
			Help: "Total messages routed to the dead-letter exchange, by queue.",
		}, []string{"queue"}),

		RenderDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "template", Name: "render_duration_seconds",
			Help: "Template rendering latency.", Buckets: prometheus.DefBuckets,
		}, []string{"code"}),

		TransportDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "transport", Name: "send_duration_seconds",
			Help: "Outbound transport call latency.", Buckets: prometheus.DefBuckets,
		}, []string{"transport", "outcome"}),

		RetryAttemptsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "retry", Name: "attempts_total",
			Help: "Retry attempts, by operation and outcome.",
		}, []string{"operation", "outcome", "error_type"}),

		RetryBackoffSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "retry", Name: "backoff_seconds",
			Help: "Backoff delay applied before a retry.", Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),

		CacheHitsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "cache", Name: "hits_total",
			Help: "Cache hits, by tier.",
		}, []string{"tier"}),

		CacheMissesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "cache", Name: "misses_total",
			Help: "Cache misses, by tier.",
		}, []string{"tier"}),
	}
}

// MustRegister registers every collector against r. Panics on duplicate
// registration, matching prometheus' own MustRegister convention.
func (r *Registry) MustRegister(reg prometheus.Registerer) {
	reg.MustRegister(
		r.HTTPRequestsTotal, r.HTTPRequestDuration,
		r.BreakerState, r.BreakerTrips,
		r.QueueProcessedTotal, r.QueueDeliveredTotal, r.QueueFailedTotal, r.QueueDLQTotal,
		r.RenderDuration, r.TransportDuration,
		r.RetryAttemptsTotal, r.RetryBackoffSeconds,
		r.CacheHitsTotal, r.CacheMissesTotal,
	)
}
