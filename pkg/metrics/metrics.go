package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Webhook metrics
	EventsReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bastion_events_received_total",
			Help: "Total number of inbound event deliveries by type",
		},
		[]string{"type"},
	)

	EventsProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bastion_events_processed_total",
			Help: "Total number of terminal event outcomes by result",
		},
		[]string{"result"},
	)

	EventRetries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "bastion_event_retries_total",
			Help: "Total number of retried processing attempts",
		},
	)

	EventsDeduplicated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "bastion_events_deduplicated_total",
			Help: "Total number of duplicate deliveries suppressed by the idempotency ledger",
		},
	)

	EventsRejected = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "bastion_events_rejected_total",
			Help: "Total number of deliveries rejected for invalid signatures",
		},
	)

	ProcessingDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "bastion_event_processing_duration_seconds",
			Help:    "End-to-end event processing duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	LifecycleEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bastion_lifecycle_events_total",
			Help: "Total number of internal lifecycle events observed by type",
		},
		[]string{"type"},
	)

	DeadLetterDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "bastion_dead_letter_depth",
			Help: "Number of events currently in the dead-letter store",
		},
	)

	// Role cache metrics
	CacheWrites = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "bastion_cache_writes_total",
			Help: "Total number of successful role cache writes",
		},
	)

	CacheWriteFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "bastion_cache_write_failures_total",
			Help: "Total number of absorbed role cache write failures",
		},
	)

	CacheHits = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "bastion_cache_hits_total",
			Help: "Total number of role cache hits",
		},
	)

	CacheMisses = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "bastion_cache_misses_total",
			Help: "Total number of role cache misses, including absorbed read failures",
		},
	)

	CacheInvalidations = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "bastion_cache_invalidations_total",
			Help: "Total number of role cache invalidations",
		},
	)

	// Circuit breaker metrics
	BreakerState = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "bastion_breaker_state",
			Help: "Circuit breaker state (0 = closed, 1 = half_open, 2 = open)",
		},
	)

	BreakerConsecutiveFailures = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "bastion_breaker_consecutive_failures",
			Help: "Consecutive failures observed by the circuit breaker",
		},
	)

	// HTTP metrics
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bastion_http_requests_total",
			Help: "Total number of HTTP requests by path and status",
		},
		[]string{"path", "status"},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(EventsReceived)
	prometheus.MustRegister(EventsProcessed)
	prometheus.MustRegister(EventRetries)
	prometheus.MustRegister(EventsDeduplicated)
	prometheus.MustRegister(EventsRejected)
	prometheus.MustRegister(ProcessingDuration)
	prometheus.MustRegister(LifecycleEvents)
	prometheus.MustRegister(DeadLetterDepth)
	prometheus.MustRegister(CacheWrites)
	prometheus.MustRegister(CacheWriteFailures)
	prometheus.MustRegister(CacheHits)
	prometheus.MustRegister(CacheMisses)
	prometheus.MustRegister(CacheInvalidations)
	prometheus.MustRegister(BreakerState)
	prometheus.MustRegister(BreakerConsecutiveFailures)
	prometheus.MustRegister(HTTPRequestsTotal)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
