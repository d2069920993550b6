// Package metrics provides Prometheus metrics for generation orchestration.
// It tracks generations, provider attempts, cache lookups, queue depth and
// provider status.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "genmux"
)

// LatencyBuckets defines histogram buckets for generation latency (in seconds).
// Image generation is slow; buckets reach five minutes.
var LatencyBuckets = []float64{
	0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.0, 3.0, 5.0,
	7.5, 10.0, 15.0, 20.0, 30.0, 45.0, 60.0, 90.0,
	120.0, 180.0, 300.0,
}

// =============================================================================
// Generation Metrics
// =============================================================================

var (
	// GenerationsTotal counts terminal generations.
	GenerationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generations_total",
			Help:      "Total number of terminal generations",
		},
		[]string{"provider", "status", "cache"},
	)

	// GenerationLatency tracks end-to-end latency of dispatched generations.
	GenerationLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "generation_latency_seconds",
			Help:      "End-to-end generation latency in seconds",
			Buckets:   LatencyBuckets,
		},
		[]string{"provider"},
	)

	// SpendTotal tracks advertised spend.
	SpendTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "spend_total",
			Help:      "Total advertised spend in USD",
		},
		[]string{"provider"},
	)
)

// =============================================================================
// Provider Metrics
// =============================================================================

var (
	// ProviderAttempts counts adapter dispatches by outcome code.
	ProviderAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_attempts_total",
			Help:      "Total adapter dispatches by outcome",
		},
		[]string{"provider", "outcome"},
	)

	// ProviderLatency tracks adapter call latency.
	ProviderLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "provider_latency_seconds",
			Help:      "Adapter call latency in seconds",
			Buckets:   LatencyBuckets,
		},
		[]string{"provider"},
	)

	// ProviderStatus is 1 for the provider's current status and 0 otherwise.
	ProviderStatus = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "provider_status",
			Help:      "Observed provider status (1 = current)",
		},
		[]string{"provider", "status"},
	)
)

// =============================================================================
// Cache and Queue Metrics
// =============================================================================

var (
	// CacheLookups counts cache lookups by result (hit, miss, error).
	CacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      "Total cache lookups by result",
		},
		[]string{"result"},
	)

	// CacheErrors counts swallowed cache store errors by operation.
	CacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_errors_total",
			Help:      "Total cache store errors by operation",
		},
		[]string{"operation"},
	)

	// QueueWaiting is the number of queued jobs.
	QueueWaiting = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_waiting",
			Help:      "Number of jobs waiting for a worker",
		},
	)

	// QueueActive is the number of jobs being dispatched.
	QueueActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_active",
			Help:      "Number of jobs being dispatched",
		},
	)

	// QueueDeduplicated counts submissions attached to an existing job.
	QueueDeduplicated = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queue_deduplicated_total",
			Help:      "Total submissions joined to an in-flight generation",
		},
	)
)

// KnownStatuses lists the provider status label values.
var KnownStatuses = []string{"online", "offline", "maintenance", "rate_limited"}

// RecordGeneration records a terminal generation.
func RecordGeneration(provider, status string, cacheHit bool, latency time.Duration, cost float64) {
	cache := "miss"
	if cacheHit {
		cache = "hit"
	}
	provider = sanitizeLabel(provider)
	GenerationsTotal.WithLabelValues(provider, status, cache).Inc()
	if cacheHit {
		return
	}
	if latency > 0 {
		GenerationLatency.WithLabelValues(provider).Observe(latency.Seconds())
	}
	if cost > 0 {
		SpendTotal.WithLabelValues(provider).Add(cost)
	}
}

// RecordAttempt records one adapter dispatch. An empty code is a success.
func RecordAttempt(provider, code string, latency time.Duration) {
	if code == "" {
		code = "success"
	}
	provider = sanitizeLabel(provider)
	ProviderAttempts.WithLabelValues(provider, code).Inc()
	ProviderLatency.WithLabelValues(provider).Observe(latency.Seconds())
}

// SetProviderStatus marks status as the provider's current status.
func SetProviderStatus(provider, status string) {
	provider = sanitizeLabel(provider)
	for _, s := range KnownStatuses {
		v := 0.0
		if s == status {
			v = 1
		}
		ProviderStatus.WithLabelValues(provider, s).Set(v)
	}
}

// RecordCacheLookup records a lookup result: hit, miss or error.
func RecordCacheLookup(result string) {
	CacheLookups.WithLabelValues(result).Inc()
}

// RecordCacheError records a swallowed store error.
func RecordCacheError(operation string) {
	CacheErrors.WithLabelValues(operation).Inc()
}

// SetQueueDepth publishes the queue gauges.
func SetQueueDepth(waiting, active int) {
	QueueWaiting.Set(float64(waiting))
	QueueActive.Set(float64(active))
}
