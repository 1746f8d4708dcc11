// Package telemetry provides observability primitives for the ngevent service.
package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus collectors for the service.
type Metrics struct {
	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	ActiveRequests   prometheus.Gauge
	BackendErrors    *prometheus.CounterVec
	CacheHits        *prometheus.CounterVec
	CacheMisses      *prometheus.CounterVec
	CacheSweeps      prometheus.Counter
	CacheSwept       prometheus.Counter
	CacheEntries     *prometheus.GaugeVec
	FetchRetries     prometheus.Counter
	PrefetchDropped  prometheus.Counter
	PrefetchDuration prometheus.Histogram
}

// NewMetrics creates and registers all metrics with the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ngevent",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests.",
		}, []string{"method", "path", "status"}),

		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:                       "ngevent",
			Name:                            "request_duration_seconds",
			Help:                            "HTTP request duration in seconds.",
			NativeHistogramBucketFactor:     1.1,
			NativeHistogramMaxBucketNumber:  100,
			NativeHistogramMinResetDuration: 0,
		}, []string{"method", "path"}),

		ActiveRequests: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "ngevent",
			Name:      "active_requests",
			Help:      "Number of currently active requests.",
		}),

		BackendErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ngevent",
			Name:      "backend_errors_total",
			Help:      "Requests that failed because of the backend, by HTTP status returned.",
		}, []string{"status"}),

		CacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ngevent",
			Name:      "cache_hits_total",
			Help:      "Cache hits by layer.",
		}, []string{"layer"}),

		CacheMisses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ngevent",
			Name:      "cache_misses_total",
			Help:      "Cache misses by layer.",
		}, []string{"layer"}),

		CacheSweeps: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ngevent",
			Name:      "cache_sweeps_total",
			Help:      "Completed expired-entry sweeps.",
		}),

		CacheSwept: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ngevent",
			Name:      "cache_swept_entries_total",
			Help:      "Expired durable entries removed by sweeps.",
		}),

		CacheEntries: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "ngevent",
			Name:      "cache_entries",
			Help:      "Durable entries by state at the last sweep.",
		}, []string{"state"}),

		FetchRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ngevent",
			Name:      "fetch_retries_total",
			Help:      "Backend request attempts retried after a transient failure.",
		}),

		PrefetchDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ngevent",
			Name:      "prefetch_dropped_total",
			Help:      "Prefetch requests dropped because the queue was full.",
		}),

		PrefetchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace:                       "ngevent",
			Name:                            "prefetch_duration_seconds",
			Help:                            "Time spent warming one event.",
			NativeHistogramBucketFactor:     1.1,
			NativeHistogramMaxBucketNumber:  100,
			NativeHistogramMinResetDuration: 0,
		}),
	}

	reg.MustRegister(
		m.RequestsTotal,
		m.RequestDuration,
		m.ActiveRequests,
		m.BackendErrors,
		m.CacheHits,
		m.CacheMisses,
		m.CacheSweeps,
		m.CacheSwept,
		m.CacheEntries,
		m.FetchRetries,
		m.PrefetchDropped,
		m.PrefetchDuration,
	)

	return m
}

// Hit records a cache hit. Metrics satisfies cache.Observer.
func (m *Metrics) Hit(layer string) { m.CacheHits.WithLabelValues(layer).Inc() }

// Miss records a cache miss.
func (m *Metrics) Miss(layer string) { m.CacheMisses.WithLabelValues(layer).Inc() }

// Retry records a retried backend attempt. Its signature matches
// fetch.WithRetryHook.
func (m *Metrics) Retry(int, time.Duration, error) { m.FetchRetries.Inc() }
