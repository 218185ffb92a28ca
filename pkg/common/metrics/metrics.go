package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Namespace for all MosaicDB metrics
const (
	Namespace = "mosaicdb"
)

// MetricsCollector aggregates all metrics for the coordinator.
type MetricsCollector struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPRequestSize     *prometheus.HistogramVec
	HTTPResponseSize    *prometheus.HistogramVec

	// Query metrics
	QueryTotal      *prometheus.CounterVec
	QueryDuration   *prometheus.HistogramVec
	QueryShardCount *prometheus.HistogramVec

	// Result cache metrics
	CacheHits   prometheus.Counter
	CacheMisses prometheus.Counter

	// Shard metrics
	ShardUnavailable prometheus.Counter
	ShardsRegistered prometheus.Gauge
	ShardsAttached   prometheus.Gauge

	// Router metrics
	RouterOverloaded prometheus.Counter
}

// NewMetricsCollector creates a new metrics collector for a component.
func NewMetricsCollector(component string) *MetricsCollector {
	return &MetricsCollector{
		HTTPRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: component,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: Namespace,
				Subsystem: component,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),
		HTTPRequestSize: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: Namespace,
				Subsystem: component,
				Name:      "http_request_size_bytes",
				Help:      "HTTP request size in bytes",
				Buckets:   prometheus.ExponentialBuckets(100, 10, 8),
			},
			[]string{"method", "path"},
		),
		HTTPResponseSize: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: Namespace,
				Subsystem: component,
				Name:      "http_response_size_bytes",
				Help:      "HTTP response size in bytes",
				Buckets:   prometheus.ExponentialBuckets(100, 10, 8),
			},
			[]string{"method", "path"},
		),

		QueryTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: component,
				Name:      "query_total",
				Help:      "Total number of queries executed",
			},
			[]string{"path", "class", "status"},
		),
		QueryDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: Namespace,
				Subsystem: component,
				Name:      "query_duration_seconds",
				Help:      "Query duration in seconds",
				Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
			},
			[]string{"path", "class"},
		),
		QueryShardCount: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: Namespace,
				Subsystem: component,
				Name:      "query_shards_queried",
				Help:      "Number of shards queried per request",
				Buckets:   []float64{1, 2, 3, 5, 10, 20, 50, 100},
			},
			[]string{"path"},
		),

		CacheHits: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: component,
				Name:      "result_cache_hits_total",
				Help:      "Total number of result cache hits",
			},
		),
		CacheMisses: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: component,
				Name:      "result_cache_misses_total",
				Help:      "Total number of result cache misses",
			},
		),

		ShardUnavailable: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: component,
				Name:      "shard_unavailable_total",
				Help:      "Total number of per-shard failures skipped during fan-out",
			},
		),
		ShardsRegistered: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Subsystem: component,
				Name:      "shards_registered",
				Help:      "Number of shards known to the routing index",
			},
		),
		ShardsAttached: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Subsystem: component,
				Name:      "shards_attached",
				Help:      "Number of shards attached to the analytical engine",
			},
		),

		RouterOverloaded: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: component,
				Name:      "router_overloaded_total",
				Help:      "Total number of queries rejected because the scoring queue was full",
			},
		),
	}
}

// RecordHTTPRequest records metrics for an HTTP request.
func (m *MetricsCollector) RecordHTTPRequest(method, path string, status int, duration time.Duration, requestSize, responseSize int64) {
	statusStr := fmt.Sprintf("%d", status)
	m.HTTPRequestsTotal.WithLabelValues(method, path, statusStr).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	if requestSize > 0 {
		m.HTTPRequestSize.WithLabelValues(method, path).Observe(float64(requestSize))
	}
	if responseSize > 0 {
		m.HTTPResponseSize.WithLabelValues(method, path).Observe(float64(responseSize))
	}
}

// RecordQuery records metrics for one coordinator query.
func (m *MetricsCollector) RecordQuery(path, class, status string, duration time.Duration, shards int) {
	m.QueryTotal.WithLabelValues(path, class, status).Inc()
	m.QueryDuration.WithLabelValues(path, class).Observe(duration.Seconds())
	if shards > 0 {
		m.QueryShardCount.WithLabelValues(path).Observe(float64(shards))
	}
}
