package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Storage metrics
	StorageOperationDuration *prometheus.HistogramVec

	// Ingestion metrics
	EventsIngestedTotal *prometheus.CounterVec

	// Counter store metrics
	CounterUpsertsTotal       *prometheus.CounterVec
	CounterUpsertRetriesTotal *prometheus.CounterVec

	// Aggregation metrics
	EventsAppliedTotal       *prometheus.CounterVec
	MalformedParametersTotal *prometheus.CounterVec
	ConsumerWatermark        prometheus.Gauge
	ConsumerSkippedIDsTotal  prometheus.Counter

	// Rollup metrics
	RollupRunsTotal         *prometheus.CounterVec
	RollupDuration          prometheus.Histogram
	RollupOverlapsTotal     prometheus.Counter
	RollupEventsScanned     prometheus.Gauge
	RollupLastPublishedUnix prometheus.Gauge

	// Retention metrics
	EventsArchivedTotal prometheus.Counter
	EventsPurgedTotal   prometheus.Counter
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		// HTTP metrics
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "playerpulse_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "playerpulse_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),

		// Storage metrics
		StorageOperationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "playerpulse_storage_operation_duration_seconds",
				Help:    "Storage operation duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation", "backend"},
		),

		// Ingestion metrics
		EventsIngestedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "playerpulse_events_ingested_total",
				Help: "Total number of events offered for ingestion",
			},
			[]string{"result"},
		),

		// Counter store metrics
		CounterUpsertsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "playerpulse_counter_upserts_total",
				Help: "Total number of counter upserts",
			},
			[]string{"backend", "result"},
		),
		CounterUpsertRetriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "playerpulse_counter_upsert_retries_total",
				Help: "Total number of counter upsert retries caused by contention",
			},
			[]string{"backend"},
		),

		// Aggregation metrics
		EventsAppliedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "playerpulse_events_applied_total",
				Help: "Total number of events handled by the incremental aggregator",
			},
			[]string{"result"},
		),
		MalformedParametersTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "playerpulse_malformed_parameters_total",
				Help: "Total number of event parameters treated as zero because they were missing or malformed",
			},
			[]string{"source", "parameter"},
		),
		ConsumerWatermark: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "playerpulse_consumer_watermark",
				Help: "Highest event id fully applied by the incremental consumer",
			},
		),
		ConsumerSkippedIDsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "playerpulse_consumer_skipped_ids_total",
				Help: "Total number of event ids the consumer stopped waiting for after the gap timeout",
			},
		),

		// Rollup metrics
		RollupRunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "playerpulse_rollup_runs_total",
				Help: "Total number of rollup runs",
			},
			[]string{"result"},
		),
		RollupDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "playerpulse_rollup_duration_seconds",
				Help:    "Rollup run duration in seconds",
				Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300},
			},
		),
		RollupOverlapsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "playerpulse_rollup_overlaps_total",
				Help: "Total number of rollup runs skipped because a previous run was still active",
			},
		),
		RollupEventsScanned: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "playerpulse_rollup_events_scanned",
				Help: "Number of events scanned by the last successful rollup run",
			},
		),
		RollupLastPublishedUnix: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "playerpulse_rollup_last_published_timestamp_seconds",
				Help: "Unix time of the last published rollup snapshot",
			},
		),

		// Retention metrics
		EventsArchivedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "playerpulse_events_archived_total",
				Help: "Total number of events archived before eviction",
			},
		),
		EventsPurgedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "playerpulse_events_purged_total",
				Help: "Total number of events purged by retention",
			},
		),
	}

	// Register all metrics
	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.StorageOperationDuration,
		m.EventsIngestedTotal,
		m.CounterUpsertsTotal,
		m.CounterUpsertRetriesTotal,
		m.EventsAppliedTotal,
		m.MalformedParametersTotal,
		m.ConsumerWatermark,
		m.ConsumerSkippedIDsTotal,
		m.RollupRunsTotal,
		m.RollupDuration,
		m.RollupOverlapsTotal,
		m.RollupEventsScanned,
		m.RollupLastPublishedUnix,
		m.EventsArchivedTotal,
		m.EventsPurgedTotal,
	)

	return m
}

// NewUnregisteredMetrics creates metrics on a private registry. Useful for tests and
// components constructed without an explicit metrics instance.
func NewUnregisteredMetrics() *Metrics {
	return NewMetrics(prometheus.NewRegistry())
}

// ObserveStorage records the duration of a storage operation started at start
func (m *Metrics) ObserveStorage(operation, backend string, start time.Time) {
	m.StorageOperationDuration.WithLabelValues(operation, backend).Observe(time.Since(start).Seconds())
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// HTTPMetricsMiddleware instruments HTTP requests with Prometheus metrics.
// pathLabel maps a request to a bounded label (a route template, not the raw path).
func HTTPMetricsMiddleware(metrics *Metrics, pathLabel func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			rw := &responseWriter{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}

			next.ServeHTTP(rw, r)

			path := r.URL.Path
			if pathLabel != nil {
				path = pathLabel(r)
			}
			status := strconv.Itoa(rw.statusCode)

			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, path, status).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
		})
	}
}

// MetricsHandler returns the /metrics handler for registry
func MetricsHandler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
