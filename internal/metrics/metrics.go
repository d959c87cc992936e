// Package metrics provides Prometheus metrics for the reset engine.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the reset engine.
type Metrics struct {
	// Resource outcome metrics
	ResourcesProcessed *prometheus.CounterVec
	ResourcesChanged   *prometheus.CounterVec
	ResourcesSkipped   *prometheus.CounterVec
	ResourcesFailed    *prometheus.CounterVec

	// API call metrics
	APICallDuration *prometheus.HistogramVec
	APICallErrors   *prometheus.CounterVec
	RetryAttempts   prometheus.Counter

	// Run metrics
	RunDuration    prometheus.Histogram
	RosterSize     prometheus.Gauge
	QueueDepth     prometheus.Gauge
	LastRunSuccess prometheus.Gauge
}

// Config holds metrics configuration.
type Config struct {
	Enabled bool
	Address string // Address for metrics HTTP server (e.g., ":9090")
}

var defaultMetrics *Metrics

// Init initializes the metrics package with global metrics.
// Call this once at startup.
func Init(namespace string) *Metrics {
	if namespace == "" {
		namespace = "bwcarry"
	}

	m := &Metrics{
		ResourcesProcessed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "resources_processed_total",
				Help:      "Total number of resources driven through the engine",
			},
			[]string{"mode"},
		),
		ResourcesChanged: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "resources_changed_total",
				Help:      "Total number of resources whose quota was rewritten",
			},
			[]string{"mode"},
		),
		ResourcesSkipped: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "resources_skipped_total",
				Help:      "Total number of resources skipped by policy or dry run",
			},
			[]string{"mode"},
		),
		ResourcesFailed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "resources_failed_total",
				Help:      "Total number of resources that failed processing",
			},
			[]string{"mode"},
		),
		APICallDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "api_call_duration_seconds",
				Help:      "Duration of panel API calls",
				Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10), // 50ms to ~25s
			},
			[]string{"endpoint"},
		),
		APICallErrors: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "api_call_errors_total",
				Help:      "Total number of failed panel API calls by classification",
			},
			[]string{"endpoint", "kind"},
		),
		RetryAttempts: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "retry_attempts_total",
				Help:      "Total number of per-resource retry attempts",
			},
		),
		RunDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "run_duration_seconds",
				Help:      "Total duration of one engine invocation",
				Buckets:   prometheus.ExponentialBuckets(0.5, 2, 12), // 0.5s to ~1000s
			},
		),
		RosterSize: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "roster_size",
				Help:      "Number of resources in the last fetched roster",
			},
		),
		QueueDepth: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "queue_depth",
				Help:      "Current number of work items in the queue",
			},
		),
		LastRunSuccess: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "last_run_success",
				Help:      "1 if the last run completed without per-resource failures",
			},
		),
	}

	defaultMetrics = m
	return m
}

// Get returns the global metrics instance.
// Returns nil if Init has not been called.
func Get() *Metrics {
	return defaultMetrics
}

// StartServer starts an HTTP server for Prometheus metrics scraping.
// Blocks until the server exits.
func StartServer(address string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	return http.ListenAndServe(address, mux)
}

// IncProcessed increments the processed counter.
func (m *Metrics) IncProcessed(mode string) {
	m.ResourcesProcessed.WithLabelValues(mode).Inc()
}

// IncChanged increments the changed counter.
func (m *Metrics) IncChanged(mode string) {
	m.ResourcesChanged.WithLabelValues(mode).Inc()
}

// IncSkipped increments the skipped counter.
func (m *Metrics) IncSkipped(mode string) {
	m.ResourcesSkipped.WithLabelValues(mode).Inc()
}

// IncFailed increments the failed counter.
func (m *Metrics) IncFailed(mode string) {
	m.ResourcesFailed.WithLabelValues(mode).Inc()
}

// ObserveAPICall records the duration of one panel call.
func (m *Metrics) ObserveAPICall(endpoint string, seconds float64) {
	m.APICallDuration.WithLabelValues(endpoint).Observe(seconds)
}

// IncAPICallError increments the API error counter.
func (m *Metrics) IncAPICallError(endpoint, kind string) {
	m.APICallErrors.WithLabelValues(endpoint, kind).Inc()
}

// IncRetryAttempts increments the retry counter.
func (m *Metrics) IncRetryAttempts() {
	m.RetryAttempts.Inc()
}

// ObserveRunDuration records the duration of one engine invocation.
func (m *Metrics) ObserveRunDuration(seconds float64) {
	m.RunDuration.Observe(seconds)
}

// SetRosterSize records the size of the fetched roster.
func (m *Metrics) SetRosterSize(n float64) {
	m.RosterSize.Set(n)
}

// SetQueueDepth sets the current work queue depth.
func (m *Metrics) SetQueueDepth(depth float64) {
	m.QueueDepth.Set(depth)
}

// SetLastRunSuccess records whether the last run had zero failures.
func (m *Metrics) SetLastRunSuccess(ok bool) {
	if ok {
		m.LastRunSuccess.Set(1)
	} else {
		m.LastRunSuccess.Set(0)
	}
}
