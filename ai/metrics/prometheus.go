// Package metrics provides Prometheus metrics export for the routine engine.
package metrics

import (
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hrygo/routinesense/store"
)

// PrometheusExporter exports engine metrics in Prometheus format.
type PrometheusExporter struct {
	registry *prometheus.Registry

	// Pass metrics
	passLatency *prometheus.HistogramVec
	passes      *prometheus.CounterVec

	// Pattern store metrics
	patternUpserts *prometheus.CounterVec
	malformed      prometheus.Counter

	// Notification metrics
	notifications *prometheus.CounterVec
	queueDepth    prometheus.Gauge
}

// Config configures the Prometheus exporter.
type Config struct {
	// Registry to use (if nil, creates a new one)
	Registry *prometheus.Registry

	// Buckets for pass latency histograms (in seconds)
	LatencyBuckets []float64
}

// DefaultConfig returns default Prometheus configuration.
func DefaultConfig() Config {
	return Config{
		LatencyBuckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
	}
}

// NewPrometheusExporter creates a new Prometheus metrics exporter.
func NewPrometheusExporter(cfg Config) *PrometheusExporter {
	if len(cfg.LatencyBuckets) == 0 {
		cfg.LatencyBuckets = DefaultConfig().LatencyBuckets
	}

	registry := cfg.Registry
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	e := &PrometheusExporter{registry: registry}

	e.passLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "routinesense",
			Subsystem: "engine",
			Name:      "pass_duration_seconds",
			Help:      "Duration of one user's detection or sweep pass in seconds",
			Buckets:   cfg.LatencyBuckets,
		},
		[]string{"job"},
	)

	e.passes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "routinesense",
			Subsystem: "engine",
			Name:      "passes_total",
			Help:      "Total number of per-user passes",
		},
		[]string{"job", "status"},
	)

	e.patternUpserts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "routinesense",
			Subsystem: "patterns",
			Name:      "upserts_total",
			Help:      "Total number of pattern writes by action",
		},
		[]string{"action"},
	)

	e.malformed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "routinesense",
			Subsystem: "patterns",
			Name:      "malformed_evidence_total",
			Help:      "Activity records skipped for an unparseable timestamp",
		},
	)

	e.notifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "routinesense",
			Subsystem: "notify",
			Name:      "notifications_total",
			Help:      "Total number of notifications by kind and delivery status",
		},
		[]string{"kind", "status"},
	)

	e.queueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "routinesense",
			Subsystem: "notify",
			Name:      "queue_depth",
			Help:      "Notifications waiting in the dispatch queue",
		},
	)

	registry.MustRegister(
		e.passLatency,
		e.passes,
		e.patternUpserts,
		e.malformed,
		e.notifications,
		e.queueDepth,
	)

	return e
}

// RecordPass records one user's pass.
func (e *PrometheusExporter) RecordPass(job, status string, duration time.Duration) {
	e.passes.WithLabelValues(job, status).Inc()
	e.passLatency.WithLabelValues(job).Observe(duration.Seconds())
}

// RecordPatternUpsert records a pattern write ("created" or "merged").
func (e *PrometheusExporter) RecordPatternUpsert(action string) {
	e.patternUpserts.WithLabelValues(action).Inc()
}

// RecordNotification records a notification outcome.
func (e *PrometheusExporter) RecordNotification(kind store.NotificationKind, status string) {
	e.notifications.WithLabelValues(string(kind), status).Inc()
}

// RecordMalformedEvidence adds n skipped records.
func (e *PrometheusExporter) RecordMalformedEvidence(n int) {
	if n > 0 {
		e.malformed.Add(float64(n))
	}
}

// SetQueueDepth sets the dispatch queue depth.
func (e *PrometheusExporter) SetQueueDepth(n int) {
	e.queueDepth.Set(float64(n))
}

// Handler returns an HTTP handler for the metrics endpoint.
func (e *PrometheusExporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{})
}

// ServeHTTP implements http.Handler for the metrics endpoint.
func (e *PrometheusExporter) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	e.Handler().ServeHTTP(w, r)
}

// GetRegistry returns the Prometheus registry.
func (e *PrometheusExporter) GetRegistry() *prometheus.Registry {
	return e.registry
}

// ExportText exports metrics in a compact Prometheus text form, used by the CLI.
func (e *PrometheusExporter) ExportText() (string, error) {
	var sb strings.Builder

	families, err := e.registry.Gather()
	if err != nil {
		return "", err
	}

	for _, mf := range families {
		sb.WriteString("# HELP ")
		sb.WriteString(mf.GetName())
		sb.WriteString(" ")
		sb.WriteString(mf.GetHelp())
		sb.WriteString("\n")

		sb.WriteString("# TYPE ")
		sb.WriteString(mf.GetName())
		sb.WriteString(" ")
		sb.WriteString(strings.ToLower(mf.GetType().String()))
		sb.WriteString("\n")
	}

	return sb.String(), nil
}
