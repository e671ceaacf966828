package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Metrics collects Prometheus metrics for reconciliation runs. A disabled
// instance is a no-op so call sites never branch.
type Metrics struct {
	config MetricsConfig

	runsStarted   *prometheus.CounterVec
	runsCompleted *prometheus.CounterVec
	runDuration   *prometheus.HistogramVec

	operations        *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec

	diffDuration    prometheus.Histogram
	changesetSize   *prometheus.GaugeVec

	controllerCalls        *prometheus.CounterVec
	controllerCallDuration *prometheus.HistogramVec

	secretsResolved    *prometheus.CounterVec
	validationFailures *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetrics creates the metrics collector. With metrics disabled it
// returns a no-op instance.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.DefaultHistogramBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		runsStarted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_started_total",
				Help:      "Total number of reconciliation runs started",
			},
			[]string{"mode"},
		),
		runsCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_completed_total",
				Help:      "Total number of reconciliation runs completed",
			},
			[]string{"status"},
		),
		runDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "run_duration_seconds",
				Help:      "Duration of reconciliation runs in seconds",
				Buckets:   buckets,
			},
			[]string{"status"},
		),

		operations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "operations_total",
				Help:      "Total number of applied operations",
			},
			[]string{"kind", "outcome"},
		),
		operationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "operation_duration_seconds",
				Help:      "Duration of applied operations in seconds",
				Buckets:   buckets,
			},
			[]string{"kind"},
		),

		diffDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "diff_duration_seconds",
				Help:      "Duration of changeset computation in seconds",
				Buckets:   buckets,
			},
		),
		changesetSize: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "changeset_operations",
				Help:      "Operation count of the last computed changeset",
			},
			[]string{"kind"},
		),

		controllerCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "controller_calls_total",
				Help:      "Total number of controller API calls",
			},
			[]string{"method", "outcome"},
		),
		controllerCallDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "controller_call_duration_seconds",
				Help:      "Duration of controller API calls in seconds",
				Buckets:   buckets,
			},
			[]string{"method"},
		),

		secretsResolved: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "secrets_resolved_total",
				Help:      "Total number of secret reference resolutions",
			},
			[]string{"backend", "outcome"},
		),
		validationFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "validation_failures_total",
				Help:      "Total number of document validation failures",
			},
			[]string{"kind"},
		),
	}

	registry.MustRegister(
		m.runsStarted,
		m.runsCompleted,
		m.runDuration,
		m.operations,
		m.operationDuration,
		m.diffDuration,
		m.changesetSize,
		m.controllerCalls,
		m.controllerCallDuration,
		m.secretsResolved,
		m.validationFailures,
	)

	return m, nil
}

// RecordRunStarted counts a run start. mode is "apply" or "dry_run".
func (m *Metrics) RecordRunStarted(mode string) {
	if m.runsStarted == nil {
		return
	}
	m.runsStarted.WithLabelValues(mode).Inc()
}

// RecordRunCompleted counts a run completion with its final status.
func (m *Metrics) RecordRunCompleted(status string, duration time.Duration) {
	if m.runsCompleted == nil {
		return
	}
	m.runsCompleted.WithLabelValues(status).Inc()
	m.runDuration.WithLabelValues(status).Observe(duration.Seconds())
}

// RecordOperation counts one applied operation. Satisfies the apply
// engine's recorder interface.
func (m *Metrics) RecordOperation(kind, outcome string, d time.Duration) {
	if m.operations == nil {
		return
	}
	m.operations.WithLabelValues(kind, outcome).Inc()
	if d > 0 {
		m.operationDuration.WithLabelValues(kind).Observe(d.Seconds())
	}
}

// RecordDiff observes one changeset computation and its size.
func (m *Metrics) RecordDiff(d time.Duration, creates, updates, deletes int) {
	if m.diffDuration == nil {
		return
	}
	m.diffDuration.Observe(d.Seconds())
	m.changesetSize.WithLabelValues("create").Set(float64(creates))
	m.changesetSize.WithLabelValues("update").Set(float64(updates))
	m.changesetSize.WithLabelValues("delete").Set(float64(deletes))
}

// RecordControllerCall counts one controller API call.
func (m *Metrics) RecordControllerCall(method, outcome string, d time.Duration) {
	if m.controllerCalls == nil {
		return
	}
	m.controllerCalls.WithLabelValues(method, outcome).Inc()
	m.controllerCallDuration.WithLabelValues(method).Observe(d.Seconds())
}

// RecordSecretResolution counts one secret lookup against a backend.
func (m *Metrics) RecordSecretResolution(backend, outcome string) {
	if m.secretsResolved == nil {
		return
	}
	m.secretsResolved.WithLabelValues(backend, outcome).Inc()
}

// RecordValidationFailure counts one validation error by kind.
func (m *Metrics) RecordValidationFailure(kind string) {
	if m.validationFailures == nil {
		return
	}
	m.validationFailures.WithLabelValues(kind).Inc()
}

// Handler returns the scrape endpoint handler.
func (m *Metrics) Handler() http.Handler {
	if m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// StartServer serves the scrape endpoint in the background. Used by
// long-running watch mode; one-shot runs skip it.
func (m *Metrics) StartServer(log zerolog.Logger) {
	if !m.config.Enabled {
		return
	}

	mux := http.NewServeMux()
	mux.Handle(m.config.Path, m.Handler())

	server := &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("metrics server stopped")
		}
	}()
}
