package telemetry

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects Prometheus metrics for apply runs and record store
// calls. A zero-config (disabled) instance is safe to use and records
// nothing.
type Metrics struct {
	enabled bool

	applyRuns     *prometheus.CounterVec
	applyDuration *prometheus.HistogramVec
	operations    *prometheus.CounterVec
	opDuration    *prometheus.HistogramVec
	snapshots     prometheus.Counter
	rollbacks     prometheus.Counter
	policyDenials prometheus.Counter

	registry *prometheus.Registry
}

// NewMetrics creates a metrics collector.
func NewMetrics(cfg MetricsConfig) *Metrics {
	if !cfg.Enabled {
		return &Metrics{}
	}

	ns := cfg.Namespace
	registry := prometheus.NewRegistry()

	m := &Metrics{
		enabled:  true,
		registry: registry,
		applyRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: ns,
				Name:      "apply_runs_total",
				Help:      "Apply runs by outcome",
			},
			[]string{"mode", "outcome"},
		),
		applyDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: ns,
				Name:      "apply_duration_seconds",
				Help:      "Apply run duration",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"mode"},
		),
		operations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: ns,
				Name:      "record_operations_total",
				Help:      "Record store operations by action and status",
			},
			[]string{"action", "status"},
		),
		opDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: ns,
				Name:      "record_operation_duration_seconds",
				Help:      "Record store operation duration",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"action"},
		),
		snapshots: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "snapshots_captured_total",
			Help:      "Backups captured before mutating runs",
		}),
		rollbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "rollbacks_total",
			Help:      "Rollback passes performed after failed runs",
		}),
		policyDenials: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "policy_denials_total",
			Help:      "Change sets denied by policy",
		}),
	}

	registry.MustRegister(
		m.applyRuns, m.applyDuration,
		m.operations, m.opDuration,
		m.snapshots, m.rollbacks, m.policyDenials,
	)
	return m
}

// ObserveApply records the outcome and duration of an apply run.
func (m *Metrics) ObserveApply(mode, outcome string, d time.Duration) {
	if !m.enabled {
		return
	}
	m.applyRuns.WithLabelValues(mode, outcome).Inc()
	m.applyDuration.WithLabelValues(mode).Observe(d.Seconds())
}

// ObserveOperation records one record store call.
func (m *Metrics) ObserveOperation(action, status string, d time.Duration) {
	if !m.enabled {
		return
	}
	m.operations.WithLabelValues(action, status).Inc()
	m.opDuration.WithLabelValues(action).Observe(d.Seconds())
}

// SnapshotCaptured counts a backup capture.
func (m *Metrics) SnapshotCaptured() {
	if m.enabled {
		m.snapshots.Inc()
	}
}

// RollbackPerformed counts a rollback pass.
func (m *Metrics) RollbackPerformed() {
	if m.enabled {
		m.rollbacks.Inc()
	}
}

// PolicyDenied counts a policy denial.
func (m *Metrics) PolicyDenied() {
	if m.enabled {
		m.policyDenials.Inc()
	}
}

// Handler returns the scrape endpoint handler, or nil when disabled.
func (m *Metrics) Handler() http.Handler {
	if !m.enabled {
		return nil
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr in the background until ctx is
// cancelled. A disabled collector serves nothing.
func (m *Metrics) Serve(ctx context.Context, addr string) {
	if !m.enabled || addr == "" {
		return
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()
	go func() {
		_ = server.ListenAndServe()
	}()
}
