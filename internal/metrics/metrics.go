// Package metrics exposes Prometheus collectors for ledger operations.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aristath/shadowtrade/internal/domain"
)

const namespace = "shadowtrade"

// Metrics holds the service collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	operations  *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	auditEvents *prometheus.CounterVec
	mpcJobs     *prometheus.CounterVec
	backups     *prometheus.CounterVec
	streams     prometheus.Gauge
}

// New creates collectors on a private registry, plus Go and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Ledger operations by name and outcome.",
		}, []string{"operation", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "Time spent inside a ledger transaction, lock wait included.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		auditEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audit_events_total",
			Help:      "Committed audit events by type.",
		}, []string{"type"}),
		mpcJobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mpc_jobs_total",
			Help:      "Jobs handed to the MPC executor by kind and outcome.",
		}, []string{"kind", "outcome"}),
		backups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backups_total",
			Help:      "Ledger snapshot attempts by outcome.",
		}, []string{"outcome"}),
		streams: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "event_stream_clients",
			Help:      "Connected SSE and websocket observers.",
		}),
	}

	m.registry.MustRegister(
		m.operations,
		m.duration,
		m.auditEvents,
		m.mpcJobs,
		m.backups,
		m.streams,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveOperation records the outcome and duration of a ledger operation.
// The outcome label is "ok" or the error kind.
func (m *Metrics) ObserveOperation(operation string, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(operation, Outcome(err)).Inc()
	m.duration.WithLabelValues(operation).Observe(elapsed.Seconds())
}

// AuditEvent counts a committed event.
func (m *Metrics) AuditEvent(eventType string) {
	if m == nil {
		return
	}
	m.auditEvents.WithLabelValues(eventType).Inc()
}

// MPCJob counts an executor job.
func (m *Metrics) MPCJob(kind string, err error) {
	if m == nil {
		return
	}
	m.mpcJobs.WithLabelValues(kind, Outcome(err)).Inc()
}

// Backup counts a snapshot attempt.
func (m *Metrics) Backup(err error) {
	if m == nil {
		return
	}
	m.backups.WithLabelValues(Outcome(err)).Inc()
}

// StreamOpened and StreamClosed track connected observers.
func (m *Metrics) StreamOpened() {
	if m == nil {
		return
	}
	m.streams.Inc()
}

func (m *Metrics) StreamClosed() {
	if m == nil {
		return
	}
	m.streams.Dec()
}

// Outcome maps err to a low-cardinality label.
func Outcome(err error) string {
	if err == nil {
		return "ok"
	}
	return domain.KindOf(err).String()
}
