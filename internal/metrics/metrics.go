// Package metrics provides Prometheus metrics for the viability engine.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the engine.
type Metrics struct {
	DecisionsTotal     *prometheus.CounterVec
	SweepsTotal        prometheus.Counter
	SweepDuration      prometheus.Histogram
	SessionsPending    prometheus.Gauge
	NotificationsTotal *prometheus.CounterVec
	CacheOpsTotal      *prometheus.CounterVec
	ErrorsTotal        *prometheus.CounterVec

	registry *prometheus.Registry
}

// New creates and registers all metrics.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		DecisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "viability_decisions_total",
				Help: "Total session decisions by status and action.",
			},
			[]string{"status", "action"},
		),
		SweepsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "viability_sweeps_total",
				Help: "Total completed sweep runs.",
			},
		),
		SweepDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "viability_sweep_duration_seconds",
				Help:    "Duration of a full sweep over undecided sessions.",
				Buckets: prometheus.DefBuckets,
			},
		),
		SessionsPending: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "viability_sessions_pending",
				Help: "Undecided upcoming sessions seen by the last sweep.",
			},
		),
		NotificationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "viability_notifications_total",
				Help: "Notification dispatches by kind and outcome.",
			},
			[]string{"kind", "outcome"},
		),
		CacheOpsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "viability_cache_ops_total",
				Help: "Cache operations by cache name and result.",
			},
			[]string{"cache", "result"},
		),
		ErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "viability_errors_total",
				Help: "Total errors by module and type.",
			},
			[]string{"module", "type"},
		),
		registry: reg,
	}

	reg.MustRegister(m.DecisionsTotal)
	reg.MustRegister(m.SweepsTotal)
	reg.MustRegister(m.SweepDuration)
	reg.MustRegister(m.SessionsPending)
	reg.MustRegister(m.NotificationsTotal)
	reg.MustRegister(m.CacheOpsTotal)
	reg.MustRegister(m.ErrorsTotal)

	return m
}

// Handler returns an http.Handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordDecision increments the decision counter.
func (m *Metrics) RecordDecision(status, action string) {
	m.DecisionsTotal.WithLabelValues(status, action).Inc()
}

// RecordSweep records one completed sweep.
func (m *Metrics) RecordSweep(seconds float64, pending int) {
	m.SweepsTotal.Inc()
	m.SweepDuration.Observe(seconds)
	m.SessionsPending.Set(float64(pending))
}

// RecordNotification increments the notification counter.
func (m *Metrics) RecordNotification(kind, outcome string) {
	m.NotificationsTotal.WithLabelValues(kind, outcome).Inc()
}

// RecordCacheOp increments the cache operation counter.
func (m *Metrics) RecordCacheOp(cache, result string) {
	m.CacheOpsTotal.WithLabelValues(cache, result).Inc()
}

// RecordError increments the error counter.
func (m *Metrics) RecordError(module, errType string) {
	m.ErrorsTotal.WithLabelValues(module, errType).Inc()
}
