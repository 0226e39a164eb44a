// Package metrics exposes dashboard and chart engine activity to Prometheus
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/raykavin/tradedash/pkg/chart"
	"github.com/raykavin/tradedash/pkg/marketdata"
	"github.com/raykavin/tradedash/pkg/timeseries"
)

const namespace = "tradedash"

// Metrics holds all Prometheus collectors of the dashboard
type Metrics struct {
	registry *prometheus.Registry

	ReconcilePasses   prometheus.Counter
	StructuralPasses  prometheus.Counter
	CreatedSeries     prometheus.Counter
	RemovedSeries     prometheus.Counter
	Updates           *prometheus.CounterVec // labels: outcome
	StaleResponses    prometheus.Counter
	StatusTransitions *prometheus.CounterVec // labels: status
	ActiveSessions    prometheus.Gauge
}

// NewMetrics creates and registers every collector on a private registry
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		ReconcilePasses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconcile_passes_total",
			Help:      "Reconciliation passes run",
		}),
		StructuralPasses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconcile_structural_passes_total",
			Help:      "Reconciliation passes that created or removed series",
		}),
		CreatedSeries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "series_created_total",
			Help:      "Series created on drawing surfaces",
		}),
		RemovedSeries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "series_removed_total",
			Help:      "Series removed from drawing surfaces",
		}),
		Updates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "updates_total",
			Help:      "Live updates by merge outcome (appended, overwritten, dropped)",
		}, []string{"outcome"}),
		StaleResponses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stale_responses_total",
			Help:      "Responses discarded because the selection changed",
		}),
		StatusTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "live_status_total",
			Help:      "Live source status transitions",
		}, []string{"status"}),
		ActiveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Connected dashboard sessions",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.ReconcilePasses,
		m.StructuralPasses,
		m.CreatedSeries,
		m.RemovedSeries,
		m.Updates,
		m.StaleResponses,
		m.StatusTransitions,
		m.ActiveSessions,
	)

	return m
}

// Handler serves the registry in the Prometheus text format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) SeriesCreated(string) {
	m.CreatedSeries.Inc()
}

func (m *Metrics) SeriesRemoved(string) {
	m.RemovedSeries.Inc()
}

func (m *Metrics) ReconcilePass(result chart.PassResult) {
	m.ReconcilePasses.Inc()
	if result.Changed() {
		m.StructuralPasses.Inc()
	}
}

func (m *Metrics) UpdateApplied(outcome timeseries.Outcome) {
	m.Updates.WithLabelValues(outcome.String()).Inc()
}

func (m *Metrics) StaleResponse() {
	m.StaleResponses.Inc()
}

func (m *Metrics) LiveStatus(status marketdata.Status) {
	m.StatusTransitions.WithLabelValues(string(status)).Inc()
}

func (m *Metrics) SessionOpened() {
	m.ActiveSessions.Inc()
}

func (m *Metrics) SessionClosed() {
	m.ActiveSessions.Dec()
}
