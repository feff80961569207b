// Package metrics holds the Prometheus collectors of the sync daemon.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "snapspend"

type Metrics struct {
	registry *prometheus.Registry

	reconcileMutations  *prometheus.CounterVec
	reconcileSkipped    prometheus.Counter
	enrichmentJobs      *prometheus.CounterVec
	budgetAlerts        prometheus.Counter
	pushItems           *prometheus.CounterVec
	activeSubscriptions prometheus.Gauge
}

// New registers all collectors on a fresh registry, together with the Go
// runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		reconcileMutations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconcile_mutations_total",
			Help:      "Local mutations applied by reconciliation passes.",
		}, []string{"kind"}),
		reconcileSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconcile_skipped_total",
			Help:      "Malformed remote documents skipped during reconciliation.",
		}),
		enrichmentJobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "enrichment_jobs_total",
			Help:      "Enrichment jobs by outcome.",
		}, []string{"outcome"}),
		budgetAlerts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "budget_alerts_total",
			Help:      "Budget alerts emitted.",
		}),
		pushItems: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "push_items_total",
			Help:      "Outbox items processed by operation and outcome.",
		}, []string{"operation", "outcome"}),
		activeSubscriptions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_subscriptions",
			Help:      "Shared collections with a live cloud subscription.",
		}),
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.reconcileMutations,
		m.reconcileSkipped,
		m.enrichmentJobs,
		m.budgetAlerts,
		m.pushItems,
		m.activeSubscriptions,
	)
	return m
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) ReconcileMutations(kind string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.reconcileMutations.WithLabelValues(kind).Add(float64(n))
}

func (m *Metrics) ReconcileSkipped(n int) {
	if m == nil || n == 0 {
		return
	}
	m.reconcileSkipped.Add(float64(n))
}

func (m *Metrics) EnrichmentJob(outcome string) {
	if m == nil {
		return
	}
	m.enrichmentJobs.WithLabelValues(outcome).Inc()
}

func (m *Metrics) BudgetAlerts(n int) {
	if m == nil || n == 0 {
		return
	}
	m.budgetAlerts.Add(float64(n))
}

func (m *Metrics) PushItem(operation, outcome string) {
	if m == nil {
		return
	}
	m.pushItems.WithLabelValues(operation, outcome).Inc()
}

func (m *Metrics) SetActiveSubscriptions(n int) {
	if m == nil {
		return
	}
	m.activeSubscriptions.Set(float64(n))
}
