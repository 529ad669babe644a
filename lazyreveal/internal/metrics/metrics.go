// Package metrics exposes Prometheus collectors for the lazyreveal runner.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome labels for Reveals.
const (
	OutcomeApplied = "applied"
	OutcomeSkipped = "skipped"
	OutcomeFailed  = "failed"
)

// Metrics holds the runner collectors. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	batches       *prometheus.CounterVec
	reveals       *prometheus.CounterVec
	activeBatches prometheus.Gauge
	jobErrors     *prometheus.CounterVec
	recycles      prometheus.Counter
}

// New registers the collectors on reg under the "lazyreveal" namespace.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		batches: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lazyreveal",
			Name:      "batches_total",
			Help:      "Batches started, by kind.",
		}, []string{"kind"}),

		reveals: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lazyreveal",
			Name:      "reveals_total",
			Help:      "Fired reveal actions, by kind and outcome.",
		}, []string{"kind", "outcome"}),

		activeBatches: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "lazyreveal",
			Name:      "active_batches",
			Help:      "Batches still observing at least one target.",
		}),

		jobErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lazyreveal",
			Name:      "job_errors_total",
			Help:      "Jobs rejected at setup, by error class.",
		}, []string{"class"}),

		recycles: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "lazyreveal",
			Name:      "browser_recycles_total",
			Help:      "Chrome restarts.",
		}),
	}
}

// BatchStarted counts a new batch and marks it active.
func (m *Metrics) BatchStarted(kind string) {
	if m == nil {
		return
	}
	m.batches.WithLabelValues(kind).Inc()
	m.activeBatches.Inc()
}

// BatchDone marks a batch inactive.
func (m *Metrics) BatchDone() {
	if m == nil {
		return
	}
	m.activeBatches.Dec()
}

// Reveal counts one fired action.
func (m *Metrics) Reveal(kind, outcome string) {
	if m == nil {
		return
	}
	m.reveals.WithLabelValues(kind, outcome).Inc()
}

// JobError counts a rejected job. class is config, selector, type or other.
func (m *Metrics) JobError(class string) {
	if m == nil {
		return
	}
	m.jobErrors.WithLabelValues(class).Inc()
}

// Recycled counts a browser restart.
func (m *Metrics) Recycled() {
	if m == nil {
		return
	}
	m.recycles.Inc()
}
