// Package metrics exposes prometheus collectors for minimization runs.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/copyleftdev/minimize/internal/optimization"
)

const namespace = "minimize"

// Metrics groups the run collectors.
type Metrics struct {
	runs        *prometheus.CounterVec
	iterations  *prometheus.HistogramVec
	evaluations *prometheus.CounterVec
	active      prometheus.Gauge
}

// New creates the collectors and registers them with reg. A nil reg leaves
// them unregistered.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Finished minimization runs by method and outcome.",
		}, []string{"method", "status"}),
		iterations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "iterations",
			Help:      "Accepted iterations (L-BFGS) or epochs (Adam) per run.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 14),
		}, []string{"method"}),
		evaluations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "objective_evaluations_total",
			Help:      "Objective or gradient evaluations performed.",
		}, []string{"method"}),
		active: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_runs",
			Help:      "Runs currently in progress.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.runs, m.iterations, m.evaluations, m.active)
	}
	return m
}

// RunStarted marks a run as in progress.
func (m *Metrics) RunStarted() {
	m.active.Inc()
}

// RunFinished records a run that produced a result.
func (m *Metrics) RunFinished(method string, res *optimization.Result) {
	m.active.Dec()
	m.runs.WithLabelValues(method, res.Status.String()).Inc()
	m.iterations.WithLabelValues(method).Observe(float64(res.Iterations))
	m.evaluations.WithLabelValues(method).Add(float64(res.Evaluations))
}

// RunAborted records a run that ended without a result, such as a failed
// objective or a cancellation. reason becomes the status label.
func (m *Metrics) RunAborted(method, reason string) {
	m.active.Dec()
	m.runs.WithLabelValues(method, reason).Inc()
}
