package orchestrator

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus metrics for the orchestrator.
//
// Metrics:
//   - specbot_workflow_transitions_total{status} - statuses entered
//   - specbot_generation_duration_seconds{phase,outcome} - model call latency
//   - specbot_generation_retries_total{phase} - failed generation attempts
//   - specbot_approvals_total{phase,action} - gate decisions
//   - specbot_runner_jobs_total{kind,outcome} - runner jobs by result
//   - specbot_runner_queue_depth - jobs waiting for a worker
type Metrics struct {
	Transitions        *prometheus.CounterVec
	GenerationDuration *prometheus.HistogramVec
	GenerationRetries  *prometheus.CounterVec
	Approvals          *prometheus.CounterVec
	Jobs               *prometheus.CounterVec
	QueueDepth         prometheus.Gauge
}

// NewMetrics creates and registers the metrics with reg. Pass
// prometheus.DefaultRegisterer to expose them on the default /metrics
// handler; tests use a fresh prometheus.NewRegistry().
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Transitions: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "specbot_workflow_transitions_total",
				Help: "Total number of workflow status transitions",
			},
			[]string{"status"},
		),
		GenerationDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "specbot_generation_duration_seconds",
				Help:    "Duration of phase document generation in seconds",
				Buckets: []float64{1, 2.5, 5, 10, 20, 40, 60, 120, 240},
			},
			[]string{"phase", "outcome"},
		),
		GenerationRetries: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "specbot_generation_retries_total",
				Help: "Total number of failed generation attempts",
			},
			[]string{"phase"},
		),
		Approvals: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "specbot_approvals_total",
				Help: "Total number of approval gate decisions",
			},
			[]string{"phase", "action"},
		),
		Jobs: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "specbot_runner_jobs_total",
				Help: "Total number of runner jobs by outcome",
			},
			[]string{"kind", "outcome"},
		),
		QueueDepth: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "specbot_runner_queue_depth",
				Help: "Number of jobs waiting for a worker",
			},
		),
	}
}

// Nil-safe helpers so components can run without metrics.

func (m *Metrics) transition(status string) {
	if m != nil {
		m.Transitions.WithLabelValues(status).Inc()
	}
}

func (m *Metrics) generation(phase, outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.GenerationDuration.WithLabelValues(phase, outcome).Observe(seconds)
	if outcome == "failure" {
		m.GenerationRetries.WithLabelValues(phase).Inc()
	}
}

func (m *Metrics) approval(phase, action string) {
	if m != nil {
		m.Approvals.WithLabelValues(phase, action).Inc()
	}
}

func (m *Metrics) job(kind, outcome string) {
	if m != nil {
		m.Jobs.WithLabelValues(kind, outcome).Inc()
	}
}

func (m *Metrics) queue(delta float64) {
	if m != nil {
		m.QueueDepth.Add(delta)
	}
}
