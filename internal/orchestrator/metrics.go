package orchestrator

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds Prometheus metrics for the orchestration core.
// All metrics use the autodata_run_ namespace.
type Metrics struct {
	RunsTotal              *prometheus.CounterVec
	RunDuration            *prometheus.HistogramVec
	WorkerInvocationsTotal *prometheus.CounterVec
	InvocationDuration     *prometheus.HistogramVec
	RetriesTotal           *prometheus.CounterVec
	ContractFailuresTotal  *prometheus.CounterVec
	BackEdgesTotal         prometheus.Counter
	ActiveRuns             prometheus.Gauge
}

// NewMetrics creates and registers run metrics on the given registry.
// Returns nil if reg is nil.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		return nil
	}

	m := &Metrics{
		RunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "autodata",
			Subsystem: "run",
			Name:      "total",
			Help:      "Total runs by final status.",
		}, []string{"status"}),

		RunDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "autodata",
			Subsystem: "run",
			Name:      "duration_seconds",
			Help:      "Run total duration in seconds.",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600},
		}, []string{"status"}),

		WorkerInvocationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "autodata",
			Subsystem: "run",
			Name:      "worker_invocations_total",
			Help:      "Total worker invocations by worker and outcome.",
		}, []string{"worker", "status"}),

		InvocationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "autodata",
			Subsystem: "run",
			Name:      "invocation_duration_seconds",
			Help:      "Worker invocation duration in seconds.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
		}, []string{"worker"}),

		RetriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "autodata",
			Subsystem: "run",
			Name:      "retries_total",
			Help:      "Total retries by worker and failure kind (schema, invocation).",
		}, []string{"worker", "kind"}),

		ContractFailuresTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "autodata",
			Subsystem: "run",
			Name:      "contract_failures_total",
			Help:      "Total structured output contract violations by worker.",
		}, []string{"worker"}),

		BackEdgesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "autodata",
			Subsystem: "run",
			Name:      "back_edges_total",
			Help:      "Total regeneration back-edges taken from test/validation to engineer.",
		}),

		ActiveRuns: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "autodata",
			Subsystem: "run",
			Name:      "active_runs",
			Help:      "Number of currently executing runs.",
		}),
	}

	reg.MustRegister(
		m.RunsTotal,
		m.RunDuration,
		m.WorkerInvocationsTotal,
		m.InvocationDuration,
		m.RetriesTotal,
		m.ContractFailuresTotal,
		m.BackEdgesTotal,
		m.ActiveRuns,
	)

	return m
}
