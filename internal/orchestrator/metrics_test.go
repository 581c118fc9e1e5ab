package orchestrator

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestMetrics_Registered(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	if m == nil {
		t.Fatal("expected non-nil Metrics")
	}

	m.RunsTotal.WithLabelValues(string(RunCompleted)).Inc()
	m.WorkerInvocationsTotal.WithLabelValues(string(WorkerPlanner), "success").Inc()
	m.RetriesTotal.WithLabelValues(string(WorkerTool), "schema").Inc()
	m.ContractFailuresTotal.WithLabelValues(string(WorkerTool)).Inc()
	m.BackEdgesTotal.Inc()
	m.ActiveRuns.Inc()

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}

	byName := make(map[string]*dto.MetricFamily)
	for _, f := range families {
		byName[f.GetName()] = f
	}
	for _, expected := range []string{
		"autodata_run_total",
		"autodata_run_worker_invocations_total",
		"autodata_run_retries_total",
		"autodata_run_contract_failures_total",
		"autodata_run_back_edges_total",
		"autodata_run_active_runs",
	} {
		if byName[expected] == nil {
			t.Errorf("metric %q not found", expected)
		}
	}

	if f := byName["autodata_run_total"]; f != nil {
		if got := f.GetMetric()[0].GetCounter().GetValue(); got != 1 {
			t.Errorf("runs total = %v, want 1", got)
		}
	}
}

func TestMetrics_NilRegistry(t *testing.T) {
	if m := NewMetrics(nil); m != nil {
		t.Fatal("expected nil Metrics for nil registry")
	}
}

func TestMetrics_RunObservations(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	// A failed run through the manager records final status and retries.
	workers := happyWorkers()
	workers[WorkerPlanner] = newScripted(WorkerPlanner, "never json")
	mgr := NewManager(workerList(workers), nil, m, nil, fastConfig())
	_, _ = mgr.Run(context.Background(), "goal")

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	counters := make(map[string]float64)
	for _, f := range families {
		for _, metric := range f.GetMetric() {
			if metric.GetCounter() != nil {
				counters[f.GetName()] += metric.GetCounter().GetValue()
			}
		}
	}

	if counters["autodata_run_total"] != 1 {
		t.Errorf("runs total = %v, want 1", counters["autodata_run_total"])
	}
	if counters["autodata_run_worker_invocations_total"] < 4 {
		t.Errorf("invocations = %v, want >= 4", counters["autodata_run_worker_invocations_total"])
	}
	// The initial attempt and three retries each fail the contract.
	if counters["autodata_run_contract_failures_total"] != 4 {
		t.Errorf("contract failures = %v, want 4", counters["autodata_run_contract_failures_total"])
	}
	if counters["autodata_run_retries_total"] != 3 {
		t.Errorf("retries = %v, want 3", counters["autodata_run_retries_total"])
	}
}
