package orchestrator

import (
	"errors"
	"testing"
)

// seedArtifact validates and commits a payload as if its worker produced it.
func seedArtifact(t *testing.T, st *State, worker WorkerName, raw string) {
	t.Helper()
	pa, err := NewContractSet().Validate(worker, raw)
	if err != nil {
		t.Fatalf("seed %s: %v", worker, err)
	}
	if err := st.commitArtifact(worker, pa); err != nil {
		t.Fatalf("commit %s: %v", worker, err)
	}
	if worker == WorkerPlanner {
		st.adoptPlan(pa.Value.(*Plan))
	}
}

// seededState builds a run state advanced through the named stages in
// pipeline order.
func seededState(t *testing.T, payloads map[WorkerName]string) *State {
	t.Helper()
	st := NewState("collect a dataset")
	for _, w := range PipelineWorkers() {
		if raw, ok := payloads[w]; ok {
			seedArtifact(t, st, w, raw)
		}
	}
	if _, ok := payloads[WorkerPlanner]; ok {
		for i := range st.steps {
			st.markStepDone(i)
		}
	}
	return st
}

func TestRouter_FreshRunGoesToPlanner(t *testing.T) {
	r := NewRouter(0)
	next, err := r.Next(NewState("goal"))
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if next != WorkerPlanner {
		t.Errorf("next = %q, want %q", next, WorkerPlanner)
	}
}

func TestRouter_PendingStepsBeforeBlueprint(t *testing.T) {
	st := NewState("goal")
	seedArtifact(t, st, WorkerPlanner, planJSON)

	r := NewRouter(0)
	next, err := r.Next(st)
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	// First declared step mentions web search.
	if next != WorkerWeb {
		t.Errorf("next = %q, want %q", next, WorkerWeb)
	}

	st.markStepDone(0)
	next, _ = r.Next(st)
	if next != WorkerTool {
		t.Errorf("next = %q, want %q", next, WorkerTool)
	}
}

func TestRouter_StageProgression(t *testing.T) {
	r := NewRouter(0)
	cases := []struct {
		seeded map[WorkerName]string
		want   WorkerName
	}{
		{map[WorkerName]string{WorkerPlanner: planJSON}, WorkerBlueprint},
		{map[WorkerName]string{WorkerPlanner: planJSON, WorkerBlueprint: blueprintJSON}, WorkerEngineer},
		{map[WorkerName]string{WorkerPlanner: planJSON, WorkerBlueprint: blueprintJSON, WorkerEngineer: codeJSON}, WorkerTest},
		{map[WorkerName]string{WorkerPlanner: planJSON, WorkerBlueprint: blueprintJSON, WorkerEngineer: codeJSON, WorkerTest: testPassJSON}, WorkerValidation},
	}
	for i, tc := range cases {
		next, err := r.Next(seededState(t, tc.seeded))
		if err != nil {
			t.Fatalf("case %d: %v", i, err)
		}
		if next != tc.want {
			t.Errorf("case %d: next = %q, want %q", i, next, tc.want)
		}
	}
}

func TestRouter_TerminalOnlyOnValidated(t *testing.T) {
	st := seededState(t, map[WorkerName]string{
		WorkerPlanner: planJSON, WorkerBlueprint: blueprintJSON, WorkerEngineer: codeJSON,
		WorkerTest: testPassJSON, WorkerValidation: validatedJSON,
	})
	next, err := NewRouter(0).Next(st)
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if next != TerminalSignal {
		t.Errorf("next = %q, want terminal signal", next)
	}
}

func TestRouter_FailingTestReportTakesBackEdge(t *testing.T) {
	st := seededState(t, map[WorkerName]string{
		WorkerPlanner: planJSON, WorkerBlueprint: blueprintJSON, WorkerEngineer: codeJSON,
		WorkerTest: testFailJSON,
	})
	r := NewRouter(0)
	next, err := r.Next(st)
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if next != WorkerEngineer {
		t.Errorf("next = %q, want %q", next, WorkerEngineer)
	}
	if !r.NeedsRework(st) {
		t.Error("expected NeedsRework for failing test report")
	}
}

func TestRouter_FailingValidationTakesBackEdge(t *testing.T) {
	st := seededState(t, map[WorkerName]string{
		WorkerPlanner: planJSON, WorkerBlueprint: blueprintJSON, WorkerEngineer: codeJSON,
		WorkerTest: testPassJSON, WorkerValidation: valFailJSON,
	})
	next, err := NewRouter(0).Next(st)
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if next != WorkerEngineer {
		t.Errorf("next = %q, want %q", next, WorkerEngineer)
	}
}

func TestRouter_BackEdgeBudgetExhausted(t *testing.T) {
	st := seededState(t, map[WorkerName]string{
		WorkerPlanner: planJSON, WorkerBlueprint: blueprintJSON, WorkerEngineer: codeJSON,
		WorkerTest: testFailJSON,
	})
	r := NewRouter(2)
	st.beginRework()
	st.beginRework()

	_, err := r.Next(st)
	var limitErr *BackEdgeLimitError
	if !errors.As(err, &limitErr) {
		t.Fatalf("error = %v, want *BackEdgeLimitError", err)
	}
	if limitErr.Taken != 2 || limitErr.Max != 2 {
		t.Errorf("limit error = %+v", limitErr)
	}
}

func TestRouter_TerminalStateRejected(t *testing.T) {
	st := NewState("goal")
	st.setStatus(RunCompleted)
	if _, err := NewRouter(0).Next(st); err == nil {
		t.Fatal("expected routing error on terminal run")
	}
}

func TestRouter_AbandonedStepBlocksAdvance(t *testing.T) {
	st := NewState("goal")
	seedArtifact(t, st, WorkerPlanner, planJSON)
	st.markStepDone(0)
	st.markStepFailed(1)

	_, err := NewRouter(0).Next(st)
	var routeErr *RoutingError
	if !errors.As(err, &routeErr) {
		t.Fatalf("error = %v, want *RoutingError", err)
	}
}

func TestClassifyStep(t *testing.T) {
	cases := []struct {
		step PlanStep
		want WorkerName
	}{
		{PlanStep{Name: "search datasets", Description: "web search for sources", Output: "links"}, WorkerWeb},
		{PlanStep{Name: "fetch portal", Description: "download the csv from the portal", Output: "file"}, WorkerWeb},
		{PlanStep{Name: "merge tables", Description: "combine extracted records", Output: "one table"}, WorkerTool},
		{PlanStep{Name: "dedupe", Description: "remove duplicate rows", Output: "clean rows"}, WorkerTool},
	}
	for _, tc := range cases {
		if got := classifyStep(tc.step); got != tc.want {
			t.Errorf("classifyStep(%q) = %q, want %q", tc.step.Name, got, tc.want)
		}
	}
}
