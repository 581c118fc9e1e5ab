package orchestrator

import "strings"

// defaultMaxBackEdges bounds the Test/Validation → Engineer regeneration
// loop per run.
const defaultMaxBackEdges = 3

// Router is the deterministic decision policy over the fixed pipeline
// topology: Planner → {Tool, Web} per plan step → Blueprint → Engineer →
// Test → Validation → [END], with bounded back-edges from failing
// Test/Validation reports to the Engineer.
type Router struct {
	maxBackEdges int
}

// NewRouter creates a router. maxBackEdges <= 0 selects the default bound.
func NewRouter(maxBackEdges int) *Router {
	if maxBackEdges <= 0 {
		maxBackEdges = defaultMaxBackEdges
	}
	return &Router{maxBackEdges: maxBackEdges}
}

// MaxBackEdges returns the configured regeneration bound.
func (r *Router) MaxBackEdges() int { return r.maxBackEdges }

// Next returns the worker to run given the current state, or TerminalSignal
// once the validation artifact carries the success status. An exhausted
// back-edge budget surfaces as *BackEdgeLimitError; an illegal state as
// *RoutingError.
func (r *Router) Next(st *State) (WorkerName, error) {
	if st.terminal() {
		return "", &RoutingError{Reason: "next requested on a terminal run"}
	}

	if _, ok := st.Artifact(ArtifactPlan); !ok {
		return WorkerPlanner, nil
	}

	// Research fan-out: one invocation per undone declared step. The
	// manager dispatches all pending steps when it sees a research worker.
	if pending := st.PendingSteps(); len(pending) > 0 {
		return st.steps[pending[0]].Worker, nil
	}
	for _, s := range st.Steps() {
		if s.Failed {
			return "", &RoutingError{Reason: "advance requested past abandoned plan step " + s.Step.Name}
		}
	}

	if _, ok := st.Artifact(ArtifactBlueprint); !ok {
		return WorkerBlueprint, nil
	}
	if _, ok := st.Artifact(ArtifactCode); !ok {
		return WorkerEngineer, nil
	}

	if pa, ok := st.Artifact(ArtifactTestReport); ok {
		if report(pa).Status == TestStatusFail {
			return r.backEdge(st)
		}
	} else {
		return WorkerTest, nil
	}

	pa, ok := st.Artifact(ArtifactValidationReport)
	if !ok {
		return WorkerValidation, nil
	}
	if report(pa).Status == ValidationStatusOK {
		return TerminalSignal, nil
	}
	return r.backEdge(st)
}

// NeedsRework reports whether the state carries a failing test or
// validation report, i.e. the engineer run the router selected is a
// regeneration rather than first generation.
func (r *Router) NeedsRework(st *State) bool {
	if pa, ok := st.Artifact(ArtifactTestReport); ok && report(pa).Status == TestStatusFail {
		return true
	}
	if pa, ok := st.Artifact(ArtifactValidationReport); ok && report(pa).Status == ValidationStatusFail {
		return true
	}
	return false
}

func (r *Router) backEdge(st *State) (WorkerName, error) {
	if st.BackEdges() >= r.maxBackEdges {
		return "", &BackEdgeLimitError{Taken: st.BackEdges(), Max: r.maxBackEdges}
	}
	return WorkerEngineer, nil
}

func report(pa *ParsedArtifact) *Report {
	if r, ok := pa.Value.(*Report); ok {
		return r
	}
	return &Report{}
}

// webStepMarkers are step-text terms that route a plan step to the web
// research worker rather than the tool worker.
var webStepMarkers = []string{
	"web", "search", "url", "http", "browse", "crawl", "scrape",
	"download", "website", "page", "link",
}

// classifyStep assigns a declared plan step to a research worker by its
// text. Steps mentioning web activity go to the web worker; everything else
// goes to the tool worker. Deterministic for a given plan.
func classifyStep(s PlanStep) WorkerName {
	text := strings.ToLower(s.Name + " " + s.Description + " " + s.Output)
	for _, marker := range webStepMarkers {
		if strings.Contains(text, marker) {
			return WorkerWeb
		}
	}
	return WorkerTool
}
