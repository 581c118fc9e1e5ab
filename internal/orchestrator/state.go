package orchestrator

import (
	"time"

	"github.com/google/uuid"
)

// lastInvalidKeep bounds how many invalid payloads a failed run surfaces
// for diagnosis.
const lastInvalidKeep = 3

// retryKey scopes consecutive-failure counters to a (worker, logical step)
// pair so one persistently failing sub-task does not charge unrelated ones.
// Step is -1 outside the research fan-out.
type retryKey struct {
	Worker WorkerName
	Step   int
}

// StepState tracks satisfaction of one declared plan step.
type StepState struct {
	Step   PlanStep
	Worker WorkerName // Research worker the step was assigned to.
	Done   bool
	Failed bool // Abandoned after exhausted retries.
}

// State is the single mutable aggregate for one run, owned exclusively by
// the Manager. Workers never see it; they receive immutable projections.
// All mutators are unexported and called only from the Manager's goroutine.
type State struct {
	runID     uuid.UUID
	goal      string
	createdAt time.Time

	history   []Envelope
	artifacts map[string]*ParsedArtifact
	current   WorkerName
	status    RunStatus
	retries   map[retryKey]int
	steps     []StepState
	backEdges int
	seq       int
	invalid   []string
}

// NewState creates the initial workflow state for a user request.
func NewState(goal string) *State {
	return &State{
		runID:     uuid.New(),
		goal:      goal,
		createdAt: time.Now().UTC(),
		artifacts: make(map[string]*ParsedArtifact),
		retries:   make(map[retryKey]int),
		status:    RunRunning,
	}
}

// --- Read side ---

func (st *State) RunID() uuid.UUID     { return st.runID }
func (st *State) Goal() string         { return st.goal }
func (st *State) CreatedAt() time.Time { return st.createdAt }
func (st *State) Status() RunStatus    { return st.status }
func (st *State) Current() WorkerName  { return st.current }
func (st *State) BackEdges() int       { return st.backEdges }

// History returns a copy of the append-only envelope log in commit order.
func (st *State) History() []Envelope {
	out := make([]Envelope, len(st.history))
	copy(out, st.history)
	return out
}

// Artifact returns the latest validated artifact for the given key.
func (st *State) Artifact(name string) (*ParsedArtifact, bool) {
	pa, ok := st.artifacts[name]
	return pa, ok
}

// Attempts returns the consecutive-failure count for a (worker, step).
func (st *State) Attempts(worker WorkerName, step int) int {
	return st.retries[retryKey{worker, step}]
}

// Steps returns a copy of the plan-step satisfaction records.
func (st *State) Steps() []StepState {
	out := make([]StepState, len(st.steps))
	copy(out, st.steps)
	return out
}

// PendingSteps returns the indices of declared steps not yet satisfied or
// abandoned, in plan order.
func (st *State) PendingSteps() []int {
	var pending []int
	for i, s := range st.steps {
		if !s.Done && !s.Failed {
			pending = append(pending, i)
		}
	}
	return pending
}

// InvalidPayloads returns the retained invalid payloads, oldest first.
func (st *State) InvalidPayloads() []string {
	out := make([]string, len(st.invalid))
	copy(out, st.invalid)
	return out
}

func (st *State) terminal() bool {
	return st.status == RunCompleted || st.status == RunFailed
}

// --- Write side (Manager only) ---

func (st *State) setCurrent(w WorkerName) { st.current = w }

// setStatus applies a status transition. Terminal states are sticky;
// running ↔ awaiting_retry is the only reversible pair.
func (st *State) setStatus(s RunStatus) {
	if st.terminal() {
		return
	}
	st.status = s
}

// appendEnvelope records one worker invocation's raw payload in the history
// and returns the committed envelope. History grows monotonically; envelopes
// are never mutated after creation.
func (st *State) appendEnvelope(from WorkerName, payload string, attempt int) Envelope {
	st.seq++
	env := Envelope{
		ID:        uuid.New(),
		RunID:     st.runID,
		From:      from,
		To:        ManagerName,
		Payload:   payload,
		Attempt:   attempt,
		Seq:       st.seq,
		CreatedAt: time.Now().UTC(),
	}
	st.history = append(st.history, env)
	return env
}

// commitArtifact stores a validated artifact. Only the worker that owns the
// artifact slot may write it; a mismatch is an orchestrator logic bug.
func (st *State) commitArtifact(worker WorkerName, pa *ParsedArtifact) error {
	spec, ok := SpecFor(worker)
	if !ok {
		return &RoutingError{Reason: "commit from unknown worker " + string(worker)}
	}
	if spec.Artifact != pa.Name {
		return &RoutingError{Reason: "worker " + string(worker) + " may not write artifact " + pa.Name}
	}
	st.artifacts[pa.Name] = pa
	return nil
}

// adoptPlan records the planner's declared steps and assigns each to a
// research worker.
func (st *State) adoptPlan(p *Plan) {
	st.steps = make([]StepState, len(p.Steps))
	for i, s := range p.Steps {
		st.steps[i] = StepState{Step: s, Worker: classifyStep(s)}
	}
}

func (st *State) markStepDone(i int) {
	if i >= 0 && i < len(st.steps) {
		st.steps[i].Done = true
	}
}

func (st *State) markStepFailed(i int) {
	if i >= 0 && i < len(st.steps) {
		st.steps[i].Failed = true
	}
}

func (st *State) bumpRetry(worker WorkerName, step int) int {
	k := retryKey{worker, step}
	st.retries[k]++
	return st.retries[k]
}

func (st *State) setRetry(worker WorkerName, step, attempts int) {
	st.retries[retryKey{worker, step}] = attempts
}

func (st *State) resetRetry(worker WorkerName, step int) {
	delete(st.retries, retryKey{worker, step})
}

// beginRework takes one back-edge. The failing reports stay in place until
// the engineer commits regenerated code, so the regeneration invocation can
// see what failed.
func (st *State) beginRework() {
	st.backEdges++
}

// dropStaleReports removes test/validation reports written against code
// that has since been regenerated.
func (st *State) dropStaleReports() {
	delete(st.artifacts, ArtifactTestReport)
	delete(st.artifacts, ArtifactValidationReport)
}

// recordInvalid retains a bounded window of contract-failing payloads.
func (st *State) recordInvalid(raw string) {
	st.invalid = append(st.invalid, raw)
	if len(st.invalid) > lastInvalidKeep {
		st.invalid = st.invalid[len(st.invalid)-lastInvalidKeep:]
	}
}
