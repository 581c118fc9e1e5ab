package orchestrator

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Worker is the uniform invocation boundary wrapping any concrete worker.
// Adapters are stateless with respect to the workflow: they receive an
// immutable projection of state and return raw output; all state mutation
// happens in the Manager after inspecting the result.
type Worker interface {
	// Spec returns the worker's immutable identity.
	Spec() WorkerSpec

	// Invoke runs the external worker with the given task context and
	// returns its raw payload. Transport faults, timeouts, and explicit
	// worker faults surface as *WorkerInvocationError.
	Invoke(ctx context.Context, tc *TaskContext) (string, error)
}

// TaskContext is the immutable projection of workflow state a worker sees.
// Workers never receive the full state, which keeps them from corrupting
// unrelated artifacts.
type TaskContext struct {
	RunID uuid.UUID
	Goal  string

	// Step is set for research fan-out invocations; StepIndex is -1
	// otherwise.
	Step      *PlanStep
	StepIndex int

	// Artifacts is the capability-scoped view of validated upstream
	// artifacts, keyed by artifact name.
	Artifacts map[string]json.RawMessage

	// PriorInvalid and Directive are set on contract-violation retries:
	// the previous non-conforming payload and the correction to apply.
	PriorInvalid string
	Directive    string

	Attempt int // 1-based attempt number for this (worker, step).
}

// RunRecord is the persisted header of a run.
type RunRecord struct {
	ID          uuid.UUID
	Goal        string
	Status      RunStatus
	Error       string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	CompletedAt *time.Time
}

// RunStore persists runs, the ordered envelope log, and the artifact
// snapshot for audit and replay. Implementations: in-memory or
// database-backed (internal/storage).
type RunStore interface {
	CreateRun(ctx context.Context, run *RunRecord) error
	UpdateRun(ctx context.Context, run *RunRecord) error
	GetRun(ctx context.Context, id uuid.UUID) (*RunRecord, error)

	// AppendEnvelope records one envelope; the per-run Seq preserves
	// commit order for replay.
	AppendEnvelope(ctx context.Context, env *Envelope) error
	ListEnvelopes(ctx context.Context, runID uuid.UUID) ([]Envelope, error)

	// SaveArtifact upserts the latest validated payload for an artifact key.
	SaveArtifact(ctx context.Context, runID uuid.UUID, artifact *ParsedArtifact) error
	ListArtifacts(ctx context.Context, runID uuid.UUID) (map[string]json.RawMessage, error)
}
