// Package orchestrator implements the workflow orchestration core for
// AutoData. It drives a fixed pipeline of specialized model-driven workers
// (planner, web research, tool use, blueprint synthesis, code generation,
// testing, output validation) toward a dataset that satisfies a user's
// natural-language collection request.
//
// The orchestrator owns all workflow state for a run. Workers are invoked
// through a uniform adapter boundary, their raw output is validated against
// a per-worker structured output contract, and failures feed a bounded
// retry/recovery policy. Every run terminates in a completed or failed state.
package orchestrator

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// WorkerName identifies a worker within the fixed pipeline.
type WorkerName string

const (
	WorkerPlanner    WorkerName = "planner"    // Decomposes the request into steps.
	WorkerWeb        WorkerName = "web"        // Web research per plan step.
	WorkerTool       WorkerName = "tool"       // Tool-backed extraction per plan step.
	WorkerBlueprint  WorkerName = "blueprint"  // Synthesizes the collection blueprint.
	WorkerEngineer   WorkerName = "engineer"   // Generates collection code.
	WorkerTest       WorkerName = "test"       // Exercises the generated code.
	WorkerValidation WorkerName = "validation" // Validates the final output.

	// ManagerName is the orchestrator's own name on envelopes it addresses.
	ManagerName WorkerName = "manager"
)

// TerminalSignal is the sentinel the router emits once validation succeeds.
// It is the sole externally observable completion marker.
const TerminalSignal WorkerName = "[END]"

// Capability tags a worker's declared function.
type Capability string

const (
	CapabilityPlanning     Capability = "planning"
	CapabilityResearch     Capability = "research"
	CapabilityToolUse      Capability = "tool-use"
	CapabilityBlueprinting Capability = "blueprinting"
	CapabilityCoding       Capability = "coding"
	CapabilityTesting      Capability = "testing"
	CapabilityValidation   Capability = "validation"
)

// RunStatus represents the lifecycle state of a run.
type RunStatus string

const (
	RunRunning       RunStatus = "running"
	RunAwaitingRetry RunStatus = "awaiting_retry"
	RunCompleted     RunStatus = "completed"
	RunFailed        RunStatus = "failed"
)

// Artifact keys. Each worker owns exactly one artifact slot; only the owner
// may overwrite it.
const (
	ArtifactPlan             = "plan"
	ArtifactWebReport        = "web_report"
	ArtifactToolReport       = "tool_report"
	ArtifactBlueprint        = "blueprint"
	ArtifactCode             = "code"
	ArtifactTestReport       = "test_report"
	ArtifactValidationReport = "validation_report"
)

// WorkerSpec is the immutable identity of a worker: its name, capability
// tag, and the artifact slot it owns.
type WorkerSpec struct {
	Name       WorkerName
	Capability Capability
	Artifact   string
}

// pipelineSpecs is the fixed worker registry. Registered at package init,
// immutable thereafter.
var pipelineSpecs = map[WorkerName]WorkerSpec{
	WorkerPlanner:    {Name: WorkerPlanner, Capability: CapabilityPlanning, Artifact: ArtifactPlan},
	WorkerWeb:        {Name: WorkerWeb, Capability: CapabilityResearch, Artifact: ArtifactWebReport},
	WorkerTool:       {Name: WorkerTool, Capability: CapabilityToolUse, Artifact: ArtifactToolReport},
	WorkerBlueprint:  {Name: WorkerBlueprint, Capability: CapabilityBlueprinting, Artifact: ArtifactBlueprint},
	WorkerEngineer:   {Name: WorkerEngineer, Capability: CapabilityCoding, Artifact: ArtifactCode},
	WorkerTest:       {Name: WorkerTest, Capability: CapabilityTesting, Artifact: ArtifactTestReport},
	WorkerValidation: {Name: WorkerValidation, Capability: CapabilityValidation, Artifact: ArtifactValidationReport},
}

// SpecFor returns the registered spec for a pipeline worker.
func SpecFor(name WorkerName) (WorkerSpec, bool) {
	spec, ok := pipelineSpecs[name]
	return spec, ok
}

// PipelineWorkers returns the names of all pipeline workers in stage order.
func PipelineWorkers() []WorkerName {
	return []WorkerName{
		WorkerPlanner, WorkerWeb, WorkerTool, WorkerBlueprint,
		WorkerEngineer, WorkerTest, WorkerValidation,
	}
}

// Envelope is the atomic unit exchanged between orchestrator and workers.
// Produced once per worker invocation, appended to history, never mutated.
type Envelope struct {
	ID        uuid.UUID
	RunID     uuid.UUID
	From      WorkerName
	To        WorkerName
	Payload   string // Raw worker output, exactly as received.
	Attempt   int    // 1-based attempt number for the (worker, step).
	Seq       int    // Commit order within the run, 1-based.
	CreatedAt time.Time
}

// --- Typed artifacts ---

// Plan is the planner's artifact: a thought plus the ordered sub-task steps
// the research phase must satisfy before the pipeline advances.
type Plan struct {
	Thought string     `json:"thought"`
	Steps   []PlanStep `json:"steps"`
}

// PlanStep is a single declared sub-task within a plan.
type PlanStep struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Output      string `json:"output"`
}

// ToolReport is the tool worker's artifact.
type ToolReport struct {
	ToolUsed string          `json:"tool_used"`
	Result   json.RawMessage `json:"result"`
}

// WebReport is the web research worker's artifact.
type WebReport struct {
	URL         string   `json:"url"`
	PDFURL      string   `json:"pdf_url,omitempty"`
	TextExtract string   `json:"text_extract"`
	Keywords    []string `json:"keywords"`
}

// Blueprint is the blueprint worker's artifact: the collection logic and
// the plans the downstream test and validation stages execute against.
type Blueprint struct {
	Logic          string `json:"logic"`
	TestPlan       string `json:"test_plan"`
	ValidationPlan string `json:"validation_plan"`
}

// CodeBundle is the engineer's artifact.
type CodeBundle struct {
	Thought      string   `json:"thought"`
	Dependencies []string `json:"dependencies"`
	Code         string   `json:"code"`
	Explanation  string   `json:"explanation"`
}

// Report is the shared artifact shape of the test and validation workers.
// Each declares its own status enumeration.
type Report struct {
	Status  string   `json:"status"`
	Summary string   `json:"summary"`
	Issues  []string `json:"issues"`
}

// Declared status enumerations.
const (
	TestStatusPass       = "pass"
	TestStatusFail       = "fail"
	ValidationStatusOK   = "validated"
	ValidationStatusFail = "error"
)
