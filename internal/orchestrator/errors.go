package orchestrator

import (
	"fmt"

	"github.com/google/uuid"
)

// SchemaValidationError reports worker output that failed its structured
// output contract, after the one permitted normalization pass. It carries
// the offending raw payload for diagnostics.
type SchemaValidationError struct {
	Worker WorkerName
	Raw    string
	Reason string
	Err    error // Underlying decode error, if any.
}

func (e *SchemaValidationError) Error() string {
	return fmt.Sprintf("worker %s output failed contract validation: %s", e.Worker, e.Reason)
}

func (e *SchemaValidationError) Unwrap() error { return e.Err }

// WorkerInvocationError reports a failure at the worker invocation boundary:
// transport faults, timeouts, or an explicit fault raised by the external
// worker. Recoverable failures feed the backoff retry path.
type WorkerInvocationError struct {
	Worker      WorkerName
	Recoverable bool
	Err         error
}

func (e *WorkerInvocationError) Error() string {
	kind := "non-recoverable"
	if e.Recoverable {
		kind = "recoverable"
	}
	return fmt.Sprintf("invoking worker %s (%s): %v", e.Worker, kind, e.Err)
}

func (e *WorkerInvocationError) Unwrap() error { return e.Err }

// RoutingError indicates an illegal routing state, e.g. the router asked to
// advance past an unmet dependency. Always fatal and never retried: it
// signals an orchestrator logic bug, not a worker fault.
type RoutingError struct {
	Reason string
}

func (e *RoutingError) Error() string {
	return "routing: " + e.Reason
}

// BackEdgeLimitError reports that the bounded regeneration loop from a
// failing test/validation stage back to the engineer has been exhausted.
// Exceeding the bound is a fatal escalation, never a silent retry.
type BackEdgeLimitError struct {
	Taken int
	Max   int
}

func (e *BackEdgeLimitError) Error() string {
	return fmt.Sprintf("back-edge limit exhausted: %d edges taken, max %d", e.Taken, e.Max)
}

// RunAbortedError is the terminal error surfaced to the caller of a failed
// run. It names the point of failure and preserves the full history plus
// the last invalid payloads for diagnosis.
type RunAbortedError struct {
	RunID           uuid.UUID
	Worker          WorkerName // The offending worker, if any.
	Cause           error
	History         []Envelope
	InvalidPayloads []string // Most recent invalid payloads, oldest first.
}

func (e *RunAbortedError) Error() string {
	if e.Worker != "" {
		return fmt.Sprintf("run %s aborted at worker %s: %v", e.RunID, e.Worker, e.Cause)
	}
	return fmt.Sprintf("run %s aborted: %v", e.RunID, e.Cause)
}

func (e *RunAbortedError) Unwrap() error { return e.Cause }
