package orchestrator

import (
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// Action is what the retry/recovery policy tells the manager to do after a
// worker failure.
type Action int

const (
	ActionRetry        Action = iota // Re-invoke with a conform directive.
	ActionBackoffRetry               // Re-invoke after an exponential delay.
	ActionAbortWorker                // Abandon this (worker, step) only.
	ActionAbortRun                   // Fail the whole run.
)

func (a Action) String() string {
	switch a {
	case ActionRetry:
		return "retry"
	case ActionBackoffRetry:
		return "backoff_retry"
	case ActionAbortWorker:
		return "abort_worker"
	case ActionAbortRun:
		return "abort_run"
	default:
		return "unknown"
	}
}

// Decision is the policy's verdict for one failure.
type Decision struct {
	Action    Action
	Delay     time.Duration // Set for ActionBackoffRetry.
	Directive string        // Set for ActionRetry: correction appended to the task context.
}

// retryDirective is sent alongside the prior invalid payload when a worker's
// output failed its contract.
const retryDirective = "Your previous reply did not conform to the declared output schema. " +
	"Respond with ONLY a single JSON document matching the schema — no surrounding prose, no markdown fences."

// RetryPolicy decides recovery for worker failures. Attempt counters are
// kept per (worker, logical step) by the workflow state; the policy itself
// is stateless and safe for concurrent use.
type RetryPolicy struct {
	MaxAttempts     int           // Retries tolerated per (worker, step) after the initial attempt. Default: 3.
	InitialInterval time.Duration // First backoff delay. Default: 500ms.
	MaxInterval     time.Duration // Backoff cap. Default: 30s.
}

// NewRetryPolicy returns a policy with default bounds.
func NewRetryPolicy() *RetryPolicy { return &RetryPolicy{} }

func (p *RetryPolicy) maxAttempts() int {
	if p.MaxAttempts > 0 {
		return p.MaxAttempts
	}
	return 3
}

func (p *RetryPolicy) initialInterval() time.Duration {
	if p.InitialInterval > 0 {
		return p.InitialInterval
	}
	return 500 * time.Millisecond
}

func (p *RetryPolicy) maxInterval() time.Duration {
	if p.MaxInterval > 0 {
		return p.MaxInterval
	}
	return 30 * time.Second
}

// OnFailure maps a failure to a recovery decision. attempts is the
// consecutive-failure count for this (worker, step) including the failure
// being reported; step is -1 outside the research fan-out.
//
// Schema violations retry with a conform directive; recoverable invocation
// faults retry after exponential backoff; non-recoverable faults and
// exhausted budgets abort — the step alone inside a fan-out, otherwise the
// run.
func (p *RetryPolicy) OnFailure(worker WorkerName, step, attempts int, err error) Decision {
	// MaxAttempts retries follow the initial attempt; the budget is spent
	// once the failure count passes it, so the abort lands on attempt N+1.
	exhausted := attempts > p.maxAttempts()

	var schemaErr *SchemaValidationError
	if errors.As(err, &schemaErr) {
		if exhausted {
			return p.abort(step)
		}
		return Decision{Action: ActionRetry, Directive: retryDirective}
	}

	var invokeErr *WorkerInvocationError
	if errors.As(err, &invokeErr) {
		if !invokeErr.Recoverable || exhausted {
			return p.abort(step)
		}
		return Decision{Action: ActionBackoffRetry, Delay: p.delayFor(attempts)}
	}

	// Anything else (routing bugs, unknown faults) is fatal.
	return Decision{Action: ActionAbortRun}
}

// abort abandons a fan-out step without failing unrelated sub-tasks; any
// other exhausted required artifact fails the run.
func (p *RetryPolicy) abort(step int) Decision {
	if step >= 0 {
		return Decision{Action: ActionAbortWorker}
	}
	return Decision{Action: ActionAbortRun}
}

// delayFor computes the exponential backoff delay for the given 1-based
// attempt number.
func (p *RetryPolicy) delayFor(attempt int) time.Duration {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.initialInterval()
	b.MaxInterval = p.maxInterval()
	b.RandomizationFactor = 0.2
	b.Reset()

	delay := b.NextBackOff()
	for i := 1; i < attempt; i++ {
		delay = b.NextBackOff()
	}
	return delay
}
