package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// ManagerConfig configures the orchestration loop. Zero values select the
// documented defaults.
type ManagerConfig struct {
	MaxAttempts        int           // Retries per (worker, step) after the initial attempt. Default: 3.
	MaxBackEdges       int           // Test/Validation → Engineer regenerations. Default: 3.
	MaxConcurrentSteps int           // Research fan-out parallelism. Default: 3.
	WorkerTimeout      time.Duration // Per-invocation bound. Default: 2m.
	BackoffInitial     time.Duration // First backoff delay. Default: 500ms.
	BackoffMax         time.Duration // Backoff cap. Default: 30s.
}

func (c ManagerConfig) maxAttempts() int {
	if c.MaxAttempts > 0 {
		return c.MaxAttempts
	}
	return 3
}

func (c ManagerConfig) maxBackEdges() int {
	if c.MaxBackEdges > 0 {
		return c.MaxBackEdges
	}
	return defaultMaxBackEdges
}

func (c ManagerConfig) concurrency() int {
	if c.MaxConcurrentSteps > 0 {
		return c.MaxConcurrentSteps
	}
	return 3
}

func (c ManagerConfig) workerTimeout() time.Duration {
	if c.WorkerTimeout > 0 {
		return c.WorkerTimeout
	}
	return 2 * time.Minute
}

// Manager is the orchestrator: it owns the workflow state for a run,
// consults the router for the next worker, invokes workers through their
// adapters, validates output against the contracts, and applies the retry
// policy on failure. It is the only component that mutates state; worker
// results — even from concurrent fan-out dispatch — merge strictly
// sequentially on the manager's goroutine.
type Manager struct {
	workers   map[WorkerName]Worker
	contracts *ContractSet
	router    *Router
	retry     *RetryPolicy
	store     RunStore
	metrics   *Metrics
	tracer    trace.Tracer
	logger    *slog.Logger
	config    ManagerConfig
}

// NewManager creates an orchestrator over the given worker adapters.
// A nil store selects the in-memory store; metrics and logger may be nil.
func NewManager(workers []Worker, store RunStore, metrics *Metrics, logger *slog.Logger, config ManagerConfig) *Manager {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if store == nil {
		store = NewInMemoryStore()
	}
	registry := make(map[WorkerName]Worker, len(workers))
	for _, w := range workers {
		registry[w.Spec().Name] = w
	}
	return &Manager{
		workers:   registry,
		contracts: NewContractSet(),
		router:    NewRouter(config.maxBackEdges()),
		retry: &RetryPolicy{
			MaxAttempts:     config.maxAttempts(),
			InitialInterval: config.BackoffInitial,
			MaxInterval:     config.BackoffMax,
		},
		store:   store,
		metrics: metrics,
		logger:  logger,
		config:  config,
	}
}

// WithTracer attaches an OpenTelemetry tracer; one span is opened per
// worker invocation. Nil-safe (no spans when unset).
func (m *Manager) WithTracer(tracer trace.Tracer) *Manager {
	m.tracer = tracer
	return m
}

// Result is the externally observable outcome of a run.
type Result struct {
	RunID     uuid.UUID
	Status    RunStatus
	Signal    WorkerName // TerminalSignal on completed runs.
	Artifacts map[string]json.RawMessage
	History   []Envelope
}

// Run executes one collection request to completion. It returns a Result in
// every case; failed runs additionally return a *RunAbortedError naming the
// point of failure with the full history attached.
func (m *Manager) Run(ctx context.Context, goal string) (*Result, error) {
	st := NewState(goal)
	now := time.Now().UTC()
	rec := &RunRecord{ID: st.RunID(), Goal: goal, Status: RunRunning, CreatedAt: now, UpdatedAt: now}
	if err := m.store.CreateRun(ctx, rec); err != nil {
		return nil, fmt.Errorf("creating run: %w", err)
	}

	if m.metrics != nil {
		m.metrics.ActiveRuns.Inc()
		defer m.metrics.ActiveRuns.Dec()
	}

	m.logger.InfoContext(ctx, "run started",
		slog.String("run_id", st.RunID().String()),
		slog.String("goal", goal),
	)

	for {
		if err := ctx.Err(); err != nil {
			return m.abort(ctx, st, err)
		}

		next, err := m.router.Next(st)
		if err != nil {
			return m.abort(ctx, st, err)
		}

		if next == TerminalSignal {
			return m.complete(ctx, st)
		}

		if next == WorkerEngineer && m.router.NeedsRework(st) {
			st.beginRework()
			if m.metrics != nil {
				m.metrics.BackEdgesTotal.Inc()
			}
			m.logger.InfoContext(ctx, "regeneration back-edge taken",
				slog.String("run_id", st.RunID().String()),
				slog.Int("back_edges", st.BackEdges()),
			)
		}

		if next == WorkerWeb || next == WorkerTool {
			err = m.runFanOut(ctx, st)
		} else {
			err = m.runStage(ctx, st, next)
		}
		if err != nil {
			return m.abort(ctx, st, err)
		}
	}
}

// runStage executes one non-fan-out pipeline stage synchronously.
func (m *Manager) runStage(ctx context.Context, st *State, worker WorkerName) error {
	w, ok := m.workers[worker]
	if !ok {
		return &RoutingError{Reason: "no adapter registered for worker " + string(worker)}
	}

	st.setCurrent(worker)
	out := m.executeStep(ctx, w, m.taskContext(st, worker, -1, nil), func(waiting bool) {
		if waiting {
			st.setStatus(RunAwaitingRetry)
		} else {
			st.setStatus(RunRunning)
		}
	})
	if err := m.mergeOutcome(ctx, st, out); err != nil {
		return err
	}
	if out.artifact == nil && out.err != nil {
		return out.err
	}
	return nil
}

// runFanOut dispatches all pending plan steps, up to the concurrency limit,
// and merges their results strictly sequentially in completion order. Late
// results arriving after an abort are discarded unmerged.
func (m *Manager) runFanOut(ctx context.Context, st *State) error {
	type job struct {
		idx int
		w   Worker
		tc  TaskContext
	}

	// Snapshot task contexts before dispatch: workers never read live state.
	var jobs []job
	for _, idx := range st.PendingSteps() {
		s := st.steps[idx]
		w, ok := m.workers[s.Worker]
		if !ok {
			return &RoutingError{Reason: "no adapter registered for worker " + string(s.Worker)}
		}
		jobs = append(jobs, job{idx: idx, w: w, tc: m.taskContext(st, s.Worker, idx, &s.Step)})
	}
	if len(jobs) == 0 {
		return nil
	}

	st.setCurrent(jobs[0].w.Spec().Name)
	m.logger.InfoContext(ctx, "research fan-out dispatched",
		slog.String("run_id", st.RunID().String()),
		slog.Int("steps", len(jobs)),
		slog.Int("concurrency", m.config.concurrency()),
	)

	fanCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	sem := make(chan struct{}, m.config.concurrency())
	results := make(chan stepOutcome, len(jobs))
	var wg sync.WaitGroup

	for _, j := range jobs {
		wg.Add(1)
		go func(j job) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			results <- m.executeStep(fanCtx, j.w, j.tc, nil)
		}(j)
	}
	go func() {
		wg.Wait()
		close(results)
	}()

	var abortCause error
	var abandoned []error
	for out := range results {
		if abortCause != nil {
			// The run is aborting: discard the late result without merging.
			continue
		}
		st.setCurrent(out.worker)
		if err := m.mergeOutcome(ctx, st, out); err != nil {
			abortCause = err
			cancel()
			continue
		}
		if out.artifact == nil && out.err != nil {
			switch out.action {
			case ActionAbortWorker:
				abandoned = append(abandoned, out.err)
			default:
				abortCause = out.err
				cancel()
			}
		}
	}

	if abortCause != nil {
		return abortCause
	}
	if len(abandoned) > 0 {
		return fmt.Errorf("required plan step unreachable after exhausted retries: %w", abandoned[0])
	}
	return nil
}

// attemptRecord is one payload received from a worker, in receipt order.
type attemptRecord struct {
	payload string
	attempt int
}

// stepOutcome is the result of one logical step's invoke/validate/retry
// loop, produced without touching workflow state so it can be computed on a
// fan-out goroutine and merged later by the single writer.
type stepOutcome struct {
	worker       WorkerName
	stepIdx      int
	artifact     *ParsedArtifact // nil when the step did not produce a valid artifact
	attempts     []attemptRecord
	invalid      []string
	attemptsUsed int
	action       Action // terminal policy action when artifact is nil
	err          error
}

// executeStep runs the bounded invoke → validate → recover loop for one
// logical step. onWait, when non-nil, flips the run between running and
// awaiting_retry around backoff sleeps; fan-out callers pass nil since only
// the manager goroutine may mutate state.
func (m *Manager) executeStep(ctx context.Context, w Worker, base TaskContext, onWait func(bool)) stepOutcome {
	name := w.Spec().Name
	out := stepOutcome{worker: name, stepIdx: base.StepIndex}

	var priorInvalid, directive string
	attempts := 0
	for {
		attempts++
		tc := base
		tc.PriorInvalid = priorInvalid
		tc.Directive = directive
		tc.Attempt = attempts

		raw, err := m.invokeOnce(ctx, w, &tc)
		kind := "invocation"
		if err == nil {
			out.attempts = append(out.attempts, attemptRecord{payload: raw, attempt: attempts})
			pa, verr := m.contracts.Validate(name, raw)
			if verr == nil {
				out.artifact = pa
				out.attemptsUsed = 0
				return out
			}
			out.invalid = append(out.invalid, raw)
			if m.metrics != nil {
				m.metrics.ContractFailuresTotal.WithLabelValues(string(name)).Inc()
			}
			err = verr
			kind = "schema"
		}

		dec := m.retry.OnFailure(name, tc.StepIndex, attempts, err)
		switch dec.Action {
		case ActionRetry:
			if m.metrics != nil {
				m.metrics.RetriesTotal.WithLabelValues(string(name), kind).Inc()
			}
			m.logger.WarnContext(ctx, "worker output failed contract, retrying",
				slog.String("worker", string(name)),
				slog.Int("attempt", attempts),
				slog.String("error", err.Error()),
			)
			priorInvalid = raw
			directive = dec.Directive

		case ActionBackoffRetry:
			if m.metrics != nil {
				m.metrics.RetriesTotal.WithLabelValues(string(name), kind).Inc()
			}
			m.logger.WarnContext(ctx, "worker invocation failed, backing off",
				slog.String("worker", string(name)),
				slog.Int("attempt", attempts),
				slog.Duration("delay", dec.Delay),
				slog.String("error", err.Error()),
			)
			if onWait != nil {
				onWait(true)
			}
			select {
			case <-ctx.Done():
				if onWait != nil {
					onWait(false)
				}
				out.err = err
				out.action = ActionAbortRun
				out.attemptsUsed = attempts
				return out
			case <-time.After(dec.Delay):
			}
			if onWait != nil {
				onWait(false)
			}

		default: // ActionAbortWorker, ActionAbortRun
			out.err = err
			out.action = dec.Action
			out.attemptsUsed = attempts
			return out
		}
	}
}

// invokeOnce performs a single bounded worker invocation with tracing and
// metrics. Non-typed failures are wrapped as *WorkerInvocationError with
// timeouts classified recoverable.
func (m *Manager) invokeOnce(ctx context.Context, w Worker, tc *TaskContext) (string, error) {
	name := w.Spec().Name

	ictx, cancel := context.WithTimeout(ctx, m.config.workerTimeout())
	defer cancel()

	if m.tracer != nil {
		var span trace.Span
		ictx, span = m.tracer.Start(ictx, "worker.invoke",
			trace.WithAttributes(
				attribute.String("worker", string(name)),
				attribute.Int("attempt", tc.Attempt),
			))
		defer span.End()
	}

	if m.metrics != nil {
		m.metrics.WorkerInvocationsTotal.WithLabelValues(string(name), "started").Inc()
	}

	start := time.Now()
	raw, err := w.Invoke(ictx, tc)
	if m.metrics != nil {
		m.metrics.InvocationDuration.WithLabelValues(string(name)).Observe(time.Since(start).Seconds())
	}

	if err != nil {
		if m.metrics != nil {
			m.metrics.WorkerInvocationsTotal.WithLabelValues(string(name), "error").Inc()
		}
		if m.tracer != nil {
			span := trace.SpanFromContext(ictx)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		var invokeErr *WorkerInvocationError
		if !errors.As(err, &invokeErr) {
			err = &WorkerInvocationError{
				Worker:      name,
				Recoverable: errors.Is(err, context.DeadlineExceeded),
				Err:         err,
			}
		}
		return "", err
	}

	if m.metrics != nil {
		m.metrics.WorkerInvocationsTotal.WithLabelValues(string(name), "success").Inc()
	}
	return raw, nil
}

// mergeOutcome commits a step outcome into workflow state: envelopes in
// receipt order, then the validated artifact if any. Runs only on the
// manager goroutine. Outcomes arriving after the run failed are dropped.
func (m *Manager) mergeOutcome(ctx context.Context, st *State, out stepOutcome) error {
	if st.Status() == RunFailed {
		return nil
	}

	for _, a := range out.attempts {
		env := st.appendEnvelope(out.worker, a.payload, a.attempt)
		_ = m.store.AppendEnvelope(ctx, &env)
	}
	for _, raw := range out.invalid {
		st.recordInvalid(raw)
	}

	if out.artifact == nil {
		st.setRetry(out.worker, out.stepIdx, out.attemptsUsed)
		if out.action == ActionAbortWorker && out.stepIdx >= 0 {
			st.markStepFailed(out.stepIdx)
			m.logger.WarnContext(ctx, "plan step abandoned",
				slog.String("run_id", st.RunID().String()),
				slog.String("worker", string(out.worker)),
				slog.Int("step", out.stepIdx),
			)
		}
		return nil
	}

	if err := st.commitArtifact(out.worker, out.artifact); err != nil {
		return err
	}
	_ = m.store.SaveArtifact(ctx, st.RunID(), out.artifact)
	st.resetRetry(out.worker, out.stepIdx)

	if out.stepIdx >= 0 {
		st.markStepDone(out.stepIdx)
	}
	switch v := out.artifact.Value.(type) {
	case *Plan:
		st.adoptPlan(v)
		m.logger.InfoContext(ctx, "plan adopted",
			slog.String("run_id", st.RunID().String()),
			slog.Int("steps", len(v.Steps)),
		)
	case *CodeBundle:
		// Fresh code invalidates reports written against the old code.
		st.dropStaleReports()
	}

	m.logger.InfoContext(ctx, "artifact committed",
		slog.String("run_id", st.RunID().String()),
		slog.String("worker", string(out.worker)),
		slog.String("artifact", out.artifact.Name),
	)
	return nil
}

// artifactViews declares the capability-scoped projection each worker
// receives: only the upstream artifacts its stage consumes.
var artifactViews = map[WorkerName][]string{
	WorkerPlanner:    nil,
	WorkerWeb:        {ArtifactPlan},
	WorkerTool:       {ArtifactPlan},
	WorkerBlueprint:  {ArtifactPlan, ArtifactWebReport, ArtifactToolReport},
	WorkerEngineer:   {ArtifactPlan, ArtifactBlueprint, ArtifactTestReport, ArtifactValidationReport},
	WorkerTest:       {ArtifactBlueprint, ArtifactCode},
	WorkerValidation: {ArtifactBlueprint, ArtifactCode, ArtifactTestReport},
}

// taskContext builds the immutable projection for one invocation.
func (m *Manager) taskContext(st *State, worker WorkerName, stepIdx int, step *PlanStep) TaskContext {
	view := make(map[string]json.RawMessage)
	for _, name := range artifactViews[worker] {
		if pa, ok := st.Artifact(name); ok {
			raw := make(json.RawMessage, len(pa.Raw))
			copy(raw, pa.Raw)
			view[name] = raw
		}
	}
	var stepCopy *PlanStep
	if step != nil {
		c := *step
		stepCopy = &c
	}
	return TaskContext{
		RunID:     st.RunID(),
		Goal:      st.Goal(),
		Step:      stepCopy,
		StepIndex: stepIdx,
		Artifacts: view,
	}
}

// complete finishes a successful run and emits the terminal signal.
func (m *Manager) complete(ctx context.Context, st *State) (*Result, error) {
	st.setStatus(RunCompleted)
	m.finishRecord(ctx, st, "")
	m.observeFinish(st)

	m.logger.InfoContext(ctx, "run completed",
		slog.String("run_id", st.RunID().String()),
		slog.String("signal", string(TerminalSignal)),
		slog.Int("envelopes", len(st.history)),
	)
	return m.result(st), nil
}

// abort fails the run, preserving full history and the last invalid
// payloads for diagnosis.
func (m *Manager) abort(ctx context.Context, st *State, cause error) (*Result, error) {
	offender := st.Current()
	st.setStatus(RunFailed)
	m.finishRecord(ctx, st, cause.Error())
	m.observeFinish(st)

	m.logger.ErrorContext(ctx, "run aborted",
		slog.String("run_id", st.RunID().String()),
		slog.String("worker", string(offender)),
		slog.String("error", cause.Error()),
	)
	return m.result(st), &RunAbortedError{
		RunID:           st.RunID(),
		Worker:          offender,
		Cause:           cause,
		History:         st.History(),
		InvalidPayloads: st.InvalidPayloads(),
	}
}

func (m *Manager) finishRecord(ctx context.Context, st *State, errMsg string) {
	now := time.Now().UTC()
	rec := &RunRecord{
		ID:          st.RunID(),
		Goal:        st.Goal(),
		Status:      st.Status(),
		Error:       errMsg,
		CreatedAt:   st.CreatedAt(),
		UpdatedAt:   now,
		CompletedAt: &now,
	}
	_ = m.store.UpdateRun(ctx, rec)
}

func (m *Manager) observeFinish(st *State) {
	if m.metrics == nil {
		return
	}
	m.metrics.RunsTotal.WithLabelValues(string(st.Status())).Inc()
	m.metrics.RunDuration.WithLabelValues(string(st.Status())).Observe(time.Since(st.CreatedAt()).Seconds())
}

func (m *Manager) result(st *State) *Result {
	arts := make(map[string]json.RawMessage)
	for _, spec := range pipelineSpecs {
		if pa, ok := st.Artifact(spec.Artifact); ok {
			raw := make(json.RawMessage, len(pa.Raw))
			copy(raw, pa.Raw)
			arts[spec.Artifact] = raw
		}
	}
	res := &Result{
		RunID:     st.RunID(),
		Status:    st.Status(),
		Artifacts: arts,
		History:   st.History(),
	}
	if st.Status() == RunCompleted {
		res.Signal = TerminalSignal
	}
	return res
}
