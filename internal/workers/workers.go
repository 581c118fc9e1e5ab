// Package workers provides the model-backed adapters behind the
// orchestrator's uniform worker boundary: one adapter per pipeline stage,
// each pairing an LLM provider with a role-specific system prompt and a
// shared prompt-building and fault-classification path.
package workers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/autodata-labs/autodata/internal/llm"
	"github.com/autodata-labs/autodata/internal/orchestrator"
)

// Config configures the worker set.
type Config struct {
	Provider  llm.Provider
	MaxTokens int // Per-invocation output budget. Default: 4096.
	Logger    *slog.Logger
}

func (c Config) maxTokens() int {
	if c.MaxTokens > 0 {
		return c.MaxTokens
	}
	return 4096
}

func (c Config) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// New builds adapters for every pipeline stage over a shared provider.
func New(cfg Config) ([]orchestrator.Worker, error) {
	if cfg.Provider == nil {
		return nil, errors.New("workers: provider is required")
	}
	var out []orchestrator.Worker
	for _, name := range orchestrator.PipelineWorkers() {
		w, err := NewWorker(name, cfg)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, nil
}

// NewWorker builds the adapter for a single pipeline stage.
func NewWorker(name orchestrator.WorkerName, cfg Config) (orchestrator.Worker, error) {
	if cfg.Provider == nil {
		return nil, errors.New("workers: provider is required")
	}
	spec, ok := orchestrator.SpecFor(name)
	if !ok {
		return nil, fmt.Errorf("workers: unknown worker %q", name)
	}
	return &llmWorker{
		spec:      spec,
		provider:  cfg.Provider,
		system:    systemPrompt(name),
		maxTokens: cfg.maxTokens(),
		logger:    cfg.logger(),
	}, nil
}

// llmWorker is a stateless adapter: it renders the task context into a
// single-turn prompt and returns the model's raw reply for the orchestrator
// to validate.
type llmWorker struct {
	spec      orchestrator.WorkerSpec
	provider  llm.Provider
	system    string
	maxTokens int
	logger    *slog.Logger
}

func (w *llmWorker) Spec() orchestrator.WorkerSpec { return w.spec }

func (w *llmWorker) Invoke(ctx context.Context, tc *orchestrator.TaskContext) (string, error) {
	req := &llm.Request{
		SystemPrompt: w.system,
		Messages:     []llm.Message{{Role: llm.RoleUser, Content: buildPrompt(tc)}},
		MaxTokens:    w.maxTokens,
	}

	w.logger.DebugContext(ctx, "invoking worker model",
		slog.String("worker", string(w.spec.Name)),
		slog.String("run_id", tc.RunID.String()),
		slog.Int("attempt", tc.Attempt),
	)

	resp, err := w.provider.SendMessage(ctx, req)
	if err != nil {
		return "", classify(w.spec.Name, err)
	}
	if strings.TrimSpace(resp.Content) == "" {
		return "", &orchestrator.WorkerInvocationError{
			Worker:      w.spec.Name,
			Recoverable: true,
			Err:         errors.New("empty model response"),
		}
	}

	w.logger.DebugContext(ctx, "worker model replied",
		slog.String("worker", string(w.spec.Name)),
		slog.Int("input_tokens", resp.Usage.InputTokens),
		slog.Int("output_tokens", resp.Usage.OutputTokens),
	)
	return resp.Content, nil
}

// classify maps provider faults onto the orchestrator's error taxonomy.
// Rate limits, upstream 5xx, and timeouts are worth retrying; everything
// else is not.
func classify(worker orchestrator.WorkerName, err error) error {
	recoverable := false
	var apiErr *llm.APIError
	switch {
	case errors.As(err, &apiErr):
		recoverable = apiErr.Retryable()
	case errors.Is(err, context.DeadlineExceeded):
		recoverable = true
	}
	return &orchestrator.WorkerInvocationError{Worker: worker, Recoverable: recoverable, Err: err}
}

// artifactOrder fixes the rendering order of upstream artifacts so prompts
// are deterministic for a given task context.
var artifactOrder = []string{
	orchestrator.ArtifactPlan,
	orchestrator.ArtifactWebReport,
	orchestrator.ArtifactToolReport,
	orchestrator.ArtifactBlueprint,
	orchestrator.ArtifactCode,
	orchestrator.ArtifactTestReport,
	orchestrator.ArtifactValidationReport,
}

// buildPrompt renders the task context: the collection request, the assigned
// plan step if any, upstream artifacts, and on contract retries the
// correction directive with the prior non-conforming reply.
func buildPrompt(tc *orchestrator.TaskContext) string {
	var b strings.Builder

	fmt.Fprintf(&b, "## Collection request\n\n%s\n", tc.Goal)

	if tc.Step != nil {
		b.WriteString("\n## Assigned step\n\n")
		fmt.Fprintf(&b, "Name: %s\nDescription: %s\nExpected output: %s\n",
			tc.Step.Name, tc.Step.Description, tc.Step.Output)
	}

	if len(tc.Artifacts) > 0 {
		b.WriteString("\n## Workflow context\n")
		for _, name := range artifactOrder {
			if raw, ok := tc.Artifacts[name]; ok {
				fmt.Fprintf(&b, "\n### %s\n\n%s\n", name, raw)
			}
		}
	}

	if tc.Directive != "" {
		b.WriteString("\n## Correction\n\n")
		b.WriteString(tc.Directive)
		b.WriteString("\n")
		if tc.PriorInvalid != "" {
			fmt.Fprintf(&b, "\nYour previous reply was:\n%s\n", tc.PriorInvalid)
		}
	}

	return b.String()
}

// Compile-time check.
var _ orchestrator.Worker = (*llmWorker)(nil)
