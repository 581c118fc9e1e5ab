package workers

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/autodata-labs/autodata/internal/llm"
	"github.com/autodata-labs/autodata/internal/orchestrator"
)

// fakeProvider returns a canned response (or error) and records requests.
type fakeProvider struct {
	response *llm.Response
	err      error
	requests []*llm.Request
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) SendMessage(_ context.Context, req *llm.Request) (*llm.Response, error) {
	f.requests = append(f.requests, req)
	if f.err != nil {
		return nil, f.err
	}
	return f.response, nil
}

func taskContext() *orchestrator.TaskContext {
	return &orchestrator.TaskContext{
		RunID:   uuid.New(),
		Goal:    "collect hourly air quality readings for Nairobi",
		Attempt: 1,
	}
}

func TestNew_BuildsFullPipeline(t *testing.T) {
	ws, err := New(Config{Provider: &fakeProvider{response: &llm.Response{Content: "{}"}}})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if len(ws) != len(orchestrator.PipelineWorkers()) {
		t.Fatalf("workers = %d, want %d", len(ws), len(orchestrator.PipelineWorkers()))
	}

	// Each stage gets its own prompt.
	seen := make(map[string]bool)
	for _, w := range ws {
		prompt := systemPrompt(w.Spec().Name)
		if prompt == "" {
			t.Errorf("empty system prompt for %q", w.Spec().Name)
		}
		if seen[prompt] {
			t.Errorf("duplicate system prompt for %q", w.Spec().Name)
		}
		seen[prompt] = true
	}
}

func TestNew_RequiresProvider(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatal("expected error without provider")
	}
	if _, err := NewWorker(orchestrator.WorkerPlanner, Config{}); err == nil {
		t.Fatal("expected error without provider")
	}
}

func TestNewWorker_UnknownName(t *testing.T) {
	_, err := NewWorker("mystery", Config{Provider: &fakeProvider{}})
	if err == nil {
		t.Fatal("expected error for unknown worker")
	}
}

func TestInvoke_ReturnsRawReply(t *testing.T) {
	fp := &fakeProvider{response: &llm.Response{
		Content: `{"thought":"ok","steps":[]}`,
		Usage:   llm.Usage{InputTokens: 12, OutputTokens: 8},
	}}
	w, err := NewWorker(orchestrator.WorkerPlanner, Config{Provider: fp})
	if err != nil {
		t.Fatalf("new worker: %v", err)
	}

	raw, err := w.Invoke(context.Background(), taskContext())
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if raw != `{"thought":"ok","steps":[]}` {
		t.Errorf("raw = %q", raw)
	}

	req := fp.requests[0]
	if req.SystemPrompt != plannerSystemPrompt {
		t.Error("planner system prompt not applied")
	}
	if len(req.Messages) != 1 || req.Messages[0].Role != llm.RoleUser {
		t.Fatalf("messages = %+v, want one user message", req.Messages)
	}
	if !strings.Contains(req.Messages[0].Content, "air quality readings") {
		t.Error("prompt missing the collection request")
	}
}

func TestInvoke_PromptCarriesStepAndArtifacts(t *testing.T) {
	fp := &fakeProvider{response: &llm.Response{Content: "{}"}}
	w, _ := NewWorker(orchestrator.WorkerWeb, Config{Provider: fp})

	tc := taskContext()
	tc.Step = &orchestrator.PlanStep{Name: "find portal", Description: "search for the open data portal", Output: "portal url"}
	tc.StepIndex = 0
	tc.Artifacts = map[string]json.RawMessage{
		orchestrator.ArtifactPlan: json.RawMessage(`{"thought":"t","steps":[]}`),
	}

	if _, err := w.Invoke(context.Background(), tc); err != nil {
		t.Fatalf("invoke: %v", err)
	}
	prompt := fp.requests[0].Messages[0].Content
	for _, want := range []string{"find portal", "portal url", orchestrator.ArtifactPlan} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
}

func TestInvoke_PromptCarriesCorrection(t *testing.T) {
	fp := &fakeProvider{response: &llm.Response{Content: "{}"}}
	w, _ := NewWorker(orchestrator.WorkerPlanner, Config{Provider: fp})

	tc := taskContext()
	tc.Attempt = 2
	tc.Directive = "Respond with ONLY a single JSON document."
	tc.PriorInvalid = "Sorry, here is some prose."

	if _, err := w.Invoke(context.Background(), tc); err != nil {
		t.Fatalf("invoke: %v", err)
	}
	prompt := fp.requests[0].Messages[0].Content
	if !strings.Contains(prompt, tc.Directive) {
		t.Error("prompt missing the correction directive")
	}
	if !strings.Contains(prompt, tc.PriorInvalid) {
		t.Error("prompt missing the prior invalid reply")
	}
}

func TestInvoke_FaultClassification(t *testing.T) {
	cases := []struct {
		name        string
		err         error
		recoverable bool
	}{
		{"rate limited", &llm.APIError{Provider: "fake", StatusCode: 429, Body: "slow down"}, true},
		{"upstream error", &llm.APIError{Provider: "fake", StatusCode: 503, Body: "unavailable"}, true},
		{"bad request", &llm.APIError{Provider: "fake", StatusCode: 400, Body: "invalid"}, false},
		{"unauthorized", &llm.APIError{Provider: "fake", StatusCode: 401, Body: "bad key"}, false},
		{"timeout", context.DeadlineExceeded, true},
		{"unknown", errors.New("connection reset"), false},
	}
	for _, tc := range cases {
		w, _ := NewWorker(orchestrator.WorkerWeb, Config{Provider: &fakeProvider{err: tc.err}})
		_, err := w.Invoke(context.Background(), taskContext())

		var invokeErr *orchestrator.WorkerInvocationError
		if !errors.As(err, &invokeErr) {
			t.Fatalf("%s: error type = %T, want *WorkerInvocationError", tc.name, err)
		}
		if invokeErr.Recoverable != tc.recoverable {
			t.Errorf("%s: recoverable = %v, want %v", tc.name, invokeErr.Recoverable, tc.recoverable)
		}
		if !errors.Is(err, tc.err) {
			t.Errorf("%s: cause not preserved", tc.name)
		}
	}
}

func TestInvoke_EmptyResponseRecoverable(t *testing.T) {
	w, _ := NewWorker(orchestrator.WorkerTest, Config{Provider: &fakeProvider{response: &llm.Response{Content: "  \n"}}})
	_, err := w.Invoke(context.Background(), taskContext())

	var invokeErr *orchestrator.WorkerInvocationError
	if !errors.As(err, &invokeErr) {
		t.Fatalf("error type = %T, want *WorkerInvocationError", err)
	}
	if !invokeErr.Recoverable {
		t.Error("empty response should be recoverable")
	}
}
