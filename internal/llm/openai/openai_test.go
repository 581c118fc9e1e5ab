package openai

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/autodata-labs/autodata/internal/llm"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSendMessage_Success(t *testing.T) {
	var gotReq apiRequest
	var gotPath, gotAuth string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Errorf("decoding request: %v", err)
		}
		_ = json.NewEncoder(w).Encode(apiResponse{
			Choices: []apiChoice{{
				Message:      apiMessage{Role: "assistant", Content: `{"status":"pass"}`},
				FinishReason: "stop",
			}},
			Usage: apiUsage{PromptTokens: 30, CompletionTokens: 5},
		})
	}))
	defer server.Close()

	client := NewClient("test-key", "gpt-4o-mini", testLogger(), WithBaseURL(server.URL))
	resp, err := client.SendMessage(context.Background(), &llm.Request{
		SystemPrompt: "You are a validator.",
		Messages:     []llm.Message{{Role: llm.RoleUser, Content: "check it"}},
		MaxTokens:    512,
	})
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}

	if gotPath != completionsPath {
		t.Errorf("path = %q", gotPath)
	}
	if gotAuth != "Bearer test-key" {
		t.Errorf("authorization = %q", gotAuth)
	}
	if gotReq.Model != "gpt-4o-mini" || gotReq.MaxTokens != 512 {
		t.Errorf("request = %+v", gotReq)
	}
	// System prompt travels as the first message.
	if len(gotReq.Messages) != 2 || gotReq.Messages[0].Role != "system" || gotReq.Messages[1].Role != "user" {
		t.Errorf("messages = %+v", gotReq.Messages)
	}

	if resp.Content != `{"status":"pass"}` {
		t.Errorf("content = %q", resp.Content)
	}
	if resp.StopReason != "end_turn" {
		t.Errorf("stop reason = %q", resp.StopReason)
	}
	if resp.Usage.InputTokens != 30 || resp.Usage.OutputTokens != 5 {
		t.Errorf("usage = %+v", resp.Usage)
	}
}

func TestSendMessage_OllamaMode(t *testing.T) {
	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewEncoder(w).Encode(apiResponse{
			Choices: []apiChoice{{Message: apiMessage{Content: "ok"}}},
		})
	}))
	defer server.Close()

	client := NewClient("", "llama3.2", testLogger(),
		WithBaseURL(server.URL), WithName("ollama"))
	if client.Name() != "ollama" {
		t.Errorf("name = %q", client.Name())
	}

	_, err := client.SendMessage(context.Background(), &llm.Request{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "go"}},
	})
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if gotAuth != "" {
		t.Errorf("authorization = %q, want none without api key", gotAuth)
	}
}

func TestSendMessage_TruncatedResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(apiResponse{
			Choices: []apiChoice{{
				Message:      apiMessage{Content: "partial"},
				FinishReason: "length",
			}},
		})
	}))
	defer server.Close()

	client := NewClient("key", "gpt-4o-mini", testLogger(), WithBaseURL(server.URL))
	resp, err := client.SendMessage(context.Background(), &llm.Request{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "go"}},
	})
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if resp.StopReason != "max_tokens" {
		t.Errorf("stop reason = %q, want max_tokens", resp.StopReason)
	}
}

func TestSendMessage_APIError(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		retryable bool
	}{
		{"rate limited", http.StatusTooManyRequests, true},
		{"internal error", http.StatusInternalServerError, true},
		{"unauthorized", http.StatusUnauthorized, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "nope", tt.status)
			}))
			defer server.Close()

			client := NewClient("key", "gpt-4o-mini", testLogger(), WithBaseURL(server.URL))
			_, err := client.SendMessage(context.Background(), &llm.Request{
				Messages: []llm.Message{{Role: llm.RoleUser, Content: "go"}},
			})

			var apiErr *llm.APIError
			if !errors.As(err, &apiErr) {
				t.Fatalf("error = %v, want APIError", err)
			}
			if apiErr.StatusCode != tt.status || apiErr.Provider != "openai" {
				t.Errorf("apiErr = %+v", apiErr)
			}
			if apiErr.Retryable() != tt.retryable {
				t.Errorf("Retryable() = %v, want %v", apiErr.Retryable(), tt.retryable)
			}
		})
	}
}

func TestSendMessage_EmptyChoices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(apiResponse{})
	}))
	defer server.Close()

	client := NewClient("key", "gpt-4o-mini", testLogger(), WithBaseURL(server.URL))
	resp, err := client.SendMessage(context.Background(), &llm.Request{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "go"}},
	})
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if resp.Content != "" {
		t.Errorf("content = %q, want empty", resp.Content)
	}
}
