package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	xerrors "OneChain-Portal/internal/errors"
	"OneChain-Portal/internal/llm"
)

func TestNewClientValidation(t *testing.T) {
	if _, err := NewClient(Config{}); err == nil {
		t.Fatalf("expected error when api key is missing")
	}
}

func TestGenerateSuccess(t *testing.T) {
	var captured struct {
		Authorization string
		Organization  string
		Body          map[string]any
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured.Authorization = r.Header.Get("Authorization")
		captured.Organization = r.Header.Get("OpenAI-Organization")
		defer r.Body.Close()
		if err := json.NewDecoder(r.Body).Decode(&captured.Body); err != nil {
			t.Errorf("failed to decode body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"model": "gpt-test",
			"choices": []map[string]any{
				{
					"message": map[string]any{
						"role":    "assistant",
						"content": "  # PTBs\nBatch operations.  ",
					},
					"finish_reason": "length",
				},
			},
			"usage": map[string]any{"prompt_tokens": 120, "completion_tokens": 1500},
		})
	}))
	defer srv.Close()

	client, err := NewClient(Config{APIKey: "test", BaseURL: srv.URL + "/", Organization: "org-portal", Timeout: time.Second})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	client.httpClient = srv.Client()

	resp, err := client.Generate(context.Background(), llm.Request{
		System:      "You are a OneChain assistant.",
		Prompt:      "What are PTBs?",
		Temperature: 0.7,
		MaxTokens:   1500,
		User:        "ci-key",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "# PTBs\nBatch operations." || resp.Model != "gpt-test" {
		t.Fatalf("unexpected response: %+v", resp)
	}

	if !resp.Truncated() || resp.Usage.PromptTokens != 120 || resp.Usage.CompletionTokens != 1500 {
		t.Fatalf("finish reason or usage not decoded: %+v", resp)
	}
	if captured.Organization != "org-portal" || captured.Body["user"] != "ci-key" {
		t.Fatalf("portal options not forwarded: org=%q body=%v", captured.Organization, captured.Body)
	}
	if !strings.HasPrefix(captured.Authorization, "Bearer ") {
		t.Fatalf("authorization header missing: %q", captured.Authorization)
	}
	if captured.Body["model"] != defaultModelName {
		t.Fatalf("unexpected model %v", captured.Body["model"])
	}
	if captured.Body["temperature"] != 0.7 || captured.Body["max_tokens"] != float64(1500) {
		t.Fatalf("sampling parameters missing: %v", captured.Body)
	}
	messages, _ := captured.Body["messages"].([]any)
	if len(messages) != 2 {
		t.Fatalf("expected system and user messages, got %v", captured.Body["messages"])
	}
}

func TestGenerateHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadRequest)
	}))
	defer srv.Close()

	client, err := NewClient(Config{APIKey: "test", BaseURL: srv.URL, Timeout: time.Second})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	client.httpClient = srv.Client()

	if _, err := client.Generate(context.Background(), llm.Request{Prompt: "test"}); err == nil {
		t.Fatalf("expected error when http status is not success")
	}
	if _, err := client.Generate(context.Background(), llm.Request{}); err == nil {
		t.Fatalf("expected error for empty prompt")
	}
}

func TestGenerateMapsStatusToCode(t *testing.T) {
	cases := []struct {
		status    int
		code      xerrors.Code
		retryable bool
	}{
		{http.StatusUnauthorized, llm.CodeUnauthorized, false},
		{http.StatusTooManyRequests, llm.CodeRateLimited, true},
		{http.StatusBadGateway, llm.CodeUnavailable, true},
		{http.StatusBadRequest, xerrors.CodeUpstreamFailure, false},
	}
	for _, tc := range cases {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
			_, _ = w.Write([]byte(`{"error":{"message":"quota exceeded","type":"insufficient_quota"}}`))
		}))
		client, _ := NewClient(Config{APIKey: "test", BaseURL: srv.URL})
		client.httpClient = srv.Client()

		_, err := client.Generate(context.Background(), llm.Request{Prompt: "hi"})
		srv.Close()
		if err == nil {
			t.Fatalf("status %d: expected error", tc.status)
		}
		if got := xerrors.CodeOf(err); got != tc.code {
			t.Fatalf("status %d: code = %s, want %s", tc.status, got, tc.code)
		}
		if got := xerrors.RetryableError(err); got != tc.retryable {
			t.Fatalf("status %d: retryable = %v, want %v", tc.status, got, tc.retryable)
		}
		if !strings.Contains(err.Error(), "quota exceeded") {
			t.Fatalf("status %d: envelope message lost: %v", tc.status, err)
		}
	}
}

func TestGenerateEmptyChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()

	client, _ := NewClient(Config{APIKey: "test", BaseURL: srv.URL})
	client.httpClient = srv.Client()
	_, err := client.Generate(context.Background(), llm.Request{Prompt: "hi"})
	if xerrors.CodeOf(err) != llm.CodeEmptyResponse {
		t.Fatalf("expected empty response code, got %v", err)
	}
}
