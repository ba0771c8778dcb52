package llm_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"mediaflow/internal/services/llm"
)

func chatServer(t *testing.T, status int, content string) (*httptest.Server, *atomic.Int32, *atomic.Value) {
	t.Helper()
	var calls atomic.Int32
	var lastBody atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer key" {
			t.Errorf("unexpected auth header %q", got)
		}
		body, _ := io.ReadAll(r.Body)
		lastBody.Store(string(body))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if status >= 400 {
			_, _ = io.WriteString(w, `{"error":{"message":"upstream says no","type":"error"}}`)
			return
		}
		payload := map[string]any{
			"id":      "cmpl-1",
			"object":  "chat.completion",
			"created": 1,
			"model":   "test-model",
			"choices": []map[string]any{{
				"index":         0,
				"finish_reason": "stop",
				"message":       map[string]any{"role": "assistant", "content": content},
			}},
		}
		_ = json.NewEncoder(w).Encode(payload)
	}))
	t.Cleanup(srv.Close)
	return srv, &calls, &lastBody
}

func newClient(srv *httptest.Server) *llm.Client {
	return llm.NewClient(llm.Config{APIKey: "key", BaseURL: srv.URL, Model: "test-model", TimeoutSeconds: 5})
}

func TestCompleteJSON(t *testing.T) {
	srv, calls, lastBody := chatServer(t, http.StatusOK, "```json\n{\"title\":\"Pilot\"}\n```")
	client := newClient(srv)

	content, err := client.CompleteJSON(context.Background(), "system", "user")
	if err != nil {
		t.Fatalf("CompleteJSON: %v", err)
	}
	var parsed struct {
		Title string `json:"title"`
	}
	if err := llm.DecodeLLMJSON(content, &parsed); err != nil || parsed.Title != "Pilot" {
		t.Fatalf("decode %q: %+v %v", content, parsed, err)
	}
	if calls.Load() != 1 {
		t.Fatalf("expected one call, got %d", calls.Load())
	}
	body, _ := lastBody.Load().(string)
	for _, want := range []string{`"model":"test-model"`, `"json_object"`, `"role":"system"`} {
		if !strings.Contains(body, want) {
			t.Fatalf("request body missing %s: %s", want, body)
		}
	}
}

func TestCompleteJSONValidatesInput(t *testing.T) {
	client := llm.NewClient(llm.Config{Model: "m"})
	if client.Configured() {
		t.Fatal("client without key should not be configured")
	}
	if _, err := client.CompleteJSON(context.Background(), "sys", "user"); !errors.Is(err, llm.ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
	configured := llm.NewClient(llm.Config{APIKey: "k", Model: "m"})
	if _, err := configured.CompleteJSON(context.Background(), " ", "user"); err == nil {
		t.Fatal("expected error for empty system prompt")
	}
	if _, err := configured.CompleteJSON(context.Background(), "sys", ""); err == nil {
		t.Fatal("expected error for empty user prompt")
	}
}

func TestHealthCheck(t *testing.T) {
	srv, _, _ := chatServer(t, http.StatusOK, `{"ok":true}`)
	if err := newClient(srv).HealthCheck(context.Background()); err != nil {
		t.Fatalf("HealthCheck: %v", err)
	}
	bad, _, _ := chatServer(t, http.StatusOK, `{"ok":false}`)
	if err := newClient(bad).HealthCheck(context.Background()); err == nil {
		t.Fatal("expected unexpected-response error")
	}
}

func TestErrorClassification(t *testing.T) {
	tests := []struct {
		status    int
		retryable bool
	}{
		{http.StatusBadRequest, false},
		{http.StatusUnauthorized, false},
		{http.StatusTooManyRequests, true},
		{http.StatusBadGateway, true},
	}
	for _, tc := range tests {
		srv, _, _ := chatServer(t, tc.status, "")
		client := llm.NewClient(llm.Config{APIKey: "key", BaseURL: srv.URL, Model: "m", MaxRetries: 0})
		_, err := client.CompleteJSON(context.Background(), "sys", "user")
		if err == nil {
			t.Fatalf("status %d: expected error", tc.status)
		}
		if got := llm.StatusCode(err); got != tc.status {
			t.Fatalf("StatusCode = %d, want %d", got, tc.status)
		}
		if got := llm.Retryable(err); got != tc.retryable {
			t.Fatalf("status %d: Retryable = %v, want %v", tc.status, got, tc.retryable)
		}
	}
	if llm.Retryable(context.Canceled) {
		t.Fatal("cancellation must not be retryable")
	}
}

func TestEmptyContentIsRetryable(t *testing.T) {
	srv, _, _ := chatServer(t, http.StatusOK, "  ")
	_, err := newClient(srv).CompleteJSON(context.Background(), "sys", "user")
	if err == nil || !strings.Contains(err.Error(), "empty content") {
		t.Fatalf("expected empty content error, got %v", err)
	}
	if !llm.Retryable(err) {
		t.Fatal("empty content should be retryable")
	}
}
