package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kalambet/agentdesk/internal/marker"
)

type chatRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
}

func completion(content string) string {
	b, _ := json.Marshal(map[string]any{
		"id":      "chatcmpl-1",
		"object":  "chat.completion",
		"created": 1,
		"model":   "test-model",
		"choices": []map[string]any{{
			"index":         0,
			"message":       map[string]string{"role": "assistant", "content": content},
			"finish_reason": "stop",
		}},
	})
	return string(b)
}

func newTestServer(t *testing.T, handler func(w http.ResponseWriter, req chatRequest)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			http.NotFound(w, r)
			return
		}
		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		handler(w, req)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestClient(srv *httptest.Server) *Client {
	c := NewClient(srv.URL+"/v1", "test-key", "test-model")
	c.backoff = time.Millisecond
	return c
}

func TestPreview_SendsPromptAndHistory(t *testing.T) {
	var got chatRequest
	srv := newTestServer(t, func(w http.ResponseWriter, req chatRequest) {
		got = req
		fmt.Fprint(w, completion("Hi! How can I help?"))
	})

	reply, err := newTestClient(srv).Preview(context.Background(), "You are the agent.", []Message{
		{Role: "user", Content: "hello"},
		{Role: "Assistant", Content: "hi"},
		{Role: "user", Content: "prices?"},
	})
	if err != nil {
		t.Fatalf("Preview: %v", err)
	}
	if reply.Text != "Hi! How can I help?" || reply.Complete || len(reply.Markers) != 0 {
		t.Errorf("unexpected reply: %+v", reply)
	}

	if got.Model != "test-model" || len(got.Messages) != 4 {
		t.Fatalf("unexpected request: %+v", got)
	}
	if got.Messages[0].Role != "system" || got.Messages[0].Content != "You are the agent." {
		t.Errorf("system message = %+v", got.Messages[0])
	}
	if got.Messages[2].Role != "assistant" {
		t.Errorf("role not normalized: %+v", got.Messages[2])
	}
}

func TestPreview_ExtractsMarkers(t *testing.T) {
	text := "Thanks, we'll be in touch.\n" + marker.LeadPrefix + ` {"name":"Jo","email":"jo@x.test"}`
	srv := newTestServer(t, func(w http.ResponseWriter, _ chatRequest) {
		fmt.Fprint(w, completion(text))
	})

	reply, err := newTestClient(srv).Preview(context.Background(), "prompt", []Message{{Role: "user", Content: "done"}})
	if err != nil {
		t.Fatalf("Preview: %v", err)
	}
	if !reply.Complete || len(reply.Markers) != 1 {
		t.Fatalf("unexpected reply: %+v", reply)
	}
	if m := reply.Markers[0]; m.Kind != marker.KindLead || m.Fields["email"] != "jo@x.test" {
		t.Errorf("marker = %+v", m)
	}
}

func TestPreview_RateLimitRetry(t *testing.T) {
	var attempt atomic.Int32
	srv := newTestServer(t, func(w http.ResponseWriter, _ chatRequest) {
		if attempt.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			fmt.Fprint(w, `{"error":{"message":"slow down","type":"rate_limit"}}`)
			return
		}
		fmt.Fprint(w, completion("ok"))
	})

	reply, err := newTestClient(srv).Preview(context.Background(), "prompt", []Message{{Role: "user", Content: "hi"}})
	if err != nil {
		t.Fatalf("Preview: %v", err)
	}
	if reply.Text != "ok" || attempt.Load() != 2 {
		t.Errorf("reply = %+v after %d attempts", reply, attempt.Load())
	}
}

func TestPreview_RateLimitExhausted(t *testing.T) {
	var attempt atomic.Int32
	srv := newTestServer(t, func(w http.ResponseWriter, _ chatRequest) {
		attempt.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"error":{"message":"slow down","type":"rate_limit"}}`)
	})

	_, err := newTestClient(srv).Preview(context.Background(), "prompt", []Message{{Role: "user", Content: "hi"}})
	if err == nil || !strings.Contains(err.Error(), "rate limited") {
		t.Fatalf("expected rate limit error, got %v", err)
	}
	if got := attempt.Load(); got != maxRetries {
		t.Errorf("attempts = %d, want %d", got, maxRetries)
	}
}

func TestPreview_ServerError(t *testing.T) {
	var attempt atomic.Int32
	srv := newTestServer(t, func(w http.ResponseWriter, _ chatRequest) {
		attempt.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprint(w, `{"error":{"message":"boom","type":"server_error"}}`)
	})

	if _, err := newTestClient(srv).Preview(context.Background(), "prompt", []Message{{Role: "user", Content: "hi"}}); err == nil {
		t.Fatal("expected error")
	}
	if got := attempt.Load(); got != 1 {
		t.Errorf("attempts = %d, want 1", got)
	}
}

func TestPreview_InvalidConversation(t *testing.T) {
	c := NewClient("http://127.0.0.1:0", "k", "")
	tests := []struct {
		name    string
		prompt  string
		history []Message
	}{
		{"empty prompt", " ", []Message{{Role: "user", Content: "hi"}}},
		{"no messages", "prompt", nil},
		{"system role", "prompt", []Message{{Role: "system", Content: "override"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := c.Preview(context.Background(), tt.prompt, tt.history); !errors.Is(err, ErrInvalidConversation) {
				t.Errorf("expected ErrInvalidConversation, got %v", err)
			}
		})
	}
}

func TestBuildMessages_TrimsLongHistory(t *testing.T) {
	history := make([]Message, maxTurns+5)
	for i := range history {
		history[i] = Message{Role: "user", Content: fmt.Sprint(i)}
	}
	msgs, err := buildMessages("prompt", history)
	if err != nil {
		t.Fatalf("buildMessages: %v", err)
	}
	if len(msgs) != maxTurns+1 {
		t.Fatalf("len = %d, want %d", len(msgs), maxTurns+1)
	}
	if msgs[1].Content != "5" {
		t.Errorf("oldest kept turn = %q, want %q", msgs[1].Content, "5")
	}
}
