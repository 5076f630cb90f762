package workflow

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
)

func newTestClient() *Client {
	c := NewClient(5 * time.Second)
	c.backoff = time.Millisecond
	return c
}

func TestPost_JSONReply(t *testing.T) {
	var gotBody map[string]string
	var gotType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotType = r.Header.Get("Content-Type")
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"output":"Hello!"}`)
	}))
	defer srv.Close()

	reply, status, err := newTestClient().Post(context.Background(), srv.URL, map[string]string{"message": "hi"})
	if err != nil {
		t.Fatalf("Post: %v", err)
	}
	if status != http.StatusOK {
		t.Errorf("status = %d", status)
	}
	if string(reply) != `{"output":"Hello!"}` {
		t.Errorf("reply = %s", reply)
	}
	if gotType != "application/json" || gotBody["message"] != "hi" {
		t.Errorf("request = %q %v", gotType, gotBody)
	}
}

func TestPost_NonJSONReplyWrapped(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "Workflow was started")
	}))
	defer srv.Close()

	reply, _, err := newTestClient().Post(context.Background(), srv.URL, struct{}{})
	if err != nil {
		t.Fatalf("Post: %v", err)
	}
	var got map[string]string
	if err := json.Unmarshal(reply, &got); err != nil {
		t.Fatalf("reply is not JSON: %s", reply)
	}
	if got["raw"] != "Workflow was started" {
		t.Errorf("raw = %q", got["raw"])
	}
}

func TestPost_EmptyReply(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	reply, status, err := newTestClient().Post(context.Background(), srv.URL, nil)
	if err != nil {
		t.Fatalf("Post: %v", err)
	}
	if status != http.StatusNoContent || string(reply) != "{}" {
		t.Errorf("got %d %s", status, reply)
	}
}

func TestPost_StatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "workflow not active", http.StatusNotFound)
	}))
	defer srv.Close()

	_, status, err := newTestClient().Post(context.Background(), srv.URL, nil)
	var se *StatusError
	if !errors.As(err, &se) {
		t.Fatalf("expected *StatusError, got %v", err)
	}
	if status != http.StatusNotFound || se.Status != http.StatusNotFound || !strings.Contains(se.Body, "workflow not active") {
		t.Errorf("unexpected error: %d %+v", status, se)
	}
}

func TestPost_RateLimitRetry(t *testing.T) {
	var attempt atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempt.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		fmt.Fprint(w, `{}`)
	}))
	defer srv.Close()

	if _, _, err := newTestClient().Post(context.Background(), srv.URL, nil); err != nil {
		t.Fatalf("Post: %v", err)
	}
	if got := attempt.Load(); got != 2 {
		t.Errorf("attempts = %d, want 2", got)
	}
}

func TestPost_RateLimitExhausted(t *testing.T) {
	var attempt atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempt.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, status, err := newTestClient().Post(context.Background(), srv.URL, nil)
	if err == nil || !strings.Contains(err.Error(), "rate limited") {
		t.Fatalf("expected rate limit error, got %v", err)
	}
	if status != http.StatusTooManyRequests {
		t.Errorf("status = %d", status)
	}
	if got := attempt.Load(); got != maxRetries {
		t.Errorf("attempts = %d, want %d", got, maxRetries)
	}
}

func TestPost_NoURL(t *testing.T) {
	if _, _, err := newTestClient().Post(context.Background(), "", nil); err == nil {
		t.Error("expected error for empty url")
	}
}

func TestReplyText(t *testing.T) {
	tests := []struct {
		reply string
		want  string
	}{
		{`{"output":"a"}`, "a"},
		{`{"response":"b","other":1}`, "b"},
		{`[{"text":"c"}]`, "c"},
		{`{"message":"","raw":"d"}`, "d"},
		{`{"output":42}`, ""},
		{`[]`, ""},
		{`"plain"`, ""},
	}
	for _, tt := range tests {
		if got := ReplyText(json.RawMessage(tt.reply)); got != tt.want {
			t.Errorf("ReplyText(%s) = %q, want %q", tt.reply, got, tt.want)
		}
	}
}
