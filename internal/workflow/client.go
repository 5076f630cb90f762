// Package workflow relays JSON to the workflow-automation backend that runs
// the conversational agents and the post-checkout notifications.
package workflow

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"
)

const (
	defaultTimeout = 60 * time.Second
	maxRetries     = 3
	initialBackoff = 500 * time.Millisecond
	maxReplySize   = 1 << 20
)

// StatusError is returned when the backend answers with a non-2xx status.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("workflow backend returned %d: %s", e.Status, e.Body)
}

// Client posts JSON documents to workflow URLs.
type Client struct {
	httpClient *http.Client
	backoff    time.Duration
}

// NewClient creates a Client. A zero timeout uses the default of 60s.
func NewClient(timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		backoff:    initialBackoff,
	}
}

// Post sends body as JSON to url and returns the reply. Replies that are not
// JSON are wrapped as {"raw": "<text>"}. HTTP 429 is retried with
// exponential backoff.
func (c *Client) Post(ctx context.Context, url string, body any) (json.RawMessage, int, error) {
	if url == "" {
		return nil, 0, errors.New("workflow url is not configured")
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, 0, fmt.Errorf("marshaling request: %w", err)
	}

	var lastErr error
	for attempt := range maxRetries {
		reply, status, err := c.doPost(ctx, url, payload)
		if err == nil {
			return reply, status, nil
		}

		if !isRateLimit(err) {
			return nil, status, err
		}

		lastErr = err
		if attempt < maxRetries-1 {
			backoff := time.Duration(float64(c.backoff) * math.Pow(2, float64(attempt)))
			select {
			case <-ctx.Done():
				return nil, 0, ctx.Err()
			case <-time.After(backoff):
			}
		}
	}

	return nil, http.StatusTooManyRequests, fmt.Errorf("rate limited after %d retries: %w", maxRetries, lastErr)
}

type rateLimitError struct {
	status int
}

func (e *rateLimitError) Error() string {
	return fmt.Sprintf("rate limited (HTTP %d)", e.status)
}

func isRateLimit(err error) bool {
	var rl *rateLimitError
	return errors.As(err, &rl)
}

func (c *Client) doPost(ctx context.Context, url string, payload []byte) (json.RawMessage, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, 0, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, resp.StatusCode, &rateLimitError{status: resp.StatusCode}
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxReplySize))
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("reading reply: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, resp.StatusCode, &StatusError{Status: resp.StatusCode, Body: string(raw)}
	}
	return WrapReply(raw), resp.StatusCode, nil
}

// WrapReply returns raw when it is a JSON document, otherwise the text
// wrapped in a {"raw": ...} object. An empty reply becomes {}.
func WrapReply(raw []byte) json.RawMessage {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return json.RawMessage(`{}`)
	}
	if json.Valid(trimmed) {
		return json.RawMessage(trimmed)
	}
	b, _ := json.Marshal(map[string]string{"raw": string(raw)})
	return b
}

// ReplyText pulls the agent's answer out of a workflow reply. Backends
// answer with one of "output", "response", "text", "message" or "raw", at the
// top level or in the first element of an array.
func ReplyText(reply json.RawMessage) string {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(reply, &obj); err != nil {
		var list []json.RawMessage
		if err := json.Unmarshal(reply, &list); err != nil || len(list) == 0 {
			return ""
		}
		return ReplyText(list[0])
	}
	for _, key := range []string{"output", "response", "text", "message", "raw"} {
		var s string
		if v, ok := obj[key]; ok && json.Unmarshal(v, &s) == nil && s != "" {
			return s
		}
	}
	return ""
}
