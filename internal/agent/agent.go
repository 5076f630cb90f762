// Package agent runs a merchant's generated prompt against an
// OpenAI-compatible chat model so the merchant can preview their agent.
package agent

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/kalambet/agentdesk/internal/marker"
)

const (
	DefaultModel   = "gpt-4o-mini"
	maxRetries     = 3
	initialBackoff = 500 * time.Millisecond
	maxTurns       = 40
)

// ErrInvalidConversation is returned for histories the model cannot take.
var ErrInvalidConversation = errors.New("invalid conversation")

// Message is one turn of a preview conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Reply is the agent's answer and any markers it emitted.
type Reply struct {
	Text    string          `json:"text"`
	Markers []marker.Marker `json:"markers"`
	// Complete is set once the agent has emitted a well-formed marker.
	Complete bool `json:"complete"`
}

// Client sends preview conversations to the chat model.
type Client struct {
	client  *openai.Client
	model   string
	backoff time.Duration
}

// NewClient creates a Client. An empty baseURL uses the OpenAI API and an
// empty model uses DefaultModel.
func NewClient(baseURL, apiKey, model string) *Client {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = strings.TrimRight(baseURL, "/")
	}
	cfg.HTTPClient = &http.Client{Timeout: 60 * time.Second}
	if model == "" {
		model = DefaultModel
	}
	return &Client{
		client:  openai.NewClientWithConfig(cfg),
		model:   model,
		backoff: initialBackoff,
	}
}

// Preview continues the conversation in history with systemPrompt as the
// agent's instructions and returns the next reply.
func (c *Client) Preview(ctx context.Context, systemPrompt string, history []Message) (Reply, error) {
	msgs, err := buildMessages(systemPrompt, history)
	if err != nil {
		return Reply{}, err
	}
	req := openai.ChatCompletionRequest{
		Model:    c.model,
		Messages: msgs,
	}

	var lastErr error
	for attempt := range maxRetries {
		resp, err := c.client.CreateChatCompletion(ctx, req)
		if err == nil {
			return newReply(resp)
		}

		if !isRateLimit(err) {
			return Reply{}, fmt.Errorf("chat completion: %w", err)
		}

		lastErr = err
		if attempt < maxRetries-1 {
			backoff := time.Duration(float64(c.backoff) * math.Pow(2, float64(attempt)))
			select {
			case <-ctx.Done():
				return Reply{}, ctx.Err()
			case <-time.After(backoff):
			}
		}
	}

	return Reply{}, fmt.Errorf("rate limited after %d retries: %w", maxRetries, lastErr)
}

func buildMessages(systemPrompt string, history []Message) ([]openai.ChatCompletionMessage, error) {
	if strings.TrimSpace(systemPrompt) == "" {
		return nil, fmt.Errorf("%w: empty system prompt", ErrInvalidConversation)
	}
	if len(history) == 0 {
		return nil, fmt.Errorf("%w: no messages", ErrInvalidConversation)
	}
	if len(history) > maxTurns {
		history = history[len(history)-maxTurns:]
	}

	msgs := make([]openai.ChatCompletionMessage, 0, len(history)+1)
	msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: systemPrompt})
	for i, m := range history {
		role := strings.ToLower(strings.TrimSpace(m.Role))
		if role != openai.ChatMessageRoleUser && role != openai.ChatMessageRoleAssistant {
			return nil, fmt.Errorf("%w: message %d has role %q", ErrInvalidConversation, i, m.Role)
		}
		msgs = append(msgs, openai.ChatCompletionMessage{Role: role, Content: m.Content})
	}
	return msgs, nil
}

func newReply(resp openai.ChatCompletionResponse) (Reply, error) {
	if len(resp.Choices) == 0 {
		return Reply{}, errors.New("chat completion returned no choices")
	}
	text := resp.Choices[0].Message.Content
	r := Reply{Text: text, Markers: marker.Extract(text)}
	if r.Markers == nil {
		r.Markers = []marker.Marker{}
	}
	for _, m := range r.Markers {
		if m.Err == nil {
			r.Complete = true
		}
	}
	return r, nil
}

func isRateLimit(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == http.StatusTooManyRequests
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode == http.StatusTooManyRequests
	}
	return false
}
