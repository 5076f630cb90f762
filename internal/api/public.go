package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/agentdesk/internal/marker"
	"github.com/kalambet/agentdesk/internal/provision"
	"github.com/kalambet/agentdesk/internal/storage"
	"github.com/kalambet/agentdesk/internal/webhook"
	"github.com/kalambet/agentdesk/internal/workflow"
)

// DefaultAgentType is used when a gateway request names no agent.
const DefaultAgentType = "homepage"

func handleCheckoutWebhook(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.WebhookSecret == "" {
			httpError(w, http.StatusServiceUnavailable, "api_error", "webhook signing secret is not configured")
			return
		}

		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()
		payload, err := io.ReadAll(r.Body)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "reading body: %v", err)
			return
		}

		tolerance := deps.WebhookTolerance
		if tolerance == 0 {
			tolerance = webhook.DefaultTolerance
		}
		if err := webhook.Verify(payload, r.Header.Get(webhook.SignatureHeader), deps.WebhookSecret, time.Now(), tolerance); err != nil {
			slog.Warn("webhook: rejected delivery", "error", err)
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}

		ev, err := webhook.ParseEvent(payload)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}
		if ev.Checkout == nil {
			writeJSON(w, http.StatusOK, map[string]any{"received": true, "ignored": ev.Type})
			return
		}

		res, err := deps.Service.HandleCheckout(r.Context(), *ev.Checkout)
		if errors.Is(err, provision.ErrInvalidCheckout) {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}
		if err != nil {
			slog.Error("webhook: provisioning failed", "event_id", ev.ID, "error", err)
			httpError(w, http.StatusInternalServerError, "api_error", "provisioning failed: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"received": true, "result": res})
	}
}

type contactRequest struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Company string `json:"company"`
	Product string `json:"product"`
	Message string `json:"message"`
}

var (
	unsafeChars   = regexp.MustCompile(`[<>"']`)
	scriptScheme  = regexp.MustCompile(`(?i)javascript:`)
	eventHandlers = regexp.MustCompile(`(?i)on\w+=`)
	emailPattern  = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
)

const maxContactField = 1000

// sanitizeInput strips markup and script injection vectors and caps the
// length at 1000 characters.
func sanitizeInput(s string) string {
	s = unsafeChars.ReplaceAllString(s, "")
	s = scriptScheme.ReplaceAllString(s, "")
	s = eventHandlers.ReplaceAllString(s, "")
	s = strings.TrimSpace(s)
	if r := []rune(s); len(r) > maxContactField {
		s = string(r[:maxContactField])
	}
	return s
}

func (c contactRequest) sanitized() contactRequest {
	return contactRequest{
		Name:    sanitizeInput(c.Name),
		Email:   sanitizeInput(c.Email),
		Company: sanitizeInput(c.Company),
		Product: sanitizeInput(c.Product),
		Message: sanitizeInput(c.Message),
	}
}

func (c contactRequest) validate() []string {
	var problems []string
	if c.Name == "" {
		problems = append(problems, "Name is required")
	}
	if !emailPattern.MatchString(c.Email) {
		problems = append(problems, "Valid email is required")
	}
	return problems
}

func handleContact(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req contactRequest
		if !decodeJSON(w, r, maxRequestBodySize, &req) {
			return
		}
		req = req.sanitized()
		if problems := req.validate(); len(problems) > 0 {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "validation failed: %s", strings.Join(problems, "; "))
			return
		}

		message := req.Message
		if req.Product != "" {
			message = strings.TrimSpace("[" + req.Product + "] " + message)
		}
		sub := storage.ContactSubmission{
			ID:      uuid.New().String(),
			Name:    req.Name,
			Email:   req.Email,
			Company: req.Company,
			Message: message,
		}
		if err := deps.Store.SaveContactSubmission(sub); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to save submission: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "Form submitted successfully"})
	}
}

// handleAgentGateway forwards a chat turn to the workflow that runs the
// requested agent and relays its reply. Markers in the reply are stored as
// captures when the request names the merchant.
func handleAgentGateway(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		if !decodeJSON(w, r, maxRequestBodySize, &body) {
			return
		}
		if body == nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid JSON body")
			return
		}

		agentType, _ := body["agentType"].(string)
		if agentType == "" {
			agentType = DefaultAgentType
		}
		url, ok := deps.AgentURLs[agentType]
		if !ok {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "unknown agentType: %s", agentType)
			return
		}
		if url == "" {
			httpError(w, http.StatusServiceUnavailable, "api_error", "agent %q is not configured", agentType)
			return
		}

		reply, _, err := deps.Relay.Post(r.Context(), url, body)
		var se *workflow.StatusError
		if errors.As(err, &se) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(se.Status)
			w.Write(workflow.WrapReply([]byte(se.Body)))
			return
		}
		if err != nil {
			slog.Error("agent gateway: relay failed", "agent_type", agentType, "error", err)
			httpError(w, http.StatusBadGateway, "api_error", "agent gateway error: %v", err)
			return
		}

		if merchantID := merchantFromBody(body); merchantID != "" {
			saveCaptures(deps.Store, merchantID, agentType, workflow.ReplyText(reply))
		}

		w.Header().Set("Content-Type", "application/json")
		w.Write(reply)
	}
}

func merchantFromBody(body map[string]any) string {
	for _, key := range []string{"user_id", "userId"} {
		if s, ok := body[key].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

func saveCaptures(store *storage.Store, merchantID, agentType, text string) {
	markers := marker.Extract(text)
	if len(markers) == 0 {
		return
	}
	if _, err := store.GetMerchant(merchantID); err != nil {
		slog.Warn("agent gateway: dropping captures for unknown merchant", "user_id", merchantID, "error", err)
		return
	}
	for _, m := range markers {
		if m.Err != nil {
			slog.Warn("agent gateway: malformed marker", "user_id", merchantID, "kind", m.Kind, "error", m.Err)
			continue
		}
		fields, err := json.Marshal(m.Fields)
		if err != nil {
			continue
		}
		c := storage.Capture{
			ID:         uuid.New().String(),
			MerchantID: merchantID,
			Kind:       string(m.Kind),
			AgentType:  agentType,
			FieldsJSON: string(fields),
			Raw:        m.Raw,
		}
		if err := store.SaveCapture(c); err != nil {
			slog.Warn("agent gateway: failed to save capture", "user_id", merchantID, "error", err)
		}
	}
}
