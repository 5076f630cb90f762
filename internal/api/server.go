// Package api serves the public endpoints (checkout webhook, contact form,
// agent gateway) and the bearer-authenticated management API.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/agentdesk/internal/agent"
	"github.com/kalambet/agentdesk/internal/catalog"
	"github.com/kalambet/agentdesk/internal/provision"
	"github.com/kalambet/agentdesk/internal/storage"
)

const maxRequestBodySize = 1 << 20 // 1MB
const maxUploadBodySize = 10 << 20 // 10MB

// Relay posts JSON to the workflow backend.
type Relay interface {
	Post(ctx context.Context, url string, body any) (json.RawMessage, int, error)
}

// Previewer runs a prompt against the chat model.
type Previewer interface {
	Preview(ctx context.Context, systemPrompt string, history []agent.Message) (agent.Reply, error)
}

// Deps holds everything the handlers need.
type Deps struct {
	Store   *storage.Store
	Service *provision.Service
	Catalog *catalog.Catalog
	Token   string

	WebhookSecret    string
	WebhookTolerance time.Duration

	Relay Relay
	// AgentURLs maps an agentType to its workflow URL.
	AgentURLs map[string]string
	Previewer Previewer // optional; if nil, previews return 503
}

// NewHandler returns the full HTTP API.
func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handleHealth)
	r.Post("/webhooks/checkout", handleCheckoutWebhook(deps))
	r.Post("/contact", handleContact(deps))
	r.Post("/agent", handleAgentGateway(deps))

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		r.Get("/status", handleStatus(deps))
		r.Get("/products", handleListProducts(deps))
		r.Post("/synthesize", handleSynthesize(deps))

		r.Get("/merchants", handleFindMerchant(deps))
		r.Get("/merchants/{id}", handleGetMerchant(deps))
		r.Post("/merchants/{id}/setup", handleSetup(deps))
		r.Post("/merchants/{id}/cancel", handleCancel(deps))
		r.Get("/merchants/{id}/captures", handleListCaptures(deps))
		r.Get("/merchants/{id}/knowledge", handleListKnowledge(deps))
		r.Post("/merchants/{id}/knowledge", handleAddKnowledge(deps))
		r.Delete("/knowledge/{id}", handleDeleteKnowledge(deps))

		r.Get("/user-products/{id}", handleGetUserProduct(deps))
		r.Put("/user-products/{id}/config", handleSaveConfig(deps))
		r.Post("/user-products/{id}/preview", handlePreview(deps))
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func handleStatus(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		counts, err := deps.Store.JobCounts()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to count jobs: %v", err)
			return
		}
		contacts, err := deps.Store.CountContactSubmissions()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to count contacts: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"status":   "ok",
			"jobs":     counts,
			"contacts": contacts,
			"products": len(deps.Catalog.All()),
		})
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, limit int64, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}
