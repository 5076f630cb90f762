package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/agentdesk/internal/agent"
	"github.com/kalambet/agentdesk/internal/composer"
	"github.com/kalambet/agentdesk/internal/storage"
)

func handleListProducts(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, deps.Catalog.All())
	}
}

// SynthesizeRequest composes a prompt without storing anything. Variant
// takes precedence over Product.
type SynthesizeRequest struct {
	Variant  string                   `json:"variant"`
	Product  string                   `json:"product"`
	Config   composer.Options         `json:"config"`
	Business composer.BusinessProfile `json:"business"`
}

// Synthesize runs the composer for req.
func Synthesize(req SynthesizeRequest) (composer.Result, error) {
	if strings.TrimSpace(req.Variant) != "" {
		v, err := composer.ParseVariant(req.Variant)
		if err != nil {
			return composer.Result{}, err
		}
		return composer.Compose(v, req.Config, req.Business), nil
	}
	return composer.ComposeForProduct(req.Product, req.Config, req.Business), nil
}

func handleSynthesize(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req SynthesizeRequest
		if !decodeJSON(w, r, maxRequestBodySize, &req) {
			return
		}
		if p, ok := deps.Catalog.ByID(req.Product); ok && req.Variant == "" {
			req.Variant = p.Variant.String()
		}
		res, err := Synthesize(req)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

func handleGetUserProduct(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := deps.Store.GetUserProduct(chi.URLParam(r, "id"))
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "product not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to load product: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, p)
	}
}

// SaveConfigRequest is the dashboard's configuration form.
type SaveConfigRequest struct {
	BusinessName string           `json:"business_name"`
	Config       composer.Options `json:"config"`
}

func handleSaveConfig(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req SaveConfigRequest
		if !decodeJSON(w, r, maxRequestBodySize, &req) {
			return
		}
		res, err := deps.Service.SaveConfig(r.Context(), chi.URLParam(r, "id"), req.Config, req.BusinessName)
		if err != nil {
			provisionError(w, "failed to save config", err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

type previewRequest struct {
	Messages []agent.Message `json:"messages"`
}

func handlePreview(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Previewer == nil {
			httpError(w, http.StatusServiceUnavailable, "api_error", "preview not available: no chat model configured")
			return
		}
		var req previewRequest
		if !decodeJSON(w, r, maxRequestBodySize, &req) {
			return
		}

		p, err := deps.Store.GetUserProduct(chi.URLParam(r, "id"))
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "product not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to load product: %v", err)
			return
		}

		reply, err := deps.Previewer.Preview(r.Context(), p.Prompt, req.Messages)
		if errors.Is(err, agent.ErrInvalidConversation) {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}
		if err != nil {
			httpError(w, http.StatusBadGateway, "api_error", "preview failed: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, reply)
	}
}
