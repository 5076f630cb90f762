package api

import (
	"encoding/base64"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/agentdesk/internal/knowledge"
	"github.com/kalambet/agentdesk/internal/provision"
	"github.com/kalambet/agentdesk/internal/storage"
)

// provisionError maps service errors to HTTP responses.
func provisionError(w http.ResponseWriter, what string, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		httpError(w, http.StatusNotFound, "not_found", "%s: %v", what, err)
	case errors.Is(err, provision.ErrInvalidSetup):
		httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
	case errors.Is(err, provision.ErrNotProvisioned):
		httpError(w, http.StatusConflict, "not_provisioned", "%v; payment may still be processing, retry shortly", err)
	case errors.Is(err, provision.ErrNoActiveSubscription):
		httpError(w, http.StatusNotFound, "not_found", "%v", err)
	case errors.Is(err, knowledge.ErrTooLarge):
		httpError(w, http.StatusRequestEntityTooLarge, "invalid_request_error", "%v", err)
	case errors.Is(err, knowledge.ErrUnsupportedType), errors.Is(err, knowledge.ErrEmpty):
		httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
	default:
		httpError(w, http.StatusInternalServerError, "api_error", "%s: %v", what, err)
	}
}

func handleFindMerchant(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		email := strings.TrimSpace(r.URL.Query().Get("email"))
		if email == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "email query parameter is required")
			return
		}
		snap, err := deps.Service.SnapshotByEmail(r.Context(), email)
		if err != nil {
			provisionError(w, "failed to load merchant", err)
			return
		}
		writeJSON(w, http.StatusOK, snap)
	}
}

func handleGetMerchant(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snap, err := deps.Service.Snapshot(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			provisionError(w, "failed to load merchant", err)
			return
		}
		writeJSON(w, http.StatusOK, snap)
	}
}

func handleSetup(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req provision.SetupRequest
		if !decodeJSON(w, r, maxRequestBodySize, &req) {
			return
		}
		req.MerchantID = chi.URLParam(r, "id")

		res, err := deps.Service.CompleteSetup(r.Context(), req)
		if err != nil {
			provisionError(w, "setup failed", err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

func handleCancel(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Immediate bool `json:"immediate"`
		}
		if r.ContentLength != 0 && !decodeJSON(w, r, maxRequestBodySize, &req) {
			return
		}

		res, err := deps.Service.Cancel(r.Context(), chi.URLParam(r, "id"), req.Immediate)
		if err != nil {
			provisionError(w, "cancellation failed", err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

func handleListCaptures(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseIntParam(r, "limit", 20, 100)
		captures, err := deps.Store.ListCaptures(chi.URLParam(r, "id"), limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list captures: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, captures)
	}
}

func handleListKnowledge(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		docs, err := deps.Service.ListDocuments(chi.URLParam(r, "id"))
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list documents: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, docs)
	}
}

// KnowledgeRequest adds a policy document. Exactly one source is used, in
// order: URLs (imported in the background), a built-in template, or
// base64-encoded file content.
type KnowledgeRequest struct {
	Name        string   `json:"name"`
	ContentType string   `json:"content_type"`
	Content     string   `json:"content"`
	URLs        []string `json:"urls"`
	Template    string   `json:"template"`
	Certified   bool     `json:"certified"`
}

func handleAddKnowledge(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req KnowledgeRequest
		if !decodeJSON(w, r, maxUploadBodySize, &req) {
			return
		}
		merchantID := chi.URLParam(r, "id")

		switch {
		case len(req.URLs) > 0:
			if err := deps.Service.ImportURLs(r.Context(), merchantID, req.URLs, req.Certified); err != nil {
				provisionError(w, "failed to queue import", err)
				return
			}
			writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})

		case req.Template != "":
			if !knowledge.IsTemplate(req.Template) {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "unknown template %q", req.Template)
				return
			}
			doc, err := deps.Service.AddTemplate(r.Context(), merchantID, req.Template, req.Content, req.Certified)
			if err != nil {
				provisionError(w, "failed to save template", err)
				return
			}
			writeJSON(w, http.StatusCreated, doc)

		case req.Content != "":
			data, err := base64.StdEncoding.DecodeString(req.Content)
			if err != nil {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid base64 content")
				return
			}
			doc, err := deps.Service.AddDocument(r.Context(), merchantID, provision.Upload{
				Name:        req.Name,
				ContentType: req.ContentType,
				Data:        data,
				Certified:   req.Certified,
			})
			if err != nil {
				provisionError(w, "failed to save document", err)
				return
			}
			writeJSON(w, http.StatusCreated, doc)

		default:
			httpError(w, http.StatusBadRequest, "invalid_request_error", "one of urls, template or content is required")
		}
	}
}

func handleDeleteKnowledge(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := deps.Service.DeleteDocument(chi.URLParam(r, "id"))
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "document not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to delete document: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	}
}
