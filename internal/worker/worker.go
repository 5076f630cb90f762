// Package worker runs background jobs from the SQLite job queue.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/kalambet/agentdesk/internal/knowledge"
	"github.com/kalambet/agentdesk/internal/provision"
	"github.com/kalambet/agentdesk/internal/storage"
)

// JobStore abstracts the job queue operations.
type JobStore interface {
	ClaimNextJob(types []string) (*storage.Job, error)
	CompleteJob(id string) error
	FailJob(id string, errMsg string) error
}

// Poster delivers JSON to the workflow backend.
type Poster interface {
	Post(ctx context.Context, url string, body any) (json.RawMessage, int, error)
}

// DocSaver stores downloaded policy documents.
type DocSaver interface {
	SaveFetched(merchantID string, docs []knowledge.Document, certified bool) error
}

// Worker processes provision_notify and knowledge_fetch jobs.
type Worker struct {
	store        JobStore
	poster       Poster
	docs         DocSaver
	fetchClient  *http.Client
	provisionURL string
	poll         time.Duration
	logger       *slog.Logger
}

// NewWorker creates a Worker. provisionURL receives provision_notify
// payloads; when empty those jobs complete without delivery. If
// pollInterval is <= 0, it defaults to 500ms.
func NewWorker(store JobStore, poster Poster, docs DocSaver, provisionURL string, pollInterval time.Duration) *Worker {
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	return &Worker{
		store:        store,
		poster:       poster,
		docs:         docs,
		fetchClient:  &http.Client{Timeout: 30 * time.Second},
		provisionURL: provisionURL,
		poll:         pollInterval,
		logger:       slog.Default(),
	}
}

// Run polls for jobs until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		done, err := w.RunOnce(ctx)
		if err != nil {
			w.logger.Error("worker iteration failed", "error", err)
		}
		if done {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(w.poll):
		}
	}
}

// RunOnce claims and processes a single job.
// Returns true if a job was processed (regardless of success/failure).
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	job, err := w.store.ClaimNextJob([]string{provision.JobProvisionNotify, provision.JobKnowledgeFetch})
	if err != nil {
		return false, fmt.Errorf("claiming job: %w", err)
	}
	if job == nil {
		return false, nil
	}

	if err := w.processJob(ctx, job); err != nil {
		w.logger.Warn("job failed", "job_id", job.ID, "type", job.Type, "error", err)
		if failErr := w.store.FailJob(job.ID, err.Error()); failErr != nil {
			w.logger.Error("failed to mark job as failed", "job_id", job.ID, "error", failErr)
		}
		return true, nil
	}

	if err := w.store.CompleteJob(job.ID); err != nil {
		return true, fmt.Errorf("completing job %s: %w", job.ID, err)
	}
	return true, nil
}

func (w *Worker) processJob(ctx context.Context, job *storage.Job) error {
	switch job.Type {
	case provision.JobProvisionNotify:
		return w.notify(ctx, job)
	case provision.JobKnowledgeFetch:
		return w.fetchKnowledge(ctx, job)
	}
	return fmt.Errorf("unknown job type %q", job.Type)
}

func (w *Worker) notify(ctx context.Context, job *storage.Job) error {
	var payload provision.NotifyPayload
	if err := json.Unmarshal([]byte(job.PayloadJSON), &payload); err != nil {
		return fmt.Errorf("parsing payload: %w", err)
	}
	if w.provisionURL == "" {
		w.logger.Debug("provision url not configured, skipping notification", "user_id", payload.UserID)
		return nil
	}
	if _, _, err := w.poster.Post(ctx, w.provisionURL, payload); err != nil {
		return fmt.Errorf("posting provision notification: %w", err)
	}
	w.logger.Info("provision notification delivered", "user_id", payload.UserID, "product_id", payload.ProductID)
	return nil
}

func (w *Worker) fetchKnowledge(ctx context.Context, job *storage.Job) error {
	var payload provision.KnowledgeFetchPayload
	if err := json.Unmarshal([]byte(job.PayloadJSON), &payload); err != nil {
		return fmt.Errorf("parsing payload: %w", err)
	}
	docs, err := knowledge.Fetch(ctx, w.fetchClient, payload.URLs)
	if err != nil {
		return err
	}
	if err := w.docs.SaveFetched(payload.MerchantID, docs, payload.Certified); err != nil {
		return fmt.Errorf("saving documents: %w", err)
	}
	w.logger.Info("policy pages imported", "user_id", payload.MerchantID, "count", len(docs))
	return nil
}
