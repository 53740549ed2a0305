package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/iago/recognition-orchestrator/internal/cache"
	"github.com/iago/recognition-orchestrator/internal/domain"
	"github.com/iago/recognition-orchestrator/internal/repository"
)

// Recognitions enqueues a submission round. An Idempotency-Key header makes
// retries of the same request return the job created the first time.
func (api *API) Recognitions(w http.ResponseWriter, r *http.Request) {
	if !methodAllowed(w, r, http.MethodPost) {
		return
	}
	caseID, integration, ok := caseAndIntegration(w, r)
	if !ok {
		return
	}

	idempotencyKey := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	payloadHash := cache.Signature(caseID, string(integration))
	if idempotencyKey != "" {
		if entry, exists := api.idempotency.Get(idempotencyKey); exists {
			if entry.PayloadHash != payloadHash {
				writeError(w, r, http.StatusConflict, "idempotency_conflict", "Idempotency-Key already used with different payload")
				return
			}
			writeAccepted(w, entry.Job)
			return
		}
	}

	c, err := api.cases.LoadCase(r.Context(), caseID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, "not_found", "case not found")
			return
		}
		writeError(w, r, http.StatusInternalServerError, "internal_error", "failed to load case")
		return
	}
	if !c.Connected(integration) {
		writeError(w, r, http.StatusConflict, "not_connected", "case is not connected to "+string(integration))
		return
	}

	job, err := api.jobs.EnqueueRecognition(r.Context(), caseID, integration)
	if err != nil {
		api.logger.Printf("enqueue recognition failed case_id=%s integration=%s err=%v", caseID, integration, err)
		writeError(w, r, http.StatusInternalServerError, "internal_error", "failed to enqueue recognition job")
		return
	}
	if idempotencyKey != "" {
		api.idempotency.Set(idempotencyKey, idempotencyEntry{PayloadHash: payloadHash, Job: job})
	}
	writeAccepted(w, job)
}

func writeAccepted(w http.ResponseWriter, job domain.Job) {
	w.Header().Set("Retry-After", "2")
	writeJSON(w, http.StatusAccepted, map[string]any{
		"job_id":      job.ID,
		"status":      job.Status,
		"status_url":  "/v1/jobs/" + job.ID,
		"accepted_at": job.CreatedAt.Format(time.RFC3339Nano),
	})
}
