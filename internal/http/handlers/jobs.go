package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/iago/recognition-orchestrator/internal/repository"
)

func (api *API) JobStatus(w http.ResponseWriter, r *http.Request) {
	if !methodAllowed(w, r, http.MethodGet) {
		return
	}

	jobID := strings.TrimSpace(r.PathValue("job_id"))
	if jobID == "" {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "job_id is required")
		return
	}

	job, err := api.jobs.GetJob(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, "not_found", "job not found")
			return
		}
		writeError(w, r, http.StatusInternalServerError, "internal_error", "failed to load job")
		return
	}
	writeJSON(w, http.StatusOK, newJobPayload(*job))
}

func (api *API) CaseJobs(w http.ResponseWriter, r *http.Request) {
	if !methodAllowed(w, r, http.MethodGet) {
		return
	}

	caseID := strings.TrimSpace(r.PathValue("case_id"))
	if caseID == "" || len(caseID) > maxCaseIDLength {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "case_id is required")
		return
	}
	limit := defaultJobsListing
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 || parsed > 500 {
			writeError(w, r, http.StatusBadRequest, "invalid_request", "limit must be between 1 and 500")
			return
		}
		limit = parsed
	}

	jobs, err := api.jobs.ListCaseJobs(r.Context(), caseID, limit)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "internal_error", "failed to list jobs")
		return
	}
	items := make([]jobPayload, 0, len(jobs))
	for _, job := range jobs {
		items = append(items, newJobPayload(job))
	}
	writeJSON(w, http.StatusOK, map[string]any{"case_id": caseID, "jobs": items})
}
