package handlers

import (
	"errors"
	"net/http"

	"github.com/iago/recognition-orchestrator/internal/repository"
)

// Results returns the case's result document with its completion state.
func (api *API) Results(w http.ResponseWriter, r *http.Request) {
	if !methodAllowed(w, r, http.MethodGet) {
		return
	}
	caseID, integration, ok := caseAndIntegration(w, r)
	if !ok {
		return
	}

	status, err := api.recognition.Status(r.Context(), caseID, integration)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, "not_found", "case not found")
			return
		}
		api.logger.Printf("load result failed case_id=%s integration=%s err=%v", caseID, integration, err)
		writeError(w, r, http.StatusInternalServerError, "internal_error", "failed to load result document")
		return
	}

	outstanding := status.Outstanding
	if outstanding == nil {
		outstanding = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"case_id":     caseID,
		"integration": integration,
		"complete":    status.Complete,
		"outstanding": outstanding,
		"document":    status.Document,
	})
}
