package handlers

import (
	"crypto/subtle"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/iago/recognition-orchestrator/internal/domain"
	"github.com/iago/recognition-orchestrator/internal/recognition"
	"github.com/iago/recognition-orchestrator/internal/repository"
	"github.com/iago/recognition-orchestrator/internal/service"
)

// Callbacks receives vendor process reports. The case is named by the case_id
// query parameter the callback URL was registered with.
func (api *API) Callbacks(w http.ResponseWriter, r *http.Request) {
	if !methodAllowed(w, r, http.MethodPost) {
		return
	}
	integration, ok := domain.ParseIntegration(r.PathValue("integration"))
	if !ok {
		writeError(w, r, http.StatusNotFound, "unknown_integration", "integration is not supported")
		return
	}
	query := r.URL.Query()
	if api.callbackSecret != "" && subtle.ConstantTimeCompare([]byte(query.Get("token")), []byte(api.callbackSecret)) != 1 {
		writeError(w, r, http.StatusUnauthorized, "unauthorized", "invalid callback token")
		return
	}
	caseID := strings.TrimSpace(query.Get("case_id"))
	if caseID == "" || len(caseID) > maxCaseIDLength {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "case_id is required")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxCallbackBody+1))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "failed to read body")
		return
	}
	if len(body) > maxCallbackBody {
		writeError(w, r, http.StatusRequestEntityTooLarge, "payload_too_large", "callback body too large")
		return
	}

	err = api.recognition.HandleCallback(r.Context(), integration, caseID, body)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]any{"status": "merged"})
	case errors.Is(err, recognition.ErrInvalidCallback):
		writeError(w, r, http.StatusBadRequest, "invalid_callback", "callback payload is incomplete")
	case errors.Is(err, service.ErrUnknownIntegration):
		writeError(w, r, http.StatusNotFound, "unknown_integration", "callbacks are not supported for "+string(integration))
	case errors.Is(err, repository.ErrNotFound), errors.Is(err, service.ErrUnknownBatch):
		writeError(w, r, http.StatusNotFound, "not_found", "no matching batch for case")
	case errors.Is(err, domain.ErrLockUnavailable):
		w.Header().Set("Retry-After", "5")
		writeError(w, r, http.StatusServiceUnavailable, "busy", "result document is locked, retry later")
	default:
		api.logger.Printf("callback merge failed case_id=%s integration=%s err=%v", caseID, integration, err)
		writeError(w, r, http.StatusInternalServerError, "internal_error", "failed to merge callback")
	}
}
