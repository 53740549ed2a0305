package handlers

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/iago/recognition-orchestrator/internal/cache"
	"github.com/iago/recognition-orchestrator/internal/domain"
	"github.com/iago/recognition-orchestrator/internal/http/middleware"
	"github.com/iago/recognition-orchestrator/internal/repository"
	"github.com/iago/recognition-orchestrator/internal/service"
)

const (
	idempotencyTTL     = 24 * time.Hour
	maxIdempotencyKeys = 10000
	maxCallbackBody    = 10 << 20
	maxCaseIDLength    = 128
	defaultJobsListing = 50
)

// HealthCheck pings one backing dependency.
type HealthCheck func(ctx context.Context) error

type Dependencies struct {
	Cases       repository.CaseStore
	Jobs        *service.JobsService
	Recognition *service.RecognitionService
	// CallbackSecret, when set, must match the token query parameter of vendor callbacks.
	CallbackSecret string
	HealthChecks   map[string]HealthCheck
	Logger         *log.Logger
}

type API struct {
	cases          repository.CaseStore
	jobs           *service.JobsService
	recognition    *service.RecognitionService
	callbackSecret string
	healthChecks   map[string]HealthCheck
	idempotency    *cache.TTLCache[idempotencyEntry]
	logger         *log.Logger
}

func NewAPI(deps Dependencies) *API {
	if deps.Logger == nil {
		deps.Logger = log.New(io.Discard, "", 0)
	}
	return &API{
		cases:          deps.Cases,
		jobs:           deps.Jobs,
		recognition:    deps.Recognition,
		callbackSecret: deps.CallbackSecret,
		healthChecks:   deps.HealthChecks,
		idempotency:    newIdempotencyStore(),
		logger:         deps.Logger,
	}
}

type errorPayload struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
	RequestID string `json:"request_id"`
}

type jobPayload struct {
	JobID       string           `json:"job_id"`
	Kind        domain.JobKind   `json:"kind"`
	Status      domain.JobStatus `json:"status"`
	CaseID      string           `json:"case_id"`
	Integration string           `json:"integration"`
	TaskID      string           `json:"task_id,omitempty"`
	Attempts    int              `json:"attempts"`
	Error       string           `json:"error,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

func newJobPayload(job domain.Job) jobPayload {
	return jobPayload{
		JobID:       job.ID,
		Kind:        job.Kind,
		Status:      job.Status,
		CaseID:      job.CaseID,
		Integration: string(job.Integration),
		TaskID:      job.TaskID,
		Attempts:    job.Attempts,
		Error:       strings.TrimSpace(job.ErrorMessage),
		CreatedAt:   job.CreatedAt,
		UpdatedAt:   job.UpdatedAt,
	}
}

func writeJSON(w http.ResponseWriter, statusCode int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(value)
}

func writeError(w http.ResponseWriter, r *http.Request, statusCode int, code, message string) {
	payload := errorPayload{RequestID: middleware.GetRequestID(r.Context())}
	payload.Error.Code = code
	payload.Error.Message = message
	writeJSON(w, statusCode, payload)
}

func methodAllowed(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method == method {
		return true
	}
	w.Header().Set("Allow", method)
	writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	return false
}

// caseAndIntegration reads the {case_id} and {integration} path values.
func caseAndIntegration(w http.ResponseWriter, r *http.Request) (string, domain.Integration, bool) {
	caseID := strings.TrimSpace(r.PathValue("case_id"))
	if caseID == "" || len(caseID) > maxCaseIDLength {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "case_id is required")
		return "", "", false
	}
	integration, ok := domain.ParseIntegration(r.PathValue("integration"))
	if !ok {
		writeError(w, r, http.StatusNotFound, "unknown_integration", "integration is not supported")
		return "", "", false
	}
	return caseID, integration, true
}

type idempotencyEntry struct {
	PayloadHash string
	Job         domain.Job
}

func newIdempotencyStore() *cache.TTLCache[idempotencyEntry] {
	return cache.NewTTLCache[idempotencyEntry](cache.Config{TTL: idempotencyTTL, MaxEntries: maxIdempotencyKeys})
}
