package httpserver

import (
	"context"
	"log"
	"net/http"

	"github.com/iago/recognition-orchestrator/internal/http/handlers"
	"github.com/iago/recognition-orchestrator/internal/http/middleware"
)

const callbacksPrefix = "/v1/callbacks/"

type RouterDependencies struct {
	API            *handlers.API
	Logger         *log.Logger
	AuthToken      string
	RateLimitRPS   float64
	RateLimitBurst int
}

// NewRouter wires the API routes behind request id, tracing, rate limiting and
// bearer auth. ctx bounds the rate limiter's background sweeper.
func NewRouter(ctx context.Context, deps RouterDependencies) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", deps.API.Health)
	mux.HandleFunc("/v1/cases/{case_id}/recognitions/{integration}", deps.API.Recognitions)
	mux.HandleFunc("/v1/cases/{case_id}/results/{integration}", deps.API.Results)
	mux.HandleFunc("/v1/cases/{case_id}/jobs", deps.API.CaseJobs)
	mux.HandleFunc("/v1/jobs/{job_id}", deps.API.JobStatus)
	mux.HandleFunc(callbacksPrefix+"{integration}", deps.API.Callbacks)

	handler := http.Handler(mux)
	handler = middleware.Auth(deps.AuthToken, callbacksPrefix)(handler)
	handler = middleware.RateLimit(ctx, middleware.RateLimitConfig{
		RPS:         deps.RateLimitRPS,
		Burst:       deps.RateLimitBurst,
		ExemptPaths: []string{"/healthz"},
	})(handler)
	handler = middleware.Trace(deps.Logger)(handler)
	handler = middleware.RequestID(handler)

	return handler
}
