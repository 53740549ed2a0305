package middleware

import (
	"log"
	"net/http"
	"time"

	"github.com/iago/recognition-orchestrator/internal/redact"
)

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(statusCode int) {
	if r.status == 0 {
		r.status = statusCode
	}
	r.ResponseWriter.WriteHeader(statusCode)
}

func (r *statusRecorder) Write(body []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(body)
}

// Trace logs one line per request once the handler returns.
func Trace(logger *log.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if logger == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			recorder := &statusRecorder{ResponseWriter: w}
			next.ServeHTTP(recorder, r)
			if recorder.status == 0 {
				recorder.status = http.StatusOK
			}
			target := r.URL.Path
			if r.URL.RawQuery != "" {
				target += "?" + redact.String(r.URL.RawQuery)
			}
			logger.Printf(
				"trace request_id=%s method=%s target=%s status=%d duration_ms=%d",
				GetRequestID(r.Context()),
				r.Method,
				target,
				recorder.status,
				time.Since(start).Milliseconds(),
			)
		})
	}
}
