// Package recognition holds the clients for the external recognizers. The
// orchestration layer only sees the AsyncRecognizer and SessionInspector
// contracts; vendor wire formats stay in this package.
package recognition

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"golang.org/x/time/rate"

	"github.com/iago/recognition-orchestrator/internal/batch"
	"github.com/iago/recognition-orchestrator/internal/redact"
)

type PollStatus string

const (
	PollReady    PollStatus = "ready"
	PollPending  PollStatus = "pending"
	PollNotFound PollStatus = "not_found"
)

type PollResult struct {
	Status  PollStatus
	Payload json.RawMessage
}

// AsyncRecognizer accepts one item per call and answers later under a task id.
type AsyncRecognizer interface {
	Available() bool
	Submit(ctx context.Context, submission batch.Submission) (string, error)
	Poll(ctx context.Context, taskID string) (PollResult, error)
}

// SessionInspector groups uploads under a vendor session and answers synchronously.
type SessionInspector interface {
	Available() bool
	OpenSession(ctx context.Context, clientRef string) (string, error)
	SessionOpen(ctx context.Context, sessionID string) (bool, error)
	Upload(ctx context.Context, sessionID string, submissions []batch.Submission) (map[string]json.RawMessage, error)
}

// HTTPError is a non-2xx vendor response.
type HTTPError struct {
	Provider   string
	StatusCode int
	Message    string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("%s status %d: %s", e.Provider, e.StatusCode, e.Message)
}

// Transient reports whether the vendor may answer differently later.
func (e *HTTPError) Transient() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

func isTransient(err error) bool {
	if err == nil {
		return false
	}
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.Transient()
	}
	return true
}

func newLimiter(rps float64, burst int) *rate.Limiter {
	if rps <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	if burst <= 0 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(rps), burst)
}

func readBody(provider string, response *http.Response) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(response.Body, 16<<20))
	if err != nil {
		return nil, fmt.Errorf("read %s body: %w", provider, err)
	}
	if response.StatusCode < 200 || response.StatusCode > 299 {
		message := redact.Text(strings.TrimSpace(string(body)))
		if len(message) > 700 {
			message = message[:700]
		}
		return body, &HTTPError{Provider: provider, StatusCode: response.StatusCode, Message: message}
	}
	return body, nil
}
