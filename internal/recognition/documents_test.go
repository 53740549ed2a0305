package recognition

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/iago/recognition-orchestrator/internal/batch"
	"github.com/iago/recognition-orchestrator/internal/domain"
)

func TestDocumentClientSubmitSendsMultipartImage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/recognize" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if r.URL.Query().Get("token") != "secret" || r.URL.Query().Get("async") != "true" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		file, header, err := r.FormFile("image")
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		content, _ := io.ReadAll(file)
		if string(content) != "image-bytes" || header.Filename != "ext-1.jpg" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"task_id":"task-42"}`))
	}))
	defer server.Close()

	client := NewDocumentClient(DocumentClientConfig{BaseURL: server.URL, APIKey: "secret", Timeout: 2 * time.Second}, nil)
	taskID, err := client.Submit(context.Background(), batch.Submission{
		ExternalID:  "ext-1",
		Name:        "ext-1.jpg",
		ContentType: "image/jpeg",
		Content:     []byte("image-bytes"),
	})
	if err != nil {
		t.Fatalf("expected success, got err=%v", err)
	}
	if taskID != "task-42" {
		t.Fatalf("expected task-42, got %q", taskID)
	}
}

func TestDocumentClientSubmitFailureIsSubmissionFailed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(`{"error":"bad gateway"}`))
	}))
	defer server.Close()

	client := NewDocumentClient(DocumentClientConfig{BaseURL: server.URL, APIKey: "secret"}, nil)
	_, err := client.Submit(context.Background(), batch.Submission{ExternalID: "ext-1", Content: []byte("x")})
	if !errors.Is(err, domain.ErrSubmissionFailed) {
		t.Fatalf("expected ErrSubmissionFailed, got %v", err)
	}
	if !strings.Contains(err.Error(), "502") {
		t.Fatalf("expected status in error, got %v", err)
	}
}

func TestDocumentClientSubmitKeepsContextErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer server.Close()

	client := NewDocumentClient(DocumentClientConfig{BaseURL: server.URL, APIKey: "secret", Timeout: 5 * time.Second}, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := client.Submit(ctx, batch.Submission{ExternalID: "ext-1", Content: []byte("x")})
	if !errors.Is(err, domain.ErrSubmissionFailed) {
		t.Fatalf("expected ErrSubmissionFailed, got %v", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected the deadline to stay visible, got %v", err)
	}
}

func TestDocumentClientPollMapsStatuses(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch strings.TrimPrefix(r.URL.Path, "/result/") {
		case "ready":
			_, _ = w.Write([]byte(`{"items":[{"doc_type":"passport"}]}`))
		case "busy":
			w.WriteHeader(http.StatusAccepted)
			_, _ = w.Write([]byte(`{"message":"in progress"}`))
		case "throttled":
			w.WriteHeader(http.StatusTooManyRequests)
		case "broken":
			w.WriteHeader(http.StatusInternalServerError)
		case "forbidden":
			w.WriteHeader(http.StatusForbidden)
		case "empty-object":
			_, _ = w.Write([]byte(`{}`))
		case "empty-list":
			_, _ = w.Write([]byte(` [] `))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	client := NewDocumentClient(DocumentClientConfig{BaseURL: server.URL, APIKey: "secret"}, nil)
	expectations := map[string]PollStatus{
		"ready":        PollReady,
		"busy":         PollPending,
		"throttled":    PollPending,
		"broken":       PollPending,
		"forbidden":    PollNotFound,
		"empty-object": PollPending,
		"empty-list":   PollPending,
		"gone":         PollNotFound,
	}
	for taskID, expected := range expectations {
		result, err := client.Poll(context.Background(), taskID)
		if err != nil {
			t.Fatalf("poll %s: unexpected err=%v", taskID, err)
		}
		if result.Status != expected {
			t.Fatalf("poll %s: expected %s, got %s", taskID, expected, result.Status)
		}
	}

	ready, _ := client.Poll(context.Background(), "ready")
	if !strings.Contains(string(ready.Payload), "passport") {
		t.Fatalf("expected payload to be returned, got %s", ready.Payload)
	}
}

func TestDocumentClientPollTransportErrorIsPending(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	baseURL := server.URL
	server.Close()

	client := NewDocumentClient(DocumentClientConfig{BaseURL: baseURL, APIKey: "secret", Timeout: time.Second}, nil)
	result, err := client.Poll(context.Background(), "task-1")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if result.Status != PollPending {
		t.Fatalf("expected pending on transport error, got %s", result.Status)
	}
}

func TestDocumentClientUnavailableWithoutKey(t *testing.T) {
	client := NewDocumentClient(DocumentClientConfig{BaseURL: "http://localhost"}, nil)
	if client.Available() {
		t.Fatalf("expected client without key to be unavailable")
	}
	if _, err := client.Submit(context.Background(), batch.Submission{}); !errors.Is(err, domain.ErrUpstreamUnavailable) {
		t.Fatalf("expected ErrUpstreamUnavailable, got %v", err)
	}
}
