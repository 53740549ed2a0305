package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/iago/recognition-orchestrator/internal/domain"
)

type recordingScheduler struct {
	requests []domain.JobRequest
}

func (s *recordingScheduler) Schedule(_ context.Context, request domain.JobRequest) (domain.Job, error) {
	s.requests = append(s.requests, request)
	return domain.Job{ID: "job-1", Kind: request.Kind}, nil
}

func TestQueueNotifierSchedulesWebhookJob(t *testing.T) {
	scheduler := &recordingScheduler{}
	notifier := NewQueueNotifier(scheduler)
	if err := notifier.Notify(context.Background(), "case-1", domain.IntegrationDocuments); err != nil {
		t.Fatalf("notify failed: %v", err)
	}
	if len(scheduler.requests) != 1 {
		t.Fatalf("expected one scheduled job, got %d", len(scheduler.requests))
	}
	request := scheduler.requests[0]
	if request.Kind != domain.JobKindWebhook || request.CaseID != "case-1" || request.Integration != domain.IntegrationDocuments {
		t.Fatalf("unexpected job request %+v", request)
	}
}

func TestRoundDelay(t *testing.T) {
	if got := RoundDelay(2, 3*time.Second, 10*time.Second); got != 6*time.Second {
		t.Fatalf("expected 6s, got %s", got)
	}
	if got := RoundDelay(9, 3*time.Second, 10*time.Second); got != 10*time.Second {
		t.Fatalf("expected capped 10s, got %s", got)
	}
	if got := RoundDelay(0, 3*time.Second, 10*time.Second); got != 0 {
		t.Fatalf("expected 0 for empty round, got %s", got)
	}
}

func TestWebhookSenderPostsEvent(t *testing.T) {
	var received webhookEvent
	var secret string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		secret = r.Header.Get("X-Recognition-Secret")
		_ = json.NewDecoder(r.Body).Decode(&received)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	sender := NewWebhookSender(WebhookConfig{URL: server.URL, Secret: "s3cret"}, nil)
	if err := sender.Send(context.Background(), "job-7", "case-1", domain.IntegrationDamage); err != nil {
		t.Fatalf("send failed: %v", err)
	}
	if received.CaseID != "case-1" || received.Integration != "damage" || received.Type != EventRecognitionUpdated {
		t.Fatalf("unexpected event %+v", received)
	}
	if secret != "s3cret" {
		t.Fatalf("expected secret header, got %q", secret)
	}
}

func TestWebhookSenderFailsOnErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	sender := NewWebhookSender(WebhookConfig{URL: server.URL}, nil)
	if err := sender.Send(context.Background(), "", "case-1", domain.IntegrationDamage); err == nil {
		t.Fatalf("expected error on 500")
	}
}

func TestWebhookSenderWithoutURLIsNoop(t *testing.T) {
	sender := NewWebhookSender(WebhookConfig{}, nil)
	if sender.Enabled() {
		t.Fatalf("expected sender without URL to be disabled")
	}
	if err := sender.Send(context.Background(), "", "case-1", domain.IntegrationDamage); err != nil {
		t.Fatalf("expected no-op, got %v", err)
	}
}
