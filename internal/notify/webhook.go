package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/iago/recognition-orchestrator/internal/domain"
	"github.com/iago/recognition-orchestrator/internal/redact"
)

const EventRecognitionUpdated = "recognition.updated"

type WebhookConfig struct {
	URL     string
	Secret  string
	Timeout time.Duration
	// Client overrides the HTTP client, mainly for tests.
	Client *http.Client
}

// WebhookSender delivers the notification event to the configured URL.
// Without a URL every delivery is a no-op.
type WebhookSender struct {
	url    string
	secret string
	client *http.Client
	logger *log.Logger
	now    func() time.Time
}

type webhookEvent struct {
	Type        string `json:"type"`
	CaseID      string `json:"case_id"`
	Integration string `json:"integration"`
	JobID       string `json:"job_id,omitempty"`
	TS          string `json:"ts"`
}

func NewWebhookSender(config WebhookConfig, logger *log.Logger) *WebhookSender {
	if config.Timeout <= 0 {
		config.Timeout = 5 * time.Second
	}
	if config.Client == nil {
		config.Client = &http.Client{Timeout: config.Timeout}
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &WebhookSender{
		url:    strings.TrimSpace(config.URL),
		secret: strings.TrimSpace(config.Secret),
		client: config.Client,
		logger: logger,
		now:    time.Now,
	}
}

func (s *WebhookSender) Enabled() bool {
	return s.url != ""
}

// Send posts one event. Non-2xx answers are errors.
func (s *WebhookSender) Send(ctx context.Context, jobID, caseID string, integration domain.Integration) error {
	if !s.Enabled() {
		s.logger.Printf("webhook skipped case_id=%s integration=%s reason=no_url", caseID, integration)
		return nil
	}

	data, err := json.Marshal(webhookEvent{
		Type:        EventRecognitionUpdated,
		CaseID:      caseID,
		Integration: string(integration),
		JobID:       jobID,
		TS:          s.now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("marshal webhook event: %w", err)
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("create webhook request: %w", err)
	}
	request.Header.Set("Content-Type", "application/json")
	request.Header.Set("X-Recognition-Event", EventRecognitionUpdated)
	if jobID != "" {
		request.Header.Set("X-Recognition-Delivery", jobID)
	}
	if s.secret != "" {
		request.Header.Set("X-Recognition-Secret", s.secret)
	}

	response, err := s.client.Do(request)
	if err != nil {
		return fmt.Errorf("deliver webhook: %w", err)
	}
	defer response.Body.Close()
	if response.StatusCode < 200 || response.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(response.Body, 4096))
		return fmt.Errorf("deliver webhook: status %d: %s", response.StatusCode, redact.Text(strings.TrimSpace(string(body))))
	}
	s.logger.Printf("webhook delivered case_id=%s integration=%s job_id=%s", caseID, integration, jobID)
	return nil
}
