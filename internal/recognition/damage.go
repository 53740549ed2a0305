package recognition

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/iago/recognition-orchestrator/internal/batch"
	"github.com/iago/recognition-orchestrator/internal/domain"
)

const damageProvider = "damage"

var ErrInvalidCallback = errors.New("invalid damage callback")

// DefaultDamageFeatures are requested for every new session.
var DefaultDamageFeatures = []string{
	"VEHICLE_MODEL_CHECK",
	"DAMAGE_MEASUREMENT",
	"PANEL_DISTANCE_MEASUREMENT",
	"RUN_DAMAGE_DETECTION_ON_UPLOAD",
	"GENERATE_DAMAGE_OVERLAY",
}

type DamageClientConfig struct {
	BaseURL string
	APIKey  string
	// SessionTimeLimit is how long after creation a session still accepts uploads.
	SessionTimeLimit time.Duration
	Features         []string
	Timeout          time.Duration
	RPS              float64
	Burst            int
	HTTPClient       *http.Client
}

// DamageClient talks to the synchronous damage inspector. Uploads are grouped
// under a vendor session and answered in the same call.
type DamageClient struct {
	baseURL          string
	apiKey           string
	sessionTimeLimit time.Duration
	features         []string
	timeout          time.Duration
	limiter          *rate.Limiter
	httpClient       *http.Client
	logger           *log.Logger
	now              func() time.Time
}

func NewDamageClient(config DamageClientConfig, logger *log.Logger) *DamageClient {
	if config.SessionTimeLimit <= 0 {
		config.SessionTimeLimit = 24 * time.Hour
	}
	if len(config.Features) == 0 {
		config.Features = DefaultDamageFeatures
	}
	if config.Timeout <= 0 {
		config.Timeout = 120 * time.Second
	}
	if config.HTTPClient == nil {
		config.HTTPClient = &http.Client{}
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}

	return &DamageClient{
		baseURL:          strings.TrimSuffix(strings.TrimSpace(config.BaseURL), "/"),
		apiKey:           strings.TrimSpace(config.APIKey),
		sessionTimeLimit: config.SessionTimeLimit,
		features:         append([]string(nil), config.Features...),
		timeout:          config.Timeout,
		limiter:          newLimiter(config.RPS, config.Burst),
		httpClient:       config.HTTPClient,
		logger:           logger,
		now:              time.Now,
	}
}

func (c *DamageClient) Available() bool {
	return c.baseURL != "" && c.apiKey != ""
}

// OpenSession creates a vendor session for clientRef and returns its id.
func (c *DamageClient) OpenSession(ctx context.Context, clientRef string) (string, error) {
	if !c.Available() {
		return "", domain.ErrUpstreamUnavailable
	}
	payload := map[string]any{
		"client_process_id": clientRef,
		"client_token":      clientRef,
		"features":          c.features,
	}
	body, err := c.postJSON(ctx, "/inspections", url.Values{"upload_type": {"multipart"}}, payload)
	if err != nil {
		return "", fmt.Errorf("%w: open session client_ref=%s: %v", domain.ErrSubmissionFailed, clientRef, err)
	}

	var parsed struct {
		SessionID string `json:"inspection_case_id"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil || strings.TrimSpace(parsed.SessionID) == "" {
		return "", fmt.Errorf("%w: open session client_ref=%s: response without session id", domain.ErrSubmissionFailed, clientRef)
	}
	return parsed.SessionID, nil
}

// SessionOpen reports whether sessionID still accepts uploads. Finished
// sessions and sessions older than the time limit do not.
func (c *DamageClient) SessionOpen(ctx context.Context, sessionID string) (bool, error) {
	if !c.Available() {
		return false, domain.ErrUpstreamUnavailable
	}
	body, err := c.call(ctx, http.MethodGet, "/inspections/"+url.PathEscape(sessionID)+"/", nil, nil, "")
	if err != nil {
		return false, fmt.Errorf("inspect session %s: %w", sessionID, err)
	}

	var parsed struct {
		Status    string `json:"status"`
		CreatedOn string `json:"created_on"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return false, fmt.Errorf("decode session %s: %w", sessionID, err)
	}
	switch strings.ToUpper(parsed.Status) {
	case "COMPLETED", "FAILED":
		return false, nil
	}
	createdOn, ok := parseVendorTime(parsed.CreatedOn)
	if !ok {
		return false, nil
	}
	return !c.now().After(createdOn.Add(c.sessionTimeLimit)), nil
}

type uploadImage struct {
	ImageID     string            `json:"image_id"`
	Name        string            `json:"name"`
	ContentType string            `json:"content_type"`
	Content     string            `json:"content"`
	Context     map[string]string `json:"context"`
	Resolution  struct {
		Width  int `json:"width"`
		Height int `json:"height"`
	} `json:"resolution"`
}

// Upload sends every submission in one call and returns the per-image answers
// keyed by external id.
func (c *DamageClient) Upload(ctx context.Context, sessionID string, submissions []batch.Submission) (map[string]json.RawMessage, error) {
	if !c.Available() {
		return nil, domain.ErrUpstreamUnavailable
	}
	if len(submissions) == 0 {
		return map[string]json.RawMessage{}, nil
	}

	images := make([]uploadImage, 0, len(submissions))
	for _, submission := range submissions {
		image := uploadImage{
			ImageID:     submission.ExternalID,
			Name:        submission.Name,
			ContentType: submission.ContentType,
			Content:     base64.StdEncoding.EncodeToString(submission.Content),
			Context:     map[string]string{"view_type": "FULL_FRAME"},
		}
		image.Resolution.Width = submission.Width
		image.Resolution.Height = submission.Height
		images = append(images, image)
	}

	body, err := c.postJSON(ctx, "/inspections/"+url.PathEscape(sessionID)+"/images/", url.Values{"upload_type": {"multipart"}}, map[string]any{"images": images})
	if err != nil {
		return nil, fmt.Errorf("%w: upload session=%s: %v", domain.ErrSubmissionFailed, sessionID, err)
	}

	var parsed struct {
		Images []json.RawMessage `json:"images"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("%w: decode upload session=%s: %v", domain.ErrSubmissionFailed, sessionID, err)
	}

	answers := make(map[string]json.RawMessage, len(parsed.Images))
	for _, raw := range parsed.Images {
		var head struct {
			ImageID string `json:"image_id"`
		}
		if err := json.Unmarshal(raw, &head); err != nil || head.ImageID == "" {
			continue
		}
		answers[head.ImageID] = raw
	}
	c.logger.Printf("damage upload ok session=%s sent=%d answered=%d", sessionID, len(submissions), len(answers))
	return answers, nil
}

// StartProcessing asks the vendor to run its session-level analysis and report
// back to callbackURL.
func (c *DamageClient) StartProcessing(ctx context.Context, sessionID, callbackURL string) error {
	if !c.Available() {
		return domain.ErrUpstreamUnavailable
	}
	_, err := c.postJSON(ctx, "/inspections/"+url.PathEscape(sessionID)+"/asyncProcess/", url.Values{"callback": {callbackURL}}, struct{}{})
	if err != nil {
		return fmt.Errorf("start processing session=%s: %w", sessionID, err)
	}
	return nil
}

// DamageCallback is the session-level report delivered to the callback endpoint.
type DamageCallback struct {
	SessionID string
	Sections  map[string]json.RawMessage
}

// ParseDamageCallback extracts the session id and the batch-level sections
// from a callback body.
func ParseDamageCallback(body []byte) (DamageCallback, error) {
	var parsed struct {
		InspectionCase struct {
			ID string `json:"inspection_case_id"`
		} `json:"inspection_case"`
		DamageRecognition     json.RawMessage `json:"damage_recognition"`
		VehicleModelDetection json.RawMessage `json:"vehicle_model_detection"`
		Alerts                json.RawMessage `json:"alerts"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return DamageCallback{}, fmt.Errorf("%w: %v", ErrInvalidCallback, err)
	}
	if parsed.InspectionCase.ID == "" || domain.IsEmptyPayload(parsed.DamageRecognition) {
		return DamageCallback{}, ErrInvalidCallback
	}

	sections := map[string]json.RawMessage{
		"damage_recognition":      parsed.DamageRecognition,
		"vehicle_model_detection": orEmpty(parsed.VehicleModelDetection),
		"alerts":                  orEmpty(parsed.Alerts),
	}
	return DamageCallback{SessionID: parsed.InspectionCase.ID, Sections: sections}, nil
}

func orEmpty(raw json.RawMessage) json.RawMessage {
	if len(bytes.TrimSpace(raw)) == 0 {
		return json.RawMessage(`[]`)
	}
	return raw
}

func (c *DamageClient) postJSON(ctx context.Context, path string, query url.Values, payload any) ([]byte, error) {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal damage payload: %w", err)
	}
	return c.call(ctx, http.MethodPost, path, query, bytes.NewReader(encoded), "application/json")
}

func (c *DamageClient) call(ctx context.Context, method, path string, query url.Values, body io.Reader, contentType string) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	timeoutCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if query == nil {
		query = url.Values{}
	}
	query.Set("key", c.apiKey)

	request, err := http.NewRequestWithContext(timeoutCtx, method, c.baseURL+path+"?"+query.Encode(), body)
	if err != nil {
		return nil, fmt.Errorf("create damage request: %w", err)
	}
	request.Header.Set("Accept", "application/json")
	if contentType != "" {
		request.Header.Set("Content-Type", contentType)
	}

	response, err := c.httpClient.Do(request)
	if err != nil {
		return nil, fmt.Errorf("damage transport error: %w", err)
	}
	defer response.Body.Close()
	return readBody(damageProvider, response)
}

var vendorTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999",
	"2006-01-02 15:04:05",
}

func parseVendorTime(value string) (time.Time, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, false
	}
	for _, layout := range vendorTimeLayouts {
		if parsed, err := time.Parse(layout, value); err == nil {
			return parsed, true
		}
	}
	return time.Time{}, false
}
