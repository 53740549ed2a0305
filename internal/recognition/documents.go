package recognition

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/iago/recognition-orchestrator/internal/batch"
	"github.com/iago/recognition-orchestrator/internal/domain"
)

const documentsProvider = "documents"

type DocumentClientConfig struct {
	BaseURL           string
	APIKey            string
	RecognizeEndpoint string
	ResultEndpoint    string
	Timeout           time.Duration
	RPS               float64
	Burst             int
	HTTPClient        *http.Client
}

// DocumentClient talks to the asynchronous document recognizer: every item is
// submitted alone and answered later under a task id.
type DocumentClient struct {
	baseURL           string
	apiKey            string
	recognizeEndpoint string
	resultEndpoint    string
	timeout           time.Duration
	limiter           *rate.Limiter
	httpClient        *http.Client
	logger            *log.Logger
}

func NewDocumentClient(config DocumentClientConfig, logger *log.Logger) *DocumentClient {
	if strings.TrimSpace(config.RecognizeEndpoint) == "" {
		config.RecognizeEndpoint = "/recognize"
	}
	if strings.TrimSpace(config.ResultEndpoint) == "" {
		config.ResultEndpoint = "/result"
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	if config.HTTPClient == nil {
		config.HTTPClient = &http.Client{}
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}

	return &DocumentClient{
		baseURL:           strings.TrimSuffix(strings.TrimSpace(config.BaseURL), "/"),
		apiKey:            strings.TrimSpace(config.APIKey),
		recognizeEndpoint: "/" + strings.Trim(config.RecognizeEndpoint, "/"),
		resultEndpoint:    "/" + strings.Trim(config.ResultEndpoint, "/"),
		timeout:           config.Timeout,
		limiter:           newLimiter(config.RPS, config.Burst),
		httpClient:        config.HTTPClient,
		logger:            logger,
	}
}

func (c *DocumentClient) Available() bool {
	return c.baseURL != "" && c.apiKey != ""
}

// Submit uploads one item and returns the vendor task id.
func (c *DocumentClient) Submit(ctx context.Context, submission batch.Submission) (string, error) {
	if !c.Available() {
		return "", domain.ErrUpstreamUnavailable
	}
	if len(submission.Content) == 0 {
		return "", fmt.Errorf("%w: empty content external_id=%s", domain.ErrSubmissionFailed, submission.ExternalID)
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="image"; filename=%q`, submission.Name))
	header.Set("Content-Type", submission.ContentType)
	part, err := writer.CreatePart(header)
	if err != nil {
		return "", fmt.Errorf("create multipart part: %w", err)
	}
	if _, err := part.Write(submission.Content); err != nil {
		return "", fmt.Errorf("write multipart part: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("close multipart writer: %w", err)
	}

	query := url.Values{}
	query.Set("token", c.apiKey)
	query.Set("async", "true")

	_, responseBody, err := c.do(ctx, http.MethodPost, c.recognizeEndpoint+"?"+query.Encode(), writer.FormDataContentType(), &body)
	if err != nil {
		return "", fmt.Errorf("%w: external_id=%s: %w", domain.ErrSubmissionFailed, submission.ExternalID, err)
	}

	var parsed struct {
		TaskID string `json:"task_id"`
	}
	if err := json.Unmarshal(responseBody, &parsed); err != nil || strings.TrimSpace(parsed.TaskID) == "" {
		return "", fmt.Errorf("%w: external_id=%s: response without task_id", domain.ErrSubmissionFailed, submission.ExternalID)
	}
	c.logger.Printf("documents submit ok external_id=%s task_id=%s", submission.ExternalID, parsed.TaskID)
	return parsed.TaskID, nil
}

// Poll asks for the answer of taskID. Transport failures, throttling and
// server errors are reported as pending so the caller polls again later.
func (c *DocumentClient) Poll(ctx context.Context, taskID string) (PollResult, error) {
	if !c.Available() {
		return PollResult{}, domain.ErrUpstreamUnavailable
	}
	if strings.TrimSpace(taskID) == "" {
		return PollResult{Status: PollNotFound}, nil
	}

	query := url.Values{}
	query.Set("token", c.apiKey)
	path := c.resultEndpoint + "/" + url.PathEscape(taskID) + "?" + query.Encode()

	status, body, err := c.do(ctx, http.MethodGet, path, "", nil)
	if err != nil {
		if ctx.Err() != nil {
			return PollResult{}, ctx.Err()
		}
		if isTransient(err) {
			c.logger.Printf("documents poll pending task_id=%s err=%v", taskID, err)
			return PollResult{Status: PollPending}, nil
		}
		c.logger.Printf("documents poll not found task_id=%s err=%v", taskID, err)
		return PollResult{Status: PollNotFound}, nil
	}

	switch status {
	case http.StatusAccepted:
		return PollResult{Status: PollPending}, nil
	case http.StatusOK:
		// an empty answer would overwrite the placeholder with nothing
		if !json.Valid(body) || domain.IsEmptyPayload(body) {
			return PollResult{Status: PollPending}, nil
		}
		return PollResult{Status: PollReady, Payload: json.RawMessage(bytes.TrimSpace(body))}, nil
	default:
		return PollResult{Status: PollPending}, nil
	}
}

func (c *DocumentClient) do(ctx context.Context, method, path, contentType string, body io.Reader) (int, []byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return 0, nil, err
	}
	timeoutCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	request, err := http.NewRequestWithContext(timeoutCtx, method, c.baseURL+path, body)
	if err != nil {
		return 0, nil, fmt.Errorf("create documents request: %w", err)
	}
	request.Header.Set("Accept", "application/json")
	if contentType != "" {
		request.Header.Set("Content-Type", contentType)
	}

	response, err := c.httpClient.Do(request)
	if err != nil {
		return 0, nil, fmt.Errorf("documents transport error: %w", err)
	}
	defer response.Body.Close()
	responseBody, err := readBody(documentsProvider, response)
	return response.StatusCode, responseBody, err
}
