// Package client talks to the gradeflow HTTP API and implements the polling
// loop a caller uses to wait for a grading outcome.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"gradeflow/internal/model"
)

const (
	DefaultPollInterval = time.Second
	DefaultMaxAttempts  = 30
)

var (
	// ErrTimeout means the polling ceiling was reached. The server keeps
	// grading; a later Status call can still observe the outcome.
	ErrTimeout       = errors.New("grading did not finish before the polling ceiling")
	ErrGradingFailed = errors.New("grading failed")
	ErrExpired       = errors.New("session expired")
)

// APIError is a non-2xx answer from the server.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("gradeflow: %d %s: %s", e.StatusCode, e.Code, e.Message)
}

// IsCode reports whether err is an *APIError carrying code.
func IsCode(err error, code string) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == code
}

type Client struct {
	baseURL      string
	credential   string
	httpClient   *http.Client
	pollInterval time.Duration
	maxAttempts  int
}

type Option func(*Client)

// WithCredential sets the API key or bearer token sent on every call.
func WithCredential(credential string) Option {
	return func(c *Client) { c.credential = credential }
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

func WithPolling(interval time.Duration, maxAttempts int) Option {
	return func(c *Client) {
		if interval > 0 {
			c.pollInterval = interval
		}
		if maxAttempts > 0 {
			c.maxAttempts = maxAttempts
		}
	}
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		httpClient:   &http.Client{Timeout: 60 * time.Second},
		pollInterval: DefaultPollInterval,
		maxAttempts:  DefaultMaxAttempts,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type Token struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type CreateSessionRequest struct {
	UserAgent     string `json:"userAgent"`
	ClientVersion string `json:"clientVersion"`
	Platform      string `json:"platform,omitempty"`
}

type CreatedSession struct {
	SessionID string              `json:"sessionId"`
	Status    model.SessionStatus `json:"status"`
	ExpiresAt time.Time           `json:"expiresAt"`
}

type UploadResult struct {
	ScreenshotID    string              `json:"screenshotId"`
	OCRResult       *model.OCRResult    `json:"ocrResult"`
	SessionStatus   model.SessionStatus `json:"sessionStatus"`
	ReadyForGrading bool                `json:"readyForGrading"`
}

type TriggerRequest struct {
	SessionID             string `json:"sessionId"`
	SubjectTextOverride   string `json:"subjectTextOverride,omitempty"`
	ReferenceTextOverride string `json:"referenceTextOverride,omitempty"`
}

type GradingAccepted struct {
	GradingID                 string              `json:"gradingId"`
	EstimatedCompletionTimeMs int64               `json:"estimatedCompletionTimeMs"`
	Status                    model.SessionStatus `json:"status"`
}

type StepSummary struct {
	Name        string            `json:"name"`
	PhaseStatus model.PhaseStatus `json:"phaseStatus"`
}

type Status struct {
	SessionID        string                 `json:"sessionId"`
	Status           model.SessionStatus    `json:"status"`
	ReadyForGrading  bool                   `json:"readyForGrading"`
	LastStep         *StepSummary           `json:"lastStep"`
	HasGradingResult bool                   `json:"hasGradingResult"`
	UpdatedAt        time.Time              `json:"updatedAt"`
	ExpiresAt        time.Time              `json:"expiresAt"`
	History          []model.ProcessingStep `json:"history"`
}

// Terminal reports whether polling can stop.
func (s *Status) Terminal() bool {
	switch s.Status {
	case model.StatusGradingComplete, model.StatusError, model.StatusExpired:
		return true
	}
	return false
}

// FailureReason is the error text of the most recent failed step.
func (s *Status) FailureReason() string {
	for i := len(s.History) - 1; i >= 0; i-- {
		if s.History[i].PhaseStatus == model.PhaseFailed {
			return s.History[i].Error
		}
	}
	return ""
}

type Results struct {
	SessionID     string               `json:"sessionId"`
	Status        model.SessionStatus  `json:"status"`
	GradingResult *model.GradingResult `json:"gradingResult"`
}

type envelope struct {
	Code    int             `json:"code"`
	Error   string          `json:"error"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (c *Client) Token(ctx context.Context, apiKey, caller string) (*Token, error) {
	var out Token
	body := map[string]string{"apiKey": apiKey, "caller": caller}
	if err := c.do(ctx, http.MethodPost, "/api/v1/auth/token", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) CreateSession(ctx context.Context, req CreateSessionRequest) (*CreatedSession, error) {
	var out CreatedSession
	if err := c.do(ctx, http.MethodPost, "/api/v1/sessions", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UploadScreenshot sends imageData, a data:image/...;base64 URI.
func (c *Client) UploadScreenshot(ctx context.Context, sessionID string, role model.AnswerRole, imageData string) (*UploadResult, error) {
	var out UploadResult
	body := map[string]string{"role": string(role), "imageData": imageData}
	if err := c.do(ctx, http.MethodPost, "/api/v1/sessions/"+url.PathEscape(sessionID)+"/screenshots", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) TriggerGrading(ctx context.Context, req TriggerRequest) (*GradingAccepted, error) {
	var out GradingAccepted
	if err := c.do(ctx, http.MethodPost, "/api/v1/grade", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Status(ctx context.Context, gradingID string) (*Status, error) {
	var out Status
	if err := c.do(ctx, http.MethodGet, "/api/v1/grade/status/"+url.PathEscape(gradingID), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Results(ctx context.Context, sessionID string) (*Results, error) {
	var out Results
	if err := c.do(ctx, http.MethodGet, "/api/v1/sessions/"+url.PathEscape(sessionID)+"/results", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Delete(ctx context.Context, sessionID string) error {
	return c.do(ctx, http.MethodDelete, "/api/v1/sessions/"+url.PathEscape(sessionID), nil, nil)
}

// WaitForGrading polls Status every poll interval until the session reaches
// a terminal state or the attempt budget runs out. A failed poll that may
// succeed later (network error, 429, 5xx) only spends an attempt. Giving up
// does not cancel the grading job on the server.
func (c *Client) WaitForGrading(ctx context.Context, gradingID string) (*Status, error) {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	var lastErr error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}

		status, err := c.Status(ctx, gradingID)
		if err != nil {
			if ctx.Err() != nil || !transient(err) {
				return nil, err
			}
			lastErr = err
			continue
		}
		if !status.Terminal() {
			continue
		}
		switch status.Status {
		case model.StatusError:
			return status, fmt.Errorf("%w: %s", ErrGradingFailed, status.FailureReason())
		case model.StatusExpired:
			return status, ErrExpired
		}
		return status, nil
	}
	if lastErr != nil {
		return nil, fmt.Errorf("%w after %d attempts, last error: %v", ErrTimeout, c.maxAttempts, lastErr)
	}
	return nil, fmt.Errorf("%w after %d attempts", ErrTimeout, c.maxAttempts)
}

func transient(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return true
	}
	return apiErr.StatusCode == http.StatusTooManyRequests || apiErr.StatusCode >= 500
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request failed: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request failed: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.credential != "" {
		req.Header.Set("Authorization", "Bearer "+c.credential)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s failed: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response failed: %w", err)
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		if resp.StatusCode >= 300 {
			return &APIError{StatusCode: resp.StatusCode, Code: http.StatusText(resp.StatusCode), Message: strings.TrimSpace(string(raw))}
		}
		return fmt.Errorf("decode response failed: %w", err)
	}
	if resp.StatusCode >= 300 {
		return &APIError{StatusCode: resp.StatusCode, Code: env.Error, Message: env.Message}
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("decode response data failed: %w", err)
	}
	return nil
}
