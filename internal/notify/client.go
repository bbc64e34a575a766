// Package notify sends transactional email through the hosted email API and
// keeps a delivery log.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
)

// Message is one templated email.
type Message struct {
	TemplateID   string         `json:"templateId"`
	Email        string         `json:"email"`
	UserID       string         `json:"userId"`
	Data         map[string]any `json:"data,omitempty"`
	TemplateType string         `json:"templateType"`
}

// ErrNotConfigured is returned when no API endpoint is set.
var ErrNotConfigured = errors.New("notify: email api is not configured")

// APIError is a non-success response from the email API.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("email api returned %d: %s", e.Status, e.Body)
}

// shouldRetry retries transport errors, 5xx and 429.
func shouldRetry(resp *http.Response, err error) bool {
	if err != nil {
		return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
	}
	if resp == nil {
		return true
	}
	return resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests
}

// ExecutorConfig configures retries for the HTTP executor.
type ExecutorConfig struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// DefaultExecutorConfig returns the production retry settings.
func DefaultExecutorConfig() ExecutorConfig {
	return ExecutorConfig{MaxRetries: 3, BaseDelay: 200 * time.Millisecond, MaxDelay: 5 * time.Second}
}

// NewHTTPExecutor builds a failsafe executor with exponential backoff.
//
//nolint:bodyclose // *http.Response is a type parameter here
func NewHTTPExecutor(cfg ExecutorConfig) failsafe.Executor[*http.Response] {
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 200 * time.Millisecond
	}
	if cfg.MaxDelay < cfg.BaseDelay {
		cfg.MaxDelay = cfg.BaseDelay
	}
	policy := retrypolicy.NewBuilder[*http.Response]().
		HandleIf(shouldRetry).
		WithBackoff(cfg.BaseDelay, cfg.MaxDelay).
		WithMaxRetries(cfg.MaxRetries).
		ReturnLastFailure().
		Build()
	return failsafe.With[*http.Response](policy)
}

// Client posts messages to the email API.
type Client struct {
	baseURL     string
	apiKey      string
	workspaceID string
	client      *http.Client
	executor    failsafe.Executor[*http.Response]
}

// Option configures a Client.
type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.client = hc
		}
	}
}

func WithExecutorConfig(cfg ExecutorConfig) Option {
	return func(c *Client) { c.executor = NewHTTPExecutor(cfg) }
}

// NewClient returns a client for baseURL authenticated with apiKey.
func NewClient(baseURL, apiKey, workspaceID string, opts ...Option) *Client {
	c := &Client{
		baseURL:     strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		apiKey:      apiKey,
		workspaceID: workspaceID,
		client:      &http.Client{Timeout: 10 * time.Second},
		executor:    NewHTTPExecutor(DefaultExecutorConfig()),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Send delivers msg. Non-2xx responses after retries yield *APIError.
func (c *Client) Send(ctx context.Context, msg Message) error {
	if c.baseURL == "" {
		return ErrNotConfigured
	}
	if strings.TrimSpace(msg.Email) == "" || strings.TrimSpace(msg.TemplateID) == "" {
		return errors.New("notify: email and template id are required")
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	resp, err := c.executor.WithContext(ctx).Get(func() (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/send", bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
		if c.workspaceID != "" {
			req.Header.Set("X-Workspace-Id", c.workspaceID)
		}
		resp, err := c.client.Do(req)
		if shouldRetry(resp, err) && resp != nil && resp.Body != nil {
			_, _ = io.Copy(io.Discard, resp.Body)
			_ = resp.Body.Close()
		}
		return resp, err
	})
	if resp == nil {
		if err == nil {
			err = errors.New("no response")
		}
		return fmt.Errorf("notify: send: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return &APIError{Status: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}
	return nil
}
