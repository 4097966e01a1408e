package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/tailmon/tailmon/internal/api/http/dto"
)

const apiKeyHeader = "X-API-Key"

// ErrUnauthorized means the collector rejected the API key. Retrying cannot help.
var ErrUnauthorized = errors.New("collector rejected api key")

// StatusError is a non-2xx collector response.
type StatusError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *StatusError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("collector returned HTTP %d (%s): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("collector returned HTTP %d: %s", e.StatusCode, e.Message)
}

// Temporary reports whether the same request may succeed later.
func (e *StatusError) Temporary() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests || e.StatusCode == http.StatusRequestTimeout
}

// Client talks to the collector HTTP API.
type Client struct {
	baseURL    string
	httpClient *http.Client

	mu     sync.RWMutex
	apiKey string
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (c *Client) SetAPIKey(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.apiKey = key
}

func (c *Client) APIKey() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.apiKey
}

func (c *Client) Register(ctx context.Context, req dto.RegisterRequest) (dto.RegisterResponse, error) {
	var resp dto.RegisterResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/register", req, &resp, false); err != nil {
		return dto.RegisterResponse{}, fmt.Errorf("failed to register: %w", err)
	}
	return resp, nil
}

// Submit sends one sample. Failures that a retry cannot fix are wrapped with
// backoff.Permanent.
func (c *Client) Submit(ctx context.Context, sub dto.MetricSubmission) error {
	if err := c.do(ctx, http.MethodPost, "/api/v1/metrics", sub, nil, true); err != nil {
		return fmt.Errorf("failed to submit metrics: %w", err)
	}
	return nil
}

func (c *Client) Health(ctx context.Context) (dto.HealthResponse, error) {
	var resp dto.HealthResponse
	if err := c.do(ctx, http.MethodGet, "/api/v1/health", nil, &resp, false); err != nil {
		return dto.HealthResponse{}, fmt.Errorf("health check failed: %w", err)
	}
	return resp, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any, authenticated bool) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("failed to marshal request: %w", err))
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return backoff.Permanent(fmt.Errorf("failed to build request: %w", err))
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if authenticated {
		key := c.APIKey()
		if key == "" {
			return backoff.Permanent(ErrUnauthorized)
		}
		req.Header.Set(apiKeyHeader, key)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to connect to collector: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		statusErr := &StatusError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(raw))}
		var apiErr dto.ErrorResponse
		if json.Unmarshal(raw, &apiErr) == nil && apiErr.Error != "" {
			statusErr.Code = apiErr.Code
			statusErr.Message = apiErr.Error
		}
		if resp.StatusCode == http.StatusUnauthorized {
			return backoff.Permanent(fmt.Errorf("%w: %w", ErrUnauthorized, statusErr))
		}
		if !statusErr.Temporary() {
			return backoff.Permanent(statusErr)
		}
		return statusErr
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return backoff.Permanent(fmt.Errorf("failed to parse response: %w", err))
	}
	return nil
}
