// Package client implements the HTTP client side of the orchestrator
// contract consumed by the case engine.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"aioffice/internal/agents"
	"aioffice/internal/common"
	"aioffice/internal/service"
)

// DefaultTimeout bounds one orchestration round trip.
const DefaultTimeout = 30 * time.Second

// Client talks to the orchestrator service over HTTP.
type Client struct {
	httpClient *http.Client
	baseURL    string
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout overrides the request timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		c.httpClient.Timeout = timeout
	}
}

// WithHTTPClient substitutes the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// New creates an orchestrator client for the given base URL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: DefaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Orchestrate submits a case for agent processing and returns the
// suggestions. A missing request id is filled in client side.
func (c *Client) Orchestrate(ctx context.Context, req agents.Request) (*agents.Response, error) {
	return c.post(ctx, "/v1/orchestrate", req)
}

// MatchOpenItems submits a case's open ledger lines for reconciliation
// matching and returns the reconciliation suggestion.
func (c *Client) MatchOpenItems(ctx context.Context, req agents.Request) (*agents.Response, error) {
	return c.post(ctx, "/v1/opos/match", req)
}

func (c *Client) post(ctx context.Context, path string, req agents.Request) (*agents.Response, error) {
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrOrchestrationFailure, err)
	}
	defer func() { _ = httpResp.Body.Close() }()

	if httpResp.StatusCode != http.StatusOK {
		detail := readErrorDetail(httpResp.Body)
		return nil, fmt.Errorf("%w: orchestrator returned %d: %s",
			common.ErrOrchestrationFailure, httpResp.StatusCode, detail)
	}

	var resp agents.Response
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return nil, fmt.Errorf("%w: invalid response: %v", common.ErrOrchestrationFailure, err)
	}
	if resp.Status != "ok" {
		return nil, fmt.Errorf("%w: orchestrator status %q", common.ErrOrchestrationFailure, resp.Status)
	}
	return &resp, nil
}

// Health probes the orchestrator, retrying transient failures.
func (c *Client) Health(ctx context.Context) error {
	return common.WithRetry(ctx, func() error {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
		if err != nil {
			return &common.RetryableError{Err: err, Retryable: false}
		}
		resp, err := c.httpClient.Do(httpReq)
		if err != nil {
			return err
		}
		defer func() { _ = resp.Body.Close() }()

		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("orchestrator unhealthy: status %d", resp.StatusCode)
		}
		return nil
	}, service.RetryOptions{MaxAttempts: 3, InitialDelay: 100 * time.Millisecond})
}

func readErrorDetail(r io.Reader) string {
	var body struct {
		Detail string `json:"detail"`
	}
	if err := json.NewDecoder(io.LimitReader(r, 4096)).Decode(&body); err != nil || body.Detail == "" {
		return "no detail"
	}
	return body.Detail
}
