// Package api is the REST client for the workflow backend. It owns the
// HTTP plumbing and the mapping from transport failures and status codes
// to the structured error taxonomy; callers never see raw *http.Response.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/lumenlab/flowdeck/pkg/schema"
)

const defaultTimeout = 30 * time.Second

// Client talks to the workflow backend. Safe for concurrent use.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *slog.Logger

	// authToken, when set, is sent as a bearer token on every request.
	authToken string
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithAuthToken sets the bearer token sent on every request.
func WithAuthToken(token string) Option {
	return func(c *Client) { c.authToken = token }
}

// NewClient creates a Client for the given base URL, e.g.
// "https://api.flowdeck.dev".
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: defaultTimeout},
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// apiError is the backend's error body. node_label is set on plan-limit
// violations so the UI can point at the offending node.
type apiError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	NodeLabel string `json:"node_label,omitempty"`
	Error     string `json:"error,omitempty"`
}

// do executes a JSON request and decodes the response into out (when out is
// non-nil). Non-2xx responses and transport failures come back as
// *schema.FlowdeckError.
func (c *Client) do(ctx context.Context, method, path string, body any, out any, headers map[string]string) error {
	var reqBody io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return schema.NewError(schema.ErrCodeValidation, "encode request body").WithCause(err)
		}
		reqBody = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "build request").WithCause(err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return schema.NewError(schema.ErrCodeCancelled, "request cancelled").WithCause(ctx.Err())
		}
		return schema.NewErrorf(schema.ErrCodeTransientNetwork,
			"%s %s: %s", method, path, err.Error()).WithCause(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return c.statusError(method, path, resp)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return schema.NewErrorf(schema.ErrCodeTransientNetwork,
				"%s %s: decode response: %s", method, path, err.Error()).WithCause(err)
		}
	}

	return nil
}

// statusError maps a non-2xx response to the error taxonomy.
func (c *Client) statusError(method, path string, resp *http.Response) *schema.FlowdeckError {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))

	var body apiError
	_ = json.Unmarshal(raw, &body)
	msg := body.Message
	if msg == "" {
		msg = body.Error
	}
	if msg == "" {
		msg = fmt.Sprintf("%s %s: HTTP %d", method, path, resp.StatusCode)
	}

	code := codeForStatus(resp.StatusCode)

	ferr := schema.NewError(code, msg)
	if body.Code != "" || body.NodeLabel != "" {
		details := map[string]any{}
		if body.Code != "" {
			details["code"] = body.Code
		}
		if body.NodeLabel != "" {
			details["node_label"] = body.NodeLabel
		}
		ferr = ferr.WithDetails(details)
	}

	c.logger.Debug("api request failed",
		"method", method, "path", path, "status", resp.StatusCode, "code", code)

	return ferr
}

func codeForStatus(status int) string {
	switch {
	case status == http.StatusPaymentRequired:
		return schema.ErrCodeQuotaExceeded
	case status == http.StatusConflict:
		return schema.ErrCodeConflict
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return schema.ErrCodeUnauthorized
	case status == http.StatusNotFound:
		return schema.ErrCodeNotFound
	case status == http.StatusTooManyRequests:
		return schema.ErrCodeTransientNetwork
	case status >= 500:
		return schema.ErrCodeTransientNetwork
	default:
		return schema.ErrCodeValidation
	}
}

// StreamURL builds the SSE endpoint for a workflow's event stream. runID
// empty means the workflow-level stream (run discovery); otherwise the
// per-run stream.
func (c *Client) StreamURL(workflowID, runID string) string {
	if runID == "" {
		return fmt.Sprintf("%s/api/workflows/%s/stream", c.baseURL, workflowID)
	}
	return fmt.Sprintf("%s/api/workflows/%s/runs/%s/stream", c.baseURL, workflowID, runID)
}
