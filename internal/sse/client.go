// Package sse is a text/event-stream subscriber for the backend's push
// channels. It handles framing only; reconnects and stream ownership are
// the tracker's job.
package sse

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/lumenlab/flowdeck/pkg/schema"
)

// Event is one decoded server-sent event. Name is the `event:` field
// ("run", "node_runs", "runs", "status", "tick", "error"); Data is the
// joined `data:` payload, usually JSON.
type Event struct {
	Name string
	Data []byte
}

// Client subscribes to SSE endpoints. Safe for concurrent use; each
// Subscribe call owns its own connection.
type Client struct {
	http   *http.Client
	logger *slog.Logger

	// authToken, when set, is sent as a bearer token.
	authToken string
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client. The client must not
// set a global timeout; streams are long-lived.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithAuthToken sets the bearer token sent on the subscribe request.
func WithAuthToken(token string) Option {
	return func(c *Client) { c.authToken = token }
}

// NewClient creates an SSE client.
func NewClient(opts ...Option) *Client {
	c := &Client{
		// No Timeout: an SSE response stays open indefinitely. Dial and TLS
		// handshake limits come from the default transport.
		http:   &http.Client{},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Subscribe opens the stream and returns a channel of decoded events.
// The channel closes when the server ends the stream or ctx is cancelled;
// cancelling ctx also closes the underlying response body. Comment lines
// (keepalives) are ignored.
func (c *Client) Subscribe(ctx context.Context, url string) (<-chan Event, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "build stream request").WithCause(err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, schema.NewError(schema.ErrCodeCancelled, "subscribe cancelled").WithCause(ctx.Err())
		}
		return nil, schema.NewErrorf(schema.ErrCodeTransientNetwork,
			"subscribe %s: %s", url, err.Error()).WithCause(err)
	}

	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, statusError(url, resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		resp.Body.Close()
		return nil, schema.NewErrorf(schema.ErrCodeTransientNetwork,
			"subscribe %s: unexpected content type %q", url, ct)
	}

	events := make(chan Event, 16)
	go c.readLoop(ctx, url, resp, events)
	return events, nil
}

// readLoop scans the wire format: `event:` names the next dispatch,
// `data:` lines accumulate (joined with newlines), a blank line flushes.
func (c *Client) readLoop(ctx context.Context, url string, resp *http.Response, events chan<- Event) {
	defer close(events)
	defer resp.Body.Close()

	// Close the body when ctx dies so the scanner unblocks.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			resp.Body.Close()
		case <-done:
		}
	}()

	started := time.Now()
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var (
		name     string
		dataBuf  []string
		received int
	)

	flush := func() {
		if name == "" && len(dataBuf) == 0 {
			return
		}
		ev := Event{
			Name: name,
			Data: []byte(strings.Join(dataBuf, "\n")),
		}
		name = ""
		dataBuf = nil

		select {
		case events <- ev:
			received++
		case <-ctx.Done():
		}
	}

	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			flush()
		case strings.HasPrefix(line, ":"):
			// Keepalive comment.
		case strings.HasPrefix(line, "event:"):
			name = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			dataBuf = append(dataBuf, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		default:
			// Unknown field (id:, retry:), ignored.
		}
		if ctx.Err() != nil {
			return
		}
	}

	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		c.logger.Debug("stream closed with error",
			"url", url, "error", err, "events", received, "uptime", time.Since(started))
	}
}

func statusError(url string, status int) *schema.FlowdeckError {
	code := schema.ErrCodeTransientNetwork
	switch status {
	case http.StatusNotFound:
		code = schema.ErrCodeNotFound
	case http.StatusUnauthorized, http.StatusForbidden:
		code = schema.ErrCodeUnauthorized
	}
	return schema.NewError(code, fmt.Sprintf("subscribe %s: HTTP %d", url, status))
}
