package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/google/uuid"

	"github.com/lumenlab/flowdeck/pkg/schema"
)

// StartRunOptions customizes a run start.
type StartRunOptions struct {
	// IdempotencyKey deduplicates retried starts; minted when empty.
	IdempotencyKey string
	// Context is the trigger payload handed to the run.
	Context map[string]any
	// Priority is an optional scheduling hint ("low", "normal", "high").
	Priority string
}

// startRunRequest is the wire body for starting a run.
type startRunRequest struct {
	Context  map[string]any `json:"context,omitempty"`
	Priority string         `json:"priority,omitempty"`
}

// startRunResponse is the 202 body: the backend acknowledges the start and
// returns the queued run record.
type startRunResponse struct {
	Success bool              `json:"success"`
	Run     *schema.RunRecord `json:"run"`
}

// runStatusResponse bundles a run with its node runs.
type runStatusResponse struct {
	Run      *schema.RunRecord      `json:"run"`
	NodeRuns []schema.NodeRunRecord `json:"node_runs"`
}

type runListResponse struct {
	Runs []schema.RunRecord `json:"runs"`
}

// StartRun queues a new run of the workflow. Quota violations come back as
// QUOTA_EXCEEDED with the offending node's label in the details.
func (c *Client) StartRun(ctx context.Context, workflowID string, opts StartRunOptions) (*schema.RunRecord, error) {
	key := opts.IdempotencyKey
	if key == "" {
		key = uuid.NewString()
	}

	var resp startRunResponse
	err := c.do(ctx, http.MethodPost,
		fmt.Sprintf("/api/workflows/%s/run", workflowID),
		startRunRequest{Context: opts.Context, Priority: opts.Priority},
		&resp,
		map[string]string{"Idempotency-Key": key},
	)
	if err != nil {
		return nil, err
	}
	if resp.Run == nil {
		return nil, schema.NewError(schema.ErrCodeTransientNetwork, "start run: response missing run record")
	}
	return resp.Run, nil
}

// GetRunStatus fetches a run and its node runs in one round trip. This is
// the polling-fallback request; the tracker calls it when SSE is down.
func (c *Client) GetRunStatus(ctx context.Context, workflowID, runID string) (*schema.RunRecord, []schema.NodeRunRecord, error) {
	var resp runStatusResponse
	err := c.do(ctx, http.MethodGet,
		fmt.Sprintf("/api/workflows/%s/runs/%s", workflowID, runID),
		nil, &resp, nil)
	if err != nil {
		return nil, nil, err
	}
	if resp.Run == nil {
		return nil, nil, schema.NewError(schema.ErrCodeNotFound,
			fmt.Sprintf("run %s not found", runID))
	}
	return resp.Run, resp.NodeRuns, nil
}

// CancelRun requests cancellation of a single run. The backend transitions
// the run to canceled asynchronously; the tracker observes it via the stream.
func (c *Client) CancelRun(ctx context.Context, workflowID, runID string) error {
	return c.do(ctx, http.MethodPost,
		fmt.Sprintf("/api/workflows/%s/runs/%s/cancel", workflowID, runID),
		nil, nil, nil)
}

// ListActiveRuns returns runs in queued or running state. An empty
// workflowID lists active runs across all workflows.
func (c *Client) ListActiveRuns(ctx context.Context, workflowID string) ([]schema.RunRecord, error) {
	path := "/api/runs/active"
	if workflowID != "" {
		path = fmt.Sprintf("/api/workflows/%s/runs/active", workflowID)
	}

	var resp runListResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &resp, nil); err != nil {
		return nil, err
	}
	return resp.Runs, nil
}

// ListRuns returns the workflow's run history, most recent first.
func (c *Client) ListRuns(ctx context.Context, workflowID string) ([]schema.RunRecord, error) {
	var resp runListResponse
	err := c.do(ctx, http.MethodGet,
		fmt.Sprintf("/api/workflows/%s/runs", workflowID),
		nil, &resp, nil)
	if err != nil {
		return nil, err
	}
	return resp.Runs, nil
}

// CancelAllRuns cancels every active run of the workflow.
func (c *Client) CancelAllRuns(ctx context.Context, workflowID string) error {
	return c.do(ctx, http.MethodPost,
		fmt.Sprintf("/api/workflows/%s/runs/cancel-all", workflowID),
		nil, nil, nil)
}

// Rerun starts a fresh run reusing the trigger context of a previous one.
func (c *Client) Rerun(ctx context.Context, workflowID, runID string) (*schema.RunRecord, error) {
	var resp startRunResponse
	err := c.do(ctx, http.MethodPost,
		fmt.Sprintf("/api/workflows/%s/runs/%s/rerun", workflowID, runID),
		nil, &resp,
		map[string]string{"Idempotency-Key": uuid.NewString()},
	)
	if err != nil {
		return nil, err
	}
	if resp.Run == nil {
		return nil, schema.NewError(schema.ErrCodeTransientNetwork, "rerun: response missing run record")
	}
	return resp.Run, nil
}
