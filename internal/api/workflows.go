package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/lumenlab/flowdeck/pkg/schema"
)

type workflowListResponse struct {
	Workflows []schema.Workflow `json:"workflows"`
}

type workflowResponse struct {
	Workflow *schema.Workflow `json:"workflow"`
}

// createWorkflowRequest is the wire body for creating a workflow.
type createWorkflowRequest struct {
	Name        string               `json:"name"`
	Description string               `json:"description,omitempty"`
	Data        schema.WorkflowGraph `json:"data"`
}

// updateWorkflowRequest carries the full replacement state plus the
// client's last-known updated_at for optimistic concurrency.
type updateWorkflowRequest struct {
	Name        string               `json:"name"`
	Description string               `json:"description,omitempty"`
	Data        schema.WorkflowGraph `json:"data"`
	UpdatedAt   time.Time            `json:"updated_at"`
}

// GetWorkflow fetches a single workflow with its graph.
func (c *Client) GetWorkflow(ctx context.Context, id string) (*schema.Workflow, error) {
	var resp workflowResponse
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/workflows/%s", id), nil, &resp, nil)
	if err != nil {
		return nil, err
	}
	if resp.Workflow == nil {
		return nil, schema.NewError(schema.ErrCodeNotFound, fmt.Sprintf("workflow %s not found", id))
	}
	return resp.Workflow, nil
}

// ListWorkflows returns all workflows visible to the caller.
func (c *Client) ListWorkflows(ctx context.Context) ([]schema.Workflow, error) {
	var resp workflowListResponse
	if err := c.do(ctx, http.MethodGet, "/api/workflows", nil, &resp, nil); err != nil {
		return nil, err
	}
	return resp.Workflows, nil
}

// CreateWorkflow persists a new workflow and returns the stored record.
func (c *Client) CreateWorkflow(ctx context.Context, name, description string, graph schema.WorkflowGraph) (*schema.Workflow, error) {
	var resp workflowResponse
	err := c.do(ctx, http.MethodPost, "/api/workflows",
		createWorkflowRequest{Name: name, Description: description, Data: graph},
		&resp, nil)
	if err != nil {
		return nil, err
	}
	if resp.Workflow == nil {
		return nil, schema.NewError(schema.ErrCodeTransientNetwork, "create workflow: response missing workflow")
	}
	return resp.Workflow, nil
}

// UpdateWorkflow replaces the workflow's state. ifUnmodifiedSince is the
// updated_at the client last observed: when the server's copy is newer it
// rejects the write with 409, which surfaces here as CONFLICT. A zero time
// skips the concurrency check (force save).
func (c *Client) UpdateWorkflow(ctx context.Context, wf *schema.Workflow, ifUnmodifiedSince time.Time) (*schema.Workflow, error) {
	req := updateWorkflowRequest{
		Name:        wf.Name,
		Description: wf.Description,
		Data:        wf.Data,
		UpdatedAt:   ifUnmodifiedSince,
	}

	var headers map[string]string
	if !ifUnmodifiedSince.IsZero() {
		headers = map[string]string{
			"If-Unmodified-Since": ifUnmodifiedSince.UTC().Format(http.TimeFormat),
		}
	}

	var resp workflowResponse
	err := c.do(ctx, http.MethodPut, fmt.Sprintf("/api/workflows/%s", wf.ID), req, &resp, headers)
	if err != nil {
		return nil, err
	}
	if resp.Workflow == nil {
		return nil, schema.NewError(schema.ErrCodeTransientNetwork, "update workflow: response missing workflow")
	}
	return resp.Workflow, nil
}

// DeleteWorkflow removes a workflow and its run history.
func (c *Client) DeleteWorkflow(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, fmt.Sprintf("/api/workflows/%s", id), nil, nil, nil)
}
