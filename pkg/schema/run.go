package schema

import "time"

// RunStatus represents the lifecycle state of a workflow run.
type RunStatus string

const (
	RunStatusQueued    RunStatus = "queued"
	RunStatusRunning   RunStatus = "running"
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCanceled  RunStatus = "canceled"
)

// Terminal reports whether the run can no longer change state.
func (s RunStatus) Terminal() bool {
	return s == RunStatusSucceeded || s == RunStatusFailed || s == RunStatusCanceled
}

// NodeRunStatus represents the lifecycle state of one node within a run.
type NodeRunStatus string

const (
	NodeRunStatusQueued    NodeRunStatus = "queued"
	NodeRunStatusRunning   NodeRunStatus = "running"
	NodeRunStatusSucceeded NodeRunStatus = "succeeded"
	NodeRunStatusFailed    NodeRunStatus = "failed"
	NodeRunStatusSkipped   NodeRunStatus = "skipped"
	NodeRunStatusCanceled  NodeRunStatus = "canceled"
)

// Terminal reports whether the node run can no longer change state.
func (s NodeRunStatus) Terminal() bool {
	switch s {
	case NodeRunStatusSucceeded, NodeRunStatusFailed, NodeRunStatusSkipped, NodeRunStatusCanceled:
		return true
	}
	return false
}

// RunRecord is one execution instance of a workflow, as reported by the
// backend. The client treats it as read-only; every update replaces the
// whole record (the push channel is not a diff protocol).
type RunRecord struct {
	ID         string     `json:"id"`
	WorkflowID string     `json:"workflow_id"`
	Status     RunStatus  `json:"status"`
	Error      *string    `json:"error,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// NodeRunRecord is the execution record for a single node within a run,
// keyed by (RunID, NodeID).
type NodeRunRecord struct {
	ID         string         `json:"id"`
	RunID      string         `json:"run_id"`
	NodeID     string         `json:"node_id"`
	Name       string         `json:"name,omitempty"`
	NodeType   string         `json:"node_type,omitempty"`
	Inputs     map[string]any `json:"inputs,omitempty"`
	Outputs    map[string]any `json:"outputs,omitempty"`
	Status     NodeRunStatus  `json:"status"`
	Error      *string        `json:"error,omitempty"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt *time.Time     `json:"finished_at,omitempty"`
	UpdatedAt  time.Time      `json:"updated_at"`
}
