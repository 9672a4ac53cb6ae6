package schema

import "time"

// Workflow is the persisted workflow record. UpdatedAt doubles as the
// optimistic-concurrency marker: a save carries the last-known value and the
// backend rejects it with a conflict when a newer version exists.
type Workflow struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	Description string        `json:"description,omitempty"`
	Data        WorkflowGraph `json:"data"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}
