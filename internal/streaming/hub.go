package streaming

import "context"

// EventKind classifies engine notifications.
type EventKind string

const (
	// Editor notifications.
	KindGraphChanged  EventKind = "graph_changed"
	KindDirtyChanged  EventKind = "dirty_changed"
	KindSavingChanged EventKind = "saving_changed"

	// Run-tracker notifications.
	KindRunSnapshot      EventKind = "run_snapshot"
	KindNodeRunsSnapshot EventKind = "node_runs_snapshot"
	KindChannelChanged   EventKind = "channel_changed"
	KindGlobalStatus     EventKind = "global_status"
)

// Event is one engine notification delivered to UI subscribers.
// Payload is a read-only snapshot; subscribers must never mutate it.
type Event struct {
	WorkflowID string    `json:"workflow_id,omitempty"`
	RunID      string    `json:"run_id,omitempty"`
	Kind       EventKind `json:"kind"`
	Payload    any       `json:"payload,omitempty"`
}

// Filter specifies which events a subscriber wants to receive.
type Filter struct {
	WorkflowID string      `json:"workflow_id,omitempty"`
	RunID      string      `json:"run_id,omitempty"`
	Kinds      []EventKind `json:"kinds,omitempty"`
}

// Hub provides in-process pub/sub between the engine and its UI host.
type Hub interface {
	Publish(ctx context.Context, event Event) error
	Subscribe(ctx context.Context, filter Filter) (<-chan Event, func(), error)
}
