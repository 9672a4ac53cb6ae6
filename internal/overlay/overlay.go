// Package overlay projects tracker snapshots into what the canvas draws:
// a global activity badge and per-node state sets for the focused run.
// It holds no network state of its own; cancellation is delegated to the
// REST client and the resulting status change flows back via the tracker.
package overlay

import (
	"context"
	"log/slog"
	"sync"

	"github.com/lumenlab/flowdeck/internal/expressions"
	"github.com/lumenlab/flowdeck/internal/streaming"
	"github.com/lumenlab/flowdeck/pkg/schema"
)

// Status is the editor-wide activity badge.
type Status string

const (
	StatusIdle    Status = "idle"
	StatusQueued  Status = "queued"
	StatusRunning Status = "running"
)

// NodeStates are the node-id sets the canvas colors for the focused run.
type NodeStates struct {
	Running   map[string]bool
	Succeeded map[string]bool
	Failed    map[string]bool
}

// RunCanceller is the slice of the REST client the overlay needs.
type RunCanceller interface {
	CancelRun(ctx context.Context, workflowID, runID string) error
}

// Controller owns the overlay projection. Safe for concurrent use.
type Controller struct {
	api       RunCanceller
	hub       streaming.Hub
	logger    *slog.Logger
	extractor expressions.Engine

	mu       sync.Mutex
	status   Status
	run      *schema.RunRecord
	nodeRuns []schema.NodeRunRecord
}

// Option configures a Controller.
type Option func(*Controller)

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) { c.logger = l }
}

// WithExtractor overrides the expression engine used by ExtractOutput.
func WithExtractor(e expressions.Engine) Option {
	return func(c *Controller) { c.extractor = e }
}

// New creates an idle Controller.
func New(api RunCanceller, hub streaming.Hub, opts ...Option) *Controller {
	c := &Controller{
		api:       api,
		hub:       hub,
		logger:    slog.Default(),
		extractor: expressions.NewGoJQEngine(),
		status:    StatusIdle,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Attach subscribes to the hub and applies tracker snapshots until ctx
// ends. Runs in its own goroutine.
func (c *Controller) Attach(ctx context.Context) error {
	events, cancel, err := c.hub.Subscribe(ctx, streaming.Filter{
		Kinds: []streaming.EventKind{
			streaming.KindRunSnapshot,
			streaming.KindNodeRunsSnapshot,
			streaming.KindGlobalStatus,
		},
	})
	if err != nil {
		return err
	}

	go func() {
		defer cancel()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-events:
				if !ok {
					return
				}
				c.apply(ev)
			}
		}
	}()
	return nil
}

func (c *Controller) apply(ev streaming.Event) {
	switch ev.Kind {
	case streaming.KindRunSnapshot:
		if run, ok := ev.Payload.(*schema.RunRecord); ok {
			c.ApplyRun(run)
		}
	case streaming.KindNodeRunsSnapshot:
		if nodeRuns, ok := ev.Payload.([]schema.NodeRunRecord); ok {
			c.ApplyNodeRuns(nodeRuns)
		}
	case streaming.KindGlobalStatus:
		if status, ok := ev.Payload.(schema.GlobalStatus); ok {
			c.ApplyGlobalStatus(status)
		}
	}
}

// ApplyRun focuses the overlay on the given run. A new run id resets the
// node-state projection.
func (c *Controller) ApplyRun(run *schema.RunRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.run == nil || c.run.ID != run.ID {
		c.nodeRuns = nil
	}
	snapshot := *run
	c.run = &snapshot

	switch run.Status {
	case schema.RunStatusRunning:
		c.status = StatusRunning
	case schema.RunStatusQueued:
		c.status = StatusQueued
	default:
		c.status = StatusIdle
	}
}

// ApplyNodeRuns replaces the focused run's node-run set.
func (c *Controller) ApplyNodeRuns(nodeRuns []schema.NodeRunRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()
	replaced := make([]schema.NodeRunRecord, len(nodeRuns))
	copy(replaced, nodeRuns)
	c.nodeRuns = replaced
}

// ApplyGlobalStatus folds the workflow-level activity signal into the
// badge. A focused running run always wins.
func (c *Controller) ApplyGlobalStatus(status schema.GlobalStatus) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.run != nil && c.run.Status == schema.RunStatusRunning {
		c.status = StatusRunning
		return
	}
	switch {
	case status.HasRunning:
		c.status = StatusRunning
	case status.HasQueued:
		c.status = StatusQueued
	default:
		c.status = StatusIdle
	}
}

// Status returns the activity badge.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// FocusedRun returns a copy of the focused run, or nil.
func (c *Controller) FocusedRun() *schema.RunRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.run == nil {
		return nil
	}
	run := *c.run
	return &run
}

// NodeStates projects the focused run's node runs into the canvas sets.
func (c *Controller) NodeStates() NodeStates {
	c.mu.Lock()
	defer c.mu.Unlock()

	states := NodeStates{
		Running:   make(map[string]bool),
		Succeeded: make(map[string]bool),
		Failed:    make(map[string]bool),
	}
	for _, nr := range c.nodeRuns {
		switch nr.Status {
		case schema.NodeRunStatusRunning:
			states.Running[nr.NodeID] = true
		case schema.NodeRunStatusSucceeded:
			states.Succeeded[nr.NodeID] = true
		case schema.NodeRunStatusFailed:
			states.Failed[nr.NodeID] = true
		}
	}
	return states
}

// NodeOutputs returns the focused run's outputs for one node, for the
// detail panel. Nil when the node has not produced outputs.
func (c *Controller) NodeOutputs(nodeID string) map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, nr := range c.nodeRuns {
		if nr.NodeID == nodeID {
			return nr.Outputs
		}
	}
	return nil
}

// ExtractOutput evaluates a jq path against one node's outputs for the
// detail panel, e.g. `.response.body.id`. Returns NOT_FOUND when the node
// has produced no outputs in the focused run.
func (c *Controller) ExtractOutput(ctx context.Context, nodeID, path string) (any, error) {
	outputs := c.NodeOutputs(nodeID)
	if outputs == nil {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound,
			"no outputs for node %s", nodeID).WithNode(nodeID)
	}
	return c.extractor.Evaluate(ctx, path, outputs)
}

// CancelFocusedRun cancels the run the overlay is focused on. The status
// flip to canceled arrives through the tracker, not here.
func (c *Controller) CancelFocusedRun(ctx context.Context) error {
	c.mu.Lock()
	run := c.run
	c.mu.Unlock()

	if run == nil {
		return schema.NewError(schema.ErrCodeNotFound, "no run focused")
	}
	if run.Status.Terminal() {
		return schema.NewError(schema.ErrCodeInvalidTransition,
			"run already finished").WithDetails(map[string]any{"status": run.Status})
	}
	return c.api.CancelRun(ctx, run.WorkflowID, run.ID)
}
