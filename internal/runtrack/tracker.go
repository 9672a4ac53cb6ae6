// Package runtrack follows a workflow's runs for the editor overlay: it
// discovers the active run, attaches to its push channel, falls back to
// polling when the channel drops, and republishes run/node-run snapshots
// on the in-process hub. One tracker tracks one workflow at a time.
package runtrack

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/lumenlab/flowdeck/internal/logging"
	"github.com/lumenlab/flowdeck/internal/sse"
	"github.com/lumenlab/flowdeck/internal/streaming"
	"github.com/lumenlab/flowdeck/pkg/schema"
)

// Backend is the slice of the REST client the tracker needs.
type Backend interface {
	GetRunStatus(ctx context.Context, workflowID, runID string) (*schema.RunRecord, []schema.NodeRunRecord, error)
	ListActiveRuns(ctx context.Context, workflowID string) ([]schema.RunRecord, error)
	StreamURL(workflowID, runID string) string
}

// Streamer opens push channels.
type Streamer interface {
	Subscribe(ctx context.Context, url string) (<-chan sse.Event, error)
}

// SnapshotCache mirrors snapshots into local storage. Optional; failures
// are logged and swallowed.
type SnapshotCache interface {
	PutRun(ctx context.Context, run *schema.RunRecord) error
	PutNodeRuns(ctx context.Context, runID string, nodeRuns []schema.NodeRunRecord) error
}

// Config tunes the retry cadence. Zero values take the package defaults;
// tests shrink them.
type Config struct {
	RunStatusBase time.Duration
	DiscoveryBase time.Duration
	Cap           time.Duration
}

func (c Config) withDefaults() Config {
	if c.RunStatusBase <= 0 {
		c.RunStatusBase = RunStatusBase
	}
	if c.DiscoveryBase <= 0 {
		c.DiscoveryBase = DiscoveryBase
	}
	if c.Cap <= 0 {
		c.Cap = BackoffCap
	}
	return c
}

// Tracker is the run-tracking session owner. Safe for concurrent use.
type Tracker struct {
	backend Backend
	streams Streamer
	hub     streaming.Hub
	cache   SnapshotCache
	logger  *slog.Logger
	cfg     Config

	mu sync.Mutex
	// generation stamps the current session. Every async completion
	// carries the generation it was started under; a mismatch means the
	// session moved on and the result is dropped.
	generation int64
	state      State
	workflowID string
	run        *schema.RunRecord
	nodeRuns   []schema.NodeRunRecord
	cancel     context.CancelFunc
	wg         sync.WaitGroup
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithCache mirrors snapshots into the local cache.
func WithCache(c SnapshotCache) Option {
	return func(t *Tracker) { t.cache = c }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(t *Tracker) { t.logger = l }
}

// WithConfig overrides the retry cadence.
func WithConfig(cfg Config) Option {
	return func(t *Tracker) { t.cfg = cfg }
}

// New creates an idle Tracker.
func New(backend Backend, streams Streamer, hub streaming.Hub, opts ...Option) *Tracker {
	t := &Tracker{
		backend: backend,
		streams: streams,
		hub:     hub,
		logger:  slog.Default(),
		state:   StateIdle,
	}
	for _, opt := range opts {
		opt(t)
	}
	t.cfg = t.cfg.withDefaults()
	return t
}

// Start begins tracking the workflow. An existing session is stopped
// first; starting is never an error.
func (t *Tracker) Start(ctx context.Context, workflowID string) {
	t.Stop()

	t.mu.Lock()
	t.generation++
	gen := t.generation
	t.workflowID = workflowID
	t.run = nil
	t.nodeRuns = nil
	t.state = StateDiscovering

	sessionCtx, cancel := context.WithCancel(logging.WithWorkflowID(ctx, workflowID))
	t.cancel = cancel
	t.wg.Add(1)
	t.mu.Unlock()

	t.logger.Info("tracking started", "workflow_id", workflowID)
	go t.loop(sessionCtx, gen, workflowID)
}

// Stop tears the session down: the generation bump makes every in-flight
// completion stale before the network calls return, then the loop goroutine
// is cancelled and awaited. Idempotent.
func (t *Tracker) Stop() {
	t.mu.Lock()
	t.generation++
	cancel := t.cancel
	t.cancel = nil
	if t.state != StateIdle {
		t.state = StateCancelled
	}
	t.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	t.wg.Wait()
}

// State returns the tracker's current phase.
func (t *Tracker) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Snapshot returns copies of the tracked run and its node runs.
func (t *Tracker) Snapshot() (*schema.RunRecord, []schema.NodeRunRecord) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var run *schema.RunRecord
	if t.run != nil {
		r := *t.run
		run = &r
	}
	nodeRuns := make([]schema.NodeRunRecord, len(t.nodeRuns))
	copy(nodeRuns, t.nodeRuns)
	return run, nodeRuns
}

// loop alternates discovery and tracking until the session is cancelled.
func (t *Tracker) loop(ctx context.Context, gen int64, workflowID string) {
	defer t.wg.Done()

	for ctx.Err() == nil {
		runID := t.discover(ctx, gen, workflowID)
		if runID == "" {
			return
		}
		t.track(ctx, gen, workflowID, runID)
	}
}

// discover watches for an active run, preferring the workflow-level push
// channel and falling back to polling list-active-runs. Blocks until a run
// is found or the session ends; an empty return means the session ended.
// No active runs is not an error, the tracker just keeps watching.
func (t *Tracker) discover(ctx context.Context, gen int64, workflowID string) string {
	backoff := NewBackoff(t.cfg.DiscoveryBase, t.cfg.Cap)

	for ctx.Err() == nil {
		runID, sessionAlive, streamed := t.discoverViaStream(ctx, gen, workflowID)
		if runID != "" || !sessionAlive {
			return runID
		}
		if streamed {
			backoff.Reset()
			// Stream ended without a run; reconnect after one poll sweep.
		}

		runs, perr := t.backend.ListActiveRuns(ctx, workflowID)
		if perr == nil {
			backoff.Reset()
			if runID := pickActive(runs); runID != "" {
				return runID
			}
		} else {
			t.logger.Debug("run discovery poll failed", "workflow_id", workflowID, "error", perr)
		}

		if !waitFor(ctx, backoff.Next()) {
			return ""
		}
	}
	return ""
}

// discoverViaStream opens the workflow-level stream for one discovery
// attempt. The stream lives in its own child context, cancelled on return,
// so at most one discovery connection is ever open: leaving the phase
// closes the response body and unwinds the reader before the next attempt
// or the tracking phase begins.
func (t *Tracker) discoverViaStream(ctx context.Context, gen int64, workflowID string) (runID string, sessionAlive, streamed bool) {
	streamCtx, closeStream := context.WithCancel(ctx)
	defer closeStream()

	events, err := t.streams.Subscribe(streamCtx, t.backend.StreamURL(workflowID, ""))
	if err != nil {
		return "", ctx.Err() == nil, false
	}
	runID, sessionAlive = t.watchDiscoveryStream(streamCtx, gen, workflowID, events)
	return runID, sessionAlive, true
}

// watchDiscoveryStream consumes the workflow-level stream until it yields
// an active run, the stream closes, or the session ends.
func (t *Tracker) watchDiscoveryStream(ctx context.Context, gen int64, workflowID string, events <-chan sse.Event) (runID string, sessionAlive bool) {
	for {
		select {
		case <-ctx.Done():
			return "", false
		case ev, ok := <-events:
			if !ok {
				return "", true
			}
			switch ev.Name {
			case schema.StreamEventRuns:
				var runs []schema.RunRecord
				if err := json.Unmarshal(ev.Data, &runs); err != nil {
					t.logger.Debug("malformed runs event", "error", err)
					continue
				}
				if id := pickActive(runs); id != "" {
					return id, true
				}
			case schema.StreamEventStatus:
				var status schema.GlobalStatus
				if err := json.Unmarshal(ev.Data, &status); err != nil {
					continue
				}
				t.publish(streaming.Event{
					WorkflowID: workflowID,
					Kind:       streaming.KindGlobalStatus,
					Payload:    status,
				})
			case schema.StreamEventTick:
				// Keepalive.
			}
		}
	}
}

// pickActive chooses the run to attach to: running beats queued, ties go
// to the most recently updated.
func pickActive(runs []schema.RunRecord) string {
	var best *schema.RunRecord
	for i := range runs {
		r := &runs[i]
		if r.Status != schema.RunStatusRunning && r.Status != schema.RunStatusQueued {
			continue
		}
		if best == nil {
			best = r
			continue
		}
		bestRunning := best.Status == schema.RunStatusRunning
		thisRunning := r.Status == schema.RunStatusRunning
		if thisRunning != bestRunning {
			if thisRunning {
				best = r
			}
			continue
		}
		if r.UpdatedAt.After(best.UpdatedAt) {
			best = r
		}
	}
	if best == nil {
		return ""
	}
	return best.ID
}

// track follows one run to its terminal state, streaming when the push
// channel is up and polling otherwise. Returns when the run is terminal
// (back to discovery), the run vanished, or the session ended.
func (t *Tracker) track(ctx context.Context, gen int64, workflowID, runID string) {
	ctx = logging.WithRunID(ctx, runID)
	backoff := NewBackoff(t.cfg.RunStatusBase, t.cfg.Cap)

	for ctx.Err() == nil {
		terminal, streamed := t.streamRun(ctx, gen, workflowID, runID)
		if terminal {
			t.finishRun(gen, workflowID, runID)
			return
		}
		if streamed {
			backoff.Reset()
			// Stream dropped mid-run; poll until it comes back.
		}
		t.setState(gen, StatePolling)

		run, nodeRuns, perr := t.backend.GetRunStatus(ctx, workflowID, runID)
		switch {
		case perr == nil:
			backoff.Reset()
			t.applyRun(gen, workflowID, run)
			t.applyNodeRuns(gen, workflowID, runID, nodeRuns)
			if run.Status.Terminal() {
				t.finishRun(gen, workflowID, runID)
				return
			}
		case isGone(perr):
			t.logger.Info("tracked run disappeared, resuming discovery",
				"workflow_id", workflowID, "run_id", runID)
			t.setState(gen, StateDiscovering)
			return
		default:
			t.logger.Debug("run status poll failed",
				"workflow_id", workflowID, "run_id", runID, "error", perr)
		}

		if !waitFor(ctx, backoff.Next()) {
			return
		}
	}
}

// streamRun opens the per-run stream for one tracking attempt, in a child
// context cancelled on return so the connection never outlives the attempt.
func (t *Tracker) streamRun(ctx context.Context, gen int64, workflowID, runID string) (terminal, streamed bool) {
	streamCtx, closeStream := context.WithCancel(ctx)
	defer closeStream()

	events, err := t.streams.Subscribe(streamCtx, t.backend.StreamURL(workflowID, runID))
	if err != nil {
		return false, false
	}
	t.setState(gen, StateStreaming)
	return t.consumeRunStream(streamCtx, gen, workflowID, runID, events), true
}

// consumeRunStream applies run and node-run events until the run turns
// terminal or the stream closes. Returns true when terminal.
func (t *Tracker) consumeRunStream(ctx context.Context, gen int64, workflowID, runID string, events <-chan sse.Event) bool {
	for {
		select {
		case <-ctx.Done():
			return false
		case ev, ok := <-events:
			if !ok {
				return false
			}
			switch ev.Name {
			case schema.StreamEventRun:
				var run schema.RunRecord
				if err := json.Unmarshal(ev.Data, &run); err != nil {
					t.logger.Debug("malformed run event", "error", err)
					continue
				}
				if t.applyRun(gen, workflowID, &run) && run.Status.Terminal() {
					return true
				}
			case schema.StreamEventNodeRuns:
				var nodeRuns []schema.NodeRunRecord
				if err := json.Unmarshal(ev.Data, &nodeRuns); err != nil {
					t.logger.Debug("malformed node_runs event", "error", err)
					continue
				}
				t.applyNodeRuns(gen, workflowID, runID, nodeRuns)
			case schema.StreamEventError:
				t.logger.Debug("stream error event",
					"workflow_id", workflowID, "run_id", runID, "data", string(ev.Data))
			case schema.StreamEventTick:
				// Keepalive.
			}
		}
	}
}

// applyRun installs a run snapshot after the staleness and monotonicity
// checks. The record replaces the previous one wholesale; the snapshot the
// hub publishes is a copy.
func (t *Tracker) applyRun(gen int64, workflowID string, run *schema.RunRecord) bool {
	t.mu.Lock()
	if gen != t.generation {
		t.mu.Unlock()
		t.logger.Debug("dropping stale run snapshot",
			"run_id", run.ID, "code", schema.ErrCodeStaleResponse)
		return false
	}
	// Terminal states are final: a late non-terminal event for the same
	// run never rolls the status back.
	if t.run != nil && t.run.ID == run.ID && t.run.Status.Terminal() && !run.Status.Terminal() {
		t.mu.Unlock()
		t.logger.Debug("dropping non-terminal update for terminal run",
			"run_id", run.ID, "have", t.run.Status, "got", run.Status)
		return false
	}
	snapshot := *run
	t.run = &snapshot
	t.mu.Unlock()

	published := snapshot
	t.publish(streaming.Event{
		WorkflowID: workflowID,
		RunID:      run.ID,
		Kind:       streaming.KindRunSnapshot,
		Payload:    &published,
	})
	t.mirrorRun(&published)
	return true
}

// applyNodeRuns installs a node-run snapshot set after the staleness check.
func (t *Tracker) applyNodeRuns(gen int64, workflowID, runID string, nodeRuns []schema.NodeRunRecord) bool {
	t.mu.Lock()
	if gen != t.generation {
		t.mu.Unlock()
		t.logger.Debug("dropping stale node-run snapshot",
			"run_id", runID, "code", schema.ErrCodeStaleResponse)
		return false
	}
	replaced := make([]schema.NodeRunRecord, len(nodeRuns))
	copy(replaced, nodeRuns)
	t.nodeRuns = replaced
	t.mu.Unlock()

	published := make([]schema.NodeRunRecord, len(replaced))
	copy(published, replaced)
	t.publish(streaming.Event{
		WorkflowID: workflowID,
		RunID:      runID,
		Kind:       streaming.KindNodeRunsSnapshot,
		Payload:    published,
	})
	t.mirrorNodeRuns(runID, published)
	return true
}

// finishRun republishes the final snapshot and returns to discovery.
func (t *Tracker) finishRun(gen int64, workflowID, runID string) {
	t.mu.Lock()
	if gen != t.generation {
		t.mu.Unlock()
		return
	}
	var final *schema.RunRecord
	if t.run != nil {
		r := *t.run
		final = &r
	}
	t.mu.Unlock()

	if final != nil {
		t.publish(streaming.Event{
			WorkflowID: workflowID,
			RunID:      runID,
			Kind:       streaming.KindRunSnapshot,
			Payload:    final,
		})
		t.logger.Info("tracked run finished",
			"workflow_id", workflowID, "run_id", runID, "status", final.Status)
	}
	t.setState(gen, StateDiscovering)
}

// setState moves the tracker through its transition table and announces
// channel changes on the hub.
func (t *Tracker) setState(gen int64, to State) {
	t.mu.Lock()
	if gen != t.generation {
		t.mu.Unlock()
		return
	}
	from := t.state
	if from == to {
		t.mu.Unlock()
		return
	}
	if !isValidTransition(from, to) {
		t.mu.Unlock()
		t.logger.Warn("invalid tracker transition", "from", from, "to", to)
		return
	}
	t.state = to
	workflowID := t.workflowID
	t.mu.Unlock()

	t.publish(streaming.Event{
		WorkflowID: workflowID,
		Kind:       streaming.KindChannelChanged,
		Payload:    string(to),
	})
}

func (t *Tracker) publish(ev streaming.Event) {
	if t.hub == nil {
		return
	}
	if err := t.hub.Publish(context.Background(), ev); err != nil {
		t.logger.Debug("hub publish failed", "kind", ev.Kind, "error", err)
	}
}

func (t *Tracker) mirrorRun(run *schema.RunRecord) {
	if t.cache == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := t.cache.PutRun(ctx, run); err != nil {
		t.logger.Debug("run snapshot cache write failed", "run_id", run.ID, "error", err)
	}
}

func (t *Tracker) mirrorNodeRuns(runID string, nodeRuns []schema.NodeRunRecord) {
	if t.cache == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := t.cache.PutNodeRuns(ctx, runID, nodeRuns); err != nil {
		t.logger.Debug("node-run snapshot cache write failed", "run_id", runID, "error", err)
	}
}

// isGone reports whether the error means the run no longer exists.
func isGone(err error) bool {
	var ferr *schema.FlowdeckError
	return errors.As(err, &ferr) && ferr.Code == schema.ErrCodeNotFound
}
