// Package editor owns the canonical in-memory workflow graph: every canvas
// mutation funnels through the Store, which reconciles labels, tracks
// dirty/saving state, autosaves drafts, and gates saves on validation.
package editor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lumenlab/flowdeck/internal/graph"
	"github.com/lumenlab/flowdeck/internal/labels"
	"github.com/lumenlab/flowdeck/internal/streaming"
	"github.com/lumenlab/flowdeck/pkg/schema"
)

// WorkflowAPI is the slice of the REST client the store needs.
type WorkflowAPI interface {
	GetWorkflow(ctx context.Context, id string) (*schema.Workflow, error)
	UpdateWorkflow(ctx context.Context, wf *schema.Workflow, ifUnmodifiedSince time.Time) (*schema.Workflow, error)
}

// GraphValidator checks a graph before save.
type GraphValidator interface {
	ValidateGraph(g *schema.WorkflowGraph) *schema.ValidationResult
}

// DraftCache persists unsaved graphs for crash recovery. Optional;
// failures are logged and swallowed.
type DraftCache interface {
	PutDraft(ctx context.Context, workflowID string, g schema.WorkflowGraph) error
	DeleteDraft(ctx context.Context, workflowID string) error
}

// Store is the editor's graph owner. Safe for concurrent use. All slices
// handed out (and taken in) are replaced, never mutated in place, so
// callers can rely on identity comparison for change detection.
type Store struct {
	api       WorkflowAPI
	validator GraphValidator
	hub       streaming.Hub
	drafts    DraftCache
	logger    *slog.Logger

	mu          sync.Mutex
	workflowID  string
	name        string
	description string
	updatedAt   time.Time
	nodes       []schema.Node
	edges       []schema.Edge
	dirty       bool
	saving      bool
}

// Option configures a Store.
type Option func(*Store)

// WithDraftCache enables draft autosave.
func WithDraftCache(c DraftCache) Option {
	return func(s *Store) { s.drafts = c }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// NewStore creates an empty Store.
func NewStore(api WorkflowAPI, validator GraphValidator, hub streaming.Hub, opts ...Option) *Store {
	s := &Store{
		api:       api,
		validator: validator,
		hub:       hub,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Load fetches the workflow and installs its graph. Loading is a clean
// slate: not dirty, labels reconciled silently.
func (s *Store) Load(ctx context.Context, workflowID string) error {
	wf, err := s.api.GetWorkflow(ctx, workflowID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.workflowID = wf.ID
	s.name = wf.Name
	s.description = wf.Description
	s.updatedAt = wf.UpdatedAt
	s.nodes = labels.Reconcile(wf.Data.Nodes)
	s.edges = wf.Data.Edges
	wasDirty := s.dirty
	s.dirty = false
	s.mu.Unlock()

	s.publishGraphChanged()
	if wasDirty {
		s.publishDirtyChanged(false)
	}
	return nil
}

// Graph returns a snapshot of the current graph. Node Data maps are deep
// copies; mutating the snapshot never touches store state.
func (s *Store) Graph() schema.WorkflowGraph {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Store) snapshotLocked() schema.WorkflowGraph {
	nodes := make([]schema.Node, len(s.nodes))
	for i, n := range s.nodes {
		n.Data = graph.CloneData(n.Data)
		nodes[i] = n
	}
	edges := make([]schema.Edge, len(s.edges))
	copy(edges, s.edges)
	return schema.WorkflowGraph{Nodes: nodes, Edges: edges}
}

// Dirty reports whether there are unsaved changes.
func (s *Store) Dirty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dirty
}

// Saving reports whether a save is in flight.
func (s *Store) Saving() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saving
}

// CanEdit reports whether mutations are currently accepted.
func (s *Store) CanEdit() bool {
	return !s.Saving()
}

// SetGraph replaces the whole graph, e.g. after a canvas drag batch.
// markDirty is false for programmatic passes that must not count as user
// edits.
func (s *Store) SetGraph(nodes []schema.Node, edges []schema.Edge, markDirty bool) {
	s.mu.Lock()
	replaced := make([]schema.Node, len(nodes))
	copy(replaced, nodes)
	s.nodes = labels.Reconcile(replaced)
	replacedEdges := make([]schema.Edge, len(edges))
	copy(replacedEdges, edges)
	s.edges = replacedEdges
	becameDirty := markDirty && !s.dirty
	if markDirty {
		s.dirty = true
	}
	s.mu.Unlock()

	s.publishGraphChanged()
	if becameDirty {
		s.publishDirtyChanged(true)
	}
	if markDirty {
		s.autosave()
	}
}

// AddNode appends a node, minting an id when absent, and marks dirty.
// Returns the node id.
func (s *Store) AddNode(node schema.Node) string {
	if node.ID == "" {
		node.ID = uuid.NewString()
	}
	node.Data = graph.CloneData(node.Data)

	s.mu.Lock()
	next := make([]schema.Node, len(s.nodes), len(s.nodes)+1)
	copy(next, s.nodes)
	next = append(next, node)
	s.nodes = labels.Reconcile(next)
	becameDirty := !s.dirty
	s.dirty = true
	s.mu.Unlock()

	s.publishGraphChanged()
	if becameDirty {
		s.publishDirtyChanged(true)
	}
	s.autosave()
	return node.ID
}

// UpdateNodeData merges a patch into one node's Data and marks dirty.
// A nil value in the patch deletes the key. Unknown node ids are a no-op.
func (s *Store) UpdateNodeData(nodeID string, patch map[string]any) {
	s.mu.Lock()
	found := false
	next := make([]schema.Node, len(s.nodes))
	for i, n := range s.nodes {
		if n.ID == nodeID {
			data := graph.CloneData(n.Data)
			if data == nil {
				data = make(map[string]any, len(patch))
			}
			for k, v := range patch {
				if v == nil {
					delete(data, k)
					continue
				}
				data[k] = v
			}
			n.Data = data
			found = true
		}
		next[i] = n
	}
	if !found {
		s.mu.Unlock()
		return
	}
	s.nodes = labels.Reconcile(next)
	becameDirty := !s.dirty
	s.dirty = true
	s.mu.Unlock()

	s.publishGraphChanged()
	if becameDirty {
		s.publishDirtyChanged(true)
	}
	s.autosave()
}

// RemoveNode deletes a node and every edge touching it.
func (s *Store) RemoveNode(nodeID string) {
	s.mu.Lock()
	next := make([]schema.Node, 0, len(s.nodes))
	removed := false
	for _, n := range s.nodes {
		if n.ID == nodeID {
			removed = true
			continue
		}
		next = append(next, n)
	}
	if !removed {
		s.mu.Unlock()
		return
	}
	s.nodes = labels.Reconcile(next)
	s.edges = graph.EdgesWithoutNode(s.edges, nodeID)
	becameDirty := !s.dirty
	s.dirty = true
	s.mu.Unlock()

	s.publishGraphChanged()
	if becameDirty {
		s.publishDirtyChanged(true)
	}
	s.autosave()
}

// Connect adds an edge, refusing duplicates that would violate the
// one-outcome-edge / one-unconditional-edge invariants. Mints an id when
// absent. Returns the edge id, or an error when the connection is refused.
func (s *Store) Connect(edge schema.Edge) (string, error) {
	if edge.ID == "" {
		edge.ID = uuid.NewString()
	}
	edge = graph.NormalizeEdge(edge)

	s.mu.Lock()
	source, ok := schema.WorkflowGraph{Nodes: s.nodes}.NodeByID(edge.Source)
	if !ok {
		s.mu.Unlock()
		return "", schema.NewErrorf(schema.ErrCodeValidation,
			"connect: source node %q does not exist", edge.Source)
	}
	if _, ok := (schema.WorkflowGraph{Nodes: s.nodes}).NodeByID(edge.Target); !ok {
		s.mu.Unlock()
		return "", schema.NewErrorf(schema.ErrCodeValidation,
			"connect: target node %q does not exist", edge.Target)
	}

	if edge.Data.Outcome != nil {
		if !source.IsCondition() {
			s.mu.Unlock()
			return "", schema.NewErrorf(schema.ErrCodeValidation,
				"connect: node %q is not a condition, outcome edges not allowed", edge.Source)
		}
		if graph.HasOutcomeEdge(s.edges, edge.Source, *edge.Data.Outcome) {
			s.mu.Unlock()
			return "", schema.NewErrorf(schema.ErrCodeValidation,
				"connect: condition %q already has a %q edge", edge.Source, *edge.Data.Outcome)
		}
	} else if !source.IsCondition() && graph.HasUnconditionalEdge(s.edges, edge.Source) {
		s.mu.Unlock()
		return "", schema.NewErrorf(schema.ErrCodeValidation,
			"connect: node %q already has an outgoing edge", edge.Source)
	}

	next := make([]schema.Edge, len(s.edges), len(s.edges)+1)
	copy(next, s.edges)
	s.edges = append(next, edge)
	becameDirty := !s.dirty
	s.dirty = true
	s.mu.Unlock()

	s.publishGraphChanged()
	if becameDirty {
		s.publishDirtyChanged(true)
	}
	s.autosave()
	return edge.ID, nil
}

// Save validates and persists the graph, carrying the last-known
// updated_at so a concurrent edit from another session surfaces as
// CONFLICT with the local graph preserved.
func (s *Store) Save(ctx context.Context) error {
	return s.save(ctx, false)
}

// ForceSave persists without the concurrency check, overwriting whatever
// the backend holds. The explicit way out of a conflict, alongside Reload.
func (s *Store) ForceSave(ctx context.Context) error {
	return s.save(ctx, true)
}

func (s *Store) save(ctx context.Context, force bool) error {
	s.mu.Lock()
	if s.saving {
		s.mu.Unlock()
		return schema.NewError(schema.ErrCodeInvalidTransition, "save already in progress")
	}

	for _, n := range s.nodes {
		if n.HasValidationErrors() {
			s.mu.Unlock()
			return schema.NewError(schema.ErrCodeValidation,
				"cannot save: graph has validation errors").WithNode(n.ID)
		}
	}

	payload := graph.BuildSavePayload(schema.WorkflowGraph{Nodes: s.nodes, Edges: s.edges})
	if s.validator != nil {
		if result := s.validator.ValidateGraph(&payload); !result.Valid() {
			s.mu.Unlock()
			return result.ToError()
		}
	}

	wf := &schema.Workflow{
		ID:          s.workflowID,
		Name:        s.name,
		Description: s.description,
		Data:        payload,
	}
	since := s.updatedAt
	if force {
		since = time.Time{}
	}
	s.saving = true
	s.mu.Unlock()

	s.publishSavingChanged(true)

	updated, err := s.api.UpdateWorkflow(ctx, wf, since)

	s.mu.Lock()
	s.saving = false
	if err != nil {
		s.mu.Unlock()
		s.publishSavingChanged(false)
		return err
	}
	s.updatedAt = updated.UpdatedAt
	wasDirty := s.dirty
	s.dirty = false
	workflowID := s.workflowID
	s.mu.Unlock()

	s.publishSavingChanged(false)
	if wasDirty {
		s.publishDirtyChanged(false)
	}
	s.clearDraft(workflowID)
	return nil
}

// Reload discards local changes and re-fetches the backend's copy. The
// other explicit way out of a conflict.
func (s *Store) Reload(ctx context.Context) error {
	s.mu.Lock()
	workflowID := s.workflowID
	s.mu.Unlock()

	if err := s.Load(ctx, workflowID); err != nil {
		return err
	}
	s.clearDraft(workflowID)
	return nil
}

// --- notifications and autosave ---

func (s *Store) publishGraphChanged() {
	s.publish(streaming.Event{Kind: streaming.KindGraphChanged})
}

func (s *Store) publishDirtyChanged(dirty bool) {
	s.publish(streaming.Event{Kind: streaming.KindDirtyChanged, Payload: dirty})
}

func (s *Store) publishSavingChanged(saving bool) {
	s.publish(streaming.Event{Kind: streaming.KindSavingChanged, Payload: saving})
}

func (s *Store) publish(ev streaming.Event) {
	if s.hub == nil {
		return
	}
	s.mu.Lock()
	ev.WorkflowID = s.workflowID
	s.mu.Unlock()
	if err := s.hub.Publish(context.Background(), ev); err != nil {
		s.logger.Debug("hub publish failed", "kind", ev.Kind, "error", err)
	}
}

// autosave writes the current graph to the draft cache. Best effort.
func (s *Store) autosave() {
	if s.drafts == nil {
		return
	}
	s.mu.Lock()
	workflowID := s.workflowID
	snapshot := s.snapshotLocked()
	s.mu.Unlock()
	if workflowID == "" {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.drafts.PutDraft(ctx, workflowID, snapshot); err != nil {
		s.logger.Debug("draft autosave failed", "workflow_id", workflowID, "error", err)
	}
}

func (s *Store) clearDraft(workflowID string) {
	if s.drafts == nil || workflowID == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.drafts.DeleteDraft(ctx, workflowID); err != nil {
		s.logger.Debug("draft clear failed", "workflow_id", workflowID, "error", err)
	}
}
