// Package graph canonicalizes node and edge records. Everything here is a
// pure function: normalization strips transient editor state, materializes
// optional edge fields, and orders records deterministically so that
// repeated saves of an unchanged graph produce byte-identical payloads.
package graph

import (
	"sort"

	"github.com/lumenlab/flowdeck/pkg/schema"
)

// DefaultEdgeType is assigned when an edge arrives without a type.
const DefaultEdgeType = "default"

// NormalizeNode returns a copy of n ready for an outbound payload.
// Transient data keys are stripped and Data is deep-cloned, so the result
// never shares mutable references with the in-memory node.
func NormalizeNode(n schema.Node) schema.Node {
	out := n
	out.Data = CloneData(n.Data)
	for _, k := range schema.TransientDataKeys {
		delete(out.Data, k)
	}
	return out
}

// NormalizeEdge returns a copy of e with optional fields coalesced to
// concrete defaults, so two structurally equal edges always serialize
// identically. Label stays a pointer (nil marshals as explicit null) but is
// re-pointed so the copy shares nothing with the input.
func NormalizeEdge(e schema.Edge) schema.Edge {
	out := e
	if out.Type == "" {
		out.Type = DefaultEdgeType
	}
	if out.Data.EdgeType == "" {
		out.Data.EdgeType = out.Type
	}
	if e.Label != nil {
		label := *e.Label
		out.Label = &label
	}
	if e.Data.Outcome != nil {
		outcome := *e.Data.Outcome
		out.Data.Outcome = &outcome
	}
	return out
}

// CloneData deep-clones a node data bag. Nested map[string]any and []any
// values are cloned recursively; scalars are copied as-is. Nil stays nil.
func CloneData(data map[string]any) map[string]any {
	if data == nil {
		return nil
	}
	out := make(map[string]any, len(data))
	for k, v := range data {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return CloneData(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}

// SortNodesByID returns a new slice ordered lexicographically by id.
func SortNodesByID(nodes []schema.Node) []schema.Node {
	out := make([]schema.Node, len(nodes))
	copy(out, nodes)
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// SortEdgesByID returns a new slice ordered lexicographically by id.
func SortEdgesByID(edges []schema.Edge) []schema.Edge {
	out := make([]schema.Edge, len(edges))
	copy(out, edges)
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// BuildSavePayload normalizes and sorts the whole graph. This is the only
// form the persistence client ever sends: saving an unmodified loaded graph
// yields a payload byte-identical to the originally loaded, normalized one.
func BuildSavePayload(g schema.WorkflowGraph) schema.WorkflowGraph {
	nodes := make([]schema.Node, len(g.Nodes))
	for i, n := range g.Nodes {
		nodes[i] = NormalizeNode(n)
	}
	edges := make([]schema.Edge, len(g.Edges))
	for i, e := range g.Edges {
		edges[i] = NormalizeEdge(e)
	}
	return schema.WorkflowGraph{
		Nodes: SortNodesByID(nodes),
		Edges: SortEdgesByID(edges),
	}
}
