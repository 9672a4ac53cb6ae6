package graph

import "github.com/lumenlab/flowdeck/pkg/schema"

// EdgesWithoutNode returns the edges that neither start nor end at nodeID.
// Used by the editor to cascade edge removal when a node is deleted.
func EdgesWithoutNode(edges []schema.Edge, nodeID string) []schema.Edge {
	out := make([]schema.Edge, 0, len(edges))
	for _, e := range edges {
		if e.Source == nodeID || e.Target == nodeID {
			continue
		}
		out = append(out, e)
	}
	return out
}

// HasOutcomeEdge reports whether source already has an outgoing edge with
// the given outcome label. Condition nodes may carry at most one "true" and
// one "false" edge.
func HasOutcomeEdge(edges []schema.Edge, source, outcome string) bool {
	for _, e := range edges {
		if e.Source != source || e.Data.Outcome == nil {
			continue
		}
		if *e.Data.Outcome == outcome {
			return true
		}
	}
	return false
}

// HasUnconditionalEdge reports whether source already has an outgoing edge
// without an outcome label. Non-condition sources may carry at most one.
func HasUnconditionalEdge(edges []schema.Edge, source string) bool {
	for _, e := range edges {
		if e.Source == source && e.Data.Outcome == nil {
			return true
		}
	}
	return false
}
