package validation

import (
	"fmt"

	"github.com/lumenlab/flowdeck/pkg/schema"
)

// validateStructure performs graph-shape analysis: id uniqueness, edge
// endpoint references, condition outcome-edge cardinality, and reachability
// from trigger nodes (BFS over outgoing edges).
func validateStructure(g *schema.WorkflowGraph) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	nodeIDs := make(map[string]bool, len(g.Nodes))
	hasTrigger := false
	for i, n := range g.Nodes {
		path := fmt.Sprintf("nodes[%d]", i)
		if n.ID == "" {
			result.AddError(path+".id", schema.ErrCodeValidation, "node id is empty")
			continue
		}
		if nodeIDs[n.ID] {
			result.AddError(path+".id", CodeDuplicateID,
				fmt.Sprintf("duplicate node id %q", n.ID))
		}
		nodeIDs[n.ID] = true
		if schema.IsTrigger(n.Type) {
			hasTrigger = true
		}
	}

	if len(g.Nodes) > 0 && !hasTrigger {
		result.AddWarning("nodes", CodeNoTrigger,
			"workflow has no trigger node and can only be started manually via rerun")
	}

	edgeIDs := make(map[string]bool, len(g.Edges))
	// Per-source counters for the outgoing-edge invariants.
	outcomeEdges := make(map[string]map[string]int)
	unconditional := make(map[string]int)

	for i, e := range g.Edges {
		path := fmt.Sprintf("edges[%d]", i)

		if e.ID != "" {
			if edgeIDs[e.ID] {
				result.AddError(path+".id", CodeDuplicateID,
					fmt.Sprintf("duplicate edge id %q", e.ID))
			}
			edgeIDs[e.ID] = true
		}

		if !nodeIDs[e.Source] {
			result.AddError(path+".source", CodeDanglingEdge,
				fmt.Sprintf("edge references non-existent source node %q", e.Source))
		}
		if !nodeIDs[e.Target] {
			result.AddError(path+".target", CodeDanglingEdge,
				fmt.Sprintf("edge references non-existent target node %q", e.Target))
		}

		if e.Data.Outcome != nil {
			if outcomeEdges[e.Source] == nil {
				outcomeEdges[e.Source] = make(map[string]int, 2)
			}
			outcomeEdges[e.Source][*e.Data.Outcome]++
		} else {
			unconditional[e.Source]++
		}
	}

	for i, n := range g.Nodes {
		path := fmt.Sprintf("nodes[%d]", i)
		if n.IsCondition() {
			for outcome, count := range outcomeEdges[n.ID] {
				if count > 1 {
					result.AddError(path, CodeDuplicateOutcome,
						fmt.Sprintf("condition node %q has %d edges for outcome %q, at most one allowed", n.ID, count, outcome))
				}
			}
			continue
		}
		if unconditional[n.ID] > 1 {
			result.AddError(path, CodeMultipleOut,
				fmt.Sprintf("node %q has %d unconditional outgoing edges, at most one allowed", n.ID, unconditional[n.ID]))
		}
	}

	result.Merge(checkReachability(g, nodeIDs))
	return result
}

// checkReachability flags nodes a run could never visit: BFS from trigger
// nodes through outgoing edges. Warnings only, the graph still saves.
func checkReachability(g *schema.WorkflowGraph, nodeIDs map[string]bool) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	adjacency := make(map[string][]string, len(g.Nodes))
	for _, e := range g.Edges {
		if nodeIDs[e.Source] && nodeIDs[e.Target] {
			adjacency[e.Source] = append(adjacency[e.Source], e.Target)
		}
	}

	reachable := make(map[string]bool, len(g.Nodes))
	queue := make([]string, 0, len(g.Nodes))
	for _, n := range g.Nodes {
		if schema.IsTrigger(n.Type) {
			reachable[n.ID] = true
			queue = append(queue, n.ID)
		}
	}
	if len(queue) == 0 {
		return result // no triggers, already warned; reachability is meaningless
	}

	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, next := range adjacency[id] {
			if !reachable[next] {
				reachable[next] = true
				queue = append(queue, next)
			}
		}
	}

	for i, n := range g.Nodes {
		if n.ID != "" && !reachable[n.ID] {
			result.AddWarning(fmt.Sprintf("nodes[%d]", i), CodeUnreachable,
				fmt.Sprintf("node %q is unreachable from any trigger", n.ID))
		}
	}

	return result
}
