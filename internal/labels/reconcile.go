// Package labels derives per-node label validity from the current node set.
// Reconciliation is idempotent and allocation-shy: when no node's derived
// state changes, the input slice is returned untouched so subscribers can
// skip re-render on reference equality.
package labels

import (
	"strings"

	"github.com/lumenlab/flowdeck/internal/graph"
	"github.com/lumenlab/flowdeck/pkg/schema"
)

// Label error values materialized into node data.
const (
	ErrSpaces    = "spaces"
	ErrDuplicate = "duplicate"
)

// Reconcile computes labelError and hasLabelValidationError for every node.
// Rules: a label with leading or trailing whitespace is flagged "spaces";
// otherwise, a non-empty label whose case-insensitive trimmed form collides
// with another node's is flagged "duplicate" on every holder. The same
// counting rule applies to all nodes sharing a label, so assignment is
// deterministic.
func Reconcile(nodes []schema.Node) []schema.Node {
	counts := make(map[string]int, len(nodes))
	for _, n := range nodes {
		key := labelKey(n.Label())
		if key != "" {
			counts[key]++
		}
	}

	changed := false
	derived := make([]string, len(nodes))
	for i, n := range nodes {
		derived[i] = deriveError(n.Label(), counts)
		if !matches(n, derived[i]) {
			changed = true
		}
	}
	if !changed {
		return nodes
	}

	out := make([]schema.Node, len(nodes))
	for i, n := range nodes {
		if matches(n, derived[i]) {
			out[i] = n
			continue
		}
		out[i] = withError(n, derived[i])
	}
	return out
}

func labelKey(label string) string {
	return strings.ToLower(strings.TrimSpace(label))
}

func deriveError(label string, counts map[string]int) string {
	if label == "" {
		return ""
	}
	if label != strings.TrimSpace(label) {
		return ErrSpaces
	}
	if counts[labelKey(label)] > 1 {
		return ErrDuplicate
	}
	return ""
}

// matches reports whether the node already carries the derived state, with
// labelError materialized (nil for no error) and the flag in sync.
func matches(n schema.Node, labelErr string) bool {
	v, present := n.Data[schema.DataKeyLabelError]
	if !present {
		return false
	}
	if labelErr == "" {
		if v != nil {
			return false
		}
	} else if s, _ := v.(string); s != labelErr {
		return false
	}
	flag, _ := n.Data[schema.DataKeyHasLabelValidationError].(bool)
	return flag == (labelErr != "")
}

// withError returns a copy of n with the derived state written into a fresh
// data map. The input node is never mutated in place.
func withError(n schema.Node, labelErr string) schema.Node {
	out := n
	out.Data = graph.CloneData(n.Data)
	if out.Data == nil {
		out.Data = make(map[string]any, 2)
	}
	if labelErr == "" {
		out.Data[schema.DataKeyLabelError] = nil
		out.Data[schema.DataKeyHasLabelValidationError] = false
	} else {
		out.Data[schema.DataKeyLabelError] = labelErr
		out.Data[schema.DataKeyHasLabelValidationError] = true
	}
	return out
}
