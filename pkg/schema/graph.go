package schema

// Position is a node's canvas placement.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Well-known keys inside Node.Data. Label is authored content; the rest are
// derived or transient and must never reach the backend.
const (
	DataKeyLabel                   = "label"
	DataKeyDirty                   = "dirty"
	DataKeyEpoch                   = "epoch"
	DataKeyLabelError              = "labelError"
	DataKeyHasValidationErrors     = "hasValidationErrors"
	DataKeyHasLabelValidationError = "hasLabelValidationError"
)

// TransientDataKeys lists the Node.Data keys stripped by normalization.
var TransientDataKeys = []string{
	DataKeyDirty,
	DataKeyEpoch,
	DataKeyLabelError,
	DataKeyHasValidationErrors,
	DataKeyHasLabelValidationError,
}

// Node types known to the editor.
const (
	NodeTypeTriggerManual   = "trigger.manual"
	NodeTypeTriggerWebhook  = "trigger.webhook"
	NodeTypeTriggerSchedule = "trigger.schedule"
	NodeTypeCondition       = "condition"
	NodeTypeActionHTTP      = "action.http"
	NodeTypeActionEmail     = "action.email"
	NodeTypeActionDelay     = "action.delay"
	NodeTypeActionFormat    = "action.format"
)

// Outcome labels for edges leaving a condition node.
const (
	OutcomeTrue  = "true"
	OutcomeFalse = "false"
)

// Node is a single element of the workflow graph. Data is an opaque bag:
// the editor reads well-known keys, type-specific parameters pass through.
type Node struct {
	ID       string         `json:"id"`
	Type     string         `json:"type"`
	Position Position       `json:"position"`
	Data     map[string]any `json:"data,omitempty"`
}

// Label returns the authored label, or "" when unset.
func (n Node) Label() string {
	s, _ := n.Data[DataKeyLabel].(string)
	return s
}

// HasValidationErrors reports whether any validation flag is set on the node.
func (n Node) HasValidationErrors() bool {
	if v, _ := n.Data[DataKeyHasValidationErrors].(bool); v {
		return true
	}
	v, _ := n.Data[DataKeyHasLabelValidationError].(bool)
	return v
}

// IsCondition reports whether the node type branches on an outcome.
func (n Node) IsCondition() bool {
	return n.Type == NodeTypeCondition
}

// IsTrigger reports whether the node type is an entry point.
func IsTrigger(nodeType string) bool {
	switch nodeType {
	case NodeTypeTriggerManual, NodeTypeTriggerWebhook, NodeTypeTriggerSchedule:
		return true
	}
	return false
}

// EdgeData carries the typed payload of an edge.
// Outcome is set only on edges leaving a condition node ("true"/"false").
type EdgeData struct {
	EdgeType string  `json:"edgeType"`
	Outcome  *string `json:"outcome,omitempty"`
}

// Edge connects two nodes. After normalization Label and Animated are always
// materialized (Label serializes as explicit null when absent) so that two
// structurally equal edges marshal identically.
type Edge struct {
	ID           string   `json:"id"`
	Source       string   `json:"source"`
	Target       string   `json:"target"`
	SourceHandle string   `json:"sourceHandle,omitempty"`
	TargetHandle string   `json:"targetHandle,omitempty"`
	Type         string   `json:"type"`
	Data         EdgeData `json:"data"`
	Label        *string  `json:"label"`
	Animated     bool     `json:"animated"`
}

// WorkflowGraph is the canonical node/edge set owned by the editor store.
type WorkflowGraph struct {
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
}

// NodeByID returns the node with the given id.
func (g WorkflowGraph) NodeByID(id string) (Node, bool) {
	for _, n := range g.Nodes {
		if n.ID == id {
			return n, true
		}
	}
	return Node{}, false
}
