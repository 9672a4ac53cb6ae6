package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumenlab/flowdeck/internal/expressions"
	"github.com/lumenlab/flowdeck/pkg/schema"
)

func newTestValidator(t *testing.T) *Validator {
	t.Helper()
	celEngine, err := expressions.NewCELEngine()
	require.NoError(t, err)
	v, err := New(expressions.NewExprEngine(), celEngine)
	require.NoError(t, err)
	return v
}

func validGraph() *schema.WorkflowGraph {
	outcome := schema.OutcomeTrue
	return &schema.WorkflowGraph{
		Nodes: []schema.Node{
			{ID: "t1", Type: schema.NodeTypeTriggerManual, Data: map[string]any{"label": "Start"}},
			{ID: "c1", Type: schema.NodeTypeCondition, Data: map[string]any{
				"label":      "Check amount",
				"expression": `trigger.amount > 100`,
			}},
			{ID: "a1", Type: schema.NodeTypeActionHTTP, Data: map[string]any{
				"label":  "Notify",
				"url":    "https://example.com/hook",
				"method": "POST",
			}},
		},
		Edges: []schema.Edge{
			{ID: "e1", Source: "t1", Target: "c1"},
			{ID: "e2", Source: "c1", Target: "a1", Data: schema.EdgeData{Outcome: &outcome}},
		},
	}
}

func TestValidateGraph_Valid(t *testing.T) {
	v := newTestValidator(t)

	result := v.ValidateGraph(validGraph())
	assert.True(t, result.Valid(), "unexpected errors: %v", result.Errors)
	assert.Empty(t, result.Warnings)
}

func TestValidateGraph_NilGraph(t *testing.T) {
	v := newTestValidator(t)

	result := v.ValidateGraph(nil)
	assert.False(t, result.Valid())
}

func TestValidateGraph_DuplicateNodeID(t *testing.T) {
	v := newTestValidator(t)
	g := validGraph()
	g.Nodes = append(g.Nodes, schema.Node{ID: "t1", Type: schema.NodeTypeTriggerManual})

	result := v.ValidateGraph(g)
	require.False(t, result.Valid())
	assert.Equal(t, CodeDuplicateID, result.Errors[0].Code)
}

func TestValidateGraph_DanglingEdge(t *testing.T) {
	v := newTestValidator(t)
	g := validGraph()
	g.Edges = append(g.Edges, schema.Edge{ID: "e3", Source: "a1", Target: "ghost"})

	result := v.ValidateGraph(g)
	require.False(t, result.Valid())

	found := false
	for _, e := range result.Errors {
		if e.Code == CodeDanglingEdge {
			found = true
			assert.Contains(t, e.Message, "ghost")
		}
	}
	assert.True(t, found)
}

func TestValidateGraph_DuplicateOutcomeEdge(t *testing.T) {
	v := newTestValidator(t)
	g := validGraph()
	outcome := schema.OutcomeTrue
	g.Edges = append(g.Edges, schema.Edge{
		ID: "e3", Source: "c1", Target: "t1",
		Data: schema.EdgeData{Outcome: &outcome},
	})

	result := v.ValidateGraph(g)
	require.False(t, result.Valid())

	found := false
	for _, e := range result.Errors {
		if e.Code == CodeDuplicateOutcome {
			found = true
		}
	}
	assert.True(t, found)
}

func TestValidateGraph_MultipleUnconditionalEdges(t *testing.T) {
	v := newTestValidator(t)
	g := validGraph()
	g.Edges = append(g.Edges, schema.Edge{ID: "e3", Source: "t1", Target: "a1"})

	result := v.ValidateGraph(g)
	require.False(t, result.Valid())

	found := false
	for _, e := range result.Errors {
		if e.Code == CodeMultipleOut {
			found = true
			assert.Contains(t, e.Message, "t1")
		}
	}
	assert.True(t, found)
}

func TestValidateGraph_OutcomeEdgesAllowedPerBranch(t *testing.T) {
	v := newTestValidator(t)
	g := validGraph()
	// A second outcome edge is fine as long as the outcome differs.
	outcome := schema.OutcomeFalse
	g.Edges = append(g.Edges, schema.Edge{
		ID: "e3", Source: "c1", Target: "t1",
		Data: schema.EdgeData{Outcome: &outcome},
	})

	result := v.ValidateGraph(g)
	assert.True(t, result.Valid(), "unexpected errors: %v", result.Errors)
}

func TestValidateGraph_NoTriggerWarns(t *testing.T) {
	v := newTestValidator(t)
	g := &schema.WorkflowGraph{
		Nodes: []schema.Node{
			{ID: "a1", Type: schema.NodeTypeActionHTTP, Data: map[string]any{
				"url": "https://example.com", "method": "GET",
			}},
		},
	}

	result := v.ValidateGraph(g)
	assert.True(t, result.Valid())

	require.Len(t, result.Warnings, 1)
	assert.Equal(t, CodeNoTrigger, result.Warnings[0].Code)
}

func TestValidateGraph_UnreachableNodeWarns(t *testing.T) {
	v := newTestValidator(t)
	g := validGraph()
	g.Nodes = append(g.Nodes, schema.Node{
		ID: "orphan", Type: schema.NodeTypeActionFormat,
		Data: map[string]any{"template": "{{.x}}"},
	})

	result := v.ValidateGraph(g)
	assert.True(t, result.Valid())

	found := false
	for _, w := range result.Warnings {
		if w.Code == CodeUnreachable {
			found = true
			assert.Contains(t, w.Message, "orphan")
		}
	}
	assert.True(t, found)
}

func TestValidateGraph_UnknownNodeType(t *testing.T) {
	v := newTestValidator(t)
	g := validGraph()
	g.Nodes[2].Type = "action.teleport"

	result := v.ValidateGraph(g)
	require.False(t, result.Valid())
	assert.Equal(t, CodeUnknownNodeType, result.Errors[0].Code)
}

func TestValidateGraph_SchemaViolations(t *testing.T) {
	tests := []struct {
		name string
		node schema.Node
	}{
		{
			name: "http missing url",
			node: schema.Node{ID: "n", Type: schema.NodeTypeActionHTTP,
				Data: map[string]any{"method": "GET"}},
		},
		{
			name: "http bad method",
			node: schema.Node{ID: "n", Type: schema.NodeTypeActionHTTP,
				Data: map[string]any{"url": "https://example.com", "method": "YEET"}},
		},
		{
			name: "http non-http url",
			node: schema.Node{ID: "n", Type: schema.NodeTypeActionHTTP,
				Data: map[string]any{"url": "ftp://example.com", "method": "GET"}},
		},
		{
			name: "email missing subject",
			node: schema.Node{ID: "n", Type: schema.NodeTypeActionEmail,
				Data: map[string]any{"to": "ops@example.com"}},
		},
		{
			name: "email malformed address",
			node: schema.Node{ID: "n", Type: schema.NodeTypeActionEmail,
				Data: map[string]any{"to": "not-an-email", "subject": "hi"}},
		},
		{
			name: "schedule missing cron",
			node: schema.Node{ID: "n", Type: schema.NodeTypeTriggerSchedule,
				Data: map[string]any{}},
		},
		{
			name: "condition missing expression",
			node: schema.Node{ID: "n", Type: schema.NodeTypeCondition,
				Data: map[string]any{"language": "expr"}},
		},
		{
			name: "format missing template",
			node: schema.Node{ID: "n", Type: schema.NodeTypeActionFormat,
				Data: map[string]any{}},
		},
	}

	v := newTestValidator(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := &schema.WorkflowGraph{Nodes: []schema.Node{tt.node}}
			result := v.ValidateGraph(g)
			require.False(t, result.Valid())

			found := false
			for _, e := range result.Errors {
				if e.Code == CodeInvalidParams {
					found = true
				}
			}
			assert.True(t, found, "expected INVALID_PARAMS, got %v", result.Errors)
		})
	}
}

func TestValidateGraph_CronExpressions(t *testing.T) {
	tests := []struct {
		name  string
		cron  string
		valid bool
	}{
		{"every five minutes", "*/5 * * * *", true},
		{"daily descriptor", "@daily", true},
		{"every interval", "@every 1h30m", true},
		{"too few fields", "* * *", false},
		{"garbage", "once in a while", false},
	}

	v := newTestValidator(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := &schema.WorkflowGraph{
				Nodes: []schema.Node{
					{ID: "s1", Type: schema.NodeTypeTriggerSchedule,
						Data: map[string]any{"cron": tt.cron}},
				},
			}
			result := v.ValidateGraph(g)
			if tt.valid {
				assert.True(t, result.Valid(), "unexpected errors: %v", result.Errors)
			} else {
				require.False(t, result.Valid())
				assert.Equal(t, CodeInvalidCron, result.Errors[0].Code)
			}
		})
	}
}

func TestValidateGraph_ConditionExpressionSyntax(t *testing.T) {
	v := newTestValidator(t)

	g := &schema.WorkflowGraph{
		Nodes: []schema.Node{
			{ID: "t1", Type: schema.NodeTypeTriggerManual},
			{ID: "c1", Type: schema.NodeTypeCondition, Data: map[string]any{
				"expression": `trigger.amount >`,
			}},
		},
		Edges: []schema.Edge{{ID: "e1", Source: "t1", Target: "c1"}},
	}

	result := v.ValidateGraph(g)
	require.False(t, result.Valid())
	assert.Equal(t, CodeInvalidExpression, result.Errors[0].Code)
	assert.Equal(t, "nodes[1].data.expression", result.Errors[0].Path)
}

func TestValidateGraph_ConditionCELDialect(t *testing.T) {
	v := newTestValidator(t)

	g := &schema.WorkflowGraph{
		Nodes: []schema.Node{
			{ID: "t1", Type: schema.NodeTypeTriggerManual},
			{ID: "c1", Type: schema.NodeTypeCondition, Data: map[string]any{
				"expression": `trigger.amount > 100.0`,
				"language":   "cel",
			}},
		},
		Edges: []schema.Edge{{ID: "e1", Source: "t1", Target: "c1"}},
	}

	result := v.ValidateGraph(g)
	assert.True(t, result.Valid(), "unexpected errors: %v", result.Errors)
}

func TestValidateGraph_DelayDuration(t *testing.T) {
	tests := []struct {
		name     string
		duration string
		valid    bool
	}{
		{"seconds", "30s", true},
		{"compound", "1h30m", false}, // schema pattern requires a single unit
		{"minutes", "5m", true},
		{"zero", "0s", false},
	}

	v := newTestValidator(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := &schema.WorkflowGraph{
				Nodes: []schema.Node{
					{ID: "d1", Type: schema.NodeTypeActionDelay,
						Data: map[string]any{"duration": tt.duration}},
				},
			}
			result := v.ValidateGraph(g)
			assert.Equal(t, tt.valid, result.Valid(), "errors: %v", result.Errors)
		})
	}
}
