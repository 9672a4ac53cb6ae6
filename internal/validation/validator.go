// Package validation checks workflow graphs before save: structural
// integrity, per-node-type parameter schemas (JSON Schema Draft 2020-12),
// schedule cron expressions, and condition expression syntax.
package validation

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/lumenlab/flowdeck/internal/expressions"
	"github.com/lumenlab/flowdeck/pkg/schema"
)

// Issue codes reported by the validator.
const (
	CodeInvalidParams     = "INVALID_PARAMS"
	CodeDuplicateID       = "DUPLICATE_ID"
	CodeDanglingEdge      = "DANGLING_EDGE"
	CodeDuplicateOutcome  = "DUPLICATE_OUTCOME_EDGE"
	CodeMultipleOut       = "MULTIPLE_UNCONDITIONAL_EDGES"
	CodeNoTrigger         = "NO_TRIGGER"
	CodeUnreachable       = "UNREACHABLE_NODE"
	CodeInvalidCron       = "INVALID_CRON"
	CodeInvalidExpression = "INVALID_EXPRESSION"
	CodeInvalidDuration   = "INVALID_DURATION"
	CodeUnknownNodeType   = "UNKNOWN_NODE_TYPE"
)

// cronParser accepts standard 5-field cron specs plus descriptors
// like @daily and @every.
var cronParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Validator checks workflow graphs for correctness. Safe for concurrent use.
type Validator struct {
	schemas *schemaRegistry
	engines map[string]expressions.Engine
}

// New creates a Validator with compiled node-parameter schemas and the
// given expression engines keyed by dialect name ("expr", "cel").
func New(engines ...expressions.Engine) (*Validator, error) {
	reg, err := newSchemaRegistry()
	if err != nil {
		return nil, fmt.Errorf("compile node schemas: %w", err)
	}

	byName := make(map[string]expressions.Engine, len(engines))
	for _, e := range engines {
		byName[e.Name()] = e
	}

	return &Validator{schemas: reg, engines: byName}, nil
}

// ValidateGraph runs all checks over the graph and aggregates the issues.
// Structural errors do not short-circuit node-level checks; the caller gets
// everything wrong with the graph in one pass.
func (v *Validator) ValidateGraph(g *schema.WorkflowGraph) *schema.ValidationResult {
	result := &schema.ValidationResult{}
	if g == nil {
		result.AddError("", schema.ErrCodeValidation, "graph is nil")
		return result
	}

	result.Merge(validateStructure(g))

	for i := range g.Nodes {
		v.validateNode(&g.Nodes[i], fmt.Sprintf("nodes[%d]", i), result)
	}

	return result
}

// validateNode runs the per-node checks: parameter schema, then
// type-specific semantic checks.
func (v *Validator) validateNode(node *schema.Node, path string, result *schema.ValidationResult) {
	if !v.schemas.Known(node.Type) {
		result.AddError(path+".type", CodeUnknownNodeType,
			fmt.Sprintf("unknown node type %q", node.Type))
		return
	}

	v.schemas.Validate(node, path, result)

	switch node.Type {
	case schema.NodeTypeTriggerSchedule:
		v.checkCron(node, path, result)
	case schema.NodeTypeCondition:
		v.checkExpression(node, path, result)
	case schema.NodeTypeActionDelay:
		v.checkDuration(node, path, result)
	}
}

// checkCron validates the cron field of a schedule trigger.
func (v *Validator) checkCron(node *schema.Node, path string, result *schema.ValidationResult) {
	spec, _ := node.Data["cron"].(string)
	if spec == "" {
		return // schema already flags the missing field
	}

	if _, err := cronParser.Parse(spec); err != nil {
		result.AddError(path+".data.cron", CodeInvalidCron,
			fmt.Sprintf("invalid cron expression %q: %s", spec, err.Error()))
	}
}

// checkExpression syntax-checks a condition node's expression in its
// declared dialect. Unknown dialects are an error; an unconfigured engine
// for a known dialect is skipped (the backend still checks on save).
func (v *Validator) checkExpression(node *schema.Node, path string, result *schema.ValidationResult) {
	expression, _ := node.Data["expression"].(string)
	if expression == "" {
		return
	}

	language, _ := node.Data["language"].(string)
	if language == "" {
		language = "expr"
	}

	engine, ok := v.engines[language]
	if !ok {
		return
	}

	if err := engine.Check(expression); err != nil {
		msg := err.Error()
		var ferr *schema.FlowdeckError
		if errors.As(err, &ferr) {
			msg = ferr.Message
		}
		result.AddError(path+".data.expression", CodeInvalidExpression, msg)
	}
}

// checkDuration validates the duration field of a delay action.
// Accepts Go duration strings ("30s", "5m") and requires a positive value.
func (v *Validator) checkDuration(node *schema.Node, path string, result *schema.ValidationResult) {
	raw, _ := node.Data["duration"].(string)
	if raw == "" {
		return
	}

	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		result.AddError(path+".data.duration", CodeInvalidDuration,
			fmt.Sprintf("invalid duration %q: %s", raw, err.Error()))
		return
	}
	if d <= 0 {
		result.AddError(path+".data.duration", CodeInvalidDuration,
			fmt.Sprintf("duration must be positive, got %q", raw))
	}
}
