// Package expressions hosts the pluggable expression engines the editor
// uses client-side: syntax-checking a condition node before save, and
// extracting fields from node-run outputs for the overlay detail panel.
// Nothing here executes a workflow; evaluation exists for local previews
// against sample data.
package expressions

import "context"

// Engine checks and evaluates expressions.
// Three implementations: Expr (condition logic), CEL (condition logic,
// alternate dialect), GoJQ (output extraction paths).
type Engine interface {
	Name() string
	// Check compiles the expression without evaluating it. A nil return
	// means the expression is syntactically valid for this engine.
	Check(expression string) error
	Evaluate(ctx context.Context, expression string, data map[string]any) (any, error)
}
