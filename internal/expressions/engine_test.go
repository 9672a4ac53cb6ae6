package expressions

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumenlab/flowdeck/pkg/schema"
)

func TestExprEngine_Name(t *testing.T) {
	assert.Equal(t, "expr", NewExprEngine().Name())
}

func TestExprEngine_Check(t *testing.T) {
	e := NewExprEngine()

	assert.NoError(t, e.Check(`trigger.amount > 100`))
	assert.NoError(t, e.Check(`nodes["fetch"].status == "ok" && trigger.retries < 3`))

	err := e.Check(`trigger.amount >`)
	require.Error(t, err)
	var ferr *schema.FlowdeckError
	require.ErrorAs(t, err, &ferr)
	assert.Equal(t, schema.ErrCodeValidation, ferr.Code)

	err = e.Check("")
	require.Error(t, err)
}

func TestExprEngine_Evaluate(t *testing.T) {
	e := NewExprEngine()
	ctx := context.Background()

	data := map[string]any{
		"trigger": map[string]any{"amount": 250, "region": "eu"},
		"nodes": map[string]any{
			"fetch": map[string]any{"status": "ok"},
		},
	}

	out, err := e.Evaluate(ctx, `trigger.amount > 100 && trigger.region == "eu"`, data)
	require.NoError(t, err)
	assert.Equal(t, true, out)

	out, err = e.Evaluate(ctx, `nodes.fetch.status`, data)
	require.NoError(t, err)
	assert.Equal(t, "ok", out)

	// Undefined variables resolve to nil rather than failing compile.
	out, err = e.Evaluate(ctx, `missing ?? "fallback"`, data)
	require.NoError(t, err)
	assert.Equal(t, "fallback", out)
}

func TestExprEngine_CacheReuse(t *testing.T) {
	e := NewExprEngine()
	ctx := context.Background()

	const expression = `trigger.x + 1`
	_, err := e.Evaluate(ctx, expression, map[string]any{"trigger": map[string]any{"x": 1}})
	require.NoError(t, err)

	e.mu.RLock()
	_, cached := e.cache[expression]
	e.mu.RUnlock()
	assert.True(t, cached)
}

func TestCELEngine_Check(t *testing.T) {
	e, err := NewCELEngine()
	require.NoError(t, err)

	assert.NoError(t, e.Check(`trigger.amount > 100.0`))

	err = e.Check(`trigger.amount >`)
	require.Error(t, err)
	var ferr *schema.FlowdeckError
	require.ErrorAs(t, err, &ferr)
	assert.Equal(t, schema.ErrCodeValidation, ferr.Code)

	// Variables outside the declared environment are a compile error in CEL.
	assert.Error(t, e.Check(`unknown_var == 1`))
}

func TestCELEngine_Evaluate(t *testing.T) {
	e, err := NewCELEngine()
	require.NoError(t, err)
	ctx := context.Background()

	data := map[string]any{
		"trigger": map[string]any{"amount": 250.0},
	}

	out, err := e.Evaluate(ctx, `trigger.amount > 100.0`, data)
	require.NoError(t, err)
	assert.Equal(t, true, out)

	// Missing environment keys default to empty maps.
	out, err = e.Evaluate(ctx, `"name" in workflow`, data)
	require.NoError(t, err)
	assert.Equal(t, false, out)
}

func TestGoJQEngine_Check(t *testing.T) {
	e := NewGoJQEngine()

	assert.NoError(t, e.Check(`.response.body.id`))
	assert.NoError(t, e.Check(`.items | length`))

	err := e.Check(`.[unterminated`)
	require.Error(t, err)
	var ferr *schema.FlowdeckError
	require.ErrorAs(t, err, &ferr)
	assert.Equal(t, schema.ErrCodeValidation, ferr.Code)
}

func TestGoJQEngine_Evaluate(t *testing.T) {
	e := NewGoJQEngine()
	ctx := context.Background()

	data := map[string]any{
		"response": map[string]any{
			"body": map[string]any{"id": "abc-123", "count": 7},
		},
		"items": []any{"a", "b", "c"},
	}

	out, err := e.Evaluate(ctx, `.response.body.id`, data)
	require.NoError(t, err)
	assert.Equal(t, "abc-123", out)

	// Integers are normalized to float64 like jq does.
	out, err = e.Evaluate(ctx, `.response.body.count`, data)
	require.NoError(t, err)
	assert.Equal(t, 7.0, out)

	// Multiple outputs collect into a slice.
	out, err = e.Evaluate(ctx, `.items[]`, data)
	require.NoError(t, err)
	assert.Equal(t, []any{"a", "b", "c"}, out)

	// Missing path yields null, not an error.
	out, err = e.Evaluate(ctx, `.no.such.path`, data)
	require.NoError(t, err)
	assert.Nil(t, out)
}

func TestGoJQEngine_EnvBlocked(t *testing.T) {
	e := NewGoJQEngine()

	out, err := e.Evaluate(context.Background(), `env.HOME`, map[string]any{})
	require.NoError(t, err)
	assert.Nil(t, out)
}

func TestEngines_ImplementInterface(t *testing.T) {
	celEngine, err := NewCELEngine()
	require.NoError(t, err)

	engines := []Engine{NewExprEngine(), celEngine, NewGoJQEngine()}
	names := make(map[string]bool)
	for _, e := range engines {
		names[e.Name()] = true
	}
	assert.Len(t, names, 3)
}
