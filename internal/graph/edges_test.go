package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/lumenlab/flowdeck/pkg/schema"
)

func TestEdgesWithoutNode(t *testing.T) {
	g := fixtureGraph()
	remaining := EdgesWithoutNode(g.Edges, "n2")
	assert.Empty(t, remaining, "both edges touch n2")

	remaining = EdgesWithoutNode(g.Edges, "n3")
	assert.Len(t, remaining, 1)
	assert.Equal(t, "e1", remaining[0].ID)
}

func TestHasOutcomeEdge(t *testing.T) {
	g := fixtureGraph()
	assert.True(t, HasOutcomeEdge(g.Edges, "n2", schema.OutcomeTrue))
	assert.False(t, HasOutcomeEdge(g.Edges, "n2", schema.OutcomeFalse))
	assert.False(t, HasOutcomeEdge(g.Edges, "n1", schema.OutcomeTrue))
}

func TestHasUnconditionalEdge(t *testing.T) {
	g := fixtureGraph()
	assert.True(t, HasUnconditionalEdge(g.Edges, "n1"))
	assert.False(t, HasUnconditionalEdge(g.Edges, "n2"), "n2 only has an outcome edge")
}
