package merge

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitaliisemenov/mhconf/internal/element"
	"github.com/vitaliisemenov/mhconf/internal/intern"
)

func TestCollectReferences_FindsRefTargetDocument(t *testing.T) {
	pool := intern.NewPool()
	v := element.NewMap().SetMapEntry(
		pool.Intern([]byte("db")),
		element.None.WithTag(element.TagRef, []element.Element{element.Str(pool, "shared"), element.Str(pool, "host")}),
	)
	refs := CollectReferences(v)
	_, ok := refs["shared"]
	assert.True(t, ok)
}

func TestCollectReferences_IgnoresSRef(t *testing.T) {
	pool := intern.NewPool()
	v := element.None.WithTag(element.TagSRef, []element.Element{element.Str(pool, "host")})
	refs := CollectReferences(v)
	assert.Empty(t, refs)
}

func TestGraph_CheckDAG_AcceptsAcyclic(t *testing.T) {
	g := NewGraph()
	g.AddEdges("a", map[string]struct{}{"b": {}})
	g.AddEdges("b", map[string]struct{}{"c": {}})
	require.NoError(t, g.CheckDAG())
}

func TestGraph_CheckDAG_RejectsCycle(t *testing.T) {
	g := NewGraph()
	g.AddEdges("a", map[string]struct{}{"b": {}})
	g.AddEdges("b", map[string]struct{}{"a": {}})
	err := g.CheckDAG()
	require.Error(t, err)
	var cycleErr *CycleError
	require.ErrorAs(t, err, &cycleErr)
}

func TestGraph_TopoOrder_DependenciesBeforeDependents(t *testing.T) {
	g := NewGraph()
	g.AddEdges("a", map[string]struct{}{"b": {}})
	g.AddEdges("b", map[string]struct{}{"c": {}})
	order := g.TopoOrder()

	pos := make(map[string]int, len(order))
	for i, n := range order {
		pos[n] = i
	}
	assert.Less(t, pos["c"], pos["b"])
	assert.Less(t, pos["b"], pos["a"])
}
