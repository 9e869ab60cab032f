package merge

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitaliisemenov/mhconf/internal/element"
	"github.com/vitaliisemenov/mhconf/internal/intern"
)

func TestExpander_SRefWalksSelfDocument(t *testing.T) {
	pool := intern.NewPool()
	root := element.NewMap()
	root = root.SetMapEntry(pool.Intern([]byte("host")), element.Str(pool, "db.internal"))
	root = root.SetMapEntry(pool.Intern([]byte("alias")),
		element.None.WithTag(element.TagSRef, []element.Element{element.Str(pool, "host")}))

	x := &Expander{Pool: pool, Document: "self", SelfRoot: root, Resolve: func(string) (element.Element, bool) { return element.Undefined, false }}
	got, err := x.Expand(root)
	require.NoError(t, err)

	entries, ok := got.AsMap()
	require.True(t, ok)
	alias, _ := entries[pool.Intern([]byte("alias"))].AsStr()
	assert.Equal(t, "db.internal", alias)
}

func TestExpander_RefWalksOtherDocument(t *testing.T) {
	pool := intern.NewPool()
	other := element.NewMap().SetMapEntry(pool.Intern([]byte("port")), element.Int64(5432))

	node := element.None.WithTag(element.TagRef, []element.Element{element.Str(pool, "shared"), element.Str(pool, "port")})

	x := &Expander{
		Pool:     pool,
		Document: "app",
		SelfRoot: node,
		Resolve: func(target string) (element.Element, bool) {
			if target == "shared" {
				return other, true
			}
			return element.Undefined, false
		},
	}
	got, err := x.Expand(node)
	require.NoError(t, err)
	port, ok := got.AsInt64()
	require.True(t, ok)
	assert.Equal(t, int64(5432), port)
}

func TestExpander_FormatConcatenatesScalars(t *testing.T) {
	pool := intern.NewPool()
	node := element.None.WithTag(element.TagFormat, []element.Element{
		element.Str(pool, "host-"),
		element.Int64(7),
	})
	x := &Expander{Pool: pool, Document: "app", SelfRoot: node, Resolve: func(string) (element.Element, bool) { return element.Undefined, false }}
	got, err := x.Expand(node)
	require.NoError(t, err)
	s, ok := got.AsStr()
	require.True(t, ok)
	assert.Equal(t, "host-7", s)
}

func TestExpander_DanglingRefWarnsAndDropsValue(t *testing.T) {
	pool := intern.NewPool()
	node := element.None.WithTag(element.TagRef, []element.Element{element.Str(pool, "missing"), element.Str(pool, "x")})
	var warnings []string
	x := &Expander{Pool: pool, Document: "app", SelfRoot: node, Resolve: func(string) (element.Element, bool) { return element.Undefined, false }, Warnings: &warnings}
	got, err := x.Expand(node)
	require.NoError(t, err)
	assert.True(t, got.IsUndefined())
	assert.NotEmpty(t, warnings)
}

func TestExpander_DepthLimitCaught(t *testing.T) {
	pool := intern.NewPool()
	x := &Expander{Pool: pool, Document: "app", Resolve: func(string) (element.Element, bool) { return element.Undefined, false }}
	_, err := x.expand(element.None.WithTag(element.TagSRef, []element.Element{element.Str(pool, "x")}), MaxExpansionDepth+1)
	require.Error(t, err)
	var depthErr *ErrExpansionTooDeep
	require.ErrorAs(t, err, &depthErr)
}
