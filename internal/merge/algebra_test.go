package merge

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitaliisemenov/mhconf/internal/element"
	"github.com/vitaliisemenov/mhconf/internal/intern"
)

func TestOverrideWith_ScalarReplacesScalar(t *testing.T) {
	pool := intern.NewPool()
	a := element.Str(pool, "base")
	b := element.Str(pool, "override")
	got := OverrideWith(a, b, nil)
	s, ok := got.AsStr()
	require.True(t, ok)
	assert.Equal(t, "override", s)
}

func TestOverrideWith_MapsDeepMerge(t *testing.T) {
	pool := intern.NewPool()
	a := element.NewMap()
	a = a.SetMapEntry(pool.Intern([]byte("host")), element.Str(pool, "a"))
	a = a.SetMapEntry(pool.Intern([]byte("port")), element.Int64(5432))

	b := element.NewMap()
	b = b.SetMapEntry(pool.Intern([]byte("host")), element.Str(pool, "b"))

	merged := OverrideWith(a, b, nil)
	entries, ok := merged.AsMap()
	require.True(t, ok)
	host, _ := entries[pool.Intern([]byte("host"))].AsStr()
	assert.Equal(t, "b", host)
	port, _ := entries[pool.Intern([]byte("port"))].AsInt64()
	assert.Equal(t, int64(5432), port)
}

func TestOverrideWith_DeleteRemovesKey(t *testing.T) {
	pool := intern.NewPool()
	a := element.NewMap()
	a = a.SetMapEntry(pool.Intern([]byte("port")), element.Int64(5432))

	b := element.NewMap()
	b = b.SetMapEntry(pool.Intern([]byte("port")), element.None.WithTag(element.TagDelete, nil))

	merged := OverrideWith(a, b, nil)
	entries, ok := merged.AsMap()
	require.True(t, ok)
	_, present := entries[pool.Intern([]byte("port"))]
	assert.False(t, present)
}

func TestOverrideWith_SequencesConcatenate(t *testing.T) {
	pool := intern.NewPool()
	a := element.NewSequence().AppendSequence([]element.Element{element.Str(pool, "x")})
	b := element.NewSequence().AppendSequence([]element.Element{element.Str(pool, "y")})
	merged := OverrideWith(a, b, nil)
	items, ok := merged.AsSequence()
	require.True(t, ok)
	require.Len(t, items, 2)
	v0, _ := items[0].AsStr()
	v1, _ := items[1].AsStr()
	assert.Equal(t, "x", v0)
	assert.Equal(t, "y", v1)
}

func TestOverrideWith_OverrideTagReplacesWholesale(t *testing.T) {
	pool := intern.NewPool()
	a := element.NewMap().SetMapEntry(pool.Intern([]byte("host")), element.Str(pool, "a"))
	b := element.NewMap().SetMapEntry(pool.Intern([]byte("new")), element.Str(pool, "only")).WithTag(element.TagOverride, nil)

	merged := OverrideWith(a, b, nil)
	assert.Equal(t, element.TagNone, merged.Tag())
	entries, ok := merged.AsMap()
	require.True(t, ok)
	_, hadHost := entries[pool.Intern([]byte("host"))]
	assert.False(t, hadHost)
}

func TestFold_AppliesInOrder(t *testing.T) {
	pool := intern.NewPool()
	base := element.Str(pool, "base")
	mid := element.Str(pool, "mid")
	top := element.Str(pool, "top")
	got := Fold([]element.Element{base, mid, top}, nil)
	s, _ := got.AsStr()
	assert.Equal(t, "top", s)
}

func TestOverrideWith_TypeMismatchWithoutOverrideKeepsBaseAndWarns(t *testing.T) {
	pool := intern.NewPool()
	a := element.NewMap().SetMapEntry(pool.Intern([]byte("host")), element.Str(pool, "a"))
	b := element.Str(pool, "not-a-map")

	var warnings []string
	got := OverrideWith(a, b, &warnings)

	entries, ok := got.AsMap()
	require.True(t, ok)
	host, _ := entries[pool.Intern([]byte("host"))].AsStr()
	assert.Equal(t, "a", host)
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0], "type mismatch")
}
