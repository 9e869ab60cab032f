package yamlvalue

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/vitaliisemenov/mhconf/internal/element"
	"github.com/vitaliisemenov/mhconf/internal/intern"
)

func decode(t *testing.T, src string) element.Element {
	t.Helper()
	var doc yaml.Node
	require.NoError(t, yaml.Unmarshal([]byte(src), &doc))
	d := NewDecoder(intern.NewPool(), 1, 1)
	el, err := d.DecodeDocument(&doc)
	require.NoError(t, err)
	return el
}

func TestDecoder_ScalarKinds(t *testing.T) {
	el := decode(t, "host: a\nport: 5432\nratio: 0.5\nenabled: true\n")
	m, ok := el.AsMap()
	require.True(t, ok)

	var pool = intern.NewPool()
	host, ok := m[pool.Intern([]byte("host"))].AsStr()
	require.True(t, ok)
	assert.Equal(t, "a", host)

	port, ok := m[pool.Intern([]byte("port"))].AsInt64()
	require.True(t, ok)
	assert.Equal(t, int64(5432), port)

	enabled, ok := m[pool.Intern([]byte("enabled"))].AsBool()
	require.True(t, ok)
	assert.True(t, enabled)
}

func TestDecoder_DeleteTag(t *testing.T) {
	el := decode(t, "port: !delete ~\n")
	m, ok := el.AsMap()
	require.True(t, ok)
	var pool = intern.NewPool()
	v := m[pool.Intern([]byte("port"))]
	assert.Equal(t, element.TagDelete, v.Tag())
}

func TestDecoder_OverrideTagOnMapping(t *testing.T) {
	el := decode(t, "!override\nhost: b\n")
	assert.Equal(t, element.TagOverride, el.Tag())
	assert.True(t, el.IsMap())
}

func TestDecoder_RefTagOnSequence(t *testing.T) {
	el := decode(t, "!ref [a, value]\n")
	assert.Equal(t, element.TagRef, el.Tag())
	require.Len(t, el.TagArgs(), 2)
	v, ok := el.TagArgs()[0].AsStr()
	require.True(t, ok)
	assert.Equal(t, "a", v)
}

func TestDecoder_BinaryTag(t *testing.T) {
	el := decode(t, "blob: !!binary aGVsbG8=\n")
	m, ok := el.AsMap()
	require.True(t, ok)
	var pool = intern.NewPool()
	data, ok := m[pool.Intern([]byte("blob"))].AsBin()
	require.True(t, ok)
	assert.Equal(t, "hello", string(data))
}

func TestDecoder_SequenceOfScalars(t *testing.T) {
	el := decode(t, "- a\n- b\n- c\n")
	items, ok := el.AsSequence()
	require.True(t, ok)
	require.Len(t, items, 3)
	v, _ := items[1].AsStr()
	assert.Equal(t, "b", v)
}
