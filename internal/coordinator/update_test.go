package coordinator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitaliisemenov/mhconf/internal/intern"
	"github.com/vitaliisemenov/mhconf/internal/nsconfig"
)

func TestCoordinator_ApplyUpdateReloadPicksUpNewFile(t *testing.T) {
	c, fs := newTestCoordinator(t, "/ns1")
	writeFile(t, fs, "/ns1/app.yaml", "a: 1\n")
	require.NoError(t, c.Bootstrap())

	writeFile(t, fs, "/ns1/app.yaml", "a: 2\n")
	v, err := c.ApplyUpdate(true, nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), v)

	res, err := c.Resolve("app", nsconfig.NewLabels(nil), "")
	require.NoError(t, err)
	m, _ := res.Value.AsMap()
	val, ok := m[internString(t, c, "a")]
	require.True(t, ok)
	n, _ := val.AsInt64()
	assert.Equal(t, int64(2), n)
}

func TestCoordinator_ApplyUpdateNoChangeIsNoOp(t *testing.T) {
	c, fs := newTestCoordinator(t, "/ns1")
	writeFile(t, fs, "/ns1/app.yaml", "a: 1\n")
	require.NoError(t, c.Bootstrap())

	v, err := c.ApplyUpdate(true, nil)
	require.NoError(t, err)
	assert.Equal(t, c.NS.CurrentVersion(), v)
	assert.Equal(t, uint64(1), v)
}

func TestCoordinator_ApplyUpdateReloadTombstonesRemovedFile(t *testing.T) {
	c, fs := newTestCoordinator(t, "/ns1")
	writeFile(t, fs, "/ns1/app.yaml", "a: 1\n")
	require.NoError(t, c.Bootstrap())

	require.NoError(t, fs.Remove("/ns1/app.yaml"))
	_, err := c.ApplyUpdate(true, nil)
	require.NoError(t, err)

	doc, ok := c.NS.Document("app")
	require.True(t, ok)
	oe, ok := doc.LookupOverrideEntry("app.yaml", "")
	require.True(t, ok)
	latest := oe.Latest()
	assert.Nil(t, latest)
}

func TestCoordinator_ApplyUpdatePathsOnlyIndexesListed(t *testing.T) {
	c, fs := newTestCoordinator(t, "/ns1")
	writeFile(t, fs, "/ns1/app.yaml", "a: 1\n")
	writeFile(t, fs, "/ns1/other.yaml", "b: 1\n")
	require.NoError(t, c.Bootstrap())

	writeFile(t, fs, "/ns1/app.yaml", "a: 9\n")
	v, err := c.ApplyUpdate(false, []string{"app.yaml"})
	require.NoError(t, err)
	assert.Equal(t, uint64(2), v)

	doc, _ := c.NS.Document("other")
	oe, _ := doc.LookupOverrideEntry("other.yaml", "")
	assert.Len(t, oeHistory(oe), 1)
}

func TestCoordinator_ApplyUpdateInvalidatesReferencingDocumentOnRefTargetChange(t *testing.T) {
	c, fs := newTestCoordinator(t, "/ns1")
	writeFile(t, fs, "/ns1/base.yaml", "v: 1\n")
	writeFile(t, fs, "/ns1/app.yaml", "x: !ref [base, v]\n")
	require.NoError(t, c.Bootstrap())

	_, err := c.Resolve("app", nsconfig.NewLabels(nil), "")
	require.NoError(t, err)

	writeFile(t, fs, "/ns1/base.yaml", "v: 2\n")
	_, err = c.ApplyUpdate(true, nil)
	require.NoError(t, err)

	res, err := c.Resolve("app", nsconfig.NewLabels(nil), "")
	require.NoError(t, err)
	m, _ := res.Value.AsMap()
	val, ok := m[internString(t, c, "x")]
	require.True(t, ok)
	n, _ := val.AsInt64()
	assert.Equal(t, int64(2), n)
}

func internString(t *testing.T, c *Coordinator, s string) intern.String {
	t.Helper()
	return c.NS.Pool.Intern([]byte(s))
}

func oeHistory(oe *nsconfig.OverrideEntry) []*nsconfig.RawConfig {
	var out []*nsconfig.RawConfig
	if latest := oe.Latest(); latest != nil {
		out = append(out, latest)
	}
	return out
}
