package coordinator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitaliisemenov/mhconf/internal/nsconfig"
)

func TestCoordinator_RunGCDeadPointersExpiresCancelledWatcher(t *testing.T) {
	c, fs := newTestCoordinator(t, "/ns1")
	writeFile(t, fs, "/ns1/app.yaml", "a: 1\n")
	require.NoError(t, c.Bootstrap())

	ctx, cancel := context.WithCancel(context.Background())
	w := &nsconfig.Watcher{UID: "w1", Document: "app", Labels: nsconfig.NewLabels(nil), Sink: &memSink{}}
	require.NoError(t, c.RegisterWatcher(ctx, w, ""))

	doc, ok := c.NS.Document("app")
	require.True(t, ok)
	assert.Len(t, doc.Watchers(), 1)

	cancel()
	evicted := c.RunGC(PassDeadPointers, 0)
	assert.Equal(t, 1, evicted)
	assert.Len(t, doc.Watchers(), 0)

	err := c.UnregisterWatcher("app", "w1")
	assert.Error(t, err) // already expired
}

func TestCoordinator_RunGCDeadPointersPrunesTombstonedOverride(t *testing.T) {
	// IsDead only trips once every recorded version is itself a
	// tombstone, so build the override entry directly rather than via
	// ApplyUpdate (which would leave the original content version in
	// history until a VERSIONS pass trims it).
	c, _ := newTestCoordinator(t, "/ns1")
	doc := c.NS.DocumentOrCreate("app")
	oe := doc.OverrideEntry("app.yaml", "", nsconfig.NewLabels(nil), 0)
	oe.AppendVersion(1, nil)
	require.True(t, oe.IsDead())

	evicted := c.RunGC(PassDeadPointers, 0)
	assert.Equal(t, 1, evicted)
	assert.Len(t, doc.OverrideEntries(), 0)
}

func TestCoordinator_RunGCDeadPointersKeepsWatchedTombstone(t *testing.T) {
	c, _ := newTestCoordinator(t, "/ns1")
	doc := c.NS.DocumentOrCreate("app")
	oe := doc.OverrideEntry("app.yaml", "", nsconfig.NewLabels(nil), 0)
	oe.AppendVersion(1, nil)

	w := &nsconfig.Watcher{UID: "w1", Document: "app", Labels: nsconfig.NewLabels(nil), Sink: &memSink{}}
	oe.AddWatcher(w)
	require.False(t, oe.IsDead())

	evicted := c.RunGC(PassDeadPointers, 0)
	assert.Equal(t, 0, evicted)
	assert.Len(t, doc.OverrideEntries(), 1)
}

func TestCoordinator_NamespaceGCEligibleRespectsWatchersAndIdle(t *testing.T) {
	c, fs := newTestCoordinator(t, "/ns1")
	writeFile(t, fs, "/ns1/app.yaml", "a: 1\n")
	require.NoError(t, c.Bootstrap())

	assert.False(t, c.NamespaceGCEligible(time.Hour), "freshly touched namespace should not be idle yet")

	w := &nsconfig.Watcher{UID: "w1", Document: "app", Labels: nsconfig.NewLabels(nil), Sink: &memSink{}}
	require.NoError(t, c.RegisterWatcher(context.Background(), w, ""))
	assert.False(t, c.NamespaceGCEligible(-time.Hour), "a watched namespace is never GC eligible")

	require.NoError(t, c.UnregisterWatcher("app", "w1"))
	assert.True(t, c.NamespaceGCEligible(-time.Hour), "idle past the threshold with no watchers should be eligible")
}

func TestCoordinator_RunGCVersionsTrimsDeprecatedTail(t *testing.T) {
	c, fs := newTestCoordinator(t, "/ns1")
	writeFile(t, fs, "/ns1/app.yaml", "a: 1\n")
	require.NoError(t, c.Bootstrap())

	writeFile(t, fs, "/ns1/app.yaml", "a: 2\n")
	_, err := c.ApplyUpdate(true, nil)
	require.NoError(t, err)

	before := len(c.NS.StoredVersions())
	evicted := c.RunGC(PassVersions, -time.Hour)
	assert.GreaterOrEqual(t, evicted, 0)
	assert.LessOrEqual(t, len(c.NS.StoredVersions()), before)
}

func TestCoordinator_RunGCMergeCachePassesDoNotPanic(t *testing.T) {
	c, fs := newTestCoordinator(t, "/ns1")
	writeFile(t, fs, "/ns1/app.yaml", "a: 1\n")
	require.NoError(t, c.Bootstrap())

	_, err := c.Resolve("app", nsconfig.NewLabels(nil), "")
	require.NoError(t, err)

	for _, pass := range []GCPass{PassMCGen0, PassMCGen1, PassMCGen2} {
		assert.NotPanics(t, func() { c.RunGC(pass, 0) })
	}
}

func TestGCPass_SuggestedPeriodMatchesTable(t *testing.T) {
	cases := map[GCPass]time.Duration{
		PassMCGen0:       20 * time.Second,
		PassMCGen1:       100 * time.Second,
		PassMCGen2:       340 * time.Second,
		PassDeadPointers: 140 * time.Second,
		PassNamespaces:   220 * time.Second,
		PassVersions:     60 * time.Second,
	}
	for pass, want := range cases {
		assert.Equal(t, want, pass.SuggestedPeriod(), string(pass))
	}
}
