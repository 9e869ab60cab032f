package nsconfig

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNamespace_BuildLifecycle(t *testing.T) {
	ns := New("ns1", "/etc/mhconf/ns1")
	assert.Equal(t, StatusBuilding, ns.Status())

	done := make(chan Status, 1)
	go func() { done <- ns.WaitUntilReady() }()

	ns.MarkBuilt(true, DeletionNone)
	assert.Equal(t, StatusOK, <-done)
}

func TestNamespace_BuildFailureDeletesNamespace(t *testing.T) {
	ns := New("ns1", "/etc/mhconf/ns1")
	ns.MarkBuilt(false, DeletionIndexFailed)
	assert.Equal(t, StatusDeleted, ns.Status())
	assert.Equal(t, DeletionIndexFailed, ns.DeletionReason())
}

func TestNamespace_UpdateStateMachine(t *testing.T) {
	ns := New("ns1", "/etc/mhconf/ns1")
	ns.MarkBuilt(true, DeletionNone)

	require.True(t, ns.BeginUpdate())
	assert.Equal(t, StatusOKUpdating, ns.Status())
	assert.False(t, ns.BeginUpdate())

	ns.EndUpdate()
	assert.Equal(t, StatusOK, ns.Status())
}

func TestNamespace_ResolveVersion(t *testing.T) {
	ns := New("ns1", "/etc/mhconf/ns1")
	ns.MarkBuilt(true, DeletionNone)
	ns.AdvanceVersion()
	ns.AdvanceVersion()

	v, ok := ns.ResolveVersion(0)
	assert.True(t, ok)
	assert.Equal(t, ns.CurrentVersion(), v)

	_, ok = ns.ResolveVersion(ns.OldestVersion())
	assert.False(t, ok)
}

func TestNamespace_DocumentOrCreateIsIdempotent(t *testing.T) {
	ns := New("ns1", "/etc/mhconf/ns1")
	a := ns.DocumentOrCreate("routes")
	b := ns.DocumentOrCreate("routes")
	assert.Same(t, a, b)

	c := ns.DocumentOrCreate("users")
	assert.NotEqual(t, a.ID, c.ID)
}

func TestNamespace_GCVersionsTrimsDeprecatedTail(t *testing.T) {
	ns := New("ns1", "/etc/mhconf/ns1")
	ns.MarkBuilt(true, DeletionNone)
	ns.AdvanceVersion()
	ns.AdvanceVersion()

	before := ns.StoredVersions()
	require.Len(t, before, 3)

	// A negative maxAge pushes the cutoff into the future, so every
	// already-deprecated entry (everything but the current tail) is
	// guaranteed to qualify for eviction.
	ns.GCVersions(-time.Hour)
	assert.Greater(t, ns.OldestVersion(), uint64(1))
	assert.Less(t, len(ns.StoredVersions()), len(before))
}
