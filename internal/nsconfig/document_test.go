package nsconfig

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDocument_OverrideEntryGetOrCreate(t *testing.T) {
	d := NewDocument(0, "routes")
	labels := NewLabels([]Label{{"env", "prod"}})

	oe1 := d.OverrideEntry("etc/routes.yaml", "", labels, 0)
	oe2 := d.OverrideEntry("etc/routes.yaml", "", labels, 0)
	assert.Same(t, oe1, oe2)

	_, ok := d.LookupOverrideEntry("etc/other.yaml", "")
	assert.False(t, ok)
}

func TestDocument_ContributorsMatchOnLabelContainment(t *testing.T) {
	d := NewDocument(0, "routes")
	base := d.OverrideEntry("routes.yaml", "", NewLabels(nil), 0)
	prodOnly := d.OverrideEntry("pre/prod/routes.yaml", "", NewLabels([]Label{{"env", "prod"}}), 1)

	prodReq := NewLabels([]Label{{"env", "prod"}, {"region", "us"}})
	contributors := d.Contributors(prodReq, "")
	require.Len(t, contributors, 2)

	stagingReq := NewLabels([]Label{{"env", "staging"}})
	contributors = d.Contributors(stagingReq, "")
	require.Len(t, contributors, 1)
	assert.Same(t, base, contributors[0])
	_ = prodOnly
}

func TestDocument_WatcherFanoutToMatchingOverrides(t *testing.T) {
	d := NewDocument(0, "routes")
	prod := d.OverrideEntry("pre/prod/routes.yaml", "", NewLabels([]Label{{"env", "prod"}}), 1)
	staging := d.OverrideEntry("pre/staging/routes.yaml", "", NewLabels([]Label{{"env", "staging"}}), 1)

	w := &Watcher{UID: "w1", Labels: NewLabels([]Label{{"env", "prod"}})}
	d.AddWatcher(w, "")

	assert.Len(t, prod.Watchers(), 1)
	assert.Len(t, staging.Watchers(), 0)

	d.RemoveWatcher(w)
	assert.Len(t, prod.Watchers(), 0)
}

func TestDocument_NextRawConfigIDMonotonic(t *testing.T) {
	d := NewDocument(0, "routes")
	a := d.NextRawConfigID()
	b := d.NextRawConfigID()
	assert.Equal(t, a+1, b)
}

func TestDocument_PruneDeadOverrides(t *testing.T) {
	d := NewDocument(0, "routes")
	live := d.OverrideEntry("routes.yaml", "", NewLabels(nil), 0)
	live.AppendVersion(1, &RawConfig{ID: 1, HasContent: true})

	dead := d.OverrideEntry("old/routes.yaml", "", NewLabels(nil), 1)
	dead.AppendVersion(1, &RawConfig{ID: 2, HasContent: false})
	dead.AppendVersion(2, nil)

	pruned := d.PruneDeadOverrides()
	assert.Equal(t, 1, pruned)

	_, ok := d.LookupOverrideEntry("old/routes.yaml", "")
	assert.False(t, ok)
	_, ok = d.LookupOverrideEntry("routes.yaml", "")
	assert.True(t, ok)
}
