package nsconfig

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLabelsSortedConstruction(t *testing.T) {
	a := NewLabels([]Label{{"env", "prod"}, {"az", "us-east"}})
	b := NewLabels([]Label{{"az", "us-east"}, {"env", "prod"}})
	assert.True(t, a.Equal(b))
	assert.Equal(t, a.Hash(), b.Hash())
}

func TestLabelsContains(t *testing.T) {
	full := NewLabels([]Label{{"env", "prod"}, {"region", "us"}, {"tier", "gold"}})
	subset := NewLabels([]Label{{"env", "prod"}, {"tier", "gold"}})
	assert.True(t, full.Contains(subset))
	assert.False(t, subset.Contains(full))

	disjoint := NewLabels([]Label{{"env", "staging"}})
	assert.False(t, full.Contains(disjoint))
}

func TestLabelsContainsEmptySelectorMatchesEverything(t *testing.T) {
	full := NewLabels([]Label{{"env", "prod"}})
	empty := NewLabels(nil)
	assert.True(t, full.Contains(empty))
}
