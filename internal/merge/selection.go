// Package merge implements the merge/resolve engine of spec.md §4.D: it
// turns a (root, labels, document, version) request into a single
// resolved element.Element, applying the override algebra, expanding
// reference/format/self-reference tags, checking the cross-document
// reference graph for cycles, and filling the generational
// merged-config cache with an at-most-one-concurrent-build guarantee.
package merge

import (
	"sort"

	"github.com/vitaliisemenov/mhconf/internal/nsconfig"
)

// SelectContributors returns every override entry registered for
// document whose own labels are a subset of labels (§4.D.2 selection),
// ordered by the precedence rule decided in SPEC_FULL.md Open Question 1:
// ascending (rank, path) so the fold in Fold() applies deeper overrides
// last, i.e. with precedence.
func SelectContributors(doc *nsconfig.Document, labels nsconfig.Labels, flavor string) []*nsconfig.OverrideEntry {
	contributors := doc.Contributors(labels, flavor)
	sort.Slice(contributors, func(i, j int) bool {
		a, b := contributors[i], contributors[j]
		if a.Rank != b.Rank {
			return a.Rank < b.Rank
		}
		return a.OverridePath < b.OverridePath
	})
	return contributors
}

// ContributorIDs resolves each contributor's RawConfig at version (via
// nsconfig.OverrideEntry.At), in the already-sorted selection order. A
// contributor absent at version (not yet created) is skipped; a
// tombstone (a nil RawConfig) is kept so its position still
// participates in the cache key, while Resolve leaves it out of the
// fold, so a deleted override contributes nothing to the result.
func ContributorIDs(contributors []*nsconfig.OverrideEntry, version uint64) []*nsconfig.RawConfig {
	out := make([]*nsconfig.RawConfig, 0, len(contributors))
	for _, oe := range contributors {
		rc, ok := oe.At(version)
		if !ok {
			continue
		}
		out = append(out, rc)
	}
	return out
}
