package merge

import (
	"fmt"
	"sort"
	"strings"

	"github.com/vitaliisemenov/mhconf/internal/nsconfig"
)

// CacheKey identifies a (document, resolved contributor set) pairing:
// two requests that land on the same ordered list of RawConfig IDs for
// the same document produce the same key and so share one MergedConfig
// cache entry, even if they arrived under different label sets or
// versions (§4.D.1). RawConfig IDs are never reused within a namespace
// and stay attached to an override entry for as long as its content is
// unchanged across versions, so the key is stable across the versions
// that don't touch any contributing file.
type CacheKey string

// ComputeCacheKey builds the key for a document resolved against rcs, the
// already-selected, already-version-resolved, precedence-ordered
// contributor list (see SelectContributors/ContributorIDs).
func ComputeCacheKey(document string, rcs []*nsconfig.RawConfig) CacheKey {
	var b strings.Builder
	b.WriteString(document)
	for _, rc := range rcs {
		if rc == nil {
			b.WriteString(":-")
			continue
		}
		fmt.Fprintf(&b, ":%d", rc.ID)
	}
	return CacheKey(b.String())
}

// ComputeTransitiveCacheKey builds the key for a resolved request that
// may have pulled in other documents through !ref (§4.D.1, §4.D.5): the
// key must change whenever any document in the transitive reference
// closure changes, not just the requested one, or a cached answer would
// go stale when a referenced document's file is edited. byDocument maps
// each visited document name (the requested one plus every !ref target
// reached while resolving it) to its selected, version-resolved raw
// config list.
func ComputeTransitiveCacheKey(requested string, byDocument map[string][]*nsconfig.RawConfig) CacheKey {
	names := make([]string, 0, len(byDocument))
	for name := range byDocument {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString(requested)
	b.WriteByte('|')
	for _, name := range names {
		b.WriteString(name)
		for _, rc := range byDocument[name] {
			if rc == nil {
				b.WriteString(":-")
				continue
			}
			fmt.Fprintf(&b, ":%d", rc.ID)
		}
		b.WriteByte(';')
	}
	return CacheKey(b.String())
}
