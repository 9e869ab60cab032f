package nsconfig

import (
	"sync"

	"github.com/vitaliisemenov/mhconf/internal/element"
)

// RawConfig is one parsed file at one version. A tombstone, recording
// that an override path stopped contributing at a version, is stored as
// a nil *RawConfig in VersionedRawConfig.
type RawConfig struct {
	ID         uint32
	Checksum   uint32
	HasContent bool
	Value      element.Element
	References map[string]struct{} // document names this raw config's !ref tags point at
}

// VersionedRawConfig pins a RawConfig to the version it became current at.
type VersionedRawConfig struct {
	Version   uint64
	RawConfig *RawConfig // nil is a tombstone at this version
}

// OverrideEntry is one (override_path, document, flavor) triple: the
// versioned history of a single contributing file, plus the watchers
// registered against it.
type OverrideEntry struct {
	OverridePath string
	Document     string
	Flavor       string
	Labels       Labels
	Rank         int // §4.D.2 precedence: deeper override paths rank higher

	mu        sync.RWMutex
	byVersion []VersionedRawConfig // strictly increasing by Version
	watchers  map[*Watcher]struct{}
}

// NewOverrideEntry constructs an entry; Rank is the number of path
// segments in OverridePath below the namespace root (§ SPEC_FULL Open
// Question 1).
func NewOverrideEntry(overridePath, document, flavor string, labels Labels, rank int) *OverrideEntry {
	return &OverrideEntry{
		OverridePath: overridePath,
		Document:     document,
		Flavor:       flavor,
		Labels:       labels,
		Rank:         rank,
		watchers:     make(map[*Watcher]struct{}),
	}
}

// AppendVersion records a new (or tombstoned) raw config at version v.
// Versions must be supplied strictly increasing; callers (the indexer)
// are responsible for that invariant.
func (oe *OverrideEntry) AppendVersion(v uint64, rc *RawConfig) {
	oe.mu.Lock()
	defer oe.mu.Unlock()
	oe.byVersion = append(oe.byVersion, VersionedRawConfig{Version: v, RawConfig: rc})
}

// At returns the raw config effective at version v: the latest entry
// whose Version <= v. Returns ok=false if v predates every entry.
func (oe *OverrideEntry) At(v uint64) (*RawConfig, bool) {
	oe.mu.RLock()
	defer oe.mu.RUnlock()
	var best *VersionedRawConfig
	for i := range oe.byVersion {
		e := &oe.byVersion[i]
		if e.Version <= v {
			best = e
		} else {
			break
		}
	}
	if best == nil {
		return nil, false
	}
	return best.RawConfig, true
}

// Latest returns the most recently appended raw config, regardless of
// version pinning (used by the indexer to compute checksums for diffing).
func (oe *OverrideEntry) Latest() *RawConfig {
	oe.mu.RLock()
	defer oe.mu.RUnlock()
	if len(oe.byVersion) == 0 {
		return nil
	}
	return oe.byVersion[len(oe.byVersion)-1].RawConfig
}

// TrimBefore drops history strictly before floor, keeping the single
// entry that defines the value at floor (§4.E.3 VERSIONS pass / §8).
func (oe *OverrideEntry) TrimBefore(floor uint64) {
	oe.mu.Lock()
	defer oe.mu.Unlock()
	keepFrom := 0
	for i := range oe.byVersion {
		if oe.byVersion[i].Version <= floor {
			keepFrom = i
		} else {
			break
		}
	}
	if keepFrom > 0 {
		oe.byVersion = append([]VersionedRawConfig(nil), oe.byVersion[keepFrom:]...)
	}
}

// IsDead reports whether every recorded version of this entry is a
// tombstone (or absent content) and no watcher is registered against it,
// meaning it no longer needs to exist at all (§4.E.3 DEAD_POINTERS pass:
// an override path deleted long enough ago that even its tombstone
// history is reclaimable).
func (oe *OverrideEntry) IsDead() bool {
	oe.mu.RLock()
	defer oe.mu.RUnlock()
	if len(oe.byVersion) == 0 {
		return false
	}
	for _, v := range oe.byVersion {
		if v.RawConfig != nil && v.RawConfig.HasContent {
			return false
		}
	}
	return len(oe.watchers) == 0
}

// AddWatcher registers w against this override entry.
func (oe *OverrideEntry) AddWatcher(w *Watcher) {
	oe.mu.Lock()
	defer oe.mu.Unlock()
	oe.watchers[w] = struct{}{}
}

// RemoveWatcher unregisters w.
func (oe *OverrideEntry) RemoveWatcher(w *Watcher) {
	oe.mu.Lock()
	defer oe.mu.Unlock()
	delete(oe.watchers, w)
}

// Watchers returns a snapshot of currently registered watchers.
func (oe *OverrideEntry) Watchers() []*Watcher {
	oe.mu.RLock()
	defer oe.mu.RUnlock()
	out := make([]*Watcher, 0, len(oe.watchers))
	for w := range oe.watchers {
		out = append(out, w)
	}
	return out
}

// Matches reports whether this entry could contribute to a request for
// (labels, document, flavor): same document/flavor and this entry's own
// labels are a subset of the request's (§4.D.2 selection rule).
func (oe *OverrideEntry) Matches(labels Labels, document, flavor string) bool {
	return oe.Document == document && oe.Flavor == flavor && labels.Contains(oe.Labels)
}
