package coordinator

import (
	"fmt"

	"github.com/cespare/xxhash/v2"
	"github.com/spf13/afero"

	"github.com/vitaliisemenov/mhconf/internal/element"
	"github.com/vitaliisemenov/mhconf/internal/index"
	"github.com/vitaliisemenov/mhconf/internal/merge"
	"github.com/vitaliisemenov/mhconf/internal/nsconfig"
)

// quickChecksum derives a cheap 32-bit digest from an Element's stable
// checksum, used to diff a freshly indexed file against its previous
// RawConfig without comparing full trees (§4.E.1 step 3).
func quickChecksum(v element.Element) uint32 {
	sum := v.Checksum()
	return uint32(xxhash.Sum64(sum[:]))
}

// Bootstrap performs the namespace's initial indexing: a full walk of
// RootPath, populating every document and override entry at version 1,
// then transitions BUILDING -> OK (or DELETED on failure, §4.C).
func (c *Coordinator) Bootstrap() error {
	files, err := c.indexer.IndexAll(c.NS.RootPath)
	if err != nil {
		c.NS.MarkBuilt(false, nsconfig.DeletionIndexFailed)
		return fmt.Errorf("bootstrap index: %w", err)
	}
	for _, f := range files {
		c.admitFile(f, c.NS.CurrentVersion())
	}
	c.NS.MarkBuilt(true, nsconfig.DeletionNone)
	return nil
}

// admitFile records f as the current contributor for its override entry
// at version v, skipping the write if its content is unchanged from the
// entry's latest recorded RawConfig (§4.E.1 step 3). Returns true if a
// new RawConfig was appended.
func (c *Coordinator) admitFile(f index.File, v uint64) bool {
	doc := c.NS.DocumentOrCreate(f.Document)
	oe := doc.OverrideEntry(f.RelPath, f.Flavor, f.Labels, f.Rank)

	checksum := quickChecksum(f.Value)
	prev := oe.Latest()
	if prev != nil && prev.HasContent && prev.Checksum == checksum {
		return false
	}

	refs := merge.CollectReferences(f.Value)
	id := doc.NextRawConfigID()
	if id >= nsconfig.RawConfigIDOverflow {
		c.NS.Fail(nsconfig.DeletionOverflow)
	}
	oe.AppendVersion(v, &nsconfig.RawConfig{
		ID:         id,
		Checksum:   checksum,
		HasContent: true,
		Value:      f.Value,
		References: refs,
	})

	var oldRefs map[string]struct{}
	if prev != nil {
		oldRefs = prev.References
	}
	c.refs.Replace(f.Document, oldRefs, refs)
	return true
}

// admitDeletion tombstones an override entry that no longer exists on
// disk (§4.E.1 step 3 "added to the batch as a deletion").
func (c *Coordinator) admitDeletion(document, relPath, flavor string, v uint64) bool {
	doc, ok := c.NS.Document(document)
	if !ok {
		return false
	}
	oe, ok := doc.LookupOverrideEntry(relPath, flavor)
	if !ok {
		return false
	}
	prev := oe.Latest()
	if prev == nil || !prev.HasContent {
		return false // already a tombstone
	}
	oe.AppendVersion(v, nil)
	c.refs.Replace(document, prev.References, nil)
	return true
}

// ApplyUpdate runs the update protocol (§4.E.1) against an already-built
// namespace. In reload mode the entire root tree is re-indexed and any
// override no longer present becomes a deletion; otherwise only the
// listed paths are indexed (or checked for removal).
func (c *Coordinator) ApplyUpdate(reload bool, paths []string) (uint64, error) {
	c.updateMu <- struct{}{} // step 1: serialize; concurrent callers park here
	defer func() { <-c.updateMu }()

	if !c.NS.BeginUpdate() {
		return 0, fmt.Errorf("namespace %s is not in OK status (%s)", c.NS.ID, c.NS.Status())
	}
	defer c.NS.EndUpdate()

	touchedDocs := make(map[string]struct{})
	changed := false
	nextVersion := c.NS.CurrentVersion() + 1

	if reload {
		files, err := c.indexer.IndexAll(c.NS.RootPath)
		if err != nil {
			c.NS.Fail(nsconfig.DeletionIndexFailed)
			return 0, fmt.Errorf("reload index: %w", err)
		}

		seen := make(map[string]map[string]bool) // document -> overrideKey -> true
		for _, f := range files {
			if seen[f.Document] == nil {
				seen[f.Document] = make(map[string]bool)
			}
			seen[f.Document][f.RelPath+"\x00"+f.Flavor] = true
			if c.admitFile(f, nextVersion) {
				changed = true
				touchedDocs[f.Document] = struct{}{}
			}
		}

		for _, doc := range c.NS.Documents() {
			for _, oe := range doc.OverrideEntries() {
				key := oe.OverridePath + "\x00" + oe.Flavor
				if seen[doc.Name][key] {
					continue
				}
				if c.admitDeletion(doc.Name, oe.OverridePath, oe.Flavor, nextVersion) {
					changed = true
					touchedDocs[doc.Name] = struct{}{}
				}
			}
		}
	} else {
		for _, p := range paths {
			exists, err := c.pathExists(p)
			if err != nil {
				c.NS.Fail(nsconfig.DeletionIndexFailed)
				return 0, fmt.Errorf("check path %s: %w", p, err)
			}
			if !exists {
				document, flavor, _, _, skip, err := index.Identity(p)
				if err != nil || skip {
					continue
				}
				if c.admitDeletion(document, p, flavor, nextVersion) {
					changed = true
					touchedDocs[document] = struct{}{}
				}
				continue
			}

			files, err := c.indexer.IndexPaths(c.NS.RootPath, []string{p})
			if err != nil {
				c.NS.Fail(nsconfig.DeletionIndexFailed)
				return 0, fmt.Errorf("index path %s: %w", p, err)
			}
			for _, f := range files {
				if c.admitFile(f, nextVersion) {
					changed = true
					touchedDocs[f.Document] = struct{}{}
				}
			}
		}
	}

	if !changed {
		return c.NS.CurrentVersion(), nil
	}

	newVersion, overflow := c.NS.AdvanceVersion()

	// Step 6: affected-document closure. Documents that reference a
	// touched document must miss cache on their next resolve even though
	// their own contributor ids haven't changed.
	roots := make([]string, 0, len(touchedDocs))
	for d := range touchedDocs {
		roots = append(roots, d)
	}
	affected := append(roots, c.refs.TransitiveClosure(roots)...)
	c.invalidateDocuments(affected)

	// Step 7: watcher fanout for every affected document.
	c.fireWatchers(affected, newVersion)

	if overflow {
		c.NS.Fail(nsconfig.DeletionOverflow)
	}

	return newVersion, nil
}

// pathExists checks the filesystem directly (rather than going through
// the indexer, which silently skips absent paths) so deletions can be
// told apart from ordinary non-qualifying files.
func (c *Coordinator) pathExists(relPath string) (bool, error) {
	return afero.Exists(c.indexer.FS, c.NS.RootPath+"/"+relPath)
}

// invalidateDocuments drops every cache entry for docs' currently
// selected contributors. A directly touched document already gets a
// fresh RawConfig id, so its own cache key already misses; the explicit
// purge here matters for documents reached only through the reference
// closure, whose own ids are unchanged.
func (c *Coordinator) invalidateDocuments(docs []string) {
	for _, d := range docs {
		c.Cache.InvalidateDocument(d)
	}
}

// fireWatchers resolves and delivers a fresh result to every watcher
// registered against any of docs: the touched documents plus those that
// reference them (§4.E.1 step 7, §4.E.2).
func (c *Coordinator) fireWatchers(docs []string, version uint64) {
	seen := make(map[*nsconfig.Watcher]bool)
	for _, name := range docs {
		doc, ok := c.NS.Document(name)
		if !ok {
			continue
		}
		for _, w := range doc.Watchers() {
			if seen[w] {
				continue
			}
			seen[w] = true
			c.fireWatcher(w, version)
		}
	}
}
