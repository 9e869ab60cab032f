package nsconfig

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/vitaliisemenov/mhconf/internal/intern"
)

// Status is the namespace lifecycle state (§4.C state machine).
type Status int32

const (
	StatusBuilding Status = iota
	StatusOK
	StatusOKUpdating
	StatusDeleted
)

func (s Status) String() string {
	switch s {
	case StatusBuilding:
		return "BUILDING"
	case StatusOK:
		return "OK"
	case StatusOKUpdating:
		return "OK_UPDATING"
	case StatusDeleted:
		return "DELETED"
	default:
		return "UNKNOWN"
	}
}

// DeletionReason distinguishes the two deletion triggers the spec keeps
// distinct (§9 Open Question iii / SPEC_FULL decision 3).
type DeletionReason string

const (
	DeletionNone        DeletionReason = ""
	DeletionOverflow    DeletionReason = "overflow"
	DeletionGCTimeout   DeletionReason = "gc_timeout"
	DeletionIndexFailed DeletionReason = "index_failure"
)

// Overflow thresholds from §9 Open Question iii.
const (
	RawConfigIDOverflow = 0xff000000
	VersionOverflow     = 0xfffffff0
)

// StoredVersion is one entry of the stored_versions deque: a version that
// is still reachable, and the timestamp (zero while current) at which it
// became deprecated.
type StoredVersion struct {
	Version        uint64
	DeprecationTS  int64 // unix nanos; zero means "not yet deprecated" (the current tail)
}

// Namespace is the per-root-path state described in §3
// "ConfigNamespace": the document registry, version bookkeeping, and
// interner for one root_path.
type Namespace struct {
	ID       string
	RootPath string
	Pool     *intern.Pool

	status         atomic.Int32
	currentVersion atomic.Uint64
	oldestVersion  atomic.Uint64
	deletionReason atomic.Value // DeletionReason
	lastAccessNano atomic.Int64

	mu              sync.RWMutex
	documentsByName map[string]*Document
	nextDocumentID  uint32
	storedVersions  []StoredVersion

	// buildDone is closed once indexing completes (success or failure),
	// letting concurrent get_or_build callers park on it (§4.C).
	buildDone chan struct{}
	buildOnce sync.Once
}

// New creates a namespace in BUILDING status with an empty version 1.
func New(id, rootPath string) *Namespace {
	ns := &Namespace{
		ID:              id,
		RootPath:        rootPath,
		Pool:            intern.NewPool(),
		documentsByName: make(map[string]*Document),
		storedVersions:  []StoredVersion{{Version: 1}},
		buildDone:       make(chan struct{}),
	}
	ns.status.Store(int32(StatusBuilding))
	ns.currentVersion.Store(1)
	ns.oldestVersion.Store(1)
	ns.Touch()
	return ns
}

func (ns *Namespace) Status() Status { return Status(ns.status.Load()) }

func (ns *Namespace) setStatus(s Status) { ns.status.Store(int32(s)) }

// MarkBuilt transitions BUILDING -> OK (or DELETED on failure) and wakes
// every caller parked in WaitUntilReady.
func (ns *Namespace) MarkBuilt(ok bool, reason DeletionReason) {
	ns.buildOnce.Do(func() {
		if ok {
			ns.setStatus(StatusOK)
		} else {
			ns.setStatus(StatusDeleted)
			ns.deletionReason.Store(reason)
		}
		close(ns.buildDone)
	})
}

// WaitUntilReady parks until indexing finishes, returning the resulting
// status (OK or DELETED).
func (ns *Namespace) WaitUntilReady() Status {
	<-ns.buildDone
	return ns.Status()
}

func (ns *Namespace) DeletionReason() DeletionReason {
	v, _ := ns.deletionReason.Load().(DeletionReason)
	return v
}

func (ns *Namespace) CurrentVersion() uint64 { return ns.currentVersion.Load() }
func (ns *Namespace) OldestVersion() uint64  { return ns.oldestVersion.Load() }

// ResolveVersion maps a request version (0 = current) to a concrete
// version, rejecting anything at or below oldestVersion (§8 boundary
// behaviors).
func (ns *Namespace) ResolveVersion(requested uint64) (uint64, bool) {
	if requested == 0 {
		return ns.CurrentVersion(), true
	}
	if requested <= ns.OldestVersion() {
		return 0, false
	}
	return requested, true
}

// BeginUpdate transitions OK -> OK_UPDATING. Returns false if the
// namespace was not in OK (caller should enqueue instead).
func (ns *Namespace) BeginUpdate() bool {
	return ns.status.CompareAndSwap(int32(StatusOK), int32(StatusOKUpdating))
}

// EndUpdate transitions OK_UPDATING -> OK.
func (ns *Namespace) EndUpdate() {
	ns.status.CompareAndSwap(int32(StatusOKUpdating), int32(StatusOK))
}

// Fail transitions any state to DELETED (§7 "a namespace that fails ...
// enters DELETED").
func (ns *Namespace) Fail(reason DeletionReason) {
	ns.setStatus(StatusDeleted)
	ns.deletionReason.Store(reason)
}

// Touch records namespace activity for the NAMESPACES GC pass.
func (ns *Namespace) Touch() { ns.lastAccessNano.Store(time.Now().UnixNano()) }

func (ns *Namespace) LastAccessNano() int64 { return ns.lastAccessNano.Load() }

// DocumentOrCreate returns (creating if absent) the Document for name.
func (ns *Namespace) DocumentOrCreate(name string) *Document {
	ns.mu.Lock()
	defer ns.mu.Unlock()
	d, ok := ns.documentsByName[name]
	if !ok {
		d = NewDocument(ns.nextDocumentID, name)
		ns.nextDocumentID++
		ns.documentsByName[name] = d
	}
	return d
}

// Document looks up an existing document by name.
func (ns *Namespace) Document(name string) (*Document, bool) {
	ns.mu.RLock()
	defer ns.mu.RUnlock()
	d, ok := ns.documentsByName[name]
	return d, ok
}

// Documents returns a snapshot of every registered document.
func (ns *Namespace) Documents() []*Document {
	ns.mu.RLock()
	defer ns.mu.RUnlock()
	out := make([]*Document, 0, len(ns.documentsByName))
	for _, d := range ns.documentsByName {
		out = append(out, d)
	}
	return out
}

// AdvanceVersion stamps the current tail's deprecation timestamp,
// increments current_version, and appends a fresh tail (§4.C
// Versioning). Returns the new version, or an overflow signal.
func (ns *Namespace) AdvanceVersion() (newVersion uint64, overflow bool) {
	ns.mu.Lock()
	defer ns.mu.Unlock()

	if len(ns.storedVersions) > 0 {
		ns.storedVersions[len(ns.storedVersions)-1].DeprecationTS = time.Now().UnixNano()
	}

	next := ns.currentVersion.Add(1)
	ns.storedVersions = append(ns.storedVersions, StoredVersion{Version: next})

	if next >= VersionOverflow {
		return next, true
	}
	return next, false
}

// GCVersions drops stored_versions entries deprecated longer than
// maxAge, advancing oldest_version and trimming every document's
// override histories to match (§4.E.3 VERSIONS pass).
func (ns *Namespace) GCVersions(maxAge time.Duration) {
	ns.mu.Lock()
	cutoff := time.Now().Add(-maxAge).UnixNano()
	keepFrom := 0
	for i := 0; i < len(ns.storedVersions)-1; i++ { // never drop the current tail
		v := ns.storedVersions[i]
		if v.DeprecationTS != 0 && v.DeprecationTS < cutoff {
			keepFrom = i + 1
		} else {
			break
		}
	}
	var newOldest uint64
	if keepFrom > 0 {
		ns.storedVersions = append([]StoredVersion(nil), ns.storedVersions[keepFrom:]...)
		newOldest = ns.storedVersions[0].Version
		if newOldest > 0 {
			newOldest--
		}
	} else if len(ns.storedVersions) > 0 {
		newOldest = ns.oldestVersion.Load()
	}
	ns.mu.Unlock()

	if newOldest > ns.oldestVersion.Load() {
		ns.oldestVersion.Store(newOldest)
		for _, d := range ns.Documents() {
			for _, oe := range d.OverrideEntries() {
				oe.TrimBefore(newOldest)
			}
		}
	}
}

// StoredVersions returns a snapshot, for diagnostics/tests.
func (ns *Namespace) StoredVersions() []StoredVersion {
	ns.mu.RLock()
	defer ns.mu.RUnlock()
	return append([]StoredVersion(nil), ns.storedVersions...)
}

// HasAnyWatchers reports whether any document in the namespace still has
// a registered watcher (§4.E.3 NAMESPACES pass eligibility check).
func (ns *Namespace) HasAnyWatchers() bool {
	for _, d := range ns.Documents() {
		if len(d.Watchers()) > 0 {
			return true
		}
	}
	return false
}
