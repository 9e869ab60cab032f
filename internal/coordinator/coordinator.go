// Package coordinator implements spec.md §4.E: the update protocol
// (apply_update), watcher lifecycle, the six periodic garbage collection
// passes, and the trace facility, all scoped to one namespace. A
// Coordinator owns the namespace's merge cache and wires every mutation
// back through internal/watchbus and internal/tracebus so standing
// watchers and trace subscribers see the same events a direct request
// would.
package coordinator

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/spf13/afero"

	"github.com/vitaliisemenov/mhconf/internal/apierr"
	"github.com/vitaliisemenov/mhconf/internal/index"
	"github.com/vitaliisemenov/mhconf/internal/merge"
	"github.com/vitaliisemenov/mhconf/internal/metrics"
	"github.com/vitaliisemenov/mhconf/internal/nsconfig"
	"github.com/vitaliisemenov/mhconf/internal/tracebus"
	"github.com/vitaliisemenov/mhconf/internal/watchbus"
)

// Coordinator is the single point that mutates a namespace: indexing,
// cache invalidation, watcher fanout and GC all funnel through its
// methods so they observe a consistent view of the namespace's state
// machine (§4.C).
type Coordinator struct {
	NS    *nsconfig.Namespace
	Cache *merge.Cache

	indexer *index.Indexer
	refs    *refIndex
	watch   watchbus.Bus
	trace   *tracebus.Bus
	metrics *metrics.Metrics
	logger  *slog.Logger

	updateMu chan struct{} // 1-buffered: held while BUILDING/OK_UPDATING, see ApplyUpdate

	regMu      sync.Mutex
	registered map[string]*registered // watcher uid -> bookkeeping
}

// New constructs a Coordinator for ns, backed by fs for indexing.
func New(ns *nsconfig.Namespace, fs afero.Fs, cache *merge.Cache, watch watchbus.Bus, trace *tracebus.Bus, m *metrics.Metrics, logger *slog.Logger) *Coordinator {
	c := &Coordinator{
		NS:         ns,
		Cache:      cache,
		indexer:    index.NewIndexer(fs, ns.Pool),
		refs:       newRefIndex(),
		watch:      watch,
		trace:      trace,
		metrics:    m,
		logger:     logger.With("component", "coordinator", "namespace_id", ns.ID),
		updateMu:   make(chan struct{}, 1),
		registered: make(map[string]*registered),
	}
	return c
}

// Resolve runs the merge engine for (document, labels, flavor) at the
// namespace's current version, through the generational cache (§4.D.6).
// The lookup key is the document's own selected contributor ids
// (§4.D.1): cheap to compute without running the fold/expand pipeline,
// so a cache hit never pays for a build.
func (c *Coordinator) Resolve(document string, labels nsconfig.Labels, flavor string) (merge.Result, error) {
	return c.resolveAt(document, labels, flavor, c.NS.CurrentVersion())
}

// ResolveAt is Resolve pinned to an explicit version (§6 Get(version)).
func (c *Coordinator) ResolveAt(document string, labels nsconfig.Labels, flavor string, version uint64) (merge.Result, error) {
	resolved, ok := c.NS.ResolveVersion(version)
	if !ok {
		return merge.Result{}, &apierr.InvalidVersion{Requested: version, Oldest: c.NS.OldestVersion()}
	}
	return c.resolveAt(document, labels, flavor, resolved)
}

func (c *Coordinator) resolveAt(document string, labels nsconfig.Labels, flavor string, version uint64) (merge.Result, error) {
	c.NS.Touch()

	doc, ok := c.NS.Document(document)
	if !ok {
		return merge.Result{}, &merge.ErrDocumentNotFound{Document: document}
	}

	contributors := merge.SelectContributors(doc, labels, flavor)
	rcs := merge.ContributorIDs(contributors, version)
	key := merge.ComputeCacheKey(document, rcs)

	var built bool
	start := time.Now()
	res, err := c.Cache.GetOrBuild(key, func() (merge.Result, error) {
		built = true
		return merge.Resolve(c.NS, document, labels, flavor, version)
	})
	if c.metrics != nil {
		switch {
		case err != nil:
			reason := "other"
			var (
				cycle    *merge.CycleError
				tooDeep  *merge.ErrExpansionTooDeep
				notFound *merge.ErrDocumentNotFound
			)
			switch {
			case errors.As(err, &cycle):
				reason = "dag_cycle"
			case errors.As(err, &tooDeep):
				reason = "depth_exceeded"
			case errors.As(err, &notFound):
				reason = "document_not_found"
			}
			c.metrics.IncBuildError(reason)
		case built:
			c.metrics.ObserveCacheMiss()
			c.metrics.ObserveBuild(document, time.Since(start))
		default:
			c.metrics.ObserveCacheHit()
		}
	}
	return res, err
}
