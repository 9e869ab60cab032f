package merge

import (
	"fmt"

	"github.com/vitaliisemenov/mhconf/internal/element"
	"github.com/vitaliisemenov/mhconf/internal/nsconfig"
)

// ErrDocumentNotFound is returned when the requested document has never
// been indexed in the namespace.
type ErrDocumentNotFound struct{ Document string }

func (e *ErrDocumentNotFound) Error() string {
	return fmt.Sprintf("document %q not found", e.Document)
}

// Source describes one raw config that contributed to a resolved
// result, for the wire-level sources[] list (§6 "Element wire form").
type Source struct {
	Document    string
	RawConfigID uint32
	Checksum    uint32
	HasContent  bool
}

// Result is the outcome of resolving one document request: its fully
// expanded value, the cache key covering every document the resolution
// touched, the contributing raw configs across every document visited,
// and any non-fatal parse/reference warnings collected along the way.
type Result struct {
	Value    element.Element
	Key      CacheKey
	Sources  []Source
	Warnings []string
}

// Resolver resolves one top-level document request against a namespace
// at a fixed version, following !ref into other documents on demand and
// rejecting cycles as it goes (§4.D.5). Each document's directly-refd
// edges are recorded into graph as they're discovered and checked with
// CheckDAG before that document is expanded, so the common case (a cycle
// closed by a plain !ref) is reported with the full cycle path before
// any further recursion. visiting is a call-stack re-entrancy backstop
// that still catches a cycle closed through a !ref CollectReferences
// cannot see (e.g. nested inside a !format argument), since that would
// otherwise recurse indefinitely. A Resolver is single-use: build one
// per request.
type Resolver struct {
	NS      *nsconfig.Namespace
	Version uint64
	Labels  nsconfig.Labels
	Flavor  string

	resolved map[string]element.Element
	graph    *Graph
	visiting map[string]bool
	rcsByDoc map[string][]*nsconfig.RawConfig
	warnings []string
	err      error
}

// Resolve runs the full fold + tag-expansion pipeline (§4.D.2-§4.D.4) for
// document and returns the resolved Result.
func Resolve(ns *nsconfig.Namespace, document string, labels nsconfig.Labels, flavor string, version uint64) (Result, error) {
	r := &Resolver{
		NS:       ns,
		Version:  version,
		Labels:   labels,
		Flavor:   flavor,
		resolved: make(map[string]element.Element),
		graph:    NewGraph(),
		visiting: make(map[string]bool),
		rcsByDoc: make(map[string][]*nsconfig.RawConfig),
	}
	val, found, err := r.resolve(document)
	if err != nil {
		return Result{}, err
	}
	if !found {
		return Result{}, &ErrDocumentNotFound{Document: document}
	}
	return Result{
		Value:    val,
		Key:      ComputeTransitiveCacheKey(document, r.rcsByDoc),
		Sources:  r.sources(),
		Warnings: r.warnings,
	}, nil
}

// sources flattens rcsByDoc into the wire-level sources[] list. The
// order of documents in the list is not defined; tombstones are left out.
func (r *Resolver) sources() []Source {
	out := make([]Source, 0, len(r.rcsByDoc))
	for doc, rcs := range r.rcsByDoc {
		for _, rc := range rcs {
			if rc == nil {
				continue
			}
			out = append(out, Source{
				Document:    doc,
				RawConfigID: rc.ID,
				Checksum:    rc.Checksum,
				HasContent:  rc.HasContent,
			})
		}
	}
	return out
}

func (r *Resolver) resolve(document string) (element.Element, bool, error) {
	if v, ok := r.resolved[document]; ok {
		return v, true, nil
	}

	// Re-entrancy backstop (§4.D.5): CollectReferences only sees !ref
	// nodes, not ones buried inside another tag's arguments (e.g. a
	// !format interpolation), so the graph below can miss an edge. This
	// catches any such cycle by its actual call stack instead, trading a
	// precise Cycle path for a guarantee against infinite recursion.
	if r.visiting[document] {
		return element.Undefined, false, &CycleError{Cycle: []string{document}}
	}
	r.visiting[document] = true
	defer delete(r.visiting, document)

	doc, ok := r.NS.Document(document)
	if !ok {
		return element.Undefined, false, nil
	}

	contributors := SelectContributors(doc, r.Labels, r.Flavor)
	rcs := ContributorIDs(contributors, r.Version)
	r.rcsByDoc[document] = rcs

	values := make([]element.Element, 0, len(rcs))
	for _, rc := range rcs {
		if rc != nil && rc.HasContent {
			values = append(values, rc.Value)
		}
	}
	folded := Fold(values, &r.warnings)

	// Pre-resolution DAG check (§4.D.5): record this document's !ref
	// edges and reject before expanding it any further if they close a
	// cycle back onto a document still being resolved higher up the
	// call stack.
	r.graph.AddEdges(document, CollectReferences(folded))
	if err := r.graph.CheckDAG(); err != nil {
		return element.Undefined, false, err
	}

	expander := &Expander{
		Pool:     r.NS.Pool,
		Document: document,
		SelfRoot: folded,
		Resolve: func(target string) (element.Element, bool) {
			v, found, err := r.resolve(target)
			if err != nil && r.err == nil {
				r.err = err
			}
			return v, found
		},
		Warnings: &r.warnings,
	}
	expanded, err := expander.Expand(folded)
	if err != nil {
		return element.Undefined, false, err
	}
	if r.err != nil {
		return element.Undefined, false, r.err
	}

	expanded = expanded.Freeze()
	r.resolved[document] = expanded
	return expanded, true, nil
}
