package coordinator

import "sync"

// refIndex is the document→document reference counter §4.E.1 step 4
// names: for each target document, the set of documents whose latest
// indexed content carries a !ref pointing at it. apply_update replays
// each touched RawConfig's additions/removals of references against it
// so the affected-document closure (step 6) can be computed without
// re-walking every document's content.
type refIndex struct {
	mu           sync.RWMutex
	referencedBy map[string]map[string]int // target -> referencing document -> refcount
}

func newRefIndex() *refIndex {
	return &refIndex{referencedBy: make(map[string]map[string]int)}
}

// Replace swaps document's previously recorded outgoing references
// (oldTargets) for a new set (newTargets), adjusting refcounts so a
// target stops being reported as referenced once its last referencing
// RawConfig is replaced or removed.
func (r *refIndex) Replace(document string, oldTargets, newTargets map[string]struct{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for t := range oldTargets {
		if _, keep := newTargets[t]; keep {
			continue
		}
		r.decrement(t, document)
	}
	for t := range newTargets {
		if _, had := oldTargets[t]; had {
			continue
		}
		r.increment(t, document)
	}
}

func (r *refIndex) increment(target, document string) {
	docs, ok := r.referencedBy[target]
	if !ok {
		docs = make(map[string]int)
		r.referencedBy[target] = docs
	}
	docs[document]++
}

func (r *refIndex) decrement(target, document string) {
	docs, ok := r.referencedBy[target]
	if !ok {
		return
	}
	docs[document]--
	if docs[document] <= 0 {
		delete(docs, document)
	}
	if len(docs) == 0 {
		delete(r.referencedBy, target)
	}
}

// Direct returns the documents that currently reference target.
func (r *refIndex) Direct(target string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	docs, ok := r.referencedBy[target]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(docs))
	for d := range docs {
		out = append(out, d)
	}
	return out
}

// TransitiveClosure returns every document reachable by following
// "referenced by" edges from roots, roots themselves excluded unless
// also reached transitively (§4.E.1 step 6 "transitive closure of
// documents that reference any touched document").
func (r *refIndex) TransitiveClosure(roots []string) []string {
	seen := make(map[string]struct{})
	queue := append([]string(nil), roots...)
	var out []string
	for len(queue) > 0 {
		d := queue[0]
		queue = queue[1:]
		for _, parent := range r.Direct(d) {
			if _, ok := seen[parent]; ok {
				continue
			}
			seen[parent] = struct{}{}
			out = append(out, parent)
			queue = append(queue, parent)
		}
	}
	return out
}
