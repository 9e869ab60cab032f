package merge

import (
	"encoding/json"
	"sync"
	"sync/atomic"

	"github.com/vitaliisemenov/mhconf/internal/element"
	"github.com/vitaliisemenov/mhconf/internal/intern"
)

// OptimizedPayload is a precomputed wire encoding of a resolved
// document, built once in the background rather than on every request
// (§4.D.7 "the optimized payload is not required to answer get_config;
// it only speeds up repeated serialization of a hot document").
type OptimizedPayload struct {
	JSON     []byte
	Checksum [32]byte
}

// toJSONValue flattens an Element into plain Go values so
// encoding/json can serialize it without reaching into package element's
// internals.
func toJSONValue(v element.Element) any {
	switch v.Kind() {
	case element.KindNone, element.KindUndefined:
		return nil
	case element.KindStr:
		s, _ := v.AsStr()
		return s
	case element.KindBin:
		b, _ := v.AsBin()
		return b
	case element.KindInt64:
		i, _ := v.AsInt64()
		return i
	case element.KindDouble:
		f, _ := v.AsDouble()
		return f
	case element.KindBool:
		b, _ := v.AsBool()
		return b
	case element.KindMap:
		entries, _ := v.AsMap()
		out := make(map[string]any, len(entries))
		for k, sub := range entries {
			out[keyString(k)] = toJSONValue(sub)
		}
		return out
	case element.KindSequence:
		items, _ := v.AsSequence()
		out := make([]any, len(items))
		for i, sub := range items {
			out[i] = toJSONValue(sub)
		}
		return out
	default:
		return nil
	}
}

func keyString(k intern.String) string { return k.String() }

// BuildOptimizedPayload serializes v to its JSON wire form and stamps it
// with v's checksum, so a consumer can detect a stale precomputed
// payload against a freshly fetched MergedConfig.
func BuildOptimizedPayload(v element.Element) (OptimizedPayload, error) {
	data, err := json.Marshal(toJSONValue(v))
	if err != nil {
		return OptimizedPayload{}, err
	}
	return OptimizedPayload{JSON: data, Checksum: v.Checksum()}, nil
}

// Optimizer runs BuildOptimizedPayload on a bounded worker pool so a
// burst of newly built MergedConfigs doesn't serialize serially on the
// request path (§4.D.7 "performed asynchronously, off the request path").
type Optimizer struct {
	jobs chan optimizeJob
	wg   sync.WaitGroup
}

type optimizeJob struct {
	value element.Element
	store *atomic.Pointer[OptimizedPayload]
}

// NewOptimizer starts workers background goroutines draining the job
// queue; Close stops them once the queue drains.
func NewOptimizer(workers int) *Optimizer {
	if workers < 1 {
		workers = 1
	}
	o := &Optimizer{jobs: make(chan optimizeJob, 256)}
	o.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go o.run()
	}
	return o
}

func (o *Optimizer) run() {
	defer o.wg.Done()
	for job := range o.jobs {
		payload, err := BuildOptimizedPayload(job.value)
		if err != nil {
			continue
		}
		job.store.Store(&payload)
	}
}

// Schedule enqueues an asynchronous optimization of value, publishing the
// result to store once complete. Non-blocking: if the queue is full the
// job is dropped (a later request will simply recompute on demand).
func (o *Optimizer) Schedule(value element.Element, store *atomic.Pointer[OptimizedPayload]) {
	select {
	case o.jobs <- optimizeJob{value: value, store: store}:
	default:
	}
}

// Close stops accepting new jobs and waits for in-flight ones to finish.
func (o *Optimizer) Close() {
	close(o.jobs)
	o.wg.Wait()
}
