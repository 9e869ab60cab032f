package coordinator

import "time"

// GCPass names one of the six independently-scheduled passes §4.E.3
// lists, each touching a disjoint slice of namespace state so they never
// contend with each other.
type GCPass string

const (
	PassMCGen0       GCPass = "mc_gen_0"
	PassMCGen1       GCPass = "mc_gen_1"
	PassMCGen2       GCPass = "mc_gen_2"
	PassDeadPointers GCPass = "dead_pointers"
	PassNamespaces   GCPass = "namespaces"
	PassVersions     GCPass = "versions"
)

// SuggestedPeriod returns §4.E.3's suggested interval for pass.
func (p GCPass) SuggestedPeriod() time.Duration {
	switch p {
	case PassMCGen0:
		return 20 * time.Second
	case PassMCGen1:
		return 100 * time.Second
	case PassMCGen2:
		return 340 * time.Second
	case PassDeadPointers:
		return 140 * time.Second
	case PassNamespaces:
		return 220 * time.Second
	case PassVersions:
		return 60 * time.Second
	default:
		return time.Minute
	}
}

// RunGC executes one pass once, recording its duration and eviction
// count through metrics (§4.E.3). window is the pass's own age/idle
// threshold (the namespace idle limit, or the stored-versions
// retention window); PassMCGen0/1/2 ignore it and use the
// Cache's own configured windows instead, since those are fixed at
// construction (§4.D.8).
func (c *Coordinator) RunGC(pass GCPass, window time.Duration) int {
	start := time.Now()
	var evicted int

	switch pass {
	case PassMCGen0:
		evicted = c.Cache.GCGen0()
	case PassMCGen1:
		evicted = c.Cache.GCGen1()
	case PassMCGen2:
		evicted = c.Cache.GCGen2()
	case PassDeadPointers:
		evicted = c.gcDeadPointers()
	case PassNamespaces:
		// Dropping a namespace outright is a registry-level decision (a
		// Coordinator is scoped to exactly one namespace); this pass only
		// reports eligibility for the owning registry to act on.
		if c.NamespaceGCEligible(window) {
			evicted = 1
		}
	case PassVersions:
		before := len(c.NS.StoredVersions())
		c.NS.GCVersions(window)
		if diff := before - len(c.NS.StoredVersions()); diff > 0 {
			evicted = diff
		}
	}

	if c.metrics != nil {
		c.metrics.ObserveGCPass(string(pass), time.Since(start), evicted)
	}
	return evicted
}

// gcDeadPointers expires disconnected watcher registrations and prunes
// override entries whose entire history is tombstoned and unwatched
// (§4.E.3 DEAD_POINTERS: "expire weak references in watcher ... sets").
func (c *Coordinator) gcDeadPointers() int {
	pruned := c.expireDeadWatchers()
	for _, doc := range c.NS.Documents() {
		pruned += doc.PruneDeadOverrides()
	}
	return pruned
}

// NamespaceGCEligible reports whether this namespace qualifies for the
// NAMESPACES pass: idle longer than maxIdle and carrying no watchers
// (§4.E.3).
func (c *Coordinator) NamespaceGCEligible(maxIdle time.Duration) bool {
	if c.NS.HasAnyWatchers() {
		return false
	}
	idleSince := time.Since(time.Unix(0, c.NS.LastAccessNano()))
	return idleSince > maxIdle
}
