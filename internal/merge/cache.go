package merge

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"
)

// Generation identifies one of the three merged-config cache tiers
// (§4.D.8): GEN_0 holds just-built entries, GEN_1 entries that have
// survived one GC sweep, GEN_2 entries that have survived two. The three
// independent GC passes named in §4.E.3 (MC_GEN_0/MC_GEN_1/MC_GEN_2) age
// entries from one tier into the next and finally evict them.
type Generation int

const (
	Gen0 Generation = iota
	Gen1
	Gen2
)

type entry struct {
	result     Result
	createdAt  time.Time
	lastAccess time.Time
}

// CacheConfig sizes each generation tier and its aging window.
type CacheConfig struct {
	Gen0Capacity, Gen1Capacity, Gen2Capacity int
	Gen0Window, Gen1Window, Gen2Window       time.Duration
}

// DefaultCacheConfig returns the tier capacities and aging windows used
// when no cache configuration is supplied (§4.D.8).
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		Gen0Capacity: 4096, Gen1Capacity: 8192, Gen2Capacity: 16384,
		Gen0Window: time.Minute, Gen1Window: 10 * time.Minute, Gen2Window: time.Hour,
	}
}

// Cache is the generational MergedConfig store (§4.D.6, §4.D.8): reads
// check all three tiers; a miss triggers exactly one concurrent build per
// key, via singleflight, so a thundering herd of requests for the same
// document+labels blocks on a single resolve instead of racing N
// redundant ones.
type Cache struct {
	cfg CacheConfig

	mu   sync.Mutex
	gen0 *lru.Cache[CacheKey, *entry]
	gen1 *lru.Cache[CacheKey, *entry]
	gen2 *lru.Cache[CacheKey, *entry]

	group singleflight.Group
}

// NewCache constructs a Cache; cfg.Gen*Capacity must be positive.
func NewCache(cfg CacheConfig) (*Cache, error) {
	gen0, err := lru.New[CacheKey, *entry](cfg.Gen0Capacity)
	if err != nil {
		return nil, err
	}
	gen1, err := lru.New[CacheKey, *entry](cfg.Gen1Capacity)
	if err != nil {
		return nil, err
	}
	gen2, err := lru.New[CacheKey, *entry](cfg.Gen2Capacity)
	if err != nil {
		return nil, err
	}
	return &Cache{cfg: cfg, gen0: gen0, gen1: gen1, gen2: gen2}, nil
}

// lookup checks all three tiers without promoting an entry between them;
// §4.D.8's generations age by tier-residency, not LRU position, so a hit
// in GEN_1/GEN_2 stays there until the next GC pass relinks it. Every hit
// bumps lastAccess ("bump last_access_ts and return", §4.D.6), since aging
// and eviction both key off last access rather than creation time.
func (c *Cache) lookup(key CacheKey) (*entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.gen0.Get(key); ok {
		e.lastAccess = time.Now()
		return e, true
	}
	if e, ok := c.gen1.Get(key); ok {
		e.lastAccess = time.Now()
		return e, true
	}
	if e, ok := c.gen2.Get(key); ok {
		e.lastAccess = time.Now()
		return e, true
	}
	return nil, false
}

// GetOrBuild returns the cached Result for key, building it with resolve
// if absent. Concurrent callers for the same key share one build
// (§4.D.6 "at most one concurrent build per cache key").
func (c *Cache) GetOrBuild(key CacheKey, resolve func() (Result, error)) (Result, error) {
	if e, ok := c.lookup(key); ok {
		return e.result, nil
	}

	v, err, _ := c.group.Do(string(key), func() (any, error) {
		if e, ok := c.lookup(key); ok {
			return e, nil
		}
		res, err := resolve()
		if err != nil {
			return nil, err
		}
		now := time.Now()
		e := &entry{result: res, createdAt: now, lastAccess: now}
		c.mu.Lock()
		c.gen0.Add(key, e)
		c.mu.Unlock()
		return e, nil
	})
	if err != nil {
		return Result{}, err
	}
	return v.(*entry).result, nil
}

// Invalidate drops key from every tier; called when a document's
// override set changes under apply_update (§4.E.1).
func (c *Cache) Invalidate(key CacheKey) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen0.Remove(key)
	c.gen1.Remove(key)
	c.gen2.Remove(key)
}

// Purge drops every cached entry, used when a namespace is deleted or
// torn down wholesale (§4.E.1, §4.E.3). A Cache is owned by exactly one
// namespace, so there is no narrower "invalidate this namespace" case.
func (c *Cache) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen0.Purge()
	c.gen1.Purge()
	c.gen2.Purge()
}

// InvalidateDocument drops every cached entry whose key names document
// as a ":"-terminated token: the leading document of a ComputeCacheKey
// key, or any visited document of a ComputeTransitiveCacheKey key (see
// its "name:id:id;" layout). Entries keyed by ComputeCacheKey for a
// document that only references document through !ref are not matched;
// callers purge those by name.
func (c *Cache) InvalidateDocument(document string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	needle := document + ":"
	removed := 0
	for _, g := range []*lru.Cache[CacheKey, *entry]{c.gen0, c.gen1, c.gen2} {
		for _, k := range g.Keys() {
			s := string(k)
			if containsToken(s, needle) {
				g.Remove(k)
				removed++
			}
		}
	}
	return removed
}

// containsToken reports whether needle appears in s at the very start,
// or immediately after a '|' or ';' delimiter, i.e. as a whole
// document-name token rather than a substring of a longer name. A key
// built by ComputeCacheKey starts with its own document name (no
// delimiter before it); a key built by ComputeTransitiveCacheKey starts
// with "requested|" so a document token only ever appears after '|' or
// ';' there.
func containsToken(s, needle string) bool {
	for i := 0; i+len(needle) <= len(s); i++ {
		if s[i:i+len(needle)] != needle {
			continue
		}
		if i == 0 || s[i-1] == '|' || s[i-1] == ';' {
			return true
		}
	}
	return false
}

// GCGen0 ages GEN_0 entries older than cfg.Gen0Window into GEN_1 (§4.E.3
// MC_GEN_0 pass).
func (c *Cache) GCGen0() int { return c.age(c.gen0, c.gen1, c.cfg.Gen0Window) }

// GCGen1 ages GEN_1 entries older than cfg.Gen1Window into GEN_2 (§4.E.3
// MC_GEN_1 pass).
func (c *Cache) GCGen1() int { return c.age(c.gen1, c.gen2, c.cfg.Gen1Window) }

// GCGen2 evicts GEN_2 entries whose last access falls outside cfg.Gen2Window
// (§4.E.3 MC_GEN_2 pass; §4.D.8 "survivors (last_access_ts within the
// window)" — anything older is not a survivor).
func (c *Cache) GCGen2() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	cutoff := time.Now().Add(-c.cfg.Gen2Window)
	evicted := 0
	for _, k := range c.gen2.Keys() {
		e, ok := c.gen2.Peek(k)
		if !ok {
			continue
		}
		if e.lastAccess.Before(cutoff) {
			c.gen2.Remove(k)
			evicted++
		}
	}
	return evicted
}

func (c *Cache) age(from, to *lru.Cache[CacheKey, *entry], window time.Duration) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	cutoff := time.Now().Add(-window)
	moved := 0
	for _, k := range from.Keys() {
		e, ok := from.Peek(k)
		if !ok {
			continue
		}
		if e.lastAccess.Before(cutoff) {
			from.Remove(k)
			to.Add(k, e)
			moved++
		}
	}
	return moved
}

// Len reports the number of entries in each tier, for metrics/tests.
func (c *Cache) Len() (gen0, gen1, gen2 int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen0.Len(), c.gen1.Len(), c.gen2.Len()
}
