// Package intern deduplicates document text fragments behind a small,
// content-addressed handle. Short identifier-shaped strings are packed
// inline into the handle itself; everything else lives in a chunked pool
// with per-string reference counts and in-place compaction, following the
// string pool design mhconfig's C++ core uses for label and document text.
package intern

import (
	"sync"

	"github.com/cespare/xxhash/v2"
)

const (
	// maxInlineLen is the largest string that is packed directly into a
	// handle instead of entering the pool.
	maxInlineLen = 10

	// chunkCapacity is the byte budget of a single pool chunk.
	chunkCapacity = 64 * 1024
)

// String is an interned handle. It is cheap to copy and, critically,
// comparable: two handles returned for equal byte content always compare
// equal with ==, which lets String be used directly as a Go map key
// (mirrors the "map key is InternedString, access is O(1) average" rule).
type String struct {
	inline   bool
	inlineLen uint8
	inlineBuf [maxInlineLen]byte

	pool    *Pool
	chunkID uint32
	index   uint32
}

// IsZero reports whether s is the zero value (never interned).
func (s String) IsZero() bool {
	return !s.inline && s.pool == nil
}

// Bytes resolves the handle to its backing bytes. For an inline handle
// this is immediate; for a pooled handle it reads through the owning
// chunk under its reader lock, so it stays valid across compaction.
func (s String) Bytes() []byte {
	if s.inline {
		return s.inlineBuf[:s.inlineLen]
	}
	if s.pool == nil {
		return nil
	}
	return s.pool.resolve(s.chunkID, s.index)
}

// String implements fmt.Stringer.
func (s String) String() string {
	return string(s.Bytes())
}

// Release decrements the refcount of a pooled string. Inline strings are
// not reference counted (there is nothing to reclaim). Safe to call once
// per successful Intern/clone.
func (s String) Release() {
	if s.inline || s.pool == nil {
		return
	}
	s.pool.release(s.chunkID, s.index)
}

// Retain increments the refcount of a pooled string, e.g. when a new
// Element clones a handle it intends to keep independently.
func (s String) Retain() String {
	if !s.inline && s.pool != nil {
		s.pool.retain(s.chunkID, s.index)
	}
	return s
}

func isInlinable(b []byte) bool {
	if len(b) == 0 || len(b) > maxInlineLen {
		return false
	}
	for _, c := range b {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '_':
		default:
			return false
		}
	}
	return true
}

type header struct {
	offset   uint32
	length   uint32
	refcount int32
	live     bool
}

type chunk struct {
	mu        sync.RWMutex
	id        uint32
	buf       []byte
	headers   []header
	used      uint32 // bytes claimed, live + dead
	liveBytes uint32
	fragBytes uint32 // bytes belonging to dead strings
}

func newChunk(id uint32) *chunk {
	return &chunk{id: id, buf: make([]byte, 0, chunkCapacity)}
}

func (c *chunk) room(n int) bool {
	return int(c.used)+n <= cap(c.buf)
}

// append adds bytes to the chunk and returns the new header's index.
// Caller must hold c.mu (write).
func (c *chunk) append(b []byte) uint32 {
	off := uint32(len(c.buf))
	c.buf = append(c.buf, b...)
	c.used += uint32(len(b))
	c.liveBytes += uint32(len(b))
	c.headers = append(c.headers, header{offset: off, length: uint32(len(b)), refcount: 1, live: true})
	return uint32(len(c.headers) - 1)
}

// compact rewrites live strings forward, eliminating fragmentation.
// Caller must hold c.mu (write).
func (c *chunk) compact() {
	newBuf := make([]byte, 0, cap(c.buf))
	for i := range c.headers {
		h := &c.headers[i]
		if !h.live {
			continue
		}
		newOff := uint32(len(newBuf))
		newBuf = append(newBuf, c.buf[h.offset:h.offset+h.length]...)
		h.offset = newOff
	}
	c.buf = newBuf
	c.used = c.liveBytes
	c.fragBytes = 0
}

type internKey struct {
	hash uint64
	len  int
}

type internEntry struct {
	chunkID uint32
	index   uint32
}

// Pool owns the chunked storage for one namespace's interned strings.
// Concurrent Intern calls are safe: lookups take a reader lock, and only
// an actual insertion or compaction upgrades to the writer lock.
type Pool struct {
	mu       sync.RWMutex
	chunks   map[uint32]*chunk
	nextID   uint32
	interned map[internKey][]internEntry // hash+len bucket, disambiguated by content on lookup
}

// NewPool creates an empty string pool.
func NewPool() *Pool {
	return &Pool{
		chunks:   make(map[uint32]*chunk),
		interned: make(map[internKey][]internEntry),
	}
}

// Intern returns a handle for b, deduplicating against any existing
// pooled string with identical content.
func (p *Pool) Intern(b []byte) String {
	if isInlinable(b) {
		var s String
		s.inline = true
		s.inlineLen = uint8(len(b))
		copy(s.inlineBuf[:], b)
		return s
	}

	key := internKey{hash: xxhash.Sum64(b), len: len(b)}

	if s, ok := p.lookup(key, b); ok {
		return s
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	// Re-check under the write lock: another writer may have inserted
	// the same content while we waited.
	if s, ok := p.lookupLocked(key, b); ok {
		return s
	}

	c := p.chunkWithRoomLocked(len(b))
	c.mu.Lock()
	idx := c.append(b)
	c.mu.Unlock()

	p.interned[key] = append(p.interned[key], internEntry{chunkID: c.id, index: idx})

	return String{pool: p, chunkID: c.id, index: idx}
}

func (p *Pool) lookup(key internKey, content []byte) (String, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.lookupLocked(key, content)
}

// lookupLocked requires at least a read lock on p.mu.
func (p *Pool) lookupLocked(key internKey, content []byte) (String, bool) {
	for _, e := range p.interned[key] {
		c := p.chunks[e.chunkID]
		c.mu.RLock()
		h := c.headers[e.index]
		match := h.live && string(c.buf[h.offset:h.offset+h.length]) == string(content)
		c.mu.RUnlock()
		if match {
			c.mu.Lock()
			c.headers[e.index].refcount++
			c.mu.Unlock()
			return String{pool: p, chunkID: e.chunkID, index: e.index}, true
		}
	}
	return String{}, false
}

// chunkWithRoomLocked requires p.mu held for writing.
func (p *Pool) chunkWithRoomLocked(n int) *chunk {
	for _, c := range p.chunks {
		if c.room(n) {
			return c
		}
	}
	c := newChunk(p.nextID)
	p.nextID++
	p.chunks[c.id] = c
	return c
}

func (p *Pool) resolve(chunkID, index uint32) []byte {
	p.mu.RLock()
	c := p.chunks[chunkID]
	p.mu.RUnlock()
	if c == nil {
		return nil
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	h := c.headers[index]
	if !h.live {
		return nil
	}
	out := make([]byte, h.length)
	copy(out, c.buf[h.offset:h.offset+h.length])
	return out
}

func (p *Pool) retain(chunkID, index uint32) {
	p.mu.RLock()
	c := p.chunks[chunkID]
	p.mu.RUnlock()
	if c == nil {
		return
	}
	c.mu.Lock()
	c.headers[index].refcount++
	c.mu.Unlock()
}

func (p *Pool) release(chunkID, index uint32) {
	p.mu.RLock()
	c := p.chunks[chunkID]
	p.mu.RUnlock()
	if c == nil {
		return
	}

	c.mu.Lock()
	h := &c.headers[index]
	h.refcount--
	needsCompact := false
	if h.refcount <= 0 && h.live {
		h.live = false
		c.liveBytes -= h.length
		c.fragBytes += h.length
		needsCompact = c.fragBytes*2 > uint32(cap(c.buf))
	}
	if needsCompact {
		c.compact()
	}
	if c.liveBytes == 0 {
		// Return the chunk's backing array to the allocator; the chunk
		// object itself (and its header slots, needed so outstanding
		// (chunkID, index) handles don't alias a reused slot) stays put
		// until the pool is torn down.
		c.buf = nil
	}
	c.mu.Unlock()
}

// ChunkCount reports the number of chunks allocated so far, including
// chunks whose buffer was released, for tests and metrics.
func (p *Pool) ChunkCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.chunks)
}
