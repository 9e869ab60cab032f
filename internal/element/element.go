// Package element implements the immutable tagged-sum tree that every
// parsed document, override, and resolved answer is made of: maps,
// sequences, scalars, and the virtual tags (ref/sref/format/delete/override)
// that drive the merge algebra in package merge.
package element

import (
	"crypto/sha256"
	"fmt"
	"sort"

	"github.com/vitaliisemenov/mhconf/internal/intern"
)

// Kind is the concrete value shape of an Element.
type Kind uint8

const (
	KindUndefined Kind = iota
	KindNone
	KindStr
	KindBin
	KindInt64
	KindDouble
	KindBool
	KindMap
	KindSequence
)

// Tag marks a node as a virtual, merge-time-only construct layered over
// its Kind. A literal node (no virtual tag) merges by value; a tagged one
// is expanded or dispatched specially by the override algebra.
type Tag uint8

const (
	TagNone Tag = iota
	TagRef
	TagSRef
	TagFormat
	TagDelete
	TagOverride
)

// Origin pins an Element back to the source file it came from, for
// diagnostics and the wire form's position info (§6).
type Origin struct {
	DocumentID  uint32
	RawConfigID uint32
	Line        int
	Column      int
}

type mapPayload struct {
	entries map[intern.String]Element
	shared  bool
}

type seqPayload struct {
	items  []Element
	shared bool
}

// Element is a cheap-to-copy handle: scalars are copied inline, map and
// sequence payloads are copied by pointer. Mutating a shared payload
// clones it first (copy-on-write); Freeze marks a payload shared so that
// any later mutator is forced onto that path, matching the "shared
// ownership, copy-on-write mutation" contract of the data model.
type Element struct {
	kind Kind
	tag  Tag

	str intern.String
	bin []byte
	i64 int64
	f64 float64
	b   bool

	m *mapPayload
	s *seqPayload

	// tagArgs holds the path/sequence argument of a ref/sref/format tag.
	tagArgs []Element

	origin   *Origin
	checksum *[32]byte
}

// Undefined is the zero-value "absent" element.
var Undefined = Element{kind: KindUndefined}

// None is the explicit null/~ scalar.
var None = Element{kind: KindNone}

func Str(pool *intern.Pool, s string) Element {
	return Element{kind: KindStr, str: pool.Intern([]byte(s))}
}

func StrHandle(h intern.String) Element { return Element{kind: KindStr, str: h} }

func Bin(b []byte) Element { return Element{kind: KindBin, bin: append([]byte(nil), b...)} }

func Int64(v int64) Element { return Element{kind: KindInt64, i64: v} }

func Double(v float64) Element { return Element{kind: KindDouble, f64: v} }

func Bool(v bool) Element { return Element{kind: KindBool, b: v} }

func NewMap() Element {
	return Element{kind: KindMap, m: &mapPayload{entries: make(map[intern.String]Element)}}
}

func NewSequence() Element {
	return Element{kind: KindSequence, s: &seqPayload{}}
}

// WithTag returns a copy of e tagged as a virtual node. args carries the
// ref/sref/format path sequence; it is nil for delete/override.
func (e Element) WithTag(tag Tag, args []Element) Element {
	e.tag = tag
	e.tagArgs = args
	e.checksum = nil
	return e
}

// WithOrigin attaches diagnostic provenance.
func (e Element) WithOrigin(o Origin) Element {
	e.origin = &o
	return e
}

func (e Element) Kind() Kind     { return e.kind }
func (e Element) Tag() Tag       { return e.tag }
func (e Element) Origin() *Origin { return e.origin }
func (e Element) TagArgs() []Element { return e.tagArgs }

func (e Element) IsUndefined() bool { return e.kind == KindUndefined }
func (e Element) IsMap() bool       { return e.kind == KindMap }
func (e Element) IsSequence() bool  { return e.kind == KindSequence }

func (e Element) AsStr() (string, bool) {
	if e.kind != KindStr {
		return "", false
	}
	return e.str.String(), true
}

func (e Element) AsInt64() (int64, bool) {
	if e.kind != KindInt64 {
		return 0, false
	}
	return e.i64, true
}

func (e Element) AsDouble() (float64, bool) {
	if e.kind != KindDouble {
		return 0, false
	}
	return e.f64, true
}

func (e Element) AsBool() (bool, bool) {
	if e.kind != KindBool {
		return false, false
	}
	return e.b, true
}

func (e Element) AsBin() ([]byte, bool) {
	if e.kind != KindBin {
		return nil, false
	}
	return e.bin, true
}

// AsMap returns an immutable borrow of the map payload. Safe to call on
// any Kind; returns ok=false if e is not a map.
func (e Element) AsMap() (map[intern.String]Element, bool) {
	if e.kind != KindMap || e.m == nil {
		return nil, false
	}
	return e.m.entries, true
}

// AsSequence returns an immutable borrow of the sequence payload.
func (e Element) AsSequence() ([]Element, bool) {
	if e.kind != KindSequence || e.s == nil {
		return nil, false
	}
	return e.s.items, true
}

// Freeze marks this element's container payload (if any) shared-only:
// every subsequent AsMapMut/AsSequenceMut on any copy of this handle
// clones the payload before mutating. Call this once an Element becomes
// reachable from more than one owner (cached, published to a watcher,
// folded as an input to another merge).
func (e Element) Freeze() Element {
	if e.m != nil {
		e.m.shared = true
		for k, v := range e.m.entries {
			e.m.entries[k] = v.Freeze()
		}
	}
	if e.s != nil {
		e.s.shared = true
		for i, v := range e.s.items {
			e.s.items[i] = v.Freeze()
		}
	}
	return e
}

// AsMapMut returns a mutable map payload, cloning first if shared, and
// the (possibly new) Element that owns it. Callers must use the returned
// Element going forward.
func (e Element) AsMapMut() (Element, map[intern.String]Element) {
	if e.kind != KindMap {
		e = NewMap()
	}
	if e.m.shared {
		cloned := make(map[intern.String]Element, len(e.m.entries))
		for k, v := range e.m.entries {
			cloned[k] = v
		}
		e.m = &mapPayload{entries: cloned}
	}
	e.checksum = nil
	return e, e.m.entries
}

// AsSequenceMut returns a mutable slice payload, cloning first if shared.
func (e Element) AsSequenceMut() (Element, *[]Element) {
	if e.kind != KindSequence {
		e = NewSequence()
	}
	if e.s.shared {
		cloned := append([]Element(nil), e.s.items...)
		e.s = &seqPayload{items: cloned}
	}
	e.checksum = nil
	return e, &e.s.items
}

// SetMapEntry mutates e's map payload in place (cloning first if shared)
// and returns the updated Element.
func (e Element) SetMapEntry(k intern.String, v Element) Element {
	e, entries := e.AsMapMut()
	entries[k] = v
	return e
}

// DeleteMapEntry removes a key, cloning first if shared.
func (e Element) DeleteMapEntry(k intern.String) Element {
	e, entries := e.AsMapMut()
	delete(entries, k)
	return e
}

// AppendSequence appends items to e's sequence payload (cloning first if
// shared) and returns the updated Element.
func (e Element) AppendSequence(items []Element) Element {
	e, slot := e.AsSequenceMut()
	*slot = append(*slot, items...)
	return e
}

// Checksum returns the stable 256-bit digest of e's canonical
// serialization (maps by sorted key, sequences in order, scalars by
// kind+bytes). Two elements with equal checksums are element-equal.
func (e Element) Checksum() [32]byte {
	if e.checksum != nil {
		return *e.checksum
	}
	h := sha256.New()
	writeCanonical(h, e)
	var sum [32]byte
	copy(sum[:], h.Sum(nil))
	return sum
}

func writeCanonical(h interface{ Write([]byte) (int, error) }, e Element) {
	fmt.Fprintf(h, "k%d:t%d:", e.kind, e.tag)
	switch e.kind {
	case KindUndefined, KindNone:
	case KindStr:
		h.Write(e.str.Bytes())
	case KindBin:
		h.Write(e.bin)
	case KindInt64:
		fmt.Fprintf(h, "%d", e.i64)
	case KindDouble:
		fmt.Fprintf(h, "%v", e.f64)
	case KindBool:
		fmt.Fprintf(h, "%v", e.b)
	case KindMap:
		keys := make([]intern.String, 0, len(e.m.entries))
		for k := range e.m.entries {
			keys = append(keys, k)
		}
		sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
		for _, k := range keys {
			h.Write(k.Bytes())
			writeCanonical(h, e.m.entries[k])
		}
	case KindSequence:
		for _, v := range e.s.items {
			writeCanonical(h, v)
		}
	}
	for _, a := range e.tagArgs {
		writeCanonical(h, a)
	}
}

// Equal reports whether a and b are element-equal (identical checksum).
func Equal(a, b Element) bool {
	return a.Checksum() == b.Checksum()
}
