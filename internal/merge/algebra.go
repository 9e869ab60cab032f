package merge

import (
	"fmt"

	"github.com/vitaliisemenov/mhconf/internal/element"
)

// Fold applies the override algebra (§4.D.3) across an ordered list of
// contributor values, lowest precedence first, returning the folded
// result. Ref/sref/format tags are left untouched here: they are opaque
// "literal" nodes from the algebra's point of view and are resolved
// afterward, in a single bottom-up pass, by Expander.Expand. This keeps the
// fold itself a pure structural operation that never needs to reach
// across documents. warnings collects any non-fatal type-mismatch notices
// (may be nil to discard them).
func Fold(values []element.Element, warnings *[]string) element.Element {
	if len(values) == 0 {
		return element.None
	}
	acc := values[0]
	for _, v := range values[1:] {
		acc = OverrideWith(acc, v, warnings)
	}
	return acc
}

// OverrideWith merges b over a (§4.D.3): b, the higher-precedence side,
// wins outright unless both sides are maps (deep merge, key by key) or
// both are sequences (concatenation, a's items first). An !override-
// tagged b always replaces a wholesale, after stripping its own tag so
// the result reads as a plain value. An !delete-tagged b is returned
// as-is so the caller (a parent map fold) can recognize and drop the key;
// a !delete surviving to the top of a fold is simply dropped by whoever
// asked for the value. A type mismatch with no !override tag (e.g. a map
// overridden by a bare scalar) is not a wholesale replacement: matching
// `without_override_error`, a sits untouched and a warning is recorded.
func OverrideWith(a, b element.Element, warnings *[]string) element.Element {
	if b.Tag() == element.TagOverride {
		return stripTag(b)
	}
	if b.Tag() == element.TagDelete {
		return b
	}
	if a.IsMap() && b.IsMap() {
		return mergeMaps(a, b, warnings)
	}
	if a.IsSequence() && b.IsSequence() {
		return concatSequences(a, b)
	}
	if kindMismatch(a, b) {
		warn(warnings, "type mismatch overriding kind %d with kind %d without !override, keeping previous value", a.Kind(), b.Kind())
		return a
	}
	return b
}

// kindMismatch reports whether a and b are structurally incompatible for
// a plain override: one is a container (map/sequence) and the other is
// not. Two scalars of different kinds (e.g. int64 over str) are still a
// plain replacement, matching the original's scalar-vs-scalar behavior.
func kindMismatch(a, b element.Element) bool {
	return (a.IsMap() || a.IsSequence() || b.IsMap() || b.IsSequence()) && a.Kind() != b.Kind()
}

func warn(warnings *[]string, format string, args ...any) {
	if warnings == nil {
		return
	}
	*warnings = append(*warnings, fmt.Sprintf(format, args...))
}

func stripTag(e element.Element) element.Element {
	return e.WithTag(element.TagNone, nil)
}

// mergeMaps implements the map branch of §4.D.3: every key present only
// in b is added; a !delete-tagged value in b removes the key from the
// result instead of being inserted; a key present in both is folded
// recursively so nested overrides compose.
func mergeMaps(a, b element.Element, warnings *[]string) element.Element {
	aEntries, _ := a.AsMap()
	bEntries, _ := b.AsMap()

	result := element.NewMap()
	for k, v := range aEntries {
		result = result.SetMapEntry(k, v)
	}
	for k, bv := range bEntries {
		if bv.Tag() == element.TagDelete {
			result = result.DeleteMapEntry(k)
			continue
		}
		if av, ok := aEntries[k]; ok {
			result = result.SetMapEntry(k, OverrideWith(av, bv, warnings))
		} else {
			result = result.SetMapEntry(k, bv)
		}
	}
	return result
}

// concatSequences implements the sequence branch of §4.D.3: the
// higher-precedence sequence's items are appended after the
// lower-precedence one's, preserving both in order.
func concatSequences(a, b element.Element) element.Element {
	aItems, _ := a.AsSequence()
	bItems, _ := b.AsSequence()
	result := element.NewSequence()
	result = result.AppendSequence(aItems)
	result = result.AppendSequence(bItems)
	return result
}
