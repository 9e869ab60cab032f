package merge

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/vitaliisemenov/mhconf/internal/element"
	"github.com/vitaliisemenov/mhconf/internal/intern"
)

// MaxExpansionDepth bounds !ref/!sref/!format recursion (§4.D.4 "runaway
// expansion is rejected rather than looping forever").
const MaxExpansionDepth = 100

// ErrExpansionTooDeep is returned when a chain of references nests past
// MaxExpansionDepth; it almost always means a cycle CheckDAG didn't catch
// (e.g. through an !sref) or a pathological document.
type ErrExpansionTooDeep struct{ Document string }

func (e *ErrExpansionTooDeep) Error() string {
	return fmt.Sprintf("tag expansion exceeded depth %d resolving %q", MaxExpansionDepth, e.Document)
}

// Expander runs the second fold pass (§4.D.4): a bottom-up walk of a
// folded document tree that resolves !ref (cross-document), !sref
// (same-document), and !format (string interpolation) tags into plain
// values, and drops any !delete tag that survived folding with no base
// value to remove.
type Expander struct {
	Pool     *intern.Pool
	Document string
	// SelfRoot is this document's own folded (pre-expansion) tree, used
	// to resolve !sref path walks.
	SelfRoot element.Element
	// Resolve fetches another document's fully expanded root, or false
	// if it cannot be resolved. It is called while Expand runs, so the
	// Resolver's callback resolves each !ref target on demand.
	Resolve  func(document string) (element.Element, bool)
	Warnings *[]string
}

// Expand resolves every virtual tag reachable from v.
func (x *Expander) Expand(v element.Element) (element.Element, error) {
	return x.expand(v, 0)
}

func (x *Expander) expand(v element.Element, depth int) (element.Element, error) {
	if depth > MaxExpansionDepth {
		return element.Undefined, &ErrExpansionTooDeep{Document: x.Document}
	}

	switch v.Tag() {
	case element.TagDelete:
		x.warn("!delete with no base value to delete")
		return element.Undefined, nil
	case element.TagRef:
		return x.expandRef(v, depth)
	case element.TagSRef:
		return x.expandSRef(v, depth)
	case element.TagFormat:
		return x.expandFormat(v, depth)
	}

	switch {
	case v.IsMap():
		entries, _ := v.AsMap()
		result := element.NewMap()
		for k, sub := range entries {
			expanded, err := x.expand(sub, depth+1)
			if err != nil {
				return element.Undefined, err
			}
			if expanded.IsUndefined() {
				continue
			}
			result = result.SetMapEntry(k, expanded)
		}
		return result.WithOrigin(originOrZero(v)), nil
	case v.IsSequence():
		items, _ := v.AsSequence()
		result := element.NewSequence()
		for _, sub := range items {
			expanded, err := x.expand(sub, depth+1)
			if err != nil {
				return element.Undefined, err
			}
			if expanded.IsUndefined() {
				continue
			}
			result = result.AppendSequence([]element.Element{expanded})
		}
		return result.WithOrigin(originOrZero(v)), nil
	default:
		return v, nil
	}
}

func originOrZero(v element.Element) element.Origin {
	if o := v.Origin(); o != nil {
		return *o
	}
	return element.Origin{}
}

func (x *Expander) warn(format string, args ...any) {
	if x.Warnings == nil {
		return
	}
	*x.Warnings = append(*x.Warnings, fmt.Sprintf(format, args...))
}

func (x *Expander) expandRef(v element.Element, depth int) (element.Element, error) {
	args := v.TagArgs()
	if len(args) == 0 {
		x.warn("!ref with no arguments")
		return element.Undefined, nil
	}
	target, ok := args[0].AsStr()
	if !ok {
		x.warn("!ref document argument is not a string")
		return element.Undefined, nil
	}
	root, ok := x.Resolve(target)
	if !ok {
		x.warn("!ref target document %q not found", target)
		return element.Undefined, nil
	}
	path, err := pathSegments(args[1:])
	if err != nil {
		x.warn("%s", err)
		return element.Undefined, nil
	}
	found, ok := walkPath(root, path)
	if !ok {
		x.warn("!ref path %v not found in document %q", path, target)
		return element.Undefined, nil
	}
	return x.expand(found, depth+1)
}

func (x *Expander) expandSRef(v element.Element, depth int) (element.Element, error) {
	args := v.TagArgs()
	path, err := pathSegments(args)
	if err != nil {
		x.warn("%s", err)
		return element.Undefined, nil
	}
	found, ok := walkPath(x.SelfRoot, path)
	if !ok {
		x.warn("!sref path %v not found in document %q", path, x.Document)
		return element.Undefined, nil
	}
	return x.expand(found, depth+1)
}

func (x *Expander) expandFormat(v element.Element, depth int) (element.Element, error) {
	parts := make([]string, 0, len(v.TagArgs()))
	for _, arg := range v.TagArgs() {
		expanded, err := x.expand(arg, depth+1)
		if err != nil {
			return element.Undefined, err
		}
		parts = append(parts, formatScalar(expanded))
	}
	return element.Str(x.Pool, strings.Join(parts, "")), nil
}

func formatScalar(v element.Element) string {
	switch v.Kind() {
	case element.KindStr:
		s, _ := v.AsStr()
		return s
	case element.KindInt64:
		i, _ := v.AsInt64()
		return strconv.FormatInt(i, 10)
	case element.KindDouble:
		f, _ := v.AsDouble()
		return strconv.FormatFloat(f, 'g', -1, 64)
	case element.KindBool:
		b, _ := v.AsBool()
		return strconv.FormatBool(b)
	case element.KindNone:
		return ""
	default:
		return ""
	}
}

// pathSegments converts a !ref/!sref tag's string-sequence arguments into
// path segments, validating they're all plain strings.
func pathSegments(args []element.Element) ([]string, error) {
	out := make([]string, 0, len(args))
	for _, a := range args {
		s, ok := a.AsStr()
		if !ok {
			return nil, fmt.Errorf("path segment is not a string")
		}
		out = append(out, s)
	}
	return out, nil
}

// walkPath descends root through a sequence of map-key or sequence-index
// segments.
func walkPath(root element.Element, path []string) (element.Element, bool) {
	cur := root
	for _, seg := range path {
		switch {
		case cur.IsMap():
			entries, _ := cur.AsMap()
			var found element.Element
			var ok bool
			for k, v := range entries {
				if k.String() == seg {
					found, ok = v, true
					break
				}
			}
			if !ok {
				return element.Undefined, false
			}
			cur = found
		case cur.IsSequence():
			idx, err := strconv.Atoi(seg)
			if err != nil {
				return element.Undefined, false
			}
			items, _ := cur.AsSequence()
			if idx < 0 || idx >= len(items) {
				return element.Undefined, false
			}
			cur = items[idx]
		default:
			return element.Undefined, false
		}
	}
	return cur, true
}
