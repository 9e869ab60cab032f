// Package yamlvalue converts parsed YAML documents into element.Element
// trees, recognizing the virtual tags spec.md §3/§4.D define over the
// plain scalar/map/sequence kinds: !ref, !sref, !format, !delete,
// !override.
package yamlvalue

import (
	"fmt"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/vitaliisemenov/mhconf/internal/element"
	"github.com/vitaliisemenov/mhconf/internal/intern"
)

// Warning is a non-fatal parse note attached to the request log (§7
// "Local recovery is attempted for parse-level tag oddities").
type Warning struct {
	Message string
	Line    int
	Column  int
}

// Decoder converts yaml.Node trees into element.Element, interning
// string content through pool and stamping origin metadata for
// diagnostics (§3 Element.origin).
type Decoder struct {
	Pool          *intern.Pool
	DocumentID    uint32
	RawConfigID   uint32
	Warnings      []Warning
}

// NewDecoder constructs a Decoder for one raw config file.
func NewDecoder(pool *intern.Pool, documentID, rawConfigID uint32) *Decoder {
	return &Decoder{Pool: pool, DocumentID: documentID, RawConfigID: rawConfigID}
}

func (d *Decoder) warn(n *yaml.Node, format string, args ...any) {
	d.Warnings = append(d.Warnings, Warning{
		Message: fmt.Sprintf(format, args...),
		Line:    n.Line,
		Column:  n.Column,
	})
}

func (d *Decoder) origin(n *yaml.Node) element.Origin {
	return element.Origin{DocumentID: d.DocumentID, RawConfigID: d.RawConfigID, Line: n.Line, Column: n.Column}
}

// DecodeDocument decodes the root mapping/sequence/scalar of a parsed
// YAML document (i.e. the single child of a yaml.DocumentNode).
func (d *Decoder) DecodeDocument(doc *yaml.Node) (element.Element, error) {
	if doc.Kind == yaml.DocumentNode {
		if len(doc.Content) == 0 {
			return element.None, nil
		}
		return d.decodeNode(doc.Content[0])
	}
	return d.decodeNode(doc)
}

func (d *Decoder) decodeNode(n *yaml.Node) (element.Element, error) {
	switch n.Kind {
	case yaml.ScalarNode:
		return d.decodeScalar(n)
	case yaml.MappingNode:
		return d.decodeMapping(n)
	case yaml.SequenceNode:
		return d.decodeSequence(n)
	case yaml.AliasNode:
		return d.decodeNode(n.Alias)
	default:
		d.warn(n, "unsupported yaml node kind %d", n.Kind)
		return element.Undefined, nil
	}
}

func (d *Decoder) decodeScalar(n *yaml.Node) (element.Element, error) {
	virtualTag, _, isVirtual := parseVirtualTag(n.Tag)
	if isVirtual {
		return d.decodeVirtualScalar(n, virtualTag, n.Value)
	}

	switch n.Tag {
	case "!!null":
		return element.None.WithOrigin(d.origin(n)), nil
	case "!!bool":
		b, err := strconv.ParseBool(n.Value)
		if err != nil {
			d.warn(n, "invalid bool scalar %q", n.Value)
			return element.Undefined, nil
		}
		return element.Bool(b).WithOrigin(d.origin(n)), nil
	case "!!int":
		i, err := strconv.ParseInt(n.Value, 10, 64)
		if err != nil {
			d.warn(n, "invalid int scalar %q", n.Value)
			return element.Undefined, nil
		}
		return element.Int64(i).WithOrigin(d.origin(n)), nil
	case "!!float":
		f, err := strconv.ParseFloat(n.Value, 64)
		if err != nil {
			d.warn(n, "invalid float scalar %q", n.Value)
			return element.Undefined, nil
		}
		return element.Double(f).WithOrigin(d.origin(n)), nil
	case "!!binary":
		data, ok := DecodeBinaryTag(n.Value)
		if !ok {
			d.warn(n, "invalid base64 in !!binary scalar")
			return element.Bin(nil).WithOrigin(d.origin(n)), nil
		}
		return element.Bin(data).WithOrigin(d.origin(n)), nil
	default:
		return element.Str(d.Pool, n.Value).WithOrigin(d.origin(n)), nil
	}
}

func (d *Decoder) decodeVirtualScalar(n *yaml.Node, tag element.Tag, argsRaw string) (element.Element, error) {
	switch tag {
	case element.TagDelete:
		return element.None.WithTag(element.TagDelete, nil).WithOrigin(d.origin(n)), nil
	default:
		// sref/ref/format/override on a bare scalar node still need their
		// path/seq arguments; represented as a one-element string arg list.
		arg := element.Str(d.Pool, argsRaw).WithOrigin(d.origin(n))
		return element.None.WithTag(tag, []element.Element{arg}).WithOrigin(d.origin(n)), nil
	}
}

func (d *Decoder) decodeMapping(n *yaml.Node) (element.Element, error) {
	virtualTag, _, isVirtual := parseVirtualTag(n.Tag)

	m := element.NewMap()
	for i := 0; i+1 < len(n.Content); i += 2 {
		keyNode, valNode := n.Content[i], n.Content[i+1]
		if keyNode.Kind != yaml.ScalarNode {
			d.warn(keyNode, "non-scalar map key ignored")
			continue
		}
		val, err := d.decodeNode(valNode)
		if err != nil {
			return element.Undefined, err
		}
		m = m.SetMapEntry(d.Pool.Intern([]byte(keyNode.Value)), val)
	}
	m = m.WithOrigin(d.origin(n))
	if isVirtual {
		m = m.WithTag(virtualTag, nil)
	}
	return m, nil
}

func (d *Decoder) decodeSequence(n *yaml.Node) (element.Element, error) {
	virtualTag, _, isVirtual := parseVirtualTag(n.Tag)

	seq := element.NewSequence()
	for _, item := range n.Content {
		v, err := d.decodeNode(item)
		if err != nil {
			return element.Undefined, err
		}
		seq = seq.AppendSequence([]element.Element{v})
	}
	seq = seq.WithOrigin(d.origin(n))

	if isVirtual {
		switch virtualTag {
		case element.TagRef, element.TagSRef, element.TagFormat:
			items, _ := seq.AsSequence()
			return element.None.WithTag(virtualTag, items).WithOrigin(d.origin(n)), nil
		default:
			seq = seq.WithTag(virtualTag, nil)
		}
	}
	return seq, nil
}

// parseVirtualTag recognizes the custom tags spec.md §3 names:
// !ref, !sref, !format, !delete, !override.
func parseVirtualTag(tag string) (element.Tag, string, bool) {
	switch tag {
	case "!ref":
		return element.TagRef, "", true
	case "!sref":
		return element.TagSRef, "", true
	case "!format":
		return element.TagFormat, "", true
	case "!delete":
		return element.TagDelete, "", true
	case "!override":
		return element.TagOverride, "", true
	default:
		return element.TagNone, "", false
	}
}
