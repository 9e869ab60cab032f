// Package transport is the HTTP + WebSocket wire layer over
// internal/service, implementing the request/response shapes of
// spec.md §6 for the five core operations (Get, Update, Watch, Trace,
// RunGC). It marshals/unmarshals JSON and translates apierr.Status into
// both an HTTP status code and an in-body status string, since Watch and
// Trace stream many statuses over one long-lived connection where an
// HTTP status code alone cannot carry per-event outcomes.
package transport

import (
	"net/http"

	"github.com/vitaliisemenov/mhconf/internal/apierr"
	"github.com/vitaliisemenov/mhconf/internal/element"
	"github.com/vitaliisemenov/mhconf/internal/intern"
	"github.com/vitaliisemenov/mhconf/internal/merge"
	"github.com/vitaliisemenov/mhconf/internal/nsconfig"
)

// wireNode is one entry of the prefix-ordered node stream §6 "Element
// wire form" describes. SiblingOffset is the number of nodes (including
// this one) to skip to reach the next same-level sibling, letting a
// client walk the tree linearly without recursion. Position is present
// only when the request/watcher asked for it (§8 "with_position=true
// ... receives every node's position; with with_position=false the
// position is absent").
type wireNode struct {
	Kind          string        `json:"kind"`
	Key           string        `json:"key,omitempty"`
	Value         interface{}   `json:"value,omitempty"`
	Position      *wirePosition `json:"position,omitempty"`
	SiblingOffset int           `json:"sibling_offset"`
}

// wirePosition is §6's optional per-node `(source_id, line, col)`:
// source_id indexes into the response's sources[] list.
type wirePosition struct {
	SourceID int `json:"source_id"`
	Line     int `json:"line"`
	Column   int `json:"col"`
}

// wireSource is one entry of the sources[] list §6 names, mapping a
// source_id (its index in the list) to the raw config that produced it.
type wireSource struct {
	Document    string `json:"document"`
	RawConfigID uint32 `json:"raw_config_id"`
	Checksum    uint32 `json:"checksum"`
	HasContent  bool   `json:"has_content"`
}

// encodeElement flattens e into a prefix-ordered wireNode stream.
// withPosition gates whether each node carries its source position;
// sources is the same sources[] list the response carries, used to turn
// a node's origin raw_config_id into a source_id index into that list.
func encodeElement(e element.Element, withPosition bool, sources []merge.Source) []wireNode {
	var out []wireNode
	appendNode(&out, "", e, withPosition, sources)
	return out
}

func appendNode(out *[]wireNode, key string, e element.Element, withPosition bool, sources []merge.Source) {
	idx := len(*out)
	node := wireNode{Kind: kindName(e), Key: key}
	if withPosition {
		node.Position = positionOf(e, sources)
	}
	*out = append(*out, node)

	switch {
	case e.IsMap():
		m, _ := e.AsMap()
		keys := make([]intern.String, 0, len(m))
		for k := range m {
			keys = append(keys, k)
		}
		sortInternStrings(keys)
		for _, k := range keys {
			appendNode(out, k.String(), m[k], withPosition, sources)
		}
	case e.IsSequence():
		seq, _ := e.AsSequence()
		for _, v := range seq {
			appendNode(out, "", v, withPosition, sources)
		}
	default:
		(*out)[idx].Value = scalarValue(e)
	}

	(*out)[idx].SiblingOffset = len(*out) - idx
}

// positionOf resolves e's origin into a wirePosition, or nil if e carries
// no origin (e.g. a synthesized node with no single source file).
func positionOf(e element.Element, sources []merge.Source) *wirePosition {
	o := e.Origin()
	if o == nil {
		return nil
	}
	return &wirePosition{SourceID: sourceIndexFor(o.RawConfigID, sources), Line: o.Line, Column: o.Column}
}

// sourceIndexFor finds rawConfigID's index in sources, the id the sources[]
// list maps source_id to (§6 "sources[] list mapping each source_id to its
// (document_id, raw_config_id, checksum, path)"). -1 if not found, e.g. a
// position referencing a document outside this response's source set.
func sourceIndexFor(rawConfigID uint32, sources []merge.Source) int {
	for i, s := range sources {
		if s.RawConfigID == rawConfigID {
			return i
		}
	}
	return -1
}

func sortInternStrings(keys []intern.String) {
	for i := 1; i < len(keys); i++ {
		for j := i; j > 0 && keys[j-1].String() > keys[j].String(); j-- {
			keys[j-1], keys[j] = keys[j], keys[j-1]
		}
	}
}

func kindName(e element.Element) string {
	switch e.Kind() {
	case element.KindUndefined:
		return "undefined"
	case element.KindNone:
		return "none"
	case element.KindStr:
		return "str"
	case element.KindBin:
		return "bin"
	case element.KindInt64:
		return "int64"
	case element.KindDouble:
		return "double"
	case element.KindBool:
		return "bool"
	case element.KindMap:
		return "map"
	case element.KindSequence:
		return "sequence"
	default:
		return "undefined"
	}
}

func scalarValue(e element.Element) interface{} {
	if v, ok := e.AsStr(); ok {
		return v
	}
	if v, ok := e.AsInt64(); ok {
		return v
	}
	if v, ok := e.AsDouble(); ok {
		return v
	}
	if v, ok := e.AsBool(); ok {
		return v
	}
	if v, ok := e.AsBin(); ok {
		return v
	}
	return nil
}

func encodeSources(srcs []merge.Source) []wireSource {
	out := make([]wireSource, len(srcs))
	for i, s := range srcs {
		out[i] = wireSource{Document: s.Document, RawConfigID: s.RawConfigID, Checksum: s.Checksum, HasContent: s.HasContent}
	}
	return out
}

// httpStatus maps an apierr.Status to an HTTP status code, for the
// plain-HTTP Get/Update/RunGC endpoints. Watch/Trace streams carry the
// status string verbatim in each event instead.
func httpStatus(s apierr.Status) int {
	switch s {
	case apierr.StatusOK:
		return http.StatusOK
	case apierr.StatusInvalidArgument:
		return http.StatusBadRequest
	case apierr.StatusInvalidVersion:
		return http.StatusBadRequest
	case apierr.StatusRefGraphNotDAG:
		return http.StatusUnprocessableEntity
	case apierr.StatusPermissionDenied:
		return http.StatusForbidden
	case apierr.StatusUnauthenticated:
		return http.StatusUnauthorized
	case apierr.StatusUIDInUse:
		return http.StatusConflict
	case apierr.StatusUnknownUID:
		return http.StatusNotFound
	case apierr.StatusRemoved:
		return http.StatusGone
	default:
		return http.StatusInternalServerError
	}
}

func labelsFromQuery(q map[string][]string) nsconfig.Labels {
	pairs := make([]nsconfig.Label, 0, len(q))
	for k, vs := range q {
		if len(vs) == 0 {
			continue
		}
		pairs = append(pairs, nsconfig.Label{Key: k, Value: vs[0]})
	}
	return nsconfig.NewLabels(pairs)
}
