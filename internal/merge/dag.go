package merge

import (
	"fmt"

	"github.com/vitaliisemenov/mhconf/internal/element"
)

// CollectReferences walks a decoded (pre-expansion) element tree and
// returns the set of document names its !ref tags point into (§4.D.5:
// the reference graph's edges are exactly these cross-document !ref
// targets; !sref never leaves the current document so it contributes no
// edge). The first tag argument of a !ref node is always the target
// document name (§3).
func CollectReferences(v element.Element) map[string]struct{} {
	refs := make(map[string]struct{})
	collectReferences(v, refs)
	return refs
}

func collectReferences(v element.Element, out map[string]struct{}) {
	if v.Tag() == element.TagRef {
		if args := v.TagArgs(); len(args) > 0 {
			if doc, ok := args[0].AsStr(); ok {
				out[doc] = struct{}{}
			}
		}
		for _, a := range v.TagArgs() {
			collectReferences(a, out)
		}
		return
	}
	if v.IsMap() {
		entries, _ := v.AsMap()
		for _, sub := range entries {
			collectReferences(sub, out)
		}
	}
	if v.IsSequence() {
		items, _ := v.AsSequence()
		for _, sub := range items {
			collectReferences(sub, out)
		}
	}
}

// Graph is a cross-document reference adjacency list: edges[a] is the
// set of documents a's !ref tags point at.
type Graph struct {
	edges map[string]map[string]struct{}
}

// NewGraph builds an empty graph.
func NewGraph() *Graph {
	return &Graph{edges: make(map[string]map[string]struct{})}
}

// AddEdges records that document references every document in targets.
func (g *Graph) AddEdges(document string, targets map[string]struct{}) {
	if _, ok := g.edges[document]; !ok {
		g.edges[document] = make(map[string]struct{})
	}
	for t := range targets {
		g.edges[document][t] = struct{}{}
	}
}

// CycleError reports a detected reference cycle, with the path of
// document names that closes it (§6 ref_graph_is_not_dag).
type CycleError struct {
	Cycle []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("reference graph is not a DAG: %v", e.Cycle)
}

// CheckDAG walks the whole graph depth-first, returning a CycleError at
// the first cycle found (§4.D.5). Safe to call repeatedly; it performs
// no mutation.
func (g *Graph) CheckDAG() error {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(g.edges))
	var stack []string

	var visit func(node string) error
	visit = func(node string) error {
		color[node] = gray
		stack = append(stack, node)
		for next := range g.edges[node] {
			switch color[next] {
			case white:
				if err := visit(next); err != nil {
					return err
				}
			case gray:
				cycle := append([]string(nil), stack...)
				cycle = append(cycle, next)
				return &CycleError{Cycle: cycle}
			}
		}
		stack = stack[:len(stack)-1]
		color[node] = black
		return nil
	}

	nodes := make([]string, 0, len(g.edges))
	for n := range g.edges {
		nodes = append(nodes, n)
	}
	for _, n := range nodes {
		if color[n] == white {
			if err := visit(n); err != nil {
				return err
			}
		}
	}
	return nil
}

// TopoOrder returns documents in an order where every node appears after
// everything it references, so resolvers can resolve !ref targets before
// the documents that point at them (§4.D.5 "processed in reference order").
// The graph must already be acyclic; callers should run CheckDAG first.
func (g *Graph) TopoOrder() []string {
	visited := make(map[string]bool, len(g.edges))
	var order []string

	var visit func(node string)
	visit = func(node string) {
		if visited[node] {
			return
		}
		visited[node] = true
		for next := range g.edges[node] {
			visit(next)
		}
		order = append(order, node)
	}

	nodes := make([]string, 0, len(g.edges))
	for n := range g.edges {
		nodes = append(nodes, n)
	}
	for _, n := range nodes {
		visit(n)
	}
	return order
}
