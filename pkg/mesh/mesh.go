// Package mesh indexes node and element records by label and keeps the
// node to element adjacency.
package mesh

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"

	"github.com/ndisidore/inpdeck/pkg/scalar"
	"github.com/ndisidore/inpdeck/pkg/slogctx"
)

// Sentinel errors for consistency checks.
var (
	ErrMissingNode   = errors.New("element references undefined node")
	ErrStaleAdjacent = errors.New("adjacency entry is stale")
)

// Node is one *NODE record.
type Node struct {
	Label  int64
	Coords []scalar.Scalar
	// Owner identifies the block that defines the node.
	Owner int
}

// Element is one *ELEMENT record.
type Element struct {
	Label int64
	Type  string
	Nodes []int64
	Owner int
}

// Index stores nodes and elements by label. It is not safe for concurrent
// mutation.
type Index struct {
	nodes    map[int64]Node
	elements map[int64]Element
	adj      map[int64]map[int64]struct{}
}

// New returns an empty Index.
func New() *Index {
	return &Index{
		nodes:    make(map[int64]Node),
		elements: make(map[int64]Element),
		adj:      make(map[int64]map[int64]struct{}),
	}
}

// InsertNode stores n. A duplicate label replaces the prior node and logs
// a warning.
func (m *Index) InsertNode(ctx context.Context, n Node) {
	if prev, ok := m.nodes[n.Label]; ok {
		slogctx.FromContext(ctx).LogAttrs(ctx, slog.LevelWarn, "duplicate node label replaces earlier definition",
			slog.Int64("label", n.Label),
			slog.Int("previous_owner", prev.Owner),
			slog.Int("owner", n.Owner),
		)
	}
	m.nodes[n.Label] = n
}

// InsertElement stores e and links it to its nodes. A duplicate label
// replaces the prior element and logs a warning.
func (m *Index) InsertElement(ctx context.Context, e Element) {
	if prev, ok := m.elements[e.Label]; ok {
		slogctx.FromContext(ctx).LogAttrs(ctx, slog.LevelWarn, "duplicate element label replaces earlier definition",
			slog.Int64("label", e.Label),
			slog.Int("previous_owner", prev.Owner),
			slog.Int("owner", e.Owner),
		)
		m.unlink(prev)
	}
	m.elements[e.Label] = e
	m.link(e)
}

func (m *Index) link(e Element) {
	for _, n := range e.Nodes {
		set, ok := m.adj[n]
		if !ok {
			set = make(map[int64]struct{}, 1)
			m.adj[n] = set
		}
		set[e.Label] = struct{}{}
	}
}

func (m *Index) unlink(e Element) {
	for _, n := range e.Nodes {
		if set, ok := m.adj[n]; ok {
			delete(set, e.Label)
			if len(set) == 0 {
				delete(m.adj, n)
			}
		}
	}
}

// Node returns the node with the given label.
func (m *Index) Node(label int64) (Node, bool) {
	n, ok := m.nodes[label]
	return n, ok
}

// Element returns the element with the given label.
func (m *Index) Element(label int64) (Element, bool) {
	e, ok := m.elements[label]
	return e, ok
}

// DeleteNode removes a node. Elements citing it are left untouched.
func (m *Index) DeleteNode(label int64) (Node, bool) {
	n, ok := m.nodes[label]
	if ok {
		delete(m.nodes, label)
	}
	return n, ok
}

// DeleteElement removes an element and its adjacency entries. Nodes left
// without elements are kept; see Orphans.
func (m *Index) DeleteElement(label int64) (Element, bool) {
	e, ok := m.elements[label]
	if !ok {
		return Element{}, false
	}
	delete(m.elements, label)
	m.unlink(e)
	return e, true
}

// ReplaceNode substitutes node old with node repl in element elem.
func (m *Index) ReplaceNode(elem, old, repl int64) bool {
	e, ok := m.elements[elem]
	if !ok {
		return false
	}
	m.unlink(e)
	nodes := slices.Clone(e.Nodes)
	for i, n := range nodes {
		if n == old {
			nodes[i] = repl
		}
	}
	e.Nodes = nodes
	m.elements[elem] = e
	m.link(e)
	return true
}

// ElementsOf returns the elements citing node, in ascending label order.
func (m *Index) ElementsOf(node int64) []int64 {
	return slices.Sorted(maps.Keys(m.adj[node]))
}

// Orphans returns the candidate nodes that no element cites, in ascending
// label order.
func (m *Index) Orphans(candidates []int64) []int64 {
	var out []int64
	for _, n := range candidates {
		if len(m.adj[n]) == 0 {
			out = append(out, n)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}

// RebuildAdjacency recomputes node adjacency from the element store.
func (m *Index) RebuildAdjacency() {
	m.adj = make(map[int64]map[int64]struct{}, len(m.nodes))
	for _, e := range m.elements {
		m.link(e)
	}
}

// NodeLabels returns all node labels in ascending order.
func (m *Index) NodeLabels() []int64 {
	return slices.Sorted(maps.Keys(m.nodes))
}

// ElementLabels returns all element labels in ascending order.
func (m *Index) ElementLabels() []int64 {
	return slices.Sorted(maps.Keys(m.elements))
}

// NumNodes returns the node count.
func (m *Index) NumNodes() int { return len(m.nodes) }

// NumElements returns the element count.
func (m *Index) NumElements() int { return len(m.elements) }

// Check verifies that every element cites existing nodes and that the
// adjacency matches the element store.
func (m *Index) Check() error {
	var errs []error
	for _, label := range m.ElementLabels() {
		e := m.elements[label]
		for _, n := range e.Nodes {
			if _, ok := m.nodes[n]; !ok {
				errs = append(errs, fmt.Errorf("element %d node %d: %w", label, n, ErrMissingNode))
			}
			if _, ok := m.adj[n][label]; !ok {
				errs = append(errs, fmt.Errorf("node %d lacks element %d: %w", n, label, ErrStaleAdjacent))
			}
		}
	}
	for _, n := range slices.Sorted(maps.Keys(m.adj)) {
		for _, el := range slices.Sorted(maps.Keys(m.adj[n])) {
			e, ok := m.elements[el]
			if !ok || !slices.Contains(e.Nodes, n) {
				errs = append(errs, fmt.Errorf("node %d lists element %d: %w", n, el, ErrStaleAdjacent))
			}
		}
	}
	return errors.Join(errs...)
}

// Clone returns a deep copy.
func (m *Index) Clone() *Index {
	out := New()
	for k, n := range m.nodes {
		n.Coords = slices.Clone(n.Coords)
		out.nodes[k] = n
	}
	for k, e := range m.elements {
		e.Nodes = slices.Clone(e.Nodes)
		out.elements[k] = e
	}
	for k, set := range m.adj {
		out.adj[k] = maps.Clone(set)
	}
	return out
}
