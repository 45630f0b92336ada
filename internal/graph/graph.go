package graph

import "slices"

// Node is the constraint on graph members. NodeKey is used only for
// diagnostics; identity is Go equality of the node value.
type Node interface {
	comparable
	NodeKey() string
}

// ChangeKind identifies a structural graph mutation.
type ChangeKind int

const (
	// NodeAdded is reported when a node joins the graph.
	NodeAdded ChangeKind = iota + 1
	// NodeRemoved is reported when a node and its edges leave the graph.
	NodeRemoved
	// EdgeAdded is reported for a new edge.
	EdgeAdded
	// EdgeRemoved is reported for a removed edge.
	EdgeRemoved
)

// String returns the change kind name.
func (k ChangeKind) String() string {
	switch k {
	case NodeAdded:
		return "node_added"
	case NodeRemoved:
		return "node_removed"
	case EdgeAdded:
		return "edge_added"
	case EdgeRemoved:
		return "edge_removed"
	default:
		return "unknown"
	}
}

// Change describes one mutation. For node changes From is the node and To
// is the zero value.
type Change[T Node] struct {
	Kind ChangeKind
	From T
	To   T
}

// Graph is a directed graph over T. Every edge u→v is recorded both in
// outgoing[u] and incoming[v].
type Graph[T Node] struct {
	seq      int64
	order    map[T]int64
	outgoing map[T]map[T]struct{}
	incoming map[T]map[T]struct{}
	watchers []func(Change[T])
}

// New returns an empty graph.
func New[T Node]() *Graph[T] {
	return &Graph[T]{
		order:    make(map[T]int64),
		outgoing: make(map[T]map[T]struct{}),
		incoming: make(map[T]map[T]struct{}),
	}
}

// Watch registers fn to be called after every structural change.
func (g *Graph[T]) Watch(fn func(Change[T])) {
	g.watchers = append(g.watchers, fn)
}

func (g *Graph[T]) emit(c Change[T]) {
	for _, fn := range g.watchers {
		fn(c)
	}
}

// AddNode adds n. It reports false if n was already present.
func (g *Graph[T]) AddNode(n T) bool {
	if _, ok := g.order[n]; ok {
		return false
	}
	g.seq++
	g.order[n] = g.seq
	g.outgoing[n] = make(map[T]struct{})
	g.incoming[n] = make(map[T]struct{})
	g.emit(Change[T]{Kind: NodeAdded, From: n})
	return true
}

// Has reports whether n is in the graph.
func (g *Graph[T]) Has(n T) bool {
	_, ok := g.order[n]
	return ok
}

// Len returns the number of nodes.
func (g *Graph[T]) Len() int {
	return len(g.order)
}

// AddEdge adds from→to, adding missing endpoints. Self-loops are allowed;
// they make the node circular. Reports false if the edge already existed.
func (g *Graph[T]) AddEdge(from, to T) bool {
	g.AddNode(from)
	g.AddNode(to)
	if _, ok := g.outgoing[from][to]; ok {
		return false
	}
	g.outgoing[from][to] = struct{}{}
	g.incoming[to][from] = struct{}{}
	g.emit(Change[T]{Kind: EdgeAdded, From: from, To: to})
	return true
}

// HasEdge reports whether from→to exists.
func (g *Graph[T]) HasEdge(from, to T) bool {
	_, ok := g.outgoing[from][to]
	return ok
}

// RemoveEdge removes from→to. Reports false if it did not exist.
func (g *Graph[T]) RemoveEdge(from, to T) bool {
	if _, ok := g.outgoing[from][to]; !ok {
		return false
	}
	delete(g.outgoing[from], to)
	delete(g.incoming[to], from)
	g.emit(Change[T]{Kind: EdgeRemoved, From: from, To: to})
	return true
}

// RemoveNode removes n and every edge touching it.
func (g *Graph[T]) RemoveNode(n T) bool {
	if !g.Has(n) {
		return false
	}
	for _, to := range g.Outgoing(n) {
		g.RemoveEdge(n, to)
	}
	for _, from := range g.Incoming(n) {
		g.RemoveEdge(from, n)
	}
	delete(g.outgoing, n)
	delete(g.incoming, n)
	delete(g.order, n)
	g.emit(Change[T]{Kind: NodeRemoved, From: n})
	return true
}

// Nodes returns every node in insertion order.
func (g *Graph[T]) Nodes() []T {
	out := make([]T, 0, len(g.order))
	for n := range g.order {
		out = append(out, n)
	}
	g.sort(out)
	return out
}

// Outgoing returns the direct successors of n.
func (g *Graph[T]) Outgoing(n T) []T {
	return g.sorted(g.outgoing[n])
}

// Incoming returns the direct predecessors of n.
func (g *Graph[T]) Incoming(n T) []T {
	return g.sorted(g.incoming[n])
}

func (g *Graph[T]) sorted(set map[T]struct{}) []T {
	out := make([]T, 0, len(set))
	for n := range set {
		out = append(out, n)
	}
	g.sort(out)
	return out
}

func (g *Graph[T]) sort(nodes []T) {
	slices.SortFunc(nodes, func(a, b T) int {
		oa, ob := g.order[a], g.order[b]
		switch {
		case oa < ob:
			return -1
		case oa > ob:
			return 1
		default:
			return 0
		}
	})
}
