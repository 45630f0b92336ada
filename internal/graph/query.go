package graph

// Order is the result of Topological.
type Order[T Node] struct {
	// Roots are the members of the closure with no incoming edge from
	// another member.
	Roots []T
	// Sorted lists every member Kahn's algorithm could dequeue, in
	// dequeue order.
	Sorted []T
	// Circular lists the members Kahn's algorithm never dequeues: nodes on
	// a cycle and nodes downstream of one.
	Circular []T
}

// Nodes returns Sorted followed by Circular.
func (o Order[T]) Nodes() []T {
	out := make([]T, 0, len(o.Sorted)+len(o.Circular))
	out = append(out, o.Sorted...)
	return append(out, o.Circular...)
}

// Connected returns the downstream closure of seeds, seeds included, in
// breadth-first discovery order. Seeds not in the graph are skipped.
func (g *Graph[T]) Connected(seeds ...T) []T {
	seen := make(map[T]struct{}, len(seeds))
	var out []T
	for _, s := range seeds {
		if !g.Has(s) {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	for i := 0; i < len(out); i++ {
		for _, next := range g.Outgoing(out[i]) {
			if _, ok := seen[next]; ok {
				continue
			}
			seen[next] = struct{}{}
			out = append(out, next)
		}
	}
	return out
}

// Roots returns the members of nodes with no incoming edge from another
// member of nodes. A self-loop does count as an incoming edge.
func (g *Graph[T]) Roots(nodes []T) []T {
	members := setOf(nodes)
	var out []T
	for _, n := range nodes {
		root := true
		for from := range g.incoming[n] {
			if _, ok := members[from]; ok {
				root = false
				break
			}
		}
		if root {
			out = append(out, n)
		}
	}
	return out
}

// Topological runs Kahn's algorithm over Connected(seeds...).
func (g *Graph[T]) Topological(seeds ...T) Order[T] {
	closure := g.Connected(seeds...)
	g.sort(closure)
	members := setOf(closure)

	indegree := make(map[T]int, len(closure))
	for _, n := range closure {
		for from := range g.incoming[n] {
			if _, ok := members[from]; ok {
				indegree[n]++
			}
		}
	}

	order := Order[T]{Roots: g.Roots(closure)}
	queue := append([]T(nil), order.Roots...)
	dequeued := make(map[T]struct{}, len(closure))
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		dequeued[n] = struct{}{}
		order.Sorted = append(order.Sorted, n)
		for _, next := range g.Outgoing(n) {
			if _, ok := members[next]; !ok {
				continue
			}
			indegree[next]--
			if indegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}

	for _, n := range closure {
		if _, ok := dequeued[n]; !ok {
			order.Circular = append(order.Circular, n)
		}
	}
	return order
}

// Cycles returns the strongly connected components of the subgraph induced
// by nodes that form a cycle: components of more than one node, or a single
// node with a self-loop. Components and their members are in insertion
// order.
func (g *Graph[T]) Cycles(nodes []T) [][]T {
	members := setOf(nodes)
	ordered := append([]T(nil), nodes...)
	g.sort(ordered)

	out := StronglyConnected(ordered, func(n T) []T {
		var next []T
		for _, w := range g.Outgoing(n) {
			if _, ok := members[w]; ok {
				next = append(next, w)
			}
		}
		return next
	})
	for _, scc := range out {
		g.sort(scc)
	}
	sortGroups(g, out)
	return out
}

// StronglyConnected runs Tarjan's algorithm over every node reachable from
// seeds, with successors given by next, and returns the components that
// form a cycle: more than one node, or a node that is its own successor.
// Components are listed in the order the algorithm completes them.
func StronglyConnected[T comparable](seeds []T, next func(T) []T) [][]T {
	var (
		index   int
		stack   []T
		indices = make(map[T]int)
		lowlink = make(map[T]int)
		onStack = make(map[T]bool)
		out     [][]T
	)

	var strongConnect func(T)
	strongConnect = func(v T) {
		indices[v] = index
		lowlink[v] = index
		index++
		stack = append(stack, v)
		onStack[v] = true

		selfLoop := false
		for _, w := range next(v) {
			if w == v {
				selfLoop = true
			}
			if _, visited := indices[w]; !visited {
				strongConnect(w)
				lowlink[v] = min(lowlink[v], lowlink[w])
			} else if onStack[w] {
				lowlink[v] = min(lowlink[v], indices[w])
			}
		}

		if lowlink[v] != indices[v] {
			return
		}
		var scc []T
		for {
			w := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			onStack[w] = false
			scc = append(scc, w)
			if w == v {
				break
			}
		}
		if len(scc) > 1 || selfLoop {
			out = append(out, scc)
		}
	}

	for _, n := range seeds {
		if _, visited := indices[n]; !visited {
			strongConnect(n)
		}
	}
	return out
}

// Components partitions nodes into weakly connected components, ignoring
// edge direction and edges leaving the set. Each component and the list of
// components are in insertion order.
func (g *Graph[T]) Components(nodes []T) [][]T {
	uf := newUnionFind(nodes)
	for _, n := range nodes {
		for to := range g.outgoing[n] {
			if uf.has(to) {
				uf.union(n, to)
			}
		}
	}

	groups := make(map[T][]T)
	var rootsSeen []T
	ordered := append([]T(nil), nodes...)
	g.sort(ordered)
	for _, n := range ordered {
		r := uf.find(n)
		if _, ok := groups[r]; !ok {
			rootsSeen = append(rootsSeen, r)
		}
		groups[r] = append(groups[r], n)
	}

	out := make([][]T, 0, len(groups))
	for _, r := range rootsSeen {
		out = append(out, groups[r])
	}
	return out
}

func sortGroups[T Node](g *Graph[T], groups [][]T) {
	for i := 1; i < len(groups); i++ {
		for j := i; j > 0 && g.order[groups[j][0]] < g.order[groups[j-1][0]]; j-- {
			groups[j], groups[j-1] = groups[j-1], groups[j]
		}
	}
}

func setOf[T comparable](nodes []T) map[T]struct{} {
	set := make(map[T]struct{}, len(nodes))
	for _, n := range nodes {
		set[n] = struct{}{}
	}
	return set
}
