package graph

// unionFind is a disjoint-set forest with path compression and union by
// size.
type unionFind[T comparable] struct {
	parent map[T]T
	size   map[T]int
}

func newUnionFind[T comparable](nodes []T) *unionFind[T] {
	uf := &unionFind[T]{
		parent: make(map[T]T, len(nodes)),
		size:   make(map[T]int, len(nodes)),
	}
	for _, n := range nodes {
		uf.parent[n] = n
		uf.size[n] = 1
	}
	return uf
}

func (uf *unionFind[T]) has(n T) bool {
	_, ok := uf.parent[n]
	return ok
}

func (uf *unionFind[T]) find(n T) T {
	root := n
	for uf.parent[root] != root {
		root = uf.parent[root]
	}
	for uf.parent[n] != root {
		next := uf.parent[n]
		uf.parent[n] = root
		n = next
	}
	return root
}

func (uf *unionFind[T]) union(a, b T) {
	ra, rb := uf.find(a), uf.find(b)
	if ra == rb {
		return
	}
	if uf.size[ra] < uf.size[rb] {
		ra, rb = rb, ra
	}
	uf.parent[rb] = ra
	uf.size[ra] += uf.size[rb]
}
