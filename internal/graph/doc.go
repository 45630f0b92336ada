// Package graph provides a generic directed graph with the queries the
// scheduler needs: downstream closure, roots of a subset, Kahn topological
// order with its unresolvable residual, strongly connected components and
// undirected components.
//
// Every query result is deterministic: nodes are ordered by the time they
// were first added, never by map iteration order.
//
// Graph is not safe for concurrent use. The engine only touches it while
// holding its own lock.
package graph
