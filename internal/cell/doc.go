// Package cell describes a single computation of a notebook: its identity,
// the names it reads and the callable that produces its value.
//
// Cells are immutable. Redefining a computation means building a new Cell
// and handing it to the engine, which compares hashes to decide whether the
// change is structural.
//
// Source cells are written as CUE expressions with an optional declaration
// head:
//
//	a = 1
//	b = a + 1
//	viewof slider = {min: 0, max: 10}
//	mutable count = 0
//	greeting = strings.ToUpper("hi " + name)
//
// The dependencies of a parsed cell are the free identifiers of the
// expression in order of first occurrence. That order fixes the positional
// argument order of the callable.
package cell
