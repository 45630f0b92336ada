// Package engine implements the cellflow reactive runtime.
//
// A Runtime holds Modules; a Module binds names to Variables; a Variable is
// the live instance of a cell.Cell. Defining, redefining or deleting a cell
// marks Variables dirty, and the scheduler recomputes exactly the
// downstream closure of what changed, in dependency order.
//
// ARCHITECTURE:
//
// Single lock, queued completions:
// Every graph mutation and scheduling decision happens while the Runtime
// mutex is held. Work that arrives from other goroutines (a deferred
// settling, an accessor write) is posted to a task queue and drained by the
// lock holder before it releases the lock. There is exactly one scheduler
// at a time and it is never reentered.
//
// Pass structure:
//  1. dirty Variables are grouped by owning Module
//  2. the downstream closure of each group goes Pending with fresh versions
//  3. graph-shape errors (NotDefined, DuplicateDefinition,
//     CircularDependency) reject the responsible Variables directly
//  4. Variables with no pending inputs compute in topological order; every
//     other Variable computes when its last pending input settles
//
// Version guard:
// Every computation carries the version it was started at. A result whose
// version is older than the latest committed one of its Variable is
// discarded. An older result landing while a newer computation runs is
// committed in the interim; the newer outcome then replaces it and
// invalidates the outputs. This is the only ordering contract for
// asynchronous results.
//
// Generators:
// A cell body may return an async.Generator. The first step is taken
// immediately; Turn takes one further step per registered generator and
// marks the outputs dirty after each.
//
// Observing outcomes:
// Hosts subscribe with Runtime.On to "pending", "fulfilled", "rejected" or
// to the per-variable form "fulfilled:<moduleID>/<cellID>". Snapshots are
// readable at any time without locking and reflect the last commit only.
package engine
