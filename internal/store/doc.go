// Package store provides a SQLite-backed settlement journal.
//
// Every pending, fulfilled and rejected transition a Runtime emits can be
// appended to the journal under a run id. The journal is write-only from
// the engine's point of view: it is read by the trace command and tests,
// never used to restore a Runtime.
//
// # Ordering
//
// Events are ordered by their per-run seq, assigned in emission order.
// Queries always ORDER BY seq ASC so traces are stable regardless of wall
// time.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
//
// Values are stored as canonical JSON where possible (see internal/canon)
// and plain JSON otherwise.
package store
