// Package harness runs notebook scenarios against a live Runtime and checks
// the settlements they produce.
//
// A scenario starts from a notebook, either a file on disk or modules
// written inline, applies it, then plays a list of steps. After every step
// the harness waits for the runtime to go idle, so each step observes a
// settled graph.
//
// # Scenario Format
//
//	name: redefine_propagates
//	description: "Redefining a root recomputes its dependents"
//	builtins:
//	  rate: 3
//	modules:
//	  - id: main
//	    cells:
//	      - {id: c1, source: "a = rate * 2"}
//	      - {id: c2, source: "b = a + 1"}
//	steps:
//	  - redefine: {module: main, id: c1, source: "a = 10"}
//	    expect:
//	      - {module: main, name: b, value: 11}
//	  - delete: {module: main, id: c1}
//	    expect:
//	      - {module: main, name: b, error: NOT_DEFINED}
//	  - set: {module: main, name: counter, value: 5}
//	  - turn: 3
//	assertions:
//	  - type: trace_order
//	    events: ["fulfilled a", "fulfilled b"]
//	  - type: trace_count
//	    event: "rejected b"
//	    count: 1
//
// Exactly one action is allowed per step. "set" writes the slot of a
// "mutable" declaration; "turn" advances generators the given number of
// frames.
//
// # Expectations
//
// An expectation names a variable and checks one of:
//
//   - value: the variable is fulfilled and its value equals this one
//   - error: the variable is rejected with this runtime error code, or with
//     an error whose message contains the text when it is not a code
//   - state: the variable is in this state (pending, fulfilled, rejected)
//
// # Assertion Types
//
//   - trace_contains: an event matching the pattern appears in the trace
//   - trace_order: events matching the patterns appear in this order
//   - trace_count: exactly count events match the pattern
//
// A pattern is "<type>", "<type> <name>" or "<type> <module>/<name>".
//
// # Golden Traces
//
// Every settlement is recorded with a per-scenario sequence number.
// Snapshot renders the trace as canonical JSON, which RunWithGolden and
// AssertGolden compare against testdata/golden/<name>.golden. Variable
// versions are left out of the snapshot so goldens survive changes to how
// often the clock is advanced.
package harness
