package harness

import (
	"github.com/roach88/cellflow/internal/engine"
)

// TraceEvent is one settlement observed while a scenario ran.
type TraceEvent struct {
	// Seq numbers events from 1 in the order the runtime emitted them.
	Seq int64

	Type   engine.EventType
	Module string
	Cell   string
	Name   string

	// Value is set for fulfilled events.
	Value any

	// Error and Code are set for rejected events. Code is empty for errors
	// raised by cell bodies.
	Error string
	Code  string
}

// Result carries the outcome of a scenario run.
type Result struct {
	// Pass is false once any expectation or assertion failed.
	Pass bool

	// Trace lists every event in emission order.
	Trace []TraceEvent

	// Errors describes each failure.
	Errors []string
}

// NewResult creates a passing Result with an empty trace.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError records a failure.
func (r *Result) AddError(msg string) {
	r.Pass = false
	r.Errors = append(r.Errors, msg)
}

// record appends e to the trace.
func (r *Result) record(e engine.Event) {
	te := TraceEvent{
		Seq:    int64(len(r.Trace) + 1),
		Type:   e.Type,
		Module: e.Module,
		Cell:   e.Cell,
		Name:   e.Name,
	}
	switch e.Type {
	case engine.EventFulfilled:
		te.Value = e.Value
	case engine.EventRejected:
		if e.Err != nil {
			te.Error = e.Err.Error()
		}
		te.Code = errorCode(e.Err)
	}
	r.Trace = append(r.Trace, te)
}
