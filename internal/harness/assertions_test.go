package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/cellflow/internal/engine"
)

func sampleTrace() []TraceEvent {
	return []TraceEvent{
		{Seq: 1, Type: engine.EventPending, Module: "lib", Name: "a"},
		{Seq: 2, Type: engine.EventFulfilled, Module: "lib", Name: "a", Value: int64(1)},
		{Seq: 3, Type: engine.EventPending, Module: "main", Name: "a"},
		{Seq: 4, Type: engine.EventFulfilled, Module: "main", Name: "a", Value: int64(1)},
		{Seq: 5, Type: engine.EventRejected, Module: "main", Name: "mutable n", Code: "NOT_DEFINED"},
	}
}

func TestEvaluateAssertions(t *testing.T) {
	tests := []struct {
		name      string
		assertion Assertion
		wantErr   string
	}{
		{"contains by type", Assertion{Type: AssertTraceContains, Event: "rejected"}, ""},
		{"contains spaced name", Assertion{Type: AssertTraceContains, Event: "rejected mutable n"}, ""},
		{"contains missing", Assertion{Type: AssertTraceContains, Event: "rejected a"}, `no event matches "rejected a"`},
		{"count across modules", Assertion{Type: AssertTraceCount, Event: "fulfilled a", Count: 2}, ""},
		{"count scoped", Assertion{Type: AssertTraceCount, Event: "fulfilled main/a", Count: 1}, ""},
		{"count zero", Assertion{Type: AssertTraceCount, Event: "fulfilled b", Count: 0}, ""},
		{"count wrong", Assertion{Type: AssertTraceCount, Event: "pending", Count: 3}, "expected 3 events matching \"pending\", got 2"},
		{"order", Assertion{Type: AssertTraceOrder, Events: []string{"fulfilled lib/a", "pending main/a", "rejected"}}, ""},
		{"order reversed", Assertion{Type: AssertTraceOrder, Events: []string{"fulfilled main/a", "pending lib/a"}}, `event 1 "pending lib/a" not found after seq 4`},
		{"order repeated", Assertion{Type: AssertTraceOrder, Events: []string{"fulfilled a", "fulfilled a"}}, ""},
		{"unknown", Assertion{Type: "final_state"}, "unknown assertion type"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			failures := EvaluateAssertions([]Assertion{tt.assertion}, sampleTrace())
			if tt.wantErr == "" {
				assert.Empty(t, failures)
				return
			}
			require.Len(t, failures, 1)
			assert.Contains(t, failures[0].Error(), tt.wantErr)
		})
	}
}

func TestParsePattern(t *testing.T) {
	assert.Equal(t, pattern{typ: "pending"}, parsePattern("pending"))
	assert.Equal(t, pattern{typ: "fulfilled", name: "x"}, parsePattern(" fulfilled x "))
	assert.Equal(t, pattern{typ: "fulfilled", module: "m", name: "viewof x"}, parsePattern("fulfilled m/viewof x"))
}
