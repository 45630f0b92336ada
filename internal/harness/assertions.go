package harness

import (
	"fmt"
	"strings"
)

// AssertionError describes a failed assertion.
type AssertionError struct {
	Type    string
	Message string
}

func (e *AssertionError) Error() string {
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// EvaluateAssertions checks each assertion against trace and returns the
// failures.
func EvaluateAssertions(assertions []Assertion, trace []TraceEvent) []*AssertionError {
	var failures []*AssertionError
	for _, a := range assertions {
		if err := evaluate(a, trace); err != nil {
			failures = append(failures, err)
		}
	}
	return failures
}

func evaluate(a Assertion, trace []TraceEvent) *AssertionError {
	switch a.Type {
	case AssertTraceContains:
		p := parsePattern(a.Event)
		for _, e := range trace {
			if p.matches(e) {
				return nil
			}
		}
		return &AssertionError{Type: a.Type, Message: fmt.Sprintf("no event matches %q", a.Event)}

	case AssertTraceOrder:
		return traceOrder(a, trace)

	case AssertTraceCount:
		p := parsePattern(a.Event)
		n := 0
		for _, e := range trace {
			if p.matches(e) {
				n++
			}
		}
		if n != a.Count {
			return &AssertionError{
				Type:    a.Type,
				Message: fmt.Sprintf("expected %d events matching %q, got %d", a.Count, a.Event, n),
			}
		}
		return nil

	default:
		return &AssertionError{Type: a.Type, Message: "unknown assertion type"}
	}
}

// traceOrder requires each pattern to match an event after the one matched
// by the pattern before it.
func traceOrder(a Assertion, trace []TraceEvent) *AssertionError {
	pos, last := 0, int64(0)
	for i, raw := range a.Events {
		p := parsePattern(raw)
		found := false
		for pos < len(trace) {
			e := trace[pos]
			pos++
			if p.matches(e) {
				found, last = true, e.Seq
				break
			}
		}
		if !found {
			return &AssertionError{
				Type:    a.Type,
				Message: fmt.Sprintf("event %d %q not found after seq %d", i, raw, last),
			}
		}
	}
	return nil
}

// pattern selects trace events: "<type>", "<type> <name>" or
// "<type> <module>/<name>".
type pattern struct {
	typ    string
	module string
	name   string
}

func parsePattern(s string) pattern {
	typ, target, _ := strings.Cut(strings.TrimSpace(s), " ")
	p := pattern{typ: typ}
	target = strings.TrimSpace(target)
	if module, name, ok := strings.Cut(target, "/"); ok {
		p.module, p.name = module, name
	} else {
		p.name = target
	}
	return p
}

func (p pattern) matches(e TraceEvent) bool {
	if string(e.Type) != p.typ {
		return false
	}
	if p.module != "" && e.Module != p.module {
		return false
	}
	return p.name == "" || e.Name == p.name
}
