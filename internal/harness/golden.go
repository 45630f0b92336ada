package harness

import (
	"context"
	"fmt"
	"strconv"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/cellflow/internal/canon"
)

// Snapshot renders the trace of result as canonical JSON.
//
// Values canonical JSON has no form for are rendered as strings: floats in
// their shortest decimal form, anything else as "<type>".
func Snapshot(name string, result *Result) ([]byte, error) {
	trace := make([]any, len(result.Trace))
	for i, e := range result.Trace {
		m := map[string]any{
			"seq":    e.Seq,
			"type":   string(e.Type),
			"module": e.Module,
			"cell":   e.Cell,
			"name":   e.Name,
		}
		switch {
		case e.Error != "":
			m["error"] = e.Error
			if e.Code != "" {
				m["code"] = e.Code
			}
		case e.Type == "fulfilled":
			m["value"] = snapshotValue(e.Value)
		}
		trace[i] = m
	}

	b, err := canon.Marshal(map[string]any{
		"scenario": name,
		"trace":    trace,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode trace: %w", err)
	}
	return b, nil
}

func snapshotValue(v any) any {
	switch x := v.(type) {
	case nil, bool, string, int64:
		return x
	case int:
		return int64(x)
	case int32:
		return int64(x)
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(x), 'g', -1, 32)
	case []byte:
		return string(x)
	case []any:
		out := make([]any, len(x))
		for i, elem := range x {
			out[i] = snapshotValue(elem)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, elem := range x {
			out[k] = snapshotValue(elem)
		}
		return out
	default:
		return fmt.Sprintf("<%T>", v)
	}
}

// RunWithGolden runs scenario and compares its trace against
// testdata/golden/<name>.golden. Run the test with -update to regenerate.
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(context.Background(), scenario)
	if err != nil {
		return nil, err
	}
	if err := AssertGolden(t, scenario.Name, result); err != nil {
		return nil, err
	}
	return result, nil
}

// AssertGolden compares the trace of an existing result against its golden
// file.
func AssertGolden(t *testing.T, name string, result *Result) error {
	t.Helper()

	b, err := Snapshot(name, result)
	if err != nil {
		return err
	}
	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, name, b)
	return nil
}
