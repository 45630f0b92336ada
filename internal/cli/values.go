package cli

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/roach88/cellflow/internal/engine"
)

// formatValue renders a settled value on one line. Map keys are sorted so
// output is deterministic.
func formatValue(v any) string {
	switch val := v.(type) {
	case nil:
		return "null"
	case string:
		return strconv.Quote(val)
	case []byte:
		return strconv.Quote(string(val))
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, len(keys))
		for i, k := range keys {
			parts[i] = fmt.Sprintf("%s: %s", k, formatValue(val[k]))
		}
		return "{" + strings.Join(parts, ", ") + "}"
	case []any:
		parts := make([]string, len(val))
		for i, elem := range val {
			parts[i] = formatValue(elem)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case bool, int, int32, int64, float32, float64:
		return fmt.Sprintf("%v", val)
	case *engine.Accessor:
		return fmt.Sprintf("<mutable %s>", strings.TrimPrefix(val.Name(), "initial "))
	default:
		return fmt.Sprintf("<%T>", v)
	}
}

// jsonValue converts a settled value into something encoding/json renders
// faithfully. Opaque values become "<type>" strings.
func jsonValue(v any) any {
	switch val := v.(type) {
	case nil, bool, string, int, int32, int64, float32, float64:
		return val
	case []byte:
		return string(val)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, elem := range val {
			out[k] = jsonValue(elem)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, elem := range val {
			out[i] = jsonValue(elem)
		}
		return out
	default:
		return formatValue(v)
	}
}

// formatEvent renders a runtime event on one line.
func formatEvent(e engine.Event) string {
	target := fmt.Sprintf("%s/%s", e.Module, e.Name)
	if e.Name == "" {
		target = fmt.Sprintf("%s/#%s", e.Module, e.Cell)
	}
	switch e.Type {
	case engine.EventFulfilled:
		return fmt.Sprintf("%-9s %s = %s", e.Type, target, formatValue(e.Value))
	case engine.EventRejected:
		return fmt.Sprintf("%-9s %s: %v", e.Type, target, e.Err)
	default:
		return fmt.Sprintf("%-9s %s", e.Type, target)
	}
}
