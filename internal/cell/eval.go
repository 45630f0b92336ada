package cell

import (
	"bytes"
	"context"
	"fmt"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/ast"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/format"
)

// resultLabel holds the cell body inside the evaluated struct. It is a
// quoted label, so no identifier in a body can refer to it.
const resultLabel = "cellflow result"

// evaluator returns the callable of a parsed cell. Each call compiles one
// struct that binds every dependency to its concrete value next to the
// body, so references resolve anywhere in the expression, including bare
// list elements and field values.
func evaluator(name, body string, deps []string) Definition {
	return func(_ context.Context, args []any) (any, error) {
		ctx := cuecontext.New()

		var src bytes.Buffer
		for i, dep := range deps {
			if i >= len(args) {
				break
			}
			lit, err := literal(ctx, args[i])
			if err != nil {
				return nil, fmt.Errorf("cell %s: dependency %s: %w", name, dep, err)
			}
			fmt.Fprintf(&src, "%s: %s\n", dep, lit)
		}
		fmt.Fprintf(&src, "%q: (\n%s\n)\n", resultLabel, body)

		root := ctx.CompileBytes(src.Bytes(), cue.Filename(name), cue.InferBuiltins(true))
		if err := root.Err(); err != nil {
			return nil, fmt.Errorf("cell %s: %w", name, err)
		}
		v := root.LookupPath(cue.MakePath(cue.Str(resultLabel)))
		if err := v.Err(); err != nil {
			return nil, fmt.Errorf("cell %s: %w", name, err)
		}
		if err := v.Validate(cue.Concrete(true)); err != nil {
			return nil, fmt.Errorf("cell %s: %w", name, err)
		}
		out, err := FromCUE(v)
		if err != nil {
			return nil, fmt.Errorf("cell %s: %w", name, err)
		}
		return out, nil
	}
}

// literal renders a Go value as CUE source.
func literal(ctx *cue.Context, v any) ([]byte, error) {
	conv, err := toCUE(v)
	if err != nil {
		return nil, err
	}
	encoded := ctx.Encode(conv)
	if err := encoded.Err(); err != nil {
		return nil, err
	}
	node := encoded.Syntax(cue.Final(), cue.Concrete(true))
	if f, ok := node.(*ast.File); ok {
		node = &ast.StructLit{Elts: f.Decls}
	}
	return format.Node(node)
}

// toCUE normalises a Go value into the subset Encode understands without
// surprises.
func toCUE(v any) (any, error) {
	switch x := v.(type) {
	case nil, bool, string, []byte, int64, float64:
		return x, nil
	case int:
		return int64(x), nil
	case int32:
		return int64(x), nil
	case uint:
		return int64(x), nil
	case float32:
		return float64(x), nil
	case []string:
		out := make([]any, len(x))
		for i, s := range x {
			out[i] = s
		}
		return out, nil
	case []any:
		out := make([]any, len(x))
		for i, elem := range x {
			conv, err := toCUE(elem)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			out[i] = conv
		}
		return out, nil
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, elem := range x {
			conv, err := toCUE(elem)
			if err != nil {
				return nil, fmt.Errorf("[%q]: %w", k, err)
			}
			out[k] = conv
		}
		return out, nil
	default:
		return nil, fmt.Errorf("value of type %T cannot be used in an expression", v)
	}
}

// FromCUE converts a concrete CUE value into plain Go values: nil, bool,
// int64, float64, string, []byte, []any and map[string]any.
func FromCUE(v cue.Value) (any, error) {
	switch v.Kind() {
	case cue.NullKind:
		return nil, nil
	case cue.BoolKind:
		return v.Bool()
	case cue.IntKind:
		return v.Int64()
	case cue.FloatKind:
		return v.Float64()
	case cue.StringKind:
		return v.String()
	case cue.BytesKind:
		return v.Bytes()
	case cue.ListKind:
		iter, err := v.List()
		if err != nil {
			return nil, err
		}
		out := []any{}
		for iter.Next() {
			elem, err := FromCUE(iter.Value())
			if err != nil {
				return nil, err
			}
			out = append(out, elem)
		}
		return out, nil
	case cue.StructKind:
		iter, err := v.Fields()
		if err != nil {
			return nil, err
		}
		out := map[string]any{}
		for iter.Next() {
			elem, err := FromCUE(iter.Value())
			if err != nil {
				return nil, fmt.Errorf("%s: %w", iter.Label(), err)
			}
			out[iter.Label()] = elem
		}
		return out, nil
	default:
		return nil, fmt.Errorf("value is not concrete: %v", v.Kind())
	}
}
