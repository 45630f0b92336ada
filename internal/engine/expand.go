package engine

import (
	"context"

	"github.com/roach88/cellflow/internal/async"
	"github.com/roach88/cellflow/internal/cell"
)

// expand splits a viewof or mutable declaration into its cooperating
// cells. Any other cell is returned unchanged.
//
//	viewof x = f   ⇒  "viewof x" (id)        runs f, seeds and feeds the slot
//	                  "x"        (id#value)  reads the slot
//	mutable x = f  ⇒  "initial x" (id)       runs f, writes the slot
//	                  "x"         (id#value) reads the slot
//	                  "mutable x" (id#mutable) yields the Accessor
func (m *Module) expand(c *cell.Cell) []*cell.Cell {
	switch {
	case c.View:
		return m.expandView(c)
	case c.Mutable:
		return m.expandMutable(c)
	default:
		return []*cell.Cell{c}
	}
}

func (m *Module) expandView(c *cell.Cell) []*cell.Cell {
	slot := ViewSlot(c.Name)
	acc := m.rt.mutable.scoped(m, slot)
	body := c.Definition

	hidden := cell.Create(cell.Options{
		ID:           c.ID,
		Name:         slot,
		Version:      c.Version,
		Code:         c.Code,
		Dependencies: c.Dependencies,
		Definition: func(ctx context.Context, args []any) (any, error) {
			result, err := body(ctx, args)
			if err != nil {
				return nil, err
			}
			return tap(ctx, result, func(ctx context.Context, v any) {
				view, ok := v.(View)
				if !ok {
					m.rt.mutable.set(acc.key, v)
					return
				}
				m.rt.mutable.set(acc.key, view.Value())
				onStop(ctx, view.Subscribe(func() { acc.Set(view.Value()) }))
			}), nil
		},
	})

	public := cell.Create(cell.Options{
		ID:           c.ID + "#value",
		Name:         c.Name,
		Version:      c.Version,
		Code:         c.Code,
		Dependencies: []string{slot},
		Definition: func(context.Context, []any) (any, error) {
			return acc.Value(), nil
		},
	})
	return []*cell.Cell{hidden, public}
}

func (m *Module) expandMutable(c *cell.Cell) []*cell.Cell {
	slot := MutableSlot(c.Name)
	acc := m.rt.mutable.scoped(m, slot)
	body := c.Definition

	hidden := cell.Create(cell.Options{
		ID:           c.ID,
		Name:         slot,
		Version:      c.Version,
		Code:         c.Code,
		Dependencies: c.Dependencies,
		Definition: func(ctx context.Context, args []any) (any, error) {
			result, err := body(ctx, args)
			if err != nil {
				return nil, err
			}
			return tap(ctx, result, func(_ context.Context, v any) {
				m.rt.mutable.set(acc.key, v)
			}), nil
		},
	})

	public := cell.Create(cell.Options{
		ID:           c.ID + "#value",
		Name:         c.Name,
		Version:      c.Version,
		Code:         c.Code,
		Dependencies: []string{slot},
		Definition: func(context.Context, []any) (any, error) {
			return acc.Value(), nil
		},
	})

	accessor := cell.Create(cell.Options{
		ID:      c.ID + "#mutable",
		Name:    "mutable " + c.Name,
		Version: c.Version,
		Code:    c.Code,
		Definition: func(context.Context, []any) (any, error) {
			return acc, nil
		},
	})
	return []*cell.Cell{hidden, public, accessor}
}

// tap calls fn with every value result produces: the value itself, the
// settlement of a deferred, or each step of a generator.
func tap(ctx context.Context, result any, fn func(context.Context, any)) any {
	switch r := result.(type) {
	case *async.Deferred:
		out := async.New()
		r.Then(func(v any, err error) {
			if err != nil {
				out.Reject(err)
				return
			}
			fn(ctx, v)
			out.Resolve(v)
		})
		return out
	case async.Generator:
		return async.Func(func() (any, bool, error) {
			v, done, err := r.Next()
			if err != nil || (done && v == nil) {
				return v, done, err
			}
			if d, ok := v.(*async.Deferred); ok {
				return tap(ctx, d, fn), done, nil
			}
			fn(ctx, v)
			return v, done, nil
		}, r.Return)
	default:
		fn(ctx, result)
		return result
	}
}
