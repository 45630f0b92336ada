package engine

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/cellflow/internal/cell"
	"github.com/roach88/cellflow/internal/testutil"
)

func newTestRuntime(t *testing.T, builtins map[string]any, opts ...Option) *Runtime {
	t.Helper()
	opts = append([]Option{WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))}, opts...)
	rt := New(builtins, opts...)
	t.Cleanup(rt.Dispose)
	return rt
}

func newTestModule(t *testing.T, rt *Runtime, id string) *Module {
	t.Helper()
	m, err := rt.Define(id, id, 1)
	require.NoError(t, err)
	return m
}

// fn builds a Go-bodied cell.
func fn(id, name string, deps []string, body func(args []any) (any, error)) *cell.Cell {
	return cell.Create(cell.Options{
		ID:           id,
		Name:         name,
		Version:      1,
		Code:         name,
		Dependencies: deps,
		Definition: func(_ context.Context, args []any) (any, error) {
			return body(args)
		},
	})
}

// constant builds a cell with no dependencies yielding v. code feeds the
// hash so different constants are different cells.
func constant(id, name string, v any, code string) *cell.Cell {
	return cell.Create(cell.Options{
		ID:      id,
		Name:    name,
		Version: 1,
		Code:    code,
		Definition: func(context.Context, []any) (any, error) {
			return v, nil
		},
	})
}

func parsed(id, source string) *cell.Cell {
	return cell.Parse(source, cell.ParseOptions{ID: id, Version: 1})
}

func record(rt *Runtime) *testutil.Recorder[Event] {
	r := testutil.NewRecorder[Event]()
	rt.OnAll(r.Record)
	return r
}

func recordChannel(rt *Runtime, channel string) *testutil.Recorder[Event] {
	r := testutil.NewRecorder[Event]()
	rt.On(channel, r.Record)
	return r
}

// summary renders events as "type name" for order assertions.
func summary(r *testutil.Recorder[Event]) []string {
	return testutil.Map(r, func(e Event) string { return string(e.Type) + " " + e.Name })
}

func requireValue(t *testing.T, m *Module, name string, want any) {
	t.Helper()
	v, err := m.Lookup(name)
	require.NoError(t, err)
	snap := v.Snapshot()
	require.Equal(t, Fulfilled, snap.State, "state of %s (err=%v)", name, snap.Err)
	require.Equal(t, want, snap.Value, "value of %s", name)
}

func requireCode(t *testing.T, m *Module, name string, code RuntimeErrorCode) {
	t.Helper()
	v, err := m.Lookup(name)
	require.NoError(t, err)
	snap := v.Snapshot()
	require.Equal(t, Rejected, snap.State, "state of %s", name)
	require.Equal(t, code, CodeOf(snap.Err), "error of %s: %v", name, snap.Err)
}

func idle(t *testing.T, rt *Runtime) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, rt.Idle(ctx))
}

func intArg(args []any, i int) int64 {
	return args[i].(int64)
}
