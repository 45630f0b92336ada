package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/cellflow/internal/async"
	"github.com/roach88/cellflow/internal/cell"
	"github.com/roach88/cellflow/internal/graph"
	"github.com/roach88/cellflow/internal/testutil"
)

func TestRedefine_HashEqualCellOnlyBumpsVersion(t *testing.T) {
	rt := newTestRuntime(t, nil)
	m := newTestModule(t, rt, "nb")

	a := constant("a", "a", int64(1), "a = 1")
	require.NoError(t, m.Define(a))
	require.NoError(t, m.Define(fn("b", "b", []string{"a"}, func(args []any) (any, error) {
		return intArg(args, 0) + 1, nil
	})))

	variable := m.Variable("a")
	before := variable.Snapshot().Version

	changes := testutil.NewRecorder[graph.Change[*Variable]]()
	rt.Graph().Watch(changes.Record)
	events := record(rt)

	same := constant("a", "a", int64(1), "a = 1")
	require.True(t, a.Eq(same))
	require.NoError(t, m.Redefine(same))

	assert.Zero(t, changes.Len(), "no graph add/remove on hash-equal redefine")
	assert.Same(t, variable, m.Variable("a"))
	assert.Greater(t, variable.Snapshot().Version, before)
	assert.Equal(t, []string{"pending a", "pending b", "fulfilled a", "fulfilled b"}, summary(events))
	requireValue(t, m, "b", int64(2))
}

func TestNotDefined_ResolvedByLaterDefinition(t *testing.T) {
	rt := newTestRuntime(t, nil)
	m := newTestModule(t, rt, "nb")

	require.NoError(t, m.Define(parsed("b", "b = a + 1")))
	requireCode(t, m, "b", ErrCodeNotDefined)
	_, err := m.Value("b")
	var re *RuntimeError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, "a", re.Name)

	b := m.Variable("b")
	bCell := b.Cell()
	require.NoError(t, m.Define(parsed("a", "a = 1")))

	requireValue(t, m, "b", int64(2))
	assert.Same(t, bCell, b.Cell(), "b was not redefined")
}

func TestDuplicateDefinition_RejectsBindingsAndDependents(t *testing.T) {
	rt := newTestRuntime(t, nil)
	m := newTestModule(t, rt, "nb")

	require.NoError(t, m.Define(constant("x1", "x", int64(1), "x = 1")))
	require.NoError(t, m.Define(constant("x2", "x", int64(2), "x = 2")))
	require.NoError(t, m.Define(fn("y", "y", []string{"x"}, func(args []any) (any, error) {
		return intArg(args, 0) * 10, nil
	})))
	require.NoError(t, m.Define(fn("z", "z", []string{"y"}, func(args []any) (any, error) {
		return intArg(args, 0) + 1, nil
	})))

	for _, id := range []string{"x1", "x2", "y", "z"} {
		err := m.Variable(id).Err()
		assert.True(t, IsDuplicateDefinition(err), "%s: %v", id, err)
	}
	assert.Same(t, m.Variable("x1").Err(), m.Variable("y").Err(), "dependent receives the binding's error")
	assert.Same(t, m.Variable("y").Err(), m.Variable("z").Err(), "downstream receives the same error")

	require.NoError(t, m.Delete("x2"))

	requireValue(t, m, "x", int64(1))
	requireValue(t, m, "y", int64(10))
	requireValue(t, m, "z", int64(11))
}

func TestCircularDependency_RejectsMembersOnly(t *testing.T) {
	rt := newTestRuntime(t, nil)
	m := newTestModule(t, rt, "nb")

	require.NoError(t, m.Define(parsed("a", "a = b + 1")))
	require.NoError(t, m.Define(parsed("b", "b = a + 1")))
	require.NoError(t, m.Define(parsed("self", "self = self + 1")))
	require.NoError(t, m.Define(parsed("down", "down = a * 2")))
	require.NoError(t, m.Define(parsed("free", "free = 42")))

	requireCode(t, m, "a", ErrCodeCircularDependency)
	requireCode(t, m, "b", ErrCodeCircularDependency)
	requireCode(t, m, "self", ErrCodeCircularDependency)
	requireCode(t, m, "down", ErrCodeCircularDependency)
	assert.Same(t, m.Variable("a").Err(), m.Variable("down").Err())
	requireValue(t, m, "free", int64(42))

	// Breaking the cycle recovers every member.
	require.NoError(t, m.Redefine(parsed("b", "b = 1")))
	requireValue(t, m, "b", int64(1))
	requireValue(t, m, "a", int64(2))
	requireValue(t, m, "down", int64(4))
}

func TestRedefine_PropagatesWithoutTouchingDependents(t *testing.T) {
	rt := newTestRuntime(t, nil)
	m := newTestModule(t, rt, "nb")

	require.NoError(t, m.Define(parsed("A", "A = 1")))
	require.NoError(t, m.Define(parsed("B", "B = A + 1")))
	requireValue(t, m, "B", int64(2))

	b := m.Variable("B")
	bCell := b.Cell()
	require.NoError(t, m.Redefine(parsed("A", "A = 2")))

	requireValue(t, m, "B", int64(3))
	assert.Same(t, bCell, b.Cell())
}

func TestGenerator_EmitsEveryStepThenStops(t *testing.T) {
	rt := newTestRuntime(t, nil)
	m := newTestModule(t, rt, "nb")
	events := recordChannel(rt, Channel(EventFulfilled, "nb", "g"))

	require.NoError(t, m.Define(fn("g", "g", nil, func([]any) (any, error) {
		return async.Sequence(int64(1), int64(2), int64(3)), nil
	})))
	require.NoError(t, m.Define(fn("twice", "twice", []string{"g"}, func(args []any) (any, error) {
		return intArg(args, 0) * 2, nil
	})))
	requireValue(t, m, "twice", int64(2))

	for i := 0; i < 5; i++ {
		rt.Turn()
	}

	values := testutil.Map(events, func(e Event) any { return e.Value })
	assert.Equal(t, []any{int64(1), int64(2), int64(3)}, values)
	requireValue(t, m, "g", int64(3))
	requireValue(t, m, "twice", int64(6))
	assert.Zero(t, rt.Generators())
}

func TestVersionGuard_OutOfOrderSettlement(t *testing.T) {
	rt := newTestRuntime(t, nil)
	m := newTestModule(t, rt, "nb")
	events := recordChannel(rt, Channel(EventFulfilled, "nb", "slow"))

	var started []*async.Deferred
	body := func([]any) (any, error) {
		d := async.New()
		started = append(started, d)
		return d, nil
	}
	require.NoError(t, m.Define(fn("slow", "slow", nil, body)))
	require.NoError(t, m.Redefine(fn("slow", "slow", nil, body)))
	require.Len(t, started, 2)

	v := m.Variable("slow")
	latest := v.Snapshot().Version

	started[1].Resolve("newer")
	started[0].Resolve("older")

	snap := v.Snapshot()
	assert.Equal(t, Fulfilled, snap.State)
	assert.Equal(t, "newer", snap.Value)
	assert.Equal(t, latest, snap.Version)
	assert.Equal(t, latest, v.FulfilledVersion())
	assert.Equal(t, 1, events.Len(), "the older settlement is a no-op")
}

func TestVersionGuard_OlderSettlingFirstCommitsUntilNewer(t *testing.T) {
	rt := newTestRuntime(t, nil)
	m := newTestModule(t, rt, "nb")
	events := recordChannel(rt, Channel(EventFulfilled, "nb", "slow"))

	var started []*async.Deferred
	body := func([]any) (any, error) {
		d := async.New()
		started = append(started, d)
		return d, nil
	}
	require.NoError(t, m.Define(fn("slow", "slow", nil, body)))
	require.NoError(t, m.Define(fn("down", "down", []string{"slow"}, func(args []any) (any, error) {
		return args[0].(string) + "!", nil
	})))
	require.NoError(t, m.Redefine(fn("slow", "slow", nil, body)))
	require.Len(t, started, 2)

	v := m.Variable("slow")
	latest := v.Snapshot().Version

	started[0].Resolve("older")
	snap := v.Snapshot()
	assert.Equal(t, Fulfilled, snap.State)
	assert.Equal(t, "older", snap.Value)
	assert.Less(t, snap.Version, latest)
	assert.Equal(t, snap.Version, v.FulfilledVersion())
	requireValue(t, m, "down", "older!")

	// The newer computation is still outstanding.
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, rt.Idle(ctx), context.DeadlineExceeded)

	started[1].Reject(assert.AnError)
	idle(t, rt)
	snap = v.Snapshot()
	assert.Equal(t, Rejected, snap.State)
	assert.ErrorIs(t, snap.Err, assert.AnError)
	assert.Equal(t, latest, v.FulfilledVersion())
	assert.ErrorIs(t, m.Variable("down").Err(), assert.AnError, "outputs recompute from the newer outcome")
	assert.Equal(t, 1, events.Len())
}

func TestVersionGuard_StoppedCancellationIsDiscarded(t *testing.T) {
	rt := newTestRuntime(t, nil)
	m := newTestModule(t, rt, "nb")

	var started []*async.Deferred
	body := cell.Create(cell.Options{
		ID:   "slow",
		Name: "slow",
		Code: "slow",
		Definition: func(ctx context.Context, _ []any) (any, error) {
			d := async.New()
			started = append(started, d)
			context.AfterFunc(ctx, func() { d.Reject(ctx.Err()) })
			return d, nil
		},
	})
	rejected := recordChannel(rt, Channel(EventRejected, "nb", "slow"))
	require.NoError(t, m.Define(body))
	require.NoError(t, m.Redefine(body))
	require.Len(t, started, 2)

	require.Eventually(t, func() bool {
		_, _, ok := started[0].Result()
		return ok
	}, time.Second, time.Millisecond)

	started[1].Resolve("done")
	idle(t, rt)
	requireValue(t, m, "slow", "done")
	assert.Zero(t, rejected.Len(), "the stopped computation's cancellation is not committed")
}

func TestMutableWrite_TouchesOnlyDependents(t *testing.T) {
	rt := newTestRuntime(t, nil)
	m := newTestModule(t, rt, "nb")

	require.NoError(t, m.Define(parsed("count", "mutable count = 0")))
	require.NoError(t, m.Define(parsed("doubled", "doubled = count * 2")))
	require.NoError(t, m.Define(parsed("other", "other = 5")))
	requireValue(t, m, "doubled", int64(0))

	acc, ok := m.Variable("count#mutable").Value().(*Accessor)
	require.True(t, ok)
	assert.Equal(t, int64(0), acc.Value())

	events := record(rt)
	acc.Set(int64(4))

	assert.Equal(t, []string{
		"pending count",
		"pending doubled",
		"fulfilled count",
		"fulfilled doubled",
	}, summary(events))
	requireValue(t, m, "count", int64(4))
	requireValue(t, m, "doubled", int64(8))
	requireValue(t, m, MutableSlot("count"), int64(0))
}
