package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/roach88/cellflow/internal/async"
	"github.com/roach88/cellflow/internal/cell"
)

// State is the computation state of a Variable.
type State int

const (
	Pending State = iota
	Fulfilled
	Rejected
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Fulfilled:
		return "fulfilled"
	case Rejected:
		return "rejected"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Snapshot is the last committed outcome of a Variable. While Pending,
// Value and Err keep the previous outcome.
type Snapshot struct {
	State   State
	Value   any
	Err     error
	Version int64
}

// Variable is the live instance of a Cell inside a Module. The same
// Variable persists across redefinitions of its cell id.
type Variable struct {
	rt     *Runtime
	module *Module
	key    string

	// Guarded by rt.mu.
	cell             *cell.Cell
	version          int64
	fulfilledVersion int64
	waitingOn        map[*Variable]struct{}
	cancel           context.CancelFunc
	dirty            bool
	fresh            bool
	settledOnce      bool
	deleted          bool
	tombstone        bool
	interim          bool // committed an older version; still counted pending
	source           *importSource

	gen          async.Generator
	genVersion   int64
	genCommitted bool
	awaiting     bool

	// Run by stop. Registered from body continuations that may not hold
	// rt.mu.
	cleanupMu sync.Mutex
	cleanups  []func()

	snap atomic.Pointer[Snapshot]
}

type variableKey struct{}

// onStop runs fn when the computation that owns ctx is stopped, or at once
// if it already has been.
func onStop(ctx context.Context, fn func()) {
	v, ok := ctx.Value(variableKey{}).(*Variable)
	if !ok {
		context.AfterFunc(ctx, fn)
		return
	}
	v.cleanupMu.Lock()
	if ctx.Err() != nil {
		v.cleanupMu.Unlock()
		fn()
		return
	}
	v.cleanups = append(v.cleanups, fn)
	v.cleanupMu.Unlock()
}

type importSource struct {
	module *Module
	name   string
}

func newVariable(m *Module, c *cell.Cell) *Variable {
	v := &Variable{
		rt:     m.rt,
		module: m,
		key:    m.id + "/" + c.ID,
		cell:   c,
		fresh:  true,
	}
	v.snap.Store(&Snapshot{State: Pending})
	m.rt.pending.Add(1)
	return v
}

func newBuiltin(rt *Runtime, name string, value any) *Variable {
	v := &Variable{
		rt:   rt,
		key:  "builtin/" + name,
		cell: cell.Create(cell.Options{ID: name, Name: name, Builtin: true}),
	}
	v.snap.Store(&Snapshot{State: Fulfilled, Value: value})
	return v
}

// NodeKey identifies the Variable in graph diagnostics.
func (v *Variable) NodeKey() string { return v.key }

// Key returns "<moduleID>/<cellID>".
func (v *Variable) Key() string { return v.key }

// ID returns the cell id.
func (v *Variable) ID() string {
	return v.currentCell().ID
}

// Name returns the bound name, "" for anonymous cells.
func (v *Variable) Name() string {
	return v.currentCell().Name
}

// Module returns the owning module, nil for builtins.
func (v *Variable) Module() *Module { return v.module }

// Cell returns the current cell.
func (v *Variable) Cell() *cell.Cell {
	return v.currentCell()
}

func (v *Variable) currentCell() *cell.Cell {
	if v.module == nil {
		return v.cell
	}
	v.module.idx.RLock()
	defer v.module.idx.RUnlock()
	return v.cell
}

// Builtin reports whether the variable is a runtime builtin or was defined
// from a builtin cell.
func (v *Variable) Builtin() bool {
	return v.Cell().Builtin
}

// Snapshot returns the last committed outcome without locking.
func (v *Variable) Snapshot() Snapshot {
	return *v.snap.Load()
}

// State returns the current state.
func (v *Variable) State() State { return v.snap.Load().State }

// Value returns the last committed value.
func (v *Variable) Value() any { return v.snap.Load().Value }

// Err returns the last committed error.
func (v *Variable) Err() error { return v.snap.Load().Err }

// Inputs returns the Variables the declared dependencies resolve to, one
// per dependency; nil where a name is unresolved or ambiguous.
func (v *Variable) Inputs() []*Variable {
	v.rt.lock()
	defer v.rt.unlock()
	return v.inputs()
}

func (v *Variable) inputs() []*Variable {
	deps := v.cell.Dependencies
	out := make([]*Variable, len(deps))
	if v.module == nil {
		return out
	}
	for i, dep := range deps {
		if bound := v.module.resolve(dep); len(bound) == 1 {
			out[i] = bound[0]
		}
	}
	return out
}

// upstream is inputs with each ambiguous dependency standing for its first
// binding, the Variable whose outcome the dependency propagates.
func (v *Variable) upstream() []*Variable {
	out := v.inputs()
	if v.module == nil {
		return out
	}
	for i, in := range out {
		if in != nil {
			continue
		}
		if bound := v.module.resolve(v.cell.Dependencies[i]); len(bound) > 1 {
			out[i] = bound[0]
		}
	}
	return out
}

func (v *Variable) setPending() {
	prev := v.snap.Load()
	v.snap.Store(&Snapshot{State: Pending, Value: prev.Value, Err: prev.Err, Version: v.version})
	switch {
	case prev.State == Pending:
		if !v.fresh {
			return
		}
		v.fresh = false
	case v.interim:
		v.interim = false
	default:
		v.rt.pending.Add(1)
	}
	v.rt.emit(v.event(EventPending, prev.Value, prev.Err))
}

func (v *Variable) event(t EventType, value any, err error) Event {
	return Event{
		Type:     t,
		Module:   v.module.id,
		Cell:     v.cell.ID,
		Name:     v.cell.Name,
		Value:    value,
		Err:      err,
		Version:  v.version,
		Variable: v,
	}
}

// stop invalidates in-flight work: the body context is cancelled, cleanup
// hooks run and an active generator is returned. Outstanding deferreds
// still settle; the version guard discards them.
func (v *Variable) stop() {
	if v.cancel != nil {
		v.cancel()
		v.cancel = nil
	}
	v.cleanupMu.Lock()
	cleanups := v.cleanups
	v.cleanups = nil
	v.cleanupMu.Unlock()
	for _, fn := range cleanups {
		fn()
	}
	if v.gen != nil {
		gen := v.gen
		v.gen = nil
		v.rt.unregisterGenerator(v)
		safeReturn(gen)
	}
	v.awaiting = false
	v.waitingOn = nil
}

// compute evaluates the cell for the current version. Every input must be
// settled.
func (v *Variable) compute() {
	version := v.version
	deps := v.cell.Dependencies
	inputs := v.inputs()

	for _, in := range v.upstream() {
		if in == nil {
			continue
		}
		snap := in.Snapshot()
		switch snap.State {
		case Rejected:
			v.settle(version, nil, snap.Err, false)
			return
		case Pending:
			// The input went pending after this variable was queued.
			v.waitOn(in)
			return
		}
	}
	for i, in := range inputs {
		if in != nil {
			continue
		}
		if len(v.module.resolve(deps[i])) > 1 {
			v.settle(version, nil, DuplicateDefinition(deps[i]), false)
		} else {
			v.settle(version, nil, NotDefined(deps[i]), false)
		}
		return
	}

	args := make([]any, len(inputs))
	for i, in := range inputs {
		args[i] = in.Value()
	}

	ctx, cancel := context.WithCancel(context.WithValue(v.rt.ctx, variableKey{}, v))
	v.cancel = cancel

	result, err := v.call(ctx, args)
	if err != nil {
		v.settle(version, nil, err, false)
		return
	}

	switch r := result.(type) {
	case async.Generator:
		v.gen = r
		v.genVersion = version
		v.genCommitted = false
		v.rt.generators = append(v.rt.generators, v)
		v.step(true)
	case *async.Deferred:
		v.await(r, version, false)
	default:
		v.settle(version, r, nil, false)
	}
}

func (v *Variable) waitOn(in *Variable) {
	if v.waitingOn == nil {
		v.waitingOn = make(map[*Variable]struct{})
	}
	v.waitingOn[in] = struct{}{}
}

func (v *Variable) call(ctx context.Context, args []any) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			v.rt.logger.Warn("cell body panicked", "variable", v.key, "panic", r)
			result, err = nil, &bodyPanic{value: r}
		}
	}()
	return v.cell.Definition(ctx, args)
}

// await commits d's outcome when it settles. invalidate marks the outputs
// dirty on commit, used for generator steps after the first.
func (v *Variable) await(d *async.Deferred, version int64, invalidate bool) {
	d.Then(func(value any, err error) {
		v.rt.post(func() {
			if v.rt.disposed.Load() {
				return
			}
			v.settle(version, value, err, invalidate)
			v.rt.schedule()
		})
	})
}

// step advances the generator once. first is true for the step taken
// directly by compute.
func (v *Variable) step(first bool) {
	version := v.genVersion
	v.rt.metrics.step()

	value, done, err := safeNext(v.gen)
	if err != nil {
		v.endGenerator()
		v.settle(version, nil, err, !first)
		return
	}
	if done {
		committed := v.genCommitted
		v.endGenerator()
		if value != nil || !committed {
			v.commitStep(version, value, !first)
		}
		return
	}
	v.commitStep(version, value, !first)
}

func (v *Variable) commitStep(version int64, value any, invalidate bool) {
	d, ok := value.(*async.Deferred)
	if !ok {
		v.genCommitted = true
		v.settle(version, value, nil, invalidate)
		return
	}

	v.awaiting = true
	d.Then(func(value any, err error) {
		v.rt.post(func() {
			if v.rt.disposed.Load() || v.genVersion != version {
				return
			}
			v.awaiting = false
			if errors.Is(err, async.ErrDone) {
				committed := v.genCommitted
				v.endGenerator()
				if !committed {
					v.settle(version, nil, nil, invalidate)
				}
				v.rt.schedule()
				return
			}
			if err != nil {
				v.endGenerator()
			} else {
				v.genCommitted = true
			}
			v.settle(version, value, err, invalidate)
			v.rt.schedule()
		})
	})
}

func (v *Variable) endGenerator() {
	if v.gen == nil {
		return
	}
	v.gen = nil
	v.awaiting = false
	v.rt.unregisterGenerator(v)
}

// settle commits an outcome for version. A version older than the latest
// committed one is discarded.
//
// An older version settling while a newer computation is still running is
// committed as an interim outcome: the Variable reads as settled and its
// waiters proceed, but it stays counted pending, and the latest outcome
// invalidates the outputs when it commits. A stopped computation's
// cancellation carries no outcome and is discarded.
func (v *Variable) settle(version int64, value any, err error, invalidate bool) {
	superseded := version < v.version
	if v.deleted || version < v.fulfilledVersion || (superseded && errors.Is(err, context.Canceled)) {
		v.rt.metrics.staleResult()
		v.rt.logger.Debug("stale result discarded", "variable", v.key, "version", version, "current", v.version)
		return
	}
	v.fulfilledVersion = version

	prev := v.snap.Load()
	first := !v.settledOnce
	v.settledOnce = true
	state, t := Fulfilled, EventFulfilled
	if err != nil {
		state, t = Rejected, EventRejected
		value = nil
	}
	v.snap.Store(&Snapshot{State: state, Value: value, Err: err, Version: version})
	switch {
	case superseded:
		if prev.State == Pending {
			v.interim = true
		}
	case v.interim:
		v.interim = false
		invalidate = true
		v.rt.pending.Add(-1)
	case prev.State == Pending:
		v.rt.pending.Add(-1)
	}
	v.rt.metrics.settled(t)
	ev := v.event(t, value, err)
	ev.Version = version
	v.rt.emit(ev)

	for _, out := range v.rt.graph.Outgoing(v) {
		if _, ok := out.waitingOn[v]; ok {
			delete(out.waitingOn, v)
			if len(out.waitingOn) == 0 && out.State() == Pending {
				v.rt.enqueueReady(out)
			}
			continue
		}
		if invalidate {
			v.rt.markDirty(out)
		}
	}
	v.module.notifyImporters(v, prev, first)
}

// FulfilledVersion is the version of the latest committed outcome.
func (v *Variable) FulfilledVersion() int64 {
	v.rt.lock()
	defer v.rt.unlock()
	return v.fulfilledVersion
}

func safeNext(g async.Generator) (value any, done bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			value, done, err = nil, true, &bodyPanic{value: r}
		}
	}()
	return g.Next()
}

func safeReturn(g async.Generator) {
	defer func() { _ = recover() }()
	g.Return()
}
