package engine

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/roach88/cellflow/internal/async"
	"github.com/roach88/cellflow/internal/graph"
)

// DefaultFrameInterval is how often Run advances generators.
const DefaultFrameInterval = 16 * time.Millisecond

// Runtime owns the dependency graph, every Module, the dirty queue, the
// builtin bindings and the Mutable store, and runs the scheduler.
//
// Thread-safety model:
//   - every graph mutation and scheduling decision happens while mu is held
//   - deferred settlements and accessor writes are posted to a task queue
//     and drained by whichever goroutine holds or next takes mu
//   - Variable snapshots are read without locking
//
// Cell bodies and event listeners run while mu is held. They must not call
// Module or Runtime mutators; accessor writes are safe because they are
// queued.
type Runtime struct {
	mu sync.Mutex

	logger        *slog.Logger
	metrics       *Metrics
	clock         *Clock
	frameInterval time.Duration

	graph    *graph.Graph[*Variable]
	modules  map[string]*Module
	order    []*Module
	builtins map[string]*Variable
	mutable  *Mutable

	dirty      []*Variable
	ready      []readyEntry
	generators []*Variable
	scheduling bool

	tasks    *taskQueue
	pending  atomic.Int64
	disposed atomic.Bool

	ctx    context.Context
	cancel context.CancelFunc

	changedMu sync.Mutex
	changed   chan struct{}

	obsMu     sync.Mutex
	observers map[string]*async.Observer[Event]
}

type readyEntry struct {
	v       *Variable
	version int64
}

// Option configures a Runtime.
type Option func(*Runtime)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(rt *Runtime) {
		if l != nil {
			rt.logger = l
		}
	}
}

// WithMetrics records scheduler metrics.
func WithMetrics(m *Metrics) Option {
	return func(rt *Runtime) {
		rt.metrics = m
	}
}

// WithFrameInterval sets how often Run advances generators.
//
// Default: 16ms (DefaultFrameInterval).
func WithFrameInterval(d time.Duration) Option {
	return func(rt *Runtime) {
		if d > 0 {
			rt.frameInterval = d
		}
	}
}

// WithClock sets the version clock. Used by tests for predictable versions.
func WithClock(c *Clock) Option {
	return func(rt *Runtime) {
		if c != nil {
			rt.clock = c
		}
	}
}

// New creates a Runtime. Each builtin becomes an immutable Fulfilled
// Variable visible to every module under its name.
func New(builtins map[string]any, opts ...Option) *Runtime {
	ctx, cancel := context.WithCancel(context.Background())
	rt := &Runtime{
		logger:        slog.Default(),
		clock:         NewClock(),
		frameInterval: DefaultFrameInterval,
		graph:         graph.New[*Variable](),
		modules:       make(map[string]*Module),
		builtins:      make(map[string]*Variable, len(builtins)),
		tasks:         newTaskQueue(),
		ctx:           ctx,
		cancel:        cancel,
		changed:       make(chan struct{}),
		observers:     make(map[string]*async.Observer[Event]),
	}
	for _, opt := range opts {
		opt(rt)
	}
	rt.mutable = newMutable(rt)

	for name, value := range builtins {
		rt.builtins[name] = newBuiltin(rt, name, value)
	}
	rt.metrics.addVariables(len(builtins))
	return rt
}

// Define creates a Module. An empty id gets a fresh UUIDv7.
func (rt *Runtime) Define(id, name string, version int64) (*Module, error) {
	rt.lock()
	defer rt.unlock()

	if rt.disposed.Load() {
		return nil, ErrDisposed
	}
	return rt.define(id, name, version)
}

func (rt *Runtime) define(id, name string, version int64) (*Module, error) {
	if id == "" {
		id = uuid.Must(uuid.NewV7()).String()
	}
	if _, ok := rt.modules[id]; ok {
		return nil, fmt.Errorf("module %s: %w", id, ErrModuleExists)
	}
	m := newModule(rt, id, name, version, len(rt.order))
	rt.modules[id] = m
	rt.order = append(rt.order, m)
	rt.logger.Debug("module defined", "module", id, "name", name, "version", version)
	return m, nil
}

// Module returns the module with the given id, or nil.
func (rt *Runtime) Module(id string) *Module {
	rt.lock()
	defer rt.unlock()
	return rt.modules[id]
}

// Modules returns every module in creation order.
func (rt *Runtime) Modules() []*Module {
	rt.lock()
	defer rt.unlock()
	return slices.Clone(rt.order)
}

// Builtin returns the builtin Variable bound to name, or nil.
func (rt *Runtime) Builtin(name string) *Variable {
	return rt.builtins[name]
}

// Mutable returns the Runtime's mutable slot store.
func (rt *Runtime) Mutable() *Mutable {
	return rt.mutable
}

// Graph is a read-only view of the dependency graph.
type Graph struct {
	rt *Runtime
}

// Graph returns a read-only view of the dependency graph.
func (rt *Runtime) Graph() Graph {
	return Graph{rt: rt}
}

// Watch reports every structural graph change.
func (g Graph) Watch(fn func(graph.Change[*Variable])) {
	g.rt.lock()
	defer g.rt.unlock()
	g.rt.graph.Watch(fn)
}

// Len returns the number of variables in the graph.
func (g Graph) Len() int {
	g.rt.lock()
	defer g.rt.unlock()
	return g.rt.graph.Len()
}

// Outputs returns the direct consumers of v.
func (g Graph) Outputs(v *Variable) []*Variable {
	g.rt.lock()
	defer g.rt.unlock()
	return g.rt.graph.Outgoing(v)
}

// Turn advances every registered generator by one step and propagates the
// results.
func (rt *Runtime) Turn() {
	rt.lock()
	defer rt.unlock()

	if rt.disposed.Load() {
		return
	}
	for _, v := range slices.Clone(rt.generators) {
		if v.gen != nil && !v.awaiting {
			v.step(false)
		}
	}
	rt.schedule()
}

// Generators returns the number of generators awaiting a turn.
func (rt *Runtime) Generators() int {
	rt.lock()
	defer rt.unlock()
	return len(rt.generators)
}

// Run calls Turn every frame interval until ctx is done.
func (rt *Runtime) Run(ctx context.Context) error {
	ticker := time.NewTicker(rt.frameInterval)
	defer ticker.Stop()

	rt.logger.Info("runtime running", "frame", rt.frameInterval)
	for {
		select {
		case <-ctx.Done():
			rt.logger.Info("runtime stopping", "reason", ctx.Err())
			return ctx.Err()
		case <-rt.ctx.Done():
			return ErrDisposed
		case <-ticker.C:
			rt.Turn()
		}
	}
}

// Idle blocks until no Variable is Pending and no task is queued, or ctx is
// done. Generators waiting for their next turn do not count as pending.
func (rt *Runtime) Idle(ctx context.Context) error {
	for {
		ch := rt.changedChan()
		if rt.pending.Load() == 0 && rt.tasks.Len() == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ch:
		}
	}
}

// Dispose stops every computation and generator and releases the graph.
// Every subsequent mutator returns ErrDisposed.
func (rt *Runtime) Dispose() {
	rt.lock()
	defer rt.unlock()

	if rt.disposed.Swap(true) {
		return
	}
	for _, m := range rt.order {
		for _, v := range m.order {
			v.stop()
		}
	}
	rt.cancel()
	rt.tasks.Close()
	rt.dirty = nil
	rt.ready = nil
	rt.generators = nil
	rt.graph = graph.New[*Variable]()
	rt.metrics.addVariables(-rt.countVariables())
	rt.modules = map[string]*Module{}
	rt.order = nil
	rt.pending.Store(0)
	rt.logger.Debug("runtime disposed")
}

func (rt *Runtime) countVariables() int {
	n := len(rt.builtins)
	for _, m := range rt.order {
		n += len(m.order)
	}
	return n
}

func (rt *Runtime) lock() {
	rt.mu.Lock()
}

// unlock drains queued tasks before releasing mu, then re-checks so a task
// posted between the drain and the release is not stranded.
func (rt *Runtime) unlock() {
	for {
		for {
			task, ok := rt.tasks.TryDequeue()
			if !ok {
				break
			}
			task()
		}
		rt.broadcast()
		rt.mu.Unlock()

		if rt.tasks.Len() == 0 || !rt.mu.TryLock() {
			return
		}
	}
}

// post runs task under the lock, now if the lock is free, otherwise when
// the current holder releases it.
func (rt *Runtime) post(task func()) {
	if !rt.tasks.Enqueue(task) {
		return
	}
	if rt.mu.TryLock() {
		rt.unlock()
	}
}

func (rt *Runtime) changedChan() <-chan struct{} {
	rt.changedMu.Lock()
	defer rt.changedMu.Unlock()
	return rt.changed
}

func (rt *Runtime) broadcast() {
	rt.changedMu.Lock()
	close(rt.changed)
	rt.changed = make(chan struct{})
	rt.changedMu.Unlock()
}
