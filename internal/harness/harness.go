package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/roach88/cellflow/internal/cell"
	"github.com/roach88/cellflow/internal/engine"
	"github.com/roach88/cellflow/internal/notebook"
)

// DefaultSettleTimeout bounds how long a step may take to go idle.
const DefaultSettleTimeout = 5 * time.Second

// Option configures a scenario run.
type Option func(*harness)

// WithSettleTimeout overrides DefaultSettleTimeout.
func WithSettleTimeout(d time.Duration) Option {
	return func(h *harness) {
		if d > 0 {
			h.timeout = d
		}
	}
}

// WithLogger sets the runtime logger. Runs are silent by default.
func WithLogger(l *slog.Logger) Option {
	return func(h *harness) {
		if l != nil {
			h.logger = l
		}
	}
}

// harness holds the state of one scenario execution.
type harness struct {
	rt      *engine.Runtime
	modules map[string]*engine.Module
	result  *Result
	mu      sync.Mutex
	timeout time.Duration
	logger  *slog.Logger
}

// Run executes a scenario on a fresh Runtime and returns its result.
//
// Steps fail the run with an error when they cannot be applied at all, for
// example a redefine of an unknown cell. Failed expectations and
// assertions are reported in the Result instead.
func Run(ctx context.Context, s *Scenario, opts ...Option) (*Result, error) {
	h := &harness{
		result:  NewResult(),
		timeout: DefaultSettleTimeout,
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(h)
	}

	nb, err := s.load()
	if err != nil {
		return nil, fmt.Errorf("failed to load notebook: %w", err)
	}

	h.rt = nb.Runtime(engine.WithLogger(h.logger), engine.WithClock(engine.NewClock()))
	defer h.rt.Dispose()
	cancel := h.rt.OnAll(func(e engine.Event) {
		h.mu.Lock()
		h.result.record(e)
		h.mu.Unlock()
	})
	defer cancel()

	modules, err := nb.Apply(h.rt)
	if err != nil {
		return nil, fmt.Errorf("failed to apply notebook: %w", err)
	}
	h.modules = make(map[string]*engine.Module, len(modules))
	for _, m := range modules {
		h.modules[m.ID()] = m
	}
	if err := h.settle(ctx); err != nil {
		return nil, fmt.Errorf("notebook: %w", err)
	}

	for i, step := range s.Steps {
		if err := h.execute(ctx, step); err != nil {
			return nil, fmt.Errorf("step %d: %w", i, err)
		}
		for _, e := range step.Expect {
			if msg := h.check(e); msg != "" {
				h.result.AddError(fmt.Sprintf("step %d: %s", i, msg))
			}
		}
	}

	for _, e := range s.Expect {
		if msg := h.check(e); msg != "" {
			h.result.AddError(msg)
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for _, failure := range EvaluateAssertions(s.Assertions, h.result.Trace) {
		h.result.AddError(failure.Error())
	}
	return h.result, nil
}

func (h *harness) execute(ctx context.Context, step Step) error {
	switch {
	case step.Define != nil:
		m, err := h.module(step.Define.Module)
		if err != nil {
			return err
		}
		if err := m.Define(parseCell(m, step.Define)); err != nil {
			return fmt.Errorf("define: %w", err)
		}
	case step.Redefine != nil:
		m, err := h.module(step.Redefine.Module)
		if err != nil {
			return err
		}
		if err := m.Redefine(parseCell(m, step.Redefine)); err != nil {
			return fmt.Errorf("redefine: %w", err)
		}
	case step.Delete != nil:
		m, err := h.module(step.Delete.Module)
		if err != nil {
			return err
		}
		if err := m.Delete(step.Delete.ID); err != nil {
			return fmt.Errorf("delete: %w", err)
		}
	case step.Set != nil:
		m, err := h.module(step.Set.Module)
		if err != nil {
			return err
		}
		m.Mutable(step.Set.Name).Set(notebook.Normalize(step.Set.Value))
	case step.Turn > 0:
		for range step.Turn {
			h.rt.Turn()
			if err := h.settle(ctx); err != nil {
				return err
			}
		}
		return nil
	}
	return h.settle(ctx)
}

func (h *harness) module(id string) (*engine.Module, error) {
	m, ok := h.modules[id]
	if !ok {
		return nil, fmt.Errorf("module %s: %w", id, engine.ErrUnknownModule)
	}
	return m, nil
}

func parseCell(m *engine.Module, c *CellStep) *cell.Cell {
	return cell.Parse(c.Source, cell.ParseOptions{ID: c.ID, Version: m.Version()})
}

// settle waits for the runtime to go idle.
func (h *harness) settle(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()
	if err := h.rt.Idle(ctx); err != nil {
		return fmt.Errorf("runtime did not settle: %w", err)
	}
	return nil
}

// check returns a failure message, or "" when e holds.
func (h *harness) check(e Expectation) string {
	m, ok := h.modules[e.Module]
	if !ok {
		return fmt.Sprintf("%s/%s: unknown module", e.Module, e.Name)
	}
	v, err := m.Lookup(e.Name)
	if err != nil {
		return fmt.Sprintf("%s/%s: %v", e.Module, e.Name, err)
	}
	snap := v.Snapshot()

	want := engine.Fulfilled
	switch {
	case e.State != "":
		want, _ = parseState(e.State)
	case e.Error != "":
		want = engine.Rejected
	}
	if snap.State != want {
		return fmt.Sprintf("%s/%s: expected %s, got %s%s", e.Module, e.Name, want, snap.State, describe(snap))
	}

	switch {
	case want == engine.Rejected && e.Error != "":
		if !errorMatches(snap.Err, e.Error) {
			return fmt.Sprintf("%s/%s: expected error %s, got %v", e.Module, e.Name, e.Error, snap.Err)
		}
	case want == engine.Fulfilled && e.State == "":
		expected := notebook.Normalize(e.Value)
		if !reflect.DeepEqual(expected, snap.Value) {
			return fmt.Sprintf("%s/%s: expected value %#v, got %#v", e.Module, e.Name, expected, snap.Value)
		}
	}
	return ""
}

func describe(snap engine.Snapshot) string {
	switch snap.State {
	case engine.Fulfilled:
		return fmt.Sprintf(" (%#v)", snap.Value)
	case engine.Rejected:
		return fmt.Sprintf(" (%v)", snap.Err)
	default:
		return ""
	}
}

// errorCode is the runtime error code of err, SYNTAX_ERROR for a parse
// failure, or "".
func errorCode(err error) string {
	var synErr *cell.SyntaxError
	if errors.As(err, &synErr) {
		return notebook.CodeSyntaxError
	}
	return string(engine.CodeOf(err))
}

// errorMatches reports whether err carries the code want, or failing that
// whether its message contains want.
func errorMatches(err error, want string) bool {
	if err == nil {
		return false
	}
	if errorCode(err) == want {
		return true
	}
	return strings.Contains(err.Error(), want)
}
