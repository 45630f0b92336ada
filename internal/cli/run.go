package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/cellflow/internal/cell"
	"github.com/roach88/cellflow/internal/engine"
	"github.com/roach88/cellflow/internal/notebook"
	"github.com/roach88/cellflow/internal/store"
)

// DefaultMaxTurns bounds how many frames run drives generators for.
const DefaultMaxTurns = 1000

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Journal     string
	Frame       time.Duration
	MaxTurns    int
	MetricsAddr string
}

// VariableState is the final outcome of one Variable.
type VariableState struct {
	Module string `json:"module"`
	Cell   string `json:"cell"`
	Name   string `json:"name,omitempty"`
	State  string `json:"state"`
	Value  any    `json:"value,omitempty"`
	Error  string `json:"error,omitempty"`
	Code   string `json:"code,omitempty"`
}

// RunResult summarises a run.
type RunResult struct {
	Notebook  string          `json:"notebook"`
	RunID     string          `json:"run_id,omitempty"`
	Turns     int             `json:"turns"`
	Events    int64           `json:"events"`
	Variables []VariableState `json:"variables"`
}

// Counts returns the number of fulfilled, rejected and pending variables.
func (r RunResult) Counts() (fulfilled, rejected, pending int) {
	for _, v := range r.Variables {
		switch v.State {
		case engine.Fulfilled.String():
			fulfilled++
		case engine.Rejected.String():
			rejected++
		default:
			pending++
		}
	}
	return fulfilled, rejected, pending
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <notebook>",
		Short: "Run a notebook until it settles",
		Long: `Load a notebook, define its modules, cells and imports on a fresh
runtime, and compute every cell. Generators are advanced one step per frame
until all of them finish or --max-turns frames have passed.

Settlements are printed as they happen. With --journal every event is also
appended to a SQLite journal that "cellflow trace" can read back. With
--metrics-addr the scheduler's Prometheus metrics are served on /metrics
until the process is interrupted.

Example:
  cellflow run ./notebook.yaml
  cellflow run --journal ./cellflow.db --max-turns 50 ./notebook.cue
  cellflow run --metrics-addr :9090 ./notebook.yaml`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runNotebook(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Journal, "journal", "", "path to SQLite journal (optional)")
	cmd.Flags().DurationVar(&opts.Frame, "frame", engine.DefaultFrameInterval, "interval between generator turns")
	cmd.Flags().IntVar(&opts.MaxTurns, "max-turns", DefaultMaxTurns, "maximum generator turns (0 for no limit)")
	cmd.Flags().StringVar(&opts.MetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")

	return cmd
}

func runNotebook(opts *RunOptions, path string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)
	logger := opts.logger(cmd.ErrOrStderr())

	if opts.Frame <= 0 {
		return formatter.fail(ExitCommandError, ErrCodeGeneric, fmt.Errorf("--frame must be positive, got %s", opts.Frame))
	}

	nb, err := LoadNotebook(path)
	if err != nil {
		return formatter.fail(ExitCommandError, ErrCodeLoadFailed, err)
	}
	logger.Debug("notebook loaded", "path", path, "modules", len(nb.Modules))

	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, stop := signal.NotifyContext(parentCtx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	var registry *prometheus.Registry
	var metrics *engine.Metrics
	if opts.MetricsAddr != "" {
		registry = prometheus.NewRegistry()
		registry.MustRegister(collectors.NewGoCollector())
		metrics = engine.NewMetrics(registry, "cellflow")
	}

	rt := nb.Runtime(
		engine.WithLogger(logger),
		engine.WithMetrics(metrics),
		engine.WithFrameInterval(opts.Frame),
	)
	defer rt.Dispose()

	result := RunResult{Notebook: path}

	var journal *store.Journal
	if opts.Journal != "" {
		st, err := store.Open(opts.Journal)
		if err != nil {
			return formatter.fail(ExitCommandError, ErrCodeJournal, fmt.Errorf("failed to open journal: %w", err))
		}
		defer func() {
			if closeErr := st.Close(); closeErr != nil {
				logger.Error("error closing journal", "error", closeErr)
			}
		}()
		run, err := st.BeginRun(ctx, path)
		if err != nil {
			return formatter.fail(ExitCommandError, ErrCodeJournal, err)
		}
		journal = st.Attach(ctx, rt, run, logger)
		result.RunID = run.ID
		logger.Info("journaling run", "run", run.ID, "seq", run.Seq)
	}

	var events settlementPrinter
	if !formatter.JSON() {
		events.w = cmd.OutOrStdout()
	}
	detach := rt.OnAll(events.record)

	if _, err := nb.Apply(rt); err != nil {
		detach()
		return formatter.fail(ExitCommandError, ErrCodeApply, err)
	}

	turns, err := serve(ctx, rt, opts, registry, logger)
	detach()
	result.Turns = turns
	result.Events = events.count()
	if err != nil {
		return formatter.fail(ExitFailure, ErrCodeSettle, err)
	}

	if journal != nil {
		if err := journal.Close(); err != nil {
			return formatter.fail(ExitCommandError, ErrCodeJournal, fmt.Errorf("journal write failed: %w", err))
		}
	}

	result.Variables = collectStates(rt)
	if formatter.JSON() {
		return formatter.Success(result)
	}
	return outputRunText(cmd.OutOrStdout(), result)
}

// serve drives the runtime and, when a metrics address is set, serves
// /metrics alongside it. With metrics enabled it keeps serving after the
// runtime settles until ctx is done; an interrupt then is not an error.
func serve(ctx context.Context, rt *engine.Runtime, opts *RunOptions, registry *prometheus.Registry, logger *slog.Logger) (int, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	if opts.MetricsAddr != "" {
		srv := &http.Server{
			Addr:              opts.MetricsAddr,
			Handler:           metricsHandler(registry),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			logger.Info("serving metrics", "addr", opts.MetricsAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	var turns int
	g.Go(func() error {
		defer cancel()
		var err error
		turns, err = drive(gctx, rt, opts.Frame, opts.MaxTurns)
		if err != nil {
			return err
		}
		logger.Info("runtime settled", "turns", turns, "generators", rt.Generators())
		if opts.MetricsAddr != "" {
			<-gctx.Done()
		}
		return nil
	})

	err := g.Wait()
	if errors.Is(err, context.Canceled) && opts.MetricsAddr != "" {
		logger.Info("stopped", "reason", "interrupted")
		err = nil
	}
	return turns, err
}

// drive waits for the runtime to go idle, then turns generators once per
// frame until none is left, maxTurns is reached, or ctx is done.
func drive(ctx context.Context, rt *engine.Runtime, frame time.Duration, maxTurns int) (int, error) {
	if err := rt.Idle(ctx); err != nil {
		return 0, fmt.Errorf("runtime did not settle: %w", err)
	}

	ticker := time.NewTicker(frame)
	defer ticker.Stop()

	turns := 0
	for rt.Generators() > 0 && (maxTurns <= 0 || turns < maxTurns) {
		select {
		case <-ctx.Done():
			return turns, ctx.Err()
		case <-ticker.C:
		}
		rt.Turn()
		turns++
		if err := rt.Idle(ctx); err != nil {
			return turns, fmt.Errorf("runtime did not settle after turn %d: %w", turns, err)
		}
	}
	return turns, nil
}

func metricsHandler(registry *prometheus.Registry) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}))
	return mux
}

// settlementPrinter counts events and, when w is set, prints settlements.
// Events arrive one at a time under the runtime lock.
type settlementPrinter struct {
	w  io.Writer
	mu sync.Mutex
	n  int64
}

func (p *settlementPrinter) record(e engine.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.n++
	if p.w != nil && e.Type != engine.EventPending {
		fmt.Fprintf(p.w, "  %s\n", formatEvent(e))
	}
}

func (p *settlementPrinter) count() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.n
}

func collectStates(rt *engine.Runtime) []VariableState {
	states := []VariableState{}
	for _, m := range rt.Modules() {
		for _, v := range m.Variables() {
			snap := v.Snapshot()
			vs := VariableState{
				Module: m.ID(),
				Cell:   v.ID(),
				Name:   v.Name(),
				State:  snap.State.String(),
			}
			switch snap.State {
			case engine.Fulfilled:
				vs.Value = jsonValue(snap.Value)
			case engine.Rejected:
				vs.Error = snap.Err.Error()
				vs.Code = errorCode(snap.Err)
			}
			states = append(states, vs)
		}
	}
	return states
}

// errorCode is the runtime error code of err, SYNTAX_ERROR for a cell that
// does not parse, or "" for errors raised by cell bodies.
func errorCode(err error) string {
	var synErr *cell.SyntaxError
	if errors.As(err, &synErr) {
		return notebook.CodeSyntaxError
	}
	return string(engine.CodeOf(err))
}

func outputRunText(w io.Writer, result RunResult) error {
	fulfilled, rejected, pending := result.Counts()
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Settled after %d turn(s): %d fulfilled, %d rejected, %d pending\n",
		result.Turns, fulfilled, rejected, pending)
	if result.RunID != "" {
		fmt.Fprintf(w, "Journal run: %s (%d events)\n", result.RunID, result.Events)
	}
	return nil
}
