package cli

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/cellflow/internal/store"
)

// TraceOptions holds flags for the trace command.
type TraceOptions struct {
	*RootOptions
	Database string
	RunID    string // optional - defaults to the latest run
	Module   string // optional - filter to one module
	Cell     string // optional - filter to one cell id
	ListRuns bool
}

// TraceEvent is one journaled event in the trace timeline.
type TraceEvent struct {
	Seq     int64           `json:"seq"`
	Type    string          `json:"type"`
	Module  string          `json:"module"`
	Cell    string          `json:"cell"`
	Name    string          `json:"name,omitempty"`
	Version int64           `json:"version"`
	Value   json.RawMessage `json:"value,omitempty"`
	Error   string          `json:"error,omitempty"`
	Code    string          `json:"code,omitempty"`
}

// RunInfo describes a journaled run.
type RunInfo struct {
	ID       string `json:"id"`
	Seq      int64  `json:"seq"`
	Notebook string `json:"notebook"`
	Events   int64  `json:"events"`
}

// TraceResult holds the complete trace output.
type TraceResult struct {
	Run      RunInfo      `json:"run"`
	Timeline []TraceEvent `json:"timeline"`
	Stats    TraceStats   `json:"stats"`
}

// TraceStats counts the timeline by event type.
type TraceStats struct {
	TotalEvents int `json:"total_events"`
	Pending     int `json:"pending"`
	Fulfilled   int `json:"fulfilled"`
	Rejected    int `json:"rejected"`
}

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TraceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "trace",
		Short: "Show the journaled events of a run",
		Long: `Show the events a "cellflow run --journal" recorded.

Each event is one Variable transition: pending when a computation starts,
fulfilled or rejected when it settles. Without --run the latest run is
shown; --runs lists every run in the journal.

Examples:
  cellflow trace --db ./cellflow.db
  cellflow trace --db ./cellflow.db --runs
  cellflow trace --db ./cellflow.db --run <id> --module main --cell c2
  cellflow trace --db ./cellflow.db --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrace(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite journal (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.RunID, "run", "", "run id to trace (default: latest)")
	cmd.Flags().StringVar(&opts.Module, "module", "", "filter to a module id")
	cmd.Flags().StringVar(&opts.Cell, "cell", "", "filter to a cell id")
	cmd.Flags().BoolVar(&opts.ListRuns, "runs", false, "list runs instead of events")

	return cmd
}

func runTrace(opts *TraceOptions, cmd *cobra.Command) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	formatter := opts.formatter(cmd)

	// Open creates missing databases; a trace of nothing is a mistake.
	if _, err := os.Stat(opts.Database); errors.Is(err, fs.ErrNotExist) {
		return formatter.fail(ExitCommandError, ErrCodeNotFound, fmt.Errorf("journal not found: %s", opts.Database))
	}

	st, err := store.Open(opts.Database)
	if err != nil {
		return formatter.fail(ExitCommandError, ErrCodeJournal, fmt.Errorf("failed to open journal: %w", err))
	}
	defer st.Close()

	if opts.ListRuns {
		runs, err := st.Runs(ctx)
		if err != nil {
			return formatter.fail(ExitCommandError, ErrCodeJournal, err)
		}
		return outputRuns(formatter, runs)
	}

	run, err := findRun(ctx, st, opts.RunID)
	if err != nil {
		return formatter.fail(ExitCommandError, ErrCodeRunNotFound, err)
	}

	events, err := st.ReadEvents(ctx, run.ID, store.Filter{ModuleID: opts.Module, CellID: opts.Cell})
	if err != nil {
		return formatter.fail(ExitCommandError, ErrCodeJournal, err)
	}

	result := TraceResult{
		Run:      runInfo(run),
		Timeline: buildTimeline(events),
	}
	result.Stats = traceStats(result.Timeline)

	if formatter.JSON() {
		return formatter.Success(result)
	}
	return outputTraceText(formatter.Writer, result, opts.Verbose)
}

func findRun(ctx context.Context, st *store.Store, id string) (store.Run, error) {
	if id == "" {
		run, err := st.LatestRun(ctx)
		if errors.Is(err, sql.ErrNoRows) {
			return store.Run{}, errors.New("journal has no runs")
		}
		return run, err
	}

	runs, err := st.Runs(ctx)
	if err != nil {
		return store.Run{}, err
	}
	for _, r := range runs {
		if r.ID == id {
			return r, nil
		}
	}
	return store.Run{}, fmt.Errorf("run not found: %s", id)
}

func runInfo(r store.Run) RunInfo {
	return RunInfo{ID: r.ID, Seq: r.Seq, Notebook: r.Notebook, Events: r.Events}
}

// buildTimeline converts journal rows to timeline events. Pending rows
// carry no value.
func buildTimeline(events []store.Event) []TraceEvent {
	timeline := make([]TraceEvent, 0, len(events))
	for _, e := range events {
		te := TraceEvent{
			Seq:     e.Seq,
			Type:    e.Type,
			Module:  e.ModuleID,
			Cell:    e.CellID,
			Name:    e.Name,
			Version: e.Version,
			Error:   e.Error,
			Code:    e.ErrorCode,
		}
		if e.Type == "fulfilled" && json.Valid([]byte(e.Value)) {
			te.Value = json.RawMessage(e.Value)
		}
		timeline = append(timeline, te)
	}
	return timeline
}

func traceStats(timeline []TraceEvent) TraceStats {
	stats := TraceStats{TotalEvents: len(timeline)}
	for _, e := range timeline {
		switch e.Type {
		case "pending":
			stats.Pending++
		case "fulfilled":
			stats.Fulfilled++
		case "rejected":
			stats.Rejected++
		}
	}
	return stats
}

func outputRuns(formatter *OutputFormatter, runs []store.Run) error {
	infos := make([]RunInfo, len(runs))
	for i, r := range runs {
		infos[i] = runInfo(r)
	}
	if formatter.JSON() {
		return formatter.Success(infos)
	}

	w := formatter.Writer
	if len(infos) == 0 {
		fmt.Fprintln(w, "No runs in journal.")
		return nil
	}
	for _, r := range infos {
		fmt.Fprintf(w, "  #%d %s %s (%d events)\n", r.Seq, r.ID, r.Notebook, r.Events)
	}
	return nil
}

// outputTraceText outputs the trace result as text.
func outputTraceText(w io.Writer, result TraceResult, verbose bool) error {
	fmt.Fprintf(w, "Trace for run #%d: %s\n", result.Run.Seq, result.Run.ID)
	fmt.Fprintf(w, "Notebook: %s\n", result.Run.Notebook)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "=== Timeline ===")
	if len(result.Timeline) == 0 {
		fmt.Fprintln(w, "  (no events)")
	}
	for _, e := range result.Timeline {
		formatTimelineEvent(w, e, verbose)
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "=== Stats ===")
	fmt.Fprintf(w, "  Total Events: %d\n", result.Stats.TotalEvents)
	fmt.Fprintf(w, "  Pending:      %d\n", result.Stats.Pending)
	fmt.Fprintf(w, "  Fulfilled:    %d\n", result.Stats.Fulfilled)
	fmt.Fprintf(w, "  Rejected:     %d\n", result.Stats.Rejected)
	return nil
}

// formatTimelineEvent formats a single timeline event for text output.
func formatTimelineEvent(w io.Writer, e TraceEvent, verbose bool) {
	target := e.Module + "/" + e.Name
	if e.Name == "" {
		target = e.Module + "/#" + e.Cell
	}
	switch e.Type {
	case "fulfilled":
		fmt.Fprintf(w, "  [%d] %-9s %s = %s\n", e.Seq, e.Type, target, e.Value)
	case "rejected":
		fmt.Fprintf(w, "  [%d] %-9s %s: %s\n", e.Seq, e.Type, target, e.Error)
	default:
		fmt.Fprintf(w, "  [%d] %-9s %s\n", e.Seq, e.Type, target)
	}
	if verbose {
		fmt.Fprintf(w, "       cell: %s  version: %d\n", e.Cell, e.Version)
	}
}
