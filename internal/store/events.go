package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/roach88/cellflow/internal/canon"
)

// Run is one journaled execution of a notebook.
type Run struct {
	ID       string
	Seq      int64
	Notebook string
	Events   int64
}

// Event is one journaled Variable transition.
type Event struct {
	RunID     string
	Seq       int64
	Type      string
	ModuleID  string
	CellID    string
	Name      string
	Version   int64
	Value     string // JSON
	Error     string
	ErrorCode string
}

// Filter narrows ReadEvents. Empty fields match everything.
type Filter struct {
	ModuleID string
	CellID   string
}

// BeginRun records a new run for notebook and returns it. Run ids are
// UUIDv7; runs are ordered by seq.
func (s *Store) BeginRun(ctx context.Context, notebook string) (Run, error) {
	run := Run{ID: uuid.Must(uuid.NewV7()).String(), Notebook: notebook}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Run{}, fmt.Errorf("begin run: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) + 1 FROM runs`).Scan(&run.Seq); err != nil {
		return Run{}, fmt.Errorf("begin run: next seq: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO runs (id, seq, notebook) VALUES (?, ?, ?)
	`, run.ID, run.Seq, run.Notebook); err != nil {
		return Run{}, fmt.Errorf("begin run: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return Run{}, fmt.Errorf("begin run: commit: %w", err)
	}
	return run, nil
}

// WriteEvent appends e to its run. A second event with the same
// (run, seq) is an error.
func (s *Store) WriteEvent(ctx context.Context, e Event) error {
	if e.Value == "" {
		e.Value = "null"
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO events
		(run_id, seq, type, module_id, cell_id, name, version, value, error, error_code)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		e.RunID,
		e.Seq,
		e.Type,
		e.ModuleID,
		e.CellID,
		e.Name,
		e.Version,
		e.Value,
		e.Error,
		e.ErrorCode,
	)
	if err != nil {
		return fmt.Errorf("write event %s/%d: %w", e.RunID, e.Seq, err)
	}
	return nil
}

// ReadEvents returns the events of a run in seq order.
//
// Returns an empty slice (not nil) if nothing matches.
func (s *Store) ReadEvents(ctx context.Context, runID string, f Filter) ([]Event, error) {
	query := `
		SELECT run_id, seq, type, module_id, cell_id, name, version, value, error, error_code
		FROM events
		WHERE run_id = ?`
	args := []any{runID}
	if f.ModuleID != "" {
		query += ` AND module_id = ?`
		args = append(args, f.ModuleID)
	}
	if f.CellID != "" {
		query += ` AND cell_id = ?`
		args = append(args, f.CellID)
	}
	query += ` ORDER BY seq ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	events := []Event{}
	for rows.Next() {
		var e Event
		if err := rows.Scan(
			&e.RunID, &e.Seq, &e.Type, &e.ModuleID, &e.CellID, &e.Name,
			&e.Version, &e.Value, &e.Error, &e.ErrorCode,
		); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return events, nil
}

// Runs returns every run in seq order with its event count.
func (s *Store) Runs(ctx context.Context) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.id, r.seq, r.notebook, COUNT(e.seq)
		FROM runs r
		LEFT JOIN events e ON e.run_id = r.id
		GROUP BY r.id
		ORDER BY r.seq ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	runs := []Run{}
	for rows.Next() {
		var r Run
		if err := rows.Scan(&r.ID, &r.Seq, &r.Notebook, &r.Events); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

// LatestRun returns the run with the highest seq.
// Returns sql.ErrNoRows if the journal is empty.
func (s *Store) LatestRun(ctx context.Context) (Run, error) {
	var r Run
	err := s.db.QueryRowContext(ctx, `
		SELECT r.id, r.seq, r.notebook, (SELECT COUNT(*) FROM events e WHERE e.run_id = r.id)
		FROM runs r
		ORDER BY r.seq DESC
		LIMIT 1
	`).Scan(&r.ID, &r.Seq, &r.Notebook, &r.Events)
	if err != nil {
		return Run{}, fmt.Errorf("latest run: %w", err)
	}
	return r, nil
}

// EncodeValue renders a settled value as JSON TEXT. Values the canonical
// encoder accepts are written canonically; anything else falls back to
// encoding/json, and values JSON cannot represent are written as their
// %v string.
func EncodeValue(v any) string {
	if data, err := canon.Marshal(v); err == nil {
		return string(data)
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err == nil {
		// Encoder adds a trailing newline, remove it
		return strings.TrimSpace(buf.String())
	}

	data, _ := json.Marshal(fmt.Sprintf("%v", v))
	return string(data)
}
