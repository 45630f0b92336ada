package store

import (
	"context"
	"log/slog"
	"sync"

	"github.com/roach88/cellflow/internal/engine"
)

// Journal appends a Runtime's events to a run as they are emitted.
type Journal struct {
	store  *Store
	run    Run
	ctx    context.Context
	logger *slog.Logger
	detach func()

	mu  sync.Mutex
	seq int64
	err error
}

// Attach subscribes a Journal for run to every event rt emits. Writes
// happen synchronously on the emitting goroutine. Write failures are
// logged and the first one is returned by Close.
func (s *Store) Attach(ctx context.Context, rt *engine.Runtime, run Run, logger *slog.Logger) *Journal {
	if logger == nil {
		logger = slog.Default()
	}
	j := &Journal{store: s, run: run, ctx: ctx, logger: logger}
	j.detach = rt.OnAll(j.record)
	return j
}

// Run returns the run being journaled.
func (j *Journal) Run() Run { return j.run }

// Len returns the number of events written so far.
func (j *Journal) Len() int64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.seq
}

// Close stops journaling and returns the first write error, if any.
func (j *Journal) Close() error {
	j.detach()
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.err
}

func (j *Journal) record(e engine.Event) {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.seq++
	row := Event{
		RunID:    j.run.ID,
		Seq:      j.seq,
		Type:     string(e.Type),
		ModuleID: e.Module,
		CellID:   e.Cell,
		Name:     e.Name,
		Version:  e.Version,
		Value:    EncodeValue(e.Value),
	}
	if e.Err != nil {
		row.Error = e.Err.Error()
		row.ErrorCode = string(engine.CodeOf(e.Err))
	}
	if e.Type == engine.EventPending {
		row.Value = "null"
		row.Error, row.ErrorCode = "", ""
	}

	if err := j.store.WriteEvent(j.ctx, row); err != nil {
		j.logger.Error("journal write failed", "run", j.run.ID, "seq", j.seq, "error", err)
		if j.err == nil {
			j.err = err
		}
	}
}
