package trace

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/minimach/minimach/internal/ir"
)

// Run records the audit trail of one execution. It satisfies the machine's
// Recorder interface; since that interface cannot surface errors, the first
// write failure is latched and reported by Err.
//
// Events are buffered and flushed in one transaction per batch to keep a
// step-granular trace from turning every statement into an fsync.
type Run struct {
	store *Store
	ctx   context.Context

	// ID is the UUID identifying this run's rows.
	ID string

	seq     int64
	pending []event
	err     error
}

type event struct {
	step   bool
	thread int
	fn     string
	block  string
	stmt   int

	addr   uint64
	size   uint64
	write  bool
	atomic bool
}

const flushBatch = 256

// StartRun inserts a run row and returns the recorder for it.
func (s *Store) StartRun(ctx context.Context, program string) (*Run, error) {
	id := uuid.NewString()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (id, program, started_at)
		VALUES (?, ?, ?)
	`, id, program, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return nil, fmt.Errorf("start run: %w", err)
	}
	return &Run{store: s, ctx: ctx, ID: id}, nil
}

// RecordStep implements the machine's Recorder.
func (r *Run) RecordStep(thread int, fn ir.FnName, block ir.BBName, stmt int) {
	r.push(event{step: true, thread: thread, fn: string(fn), block: string(block), stmt: stmt})
}

// RecordAccess implements the machine's Recorder.
func (r *Run) RecordAccess(thread int, addr, size uint64, write, atomic bool) {
	r.push(event{thread: thread, addr: addr, size: size, write: write, atomic: atomic})
}

// RecordOutcome implements the machine's Recorder. It flushes the trail and
// marks the run row terminal.
func (r *Run) RecordOutcome(kind, detail string) {
	r.flush()
	if r.err != nil {
		return
	}
	_, err := r.store.db.ExecContext(r.ctx, `
		UPDATE runs SET outcome = ?, detail = ? WHERE id = ?
	`, kind, detail, r.ID)
	if err != nil {
		r.err = fmt.Errorf("record outcome: %w", err)
	}
}

// Err returns the first write failure, if any. Check it after the run.
func (r *Run) Err() error {
	r.flush()
	return r.err
}

func (r *Run) push(e event) {
	if r.err != nil {
		return
	}
	r.pending = append(r.pending, e)
	if len(r.pending) >= flushBatch {
		r.flush()
	}
}

func (r *Run) flush() {
	if r.err != nil || len(r.pending) == 0 {
		return
	}
	tx, err := r.store.db.BeginTx(r.ctx, nil)
	if err != nil {
		r.err = fmt.Errorf("flush trace: begin tx: %w", err)
		return
	}
	defer tx.Rollback() // no-op after commit

	for _, e := range r.pending {
		r.seq++
		if e.step {
			_, err = tx.ExecContext(r.ctx, `
				INSERT INTO steps (run_id, seq, thread, fn, block, stmt)
				VALUES (?, ?, ?, ?, ?, ?)
			`, r.ID, r.seq, e.thread, e.fn, e.block, e.stmt)
		} else {
			_, err = tx.ExecContext(r.ctx, `
				INSERT INTO accesses (run_id, seq, thread, addr, size, is_write, is_atomic)
				VALUES (?, ?, ?, ?, ?, ?, ?)
			`, r.ID, r.seq, e.thread, int64(e.addr), int64(e.size),
				boolInt(e.write), boolInt(e.atomic))
		}
		if err != nil {
			r.err = fmt.Errorf("flush trace: %w", err)
			return
		}
	}
	if err := tx.Commit(); err != nil {
		r.err = fmt.Errorf("flush trace: commit: %w", err)
		return
	}
	r.pending = r.pending[:0]
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
