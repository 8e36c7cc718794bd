package trace

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// RunInfo is one row of the runs table. Outcome is empty while a run is
// still in flight (or was abandoned).
type RunInfo struct {
	ID        string
	Program   string
	StartedAt string
	Outcome   string
	Detail    string
}

// StepRow is one executed step of a run.
type StepRow struct {
	Seq    int64
	Thread int
	Fn     string
	Block  string
	Stmt   int
}

// AccessRow is one memory access of a run. Addr round-trips through a
// signed column; the cast back restores the full address range.
type AccessRow struct {
	Seq    int64
	Thread int
	Addr   uint64
	Size   uint64
	Write  bool
	Atomic bool
}

// ErrNoRun reports a run id with no row.
var ErrNoRun = errors.New("trace: no such run")

// GetRun returns the run row for id.
func (s *Store) GetRun(ctx context.Context, id string) (RunInfo, error) {
	var ri RunInfo
	var outcome, detail sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, program, started_at, outcome, detail
		FROM runs WHERE id = ?
	`, id).Scan(&ri.ID, &ri.Program, &ri.StartedAt, &outcome, &detail)
	if errors.Is(err, sql.ErrNoRows) {
		return RunInfo{}, ErrNoRun
	}
	if err != nil {
		return RunInfo{}, fmt.Errorf("get run: %w", err)
	}
	ri.Outcome = outcome.String
	ri.Detail = detail.String
	return ri, nil
}

// ListRuns returns all runs, newest first.
func (s *Store) ListRuns(ctx context.Context) ([]RunInfo, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, program, started_at, outcome, detail
		FROM runs
		ORDER BY started_at DESC, id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	out := []RunInfo{}
	for rows.Next() {
		var ri RunInfo
		var outcome, detail sql.NullString
		if err := rows.Scan(&ri.ID, &ri.Program, &ri.StartedAt, &outcome, &detail); err != nil {
			return nil, fmt.Errorf("list runs: scan: %w", err)
		}
		ri.Outcome = outcome.String
		ri.Detail = detail.String
		out = append(out, ri)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return out, nil
}

// ReadSteps returns the step trail of a run in execution order.
func (s *Store) ReadSteps(ctx context.Context, runID string) ([]StepRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, thread, fn, block, stmt
		FROM steps WHERE run_id = ?
		ORDER BY seq ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("read steps: %w", err)
	}
	defer rows.Close()

	out := []StepRow{}
	for rows.Next() {
		var st StepRow
		if err := rows.Scan(&st.Seq, &st.Thread, &st.Fn, &st.Block, &st.Stmt); err != nil {
			return nil, fmt.Errorf("read steps: scan: %w", err)
		}
		out = append(out, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read steps: %w", err)
	}
	return out, nil
}

// ReadAccesses returns the memory-access trail of a run in execution order.
func (s *Store) ReadAccesses(ctx context.Context, runID string) ([]AccessRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, thread, addr, size, is_write, is_atomic
		FROM accesses WHERE run_id = ?
		ORDER BY seq ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("read accesses: %w", err)
	}
	defer rows.Close()

	out := []AccessRow{}
	for rows.Next() {
		var ar AccessRow
		var addr, size int64
		var write, atomic int
		if err := rows.Scan(&ar.Seq, &ar.Thread, &addr, &size, &write, &atomic); err != nil {
			return nil, fmt.Errorf("read accesses: scan: %w", err)
		}
		ar.Addr = uint64(addr)
		ar.Size = uint64(size)
		ar.Write = write != 0
		ar.Atomic = atomic != 0
		out = append(out, ar)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read accesses: %w", err)
	}
	return out, nil
}
