package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/sparkling-owl/spin/internal/engine"
)

// CreateRun inserts a run row.
func (s *Store) CreateRun(ctx context.Context, run engine.Run) error {
	counters, err := json.Marshal(run.Counters)
	if err != nil {
		return fmt.Errorf("marshal counters: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
INSERT INTO runs (id, job_id, started_at, finished_at, outcome, counters, error_text)
VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		run.ID, run.JobID, run.StartedAt, run.FinishedAt, string(run.Outcome), counters, run.ErrorText,
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// FinalizeRun records the terminal outcome and counters for a run.
func (s *Store) FinalizeRun(
	ctx context.Context,
	runID string,
	outcome engine.RunOutcome,
	counters engine.RunCounters,
	finishedAt time.Time,
	errText string,
) error {
	countersJSON, err := json.Marshal(counters)
	if err != nil {
		return fmt.Errorf("marshal counters: %w", err)
	}
	tag, err := s.pool.Exec(ctx, `
UPDATE runs SET outcome = $2, counters = $3, finished_at = $4, error_text = $5
WHERE id = $1`,
		runID, string(outcome), countersJSON, finishedAt, errText,
	)
	if err != nil {
		return fmt.Errorf("finalize run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("run %s: %w", runID, engine.ErrNotFound)
	}
	return nil
}

const selectRunColumns = `
SELECT id, job_id, started_at, finished_at, outcome, counters, error_text
FROM runs`

// GetRun fetches a run by ID.
func (s *Store) GetRun(ctx context.Context, runID string) (engine.Run, error) {
	row := s.pool.QueryRow(ctx, selectRunColumns+` WHERE id = $1`, runID)
	run, err := scanRun(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return engine.Run{}, fmt.Errorf("run %s: %w", runID, engine.ErrNotFound)
	}
	if err != nil {
		return engine.Run{}, fmt.Errorf("select run: %w", err)
	}
	return run, nil
}

// ListRuns returns the runs of a job, most recent first.
func (s *Store) ListRuns(ctx context.Context, jobID string) ([]engine.Run, error) {
	rows, err := s.pool.Query(ctx, selectRunColumns+` WHERE job_id = $1 ORDER BY started_at DESC`, jobID)
	if err != nil {
		return nil, fmt.Errorf("select runs: %w", err)
	}
	defer rows.Close()

	runs := make([]engine.Run, 0)
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func scanRun(row pgx.Row) (engine.Run, error) {
	var (
		run      engine.Run
		outcome  string
		counters []byte
	)
	err := row.Scan(&run.ID, &run.JobID, &run.StartedAt, &run.FinishedAt, &outcome, &counters, &run.ErrorText)
	if err != nil {
		return engine.Run{}, err
	}
	if err := json.Unmarshal(counters, &run.Counters); err != nil {
		return engine.Run{}, fmt.Errorf("unmarshal counters: %w", err)
	}
	run.Outcome = engine.RunOutcome(outcome)
	return run, nil
}
