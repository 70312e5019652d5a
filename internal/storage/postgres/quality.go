package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/sparkling-owl/spin/internal/engine"
)

// SaveSnapshot upserts the quality snapshot for a run.
func (s *Store) SaveSnapshot(ctx context.Context, snapshot engine.QualitySnapshot) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO quality_snapshots (
	run_id, completeness, accuracy, consistency, timeliness, uniqueness, record_count, computed_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
ON CONFLICT (run_id) DO UPDATE SET
	completeness = EXCLUDED.completeness,
	accuracy = EXCLUDED.accuracy,
	consistency = EXCLUDED.consistency,
	timeliness = EXCLUDED.timeliness,
	uniqueness = EXCLUDED.uniqueness,
	record_count = EXCLUDED.record_count,
	computed_at = EXCLUDED.computed_at`,
		snapshot.RunID, snapshot.Completeness, snapshot.Accuracy, snapshot.Consistency,
		snapshot.Timeliness, snapshot.Uniqueness, snapshot.RecordCount, snapshot.ComputedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert quality snapshot: %w", err)
	}
	return nil
}

// GetSnapshot fetches the quality snapshot computed for a run.
func (s *Store) GetSnapshot(ctx context.Context, runID string) (engine.QualitySnapshot, error) {
	var snap engine.QualitySnapshot
	err := s.pool.QueryRow(ctx, `
SELECT run_id, completeness, accuracy, consistency, timeliness, uniqueness, record_count, computed_at
FROM quality_snapshots WHERE run_id = $1`, runID).Scan(
		&snap.RunID, &snap.Completeness, &snap.Accuracy, &snap.Consistency,
		&snap.Timeliness, &snap.Uniqueness, &snap.RecordCount, &snap.ComputedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return engine.QualitySnapshot{}, fmt.Errorf("quality snapshot %s: %w", runID, engine.ErrNotFound)
	}
	if err != nil {
		return engine.QualitySnapshot{}, fmt.Errorf("select quality snapshot: %w", err)
	}
	return snap, nil
}
