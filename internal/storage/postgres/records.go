package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/sparkling-owl/spin/internal/engine"
)

// AppendRecord inserts an extracted record.
func (s *Store) AppendRecord(ctx context.Context, record engine.Record) error {
	fields, err := json.Marshal(record.Fields)
	if err != nil {
		return fmt.Errorf("marshal fields: %w", err)
	}
	confidences, err := json.Marshal(record.Confidences)
	if err != nil {
		return fmt.Errorf("marshal confidences: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
INSERT INTO records (
	id, run_id, source_url, fields, confidences,
	quality, dedup_key, extracted_at, fetched_with, source_age
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		record.ID, record.RunID, record.SourceURL, fields, confidences,
		record.Quality, record.DedupKey, record.ExtractedAt, record.FetchedWith, int64(record.SourceAge),
	)
	if err != nil {
		return fmt.Errorf("insert record: %w", err)
	}
	return nil
}

// ListRecords returns the records extracted by a run in insertion order.
func (s *Store) ListRecords(ctx context.Context, runID string) ([]engine.Record, error) {
	rows, err := s.pool.Query(ctx, `
SELECT id, run_id, source_url, fields, confidences,
       quality, dedup_key, extracted_at, fetched_with, source_age
FROM records WHERE run_id = $1 ORDER BY extracted_at`, runID)
	if err != nil {
		return nil, fmt.Errorf("select records: %w", err)
	}
	defer rows.Close()

	records := make([]engine.Record, 0)
	for rows.Next() {
		var (
			rec         engine.Record
			fields      []byte
			confidences []byte
			sourceAge   int64
		)
		err := rows.Scan(
			&rec.ID, &rec.RunID, &rec.SourceURL, &fields, &confidences,
			&rec.Quality, &rec.DedupKey, &rec.ExtractedAt, &rec.FetchedWith, &sourceAge,
		)
		if err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		if err := json.Unmarshal(fields, &rec.Fields); err != nil {
			return nil, fmt.Errorf("unmarshal fields: %w", err)
		}
		if err := json.Unmarshal(confidences, &rec.Confidences); err != nil {
			return nil, fmt.Errorf("unmarshal confidences: %w", err)
		}
		rec.SourceAge = timeDuration(sourceAge)
		records = append(records, rec)
	}
	return records, rows.Err()
}
