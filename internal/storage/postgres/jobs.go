package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/sparkling-owl/spin/internal/engine"
)

// CreateJob inserts a job definition.
func (s *Store) CreateJob(ctx context.Context, job engine.Job) error {
	domains, err := json.Marshal(job.Domains)
	if err != nil {
		return fmt.Errorf("marshal domains: %w", err)
	}
	seeds, err := json.Marshal(job.Seeds)
	if err != nil {
		return fmt.Errorf("marshal seeds: %w", err)
	}
	policy, err := json.Marshal(job.Policy)
	if err != nil {
		return fmt.Errorf("marshal policy: %w", err)
	}
	dedup, err := json.Marshal(job.DedupFields)
	if err != nil {
		return fmt.Errorf("marshal dedup fields: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
INSERT INTO jobs (
	id, name, domains, seeds, template_id, template_version,
	schedule, policy, dedup_fields, freshness_window, status, created_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		job.ID, job.Name, domains, seeds, job.TemplateID, job.TemplateVersion,
		job.Schedule, policy, dedup, int64(job.FreshnessWindow), string(job.Status), job.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// UpdateJobStatus transitions a job to the given status.
func (s *Store) UpdateJobStatus(ctx context.Context, jobID string, status engine.JobStatus) error {
	tag, err := s.pool.Exec(ctx, `UPDATE jobs SET status = $2 WHERE id = $1`, jobID, string(status))
	if err != nil {
		return fmt.Errorf("update job status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("job %s: %w", jobID, engine.ErrNotFound)
	}
	return nil
}

const selectJobColumns = `
SELECT id, name, domains, seeds, template_id, template_version,
       schedule, policy, dedup_fields, freshness_window, status, created_at
FROM jobs`

// GetJob fetches a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID string) (engine.Job, error) {
	row := s.pool.QueryRow(ctx, selectJobColumns+` WHERE id = $1`, jobID)
	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return engine.Job{}, fmt.Errorf("job %s: %w", jobID, engine.ErrNotFound)
	}
	if err != nil {
		return engine.Job{}, fmt.Errorf("select job: %w", err)
	}
	return job, nil
}

// ListJobs returns all jobs ordered by ID.
func (s *Store) ListJobs(ctx context.Context) ([]engine.Job, error) {
	rows, err := s.pool.Query(ctx, selectJobColumns+` ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("select jobs: %w", err)
	}
	defer rows.Close()

	jobs := make([]engine.Job, 0)
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// DeleteJob removes a job definition.
func (s *Store) DeleteJob(ctx context.Context, jobID string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM jobs WHERE id = $1`, jobID)
	if err != nil {
		return fmt.Errorf("delete job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("job %s: %w", jobID, engine.ErrNotFound)
	}
	return nil
}

func scanJob(row pgx.Row) (engine.Job, error) {
	var (
		job       engine.Job
		domains   []byte
		seeds     []byte
		policy    []byte
		dedup     []byte
		freshness int64
		status    string
	)
	err := row.Scan(
		&job.ID, &job.Name, &domains, &seeds, &job.TemplateID, &job.TemplateVersion,
		&job.Schedule, &policy, &dedup, &freshness, &status, &job.CreatedAt,
	)
	if err != nil {
		return engine.Job{}, err
	}
	if err := json.Unmarshal(domains, &job.Domains); err != nil {
		return engine.Job{}, fmt.Errorf("unmarshal domains: %w", err)
	}
	if err := json.Unmarshal(seeds, &job.Seeds); err != nil {
		return engine.Job{}, fmt.Errorf("unmarshal seeds: %w", err)
	}
	if err := json.Unmarshal(policy, &job.Policy); err != nil {
		return engine.Job{}, fmt.Errorf("unmarshal policy: %w", err)
	}
	if err := json.Unmarshal(dedup, &job.DedupFields); err != nil {
		return engine.Job{}, fmt.Errorf("unmarshal dedup fields: %w", err)
	}
	job.FreshnessWindow = timeDuration(freshness)
	job.Status = engine.JobStatus(status)
	return job, nil
}
