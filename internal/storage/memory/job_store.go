// Package memory provides in-memory persistence implementations for
// development and testing.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/sparkling-owl/spin/internal/engine"
)

// JobStore keeps job definitions in a map guarded by a RWMutex.
type JobStore struct {
	mu   sync.RWMutex
	jobs map[string]engine.Job

	runs    *RunStore
	records *RecordStore
	quality *QualityStore
}

// NewJobStore constructs a JobStore.
func NewJobStore() *JobStore {
	return &JobStore{jobs: make(map[string]engine.Job)}
}

// AttachCascade links the stores that job deletion cascades into, matching
// the foreign-key cascade of the Postgres schema.
func (s *JobStore) AttachCascade(runs *RunStore, records *RecordStore, quality *QualityStore) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs = runs
	s.records = records
	s.quality = quality
}

// CreateJob stores a new job definition.
func (s *JobStore) CreateJob(_ context.Context, job engine.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return fmt.Errorf("job %s: %w", job.ID, engine.ErrAlreadyExists)
	}
	s.jobs[job.ID] = job
	return nil
}

// UpdateJobStatus transitions a job to the given status.
func (s *JobStore) UpdateJobStatus(_ context.Context, jobID string, status engine.JobStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return fmt.Errorf("job %s: %w", jobID, engine.ErrNotFound)
	}
	job.Status = status
	s.jobs[jobID] = job
	return nil
}

// GetJob fetches a job by ID.
func (s *JobStore) GetJob(_ context.Context, jobID string) (engine.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return engine.Job{}, fmt.Errorf("job %s: %w", jobID, engine.ErrNotFound)
	}
	return job, nil
}

// ListJobs returns all jobs ordered by ID.
func (s *JobStore) ListJobs(_ context.Context) ([]engine.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]engine.Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		out = append(out, job)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// DeleteJob removes a job definition and cascades to its runs, records, and
// quality snapshots when the stores are attached.
func (s *JobStore) DeleteJob(_ context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[jobID]; !ok {
		return fmt.Errorf("job %s: %w", jobID, engine.ErrNotFound)
	}
	delete(s.jobs, jobID)

	if s.runs == nil {
		return nil
	}
	runIDs := s.runs.deleteByJob(jobID)
	if s.records != nil {
		s.records.deleteByRuns(runIDs)
	}
	if s.quality != nil {
		s.quality.deleteByRuns(runIDs)
	}
	return nil
}
