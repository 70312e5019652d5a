package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sparkling-owl/spin/internal/engine"
)

// RunStore keeps run rows in memory.
type RunStore struct {
	mu   sync.RWMutex
	runs map[string]engine.Run
}

// NewRunStore constructs a RunStore.
func NewRunStore() *RunStore {
	return &RunStore{runs: make(map[string]engine.Run)}
}

// CreateRun stores a new run row.
func (s *RunStore) CreateRun(_ context.Context, run engine.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.runs[run.ID]; exists {
		return fmt.Errorf("run %s: %w", run.ID, engine.ErrAlreadyExists)
	}
	s.runs[run.ID] = run
	return nil
}

// FinalizeRun records the terminal outcome and counters for a run.
func (s *RunStore) FinalizeRun(
	_ context.Context,
	runID string,
	outcome engine.RunOutcome,
	counters engine.RunCounters,
	finishedAt time.Time,
	errText string,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		return fmt.Errorf("run %s: %w", runID, engine.ErrNotFound)
	}
	run.Outcome = outcome
	run.Counters = counters
	run.FinishedAt = pointerTime(finishedAt)
	run.ErrorText = errText
	s.runs[runID] = run
	return nil
}

// GetRun fetches a run by ID.
func (s *RunStore) GetRun(_ context.Context, runID string) (engine.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[runID]
	if !ok {
		return engine.Run{}, fmt.Errorf("run %s: %w", runID, engine.ErrNotFound)
	}
	return run, nil
}

// ListRuns returns the runs of a job, most recent first.
func (s *RunStore) ListRuns(_ context.Context, jobID string) ([]engine.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]engine.Run, 0)
	for _, run := range s.runs {
		if run.JobID == jobID {
			out = append(out, run)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return out, nil
}

// deleteByJob removes all runs of a job and returns their IDs so the caller
// can cascade into record and snapshot stores.
func (s *RunStore) deleteByJob(jobID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []string
	for id, run := range s.runs {
		if run.JobID == jobID {
			ids = append(ids, id)
			delete(s.runs, id)
		}
	}
	return ids
}

func pointerTime(t time.Time) *time.Time {
	ts := t
	return &ts
}
