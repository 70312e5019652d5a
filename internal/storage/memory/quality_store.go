package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/sparkling-owl/spin/internal/engine"
)

// QualityStore keeps per-run quality snapshots in memory.
type QualityStore struct {
	mu        sync.RWMutex
	snapshots map[string]engine.QualitySnapshot
}

// NewQualityStore constructs a QualityStore.
func NewQualityStore() *QualityStore {
	return &QualityStore{snapshots: make(map[string]engine.QualitySnapshot)}
}

// SaveSnapshot upserts the snapshot for a run.
func (s *QualityStore) SaveSnapshot(_ context.Context, snapshot engine.QualitySnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots[snapshot.RunID] = snapshot
	return nil
}

func (s *QualityStore) deleteByRuns(runIDs []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range runIDs {
		delete(s.snapshots, id)
	}
}

// GetSnapshot fetches the snapshot computed for a run.
func (s *QualityStore) GetSnapshot(_ context.Context, runID string) (engine.QualitySnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.snapshots[runID]
	if !ok {
		return engine.QualitySnapshot{}, fmt.Errorf("quality snapshot %s: %w", runID, engine.ErrNotFound)
	}
	return snap, nil
}
