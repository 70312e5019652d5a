package memory

import (
	"context"
	"sync"

	"github.com/sparkling-owl/spin/internal/engine"
)

// RecordStore keeps extracted records grouped by run.
type RecordStore struct {
	mu      sync.RWMutex
	records map[string][]engine.Record
}

// NewRecordStore constructs a RecordStore.
func NewRecordStore() *RecordStore {
	return &RecordStore{records: make(map[string][]engine.Record)}
}

// AppendRecord adds a record to its run's list.
func (s *RecordStore) AppendRecord(_ context.Context, record engine.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[record.RunID] = append(s.records[record.RunID], record)
	return nil
}

func (s *RecordStore) deleteByRuns(runIDs []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range runIDs {
		delete(s.records, id)
	}
}

// ListRecords returns a copy of the records extracted by a run.
func (s *RecordStore) ListRecords(_ context.Context, runID string) ([]engine.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	records := s.records[runID]
	out := make([]engine.Record, len(records))
	copy(out, records)
	return out, nil
}
