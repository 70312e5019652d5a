package sinks

import (
	"context"
	"sync"

	"github.com/sparkling-owl/spin/internal/events"
)

// MemorySink buffers consumed events in memory for later inspection.
type MemorySink struct {
	mu     sync.Mutex
	events []events.Event
	closed bool
}

// NewMemorySink returns an empty MemorySink.
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

// Consume appends the batch to the in-memory buffer.
func (s *MemorySink) Consume(_ context.Context, batch []events.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, batch...)
	return nil
}

// Close marks the sink closed; buffered events remain readable.
func (s *MemorySink) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Events returns a copy of everything consumed so far.
func (s *MemorySink) Events() []events.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]events.Event(nil), s.events...)
}

// Closed reports whether Close has been called.
func (s *MemorySink) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
