package events

import "context"

// Sink consumes batches of run events. Implementations must honor ctx
// deadlines and may be invoked concurrently with other sinks.
type Sink interface {
	Consume(ctx context.Context, batch []Event) error
	Close(ctx context.Context) error
}

// Emitter publishes individual events; Hub satisfies this interface so the
// run executor stays agnostic about buffering and fan-out.
type Emitter interface {
	Emit(evt Event)
}

// NopEmitter discards every event. Useful as a default wire-up in tests.
type NopEmitter struct{}

func (NopEmitter) Emit(Event) {}
