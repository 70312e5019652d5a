package sinks

import (
	"context"
	"fmt"

	"github.com/sparkling-owl/spin/internal/engine"
	"github.com/sparkling-owl/spin/internal/events"
)

// PublisherSink forwards run lifecycle events to an external dispatcher.
// Page-level stages are filtered out; the dispatcher only cares about run
// boundaries and drift warnings.
type PublisherSink struct {
	topic string
	pub   engine.Publisher
}

// NewPublisherSink wires a Publisher to the sink interface.
func NewPublisherSink(topic string, pub engine.Publisher) *PublisherSink {
	return &PublisherSink{topic: topic, pub: pub}
}

// Consume publishes the lifecycle events in the batch.
func (s *PublisherSink) Consume(ctx context.Context, batch []events.Event) error {
	for _, evt := range batch {
		switch evt.Stage {
		case events.StageRunStart, events.StageRunDone, events.StageRunError, events.StageLayoutDrift:
		default:
			continue
		}
		if _, err := s.pub.Publish(ctx, s.topic, evt); err != nil {
			return fmt.Errorf("publish %s for run %s: %w", evt.Stage, evt.RunID, err)
		}
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *PublisherSink) Close(context.Context) error {
	return nil
}
