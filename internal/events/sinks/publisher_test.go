package sinks

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sparkling-owl/spin/internal/events"
	memorypublisher "github.com/sparkling-owl/spin/internal/publisher/memory"
)

func TestPublisherSinkForwardsLifecycleEventsOnly(t *testing.T) {
	t.Parallel()

	pub := memorypublisher.New()
	sink := NewPublisherSink("spin.runs", pub)

	batch := []events.Event{
		{RunID: "run-1", JobID: "job-1", Stage: events.StageRunStart},
		{RunID: "run-1", JobID: "job-1", Stage: events.StageFetchDone, Domain: "example.com"},
		{RunID: "run-1", JobID: "job-1", Stage: events.StageRecordExtracted, URL: "https://example.com/p"},
		{RunID: "run-1", JobID: "job-1", Stage: events.StageLayoutDrift},
		{RunID: "run-1", JobID: "job-1", Stage: events.StageRunDone},
	}
	require.NoError(t, sink.Consume(context.Background(), batch))

	msgs := pub.Messages()
	require.Len(t, msgs, 3)
	require.Equal(t, "spin.runs", msgs[0].Topic)
	require.Equal(t, events.StageRunStart, msgs[0].Payload.(events.Event).Stage)
	require.Equal(t, events.StageLayoutDrift, msgs[1].Payload.(events.Event).Stage)
	require.Equal(t, events.StageRunDone, msgs[2].Payload.(events.Event).Stage)

	require.NoError(t, sink.Close(context.Background()))
}
