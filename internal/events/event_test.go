package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestEventValidate(t *testing.T) {
	t.Parallel()

	now := time.Now()

	require.NoError(t, Event{RunID: "r", TS: now, Stage: StageRunStart}.Validate())
	require.NoError(t, Event{RunID: "r", TS: now, Stage: StageFetchDone, Domain: "d", StatusClass: Status2xx}.Validate())

	require.Error(t, Event{TS: now, Stage: StageRunStart}.Validate(), "missing run id")
	require.Error(t, Event{RunID: "r", Stage: StageRunStart}.Validate(), "missing timestamp")
	require.Error(t, Event{RunID: "r", TS: now, Stage: StageFetchDone}.Validate(), "missing domain")
	require.Error(t, Event{RunID: "r", TS: now, Stage: StageRecordExtracted}.Validate(), "missing url")
	require.Error(t, Event{RunID: "r", TS: now, Stage: "BOGUS"}.Validate())
}

func TestClassifyStatus(t *testing.T) {
	t.Parallel()

	require.Equal(t, Status2xx, ClassifyStatus(200))
	require.Equal(t, Status3xx, ClassifyStatus(301))
	require.Equal(t, Status4xx, ClassifyStatus(429))
	require.Equal(t, Status5xx, ClassifyStatus(503))
	require.Equal(t, StatusOther, ClassifyStatus(0))
}
