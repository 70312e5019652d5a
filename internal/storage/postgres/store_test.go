package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/sparkling-owl/spin/internal/engine"
)

func newMockStore(t *testing.T) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	store, err := NewWithPool(mock)
	require.NoError(t, err)
	return store, mock
}

func TestCreateJobInsertsRow(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	created := time.Unix(1700000000, 0).UTC()

	job := engine.Job{
		ID:              "job-1",
		Name:            "widgets",
		Domains:         []string{"example.com"},
		Seeds:           []string{"https://example.com/list"},
		TemplateID:      "product",
		TemplateVersion: 2,
		Schedule:        "0 * * * *",
		DedupFields:     []string{"title"},
		FreshnessWindow: time.Hour,
		Status:          engine.JobStatusIdle,
		CreatedAt:       created,
	}

	mock.ExpectExec("INSERT INTO jobs").
		WithArgs(
			"job-1", "widgets",
			[]byte(`["example.com"]`),
			[]byte(`["https://example.com/list"]`),
			"product", 2, "0 * * * *",
			pgxmock.AnyArg(), // policy json
			[]byte(`["title"]`),
			int64(time.Hour), "idle", created,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.CreateJob(context.Background(), job))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateJobStatusMissingJob(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectExec("UPDATE jobs SET status").
		WithArgs("job-9", "running").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := store.UpdateJobStatus(context.Background(), "job-9", engine.JobStatusRunning)
	require.ErrorIs(t, err, engine.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetRunNotFound(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery("SELECT id, job_id, started_at").
		WithArgs("run-9").
		WillReturnError(pgx.ErrNoRows)

	_, err := store.GetRun(context.Background(), "run-9")
	require.ErrorIs(t, err, engine.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFinalizeRunUpdatesRow(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	finished := time.Unix(1700003600, 0).UTC()
	counters := engine.RunCounters{PagesFetched: 5, RecordsExtracted: 4}

	mock.ExpectExec("UPDATE runs SET outcome").
		WithArgs("run-1", "success", pgxmock.AnyArg(), finished, "").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := store.FinalizeRun(context.Background(), "run-1", engine.RunOutcomeSuccess, counters, finished, "")
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListRunsScansRows(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	started := time.Unix(1700000000, 0).UTC()

	rows := pgxmock.NewRows([]string{
		"id", "job_id", "started_at", "finished_at", "outcome", "counters", "error_text",
	}).AddRow(
		"run-2", "job-1", started.Add(time.Hour), (*time.Time)(nil), "", []byte(`{}`), "",
	).AddRow(
		"run-1", "job-1", started, &started, "partial", []byte(`{"pages_fetched":3,"pages_failed":1}`), "",
	)

	mock.ExpectQuery("SELECT id, job_id, started_at").
		WithArgs("job-1").
		WillReturnRows(rows)

	runs, err := store.ListRuns(context.Background(), "job-1")
	require.NoError(t, err)
	require.Len(t, runs, 2)
	require.Equal(t, engine.RunOutcomePartial, runs[1].Outcome)
	require.Equal(t, 3, runs[1].Counters.PagesFetched)
	require.Nil(t, runs[0].FinishedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAppendRecordInsertsRow(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	extracted := time.Unix(1700000000, 0).UTC()

	rec := engine.Record{
		ID:          "rec-1",
		RunID:       "run-1",
		SourceURL:   "https://example.com/p/1",
		Fields:      map[string]string{"title": "Widget"},
		Confidences: map[string]float64{"title": 1},
		Quality:     1,
		DedupKey:    "title=Widget;",
		ExtractedAt: extracted,
		FetchedWith: "http",
		SourceAge:   time.Hour,
	}

	mock.ExpectExec("INSERT INTO records").
		WithArgs(
			"rec-1", "run-1", "https://example.com/p/1",
			[]byte(`{"title":"Widget"}`),
			[]byte(`{"title":1}`),
			1.0, "title=Widget;", extracted, "http", int64(time.Hour),
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.AppendRecord(context.Background(), rec))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPutTemplateRejectsExistingVersion(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectExec("INSERT INTO templates").
		WithArgs("product", 1, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))

	err := store.PutTemplate(context.Background(), engine.Template{ID: "product", Version: 1})
	require.ErrorIs(t, err, engine.ErrAlreadyExists)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveEndpointUpserts(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	checked := time.Unix(1700000000, 0).UTC()

	ep := engine.ProxyEndpoint{
		Address:       "10.0.0.1:8080",
		Protocol:      "http",
		Status:        engine.ProxyStatusActive,
		QualityScore:  0.8,
		SuccessCount:  10,
		FailureCount:  2,
		LastCheckedAt: checked,
	}

	mock.ExpectExec("INSERT INTO proxy_endpoints").
		WithArgs(
			"10.0.0.1:8080", "http", "active", 0.8, int64(10), int64(2),
			0, 0, (*time.Time)(nil), &checked,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.SaveEndpoint(context.Background(), ep))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetSnapshotRoundTrip(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	computed := time.Unix(1700000000, 0).UTC()

	rows := pgxmock.NewRows([]string{
		"run_id", "completeness", "accuracy", "consistency", "timeliness", "uniqueness", "record_count", "computed_at",
	}).AddRow("run-1", 0.9, 0.8, 0.95, 1.0, 1.0, 12, computed)

	mock.ExpectQuery("SELECT run_id, completeness").
		WithArgs("run-1").
		WillReturnRows(rows)

	snap, err := store.GetSnapshot(context.Background(), "run-1")
	require.NoError(t, err)
	require.Equal(t, 12, snap.RecordCount)
	require.InDelta(t, 0.9, snap.Completeness, 1e-9)
	require.NoError(t, mock.ExpectationsWereMet())
}
