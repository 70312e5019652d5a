package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sparkling-owl/spin/internal/config"
	"github.com/sparkling-owl/spin/internal/engine"
	"github.com/sparkling-owl/spin/internal/metrics"
	"github.com/sparkling-owl/spin/internal/scheduler"
	"github.com/sparkling-owl/spin/internal/storage/memory"
)

func TestMain(m *testing.M) {
	metrics.Init()
	os.Exit(m.Run())
}

type fakeScheduler struct {
	registered   []string
	unregistered []string
	paused       map[string]bool
	triggerErr   error
	cancelErr    error
	registerErr  error
}

func newFakeScheduler() *fakeScheduler {
	return &fakeScheduler{paused: make(map[string]bool)}
}

func (f *fakeScheduler) Register(job engine.Job) error {
	if f.registerErr != nil {
		return f.registerErr
	}
	f.registered = append(f.registered, job.ID)
	return nil
}

func (f *fakeScheduler) Unregister(jobID string) {
	f.unregistered = append(f.unregistered, jobID)
}

func (f *fakeScheduler) Pause(_ context.Context, jobID string) error {
	f.paused[jobID] = true
	return nil
}

func (f *fakeScheduler) Resume(_ context.Context, jobID string) error {
	delete(f.paused, jobID)
	return nil
}

func (f *fakeScheduler) TriggerNow(jobID string) error {
	if f.triggerErr != nil {
		return f.triggerErr
	}
	if f.paused[jobID] {
		return scheduler.ErrJobPaused
	}
	return nil
}

func (f *fakeScheduler) CancelRun(context.Context, string) error {
	return f.cancelErr
}

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

type seqIDs struct{ n int }

func (s *seqIDs) NewID() (string, error) {
	s.n++
	return fmt.Sprintf("id-%d", s.n), nil
}

type apiHarness struct {
	server *Server
	stores Stores
	sched  *fakeScheduler
}

func newHarness(t *testing.T, cfg config.Config) *apiHarness {
	t.Helper()
	jobs := memory.NewJobStore()
	runs := memory.NewRunStore()
	records := memory.NewRecordStore()
	snapshots := memory.NewQualityStore()
	jobs.AttachCascade(runs, records, snapshots)
	stores := Stores{
		Jobs:      jobs,
		Runs:      runs,
		Records:   records,
		Templates: memory.NewTemplateStore(),
		Snapshots: snapshots,
	}
	sched := newFakeScheduler()
	server := NewServer(stores, sched, &seqIDs{}, fixedClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}, cfg, zap.NewNop())
	return &apiHarness{server: server, stores: stores, sched: sched}
}

func (h *apiHarness) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	h.server.Handler().ServeHTTP(rec, req)
	return rec
}

func (h *apiHarness) seedTemplate(t *testing.T) engine.Template {
	t.Helper()
	tmpl := engine.Template{
		ID:      "product",
		Version: 1,
		Fields: []engine.FieldSpec{
			{Name: "title", Selector: "h1", Required: true},
		},
	}
	require.NoError(t, h.stores.Templates.PutTemplate(context.Background(), tmpl))
	return tmpl
}

func (h *apiHarness) seedJob(t *testing.T) engine.Job {
	t.Helper()
	h.seedTemplate(t)
	job := engine.Job{
		ID:         "job-1",
		Name:       "widgets",
		Domains:    []string{"example.com"},
		Seeds:      []string{"https://example.com/list"},
		TemplateID: "product",
		Status:     engine.JobStatusIdle,
	}
	require.NoError(t, h.stores.Jobs.CreateJob(context.Background(), job))
	return job
}

func TestHealthAndReadiness(t *testing.T) {
	t.Parallel()
	h := newHarness(t, config.Config{})

	rec := h.do(t, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = h.do(t, http.MethodGet, "/readyz", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestAPIKeyMiddleware(t *testing.T) {
	t.Parallel()
	cfg := config.Config{Auth: config.AuthConfig{Enabled: true, APIKey: "secret"}}
	h := newHarness(t, cfg)

	rec := h.do(t, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusForbidden, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-API-Key", "secret")
	out := httptest.NewRecorder()
	h.server.Handler().ServeHTTP(out, req)
	require.Equal(t, http.StatusOK, out.Code)

	out = httptest.NewRecorder()
	h.server.Handler().ServeHTTP(out, httptest.NewRequest(http.MethodGet, "/healthz?api_key=secret", nil))
	require.Equal(t, http.StatusOK, out.Code)
}

func TestCreateTemplate(t *testing.T) {
	t.Parallel()
	h := newHarness(t, config.Config{})

	tmpl := engine.Template{
		ID:      "product",
		Version: 1,
		Fields:  []engine.FieldSpec{{Name: "title", Selector: "h1", Required: true}},
	}
	rec := h.do(t, http.MethodPost, "/v1/templates", tmpl)
	require.Equal(t, http.StatusCreated, rec.Code)

	// Versions are immutable.
	rec = h.do(t, http.MethodPost, "/v1/templates", tmpl)
	require.Equal(t, http.StatusConflict, rec.Code)

	rec = h.do(t, http.MethodPost, "/v1/templates", engine.Template{ID: "bad", Version: 1})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetTemplateResolvesLatest(t *testing.T) {
	t.Parallel()
	h := newHarness(t, config.Config{})
	h.seedTemplate(t)
	require.NoError(t, h.stores.Templates.PutTemplate(context.Background(), engine.Template{
		ID:      "product",
		Version: 2,
		Fields:  []engine.FieldSpec{{Name: "title", Selector: "h1.main", Required: true}},
	}))

	rec := h.do(t, http.MethodGet, "/v1/templates/product", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var latest engine.Template
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &latest))
	require.Equal(t, 2, latest.Version)

	rec = h.do(t, http.MethodGet, "/v1/templates/product/1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var pinned engine.Template
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &pinned))
	require.Equal(t, 1, pinned.Version)

	rec = h.do(t, http.MethodGet, "/v1/templates/missing", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateJobRegistersWithScheduler(t *testing.T) {
	t.Parallel()
	h := newHarness(t, config.Config{})
	h.seedTemplate(t)

	job := engine.Job{
		Name:       "widgets",
		Domains:    []string{"example.com"},
		Seeds:      []string{"https://example.com/list"},
		TemplateID: "product",
		Schedule:   "0 * * * *",
	}
	rec := h.do(t, http.MethodPost, "/v1/jobs", job)
	require.Equal(t, http.StatusCreated, rec.Code)

	var created engine.Job
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	require.Equal(t, "id-1", created.ID)
	require.Equal(t, engine.JobStatusIdle, created.Status)
	require.Equal(t, []string{"id-1"}, h.sched.registered)

	stored, err := h.stores.Jobs.GetJob(context.Background(), "id-1")
	require.NoError(t, err)
	require.Equal(t, "widgets", stored.Name)
}

func TestCreateJobRejectsUnknownTemplate(t *testing.T) {
	t.Parallel()
	h := newHarness(t, config.Config{})

	rec := h.do(t, http.MethodPost, "/v1/jobs", engine.Job{
		Seeds:      []string{"https://example.com"},
		TemplateID: "missing",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Empty(t, h.sched.registered)
}

func TestCreateJobRollsBackOnBadSchedule(t *testing.T) {
	t.Parallel()
	h := newHarness(t, config.Config{})
	h.seedTemplate(t)
	h.sched.registerErr = fmt.Errorf("%w: bad cron", engine.ErrInvalidJobConfig)

	rec := h.do(t, http.MethodPost, "/v1/jobs", engine.Job{
		Seeds:      []string{"https://example.com"},
		TemplateID: "product",
		Schedule:   "not a cron",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	_, err := h.stores.Jobs.GetJob(context.Background(), "id-1")
	require.ErrorIs(t, err, engine.ErrNotFound)
}

func TestJobLifecycleEndpoints(t *testing.T) {
	t.Parallel()
	h := newHarness(t, config.Config{})
	job := h.seedJob(t)

	rec := h.do(t, http.MethodGet, "/v1/jobs", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var listed struct {
		Count int `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listed))
	require.Equal(t, 1, listed.Count)

	rec = h.do(t, http.MethodGet, "/v1/jobs/"+job.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = h.do(t, http.MethodPost, "/v1/jobs/"+job.ID+"/pause", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, h.sched.paused[job.ID])

	rec = h.do(t, http.MethodPost, "/v1/jobs/"+job.ID+"/trigger", nil)
	require.Equal(t, http.StatusConflict, rec.Code)

	rec = h.do(t, http.MethodPost, "/v1/jobs/"+job.ID+"/resume", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = h.do(t, http.MethodPost, "/v1/jobs/"+job.ID+"/trigger", nil)
	require.Equal(t, http.StatusAccepted, rec.Code)

	rec = h.do(t, http.MethodDelete, "/v1/jobs/"+job.ID, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Equal(t, []string{job.ID}, h.sched.unregistered)

	rec = h.do(t, http.MethodGet, "/v1/jobs/"+job.ID, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestTriggerOverlappingRunConflicts(t *testing.T) {
	t.Parallel()
	h := newHarness(t, config.Config{})
	job := h.seedJob(t)
	h.sched.triggerErr = scheduler.ErrAlreadyRunning

	rec := h.do(t, http.MethodPost, "/v1/jobs/"+job.ID+"/trigger", nil)
	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestRunEndpoints(t *testing.T) {
	t.Parallel()
	h := newHarness(t, config.Config{})
	job := h.seedJob(t)

	ctx := context.Background()
	started := time.Date(2025, 6, 1, 11, 0, 0, 0, time.UTC)
	run := engine.Run{ID: "run-1", JobID: job.ID, StartedAt: started}
	require.NoError(t, h.stores.Runs.CreateRun(ctx, run))
	require.NoError(t, h.stores.Records.AppendRecord(ctx, engine.Record{
		ID:        "rec-1",
		RunID:     run.ID,
		SourceURL: "https://example.com/p/1",
		Fields:    map[string]string{"title": "Widget"},
	}))
	require.NoError(t, h.stores.Snapshots.SaveSnapshot(ctx, engine.QualitySnapshot{
		RunID:        run.ID,
		Completeness: 1,
		RecordCount:  1,
	}))

	rec := h.do(t, http.MethodGet, "/v1/runs/run-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = h.do(t, http.MethodGet, "/v1/jobs/"+job.ID+"/runs", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var runs struct {
		Count int `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &runs))
	require.Equal(t, 1, runs.Count)

	rec = h.do(t, http.MethodGet, "/v1/runs/run-1/records", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var records struct {
		Count int `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &records))
	require.Equal(t, 1, records.Count)

	rec = h.do(t, http.MethodGet, "/v1/runs/run-1/quality", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var snapshot engine.QualitySnapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snapshot))
	require.Equal(t, 1, snapshot.RecordCount)

	rec = h.do(t, http.MethodPost, "/v1/runs/run-1/cancel", nil)
	require.Equal(t, http.StatusAccepted, rec.Code)

	rec = h.do(t, http.MethodGet, "/v1/runs/missing", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	rec = h.do(t, http.MethodGet, "/v1/runs/missing/quality", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCancelFinishedRunConflicts(t *testing.T) {
	t.Parallel()
	h := newHarness(t, config.Config{})
	h.sched.cancelErr = scheduler.ErrRunNotActive

	rec := h.do(t, http.MethodPost, "/v1/runs/run-9/cancel", nil)
	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestRequestIDHeader(t *testing.T) {
	t.Parallel()
	h := newHarness(t, config.Config{})

	rec := h.do(t, http.MethodGet, "/healthz", nil)
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}
