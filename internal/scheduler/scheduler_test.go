package scheduler

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sparkling-owl/spin/internal/engine"
	"github.com/sparkling-owl/spin/internal/metrics"
	"github.com/sparkling-owl/spin/internal/storage/memory"
)

func TestMain(m *testing.M) {
	metrics.Init()
	os.Exit(m.Run())
}

// fakeLauncher records launches and optionally blocks until released or the
// run context is cancelled.
type fakeLauncher struct {
	runs    *memory.RunStore
	release chan struct{}

	mu    sync.Mutex
	calls []string
}

func (f *fakeLauncher) Execute(ctx context.Context, jobID string) (engine.Run, error) {
	f.mu.Lock()
	f.calls = append(f.calls, jobID)
	call := len(f.calls)
	f.mu.Unlock()

	run := engine.Run{ID: "run-" + jobID, JobID: jobID, StartedAt: time.Now()}
	if f.runs != nil && call == 1 {
		_ = f.runs.CreateRun(ctx, run)
	}

	outcome := engine.RunOutcomeSuccess
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			outcome = engine.RunOutcomeCancelled
		}
	}
	run.Outcome = outcome
	return run, nil
}

func (f *fakeLauncher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func newTestScheduler(t *testing.T, launcher RunLauncher, jobs *memory.JobStore, runs *memory.RunStore) *Scheduler {
	t.Helper()
	s := New(launcher, jobs, runs, zap.NewNop())
	t.Cleanup(s.Stop)
	return s
}

func seedJob(t *testing.T, jobs *memory.JobStore, id, schedule string) {
	t.Helper()
	require.NoError(t, jobs.CreateJob(context.Background(), engine.Job{
		ID:       id,
		Name:     id,
		Schedule: schedule,
		Status:   engine.JobStatusIdle,
	}))
}

func TestRegister_ImmediateFiresOnce(t *testing.T) {
	t.Parallel()

	jobs := memory.NewJobStore()
	launcher := &fakeLauncher{}
	s := newTestScheduler(t, launcher, jobs, memory.NewRunStore())
	seedJob(t, jobs, "job-1", engine.ScheduleImmediate)

	job, err := jobs.GetJob(context.Background(), "job-1")
	require.NoError(t, err)
	require.NoError(t, s.Register(job))

	require.Eventually(t, func() bool {
		return launcher.callCount() == 1
	}, 2*time.Second, 10*time.Millisecond)

	// No cron entry was installed, so nothing fires again.
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, 1, launcher.callCount())
}

func TestRegister_RejectsInvalidCron(t *testing.T) {
	t.Parallel()

	jobs := memory.NewJobStore()
	s := newTestScheduler(t, &fakeLauncher{}, jobs, memory.NewRunStore())
	seedJob(t, jobs, "job-1", "not a cron line")

	job, err := jobs.GetJob(context.Background(), "job-1")
	require.NoError(t, err)
	require.ErrorIs(t, s.Register(job), engine.ErrInvalidJobConfig)
}

func TestTriggerNow_SkipsOverlappingRun(t *testing.T) {
	t.Parallel()

	jobs := memory.NewJobStore()
	launcher := &fakeLauncher{release: make(chan struct{})}
	s := newTestScheduler(t, launcher, jobs, memory.NewRunStore())
	seedJob(t, jobs, "job-1", "0 * * * *")

	require.NoError(t, s.TriggerNow("job-1"))
	require.Eventually(t, func() bool {
		return launcher.callCount() == 1
	}, 2*time.Second, 10*time.Millisecond)

	// Second trigger lands while the first run still executes.
	require.ErrorIs(t, s.TriggerNow("job-1"), ErrAlreadyRunning)

	close(launcher.release)
	require.Eventually(t, func() bool {
		return s.TriggerNow("job-1") == nil
	}, 2*time.Second, 10*time.Millisecond)
}

func TestPauseBlocksTriggersUntilResume(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	jobs := memory.NewJobStore()
	launcher := &fakeLauncher{}
	s := newTestScheduler(t, launcher, jobs, memory.NewRunStore())
	seedJob(t, jobs, "job-1", "0 * * * *")

	require.NoError(t, s.Pause(ctx, "job-1"))
	require.ErrorIs(t, s.TriggerNow("job-1"), ErrJobPaused)
	require.Zero(t, launcher.callCount())

	job, err := jobs.GetJob(ctx, "job-1")
	require.NoError(t, err)
	require.Equal(t, engine.JobStatusPaused, job.Status)

	require.NoError(t, s.Resume(ctx, "job-1"))
	require.NoError(t, s.TriggerNow("job-1"))
	require.Eventually(t, func() bool {
		return launcher.callCount() == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestCancelRun_StopsActiveRun(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	jobs := memory.NewJobStore()
	runs := memory.NewRunStore()
	launcher := &fakeLauncher{runs: runs, release: make(chan struct{})}
	s := newTestScheduler(t, launcher, jobs, runs)
	seedJob(t, jobs, "job-1", "0 * * * *")

	require.NoError(t, s.TriggerNow("job-1"))
	require.Eventually(t, func() bool {
		_, err := runs.GetRun(ctx, "run-job-1")
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, s.CancelRun(ctx, "run-job-1"))

	// The run slot frees up once the cancelled run returns.
	require.Eventually(t, func() bool {
		return s.TriggerNow("job-1") == nil
	}, 2*time.Second, 10*time.Millisecond)
}

func TestCancelRun_RejectsFinishedRun(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	jobs := memory.NewJobStore()
	runs := memory.NewRunStore()
	s := newTestScheduler(t, &fakeLauncher{}, jobs, runs)

	started := time.Now()
	require.NoError(t, runs.CreateRun(ctx, engine.Run{ID: "run-done", JobID: "job-1", StartedAt: started}))
	require.NoError(t, runs.FinalizeRun(ctx, "run-done", engine.RunOutcomeSuccess, engine.RunCounters{}, started.Add(time.Minute), ""))

	require.ErrorIs(t, s.CancelRun(ctx, "run-done"), ErrRunNotActive)

	_, err := runs.GetRun(ctx, "run-missing")
	require.Error(t, err)
	require.ErrorIs(t, s.CancelRun(ctx, "run-missing"), engine.ErrNotFound)
}

func TestUnregisterRemovesEntry(t *testing.T) {
	t.Parallel()

	jobs := memory.NewJobStore()
	s := newTestScheduler(t, &fakeLauncher{}, jobs, memory.NewRunStore())
	seedJob(t, jobs, "job-1", "* * * * *")

	job, err := jobs.GetJob(context.Background(), "job-1")
	require.NoError(t, err)
	require.NoError(t, s.Register(job))

	s.mu.Lock()
	_, registered := s.entries["job-1"]
	s.mu.Unlock()
	require.True(t, registered)

	s.Unregister("job-1")

	s.mu.Lock()
	_, registered = s.entries["job-1"]
	s.mu.Unlock()
	require.False(t, registered)
}
