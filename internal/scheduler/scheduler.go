// Package scheduler drives job execution from cron expressions while
// guaranteeing at most one concurrent run per job.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/sparkling-owl/spin/internal/engine"
	"github.com/sparkling-owl/spin/internal/metrics"
)

// Scheduling sentinels surfaced to the API layer.
var (
	ErrAlreadyRunning = errors.New("job already has a running run")
	ErrJobPaused      = errors.New("job is paused")
	ErrRunNotActive   = errors.New("run is not active")
)

// RunLauncher executes one run of a job and blocks until it finishes.
type RunLauncher interface {
	Execute(ctx context.Context, jobID string) (engine.Run, error)
}

// Scheduler owns the cron table and the active-run registry. A schedule tick
// that lands while the job's previous run is still executing is skipped
// entirely, never queued behind it.
type Scheduler struct {
	launcher RunLauncher
	jobs     engine.JobStore
	runs     engine.RunStore
	cron     *cron.Cron
	parser   cron.Parser
	logger   *zap.Logger

	mu      sync.Mutex
	entries map[string]cron.EntryID
	active  map[string]context.CancelFunc
	paused  map[string]struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New constructs a stopped Scheduler; call Start to begin dispatching ticks.
func New(launcher RunLauncher, jobs engine.JobStore, runs engine.RunStore, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	// Standard 5-field cron format (minute hour day month weekday).
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		launcher: launcher,
		jobs:     jobs,
		runs:     runs,
		cron:     cron.New(cron.WithParser(parser), cron.WithChain(cron.Recover(cron.DefaultLogger))),
		parser:   parser,
		logger:   logger,
		entries:  make(map[string]cron.EntryID),
		active:   make(map[string]context.CancelFunc),
		paused:   make(map[string]struct{}),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start begins dispatching cron ticks.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("scheduler started")
}

// Stop drains the scheduler: no new ticks fire, active runs are cancelled,
// and Stop blocks until every launched run has returned.
func (s *Scheduler) Stop() {
	s.cancel()
	<-s.cron.Stop().Done()

	s.mu.Lock()
	for jobID, cancelRun := range s.active {
		s.logger.Info("cancelling active run", zap.String("job_id", jobID))
		cancelRun()
	}
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Info("scheduler stopped")
}

// Register installs a job's schedule. Empty or "immediate" schedules fire
// exactly once right away; everything else must be a valid 5-field cron
// expression. Re-registering replaces the previous entry.
func (s *Scheduler) Register(job engine.Job) error {
	schedule := strings.TrimSpace(job.Schedule)
	if schedule == "" || schedule == engine.ScheduleImmediate {
		s.fireAsync(job.ID)
		return nil
	}
	if _, err := s.parser.Parse(schedule); err != nil {
		return fmt.Errorf("%w: schedule %q: %v", engine.ErrInvalidJobConfig, schedule, err)
	}

	jobID := job.ID
	entryID, err := s.cron.AddFunc(schedule, func() {
		if err := s.fire(jobID); err != nil {
			s.logger.Warn("schedule tick skipped",
				zap.String("job_id", jobID),
				zap.Error(err),
			)
		}
	})
	if err != nil {
		return fmt.Errorf("add cron entry: %w", err)
	}

	s.mu.Lock()
	if old, exists := s.entries[jobID]; exists {
		s.cron.Remove(old)
	}
	s.entries[jobID] = entryID
	s.mu.Unlock()

	s.logger.Info("job scheduled",
		zap.String("job_id", jobID),
		zap.String("schedule", schedule),
	)
	return nil
}

// Unregister removes a job's cron entry. Active runs keep running.
func (s *Scheduler) Unregister(jobID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entryID, exists := s.entries[jobID]; exists {
		s.cron.Remove(entryID)
		delete(s.entries, jobID)
	}
}

// Pause blocks future ticks of a job. The active run, if any, completes.
func (s *Scheduler) Pause(ctx context.Context, jobID string) error {
	if _, err := s.jobs.GetJob(ctx, jobID); err != nil {
		return err
	}
	s.mu.Lock()
	s.paused[jobID] = struct{}{}
	s.mu.Unlock()
	if err := s.jobs.UpdateJobStatus(ctx, jobID, engine.JobStatusPaused); err != nil {
		s.logger.Warn("pause status update failed", zap.String("job_id", jobID), zap.Error(err))
	}
	return nil
}

// Resume re-enables a paused job.
func (s *Scheduler) Resume(ctx context.Context, jobID string) error {
	if _, err := s.jobs.GetJob(ctx, jobID); err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.paused, jobID)
	s.mu.Unlock()
	if err := s.jobs.UpdateJobStatus(ctx, jobID, engine.JobStatusIdle); err != nil {
		s.logger.Warn("resume status update failed", zap.String("job_id", jobID), zap.Error(err))
	}
	return nil
}

// TriggerNow fires a job outside its schedule. It reports ErrAlreadyRunning
// or ErrJobPaused without queueing.
func (s *Scheduler) TriggerNow(jobID string) error {
	return s.fire(jobID)
}

// CancelRun cancels the active run identified by runID.
func (s *Scheduler) CancelRun(ctx context.Context, runID string) error {
	run, err := s.runs.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	if run.FinishedAt != nil {
		return fmt.Errorf("run %s: %w", runID, ErrRunNotActive)
	}

	s.mu.Lock()
	cancelRun, active := s.active[run.JobID]
	s.mu.Unlock()
	if !active {
		return fmt.Errorf("run %s: %w", runID, ErrRunNotActive)
	}
	cancelRun()
	s.logger.Info("run cancelled",
		zap.String("run_id", runID),
		zap.String("job_id", run.JobID),
	)
	return nil
}

// fire launches one run of a job unless it is paused or already running.
func (s *Scheduler) fire(jobID string) error {
	s.mu.Lock()
	if _, isPaused := s.paused[jobID]; isPaused {
		s.mu.Unlock()
		return fmt.Errorf("job %s: %w", jobID, ErrJobPaused)
	}
	if _, running := s.active[jobID]; running {
		s.mu.Unlock()
		metrics.ObserveSchedulerSkip()
		return fmt.Errorf("job %s: %w", jobID, ErrAlreadyRunning)
	}
	runCtx, cancelRun := context.WithCancel(s.ctx)
	s.active[jobID] = cancelRun
	s.mu.Unlock()

	if err := s.jobs.UpdateJobStatus(s.ctx, jobID, engine.JobStatusQueued); err != nil {
		s.logger.Warn("queued status update failed", zap.String("job_id", jobID), zap.Error(err))
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			s.mu.Lock()
			delete(s.active, jobID)
			s.mu.Unlock()
			cancelRun()
		}()

		run, err := s.launcher.Execute(runCtx, jobID)
		if err != nil {
			s.logger.Error("run execution failed",
				zap.String("job_id", jobID),
				zap.Error(err),
			)
			if uerr := s.jobs.UpdateJobStatus(s.ctx, jobID, engine.JobStatusError); uerr != nil {
				s.logger.Warn("error status update failed", zap.String("job_id", jobID), zap.Error(uerr))
			}
			return
		}
		s.logger.Info("run completed",
			zap.String("job_id", jobID),
			zap.String("run_id", run.ID),
			zap.String("outcome", string(run.Outcome)),
		)
	}()
	return nil
}

func (s *Scheduler) fireAsync(jobID string) {
	if err := s.fire(jobID); err != nil {
		s.logger.Warn("immediate run not started",
			zap.String("job_id", jobID),
			zap.Error(err),
		)
	}
}
