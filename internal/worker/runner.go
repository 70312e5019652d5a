// Package worker implements the crawl run execution loop.
package worker

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sparkling-owl/spin/internal/engine"
	"github.com/sparkling-owl/spin/internal/events"
	"github.com/sparkling-owl/spin/internal/extract"
	"github.com/sparkling-owl/spin/internal/fetch"
	"github.com/sparkling-owl/spin/internal/frontier"
	"github.com/sparkling-owl/spin/internal/metrics"
	"github.com/sparkling-owl/spin/internal/proxy"
	"github.com/sparkling-owl/spin/internal/quality"
)

const seedPriority = 10

// Config controls Runner behavior.
type Config struct {
	// DefaultConcurrency applies when a job policy omits max_concurrent_fetches.
	DefaultConcurrency int
	// IdleWait is the dispatch backoff while the frontier is throttled or
	// other workers are still producing links.
	IdleWait time.Duration
	// AcquireRetries bounds proxy acquisition attempts per page.
	AcquireRetries int
	// AcquireBackoff is the wait between proxy acquisition attempts.
	AcquireBackoff time.Duration
	// HeartbeatInterval spaces RUN_HEARTBEAT events. Zero disables them.
	HeartbeatInterval time.Duration
	// DriftThreshold is the number of consecutive pages with every required
	// field missing before the run flags possible template drift.
	DriftThreshold int
	// DefaultPolitenessDelay applies when a job policy omits politeness_delay.
	DefaultPolitenessDelay time.Duration
	// DomainDelays overrides the politeness delay for specific domains.
	DomainDelays map[string]time.Duration
}

func (c *Config) applyDefaults() {
	if c.DefaultConcurrency <= 0 {
		c.DefaultConcurrency = 4
	}
	if c.IdleWait <= 0 {
		c.IdleWait = 50 * time.Millisecond
	}
	if c.AcquireRetries <= 0 {
		c.AcquireRetries = 3
	}
	if c.AcquireBackoff <= 0 {
		c.AcquireBackoff = 250 * time.Millisecond
	}
	if c.DriftThreshold <= 0 {
		c.DriftThreshold = 5
	}
}

func politenessDelay(policy engine.CrawlPolicy, cfg Config) time.Duration {
	if policy.PolitenessDelay > 0 {
		return policy.PolitenessDelay
	}
	return cfg.DefaultPolitenessDelay
}

// Deps bundles the collaborators a Runner needs.
type Deps struct {
	Jobs      engine.JobStore
	Runs      engine.RunStore
	Records   engine.RecordStore
	Templates engine.TemplateStore
	Snapshots engine.QualityStore
	Pool      *proxy.Pool
	HTTP      engine.FetchStrategy
	Stealth   engine.FetchStrategy
	Heuristic *fetch.Heuristic
	Extractor *extract.Engine
	Scorer    *quality.Scorer
	Hasher    engine.Hasher
	Clock     engine.Clock
	IDs       engine.IDGenerator
	Emitter   events.Emitter
	// Export, when set, receives the run's finalized record batch.
	Export engine.ExportSink
}

// Runner executes one crawl run at a time: it drains the frontier with a
// bounded worker pool, extracts records, and finalizes the run row.
type Runner struct {
	deps   Deps
	cfg    Config
	logger *zap.Logger
}

// New constructs a Runner.
func New(deps Deps, cfg Config, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.Emitter == nil {
		deps.Emitter = events.NopEmitter{}
	}
	cfg.applyDefaults()
	return &Runner{deps: deps, cfg: cfg, logger: logger}
}

// runState is the shared mutable state of one executing run.
type runState struct {
	job      engine.Job
	run      engine.Run
	tmpl     engine.Template
	frontier *frontier.Frontier
	domains  map[string]struct{}

	inflight atomic.Int64

	mu          sync.Mutex
	counters    engine.RunCounters
	seenKeys    map[string]struct{}
	drift       int
	driftWarned bool
	lastErr     string
}

func (st *runState) pageFetched() {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.counters.PagesFetched++
}

func (st *runState) pageFailed(err error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.counters.PagesFailed++
	if err != nil {
		st.lastErr = err.Error()
	}
}

func (st *runState) recordExtracted() {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.counters.RecordsExtracted++
}

func (st *runState) pageIncomplete() {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.counters.PagesIncomplete++
}

// duplicate marks a dedup key as seen, counting and reporting repeats.
func (st *runState) duplicate(key string) bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	if _, dup := st.seenKeys[key]; dup {
		st.counters.DuplicatesDropped++
		return true
	}
	st.seenKeys[key] = struct{}{}
	return false
}

// observeDrift tracks consecutive pages where every required field was
// missing. It reports true exactly once per run when the streak reaches the
// threshold.
func (st *runState) observeDrift(allRequiredMissing bool, threshold int) bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	if !allRequiredMissing {
		st.drift = 0
		return false
	}
	st.drift++
	if st.drift >= threshold && !st.driftWarned {
		st.driftWarned = true
		return true
	}
	return false
}

func (st *runState) snapshot() (engine.RunCounters, string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.counters, st.lastErr
}

func (st *runState) primaryDomain() string {
	if len(st.job.Domains) > 0 {
		return st.job.Domains[0]
	}
	return "unknown"
}

// inScope reports whether a discovered link's domain belongs to the job.
// Jobs without a domain allowlist accept everything.
func (st *runState) inScope(rawURL string) bool {
	if len(st.domains) == 0 {
		return true
	}
	_, ok := st.domains[engine.DomainOf(rawURL)]
	return ok
}

// Execute runs one crawl for the given job and returns the finalized run.
func (r *Runner) Execute(ctx context.Context, jobID string) (engine.Run, error) {
	job, err := r.deps.Jobs.GetJob(ctx, jobID)
	if err != nil {
		return engine.Run{}, fmt.Errorf("load job: %w", err)
	}
	tmpl, err := r.deps.Templates.GetTemplate(ctx, job.TemplateID, job.TemplateVersion)
	if err != nil {
		return engine.Run{}, fmt.Errorf("%w: template %s v%d: %v",
			engine.ErrInvalidJobConfig, job.TemplateID, job.TemplateVersion, err)
	}
	if len(job.Seeds) == 0 {
		return engine.Run{}, fmt.Errorf("%w: job %s has no seeds", engine.ErrInvalidJobConfig, job.ID)
	}

	runID, err := r.deps.IDs.NewID()
	if err != nil {
		return engine.Run{}, fmt.Errorf("new run id: %w", err)
	}
	run := engine.Run{ID: runID, JobID: job.ID, StartedAt: r.deps.Clock.Now()}
	if err := r.deps.Runs.CreateRun(ctx, run); err != nil {
		return engine.Run{}, fmt.Errorf("create run: %w", err)
	}
	if err := r.deps.Jobs.UpdateJobStatus(ctx, job.ID, engine.JobStatusRunning); err != nil {
		r.logger.Warn("job status update failed", zap.String("job_id", job.ID), zap.Error(err))
	}
	r.emit(events.Event{RunID: runID, JobID: job.ID, Stage: events.StageRunStart})

	st := &runState{
		job:      job,
		run:      run,
		tmpl:     tmpl,
		seenKeys: make(map[string]struct{}),
		domains:  make(map[string]struct{}, len(job.Domains)),
		frontier: frontier.New(frontier.Config{
			MaxDepth:     job.Policy.MaxDepth,
			MaxRetries:   job.Policy.Retry.MaxRetries,
			DefaultDelay: politenessDelay(job.Policy, r.cfg),
			DomainDelays: r.cfg.DomainDelays,
		}, r.deps.Clock, r.logger),
	}
	for _, domain := range job.Domains {
		st.domains[domain] = struct{}{}
	}

	seeded := 0
	for _, seed := range job.Seeds {
		result, err := st.frontier.Push(seed, 0, seedPriority)
		if err != nil {
			r.logger.Warn("seed rejected", zap.String("seed", seed), zap.Error(err))
			continue
		}
		if result == frontier.PushAccepted {
			seeded++
		}
	}
	if seeded == 0 {
		finishErr := fmt.Errorf("%w: no valid seeds", engine.ErrInvalidJobConfig)
		r.finalize(ctx, st, engine.RunOutcomeFailed, finishErr.Error())
		return run, finishErr
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stopHeartbeat := r.startHeartbeat(runCtx, st)

	concurrency := job.Policy.MaxConcurrentFetches
	if concurrency <= 0 {
		concurrency = r.cfg.DefaultConcurrency
	}
	g, gctx := errgroup.WithContext(runCtx)
	for i := 0; i < concurrency; i++ {
		g.Go(func() error { return r.workLoop(gctx, st) })
	}
	waitErr := g.Wait()
	stopHeartbeat()

	outcome, errText := r.deriveOutcome(ctx, st, waitErr)
	r.finalize(ctx, st, outcome, errText)

	finished := r.deps.Clock.Now()
	run.FinishedAt = &finished
	run.Outcome = outcome
	run.Counters, _ = st.snapshot()
	run.ErrorText = errText
	return run, nil
}

func (r *Runner) workLoop(ctx context.Context, st *runState) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		// inflight covers the window between pop and link push so idle
		// workers never exit while pages are still producing links.
		st.inflight.Add(1)
		entry, status := st.frontier.PopNext()
		switch status {
		case frontier.PopOK:
			err := r.processEntry(ctx, st, entry)
			st.inflight.Add(-1)
			if err != nil {
				return err
			}
		case frontier.PopEmpty:
			st.inflight.Add(-1)
			if st.inflight.Load() == 0 {
				return nil
			}
			if err := r.wait(ctx); err != nil {
				return err
			}
		case frontier.PopNotReady:
			st.inflight.Add(-1)
			metrics.ObservePolitenessWait(st.primaryDomain(), r.cfg.IdleWait)
			if err := r.wait(ctx); err != nil {
				return err
			}
		}
	}
}

func (r *Runner) wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(r.cfg.IdleWait):
		return nil
	}
}

// processEntry fetches one page and feeds extraction. Only fatal failures
// (proxy pool exhaustion) propagate; everything else degrades into counters.
func (r *Runner) processEntry(ctx context.Context, st *runState, entry engine.FrontierEntry) error {
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	result, strategyName, err := r.fetchEntry(ctx, st, entry)
	if err != nil {
		if errors.Is(err, engine.ErrPoolExhausted) {
			return err
		}
		kind := engine.FetchKind(err)
		metrics.ObserveFetchError(string(kind))
		r.logger.Debug("fetch failed",
			zap.String("run_id", st.run.ID),
			zap.String("url", entry.URL),
			zap.String("kind", string(kind)),
			zap.Error(err),
		)
		if !st.frontier.Requeue(entry) {
			st.pageFailed(err)
		}
		return nil
	}

	st.pageFetched()
	metrics.ObservePage(entry.Domain, strconv.Itoa(result.StatusCode))
	metrics.ObserveFetchDuration(strategyName, result.Duration)
	r.emit(events.Event{
		RunID:       st.run.ID,
		JobID:       st.job.ID,
		Stage:       events.StageFetchDone,
		Domain:      entry.Domain,
		URL:         entry.URL,
		StatusClass: events.ClassifyStatus(result.StatusCode),
		Dur:         result.Duration,
	})

	r.extractPage(ctx, st, entry, result, strategyName)

	if entry.Depth < st.job.Policy.MaxDepth {
		r.discoverLinks(st, entry, result)
	}
	return nil
}

// fetchEntry picks the strategy for a page, routes it through the proxy pool,
// and applies the stealth promotion heuristic.
func (r *Runner) fetchEntry(
	ctx context.Context,
	st *runState,
	entry engine.FrontierEntry,
) (engine.FetchResult, string, error) {
	request := engine.FetchRequest{
		JobID: st.job.ID,
		RunID: st.run.ID,
		URL:   entry.URL,
		Depth: entry.Depth,
	}
	if r.deps.Pool != nil {
		endpoint, err := r.acquireProxy(ctx, entry.Domain)
		if err != nil {
			return engine.FetchResult{}, "", err
		}
		request.Proxy = &endpoint
	}

	strategy := r.deps.HTTP
	if st.job.Policy.Strategy == "stealth" && r.deps.Stealth != nil {
		strategy = r.deps.Stealth
	}

	result, err := strategy.Fetch(ctx, request)
	r.releaseProxy(request.Proxy, err)
	if err != nil {
		return engine.FetchResult{}, strategy.Name(), err
	}

	if strategy != r.deps.Stealth && st.job.Policy.StealthPromotion &&
		r.deps.Stealth != nil && r.deps.Heuristic != nil && r.deps.Heuristic.ShouldPromote(result) {
		promotedReq := request
		promotedReq.Proxy = nil
		if r.deps.Pool != nil {
			endpoint, err := r.acquireProxy(ctx, entry.Domain)
			if err != nil {
				// Promotion is opportunistic; keep the plain result.
				r.logger.Warn("proxy acquire for promotion failed",
					zap.String("url", entry.URL), zap.Error(err))
				return result, strategy.Name(), nil
			}
			promotedReq.Proxy = &endpoint
		}
		promoted, perr := r.deps.Stealth.Fetch(ctx, promotedReq)
		r.releaseProxy(promotedReq.Proxy, perr)
		if perr != nil {
			r.logger.Warn("stealth promotion failed",
				zap.String("url", entry.URL), zap.Error(perr))
			return result, strategy.Name(), nil
		}
		promoted.UsedStealth = true
		return promoted, r.deps.Stealth.Name(), nil
	}
	return result, strategy.Name(), nil
}

func (r *Runner) acquireProxy(ctx context.Context, domain string) (engine.ProxyEndpoint, error) {
	for attempt := 0; attempt <= r.cfg.AcquireRetries; attempt++ {
		endpoint, err := r.deps.Pool.Acquire(domain)
		if err == nil {
			return endpoint, nil
		}
		select {
		case <-ctx.Done():
			return engine.ProxyEndpoint{}, ctx.Err()
		case <-time.After(r.cfg.AcquireBackoff):
		}
	}
	return engine.ProxyEndpoint{}, engine.ErrPoolExhausted
}

func (r *Runner) releaseProxy(endpoint *engine.ProxyEndpoint, fetchErr error) {
	if r.deps.Pool == nil || endpoint == nil {
		return
	}
	outcome := proxy.OutcomeSuccess
	if fetchErr != nil {
		switch engine.FetchKind(fetchErr) {
		case engine.FetchErrTimeout:
			outcome = proxy.OutcomeTimeout
		case engine.FetchErrBlocked:
			outcome = proxy.OutcomeBlocked
		default:
			outcome = proxy.OutcomeError
		}
	}
	r.deps.Pool.Release(endpoint.Address, outcome)
}

// extractPage applies the template to a fetched page and appends the
// resulting record unless its dedup key was already seen this run.
func (r *Runner) extractPage(
	ctx context.Context,
	st *runState,
	entry engine.FrontierEntry,
	result engine.FetchResult,
	strategyName string,
) {
	extraction, err := r.deps.Extractor.Extract(result.Body, st.tmpl)
	if err != nil {
		r.logger.Warn("extraction failed",
			zap.String("run_id", st.run.ID),
			zap.String("url", entry.URL),
			zap.Error(err),
		)
		return
	}

	required := st.tmpl.RequiredFields()
	if len(extraction.MissingRequired) > 0 {
		st.pageIncomplete()
	}
	allMissing := len(required) > 0 && len(extraction.MissingRequired) == len(required)
	if st.observeDrift(allMissing, r.cfg.DriftThreshold) {
		r.logger.Warn("possible template drift: required fields missing on consecutive pages",
			zap.String("job_id", st.job.ID),
			zap.String("template_id", st.tmpl.ID),
			zap.Int("template_version", st.tmpl.Version),
			zap.Int("consecutive_pages", r.cfg.DriftThreshold),
		)
		r.emit(events.Event{
			RunID: st.run.ID,
			JobID: st.job.ID,
			Stage: events.StageLayoutDrift,
			Note:  fmt.Sprintf("required fields missing on %d consecutive pages", r.cfg.DriftThreshold),
		})
	}

	recordID, err := r.deps.IDs.NewID()
	if err != nil {
		r.logger.Error("record id generation failed", zap.Error(err))
		return
	}
	now := r.deps.Clock.Now()
	record := engine.Record{
		ID:          recordID,
		RunID:       st.run.ID,
		SourceURL:   entry.URL,
		Fields:      extraction.Fields,
		Confidences: extraction.Confidences,
		Quality:     extraction.Quality,
		ExtractedAt: now,
		FetchedWith: strategyName,
	}
	if !result.LastModified.IsZero() {
		record.SourceAge = now.Sub(result.LastModified)
	}

	key, err := r.deps.Hasher.Hash([]byte(quality.DedupKey(record, st.job.DedupFields)))
	if err != nil {
		r.logger.Error("dedup key hash failed", zap.Error(err))
		return
	}
	record.DedupKey = key
	if st.duplicate(key) {
		r.logger.Debug("duplicate record dropped",
			zap.String("run_id", st.run.ID),
			zap.String("url", entry.URL),
		)
		return
	}

	if err := r.deps.Records.AppendRecord(ctx, record); err != nil {
		r.logger.Error("append record failed",
			zap.String("run_id", st.run.ID),
			zap.Error(err),
		)
		return
	}
	st.recordExtracted()
	metrics.ObserveRecord(st.job.Name, extraction.Quality)
	r.emit(events.Event{
		RunID:   st.run.ID,
		JobID:   st.job.ID,
		Stage:   events.StageRecordExtracted,
		URL:     entry.URL,
		Quality: extraction.Quality,
	})
}

func (r *Runner) discoverLinks(st *runState, entry engine.FrontierEntry, result engine.FetchResult) {
	links, err := r.deps.Extractor.DiscoverLinks(result.Body, entry.URL, st.job.Policy.LinkSelector)
	if err != nil {
		r.logger.Debug("link discovery failed", zap.String("url", entry.URL), zap.Error(err))
		return
	}
	for _, link := range links {
		if !st.inScope(link) {
			continue
		}
		if _, err := st.frontier.Push(link, entry.Depth+1, 0); err != nil {
			r.logger.Debug("discovered link rejected", zap.String("url", link), zap.Error(err))
		}
	}
}

// deriveOutcome classifies a finished run. Cancellation wins over everything,
// fatal errors over counter-derived outcomes.
func (r *Runner) deriveOutcome(ctx context.Context, st *runState, waitErr error) (engine.RunOutcome, string) {
	counters, lastErr := st.snapshot()
	switch {
	case ctx.Err() != nil:
		return engine.RunOutcomeCancelled, engine.ErrRunCancelled.Error()
	case waitErr != nil && !errors.Is(waitErr, context.Canceled):
		return engine.RunOutcomeFailed, waitErr.Error()
	case counters.PagesFetched == 0:
		if lastErr == "" {
			lastErr = "no pages were fetched"
		}
		return engine.RunOutcomeFailed, lastErr
	case counters.PagesFailed == 0 && counters.PagesIncomplete == 0:
		return engine.RunOutcomeSuccess, ""
	default:
		return engine.RunOutcomePartial, lastErr
	}
}

// finalize persists the run outcome, the quality snapshot, and the job status.
// It uses a detached context so a cancelled run still finalizes.
func (r *Runner) finalize(ctx context.Context, st *runState, outcome engine.RunOutcome, errText string) {
	finCtx := context.WithoutCancel(ctx)

	counters, _ := st.snapshot()
	counters.DepthExceeded = st.frontier.Stats().DepthExceeded
	finishedAt := r.deps.Clock.Now()

	if err := r.deps.Runs.FinalizeRun(finCtx, st.run.ID, outcome, counters, finishedAt, errText); err != nil {
		r.logger.Error("finalize run failed", zap.String("run_id", st.run.ID), zap.Error(err))
	}

	records, err := r.deps.Records.ListRecords(finCtx, st.run.ID)
	if err != nil {
		r.logger.Error("list run records failed", zap.String("run_id", st.run.ID), zap.Error(err))
	} else {
		if r.deps.Scorer != nil && r.deps.Snapshots != nil {
			snap := r.deps.Scorer.Score(st.run.ID, records, st.tmpl, quality.Config{
				DedupFields:     st.job.DedupFields,
				FreshnessWindow: st.job.FreshnessWindow,
			})
			if err := r.deps.Snapshots.SaveSnapshot(finCtx, snap); err != nil {
				r.logger.Error("save quality snapshot failed", zap.String("run_id", st.run.ID), zap.Error(err))
			}
		}
		if r.deps.Export != nil && len(records) > 0 {
			if err := r.deps.Export.Consume(finCtx, records); err != nil {
				r.logger.Error("export records failed", zap.String("run_id", st.run.ID), zap.Error(err))
			}
		}
	}

	jobStatus := engine.JobStatusIdle
	if outcome == engine.RunOutcomeFailed {
		jobStatus = engine.JobStatusError
	}
	if err := r.deps.Jobs.UpdateJobStatus(finCtx, st.job.ID, jobStatus); err != nil {
		r.logger.Warn("job status update failed", zap.String("job_id", st.job.ID), zap.Error(err))
	}

	metrics.ObserveRun(string(outcome))
	stage := events.StageRunDone
	if outcome == engine.RunOutcomeFailed {
		stage = events.StageRunError
	}
	r.emit(events.Event{
		RunID: st.run.ID,
		JobID: st.job.ID,
		Stage: stage,
		Dur:   finishedAt.Sub(st.run.StartedAt),
		Note:  errText,
	})

	r.logger.Info("run finished",
		zap.String("run_id", st.run.ID),
		zap.String("job_id", st.job.ID),
		zap.String("outcome", string(outcome)),
		zap.Int("pages_fetched", counters.PagesFetched),
		zap.Int("pages_failed", counters.PagesFailed),
		zap.Int("records_extracted", counters.RecordsExtracted),
		zap.Int("duplicates_dropped", counters.DuplicatesDropped),
	)
}

func (r *Runner) startHeartbeat(parent context.Context, st *runState) func() {
	if r.cfg.HeartbeatInterval <= 0 {
		return func() {}
	}
	ctx, cancel := context.WithCancel(parent)
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(r.cfg.HeartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				counters, _ := st.snapshot()
				r.emit(events.Event{
					RunID: st.run.ID,
					JobID: st.job.ID,
					Stage: events.StageRunHeartbeat,
					Note:  fmt.Sprintf("pages=%d records=%d", counters.PagesFetched, counters.RecordsExtracted),
				})
			}
		}
	}()
	return func() {
		cancel()
		<-done
	}
}

func (r *Runner) emit(evt events.Event) {
	evt.TS = r.deps.Clock.Now()
	r.deps.Emitter.Emit(evt)
}
