// Package main wires together the spin crawl service binary.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/sparkling-owl/spin/internal/api"
	"github.com/sparkling-owl/spin/internal/clock/system"
	"github.com/sparkling-owl/spin/internal/config"
	"github.com/sparkling-owl/spin/internal/engine"
	"github.com/sparkling-owl/spin/internal/events"
	"github.com/sparkling-owl/spin/internal/events/sinks"
	"github.com/sparkling-owl/spin/internal/extract"
	"github.com/sparkling-owl/spin/internal/fetch"
	"github.com/sparkling-owl/spin/internal/fetch/plainhttp"
	"github.com/sparkling-owl/spin/internal/fetch/stealth"
	"github.com/sparkling-owl/spin/internal/hash/sha256"
	"github.com/sparkling-owl/spin/internal/id/uuid"
	"github.com/sparkling-owl/spin/internal/logging"
	"github.com/sparkling-owl/spin/internal/metrics"
	"github.com/sparkling-owl/spin/internal/proxy"
	memorypublisher "github.com/sparkling-owl/spin/internal/publisher/memory"
	"github.com/sparkling-owl/spin/internal/quality"
	"github.com/sparkling-owl/spin/internal/scheduler"
	"github.com/sparkling-owl/spin/internal/storage/memory"
	"github.com/sparkling-owl/spin/internal/storage/postgres"
	"github.com/sparkling-owl/spin/internal/worker"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if syncErr := logger.Sync(); syncErr != nil {
			fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
		}
	}()
	zap.ReplaceGlobals(logger)
	metrics.Init()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("service exited with error", zap.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	clock := system.New()
	idGen := uuid.NewUUIDGenerator()
	hasher := sha256.New()

	stores, proxyStore, pgStore, err := buildStores(ctx, cfg)
	if err != nil {
		return err
	}
	if pgStore != nil {
		defer pgStore.Close()
		logger.Info("using postgres storage")
	} else {
		logger.Info("using in-memory storage")
	}

	httpFetcher := plainhttp.New(plainhttp.Config{
		UserAgent: cfg.HTTP.UserAgent,
		Timeout:   cfg.HTTP.Timeout,
	})
	var stealthFetcher engine.FetchStrategy = stealth.NewNoop()
	if cfg.Stealth.Enabled {
		chromeFetcher, err := stealth.NewChromedp(stealth.Config{
			MaxParallel:       cfg.Stealth.MaxParallel,
			UserAgent:         cfg.HTTP.UserAgent,
			NavigationTimeout: cfg.Stealth.NavigationTimeout,
		})
		if err != nil {
			logger.Warn("stealth fetcher init failed, promotion disabled", zap.Error(err))
		} else {
			stealthFetcher = chromeFetcher
			defer chromeFetcher.Close()
		}
	}

	var pool *proxy.Pool
	endpoints, err := loadEndpoints(ctx, cfg, proxyStore)
	if err != nil {
		return err
	}
	if len(endpoints) > 0 {
		pool = proxy.NewPool(proxy.Config{
			Alpha:               cfg.Proxy.Alpha,
			QuarantineThreshold: cfg.Proxy.QuarantineThreshold,
			BaseCooldown:        cfg.Proxy.BaseCooldown,
			MaxCooldown:         cfg.Proxy.MaxCooldown,
			DegradedBelow:       cfg.Proxy.DegradedBelow,
		}, endpoints, clock, logger.Named("proxy"))
		prober := proxy.NewProber(
			pool,
			proxy.HTTPProbe(cfg.Proxy.ProbeURL),
			cfg.Proxy.ProbeInterval,
			cfg.Proxy.ProbeTimeout,
			logger.Named("prober"),
		)
		go prober.Run(ctx)
		logger.Info("proxy pool started", zap.Int("endpoints", len(endpoints)))
	}

	hub := events.NewHub(events.Config{
		BufferSize:     cfg.Events.BufferSize,
		MaxBatchEvents: cfg.Events.MaxBatchEvents,
		MaxBatchWait:   cfg.Events.MaxBatchWait,
		BaseContext:    ctx,
		Logger:         logger.Named("events"),
	},
		sinks.NewLogSink(logger.Named("activity")),
		sinks.NewPublisherSink("spin.runs", memorypublisher.New()),
	)

	runner := worker.New(worker.Deps{
		Jobs:      stores.Jobs,
		Runs:      stores.Runs,
		Records:   stores.Records,
		Templates: stores.Templates,
		Snapshots: stores.Snapshots,
		Pool:      pool,
		HTTP:      httpFetcher,
		Stealth:   stealthFetcher,
		Heuristic: fetch.NewHeuristic(cfg.Stealth.PromotionBodyBytes),
		Extractor: extract.NewEngine(logger.Named("extract")),
		Scorer:    quality.NewScorer(clock),
		Hasher:    hasher,
		Clock:     clock,
		IDs:       idGen,
		Emitter:   hub,
	}, worker.Config{
		DefaultConcurrency:     cfg.Runner.DefaultConcurrency,
		HeartbeatInterval:      cfg.Runner.HeartbeatInterval,
		DriftThreshold:         cfg.Runner.DriftThreshold,
		DefaultPolitenessDelay: cfg.Frontier.DefaultDelay,
		DomainDelays:           cfg.Frontier.DomainDelays,
	}, logger.Named("worker"))

	sched := scheduler.New(runner, stores.Jobs, stores.Runs, logger.Named("scheduler"))
	sched.Start()

	if err := seedConfigured(ctx, cfg, stores, sched, clock, logger); err != nil {
		return err
	}

	apiServer := api.NewServer(stores, sched, idGen, clock, cfg, logger.Named("api"))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-serverErr:
		return fmt.Errorf("http server: %w", err)
	}
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	sched.Stop()
	if err := hub.Close(shutdownCtx); err != nil {
		logger.Error("event hub close error", zap.Error(err))
	}
	if pool != nil {
		if err := pool.Persist(shutdownCtx, proxyStore); err != nil {
			logger.Error("proxy state persist error", zap.Error(err))
		}
	}
	logger.Info("shutdown complete")
	return nil
}

// buildStores selects Postgres-backed stores when a DSN is configured and
// falls back to the in-memory stores otherwise.
func buildStores(ctx context.Context, cfg config.Config) (api.Stores, engine.ProxyStore, *postgres.Store, error) {
	if cfg.DB.DSN == "" {
		jobs := memory.NewJobStore()
		runs := memory.NewRunStore()
		records := memory.NewRecordStore()
		snapshots := memory.NewQualityStore()
		jobs.AttachCascade(runs, records, snapshots)
		stores := api.Stores{
			Jobs:      jobs,
			Runs:      runs,
			Records:   records,
			Templates: memory.NewTemplateStore(),
			Snapshots: snapshots,
		}
		return stores, memory.NewProxyStore(), nil, nil
	}

	store, err := postgres.New(ctx, postgres.Config{
		DSN:             cfg.DB.DSN,
		MaxConns:        cfg.DB.MaxConns,
		MinConns:        cfg.DB.MinConns,
		MaxConnLifetime: cfg.DB.MaxConnLifetime,
	})
	if err != nil {
		return api.Stores{}, nil, nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := store.EnsureSchema(ctx); err != nil {
		store.Close()
		return api.Stores{}, nil, nil, fmt.Errorf("ensure schema: %w", err)
	}
	stores := api.Stores{
		Jobs:      store,
		Runs:      store,
		Records:   store,
		Templates: store,
		Snapshots: store,
	}
	return stores, store, store, nil
}

// loadEndpoints merges configured proxy endpoints with persisted health
// state. Persisted entries win so quarantine history survives restarts.
func loadEndpoints(ctx context.Context, cfg config.Config, store engine.ProxyStore) ([]engine.ProxyEndpoint, error) {
	configured := cfg.ProxyEndpoints()
	persisted, err := store.ListEndpoints(ctx)
	if err != nil {
		return nil, fmt.Errorf("load proxy state: %w", err)
	}
	byAddress := make(map[string]engine.ProxyEndpoint, len(persisted))
	for _, ep := range persisted {
		byAddress[ep.Address] = ep
	}
	merged := make([]engine.ProxyEndpoint, 0, len(configured))
	for _, ep := range configured {
		if saved, ok := byAddress[ep.Address]; ok {
			merged = append(merged, saved)
			continue
		}
		merged = append(merged, ep)
	}
	return merged, nil
}

// seedConfigured installs templates and jobs declared in the config file.
// Existing rows are left untouched so restarts are idempotent.
func seedConfigured(
	ctx context.Context,
	cfg config.Config,
	stores api.Stores,
	sched *scheduler.Scheduler,
	clock engine.Clock,
	logger *zap.Logger,
) error {
	for _, tmpl := range cfg.Templates {
		err := stores.Templates.PutTemplate(ctx, tmpl)
		switch {
		case errors.Is(err, engine.ErrAlreadyExists):
			logger.Debug("template already present", zap.String("template_id", tmpl.ID), zap.Int("version", tmpl.Version))
		case err != nil:
			return fmt.Errorf("seed template %s: %w", tmpl.ID, err)
		}
	}
	for _, job := range cfg.Jobs {
		job.Status = engine.JobStatusIdle
		job.CreatedAt = clock.Now().UTC()
		err := stores.Jobs.CreateJob(ctx, job)
		switch {
		case errors.Is(err, engine.ErrAlreadyExists):
			logger.Debug("job already present", zap.String("job_id", job.ID))
		case err != nil:
			return fmt.Errorf("seed job %s: %w", job.ID, err)
		}
		if err := sched.Register(job); err != nil {
			return fmt.Errorf("register job %s: %w", job.ID, err)
		}
	}
	return nil
}
