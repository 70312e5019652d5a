// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type dbPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// Store bundles every repository over one shared pool. It implements the
// JobStore, RunStore, RecordStore, TemplateStore, ProxyStore, and
// QualityStore interfaces.
type Store struct {
	pool dbPool
}

// New connects a Store using the provided config.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: pool}, nil
}

// NewWithPool constructs a Store from an existing pool (primarily for testing).
func NewWithPool(pool dbPool) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &Store{pool: pool}, nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

const schema = `
CREATE TABLE IF NOT EXISTS jobs (
	id                TEXT PRIMARY KEY,
	name              TEXT NOT NULL,
	domains           JSONB NOT NULL DEFAULT '[]',
	seeds             JSONB NOT NULL DEFAULT '[]',
	template_id       TEXT NOT NULL,
	template_version  INT NOT NULL DEFAULT 0,
	schedule          TEXT NOT NULL DEFAULT '',
	policy            JSONB NOT NULL DEFAULT '{}',
	dedup_fields      JSONB NOT NULL DEFAULT '[]',
	freshness_window  BIGINT NOT NULL DEFAULT 0,
	status            TEXT NOT NULL DEFAULT 'idle',
	created_at        TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS runs (
	id          TEXT PRIMARY KEY,
	job_id      TEXT NOT NULL REFERENCES jobs (id) ON DELETE CASCADE,
	started_at  TIMESTAMPTZ NOT NULL,
	finished_at TIMESTAMPTZ,
	outcome     TEXT NOT NULL DEFAULT '',
	counters    JSONB NOT NULL DEFAULT '{}',
	error_text  TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS runs_job_id_idx ON runs (job_id, started_at DESC);

CREATE TABLE IF NOT EXISTS records (
	id           TEXT PRIMARY KEY,
	run_id       TEXT NOT NULL REFERENCES runs (id) ON DELETE CASCADE,
	source_url   TEXT NOT NULL,
	fields       JSONB NOT NULL DEFAULT '{}',
	confidences  JSONB NOT NULL DEFAULT '{}',
	quality      DOUBLE PRECISION NOT NULL DEFAULT 0,
	dedup_key    TEXT NOT NULL DEFAULT '',
	extracted_at TIMESTAMPTZ NOT NULL,
	fetched_with TEXT NOT NULL DEFAULT '',
	source_age   BIGINT NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS records_run_id_idx ON records (run_id);

CREATE TABLE IF NOT EXISTS templates (
	id      TEXT NOT NULL,
	version INT NOT NULL,
	fields  JSONB NOT NULL DEFAULT '[]',
	PRIMARY KEY (id, version)
);

CREATE TABLE IF NOT EXISTS proxy_endpoints (
	address              TEXT PRIMARY KEY,
	protocol             TEXT NOT NULL DEFAULT '',
	status               TEXT NOT NULL DEFAULT 'active',
	quality_score        DOUBLE PRECISION NOT NULL DEFAULT 1,
	success_count        BIGINT NOT NULL DEFAULT 0,
	failure_count        BIGINT NOT NULL DEFAULT 0,
	consecutive_failures INT NOT NULL DEFAULT 0,
	quarantine_count     INT NOT NULL DEFAULT 0,
	quarantined_until    TIMESTAMPTZ,
	last_checked_at      TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS quality_snapshots (
	run_id       TEXT PRIMARY KEY REFERENCES runs (id) ON DELETE CASCADE,
	completeness DOUBLE PRECISION NOT NULL DEFAULT 0,
	accuracy     DOUBLE PRECISION NOT NULL DEFAULT 0,
	consistency  DOUBLE PRECISION NOT NULL DEFAULT 0,
	timeliness   DOUBLE PRECISION NOT NULL DEFAULT 0,
	uniqueness   DOUBLE PRECISION NOT NULL DEFAULT 0,
	record_count INT NOT NULL DEFAULT 0,
	computed_at  TIMESTAMPTZ NOT NULL
);
`

// EnsureSchema creates all tables and indexes if they do not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

func timeDuration(nanos int64) time.Duration {
	return time.Duration(nanos)
}
