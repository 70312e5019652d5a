package engine

import (
	"context"
	"time"
)

// FetchStrategy performs a single fetch of a URL. Implementations are
// interchangeable; the dispatch loop is strategy-agnostic.
type FetchStrategy interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResult, error)
	Name() string
}

// JobStore persists job definitions and status transitions.
type JobStore interface {
	CreateJob(ctx context.Context, job Job) error
	UpdateJobStatus(ctx context.Context, jobID string, status JobStatus) error
	GetJob(ctx context.Context, jobID string) (Job, error)
	ListJobs(ctx context.Context) ([]Job, error)
	DeleteJob(ctx context.Context, jobID string) error
}

// RunStore persists run lifecycle and counters.
type RunStore interface {
	CreateRun(ctx context.Context, run Run) error
	FinalizeRun(ctx context.Context, runID string, outcome RunOutcome, counters RunCounters, finishedAt time.Time, errText string) error
	GetRun(ctx context.Context, runID string) (Run, error)
	ListRuns(ctx context.Context, jobID string) ([]Run, error)
}

// RecordStore persists extracted records. Records are append-only.
type RecordStore interface {
	AppendRecord(ctx context.Context, record Record) error
	ListRecords(ctx context.Context, runID string) ([]Record, error)
}

// TemplateStore resolves versioned extraction templates.
type TemplateStore interface {
	PutTemplate(ctx context.Context, template Template) error
	GetTemplate(ctx context.Context, id string, version int) (Template, error)
}

// QualityStore persists per-run quality snapshots.
type QualityStore interface {
	SaveSnapshot(ctx context.Context, snapshot QualitySnapshot) error
	GetSnapshot(ctx context.Context, runID string) (QualitySnapshot, error)
}

// ProxyStore persists proxy endpoint health between restarts.
type ProxyStore interface {
	SaveEndpoint(ctx context.Context, endpoint ProxyEndpoint) error
	ListEndpoints(ctx context.Context) ([]ProxyEndpoint, error)
}

// ExportSink consumes finalized record batches. Format conversion is the
// sink's concern, not the core's.
type ExportSink interface {
	Consume(ctx context.Context, records []Record) error
}

// Publisher pushes run lifecycle events to an external dispatcher.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Hasher computes digests for dedup keys and content fingerprints.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run and record IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
