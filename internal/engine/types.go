// Package engine defines core types shared across subsystems.
package engine

import (
	"net/http"
	"time"
)

// JobStatus represents the lifecycle state of a crawl job.
type JobStatus string

// Job status values persisted in the job store.
const (
	JobStatusIdle    JobStatus = "idle"
	JobStatusQueued  JobStatus = "queued"
	JobStatusRunning JobStatus = "running"
	JobStatusPaused  JobStatus = "paused"
	JobStatusError   JobStatus = "error"
)

// RunOutcome classifies a finished run.
type RunOutcome string

// Run outcome values persisted in the run store.
const (
	RunOutcomeSuccess   RunOutcome = "success"
	RunOutcomePartial   RunOutcome = "partial"
	RunOutcomeFailed    RunOutcome = "failed"
	RunOutcomeCancelled RunOutcome = "cancelled"
)

// ProxyStatus tracks endpoint availability within the pool.
type ProxyStatus string

// Proxy endpoint states.
const (
	ProxyStatusActive      ProxyStatus = "active"
	ProxyStatusDegraded    ProxyStatus = "degraded"
	ProxyStatusQuarantined ProxyStatus = "quarantined"
)

// ScheduleImmediate marks a job that fires once when registered instead of
// on a cron expression.
const ScheduleImmediate = "immediate"

// RetryPolicy bounds per-URL retry behavior inside a run.
type RetryPolicy struct {
	MaxRetries int           `json:"max_retries" mapstructure:"max_retries"`
	BaseDelay  time.Duration `json:"base_delay" mapstructure:"base_delay"`
	MaxDelay   time.Duration `json:"max_delay" mapstructure:"max_delay"`
}

// CrawlPolicy captures per-job crawl configuration knobs.
type CrawlPolicy struct {
	MaxDepth             int           `json:"max_depth" mapstructure:"max_depth"`
	PolitenessDelay      time.Duration `json:"politeness_delay" mapstructure:"politeness_delay"`
	MaxConcurrentFetches int           `json:"max_concurrent_fetches" mapstructure:"max_concurrent_fetches"`
	Retry                RetryPolicy   `json:"retry" mapstructure:"retry"`
	Strategy             string        `json:"strategy" mapstructure:"strategy"`
	StealthPromotion     bool          `json:"stealth_promotion" mapstructure:"stealth_promotion"`
	LinkSelector         string        `json:"link_selector" mapstructure:"link_selector"`
}

// Job binds a template, seed URLs, a schedule, and a crawl policy.
type Job struct {
	ID              string        `json:"id" mapstructure:"id"`
	Name            string        `json:"name" mapstructure:"name"`
	Domains         []string      `json:"domains" mapstructure:"domains"`
	Seeds           []string      `json:"seeds" mapstructure:"seeds"`
	TemplateID      string        `json:"template_id" mapstructure:"template_id"`
	TemplateVersion int           `json:"template_version" mapstructure:"template_version"`
	Schedule        string        `json:"schedule" mapstructure:"schedule"`
	Policy          CrawlPolicy   `json:"policy" mapstructure:"policy"`
	DedupFields     []string      `json:"dedup_fields" mapstructure:"dedup_fields"`
	FreshnessWindow time.Duration `json:"freshness_window" mapstructure:"freshness_window"`
	Status          JobStatus     `json:"status" mapstructure:"-"`
	CreatedAt       time.Time     `json:"created_at" mapstructure:"-"`
}

// RunCounters tracks per-run page and record stats. PagesIncomplete counts
// pages that fetched fine but yielded a record with required fields missing.
type RunCounters struct {
	PagesFetched      int `json:"pages_fetched"`
	PagesFailed       int `json:"pages_failed"`
	PagesIncomplete   int `json:"pages_incomplete"`
	RecordsExtracted  int `json:"records_extracted"`
	DuplicatesDropped int `json:"duplicates_dropped"`
	DepthExceeded     int `json:"depth_exceeded"`
}

// Run is one execution instance of a job.
type Run struct {
	ID         string      `json:"id"`
	JobID      string      `json:"job_id"`
	StartedAt  time.Time   `json:"started_at"`
	FinishedAt *time.Time  `json:"finished_at,omitempty"`
	Outcome    RunOutcome  `json:"outcome,omitempty"`
	Counters   RunCounters `json:"counters"`
	ErrorText  string      `json:"error_text,omitempty"`
}

// FrontierEntry is one queued URL within a run's frontier.
type FrontierEntry struct {
	URL          string    `json:"url"`
	Domain       string    `json:"domain"`
	Depth        int       `json:"depth"`
	Priority     int       `json:"priority"`
	AttemptCount int       `json:"attempt_count"`
	DiscoveredAt time.Time `json:"discovered_at"`
}

// Record is one extracted result page. Records are append-only.
type Record struct {
	ID          string             `json:"id"`
	RunID       string             `json:"run_id"`
	SourceURL   string             `json:"source_url"`
	Fields      map[string]string  `json:"fields"`
	Confidences map[string]float64 `json:"confidences"`
	Quality     float64            `json:"quality"`
	DedupKey    string             `json:"dedup_key"`
	ExtractedAt time.Time          `json:"extracted_at"`
	FetchedWith string             `json:"fetched_with,omitempty"`
	SourceAge   time.Duration      `json:"source_age,omitempty"`
}

// ProxyEndpoint is one upstream proxy tracked by the pool.
type ProxyEndpoint struct {
	Address             string      `json:"address"`
	Protocol            string      `json:"protocol"`
	Status              ProxyStatus `json:"status"`
	QualityScore        float64     `json:"quality_score"`
	SuccessCount        int64       `json:"success_count"`
	FailureCount        int64       `json:"failure_count"`
	ConsecutiveFailures int         `json:"consecutive_failures"`
	QuarantineCount     int         `json:"quarantine_count"`
	QuarantinedUntil    time.Time   `json:"quarantined_until,omitempty"`
	LastCheckedAt       time.Time   `json:"last_checked_at,omitempty"`
}

// URL builds the proxy URL string handed to fetch strategies.
func (p ProxyEndpoint) URL() string {
	if p.Protocol == "" {
		return "http://" + p.Address
	}
	return p.Protocol + "://" + p.Address
}

// QualitySnapshot aggregates per-field confidence into dataset metrics.
type QualitySnapshot struct {
	RunID        string    `json:"run_id"`
	Completeness float64   `json:"completeness"`
	Accuracy     float64   `json:"accuracy"`
	Consistency  float64   `json:"consistency"`
	Timeliness   float64   `json:"timeliness"`
	Uniqueness   float64   `json:"uniqueness"`
	RecordCount  int       `json:"record_count"`
	ComputedAt   time.Time `json:"computed_at"`
}

// FetchRequest captures everything needed to fetch a single URL.
type FetchRequest struct {
	JobID   string
	RunID   string
	URL     string
	Depth   int
	Headers http.Header
	Proxy   *ProxyEndpoint
}

// FetchResult is returned by a FetchStrategy implementation.
type FetchResult struct {
	URL          string
	StatusCode   int
	Headers      http.Header
	Body         []byte
	Duration     time.Duration
	UsedStealth  bool
	LastModified time.Time
}
