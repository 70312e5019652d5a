// Package quality computes dataset-level quality snapshots from record sets.
package quality

import (
	"net/url"
	"strconv"
	"time"

	"github.com/sparkling-owl/spin/internal/engine"
)

// Config controls snapshot computation for one job.
type Config struct {
	// DedupFields is the job-configured dedup key; empty means the
	// normalized source URL identifies a record.
	DedupFields []string
	// FreshnessWindow bounds how old a record's source may be to count as
	// timely. Zero disables the check (everything is timely).
	FreshnessWindow time.Duration
}

// Scorer aggregates per-field confidence into dataset metrics. Scoring is
// deterministic: the same record set always yields the same snapshot.
type Scorer struct {
	clock engine.Clock
}

// NewScorer constructs a Scorer.
func NewScorer(clock engine.Clock) *Scorer {
	return &Scorer{clock: clock}
}

// Score computes a snapshot over the records of one run.
func (s *Scorer) Score(runID string, records []engine.Record, tmpl engine.Template, cfg Config) engine.QualitySnapshot {
	snapshot := engine.QualitySnapshot{
		RunID:       runID,
		RecordCount: len(records),
		ComputedAt:  s.clock.Now(),
	}
	if len(records) == 0 {
		return snapshot
	}

	snapshot.Completeness = completeness(records, tmpl)
	snapshot.Accuracy = accuracy(records, tmpl)
	snapshot.Consistency = consistency(records)
	snapshot.Timeliness = timeliness(records, cfg.FreshnessWindow)
	snapshot.Uniqueness = uniqueness(records, cfg.DedupFields)
	return snapshot
}

// completeness is the fraction of required fields that are non-empty across
// all records.
func completeness(records []engine.Record, tmpl engine.Template) float64 {
	required := tmpl.RequiredFields()
	if len(required) == 0 {
		return 1
	}
	total := len(records) * len(required)
	filled := 0
	for _, rec := range records {
		for _, name := range required {
			if rec.Fields[name] != "" {
				filled++
			}
		}
	}
	return float64(filled) / float64(total)
}

// accuracy is the fraction of populated fields whose value passes the
// template's type validation. Untyped fields always pass.
func accuracy(records []engine.Record, tmpl engine.Template) float64 {
	types := make(map[string]engine.FieldType, len(tmpl.Fields))
	for _, f := range tmpl.Fields {
		types[f.Name] = f.Type
	}

	total, valid := 0, 0
	for _, rec := range records {
		for _, f := range tmpl.Fields {
			value, ok := rec.Fields[f.Name]
			if !ok || value == "" {
				continue
			}
			total++
			if validates(value, types[f.Name]) {
				valid++
			}
		}
	}
	if total == 0 {
		return 0
	}
	return float64(valid) / float64(total)
}

// consistency is the mean record-level quality score.
func consistency(records []engine.Record) float64 {
	sum := 0.0
	for _, rec := range records {
		sum += rec.Quality
	}
	return sum / float64(len(records))
}

// timeliness is the fraction of records whose source age fits inside the
// freshness window. Records without a last-modified signal use crawl time
// and therefore count as fresh.
func timeliness(records []engine.Record, window time.Duration) float64 {
	if window <= 0 {
		return 1
	}
	fresh := 0
	for _, rec := range records {
		if rec.SourceAge <= window {
			fresh++
		}
	}
	return float64(fresh) / float64(len(records))
}

// uniqueness is 1 - duplicates/total under the job's dedup key.
func uniqueness(records []engine.Record, dedupFields []string) float64 {
	seen := make(map[string]struct{}, len(records))
	duplicates := 0
	for _, rec := range records {
		key := DedupKey(rec, dedupFields)
		if _, dup := seen[key]; dup {
			duplicates++
			continue
		}
		seen[key] = struct{}{}
	}
	return 1 - float64(duplicates)/float64(len(records))
}

// DedupKey builds the record identity under the job's dedup configuration.
func DedupKey(rec engine.Record, dedupFields []string) string {
	if len(dedupFields) == 0 {
		return rec.SourceURL
	}
	key := ""
	for _, name := range dedupFields {
		key += name + "=" + rec.Fields[name] + ";"
	}
	return key
}

func validates(value string, fieldType engine.FieldType) bool {
	switch fieldType {
	case engine.FieldTypeNumber:
		n, err := strconv.ParseFloat(value, 64)
		return err == nil && n >= 0
	case engine.FieldTypeDate:
		if _, err := time.Parse("2006-01-02", value); err == nil {
			return true
		}
		_, err := time.Parse(time.RFC3339, value)
		return err == nil
	case engine.FieldTypeURL:
		u, err := url.Parse(value)
		return err == nil && u.Scheme != "" && u.Host != ""
	default:
		return true
	}
}
