// Package events defines the run lifecycle event stream consumed by
// notification dispatchers and observability sinks.
package events

import (
	"errors"
	"fmt"
	"time"
)

// Stage denotes the type of milestone represented by an Event.
type Stage string

// Supported run lifecycle stages.
const (
	StageRunStart        Stage = "RUN_START"
	StageRunHeartbeat    Stage = "RUN_HEARTBEAT"
	StageRunDone         Stage = "RUN_DONE"
	StageRunError        Stage = "RUN_ERROR"
	StageFetchDone       Stage = "FETCH_DONE"
	StageRecordExtracted Stage = "RECORD_EXTRACTED"
	StageLayoutDrift     Stage = "LAYOUT_DRIFT"
)

// StatusClass is a coarse HTTP response grouping.
type StatusClass string

// Supported HTTP status classes tracked for fetch completions.
const (
	Status2xx   StatusClass = "2xx"
	Status3xx   StatusClass = "3xx"
	Status4xx   StatusClass = "4xx"
	Status5xx   StatusClass = "5xx"
	StatusOther StatusClass = "other"
)

// Event captures a single run milestone.
type Event struct {
	// RunID identifies the run that produced the event.
	RunID string
	// JobID identifies the owning job.
	JobID string
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Stage denotes which lifecycle or fetch milestone occurred.
	Stage Stage
	// Domain optionally scopes fetch events to a host label.
	Domain string
	// URL is the optional page URL; it should not contain credentials.
	URL string
	// StatusClass groups HTTP response codes (2xx, 3xx, etc).
	StatusClass StatusClass
	// Quality carries the record quality for extraction events.
	Quality float64
	// Dur captures execution latency for fetches and run completions.
	Dur time.Duration
	// Note lets emitters attach low-volume context (e.g. error text).
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.RunID == "" {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageRunStart, StageRunHeartbeat, StageRunDone, StageRunError, StageLayoutDrift:
	case StageFetchDone:
		if e.Domain == "" {
			return errors.New("fetch done requires domain")
		}
		if e.StatusClass == "" {
			return errors.New("fetch done requires status class")
		}
	case StageRecordExtracted:
		if e.URL == "" {
			return errors.New("record extracted requires url")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// ClassifyStatus groups HTTP status codes for fetch events.
func ClassifyStatus(code int) StatusClass {
	switch {
	case code >= 200 && code < 300:
		return Status2xx
	case code >= 300 && code < 400:
		return Status3xx
	case code >= 400 && code < 500:
		return Status4xx
	case code >= 500 && code < 600:
		return Status5xx
	default:
		return StatusOther
	}
}
