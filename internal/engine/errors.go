package engine

import (
	"errors"
	"fmt"
)

// FetchErrorKind partitions fetch failures for retry and proxy accounting.
type FetchErrorKind string

// Fetch failure kinds. Blocked responses feed proxy quarantine and
// domain-level backoff; the rest follow the frontier retry policy.
const (
	FetchErrTimeout FetchErrorKind = "timeout"
	FetchErrBlocked FetchErrorKind = "blocked"
	FetchErrNetwork FetchErrorKind = "network"
	FetchErrHTTP    FetchErrorKind = "http_error"
)

// FetchError is a typed fetch failure.
type FetchError struct {
	Kind       FetchErrorKind
	URL        string
	StatusCode int
	Err        error
}

// Error implements the error interface.
func (e *FetchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("fetch %s: %s: %v", e.URL, e.Kind, e.Err)
	}
	return fmt.Sprintf("fetch %s: %s (status %d)", e.URL, e.Kind, e.StatusCode)
}

// Unwrap exposes the underlying cause.
func (e *FetchError) Unwrap() error {
	return e.Err
}

// FetchKind extracts the failure kind from an error chain. Unclassified
// errors are treated as network failures.
func FetchKind(err error) FetchErrorKind {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return FetchErrNetwork
}

// Fatal run-level failure reasons. Only configuration errors and total
// resource exhaustion abort a run; everything else degrades into counters.
var (
	ErrInvalidJobConfig = errors.New("invalid job configuration")
	ErrPoolExhausted    = errors.New("proxy pool exhausted")
	ErrRunCancelled     = errors.New("run cancelled")
)

// Store-level sentinels shared by the memory and postgres implementations.
var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
)
