package stealth

import (
	"context"
	"errors"

	"github.com/sparkling-owl/spin/internal/engine"
)

// Noop implements engine.FetchStrategy but always returns an error to
// indicate that the stealth browser is not available in the current build.
type Noop struct{}

// NewNoop creates a new Noop fetcher.
func NewNoop() *Noop {
	return &Noop{}
}

// Name identifies the strategy in job policies.
func (Noop) Name() string {
	return "stealth"
}

// Fetch returns an error since this is a stub implementation.
func (Noop) Fetch(_ context.Context, _ engine.FetchRequest) (engine.FetchResult, error) {
	return engine.FetchResult{}, errors.New("stealth fetcher not configured")
}
