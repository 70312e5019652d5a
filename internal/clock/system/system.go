// Package system adapts the wall clock to the engine.Clock contract.
package system

import "time"

// Clock reads time.Now. All timestamps in the service are UTC, so the
// conversion happens here rather than at every call site.
type Clock struct{}

// New returns a wall Clock.
func New() Clock {
	return Clock{}
}

// Now returns the current UTC time.
func (Clock) Now() time.Time {
	return time.Now().UTC()
}
