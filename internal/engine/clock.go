package engine

import "time"

// Clock abstracts periodic timer creation so the tick/tx timer pair can be
// driven by a fake clock in tests instead of real wall-clock sleeps. This
// wraps an OS facility behind a small interface the caller controls (see
// DESIGN.md, component B) rather than calling time.NewTicker directly from
// business logic.
type Clock interface {
	// NewTicker returns a channel that fires every d, and a stop function.
	// The returned channel is never closed; callers stop receiving by
	// calling stop.
	NewTicker(d time.Duration) (c <-chan time.Time, stop func())
}

// realClock is the production Clock, backed by time.Ticker.
type realClock struct{}

// RealClock is the default, wall-clock-backed Clock used outside tests.
var RealClock Clock = realClock{}

func (realClock) NewTicker(d time.Duration) (<-chan time.Time, func()) {
	t := time.NewTicker(d)
	return t.C, t.Stop
}
