// Package system provides the wall clock used outside tests.
package system

import "time"

// Clock implements haul.Clock using time.Now in UTC.
type Clock struct{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current UTC time truncated to microseconds, which is the
// precision Postgres keeps for timestamps stored inside haul documents.
func (Clock) Now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

// Fixed is a settable clock for tests and replays.
type Fixed struct {
	T time.Time
}

// Now returns the configured instant.
func (f *Fixed) Now() time.Time {
	return f.T
}

// Advance moves the clock forward by d.
func (f *Fixed) Advance(d time.Duration) {
	f.T = f.T.Add(d)
}
