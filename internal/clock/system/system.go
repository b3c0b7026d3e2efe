// Package system provides the clocks used to stamp scan runs.
package system

import "time"

// Clock reads the wall clock in UTC.
type Clock struct{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current time.
func (Clock) Now() time.Time {
	return time.Now().UTC()
}

// Frozen always reports the same instant. It lets an operator replay a run as
// of a past time.
type Frozen struct {
	at time.Time
}

// NewFrozen returns a clock pinned to at.
func NewFrozen(at time.Time) *Frozen {
	return &Frozen{at: at.UTC()}
}

// Now returns the pinned time.
func (f *Frozen) Now() time.Time {
	return f.at
}
