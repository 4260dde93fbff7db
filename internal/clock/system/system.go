// Package system provides the wall clock used to stamp sync events.
package system

import "time"

// Clock implements journal.Clock with UTC time at millisecond precision, matching what
// BSON dates and the JSON event payloads can carry.
type Clock struct{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current UTC time truncated to milliseconds.
func (Clock) Now() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}
