// Package system provides the wall clock used to timestamp event records.
package system

import "time"

// Clock stamps records with the current UTC time.
type Clock struct{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current time.
func (Clock) Now() time.Time {
	return time.Now().UTC()
}

// Fixed is a Clock frozen at a single instant. Tests use it to get
// deterministic event file names and wall times.
type Fixed struct {
	At time.Time
}

// Now returns the frozen instant.
func (f Fixed) Now() time.Time {
	return f.At
}
