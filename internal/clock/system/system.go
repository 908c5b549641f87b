// Package system provides a real clock implementation.
package system

import "time"

// Clock implements solves.Clock using time.Now in a reference zone.
type Clock struct {
	loc *time.Location
}

// New creates a Clock reporting times in loc. A nil loc means UTC.
func New(loc *time.Location) *Clock {
	if loc == nil {
		loc = time.UTC
	}
	return &Clock{loc: loc}
}

// Now returns the current time.
func (c Clock) Now() time.Time {
	return time.Now().In(c.loc)
}
