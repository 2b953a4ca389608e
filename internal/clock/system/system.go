// Package system provides the wall clock used outside tests.
package system

import "time"

// Clock implements stock.Clock using time.Now, reported in a fixed zone.
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

// Now returns the current time in the clock's zone.
func (c *Clock) Now() time.Time {
	return time.Now().In(c.loc)
}

// Location returns the clock's zone.
func (c *Clock) Location() *time.Location {
	return c.loc
}
