package engine

import "time"

// Clock supplies the current time to the services. The evaluation functions
// in this package never read the system clock themselves; they take now as an
// argument.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock in Location. A nil Location means UTC.
//
// Time windows are compared against the local weekday and time of day, so the
// location should be the one the store operates in.
type SystemClock struct {
	Location *time.Location
}

// Now implements Clock.
func (c SystemClock) Now() time.Time {
	loc := c.Location
	if loc == nil {
		loc = time.UTC
	}
	return time.Now().In(loc)
}

// FixedClock always returns At.
type FixedClock struct {
	At time.Time
}

// Now implements Clock.
func (c FixedClock) Now() time.Time {
	return c.At
}
