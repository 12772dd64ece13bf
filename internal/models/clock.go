package models

import (
	"fmt"
	"time"
)

// Clock is a time of day expressed as minutes since midnight.
type Clock int

// ParseClock parses a "HH:MM" wall-clock string.
func ParseClock(s string) (Clock, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("parse clock %q: %w", s, ErrValidation)
	}
	return Clock(t.Hour()*60 + t.Minute()), nil
}

// ClockOf extracts the wall-clock minutes of t in its own location.
func ClockOf(t time.Time) Clock {
	return Clock(t.Hour()*60 + t.Minute())
}

func (c Clock) Hour() int   { return int(c) / 60 }
func (c Clock) Minute() int { return int(c) % 60 }

func (c Clock) String() string {
	return fmt.Sprintf("%02d:%02d", c.Hour(), c.Minute())
}

// InWindow reports whether c lies inside [start, end). Windows where end is
// not after start wrap midnight.
func (c Clock) InWindow(start, end Clock) bool {
	if start == end {
		return false
	}
	if start < end {
		return c >= start && c < end
	}
	return c >= start || c < end
}
