package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Clock is a local time of day expressed as minutes since midnight.
type Clock int

// ParseClock parses "HH:MM" (24h) into a Clock.
func ParseClock(s string) (Clock, error) {
	s = strings.TrimSpace(s)
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return 0, fmt.Errorf("invalid time %q, expected HH:MM", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("invalid minute in %q", s)
	}
	return Clock(h*60 + m), nil
}

// ClockOf extracts the time of day from t in t's location.
func ClockOf(t time.Time) Clock {
	return Clock(t.Hour()*60 + t.Minute())
}

func (c Clock) String() string {
	return fmt.Sprintf("%02d:%02d", int(c)/60, int(c)%60)
}

// InWindow reports whether now falls inside the daily allowed window.
// Boundaries are inclusive. end < start means the window wraps past
// midnight, e.g. 22:00-02:00.
func InWindow(now, start, end Clock) bool {
	if end < start {
		return now >= start || now <= end
	}
	return now >= start && now <= end
}
