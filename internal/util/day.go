package util

import (
	"fmt"
	"strings"
	"time"
)

// DayLayout is the calendar-day format used for diary entries.
const DayLayout = "2006-01-02"

// ParseDay parses a YYYY-MM-DD string into midnight UTC.
func ParseDay(value string) (time.Time, error) {
	day, err := time.Parse(DayLayout, strings.TrimSpace(value))
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: %w", value, err)
	}
	return day, nil
}

// FormatDay renders the calendar day of t in its own location.
func FormatDay(t time.Time) string {
	return t.Format(DayLayout)
}

// Today is the current calendar day in the given location (UTC when nil).
func Today(loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return FormatDay(time.Now().In(loc))
}

// NormalizeDay accepts an optional date and returns its canonical form, defaulting to today.
func NormalizeDay(value string, loc *time.Location) (string, error) {
	if strings.TrimSpace(value) == "" {
		return Today(loc), nil
	}
	day, err := ParseDay(value)
	if err != nil {
		return "", err
	}
	return FormatDay(day), nil
}
