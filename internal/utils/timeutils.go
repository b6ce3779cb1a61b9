package utils

import (
	"fmt"
	"time"
)

// ParseRFC3339 returns a time from the provided string or an error.
func ParseRFC3339(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, fmt.Errorf("empty time value")
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time: %w", err)
	}
	return t, nil
}

// CalendarFeatures extracts the raw hour, day-of-week, and month components
// a timestamp contributes to the feature table.
func CalendarFeatures(t time.Time) (hour, dayOfWeek, month float64) {
	return float64(t.Hour()), float64(t.Weekday()), float64(t.Month())
}
