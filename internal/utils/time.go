package utils

import (
	"time"
)

// DayStart returns midnight of t's calendar day in loc.
func DayStart(t time.Time, loc *time.Location) time.Time {
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}

// Tomorrow returns midnight of the day after now in loc.
func Tomorrow(now time.Time, loc *time.Location) time.Time {
	return DayStart(now, loc).AddDate(0, 0, 1)
}
