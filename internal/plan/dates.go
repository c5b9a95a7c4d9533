package plan

import (
	"fmt"
	"time"
)

const DayLayout = "2006-01-02"

// Day returns midnight UTC of t's UTC calendar date. Every stored date goes
// through Day so comparisons and unique indexes see a single canonical value
// per calendar day.
func Day(t time.Time) time.Time {
	return DayIn(t, time.UTC)
}

// DayIn returns midnight UTC of the calendar date t falls on in loc.
func DayIn(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Today returns the current calendar day as seen in loc.
func Today(now time.Time, loc *time.Location) time.Time {
	return DayIn(now, loc)
}

// ParseDay accepts "2006-01-02" or an RFC 3339 timestamp. Timestamps are
// resolved to their calendar date in loc.
func ParseDay(s string, loc *time.Location) (time.Time, error) {
	if t, err := time.Parse(DayLayout, s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: want YYYY-MM-DD or RFC 3339", s)
	}
	return DayIn(t, loc), nil
}

// DaysBetween returns the number of whole calendar days from a to b.
func DaysBetween(a, b time.Time) int {
	return int(Day(b).Sub(Day(a)).Hours() / 24)
}
