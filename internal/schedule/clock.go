package schedule

import (
	"strings"
	"time"
)

var fireAtLayouts = []string{
	"2006-01-02 15:04",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04",
}

const wallTimeLayout = "15:04:05"

// Clock evaluates due-ness and recurrence in one fixed location.
type Clock struct {
	loc *time.Location
}

func NewClock(loc *time.Location) Clock {
	if loc == nil {
		loc = time.UTC
	}
	return Clock{loc: loc}
}

func (c Clock) Location() *time.Location {
	if c.loc == nil {
		return time.UTC
	}
	return c.loc
}

// ParseFireAt reads a local wall-clock time such as "2025-03-01 09:00".
func (c Clock) ParseFireAt(spec string) (time.Time, error) {
	t, _, err := c.ParseFireAtWall(spec)
	return t, err
}

// ParseFireAtWall is ParseFireAt that also returns the time of day as
// typed. It differs from the fire time's own clock when that time falls in
// a DST gap.
func (c Clock) ParseFireAtWall(spec string) (time.Time, string, error) {
	s := strings.Join(strings.Fields(spec), " ")
	if s == "" {
		return time.Time{}, "", &SpecError{Field: "fire time", Reason: "missing, want YYYY-MM-DD HH:MM"}
	}
	for _, layout := range fireAtLayouts {
		t, err := time.ParseInLocation(layout, s, c.Location())
		if err != nil {
			continue
		}
		naive, _ := time.Parse(layout, s)
		return t, naive.Format(wallTimeLayout), nil
	}
	return time.Time{}, "", &SpecError{Field: "fire time", Value: spec, Reason: "want YYYY-MM-DD HH:MM"}
}

func (c Clock) IsDue(fireAt, now time.Time) bool {
	return !now.Before(fireAt)
}

// WallTime formats t's local time of day in the clock's location.
func (c Clock) WallTime(t time.Time) string {
	return t.In(c.Location()).Format(wallTimeLayout)
}

// Advance returns the first occurrence after fireAt that is strictly later
// than now, keeping fireAt's own time of day. ok is false for one-shot jobs.
func (c Clock) Advance(fireAt time.Time, r Recurrence, now time.Time) (next time.Time, ok bool) {
	return c.AdvanceAt(fireAt, c.WallTime(fireAt), r, now)
}

// AdvanceAt is Advance with the time of day taken from wall ("15:04:05").
// An empty or unreadable wall falls back to fireAt's time of day.
func (c Clock) AdvanceAt(fireAt time.Time, wall string, r Recurrence, now time.Time) (next time.Time, ok bool) {
	if !r.Recurring() {
		return time.Time{}, false
	}
	tod, err := time.Parse(wallTimeLayout, wall)
	if err != nil {
		tod, _ = time.Parse(wallTimeLayout, c.WallTime(fireAt))
	}
	next = c.step(fireAt, tod, r)
	for !next.After(now) {
		next = c.step(next, tod, r)
	}
	return next, true
}

// step moves one period forward on the calendar and lands on tod. time.Date
// normalises overflowing days and non-existent DST times.
func (c Clock) step(t, tod time.Time, r Recurrence) time.Time {
	loc := c.Location()
	t = t.In(loc)
	y, m, d := t.Date()
	hh, mm, ss := tod.Clock()

	switch r {
	case RecurDaily:
		return time.Date(y, m, d+1, hh, mm, ss, 0, loc)
	case RecurWeekly:
		return time.Date(y, m, d+7, hh, mm, ss, 0, loc)
	case RecurMonthly:
		last := daysIn(y, m+1, loc)
		return time.Date(y, m+1, min(d, last), hh, mm, ss, 0, loc)
	default:
		return t
	}
}

// daysIn returns the number of days in month m of year y; m may overflow.
func daysIn(y int, m time.Month, loc *time.Location) int {
	return time.Date(y, m+1, 0, 12, 0, 0, 0, loc).Day()
}
