package schedule

import (
	"strings"
	"time"
)

type Recurrence string

const (
	RecurNone    Recurrence = "none"
	RecurDaily   Recurrence = "daily"
	RecurWeekly  Recurrence = "weekly"
	RecurMonthly Recurrence = "monthly"
)

// ParseRecurrence accepts none|daily|weekly|monthly in any case; empty means none.
func ParseRecurrence(s string) (Recurrence, error) {
	switch r := Recurrence(strings.ToLower(strings.TrimSpace(s))); r {
	case "", RecurNone:
		return RecurNone, nil
	case RecurDaily, RecurWeekly, RecurMonthly:
		return r, nil
	default:
		return "", &SpecError{Field: "recurrence", Value: s, Reason: "want none, daily, weekly or monthly"}
	}
}

func (r Recurrence) Recurring() bool {
	return r == RecurDaily || r == RecurWeekly || r == RecurMonthly
}

type Status string

const (
	StatusPending   Status = "pending"
	StatusFiring    Status = "firing"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether a job in this status will never fire again.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// Job is the single record shape for every broadcast, text, media or both.
// WallTime is the requested local time of day ("15:04:05"); recurring jobs
// return to it even after a DST gap moved one occurrence.
type Job struct {
	ID          string     `json:"id"`
	FireAt      time.Time  `json:"fire_at"`
	Recurrence  Recurrence `json:"recurrence"`
	WallTime    string     `json:"at,omitempty"`
	Text        string     `json:"text,omitempty"`
	Media       string     `json:"media,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	CreatedBy   int64      `json:"created_by,omitempty"`
	Status      Status     `json:"status"`
	LastFiredAt time.Time  `json:"last_fired_at,omitzero"`
	Fires       int        `json:"fires,omitempty"`
}

// Summary is a one-line preview of the payload.
func (j Job) Summary(maxRunes int) string {
	s := strings.Join(strings.Fields(j.Text), " ")
	if s == "" && j.Media != "" {
		kind, _, _ := strings.Cut(j.Media, ":")
		return "[" + kind + "]"
	}
	rs := []rune(s)
	if maxRunes > 0 && len(rs) > maxRunes {
		return string(rs[:maxRunes-1]) + "…"
	}
	return s
}
