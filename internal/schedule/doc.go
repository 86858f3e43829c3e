// Package schedule holds the broadcast job record and the calendar rules
// that decide when a job is due and when it fires next.
//
// All calendar arithmetic happens on wall-clock fields in one configured
// location, so a daily 09:00 job stays at 09:00 local across DST changes and
// monthly jobs clamp to the end of short months.
package schedule
