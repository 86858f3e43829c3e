// Package scheduler keeps the table of armed broadcast jobs and fires them.
//
// # Lifecycle of a job
//
// A job is persisted before it is armed, so an accepted job survives a
// restart. A single tick loop checks the table at a fixed interval; every
// due job is marked firing under the table mutex and handed to its own
// goroutine, which dispatches to the recipient set read on that tick and
// then either re-arms the job at its next occurrence or drops it.
//
//	pending -> firing -> pending    (recurring)
//	pending -> firing -> completed  (one-shot, removed from the store)
//	pending|firing    -> cancelled  (never re-armed, never re-persisted)
//
// A job marked firing is skipped by later ticks, so firings of one job never
// overlap.
//
// # Failures
//
// Nothing a job does can stop the loop: panics are recovered per firing and
// persistence errors after a firing are logged. If the store cannot be read
// at startup the loop keeps retrying the restore before it looks for due
// work.
//
// # Maintenance
//
// An optional maintenance schedule runs on github.com/robfig/cron/v3 in the
// scheduler's location. It accepts cron expressions ("0 4 * * *"),
// descriptors ("@daily", "@every 6h"), Go durations ("6h") and HH:MM
// intervals ("06:00").
package scheduler
