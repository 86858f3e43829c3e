package scheduler

import (
	"context"
	"runtime/debug"
	"slices"
	"sort"
	"time"

	"broadcastbot/internal/schedule"
	"broadcastbot/internal/services/broadcast"
	logx "broadcastbot/pkg/logx"
)

func (s *Service) loop(ctx context.Context, done chan<- struct{}) {
	defer close(done)

	s.mu.Lock()
	every := s.cfg.TickInterval
	s.mu.Unlock()
	t := time.NewTicker(every)
	defer t.Stop()

	for {
		s.tick(ctx)

		s.mu.Lock()
		cur := s.cfg.TickInterval
		s.mu.Unlock()
		if cur != every {
			every = cur
			t.Reset(every)
		}

		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}

// tick starts a firing for every due job that is not already firing.
func (s *Service) tick(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("panic in scheduler tick", logx.Any("panic", r), logx.Stack(string(debug.Stack())))
		}
	}()

	now := s.now()
	s.mu.Lock()
	s.ticks++
	s.lastTick = now
	restored := s.restored
	s.mu.Unlock()

	if !restored {
		if _, err := s.Restore(ctx); err != nil {
			return
		}
	}

	s.mu.Lock()
	due := 0
	for _, e := range s.entries {
		if !e.firing && s.clock.IsDue(e.job.FireAt, now) {
			due++
		}
	}
	s.mu.Unlock()
	if due == 0 {
		return
	}

	pctx, cancel := s.persistCtx(ctx)
	recipients, err := s.dir.GroupIDs(pctx)
	cancel()
	if err != nil {
		s.log.Warn("recipient directory unavailable; due jobs stay pending", logx.Int("due", due), logx.Err(err))
		return
	}

	type start struct {
		e   *entry
		job schedule.Job
	}
	var starts []start
	s.mu.Lock()
	fctx := s.fireCtx
	for _, e := range s.entries {
		if e.firing || e.cancelled || !s.clock.IsDue(e.job.FireAt, now) {
			continue
		}
		e.firing = true
		starts = append(starts, start{e: e, job: e.job})
	}
	s.inflight.Add(len(starts))
	s.mu.Unlock()

	sort.Slice(starts, func(i, k int) bool { return starts[i].job.FireAt.Before(starts[k].job.FireAt) })
	for _, st := range starts {
		go s.fire(fctx, st.e, st.job, slices.Clone(recipients))
	}
}

// fire runs one firing of job. e.firing is set by the caller and cleared
// here. A panic still consumes the occurrence, so the same fire time is
// never delivered twice.
func (s *Service) fire(ctx context.Context, e *entry, job schedule.Job, recipients []int64) {
	defer s.inflight.Done()
	log := s.log.With(logx.String("job", job.ID))
	settled := false
	defer func() {
		if r := recover(); r != nil {
			log.Error("panic while firing job", logx.Any("panic", r), logx.Stack(string(debug.Stack())))
			if !settled {
				out, _, recurring, cancelled := s.settle(e, job, s.now())
				s.persistOutcomeSafe(ctx, log, job.ID, out, recurring, cancelled)
			}
			s.mu.Lock()
			e.firing = false
			s.mu.Unlock()
		}
	}()

	marked := job
	marked.Status = schedule.StatusFiring
	if err := s.putJob(ctx, marked); err != nil {
		log.Warn("could not persist firing status", logx.Err(err))
	}

	rep := s.disp.Dispatch(ctx, broadcast.Request{
		JobID:      job.ID,
		FireAt:     job.FireAt,
		Recipients: recipients,
		Payload:    broadcast.Payload{Text: job.Text, Media: job.Media},
	})
	s.prune(ctx, log, rep.Permanent())

	out, next, recurring, cancelled := s.settle(e, job, s.now())
	settled = true
	s.persistOutcome(ctx, log, job.ID, out, recurring, cancelled)

	s.mu.Lock()
	e.firing = false
	cancelled = e.cancelled
	s.mu.Unlock()
	if cancelled {
		// A cancel may have landed between the outcome write and now.
		if err := s.deleteJob(ctx, job.ID); err != nil {
			log.Error("could not remove cancelled job", logx.Err(err))
		}
		out.Status = schedule.StatusCancelled
		next = time.Time{}
	}
	if !recurring {
		next = time.Time{}
	}

	log.Info("job fired",
		logx.Int("attempted", rep.Attempted),
		logx.Int("succeeded", rep.Succeeded),
		logx.Int("failed", len(rep.Failed)),
		logx.String("status", string(out.Status)),
		logx.Time("next", next))
	s.publish(EventFired, FiredEvent{Job: out, Report: rep, Next: next, Cancelled: cancelled})
}

// settle moves the armed entry past the occurrence of job that fired at
// firedAt: recurring jobs get their next fire time, one-shots complete.
// A cancelled entry is left alone.
func (s *Service) settle(e *entry, job schedule.Job, firedAt time.Time) (out schedule.Job, next time.Time, recurring, cancelled bool) {
	next, recurring = s.clock.AdvanceAt(job.FireAt, job.WallTime, job.Recurrence, firedAt)

	s.mu.Lock()
	defer s.mu.Unlock()
	cancelled = e.cancelled
	if !cancelled {
		e.job.LastFiredAt = firedAt
		e.job.Fires++
		if recurring {
			e.job.FireAt = next
			e.job.Status = schedule.StatusPending
		} else {
			e.job.Status = schedule.StatusCompleted
			delete(s.entries, job.ID)
		}
	}
	return e.job, next, recurring, cancelled
}

func (s *Service) persistOutcome(ctx context.Context, log logx.Logger, id string, out schedule.Job, recurring, cancelled bool) {
	var err error
	switch {
	case cancelled:
	case recurring:
		err = s.putJob(ctx, out)
	default:
		err = s.deleteJob(ctx, id)
	}
	if err != nil {
		log.Error("could not persist firing outcome", logx.Err(err))
	}
}

func (s *Service) persistOutcomeSafe(ctx context.Context, log logx.Logger, id string, out schedule.Job, recurring, cancelled bool) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("panic while persisting firing outcome", logx.Any("panic", r))
		}
	}()
	s.persistOutcome(ctx, log, id, out, recurring, cancelled)
}

func (s *Service) prune(ctx context.Context, log logx.Logger, ids []int64) {
	if s.pruner == nil || len(ids) == 0 {
		return
	}
	for _, id := range ids {
		pctx, cancel := s.persistCtx(ctx)
		err := s.pruner.RemoveGroup(pctx, id)
		cancel()
		if err != nil {
			log.Warn("could not drop unreachable recipient", logx.Int64("chat_id", id), logx.Err(err))
			continue
		}
		log.Info("dropped unreachable recipient", logx.Int64("chat_id", id))
	}
}

// Wait blocks until no firing is in progress.
func (s *Service) Wait() { s.inflight.Wait() }

// RunTick runs one tick outside the loop.
func (s *Service) RunTick(ctx context.Context) { s.tick(ctx) }
