package scheduler

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"broadcastbot/internal/eventbus"
	"broadcastbot/internal/schedule"
	kit "broadcastbot/internal/transport"
	logx "broadcastbot/pkg/logx"
)

func New(cfg Config, deps Deps) *Service {
	cfg = cfg.withDefaults()
	log := deps.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	fctx, fcancel := context.WithCancel(context.Background())
	return &Service{
		cfg:        cfg,
		clock:      schedule.NewClock(cfg.Location),
		entries:    map[string]*entry{},
		fireCtx:    fctx,
		fireCancel: fcancel,
		store:      deps.Store,
		dir:        deps.Directory,
		pruner:     deps.Pruner,
		disp:       deps.Dispatcher,
		bus:        deps.Bus,
		log:        log,
	}
}

func (s *Service) Clock() schedule.Clock { return s.clock }

// Apply updates the tick interval, persistence timeout and maintenance
// schedule. The location cannot change while jobs are armed against it.
func (s *Service) Apply(cfg Config) error {
	s.mu.Lock()
	cfg.Location = s.cfg.Location
	if cfg.Now == nil {
		cfg.Now = s.cfg.Now
	}
	cfg = cfg.withDefaults()
	oldMaint := s.cfg.Maintenance
	s.cfg = cfg
	running := s.running
	s.mu.Unlock()

	if running && strings.TrimSpace(oldMaint) != strings.TrimSpace(cfg.Maintenance) {
		return s.restartMaintenance()
	}
	return nil
}

// Start runs the tick loop until Stop or until ctx ends. The first tick runs
// immediately.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}
	if s.fireCtx.Err() != nil {
		s.fireCtx, s.fireCancel = context.WithCancel(context.Background())
	}
	loopCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.running = true
	s.loopCancel = cancel
	s.loopDone = done
	cfg := s.cfg
	s.mu.Unlock()

	if err := s.restartMaintenance(); err != nil {
		s.log.Warn("maintenance schedule disabled", logx.String("spec", cfg.Maintenance), logx.Err(err))
	}

	go s.loop(loopCtx, done)
	s.log.Info("scheduler started",
		logx.String("tz", cfg.Location.String()),
		logx.Duration("tick", cfg.TickInterval),
		logx.Int("armed", s.armed()))
	return nil
}

// Stop ends the tick loop, then waits for in-flight firings until ctx ends.
// Firings still running at that point have their context cancelled.
func (s *Service) Stop(ctx context.Context) {
	start := time.Now()
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel, done := s.loopCancel, s.loopDone
	maint := s.maint
	s.maint, s.maintID = nil, 0
	fireCancel := s.fireCancel
	s.mu.Unlock()

	cancel()
	select {
	case <-done:
	case <-ctx.Done():
	}
	if maint != nil {
		select {
		case <-maint.Stop().Done():
		case <-ctx.Done():
		}
	}

	waited := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(waited)
	}()
	select {
	case <-waited:
	case <-ctx.Done():
		s.log.Warn("stop deadline reached; cancelling in-flight broadcasts")
	}
	fireCancel()
	s.log.Info("scheduler stopped", logx.Duration("took", time.Since(start)))
}

// Schedule parses operator input and arms a new job. The returned id is
// only valid if err is nil.
func (s *Service) Schedule(ctx context.Context, fireAtSpec, text, media, recurrence string, createdBy int64) (string, error) {
	fireAt, wall, err := s.clock.ParseFireAtWall(fireAtSpec)
	if err != nil {
		return "", err
	}
	rec, err := schedule.ParseRecurrence(recurrence)
	if err != nil {
		return "", err
	}
	return s.Add(ctx, Draft{FireAt: fireAt, WallTime: wall, Recurrence: rec, Text: text, Media: media, CreatedBy: createdBy})
}

// Add persists and arms a job. A fire time in the past is accepted; the job
// fires on the next tick.
func (s *Service) Add(ctx context.Context, d Draft) (string, error) {
	j, err := s.newJob(d)
	if err != nil {
		return "", err
	}
	s.clearMu.RLock()
	if err := s.putJob(ctx, j); err != nil {
		s.clearMu.RUnlock()
		return "", err
	}
	s.mu.Lock()
	s.entries[j.ID] = &entry{job: j}
	s.mu.Unlock()
	s.clearMu.RUnlock()

	s.log.Info("job scheduled",
		logx.String("job", j.ID),
		logx.Time("fire_at", j.FireAt),
		logx.String("recurrence", string(j.Recurrence)),
		logx.Bool("media", j.Media != ""))
	s.publish(EventScheduled, j)
	return j.ID, nil
}

func (s *Service) newJob(d Draft) (schedule.Job, error) {
	if d.FireAt.IsZero() {
		return schedule.Job{}, &schedule.SpecError{Field: "fire time", Reason: "missing"}
	}
	if d.Recurrence == "" {
		d.Recurrence = schedule.RecurNone
	}
	if _, err := schedule.ParseRecurrence(string(d.Recurrence)); err != nil {
		return schedule.Job{}, err
	}
	text := strings.TrimSpace(d.Text)
	media := strings.TrimSpace(d.Media)
	if text == "" && media == "" {
		return schedule.Job{}, &schedule.SpecError{Field: "payload", Reason: "message text or media required"}
	}
	if media != "" {
		m, err := kit.ParseMedia(media)
		if err != nil {
			return schedule.Job{}, &schedule.SpecError{Field: "media", Value: media, Reason: err.Error()}
		}
		media = m.Ref()
	}
	wall := strings.TrimSpace(d.WallTime)
	if _, err := time.Parse("15:04:05", wall); err != nil {
		wall = s.clock.WallTime(d.FireAt)
	}
	return schedule.Job{
		ID:         uuid.NewString(),
		FireAt:     d.FireAt.In(s.clock.Location()),
		Recurrence: d.Recurrence,
		WallTime:   wall,
		Text:       text,
		Media:      media,
		CreatedAt:  s.now().In(s.clock.Location()),
		CreatedBy:  d.CreatedBy,
		Status:     schedule.StatusPending,
	}, nil
}

// Cancel disarms a job and removes it from the store. Unknown ids are not an
// error. A firing in progress completes but the job is not re-armed.
func (s *Service) Cancel(ctx context.Context, id string) error {
	s.mu.Lock()
	e, ok := s.entries[id]
	if ok {
		e.cancelled = true
		delete(s.entries, id)
	}
	s.mu.Unlock()

	if err := s.deleteJob(ctx, id); err != nil {
		return err
	}
	if ok {
		s.log.Info("job cancelled", logx.String("job", id))
		s.publish(EventCancelled, CancelledEvent{IDs: []string{id}})
	}
	return nil
}

// CancelAll disarms every job and clears the store. It returns the number
// of jobs that were armed.
func (s *Service) CancelAll(ctx context.Context) (int, error) {
	s.clearMu.Lock()
	defer s.clearMu.Unlock()

	s.mu.Lock()
	ids := make([]string, 0, len(s.entries))
	for id, e := range s.entries {
		e.cancelled = true
		ids = append(ids, id)
	}
	s.entries = map[string]*entry{}
	s.mu.Unlock()

	pctx, cancel := s.persistCtx(ctx)
	defer cancel()
	if err := s.store.ClearJobs(pctx); err != nil {
		return len(ids), &schedule.PersistenceError{Op: "clear", Err: err}
	}
	sort.Strings(ids)
	s.log.Info("all jobs cancelled", logx.Int("count", len(ids)))
	if len(ids) > 0 {
		s.publish(EventCancelled, CancelledEvent{IDs: ids})
	}
	return len(ids), nil
}

// ListJobs returns the armed jobs ordered by next fire time.
func (s *Service) ListJobs() []JobView {
	s.mu.Lock()
	out := make([]JobView, 0, len(s.entries))
	for _, e := range s.entries {
		st := e.job.Status
		if e.firing {
			st = schedule.StatusFiring
		}
		out = append(out, JobView{
			ID:         e.job.ID,
			FireAt:     e.job.FireAt,
			Recurrence: e.job.Recurrence,
			Summary:    e.job.Summary(60),
			Status:     st,
			HasMedia:   e.job.Media != "",
			Fires:      e.job.Fires,
			CreatedBy:  e.job.CreatedBy,
		})
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, k int) bool {
		if !out[i].FireAt.Equal(out[k].FireAt) {
			return out[i].FireAt.Before(out[k].FireAt)
		}
		return out[i].ID < out[k].ID
	})
	return out
}

// Restore arms every non-terminal job from the store. A job persisted while
// firing is armed again, so an interrupted firing may deliver twice. Jobs
// already armed are left alone.
func (s *Service) Restore(ctx context.Context) (int, error) {
	pctx, cancel := s.persistCtx(ctx)
	defer cancel()
	jobs, err := s.store.ListJobs(pctx)
	if err != nil {
		s.log.Warn("restore failed; will retry on next tick", logx.Err(err))
		return 0, &schedule.PersistenceError{Op: "list", Err: err}
	}

	n := 0
	s.mu.Lock()
	for _, j := range jobs {
		if j.Status.Terminal() {
			continue
		}
		if _, ok := s.entries[j.ID]; ok {
			continue
		}
		j.Status = schedule.StatusPending
		j.FireAt = j.FireAt.In(s.clock.Location())
		s.entries[j.ID] = &entry{job: j}
		n++
	}
	s.restored = true
	s.mu.Unlock()

	s.log.Info("jobs restored", logx.Int("restored", n), logx.Int("stored", len(jobs)))
	return n, nil
}

func (s *Service) armed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *Service) persistCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	s.mu.Lock()
	d := s.cfg.PersistTimeout
	s.mu.Unlock()
	return context.WithTimeout(context.WithoutCancel(ctx), d)
}

func (s *Service) putJob(ctx context.Context, j schedule.Job) error {
	pctx, cancel := s.persistCtx(ctx)
	defer cancel()
	if err := s.store.PutJob(pctx, j); err != nil {
		return &schedule.PersistenceError{Op: "put", JobID: j.ID, Err: err}
	}
	return nil
}

func (s *Service) deleteJob(ctx context.Context, id string) error {
	pctx, cancel := s.persistCtx(ctx)
	defer cancel()
	if err := s.store.DeleteJob(pctx, id); err != nil {
		return &schedule.PersistenceError{Op: "delete", JobID: id, Err: err}
	}
	return nil
}

func (s *Service) publish(typ string, data any) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: typ, Time: s.now(), Data: data})
}

func (s *Service) now() time.Time {
	s.mu.Lock()
	now := s.cfg.Now
	s.mu.Unlock()
	return now()
}
