package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/require"

	"broadcastbot/internal/eventbus"
	"broadcastbot/internal/schedule"
	"broadcastbot/internal/services/broadcast"
	"broadcastbot/internal/storage"
	kit "broadcastbot/internal/transport"
	logx "broadcastbot/pkg/logx"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

type fakeDirectory struct {
	mu  sync.Mutex
	ids []int64
	err error
}

func (d *fakeDirectory) GroupIDs(context.Context) ([]int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]int64(nil), d.ids...), d.err
}

func (d *fakeDirectory) setErr(err error) {
	d.mu.Lock()
	d.err = err
	d.mu.Unlock()
}

// fakeDispatcher records requests. When gate is non-nil every dispatch
// blocks on it after signalling entered.
type fakeDispatcher struct {
	mu        sync.Mutex
	reqs      []broadcast.Request
	permanent map[int64]bool
	gate      chan struct{}
	entered   chan string
	panics    bool
}

func (f *fakeDispatcher) Dispatch(_ context.Context, req broadcast.Request) broadcast.Report {
	f.mu.Lock()
	f.reqs = append(f.reqs, req)
	gate, entered := f.gate, f.entered
	f.mu.Unlock()
	if entered != nil {
		entered <- req.JobID
	}
	if gate != nil {
		<-gate
	}
	f.mu.Lock()
	panics := f.panics
	f.mu.Unlock()
	if panics {
		panic("sender exploded mid-broadcast")
	}

	rep := broadcast.Report{JobID: req.JobID, FireAt: req.FireAt, Attempted: len(req.Recipients)}
	for _, id := range req.Recipients {
		if f.permanent[id] {
			rep.Failed = append(rep.Failed, broadcast.Failure{Recipient: id, Kind: broadcast.FailurePermanent, Err: "kicked"})
			continue
		}
		rep.Succeeded++
	}
	return rep
}

func (f *fakeDispatcher) count(jobID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, r := range f.reqs {
		if r.JobID == jobID {
			n++
		}
	}
	return n
}

// failingStore wraps the memory store and fails selected operations.
type failingStore struct {
	*storage.Memory
	mu       sync.Mutex
	failPut  bool
	failList bool
	// afterPut runs after a successful PutJob.
	afterPut func(schedule.Job)
}

func (s *failingStore) set(put, list bool) {
	s.mu.Lock()
	s.failPut, s.failList = put, list
	s.mu.Unlock()
}

func (s *failingStore) PutJob(ctx context.Context, j schedule.Job) error {
	s.mu.Lock()
	fail, after := s.failPut, s.afterPut
	s.mu.Unlock()
	if fail {
		return errors.New("disk full")
	}
	if err := s.Memory.PutJob(ctx, j); err != nil {
		return err
	}
	if after != nil {
		after(j)
	}
	return nil
}

func (s *failingStore) ListJobs(ctx context.Context) ([]schedule.Job, error) {
	s.mu.Lock()
	fail := s.failList
	s.mu.Unlock()
	if fail {
		return nil, errors.New("connection refused")
	}
	return s.Memory.ListJobs(ctx)
}

type harness struct {
	svc   *Service
	store *failingStore
	dir   *fakeDirectory
	disp  *fakeDispatcher
	clock *fakeClock
	bus   *eventbus.Memory
}

var base = time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC)

func newHarness(t *testing.T, loc *time.Location) *harness {
	t.Helper()
	h := &harness{
		store: &failingStore{Memory: storage.NewMemory()},
		dir:   &fakeDirectory{ids: []int64{-1001, -1002}},
		disp:  &fakeDispatcher{},
		clock: &fakeClock{now: base.Add(-time.Hour)},
		bus:   eventbus.New(),
	}
	h.svc = New(Config{Location: loc, Now: h.clock.Now}, Deps{
		Store:      h.store,
		Directory:  h.dir,
		Pruner:     h.store,
		Dispatcher: h.disp,
		Bus:        h.bus,
		Log:        logx.Nop(),
	})
	return h
}

func (h *harness) tick() {
	h.svc.RunTick(context.Background())
	h.svc.Wait()
}

func (h *harness) stored(t *testing.T) []schedule.Job {
	t.Helper()
	jobs, err := h.store.Memory.ListJobs(context.Background())
	require.NoError(t, err)
	return jobs
}

func TestScheduleValidatesInput(t *testing.T) {
	t.Parallel()
	h := newHarness(t, time.UTC)
	ctx := context.Background()

	cases := []struct {
		name, at, text, media, rec string
	}{
		{name: "bad time", at: "tomorrow 9am", text: "hi"},
		{name: "bad recurrence", at: "2024-01-15 09:00", text: "hi", rec: "hourly"},
		{name: "empty payload", at: "2024-01-15 09:00", text: "   "},
		{name: "bad media", at: "2024-01-15 09:00", media: "sticker:abc"},
	}
	for _, tc := range cases {
		_, err := h.svc.Schedule(ctx, tc.at, tc.text, tc.media, tc.rec, 1)
		require.ErrorIs(t, err, schedule.ErrInvalidSpec, tc.name)
		var se *schedule.SpecError
		require.ErrorAs(t, err, &se, tc.name)
	}
	require.Empty(t, h.svc.ListJobs())
	require.Empty(t, h.stored(t))
}

func TestScheduleSurfacesPersistenceFailure(t *testing.T) {
	t.Parallel()
	h := newHarness(t, time.UTC)
	h.store.set(true, false)

	id, err := h.svc.Schedule(context.Background(), "2024-01-15 09:00", "hi", "", "daily", 1)
	require.ErrorIs(t, err, schedule.ErrPersistence)
	require.Empty(t, id)
	require.Empty(t, h.svc.ListJobs(), "nothing is armed when the job could not be saved")
}

func TestScheduleArmsAndPersists(t *testing.T) {
	t.Parallel()
	loc, err := time.LoadLocation("Asia/Kolkata")
	require.NoError(t, err)
	h := newHarness(t, loc)

	id, err := h.svc.Schedule(context.Background(), "2024-01-15 09:00", "Hello", "PHOTO:abc", "Weekly", 7)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	jobs := h.svc.ListJobs()
	require.Len(t, jobs, 1)
	require.Equal(t, id, jobs[0].ID)
	require.True(t, jobs[0].FireAt.Equal(time.Date(2024, 1, 15, 9, 0, 0, 0, loc)))
	require.Equal(t, schedule.RecurWeekly, jobs[0].Recurrence)
	require.Equal(t, schedule.StatusPending, jobs[0].Status)
	require.True(t, jobs[0].HasMedia)

	stored := h.stored(t)
	require.Len(t, stored, 1)
	require.Equal(t, "photo:abc", stored[0].Media)
	require.Equal(t, int64(7), stored[0].CreatedBy)
}

func TestTickDoesNotDoubleFire(t *testing.T) {
	t.Parallel()
	h := newHarness(t, time.UTC)
	h.disp.gate = make(chan struct{})
	h.disp.entered = make(chan string, 1)
	ctx := context.Background()

	id, err := h.svc.Add(ctx, Draft{FireAt: base, Recurrence: schedule.RecurDaily, Text: "standup"})
	require.NoError(t, err)
	h.clock.Set(base.Add(5 * time.Minute))

	h.svc.RunTick(ctx)
	require.Equal(t, id, <-h.disp.entered)

	// Still due and still firing: later ticks must leave it alone.
	h.svc.RunTick(ctx)
	h.svc.RunTick(ctx)
	require.Equal(t, schedule.StatusFiring, h.svc.ListJobs()[0].Status)
	require.Equal(t, 1, h.disp.count(id))

	close(h.disp.gate)
	h.svc.Wait()
	h.disp.mu.Lock()
	h.disp.gate, h.disp.entered = nil, nil
	h.disp.mu.Unlock()

	h.tick()
	require.Equal(t, 1, h.disp.count(id), "next occurrence is tomorrow")
}

func TestRecurringJobAdvancesOnWallClock(t *testing.T) {
	t.Parallel()
	loc, err := time.LoadLocation("Asia/Kolkata")
	require.NoError(t, err)
	h := newHarness(t, loc)

	fireAt := time.Date(2024, 1, 15, 9, 0, 0, 0, loc)
	id, err := h.svc.Add(context.Background(), Draft{FireAt: fireAt, Recurrence: schedule.RecurDaily, Text: "gm"})
	require.NoError(t, err)

	firedAt := time.Date(2024, 1, 15, 9, 5, 0, 0, loc)
	h.clock.Set(firedAt)
	h.tick()

	want := time.Date(2024, 1, 16, 9, 0, 0, 0, loc)
	jobs := h.svc.ListJobs()
	require.Len(t, jobs, 1)
	require.True(t, jobs[0].FireAt.Equal(want), "got %s", jobs[0].FireAt)
	require.Equal(t, 1, jobs[0].Fires)

	stored := h.stored(t)
	require.Len(t, stored, 1)
	require.Equal(t, id, stored[0].ID)
	require.True(t, stored[0].FireAt.Equal(want))
	require.Equal(t, schedule.StatusPending, stored[0].Status)
	require.True(t, stored[0].LastFiredAt.Equal(firedAt))
}

func TestOneShotRetiresAfterFiring(t *testing.T) {
	t.Parallel()
	h := newHarness(t, time.UTC)
	events, unsub := h.bus.Subscribe(8)
	defer unsub()

	id, err := h.svc.Add(context.Background(), Draft{FireAt: base, Text: "once"})
	require.NoError(t, err)
	h.clock.Set(base)
	h.tick()

	require.Equal(t, 1, h.disp.count(id))
	require.Empty(t, h.svc.ListJobs())
	require.Empty(t, h.stored(t))

	h.clock.Set(base.Add(time.Hour))
	h.tick()
	require.Equal(t, 1, h.disp.count(id))

	var fired FiredEvent
	for ev := range events {
		if ev.Type == EventFired {
			fired = ev.Data.(FiredEvent)
			break
		}
	}
	require.Equal(t, id, fired.Job.ID)
	require.Equal(t, schedule.StatusCompleted, fired.Job.Status)
	require.True(t, fired.Next.IsZero())
	require.Equal(t, 2, fired.Report.Succeeded)
}

func TestFailedRecipientsDoNotStopAdvancement(t *testing.T) {
	t.Parallel()
	h := newHarness(t, time.UTC)
	h.disp.permanent = map[int64]bool{-1002: true}
	ctx := context.Background()
	require.NoError(t, h.store.AddGroup(ctx, -1001, "a"))
	require.NoError(t, h.store.AddGroup(ctx, -1002, "b"))

	_, err := h.svc.Add(ctx, Draft{FireAt: base, Recurrence: schedule.RecurWeekly, Text: "digest"})
	require.NoError(t, err)
	h.clock.Set(base)
	h.tick()

	jobs := h.svc.ListJobs()
	require.Len(t, jobs, 1)
	require.True(t, jobs[0].FireAt.Equal(base.AddDate(0, 0, 7)))

	ids, err := h.store.GroupIDs(ctx)
	require.NoError(t, err)
	require.Equal(t, []int64{-1001}, ids, "unreachable recipient is pruned")
}

func TestPastFireTimeFiresOnceAfterRestore(t *testing.T) {
	t.Parallel()
	h := newHarness(t, time.UTC)
	ctx := context.Background()

	past := schedule.Job{ID: "past", FireAt: base.Add(-48 * time.Hour), Recurrence: schedule.RecurNone, Text: "late", Status: schedule.StatusPending}
	daily := schedule.Job{ID: "daily", FireAt: base.Add(time.Hour), Recurrence: schedule.RecurDaily, Text: "d", Status: schedule.StatusFiring}
	done := schedule.Job{ID: "done", FireAt: base, Text: "x", Status: schedule.StatusCompleted}
	for _, j := range []schedule.Job{past, daily, done} {
		require.NoError(t, h.store.PutJob(ctx, j))
	}

	n, err := h.svc.Restore(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, n)

	jobs := h.svc.ListJobs()
	require.Len(t, jobs, 2)
	require.Equal(t, "past", jobs[0].ID)
	require.True(t, jobs[0].FireAt.Equal(past.FireAt))
	require.Equal(t, schedule.RecurNone, jobs[0].Recurrence)
	require.Equal(t, "daily", jobs[1].ID)
	require.Equal(t, schedule.StatusPending, jobs[1].Status, "an interrupted firing is armed again")

	h.clock.Set(base)
	h.tick()
	h.tick()
	require.Equal(t, 1, h.disp.count("past"))
	require.Zero(t, h.disp.count("daily"))

	again, err := h.svc.Restore(ctx)
	require.NoError(t, err)
	require.Zero(t, again, "restoring twice arms nothing new")
}

func TestTickRetriesRestoreUntilStoreIsReachable(t *testing.T) {
	t.Parallel()
	h := newHarness(t, time.UTC)
	ctx := context.Background()
	require.NoError(t, h.store.PutJob(ctx, schedule.Job{ID: "j", FireAt: base, Text: "x", Status: schedule.StatusPending}))
	h.store.set(false, true)

	_, err := h.svc.Restore(ctx)
	require.ErrorIs(t, err, schedule.ErrPersistence)
	h.clock.Set(base)
	h.tick()
	require.Zero(t, h.disp.count("j"))
	require.False(t, h.svc.Snapshot().Restored)

	h.store.set(false, false)
	h.tick()
	require.Equal(t, 1, h.disp.count("j"))
	require.True(t, h.svc.Snapshot().Restored)
}

func TestDirectoryFailureKeepsJobsPending(t *testing.T) {
	t.Parallel()
	h := newHarness(t, time.UTC)
	h.dir.setErr(errors.New("timeout"))

	id, err := h.svc.Add(context.Background(), Draft{FireAt: base, Text: "x"})
	require.NoError(t, err)
	h.clock.Set(base)
	h.tick()
	require.Zero(t, h.disp.count(id))
	require.Len(t, h.svc.ListJobs(), 1)

	h.dir.setErr(nil)
	h.tick()
	require.Equal(t, 1, h.disp.count(id))
	require.Empty(t, h.svc.ListJobs())
}

func TestCancelIsIdempotent(t *testing.T) {
	t.Parallel()
	h := newHarness(t, time.UTC)
	ctx := context.Background()

	keep, err := h.svc.Add(ctx, Draft{FireAt: base, Text: "keep"})
	require.NoError(t, err)
	drop, err := h.svc.Add(ctx, Draft{FireAt: base, Recurrence: schedule.RecurDaily, Text: "drop"})
	require.NoError(t, err)

	require.NoError(t, h.svc.Cancel(ctx, drop))
	after := h.svc.ListJobs()
	require.NoError(t, h.svc.Cancel(ctx, drop))
	require.NoError(t, h.svc.Cancel(ctx, "no-such-job"))
	require.Equal(t, after, h.svc.ListJobs())
	require.Len(t, after, 1)
	require.Equal(t, keep, after[0].ID)

	stored := h.stored(t)
	require.Len(t, stored, 1)
	require.Equal(t, keep, stored[0].ID)

	h.clock.Set(base.Add(time.Minute))
	h.tick()
	require.Zero(t, h.disp.count(drop))
}

func TestCancelDuringFiringIsNotResurrected(t *testing.T) {
	t.Parallel()
	h := newHarness(t, time.UTC)
	h.disp.gate = make(chan struct{})
	h.disp.entered = make(chan string, 1)
	ctx := context.Background()

	id, err := h.svc.Add(ctx, Draft{FireAt: base, Recurrence: schedule.RecurDaily, Text: "x"})
	require.NoError(t, err)
	h.clock.Set(base)
	h.svc.RunTick(ctx)
	<-h.disp.entered

	require.NoError(t, h.svc.Cancel(ctx, id))
	close(h.disp.gate)
	h.svc.Wait()

	require.Empty(t, h.svc.ListJobs())
	require.Empty(t, h.stored(t))
	require.Equal(t, 1, h.disp.count(id), "the in-flight firing completes")
}

func TestCancelAllStopsFutureFirings(t *testing.T) {
	t.Parallel()
	h := newHarness(t, time.UTC)
	h.disp.gate = make(chan struct{})
	h.disp.entered = make(chan string, 1)
	ctx := context.Background()

	firing, err := h.svc.Add(ctx, Draft{FireAt: base, Recurrence: schedule.RecurWeekly, Text: "a"})
	require.NoError(t, err)
	_, err = h.svc.Add(ctx, Draft{FireAt: base.Add(24 * time.Hour), Text: "b"})
	require.NoError(t, err)

	h.clock.Set(base)
	h.svc.RunTick(ctx)
	require.Equal(t, firing, <-h.disp.entered)

	n, err := h.svc.CancelAll(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, n)
	close(h.disp.gate)
	h.svc.Wait()

	require.Empty(t, h.svc.ListJobs())
	require.Empty(t, h.stored(t))
}

func TestOutcomePersistenceFailureIsOnlyLogged(t *testing.T) {
	t.Parallel()
	h := newHarness(t, time.UTC)
	ctx := context.Background()

	id, err := h.svc.Add(ctx, Draft{FireAt: base, Recurrence: schedule.RecurDaily, Text: "x"})
	require.NoError(t, err)
	h.store.set(true, false)
	h.clock.Set(base)
	h.tick()

	require.Equal(t, 1, h.disp.count(id))
	jobs := h.svc.ListJobs()
	require.Len(t, jobs, 1)
	require.True(t, jobs[0].FireAt.Equal(base.AddDate(0, 0, 1)), "the armed table advances even if the store lags")
}

func TestSnapshotReportsNextFire(t *testing.T) {
	t.Parallel()
	h := newHarness(t, time.UTC)
	ctx := context.Background()

	_, err := h.svc.Add(ctx, Draft{FireAt: base.Add(2 * time.Hour), Text: "later"})
	require.NoError(t, err)
	soon, err := h.svc.Add(ctx, Draft{FireAt: base.Add(time.Hour), Text: "sooner"})
	require.NoError(t, err)

	snap := h.svc.Snapshot()
	require.Equal(t, 2, snap.Armed)
	require.Equal(t, soon, snap.NextJobID)
	require.Equal(t, "UTC", snap.Timezone)
	require.False(t, snap.Running)
}

func TestParseMaintenance(t *testing.T) {
	t.Parallel()
	from := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		raw  string
		next time.Time
	}{
		{raw: "0 4 * * *", next: from.Add(4 * time.Hour)},
		{raw: "cron:30 * * * *", next: from.Add(30 * time.Minute)},
		{raw: "@every 6h", next: from.Add(6 * time.Hour)},
		{raw: "6h", next: from.Add(6 * time.Hour)},
		{raw: "every:01:30", next: from.Add(90 * time.Minute)},
		{raw: "02:00", next: from.Add(2 * time.Hour)},
	}
	for _, tt := range tests {
		sched, err := ParseMaintenance(tt.raw)
		require.NoError(t, err, tt.raw)
		require.Equal(t, tt.next, sched.Next(from), tt.raw)
	}

	for _, bad := range []string{"", "soon", "00:00", "1:75", "-5m"} {
		_, err := ParseMaintenance(bad)
		require.Error(t, err, bad)
	}
}

func TestMaintainCompactsStore(t *testing.T) {
	t.Parallel()
	cs := &compactingStore{Memory: storage.NewMemory()}
	svc := New(Config{}, Deps{Store: cs, Directory: cs, Dispatcher: &fakeDispatcher{}})
	svc.Maintain(context.Background())
	require.Equal(t, 1, cs.compactions)
}

type compactingStore struct {
	*storage.Memory
	compactions int
}

func (c *compactingStore) Compact(context.Context) error {
	c.compactions++
	return nil
}

// Scenario: a one-shot job a second away reaches both recipients exactly once
// and then disappears from the listing.
func TestScheduledBroadcastEndToEnd(t *testing.T) {
	t.Parallel()

	sender := &recordingSender{}
	disp := broadcast.New(broadcast.Config{}, sender, logx.Nop())
	store := storage.NewMemory()
	ctx := context.Background()
	require.NoError(t, store.AddGroup(ctx, -1, "one"))
	require.NoError(t, store.AddGroup(ctx, -2, "two"))

	svc := New(Config{TickInterval: 50 * time.Millisecond}, Deps{
		Store: store, Directory: store, Pruner: store, Dispatcher: disp,
	})
	_, err := svc.Restore(ctx)
	require.NoError(t, err)
	_, err = svc.Add(ctx, Draft{FireAt: time.Now().Add(time.Second), Text: "Hello"})
	require.NoError(t, err)
	require.NoError(t, svc.Start(ctx))
	require.ErrorIs(t, svc.Start(ctx), ErrAlreadyRunning)

	time.Sleep(2 * time.Second)
	stopCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	svc.Stop(stopCtx)

	require.Equal(t, map[int64][]string{-1: {"Hello"}, -2: {"Hello"}}, sender.byChat())
	require.Empty(t, svc.ListJobs())
}

type recordingSender struct {
	mu   sync.Mutex
	sent map[int64][]string
}

func (r *recordingSender) SendText(_ context.Context, to kit.ChatTarget, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sent == nil {
		r.sent = map[int64][]string{}
	}
	r.sent[to.ChatID] = append(r.sent[to.ChatID], text)
	return kit.MessageRef{ChatID: to.ChatID}, nil
}

func (r *recordingSender) SendMedia(ctx context.Context, to kit.ChatTarget, _ kit.Media, caption string, opt *kit.SendOptions) (kit.MessageRef, error) {
	return r.SendText(ctx, to, caption, opt)
}

func (r *recordingSender) byChat() map[int64][]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sent
}

func TestDailyJobInDSTGapKeepsTypedTime(t *testing.T) {
	t.Parallel()
	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	h := newHarness(t, ny)
	ctx := context.Background()

	id, err := h.svc.Schedule(ctx, "2025-03-08 02:30", "gm", "", "daily", 7)
	require.NoError(t, err)
	require.Equal(t, "02:30:00", h.stored(t)[0].WallTime)

	// 03-08 fires, then the 03-09 occurrence lands in the spring-forward gap.
	h.clock.Set(time.Date(2025, 3, 8, 3, 0, 0, 0, ny))
	h.tick()
	h.clock.Set(time.Date(2025, 3, 9, 5, 0, 0, 0, ny))
	h.tick()

	want := time.Date(2025, 3, 10, 2, 30, 0, 0, ny)
	jobs := h.svc.ListJobs()
	require.Len(t, jobs, 1)
	require.True(t, jobs[0].FireAt.Equal(want), "got %s", jobs[0].FireAt.In(ny))
	require.Equal(t, 2, h.disp.count(id))

	stored := h.stored(t)
	require.True(t, stored[0].FireAt.Equal(want))
	require.Equal(t, "02:30:00", stored[0].WallTime)
}

func TestAddRacingCancelAllStaysConsistent(t *testing.T) {
	t.Parallel()
	h := newHarness(t, time.UTC)
	ctx := context.Background()

	cancelled := make(chan error, 1)
	var once sync.Once
	h.store.mu.Lock()
	h.store.afterPut = func(schedule.Job) {
		once.Do(func() {
			// CancelAll starts between the store write and arming.
			go func() {
				_, err := h.svc.CancelAll(ctx)
				cancelled <- err
			}()
			time.Sleep(50 * time.Millisecond)
		})
	}
	h.store.mu.Unlock()

	_, err := h.svc.Add(ctx, Draft{FireAt: base, Recurrence: schedule.RecurDaily, Text: "race"})
	require.NoError(t, err)
	require.NoError(t, <-cancelled)

	require.Equal(t, len(h.svc.ListJobs()), len(h.stored(t)), "armed and stored jobs diverged")
	require.Empty(t, h.svc.ListJobs())
}

func TestPanicWhileFiringConsumesOccurrence(t *testing.T) {
	t.Parallel()
	h := newHarness(t, time.UTC)
	ctx := context.Background()

	daily, err := h.svc.Add(ctx, Draft{FireAt: base, Recurrence: schedule.RecurDaily, Text: "d"})
	require.NoError(t, err)
	once, err := h.svc.Add(ctx, Draft{FireAt: base, Text: "o"})
	require.NoError(t, err)

	h.disp.mu.Lock()
	h.disp.panics = true
	h.disp.mu.Unlock()
	h.clock.Set(base.Add(time.Minute))
	h.tick()
	h.tick()
	h.tick()

	require.Equal(t, 1, h.disp.count(daily))
	require.Equal(t, 1, h.disp.count(once))

	jobs := h.svc.ListJobs()
	require.Len(t, jobs, 1)
	require.Equal(t, daily, jobs[0].ID)
	require.True(t, jobs[0].FireAt.Equal(base.AddDate(0, 0, 1)))
	require.Equal(t, schedule.StatusPending, jobs[0].Status)

	stored := h.stored(t)
	require.Len(t, stored, 1)
	require.True(t, stored[0].FireAt.Equal(base.AddDate(0, 0, 1)))
}
