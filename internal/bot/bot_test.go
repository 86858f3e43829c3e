package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"broadcastbot/internal/eventbus"
	"broadcastbot/internal/schedule"
	"broadcastbot/internal/services/broadcast"
	"broadcastbot/internal/services/scheduler"
	"broadcastbot/internal/storage"
	kit "broadcastbot/internal/transport"
	"broadcastbot/internal/transport/telegram/router"
	logx "broadcastbot/pkg/logx"
)

const owner = int64(1001)

type sent struct {
	chat int64
	text string
}

// fakeAdapter is both the bot's transport and the dispatcher's sender.
type fakeAdapter struct {
	mu   sync.Mutex
	out  []sent
	fail map[int64]error
	// gate, when set, holds every send until it is closed.
	gate chan struct{}
}

func (f *fakeAdapter) Start(context.Context, chan<- kit.Update) error { return nil }
func (f *fakeAdapter) Stop(context.Context) error                      { return nil }

func (f *fakeAdapter) SendText(_ context.Context, to kit.ChatTarget, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	f.mu.Lock()
	gate := f.gate
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail[to.ChatID]; err != nil {
		return kit.MessageRef{}, err
	}
	f.out = append(f.out, sent{chat: to.ChatID, text: text})
	return kit.MessageRef{ChatID: to.ChatID, MessageID: len(f.out)}, nil
}

func (f *fakeAdapter) SendMedia(ctx context.Context, to kit.ChatTarget, m kit.Media, caption string, opt *kit.SendOptions) (kit.MessageRef, error) {
	return f.SendText(ctx, to, m.Ref()+"|"+caption, opt)
}

func (f *fakeAdapter) EditText(_ context.Context, ref kit.MessageRef, text string, _ *kit.SendOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.out = append(f.out, sent{chat: ref.ChatID, text: "edit:" + text})
	return nil
}

func (f *fakeAdapter) AnswerCallback(context.Context, string, string) error { return nil }

func (f *fakeAdapter) to(chat int64) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, s := range f.out {
		if s.chat == chat {
			out = append(out, s.text)
		}
	}
	return out
}

func (f *fakeAdapter) last(chat int64) string {
	msgs := f.to(chat)
	if len(msgs) == 0 {
		return ""
	}
	return msgs[len(msgs)-1]
}

// countingStore records registry writes.
type countingStore struct {
	*storage.Memory
	mu        sync.Mutex
	addGroups int
}

func (c *countingStore) AddGroup(ctx context.Context, chatID int64, title string) error {
	c.mu.Lock()
	c.addGroups++
	c.mu.Unlock()
	return c.Memory.AddGroup(ctx, chatID, title)
}

type harness struct {
	bot   *Bot
	ad    *fakeAdapter
	store *countingStore
	sched *scheduler.Service
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	ad := &fakeAdapter{fail: map[int64]error{}}
	store := &countingStore{Memory: storage.NewMemory()}
	bc := broadcast.New(broadcast.Config{SendTimeout: time.Second}, ad, logx.Nop())
	sched := scheduler.New(scheduler.Config{Location: time.UTC}, scheduler.Deps{
		Store:      store,
		Directory:  store,
		Dispatcher: bc,
	})
	b := New(Deps{
		Scheduler:   sched,
		Broadcaster: bc,
		Store:       store,
		Adapter:     ad,
		Owners:      func() []int64 { return []int64{owner} },
	})
	return &harness{bot: b, ad: ad, store: store, sched: sched}
}

func (h *harness) request(text string) *router.Request {
	msg := &kit.Message{ChatID: owner, ChatKind: kit.ChatPrivate, FromID: owner, Text: text}
	_, rest, _ := strings.Cut(text, " ")
	if !strings.HasPrefix(text, "/") {
		rest = text
	}
	return &router.Request{
		Update:  kit.Update{Kind: kit.UpdateMessage, Message: msg},
		Message: msg,
		Chat:    kit.ChatTarget{ChatID: owner},
		FromID:  owner,
		Text:    rest,
		Args:    strings.Fields(rest),
		Adapter: h.ad,
		Logger:  logx.Nop(),
		IsOwner: true,
	}
}

func TestObserveRegistersChats(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	group := kit.Update{Kind: kit.UpdateMessage, Message: &kit.Message{ChatID: -100, ChatKind: kit.ChatGroup, ChatTitle: "Team", FromID: 5}}
	h.bot.Observe(ctx, group)
	h.bot.Observe(ctx, group)
	h.bot.Observe(ctx, kit.Update{Kind: kit.UpdateMessage, Message: &kit.Message{ChatID: 5, ChatKind: kit.ChatPrivate, FromID: 5}})

	ids, err := h.store.GroupIDs(ctx)
	require.NoError(t, err)
	require.Equal(t, []int64{-100}, ids)
	require.Equal(t, 1, h.store.addGroups)
	users, err := h.store.CountUsers(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, users)

	h.bot.Observe(ctx, kit.Update{Kind: kit.UpdateMembership, Membership: &kit.Membership{ChatID: -100, ChatKind: kit.ChatGroup, Joined: false}})
	ids, err = h.store.GroupIDs(ctx)
	require.NoError(t, err)
	require.Empty(t, ids)

	// Re-added after removal: the cache must not hide it.
	h.bot.Observe(ctx, group)
	ids, err = h.store.GroupIDs(ctx)
	require.NoError(t, err)
	require.Equal(t, []int64{-100}, ids)
}

func TestScheduleCommand(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	require.NoError(t, h.bot.cmdSchedule(ctx, h.request("/schedule 2030-01-15 09:00 daily Good morning\nall")))
	jobs := h.sched.ListJobs()
	require.Len(t, jobs, 1)
	require.Equal(t, schedule.RecurDaily, jobs[0].Recurrence)
	require.Contains(t, h.ad.last(owner), "Scheduled")

	require.NoError(t, h.bot.cmdSchedule(ctx, h.request("/schedule 2030-01-15 09:00 hourly hi")))
	require.Contains(t, h.ad.last(owner), "invalid recurrence")
	require.Contains(t, h.ad.last(owner), "Usage")

	require.NoError(t, h.bot.cmdSchedule(ctx, h.request("/schedule 2030-01-15")))
	require.Contains(t, h.ad.last(owner), "Usage")
	require.Len(t, h.sched.ListJobs(), 1)
}

func TestScheduleTakesMediaFromReply(t *testing.T) {
	h := newHarness(t)
	req := h.request("/schedule 2030-01-15 09:00 none")
	req.Message.ReplyTo = &kit.Message{Text: "look", Media: &kit.Media{Kind: kit.MediaPhoto, FileID: "AgAC"}}

	require.NoError(t, h.bot.cmdSchedule(context.Background(), req))
	jobs := h.sched.ListJobs()
	require.Len(t, jobs, 1)
	require.True(t, jobs[0].HasMedia)
	require.Equal(t, "look", jobs[0].Summary)
}

func TestCancelByPrefix(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	at := time.Date(2030, 1, 1, 9, 0, 0, 0, time.UTC)

	a, err := h.sched.Add(ctx, scheduler.Draft{FireAt: at, Text: "a"})
	require.NoError(t, err)
	_, err = h.sched.Add(ctx, scheduler.Draft{FireAt: at, Text: "b"})
	require.NoError(t, err)

	require.NoError(t, h.bot.cmdCancel(ctx, h.request("/cancel zzzz")))
	require.Contains(t, h.ad.last(owner), "No scheduled job matches")

	require.NoError(t, h.bot.cmdCancel(ctx, h.request("/cancel "+a[:12])))
	require.Contains(t, h.ad.last(owner), "Cancelled")
	jobs := h.sched.ListJobs()
	require.Len(t, jobs, 1)
	require.NotEqual(t, a, jobs[0].ID)

	require.NoError(t, h.bot.cmdCancelAll(ctx, h.request("/cancel_all")))
	require.Contains(t, h.ad.last(owner), "1 cancelled")
	require.Empty(t, h.sched.ListJobs())
}

func TestWizardSchedulesJob(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	require.NoError(t, h.bot.cmdNewSchedule(ctx, h.request("/newschedule")))
	require.NoError(t, h.bot.Fallback(ctx, h.request("tomorrow")))
	require.Contains(t, h.ad.last(owner), "invalid")

	require.NoError(t, h.bot.Fallback(ctx, h.request("2030-02-01 18:30")))
	require.Contains(t, h.ad.last(owner), "2/4")
	require.NoError(t, h.bot.Fallback(ctx, h.request("weekly")))
	require.Contains(t, h.ad.last(owner), "3/4")
	require.NoError(t, h.bot.Fallback(ctx, h.request("Weekly update")))
	require.Contains(t, h.ad.last(owner), "4/4")
	require.Empty(t, h.sched.ListJobs())

	require.NoError(t, h.bot.Fallback(ctx, h.request("yes")))
	jobs := h.sched.ListJobs()
	require.Len(t, jobs, 1)
	require.Equal(t, schedule.RecurWeekly, jobs[0].Recurrence)
	require.True(t, jobs[0].FireAt.Equal(time.Date(2030, 2, 1, 18, 30, 0, 0, time.UTC)))

	// The session is gone; further text is ignored.
	n := len(h.ad.to(owner))
	require.NoError(t, h.bot.Fallback(ctx, h.request("hello")))
	require.Len(t, h.ad.to(owner), n)
}

func TestAbortLeavesWizard(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	require.NoError(t, h.bot.cmdNewSchedule(ctx, h.request("/newschedule")))
	require.NoError(t, h.bot.cmdAbort(ctx, h.request("/abort")))
	require.Contains(t, h.ad.last(owner), "Wizard closed")
	require.NoError(t, h.bot.cmdAbort(ctx, h.request("/abort")))
	require.Contains(t, h.ad.last(owner), "Nothing to abort")
}

func TestInstantBroadcastPrunesAndReports(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	for _, id := range []int64{-1, -2, -3} {
		require.NoError(t, h.store.AddGroup(ctx, id, ""))
	}
	h.ad.fail[-2] = kit.Permanent(errors.New("bot was kicked"))

	require.NoError(t, h.bot.cmdBroadcast(ctx, h.request("/broadcast Hello")))
	stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	h.bot.Stop(stopCtx)

	require.Equal(t, []string{"Hello"}, h.ad.to(-1))
	require.Equal(t, []string{"Hello"}, h.ad.to(-3))
	require.Contains(t, h.ad.last(owner), "2/3 delivered, 1 failed (1 removed)")

	ids, err := h.store.GroupIDs(ctx)
	require.NoError(t, err)
	require.ElementsMatch(t, []int64{-1, -3}, ids)
	require.NotEmpty(t, h.store.Audit())
}

func TestFiredEventNotifiesOwners(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	start := time.Date(2030, 1, 1, 9, 0, 0, 0, time.UTC)

	h.bot.handleEvent(ctx, eventbus.Event{Type: scheduler.EventFired, Data: scheduler.FiredEvent{
		Job: schedule.Job{ID: "0123456789abcdef", Text: "Hello"},
		Report: broadcast.Report{
			Attempted: 3, Succeeded: 2,
			Failed:     []broadcast.Failure{{Recipient: -9, Kind: broadcast.FailureTransient, Err: "timeout"}},
			StartedAt:  start,
			FinishedAt: start.Add(time.Second),
		},
		Next: start.Add(24 * time.Hour),
	}})

	msg := h.ad.last(owner)
	require.Contains(t, msg, "01234567")
	require.Contains(t, msg, "2/3 delivered, 1 failed")
	require.Contains(t, msg, "2030-01-02 09:00")
	require.NotContains(t, msg, "timeout")

	audit := h.store.Audit()
	require.Len(t, audit, 1)
	require.Equal(t, "fire", audit[0].Action)
	require.Equal(t, 2, audit[0].OK)
}

func TestSlowOwnerNotificationsDoNotDropEvents(t *testing.T) {
	h := newHarness(t)
	gate := make(chan struct{})
	h.ad.mu.Lock()
	h.ad.gate = gate
	h.ad.mu.Unlock()

	bus := eventbus.New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ran := make(chan error, 1)
	go func() { ran <- h.bot.Run(ctx, bus) }()

	fired := func(i int) eventbus.Event {
		return eventbus.Event{Type: scheduler.EventFired, Data: scheduler.FiredEvent{
			Job:    schedule.Job{ID: fmt.Sprintf("job-%03d", i), Text: "hi"},
			Report: broadcast.Report{Attempted: 1, Succeeded: 1},
		}}
	}
	// Publish in batches smaller than the subscription buffer and wait for
	// each batch to reach the bot's own queue.
	const batches, per = 4, 30
	for n := 0; n < batches; n++ {
		for i := 0; i < per; i++ {
			bus.Publish(fired(n*per + i))
		}
		want := (n+1)*per - 1 // one event is held by the blocked send
		require.Eventually(t, func() bool { return h.bot.events.len() >= want }, 2*time.Second, 5*time.Millisecond)
	}
	require.Zero(t, bus.Dropped())

	close(gate)
	require.Eventually(t, func() bool { return len(h.ad.to(owner)) == batches*per }, 2*time.Second, 5*time.Millisecond)
	require.Contains(t, h.ad.to(owner)[0], "job-000")
	require.Eventually(t, func() bool { return len(h.store.Audit()) == batches*per }, 2*time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-ran)
}

func TestFriendlyErrors(t *testing.T) {
	spec := friendly(&schedule.SpecError{Field: "fire time", Value: "x", Reason: "want YYYY-MM-DD HH:MM"}, scheduleUsage)
	require.Contains(t, spec, "invalid fire time")
	require.Contains(t, spec, "<code>/schedule")

	pe := friendly(&schedule.PersistenceError{Op: "put", JobID: "j", Err: errors.New("disk on fire")}, "")
	require.Contains(t, pe, "may not be saved")
	require.NotContains(t, pe, "disk on fire")

	require.Contains(t, friendly(errors.New("boom"), ""), "Something went wrong")
}
