package broadcast

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	kit "broadcastbot/internal/transport"
	logx "broadcastbot/pkg/logx"
)

type sent struct {
	chat    int64
	text    string
	media   kit.Media
	isMedia bool
}

type fakeSender struct {
	mu    sync.Mutex
	calls []sent
	fail  map[int64]error
	hang  map[int64]bool
	block chan struct{}
}

func newFakeSender() *fakeSender {
	return &fakeSender{fail: map[int64]error{}, hang: map[int64]bool{}, block: make(chan struct{})}
}

func (f *fakeSender) record(s sent) error {
	f.mu.Lock()
	f.calls = append(f.calls, s)
	err := f.fail[s.chat]
	hang := f.hang[s.chat]
	f.mu.Unlock()
	if hang {
		<-f.block // ignores ctx on purpose
	}
	return err
}

func (f *fakeSender) SendText(_ context.Context, to kit.ChatTarget, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	return kit.MessageRef{ChatID: to.ChatID}, f.record(sent{chat: to.ChatID, text: text})
}

func (f *fakeSender) SendMedia(_ context.Context, to kit.ChatTarget, m kit.Media, caption string, _ *kit.SendOptions) (kit.MessageRef, error) {
	return kit.MessageRef{ChatID: to.ChatID}, f.record(sent{chat: to.ChatID, text: caption, media: m, isMedia: true})
}

func (f *fakeSender) perChat() map[int64]int {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := map[int64]int{}
	for _, c := range f.calls {
		out[c.chat]++
	}
	return out
}

func TestDispatchIsolatesFailingRecipient(t *testing.T) {
	t.Parallel()

	fs := newFakeSender()
	fs.fail[3] = errors.New("connection reset")
	svc := New(Config{}, fs, logx.Nop())

	rep := svc.Dispatch(context.Background(), Request{
		JobID:      "job-1",
		Recipients: []int64{1, 2, 3, 4, 5},
		Payload:    Payload{Text: "hello"},
	})

	require.Equal(t, 5, rep.Attempted)
	require.Equal(t, 4, rep.Succeeded)
	require.Len(t, rep.Failed, 1)
	require.Equal(t, int64(3), rep.Failed[0].Recipient)
	require.Equal(t, FailureTransient, rep.Failed[0].Kind)
	require.Empty(t, rep.Permanent())
	require.Equal(t, map[int64]int{1: 1, 2: 1, 3: 1, 4: 1, 5: 1}, fs.perChat(), "exactly one send per recipient")
}

func TestDispatchClassifiesPermanentFailures(t *testing.T) {
	t.Parallel()

	fs := newFakeSender()
	fs.fail[2] = kit.Permanent(errors.New("bot was kicked from the group chat"))
	rep := New(Config{}, fs, logx.Nop()).Dispatch(context.Background(), Request{
		Recipients: []int64{1, 2},
		Payload:    Payload{Text: "x"},
	})

	require.Equal(t, 1, rep.Succeeded)
	require.Equal(t, []int64{2}, rep.Permanent())
	require.Equal(t, FailurePermanent, rep.Failed[0].Kind)
}

func TestDispatchHungSendDoesNotStallOthers(t *testing.T) {
	t.Parallel()

	fs := newFakeSender()
	fs.hang[2] = true
	defer close(fs.block)

	svc := New(Config{SendTimeout: 50 * time.Millisecond}, fs, logx.Nop())
	start := time.Now()
	rep := svc.Dispatch(context.Background(), Request{Recipients: []int64{1, 2, 3}, Payload: Payload{Text: "x"}})

	require.Less(t, time.Since(start), time.Second)
	require.Equal(t, 2, rep.Succeeded)
	require.Len(t, rep.Failed, 1)
	require.Equal(t, int64(2), rep.Failed[0].Recipient)
	require.Equal(t, FailureTransient, rep.Failed[0].Kind)
	require.Contains(t, rep.Failed[0].Err, "deadline exceeded")
}

func TestDispatchSkipsDuplicateRecipients(t *testing.T) {
	t.Parallel()

	fs := newFakeSender()
	rep := New(Config{}, fs, logx.Nop()).Dispatch(context.Background(), Request{
		Recipients: []int64{7, 7, 8, 7},
		Payload:    Payload{Text: "x"},
	})
	require.Equal(t, 2, rep.Attempted)
	require.Equal(t, map[int64]int{7: 1, 8: 1}, fs.perChat())
}

func TestDispatchMediaPayload(t *testing.T) {
	t.Parallel()

	fs := newFakeSender()
	svc := New(Config{}, fs, logx.Nop())

	rep := svc.Dispatch(context.Background(), Request{
		Recipients: []int64{1},
		Payload:    Payload{Text: "caption", Media: "photo:AgAC"},
	})
	require.Equal(t, 1, rep.Succeeded)
	require.True(t, fs.calls[0].isMedia)
	require.Equal(t, kit.Media{Kind: kit.MediaPhoto, FileID: "AgAC"}, fs.calls[0].media)
	require.Equal(t, "caption", fs.calls[0].text)

	rep = svc.Dispatch(context.Background(), Request{
		Recipients: []int64{1},
		Payload:    Payload{Media: "sticker:zzz"},
	})
	require.Equal(t, []int64{1}, rep.Permanent(), "an unusable media ref can never succeed")
	require.Len(t, fs.calls, 1)
}

func TestDispatchPacesSends(t *testing.T) {
	t.Parallel()

	fs := newFakeSender()
	svc := New(Config{DelayBetweenSends: 40 * time.Millisecond}, fs, logx.Nop())

	start := time.Now()
	rep := svc.Dispatch(context.Background(), Request{Recipients: []int64{1, 2, 3, 4}, Payload: Payload{Text: "x"}})
	require.Equal(t, 4, rep.Succeeded)
	require.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)
}

func TestBreakerFailsFastOnRepeatedTransientErrors(t *testing.T) {
	t.Parallel()

	fs := newFakeSender()
	for _, id := range []int64{1, 2, 3, 4, 5} {
		fs.fail[id] = errors.New("503 service unavailable")
	}
	svc := New(Config{BreakerThreshold: 2, BreakerCooldown: time.Minute}, fs, logx.Nop())

	rep := svc.Dispatch(context.Background(), Request{Recipients: []int64{1, 2, 3, 4, 5}, Payload: Payload{Text: "x"}})
	require.Len(t, rep.Failed, 5)
	for _, f := range rep.Failed {
		require.Equal(t, FailureTransient, f.Kind)
	}
	require.Len(t, fs.calls, 2, "breaker opens after two consecutive failures")
}

func TestBreakerIgnoresPermanentFailures(t *testing.T) {
	t.Parallel()

	fs := newFakeSender()
	for _, id := range []int64{1, 2, 3, 4} {
		fs.fail[id] = kit.Permanent(errors.New("chat not found"))
	}
	svc := New(Config{BreakerThreshold: 2}, fs, logx.Nop())

	rep := svc.Dispatch(context.Background(), Request{Recipients: []int64{1, 2, 3, 4}, Payload: Payload{Text: "x"}})
	require.Len(t, rep.Permanent(), 4)
	require.Len(t, fs.calls, 4)
}

func TestDispatchAfterCancelReportsEveryRecipient(t *testing.T) {
	t.Parallel()

	fs := newFakeSender()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rep := New(Config{}, fs, logx.Nop()).Dispatch(ctx, Request{Recipients: []int64{1, 2, 3}, Payload: Payload{Text: "x"}})
	require.Equal(t, 3, rep.Attempted)
	require.Zero(t, rep.Succeeded)
	require.Len(t, rep.Failed, 3)
	require.Empty(t, fs.calls)
}

func TestRecentKeepsNewestReports(t *testing.T) {
	t.Parallel()

	svc := New(Config{HistorySize: 2}, newFakeSender(), logx.Nop())
	for _, id := range []string{"a", "b", "c"} {
		svc.Dispatch(context.Background(), Request{JobID: id, Recipients: []int64{1}, Payload: Payload{Text: "x"}})
	}
	recent := svc.Recent(10)
	require.Len(t, recent, 2)
	require.Equal(t, "c", recent[0].JobID)
	require.Equal(t, "b", recent[1].JobID)

	svc.Apply(Config{HistorySize: 1})
	recent = svc.Recent(10)
	require.Len(t, recent, 1)
	require.Equal(t, "c", recent[0].JobID)
}
