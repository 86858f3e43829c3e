package bot

import (
	"context"
	"fmt"
	"sync"
	"time"

	"broadcastbot/internal/eventbus"
	"broadcastbot/internal/services/scheduler"
	"broadcastbot/internal/storage"
	logx "broadcastbot/pkg/logx"
	"broadcastbot/pkg/tgui"
)

// eventBacklogWarn is the queue depth at which Run reports that owner
// notifications lag behind firings.
const eventBacklogWarn = 256

// eventQueue hands bus events from the reader to the notifier in order.
// It is unbounded so a slow Telegram send never fills the bus subscription.
type eventQueue struct {
	mu    sync.Mutex
	items []eventbus.Event
	wake  chan struct{}
}

func newEventQueue() *eventQueue {
	return &eventQueue{wake: make(chan struct{}, 1)}
}

func (q *eventQueue) push(ev eventbus.Event) int {
	q.mu.Lock()
	q.items = append(q.items, ev)
	n := len(q.items)
	q.mu.Unlock()
	select {
	case q.wake <- struct{}{}:
	default:
	}
	return n
}

func (q *eventQueue) pop() (eventbus.Event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return eventbus.Event{}, false
	}
	ev := q.items[0]
	q.items[0] = eventbus.Event{}
	q.items = q.items[1:]
	return ev, true
}

func (q *eventQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Run follows scheduler events until ctx ends: owners get a summary after
// every firing and the outcome lands in the audit log. Summaries are sent
// from a separate goroutine so the subscription is always drained.
func (b *Bot) Run(ctx context.Context, bus eventbus.Bus) error {
	events, unsubscribe := bus.Subscribe(64)
	defer unsubscribe()

	stop := make(chan struct{})
	done := make(chan struct{})
	go b.deliverEvents(ctx, stop, done)
	defer func() {
		close(stop)
		<-done
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if n := b.events.push(ev); n == eventBacklogWarn {
				b.log.Warn("owner notifications are backing up", logx.Int("pending", n))
			}
		}
	}
}

// deliverEvents handles queued events until ctx ends. When stop closes
// first, what is already queued is still handled.
func (b *Bot) deliverEvents(ctx context.Context, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	drain := func() {
		for ev, ok := b.events.pop(); ok; ev, ok = b.events.pop() {
			if ctx.Err() != nil {
				return
			}
			b.handleEvent(ctx, ev)
		}
	}
	for {
		drain()
		select {
		case <-ctx.Done():
			return
		case <-b.events.wake:
		case <-stop:
			drain()
			return
		}
	}
}

func (b *Bot) handleEvent(ctx context.Context, ev eventbus.Event) {
	switch ev.Type {
	case scheduler.EventFired:
		fe, ok := ev.Data.(scheduler.FiredEvent)
		if !ok {
			return
		}
		b.notifyOwners(ctx, firedSummary(fe, b.sched.Clock().Location()), htmlOpt())
		e := storage.AuditEntry{
			At:     fe.Report.FinishedAt,
			Action: "fire",
			JobID:  fe.Job.ID,
			OK:     fe.Report.Succeeded,
			Fail:   len(fe.Report.Failed),
			TookMS: fe.Report.Took().Milliseconds(),
		}
		if n := len(fe.Report.Permanent()); n > 0 {
			e.Error = fmt.Sprintf("%d recipients removed", n)
		}
		b.audit(ctx, e)
	case scheduler.EventCancelled:
		if ce, ok := ev.Data.(scheduler.CancelledEvent); ok {
			b.log.Debug("jobs cancelled", logx.Int("count", len(ce.IDs)))
		}
	}
}

func firedSummary(fe scheduler.FiredEvent, loc *time.Location) string {
	msg := tgui.New().
		Title("📣", "Scheduled broadcast sent").
		KV("job", shortID(fe.Job.ID)).
		KV("result", reportLine(fe.Report))
	if p := fe.Job.Summary(60); p != "" {
		msg.KV("message", p)
	}
	switch {
	case fe.Cancelled:
		msg.Line("The job was cancelled while sending; it will not run again.")
	case fe.Next.IsZero():
		msg.Line("One-time job finished.")
	default:
		msg.KV("next", fmtWhen(fe.Next, loc))
	}
	return msg.Build().Text
}
