package bot

import (
	"context"
	"sync"
	"time"

	"broadcastbot/internal/schedule"
	"broadcastbot/internal/services/broadcast"
	"broadcastbot/internal/services/scheduler"
	"broadcastbot/internal/session"
	"broadcastbot/internal/storage"
	kit "broadcastbot/internal/transport"
	"broadcastbot/internal/transport/telegram/router"
	logx "broadcastbot/pkg/logx"
)

// Scheduler is the slice of scheduler.Service the command surface drives.
type Scheduler interface {
	Add(ctx context.Context, d scheduler.Draft) (string, error)
	Schedule(ctx context.Context, fireAtSpec, text, media, recurrence string, createdBy int64) (string, error)
	Cancel(ctx context.Context, id string) error
	CancelAll(ctx context.Context) (int, error)
	ListJobs() []scheduler.JobView
	Snapshot() scheduler.Snapshot
	Clock() schedule.Clock
}

type Broadcaster interface {
	Dispatch(ctx context.Context, req broadcast.Request) broadcast.Report
	Recent(n int) []broadcast.Report
}

// Store is the registry part of storage.Store.
type Store interface {
	AddGroup(ctx context.Context, chatID int64, title string) error
	RemoveGroup(ctx context.Context, chatID int64) error
	ListGroups(ctx context.Context) ([]storage.Group, error)
	GroupIDs(ctx context.Context) ([]int64, error)
	AddUser(ctx context.Context, userID int64) error
	CountUsers(ctx context.Context) (int, error)
	AppendAudit(ctx context.Context, e storage.AuditEntry) error
}

type Deps struct {
	Scheduler   Scheduler
	Broadcaster Broadcaster
	Store       Store
	Adapter     kit.Adapter
	// Owners returns the current owner ids; it follows config reloads.
	Owners      func() []int64
	Sessions    *session.Manager[*Wizard]
	Supervisors *router.SupervisorRegistry
	Log         logx.Logger
}

type Bot struct {
	sched    Scheduler
	bc       Broadcaster
	store    Store
	ad       kit.Adapter
	owners   func() []int64
	sessions *session.Manager[*Wizard]
	sups     *router.SupervisorRegistry
	log      logx.Logger

	startedAt time.Time
	events    *eventQueue

	// Chat ids already written to the registry, so group chatter does not
	// hit the store on every message.
	knownGroups sync.Map // int64 -> struct{}
	knownUsers  sync.Map

	bgCtx    context.Context
	bgCancel context.CancelFunc
	bgMu     sync.Mutex
	bg       sync.WaitGroup
}

func New(d Deps) *Bot {
	log := d.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	owners := d.Owners
	if owners == nil {
		owners = func() []int64 { return nil }
	}
	sessions := d.Sessions
	if sessions == nil {
		sessions = session.New[*Wizard](0, 0)
	}
	bgCtx, bgCancel := context.WithCancel(context.Background())
	return &Bot{
		bgCtx:     bgCtx,
		bgCancel:  bgCancel,
		sched:     d.Scheduler,
		bc:        d.Broadcaster,
		store:     d.Store,
		ad:        d.Adapter,
		owners:    owners,
		sessions:  sessions,
		sups:      d.Supervisors,
		log:       log,
		startedAt: time.Now(),
		events:    newEventQueue(),
	}
}

// Stop waits for instant broadcasts still running until ctx ends, then
// cancels them.
func (b *Bot) Stop(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		b.bgMu.Lock()
		b.bg.Wait()
		b.bgMu.Unlock()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		b.log.Warn("instant broadcasts still running at shutdown; cancelling")
	}
	b.bgCancel()
}

func (b *Bot) goBackground(fn func(ctx context.Context)) {
	b.bgMu.Lock()
	b.bg.Add(1)
	b.bgMu.Unlock()
	go func() {
		defer b.bg.Done()
		fn(b.bgCtx)
	}()
}

func (b *Bot) isOwner(id int64) bool {
	for _, o := range b.owners() {
		if o == id {
			return true
		}
	}
	return false
}

// notifyOwners sends text to every owner's private chat.
func (b *Bot) notifyOwners(ctx context.Context, text string, opt *kit.SendOptions) {
	for _, id := range b.owners() {
		if _, err := b.ad.SendText(ctx, kit.ChatTarget{ChatID: id}, text, opt); err != nil {
			b.log.Warn("owner notification failed", logx.Int64("owner", id), logx.Err(err))
		}
	}
}

func (b *Bot) audit(ctx context.Context, e storage.AuditEntry) {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := b.store.AppendAudit(actx, e); err != nil {
		b.log.Warn("audit append failed", logx.String("action", e.Action), logx.Err(err))
	}
}
