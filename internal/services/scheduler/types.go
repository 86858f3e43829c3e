package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"broadcastbot/internal/eventbus"
	"broadcastbot/internal/schedule"
	"broadcastbot/internal/services/broadcast"
	logx "broadcastbot/pkg/logx"
)

var ErrAlreadyRunning = errors.New("scheduler already running")

// Config controls the scheduler service.
type Config struct {
	Location       *time.Location // fixed for the life of the service
	TickInterval   time.Duration
	PersistTimeout time.Duration
	Maintenance    string // cron, descriptor or interval; empty disables
	Now            func() time.Time
}

func (c Config) withDefaults() Config {
	if c.Location == nil {
		c.Location = time.UTC
	}
	if c.TickInterval <= 0 {
		c.TickInterval = 10 * time.Second
	}
	if c.PersistTimeout <= 0 {
		c.PersistTimeout = 5 * time.Second
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

// Store is the job persistence the scheduler needs.
type Store interface {
	PutJob(ctx context.Context, j schedule.Job) error
	DeleteJob(ctx context.Context, id string) error
	ListJobs(ctx context.Context) ([]schedule.Job, error)
	ClearJobs(ctx context.Context) error
}

// Directory lists the current recipients. It is read once per tick that has
// due work.
type Directory interface {
	GroupIDs(ctx context.Context) ([]int64, error)
}

// Pruner drops recipients that can never be reached again.
type Pruner interface {
	RemoveGroup(ctx context.Context, chatID int64) error
}

type Dispatcher interface {
	Dispatch(ctx context.Context, req broadcast.Request) broadcast.Report
}

type compactor interface {
	Compact(ctx context.Context) error
}

type Deps struct {
	Store      Store
	Directory  Directory
	Pruner     Pruner // optional
	Dispatcher Dispatcher
	Bus        eventbus.Bus // optional
	Log        logx.Logger
}

// Draft is a validated-to-be job as entered by an operator.
type Draft struct {
	FireAt time.Time
	// WallTime is the time of day as entered ("15:04:05"); empty means
	// FireAt's own.
	WallTime   string
	Recurrence schedule.Recurrence
	Text       string
	Media      string
	CreatedBy  int64
}

// JobView is the read-only listing shape.
type JobView struct {
	ID         string
	FireAt     time.Time
	Recurrence schedule.Recurrence
	Summary    string
	Status     schedule.Status
	HasMedia   bool
	Fires      int
	CreatedBy  int64
}

const (
	EventScheduled = "job.scheduled"
	EventFired     = "job.fired"
	EventCancelled = "job.cancelled"
)

// FiredEvent is published after every firing, whatever its outcome.
type FiredEvent struct {
	Job       schedule.Job // state after the firing
	Report    broadcast.Report
	Next      time.Time // zero when the job will not fire again
	Cancelled bool      // cancelled while firing
}

type CancelledEvent struct {
	IDs []string
}

type Snapshot struct {
	Running         bool
	Restored        bool
	Timezone        string
	TickInterval    time.Duration
	Armed           int
	Firing          int
	NextJobID       string
	NextFireAt      time.Time
	Ticks           uint64
	LastTick        time.Time
	Maintenance     string
	MaintenanceNext time.Time
}

type entry struct {
	job       schedule.Job
	firing    bool
	cancelled bool
}

type Service struct {
	// clearMu orders Add against CancelAll: an Add holds it shared from
	// the store write until the job is armed.
	clearMu sync.RWMutex
	mu      sync.Mutex
	cfg     Config
	clock   schedule.Clock
	entries map[string]*entry

	restored bool
	ticks    uint64
	lastTick time.Time

	running    bool
	loopCancel context.CancelFunc
	loopDone   chan struct{}
	fireCtx    context.Context
	fireCancel context.CancelFunc
	inflight   sync.WaitGroup

	maint   *cron.Cron
	maintID cron.EntryID

	store  Store
	dir    Directory
	pruner Pruner
	disp   Dispatcher
	bus    eventbus.Bus
	log    logx.Logger
}
