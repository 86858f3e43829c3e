package storage

import (
	"context"
	"errors"
	"time"

	"broadcastbot/internal/schedule"
)

var ErrClosed = errors.New("storage closed")

type Config struct {
	Driver      string
	Path        string        // file, sqlite
	DSN         string        // postgres
	BusyTimeout time.Duration // sqlite; 0 means default
	MaxConns    int32         // postgres; 0 means pgx default
}

type Group struct {
	ChatID  int64     `json:"chat_id"`
	Title   string    `json:"title,omitempty"`
	AddedAt time.Time `json:"added_at"`
}

// AuditEntry records one operator action or scheduled delivery.
type AuditEntry struct {
	At      time.Time `json:"at"`
	ActorID int64     `json:"actor_id,omitempty"`
	ChatID  int64     `json:"chat_id,omitempty"`
	Action  string    `json:"action"`
	Target  string    `json:"target,omitempty"`
	JobID   string    `json:"job_id,omitempty"`
	OK      int       `json:"ok"`
	Fail    int       `json:"fail"`
	Error   string    `json:"err,omitempty"`
	TookMS  int64     `json:"took_ms,omitempty"`
}

// Store is the persistence API shared by every driver. Deleting or removing
// a key that does not exist is not an error.
type Store interface {
	PutJob(ctx context.Context, j schedule.Job) error
	DeleteJob(ctx context.Context, id string) error
	ListJobs(ctx context.Context) ([]schedule.Job, error)
	ClearJobs(ctx context.Context) error

	AddGroup(ctx context.Context, chatID int64, title string) error
	RemoveGroup(ctx context.Context, chatID int64) error
	ListGroups(ctx context.Context) ([]Group, error)
	GroupIDs(ctx context.Context) ([]int64, error)

	AddUser(ctx context.Context, userID int64) error
	CountUsers(ctx context.Context) (int, error)

	AppendAudit(ctx context.Context, e AuditEntry) error
	Close() error
}

// Compactor is implemented by drivers that benefit from periodic housekeeping.
type Compactor interface {
	Compact(ctx context.Context) error
}
