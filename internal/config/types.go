package config

type Config struct {
	Telegram  TelegramConfig  `json:"telegram"`
	Logging   LoggingConfig   `json:"logging"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Broadcast BroadcastConfig `json:"broadcast"`
	Storage   StorageConfig   `json:"storage"`
	Session   SessionConfig   `json:"session"`
}

type TelegramConfig struct {
	Token        string  `json:"token"`
	OwnerUserIDs []int64 `json:"owner_user_ids"`
	// GroupLog is the chat id that receives the Telegram log sink output.
	GroupLog string `json:"group_log"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout"`
	// CommandWorkers bounds concurrently handled updates (default 4).
	CommandWorkers int `json:"command_workers,omitempty"`
	// HandlerTimeout bounds one command handler (default "30s").
	HandlerTimeout string `json:"handler_timeout,omitempty"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

// LoggingFile configures the rotating JSON log file.
type LoggingFile struct {
	Enabled    bool   `json:"enabled"`
	Path       string `json:"path"`
	MaxSizeMB  int    `json:"max_size_mb,omitempty"`
	MaxBackups int    `json:"max_backups,omitempty"`
	MaxAgeDays int    `json:"max_age_days,omitempty"`
	Compress   bool   `json:"compress,omitempty"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	ThreadID   int    `json:"thread_id"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// SchedulerConfig controls the broadcast scheduler.
//
// Defaults (when fields are omitted/zero):
//   - timezone: "Asia/Kolkata" (fixed for the life of the process)
//   - tick_interval: "10s"
//   - persist_timeout: "5s"
//   - maintenance: "" (disabled); cron, "@every 6h", "6h" or "06:00"
type SchedulerConfig struct {
	Timezone       string `json:"timezone,omitempty"`
	TickInterval   string `json:"tick_interval,omitempty"`
	PersistTimeout string `json:"persist_timeout,omitempty"`
	Maintenance    string `json:"maintenance,omitempty"`
}

// BroadcastConfig controls delivery to recipient groups.
//
// DelaySecondsBetweenSends is a pointer so an explicit 0 (no pacing) can be
// told apart from an omitted value (0.5s). A negative breaker_threshold
// disables the circuit breaker.
type BroadcastConfig struct {
	DelaySecondsBetweenSends *float64 `json:"delay_seconds_between_sends,omitempty"`
	SendTimeout              string   `json:"send_timeout,omitempty"`
	BreakerThreshold         int      `json:"breaker_threshold,omitempty"`
	BreakerCooldown          string   `json:"breaker_cooldown,omitempty"`
	HistorySize              int      `json:"history_size,omitempty"`
}

// StorageConfig selects the persistence driver.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/broadcast.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path,omitempty"`
	DSN         string `json:"dsn,omitempty"`          // postgres; never logged
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
	MaxConns    int32  `json:"max_conns,omitempty"`    // postgres
}

type SessionConfig struct {
	TTL         string `json:"ttl,omitempty"` // default "10m"
	MaxSessions int    `json:"max_sessions,omitempty"`
}

const (
	DefaultTimezone = "Asia/Kolkata"
	DefaultDelay    = 0.5
)
