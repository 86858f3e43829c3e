package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	logx "broadcastbot/pkg/logx"
)

// Validate reports every problem in cfg at once.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	add := func(format string, args ...any) { errs = append(errs, fmt.Errorf(format, args...)) }

	if strings.TrimSpace(cfg.Telegram.Token) == "" {
		add("telegram.token is required (or set %s)", EnvToken)
	}
	if len(cfg.Telegram.OwnerUserIDs) == 0 {
		add("telegram.owner_user_ids needs at least one id (or set %s)", EnvOwnerID)
	}
	if cfg.Telegram.CommandWorkers < 0 {
		add("telegram.command_workers must be >= 0")
	}
	if lv := strings.TrimSpace(cfg.Logging.Level); lv != "" && !logx.ValidLevel(lv) {
		add("logging.level: unknown level %q", lv)
	}
	if cfg.Logging.File.Enabled && strings.TrimSpace(cfg.Logging.File.Path) == "" {
		add("logging.file.path is required when logging.file.enabled")
	}
	if tz := strings.TrimSpace(cfg.Scheduler.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			add("scheduler.timezone: %v", err)
		}
	}
	if d := cfg.Broadcast.DelaySecondsBetweenSends; d != nil && *d < 0 {
		add("broadcast.delay_seconds_between_sends must be >= 0")
	}
	if cfg.Broadcast.HistorySize < 0 {
		add("broadcast.history_size must be >= 0")
	}

	durations := map[string]string{
		"telegram.poll_timeout":      cfg.Telegram.PollTimeout,
		"telegram.handler_timeout":   cfg.Telegram.HandlerTimeout,
		"scheduler.tick_interval":    cfg.Scheduler.TickInterval,
		"scheduler.persist_timeout":  cfg.Scheduler.PersistTimeout,
		"broadcast.send_timeout":     cfg.Broadcast.SendTimeout,
		"broadcast.breaker_cooldown": cfg.Broadcast.BreakerCooldown,
		"storage.busy_timeout":       cfg.Storage.BusyTimeout,
		"session.ttl":                cfg.Session.TTL,
	}
	for path, raw := range durations {
		if _, err := ParseDurationField(path, raw); err != nil {
			errs = append(errs, err)
		}
	}

	switch d := strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)); d {
	case "", "memory", "none":
	case "file", "sqlite":
		if strings.TrimSpace(cfg.Storage.Path) == "" {
			add("storage.path is required for driver %q", d)
		}
	case "postgres":
		if strings.TrimSpace(cfg.Storage.DSN) == "" {
			add("storage.dsn is required for driver postgres (or set %s)", EnvDSN)
		}
	default:
		add("storage.driver: unknown driver %q (want memory, file, sqlite or postgres)", cfg.Storage.Driver)
	}
	return errors.Join(errs...)
}

// Location resolves scheduler.timezone, defaulting to DefaultTimezone.
func (c *Config) Location() (*time.Location, error) {
	tz := strings.TrimSpace(c.Scheduler.Timezone)
	if tz == "" {
		tz = DefaultTimezone
	}
	return time.LoadLocation(tz)
}

// SendDelay is the pause between two consecutive sends of one broadcast.
func (c *Config) SendDelay() time.Duration {
	secs := DefaultDelay
	if p := c.Broadcast.DelaySecondsBetweenSends; p != nil {
		secs = *p
	}
	return time.Duration(secs * float64(time.Second))
}
