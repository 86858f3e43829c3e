package app

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"broadcastbot/internal/config"
	"broadcastbot/internal/services/broadcast"
	"broadcastbot/internal/services/scheduler"
	"broadcastbot/internal/storage"
	"broadcastbot/internal/transport/telegram/router"
	logx "broadcastbot/pkg/logx"
)

const defaultBreakerThreshold = 5

func mapLoggingConfig(cfg *Config) logx.Config {
	lc := cfg.Logging
	return logx.Config{
		Level:   lc.Level,
		Console: lc.Console,
		File: logx.FileConfig{
			Enabled:    lc.File.Enabled,
			Path:       lc.File.Path,
			MaxSizeMB:  lc.File.MaxSizeMB,
			MaxBackups: lc.File.MaxBackups,
			MaxAgeDays: lc.File.MaxAgeDays,
			Compress:   lc.File.Compress,
		},
		Telegram: logx.TelegramConfig{
			Enabled:    lc.Telegram.Enabled,
			ThreadID:   lc.Telegram.ThreadID,
			MinLevel:   lc.Telegram.MinLevel,
			RatePerSec: lc.Telegram.RatePerSec,
		},
	}
}

// logTarget parses telegram.group_log; ok is false when it is unset or not
// a chat id.
func logTarget(cfg *Config) (int64, bool) {
	raw := strings.TrimSpace(cfg.Telegram.GroupLog)
	if raw == "" {
		return 0, false
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

func mapStorageConfig(cfg *Config) (storage.Config, error) {
	sc := cfg.Storage
	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{
		Driver:      strings.ToLower(strings.TrimSpace(sc.Driver)),
		Path:        strings.TrimSpace(sc.Path),
		DSN:         strings.TrimSpace(sc.DSN),
		BusyTimeout: busy,
		MaxConns:    sc.MaxConns,
	}, nil
}

func mapSchedulerConfig(cfg *Config) (scheduler.Config, error) {
	loc, err := cfg.Location()
	if err != nil {
		return scheduler.Config{}, fmt.Errorf("scheduler.timezone: %w", err)
	}
	tick, err := config.ParseDurationOrDefault("scheduler.tick_interval", cfg.Scheduler.TickInterval, 10*time.Second)
	if err != nil {
		return scheduler.Config{}, err
	}
	persist, err := config.ParseDurationOrDefault("scheduler.persist_timeout", cfg.Scheduler.PersistTimeout, 5*time.Second)
	if err != nil {
		return scheduler.Config{}, err
	}
	maint := strings.TrimSpace(cfg.Scheduler.Maintenance)
	if maint != "" {
		if _, err := scheduler.ParseMaintenance(maint); err != nil {
			return scheduler.Config{}, fmt.Errorf("scheduler.maintenance: %w", err)
		}
	}
	return scheduler.Config{
		Location:       loc,
		TickInterval:   tick,
		PersistTimeout: persist,
		Maintenance:    maint,
	}, nil
}

func mapBroadcastConfig(cfg *Config) (broadcast.Config, error) {
	bc := cfg.Broadcast
	sendTimeout, err := config.ParseDurationOrDefault("broadcast.send_timeout", bc.SendTimeout, 15*time.Second)
	if err != nil {
		return broadcast.Config{}, err
	}
	cooldown, err := config.ParseDurationOrDefault("broadcast.breaker_cooldown", bc.BreakerCooldown, 30*time.Second)
	if err != nil {
		return broadcast.Config{}, err
	}
	threshold := bc.BreakerThreshold
	switch {
	case threshold == 0:
		threshold = defaultBreakerThreshold
	case threshold < 0:
		threshold = 0
	}
	return broadcast.Config{
		DelayBetweenSends: cfg.SendDelay(),
		SendTimeout:       sendTimeout,
		BreakerThreshold:  threshold,
		BreakerCooldown:   cooldown,
		HistorySize:       bc.HistorySize,
	}, nil
}

func mapRouterConfig(cfg *Config) (router.Config, error) {
	timeout, err := config.ParseDurationOrDefault("telegram.handler_timeout", cfg.Telegram.HandlerTimeout, 30*time.Second)
	if err != nil {
		return router.Config{}, err
	}
	return router.Config{Workers: cfg.Telegram.CommandWorkers, HandlerTimeout: timeout}, nil
}

func mapSessionTTL(cfg *Config) (time.Duration, error) {
	return config.ParseDurationOrDefault("session.ttl", cfg.Session.TTL, 10*time.Minute)
}

// validateConfig runs before a reloaded config is committed. It rejects
// anything the mappers above would refuse.
func validateConfig(_ context.Context, cfg *Config) error {
	if err := config.Validate(cfg); err != nil {
		return err
	}
	var errs []error
	if _, err := mapSchedulerConfig(cfg); err != nil {
		errs = append(errs, err)
	}
	if _, err := mapBroadcastConfig(cfg); err != nil {
		errs = append(errs, err)
	}
	if _, err := mapStorageConfig(cfg); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
