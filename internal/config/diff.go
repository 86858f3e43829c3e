package config

import (
	"reflect"
	"sort"
	"strings"

	logx "broadcastbot/pkg/logx"
)

// SummarizeConfigChange returns a compact list of changed sections and safe
// structured attrs for logging. Tokens and DSNs are never included.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 6)
	attrs := make([]logx.Field, 0, 20)

	// Telegram (never log token)
	oT, nT := oldCfg.Telegram, newCfg.Telegram
	if strings.TrimSpace(oT.PollTimeout) != strings.TrimSpace(nT.PollTimeout) ||
		!reflect.DeepEqual(oT.OwnerUserIDs, nT.OwnerUserIDs) ||
		strings.TrimSpace(oT.GroupLog) != strings.TrimSpace(nT.GroupLog) ||
		oT.CommandWorkers != nT.CommandWorkers ||
		strings.TrimSpace(oT.HandlerTimeout) != strings.TrimSpace(nT.HandlerTimeout) ||
		oT.Token != nT.Token {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.String("telegram.poll_timeout", strings.TrimSpace(nT.PollTimeout)),
			logx.Int("telegram.owner_count", len(nT.OwnerUserIDs)),
			logx.Bool("telegram.group_log_set", strings.TrimSpace(nT.GroupLog) != ""),
			logx.Bool("telegram.token_changed", oT.Token != nT.Token),
		)
	}

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logging.telegram_enabled", newCfg.Logging.Telegram.Enabled),
		)
	}

	if oldCfg.Scheduler != newCfg.Scheduler {
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.String("scheduler.timezone", strings.TrimSpace(newCfg.Scheduler.Timezone)),
			logx.String("scheduler.tick_interval", strings.TrimSpace(newCfg.Scheduler.TickInterval)),
			logx.String("scheduler.persist_timeout", strings.TrimSpace(newCfg.Scheduler.PersistTimeout)),
			logx.String("scheduler.maintenance", strings.TrimSpace(newCfg.Scheduler.Maintenance)),
		)
	}

	if !reflect.DeepEqual(oldCfg.Broadcast, newCfg.Broadcast) {
		changed = append(changed, "broadcast")
		attrs = append(attrs,
			logx.Duration("broadcast.delay", newCfg.SendDelay()),
			logx.String("broadcast.send_timeout", strings.TrimSpace(newCfg.Broadcast.SendTimeout)),
			logx.Int("broadcast.breaker_threshold", newCfg.Broadcast.BreakerThreshold),
			logx.Int("broadcast.history_size", newCfg.Broadcast.HistorySize),
		)
	}

	// Storage (never log DSN)
	oS, nS := oldCfg.Storage, newCfg.Storage
	if oS != nS {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", strings.TrimSpace(nS.Driver)),
			logx.Bool("storage.path_set", strings.TrimSpace(nS.Path) != ""),
			logx.Bool("storage.dsn_set", strings.TrimSpace(nS.DSN) != ""),
			logx.String("storage.busy_timeout", strings.TrimSpace(nS.BusyTimeout)),
		)
	}

	if oldCfg.Session != newCfg.Session {
		changed = append(changed, "session")
		attrs = append(attrs,
			logx.String("session.ttl", strings.TrimSpace(newCfg.Session.TTL)),
			logx.Int("session.max_sessions", newCfg.Session.MaxSessions),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}

// RestartRequired lists changed settings that only take effect after a
// restart.
func RestartRequired(oldCfg, newCfg *Config) []string {
	if oldCfg == nil || newCfg == nil {
		return nil
	}
	var out []string
	if oldCfg.Telegram.Token != newCfg.Telegram.Token {
		out = append(out, "telegram.token")
	}
	if strings.TrimSpace(oldCfg.Telegram.PollTimeout) != strings.TrimSpace(newCfg.Telegram.PollTimeout) {
		out = append(out, "telegram.poll_timeout")
	}
	if strings.TrimSpace(oldCfg.Scheduler.Timezone) != strings.TrimSpace(newCfg.Scheduler.Timezone) {
		out = append(out, "scheduler.timezone")
	}
	if oldCfg.Storage != newCfg.Storage {
		out = append(out, "storage")
	}
	return out
}
