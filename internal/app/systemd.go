package app

import (
	"context"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	logx "broadcastbot/pkg/logx"
)

// sdNotify sends a state string to systemd. Outside a unit (no
// NOTIFY_SOCKET) it does nothing.
func sdNotify(log logx.Logger, state string) {
	sent, err := daemon.SdNotify(false, state)
	if err != nil {
		log.Warn("systemd notify failed", logx.String("state", state), logx.Err(err))
		return
	}
	if sent {
		log.Debug("systemd notified", logx.String("state", state))
	}
}

// watchdogLoop pings the systemd watchdog at half the configured interval
// while the app supervisor is healthy.
func watchdogLoop(ctx context.Context, log logx.Logger) {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		log.Warn("systemd watchdog check failed", logx.Err(err))
		return
	}
	if interval <= 0 {
		return
	}
	log.Info("systemd watchdog enabled", logx.Duration("interval", interval))
	t := time.NewTicker(interval / 2)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			sdNotify(log, daemon.SdNotifyWatchdog)
		}
	}
}
