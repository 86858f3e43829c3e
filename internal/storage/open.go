package storage

import (
	"context"
	"errors"
	"strings"

	logx "broadcastbot/pkg/logx"
)

// Open initialises the configured driver. An empty driver selects memory.
func Open(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	switch driver {
	case "", "memory", "none":
		log.Warn("memory storage selected; jobs and groups will not survive a restart")
		return NewMemory(), nil
	case "file":
		return wrap(openFile(cfg, log))
	case "sqlite", "sqlite3":
		return wrap(openSQLite(ctx, cfg, log))
	case "postgres", "postgresql", "pgx":
		return wrap(openPostgres(ctx, cfg, log))
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}

// wrap keeps a typed nil from turning into a non-nil Store.
func wrap[S Store](s S, err error) (Store, error) {
	if err != nil {
		return nil, err
	}
	return s, nil
}
