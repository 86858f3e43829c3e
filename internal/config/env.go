package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Environment variables that override file values after decoding.
const (
	EnvToken    = "TELEGRAM_TOKEN"
	EnvOwnerID  = "OWNER_ID" // comma separated
	EnvTimezone = "DEFAULT_TIMEZONE"
	EnvLogLevel = "LOG_LEVEL"
	EnvDSN      = "STORAGE_DSN"
)

// LoadDotEnv loads KEY=value pairs from path into the process environment.
// Variables that are already set win. A missing file is not an error.
func LoadDotEnv(path string) error {
	if strings.TrimSpace(path) == "" {
		return nil
	}
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// ApplyEnv overlays environment overrides on cfg.
func ApplyEnv(cfg *Config, getenv func(string) string) error {
	if cfg == nil {
		return nil
	}
	if getenv == nil {
		getenv = os.Getenv
	}
	if v := strings.TrimSpace(getenv(EnvToken)); v != "" {
		cfg.Telegram.Token = v
	}
	if v := strings.TrimSpace(getenv(EnvOwnerID)); v != "" {
		ids, err := parseIDList(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvOwnerID, err)
		}
		cfg.Telegram.OwnerUserIDs = ids
	}
	if v := strings.TrimSpace(getenv(EnvTimezone)); v != "" {
		cfg.Scheduler.Timezone = v
	}
	if v := strings.TrimSpace(getenv(EnvLogLevel)); v != "" {
		cfg.Logging.Level = v
	}
	if v := strings.TrimSpace(getenv(EnvDSN)); v != "" {
		cfg.Storage.DSN = v
	}
	return nil
}

func parseIDList(s string) ([]int64, error) {
	var out []int64
	seen := map[int64]struct{}{}
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid id %q", part)
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out, nil
}
