package app

import (
	"context"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/require"

	"broadcastbot/internal/config"
)

func baseConfig() *Config {
	return &Config{
		Telegram: config.TelegramConfig{Token: "123:abc", OwnerUserIDs: []int64{1}},
	}
}

func TestMapBroadcastConfigDefaults(t *testing.T) {
	cfg := baseConfig()
	bc, err := mapBroadcastConfig(cfg)
	require.NoError(t, err)
	require.Equal(t, 500*time.Millisecond, bc.DelayBetweenSends)
	require.Equal(t, defaultBreakerThreshold, bc.BreakerThreshold)
	require.Equal(t, 15*time.Second, bc.SendTimeout)

	zero := 0.0
	cfg.Broadcast.DelaySecondsBetweenSends = &zero
	cfg.Broadcast.BreakerThreshold = -1
	cfg.Broadcast.SendTimeout = "3s"
	bc, err = mapBroadcastConfig(cfg)
	require.NoError(t, err)
	require.Zero(t, bc.DelayBetweenSends)
	require.Zero(t, bc.BreakerThreshold)
	require.Equal(t, 3*time.Second, bc.SendTimeout)
}

func TestMapSchedulerConfig(t *testing.T) {
	cfg := baseConfig()
	sc, err := mapSchedulerConfig(cfg)
	require.NoError(t, err)
	require.Equal(t, config.DefaultTimezone, sc.Location.String())
	require.Equal(t, 10*time.Second, sc.TickInterval)
	require.Equal(t, 5*time.Second, sc.PersistTimeout)

	cfg.Scheduler.Timezone = "UTC"
	cfg.Scheduler.TickInterval = "1s"
	cfg.Scheduler.Maintenance = "@every 6h"
	sc, err = mapSchedulerConfig(cfg)
	require.NoError(t, err)
	require.Equal(t, time.UTC, sc.Location)
	require.Equal(t, time.Second, sc.TickInterval)
	require.Equal(t, "@every 6h", sc.Maintenance)
}

func TestValidateConfigRejectsBadReload(t *testing.T) {
	ctx := context.Background()
	require.NoError(t, validateConfig(ctx, baseConfig()))

	cfg := baseConfig()
	cfg.Scheduler.Maintenance = "every tuesday-ish"
	require.ErrorContains(t, validateConfig(ctx, cfg), "scheduler.maintenance")

	cfg = baseConfig()
	cfg.Broadcast.SendTimeout = "soon"
	require.Error(t, validateConfig(ctx, cfg))

	cfg = baseConfig()
	cfg.Telegram.OwnerUserIDs = nil
	require.ErrorContains(t, validateConfig(ctx, cfg), "owner_user_ids")
}

func TestLogTarget(t *testing.T) {
	cfg := baseConfig()
	_, ok := logTarget(cfg)
	require.False(t, ok)

	cfg.Telegram.GroupLog = " -100123 "
	id, ok := logTarget(cfg)
	require.True(t, ok)
	require.Equal(t, int64(-100123), id)

	cfg.Telegram.GroupLog = "@logs"
	_, ok = logTarget(cfg)
	require.False(t, ok)
}

func TestMapStorageConfig(t *testing.T) {
	cfg := baseConfig()
	cfg.Storage = config.StorageConfig{Driver: " SQLite ", Path: "./data/b.db"}
	sc, err := mapStorageConfig(cfg)
	require.NoError(t, err)
	require.Equal(t, "sqlite", sc.Driver)
	require.Equal(t, time.Second, sc.BusyTimeout)
}
