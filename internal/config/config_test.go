package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leeksaver/leeksaver/internal/errkind"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("LEEKSAVER_DATA_DIR", t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "17:30", cfg.L1DailyTime)
	assert.Equal(t, 300, cfg.L2IntervalSeconds)
	assert.Equal(t, 120, cfg.L2TaskOffsetSecs)
	assert.Equal(t, 4, cfg.WorkerCount)
	assert.Equal(t, 50, cfg.SyncBatchSize)
	assert.Equal(t, float64(5), cfg.UpstreamRateQPS)
	assert.Equal(t, 90, cfg.NewsRetentionDays)
	assert.True(t, cfg.NewsCleanupProtectWatchlist)
	assert.InDelta(t, 0.95, cfg.DoctorCoverageTarget, 1e-9)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("LEEKSAVER_DATA_DIR", t.TempDir())
	t.Setenv("SYNC_L1_DAILY_TIME", "18:15")
	t.Setenv("SYNC_L2_INTERVAL_SECONDS", "600")
	t.Setenv("SYNC_BATCH_SIZE", "100")
	t.Setenv("UPSTREAM_RATE_QPS", "2.5")
	t.Setenv("NEWS_CLEANUP_PROTECT_WATCHLIST", "false")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "18:15", cfg.L1DailyTime)
	assert.Equal(t, 600, cfg.L2IntervalSeconds)
	assert.Equal(t, 100, cfg.SyncBatchSize)
	assert.Equal(t, 2.5, cfg.UpstreamRateQPS)
	assert.False(t, cfg.NewsCleanupProtectWatchlist)
}

func TestLoad_InvalidDailyTime(t *testing.T) {
	t.Setenv("LEEKSAVER_DATA_DIR", t.TempDir())
	t.Setenv("SYNC_L1_DAILY_TIME", "25:99")

	_, err := Load()
	require.Error(t, err)
	assert.Equal(t, errkind.ConfigError, errkind.KindOf(err))
}

func TestParseDailyTime(t *testing.T) {
	h, m, err := ParseDailyTime("17:30")
	require.NoError(t, err)
	assert.Equal(t, 17, h)
	assert.Equal(t, 30, m)

	_, _, err = ParseDailyTime("not-a-time")
	assert.Error(t, err)
}
