package task

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leeksaver/leeksaver/internal/config"
)

func testConfig() *config.Config {
	return &config.Config{
		L1DailyTime:        "17:30",
		L2IntervalSeconds:  300,
		L2TaskOffsetSecs:   120,
		FinancialDayOfWeek: 6,
		FinancialHour:      20,
		FinancialMinute:    0,
		CleanupDayOfWeek:   1,
		CleanupHour:        2,
		CleanupMinute:      0,
	}
}

func TestBuildSchedules_Deterministic(t *testing.T) {
	cfg := testConfig()
	defs := Catalog()

	a, err := BuildSchedules(cfg, defs)
	require.NoError(t, err)
	b, err := BuildSchedules(cfg, defs)
	require.NoError(t, err)
	assert.Equal(t, a, b, "same config must yield the same schedule")
}

func TestBuildSchedules_DailyStagger(t *testing.T) {
	scheds, err := BuildSchedules(testConfig(), Catalog())
	require.NoError(t, err)

	byName := make(map[string]Schedule)
	for _, s := range scheds {
		byName[s.TaskName] = s
	}

	// First daily task fires exactly at the configured time.
	assert.Equal(t, "0 30 17 * * *", byName["symbol_list"].CronSpec)
	// Second is 30s later.
	assert.Equal(t, "30 30 17 * * *", byName["daily_quotes"].CronSpec)
	// Third rolls the seconds into the next minute.
	assert.Equal(t, "0 31 17 * * *", byName["etf_quotes"].CronSpec)
}

func TestBuildSchedules_IntradayOffsets(t *testing.T) {
	scheds, err := BuildSchedules(testConfig(), Catalog())
	require.NoError(t, err)

	byName := make(map[string]Schedule)
	for _, s := range scheds {
		byName[s.TaskName] = s
	}

	news := byName["global_news"]
	assert.Equal(t, 300*time.Second, news.Interval)
	assert.Equal(t, time.Duration(0), news.InitialDelay)

	minute := byName["minute_quotes"]
	assert.Equal(t, 240*time.Second, minute.InitialDelay, "multiplier 2 x 120s")

	embed := byName["news_embeddings"]
	assert.Equal(t, 480*time.Second, embed.InitialDelay)
}

func TestBuildSchedules_Special(t *testing.T) {
	scheds, err := BuildSchedules(testConfig(), Catalog())
	require.NoError(t, err)

	byName := make(map[string]Schedule)
	for _, s := range scheds {
		byName[s.TaskName] = s
	}

	assert.Equal(t, "0 0 20 * * 6", byName["financials"].CronSpec, "Saturday evening")
	assert.Equal(t, "0 0 2 * * 1", byName["news_cleanup"].CronSpec, "Monday small hours")
	assert.Equal(t, "0 0 9 * * *", byName["data_doctor"].CronSpec, "morning after the daily tier")
}

func TestRegistry_Lookup(t *testing.T) {
	r := NewRegistry()

	d, ok := r.Get("daily_quotes")
	require.True(t, ok)
	assert.Equal(t, TierDaily, d.Tier)

	_, ok = r.Get("does_not_exist")
	assert.False(t, ok)

	assert.Len(t, r.All(), len(Catalog()))
}
