// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/leeksaver/leeksaver/internal/errkind"
)

// Config holds application configuration. All values come from environment
// variables, with a .env file loaded first if present.
type Config struct {
	DataDir  string // base directory for the analytical store
	Port     int
	LogLevel string

	// Upstream feed
	UpstreamBaseURL string
	UpstreamRateQPS float64 // token-bucket refill rate (tokens/sec)
	UpstreamBurst   int     // token-bucket capacity

	// Scheduling policy knobs
	L1DailyTime        string // HH:MM wall clock for all L1 tasks
	L2IntervalSeconds  int    // polling period for every L2 task
	L2TaskOffsetSecs   int    // stagger between L2 tasks
	FinancialDayOfWeek int    // 0=Sunday .. 6=Saturday
	FinancialHour      int
	FinancialMinute    int
	CleanupDayOfWeek   int
	CleanupHour        int
	CleanupMinute      int

	// Sync runtime
	WorkerCount   int // job runtime worker pool size
	SyncBatchSize int // per-shard symbol count

	// Realtime cache (L3)
	RealtimeCacheTTL   time.Duration
	RealtimeStaleGrace time.Duration

	// News lifecycle
	NewsRetentionDays           int
	NewsCleanupProtectWatchlist bool

	// Data doctor
	DoctorCoverageTarget float64

	// Tech indicators: recompute historical days whose daily bars changed
	// upstream, not just the latest day.
	IndicatorRecomputeChanged bool

	// Symbol enrichment: secondary (detail endpoint) industry wins over the
	// primary list when both are non-empty.
	SymbolSecondaryWins bool

	// Embedding service
	EmbeddingBaseURL   string
	EmbeddingModel     string
	EmbeddingDimension int
	EmbeddingBatchSize int
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	dataDir := getEnv("LEEKSAVER_DATA_DIR", "./data")
	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}
	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	cfg := &Config{
		DataDir:  absDataDir,
		Port:     getEnvAsInt("PORT", 8000),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		UpstreamBaseURL: getEnv("UPSTREAM_BASE_URL", "https://push2his.eastmoney.com"),
		UpstreamRateQPS: getEnvAsFloat("UPSTREAM_RATE_QPS", 5),
		UpstreamBurst:   getEnvAsInt("UPSTREAM_RATE_BURST", 5),

		L1DailyTime:        getEnv("SYNC_L1_DAILY_TIME", "17:30"),
		L2IntervalSeconds:  getEnvAsInt("SYNC_L2_INTERVAL_SECONDS", 300),
		L2TaskOffsetSecs:   getEnvAsInt("SYNC_L2_TASK_OFFSET_SECONDS", 120),
		FinancialDayOfWeek: getEnvAsInt("SYNC_FINANCIAL_DAY_OF_WEEK", 6),
		FinancialHour:      getEnvAsInt("SYNC_FINANCIAL_HOUR", 20),
		FinancialMinute:    getEnvAsInt("SYNC_FINANCIAL_MINUTE", 0),
		CleanupDayOfWeek:   getEnvAsInt("CLEANUP_NEWS_DAY_OF_WEEK", 1),
		CleanupHour:        getEnvAsInt("CLEANUP_NEWS_HOUR", 2),
		CleanupMinute:      getEnvAsInt("CLEANUP_NEWS_MINUTE", 0),

		WorkerCount:   getEnvAsInt("WORKER_COUNT", 4),
		SyncBatchSize: getEnvAsInt("SYNC_BATCH_SIZE", 50),

		RealtimeCacheTTL:   time.Duration(getEnvAsInt("REALTIME_CACHE_TTL", 10)) * time.Second,
		RealtimeStaleGrace: time.Duration(getEnvAsInt("REALTIME_STALE_GRACE", 60)) * time.Second,

		NewsRetentionDays:           getEnvAsInt("NEWS_RETENTION_DAYS", 90),
		NewsCleanupProtectWatchlist: getEnvAsBool("NEWS_CLEANUP_PROTECT_WATCHLIST", true),

		DoctorCoverageTarget: getEnvAsFloat("DOCTOR_COVERAGE_TARGET", 0.95),

		IndicatorRecomputeChanged: getEnvAsBool("INDICATOR_RECOMPUTE_CHANGED", true),
		SymbolSecondaryWins:       getEnvAsBool("SYMBOL_SECONDARY_WINS", true),

		EmbeddingBaseURL:   getEnv("EMBEDDING_BASE_URL", ""),
		EmbeddingModel:     getEnv("EMBEDDING_MODEL", "BAAI/bge-large-zh-v1.5"),
		EmbeddingDimension: getEnvAsInt("EMBEDDING_DIMENSION", 1024),
		EmbeddingBatchSize: getEnvAsInt("EMBEDDING_BATCH_SIZE", 64),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that the configuration is coherent.
func (c *Config) Validate() error {
	if _, _, err := ParseDailyTime(c.L1DailyTime); err != nil {
		return errkind.Wrap(err, errkind.ConfigError, "SYNC_L1_DAILY_TIME")
	}
	if c.L2IntervalSeconds <= 0 {
		return errkind.Newf(errkind.ConfigError, "SYNC_L2_INTERVAL_SECONDS must be positive, got %d", c.L2IntervalSeconds)
	}
	if c.L2TaskOffsetSecs < 0 {
		return errkind.Newf(errkind.ConfigError, "SYNC_L2_TASK_OFFSET_SECONDS must not be negative, got %d", c.L2TaskOffsetSecs)
	}
	if c.UpstreamRateQPS <= 0 {
		return errkind.Newf(errkind.ConfigError, "UPSTREAM_RATE_QPS must be positive, got %v", c.UpstreamRateQPS)
	}
	if c.WorkerCount <= 0 {
		return errkind.Newf(errkind.ConfigError, "WORKER_COUNT must be positive, got %d", c.WorkerCount)
	}
	if c.SyncBatchSize <= 0 {
		return errkind.Newf(errkind.ConfigError, "SYNC_BATCH_SIZE must be positive, got %d", c.SyncBatchSize)
	}
	if c.FinancialDayOfWeek < 0 || c.FinancialDayOfWeek > 6 {
		return errkind.Newf(errkind.ConfigError, "SYNC_FINANCIAL_DAY_OF_WEEK must be 0-6, got %d", c.FinancialDayOfWeek)
	}
	if c.CleanupDayOfWeek < 0 || c.CleanupDayOfWeek > 6 {
		return errkind.Newf(errkind.ConfigError, "CLEANUP_NEWS_DAY_OF_WEEK must be 0-6, got %d", c.CleanupDayOfWeek)
	}
	if c.DoctorCoverageTarget <= 0 || c.DoctorCoverageTarget > 1 {
		return errkind.Newf(errkind.ConfigError, "DOCTOR_COVERAGE_TARGET must be in (0,1], got %v", c.DoctorCoverageTarget)
	}
	return nil
}

// ParseDailyTime parses an HH:MM wall-clock string.
func ParseDailyTime(s string) (hour, minute int, err error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid HH:MM time %q: %w", s, err)
	}
	return t.Hour(), t.Minute(), nil
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}
