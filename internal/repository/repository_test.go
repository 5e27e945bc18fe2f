package repository

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leeksaver/leeksaver/internal/database"
	"github.com/leeksaver/leeksaver/internal/domain"
)

func newTestDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.New(database.Config{Path: filepath.Join(t.TempDir(), "repo.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.Migrate())
	return db
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestUpsertSpec_SQL(t *testing.T) {
	spec := upsertSpec{
		table:    "t",
		columns:  []string{"a", "b"},
		conflict: []string{"a"},
		update:   []string{"b"},
	}
	got := spec.sql(2)
	assert.Equal(t, "INSERT INTO t (a, b) VALUES (?,?),(?,?) ON CONFLICT(a) DO UPDATE SET b = excluded.b", got)
}

func TestUpsertSpec_ChunkSizeRespectsBindLimit(t *testing.T) {
	wide := upsertSpec{table: "t", columns: make([]string, 17)}
	assert.LessOrEqual(t, wide.chunkSize()*17, maxBindParams)

	narrow := upsertSpec{table: "t", columns: make([]string, 2)}
	assert.Equal(t, defaultChunkRows, narrow.chunkSize())
}

func TestDailyBars_UpsertIsIdempotent(t *testing.T) {
	db := newTestDB(t)
	repo := NewMarketDataRepository(db)
	ctx := context.Background()

	bars := []domain.DailyBar{
		{Code: "600519", TradeDate: date(2026, 8, 24), Open: 10, High: 11, Low: 9, Close: 10.5, Volume: 100},
		{Code: "600519", TradeDate: date(2026, 8, 25), Open: 10.5, High: 12, Low: 10, Close: 11.5, Volume: 120},
	}

	n, err := repo.UpsertDailyBars(ctx, bars)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	// Re-running the same batch with a changed close overwrites in place.
	bars[1].Close = 11.8
	n, err = repo.UpsertDailyBars(ctx, bars)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	got, err := repo.BarsSince(ctx, "600519", date(2026, 8, 1))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, 11.8, got[1].Close)

	latest, err := repo.LatestBarDate(ctx, "600519")
	require.NoError(t, err)
	assert.Equal(t, date(2026, 8, 25), latest)
}

func TestLatestBarDate_NoRowsIsZeroTime(t *testing.T) {
	db := newTestDB(t)
	repo := NewMarketDataRepository(db)

	latest, err := repo.LatestBarDate(context.Background(), "000000")
	require.NoError(t, err)
	assert.True(t, latest.IsZero())
}

func TestSymbols_UpsertAndDeactivate(t *testing.T) {
	db := newTestDB(t)
	repo := NewSymbolRepository(db)
	ctx := context.Background()

	now := time.Now().UTC()
	_, err := repo.Upsert(ctx, []domain.Symbol{
		{Code: "600519", Name: "贵州茅台", Market: domain.MarketShanghai, AssetType: domain.AssetStock, Industry: "白酒", IsActive: true, UpdatedAt: now},
		{Code: "000001", Name: "平安银行", Market: domain.MarketShenzhen, AssetType: domain.AssetStock, IsActive: true, UpdatedAt: now},
	})
	require.NoError(t, err)

	// 000001 missing from the new roster: soft-deactivated, not deleted.
	n, err := repo.DeactivateMissing(ctx, domain.AssetStock, []string{"600519"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	active, err := repo.ListActive(ctx, domain.AssetStock)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "600519", active[0].Code)

	gone, err := repo.Get(ctx, "000001")
	require.NoError(t, err)
	assert.False(t, gone.IsActive)
}

func TestSymbols_DeactivateRefusesEmptyRoster(t *testing.T) {
	db := newTestDB(t)
	repo := NewSymbolRepository(db)

	_, err := repo.DeactivateMissing(context.Background(), domain.AssetStock, nil)
	require.Error(t, err)
}

func TestSymbols_IndustryCoverage(t *testing.T) {
	db := newTestDB(t)
	repo := NewSymbolRepository(db)
	ctx := context.Background()

	now := time.Now().UTC()
	_, err := repo.Upsert(ctx, []domain.Symbol{
		{Code: "600519", Name: "a", Market: domain.MarketShanghai, AssetType: domain.AssetStock, Industry: "白酒", IsActive: true, UpdatedAt: now},
		{Code: "000001", Name: "b", Market: domain.MarketShenzhen, AssetType: domain.AssetStock, IsActive: true, UpdatedAt: now},
	})
	require.NoError(t, err)

	cov, err := repo.IndustryCoverage(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 0.5, cov, 1e-9)
}

func TestSyncErrors_RecordBumpsAndResolveCloses(t *testing.T) {
	db := newTestDB(t)
	repo := NewSyncErrorRepository(db)
	ctx := context.Background()

	require.NoError(t, repo.Record(ctx, "daily_quotes", "600519", "upstream_unavailable", "503"))
	require.NoError(t, repo.Record(ctx, "daily_quotes", "600519", "rate_limited", "429"))

	open, err := repo.Open(ctx, "daily_quotes", "600519")
	require.NoError(t, err)
	require.NotNil(t, open)
	assert.Equal(t, 1, open.RetryCount, "second failure bumps the same row")
	assert.Equal(t, "rate_limited", open.ErrorKind, "latest kind wins")

	require.NoError(t, repo.Resolve(ctx, "daily_quotes", "600519"))
	open, err = repo.Open(ctx, "daily_quotes", "600519")
	require.NoError(t, err)
	assert.Nil(t, open)

	// A new failure after resolution opens a fresh row with a zero count.
	require.NoError(t, repo.Record(ctx, "daily_quotes", "600519", "empty", "no rows"))
	open, err = repo.Open(ctx, "daily_quotes", "600519")
	require.NoError(t, err)
	require.NotNil(t, open)
	assert.Equal(t, 0, open.RetryCount)
}

func TestSyncErrors_QuarantineExcludedFromRetryables(t *testing.T) {
	db := newTestDB(t)
	repo := NewSyncErrorRepository(db)
	ctx := context.Background()

	// First Record opens at 0; each further Record bumps by one.
	for i := 0; i <= domain.QuarantineRetryLimit; i++ {
		require.NoError(t, repo.Record(ctx, "financials", "300750", "unknown", "boom"))
	}
	require.NoError(t, repo.Record(ctx, "financials", "600519", "unknown", "boom"))

	targets, err := repo.RetryableTargets(ctx, "financials")
	require.NoError(t, err)
	assert.Equal(t, []string{"600519"}, targets)
}

func TestNews_InsertDedupsAndProtectedCleanup(t *testing.T) {
	db := newTestDB(t)
	news := NewNewsRepository(db)
	watch := NewWatchlistRepository(db)
	ctx := context.Background()

	old := time.Now().AddDate(0, 0, -120)
	articles := []domain.NewsArticle{
		{SourceID: "n1", Title: "old plain", Source: "wire", PublishTime: old},
		{SourceID: "n2", Title: "old watched", Source: "wire", PublishTime: old, RelatedSymbols: []string{"600519"}},
		{SourceID: "n3", Title: "fresh", Source: "wire", PublishTime: time.Now()},
	}

	n, err := news.Insert(ctx, articles)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	// Re-ingesting the same window inserts nothing.
	n, err = news.Insert(ctx, articles)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	require.NoError(t, watch.Add(ctx, "600519", ""))

	deleted, err := news.DeleteOlderThan(ctx, time.Now().AddDate(0, 0, -90), true)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted, "watchlist-related article survives")

	total, err := news.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, total)
}

func TestNews_EmbeddingBacklog(t *testing.T) {
	db := newTestDB(t)
	news := NewNewsRepository(db)
	ctx := context.Background()

	_, err := news.Insert(ctx, []domain.NewsArticle{
		{SourceID: "n1", Title: "t", Source: "wire", PublishTime: time.Now()},
	})
	require.NoError(t, err)

	pending, err := news.WithoutEmbedding(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	require.NoError(t, news.SetEmbedding(ctx, pending[0].ID, []float32{0.1, 0.2}))

	pending, err = news.WithoutEmbedding(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestStatus_SaveRoundTrip(t *testing.T) {
	db := newTestDB(t)
	repo := NewStatusRepository(db)
	ctx := context.Background()

	snap := &TaskSnapshot{
		TaskName:    "daily_quotes",
		State:       "succeeded",
		LastRunAt:   time.Now().Unix(),
		RowsWritten: 4200,
	}
	require.NoError(t, repo.Save(ctx, snap))

	got, err := repo.Get(ctx, "daily_quotes")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, snap.RowsWritten, got.RowsWritten)
	assert.Equal(t, "succeeded", got.State)

	missing, err := repo.Get(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestAudit_SaveAndLatest(t *testing.T) {
	db := newTestDB(t)
	repo := NewAuditRepository(db)
	ctx := context.Background()

	report := &domain.AuditReport{
		RunAt: time.Now().UTC(),
		Checks: []domain.AuditCheck{
			{Metric: "stock_coverage", Status: domain.AuditWarning, Value: 0.91, Threshold: 0.95},
		},
		ActionRequired: true,
		BackfillJobs:   3,
	}
	id, err := repo.Save(ctx, report)
	require.NoError(t, err)
	assert.Positive(t, id)

	got, err := repo.Latest(ctx)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, got.ActionRequired)
	require.Len(t, got.Checks, 1)
	assert.Equal(t, domain.AuditWarning, got.Checks[0].Status)
}

func TestWatchlist_AddRemoveList(t *testing.T) {
	db := newTestDB(t)
	repo := NewWatchlistRepository(db)
	ctx := context.Background()

	require.NoError(t, repo.Add(ctx, "600519", "core holding"))
	require.NoError(t, repo.Add(ctx, "600519", "updated note"))

	entries, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "updated note", entries[0].Note)

	ok, err := repo.Contains(ctx, "600519")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, repo.Remove(ctx, "600519"))
	require.Error(t, repo.Remove(ctx, "600519"), "removing twice reports the miss")
}
