package doctor

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leeksaver/leeksaver/internal/config"
	"github.com/leeksaver/leeksaver/internal/database"
	"github.com/leeksaver/leeksaver/internal/domain"
	"github.com/leeksaver/leeksaver/internal/repository"
	"github.com/leeksaver/leeksaver/internal/syncer"
)

type fakeSubmitter struct {
	shards []submission
	reject bool
}

type submission struct {
	name     string
	dedupKey string
	runner   syncer.Syncer
}

func (f *fakeSubmitter) TriggerBackfill(name, dedupKey string, runner syncer.Syncer) bool {
	if f.reject {
		return false
	}
	f.shards = append(f.shards, submission{name: name, dedupKey: dedupKey, runner: runner})
	return true
}

func newTestDoctor(t *testing.T, sub Submitter) (*Doctor, *syncer.Deps, *repository.AuditRepository) {
	t.Helper()
	db, err := database.New(database.Config{Path: filepath.Join(t.TempDir(), "doctor.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.Migrate())

	deps := &syncer.Deps{
		Cfg: &config.Config{
			DataDir:              t.TempDir(),
			DoctorCoverageTarget: 0.95,
			SyncBatchSize:        50,
		},
		Symbols: repository.NewSymbolRepository(db),
		Market:  repository.NewMarketDataRepository(db),
		Errors:  repository.NewSyncErrorRepository(db),
		Log:     zerolog.Nop(),
	}
	audits := repository.NewAuditRepository(db)
	return New(deps, audits, sub), deps, audits
}

func seedSymbols(t *testing.T, deps *syncer.Deps, codes ...string) {
	t.Helper()
	symbols := make([]domain.Symbol, 0, len(codes))
	for _, c := range codes {
		symbols = append(symbols, domain.Symbol{
			Code: c, Name: "stock " + c, Market: domain.MarketForCode(c),
			AssetType: domain.AssetStock, IsActive: true,
		})
	}
	_, err := deps.Symbols.Upsert(context.Background(), symbols)
	require.NoError(t, err)
}

func seedBar(t *testing.T, deps *syncer.Deps, code string, day time.Time) {
	t.Helper()
	_, err := deps.Market.UpsertDailyBars(context.Background(), []domain.DailyBar{{
		Code: code, TradeDate: day, Open: 10, High: 11, Low: 9, Close: 10.5, Volume: 1000,
	}})
	require.NoError(t, err)
}

func checkByMetric(t *testing.T, report *domain.AuditReport, metric string) domain.AuditCheck {
	t.Helper()
	for _, c := range report.Checks {
		if c.Metric == metric {
			return c
		}
	}
	t.Fatalf("report has no %q check", metric)
	return domain.AuditCheck{}
}

func TestRun_HealthyStoreNeedsNoBackfill(t *testing.T) {
	sub := &fakeSubmitter{}
	d, deps, audits := newTestDoctor(t, sub)

	now := time.Date(2026, 8, 26, 10, 0, 0, 0, time.UTC)
	d.now = func() time.Time { return now }

	seedSymbols(t, deps, "600519", "000001")
	seedBar(t, deps, "600519", now.AddDate(0, 0, -1))
	seedBar(t, deps, "000001", now.AddDate(0, 0, -1))

	report, err := d.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, domain.AuditHealthy, checkByMetric(t, report, "stock_coverage").Status)
	assert.Equal(t, domain.AuditHealthy, checkByMetric(t, report, "freshness").Status)
	assert.Equal(t, domain.AuditHealthy, checkByMetric(t, report, "quality").Status)
	assert.Empty(t, sub.shards)
	assert.Zero(t, report.BackfillJobs)

	saved, err := audits.Latest(context.Background())
	require.NoError(t, err)
	require.NotNil(t, saved)
	assert.Len(t, saved.Checks, len(report.Checks))
}

func TestRun_CoverageGapSubmitsScopedBackfill(t *testing.T) {
	sub := &fakeSubmitter{}
	d, deps, _ := newTestDoctor(t, sub)

	now := time.Date(2026, 8, 26, 10, 0, 0, 0, time.UTC)
	d.now = func() time.Time { return now }

	seedSymbols(t, deps, "600519", "000001")
	seedBar(t, deps, "600519", now.AddDate(0, 0, -1))
	// 000001 has no bars at all.

	report, err := d.Run(context.Background())
	require.NoError(t, err)

	cov := checkByMetric(t, report, "stock_coverage")
	assert.Equal(t, domain.AuditCritical, cov.Status)
	assert.InDelta(t, 0.5, cov.Value, 1e-9)

	require.Len(t, sub.shards, 1)
	assert.Equal(t, "daily_quotes", sub.shards[0].name)
	assert.Contains(t, sub.shards[0].dedupKey, "backfill:daily_quotes:")
	assert.Equal(t, 1, report.BackfillJobs)
	assert.True(t, report.ActionRequired)
}

func TestRun_EmptyStoreIsCriticalOnFreshness(t *testing.T) {
	sub := &fakeSubmitter{}
	d, _, _ := newTestDoctor(t, sub)
	d.now = func() time.Time { return time.Date(2026, 8, 26, 10, 0, 0, 0, time.UTC) }

	report, err := d.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, domain.AuditCritical, checkByMetric(t, report, "freshness").Status)
	assert.True(t, report.ActionRequired)
}

func TestRun_QuarantinedTargetsAreNotResubmitted(t *testing.T) {
	sub := &fakeSubmitter{}
	d, deps, _ := newTestDoctor(t, sub)

	now := time.Date(2026, 8, 26, 10, 0, 0, 0, time.UTC)
	d.now = func() time.Time { return now }

	seedSymbols(t, deps, "600519")
	seedBar(t, deps, "600519", now.AddDate(0, 0, -1))

	ctx := context.Background()
	for i := 0; i <= domain.QuarantineRetryLimit; i++ {
		require.NoError(t, deps.Errors.Record(ctx, "daily_quotes", "300750", "upstream_unavailable", "timeout"))
	}
	require.NoError(t, deps.Errors.Record(ctx, "daily_quotes", "002594", "upstream_unavailable", "timeout"))

	report, err := d.Run(ctx)
	require.NoError(t, err)

	// 002594 is retryable, quarantined 300750 is not.
	require.Len(t, sub.shards, 1)
	assert.Equal(t, 1, report.BackfillJobs)
}

func TestSubmitBackfills_ShardsLargeGapSets(t *testing.T) {
	sub := &fakeSubmitter{}
	d, _, _ := newTestDoctor(t, sub)

	missing := make([]string, 0, 250)
	for i := 0; i < 250; i++ {
		missing = append(missing, fmt.Sprintf("%06d", i))
	}

	n := d.submitBackfills(missing)
	assert.Equal(t, 3, n)
	require.Len(t, sub.shards, 3)

	keys := map[string]struct{}{}
	for _, s := range sub.shards {
		keys[s.dedupKey] = struct{}{}
	}
	assert.Len(t, keys, 3, "each shard carries a distinct dedup key")
}

func TestFingerprint_DeterministicPerShard(t *testing.T) {
	a := fingerprint([]string{"600519", "000001"})
	b := fingerprint([]string{"600519", "000001"})
	c := fingerprint([]string{"600519", "000002"})
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}

func TestDedupe_PreservesOrder(t *testing.T) {
	got := dedupe([]string{"b", "a", "b", "c", "a"})
	assert.Equal(t, []string{"b", "a", "c"}, got)
}
