// Package doctor audits the analytical store and plans repair work. Each
// run evaluates coverage, freshness, metadata, data quality, and host
// capacity, persists the report, and submits sharded backfill jobs for
// whatever the audit found missing.
package doctor

import (
	"context"
	"fmt"
	"hash/fnv"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/leeksaver/leeksaver/internal/domain"
	"github.com/leeksaver/leeksaver/internal/repository"
	"github.com/leeksaver/leeksaver/internal/syncer"
)

const (
	// coverageWindowDays is the lookback for "does this symbol have recent
	// bars at all".
	coverageWindowDays = 14

	// qualityWindowDays is the lookback of the zero-value scan.
	qualityWindowDays = 3

	// freshnessAllowance tolerates weekend gaps: Monday morning the newest
	// bar is legitimately three days old.
	freshnessAllowance = 3 * 24 * time.Hour

	// metadataTarget is the minimum industry classification rate.
	metadataTarget = 0.9

	// shardSize bounds one backfill job's target list.
	shardSize = 100

	// diskWarnPct and diskCritPct grade the data volume usage.
	diskWarnPct = 80.0
	diskCritPct = 90.0
)

// Submitter accepts backfill jobs. Satisfied by *jobs.Scheduler.
type Submitter interface {
	TriggerBackfill(name, dedupKey string, runner syncer.Syncer) bool
}

// Doctor runs the audit.
type Doctor struct {
	deps      *syncer.Deps
	audits    *repository.AuditRepository
	submitter Submitter
	log       zerolog.Logger

	now func() time.Time
}

// New creates a doctor. submitter may be nil for report-only runs.
func New(deps *syncer.Deps, audits *repository.AuditRepository, submitter Submitter) *Doctor {
	return &Doctor{
		deps:      deps,
		audits:    audits,
		submitter: submitter,
		log:       deps.Log.With().Str("component", "doctor").Logger(),
		now:       time.Now,
	}
}

// Run performs a full audit, persists the report, and submits backfill
// shards for the gaps it found. It returns the report.
func (d *Doctor) Run(ctx context.Context) (*domain.AuditReport, error) {
	report := &domain.AuditReport{RunAt: d.now()}

	missing, check, err := d.checkCoverage(ctx, domain.AssetStock, "stock_coverage")
	if err != nil {
		return nil, err
	}
	report.Checks = append(report.Checks, check)

	etfMissing, etfCheck, err := d.checkCoverage(ctx, domain.AssetETF, "etf_coverage")
	if err != nil {
		return nil, err
	}
	report.Checks = append(report.Checks, etfCheck)
	missing = append(missing, etfMissing...)

	report.Checks = append(report.Checks, d.checkFreshness(ctx))
	report.Checks = append(report.Checks, d.checkMetadata(ctx))

	quality, qualityTargets := d.checkQuality(ctx)
	report.Checks = append(report.Checks, quality)
	missing = append(missing, qualityTargets...)

	report.Checks = append(report.Checks, d.checkHost())

	// Ledger retries ride along with the audit's own findings.
	retryable, err := d.deps.Errors.RetryableTargets(ctx, "daily_quotes")
	if err != nil {
		return nil, err
	}
	missing = append(missing, retryable...)

	for _, c := range report.Checks {
		if c.Status == domain.AuditCritical {
			report.ActionRequired = true
		}
	}

	report.BackfillJobs = d.submitBackfills(dedupe(missing))
	if report.BackfillJobs > 0 {
		report.ActionRequired = true
	}

	if _, err := d.audits.Save(ctx, report); err != nil {
		return nil, err
	}

	d.log.Info().Int("checks", len(report.Checks)).
		Bool("action_required", report.ActionRequired).
		Int("backfill_jobs", report.BackfillJobs).Msg("audit complete")
	return report, nil
}

// checkCoverage measures the fraction of active symbols with at least one
// bar inside the coverage window, and returns the symbols without any.
func (d *Doctor) checkCoverage(ctx context.Context, assetType domain.AssetType, metric string) ([]string, domain.AuditCheck, error) {
	check := domain.AuditCheck{Metric: metric, Threshold: d.deps.Cfg.DoctorCoverageTarget}

	symbols, err := d.deps.Symbols.ListActive(ctx, assetType)
	if err != nil {
		return nil, check, err
	}
	if len(symbols) == 0 {
		check.Status = domain.AuditHealthy
		check.Value = 1
		check.Message = "no active symbols to cover"
		return nil, check, nil
	}

	since := d.now().AddDate(0, 0, -coverageWindowDays)
	counts, err := d.deps.Market.BarCountsSince(ctx, since)
	if err != nil {
		return nil, check, err
	}

	var missing []string
	for _, s := range symbols {
		if counts[s.Code] == 0 {
			missing = append(missing, s.Code)
		}
	}

	check.Value = 1 - float64(len(missing))/float64(len(symbols))
	switch {
	case check.Value >= d.deps.Cfg.DoctorCoverageTarget:
		check.Status = domain.AuditHealthy
	case check.Value >= d.deps.Cfg.DoctorCoverageTarget-0.05:
		check.Status = domain.AuditWarning
	default:
		check.Status = domain.AuditCritical
	}
	check.Message = fmt.Sprintf("%d of %d symbols have recent bars", len(symbols)-len(missing), len(symbols))
	if len(missing) > 0 {
		check.Details = map[string]any{"missing_count": len(missing)}
	}
	return missing, check, nil
}

// checkFreshness verifies the newest stored bar is not older than the
// weekend allowance permits.
func (d *Doctor) checkFreshness(ctx context.Context) domain.AuditCheck {
	check := domain.AuditCheck{Metric: "freshness", Threshold: freshnessAllowance.Hours()}

	latest, err := d.deps.Market.GlobalLatestBarDate(ctx)
	if err != nil {
		check.Status = domain.AuditCritical
		check.Message = "freshness query failed: " + err.Error()
		return check
	}
	if latest.IsZero() {
		check.Status = domain.AuditCritical
		check.Message = "store holds no bars at all"
		return check
	}

	age := d.now().Sub(latest)
	check.Value = age.Hours()
	switch {
	case age <= freshnessAllowance:
		check.Status = domain.AuditHealthy
	case age <= freshnessAllowance+24*time.Hour:
		check.Status = domain.AuditWarning
	default:
		check.Status = domain.AuditCritical
	}
	check.Message = fmt.Sprintf("newest bar is %s (%.0fh old)", latest.Format("2006-01-02"), age.Hours())
	return check
}

// checkMetadata verifies the industry classification rate.
func (d *Doctor) checkMetadata(ctx context.Context) domain.AuditCheck {
	check := domain.AuditCheck{Metric: "metadata", Threshold: metadataTarget}

	cov, err := d.deps.Symbols.IndustryCoverage(ctx)
	if err != nil {
		check.Status = domain.AuditCritical
		check.Message = "metadata query failed: " + err.Error()
		return check
	}
	check.Value = cov
	if cov >= metadataTarget {
		check.Status = domain.AuditHealthy
	} else {
		check.Status = domain.AuditWarning
	}
	check.Message = fmt.Sprintf("%.1f%% of active stocks carry an industry", cov*100)
	return check
}

// checkQuality scans recent bars for zero closes or volumes and returns
// the offending symbols for re-sync.
func (d *Doctor) checkQuality(ctx context.Context) (domain.AuditCheck, []string) {
	check := domain.AuditCheck{Metric: "quality"}

	since := d.now().AddDate(0, 0, -qualityWindowDays)
	codes, err := d.deps.Market.ZeroValueCodes(ctx, since)
	if err != nil {
		check.Status = domain.AuditCritical
		check.Message = "quality scan failed: " + err.Error()
		return check, nil
	}

	check.Value = float64(len(codes))
	if len(codes) == 0 {
		check.Status = domain.AuditHealthy
		check.Message = "no zero-value bars in the scan window"
	} else {
		check.Status = domain.AuditWarning
		check.Message = fmt.Sprintf("%d symbols carry zero-value bars", len(codes))
		check.Details = map[string]any{"codes": codes}
	}
	return check, codes
}

// checkHost grades disk and memory pressure on the data volume.
func (d *Doctor) checkHost() domain.AuditCheck {
	check := domain.AuditCheck{Metric: "host", Threshold: diskCritPct}

	usage, err := disk.Usage(d.deps.Cfg.DataDir)
	if err != nil {
		check.Status = domain.AuditWarning
		check.Message = "disk usage unavailable: " + err.Error()
		return check
	}
	check.Value = usage.UsedPercent

	vm, memErr := mem.VirtualMemory()

	switch {
	case usage.UsedPercent >= diskCritPct:
		check.Status = domain.AuditCritical
	case usage.UsedPercent >= diskWarnPct:
		check.Status = domain.AuditWarning
	default:
		check.Status = domain.AuditHealthy
	}
	check.Message = fmt.Sprintf("data volume %.1f%% used", usage.UsedPercent)
	if memErr == nil {
		check.Details = map[string]any{"mem_used_percent": vm.UsedPercent}
	}
	return check
}

// submitBackfills shards the missing symbols and submits one scoped
// daily-quotes job per shard. The dedup key is a fingerprint of the shard's
// contents: resubmitting the same gap set while a shard is still running
// is absorbed by the runtime.
func (d *Doctor) submitBackfills(missing []string) int {
	if len(missing) == 0 || d.submitter == nil {
		return 0
	}
	sort.Strings(missing)

	submitted := 0
	for start := 0; start < len(missing); start += shardSize {
		end := start + shardSize
		if end > len(missing) {
			end = len(missing)
		}
		shard := missing[start:end]

		key := fmt.Sprintf("backfill:daily_quotes:%s", fingerprint(shard))
		runner := syncer.NewDailyQuotesBackfill(d.deps, shard)
		if d.submitter.TriggerBackfill("daily_quotes", key, runner) {
			submitted++
			d.log.Info().Int("targets", len(shard)).Str("dedup_key", key).Msg("backfill shard submitted")
		} else {
			d.log.Debug().Str("dedup_key", key).Msg("backfill shard already in flight")
		}
	}
	return submitted
}

func fingerprint(codes []string) string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(strings.Join(codes, ",")))
	return fmt.Sprintf("%016x", h.Sum64())
}

func dedupe(codes []string) []string {
	seen := make(map[string]struct{}, len(codes))
	out := codes[:0]
	for _, c := range codes {
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	return out
}
