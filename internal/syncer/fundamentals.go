package syncer

import (
	"context"
	"time"

	"github.com/leeksaver/leeksaver/internal/domain"
	"github.com/leeksaver/leeksaver/internal/errkind"
	"github.com/leeksaver/leeksaver/internal/frame"
	"github.com/leeksaver/leeksaver/internal/transform"
)

// FinancialsSyncer pulls report-period fundamentals per active stock.
type FinancialsSyncer struct {
	deps    *Deps
	targets []string
}

func NewFinancialsSyncer(d *Deps) *FinancialsSyncer { return &FinancialsSyncer{deps: d} }

// NewFinancialsBackfill returns a syncer scoped to the given symbols.
func NewFinancialsBackfill(d *Deps, targets []string) *FinancialsSyncer {
	return &FinancialsSyncer{deps: d, targets: targets}
}

// WithScope returns a copy narrowed to the given codes. The start date is
// ignored: fundamentals pull the full report history per symbol.
func (s *FinancialsSyncer) WithScope(sc Scope) Syncer {
	return NewFinancialsBackfill(s.deps, sc.Codes)
}

func (s *FinancialsSyncer) Name() string { return "financials" }

func (s *FinancialsSyncer) Run(ctx context.Context) (Result, error) {
	d := s.deps

	targets := s.targets
	if targets == nil {
		var err error
		if targets, err = activeStockCodes(ctx, d); err != nil {
			return Result{}, err
		}
	}

	return runSharded(ctx, d, s.Name(), targets, func(ctx context.Context, code string) (int, *transform.Counters, error) {
		f, err := d.Source.Financials(ctx, code)
		if err != nil {
			return 0, nil, err
		}
		fins, counters, err := decodeFinancials(f, code)
		if err != nil {
			return 0, counters, err
		}
		rows, err := d.Financials.Upsert(ctx, fins)
		return rows, counters, err
	})
}

// decodeFinancials maps a financials frame to domain rows. Reports whose
// publication date precedes the period end are dropped as inconsistent.
func decodeFinancials(f *frame.Frame, code string) ([]domain.Financial, *transform.Counters, error) {
	if err := f.Require("end_date"); err != nil {
		return nil, nil, err
	}

	now := time.Now()
	counters := transform.NewCounters()
	out := make([]domain.Financial, 0, f.Len())
	for i := 0; i < f.Len(); i++ {
		endDate, err := f.Time(i, "end_date", "2006-01-02", "20060102")
		if err != nil {
			counters.Reject(transform.RuleTypecast)
			continue
		}

		fin := domain.Financial{Code: code, EndDate: endDate, UpdatedAt: now}
		if f.HasColumn("pub_date") && !f.IsNil(i, "pub_date") {
			if pub, err := f.Time(i, "pub_date", "2006-01-02", "20060102"); err == nil {
				if pub.Before(endDate) {
					counters.Reject(transform.RuleInconsistent)
					continue
				}
				fin.PubDate = &pub
			}
		}

		fin.Revenue = transform.OptFloat(f, i, "revenue")
		fin.NetProfit = transform.OptFloat(f, i, "net_profit")
		fin.RevenueYoY = transform.OptFloat(f, i, "revenue_yoy")
		fin.NetProfitYoY = transform.OptFloat(f, i, "net_profit_yoy")
		fin.EPS = transform.OptFloat(f, i, "eps")
		fin.ROE = transform.OptFloat(f, i, "roe")
		fin.GrossMargin = transform.OptFloat(f, i, "gross_margin")
		fin.DebtAssetRatio = transform.OptFloat(f, i, "debt_asset_ratio")
		fin.OperatingCFPS = transform.OptFloat(f, i, "operating_cfps")
		fin.BVPS = transform.OptFloat(f, i, "bvps")
		fin.TotalAssets = transform.OptFloat(f, i, "total_assets")
		fin.TotalLiability = transform.OptFloat(f, i, "total_liability")
		fin.ReportType = reportType(endDate)

		counters.Accepted++
		out = append(out, fin)
	}
	return out, counters, nil
}

// reportType classifies a period end: December closes the fiscal year.
func reportType(endDate time.Time) string {
	if endDate.Month() == time.December {
		return "annual"
	}
	return "quarterly"
}

// ValuationsSyncer pulls daily valuation snapshots per active stock.
type ValuationsSyncer struct {
	deps *Deps
}

func NewValuationsSyncer(d *Deps) *ValuationsSyncer { return &ValuationsSyncer{deps: d} }

func (s *ValuationsSyncer) Name() string { return "valuations" }

func (s *ValuationsSyncer) Run(ctx context.Context) (Result, error) {
	d := s.deps

	targets, err := activeStockCodes(ctx, d)
	if err != nil {
		return Result{}, err
	}

	end := tradingDay(time.Now())
	start := end.AddDate(0, 0, -safetyWindowDays)

	return runSharded(ctx, d, s.Name(), targets, func(ctx context.Context, code string) (int, *transform.Counters, error) {
		f, err := d.Source.Valuations(ctx, code, start, end)
		if err != nil {
			return 0, nil, err
		}
		vals, counters, err := transform.Valuations(f, code)
		if err != nil {
			return 0, counters, err
		}
		if len(vals) == 0 {
			return 0, counters, errkind.New(errkind.Empty, "no valuation rows")
		}
		rows, err := d.Financials.UpsertValuations(ctx, vals)
		return rows, counters, err
	})
}
