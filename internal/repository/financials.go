package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/leeksaver/leeksaver/internal/database"
	"github.com/leeksaver/leeksaver/internal/domain"
)

// FinancialRepository manages report-period fundamentals and daily
// valuations.
type FinancialRepository struct {
	db *database.DB
}

func NewFinancialRepository(db *database.DB) *FinancialRepository {
	return &FinancialRepository{db: db}
}

var financialSpec = upsertSpec{
	table: "financials",
	columns: []string{"code", "end_date", "pub_date", "revenue", "net_profit",
		"revenue_yoy", "net_profit_yoy", "eps", "roe", "gross_margin",
		"debt_asset_ratio", "operating_cfps", "bvps", "total_assets",
		"total_liability", "report_type", "updated_at"},
	conflict: []string{"code", "end_date"},
	update: []string{"pub_date", "revenue", "net_profit", "revenue_yoy",
		"net_profit_yoy", "eps", "roe", "gross_margin", "debt_asset_ratio",
		"operating_cfps", "bvps", "total_assets", "total_liability",
		"report_type", "updated_at"},
}

// Upsert writes financial reports idempotently. Reports whose publication
// date precedes the period end are rejected upstream of this call.
func (r *FinancialRepository) Upsert(ctx context.Context, fins []domain.Financial) (int, error) {
	rows := make([][]any, 0, len(fins))
	for _, f := range fins {
		rows = append(rows, []any{
			f.Code, dateStr(f.EndDate), optDateStr(f.PubDate),
			optF(f.Revenue), optF(f.NetProfit), optF(f.RevenueYoY), optF(f.NetProfitYoY),
			optF(f.EPS), optF(f.ROE), optF(f.GrossMargin), optF(f.DebtAssetRatio),
			optF(f.OperatingCFPS), optF(f.BVPS), optF(f.TotalAssets), optF(f.TotalLiability),
			f.ReportType, f.UpdatedAt.Format(tsLayout),
		})
	}
	return upsertChunked(ctx, r.db, financialSpec, rows)
}

// LatestEndDate returns the newest report period stored for a symbol.
func (r *FinancialRepository) LatestEndDate(ctx context.Context, code string) (time.Time, error) {
	var s string
	err := r.db.Conn().QueryRowContext(ctx,
		"SELECT COALESCE(MAX(end_date), '') FROM financials WHERE code = ?", code).Scan(&s)
	if err != nil {
		return time.Time{}, fmt.Errorf("latest end date for %s: %w", code, err)
	}
	if s == "" {
		return time.Time{}, nil
	}
	return parseDate(s)
}

var valuationSpec = upsertSpec{
	table: "valuations",
	columns: []string{"code", "trade_date", "pe_ttm", "pb", "ps", "peg",
		"total_mkt_cap", "circ_mkt_cap", "dividend_yield"},
	conflict: []string{"code", "trade_date"},
	update: []string{"pe_ttm", "pb", "ps", "peg", "total_mkt_cap",
		"circ_mkt_cap", "dividend_yield"},
}

// UpsertValuations writes daily valuation snapshots idempotently.
func (r *FinancialRepository) UpsertValuations(ctx context.Context, vals []domain.Valuation) (int, error) {
	rows := make([][]any, 0, len(vals))
	for _, v := range vals {
		rows = append(rows, []any{
			v.Code, dateStr(v.TradeDate), optF(v.PETTM), optF(v.PB), optF(v.PS),
			optF(v.PEG), optF(v.TotalMktCap), optF(v.CircMktCap), optF(v.DividendYield),
		})
	}
	return upsertChunked(ctx, r.db, valuationSpec, rows)
}

func optF(f *float64) any {
	if f == nil {
		return nil
	}
	return *f
}
