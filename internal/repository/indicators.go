package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/leeksaver/leeksaver/internal/database"
	"github.com/leeksaver/leeksaver/internal/domain"
)

// IndicatorRepository manages derived technical indicators.
type IndicatorRepository struct {
	db *database.DB
}

func NewIndicatorRepository(db *database.DB) *IndicatorRepository {
	return &IndicatorRepository{db: db}
}

var indicatorSpec = upsertSpec{
	table: "tech_indicators",
	columns: []string{"code", "trade_date", "ma5", "ma10", "ma20", "ma60",
		"macd_dif", "macd_dea", "macd_bar", "rsi_14", "kdj_k", "kdj_d", "kdj_j",
		"boll_upper", "boll_middle", "boll_lower", "cci", "atr_14", "obv"},
	conflict: []string{"code", "trade_date"},
	update: []string{"ma5", "ma10", "ma20", "ma60", "macd_dif", "macd_dea",
		"macd_bar", "rsi_14", "kdj_k", "kdj_d", "kdj_j", "boll_upper",
		"boll_middle", "boll_lower", "cci", "atr_14", "obv"},
}

// Upsert writes indicator rows idempotently. Recomputing a day overwrites
// the previous values for that day.
func (r *IndicatorRepository) Upsert(ctx context.Context, inds []domain.TechIndicator) (int, error) {
	rows := make([][]any, 0, len(inds))
	for _, ind := range inds {
		rows = append(rows, []any{
			ind.Code, dateStr(ind.TradeDate),
			optF(ind.MA5), optF(ind.MA10), optF(ind.MA20), optF(ind.MA60),
			optF(ind.MACDDif), optF(ind.MACDDea), optF(ind.MACDBar),
			optF(ind.RSI14), optF(ind.KDJK), optF(ind.KDJD), optF(ind.KDJJ),
			optF(ind.BollUpper), optF(ind.BollMid), optF(ind.BollLower),
			optF(ind.CCI), optF(ind.ATR14), optF(ind.OBV),
		})
	}
	return upsertChunked(ctx, r.db, indicatorSpec, rows)
}

// LatestDate returns the newest indicator date stored for a symbol, or the
// zero time when none exist.
func (r *IndicatorRepository) LatestDate(ctx context.Context, code string) (time.Time, error) {
	var s sql.NullString
	err := r.db.Conn().QueryRowContext(ctx,
		"SELECT MAX(trade_date) FROM tech_indicators WHERE code = ?", code).Scan(&s)
	if err != nil {
		return time.Time{}, fmt.Errorf("latest indicator date for %s: %w", code, err)
	}
	if !s.Valid || s.String == "" {
		return time.Time{}, nil
	}
	return parseDate(s.String)
}
