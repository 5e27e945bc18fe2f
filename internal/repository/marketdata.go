package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/leeksaver/leeksaver/internal/database"
	"github.com/leeksaver/leeksaver/internal/domain"
)

// MarketDataRepository manages daily and minute bars.
type MarketDataRepository struct {
	db *database.DB
}

func NewMarketDataRepository(db *database.DB) *MarketDataRepository {
	return &MarketDataRepository{db: db}
}

var dailyBarSpec = upsertSpec{
	table: "daily_bars",
	columns: []string{"code", "trade_date", "open", "high", "low", "close",
		"volume", "amount", "change", "change_pct", "turnover_rate"},
	conflict: []string{"code", "trade_date"},
	update: []string{"open", "high", "low", "close", "volume", "amount",
		"change", "change_pct", "turnover_rate"},
}

// UpsertDailyBars writes bars idempotently in chunks.
func (r *MarketDataRepository) UpsertDailyBars(ctx context.Context, bars []domain.DailyBar) (int, error) {
	rows := make([][]any, 0, len(bars))
	for _, b := range bars {
		rows = append(rows, []any{
			b.Code, dateStr(b.TradeDate), b.Open, b.High, b.Low, b.Close,
			b.Volume, b.Amount, b.Change, b.ChangePct, b.TurnoverRate,
		})
	}
	return upsertChunked(ctx, r.db, dailyBarSpec, rows)
}

// LatestBarDate returns the newest trade date stored for a symbol, or the
// zero time when none exist.
func (r *MarketDataRepository) LatestBarDate(ctx context.Context, code string) (time.Time, error) {
	var s sql.NullString
	err := r.db.Conn().QueryRowContext(ctx,
		"SELECT MAX(trade_date) FROM daily_bars WHERE code = ?", code).Scan(&s)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, fmt.Errorf("latest bar date for %s: %w", code, err)
	}
	if !s.Valid || s.String == "" {
		return time.Time{}, nil
	}
	return parseDate(s.String)
}

// BarsSince returns bars for one symbol from the given date onward,
// oldest first. This feeds the indicator computation window.
func (r *MarketDataRepository) BarsSince(ctx context.Context, code string, since time.Time) ([]domain.DailyBar, error) {
	rows, err := r.db.Conn().QueryContext(ctx, `
		SELECT code, trade_date, open, high, low, close, volume, amount, change, change_pct, turnover_rate
		FROM daily_bars WHERE code = ? AND trade_date >= ? ORDER BY trade_date`,
		code, dateStr(since))
	if err != nil {
		return nil, fmt.Errorf("bars since for %s: %w", code, err)
	}
	defer rows.Close()

	var out []domain.DailyBar
	for rows.Next() {
		var b domain.DailyBar
		var date string
		if err := rows.Scan(&b.Code, &date, &b.Open, &b.High, &b.Low, &b.Close,
			&b.Volume, &b.Amount, &b.Change, &b.ChangePct, &b.TurnoverRate); err != nil {
			return nil, err
		}
		if b.TradeDate, err = parseDate(date); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// BarCountsSince returns, per symbol, the number of daily bars on or after
// the given date. Used by the coverage audit.
func (r *MarketDataRepository) BarCountsSince(ctx context.Context, since time.Time) (map[string]int, error) {
	rows, err := r.db.Conn().QueryContext(ctx,
		"SELECT code, COUNT(*) FROM daily_bars WHERE trade_date >= ? GROUP BY code", dateStr(since))
	if err != nil {
		return nil, fmt.Errorf("bar counts: %w", err)
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var code string
		var n int
		if err := rows.Scan(&code, &n); err != nil {
			return nil, err
		}
		out[code] = n
	}
	return out, rows.Err()
}

// GlobalLatestBarDate returns the newest trade date across all symbols.
func (r *MarketDataRepository) GlobalLatestBarDate(ctx context.Context) (time.Time, error) {
	var s sql.NullString
	err := r.db.Conn().QueryRowContext(ctx, "SELECT MAX(trade_date) FROM daily_bars").Scan(&s)
	if err != nil {
		return time.Time{}, fmt.Errorf("global latest bar date: %w", err)
	}
	if !s.Valid || s.String == "" {
		return time.Time{}, nil
	}
	return parseDate(s.String)
}

// ZeroValueCodes returns symbols whose recent bars contain a zero close or
// zero volume, a telltale of a bad upstream fill.
func (r *MarketDataRepository) ZeroValueCodes(ctx context.Context, since time.Time) ([]string, error) {
	rows, err := r.db.Conn().QueryContext(ctx, `
		SELECT DISTINCT code FROM daily_bars
		WHERE trade_date >= ? AND (close <= 0 OR volume = 0) ORDER BY code`,
		dateStr(since))
	if err != nil {
		return nil, fmt.Errorf("zero value scan: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, err
		}
		out = append(out, code)
	}
	return out, rows.Err()
}

var minuteBarSpec = upsertSpec{
	table:    "minute_bars",
	columns:  []string{"code", "ts", "open", "high", "low", "close", "volume", "amount"},
	conflict: []string{"code", "ts"},
	update:   []string{"open", "high", "low", "close", "volume", "amount"},
}

// UpsertMinuteBars writes minute bars idempotently.
func (r *MarketDataRepository) UpsertMinuteBars(ctx context.Context, bars []domain.MinuteBar) (int, error) {
	rows := make([][]any, 0, len(bars))
	for _, b := range bars {
		rows = append(rows, []any{
			b.Code, b.Timestamp.Format(tsLayout), b.Open, b.High, b.Low, b.Close, b.Volume, b.Amount,
		})
	}
	return upsertChunked(ctx, r.db, minuteBarSpec, rows)
}

// PruneMinuteBars deletes minute bars older than the cutoff. Minute data is
// only kept for short-horizon watchlist analysis.
func (r *MarketDataRepository) PruneMinuteBars(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.Conn().ExecContext(ctx,
		"DELETE FROM minute_bars WHERE ts < ?", cutoff.Format(tsLayout))
	if err != nil {
		return 0, fmt.Errorf("prune minute bars: %w", err)
	}
	return res.RowsAffected()
}
