package repository

import (
	"context"

	"github.com/leeksaver/leeksaver/internal/database"
	"github.com/leeksaver/leeksaver/internal/domain"
)

// SentimentRepository manages market-breadth snapshots and the limit-up pool.
type SentimentRepository struct {
	db *database.DB
}

func NewSentimentRepository(db *database.DB) *SentimentRepository {
	return &SentimentRepository{db: db}
}

var sentimentSpec = upsertSpec{
	table: "market_sentiment",
	columns: []string{"trade_date", "up_count", "down_count", "flat_count",
		"limit_up_count", "limit_down_count", "total_amount"},
	conflict: []string{"trade_date"},
	update: []string{"up_count", "down_count", "flat_count",
		"limit_up_count", "limit_down_count", "total_amount"},
}

func (r *SentimentRepository) Upsert(ctx context.Context, snaps []domain.MarketSentiment) (int, error) {
	rows := make([][]any, 0, len(snaps))
	for _, s := range snaps {
		rows = append(rows, []any{
			dateStr(s.TradeDate), s.UpCount, s.DownCount, s.FlatCount,
			s.LimitUpCount, s.LimitDownCnt, s.TotalAmount,
		})
	}
	return upsertChunked(ctx, r.db, sentimentSpec, rows)
}

var limitUpSpec = upsertSpec{
	table: "limit_up_stocks",
	columns: []string{"code", "trade_date", "name", "seal_amount",
		"first_seal_at", "open_times", "streak"},
	conflict: []string{"code", "trade_date"},
	update:   []string{"name", "seal_amount", "first_seal_at", "open_times", "streak"},
}

func (r *SentimentRepository) UpsertLimitUp(ctx context.Context, stocks []domain.LimitUpStock) (int, error) {
	rows := make([][]any, 0, len(stocks))
	for _, s := range stocks {
		var sealAt any
		if s.FirstSealAt != "" {
			sealAt = s.FirstSealAt
		}
		rows = append(rows, []any{
			s.Code, dateStr(s.TradeDate), s.Name, s.SealAmount, sealAt, s.OpenTimes, s.Streak,
		})
	}
	return upsertChunked(ctx, r.db, limitUpSpec, rows)
}
