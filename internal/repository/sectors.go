package repository

import (
	"context"

	"github.com/leeksaver/leeksaver/internal/database"
	"github.com/leeksaver/leeksaver/internal/domain"
)

// SectorRepository manages industry/concept boards and their daily quotes.
type SectorRepository struct {
	db *database.DB
}

func NewSectorRepository(db *database.DB) *SectorRepository {
	return &SectorRepository{db: db}
}

var sectorSpec = upsertSpec{
	table:    "sectors",
	columns:  []string{"code", "name", "kind"},
	conflict: []string{"code"},
	update:   []string{"name", "kind"},
}

func (r *SectorRepository) Upsert(ctx context.Context, sectors []domain.Sector) (int, error) {
	rows := make([][]any, 0, len(sectors))
	for _, s := range sectors {
		rows = append(rows, []any{s.Code, s.Name, s.Kind})
	}
	return upsertChunked(ctx, r.db, sectorSpec, rows)
}

var sectorQuoteSpec = upsertSpec{
	table: "sector_quotes",
	columns: []string{"sector_code", "trade_date", "close", "change_pct",
		"turnover_rate", "leader_code", "net_inflow"},
	conflict: []string{"sector_code", "trade_date"},
	update:   []string{"close", "change_pct", "turnover_rate", "leader_code", "net_inflow"},
}

func (r *SectorRepository) UpsertQuotes(ctx context.Context, quotes []domain.SectorQuote) (int, error) {
	rows := make([][]any, 0, len(quotes))
	for _, q := range quotes {
		rows = append(rows, []any{
			q.SectorCode, dateStr(q.TradeDate), q.Close, q.ChangePct,
			q.TurnoverRate, nullStr(q.LeaderCode), q.NetInflow,
		})
	}
	return upsertChunked(ctx, r.db, sectorQuoteSpec, rows)
}
