package repository

import (
	"context"

	"github.com/leeksaver/leeksaver/internal/database"
	"github.com/leeksaver/leeksaver/internal/domain"
)

// FlowRepository manages capital-flow datasets: per-symbol fund flows,
// margin balances, disclosure-list entries, and Stock Connect aggregates.
type FlowRepository struct {
	db *database.DB
}

func NewFlowRepository(db *database.DB) *FlowRepository {
	return &FlowRepository{db: db}
}

var fundFlowSpec = upsertSpec{
	table: "fund_flows",
	columns: []string{"code", "trade_date", "main_net", "main_net_pct",
		"super_net", "large_net", "medium_net", "small_net"},
	conflict: []string{"code", "trade_date"},
	update:   []string{"main_net", "main_net_pct", "super_net", "large_net", "medium_net", "small_net"},
}

func (r *FlowRepository) UpsertFundFlows(ctx context.Context, flows []domain.FundFlow) (int, error) {
	rows := make([][]any, 0, len(flows))
	for _, f := range flows {
		rows = append(rows, []any{
			f.Code, dateStr(f.TradeDate), f.MainNet, f.MainNetPct,
			f.SuperNet, f.LargeNet, f.MediumNet, f.SmallNet,
		})
	}
	return upsertChunked(ctx, r.db, fundFlowSpec, rows)
}

var marginSpec = upsertSpec{
	table: "margin_trades",
	columns: []string{"code", "trade_date", "fin_balance", "fin_buy",
		"sec_balance", "sec_sell_volume", "total_balance"},
	conflict: []string{"code", "trade_date"},
	update:   []string{"fin_balance", "fin_buy", "sec_balance", "sec_sell_volume", "total_balance"},
}

func (r *FlowRepository) UpsertMarginTrades(ctx context.Context, trades []domain.MarginTrade) (int, error) {
	rows := make([][]any, 0, len(trades))
	for _, m := range trades {
		rows = append(rows, []any{
			m.Code, dateStr(m.TradeDate), m.FinBalance, m.FinBuy,
			m.SecBalance, m.SecSellVolume, m.TotalBalance,
		})
	}
	return upsertChunked(ctx, r.db, marginSpec, rows)
}

// dragonTigerSpec is append-only: a symbol can appear once per day per
// reason, and re-syncing a day must not duplicate entries.
var dragonTigerSpec = upsertSpec{
	table:    "dragon_tiger",
	columns:  []string{"code", "trade_date", "reason", "buy_amount", "sell_amount", "net_amount"},
	conflict: []string{"code", "trade_date", "reason"},
	update:   []string{"buy_amount", "sell_amount", "net_amount"},
}

func (r *FlowRepository) UpsertDragonTiger(ctx context.Context, entries []domain.DragonTiger) (int, error) {
	rows := make([][]any, 0, len(entries))
	for _, d := range entries {
		rows = append(rows, []any{
			d.Code, dateStr(d.TradeDate), d.Reason, d.BuyAmount, d.SellAmount, d.NetAmount,
		})
	}
	return upsertChunked(ctx, r.db, dragonTigerSpec, rows)
}

var northboundSpec = upsertSpec{
	table:    "northbound_flows",
	columns:  []string{"trade_date", "net_buy", "buy_amount", "sell_amount", "accumulated"},
	conflict: []string{"trade_date"},
	update:   []string{"net_buy", "buy_amount", "sell_amount", "accumulated"},
}

func (r *FlowRepository) UpsertNorthbound(ctx context.Context, flows []domain.NorthboundFlow) (int, error) {
	rows := make([][]any, 0, len(flows))
	for _, n := range flows {
		rows = append(rows, []any{
			dateStr(n.TradeDate), n.NetBuy, n.BuyAmount, n.SellAmount, n.Accumulated,
		})
	}
	return upsertChunked(ctx, r.db, northboundSpec, rows)
}
