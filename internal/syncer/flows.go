package syncer

import (
	"context"
	"time"

	"github.com/leeksaver/leeksaver/internal/domain"
	"github.com/leeksaver/leeksaver/internal/frame"
	"github.com/leeksaver/leeksaver/internal/transform"
)

// FundFlowSyncer pulls the per-symbol capital flow breakdown for the
// watchlist. Full-market flow coverage is not worth the request volume.
type FundFlowSyncer struct {
	deps *Deps
}

func NewFundFlowSyncer(d *Deps) *FundFlowSyncer { return &FundFlowSyncer{deps: d} }

func (s *FundFlowSyncer) Name() string { return "fund_flow" }

func (s *FundFlowSyncer) Run(ctx context.Context) (Result, error) {
	d := s.deps

	targets, err := d.Watchlist.Codes(ctx)
	if err != nil {
		return Result{}, err
	}

	return runSharded(ctx, d, s.Name(), targets, func(ctx context.Context, code string) (int, *transform.Counters, error) {
		f, err := d.Source.FundFlow(ctx, code)
		if err != nil {
			return 0, nil, err
		}
		flows, counters, err := decodeFundFlows(f, code)
		if err != nil {
			return 0, counters, err
		}
		rows, err := d.Flows.UpsertFundFlows(ctx, flows)
		return rows, counters, err
	})
}

func decodeFundFlows(f *frame.Frame, code string) ([]domain.FundFlow, *transform.Counters, error) {
	if err := f.Require("trade_date", "main_net"); err != nil {
		return nil, nil, err
	}

	counters := transform.NewCounters()
	out := make([]domain.FundFlow, 0, f.Len())
	for i := 0; i < f.Len(); i++ {
		date, err := f.Time(i, "trade_date")
		if err != nil {
			counters.Reject(transform.RuleTypecast)
			continue
		}
		main, err := f.Float64(i, "main_net")
		if err != nil {
			counters.Reject(transform.RuleTypecast)
			continue
		}

		flow := domain.FundFlow{Code: code, TradeDate: date, MainNet: main}
		flow.MainNetPct = optOrZero(f, i, "main_net_pct")
		flow.SuperNet = optOrZero(f, i, "super_net")
		flow.LargeNet = optOrZero(f, i, "large_net")
		flow.MediumNet = optOrZero(f, i, "medium_net")
		flow.SmallNet = optOrZero(f, i, "small_net")

		counters.Accepted++
		out = append(out, flow)
	}
	return out, counters, nil
}

func optOrZero(f *frame.Frame, row int, col string) float64 {
	if v := transform.OptFloat(f, row, col); v != nil {
		return *v
	}
	return 0
}

// MarginSyncer pulls market-wide margin balances for the latest trading day.
type MarginSyncer struct {
	deps *Deps
}

func NewMarginSyncer(d *Deps) *MarginSyncer { return &MarginSyncer{deps: d} }

func (s *MarginSyncer) Name() string { return "margin_trade" }

func (s *MarginSyncer) Run(ctx context.Context) (Result, error) {
	d := s.deps
	var res Result

	day := tradingDay(time.Now())
	f, err := d.Source.MarginTrades(ctx, day)
	if err != nil {
		return res, err
	}
	if err := f.Require("code", "fin_balance"); err != nil {
		return res, err
	}

	trades := make([]domain.MarginTrade, 0, f.Len())
	for i := 0; i < f.Len(); i++ {
		code, err := f.String(i, "code")
		if err != nil || code == "" {
			continue
		}
		trades = append(trades, domain.MarginTrade{
			Code:          code,
			TradeDate:     day,
			FinBalance:    optOrZero(f, i, "fin_balance"),
			FinBuy:        optOrZero(f, i, "fin_buy"),
			SecBalance:    optOrZero(f, i, "sec_balance"),
			SecSellVolume: int64(optOrZero(f, i, "sec_sell_volume")),
			TotalBalance:  optOrZero(f, i, "total_balance"),
		})
	}

	written, err := d.Flows.UpsertMarginTrades(ctx, trades)
	res.RowsWritten = written
	if err != nil {
		return res, err
	}
	res.Targets, res.Succeeded = 1, 1
	return res, nil
}

// DragonTigerSyncer pulls the exchange disclosure list for the latest
// trading day.
type DragonTigerSyncer struct {
	deps *Deps
}

func NewDragonTigerSyncer(d *Deps) *DragonTigerSyncer { return &DragonTigerSyncer{deps: d} }

func (s *DragonTigerSyncer) Name() string { return "dragon_tiger" }

func (s *DragonTigerSyncer) Run(ctx context.Context) (Result, error) {
	d := s.deps
	var res Result

	day := tradingDay(time.Now())
	f, err := d.Source.DragonTiger(ctx, day)
	if err != nil {
		return res, err
	}
	if err := f.Require("code", "reason"); err != nil {
		return res, err
	}

	entries := make([]domain.DragonTiger, 0, f.Len())
	for i := 0; i < f.Len(); i++ {
		code, err := f.String(i, "code")
		if err != nil || code == "" {
			continue
		}
		reason, _ := f.String(i, "reason")
		date := day
		if f.HasColumn("trade_date") && !f.IsNil(i, "trade_date") {
			if t, err := f.Time(i, "trade_date"); err == nil {
				date = t
			}
		}
		entries = append(entries, domain.DragonTiger{
			Code:       code,
			TradeDate:  date,
			Reason:     reason,
			BuyAmount:  optOrZero(f, i, "buy_amount"),
			SellAmount: optOrZero(f, i, "sell_amount"),
			NetAmount:  optOrZero(f, i, "net_amount"),
		})
	}

	written, err := d.Flows.UpsertDragonTiger(ctx, entries)
	res.RowsWritten = written
	if err != nil {
		return res, err
	}
	res.Targets, res.Succeeded = 1, 1
	return res, nil
}

// NorthboundSyncer pulls the Stock Connect daily aggregate series.
type NorthboundSyncer struct {
	deps *Deps
}

func NewNorthboundSyncer(d *Deps) *NorthboundSyncer { return &NorthboundSyncer{deps: d} }

func (s *NorthboundSyncer) Name() string { return "northbound_flow" }

func (s *NorthboundSyncer) Run(ctx context.Context) (Result, error) {
	d := s.deps
	var res Result

	f, err := d.Source.NorthboundFlow(ctx)
	if err != nil {
		return res, err
	}
	if err := f.Require("trade_date", "net_buy"); err != nil {
		return res, err
	}

	flows := make([]domain.NorthboundFlow, 0, f.Len())
	for i := 0; i < f.Len(); i++ {
		date, err := f.Time(i, "trade_date")
		if err != nil {
			continue
		}
		flows = append(flows, domain.NorthboundFlow{
			TradeDate:   date,
			NetBuy:      optOrZero(f, i, "net_buy"),
			BuyAmount:   optOrZero(f, i, "buy_amount"),
			SellAmount:  optOrZero(f, i, "sell_amount"),
			Accumulated: optOrZero(f, i, "accumulated"),
		})
	}

	written, err := d.Flows.UpsertNorthbound(ctx, flows)
	res.RowsWritten = written
	if err != nil {
		return res, err
	}
	res.Targets, res.Succeeded = 1, 1
	return res, nil
}
