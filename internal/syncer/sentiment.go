package syncer

import (
	"context"
	"time"

	"github.com/leeksaver/leeksaver/internal/domain"
	"github.com/leeksaver/leeksaver/internal/errkind"
)

// SentimentSyncer pulls the post-close market breadth snapshot plus the
// day's limit-up pool.
type SentimentSyncer struct {
	deps *Deps
}

func NewSentimentSyncer(d *Deps) *SentimentSyncer { return &SentimentSyncer{deps: d} }

func (s *SentimentSyncer) Name() string { return "market_sentiment" }

func (s *SentimentSyncer) Run(ctx context.Context) (Result, error) {
	d := s.deps
	var res Result

	f, err := d.Source.MarketSentiment(ctx)
	if err != nil {
		return res, err
	}
	if err := f.Require("trade_date", "up_count", "down_count"); err != nil {
		return res, err
	}

	snaps := make([]domain.MarketSentiment, 0, f.Len())
	for i := 0; i < f.Len(); i++ {
		date, err := f.Time(i, "trade_date")
		if err != nil {
			continue
		}
		snaps = append(snaps, domain.MarketSentiment{
			TradeDate:    date,
			UpCount:      int(optOrZero(f, i, "up_count")),
			DownCount:    int(optOrZero(f, i, "down_count")),
			FlatCount:    int(optOrZero(f, i, "flat_count")),
			LimitUpCount: int(optOrZero(f, i, "limit_up_count")),
			LimitDownCnt: int(optOrZero(f, i, "limit_down_count")),
			TotalAmount:  optOrZero(f, i, "total_amount"),
		})
	}

	written, err := d.Sentiment.Upsert(ctx, snaps)
	res.RowsWritten += written
	if err != nil {
		return res, err
	}

	log := d.logger(s.Name())
	if err := s.syncLimitUpPool(ctx, &res); err != nil {
		kind := errkind.KindOf(err)
		log.Warn().Err(err).Str("kind", string(kind)).Msg("limit-up pool sync failed")
		if rerr := d.Errors.Record(ctx, s.Name(), "limit_up_pool", string(kind), err.Error()); rerr != nil {
			log.Error().Err(rerr).Msg("failed to record ledger row")
		}
	} else if rerr := d.Errors.Resolve(ctx, s.Name(), "limit_up_pool"); rerr != nil {
		log.Error().Err(rerr).Msg("failed to resolve ledger row")
	}

	res.Targets, res.Succeeded = 1, 1
	return res, nil
}

func (s *SentimentSyncer) syncLimitUpPool(ctx context.Context, res *Result) error {
	d := s.deps

	day := tradingDay(time.Now())
	f, err := d.Source.LimitUpPool(ctx, day)
	if err != nil {
		return err
	}
	if err := f.Require("code"); err != nil {
		return err
	}

	stocks := make([]domain.LimitUpStock, 0, f.Len())
	for i := 0; i < f.Len(); i++ {
		code, err := f.String(i, "code")
		if err != nil || code == "" {
			continue
		}
		name, _ := f.String(i, "name")
		sealAt := ""
		if f.HasColumn("first_seal_at") && !f.IsNil(i, "first_seal_at") {
			sealAt, _ = f.String(i, "first_seal_at")
		}
		stocks = append(stocks, domain.LimitUpStock{
			Code:        code,
			TradeDate:   day,
			Name:        name,
			SealAmount:  optOrZero(f, i, "seal_amount"),
			FirstSealAt: sealAt,
			OpenTimes:   int(optOrZero(f, i, "open_times")),
			Streak:      int(optOrZero(f, i, "streak")),
		})
	}

	written, err := d.Sentiment.UpsertLimitUp(ctx, stocks)
	res.RowsWritten += written
	return err
}

// SectorSyncer refreshes the industry and concept board rosters and their
// latest quotes.
type SectorSyncer struct {
	deps *Deps
}

func NewSectorSyncer(d *Deps) *SectorSyncer { return &SectorSyncer{deps: d} }

func (s *SectorSyncer) Name() string { return "sector_quotes" }

func (s *SectorSyncer) Run(ctx context.Context) (Result, error) {
	var res Result

	day := tradingDay(time.Now())
	for _, kind := range []string{"industry", "concept"} {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if err := s.syncKind(ctx, kind, day, &res); err != nil {
			return res, err
		}
	}

	res.Targets, res.Succeeded = 1, 1
	return res, nil
}

func (s *SectorSyncer) syncKind(ctx context.Context, kind string, day time.Time, res *Result) error {
	d := s.deps

	roster, err := d.Source.Sectors(ctx, kind)
	if err != nil {
		return err
	}
	if err := roster.Require("code", "name"); err != nil {
		return err
	}

	sectors := make([]domain.Sector, 0, roster.Len())
	for i := 0; i < roster.Len(); i++ {
		code, err := roster.String(i, "code")
		if err != nil || code == "" {
			continue
		}
		name, _ := roster.String(i, "name")
		sectors = append(sectors, domain.Sector{Code: code, Name: name, Kind: kind})
	}
	written, err := d.Sectors.Upsert(ctx, sectors)
	res.RowsWritten += written
	if err != nil {
		return err
	}

	quotesFrame, err := d.Source.SectorQuotes(ctx, kind)
	if err != nil {
		return err
	}
	if err := quotesFrame.Require("sector_code"); err != nil {
		return err
	}

	quotes := make([]domain.SectorQuote, 0, quotesFrame.Len())
	for i := 0; i < quotesFrame.Len(); i++ {
		code, err := quotesFrame.String(i, "sector_code")
		if err != nil || code == "" {
			continue
		}
		leader := ""
		if quotesFrame.HasColumn("leader_code") && !quotesFrame.IsNil(i, "leader_code") {
			leader, _ = quotesFrame.String(i, "leader_code")
		}
		quotes = append(quotes, domain.SectorQuote{
			SectorCode:   code,
			TradeDate:    day,
			Close:        optOrZero(quotesFrame, i, "close"),
			ChangePct:    optOrZero(quotesFrame, i, "change_pct"),
			TurnoverRate: optOrZero(quotesFrame, i, "turnover_rate"),
			LeaderCode:   leader,
			NetInflow:    optOrZero(quotesFrame, i, "net_inflow"),
		})
	}
	written, err = d.Sectors.UpsertQuotes(ctx, quotes)
	res.RowsWritten += written
	return err
}
