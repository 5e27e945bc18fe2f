package syncer

import (
	"context"
	"time"

	"github.com/leeksaver/leeksaver/internal/datasource"
	"github.com/leeksaver/leeksaver/internal/domain"
	"github.com/leeksaver/leeksaver/internal/errkind"
)

// SymbolListSyncer refreshes the security roster from the primary list,
// enriches it from the secondary detail source, and soft-deactivates
// symbols that disappeared.
type SymbolListSyncer struct {
	deps *Deps
}

func NewSymbolListSyncer(d *Deps) *SymbolListSyncer { return &SymbolListSyncer{deps: d} }

func (s *SymbolListSyncer) Name() string { return "symbol_list" }

func (s *SymbolListSyncer) Run(ctx context.Context) (Result, error) {
	d := s.deps
	log := d.logger(s.Name())
	var res Result

	primary, err := d.Source.SymbolList(ctx)
	if err != nil {
		return res, err
	}

	// The detail source is enrichment: its failure degrades the sync to
	// primary-only rather than failing it.
	detail, err := d.Source.SymbolDetail(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("detail roster unavailable, syncing primary only")
		detail = nil
	}

	stocks, err := datasource.MergeSymbolDetail(primary, detail, d.Cfg.SymbolSecondaryWins)
	if err != nil {
		return res, err
	}

	written, err := d.Symbols.Upsert(ctx, stocks)
	res.RowsWritten += written
	if err != nil {
		return res, err
	}

	codes := make([]string, 0, len(stocks))
	for _, sym := range stocks {
		codes = append(codes, sym.Code)
	}
	deactivated, err := d.Symbols.DeactivateMissing(ctx, domain.AssetStock, codes)
	if err != nil {
		return res, err
	}
	if deactivated > 0 {
		log.Info().Int64("count", deactivated).Msg("deactivated delisted stocks")
	}

	if err := s.syncETFs(ctx, &res); err != nil {
		// ETFs are a smaller roster; keep the stock result, but ledger the
		// failure so it is visible and retried rather than silently lost.
		kind := errkind.KindOf(err)
		log.Warn().Err(err).Str("kind", string(kind)).Msg("etf roster sync failed")
		if rerr := d.Errors.Record(ctx, s.Name(), "etf_roster", string(kind), err.Error()); rerr != nil {
			log.Error().Err(rerr).Msg("failed to record ledger row")
		}
	} else if rerr := d.Errors.Resolve(ctx, s.Name(), "etf_roster"); rerr != nil {
		log.Error().Err(rerr).Msg("failed to resolve ledger row")
	}

	res.Targets = 1
	res.Succeeded = 1
	return res, nil
}

func (s *SymbolListSyncer) syncETFs(ctx context.Context, res *Result) error {
	d := s.deps

	f, err := d.Source.ETFList(ctx)
	if err != nil {
		if errkind.KindOf(err) == errkind.Empty {
			return nil
		}
		return err
	}
	if err := f.Require("code", "name"); err != nil {
		return err
	}

	now := time.Now()
	etfs := make([]domain.Symbol, 0, f.Len())
	codes := make([]string, 0, f.Len())
	for i := 0; i < f.Len(); i++ {
		code, err := f.String(i, "code")
		if err != nil || code == "" {
			continue
		}
		name, _ := f.String(i, "name")
		etfs = append(etfs, domain.Symbol{
			Code:      code,
			Name:      name,
			Market:    etfMarket(code),
			AssetType: domain.AssetETF,
			IsActive:  true,
			UpdatedAt: now,
		})
		codes = append(codes, code)
	}

	written, err := d.Symbols.Upsert(ctx, etfs)
	res.RowsWritten += written
	if err != nil {
		return err
	}
	_, err = d.Symbols.DeactivateMissing(ctx, domain.AssetETF, codes)
	return err
}

// etfMarket derives the listing market from an ETF code prefix. Fund codes
// follow their own ranges: 5xxxxx lists in Shanghai, 1xxxxx in Shenzhen.
func etfMarket(code string) domain.Market {
	if code != "" && code[0] == '5' {
		return domain.MarketShanghai
	}
	return domain.MarketShenzhen
}
