package syncer

import (
	"context"
	"time"

	"github.com/leeksaver/leeksaver/internal/domain"
	"github.com/leeksaver/leeksaver/internal/transform"
)

const (
	// historyStart is how far back a symbol with no stored bars is filled.
	historyStart = -2 * 365 * 24 * time.Hour

	// safetyWindowDays re-fetches the trailing days of an incremental pull
	// so late upstream restatements (dividend adjustments, corrections)
	// overwrite stale rows.
	safetyWindowDays = 7

	// minuteRetentionDays bounds how long minute bars are kept.
	minuteRetentionDays = 30
)

// DailyQuotesSyncer incrementally pulls daily bars for every active symbol.
type DailyQuotesSyncer struct {
	deps *Deps

	// targets overrides the full-market scope; the doctor's backfill shards
	// and manual scoped triggers use this to retry specific symbols.
	targets []string

	// since overrides the incremental start date when set.
	since time.Time
}

func NewDailyQuotesSyncer(d *Deps) *DailyQuotesSyncer { return &DailyQuotesSyncer{deps: d} }

// NewDailyQuotesBackfill returns a syncer scoped to the given symbols.
func NewDailyQuotesBackfill(d *Deps, targets []string) *DailyQuotesSyncer {
	return &DailyQuotesSyncer{deps: d, targets: targets}
}

// WithScope returns a copy narrowed to the given codes and start date.
func (s *DailyQuotesSyncer) WithScope(sc Scope) Syncer {
	return &DailyQuotesSyncer{deps: s.deps, targets: sc.Codes, since: sc.Since}
}

func (s *DailyQuotesSyncer) Name() string { return "daily_quotes" }

func (s *DailyQuotesSyncer) Run(ctx context.Context) (Result, error) {
	d := s.deps

	targets := s.targets
	if targets == nil {
		var err error
		if targets, err = activeStockCodes(ctx, d); err != nil {
			return Result{}, err
		}
	}

	end := tradingDay(time.Now())
	return runSharded(ctx, d, s.Name(), targets, func(ctx context.Context, code string) (int, *transform.Counters, error) {
		return s.syncOne(ctx, code, end)
	})
}

func (s *DailyQuotesSyncer) syncOne(ctx context.Context, code string, end time.Time) (int, *transform.Counters, error) {
	d := s.deps

	latest, err := d.Market.LatestBarDate(ctx, code)
	if err != nil {
		return 0, nil, err
	}
	var start time.Time
	switch {
	case !s.since.IsZero():
		start = s.since
	case latest.IsZero():
		start = coldStartDate(ctx, d, code, end)
	default:
		start = latest.AddDate(0, 0, -safetyWindowDays)
	}

	f, err := d.Source.DailyQuotes(ctx, code, start, end)
	if err != nil {
		return 0, nil, err
	}

	bars, counters, err := transform.DailyBars(f, code)
	if err != nil {
		return 0, counters, err
	}
	rows, err := d.Market.UpsertDailyBars(ctx, bars)
	return rows, counters, err
}

// coldStartDate returns where a symbol's first-ever pull begins: the default
// history window, clamped to the listing date when one is known. A recent
// listing has no two years of history to ask for.
func coldStartDate(ctx context.Context, d *Deps, code string, end time.Time) time.Time {
	start := end.Add(historyStart)
	if sym, err := d.Symbols.Get(ctx, code); err == nil && sym.ListDate != nil && sym.ListDate.After(start) {
		start = *sym.ListDate
	}
	return start
}

// ETFQuotesSyncer pulls daily bars for active ETFs.
type ETFQuotesSyncer struct {
	deps *Deps
}

func NewETFQuotesSyncer(d *Deps) *ETFQuotesSyncer { return &ETFQuotesSyncer{deps: d} }

func (s *ETFQuotesSyncer) Name() string { return "etf_quotes" }

func (s *ETFQuotesSyncer) Run(ctx context.Context) (Result, error) {
	d := s.deps

	etfs, err := d.Symbols.ListActive(ctx, domain.AssetETF)
	if err != nil {
		return Result{}, err
	}
	targets := make([]string, 0, len(etfs))
	for _, e := range etfs {
		targets = append(targets, e.Code)
	}

	end := tradingDay(time.Now())
	return runSharded(ctx, d, s.Name(), targets, func(ctx context.Context, code string) (int, *transform.Counters, error) {
		latest, err := d.Market.LatestBarDate(ctx, code)
		if err != nil {
			return 0, nil, err
		}
		start := coldStartDate(ctx, d, code, end)
		if !latest.IsZero() {
			start = latest.AddDate(0, 0, -safetyWindowDays)
		}

		f, err := d.Source.ETFDailyQuotes(ctx, code, start, end)
		if err != nil {
			return 0, nil, err
		}
		bars, counters, err := transform.DailyBars(f, code)
		if err != nil {
			return 0, counters, err
		}
		rows, err := d.Market.UpsertDailyBars(ctx, bars)
		return rows, counters, err
	})
}

// MinuteQuotesSyncer pulls the current session's 1-minute bars for
// watchlist symbols only, and prunes bars past retention.
type MinuteQuotesSyncer struct {
	deps *Deps
}

func NewMinuteQuotesSyncer(d *Deps) *MinuteQuotesSyncer { return &MinuteQuotesSyncer{deps: d} }

func (s *MinuteQuotesSyncer) Name() string { return "minute_quotes" }

func (s *MinuteQuotesSyncer) Run(ctx context.Context) (Result, error) {
	d := s.deps

	targets, err := d.Watchlist.Codes(ctx)
	if err != nil {
		return Result{}, err
	}

	res, err := runSharded(ctx, d, s.Name(), targets, func(ctx context.Context, code string) (int, *transform.Counters, error) {
		f, err := d.Source.MinuteQuotes(ctx, code)
		if err != nil {
			return 0, nil, err
		}
		bars, counters, err := transform.MinuteBars(f, code)
		if err != nil {
			return 0, counters, err
		}
		rows, err := d.Market.UpsertMinuteBars(ctx, bars)
		return rows, counters, err
	})
	if err != nil {
		return res, err
	}

	log := d.logger(s.Name())
	cutoff := time.Now().AddDate(0, 0, -minuteRetentionDays)
	if pruned, perr := d.Market.PruneMinuteBars(ctx, cutoff); perr != nil {
		log.Error().Err(perr).Msg("minute bar pruning failed")
	} else if pruned > 0 {
		log.Debug().Int64("pruned", pruned).Msg("expired minute bars removed")
	}
	return res, nil
}
