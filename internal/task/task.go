// Package task defines the catalog of sync tasks and derives their
// execution schedule from configuration. Schedule generation is pure: the
// same configuration always yields the same schedule, so a restart never
// reshuffles task timing.
package task

import (
	"fmt"
	"sort"
	"time"

	"github.com/leeksaver/leeksaver/internal/config"
	"github.com/leeksaver/leeksaver/internal/errkind"
)

// Tier classifies when a task runs.
type Tier string

const (
	// TierDaily runs once per day after the market close.
	TierDaily Tier = "L1"
	// TierIntraday runs on a fixed interval during the day.
	TierIntraday Tier = "L2"
	// TierOnDemand runs only when explicitly triggered.
	TierOnDemand Tier = "L3"
	// TierSpecial runs on its own cron expression.
	TierSpecial Tier = "SPECIAL"
)

// Definition is one catalog entry.
type Definition struct {
	Name        string
	Tier        Tier
	Description string

	// OffsetMultiplier staggers intraday tasks: each task starts
	// multiplier x SYNC_L2_TASK_OFFSET_SECONDS after the scheduler boots,
	// spreading upstream load across the interval.
	OffsetMultiplier int
}

// Catalog returns the built-in task definitions in stable order.
func Catalog() []Definition {
	return []Definition{
		{Name: "symbol_list", Tier: TierDaily, Description: "refresh the security roster"},
		{Name: "daily_quotes", Tier: TierDaily, Description: "incremental daily bars, all stocks"},
		{Name: "etf_quotes", Tier: TierDaily, Description: "incremental daily bars, all ETFs"},
		{Name: "valuations", Tier: TierDaily, Description: "daily valuation snapshots"},
		{Name: "tech_indicators", Tier: TierDaily, Description: "derive technical indicators"},
		{Name: "fund_flow", Tier: TierDaily, Description: "capital flow for watchlist symbols"},
		{Name: "margin_trade", Tier: TierDaily, Description: "margin trading balances"},
		{Name: "dragon_tiger", Tier: TierDaily, Description: "exchange disclosure list"},
		{Name: "northbound_flow", Tier: TierDaily, Description: "stock connect aggregates"},
		{Name: "market_sentiment", Tier: TierDaily, Description: "market breadth and limit-up pool"},
		{Name: "sector_quotes", Tier: TierIntraday, OffsetMultiplier: 3, Description: "industry and concept board quotes"},
		{Name: "global_news", Tier: TierIntraday, OffsetMultiplier: 0, Description: "market-wide news feed"},
		{Name: "stock_news", Tier: TierIntraday, OffsetMultiplier: 1, Description: "per-symbol news, watchlist rotation"},
		{Name: "minute_quotes", Tier: TierIntraday, OffsetMultiplier: 2, Description: "1-minute bars for the watchlist"},
		{Name: "news_embeddings", Tier: TierIntraday, OffsetMultiplier: 4, Description: "vectorize news backlog"},
		{Name: "financials", Tier: TierSpecial, Description: "quarterly and annual reports"},
		{Name: "news_cleanup", Tier: TierSpecial, Description: "news retention enforcement"},
		{Name: "data_doctor", Tier: TierSpecial, Description: "store audit and backfill planning"},
	}
}

// Registry resolves task names to definitions.
type Registry struct {
	defs   []Definition
	byName map[string]Definition
}

// NewRegistry builds a registry over the built-in catalog.
func NewRegistry() *Registry {
	defs := Catalog()
	byName := make(map[string]Definition, len(defs))
	for _, d := range defs {
		byName[d.Name] = d
	}
	return &Registry{defs: defs, byName: byName}
}

// Get returns the definition for a name.
func (r *Registry) Get(name string) (Definition, bool) {
	d, ok := r.byName[name]
	return d, ok
}

// All returns the definitions in catalog order.
func (r *Registry) All() []Definition {
	return append([]Definition(nil), r.defs...)
}

// Names returns all task names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.defs))
	for _, d := range r.defs {
		names = append(names, d.Name)
	}
	sort.Strings(names)
	return names
}

// Schedule is the derived timing for one task. Exactly one of CronSpec or
// Interval is set.
type Schedule struct {
	TaskName string

	// CronSpec is a 6-field (seconds-resolution) cron expression.
	CronSpec string

	// Interval and InitialDelay drive ticker-based tasks.
	Interval     time.Duration
	InitialDelay time.Duration
}

// dailyStaggerStep spaces consecutive daily tasks so they do not hit the
// upstream at the same instant.
const dailyStaggerStep = 30 * time.Second

// BuildSchedules derives the schedule set from configuration. Daily tasks
// fire at the configured close-of-day time, each staggered 30s after the
// previous; intraday tasks share one interval with per-task initial
// offsets; special tasks carry their own weekly expressions. On-demand
// tasks get no schedule.
func BuildSchedules(cfg *config.Config, defs []Definition) ([]Schedule, error) {
	hour, minute, err := config.ParseDailyTime(cfg.L1DailyTime)
	if err != nil {
		return nil, err
	}

	var out []Schedule
	dailyIdx := 0
	for _, d := range defs {
		switch d.Tier {
		case TierDaily:
			at := time.Duration(hour)*time.Hour + time.Duration(minute)*time.Minute +
				time.Duration(dailyIdx)*dailyStaggerStep
			out = append(out, Schedule{TaskName: d.Name, CronSpec: cronAt(at)})
			dailyIdx++

		case TierIntraday:
			out = append(out, Schedule{
				TaskName:     d.Name,
				Interval:     time.Duration(cfg.L2IntervalSeconds) * time.Second,
				InitialDelay: time.Duration(d.OffsetMultiplier*cfg.L2TaskOffsetSecs) * time.Second,
			})

		case TierSpecial:
			spec, err := specialSpec(cfg, d.Name)
			if err != nil {
				return nil, err
			}
			out = append(out, Schedule{TaskName: d.Name, CronSpec: spec})

		case TierOnDemand:
			// Triggered explicitly; nothing to schedule.
		}
	}
	return out, nil
}

// cronAt renders an offset-from-midnight as a seconds-resolution daily cron.
func cronAt(at time.Duration) string {
	at = at % (24 * time.Hour)
	h := int(at / time.Hour)
	m := int(at/time.Minute) % 60
	s := int(at/time.Second) % 60
	return fmt.Sprintf("%d %d %d * * *", s, m, h)
}

func specialSpec(cfg *config.Config, name string) (string, error) {
	switch name {
	case "financials":
		return fmt.Sprintf("0 %d %d * * %d",
			cfg.FinancialMinute, cfg.FinancialHour, cfg.FinancialDayOfWeek), nil
	case "news_cleanup":
		return fmt.Sprintf("0 %d %d * * %d",
			cfg.CleanupMinute, cfg.CleanupHour, cfg.CleanupDayOfWeek), nil
	case "data_doctor":
		// Next morning, after the evening daily tier has landed.
		return "0 0 9 * * *", nil
	default:
		return "", errkind.Newf(errkind.ConfigError, "no special schedule for task %q", name)
	}
}
