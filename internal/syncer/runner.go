// Package syncer holds the dataset synchronizers. Each syncer pulls one
// dataset through the adapter, transforms it, and writes it idempotently.
// Per-symbol syncers share a shard runner that batches the target list,
// keeps the failure ledger current, and honors cancellation between
// targets, never inside a target's write.
package syncer

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/leeksaver/leeksaver/internal/config"
	"github.com/leeksaver/leeksaver/internal/datasource"
	"github.com/leeksaver/leeksaver/internal/errkind"
	"github.com/leeksaver/leeksaver/internal/repository"
	"github.com/leeksaver/leeksaver/internal/transform"
)

// Result summarizes one syncer run.
type Result struct {
	Targets     int // symbols (or windows) attempted
	Succeeded   int
	Failed      int
	Skipped     int // empty upstream responses
	RowsWritten int
}

// Syncer is one runnable dataset synchronizer.
type Syncer interface {
	Name() string
	Run(ctx context.Context) (Result, error)
}

// Scope narrows a manual trigger to specific symbols and, for windowed
// datasets, a start date.
type Scope struct {
	Codes []string
	Since time.Time
}

// Scopable is implemented by syncers that can run over an explicit scope
// instead of their default target list.
type Scopable interface {
	Syncer
	WithScope(Scope) Syncer
}

// Progress tracks completion of in-flight sharded runs so the status API
// can report how far along a run is. All methods tolerate a nil receiver.
type Progress struct {
	mu sync.Mutex
	m  map[string][2]int // task -> done, total
}

func NewProgress() *Progress { return &Progress{m: make(map[string][2]int)} }

// Set records how far a task's run has advanced.
func (p *Progress) Set(task string, done, total int) {
	if p == nil {
		return
	}
	p.mu.Lock()
	p.m[task] = [2]int{done, total}
	p.mu.Unlock()
}

func (p *Progress) clear(task string) {
	if p == nil {
		return
	}
	p.mu.Lock()
	delete(p.m, task)
	p.mu.Unlock()
}

// Get reports done and total targets for a task, false when no sharded run
// is in flight.
func (p *Progress) Get(task string) (done, total int, ok bool) {
	if p == nil {
		return 0, 0, false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	v, ok := p.m[task]
	return v[0], v[1], ok
}

// Deps bundles what the syncers need. Individual syncers use a subset.
type Deps struct {
	Cfg        *config.Config
	Source     *datasource.Client
	Symbols    *repository.SymbolRepository
	Market     *repository.MarketDataRepository
	Financials *repository.FinancialRepository
	Indicators *repository.IndicatorRepository
	Flows      *repository.FlowRepository
	Sentiment  *repository.SentimentRepository
	News       *repository.NewsRepository
	Sectors    *repository.SectorRepository
	Watchlist  *repository.WatchlistRepository
	Errors     *repository.SyncErrorRepository
	Progress   *Progress
	Log        zerolog.Logger
}

func (d *Deps) logger(task string) zerolog.Logger {
	return d.Log.With().Str("component", "syncer").Str("task", task).Logger()
}

// runSharded processes targets in batches of cfg.SyncBatchSize, invoking fn
// once per target. Failures are recorded in the ledger and do not stop the
// run; successes resolve any open ledger row for the pair. An Empty error
// counts as a skip, not a failure. Cleaning counters are aggregated per
// batch: a batch that rejects a majority of its rows means the upstream
// schema moved, so the run aborts as drift instead of burning the rest of
// the budget. Cancellation is checked between targets so an in-flight
// write always completes.
func runSharded(ctx context.Context, d *Deps, task string, targets []string,
	fn func(ctx context.Context, code string) (int, *transform.Counters, error)) (Result, error) {

	log := d.logger(task)
	var res Result
	res.Targets = len(targets)

	d.Progress.Set(task, 0, res.Targets)
	defer d.Progress.clear(task)

	batch := d.Cfg.SyncBatchSize
	if batch <= 0 {
		batch = 50
	}

	for start := 0; start < len(targets); start += batch {
		end := start + batch
		if end > len(targets) {
			end = len(targets)
		}

		shard := transform.NewCounters()
		for _, code := range targets[start:end] {
			if err := ctx.Err(); err != nil {
				log.Warn().Int("done", res.Succeeded+res.Failed+res.Skipped).
					Msg("run cancelled between targets")
				return res, errkind.Wrap(err, errkind.KindOf(err), task+" interrupted")
			}

			rows, counters, err := fn(ctx, code)
			shard.Merge(counters)
			switch {
			case err == nil:
				res.Succeeded++
				res.RowsWritten += rows
				if rerr := d.Errors.Resolve(ctx, task, code); rerr != nil {
					log.Error().Err(rerr).Str("code", code).Msg("failed to resolve ledger row")
				}
			case errkind.KindOf(err) == errkind.Empty:
				res.Skipped++
				if rerr := d.Errors.Resolve(ctx, task, code); rerr != nil {
					log.Error().Err(rerr).Str("code", code).Msg("failed to resolve ledger row")
				}
			default:
				res.Failed++
				kind := errkind.KindOf(err)
				log.Warn().Str("code", code).Str("kind", string(kind)).Err(err).Msg("target failed")
				if rerr := d.Errors.Record(ctx, task, code, string(kind), err.Error()); rerr != nil {
					log.Error().Err(rerr).Str("code", code).Msg("failed to record ledger row")
				}
			}
			d.Progress.Set(task, res.Succeeded+res.Failed+res.Skipped, res.Targets)
		}

		if derr := shard.Check(); derr != nil {
			log.Error().Err(derr).Int("accepted", shard.Accepted).
				Int("rejected", shard.RejectedTotal()).Msg("batch rejected a majority of rows, aborting run")
			if rerr := d.Errors.Record(ctx, task, "", string(errkind.SchemaDrift), derr.Error()); rerr != nil {
				log.Error().Err(rerr).Msg("failed to record ledger row")
			}
			return res, derr
		}

		log.Debug().Int("batch_end", end).Int("rows", res.RowsWritten).Msg("batch done")
	}

	log.Info().Int("targets", res.Targets).Int("ok", res.Succeeded).
		Int("failed", res.Failed).Int("skipped", res.Skipped).
		Int("rows", res.RowsWritten).Msg("run complete")
	return res, nil
}

// activeStockCodes lists the codes the full-market syncers iterate.
func activeStockCodes(ctx context.Context, d *Deps) ([]string, error) {
	syms, err := d.Symbols.ListActive(ctx, "stock")
	if err != nil {
		return nil, err
	}
	codes := make([]string, 0, len(syms))
	for _, s := range syms {
		codes = append(codes, s.Code)
	}
	return codes, nil
}

// tradingDay returns the most recent weekday on or before now. Holiday
// closures surface as Empty upstream responses and are skipped.
func tradingDay(now time.Time) time.Time {
	day := now
	for day.Weekday() == time.Saturday || day.Weekday() == time.Sunday {
		day = day.AddDate(0, 0, -1)
	}
	return time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location())
}
