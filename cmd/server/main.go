// Package main is the entry point for the LeekSaver market-data sync
// service. It wires the upstream gateway client, the SQLite analytical
// store, the tiered task scheduler, the data doctor, and the HTTP API,
// then runs until signalled.
package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/leeksaver/leeksaver/internal/cache"
	"github.com/leeksaver/leeksaver/internal/config"
	"github.com/leeksaver/leeksaver/internal/database"
	"github.com/leeksaver/leeksaver/internal/datasource"
	"github.com/leeksaver/leeksaver/internal/doctor"
	"github.com/leeksaver/leeksaver/internal/embedding"
	"github.com/leeksaver/leeksaver/internal/jobs"
	"github.com/leeksaver/leeksaver/internal/ratelimit"
	"github.com/leeksaver/leeksaver/internal/repository"
	"github.com/leeksaver/leeksaver/internal/server"
	"github.com/leeksaver/leeksaver/internal/syncer"
	"github.com/leeksaver/leeksaver/internal/task"
	"github.com/leeksaver/leeksaver/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fallback := logger.New(logger.Config{Level: "info", Pretty: true})
		fallback.Fatal().Err(err).Msg("failed to load configuration")
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: true,
	})
	logger.SetGlobalLogger(log)

	log.Info().Msg("starting leeksaver")

	db, err := database.New(database.Config{
		Path: filepath.Join(cfg.DataDir, "leeksaver.db"),
		// Two connections per worker so concurrent jobs never starve the
		// pool while the API reads alongside them.
		MaxOpenConns: 2 * cfg.WorkerCount,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open database")
	}
	defer db.Close()

	if err := db.Migrate(); err != nil {
		log.Fatal().Err(err).Msg("failed to run migrations")
	}

	gate := ratelimit.New(cfg.UpstreamRateQPS, cfg.UpstreamBurst, log)
	source := datasource.New(cfg.UpstreamBaseURL, gate, log)

	progress := syncer.NewProgress()
	deps := &syncer.Deps{
		Cfg:        cfg,
		Source:     source,
		Symbols:    repository.NewSymbolRepository(db),
		Market:     repository.NewMarketDataRepository(db),
		Financials: repository.NewFinancialRepository(db),
		Indicators: repository.NewIndicatorRepository(db),
		Flows:      repository.NewFlowRepository(db),
		Sentiment:  repository.NewSentimentRepository(db),
		News:       repository.NewNewsRepository(db),
		Sectors:    repository.NewSectorRepository(db),
		Watchlist:  repository.NewWatchlistRepository(db),
		Errors:     repository.NewSyncErrorRepository(db),
		Progress:   progress,
		Log:        log,
	}
	statusRepo := repository.NewStatusRepository(db)
	auditRepo := repository.NewAuditRepository(db)

	embedClient := embedding.New(cfg.EmbeddingBaseURL, cfg.EmbeddingModel,
		cfg.EmbeddingDimension, cfg.EmbeddingBatchSize)
	if !embedClient.Enabled() {
		log.Info().Msg("embedding service not configured, news embeddings will be skipped")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runtime := jobs.NewRuntime(cfg.WorkerCount, statusRepo, deps.Errors, log)
	runtime.Start(ctx)

	scheduler := jobs.NewScheduler(runtime, log)
	for _, s := range buildSyncers(deps, embedClient) {
		scheduler.Register(s)
	}

	doc := doctor.New(deps, auditRepo, scheduler)
	scheduler.Register(doctor.NewRunner(doc))

	schedules, err := task.BuildSchedules(cfg, task.Catalog())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build schedules")
	}
	if err := scheduler.Bind(schedules); err != nil {
		log.Fatal().Err(err).Msg("failed to bind schedules")
	}
	scheduler.Start()

	realtime := cache.New(quoteFetcher(source), cfg.RealtimeCacheTTL, cfg.RealtimeStaleGrace, log)

	srv := server.New(server.Config{
		Log:       log,
		Port:      cfg.Port,
		DB:        db,
		Registry:  task.NewRegistry(),
		Trigger:   scheduler,
		Schedule:  scheduler,
		Progress:  progress,
		Doctor:    doc,
		Status:    statusRepo,
		Errors:    deps.Errors,
		Audits:    auditRepo,
		Watchlist: deps.Watchlist,
		Quotes:    realtime,
	})

	go func() {
		if err := srv.Start(); err != nil {
			log.Fatal().Err(err).Msg("http server failed")
		}
	}()

	log.Info().Int("port", cfg.Port).Int("workers", cfg.WorkerCount).
		Int("tasks", len(task.Catalog())).Msg("leeksaver running")

	waitForShutdown(log, srv, scheduler, runtime, cancel)
}

// buildSyncers constructs one runner per catalog task.
func buildSyncers(deps *syncer.Deps, embedClient *embedding.Client) []syncer.Syncer {
	return []syncer.Syncer{
		syncer.NewSymbolListSyncer(deps),
		syncer.NewDailyQuotesSyncer(deps),
		syncer.NewETFQuotesSyncer(deps),
		syncer.NewValuationsSyncer(deps),
		syncer.NewIndicatorSyncer(deps),
		syncer.NewFundFlowSyncer(deps),
		syncer.NewMarginSyncer(deps),
		syncer.NewDragonTigerSyncer(deps),
		syncer.NewNorthboundSyncer(deps),
		syncer.NewSentimentSyncer(deps),
		syncer.NewSectorSyncer(deps),
		syncer.NewNewsSyncer(deps),
		syncer.NewStockNewsSyncer(deps),
		syncer.NewMinuteQuotesSyncer(deps),
		syncer.NewEmbeddingSyncer(deps, embedClient),
		syncer.NewFinancialsSyncer(deps),
		syncer.NewNewsCleanupSyncer(deps),
	}
}

// quoteFetcher adapts the gateway's realtime endpoint to the cache's
// fetcher contract.
func quoteFetcher(source *datasource.Client) cache.Fetcher {
	return func(ctx context.Context, codes []string) (map[string]cache.Quote, error) {
		f, err := source.RealtimeQuotes(ctx, codes)
		if err != nil {
			return nil, err
		}

		out := make(map[string]cache.Quote, f.Len())
		for i := 0; i < f.Len(); i++ {
			code, err := f.String(i, "code")
			if err != nil || code == "" {
				continue
			}
			q := cache.Quote{Code: code}
			q.Name, _ = f.String(i, "name")
			q.Price, _ = f.Float64(i, "price")
			q.ChangePct, _ = f.Float64(i, "change_pct")
			q.Open, _ = f.Float64(i, "open")
			q.High, _ = f.Float64(i, "high")
			q.Low, _ = f.Float64(i, "low")
			q.Volume, _ = f.Int64(i, "volume")
			q.Amount, _ = f.Float64(i, "amount")
			out[code] = q
		}
		return out, nil
	}
}

func waitForShutdown(log zerolog.Logger, srv *server.Server, scheduler *jobs.Scheduler, runtime *jobs.Runtime, cancel context.CancelFunc) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan

	log.Info().Str("signal", sig.String()).Msg("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown error")
	}
	scheduler.Stop()
	cancel()
	runtime.Stop()

	log.Info().Msg("shutdown complete")
}
