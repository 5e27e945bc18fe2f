package syncer

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/leeksaver/leeksaver/internal/domain"
	"github.com/leeksaver/leeksaver/internal/frame"
	"github.com/leeksaver/leeksaver/internal/transform"
)

const (
	// firstNewsWindow is how far back the first-ever news pull reaches.
	firstNewsWindow = 24 * time.Hour

	// newsOverlap re-reads a slice of the previous window so articles that
	// land during a pull are never missed. Duplicates are absorbed by the
	// store's unique indexes.
	newsOverlap = 5 * time.Minute
)

// NewsSyncer pulls the market-wide feed on a sliding time window.
type NewsSyncer struct {
	deps *Deps

	// lastPull is the end of the previous successful window, unix nanos.
	lastPull atomic.Int64
}

func NewNewsSyncer(d *Deps) *NewsSyncer { return &NewsSyncer{deps: d} }

func (s *NewsSyncer) Name() string { return "global_news" }

func (s *NewsSyncer) Run(ctx context.Context) (Result, error) {
	d := s.deps
	var res Result

	since := time.Now().Add(-firstNewsWindow)
	if prev := s.lastPull.Load(); prev > 0 {
		since = time.Unix(0, prev).Add(-newsOverlap)
	}

	f, err := d.Source.GlobalNews(ctx)
	if err != nil {
		return res, err
	}
	articles, err := decodeNews(f, since, nil)
	if err != nil {
		return res, err
	}

	inserted, err := d.News.Insert(ctx, articles)
	res.RowsWritten = inserted
	if err != nil {
		return res, err
	}

	s.lastPull.Store(time.Now().UnixNano())
	res.Targets, res.Succeeded = 1, 1
	return res, nil
}

// StockNewsSyncer pulls per-symbol news for the watchlist, rotating through
// it one batch per run so a large list spreads over several intervals.
type StockNewsSyncer struct {
	deps   *Deps
	cursor atomic.Int64
}

func NewStockNewsSyncer(d *Deps) *StockNewsSyncer { return &StockNewsSyncer{deps: d} }

func (s *StockNewsSyncer) Name() string { return "stock_news" }

func (s *StockNewsSyncer) Run(ctx context.Context) (Result, error) {
	d := s.deps

	codes, err := d.Watchlist.Codes(ctx)
	if err != nil {
		return Result{}, err
	}
	if len(codes) == 0 {
		return Result{}, nil
	}

	// Rotate: each run handles the next batch of the watchlist.
	batch := d.Cfg.SyncBatchSize
	if batch <= 0 || batch > len(codes) {
		batch = len(codes)
	}
	start := int(s.cursor.Load()) % len(codes)
	targets := make([]string, 0, batch)
	for i := 0; i < batch; i++ {
		targets = append(targets, codes[(start+i)%len(codes)])
	}
	s.cursor.Store(int64((start + batch) % len(codes)))

	since := time.Now().Add(-firstNewsWindow)
	return runSharded(ctx, d, s.Name(), targets, func(ctx context.Context, code string) (int, *transform.Counters, error) {
		f, err := d.Source.StockNews(ctx, code)
		if err != nil {
			return 0, nil, err
		}
		articles, err := decodeNews(f, since, []string{code})
		if err != nil {
			return 0, nil, err
		}
		rows, err := d.News.Insert(ctx, articles)
		return rows, nil, err
	})
}

// decodeNews maps a news frame to articles published after since. A frame
// may carry a source_id column; otherwise dedup rides on (source, url).
func decodeNews(f *frame.Frame, since time.Time, related []string) ([]domain.NewsArticle, error) {
	if err := f.Require("title", "publish_time"); err != nil {
		return nil, err
	}

	layouts := []string{"2006-01-02 15:04:05", time.RFC3339, "2006-01-02"}
	out := make([]domain.NewsArticle, 0, f.Len())
	for i := 0; i < f.Len(); i++ {
		pub, err := f.Time(i, "publish_time", layouts...)
		if err != nil || pub.Before(since) {
			continue
		}

		var a domain.NewsArticle
		a.Title, _ = f.String(i, "title")
		if a.Title == "" {
			continue
		}
		a.PublishTime = pub
		a.RelatedSymbols = related
		if f.HasColumn("source_id") {
			a.SourceID, _ = f.String(i, "source_id")
		}
		if f.HasColumn("body") {
			a.Body, _ = f.String(i, "body")
		}
		if f.HasColumn("url") {
			a.URL, _ = f.String(i, "url")
		}
		if f.HasColumn("source") {
			a.Source, _ = f.String(i, "source")
		}
		if a.Source == "" {
			a.Source = "upstream"
		}
		out = append(out, a)
	}
	return out, nil
}

// NewsCleanupSyncer enforces news retention. Articles tied to watchlist
// symbols are kept regardless of age when protection is enabled.
type NewsCleanupSyncer struct {
	deps *Deps
}

func NewNewsCleanupSyncer(d *Deps) *NewsCleanupSyncer { return &NewsCleanupSyncer{deps: d} }

func (s *NewsCleanupSyncer) Name() string { return "news_cleanup" }

func (s *NewsCleanupSyncer) Run(ctx context.Context) (Result, error) {
	d := s.deps
	var res Result

	cutoff := time.Now().AddDate(0, 0, -d.Cfg.NewsRetentionDays)
	deleted, err := d.News.DeleteOlderThan(ctx, cutoff, d.Cfg.NewsCleanupProtectWatchlist)
	if err != nil {
		return res, err
	}

	log := d.logger(s.Name())
	log.Info().Int64("deleted", deleted).
		Time("cutoff", cutoff).Bool("watchlist_protected", d.Cfg.NewsCleanupProtectWatchlist).
		Msg("retention applied")
	res.Targets, res.Succeeded = 1, 1
	res.RowsWritten = int(deleted)
	return res, nil
}
