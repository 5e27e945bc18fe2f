// Package cache serves on-demand realtime quotes. Reads hit an in-memory
// TTL cache; misses collapse into one upstream call per symbol set via
// singleflight. When the upstream fails, entries inside the stale grace
// window are served rather than erroring, trading freshness for
// availability during upstream hiccups.
package cache

import (
	"context"
	"sort"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/leeksaver/leeksaver/internal/errkind"
)

// Quote is one live snapshot row.
type Quote struct {
	Code      string    `json:"code"`
	Name      string    `json:"name"`
	Price     float64   `json:"price"`
	ChangePct float64   `json:"change_pct"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Volume    int64     `json:"volume"`
	Amount    float64   `json:"amount"`
	FetchedAt time.Time `json:"fetched_at"`
	Stale     bool      `json:"stale,omitempty"`
}

// Fetcher pulls live quotes for a symbol set in one upstream call.
type Fetcher func(ctx context.Context, codes []string) (map[string]Quote, error)

const cacheSize = 4096

// RealtimeCache is safe for concurrent use.
type RealtimeCache struct {
	entries *lru.LRU[string, Quote]
	group   singleflight.Group
	fetch   Fetcher
	ttl     time.Duration
	grace   time.Duration
	log     zerolog.Logger

	// now is swapped in tests.
	now func() time.Time
}

// New creates a cache. Entries are fresh for ttl and servable-when-stale
// for a further grace period.
func New(fetch Fetcher, ttl, grace time.Duration, log zerolog.Logger) *RealtimeCache {
	return &RealtimeCache{
		entries: lru.NewLRU[string, Quote](cacheSize, nil, ttl+grace),
		fetch:   fetch,
		ttl:     ttl,
		grace:   grace,
		log:     log.With().Str("component", "realtime_cache").Logger(),
		now:     time.Now,
	}
}

// Get returns quotes for the requested codes. Fresh entries come from the
// cache; the rest are fetched in one collapsed upstream call. Codes the
// upstream does not know are absent from the result.
func (c *RealtimeCache) Get(ctx context.Context, codes []string) (map[string]Quote, error) {
	if len(codes) == 0 {
		return map[string]Quote{}, nil
	}

	out := make(map[string]Quote, len(codes))
	var misses []string
	for _, code := range codes {
		if q, ok := c.entries.Get(code); ok && c.now().Sub(q.FetchedAt) <= c.ttl {
			out[code] = q
			continue
		}
		misses = append(misses, code)
	}
	if len(misses) == 0 {
		return out, nil
	}

	fetched, err := c.fetchMisses(ctx, misses)
	if err != nil {
		// Upstream down: fall back to stale entries inside the grace window.
		served := 0
		for _, code := range misses {
			if q, ok := c.entries.Get(code); ok && c.now().Sub(q.FetchedAt) <= c.ttl+c.grace {
				q.Stale = true
				out[code] = q
				served++
			}
		}
		if served == len(misses) {
			c.log.Warn().Err(err).Int("stale", served).Msg("serving stale quotes")
			return out, nil
		}
		return nil, err
	}

	for code, q := range fetched {
		out[code] = q
	}
	return out, nil
}

// fetchMisses collapses concurrent fetches of the same symbol set.
func (c *RealtimeCache) fetchMisses(ctx context.Context, codes []string) (map[string]Quote, error) {
	sorted := append([]string(nil), codes...)
	sort.Strings(sorted)
	key := strings.Join(sorted, ",")

	v, err, shared := c.group.Do(key, func() (any, error) {
		quotes, err := c.fetch(ctx, codes)
		if err != nil {
			return nil, err
		}
		now := c.now()
		for code, q := range quotes {
			q.FetchedAt = now
			quotes[code] = q
			c.entries.Add(code, q)
		}
		return quotes, nil
	})
	if err != nil {
		return nil, err
	}
	if shared {
		c.log.Debug().Str("key", key).Msg("fetch collapsed into in-flight call")
	}

	quotes, ok := v.(map[string]Quote)
	if !ok {
		return nil, errkind.New(errkind.Unknown, "unexpected singleflight payload")
	}
	return quotes, nil
}

// Invalidate drops one symbol's entry.
func (c *RealtimeCache) Invalidate(code string) {
	c.entries.Remove(code)
}

// Len returns the number of cached entries.
func (c *RealtimeCache) Len() int { return c.entries.Len() }
