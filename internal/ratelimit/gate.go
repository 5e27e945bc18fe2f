// Package ratelimit gates every upstream call behind a shared token bucket
// and a bounded retry loop. All adapter methods go through Gate.Do; nothing
// else in the process talks to the upstream directly.
package ratelimit

import (
	"context"
	"math/rand"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/leeksaver/leeksaver/internal/errkind"
)

const (
	// MaxAttempts is the total number of tries per call (1 initial + retries).
	MaxAttempts = 3

	// backoffBase is the first retry delay; attempt i waits base*2^i plus
	// jitter, capped at backoffCap.
	backoffBase = 1 * time.Second
	backoffCap  = 30 * time.Second

	// callDeadline bounds one upstream call including all its retries.
	callDeadline = 60 * time.Second
)

// Gate serializes upstream access through a token bucket.
type Gate struct {
	limiter *rate.Limiter
	log     zerolog.Logger

	// sleep is swapped in tests to avoid real waits.
	sleep func(ctx context.Context, d time.Duration) error
	rng   *rand.Rand
}

// New creates a gate admitting qps requests per second with the given burst.
func New(qps float64, burst int, log zerolog.Logger) *Gate {
	if qps <= 0 {
		qps = 5
	}
	if burst <= 0 {
		burst = 5
	}
	return &Gate{
		limiter: rate.NewLimiter(rate.Limit(qps), burst),
		log:     log.With().Str("component", "rate_gate").Logger(),
		sleep:   sleepCtx,
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Do runs fn under the token bucket with bounded retries. Only transient
// failures (rate limiting, upstream unavailability, timeouts) are retried;
// schema drift, validation failures, and cancellation surface immediately.
// The whole call, retries included, is bounded by a 60s deadline.
func (g *Gate) Do(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, callDeadline)
	defer cancel()

	var lastErr error
	for attempt := 0; attempt < MaxAttempts; attempt++ {
		if attempt > 0 {
			delay := g.backoff(attempt - 1)
			g.log.Debug().Str("call", name).Int("attempt", attempt).
				Dur("backoff", delay).Msg("retrying upstream call")
			if err := g.sleep(ctx, delay); err != nil {
				return errkind.Wrap(lastErr, errkind.KindOf(err), "retry budget cut short for "+name)
			}
		}

		if err := g.limiter.Wait(ctx); err != nil {
			if lastErr != nil {
				return errkind.Wrap(lastErr, errkind.KindOf(err), "rate wait aborted for "+name)
			}
			return errkind.Wrap(err, errkind.KindOf(err), "rate wait aborted for "+name)
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		kind := errkind.KindOf(err)
		if !errkind.Retryable(kind) {
			return err
		}
		g.log.Warn().Str("call", name).Int("attempt", attempt+1).
			Str("kind", string(kind)).Err(err).Msg("upstream call failed")
	}
	return lastErr
}

// backoff returns base*2^i with up to 25% positive jitter, capped.
func (g *Gate) backoff(i int) time.Duration {
	d := backoffBase << uint(i)
	if d > backoffCap {
		d = backoffCap
	}
	jitter := time.Duration(g.rng.Int63n(int64(d)/4 + 1))
	if d+jitter > backoffCap {
		return backoffCap
	}
	return d + jitter
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
