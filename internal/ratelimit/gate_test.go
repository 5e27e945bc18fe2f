package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leeksaver/leeksaver/internal/errkind"
)

func newTestGate() *Gate {
	g := New(1000, 1000, zerolog.Nop())
	g.sleep = func(ctx context.Context, d time.Duration) error { return nil }
	return g
}

func TestDo_SucceedsFirstTry(t *testing.T) {
	g := newTestGate()

	calls := 0
	err := g.Do(context.Background(), "symbol_list", func(ctx context.Context) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestDo_RetriesTransientThenSucceeds(t *testing.T) {
	g := newTestGate()

	calls := 0
	err := g.Do(context.Background(), "daily_quotes", func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errkind.New(errkind.RateLimited, "429")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDo_ExhaustsRetryBudget(t *testing.T) {
	g := newTestGate()

	calls := 0
	err := g.Do(context.Background(), "news", func(ctx context.Context) error {
		calls++
		return errkind.New(errkind.UpstreamUnavailable, "503")
	})
	require.Error(t, err)
	assert.Equal(t, MaxAttempts, calls)
	assert.Equal(t, errkind.UpstreamUnavailable, errkind.KindOf(err))
}

func TestDo_NonRetryableSurfacesImmediately(t *testing.T) {
	g := newTestGate()

	calls := 0
	err := g.Do(context.Background(), "financials", func(ctx context.Context) error {
		calls++
		return errkind.New(errkind.SchemaDrift, "column gone")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, errkind.SchemaDrift, errkind.KindOf(err))
}

func TestDo_CancelledContextStops(t *testing.T) {
	g := newTestGate()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := g.Do(ctx, "sentiment", func(ctx context.Context) error { return nil })
	require.Error(t, err)
	assert.Equal(t, errkind.Cancelled, errkind.KindOf(err))
}

func TestBackoff_GrowsAndCaps(t *testing.T) {
	g := newTestGate()

	prev := time.Duration(0)
	for i := 0; i < 10; i++ {
		d := g.backoff(i)
		assert.LessOrEqual(t, d, 30*time.Second)
		if i < 4 {
			assert.GreaterOrEqual(t, d, prev/2, "backoff should not collapse")
		}
		prev = d
	}
	assert.Equal(t, 30*time.Second, g.backoff(20))
}
