package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leeksaver/leeksaver/internal/errkind"
)

func fixedQuotes(codes []string) map[string]Quote {
	out := make(map[string]Quote, len(codes))
	for _, c := range codes {
		out[c] = Quote{Code: c, Price: 100}
	}
	return out
}

func TestGet_CachesWithinTTL(t *testing.T) {
	var calls atomic.Int32
	c := New(func(ctx context.Context, codes []string) (map[string]Quote, error) {
		calls.Add(1)
		return fixedQuotes(codes), nil
	}, 10*time.Second, 60*time.Second, zerolog.Nop())

	ctx := context.Background()
	_, err := c.Get(ctx, []string{"600519"})
	require.NoError(t, err)
	_, err = c.Get(ctx, []string{"600519"})
	require.NoError(t, err)
	assert.Equal(t, int32(1), calls.Load(), "second read is a cache hit")
}

func TestGet_RefetchesAfterTTL(t *testing.T) {
	var calls atomic.Int32
	c := New(func(ctx context.Context, codes []string) (map[string]Quote, error) {
		calls.Add(1)
		return fixedQuotes(codes), nil
	}, 10*time.Second, 60*time.Second, zerolog.Nop())

	base := time.Now()
	c.now = func() time.Time { return base }

	_, err := c.Get(context.Background(), []string{"600519"})
	require.NoError(t, err)

	c.now = func() time.Time { return base.Add(11 * time.Second) }
	_, err = c.Get(context.Background(), []string{"600519"})
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestGet_ServesStaleOnUpstreamFailure(t *testing.T) {
	healthy := atomic.Bool{}
	healthy.Store(true)
	c := New(func(ctx context.Context, codes []string) (map[string]Quote, error) {
		if !healthy.Load() {
			return nil, errkind.New(errkind.UpstreamUnavailable, "down")
		}
		return fixedQuotes(codes), nil
	}, 10*time.Second, 60*time.Second, zerolog.Nop())

	base := time.Now()
	c.now = func() time.Time { return base }
	_, err := c.Get(context.Background(), []string{"600519"})
	require.NoError(t, err)

	// TTL expired, upstream down, but inside the grace window.
	healthy.Store(false)
	c.now = func() time.Time { return base.Add(30 * time.Second) }
	got, err := c.Get(context.Background(), []string{"600519"})
	require.NoError(t, err)
	require.Contains(t, got, "600519")
	assert.True(t, got["600519"].Stale)

	// Outside the grace window the failure surfaces.
	c.now = func() time.Time { return base.Add(2 * time.Minute) }
	_, err = c.Get(context.Background(), []string{"600519"})
	require.Error(t, err)
	assert.Equal(t, errkind.UpstreamUnavailable, errkind.KindOf(err))
}

func TestGet_CollapsesConcurrentFetches(t *testing.T) {
	var calls atomic.Int32
	gate := make(chan struct{})
	c := New(func(ctx context.Context, codes []string) (map[string]Quote, error) {
		calls.Add(1)
		<-gate
		return fixedQuotes(codes), nil
	}, 10*time.Second, 60*time.Second, zerolog.Nop())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.Get(context.Background(), []string{"600519", "000001"})
			assert.NoError(t, err)
		}()
	}
	time.Sleep(20 * time.Millisecond) // let goroutines pile onto the flight
	close(gate)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load(), "identical symbol sets share one upstream call")
}
