package jobs

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leeksaver/leeksaver/internal/database"
	"github.com/leeksaver/leeksaver/internal/repository"
	"github.com/leeksaver/leeksaver/internal/syncer"
	"github.com/leeksaver/leeksaver/internal/task"
)

func testStore(t *testing.T) (*repository.StatusRepository, *repository.SyncErrorRepository) {
	t.Helper()
	db, err := database.New(database.Config{Path: filepath.Join(t.TempDir(), "jobs.db")})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.Migrate())
	return repository.NewStatusRepository(db), repository.NewSyncErrorRepository(db)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition never became true")
}

func TestRuntime_RunsJobs(t *testing.T) {
	rt := NewRuntime(2, nil, nil, zerolog.Nop())
	rt.Start(context.Background())
	defer rt.Stop()

	var ran atomic.Int32
	ok := rt.Submit(&Job{Name: "daily_quotes", Run: func(ctx context.Context) (syncer.Result, error) {
		ran.Add(1)
		return syncer.Result{RowsWritten: 7}, nil
	}})
	require.True(t, ok)

	waitFor(t, func() bool { return ran.Load() == 1 })
}

func TestRuntime_DedupSkipsConcurrentDuplicate(t *testing.T) {
	rt := NewRuntime(2, nil, nil, zerolog.Nop())
	rt.Start(context.Background())
	defer rt.Stop()

	release := make(chan struct{})
	var ran atomic.Int32
	run := func(ctx context.Context) (syncer.Result, error) {
		ran.Add(1)
		<-release
		return syncer.Result{}, nil
	}

	require.True(t, rt.Submit(&Job{Name: "symbol_list", Run: run}))
	waitFor(t, func() bool { return ran.Load() == 1 })

	// Same dedup key while the first is still running: skipped and counted.
	assert.False(t, rt.Submit(&Job{Name: "symbol_list", Run: run}))
	assert.Equal(t, 1, rt.DedupSkips("symbol_list"))

	// A different key runs concurrently.
	var other atomic.Int32
	require.True(t, rt.Submit(&Job{Name: "symbol_list", DedupKey: "backfill:symbol_list:x", Run: func(ctx context.Context) (syncer.Result, error) {
		other.Add(1)
		return syncer.Result{}, nil
	}}))
	waitFor(t, func() bool { return other.Load() == 1 })

	close(release)
	waitFor(t, func() bool {
		// Key released after completion: resubmission is accepted.
		return rt.Submit(&Job{Name: "symbol_list", Run: func(ctx context.Context) (syncer.Result, error) {
			return syncer.Result{}, nil
		}})
	})
}

func TestRuntime_JobTimeoutCancelsContext(t *testing.T) {
	rt := NewRuntime(1, nil, nil, zerolog.Nop())
	rt.Start(context.Background())
	defer rt.Stop()

	done := make(chan error, 1)
	rt.Submit(&Job{
		Name:    "slow",
		Timeout: 20 * time.Millisecond,
		Run: func(ctx context.Context) (syncer.Result, error) {
			<-ctx.Done()
			done <- ctx.Err()
			return syncer.Result{}, ctx.Err()
		},
	})

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	case <-time.After(5 * time.Second):
		t.Fatal("job never observed its deadline")
	}
}

func TestRuntime_DeadlineExpiryIsCancelledNotFailed(t *testing.T) {
	status, ledger := testStore(t)
	rt := NewRuntime(1, status, ledger, zerolog.Nop())
	rt.Start(context.Background())
	defer rt.Stop()

	rt.Submit(&Job{
		Name:    "daily_quotes",
		Timeout: 20 * time.Millisecond,
		Run: func(ctx context.Context) (syncer.Result, error) {
			<-ctx.Done()
			return syncer.Result{}, ctx.Err()
		},
	})

	ctx := context.Background()
	waitFor(t, func() bool {
		snap, err := status.Get(ctx, "daily_quotes")
		return err == nil && snap != nil && snap.State == "cancelled"
	})

	// An expired deadline is not a dataset problem, so no ledger row.
	open, err := ledger.Open(ctx, "daily_quotes", "")
	require.NoError(t, err)
	assert.Nil(t, open)
}

func TestRuntime_WholeJobFailureIsLedgeredAndResolved(t *testing.T) {
	status, ledger := testStore(t)
	rt := NewRuntime(1, status, ledger, zerolog.Nop())
	rt.Start(context.Background())
	defer rt.Stop()

	var healthy atomic.Bool
	run := func(ctx context.Context) (syncer.Result, error) {
		if !healthy.Load() {
			return syncer.Result{}, errors.New("gateway exploded")
		}
		return syncer.Result{RowsWritten: 1}, nil
	}

	ctx := context.Background()
	rt.Submit(&Job{Name: "symbol_list", Run: run})
	waitFor(t, func() bool {
		open, err := ledger.Open(ctx, "symbol_list", "")
		return err == nil && open != nil
	})

	healthy.Store(true)
	waitFor(t, func() bool { return rt.Submit(&Job{Name: "symbol_list", Run: run}) })
	waitFor(t, func() bool {
		open, err := ledger.Open(ctx, "symbol_list", "")
		return err == nil && open == nil
	})
}

type stubSyncer struct {
	name string
	runs atomic.Int32
}

func (s *stubSyncer) Name() string { return s.name }
func (s *stubSyncer) Run(ctx context.Context) (syncer.Result, error) {
	s.runs.Add(1)
	return syncer.Result{}, nil
}

func TestScheduler_TriggerKnownAndUnknown(t *testing.T) {
	rt := NewRuntime(2, nil, nil, zerolog.Nop())
	rt.Start(context.Background())
	defer rt.Stop()

	s := NewScheduler(rt, zerolog.Nop())
	stub := &stubSyncer{name: "daily_quotes"}
	s.Register(stub)

	known, accepted := s.Trigger("daily_quotes")
	assert.True(t, known)
	assert.True(t, accepted)
	waitFor(t, func() bool { return stub.runs.Load() == 1 })

	known, _ = s.Trigger("nonsense")
	assert.False(t, known)
}

type scopedStubSyncer struct {
	stubSyncer
	mu   sync.Mutex
	last syncer.Scope
}

func (s *scopedStubSyncer) WithScope(sc syncer.Scope) syncer.Syncer {
	s.mu.Lock()
	s.last = sc
	s.mu.Unlock()
	return s
}

func (s *scopedStubSyncer) scope() syncer.Scope {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

func TestScheduler_TriggerScoped(t *testing.T) {
	rt := NewRuntime(2, nil, nil, zerolog.Nop())
	rt.Start(context.Background())
	defer rt.Stop()

	s := NewScheduler(rt, zerolog.Nop())
	stub := &scopedStubSyncer{stubSyncer: stubSyncer{name: "daily_quotes"}}
	s.Register(stub)

	since := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	known, scopable, accepted := s.TriggerScoped("daily_quotes", syncer.Scope{
		Codes: []string{"600519"},
		Since: since,
	})
	assert.True(t, known)
	assert.True(t, scopable)
	assert.True(t, accepted)
	waitFor(t, func() bool { return stub.runs.Load() == 1 })
	assert.Equal(t, []string{"600519"}, stub.scope().Codes)
	assert.Equal(t, since, stub.scope().Since)

	// A syncer without scope support still triggers unscoped, but a scoped
	// request for it is refused.
	plain := &stubSyncer{name: "market_sentiment"}
	s.Register(plain)
	known, scopable, accepted = s.TriggerScoped("market_sentiment", syncer.Scope{})
	assert.True(t, known)
	assert.True(t, scopable)
	assert.True(t, accepted)
	known, scopable, _ = s.TriggerScoped("market_sentiment", syncer.Scope{Codes: []string{"600519"}})
	assert.True(t, known)
	assert.False(t, scopable)

	known, _, _ = s.TriggerScoped("nonsense", syncer.Scope{})
	assert.False(t, known)
}

func TestScheduler_NextRunTracksIntervalSchedule(t *testing.T) {
	rt := NewRuntime(1, nil, nil, zerolog.Nop())
	rt.Start(context.Background())
	defer rt.Stop()

	s := NewScheduler(rt, zerolog.Nop())
	stub := &stubSyncer{name: "global_news"}
	s.Register(stub)

	_, ok := s.NextRun("global_news")
	assert.False(t, ok, "no schedule bound yet")

	require.NoError(t, s.Bind([]task.Schedule{{
		TaskName:     "global_news",
		Interval:     time.Hour,
		InitialDelay: 10 * time.Millisecond,
	}}))
	s.Start()
	defer s.Stop()

	waitFor(t, func() bool {
		at, ok := s.NextRun("global_news")
		return ok && at.After(time.Now())
	})
}

func TestScheduler_BindRejectsUnregistered(t *testing.T) {
	rt := NewRuntime(1, nil, nil, zerolog.Nop())
	s := NewScheduler(rt, zerolog.Nop())

	err := s.Bind([]task.Schedule{{TaskName: "ghost", CronSpec: "0 0 0 * * *"}})
	require.Error(t, err)
}

func TestScheduler_IntervalFiresAfterDelay(t *testing.T) {
	rt := NewRuntime(1, nil, nil, zerolog.Nop())
	rt.Start(context.Background())
	defer rt.Stop()

	s := NewScheduler(rt, zerolog.Nop())
	stub := &stubSyncer{name: "global_news"}
	s.Register(stub)

	require.NoError(t, s.Bind([]task.Schedule{{
		TaskName:     "global_news",
		Interval:     30 * time.Millisecond,
		InitialDelay: 10 * time.Millisecond,
	}}))
	s.Start()
	defer s.Stop()

	waitFor(t, func() bool { return stub.runs.Load() >= 2 })
}
