package jobs

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/leeksaver/leeksaver/internal/errkind"
	"github.com/leeksaver/leeksaver/internal/syncer"
	"github.com/leeksaver/leeksaver/internal/task"
)

// Scheduler binds the task schedule to the runtime: cron-timed tasks go
// through a seconds-resolution cron, interval tasks get a staggered ticker,
// and any known task can be triggered on demand.
type Scheduler struct {
	runtime *Runtime
	cron    *cron.Cron
	log     zerolog.Logger

	mu      sync.Mutex
	runners map[string]syncer.Syncer
	entries map[string]cron.EntryID
	next    map[string]time.Time // next fire per interval task

	stop   chan struct{}
	wg     sync.WaitGroup
	closed sync.Once
}

// NewScheduler creates a scheduler over the given runtime.
func NewScheduler(rt *Runtime, log zerolog.Logger) *Scheduler {
	return &Scheduler{
		runtime: rt,
		cron:    cron.New(cron.WithSeconds()),
		log:     log.With().Str("component", "scheduler").Logger(),
		runners: make(map[string]syncer.Syncer),
		entries: make(map[string]cron.EntryID),
		next:    make(map[string]time.Time),
		stop:    make(chan struct{}),
	}
}

// Register associates a task name with its syncer.
func (s *Scheduler) Register(runner syncer.Syncer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runners[runner.Name()] = runner
}

// Bind installs the schedules. Every scheduled task must have a registered
// runner.
func (s *Scheduler) Bind(schedules []task.Schedule) error {
	for _, sched := range schedules {
		if _, ok := s.lookup(sched.TaskName); !ok {
			return errkind.Newf(errkind.ConfigError, "schedule for unregistered task %q", sched.TaskName)
		}

		switch {
		case sched.CronSpec != "":
			name := sched.TaskName
			id, err := s.cron.AddFunc(sched.CronSpec, func() { s.submit(name) })
			if err != nil {
				return errkind.Wrap(err, errkind.ConfigError, "cron spec for "+name)
			}
			s.mu.Lock()
			s.entries[name] = id
			s.mu.Unlock()
			s.log.Info().Str("task", name).Str("cron", sched.CronSpec).Msg("cron schedule bound")

		case sched.Interval > 0:
			s.wg.Add(1)
			go s.tick(sched)
			s.log.Info().Str("task", sched.TaskName).Dur("interval", sched.Interval).
				Dur("initial_delay", sched.InitialDelay).Msg("interval schedule bound")
		}
	}
	return nil
}

// Start begins firing schedules.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts all schedules and waits for the tickers to exit. In-flight
// jobs are the runtime's concern, not the scheduler's.
func (s *Scheduler) Stop() {
	s.closed.Do(func() { close(s.stop) })
	<-s.cron.Stop().Done()
	s.wg.Wait()
}

// Trigger submits a task on demand. Returns false when the task is unknown;
// the second return reports whether the job was accepted (a duplicate or a
// full queue rejects it).
func (s *Scheduler) Trigger(name string) (known bool, accepted bool) {
	if _, ok := s.lookup(name); !ok {
		return false, false
	}
	return true, s.submit(name)
}

// TriggerScoped submits a task narrowed to specific codes or a start date.
// An empty scope falls back to a plain trigger. The second return is false
// when the task does not support scoped runs. Identical scoped requests
// share a dedup key so a repeated trigger cannot stack.
func (s *Scheduler) TriggerScoped(name string, scope syncer.Scope) (known, scopable, accepted bool) {
	runner, ok := s.lookup(name)
	if !ok {
		return false, false, false
	}
	if len(scope.Codes) == 0 && scope.Since.IsZero() {
		return true, true, s.submit(name)
	}
	sc, ok := runner.(syncer.Scopable)
	if !ok {
		return true, false, false
	}

	key := fmt.Sprintf("manual:%s:%s:%s", name,
		strings.Join(scope.Codes, ","), scope.Since.Format("2006-01-02"))
	accepted = s.runtime.Submit(&Job{
		Name:     name,
		DedupKey: key,
		Run:      sc.WithScope(scope).Run,
	})
	return true, true, accepted
}

// NextRun reports when a task's schedule next fires, false when the task
// has no bound schedule.
func (s *Scheduler) NextRun(name string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.entries[name]; ok {
		return s.cron.Entry(id).Next, true
	}
	at, ok := s.next[name]
	return at, ok
}

func (s *Scheduler) setNext(name string, at time.Time) {
	s.mu.Lock()
	s.next[name] = at
	s.mu.Unlock()
}

// TriggerBackfill submits a scoped backfill job under its own dedup key so
// shards for different target sets can coexist with the full-scope task.
func (s *Scheduler) TriggerBackfill(name, dedupKey string, runner syncer.Syncer) bool {
	return s.runtime.Submit(&Job{
		Name:     name,
		DedupKey: dedupKey,
		Run:      runner.Run,
	})
}

func (s *Scheduler) lookup(name string) (syncer.Syncer, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.runners[name]
	return r, ok
}

func (s *Scheduler) submit(name string) bool {
	runner, ok := s.lookup(name)
	if !ok {
		return false
	}
	return s.runtime.Submit(&Job{Name: name, Run: runner.Run})
}

func (s *Scheduler) tick(sched task.Schedule) {
	defer s.wg.Done()

	// Initial stagger spreads interval tasks across the period.
	if sched.InitialDelay > 0 {
		s.setNext(sched.TaskName, time.Now().Add(sched.InitialDelay))
		select {
		case <-s.stop:
			return
		case <-time.After(sched.InitialDelay):
		}
	}

	s.setNext(sched.TaskName, time.Now().Add(sched.Interval))
	s.submit(sched.TaskName)

	ticker := time.NewTicker(sched.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.setNext(sched.TaskName, time.Now().Add(sched.Interval))
			s.submit(sched.TaskName)
		}
	}
}

// RunNow runs a task synchronously, outside the pool. Used by the CLI for
// one-shot invocations.
func RunNow(ctx context.Context, runner syncer.Syncer) (syncer.Result, error) {
	return runner.Run(ctx)
}
