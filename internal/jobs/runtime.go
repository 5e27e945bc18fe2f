// Package jobs is the execution runtime: a fixed worker pool that runs
// sync jobs with per-job deadlines, dedup keys, and persisted status
// snapshots. Scheduling (when jobs are submitted) lives in Scheduler;
// running them lives here.
package jobs

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/leeksaver/leeksaver/internal/errkind"
	"github.com/leeksaver/leeksaver/internal/repository"
	"github.com/leeksaver/leeksaver/internal/syncer"
)

// DefaultJobTimeout bounds a job whose definition sets none.
const DefaultJobTimeout = 30 * time.Minute

// Job is one unit of work. DedupKey defaults to Name: while a job with a
// given key is queued or running, submitting another with the same key is
// a counted no-op, so a slow run never stacks up behind its own trigger.
type Job struct {
	ID       string
	Name     string
	DedupKey string
	Timeout  time.Duration
	Run      func(ctx context.Context) (syncer.Result, error)
}

// Runtime is the worker pool.
type Runtime struct {
	workers int
	queue   chan *Job
	status  *repository.StatusRepository
	ledger  *repository.SyncErrorRepository
	log     zerolog.Logger

	mu         sync.Mutex
	active     map[string]struct{} // dedup keys queued or running
	dedupSkips map[string]int      // per task name

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// NewRuntime creates a pool of the given size. The queue holds one pending
// job per worker beyond the ones running; dedup keeps it from growing.
func NewRuntime(workers int, status *repository.StatusRepository, ledger *repository.SyncErrorRepository, log zerolog.Logger) *Runtime {
	if workers <= 0 {
		workers = 4
	}
	return &Runtime{
		workers:    workers,
		queue:      make(chan *Job, workers*4),
		status:     status,
		ledger:     ledger,
		log:        log.With().Str("component", "jobs").Logger(),
		active:     make(map[string]struct{}),
		dedupSkips: make(map[string]int),
	}
}

// Start launches the workers. They run until ctx is cancelled or Stop is
// called.
func (r *Runtime) Start(ctx context.Context) {
	ctx, r.cancel = context.WithCancel(ctx)
	for i := 0; i < r.workers; i++ {
		r.wg.Add(1)
		go r.worker(ctx, i)
	}
	r.log.Info().Int("workers", r.workers).Msg("job runtime started")
}

// Stop cancels in-flight jobs and waits for the workers to exit.
func (r *Runtime) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
	r.log.Info().Msg("job runtime stopped")
}

// Submit enqueues a job. Returns false when an identical dedup key is
// already queued or running, or when the queue is full.
func (r *Runtime) Submit(job *Job) bool {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.DedupKey == "" {
		job.DedupKey = job.Name
	}

	r.mu.Lock()
	if _, busy := r.active[job.DedupKey]; busy {
		r.dedupSkips[job.Name]++
		skips := r.dedupSkips[job.Name]
		r.mu.Unlock()
		r.log.Debug().Str("task", job.Name).Str("dedup_key", job.DedupKey).
			Int("skips", skips).Msg("duplicate submission skipped")
		return false
	}
	r.active[job.DedupKey] = struct{}{}
	r.mu.Unlock()

	select {
	case r.queue <- job:
		return true
	default:
		// Queue full: release the key so the next trigger can retry.
		r.release(job.DedupKey)
		r.log.Warn().Str("task", job.Name).Msg("queue full, job dropped")
		return false
	}
}

// DedupSkips returns how many submissions of a task were absorbed by dedup.
func (r *Runtime) DedupSkips(name string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dedupSkips[name]
}

func (r *Runtime) release(key string) {
	r.mu.Lock()
	delete(r.active, key)
	r.mu.Unlock()
}

func (r *Runtime) worker(ctx context.Context, id int) {
	defer r.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-r.queue:
			r.execute(ctx, job)
		}
	}
}

func (r *Runtime) execute(ctx context.Context, job *Job) {
	defer r.release(job.DedupKey)

	log := r.log.With().Str("task", job.Name).Str("job_id", job.ID).Logger()

	timeout := job.Timeout
	if timeout <= 0 {
		timeout = DefaultJobTimeout
	}
	jobCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	r.saveSnapshot(&repository.TaskSnapshot{
		TaskName:  job.Name,
		State:     "running",
		LastRunAt: start.Unix(),
	})
	log.Info().Msg("job started")

	res, err := job.Run(jobCtx)
	elapsed := time.Since(start)

	snap := &repository.TaskSnapshot{
		TaskName:    job.Name,
		LastRunAt:   start.Unix(),
		DurationMS:  elapsed.Milliseconds(),
		RowsWritten: res.RowsWritten,
		DedupSkips:  r.DedupSkips(job.Name),
	}
	switch kind := errkind.KindOf(err); {
	case err == nil:
		snap.State = "succeeded"
		snap.LastOKAt = time.Now().Unix()
		log.Info().Dur("elapsed", elapsed).Int("rows", res.RowsWritten).
			Int("failed_targets", res.Failed).Msg("job finished")
		r.resolveJobError(job.Name)
	case kind == errkind.Cancelled || kind == errkind.DeadlineExceeded:
		// Terminal but not a failure: nothing is wrong with the dataset,
		// the run just did not finish.
		snap.State = "cancelled"
		snap.LastError = err.Error()
		log.Warn().Err(err).Dur("elapsed", elapsed).Msg("job cancelled")
	default:
		snap.State = "failed"
		snap.LastError = err.Error()
		log.Error().Err(err).Dur("elapsed", elapsed).
			Str("kind", string(kind)).Msg("job failed")
		r.recordJobError(job.Name, kind, err)
	}
	r.saveSnapshot(snap)
}

// recordJobError ledgers a whole-job failure under an empty target so it
// surfaces in the error API alongside per-target rows. The empty target
// keeps it out of backfill target lists; the next clean run resolves it.
func (r *Runtime) recordJobError(name string, kind errkind.Kind, err error) {
	if r.ledger == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if rerr := r.ledger.Record(ctx, name, "", string(kind), err.Error()); rerr != nil {
		r.log.Error().Err(rerr).Str("task", name).Msg("failed to record job error")
	}
}

func (r *Runtime) resolveJobError(name string) {
	if r.ledger == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if rerr := r.ledger.Resolve(ctx, name, ""); rerr != nil {
		r.log.Error().Err(rerr).Str("task", name).Msg("failed to resolve job error")
	}
}

func (r *Runtime) saveSnapshot(snap *repository.TaskSnapshot) {
	if r.status == nil {
		return
	}
	// Snapshot writes use a fresh context: a cancelled job must still
	// record its terminal state.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.status.Save(ctx, snap); err != nil {
		r.log.Error().Err(err).Str("task", snap.TaskName).Msg("snapshot save failed")
	}
}
