package command

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// RunnerStats tracks job runner statistics.
type RunnerStats struct {
	Queued    atomic.Int64
	Running   atomic.Int64
	Succeeded atomic.Int64
	Failed    atomic.Int64
	Canceled  atomic.Int64
	Timeouts  atomic.Int64
}

// Runner executes submitted jobs on a fixed pool of workers and retains
// finished jobs for later inspection until the retention window expires.
type Runner struct {
	queue     chan *Job
	workers   int
	retention time.Duration
	logger    Logger
	jobs      sync.Map // map[string]*Job
	stats     RunnerStats
	stopCh    chan struct{}
	wg        sync.WaitGroup
	mu        sync.RWMutex
	closed    bool
}

// NewRunner creates a runner with the specified worker count, queue depth,
// and retention window for finished jobs.
func NewRunner(workers, queueDepth int, retention time.Duration, logger Logger) *Runner {
	if workers < 1 {
		workers = 1
	}
	if queueDepth < 1 {
		queueDepth = 1
	}
	if retention <= 0 {
		retention = 10 * time.Minute
	}
	if logger == nil {
		logger = NewNoopLogger()
	}

	return &Runner{
		queue:     make(chan *Job, queueDepth),
		workers:   workers,
		retention: retention,
		logger:    logger,
		stopCh:    make(chan struct{}),
	}
}

// Start launches the workers and the retention sweeper.
func (r *Runner) Start() {
	r.wg.Add(r.workers + 1)
	for i := 0; i < r.workers; i++ {
		go r.worker(i)
	}
	go r.sweeper()

	r.logger.Debug("runner started",
		Int("workers", r.workers),
		Int("queue_depth", cap(r.queue)))
}

// Submit enqueues a job. It fails immediately with a JobError when the
// runner is closed or the queue is full rather than blocking the caller.
// The lock is held across the enqueue so Close cannot slip between the
// closed check and the send and strand an accepted job.
func (r *Runner) Submit(job *Job) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return ErrRunnerClosed()
	}

	select {
	case r.queue <- job:
		r.jobs.Store(job.ID(), job)
		r.stats.Queued.Add(1)
		return nil
	default:
		return ErrQueueFull(cap(r.queue))
	}
}

// Get returns the job with the given ID, if still retained.
func (r *Runner) Get(id string) (*Job, bool) {
	v, ok := r.jobs.Load(id)
	if !ok {
		return nil, false
	}
	return v.(*Job), true
}

// List returns snapshots of all retained jobs, newest first.
func (r *Runner) List() []Info {
	var infos []Info
	r.jobs.Range(func(_, v interface{}) bool {
		infos = append(infos, v.(*Job).Snapshot())
		return true
	})

	sort.Slice(infos, func(i, j int) bool {
		return infos[i].CreatedAt.After(infos[j].CreatedAt)
	})

	return infos
}

// Stats returns a snapshot of runner statistics.
func (r *Runner) Stats() RunnerStats {
	stats := RunnerStats{}
	stats.Queued.Store(r.stats.Queued.Load())
	stats.Running.Store(r.stats.Running.Load())
	stats.Succeeded.Store(r.stats.Succeeded.Load())
	stats.Failed.Store(r.stats.Failed.Load())
	stats.Canceled.Store(r.stats.Canceled.Load())
	stats.Timeouts.Store(r.stats.Timeouts.Load())
	return stats
}

// Close stops accepting jobs, waits for the workers to finish their current
// jobs, and cancels anything still queued.
// The context is reserved for a future shutdown deadline.
func (r *Runner) Close(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.mu.Unlock()

	close(r.stopCh)
	r.wg.Wait()

	// Drain the queue; nothing is pulling from it anymore.
	for {
		select {
		case job := <-r.queue:
			job.finish(JobCanceled, nil, errors.New("runner closed before job ran"))
			r.stats.Queued.Add(-1)
			r.stats.Canceled.Add(1)
		default:
			return nil
		}
	}
}

// worker pulls jobs off the queue until the runner stops.
func (r *Runner) worker(id int) {
	defer r.wg.Done()

	for {
		select {
		case <-r.stopCh:
			return
		case job := <-r.queue:
			r.runJob(id, job)
		}
	}
}

// runJob executes a single job and records its outcome.
func (r *Runner) runJob(workerID int, job *Job) {
	r.stats.Queued.Add(-1)

	// Dropped by Cancel while still queued.
	if job.ctx.Err() != nil {
		job.finish(JobCanceled, nil, job.ctx.Err())
		r.stats.Canceled.Add(1)
		return
	}

	job.markRunning()
	r.stats.Running.Add(1)

	r.logger.Debug("job started",
		String("job_id", job.ID()),
		Int("worker", workerID))

	result, err := job.run(job.ctx)

	r.stats.Running.Add(-1)

	switch {
	case err == nil:
		job.finish(JobSucceeded, result, nil)
		r.stats.Succeeded.Add(1)
	case errors.Is(err, context.Canceled):
		job.finish(JobCanceled, nil, err)
		r.stats.Canceled.Add(1)
	default:
		var timeoutErr *TimeoutError
		if errors.As(err, &timeoutErr) {
			r.stats.Timeouts.Add(1)
		}
		job.finish(JobFailed, nil, err)
		r.stats.Failed.Add(1)
	}

	snapshot := job.Snapshot()
	r.logger.Debug("job finished",
		String("job_id", job.ID()),
		String("status", string(snapshot.Status)),
		Error("error", err))
}

// sweeper periodically drops finished jobs past the retention window.
func (r *Runner) sweeper() {
	defer r.wg.Done()

	interval := r.retention / 4
	if interval < time.Second {
		interval = time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			return
		case <-ticker.C:
			r.sweep()
		}
	}
}

// sweep removes finished jobs older than the retention window.
func (r *Runner) sweep() {
	cutoff := time.Now().Add(-r.retention)
	swept := 0

	r.jobs.Range(func(key, v interface{}) bool {
		if v.(*Job).completedBefore(cutoff) {
			r.jobs.Delete(key)
			swept++
		}
		return true
	})

	if swept > 0 {
		r.logger.Debug("swept finished jobs", Int("count", swept))
	}
}
