package command

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func startTestRunner(t *testing.T, workers, queueDepth int) *Runner {
	t.Helper()

	r := NewRunner(workers, queueDepth, time.Minute, NewNoopLogger())
	r.Start()
	t.Cleanup(func() {
		r.Close(context.Background())
	})
	return r
}

func TestRunnerJobSucceeds(t *testing.T) {
	r := startTestRunner(t, 2, 8)

	job := NewJob("SELECT 1", func(ctx context.Context) (interface{}, error) {
		return int64(42), nil
	})

	if err := r.Submit(job); err != nil {
		t.Fatalf("submit failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	result, err := job.Wait(ctx)
	if err != nil {
		t.Fatalf("unexpected job error: %v", err)
	}
	if result != int64(42) {
		t.Errorf("expected result 42, got %v", result)
	}
	if job.Status() != JobSucceeded {
		t.Errorf("expected status SUCCEEDED, got %s", job.Status())
	}

	stats := r.Stats()
	if stats.Succeeded.Load() != 1 {
		t.Errorf("expected 1 succeeded, got %d", stats.Succeeded.Load())
	}
}

func TestRunnerJobFails(t *testing.T) {
	r := startTestRunner(t, 1, 8)

	failure := errors.New("boom")
	job := NewJob("SELECT 1", func(ctx context.Context) (interface{}, error) {
		return nil, failure
	})

	if err := r.Submit(job); err != nil {
		t.Fatalf("submit failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := job.Wait(ctx)
	if !errors.Is(err, failure) {
		t.Errorf("expected failure error, got %v", err)
	}
	if job.Status() != JobFailed {
		t.Errorf("expected status FAILED, got %s", job.Status())
	}
}

func TestRunnerJobTimeoutCounted(t *testing.T) {
	r := startTestRunner(t, 1, 8)

	job := NewJob("SELECT pg_sleep(60)", func(ctx context.Context) (interface{}, error) {
		return nil, ErrTimeout("SELECT pg_sleep(60)", 1, time.Second)
	})

	if err := r.Submit(job); err != nil {
		t.Fatalf("submit failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := job.Wait(ctx)
	var timeoutErr *TimeoutError
	if !errors.As(err, &timeoutErr) {
		t.Fatalf("expected *TimeoutError, got %v", err)
	}
	if job.Status() != JobFailed {
		t.Errorf("expected status FAILED, got %s", job.Status())
	}

	stats := r.Stats()
	if stats.Timeouts.Load() != 1 {
		t.Errorf("expected 1 timeout, got %d", stats.Timeouts.Load())
	}
}

func TestRunnerJobCanceledWhileRunning(t *testing.T) {
	r := startTestRunner(t, 1, 8)

	started := make(chan struct{})
	job := NewJob("SELECT pg_sleep(60)", func(ctx context.Context) (interface{}, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	})

	if err := r.Submit(job); err != nil {
		t.Fatalf("submit failed: %v", err)
	}

	<-started
	job.Cancel()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := job.Wait(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if job.Status() != JobCanceled {
		t.Errorf("expected status CANCELED, got %s", job.Status())
	}
}

func TestRunnerQueueFull(t *testing.T) {
	r := NewRunner(1, 1, time.Minute, NewNoopLogger())
	// Not started: nothing drains the queue.
	t.Cleanup(func() {
		r.Close(context.Background())
	})

	blocked := NewJob("a", func(ctx context.Context) (interface{}, error) { return nil, nil })
	if err := r.Submit(blocked); err != nil {
		t.Fatalf("first submit should fit in the queue: %v", err)
	}

	overflow := NewJob("b", func(ctx context.Context) (interface{}, error) { return nil, nil })
	err := r.Submit(overflow)

	var jobErr *JobError
	if !errors.As(err, &jobErr) {
		t.Fatalf("expected *JobError, got %v", err)
	}
	if jobErr.Code != "E_QUEUE_FULL" {
		t.Errorf("expected E_QUEUE_FULL, got %s", jobErr.Code)
	}
}

func TestRunnerSubmitAfterClose(t *testing.T) {
	r := NewRunner(1, 4, time.Minute, NewNoopLogger())
	r.Start()
	r.Close(context.Background())

	job := NewJob("SELECT 1", func(ctx context.Context) (interface{}, error) { return nil, nil })
	err := r.Submit(job)

	var jobErr *JobError
	if !errors.As(err, &jobErr) {
		t.Fatalf("expected *JobError, got %v", err)
	}
	if jobErr.Code != "E_RUNNER_CLOSED" {
		t.Errorf("expected E_RUNNER_CLOSED, got %s", jobErr.Code)
	}
}

func TestRunnerCloseCancelsQueuedJobs(t *testing.T) {
	r := NewRunner(1, 4, time.Minute, NewNoopLogger())
	// Not started: submitted jobs stay queued until Close drains them.

	job := NewJob("SELECT 1", func(ctx context.Context) (interface{}, error) { return nil, nil })
	if err := r.Submit(job); err != nil {
		t.Fatalf("submit failed: %v", err)
	}

	if err := r.Close(context.Background()); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	if job.Status() != JobCanceled {
		t.Errorf("expected queued job to be canceled on close, got %s", job.Status())
	}

	stats := r.Stats()
	if stats.Queued.Load() != 0 {
		t.Errorf("expected queued count 0 after close, got %d", stats.Queued.Load())
	}
	if stats.Canceled.Load() != 1 {
		t.Errorf("expected 1 canceled, got %d", stats.Canceled.Load())
	}
}

func TestRunnerAcceptedJobsAlwaysFinish(t *testing.T) {
	// A job accepted by Submit must reach a terminal state even when Close
	// runs concurrently; a stranded job would block Wait forever and never
	// be swept.
	for i := 0; i < 50; i++ {
		r := NewRunner(1, 16, time.Minute, NewNoopLogger())
		r.Start()

		var mu sync.Mutex
		var accepted []*Job
		var wg sync.WaitGroup

		for s := 0; s < 4; s++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for j := 0; j < 8; j++ {
					job := NewJob("SELECT 1", func(ctx context.Context) (interface{}, error) {
						return nil, nil
					})
					if err := r.Submit(job); err == nil {
						mu.Lock()
						accepted = append(accepted, job)
						mu.Unlock()
					}
				}
			}()
		}

		closeDone := make(chan struct{})
		go func() {
			r.Close(context.Background())
			close(closeDone)
		}()

		wg.Wait()
		<-closeDone

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		for _, job := range accepted {
			if _, err := job.Wait(ctx); err != nil && !job.Status().Terminal() {
				t.Fatalf("iteration %d: accepted job %s stranded in %s", i, job.ID(), job.Status())
			}
			if !job.Status().Terminal() {
				t.Fatalf("iteration %d: accepted job %s not terminal: %s", i, job.ID(), job.Status())
			}
		}
		cancel()
	}
}

func TestRunnerGetAndList(t *testing.T) {
	r := startTestRunner(t, 2, 8)

	first := NewJob("SELECT 1", func(ctx context.Context) (interface{}, error) { return nil, nil })
	if err := r.Submit(first); err != nil {
		t.Fatalf("submit failed: %v", err)
	}

	got, ok := r.Get(first.ID())
	if !ok {
		t.Fatal("expected to find submitted job")
	}
	if got.ID() != first.ID() {
		t.Errorf("expected job %s, got %s", first.ID(), got.ID())
	}

	if _, ok := r.Get("unknown-id"); ok {
		t.Error("expected lookup of unknown id to fail")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	first.Wait(ctx)

	infos := r.List()
	if len(infos) != 1 {
		t.Fatalf("expected 1 job in list, got %d", len(infos))
	}
	if infos[0].ID != first.ID() {
		t.Errorf("expected job %s in list, got %s", first.ID(), infos[0].ID)
	}
}

func TestRunnerSweepRemovesOldJobs(t *testing.T) {
	r := NewRunner(1, 4, time.Minute, NewNoopLogger())
	r.Start()
	t.Cleanup(func() {
		r.Close(context.Background())
	})

	job := NewJob("SELECT 1", func(ctx context.Context) (interface{}, error) { return nil, nil })
	if err := r.Submit(job); err != nil {
		t.Fatalf("submit failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	job.Wait(ctx)

	// Backdate completion past the retention window, then sweep directly.
	job.mu.Lock()
	job.completedAt = time.Now().Add(-2 * time.Minute)
	job.mu.Unlock()

	r.sweep()

	if _, ok := r.Get(job.ID()); ok {
		t.Error("expected swept job to be gone")
	}
}

func TestJobResultBeforeFinish(t *testing.T) {
	job := NewJob("SELECT 1", func(ctx context.Context) (interface{}, error) { return nil, nil })

	_, err := job.Result()
	var jobErr *JobError
	if !errors.As(err, &jobErr) {
		t.Fatalf("expected *JobError, got %v", err)
	}
	if jobErr.Code != "E_JOB_NOT_FINISHED" {
		t.Errorf("expected E_JOB_NOT_FINISHED, got %s", jobErr.Code)
	}
}

func TestJobSnapshot(t *testing.T) {
	job := NewJob("SELECT 1", func(ctx context.Context) (interface{}, error) { return nil, nil })

	info := job.Snapshot()
	if info.Status != JobQueued {
		t.Errorf("expected QUEUED, got %s", info.Status)
	}
	if info.StartedAt != nil || info.CompletedAt != nil {
		t.Error("queued job should have no start or completion time")
	}

	job.markRunning()
	job.finish(JobSucceeded, &ResultSet{RowCount: 3}, nil)

	info = job.Snapshot()
	if info.Status != JobSucceeded {
		t.Errorf("expected SUCCEEDED, got %s", info.Status)
	}
	if info.RowCount != 3 {
		t.Errorf("expected row count 3, got %d", info.RowCount)
	}
	if info.StartedAt == nil || info.CompletedAt == nil {
		t.Error("finished job should have start and completion times")
	}
}

func TestJobStatusTerminal(t *testing.T) {
	tests := []struct {
		status   JobStatus
		terminal bool
	}{
		{JobQueued, false},
		{JobRunning, false},
		{JobSucceeded, true},
		{JobFailed, true},
		{JobCanceled, true},
	}

	for _, tt := range tests {
		if got := tt.status.Terminal(); got != tt.terminal {
			t.Errorf("%s.Terminal() = %v, want %v", tt.status, got, tt.terminal)
		}
	}
}
