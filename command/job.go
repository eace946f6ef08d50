package command

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// JobStatus represents the lifecycle state of an asynchronous job.
type JobStatus string

// Job lifecycle statuses.
const (
	JobQueued    JobStatus = "QUEUED"
	JobRunning   JobStatus = "RUNNING"
	JobSucceeded JobStatus = "SUCCEEDED"
	JobFailed    JobStatus = "FAILED"
	JobCanceled  JobStatus = "CANCELED"
)

// Terminal reports whether the status is final.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobSucceeded, JobFailed, JobCanceled:
		return true
	default:
		return false
	}
}

// Job is a handle to an asynchronously executing command. The command
// timeout still applies inside the worker; submitting a command does not
// extend its deadline.
type Job struct {
	id        string
	statement string
	run       func(ctx context.Context) (interface{}, error)

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu          sync.Mutex
	status      JobStatus
	result      interface{}
	err         error
	createdAt   time.Time
	startedAt   time.Time
	completedAt time.Time
}

// NewJob creates a queued job over an arbitrary unit of work. The job
// context is detached from the submitter so the job survives the
// submitting goroutine. Most callers go through Client.Submit instead.
func NewJob(statement string, run func(ctx context.Context) (interface{}, error)) *Job {
	ctx, cancel := context.WithCancel(context.Background())
	return &Job{
		id:        uuid.New().String(),
		statement: statement,
		run:       run,
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
		status:    JobQueued,
		createdAt: time.Now(),
	}
}

// ID returns the job identifier.
func (j *Job) ID() string {
	return j.id
}

// Statement returns the SQL text of the job's command.
func (j *Job) Statement() string {
	return j.statement
}

// Status returns the current lifecycle status.
func (j *Job) Status() JobStatus {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.status
}

// Cancel requests cancellation. A queued job is dropped without running;
// a running job has its context canceled. Finished jobs are unaffected.
func (j *Job) Cancel() {
	j.cancel()
}

// Wait blocks until the job finishes or ctx is done, then returns the
// job's result and error. The result is a *ResultSet for query commands
// and an int64 row count for exec commands.
func (j *Job) Wait(ctx context.Context) (interface{}, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-j.done:
		return j.Result()
	}
}

// Result returns the outcome of a finished job. Calling Result before the
// job finishes returns a JobError.
func (j *Job) Result() (interface{}, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if !j.status.Terminal() {
		return nil, &JobError{
			Code:    "E_JOB_NOT_FINISHED",
			Type:    "JOB_ERROR",
			Message: "job has not finished",
			JobID:   j.id,
		}
	}

	return j.result, j.err
}

// Info is an immutable snapshot of job state for reporting.
type Info struct {
	ID          string     `json:"id"`
	Statement   string     `json:"statement"`
	Status      JobStatus  `json:"status"`
	Error       string     `json:"error,omitempty"`
	RowCount    int        `json:"row_count,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Snapshot returns a point-in-time view of the job.
func (j *Job) Snapshot() Info {
	j.mu.Lock()
	defer j.mu.Unlock()

	info := Info{
		ID:        j.id,
		Statement: j.statement,
		Status:    j.status,
		CreatedAt: j.createdAt,
	}

	if !j.startedAt.IsZero() {
		t := j.startedAt
		info.StartedAt = &t
	}
	if !j.completedAt.IsZero() {
		t := j.completedAt
		info.CompletedAt = &t
	}
	if j.err != nil {
		info.Error = j.err.Error()
	}
	if rs, ok := j.result.(*ResultSet); ok {
		info.RowCount = rs.RowCount
	}

	return info
}

// markRunning transitions the job to RUNNING.
func (j *Job) markRunning() {
	j.mu.Lock()
	j.status = JobRunning
	j.startedAt = time.Now()
	j.mu.Unlock()
}

// finish records the outcome and releases waiters.
func (j *Job) finish(status JobStatus, result interface{}, err error) {
	j.mu.Lock()
	j.status = status
	j.result = result
	j.err = err
	j.completedAt = time.Now()
	j.mu.Unlock()

	j.cancel()
	close(j.done)
}

// completedBefore reports whether the job finished before the cutoff.
func (j *Job) completedBefore(cutoff time.Time) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.status.Terminal() && !j.completedAt.IsZero() && j.completedAt.Before(cutoff)
}
