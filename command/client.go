package command

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
)

// Client wraps a database handle and executes commands with per-command
// timeouts, hooks, and structured logging. Asynchronous execution is
// delegated to an embedded Runner.
type Client struct {
	db        *sql.DB
	opts      Options
	logger    Logger
	debugMode atomic.Bool
	runner    *Runner
	hooks     []hookEntry  // Registered hooks in execution order
	hooksMu   sync.RWMutex // Protects hooks slice
}

// Open creates a client for the given Postgres DSN.
// If opts is nil, default options are used. The connection is established
// lazily; call Connect to verify reachability up front.
func Open(dsn string, opts *Options) (*Client, error) {
	if opts == nil {
		defaultOpts := DefaultOptions()
		opts = &defaultOpts
	}

	if opts.DefaultTimeoutSeconds < 0 {
		return nil, ErrNegativeTimeout(opts.DefaultTimeoutSeconds)
	}
	if opts.DefaultTimeoutSeconds == 0 {
		opts.DefaultTimeoutSeconds = DefaultTimeoutSeconds
	}

	logger := opts.Logger
	if logger == nil {
		logger = NewLogger(opts.LogLevel, nil)
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, &CommandError{
			Code:    "E_OPEN_FAILED",
			Type:    "COMMAND_ERROR",
			Message: "failed to open database handle",
			Cause:   err,
		}
	}

	db.SetMaxOpenConns(opts.MaxOpenConns)
	db.SetMaxIdleConns(opts.MaxIdleConns)
	db.SetConnMaxLifetime(opts.ConnMaxLifetime)
	db.SetConnMaxIdleTime(opts.ConnMaxIdleTime)

	client := &Client{
		db:     db,
		opts:   *opts,
		logger: logger,
	}
	client.debugMode.Store(opts.DebugMode)

	client.runner = NewRunner(opts.AsyncWorkers, opts.AsyncQueueDepth, opts.JobRetention, logger)
	client.runner.Start()

	if opts.SlowCommandThreshold > 0 {
		client.RegisterHook(NewSlowCommandHook(logger, opts.SlowCommandThreshold))
	}

	client.logger.Info("client opened",
		Int("max_open_conns", opts.MaxOpenConns),
		Int("default_timeout_seconds", opts.DefaultTimeoutSeconds),
		Int("async_workers", opts.AsyncWorkers))

	return client, nil
}

// Connect verifies the database is reachable, using the default command
// timeout as the ping deadline.
func (c *Client) Connect(ctx context.Context) error {
	pingCtx, cancel := context.WithTimeout(ctx, time.Duration(c.opts.DefaultTimeoutSeconds)*time.Second)
	defer cancel()

	if err := c.db.PingContext(pingCtx); err != nil {
		c.logger.Error("connect failed", Error("error", err))
		return &CommandError{
			Code:    "E_CONNECT_FAILED",
			Type:    "COMMAND_ERROR",
			Message: "database is not reachable",
			Cause:   err,
		}
	}

	c.logger.Info("connected to database")
	return nil
}

// Close shuts down the runner and closes the database handle.
func (c *Client) Close(ctx context.Context) error {
	c.logger.Info("closing client")

	if err := c.runner.Close(ctx); err != nil {
		c.logger.Warn("runner close", Error("error", err))
	}

	if err := c.db.Close(); err != nil {
		c.logger.Error("error closing database handle", Error("error", err))
		return err
	}

	c.logger.Info("client closed")
	return nil
}

// Ping performs a health check on the database.
func (c *Client) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

// DB exposes the underlying database handle for the stream and bulk
// packages, which operate directly on database/sql.
func (c *Client) DB() *sql.DB {
	return c.db
}

// Stats returns the connection pool statistics from database/sql.
func (c *Client) Stats() sql.DBStats {
	return c.db.Stats()
}

// Logger returns the client logger.
func (c *Client) Logger() Logger {
	return c.logger
}

// Runner returns the async job runner.
func (c *Client) Runner() *Runner {
	return c.runner
}

// IsDebugMode reports whether verbose error formatting is enabled.
func (c *Client) IsDebugMode() bool {
	return c.debugMode.Load()
}

// SetDebugMode toggles verbose error formatting at runtime.
func (c *Client) SetDebugMode(enabled bool) {
	c.debugMode.Store(enabled)
}

// Command creates a new command for the given statement and arguments.
// The command uses the client default timeout unless overridden with
// WithTimeout.
func (c *Client) Command(text string, args ...interface{}) *Command {
	return &Command{
		client: c,
		text:   text,
		args:   args,
	}
}

// Submit queues a command for asynchronous execution and returns a Job
// handle immediately. The job runs Query for statements that produce rows
// and Exec otherwise, based on the inferred command kind.
func (c *Client) Submit(cmd *Command) (*Job, error) {
	if _, err := cmd.effectiveTimeout(c.opts.DefaultTimeoutSeconds); err != nil {
		return nil, err
	}

	kind := inferKind(cmd.text)
	var run func(ctx context.Context) (interface{}, error)
	if kind == KindQuery {
		run = func(ctx context.Context) (interface{}, error) {
			return cmd.Query(ctx)
		}
	} else {
		run = func(ctx context.Context) (interface{}, error) {
			return cmd.Exec(ctx)
		}
	}

	job := NewJob(cmd.text, run)
	if err := c.runner.Submit(job); err != nil {
		return nil, err
	}

	c.logger.Debug("job submitted",
		String("job_id", job.ID()),
		String("kind", kind))

	return job, nil
}

// execute runs fn around the hook chain, applying the command's timeout and
// translating deadline expiry into a TimeoutError. Partial results are
// discarded on failure.
func (c *Client) execute(ctx context.Context, cmd *Command, kind string, fn func(ctx context.Context, statement string) (interface{}, error)) (interface{}, error) {
	seconds, err := cmd.effectiveTimeout(c.opts.DefaultTimeoutSeconds)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	traceID := uuid.New().String()

	hookCtx := &HookContext{
		Statement: cmd.text,
		Kind:      kind,
		Args:      cmd.args,
		StartTime: start,
		Metadata:  make(map[string]interface{}),
		TraceID:   traceID,
	}

	if err := c.executeBeforeHooks(ctx, hookCtx); err != nil {
		return nil, err
	}

	// Hooks may rewrite the statement.
	statement := hookCtx.Statement

	if c.IsDebugMode() {
		c.logger.Debug("executing command",
			String("statement", statement),
			String("kind", kind),
			String("trace_id", traceID),
			Int("timeout_seconds", seconds))
	}

	runCtx := ctx
	if seconds > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, time.Duration(seconds)*time.Second)
		defer cancel()
	}

	result, err := fn(runCtx, statement)
	duration := time.Since(start)

	// Distinguish the command timeout from a caller-cancelled context: only
	// report TimeoutError when the parent context is still live.
	if err != nil && errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		result = nil
		err = ErrTimeout(statement, seconds, duration)
	}

	hookCtx.Result = result
	hookCtx.Err = err
	hookCtx.Duration = duration

	if hookErr := c.executeAfterHooks(ctx, hookCtx); hookErr != nil {
		err = hookErr
	}

	if err != nil {
		c.logger.Error("command failed",
			String("kind", kind),
			String("trace_id", traceID),
			Duration("duration", duration),
			Error("error", err))
		return nil, err
	}

	c.logger.Debug("command executed",
		String("kind", kind),
		String("trace_id", traceID),
		Duration("duration", duration))

	return result, nil
}

// Version is the library build version.
const Version = "0.3.0"

// GetVersion returns the build version of the client.
func (c *Client) GetVersion() string {
	return Version
}
