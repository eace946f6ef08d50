package command

import (
	"time"
)

// DefaultTimeoutSeconds is the framework-default command timeout applied
// when a command does not set one explicitly.
const DefaultTimeoutSeconds = 30

// Options configures the client behavior.
type Options struct {
	// DefaultTimeoutSeconds is the default timeout, in whole seconds, applied
	// to commands that do not override it. A command whose elapsed time
	// exceeds its timeout fails with a *TimeoutError and any partially
	// materialized result is discarded.
	// Default: 30
	DefaultTimeoutSeconds int

	// MaxOpenConns is the maximum number of open connections to the database.
	// Passed through to database/sql.
	// Default: 25
	MaxOpenConns int

	// MaxIdleConns is the maximum number of idle connections retained.
	// Default: 10
	MaxIdleConns int

	// ConnMaxLifetime is the maximum amount of time a connection may be reused.
	// Default: 5 minutes
	ConnMaxLifetime time.Duration

	// ConnMaxIdleTime is the maximum amount of time a connection may sit idle.
	// Default: 1 minute
	ConnMaxIdleTime time.Duration

	// AsyncWorkers is the number of goroutines executing submitted jobs.
	// Default: 4
	AsyncWorkers int

	// AsyncQueueDepth is the capacity of the job queue. Submit fails with
	// a *JobError once the queue is full.
	// Default: 64
	AsyncQueueDepth int

	// JobRetention is how long finished jobs remain queryable before the
	// retention sweeper drops them.
	// Default: 10 minutes
	JobRetention time.Duration

	// SlowCommandThreshold is the duration above which the built-in slow
	// command hook logs a warning. Zero disables the check.
	// Default: 5 seconds
	SlowCommandThreshold time.Duration

	// DebugMode enables verbose error serialization with full cause chains.
	// When false, errors are flattened to single messages.
	// Default: false
	DebugMode bool

	// Logger is the logger implementation to use.
	// If nil, a default JSON logger is used.
	Logger Logger

	// LogLevel sets the minimum log level (DEBUG, INFO, WARN, ERROR).
	// Default: "INFO"
	LogLevel string
}

// DefaultOptions returns Options with default values.
func DefaultOptions() Options {
	return Options{
		DefaultTimeoutSeconds: DefaultTimeoutSeconds,
		MaxOpenConns:          25,
		MaxIdleConns:          10,
		ConnMaxLifetime:       5 * time.Minute,
		ConnMaxIdleTime:       1 * time.Minute,
		AsyncWorkers:          4,
		AsyncQueueDepth:       64,
		JobRetention:          10 * time.Minute,
		SlowCommandThreshold:  5 * time.Second,
		DebugMode:             false,
		LogLevel:              "INFO",
	}
}
