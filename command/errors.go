package command

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime"
	"time"
)

// CommandError represents a failed command execution.
type CommandError struct {
	Code       string                 `json:"code"`
	Type       string                 `json:"type"`
	Message    string                 `json:"message"`
	Details    map[string]interface{} `json:"details,omitempty"`
	Statement  string                 `json:"statement,omitempty"`
	Args       []interface{}          `json:"args,omitempty"`
	Cause      error                  `json:"cause,omitempty"`
	StackTrace []string               `json:"stack_trace,omitempty"`
	Timestamp  time.Time              `json:"timestamp,omitempty"`
}

// Error implements the error interface.
func (e *CommandError) Error() string {
	return e.FormatError(false)
}

// FormatError formats the error based on debug mode.
// When debugMode=false: returns simple "CODE: message" format.
// When debugMode=true: returns full JSON with statement, stack trace, timestamp.
func (e *CommandError) FormatError(debugMode bool) string {
	if !debugMode {
		if e.Cause != nil {
			return fmt.Sprintf("%s: %s (caused by: %s)", e.Code, e.Message, e.Cause.Error())
		}
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}

	errorData := map[string]interface{}{
		"code":    e.Code,
		"type":    e.Type,
		"message": e.Message,
	}

	if e.Statement != "" {
		errorData["statement"] = e.Statement
	}
	if len(e.Args) > 0 {
		errorData["args"] = e.Args
	}
	if len(e.Details) > 0 {
		errorData["details"] = e.Details
	}
	if e.Cause != nil {
		errorData["cause"] = map[string]interface{}{"message": e.Cause.Error()}
	}
	if len(e.StackTrace) > 0 {
		errorData["stack_trace"] = e.StackTrace
	}
	if !e.Timestamp.IsZero() {
		errorData["timestamp"] = e.Timestamp.Format(time.RFC3339Nano)
	}

	b, _ := json.MarshalIndent(errorData, "", "  ")
	return string(b)
}

// Unwrap returns the underlying cause error.
func (e *CommandError) Unwrap() error {
	return e.Cause
}

// TimeoutError represents a command whose elapsed time exceeded its
// configured timeout. The underlying cause is context.DeadlineExceeded,
// so errors.Is(err, context.DeadlineExceeded) holds.
type TimeoutError struct {
	Code           string    `json:"code"`
	Type           string    `json:"type"`
	Message        string    `json:"message"`
	Statement      string    `json:"statement,omitempty"`
	TimeoutSeconds int       `json:"timeout_seconds"`
	Elapsed        string    `json:"elapsed,omitempty"`
	Cause          error     `json:"cause,omitempty"`
	Timestamp      time.Time `json:"timestamp,omitempty"`
}

// Error implements the error interface.
func (e *TimeoutError) Error() string {
	return e.FormatError(false)
}

// FormatError formats the error based on debug mode.
func (e *TimeoutError) FormatError(debugMode bool) string {
	if !debugMode {
		return fmt.Sprintf("%s: %s (timeout: %ds)", e.Code, e.Message, e.TimeoutSeconds)
	}

	errorData := map[string]interface{}{
		"code":            e.Code,
		"type":            e.Type,
		"message":         e.Message,
		"timeout_seconds": e.TimeoutSeconds,
	}
	if e.Statement != "" {
		errorData["statement"] = e.Statement
	}
	if e.Elapsed != "" {
		errorData["elapsed"] = e.Elapsed
	}
	if !e.Timestamp.IsZero() {
		errorData["timestamp"] = e.Timestamp.Format(time.RFC3339Nano)
	}

	b, _ := json.MarshalIndent(errorData, "", "  ")
	return string(b)
}

// Unwrap returns the underlying cause error.
func (e *TimeoutError) Unwrap() error {
	return e.Cause
}

// JobError represents a failure in asynchronous job handling
// (submission, cancellation, lookup).
type JobError struct {
	Code       string                 `json:"code"`
	Type       string                 `json:"type"`
	Message    string                 `json:"message"`
	JobID      string                 `json:"job_id,omitempty"`
	Details    map[string]interface{} `json:"details,omitempty"`
	Cause      error                  `json:"cause,omitempty"`
	StackTrace []string               `json:"stack_trace,omitempty"`
}

// Error implements the error interface.
func (e *JobError) Error() string {
	return e.FormatError(false)
}

// FormatError formats the error based on debug mode.
func (e *JobError) FormatError(debugMode bool) string {
	if !debugMode {
		if e.JobID != "" {
			return fmt.Sprintf("%s: %s (job: %s)", e.Code, e.Message, e.JobID)
		}
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}

	errorData := map[string]interface{}{
		"code":    e.Code,
		"type":    e.Type,
		"message": e.Message,
	}
	if e.JobID != "" {
		errorData["job_id"] = e.JobID
	}
	if len(e.Details) > 0 {
		errorData["details"] = e.Details
	}
	if e.Cause != nil {
		errorData["cause"] = map[string]interface{}{"message": e.Cause.Error()}
	}
	if len(e.StackTrace) > 0 {
		errorData["stack_trace"] = e.StackTrace
	}

	b, _ := json.MarshalIndent(errorData, "", "  ")
	return string(b)
}

// Unwrap returns the underlying cause error.
func (e *JobError) Unwrap() error {
	return e.Cause
}

// ErrNegativeTimeout creates an error for a negative timeout value.
// Timeouts are whole non-negative seconds; zero means the default.
func ErrNegativeTimeout(seconds int) *CommandError {
	return &CommandError{
		Code:    "E_NEGATIVE_TIMEOUT",
		Type:    "COMMAND_ERROR",
		Message: fmt.Sprintf("timeout must be non-negative, got %d", seconds),
		Details: map[string]interface{}{
			"timeout_seconds": seconds,
		},
		StackTrace: captureStackTrace(),
		Timestamp:  time.Now(),
	}
}

// ErrTimeout creates a TimeoutError for a command that exceeded its timeout.
func ErrTimeout(statement string, seconds int, elapsed time.Duration) *TimeoutError {
	return &TimeoutError{
		Code:           "E_COMMAND_TIMEOUT",
		Type:           "TIMEOUT_ERROR",
		Message:        "command exceeded its configured timeout and was aborted",
		Statement:      statement,
		TimeoutSeconds: seconds,
		Elapsed:        elapsed.String(),
		Cause:          context.DeadlineExceeded,
		Timestamp:      time.Now(),
	}
}

// ErrQueueFull creates a JobError for submissions against a full queue.
func ErrQueueFull(depth int) *JobError {
	return &JobError{
		Code:    "E_QUEUE_FULL",
		Type:    "JOB_ERROR",
		Message: fmt.Sprintf("job queue is full (depth %d)", depth),
		Details: map[string]interface{}{
			"queue_depth": depth,
		},
		StackTrace: captureStackTrace(),
	}
}

// ErrJobNotFound creates a JobError for lookups of unknown or swept jobs.
func ErrJobNotFound(id string) *JobError {
	return &JobError{
		Code:    "E_JOB_NOT_FOUND",
		Type:    "JOB_ERROR",
		Message: "job does not exist or has been swept",
		JobID:   id,
	}
}

// ErrRunnerClosed creates a JobError for submissions after shutdown.
func ErrRunnerClosed() *JobError {
	return &JobError{
		Code:    "E_RUNNER_CLOSED",
		Type:    "JOB_ERROR",
		Message: "runner is closed",
	}
}

// captureStackTrace captures the current stack trace for error reporting.
func captureStackTrace() []string {
	const maxDepth = 32
	pcs := make([]uintptr, maxDepth)
	n := runtime.Callers(3, pcs)

	frames := make([]string, 0, n)
	callersFrames := runtime.CallersFrames(pcs[:n])

	for {
		frame, more := callersFrames.Next()
		frames = append(frames, fmt.Sprintf("%s (%s:%d)", frame.Function, frame.File, frame.Line))
		if !more {
			break
		}
	}

	return frames
}

// FormatError is a helper to format any error with debug mode support.
func FormatError(err error, debugMode bool) string {
	if err == nil {
		return ""
	}

	type debugFormatter interface {
		FormatError(bool) string
	}

	if formatter, ok := err.(debugFormatter); ok {
		return formatter.FormatError(debugMode)
	}

	return err.Error()
}
