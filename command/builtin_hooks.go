package command

import (
	"context"
	"sync/atomic"
	"time"
)

// LoggingHook logs command execution with configurable detail levels.
type LoggingHook struct {
	logger        Logger
	logStatements bool
	logDurations  bool
}

// NewLoggingHook creates a logging hook with the given logger.
func NewLoggingHook(logger Logger, logStatements, logDurations bool) *LoggingHook {
	return &LoggingHook{
		logger:        logger,
		logStatements: logStatements,
		logDurations:  logDurations,
	}
}

func (h *LoggingHook) Name() string {
	return "logging"
}

func (h *LoggingHook) Before(ctx context.Context, hookCtx *HookContext) error {
	if h.logStatements {
		h.logger.Debug("executing command",
			String("statement", hookCtx.Statement),
			String("kind", hookCtx.Kind),
			String("trace_id", hookCtx.TraceID))
	}
	return nil
}

func (h *LoggingHook) After(ctx context.Context, hookCtx *HookContext) error {
	fields := []Field{
		String("kind", hookCtx.Kind),
		String("trace_id", hookCtx.TraceID),
	}

	if h.logDurations {
		fields = append(fields, Duration("duration", hookCtx.Duration))
	}

	if hookCtx.Err != nil {
		fields = append(fields, Error("error", hookCtx.Err))
		h.logger.Error("command failed", fields...)
	} else {
		h.logger.Debug("command completed", fields...)
	}

	return nil
}

// SlowCommandHook warns when a command takes longer than the threshold.
// Commands near their timeout often indicate a missing index or a timeout
// set high enough to mask a performance problem.
type SlowCommandHook struct {
	logger    Logger
	threshold time.Duration
}

// NewSlowCommandHook creates a hook that logs commands slower than threshold.
func NewSlowCommandHook(logger Logger, threshold time.Duration) *SlowCommandHook {
	return &SlowCommandHook{logger: logger, threshold: threshold}
}

func (h *SlowCommandHook) Name() string {
	return "slow_command"
}

func (h *SlowCommandHook) Before(ctx context.Context, hookCtx *HookContext) error {
	return nil
}

func (h *SlowCommandHook) After(ctx context.Context, hookCtx *HookContext) error {
	if h.threshold > 0 && hookCtx.Duration >= h.threshold {
		h.logger.Warn("slow command",
			String("statement", hookCtx.Statement),
			String("kind", hookCtx.Kind),
			String("trace_id", hookCtx.TraceID),
			Duration("duration", hookCtx.Duration),
			Duration("threshold", h.threshold))
	}
	return nil
}

// CounterHook collects execution counts using atomic counters. For
// Prometheus export use the metrics package instead.
type CounterHook struct {
	TotalCommands   atomic.Uint64
	TotalQueries    atomic.Uint64
	TotalMutations  atomic.Uint64
	TotalErrors     atomic.Uint64
	TotalTimeouts   atomic.Uint64
	TotalDurationNs atomic.Uint64
}

// NewCounterHook creates a new counting hook.
func NewCounterHook() *CounterHook {
	return &CounterHook{}
}

func (h *CounterHook) Name() string {
	return "counter"
}

func (h *CounterHook) Before(ctx context.Context, hookCtx *HookContext) error {
	return nil
}

func (h *CounterHook) After(ctx context.Context, hookCtx *HookContext) error {
	h.TotalCommands.Add(1)
	h.TotalDurationNs.Add(uint64(hookCtx.Duration.Nanoseconds()))

	switch hookCtx.Kind {
	case KindQuery:
		h.TotalQueries.Add(1)
	case KindMutation:
		h.TotalMutations.Add(1)
	}

	if hookCtx.Err != nil {
		h.TotalErrors.Add(1)
		if _, ok := hookCtx.Err.(*TimeoutError); ok {
			h.TotalTimeouts.Add(1)
		}
	}

	return nil
}

// Stats returns current counters as a map.
func (h *CounterHook) Stats() map[string]interface{} {
	totalCmds := h.TotalCommands.Load()
	totalDur := h.TotalDurationNs.Load()

	avgDuration := int64(0)
	if totalCmds > 0 {
		avgDuration = int64(totalDur / totalCmds)
	}

	return map[string]interface{}{
		"total_commands":  totalCmds,
		"total_queries":   h.TotalQueries.Load(),
		"total_mutations": h.TotalMutations.Load(),
		"total_errors":    h.TotalErrors.Load(),
		"total_timeouts":  h.TotalTimeouts.Load(),
		"avg_duration_ms": float64(avgDuration) / 1_000_000,
	}
}

// Reset clears all counters.
func (h *CounterHook) Reset() {
	h.TotalCommands.Store(0)
	h.TotalQueries.Store(0)
	h.TotalMutations.Store(0)
	h.TotalErrors.Store(0)
	h.TotalTimeouts.Store(0)
	h.TotalDurationNs.Store(0)
}
