package command

import (
	"context"
	"time"
)

// HookContext carries information about the command being executed.
// Hooks may inspect and modify it.
type HookContext struct {
	// Statement is the SQL text being executed. Before hooks may rewrite it.
	Statement string

	// Kind categorizes the command (query, mutation, ddl, copy, unknown).
	Kind string

	// Args are the statement arguments.
	Args []interface{}

	// StartTime is when execution began.
	StartTime time.Time

	// Metadata allows hooks to pass data between Before and After.
	Metadata map[string]interface{}

	// TraceID uniquely identifies this execution.
	TraceID string

	// Result holds the command result (set after execution).
	Result interface{}

	// Err holds any execution error (set after execution).
	Err error

	// Duration is the execution time (set after execution).
	Duration time.Duration
}

// Hook is the interface for command execution hooks.
type Hook interface {
	// Name returns the unique name of this hook.
	Name() string

	// Before is called before execution. Returning an error aborts the
	// command with that error.
	Before(ctx context.Context, hookCtx *HookContext) error

	// After is called after execution, even on failure. Returning an error
	// replaces any existing error.
	After(ctx context.Context, hookCtx *HookContext) error
}

// hookEntry wraps a Hook with its registration order for stable iteration.
type hookEntry struct {
	hook  Hook
	order int
}

// RegisterHook adds a hook to the client's hook chain.
// Hooks execute in registration order. A hook with an existing name
// replaces the old one, preserving its position.
func (c *Client) RegisterHook(hook Hook) {
	c.hooksMu.Lock()
	defer c.hooksMu.Unlock()

	for i, entry := range c.hooks {
		if entry.hook.Name() == hook.Name() {
			c.hooks[i].hook = hook
			c.logger.Info("hook replaced", String("hook", hook.Name()))
			return
		}
	}

	order := len(c.hooks)
	c.hooks = append(c.hooks, hookEntry{hook: hook, order: order})
	c.logger.Info("hook registered", String("hook", hook.Name()), Int("order", order))
}

// UnregisterHook removes a hook by name.
// Returns true if the hook was found and removed.
func (c *Client) UnregisterHook(name string) bool {
	c.hooksMu.Lock()
	defer c.hooksMu.Unlock()

	for i, entry := range c.hooks {
		if entry.hook.Name() == name {
			c.hooks = append(c.hooks[:i], c.hooks[i+1:]...)
			c.logger.Info("hook unregistered", String("hook", name))
			return true
		}
	}

	return false
}

// Hooks returns the names of all registered hooks in execution order.
func (c *Client) Hooks() []string {
	c.hooksMu.RLock()
	defer c.hooksMu.RUnlock()

	names := make([]string, len(c.hooks))
	for i, entry := range c.hooks {
		names[i] = entry.hook.Name()
	}
	return names
}

// executeBeforeHooks runs all Before hooks in order; the first error stops
// the chain and aborts the command.
func (c *Client) executeBeforeHooks(ctx context.Context, hookCtx *HookContext) error {
	hooks := c.snapshotHooks()

	for _, hook := range hooks {
		if err := hook.Before(ctx, hookCtx); err != nil {
			c.logger.Debug("hook aborted command",
				String("hook", hook.Name()),
				String("trace_id", hookCtx.TraceID),
				Error("error", err))
			return err
		}
	}

	return nil
}

// executeAfterHooks runs all After hooks in order. All hooks run even if
// one fails; the last error (if any) is returned.
func (c *Client) executeAfterHooks(ctx context.Context, hookCtx *HookContext) error {
	hooks := c.snapshotHooks()

	var lastErr error
	for _, hook := range hooks {
		if err := hook.After(ctx, hookCtx); err != nil {
			c.logger.Debug("hook returned error in After",
				String("hook", hook.Name()),
				String("trace_id", hookCtx.TraceID),
				Error("error", err))
			lastErr = err
		}
	}

	return lastErr
}

func (c *Client) snapshotHooks() []Hook {
	c.hooksMu.RLock()
	defer c.hooksMu.RUnlock()

	hooks := make([]Hook, len(c.hooks))
	for i, entry := range c.hooks {
		hooks[i] = entry.hook
	}
	return hooks
}
