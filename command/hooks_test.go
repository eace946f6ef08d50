package command

import (
	"context"
	"errors"
	"testing"
)

// testHook records invocations and optionally returns configured errors.
type testHook struct {
	name      string
	beforeErr error
	afterErr  error

	beforeCalls int
	afterCalls  int
	rewrite     string
}

func (h *testHook) Name() string { return h.name }

func (h *testHook) Before(ctx context.Context, hookCtx *HookContext) error {
	h.beforeCalls++
	if h.rewrite != "" {
		hookCtx.Statement = h.rewrite
	}
	return h.beforeErr
}

func (h *testHook) After(ctx context.Context, hookCtx *HookContext) error {
	h.afterCalls++
	return h.afterErr
}

func newTestClient() *Client {
	return &Client{
		opts:   DefaultOptions(),
		logger: NewNoopLogger(),
	}
}

func TestRegisterHookOrder(t *testing.T) {
	c := newTestClient()

	c.RegisterHook(&testHook{name: "first"})
	c.RegisterHook(&testHook{name: "second"})
	c.RegisterHook(&testHook{name: "third"})

	names := c.Hooks()
	if len(names) != 3 {
		t.Fatalf("expected 3 hooks, got %d", len(names))
	}
	if names[0] != "first" || names[1] != "second" || names[2] != "third" {
		t.Errorf("hooks out of registration order: %v", names)
	}
}

func TestRegisterHookReplacesByName(t *testing.T) {
	c := newTestClient()

	original := &testHook{name: "audit"}
	replacement := &testHook{name: "audit"}

	c.RegisterHook(original)
	c.RegisterHook(&testHook{name: "other"})
	c.RegisterHook(replacement)

	names := c.Hooks()
	if len(names) != 2 {
		t.Fatalf("expected 2 hooks after replacement, got %d", len(names))
	}
	// Replacement keeps the original position.
	if names[0] != "audit" {
		t.Errorf("expected audit to keep first position, got %v", names)
	}

	hookCtx := &HookContext{Metadata: make(map[string]interface{})}
	c.executeBeforeHooks(context.Background(), hookCtx)

	if original.beforeCalls != 0 {
		t.Error("replaced hook should not be called")
	}
	if replacement.beforeCalls != 1 {
		t.Error("replacement hook should be called")
	}
}

func TestUnregisterHook(t *testing.T) {
	c := newTestClient()
	c.RegisterHook(&testHook{name: "audit"})

	if !c.UnregisterHook("audit") {
		t.Error("expected unregister to succeed")
	}
	if c.UnregisterHook("audit") {
		t.Error("expected second unregister to fail")
	}
	if len(c.Hooks()) != 0 {
		t.Errorf("expected no hooks, got %v", c.Hooks())
	}
}

func TestBeforeHookAbortsChain(t *testing.T) {
	c := newTestClient()

	abortErr := errors.New("rejected")
	first := &testHook{name: "first", beforeErr: abortErr}
	second := &testHook{name: "second"}
	c.RegisterHook(first)
	c.RegisterHook(second)

	hookCtx := &HookContext{Metadata: make(map[string]interface{})}
	err := c.executeBeforeHooks(context.Background(), hookCtx)

	if err != abortErr {
		t.Errorf("expected abort error, got %v", err)
	}
	if second.beforeCalls != 0 {
		t.Error("second hook should not run after abort")
	}
}

func TestAfterHooksAllRun(t *testing.T) {
	c := newTestClient()

	failErr := errors.New("after failed")
	first := &testHook{name: "first", afterErr: failErr}
	second := &testHook{name: "second"}
	c.RegisterHook(first)
	c.RegisterHook(second)

	hookCtx := &HookContext{Metadata: make(map[string]interface{})}
	err := c.executeAfterHooks(context.Background(), hookCtx)

	if err != failErr {
		t.Errorf("expected after error to propagate, got %v", err)
	}
	if second.afterCalls != 1 {
		t.Error("all after hooks should run even when one fails")
	}
}

func TestBeforeHookRewritesStatement(t *testing.T) {
	c := newTestClient()
	c.RegisterHook(&testHook{name: "rewriter", rewrite: "SELECT 2"})

	hookCtx := &HookContext{
		Statement: "SELECT 1",
		Metadata:  make(map[string]interface{}),
	}
	if err := c.executeBeforeHooks(context.Background(), hookCtx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if hookCtx.Statement != "SELECT 2" {
		t.Errorf("expected rewritten statement, got %q", hookCtx.Statement)
	}
}
