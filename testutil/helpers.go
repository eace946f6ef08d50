// Package testutil provides helpers shared by the package tests.
package testutil

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// WithTimeout creates a context with timeout for tests.
// Default timeout is 10 seconds.
func WithTimeout(t *testing.T, timeout ...time.Duration) (context.Context, context.CancelFunc) {
	t.Helper()

	duration := 10 * time.Second
	if len(timeout) > 0 {
		duration = timeout[0]
	}

	ctx, cancel := context.WithTimeout(context.Background(), duration)
	t.Cleanup(cancel)

	return ctx, cancel
}

// TempFile writes content to a file in a test-scoped temp directory and
// returns its path. The file is removed when the test finishes.
func TempFile(t *testing.T, name, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write temp file %s: %v", name, err)
	}
	return path
}

// WaitFor polls a condition until it returns true or times out.
// This is useful for testing async job completion.
func WaitFor(t *testing.T, timeout, interval time.Duration, condition func() bool) bool {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return true
		}
		time.Sleep(interval)
	}

	t.Errorf("condition not met within timeout %v", timeout)
	return false
}
