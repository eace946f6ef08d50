package command

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func parseLogLine(t *testing.T, line string) map[string]interface{} {
	t.Helper()

	var parsed map[string]interface{}
	if err := json.Unmarshal([]byte(line), &parsed); err != nil {
		t.Fatalf("log line should be valid JSON: %v (line: %s)", err, line)
	}
	return parsed
}

func TestLoggerEmitsJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger("INFO", &buf)

	logger.Info("command executed", String("kind", "query"), Int("rows", 10))

	parsed := parseLogLine(t, strings.TrimSpace(buf.String()))
	if parsed["level"] != "INFO" {
		t.Errorf("expected level INFO, got %v", parsed["level"])
	}
	if parsed["message"] != "command executed" {
		t.Errorf("expected message, got %v", parsed["message"])
	}
	if parsed["kind"] != "query" {
		t.Errorf("expected kind field, got %v", parsed["kind"])
	}
	if parsed["rows"] != float64(10) {
		t.Errorf("expected rows=10, got %v", parsed["rows"])
	}
	if parsed["timestamp"] == nil {
		t.Error("expected a timestamp field")
	}
}

func TestLoggerLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger("WARN", &buf)

	logger.Debug("debug message")
	logger.Info("info message")
	logger.Warn("warn message")
	logger.Error("error message")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines at WARN level, got %d: %v", len(lines), lines)
	}
	if !strings.Contains(lines[0], "warn message") {
		t.Errorf("expected warn message first, got: %s", lines[0])
	}
}

func TestLoggerRedactsSensitiveFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger("INFO", &buf)

	logger.Info("connecting",
		String("dsn", "postgres://user:hunter2@db/prod"),
		String("password", "hunter2"),
		String("host", "db.internal"))

	parsed := parseLogLine(t, strings.TrimSpace(buf.String()))
	if parsed["dsn"] != "[REDACTED]" {
		t.Errorf("expected dsn redacted, got %v", parsed["dsn"])
	}
	if parsed["password"] != "[REDACTED]" {
		t.Errorf("expected password redacted, got %v", parsed["password"])
	}
	if parsed["host"] != "db.internal" {
		t.Errorf("expected host untouched, got %v", parsed["host"])
	}
}

func TestLoggerWithFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger("INFO", &buf).WithFields(String("component", "runner"))

	logger.Info("job started")

	parsed := parseLogLine(t, strings.TrimSpace(buf.String()))
	if parsed["component"] != "runner" {
		t.Errorf("expected base field component, got %v", parsed["component"])
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		input string
		level LogLevel
	}{
		{"DEBUG", DEBUG},
		{"debug", DEBUG},
		{"INFO", INFO},
		{"WARN", WARN},
		{"ERROR", ERROR},
		{"unknown", INFO},
		{"", INFO},
	}

	for _, tt := range tests {
		if got := ParseLogLevel(tt.input); got != tt.level {
			t.Errorf("ParseLogLevel(%q) = %v, want %v", tt.input, got, tt.level)
		}
	}
}

func TestFieldHelpers(t *testing.T) {
	if f := Duration("elapsed", 1500*time.Millisecond); f.Value != "1.5s" {
		t.Errorf("expected duration as string, got %v", f.Value)
	}
	if f := Error("error", nil); f.Value != nil {
		t.Errorf("expected nil value for nil error, got %v", f.Value)
	}
	if f := Bool("ok", true); f.Value != true {
		t.Errorf("expected true, got %v", f.Value)
	}
}
