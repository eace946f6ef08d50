package testutil

import (
	"sync"

	"github.com/quarrydata/pgexport/command"
)

// LogEntry is one captured log call.
type LogEntry struct {
	Level   string
	Message string
	Fields  []command.Field
}

// CaptureLogger records log calls for assertions.
type CaptureLogger struct {
	mu      sync.Mutex
	entries []LogEntry
	fields  []command.Field
}

// NewCaptureLogger creates an empty capture logger.
func NewCaptureLogger() *CaptureLogger {
	return &CaptureLogger{}
}

func (l *CaptureLogger) record(level, msg string, fields []command.Field) {
	l.mu.Lock()
	defer l.mu.Unlock()
	all := append(append([]command.Field{}, l.fields...), fields...)
	l.entries = append(l.entries, LogEntry{Level: level, Message: msg, Fields: all})
}

// Debug implements command.Logger.
func (l *CaptureLogger) Debug(msg string, fields ...command.Field) { l.record("DEBUG", msg, fields) }

// Info implements command.Logger.
func (l *CaptureLogger) Info(msg string, fields ...command.Field) { l.record("INFO", msg, fields) }

// Warn implements command.Logger.
func (l *CaptureLogger) Warn(msg string, fields ...command.Field) { l.record("WARN", msg, fields) }

// Error implements command.Logger.
func (l *CaptureLogger) Error(msg string, fields ...command.Field) { l.record("ERROR", msg, fields) }

// WithFields implements command.Logger.
func (l *CaptureLogger) WithFields(fields ...command.Field) command.Logger {
	l.mu.Lock()
	defer l.mu.Unlock()
	return &CaptureLogger{fields: append(append([]command.Field{}, l.fields...), fields...)}
}

// Entries returns a copy of the captured log entries.
func (l *CaptureLogger) Entries() []LogEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]LogEntry{}, l.entries...)
}

// Contains reports whether any entry's message matches exactly.
func (l *CaptureLogger) Contains(msg string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range l.entries {
		if e.Message == msg {
			return true
		}
	}
	return false
}
