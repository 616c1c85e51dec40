// Package logger defines the structured logging interface of go-hislip and its implementations.
//
// There is no package level logger. A Logger is built explicitly and injected into the session through
// hislipclient.WithLogger; the session discards its logs otherwise.
//
// Implementations:
//
//   - NewSlog: log/slog with a JSON handler, or the console-slog handler for interactive use.
//   - NewLogr: adapter for a go-logr/logr logger, e.g. one backed by zap.
//   - NewNop: discards everything.
//   - MockLogger: testify mock for asserting log calls in tests.
//
// Key/value pairs follow the slog convention: alternating string keys and arbitrary values.
package logger

import (
	"fmt"
	"strings"
)

// LogLevel is the severity of a log record. Higher is more severe.
type LogLevel = int8

// Severity levels, ordered from the most verbose.
const (
	// DebugLevel covers per-message traces such as every message sent and received.
	DebugLevel LogLevel = iota - 1
	// InfoLevel covers session lifecycle events.
	InfoLevel
	// WarnLevel covers recoverable anomalies, e.g. an unsolicited response.
	WarnLevel
	// ErrorLevel covers failures which end a session.
	ErrorLevel
	// FatalLevel records are followed by os.Exit(1).
	FatalLevel
)

// ParseLevel converts a level name ("debug", "info", "warn", "error", "fatal") into a LogLevel.
// An empty name selects InfoLevel.
func ParseLevel(name string) (LogLevel, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return DebugLevel, nil
	case "info", "":
		return InfoLevel, nil
	case "warn", "warning":
		return WarnLevel, nil
	case "error":
		return ErrorLevel, nil
	case "fatal":
		return FatalLevel, nil
	default:
		return InfoLevel, fmt.Errorf("unknown log level %q", name)
	}
}

// Logger is the structured logger used by every go-hislip package.
//
// Each logging method takes a message and alternating key/value pairs, which are emitted after the
// pairs attached with With.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
	// Fatal logs at FatalLevel and calls os.Exit(1), whatever the enabled level.
	Fatal(msg string, keysAndValues ...any)
	// With returns a child logger carrying keyValues on every record. The parent is not modified.
	With(keyValues ...any) Logger
	// Level returns the minimum enabled level.
	Level() LogLevel
	// SetLevel changes the minimum enabled level.
	SetLevel(level LogLevel)
}
