package logger

import (
	"os"
	"sync/atomic"

	"github.com/go-logr/logr"
)

// LogrLogger adapts a logr.Logger to the Logger interface.
//
// logr has no warn level: Warn is logged at V(0) with a "level"="warn" pair, Error and Fatal go
// through logr's Error method. Debug is logged at V(1).
type LogrLogger struct {
	sink  logr.Logger
	level *atomic.Int32
}

var _ Logger = (*LogrLogger)(nil)

// NewLogr creates a Logger which forwards to l. The initial minimum level is InfoLevel.
func NewLogr(l logr.Logger) *LogrLogger {
	lv := &atomic.Int32{}
	lv.Store(int32(InfoLevel))

	return &LogrLogger{sink: l, level: lv}
}

func (l *LogrLogger) enabled(level LogLevel) bool {
	return level >= l.Level()
}

func (l *LogrLogger) Debug(msg string, keysAndValues ...any) {
	if l.enabled(DebugLevel) {
		l.sink.V(1).Info(msg, keysAndValues...)
	}
}

func (l *LogrLogger) Info(msg string, keysAndValues ...any) {
	if l.enabled(InfoLevel) {
		l.sink.Info(msg, keysAndValues...)
	}
}

func (l *LogrLogger) Warn(msg string, keysAndValues ...any) {
	if l.enabled(WarnLevel) {
		l.sink.Info(msg, append([]any{"level", "warn"}, keysAndValues...)...)
	}
}

func (l *LogrLogger) Error(msg string, keysAndValues ...any) {
	if l.enabled(ErrorLevel) {
		l.sink.Error(nil, msg, keysAndValues...)
	}
}

func (l *LogrLogger) Fatal(msg string, keysAndValues ...any) {
	l.sink.Error(nil, msg, keysAndValues...)
	os.Exit(1)
}

func (l *LogrLogger) With(keyValues ...any) Logger {
	return &LogrLogger{sink: l.sink.WithValues(keyValues...), level: l.level}
}

func (l *LogrLogger) Level() LogLevel {
	return LogLevel(l.level.Load())
}

func (l *LogrLogger) SetLevel(level LogLevel) {
	l.level.Store(int32(level))
}
