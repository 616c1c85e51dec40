package logger

import "os"

type nopLogger struct{}

var _ Logger = nopLogger{}

// NewNop returns a Logger which discards all messages.
//
// Its Fatal method still exits the process, consistent with the Logger contract.
func NewNop() Logger { return nopLogger{} }

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any) {}
func (nopLogger) Warn(string, ...any) {}
func (nopLogger) Error(string, ...any) {}
func (nopLogger) Fatal(string, ...any) { os.Exit(1) }
func (l nopLogger) With(...any) Logger { return l }
func (nopLogger) Level() LogLevel { return FatalLevel }
func (nopLogger) SetLevel(LogLevel) {}
