package logger

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/go-logr/logr/funcr"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	require := require.New(t)

	tests := []struct {
		name     string
		expected LogLevel
	}{
		{"debug", DebugLevel},
		{"INFO", InfoLevel},
		{"", InfoLevel},
		{"warning", WarnLevel},
		{" error ", ErrorLevel},
		{"fatal", FatalLevel},
	}

	for _, tt := range tests {
		level, err := ParseLevel(tt.name)
		require.NoError(err, tt.name)
		require.Equal(tt.expected, level, tt.name)
	}

	_, err := ParseLevel("verbose")
	require.Error(err)
}

func TestSlogLogger_JSONOutput(t *testing.T) {
	require := require.New(t)

	var buf bytes.Buffer
	l := NewSlog(InfoLevel, false, WithOutput(&buf), WithConsole(false))

	l.Debug("hidden")
	require.Zero(buf.Len())

	l.With("session", 7).Info("opened", "host", "127.0.0.1")

	var rec map[string]any
	require.NoError(json.Unmarshal(buf.Bytes(), &rec))
	require.Equal("opened", rec["msg"])
	require.Equal("127.0.0.1", rec["host"])
	require.EqualValues(7, rec["session"])
	require.Contains(rec, "ts")
}

func TestSlogLogger_SetLevel(t *testing.T) {
	require := require.New(t)

	var buf bytes.Buffer
	l := NewSlog(ErrorLevel, false, WithOutput(&buf), WithConsole(false))
	require.Equal(ErrorLevel, l.Level())

	l.Warn("dropped")
	require.Zero(buf.Len())

	child := l.With("k", "v")
	l.SetLevel(DebugLevel)
	require.Equal(DebugLevel, child.Level())

	child.Debug("kept")
	require.Contains(buf.String(), "kept")
}

func TestSlogLogger_Console(t *testing.T) {
	var buf bytes.Buffer
	l := NewSlog(InfoLevel, false, WithOutput(&buf), WithConsole(true))

	l.Info("console message", "key", "value")
	require.Contains(t, buf.String(), "console message")
}

func TestLogrLogger(t *testing.T) {
	require := require.New(t)

	var lines []string
	sink := funcr.New(func(prefix, args string) {
		lines = append(lines, args)
	}, funcr.Options{Verbosity: 1})

	l := NewLogr(sink)
	l.Debug("not enabled")
	require.Empty(lines)

	l.SetLevel(DebugLevel)
	l.Debug("enabled")
	l.With("session", 1).Warn("careful")
	l.Error("broken", "code", 3)

	require.Len(lines, 3)
	require.Contains(lines[0], `"msg"="enabled"`)
	require.Contains(lines[1], `"level"="warn"`)
	require.Contains(lines[1], `"session"=1`)
	require.True(strings.Contains(lines[2], `"code"=3`))
}

func TestNopLogger(t *testing.T) {
	l := NewNop()
	l.Info("nothing")
	require.Equal(t, FatalLevel, l.With("a", 1).Level())
}
