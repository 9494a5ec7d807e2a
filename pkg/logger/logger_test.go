package logger

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]Level{
		"debug":   LevelDebug,
		"INFO":    LevelInfo,
		"warn":    LevelWarn,
		"warning": LevelWarn,
		" error ": LevelError,
		"fatal":   LevelFatal,
		"bogus":   LevelInfo,
		"":        LevelInfo,
	}
	for in, want := range cases {
		assert.Equal(t, want, ParseLevel(in), in)
	}
}

func TestWriterLogger_FiltersBelowLevel(t *testing.T) {
	var buf bytes.Buffer
	l := NewWriterLogger("warn", &buf)

	l.Debug("dropped debug")
	l.Infof("dropped %s", "info")
	l.Warnf("kept %d", 1)
	l.Error("kept error")

	out := buf.String()
	assert.NotContains(t, out, "dropped")
	assert.Contains(t, out, "WARN:  ")
	assert.Contains(t, out, "kept 1")
	assert.Contains(t, out, "ERROR: ")
	assert.Contains(t, out, "logger_test.go", "short file should point at the caller")
}

func TestSetOutput_Global(t *testing.T) {
	var buf bytes.Buffer
	SetOutput("debug", &buf)
	defer SetGlobalLogLevel("info")

	Debugf("slot=%d", 42)
	Warn("window evicted")

	assert.Contains(t, buf.String(), "DEBUG: ")
	assert.Contains(t, buf.String(), "slot=42")
	assert.Contains(t, buf.String(), "window evicted")
}
