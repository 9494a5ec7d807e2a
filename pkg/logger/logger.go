// Package logger provides the leveled operator log used across the bot.
package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"
)

// Level is a log severity.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
	LevelFatal
)

// ParseLevel maps "debug", "info", "warn", "error", "fatal" to a Level.
// Unknown values fall back to info.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	case "fatal":
		return LevelFatal
	default:
		return LevelInfo
	}
}

// Logger defines a simple interface for logging.
type Logger interface {
	Debug(args ...interface{})
	Debugf(format string, args ...interface{})
	Info(args ...interface{})
	Infof(format string, args ...interface{})
	Warn(args ...interface{})
	Warnf(format string, args ...interface{})
	Error(args ...interface{})
	Errorf(format string, args ...interface{})
	Fatal(args ...interface{})
	Fatalf(format string, args ...interface{})
}

const flags = log.Ldate | log.Ltime | log.Lmicroseconds | log.Lshortfile

type defaultLogger struct {
	mu    sync.RWMutex
	debug *log.Logger
	info  *log.Logger
	warn  *log.Logger
	err   *log.Logger
	fatal *log.Logger
}

func newDefaultLogger(level Level, out, errOut io.Writer) *defaultLogger {
	l := &defaultLogger{}
	l.configure(level, out, errOut)
	return l
}

func (l *defaultLogger) configure(level Level, out, errOut io.Writer) {
	pick := func(at Level, w io.Writer, prefix string) *log.Logger {
		if level > at {
			return log.New(io.Discard, "", 0)
		}
		return log.New(w, prefix, flags)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.debug = pick(LevelDebug, out, "DEBUG: ")
	l.info = pick(LevelInfo, out, "INFO:  ")
	l.warn = pick(LevelWarn, out, "WARN:  ")
	l.err = pick(LevelError, errOut, "ERROR: ")
	// fatal always writes
	l.fatal = log.New(errOut, "FATAL: ", flags)
}

func (l *defaultLogger) get(level Level) *log.Logger {
	l.mu.RLock()
	defer l.mu.RUnlock()
	switch level {
	case LevelDebug:
		return l.debug
	case LevelInfo:
		return l.info
	case LevelWarn:
		return l.warn
	case LevelError:
		return l.err
	default:
		return l.fatal
	}
}

// calldepth 3 skips get/println and the package-level wrapper so Lshortfile
// points at the caller.
func (l *defaultLogger) println(level Level, args ...interface{}) {
	_ = l.get(level).Output(3, fmt.Sprintln(args...))
}

func (l *defaultLogger) printf(level Level, format string, args ...interface{}) {
	_ = l.get(level).Output(3, fmt.Sprintf(format, args...))
}

func (l *defaultLogger) Debug(args ...interface{})                 { l.println(LevelDebug, args...) }
func (l *defaultLogger) Debugf(format string, args ...interface{}) { l.printf(LevelDebug, format, args...) }
func (l *defaultLogger) Info(args ...interface{})                  { l.println(LevelInfo, args...) }
func (l *defaultLogger) Infof(format string, args ...interface{})  { l.printf(LevelInfo, format, args...) }
func (l *defaultLogger) Warn(args ...interface{})                  { l.println(LevelWarn, args...) }
func (l *defaultLogger) Warnf(format string, args ...interface{})  { l.printf(LevelWarn, format, args...) }
func (l *defaultLogger) Error(args ...interface{})                 { l.println(LevelError, args...) }
func (l *defaultLogger) Errorf(format string, args ...interface{}) { l.printf(LevelError, format, args...) }

func (l *defaultLogger) Fatal(args ...interface{}) {
	l.println(LevelFatal, args...)
	os.Exit(1)
}

func (l *defaultLogger) Fatalf(format string, args ...interface{}) {
	l.printf(LevelFatal, format, args...)
	os.Exit(1)
}

// NewLogger creates a standalone Logger writing to stdout/stderr at the given level.
func NewLogger(logLevel string) Logger {
	return newDefaultLogger(ParseLevel(logLevel), os.Stdout, os.Stderr)
}

// NewWriterLogger is NewLogger with explicit sinks. Both streams go to w.
func NewWriterLogger(logLevel string, w io.Writer) Logger {
	return newDefaultLogger(ParseLevel(logLevel), w, w)
}

var std = newDefaultLogger(LevelInfo, os.Stdout, os.Stderr)

// SetGlobalLogLevel reconfigures the global logger's level.
func SetGlobalLogLevel(logLevel string) {
	std.configure(ParseLevel(logLevel), os.Stdout, os.Stderr)
}

// SetOutput redirects the global logger, mostly for tests.
func SetOutput(logLevel string, w io.Writer) {
	std.configure(ParseLevel(logLevel), w, w)
}

// Debug logs a debug message using the global logger.
func Debug(args ...interface{}) { std.println(LevelDebug, args...) }

// Debugf logs a debug message with formatting.
func Debugf(format string, args ...interface{}) { std.printf(LevelDebug, format, args...) }

// Info logs an informational message using the global logger.
func Info(args ...interface{}) { std.println(LevelInfo, args...) }

// Infof logs an informational message with formatting.
func Infof(format string, args ...interface{}) { std.printf(LevelInfo, format, args...) }

// Warn logs a warning.
func Warn(args ...interface{}) { std.println(LevelWarn, args...) }

// Warnf logs a warning with formatting.
func Warnf(format string, args ...interface{}) { std.printf(LevelWarn, format, args...) }

// Error logs an error message.
func Error(args ...interface{}) { std.println(LevelError, args...) }

// Errorf logs an error message with formatting.
func Errorf(format string, args ...interface{}) { std.printf(LevelError, format, args...) }

// Fatal logs a fatal error message and exits.
func Fatal(args ...interface{}) {
	std.println(LevelFatal, args...)
	os.Exit(1)
}

// Fatalf logs a fatal error message with formatting and exits.
func Fatalf(format string, args ...interface{}) {
	std.printf(LevelFatal, format, args...)
	os.Exit(1)
}
