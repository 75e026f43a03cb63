// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package logging is furui's structured logger, a thin wrapper
// around log/slog giving every call site the same
// `logger.Info("msg", "key", val, ...)` shape the rest of the
// codebase uses, plus the text/JSON toggle the -log-fmt CLI flag
// switches on.
package logging

import (
	"io"
	"log/slog"
	"os"
)

// Level is a logging severity, independent of slog's own Level type
// so call sites never need to import log/slog directly.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) slogLevel() slog.Level {
	switch l {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Config controls how a Logger formats and where it writes.
type Config struct {
	Output io.Writer
	Level  Level
	JSON   bool
}

// DefaultConfig writes text-formatted info-level logs to stderr.
func DefaultConfig() Config {
	return Config{
		Output: os.Stderr,
		Level:  LevelInfo,
		JSON:   false,
	}
}

// Logger wraps *slog.Logger, adding WithComponent for the
// sub-logger-per-subsystem idiom used throughout furui.
type Logger struct {
	slog *slog.Logger
}

// New constructs a Logger from cfg.
func New(cfg Config) *Logger {
	output := cfg.Output
	if output == nil {
		output = os.Stderr
	}

	opts := &slog.HandlerOptions{Level: cfg.Level.slogLevel()}

	var handler slog.Handler
	if cfg.JSON {
		handler = slog.NewJSONHandler(output, opts)
	} else {
		handler = slog.NewTextHandler(output, opts)
	}

	return &Logger{slog: slog.New(handler)}
}

// WithComponent returns a Logger that tags every record with
// component=name, the idiom used to scope a subsystem's logs
// (e.g. "loader", "eventdrain", "policywatch").
func (l *Logger) WithComponent(name string) *Logger {
	return &Logger{slog: l.slog.With("component", name)}
}

// With returns a Logger with additional persistent key/value pairs.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{slog: l.slog.With(args...)}
}

func (l *Logger) Debug(msg string, args ...any) { l.slog.Debug(msg, args...) }
func (l *Logger) Info(msg string, args ...any)  { l.slog.Info(msg, args...) }
func (l *Logger) Warn(msg string, args ...any)  { l.slog.Warn(msg, args...) }
func (l *Logger) Error(msg string, args ...any) { l.slog.Error(msg, args...) }

// defaultLogger is the logger the package-level helpers write
// through, set via SetDefault by cmd/furui at startup.
var defaultLogger = New(DefaultConfig())

// SetDefault installs l as the package-level default logger.
func SetDefault(l *Logger) { defaultLogger = l }

// Default returns the current package-level default logger.
func Default() *Logger { return defaultLogger }

func Debug(msg string, args ...any) { defaultLogger.Debug(msg, args...) }
func Info(msg string, args ...any)  { defaultLogger.Info(msg, args...) }
func Warn(msg string, args ...any)  { defaultLogger.Warn(msg, args...) }
func Error(msg string, args ...any) { defaultLogger.Error(msg, args...) }
