package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/phsym/zeroslog"
	"github.com/rs/zerolog"
)

// Logger defines the interface for logging throughout the application.
// Different implementations can be used for different contexts (console, silent, structured, etc.)
type Logger interface {
	Info(msg string, args ...interface{})
	Warn(msg string, args ...interface{})
	Error(msg string, args ...interface{})
	Debug(msg string, args ...interface{})
}

// ConsoleLogger writes human-readable logs to stderr.
// Stdout is left alone because the MCP stdio transport owns it.
type ConsoleLogger struct {
	zl zerolog.Logger
}

// NewConsoleLogger creates a ConsoleLogger at the given level ("debug", "info", "warn", "error").
func NewConsoleLogger(level string) *ConsoleLogger {
	return NewWriterLogger(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Stamp}, level)
}

// NewWriterLogger creates a ConsoleLogger that writes to w.
func NewWriterLogger(w io.Writer, level string) *ConsoleLogger {
	zl := zerolog.New(w).With().Timestamp().Logger().Level(ParseLevel(level))
	return &ConsoleLogger{zl: zl}
}

func (c *ConsoleLogger) Info(msg string, args ...interface{}) {
	c.zl.Info().Msgf(msg, args...)
}

func (c *ConsoleLogger) Warn(msg string, args ...interface{}) {
	c.zl.Warn().Msgf(msg, args...)
}

func (c *ConsoleLogger) Error(msg string, args ...interface{}) {
	c.zl.Error().Msgf(msg, args...)
}

func (c *ConsoleLogger) Debug(msg string, args ...interface{}) {
	c.zl.Debug().Msgf(msg, args...)
}

// Slog exposes the same sink as a *slog.Logger for libraries that log through slog.
func (c *ConsoleLogger) Slog() *slog.Logger {
	return slog.New(zeroslog.NewHandler(c.zl, &zeroslog.HandlerOptions{Level: slogLevel(c.zl.GetLevel())}))
}

// SilentLogger discards all log messages.
// Used by tests and one-shot CLI commands that print only their JSON result.
type SilentLogger struct{}

func NewSilentLogger() *SilentLogger {
	return &SilentLogger{}
}

func (s *SilentLogger) Info(msg string, args ...interface{})  {}
func (s *SilentLogger) Warn(msg string, args ...interface{})  {}
func (s *SilentLogger) Error(msg string, args ...interface{}) {}
func (s *SilentLogger) Debug(msg string, args ...interface{}) {}

// ParseLevel maps a level name to a zerolog level, defaulting to info.
func ParseLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "off", "disabled":
		return zerolog.Disabled
	default:
		return zerolog.InfoLevel
	}
}

func slogLevel(l zerolog.Level) slog.Level {
	switch {
	case l <= zerolog.DebugLevel:
		return slog.LevelDebug
	case l == zerolog.InfoLevel:
		return slog.LevelInfo
	case l == zerolog.WarnLevel:
		return slog.LevelWarn
	default:
		return slog.LevelError
	}
}
