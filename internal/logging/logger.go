// Package logging provides leveled logging with key/value context.
//
// The Logger supports DEBUG, INFO, WARN, and ERROR levels.
// Messages below the configured level are silently discarded.
// Records are written through log/slog's text handler so that context
// attached with With (prompt_id, client_id, user) is emitted as key=value
// pairs after the message.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// Level represents a log level
type Level int

const (
	// LevelDebug is the debug log level
	LevelDebug Level = iota
	// LevelInfo is the info log level
	LevelInfo
	// LevelWarn is the warn log level
	LevelWarn
	// LevelError is the error log level
	LevelError
)

var levelNames = [...]string{
	LevelDebug: "DEBUG",
	LevelInfo:  "INFO",
	LevelWarn:  "WARN",
	LevelError: "ERROR",
}

var slogLevels = [...]slog.Level{
	LevelDebug: slog.LevelDebug,
	LevelInfo:  slog.LevelInfo,
	LevelWarn:  slog.LevelWarn,
	LevelError: slog.LevelError,
}

func (l Level) valid() bool {
	return l >= LevelDebug && l <= LevelError
}

// String returns the upper-case name of the level, or UNKNOWN.
func (l Level) String() string {
	if !l.valid() {
		return "UNKNOWN"
	}
	return levelNames[l]
}

// slogLevel maps a Level onto the slog scale; unknown levels log as info.
func (l Level) slogLevel() slog.Level {
	if !l.valid() {
		return slog.LevelInfo
	}
	return slogLevels[l]
}

// ParseLevel parses a level name, case-insensitively. Unrecognized names
// give LevelInfo.
func ParseLevel(s string) Level {
	for l, name := range levelNames {
		if strings.EqualFold(s, name) {
			return Level(l)
		}
	}
	return LevelInfo
}

// Logger provides leveled logging
type Logger struct {
	level  *slog.LevelVar
	logger *slog.Logger
}

// New creates a new Logger with the specified level and output writer.
// If output is nil, os.Stderr is used.
func New(level Level, output io.Writer) *Logger {
	if output == nil {
		output = os.Stderr
	}

	lv := &slog.LevelVar{}
	lv.Set(level.slogLevel())

	handler := slog.NewTextHandler(output, &slog.HandlerOptions{Level: lv})
	return &Logger{
		level:  lv,
		logger: slog.New(handler),
	}
}

// NewFromString creates a new Logger from a level string.
// If output is nil, os.Stderr is used.
func NewFromString(levelStr string, output io.Writer) *Logger {
	return New(ParseLevel(levelStr), output)
}

// Discard returns a logger that drops every message.
func Discard() *Logger {
	return New(LevelError, io.Discard)
}

// With returns a child logger that adds the given key/value pairs to every
// message. The child shares the parent's level.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{
		level:  l.level,
		logger: l.logger.With(args...),
	}
}

// Debug logs a debug message
func (l *Logger) Debug(format string, v ...any) {
	l.log(LevelDebug, format, v...)
}

// Info logs an info message
func (l *Logger) Info(format string, v ...any) {
	l.log(LevelInfo, format, v...)
}

// Warn logs a warning message
func (l *Logger) Warn(format string, v ...any) {
	l.log(LevelWarn, format, v...)
}

// Error logs an error message
func (l *Logger) Error(format string, v ...any) {
	l.log(LevelError, format, v...)
}

func (l *Logger) log(level Level, format string, v ...any) {
	sl := level.slogLevel()
	if !l.logger.Enabled(context.Background(), sl) {
		return
	}
	l.logger.Log(context.Background(), sl, fmt.Sprintf(format, v...))
}

// SetLevel changes the logger's level. Children created with With follow
// the change.
func (l *Logger) SetLevel(level Level) {
	l.level.Set(level.slogLevel())
}

// GetLevel returns the logger's current level
func (l *Logger) GetLevel() Level {
	switch lv := l.level.Level(); {
	case lv <= slog.LevelDebug:
		return LevelDebug
	case lv <= slog.LevelInfo:
		return LevelInfo
	case lv <= slog.LevelWarn:
		return LevelWarn
	default:
		return LevelError
	}
}
