// Package logger provides leveled structured logging.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime"
	"strings"
	"time"
)

// Level represents a logging level.
type Level int

const (
	DebugLevel Level = iota
	InfoLevel
	WarnLevel
	ErrorLevel
)

func (l Level) slogLevel() slog.Level {
	switch l {
	case DebugLevel:
		return slog.LevelDebug
	case WarnLevel:
		return slog.LevelWarn
	case ErrorLevel:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Logger provides leveled logging.
type Logger struct {
	level  Level
	logger *slog.Logger
}

var defaultLogger *Logger

// ParseLevel maps a config string to a Level. Unknown values map to InfoLevel.
func ParseLevel(level string) Level {
	switch strings.ToLower(level) {
	case "debug":
		return DebugLevel
	case "info":
		return InfoLevel
	case "warn":
		return WarnLevel
	case "error":
		return ErrorLevel
	default:
		return InfoLevel
	}
}

// Init initializes the default logger with the specified level and format.
func Init(level string, format string) {
	InitWriter(os.Stderr, level, format)
}

// InitWriter is Init with an explicit destination.
func InitWriter(w io.Writer, level string, format string) {
	l := ParseLevel(level)
	opts := &slog.HandlerOptions{Level: l.slogLevel()}

	var h slog.Handler
	if strings.ToLower(format) == "text" {
		opts.AddSource = true
		h = slog.NewTextHandler(w, opts)
	} else {
		h = slog.NewJSONHandler(w, opts)
	}

	defaultLogger = &Logger{
		level:  l,
		logger: slog.New(h),
	}
}

// output records msg with the caller two frames up, so source attribution
// points at the package-level helper's caller.
func output(l slog.Level, format string, args ...interface{}) {
	if defaultLogger == nil || !defaultLogger.logger.Enabled(context.Background(), l) {
		return
	}
	var pcs [1]uintptr
	runtime.Callers(3, pcs[:])
	r := slog.NewRecord(time.Now(), l, fmt.Sprintf(format, args...), pcs[0])
	_ = defaultLogger.logger.Handler().Handle(context.Background(), r)
}

func Debug(format string, args ...interface{}) {
	output(slog.LevelDebug, format, args...)
}

func Info(format string, args ...interface{}) {
	output(slog.LevelInfo, format, args...)
}

func Warn(format string, args ...interface{}) {
	output(slog.LevelWarn, format, args...)
}

func Error(format string, args ...interface{}) {
	output(slog.LevelError, format, args...)
}

func Fatal(format string, args ...interface{}) {
	if defaultLogger != nil {
		var pcs [1]uintptr
		runtime.Callers(2, pcs[:])
		r := slog.NewRecord(time.Now(), slog.LevelError, "[FATAL] "+fmt.Sprintf(format, args...), pcs[0])
		_ = defaultLogger.logger.Handler().Handle(context.Background(), r)
	} else {
		fmt.Fprintf(os.Stderr, "[FATAL] "+format+"\n", args...)
	}
	os.Exit(1)
}

// Enabled reports whether messages at l would be written.
func Enabled(l Level) bool {
	return defaultLogger != nil && defaultLogger.level <= l
}
