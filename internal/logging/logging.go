// Package logging configures the daemon's slog loggers: a JSON logger on
// stderr, optionally teed into a rotating file under the state log directory.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

var defaultLogger *slog.Logger

// Init sets up the default JSON logger on stderr at the given level name
// (debug, info, warn, error).
func Init(level string) {
	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: ParseLevel(level)})
	defaultLogger = slog.New(handler)
	slog.SetDefault(defaultLogger)
}

// InitWithFile sets up the default JSON logger writing to stderr and to a
// rotating file at filePath. Returns a close function for the file writer.
func InitWithFile(level, filePath string, maxSizeMB int) (func() error, error) {
	logDir := filepath.Dir(filePath)
	if logDir != "." {
		if err := os.MkdirAll(logDir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create log directory %s: %w", logDir, err)
		}
	}

	if maxSizeMB <= 0 {
		maxSizeMB = 20
	}
	writer := &lumberjack.Logger{
		Filename:   filePath,
		MaxSize:    maxSizeMB,
		MaxBackups: 3,
		MaxAge:     28,
	}

	handler := slog.NewJSONHandler(io.MultiWriter(os.Stderr, writer),
		&slog.HandlerOptions{Level: ParseLevel(level)})
	defaultLogger = slog.New(handler)
	slog.SetDefault(defaultLogger)
	return writer.Close, nil
}

// ParseLevel maps a config string to a slog level, defaulting to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ForService returns a child of the default logger tagged with a service
// attribute. Safe to call before Init; falls back to slog's default.
func ForService(serviceName string) *slog.Logger {
	if defaultLogger == nil {
		return slog.Default().With("service", serviceName)
	}
	return defaultLogger.With("service", serviceName)
}
