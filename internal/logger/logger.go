// Package logger wires up the engine's structured logging: log/slog with
// a JSON handler and, optionally, rotation via lumberjack. This mirrors
// the teacher's internal/usenet and internal/importer packages, which log
// through slog.Default().With("component", ...) using dotted event names
// as the message and structured key/value fields.
package logger

import (
	"io"
	"log/slog"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Config controls where and how log output is written.
type Config struct {
	// Level is one of "debug", "info", "warn", "error". Defaults to "info".
	Level string
	// Path, if non-empty, is a log file that receives a rotated copy of
	// every log line in addition to stdout.
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// New builds a *slog.Logger per cfg. The returned closer should be closed
// on shutdown to flush the rotating file writer; it is a no-op if cfg.Path
// is empty.
func New(cfg Config) (*slog.Logger, io.Closer) {
	var rotator *lumberjack.Logger
	out := io.Writer(os.Stdout)

	if cfg.Path != "" {
		maxSize := cfg.MaxSizeMB
		if maxSize <= 0 {
			maxSize = 10
		}
		maxBackups := cfg.MaxBackups
		if maxBackups <= 0 {
			maxBackups = 5
		}
		maxAge := cfg.MaxAgeDays
		if maxAge <= 0 {
			maxAge = 30
		}

		rotator = &lumberjack.Logger{
			Filename:   cfg.Path,
			MaxSize:    maxSize,
			MaxBackups: maxBackups,
			MaxAge:     maxAge,
			Compress:   cfg.Compress,
			LocalTime:  true,
		}
		out = io.MultiWriter(os.Stdout, rotator)
	}

	handler := slog.NewJSONHandler(out, &slog.HandlerOptions{
		Level: parseLevel(cfg.Level),
	})

	logger := slog.New(handler)
	if rotator != nil {
		return logger, rotator
	}
	return logger, nopCloser{}
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
