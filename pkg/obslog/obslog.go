// Package obslog provides the simulator's structured logging setup.
//
// It mirrors the shape of a typical service's logging package (slog
// handlers selected by format/output, optional rotation via lumberjack)
// but is scoped to engine vocabulary: a run ID, scenario index and
// time-step are the fields callers attach, not request IDs.
package obslog

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Log is the package-level default logger, set by Init.
var Log = slog.New(slog.NewTextHandler(os.Stdout, nil))

// Config configures the logger.
type Config struct {
	Level      string // debug, info, warn, error
	Format     string // json, text
	Output     string // stdout, stderr, file
	FilePath   string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// Init initialises the package logger at the given level, writing JSON to
// stdout. Use InitWithConfig for full control.
func Init(level string) {
	InitWithConfig(Config{Level: level, Format: "json", Output: "stdout"})
}

// InitWithConfig initialises the package logger per cfg.
func InitWithConfig(cfg Config) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var writer io.Writer
	switch cfg.Output {
	case "stderr":
		writer = os.Stderr
	case "file":
		path := cfg.FilePath
		if path == "" {
			path = "logs/watersim.log"
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			writer = os.Stdout
		} else {
			writer = &lumberjack.Logger{
				Filename:   path,
				MaxSize:    cfg.MaxSizeMB,
				MaxBackups: cfg.MaxBackups,
				MaxAge:     cfg.MaxAgeDays,
				Compress:   cfg.Compress,
			}
		}
	default:
		writer = os.Stdout
	}

	opts := &slog.HandlerOptions{Level: level, AddSource: level == slog.LevelDebug}

	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(writer, opts)
	} else {
		handler = slog.NewJSONHandler(writer, opts)
	}

	Log = slog.New(handler)
}

// WithRunID returns a logger scoped to a single simulation run.
func WithRunID(runID string) *slog.Logger {
	return Log.With("run_id", runID)
}

// WithScenario returns a logger scoped to a scenario index within a run.
func WithScenario(runID string, scenarioIndex int) *slog.Logger {
	return Log.With("run_id", runID, "scenario_index", scenarioIndex)
}
