package knnshard

import (
	"context"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/hupe1980/knnshard/partition"
)

// Logger wraps slog.Logger with knnshard-specific context.
// This provides structured logging with consistent field names.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a new Logger with the given handler.
// If handler is nil, uses default text handler to stderr.
func NewLogger(handler slog.Handler) *Logger {
	if handler == nil {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	}
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewJSONLogger creates a Logger that outputs JSON-formatted logs.
// level sets the minimum log level (e.g., slog.LevelDebug, slog.LevelInfo).
func NewJSONLogger(level slog.Level) *Logger {
	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewTextLogger creates a Logger that outputs human-readable text logs.
func NewTextLogger(level slog.Level) *Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NoopLogger creates a Logger that discards all log output.
// Use this to disable logging entirely.
func NoopLogger() *Logger {
	handler := slog.NewTextHandler(io.Discard, &slog.HandlerOptions{
		Level: slog.Level(1000), // Unreachable level
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// WithRunID adds a run_id field to the logger.
func (l *Logger) WithRunID(id string) *Logger {
	return &Logger{
		Logger: l.Logger.With("run_id", id),
	}
}

// WithShard adds a shard field to the logger.
func (l *Logger) WithShard(id int) *Logger {
	return &Logger{
		Logger: l.Logger.With("shard", id),
	}
}

// LogRunStart logs the resolved parameters of a run.
func (l *Logger) LogRunStart(ctx context.Context, kind partition.Kind, k, shards, start, end, units int) {
	l.InfoContext(ctx, "run started",
		"mode", kind.String(),
		"k", k,
		"shards", shards,
		"start", start,
		"end", end,
		"units", units,
	)
}

// LogWorkerStart logs a worker launch. Use WithShard to tag the shard.
func (l *Logger) LogWorkerStart(ctx context.Context, a partition.Assignment) {
	l.DebugContext(ctx, "worker started",
		"seq", a.Seq,
		"unit", a.Unit.String(),
	)
}

// LogWorkerEnd logs a worker exit.
func (l *Logger) LogWorkerEnd(ctx context.Context, a partition.Assignment, records int, duration time.Duration, err error) {
	if err != nil {
		l.ErrorContext(ctx, "worker failed",
			"seq", a.Seq,
			"unit", a.Unit.String(),
			"records", records,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "worker completed",
			"seq", a.Seq,
			"unit", a.Unit.String(),
			"records", records,
			"duration", duration,
		)
	}
}

// LogQueryFailure logs a word whose neighbor query failed.
func (l *Logger) LogQueryFailure(ctx context.Context, err *ModelQueryError) {
	l.WarnContext(ctx, "neighbor query failed",
		"word", err.Word,
		"index", err.Index,
		"error", err.cause,
	)
}

// LogReport logs the outcome of a run.
func (l *Logger) LogReport(ctx context.Context, r *Report) {
	failed := r.FailedCount()
	errs := len(r.Errors())
	if failed > 0 || errs > 0 {
		l.WarnContext(ctx, "run completed with failures",
			"workers", r.Workers,
			"records", r.Records,
			"bytes_written", r.BytesWritten,
			"failed_words", failed,
			"worker_errors", errs,
			"elapsed", r.Elapsed(),
		)
	} else {
		l.InfoContext(ctx, "run completed",
			"workers", r.Workers,
			"records", r.Records,
			"bytes_written", r.BytesWritten,
			"elapsed", r.Elapsed(),
		)
	}
}
