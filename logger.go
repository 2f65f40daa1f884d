package atomgo

import (
	"context"
	"log/slog"
	"os"
)

// Logger wraps slog.Logger with store-specific context.
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
	return &Logger{
		Logger: slog.New(slog.DiscardHandler),
	}
}

// WithAtomID adds an atom id field to the logger.
func (l *Logger) WithAtomID(id uint64) *Logger {
	return &Logger{
		Logger: l.Logger.With("atom_id", id),
	}
}

// WithJobID adds a job id field to the logger.
func (l *Logger) WithJobID(id string) *Logger {
	return &Logger{
		Logger: l.Logger.With("job_id", id),
	}
}

// LogIntern logs an intern operation.
func (l *Logger) LogIntern(ctx context.Context, id uint64, size int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "intern failed",
			"size", size,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "intern completed",
			"atom_id", id,
			"size", size,
		)
	}
}

// LogReconstruct logs a reconstruction.
func (l *Logger) LogReconstruct(ctx context.Context, id uint64, bytes int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "reconstruct failed",
			"atom_id", id,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "reconstruct completed",
			"atom_id", id,
			"bytes", bytes,
		)
	}
}

// LogSearch logs a nearest-neighbor query.
func (l *Logger) LogSearch(ctx context.Context, k, resultsFound int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "search failed",
			"k", k,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "search completed",
			"k", k,
			"results", resultsFound,
		)
	}
}

// LogPath logs a path generation.
func (l *Logger) LogPath(ctx context.Context, start uint64, steps int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "path generation failed",
			"start", start,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "path generated",
			"start", start,
			"steps", steps,
		)
	}
}

// LogIngest logs the completion of an ingestion job.
func (l *Logger) LogIngest(ctx context.Context, jobID string, atoms uint64, err error) {
	if err != nil {
		l.ErrorContext(ctx, "ingestion failed",
			"job_id", jobID,
			"atoms", atoms,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "ingestion completed",
			"job_id", jobID,
			"atoms", atoms,
		)
	}
}

// LogSnapshot logs a snapshot operation.
func (l *Logger) LogSnapshot(ctx context.Context, name string, err error) {
	if err != nil {
		l.ErrorContext(ctx, "snapshot failed",
			"name", name,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "snapshot saved",
			"name", name,
		)
	}
}

// LogRestore logs a snapshot restore.
func (l *Logger) LogRestore(ctx context.Context, name string, atoms int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "restore failed",
			"name", name,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "restore completed",
			"name", name,
			"atoms", atoms,
		)
	}
}
