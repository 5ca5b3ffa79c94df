package bucketsort

import (
	"context"
	"log/slog"
	"os"
	"time"
)

// Logger wraps slog.Logger with the sort's field names.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a Logger with the given handler.
// If handler is nil, it uses a text handler on stderr.
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

// NewJSONLogger creates a Logger that writes JSON logs to stderr.
func NewJSONLogger(level slog.Level) *Logger {
	return NewLogger(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
}

// NewTextLogger creates a Logger that writes human-readable logs to stderr.
func NewTextLogger(level slog.Level) *Logger {
	return NewLogger(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
}

// NoopLogger creates a Logger that discards all output.
func NoopLogger() *Logger {
	return NewLogger(slog.DiscardHandler)
}

// WithInput adds the input path to the logger.
func (l *Logger) WithInput(path string) *Logger {
	return &Logger{
		Logger: l.Logger.With("input", path),
	}
}

// LogPartition logs the end of the partition phase.
func (l *Logger) LogPartition(ctx context.Context, groups, records, bytes int64, elapsed time.Duration, err error) {
	if err != nil {
		l.ErrorContext(ctx, "partition failed",
			"elapsed", elapsed,
			"error", err,
		)
		return
	}
	l.InfoContext(ctx, "partition completed",
		"groups", groups,
		"records", records,
		"bytes", bytes,
		"elapsed", elapsed,
	)
}

// LogGroup logs one sorted group.
func (l *Logger) LogGroup(ctx context.Context, id, lines int, bytes int64, err error) {
	if err != nil {
		l.ErrorContext(ctx, "group sort failed",
			"group", id,
			"lines", lines,
			"error", err,
		)
		return
	}
	l.DebugContext(ctx, "group sorted",
		"group", id,
		"lines", lines,
		"bytes", bytes,
	)
}

// LogSort logs the end of the sort phase.
func (l *Logger) LogSort(ctx context.Context, groups int64, elapsed time.Duration, err error) {
	if err != nil {
		l.ErrorContext(ctx, "sort failed",
			"elapsed", elapsed,
			"error", err,
		)
		return
	}
	l.InfoContext(ctx, "sort completed",
		"groups", groups,
		"elapsed", elapsed,
	)
}
