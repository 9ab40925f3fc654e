package loggy

import (
	"context"
	"fmt"

	"github.com/tildaslashalef/ewsync/internal/ulid"
)

type contextKey string

const (
	loggerKey contextKey = "logger"
	runIDKey  contextKey = "run_id"
)

// FromContext retrieves the logger from the context, falling back to the global logger
func FromContext(ctx context.Context) *Logger {
	if ctx == nil {
		return globalLogger
	}

	if logger, ok := ctx.Value(loggerKey).(*Logger); ok && logger != nil {
		return logger
	}

	return globalLogger
}

// WithLogger returns a new context with the logger attached
func WithLogger(ctx context.Context, logger *Logger) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, loggerKey, logger)
}

// RunID returns the sync run id stored in ctx, if any
func RunID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(runIDKey).(string)
	return id
}

// StartRun tags ctx with a fresh sync run id and a logger carrying it
func StartRun(ctx context.Context, args ...any) (context.Context, string) {
	id := ulid.RunID()
	ctx = context.WithValue(ctx, runIDKey, id)

	logger := FromContext(ctx)
	if logger != nil {
		logger = logger.With(append([]any{"run_id", id}, args...)...)
		ctx = WithLogger(ctx, logger)
	}
	return ctx, id
}

// Fields represents a collection of log fields
type Fields map[string]any

// AddToContext adds fields to the context logger
func AddToContext(ctx context.Context, fields Fields) context.Context {
	logger := FromContext(ctx)
	if logger == nil {
		return ctx
	}

	args := make([]any, 0, len(fields)*2)
	for k, v := range fields {
		args = append(args, k, v)
	}

	return WithLogger(ctx, logger.With(args...))
}

// WithError adds error details to a logger
func (l *Logger) WithError(err error) *Logger {
	if err == nil {
		return l
	}

	return l.With(
		"error", err.Error(),
		"error_type", fmt.Sprintf("%T", err),
	)
}
