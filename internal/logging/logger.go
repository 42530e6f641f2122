// Package logging wires log/slog for equipstat.
//
// Loggers obtained from a request context carry the chi request id and any
// fields middleware attached with ContextWithFields, such as the user id.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/go-chi/chi/v5/middleware"
)

// Setup installs the process-wide logger on stdout.
func Setup(level, format string) {
	slog.SetDefault(New(os.Stdout, level, format))
}

// New returns a logger on w. Format "json" selects the JSON handler; any
// other value gives text.
func New(w io.Writer, level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(level)}
	if strings.EqualFold(format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

var levels = map[string]slog.Level{
	"debug":   slog.LevelDebug,
	"info":    slog.LevelInfo,
	"warn":    slog.LevelWarn,
	"warning": slog.LevelWarn,
	"error":   slog.LevelError,
}

// ParseLevel maps a level name to slog.Level, defaulting to info.
func ParseLevel(level string) slog.Level {
	if l, ok := levels[strings.ToLower(level)]; ok {
		return l
	}
	return slog.LevelInfo
}

type fieldsKey struct{}

// ContextWithFields returns a context whose loggers (via FromContext) carry
// the given key/value pairs in addition to any already attached.
func ContextWithFields(ctx context.Context, args ...any) context.Context {
	prev, _ := ctx.Value(fieldsKey{}).([]any)
	fields := make([]any, 0, len(prev)+len(args))
	fields = append(fields, prev...)
	fields = append(fields, args...)
	return context.WithValue(ctx, fieldsKey{}, fields)
}

// FromContext returns the default logger with request_id and attached fields.
func FromContext(ctx context.Context) *slog.Logger {
	var args []any
	if id := middleware.GetReqID(ctx); id != "" {
		args = append(args, "request_id", id)
	}
	if fields, ok := ctx.Value(fieldsKey{}).([]any); ok {
		args = append(args, fields...)
	}
	if len(args) == 0 {
		return slog.Default()
	}
	return slog.Default().With(args...)
}

// WithFields is FromContext plus args, for loggers scoped to one operation:
//
//	log := logging.WithFields(ctx, "file", name)
//	log.Info("upload started")
func WithFields(ctx context.Context, args ...any) *slog.Logger {
	return FromContext(ctx).With(args...)
}
