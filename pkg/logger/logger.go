// Package logger configures the process-wide slog logger and carries
// per-event identifiers through contexts.
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/docfinder/pkg/config"
)

type contextKey struct{}

// Setup installs the default logger writing to stdout.
func Setup(cfg config.LoggingConfig) {
	SetupWriter(os.Stdout, cfg)
}

// SetupWriter installs the default logger writing to w. The CLI logs to
// stderr so that stdout carries only command output.
func SetupWriter(w io.Writer, cfg config.LoggingConfig) {
	opts := &slog.HandlerOptions{
		Level: ParseLevel(cfg.Level),
	}
	var handler slog.Handler
	switch strings.ToLower(cfg.Format) {
	case "json":
		handler = slog.NewJSONHandler(w, opts)
	default:
		handler = slog.NewTextHandler(w, opts)
	}
	slog.SetDefault(slog.New(handler))
}

// WithEventID stores the id of the ingest event being processed in ctx.
func WithEventID(ctx context.Context, eventID string) context.Context {
	return context.WithValue(ctx, contextKey{}, eventID)
}

// EventID returns the event id stored in ctx, if any.
func EventID(ctx context.Context) string {
	id, _ := ctx.Value(contextKey{}).(string)
	return id
}

// FromContext returns the default logger, tagged with the event id in ctx
// when there is one.
func FromContext(ctx context.Context) *slog.Logger {
	logger := slog.Default()
	if id := EventID(ctx); id != "" {
		logger = logger.With("event_id", id)
	}
	return logger
}

func WithComponent(component string) *slog.Logger {
	return slog.Default().With("component", component)
}

// ParseLevel maps a level name to its slog.Level. Unknown names mean info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
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
