// Package logging provides structured logging for the tsfdb daemons.
//
// This package wraps the standard library's log/slog package to provide
// consistent logging across all components. It supports both text and JSON
// output formats, configurable log levels, and component-based loggers.
//
// Usage:
//
//	// Initialize at startup
//	logging.Init(slog.LevelInfo, false) // Text format
//	logging.Init(slog.LevelDebug, true) // JSON format for production
//
//	// Get a component logger
//	log := logging.Component("consumer")
//	log.Info("lease acquired", "queue", name)
package logging

import (
	"context"
	"log/slog"
	"os"
)

// Logger is the global logger instance.
var Logger *slog.Logger

// Init initializes the global logger with the specified level and format.
// If jsonFormat is true, logs are output as JSON; otherwise, human-readable text.
func Init(level slog.Level, jsonFormat bool) {
	var handler slog.Handler

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	if jsonFormat {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	Logger = slog.New(handler)
	slog.SetDefault(Logger)
}

// InitWithHandler initializes the global logger with a custom handler.
// This is useful for testing or custom output destinations.
func InitWithHandler(handler slog.Handler) {
	Logger = slog.New(handler)
	slog.SetDefault(Logger)
}

// With returns a new logger with additional attributes.
func With(args ...any) *slog.Logger {
	if Logger == nil {
		Init(slog.LevelInfo, false)
	}
	return Logger.With(args...)
}

// Component returns a logger for a specific component.
// The component name is added as an attribute to all log entries.
func Component(name string) *slog.Logger {
	if Logger == nil {
		Init(slog.LevelInfo, false)
	}
	return Logger.With("component", name)
}

// WithContext returns base extended with request-scoped context values.
// A nil base falls back to the global logger.
func WithContext(ctx context.Context, base *slog.Logger) *slog.Logger {
	if base == nil {
		if Logger == nil {
			Init(slog.LevelInfo, false)
		}
		base = Logger
	}

	if org, ok := ctx.Value(contextKeyOrg).(string); ok {
		base = base.With("org", org)
	}
	if requestID, ok := ctx.Value(contextKeyRequestID).(string); ok {
		base = base.With("request_id", requestID)
	}

	return base
}

// Context key types for type-safe context value extraction.
type contextKey int

const (
	contextKeyOrg contextKey = iota
	contextKeyRequestID
)

// ContextWithOrg adds an organization id to the context for logging.
func ContextWithOrg(ctx context.Context, org string) context.Context {
	return context.WithValue(ctx, contextKeyOrg, org)
}

// ContextWithRequestID adds a request ID to the context for logging.
func ContextWithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, contextKeyRequestID, requestID)
}
