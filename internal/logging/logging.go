// Package logging provides structured logging for chainwatch
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
)

type contextKey string

const (
	requestIDKey contextKey = "request_id"
	walletIDKey  contextKey = "wallet_id"
	chainKey     contextKey = "chain"
	loggerKey    contextKey = "logger"
)

// New creates a structured logger writing to stdout.
func New(level string, format string) *slog.Logger {
	return NewWithWriter(os.Stdout, level, format)
}

// NewWithWriter is New with an explicit destination.
func NewWithWriter(w io.Writer, level string, format string) *slog.Logger {
	lvl := ParseLevel(level)
	opts := &slog.HandlerOptions{
		Level:     lvl,
		AddSource: lvl == slog.LevelDebug,
	}

	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

// ParseLevel maps a level name to a slog level, defaulting to info.
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

// WithRequestID adds a request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestID extracts the request ID from context
func RequestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		return id
	}
	return ""
}

// WithWallet tags the context with the wallet being processed.
func WithWallet(ctx context.Context, walletID string) context.Context {
	return context.WithValue(ctx, walletIDKey, walletID)
}

// WithChain tags the context with the chain being processed.
func WithChain(ctx context.Context, chain string) context.Context {
	return context.WithValue(ctx, chainKey, chain)
}

// WithLogger adds a logger to the context
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// FromContext extracts the logger from context, or returns the default
func FromContext(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(loggerKey).(*slog.Logger); ok {
		return logger
	}
	return slog.Default()
}

// L returns the context logger with request, wallet and chain tags attached.
func L(ctx context.Context) *slog.Logger {
	logger := FromContext(ctx)
	var attrs []any
	if v := RequestID(ctx); v != "" {
		attrs = append(attrs, "request_id", v)
	}
	if v, ok := ctx.Value(walletIDKey).(string); ok && v != "" {
		attrs = append(attrs, "wallet_id", v)
	}
	if v, ok := ctx.Value(chainKey).(string); ok && v != "" {
		attrs = append(attrs, "chain", v)
	}
	if len(attrs) == 0 {
		return logger
	}
	return logger.With(attrs...)
}
