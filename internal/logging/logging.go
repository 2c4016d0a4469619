// Package logging wires zerolog as the ambient structured logger, threaded
// through context.Context with per-request and per-step fields.
package logging

import (
	"context"
	"os"
	"time"

	"github.com/rs/zerolog"
)

type ctxKey struct{}

// Init configures the global zerolog logger level and writer. Call once at
// process startup.
func Init(level string) {
	zerolog.TimeFieldFormat = time.RFC3339
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
}

// Base returns the process-wide base logger.
func Base() zerolog.Logger {
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

// WithRequest returns a context carrying a logger scoped to requestID.
func WithRequest(ctx context.Context, requestID string) context.Context {
	l := Base().With().Str("request_id", requestID).Logger()
	return context.WithValue(ctx, ctxKey{}, &l)
}

// WithStep returns a context carrying a logger additionally scoped to step.
func WithStep(ctx context.Context, step string) context.Context {
	l := From(ctx).With().Str("step", step).Logger()
	return context.WithValue(ctx, ctxKey{}, &l)
}

// From extracts the context's logger, falling back to the base logger.
func From(ctx context.Context) zerolog.Logger {
	if l, ok := ctx.Value(ctxKey{}).(*zerolog.Logger); ok && l != nil {
		return *l
	}
	return Base()
}
