// Package ctxid stamps an opaque correlation id on the coroutine handling a
// client, inherits it into child coroutines, and makes it available for log
// lines and stats attribution without threading an explicit parameter
// through every call site.
package ctxid

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/ethan/streamcore/internal/logger"
)

type ctxKey struct{}

// New generates a short opaque id: the first 8 hex characters of a random
// UUID. Collisions are harmless (the id is for log correlation and stats
// attribution, not uniqueness guarantees), so we trade full UUID length for
// a value that reads well in a log line.
func New() string {
	return uuid.NewString()[:8]
}

// WithID attaches id to ctx, overwriting any existing value.
func WithID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// Ensure returns ctx unchanged if it already carries an id, otherwise
// attaches a freshly generated one. Child coroutines spawned from ctx
// inherit whichever id is present, per spec's "inherited by child
// coroutines" rule.
func Ensure(ctx context.Context) (context.Context, string) {
	if id, ok := From(ctx); ok {
		return ctx, id
	}
	id := New()
	return WithID(ctx, id), id
}

// From returns the id stamped on ctx, if any.
func From(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(ctxKey{}).(string)
	return id, ok && id != ""
}

// Logger returns the package logger annotated with ctx's id, falling back to
// the bare global logger when ctx carries none.
func Logger(ctx context.Context) *slog.Logger {
	l := logger.Logger()
	if id, ok := From(ctx); ok {
		return logger.WithCtxID(l, id)
	}
	return l
}
