// Package slogctx carries the slog logger through parse and mutation calls,
// so warnings about one deck stay tagged with that deck.
package slogctx

import (
	"context"
	"log/slog"
)

type _ctxKey struct{}

// DeckKey is the attribute key naming the deck a record was logged for.
const DeckKey = "deck"

// ContextWithLogger returns ctx carrying logger.
func ContextWithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, _ctxKey{}, logger)
}

// FromContext returns the logger stored in ctx. Library code called without
// one (a bare parser.Parse, say) logs through slog.Default().
func FromContext(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(_ctxKey{}).(*slog.Logger); ok && l != nil {
		return l
	}
	return slog.Default()
}

// WithDeck tags the logger in ctx with the deck name. An empty name leaves
// ctx unchanged.
func WithDeck(ctx context.Context, name string) context.Context {
	if name == "" {
		return ctx
	}
	return ContextWithLogger(ctx, FromContext(ctx).With(slog.String(DeckKey, name)))
}
