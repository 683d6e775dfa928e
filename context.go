package ingest

import (
	"context"

	"github.com/google/uuid"
)

// ctxKey is the base for all context keys in this package (prevents
// collisions).
type ctxKey string

const correlationCtxKey ctxKey = "ingest:correlation-id"

// NewCorrelationID mints an opaque identifier for one logical ingestion
// request.
func NewCorrelationID() string {
	return uuid.NewString()
}

// WithCorrelationID attaches a correlation id to the context. The broker
// does this before invoking a handler so downstream logging can trace one
// request end-to-end.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, correlationCtxKey, id)
}

// CorrelationIDFromContext retrieves a correlation id previously attached to
// the context.
func CorrelationIDFromContext(ctx context.Context) (string, bool) {
	if v := ctx.Value(correlationCtxKey); v != nil {
		if id, ok := v.(string); ok && id != "" {
			return id, true
		}
	}
	return "", false
}
