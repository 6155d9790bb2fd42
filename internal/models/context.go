package models

import (
	"context"
	"time"
)

type clearingContextKey struct{}

// ClearingContext carries delivery metadata through context so the Formance
// backend can store it as transaction metadata without widening interfaces.
type ClearingContext struct {
	ExternalId    string    // processor payment id
	EventType     string    // processor event type
	Currency      string    // charged currency
	AmountCharged string    // charged total as string (for metadata)
	ExecutedAt    time.Time // effective transaction time for the ledger entry
}

// WithClearingContext attaches clearing metadata to a context.
func WithClearingContext(ctx context.Context, cc *ClearingContext) context.Context {
	return context.WithValue(ctx, clearingContextKey{}, cc)
}

// GetClearingContext retrieves clearing metadata from context, or nil if absent.
func GetClearingContext(ctx context.Context) *ClearingContext {
	cc, _ := ctx.Value(clearingContextKey{}).(*ClearingContext)
	return cc
}
