package middleware

import (
	"context"
	"net/http"
	"strings"
)

type contextKey string

const (
	ctxCustomerID contextKey = "customer_id"
	ctxActorID    contextKey = "actor_id"
)

const (
	customerIDHeader = "X-Customer-Id"
	actorIDHeader    = "X-Actor-Id"
)

// ClientContext lifts the caller identity headers into the request context.
// Authentication happens upstream of this service; the headers are trusted
// as-is.
func ClientContext() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			if customerID := strings.TrimSpace(r.Header.Get(customerIDHeader)); customerID != "" {
				ctx = WithCustomerID(ctx, customerID)
			}
			if actorID := strings.TrimSpace(r.Header.Get(actorIDHeader)); actorID != "" {
				ctx = WithActorID(ctx, actorID)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func CustomerIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(ctxCustomerID).(string); ok {
		return v
	}
	return ""
}

func ActorIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(ctxActorID).(string); ok {
		return v
	}
	return ""
}

// WithCustomerID injects the customer identifier into the context.
func WithCustomerID(ctx context.Context, customerID string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, ctxCustomerID, customerID)
}

// WithActorID injects the operator identifier into the context.
func WithActorID(ctx context.Context, actorID string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, ctxActorID, actorID)
}
