package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pdvjgm/pos-backend/api/responses"
	pkgerrors "github.com/pdvjgm/pos-backend/pkg/errors"
	"github.com/pdvjgm/pos-backend/pkg/lock"
	"github.com/pdvjgm/pos-backend/pkg/logger"
)

const (
	idempotencyHeader     = "X-Idempotency-Key"
	defaultIdempotencyTTL = 24 * time.Hour

	// Body fallback only inspects the first chunk of the request; mutating
	// payloads on the gated routes are small.
	maxInspectedBody = 1 << 20
)

// Locker is the gate's locking surface. pkg/lock.Service satisfies it.
type Locker interface {
	Acquire(ctx context.Context, key string, meta lock.Metadata, ttl time.Duration) (bool, error)
	Holder(ctx context.Context, key string) (*lock.Metadata, error)
}

type routeMatcher func(string) bool

type idempotencyRule struct {
	method  string
	matcher routeMatcher
}

// Routes whose effects must not replay when a client resubmits the same
// logical request. Everything else passes through untouched.
var idempotencyRules = []idempotencyRule{
	{method: http.MethodPost, matcher: matchExact("/api/v1/sales/offline")},
	{method: http.MethodPost, matcher: matchPrefixSuffix("/api/v1/sales/", "/checkout")},
	{method: http.MethodPost, matcher: matchExact("/api/v1/sessions")},
	{method: http.MethodPost, matcher: matchPrefixSuffix("/api/v1/sessions/", "/items")},
	{method: http.MethodPost, matcher: matchPrefixSuffix("/api/v1/sessions/", "/close")},
	{method: http.MethodPost, matcher: matchPrefixSuffix("/api/v1/sessions/", "/sale")},
}

// Idempotency gates the mutating routes behind a cluster-wide lock. The
// first request carrying a given key acquires `idem:{key}`; replays inside
// the TTL window are rejected with CONFLICT. The lock is deliberately never
// released on success: releasing it would reopen the replay window the
// moment the response is in flight.
func Idempotency(locker Locker, logg *logger.Logger, ttl time.Duration) func(http.Handler) http.Handler {
	if ttl <= 0 {
		ttl = defaultIdempotencyTTL
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if locker == nil || !isGatedRoute(r.Method, strings.TrimSuffix(r.URL.Path, "/")) {
				next.ServeHTTP(w, r)
				return
			}

			key, err := extractKey(r)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}

			meta := lock.Metadata{
				Origin:    r.Method + " " + r.URL.Path,
				Actor:     ActorIDFromContext(r.Context()),
				RequestID: w.Header().Get(requestIDHeader),
			}
			acquired, err := locker.Acquire(r.Context(), "idem:"+key, meta, ttl)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}
			if !acquired {
				conflict := pkgerrors.New(pkgerrors.CodeConflict,
					fmt.Sprintf("request with idempotency key %q was already accepted", key))
				// The original acceptance's audit trail helps operators tell a
				// client retry from a key collision. Best effort: the conflict
				// stands even when the lookup fails.
				if holder, holderErr := locker.Holder(r.Context(), "idem:"+key); holderErr == nil && holder != nil {
					conflict = conflict.WithDetails(map[string]string{
						"firstAcceptedAt": holder.AcquiredAt.Format(time.RFC3339),
						"origin":          holder.Origin,
						"requestId":       holder.RequestID,
					})
				}
				responses.WriteError(r.Context(), logg, w, conflict)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// extractKey reads the idempotency key from the header, falling back to a
// top-level idempotencyKey field on JSON bodies. The body is restored for
// the downstream handler either way.
func extractKey(r *http.Request) (string, error) {
	if key := strings.TrimSpace(r.Header.Get(idempotencyHeader)); key != "" {
		return key, nil
	}
	if !strings.Contains(r.Header.Get("Content-Type"), "application/json") || r.Body == nil {
		return "", nil
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxInspectedBody))
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeInternal, err, "read request body")
	}
	r.Body = io.NopCloser(bytes.NewReader(body))

	var probe struct {
		IdempotencyKey string `json:"idempotencyKey"`
	}
	// Malformed JSON is the handler's problem, not the gate's.
	if err := json.Unmarshal(body, &probe); err != nil {
		return "", nil
	}
	return strings.TrimSpace(probe.IdempotencyKey), nil
}

func isGatedRoute(method, pattern string) bool {
	if pattern == "" {
		return false
	}
	for _, rule := range idempotencyRules {
		if rule.method != method {
			continue
		}
		if rule.matcher(pattern) {
			return true
		}
	}
	return false
}

func matchExact(path string) routeMatcher {
	return func(pattern string) bool {
		return pattern == path
	}
}

func matchPrefixSuffix(prefix, suffix string) routeMatcher {
	return func(pattern string) bool {
		return strings.HasPrefix(pattern, prefix) && strings.HasSuffix(pattern, suffix)
	}
}
