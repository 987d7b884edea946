package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/pdvjgm/pos-backend/pkg/lock"
	"github.com/pdvjgm/pos-backend/pkg/logger"
)

type fakeLockStore struct {
	data map[string]string
	err  error
}

func newFakeLockStore() *fakeLockStore {
	return &fakeLockStore{data: make(map[string]string)}
}

func (f *fakeLockStore) SetNX(_ context.Context, key string, value any, _ time.Duration) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	if _, ok := f.data[key]; ok {
		return false, nil
	}
	str, _ := value.(string)
	f.data[key] = str
	return true, nil
}

func (f *fakeLockStore) Get(_ context.Context, key string) (string, error) {
	return f.data[key], nil
}

func (f *fakeLockStore) Del(_ context.Context, keys ...string) error {
	for _, key := range keys {
		delete(f.data, key)
	}
	return nil
}

func (f *fakeLockStore) LockKey(parts ...string) string {
	return "fake:lock:" + strings.Join(parts, ":")
}

func gateTestLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "test", Level: zerolog.Disabled})
}

func newGate(t *testing.T, store *fakeLockStore) func(http.Handler) http.Handler {
	t.Helper()
	svc, err := lock.NewService(store)
	if err != nil {
		t.Fatalf("lock service: %v", err)
	}
	return Idempotency(svc, gateTestLogger(), time.Hour)
}

func newRequest(method, url string, body io.Reader) *http.Request {
	return httptest.NewRequest(method, url, body)
}

func passHandler(calls *int) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*calls++
		w.WriteHeader(http.StatusOK)
	})
}

func TestGatedRouteSelection(t *testing.T) {
	tests := []struct {
		name    string
		method  string
		pattern string
		want    bool
	}{
		{"offline sale", http.MethodPost, "/api/v1/sales/offline", true},
		{"checkout", http.MethodPost, "/api/v1/sales/{saleId}/checkout", true},
		{"start session", http.MethodPost, "/api/v1/sessions", true},
		{"add item", http.MethodPost, "/api/v1/sessions/{sessionId}/items", true},
		{"close session", http.MethodPost, "/api/v1/sessions/{sessionId}/close", true},
		{"session to sale", http.MethodPost, "/api/v1/sessions/{sessionId}/sale", true},
		{"fetch sale", http.MethodGet, "/api/v1/sales/{saleId}", false},
		{"payment webhook", http.MethodPost, "/api/v1/webhooks/payment", false},
		{"trigger sync", http.MethodPost, "/api/v1/erp/sync", false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := isGatedRoute(tc.method, tc.pattern); got != tc.want {
				t.Fatalf("isGatedRoute(%s %s) = %v, want %v", tc.method, tc.pattern, got, tc.want)
			}
		})
	}
}

func TestIdempotencyReplayRejected(t *testing.T) {
	store := newFakeLockStore()
	gate := newGate(t, store)

	calls := 0
	handler := gate(passHandler(&calls))

	first := newRequest(http.MethodPost, "/api/v1/sessions", strings.NewReader(`{}`))
	first.Header.Set(idempotencyHeader, "abc-123")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, first)
	if rec.Code != http.StatusOK {
		t.Fatalf("first request status = %d, want 200", rec.Code)
	}

	replay := newRequest(http.MethodPost, "/api/v1/sessions", strings.NewReader(`{}`))
	replay.Header.Set(idempotencyHeader, "abc-123")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, replay)
	if rec.Code != http.StatusConflict {
		t.Fatalf("replay status = %d, want 409", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "abc-123") {
		t.Fatalf("conflict response should name the key, got %s", rec.Body.String())
	}
	if calls != 1 {
		t.Fatalf("handler calls = %d, want 1", calls)
	}

	var envelope struct {
		Error struct {
			Details map[string]string `json:"details"`
		} `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("decode conflict envelope: %v", err)
	}
	if envelope.Error.Details["origin"] != "POST /api/v1/sessions" {
		t.Fatalf("conflict should carry the first acceptance's origin, got %v", envelope.Error.Details)
	}
	if envelope.Error.Details["firstAcceptedAt"] == "" {
		t.Fatalf("conflict should carry the first acceptance's timestamp, got %v", envelope.Error.Details)
	}
}

func TestIdempotencyLockSurvivesSuccess(t *testing.T) {
	store := newFakeLockStore()
	gate := newGate(t, store)

	handler := gate(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))

	req := newRequest(http.MethodPost, "/api/v1/sales/offline", strings.NewReader(`{}`))
	req.Header.Set(idempotencyHeader, "sale-1")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if _, held := store.data["fake:lock:idem:sale-1"]; !held {
		t.Fatal("lock entry must survive a successful request")
	}
}

func TestIdempotencyBodyFallback(t *testing.T) {
	store := newFakeLockStore()
	gate := newGate(t, store)

	var seenBody string
	handler := gate(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		seenBody = string(raw)
		w.WriteHeader(http.StatusOK)
	}))

	body := `{"idempotencyKey":"body-key-9","customerId":"cust-1","storeId":"store-1"}`
	req := newRequest(http.MethodPost, "/api/v1/sessions", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if seenBody != body {
		t.Fatalf("downstream handler must see the restored body, got %q", seenBody)
	}

	replay := newRequest(http.MethodPost, "/api/v1/sessions", strings.NewReader(body))
	replay.Header.Set("Content-Type", "application/json")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, replay)
	if rec.Code != http.StatusConflict {
		t.Fatalf("body-key replay status = %d, want 409", rec.Code)
	}
}

func TestIdempotencyMissingKeyPassesThrough(t *testing.T) {
	store := newFakeLockStore()
	gate := newGate(t, store)

	calls := 0
	handler := gate(passHandler(&calls))

	req := newRequest(http.MethodPost, "/api/v1/sessions", strings.NewReader(`{"customerId":"c"}`))
	req.Header.Set("Content-Type", "application/json")
	handler.ServeHTTP(httptest.NewRecorder(), req)
	handler.ServeHTTP(httptest.NewRecorder(), newRequest(http.MethodPost, "/api/v1/sessions", strings.NewReader(`{"customerId":"c"}`)))

	if calls != 2 {
		t.Fatalf("keyless requests must pass through, calls = %d", calls)
	}
	if len(store.data) != 0 {
		t.Fatalf("no locks expected, got %v", store.data)
	}
}

func TestIdempotencyStoreOutageSurfaces(t *testing.T) {
	store := newFakeLockStore()
	store.err = errors.New("connection refused")
	gate := newGate(t, store)

	calls := 0
	handler := gate(passHandler(&calls))

	req := newRequest(http.MethodPost, "/api/v1/sessions", strings.NewReader(`{}`))
	req.Header.Set(idempotencyHeader, "k-1")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
	if calls != 0 {
		t.Fatal("gate must fail closed when the lock store is down")
	}

	var envelope struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("decode error envelope: %v", err)
	}
	if envelope.Error.Code != "DEPENDENCY_ERROR" {
		t.Fatalf("error code = %s, want DEPENDENCY_ERROR", envelope.Error.Code)
	}
}

func TestIdempotencyUngatedRouteIgnoresKey(t *testing.T) {
	store := newFakeLockStore()
	gate := newGate(t, store)

	calls := 0
	handler := gate(passHandler(&calls))

	for i := 0; i < 2; i++ {
		req := newRequest(http.MethodPost, "/api/v1/webhooks/payment", strings.NewReader(`{}`))
		req.Header.Set(idempotencyHeader, "same-key")
		handler.ServeHTTP(httptest.NewRecorder(), req)
	}
	if calls != 2 {
		t.Fatalf("ungated route calls = %d, want 2", calls)
	}
}
