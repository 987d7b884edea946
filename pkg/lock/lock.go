package lock

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	pkgerrors "github.com/pdvjgm/pos-backend/pkg/errors"
)

// Store is the key-value surface the lock runs on. pkg/redis.Client
// satisfies it; tests supply an in-memory double. Get reports a missing
// key as an empty string with a nil error.
type Store interface {
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	Get(ctx context.Context, key string) (string, error)
	Del(ctx context.Context, keys ...string) error
	LockKey(parts ...string) string
}

// Metadata is the audit payload stored alongside a lock entry. It is
// serialized at the storage boundary; holders never see raw JSON.
type Metadata struct {
	AcquiredAt time.Time `json:"acquired_at"`
	Origin     string    `json:"origin,omitempty"`
	Actor      string    `json:"actor,omitempty"`
	RequestID  string    `json:"request_id,omitempty"`
}

// Service provides cluster-wide set-if-absent locking with expiry.
type Service struct {
	store Store
}

func NewService(store Store) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("lock store required")
	}
	return &Service{store: store}, nil
}

// Acquire atomically creates the lock entry if absent. It returns true when
// this call created the entry and false when a live entry already exists.
// The existence check and the write are a single storage primitive (SET NX);
// doing them separately would let two concurrent callers both succeed.
// Store unavailability surfaces as a dependency error so callers can decide
// whether to fail open or closed.
func (s *Service) Acquire(ctx context.Context, key string, meta Metadata, ttl time.Duration) (bool, error) {
	if key == "" {
		return false, pkgerrors.New(pkgerrors.CodeValidation, "lock key required")
	}
	if meta.AcquiredAt.IsZero() {
		meta.AcquiredAt = time.Now().UTC()
	}
	payload, err := json.Marshal(meta)
	if err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode lock metadata")
	}
	acquired, err := s.store.SetNX(ctx, s.store.LockKey(key), string(payload), ttl)
	if err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "acquire lock")
	}
	return acquired, nil
}

// Holder returns the metadata of the current lock entry. An unheld key
// yields nil metadata with a nil error; only store outages error.
func (s *Service) Holder(ctx context.Context, key string) (*Metadata, error) {
	raw, err := s.store.Get(ctx, s.store.LockKey(key))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read lock")
	}
	if raw == "" {
		return nil, nil
	}
	var meta Metadata
	if err := json.Unmarshal([]byte(raw), &meta); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "decode lock metadata")
	}
	return &meta, nil
}

// Release deletes the lock entry unconditionally. It exists for compensating
// cleanup; Acquire does not depend on it for correctness.
func (s *Service) Release(ctx context.Context, key string) error {
	if err := s.store.Del(ctx, s.store.LockKey(key)); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "release lock")
	}
	return nil
}
