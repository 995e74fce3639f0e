// Package idempotency stores per-token progress records used to deduplicate
// client retries. A record is a flat set of string fields with a TTL; the
// "status" field doubles as the acquisition lock.
package idempotency

import (
	"context"
	"errors"
	"time"
)

// StatusField must be present in every record passed to Acquire.
const StatusField = "status"

const (
	NamespaceUpload  = "upload:"
	NamespaceMessage = "msg:"
)

var errNoStatus = errors.New("record has no status field")

// Store is implemented by the Redis, PostgreSQL and in-memory backends.
//
// Get returns (nil, nil) when the key is absent or expired. Acquire creates
// the record only when no live record exists and reports whether it did.
// Update merges fields into the record (creating it if needed) and refreshes
// the TTL. Backend failures wrap common.ErrStoreUnavailable.
type Store interface {
	Get(ctx context.Context, key string) (map[string]string, error)
	Acquire(ctx context.Context, key string, fields map[string]string, ttl time.Duration) (bool, error)
	Update(ctx context.Context, key string, fields map[string]string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// Records scopes a Store to one namespace and TTL.
type Records struct {
	store  Store
	prefix string
	ttl    time.Duration
}

func NewRecords(store Store, namespace string, ttl time.Duration) *Records {
	return &Records{store: store, prefix: namespace, ttl: ttl}
}

func (r *Records) Key(token string) string { return r.prefix + token }

func (r *Records) TTL() time.Duration { return r.ttl }

func (r *Records) Get(ctx context.Context, token string) (map[string]string, error) {
	return r.store.Get(ctx, r.Key(token))
}

func (r *Records) Acquire(ctx context.Context, token string, fields map[string]string) (bool, error) {
	if _, ok := fields[StatusField]; !ok {
		return false, errNoStatus
	}
	return r.store.Acquire(ctx, r.Key(token), fields, r.ttl)
}

// AcquireLease is Acquire with a caller-chosen expiry, for locks that must
// lapse long before a completed record would. A later Update restores the
// namespace TTL.
func (r *Records) AcquireLease(ctx context.Context, token string, fields map[string]string, lease time.Duration) (bool, error) {
	if _, ok := fields[StatusField]; !ok {
		return false, errNoStatus
	}
	return r.store.Acquire(ctx, r.Key(token), fields, lease)
}

func (r *Records) Update(ctx context.Context, token string, fields map[string]string) error {
	return r.store.Update(ctx, r.Key(token), fields, r.ttl)
}

func (r *Records) Delete(ctx context.Context, token string) error {
	return r.store.Delete(ctx, r.Key(token))
}
