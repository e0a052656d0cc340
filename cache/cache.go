// Package cache implements the coherence layer sitting in front of the
// relational storage backend: a record cache, a query-result cache, a bloom
// filter gating reads before they reach Redis, per-key distributed locks
// guarding cache population, and a related-query reverse index used to
// invalidate cached query results when the records they matched change.
package cache

import (
	"context"
	"time"
)

// Cache is the capability set the query-path and mutation-path protocols in
// CachedDatabase depend on. RedisCache is the production implementation;
// the interface keeps CachedDatabase's protocol logic testable against an
// in-process fake without depending on package-level globals.
type Cache interface {
	// Get returns the cached value for key, and whether it was present.
	// A present-but-empty value represents a cached "not found" (see
	// SetNull), which callers must distinguish from a cache miss.
	Get(ctx context.Context, key string) (value string, ok bool, err error)

	// Set caches value under key for ttl. A zero ttl means no expiry.
	Set(ctx context.Context, key, value string, ttl time.Duration) error

	// SetNull caches the fact that key has no value, for a short ttl, so
	// that a storm of queries for a nonexistent record doesn't repeatedly
	// fall through to the backend.
	SetNull(ctx context.Context, key string, ttl time.Duration) error

	// Delete evicts key from the cache.
	Delete(ctx context.Context, key string) error

	// Lock acquires a distributed lock on key, waiting while it is held
	// elsewhere. It returns an error if ctx is done first; RedisCache also
	// returns an error once redsync gives up after its bounded number of
	// attempts. The returned func releases the lock.
	Lock(ctx context.Context, key string) (unlock func() error, err error)

	// AddRelatedQueryKey records that queryKey's result depended on
	// recordKey, so invalidating recordKey should also invalidate
	// queryKey.
	AddRelatedQueryKey(ctx context.Context, recordKey, queryKey string) error

	// RelatedQueryKeys returns every query key previously registered
	// against recordKey via AddRelatedQueryKey.
	RelatedQueryKeys(ctx context.Context, recordKey string) ([]string, error)

	// RemoveRelatedQueryKey forgets a single queryKey -> recordKey
	// dependency, once that query key has been invalidated.
	RemoveRelatedQueryKey(ctx context.Context, recordKey, queryKey string) error
}

// RecordKey returns the cache key for a single record identified by its
// primary-key value.
func RecordKey(pk string) string {
	return "record:" + pk
}

// QueryKey returns the cache key for a query's result set, keyed by the
// query's canonical condition-chain text so that equivalent queries share a
// cache entry.
func QueryKey(canonicalConditions string) string {
	return "query:" + canonicalConditions
}
