package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-redsync/redsync/v4"
	goredis "github.com/go-redsync/redsync/v4/redis/goredis/v9"
	rdb "github.com/redis/go-redis/v9"
)

// nullSentinel is stored in Redis to represent a cached "not found" result,
// distinguishing it from an actual empty string value.
const nullSentinel = "\x00null\x00"

// RedisCache is the Cache implementation backed by Redis. A bloom filter
// gates reads: a key never observed by Set is rejected before it ever
// reaches Redis, trading a small, tunable false-positive rate for avoiding a
// network round trip on every guaranteed miss. Writes always update both
// the filter and Redis so the filter never undercounts what's cached.
type RedisCache struct {
	client  *rdb.Client
	rs      *redsync.Redsync
	lockTTL time.Duration

	bloomMu sync.Mutex
	bloom   *bloom.BloomFilter
}

// NewRedisCache connects to Redis at addr and prepares the bloom filter and
// distributed-lock pool. expectedKeys and falsePositiveRate size the bloom
// filter; lockTTL bounds how long a distributed lock may be held before it
// is considered abandoned.
func NewRedisCache(addr string, expectedKeys uint, falsePositiveRate float64, lockTTL time.Duration) *RedisCache {
	client := rdb.NewClient(&rdb.Options{Addr: addr})
	pool := goredis.NewPool(client)
	return &RedisCache{
		client:  client,
		rs:      redsync.New(pool),
		lockTTL: lockTTL,
		bloom:   bloom.NewWithEstimates(expectedKeys, falsePositiveRate),
	}
}

func (c *RedisCache) Get(ctx context.Context, key string) (string, bool, error) {
	c.bloomMu.Lock()
	maybePresent := c.bloom.TestString(key)
	c.bloomMu.Unlock()
	if !maybePresent {
		return "", false, nil
	}

	val, err := c.client.Get(ctx, key).Result()
	if errors.Is(err, rdb.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("cache: get %q: %w", key, err)
	}
	if val == nullSentinel {
		return "", true, nil
	}
	return val, true, nil
}

func (c *RedisCache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := c.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("cache: set %q: %w", key, err)
	}
	c.bloomMu.Lock()
	c.bloom.AddString(key)
	c.bloomMu.Unlock()
	return nil
}

func (c *RedisCache) SetNull(ctx context.Context, key string, ttl time.Duration) error {
	return c.Set(ctx, key, nullSentinel, ttl)
}

func (c *RedisCache) Delete(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("cache: delete %q: %w", key, err)
	}
	// The bloom filter can't un-learn a key; it only ever causes a false
	// "maybe present", which Get resolves with a real Redis round trip.
	return nil
}

func (c *RedisCache) Lock(ctx context.Context, key string) (func() error, error) {
	mutex := c.rs.NewMutex("lock:"+key, redsync.WithExpiry(c.lockTTL))
	if err := mutex.LockContext(ctx); err != nil {
		return nil, fmt.Errorf("cache: acquire lock %q: %w", key, err)
	}
	return func() error {
		if _, err := mutex.UnlockContext(ctx); err != nil {
			return fmt.Errorf("cache: release lock %q: %w", key, err)
		}
		return nil
	}, nil
}

func (c *RedisCache) AddRelatedQueryKey(ctx context.Context, recordKey, queryKey string) error {
	if err := c.client.SAdd(ctx, relatedSetKey(recordKey), queryKey).Err(); err != nil {
		return fmt.Errorf("cache: add related query key: %w", err)
	}
	return nil
}

func (c *RedisCache) RelatedQueryKeys(ctx context.Context, recordKey string) ([]string, error) {
	keys, err := c.client.SMembers(ctx, relatedSetKey(recordKey)).Result()
	if err != nil {
		return nil, fmt.Errorf("cache: list related query keys: %w", err)
	}
	return keys, nil
}

func (c *RedisCache) RemoveRelatedQueryKey(ctx context.Context, recordKey, queryKey string) error {
	if err := c.client.SRem(ctx, relatedSetKey(recordKey), queryKey).Err(); err != nil {
		return fmt.Errorf("cache: remove related query key: %w", err)
	}
	return nil
}

func relatedSetKey(recordKey string) string {
	return "record_queries:" + recordKey
}
