package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore implements Store against a Redis-compatible server,
// letting a node durable-back a shard instead of losing it on restart.
// Keys are namespaced under prefix so several shards can share one
// Redis database without colliding.
type RedisStore struct {
	client *redis.Client
	prefix string
	ctxTTL time.Duration
}

// NewRedisStore wraps an existing *redis.Client. prefix is prepended to
// every key ("shard-3:" for shard 3, say); ctxTTL bounds each individual
// call so a wedged connection can't hang a shard operation forever.
func NewRedisStore(client *redis.Client, prefix string, ctxTTL time.Duration) *RedisStore {
	if ctxTTL <= 0 {
		ctxTTL = 3 * time.Second
	}
	return &RedisStore{client: client, prefix: prefix, ctxTTL: ctxTTL}
}

func (r *RedisStore) key(k string) string {
	return r.prefix + k
}

func (r *RedisStore) withTimeout() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), r.ctxTTL)
}

// Get retrieves a value by key. Returns ErrKeyNotFound if the key
// doesn't exist, matching MemoryStore's contract.
func (r *RedisStore) Get(key string) ([]byte, error) {
	ctx, cancel := r.withTimeout()
	defer cancel()

	val, err := r.client.Get(ctx, r.key(key)).Bytes()
	if err == redis.Nil {
		return nil, ErrKeyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("storage: redis get %q: %w", key, err)
	}
	return val, nil
}

// Put stores a value with the given key, overwriting any existing value.
func (r *RedisStore) Put(key string, value []byte) error {
	ctx, cancel := r.withTimeout()
	defer cancel()

	if err := r.client.Set(ctx, r.key(key), value, 0).Err(); err != nil {
		return fmt.Errorf("storage: redis set %q: %w", key, err)
	}
	return nil
}

// Delete removes a key-value pair. No error if the key doesn't exist.
func (r *RedisStore) Delete(key string) error {
	ctx, cancel := r.withTimeout()
	defer cancel()

	if err := r.client.Del(ctx, r.key(key)).Err(); err != nil {
		return fmt.Errorf("storage: redis del %q: %w", key, err)
	}
	return nil
}

// List returns all keys under this store's prefix, with the prefix
// stripped back off. Uses SCAN rather than KEYS so a large shard
// doesn't block the Redis server.
func (r *RedisStore) List() []string {
	ctx, cancel := r.withTimeout()
	defer cancel()

	var keys []string
	iter := r.client.Scan(ctx, 0, r.prefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val()[len(r.prefix):])
	}
	return keys
}

// Stats reports the key count and total value size under this store's
// prefix. Sizing requires reading every value back, so this is O(n) and
// meant for occasional monitoring calls, not a hot path.
func (r *RedisStore) Stats() StoreStats {
	ctx, cancel := r.withTimeout()
	defer cancel()

	var stats StoreStats
	iter := r.client.Scan(ctx, 0, r.prefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		stats.Keys++
		if n, err := r.client.StrLen(ctx, iter.Val()).Result(); err == nil {
			stats.Bytes += int(n)
		}
	}
	return stats
}
