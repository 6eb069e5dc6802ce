package kvstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	backend "github.com/redis/go-redis/v9"
)

// Redis is a Store on a Redis server. Keys are namespaced by a prefix and
// may expire after a TTL; usage is computed over the live prefixed keys.
type Redis struct {
	client *backend.Client
	prefix string
	ttl    time.Duration
	quota  int64
}

// RedisOption customises a Redis store.
type RedisOption func(*Redis)

// WithPrefix sets the key namespace. Default: "snapflow:".
func WithPrefix(prefix string) RedisOption { return func(r *Redis) { r.prefix = prefix } }

// WithTTL expires every written key after ttl. 0 (default) never expires.
func WithTTL(ttl time.Duration) RedisOption { return func(r *Redis) { r.ttl = ttl } }

// WithRedisQuota caps the total value bytes under the prefix.
func WithRedisQuota(bytes int64) RedisOption { return func(r *Redis) { r.quota = bytes } }

// NewRedis connects to addr.
func NewRedis(addr, password string, db int, opts ...RedisOption) *Redis {
	return NewRedisFromClient(backend.NewClient(&backend.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	}), opts...)
}

// NewRedisFromClient wraps an existing client.
func NewRedisFromClient(client *backend.Client, opts ...RedisOption) *Redis {
	r := &Redis{client: client, prefix: "snapflow:"}
	for _, o := range opts {
		o(r)
	}
	return r
}

func (r *Redis) key(k string) string { return r.prefix + k }

func (r *Redis) Put(ctx context.Context, key string, value []byte) error {
	k := r.key(key)
	if r.quota > 0 {
		st, err := r.Stats(ctx)
		if err != nil {
			return err
		}
		old, err := r.client.StrLen(ctx, k).Result()
		if err != nil {
			return fmt.Errorf("kvstore: strlen %s: %w", key, err)
		}
		if err := checkQuota(r.quota, st.BytesInUse, int(old), len(value), key); err != nil {
			return err
		}
	}
	if err := r.client.Set(ctx, k, value, r.ttl).Err(); err != nil {
		return fmt.Errorf("kvstore: put %s: %w", key, err)
	}
	return nil
}

func (r *Redis) Get(ctx context.Context, keys ...string) (map[string][]byte, error) {
	out := make(map[string][]byte, len(keys))
	if len(keys) == 0 {
		return out, nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = r.key(k)
	}
	vals, err := r.client.MGet(ctx, full...).Result()
	if err != nil {
		return nil, fmt.Errorf("kvstore: mget: %w", err)
	}
	for i, v := range vals {
		if s, ok := v.(string); ok {
			out[keys[i]] = []byte(s)
		}
	}
	return out, nil
}

func (r *Redis) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = r.key(k)
	}
	if err := r.client.Del(ctx, full...).Err(); err != nil {
		return fmt.Errorf("kvstore: delete: %w", err)
	}
	return nil
}

func (r *Redis) Stats(ctx context.Context) (Stats, error) {
	st := Stats{QuotaBytes: r.quota}
	iter := r.client.Scan(ctx, 0, r.prefix+"*", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return Stats{}, fmt.Errorf("kvstore: scan: %w", err)
	}
	if len(keys) == 0 {
		return st, nil
	}

	pipe := r.client.Pipeline()
	lens := make([]*backend.IntCmd, len(keys))
	for i, k := range keys {
		lens[i] = pipe.StrLen(ctx, k)
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, backend.Nil) {
		return Stats{}, fmt.Errorf("kvstore: strlen: %w", err)
	}
	for _, l := range lens {
		if n := l.Val(); n > 0 {
			st.Keys++
			st.BytesInUse += n
		}
	}
	return st, nil
}

func (r *Redis) Close() error { return r.client.Close() }
