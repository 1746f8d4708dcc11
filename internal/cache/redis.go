package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"
)

const scanCount = 1000

// RedisStorage is a Storage shared by every ngevent instance pointing at the
// same Redis. All keys live under a namespace so Keys and Reset never touch
// foreign data.
type RedisStorage struct {
	client redis.UniversalClient
	ns     string
	// eachNode visits every master of a cluster. SCAN is keyless, so a
	// cluster client would otherwise only walk one shard. Nil outside
	// cluster mode.
	eachNode func(ctx context.Context, fn func(ctx context.Context, node *redis.Client) error) error
}

// NewRedisStorage returns a RedisStorage that prefixes every key with namespace.
func NewRedisStorage(client redis.UniversalClient, namespace string) *RedisStorage {
	r := &RedisStorage{client: client, ns: namespace}
	if cc, ok := client.(*redis.ClusterClient); ok {
		r.eachNode = cc.ForEachMaster
	}
	return r
}

// NewRedisClient builds a client from a comma-separated list of redis://
// URLs or bare host:port addresses. More than one address selects cluster
// mode, where a non-zero DB is ignored.
func NewRedisClient(raw, password string, db int) (redis.UniversalClient, error) {
	opts := &redis.UniversalOptions{}
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if !strings.Contains(part, "://") {
			opts.Addrs = append(opts.Addrs, part)
			continue
		}
		parsed, err := redis.ParseURL(part)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		opts.Addrs = append(opts.Addrs, parsed.Addr)
		if opts.Username == "" {
			opts.Username = parsed.Username
		}
		if opts.Password == "" {
			opts.Password = parsed.Password
		}
		if opts.DB == 0 {
			opts.DB = parsed.DB
		}
		if opts.TLSConfig == nil {
			opts.TLSConfig = parsed.TLSConfig
		}
	}
	if len(opts.Addrs) == 0 {
		return nil, errors.New("no redis addresses provided")
	}
	if password != "" {
		opts.Password = password
	}
	if db != 0 {
		opts.DB = db
	}
	if len(opts.Addrs) > 1 {
		opts.DB = 0
	}
	return redis.NewUniversalClient(opts), nil
}

// Get returns the value at key.
func (r *RedisStorage) Get(ctx context.Context, key string) ([]byte, bool, error) {
	b, err := r.client.Get(ctx, r.ns+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return b, true, nil
}

// Set stores val at key without a Redis-side expiry.
func (r *RedisStorage) Set(ctx context.Context, key string, val []byte) error {
	return r.client.Set(ctx, r.ns+key, val, 0).Err()
}

// Remove deletes key.
func (r *RedisStorage) Remove(ctx context.Context, key string) error {
	return r.client.Del(ctx, r.ns+key).Err()
}

// Keys lists every key under the namespace, namespace stripped.
func (r *RedisStorage) Keys(ctx context.Context) ([]string, error) {
	var out []string
	err := r.scan(ctx, globEscape(r.ns)+"*", func(_ redis.Cmdable, keys []string) error {
		for _, k := range keys {
			out = append(out, strings.TrimPrefix(k, r.ns))
		}
		return nil
	})
	return out, err
}

// RemovePrefix deletes every key starting with prefix using SCAN + DEL on
// the node that holds them.
func (r *RedisStorage) RemovePrefix(ctx context.Context, prefix string) (int, error) {
	n := 0
	err := r.scan(ctx, globEscape(r.ns+prefix)+"*", func(node redis.Cmdable, keys []string) error {
		pipe := node.Pipeline()
		for _, k := range keys {
			pipe.Del(ctx, k)
		}
		if _, err := pipe.Exec(ctx); err != nil {
			return fmt.Errorf("delete keys: %w", err)
		}
		n += len(keys)
		return nil
	})
	return n, err
}

// Ping checks connectivity.
func (r *RedisStorage) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// scan calls fn with each batch of keys matching match together with the
// node they were found on. In cluster mode every master is walked and fn
// calls are serialized.
func (r *RedisStorage) scan(ctx context.Context, match string, fn func(node redis.Cmdable, keys []string) error) error {
	if r.eachNode == nil {
		return scanNode(ctx, r.client, match, fn)
	}
	var mu sync.Mutex
	return r.eachNode(ctx, func(ctx context.Context, node *redis.Client) error {
		return scanNode(ctx, node, match, func(node redis.Cmdable, keys []string) error {
			mu.Lock()
			defer mu.Unlock()
			return fn(node, keys)
		})
	})
}

func scanNode(ctx context.Context, node redis.Cmdable, match string, fn func(redis.Cmdable, []string) error) error {
	var cursor uint64
	for {
		keys, next, err := node.Scan(ctx, cursor, match, scanCount).Result()
		if err != nil {
			return fmt.Errorf("scan keys: %w", err)
		}
		if len(keys) > 0 {
			if err := fn(node, keys); err != nil {
				return err
			}
		}
		if next == 0 {
			return nil
		}
		cursor = next
	}
}

// globEscape quotes the characters SCAN MATCH treats as pattern syntax so a
// prefix is matched literally.
func globEscape(s string) string {
	var b strings.Builder
	for _, c := range s {
		switch c {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(c)
	}
	return b.String()
}
