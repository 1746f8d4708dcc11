package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"unicode/utf8"
)

// KV is a cache.Storage over the cache_entries table, so cached entries
// survive a restart. It shares the Store's connections.
type KV struct {
	s *Store
}

// KV returns the durable cache storage view of s.
func (s *Store) KV() *KV { return &KV{s: s} }

// Get returns the value stored at key.
func (kv *KV) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var v []byte
	err := kv.s.read.QueryRowContext(ctx,
		`SELECT value FROM cache_entries WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

// Set overwrites the value at key.
func (kv *KV) Set(ctx context.Context, key string, val []byte) error {
	_, err := kv.s.write.ExecContext(ctx,
		`INSERT INTO cache_entries (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, val)
	return err
}

// Remove deletes key.
func (kv *KV) Remove(ctx context.Context, key string) error {
	_, err := kv.s.write.ExecContext(ctx, `DELETE FROM cache_entries WHERE key = ?`, key)
	return err
}

// Keys lists every cached key.
func (kv *KV) Keys(ctx context.Context) ([]string, error) {
	rows, err := kv.s.read.QueryContext(ctx, `SELECT key FROM cache_entries`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// RemovePrefix deletes every key starting with prefix. substr keeps the
// match literal and case-sensitive, which LIKE and GLOB do not.
func (kv *KV) RemovePrefix(ctx context.Context, prefix string) (int, error) {
	result, err := kv.s.write.ExecContext(ctx,
		`DELETE FROM cache_entries WHERE substr(key, 1, ?) = ?`, utf8.RuneCountInString(prefix), prefix)
	if err != nil {
		return 0, err
	}
	n, err := result.RowsAffected()
	return int(n), err
}
