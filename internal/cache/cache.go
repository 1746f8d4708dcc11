// Package cache implements the two cache layers that sit between the HTTP
// handlers and the backend: a durable TTL cache over a pluggable Storage
// (memory, SQLite or Redis) and an ephemeral single-flight query cache.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// Storage is the key-value medium behind the durable cache. Values are
// opaque serialized entries; expiry is interpreted by Durable, not by the
// storage.
type Storage interface {
	// Get returns the raw value stored at key and whether it exists.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	// Set overwrites the value at key.
	Set(ctx context.Context, key string, val []byte) error
	// Remove deletes key. Removing a missing key is not an error.
	Remove(ctx context.Context, key string) error
	// Keys lists every key currently stored.
	Keys(ctx context.Context) ([]string, error)
}

// PrefixRemover is implemented by storages that can delete a key range
// natively. Durable falls back to Keys+Remove when absent.
type PrefixRemover interface {
	RemovePrefix(ctx context.Context, prefix string) (int, error)
}

// ErrStorage wraps failures of the underlying storage medium.
var ErrStorage = errors.New("cache storage")

// Entry is the serialized form of a cached value.
// Timestamps are epoch milliseconds; an entry is valid iff now <= ExpiresAt.
type Entry struct {
	Data      json.RawMessage `json:"data"`
	Timestamp int64           `json:"timestamp"`
	ExpiresAt int64           `json:"expiresAt"`
}

// Valid reports whether the entry is still fresh at now.
func (e *Entry) Valid(now time.Time) bool {
	return now.UnixMilli() <= e.ExpiresAt
}

// Stats counts entries by state for diagnostics.
type Stats struct {
	Total   int `json:"total"`
	Valid   int `json:"valid"`
	Expired int `json:"expired"`
	Invalid int `json:"invalid"`
}

// decodeEntry parses a raw value. A value without expiresAt is invalid.
func decodeEntry(raw []byte) (*Entry, bool) {
	var e Entry
	if err := json.Unmarshal(raw, &e); err != nil || e.ExpiresAt == 0 {
		return nil, false
	}
	return &e, true
}
