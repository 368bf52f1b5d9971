package cachestore

import (
	"context"
	"time"
)

// Txn is the view of the store inside one atomic operation. Every
// mutation made through a Txn becomes visible to other callers all at
// once or not at all.
type Txn interface {
	// Get returns the value for key, or ok=false if the key is absent
	// or its lease has expired
	Get(key string) (value []byte, ok bool, err error)

	// Set writes value under key with a bounded TTL. A zero TTL means
	// the key does not expire.
	Set(key string, value []byte, ttl time.Duration) error

	// Delete removes key. Deleting an absent key is not an error.
	Delete(key string) error

	// Increment atomically increments the integer counter stored under
	// key and returns the new value. A missing key starts from zero.
	Increment(key string) (int64, error)
}

// Store is a key-value store with per-key TTL and an atomic multi-key
// operation primitive. Multi-key read-modify-write sequences must go
// through Atomic; application-level locking across processes is not a
// substitute.
type Store interface {
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error

	// Atomic executes fn as a single indivisible unit. If fn returns
	// an error, none of its mutations are applied.
	Atomic(ctx context.Context, fn func(tx Txn) error) error

	Close() error
}
