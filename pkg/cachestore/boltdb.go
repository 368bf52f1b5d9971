package cachestore

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	bolt "go.etcd.io/bbolt"

	"github.com/bastionhq/bastion/pkg/log"
)

var bucketCache = []byte("cache")

// envelope wraps a stored value with its lease expiry
type envelope struct {
	Value     []byte    `json:"value"`
	ExpiresAt time.Time `json:"expires_at,omitzero"`
}

func (e *envelope) expired(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && now.After(e.ExpiresAt)
}

// BoltStore implements Store using BoltDB. Every bbolt Update is a
// single serialized transaction, which provides the store-level atomic
// multi-key primitive the role cache depends on.
type BoltStore struct {
	db     *bolt.DB
	logger zerolog.Logger
	stopCh chan struct{}

	// now is injectable for deterministic expiry tests
	now func() time.Time
}

// NewBoltStore creates a new BoltDB-backed cache store
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "cache.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketCache)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create cache bucket: %w", err)
	}

	return &BoltStore{
		db:     db,
		logger: log.WithComponent("cachestore"),
		stopCh: make(chan struct{}),
		now:    time.Now,
	}, nil
}

// Close closes the database and stops the expiry sweeper
func (s *BoltStore) Close() error {
	select {
	case <-s.stopCh:
	default:
		close(s.stopCh)
	}
	return s.db.Close()
}

// StartSweeper begins a background loop that removes expired leases.
// Reads already treat expired entries as absent; the sweeper only
// reclaims disk space.
func (s *BoltStore) StartSweeper(interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				if n, err := s.sweep(); err != nil {
					s.logger.Warn().Err(err).Msg("expiry sweep failed")
				} else if n > 0 {
					s.logger.Debug().Int("removed", n).Msg("swept expired cache entries")
				}
			case <-s.stopCh:
				return
			}
		}
	}()
}

func (s *BoltStore) sweep() (int, error) {
	now := s.now()
	removed := 0

	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketCache)
		c := b.Cursor()
		var stale [][]byte
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var env envelope
			if err := json.Unmarshal(v, &env); err != nil {
				// Unreadable entries are reclaimed too
				stale = append(stale, append([]byte(nil), k...))
				continue
			}
			if env.expired(now) {
				stale = append(stale, append([]byte(nil), k...))
			}
		}
		for _, k := range stale {
			if err := b.Delete(k); err != nil {
				return err
			}
			removed++
		}
		return nil
	})
	return removed, err
}

func (s *BoltStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	var value []byte
	var ok bool
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketCache)
		data := b.Get([]byte(key))
		if data == nil {
			return nil
		}
		var env envelope
		if err := json.Unmarshal(data, &env); err != nil {
			return fmt.Errorf("corrupt cache entry %s: %w", key, err)
		}
		if env.expired(s.now()) {
			return nil
		}
		// Copy out: bbolt data is only valid during the transaction
		value = append([]byte(nil), env.Value...)
		ok = true
		return nil
	})
	return value, ok, err
}

func (s *BoltStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return putEnvelope(tx.Bucket(bucketCache), key, value, ttl, s.now())
	})
}

func (s *BoltStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketCache).Delete([]byte(key))
	})
}

// Atomic executes fn inside one bbolt write transaction
func (s *BoltStore) Atomic(ctx context.Context, fn func(tx Txn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return fn(&boltTxn{
			bucket: tx.Bucket(bucketCache),
			now:    s.now(),
		})
	})
}

// boltTxn adapts a bbolt bucket to the Txn interface
type boltTxn struct {
	bucket *bolt.Bucket
	now    time.Time
}

func (t *boltTxn) Get(key string) ([]byte, bool, error) {
	data := t.bucket.Get([]byte(key))
	if data == nil {
		return nil, false, nil
	}
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, false, fmt.Errorf("corrupt cache entry %s: %w", key, err)
	}
	if env.expired(t.now) {
		return nil, false, nil
	}
	return append([]byte(nil), env.Value...), true, nil
}

func (t *boltTxn) Set(key string, value []byte, ttl time.Duration) error {
	return putEnvelope(t.bucket, key, value, ttl, t.now)
}

func (t *boltTxn) Delete(key string) error {
	return t.bucket.Delete([]byte(key))
}

func (t *boltTxn) Increment(key string) (int64, error) {
	var current int64
	if value, ok, err := t.Get(key); err != nil {
		return 0, err
	} else if ok {
		n, err := strconv.ParseInt(string(value), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("counter %s holds non-integer value: %w", key, err)
		}
		current = n
	}

	next := current + 1
	// Counters never expire on their own; they are deleted together
	// with the keys they version
	if err := putEnvelope(t.bucket, key, []byte(strconv.FormatInt(next, 10)), 0, t.now); err != nil {
		return 0, err
	}
	return next, nil
}

func putEnvelope(bucket *bolt.Bucket, key string, value []byte, ttl time.Duration, now time.Time) error {
	env := envelope{Value: value}
	if ttl > 0 {
		env.ExpiresAt = now.Add(ttl)
	}
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return bucket.Put([]byte(key), data)
}
