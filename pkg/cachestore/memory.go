package cachestore

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"
)

// ErrStoreUnavailable is returned by a MemStore forced into failure
// mode, used to exercise degraded-cache paths in tests
var ErrStoreUnavailable = errors.New("cache store unavailable")

// MemStore is an in-memory Store for tests and dev mode. Atomic holds
// the store lock for the whole callback, so mutations inside one
// Atomic call are indivisible with respect to concurrent callers.
type MemStore struct {
	mu      sync.Mutex
	entries map[string]memEntry

	// calls counts every store operation, so tests can assert that a
	// code path performed zero calls
	calls int64

	// fail forces every operation to return ErrStoreUnavailable
	fail bool

	now func() time.Time
}

type memEntry struct {
	value     []byte
	expiresAt time.Time
}

// NewMemStore creates an empty in-memory store
func NewMemStore() *MemStore {
	return &MemStore{
		entries: make(map[string]memEntry),
		now:     time.Now,
	}
}

// SetClock overrides the store clock for expiry tests
func (s *MemStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// SetFailing toggles forced failure mode
func (s *MemStore) SetFailing(fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail = fail
}

// Calls returns the number of store operations performed so far
func (s *MemStore) Calls() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func (s *MemStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls++
	if s.fail {
		return nil, false, ErrStoreUnavailable
	}
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	return s.get(key)
}

func (s *MemStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls++
	if s.fail {
		return ErrStoreUnavailable
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.set(key, value, ttl)
	return nil
}

func (s *MemStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls++
	if s.fail {
		return ErrStoreUnavailable
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	delete(s.entries, key)
	return nil
}

func (s *MemStore) Atomic(ctx context.Context, fn func(tx Txn) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls++
	if s.fail {
		return ErrStoreUnavailable
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	// Stage mutations so a failed callback applies nothing
	staged := &memTxn{store: s, writes: make(map[string]*memEntry)}
	if err := fn(staged); err != nil {
		return err
	}
	staged.commit()
	return nil
}

func (s *MemStore) Close() error {
	return nil
}

// get and set assume the lock is held
func (s *MemStore) get(key string) ([]byte, bool, error) {
	e, ok := s.entries[key]
	if !ok {
		return nil, false, nil
	}
	if !e.expiresAt.IsZero() && s.now().After(e.expiresAt) {
		return nil, false, nil
	}
	return append([]byte(nil), e.value...), true, nil
}

func (s *MemStore) set(key string, value []byte, ttl time.Duration) {
	e := memEntry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		e.expiresAt = s.now().Add(ttl)
	}
	s.entries[key] = e
}

// memTxn stages writes until commit. A nil staged entry is a delete.
type memTxn struct {
	store  *MemStore
	writes map[string]*memEntry
}

func (t *memTxn) Get(key string) ([]byte, bool, error) {
	if e, staged := t.writes[key]; staged {
		if e == nil {
			return nil, false, nil
		}
		return append([]byte(nil), e.value...), true, nil
	}
	return t.store.get(key)
}

func (t *memTxn) Set(key string, value []byte, ttl time.Duration) error {
	e := &memEntry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		e.expiresAt = t.store.now().Add(ttl)
	}
	t.writes[key] = e
	return nil
}

func (t *memTxn) Delete(key string) error {
	t.writes[key] = nil
	return nil
}

func (t *memTxn) Increment(key string) (int64, error) {
	var current int64
	if value, ok, err := t.Get(key); err != nil {
		return 0, err
	} else if ok {
		n, err := strconv.ParseInt(string(value), 10, 64)
		if err != nil {
			return 0, err
		}
		current = n
	}

	next := current + 1
	if err := t.Set(key, []byte(strconv.FormatInt(next, 10)), 0); err != nil {
		return 0, err
	}
	return next, nil
}

func (t *memTxn) commit() {
	for key, e := range t.writes {
		if e == nil {
			delete(t.store.entries, key)
			continue
		}
		t.store.entries[key] = *e
	}
}
