// Package memory provides sharded, in-process implementations of the
// single-use stores the authorization endpoint core depends on: codes, PAR
// records, challenges, sessions, and DPoP jti replay guards. Each store
// partitions its keyspace across a fixed number of independently-locked
// shards, following the same lock-per-map-of-records shape dexidp/dex's
// memStorage uses, generalized so a stable hash of the key selects which
// shard serializes access to it.
package memory

import (
	"hash/fnv"
	"sync"
	"time"

	"github.com/dexidp/dex/storage"
)

// entry pairs a stored value with its absolute expiry.
type entry[T any] struct {
	value  T
	expiry time.Time
}

type shard[T any] struct {
	mu    sync.Mutex
	items map[string]entry[T]
}

// Sharded is a generic, TTL-evicting, single-use-or-reusable key/value store
// partitioned across a fixed shard count. Eviction is lazy (checked on
// access) plus an optional periodic sweep; this mirrors the design note that
// expiring entries are fine to collect opportunistically rather than with a
// min-heap, since correctness only requires that expired entries eventually
// stop being servable.
type Sharded[T any] struct {
	shards []*shard[T]
	now    func() time.Time
}

// NewSharded constructs a store with the given shard count. shardCount must
// be at least 1; a count of 1 degenerates to a single global mutex.
func NewSharded[T any](shardCount int, now func() time.Time) *Sharded[T] {
	if shardCount < 1 {
		shardCount = 1
	}
	if now == nil {
		now = time.Now
	}
	s := &Sharded[T]{shards: make([]*shard[T], shardCount), now: now}
	for i := range s.shards {
		s.shards[i] = &shard[T]{items: make(map[string]entry[T])}
	}
	return s
}

func (s *Sharded[T]) ShardCount() int { return len(s.shards) }

// ShardIndex returns the stable shard index a key hashes to, exposed so
// callers (the session store) can embed it in an externally visible id for
// sticky routing.
func (s *Sharded[T]) ShardIndex(key string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(len(s.shards)))
}

func (s *Sharded[T]) shardFor(key string) *shard[T] {
	return s.shards[s.ShardIndex(key)]
}

// Put inserts a value under key with the given TTL. It fails with
// storage.ErrAlreadyExists if an unexpired entry already occupies the key;
// an expired entry is silently overwritten.
func (s *Sharded[T]) Put(key string, value T, ttl time.Duration) error {
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	if existing, ok := sh.items[key]; ok && s.now().Before(existing.expiry) {
		return storage.ErrAlreadyExists
	}
	sh.items[key] = entry[T]{value: value, expiry: s.now().Add(ttl)}
	return nil
}

// Consume atomically reads and deletes the entry at key. A second call for
// the same key always observes storage.ErrNotFound, which is how callers
// detect replay of a single-use artifact.
func (s *Sharded[T]) Consume(key string) (T, error) {
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	var zero T
	e, ok := sh.items[key]
	if !ok {
		return zero, storage.ErrNotFound
	}
	delete(sh.items, key)
	if s.now().After(e.expiry) {
		return zero, storage.ErrExpired
	}
	return e.value, nil
}

// Get reads without consuming, for stores (sessions) that are looked up
// repeatedly across their lifetime.
func (s *Sharded[T]) Get(key string) (T, error) {
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	var zero T
	e, ok := sh.items[key]
	if !ok {
		return zero, storage.ErrNotFound
	}
	if s.now().After(e.expiry) {
		delete(sh.items, key)
		return zero, storage.ErrExpired
	}
	return e.value, nil
}

// Delete removes key unconditionally, used on logout.
func (s *Sharded[T]) Delete(key string) {
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	delete(sh.items, key)
}

// Sweep deletes every expired entry across all shards and returns the count
// removed. Intended to be called from a periodic goroutine; correctness
// never depends on it running, only memory growth does.
func (s *Sharded[T]) Sweep() int {
	removed := 0
	now := s.now()
	for _, sh := range s.shards {
		sh.mu.Lock()
		for k, e := range sh.items {
			if now.After(e.expiry) {
				delete(sh.items, k)
				removed++
			}
		}
		sh.mu.Unlock()
	}
	return removed
}
