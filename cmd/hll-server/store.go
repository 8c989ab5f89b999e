// store.go implements the sharded in-memory table of named sketches.
//
// Unlike a generic byte store, the values here are live concurrent
// sketches. That choice shapes the whole locking story: the shard lock
// only guards the name -> sketch mapping, never the sketch contents.
// Once a caller holds a sketch handle, inserts, counts, and merges run
// lock-free on the sketch's own atomic registers, so two clients hammering
// the same key never serialize behind a mutex.
//
// Sharding Strategy
// =================
//
// Names are partitioned across 256 independent shards by FNV-1a hash, each
// shard with its own RWMutex. The map operations a shard lock protects are
// nanosecond-scale (lookup, insert, delete), so 256 shards is far more
// than enough to keep lookups contention-free at any realistic client
// count, while staying cheap to iterate during snapshots.
package main

import (
	"hash/fnv"
	"sync"

	hll "github.com/tomtomwombat/hyperloglockless"
)

const shardCount = 256

type shard struct {
	mu   sync.RWMutex
	data map[string]*hll.AtomicSketch
}

// Store routes names to shards and hands out live sketch handles.
type Store struct {
	shards [shardCount]*shard
}

func NewStore() *Store {
	s := &Store{}
	for i := range s.shards {
		s.shards[i] = &shard{data: make(map[string]*hll.AtomicSketch)}
	}
	return s
}

func (s *Store) getShard(key string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return s.shards[h.Sum32()%shardCount]
}

// Get returns the live sketch for key, if any. The handle stays valid
// after the lock is released; a concurrent Delete only unlinks the name.
func (s *Store) Get(key string) (*hll.AtomicSketch, bool) {
	sh := s.getShard(key)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	sk, ok := sh.data[key]
	return sk, ok
}

// GetOrCreate returns the sketch for key, creating it with factory under
// the shard's write lock when missing. The factory runs at most once per
// call and only when the key is absent, so two racing creators agree on a
// single sketch.
func (s *Store) GetOrCreate(key string, factory func() *hll.AtomicSketch) *hll.AtomicSketch {
	sh := s.getShard(key)

	sh.mu.RLock()
	sk, ok := sh.data[key]
	sh.mu.RUnlock()
	if ok {
		return sk
	}

	sh.mu.Lock()
	defer sh.mu.Unlock()
	if sk, ok := sh.data[key]; ok {
		return sk // lost the creation race, use the winner's sketch
	}
	sk = factory()
	sh.data[key] = sk
	return sk
}

// Set installs a sketch under key, replacing any previous one. Used by
// snapshot loading before the server accepts connections.
func (s *Store) Set(key string, sk *hll.AtomicSketch) {
	sh := s.getShard(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	sh.data[key] = sk
}

// Delete unlinks key and reports whether it existed. Clients still
// holding the sketch handle keep a working sketch; it is simply no longer
// reachable by name.
func (s *Store) Delete(key string) bool {
	sh := s.getShard(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	_, ok := sh.data[key]
	if ok {
		delete(sh.data, key)
	}
	return ok
}

// Len returns the number of named sketches across all shards.
func (s *Store) Len() int {
	n := 0
	for _, sh := range s.shards {
		sh.mu.RLock()
		n += len(sh.data)
		sh.mu.RUnlock()
	}
	return n
}

// ForEach calls fn for every (name, sketch) pair. Handles are collected
// shard by shard under the read lock, but fn runs with no locks held:
// sketches are safe to read concurrently, and keeping fn outside the
// critical section means a slow consumer (serialization, I/O) never
// blocks writers on the shard.
func (s *Store) ForEach(fn func(key string, sk *hll.AtomicSketch) error) error {
	type entry struct {
		key string
		sk  *hll.AtomicSketch
	}

	for _, sh := range s.shards {
		sh.mu.RLock()
		entries := make([]entry, 0, len(sh.data))
		for k, sk := range sh.data {
			entries = append(entries, entry{k, sk})
		}
		sh.mu.RUnlock()

		for _, e := range entries {
			if err := fn(e.key, e.sk); err != nil {
				return err
			}
		}
	}
	return nil
}
