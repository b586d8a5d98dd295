package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
)

// defaultShards is the number of map shards used by MemoryStore.
const defaultShards = 32

// MemoryStore is an in-process HistoryStore sharded by identifier hash.
type MemoryStore struct {
	shards []*shard
}

// shard holds the logs of the identifiers hashed to it.
type shard struct {
	mu      sync.RWMutex
	entries map[string][]time.Time
}

// NewMemoryStore creates an empty in-memory history store.
func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{shards: make([]*shard, defaultShards)}
	for i := range s.shards {
		s.shards[i] = &shard{entries: make(map[string][]time.Time)}
	}
	return s
}

var (
	_ HistoryStore = (*MemoryStore)(nil)
	_ Sweeper      = (*MemoryStore)(nil)
)

func (s *MemoryStore) shardFor(identifier string) *shard {
	return s.shards[xxhash.Sum64String(identifier)%uint64(len(s.shards))]
}

// Get returns a copy of the identifier's log.
func (s *MemoryStore) Get(_ context.Context, identifier string) ([]time.Time, error) {
	sh := s.shardFor(identifier)
	sh.mu.RLock()
	defer sh.mu.RUnlock()

	log := sh.entries[identifier]
	out := make([]time.Time, len(log))
	copy(out, log)
	return out, nil
}

// Replace overwrites the identifier's log. The entry is kept even when the
// log is empty; idle entries are reclaimed by Sweep.
func (s *MemoryStore) Replace(_ context.Context, identifier string, log []time.Time) error {
	sh := s.shardFor(identifier)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	sh.entries[identifier] = log
	return nil
}

// Delete removes the identifier's log.
func (s *MemoryStore) Delete(_ context.Context, identifier string) error {
	sh := s.shardFor(identifier)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	delete(sh.entries, identifier)
	return nil
}

// Sweep removes identifiers with no timestamp after cutoff.
func (s *MemoryStore) Sweep(cutoff time.Time) int {
	removed := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		for id, log := range sh.entries {
			if len(log) == 0 || !log[len(log)-1].After(cutoff) {
				delete(sh.entries, id)
				removed++
			}
		}
		sh.mu.Unlock()
	}
	return removed
}

// Len returns the number of tracked identifiers.
func (s *MemoryStore) Len() int {
	n := 0
	for _, sh := range s.shards {
		sh.mu.RLock()
		n += len(sh.entries)
		sh.mu.RUnlock()
	}
	return n
}
