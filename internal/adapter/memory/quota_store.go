// Package memory keeps quota counters in process memory. Counters are lost on
// restart and not shared between replicas.
package memory

import (
	"context"
	"hash/maphash"
	"sync"

	"github.com/HArsh-ri01/nl-to-sql/internal/core/domain"
)

const shardCount = 32

type shard struct {
	mu       sync.Mutex
	counters map[string]domain.Counter
}

// QuotaStore is a sharded map of counters. Operations on one key serialize on
// its shard's mutex; keys in different shards never contend.
type QuotaStore struct {
	seed   maphash.Seed
	shards [shardCount]*shard
}

func NewQuotaStore() *QuotaStore {
	s := &QuotaStore{seed: maphash.MakeSeed()}
	for i := range s.shards {
		s.shards[i] = &shard{counters: make(map[string]domain.Counter)}
	}
	return s
}

func (s *QuotaStore) shardFor(key string) *shard {
	return s.shards[maphash.String(s.seed, key)%shardCount]
}

func (s *QuotaStore) Consume(_ context.Context, key string, limit int, today domain.Day) (domain.Usage, error) {
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	cur, ok := sh.counters[key]
	next, allowed := domain.Consume(cur, ok, today, limit)
	if !allowed {
		return domain.Usage{Count: cur.Count}, nil
	}
	sh.counters[key] = next
	return domain.Usage{Allowed: true, Count: next.Count}, nil
}

func (s *QuotaStore) Refund(_ context.Context, key string, today domain.Day) error {
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	cur, ok := sh.counters[key]
	if !ok || cur.Window != today || cur.Count == 0 {
		return nil
	}
	cur.Count--
	sh.counters[key] = cur
	return nil
}

func (s *QuotaStore) Peek(_ context.Context, key string, _ domain.Day) (domain.Counter, bool, error) {
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	cur, ok := sh.counters[key]
	return cur, ok, nil
}

func (s *QuotaStore) Purge(_ context.Context, before domain.Day) (int64, error) {
	var n int64
	for _, sh := range s.shards {
		sh.mu.Lock()
		for k, c := range sh.counters {
			if c.Window.Before(before) {
				delete(sh.counters, k)
				n++
			}
		}
		sh.mu.Unlock()
	}
	return n, nil
}
