package cache

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
)

// Service layers namespacing, JSON serialization, hit/miss accounting
// and a read-through primitive over a KeyValueStore.
//
// The service is fail open by contract: a backend failure is logged and
// degrades to a cache miss, it is never surfaced to the caller. The
// cache is a performance optimization only; correctness must hold with
// a cold or unavailable backend.
type Service struct {
	store KeyValueStore

	hits   atomic.Int64
	misses atomic.Int64
}

// Stats is a point-in-time snapshot of the in-process hit/miss counters.
type Stats struct {
	Hits    int64   `json:"hits"`
	Misses  int64   `json:"misses"`
	Total   int64   `json:"total"`
	HitRate float64 `json:"hit_rate"`
}

// NewService creates a cache service over the given backend.
func NewService(store KeyValueStore) *Service {
	return &Service{store: store}
}

func buildKey(key, prefix string) string {
	if prefix == "" {
		return key
	}
	return prefix + ":" + key
}

// Get retrieves and unmarshals a cached value into dest. Returns false
// on a miss, on a backend error, or when the stored payload does not
// unmarshal into dest.
func (s *Service) Get(ctx context.Context, key, prefix string, dest any) bool {
	fullKey := buildKey(key, prefix)

	raw, err := s.store.Get(ctx, fullKey)
	if err != nil {
		if !errors.Is(err, ErrKeyNotFound) {
			log.Warn().Err(err).Str("key", fullKey).Msg("cache get failed, treating as miss")
		}
		s.misses.Add(1)
		return false
	}

	if err := json.Unmarshal(raw, dest); err != nil {
		log.Warn().Err(err).Str("key", fullKey).Msg("cache payload unmarshal failed, treating as miss")
		s.misses.Add(1)
		return false
	}

	s.hits.Add(1)
	return true
}

// Set serializes and stores a value with the given TTL. Failures are
// logged and reported as false, never returned as errors.
func (s *Service) Set(ctx context.Context, key, prefix string, value any, ttl time.Duration) bool {
	fullKey := buildKey(key, prefix)

	raw, err := json.Marshal(value)
	if err != nil {
		log.Warn().Err(err).Str("key", fullKey).Msg("cache value marshal failed")
		return false
	}

	if err := s.store.Set(ctx, fullKey, raw, ttl); err != nil {
		log.Warn().Err(err).Str("key", fullKey).Msg("cache set failed")
		return false
	}
	return true
}

// Del removes a single key.
func (s *Service) Del(ctx context.Context, key, prefix string) bool {
	fullKey := buildKey(key, prefix)

	if _, err := s.store.Del(ctx, fullKey); err != nil {
		log.Warn().Err(err).Str("key", fullKey).Msg("cache delete failed")
		return false
	}
	return true
}

// DelPattern resolves all keys matching the glob pattern and deletes
// them in one call. Returns the number of keys deleted; 0 on no matches
// or backend error.
func (s *Service) DelPattern(ctx context.Context, pattern, prefix string) int {
	fullPattern := buildKey(pattern, prefix)

	keys, err := s.store.Keys(ctx, fullPattern)
	if err != nil {
		log.Warn().Err(err).Str("pattern", fullPattern).Msg("cache pattern lookup failed")
		return 0
	}
	if len(keys) == 0 {
		return 0
	}

	deleted, err := s.store.Del(ctx, keys...)
	if err != nil {
		log.Warn().Err(err).Str("pattern", fullPattern).Msg("cache pattern delete failed")
		return 0
	}

	log.Debug().Str("pattern", fullPattern).Int64("deleted", deleted).Msg("invalidated cache keys")
	return int(deleted)
}

// Incr atomically increments a counter key. Returns 0 on backend error.
func (s *Service) Incr(ctx context.Context, key, prefix string) int64 {
	fullKey := buildKey(key, prefix)

	n, err := s.store.Incr(ctx, fullKey)
	if err != nil {
		log.Warn().Err(err).Str("key", fullKey).Msg("cache increment failed")
		return 0
	}
	return n
}

// Decr atomically decrements a counter key. Returns 0 on backend error.
func (s *Service) Decr(ctx context.Context, key, prefix string) int64 {
	fullKey := buildKey(key, prefix)

	n, err := s.store.Decr(ctx, fullKey)
	if err != nil {
		log.Warn().Err(err).Str("key", fullKey).Msg("cache decrement failed")
		return 0
	}
	return n
}

// Stats returns the current hit/miss counters.
func (s *Service) Stats() Stats {
	hits := s.hits.Load()
	misses := s.misses.Load()
	total := hits + misses

	var rate float64
	if total > 0 {
		rate = float64(hits) / float64(total)
	}

	return Stats{Hits: hits, Misses: misses, Total: total, HitRate: rate}
}

// ResetStats zeroes the hit/miss counters.
func (s *Service) ResetStats() {
	s.hits.Store(0)
	s.misses.Store(0)
}

// Wrap is the read-through primitive: return the cached value when
// present, otherwise invoke fetch, store its result with the given TTL
// and return it. Fetch errors propagate to the caller uncaught; the
// fetch is the operation of record, only cache failures are absorbed.
func Wrap[T any](ctx context.Context, s *Service, key, prefix string, ttl time.Duration, fetch func() (T, error)) (T, error) {
	var cached T
	if s.Get(ctx, key, prefix, &cached) {
		return cached, nil
	}

	fetched, err := fetch()
	if err != nil {
		var zero T
		return zero, err
	}

	s.Set(ctx, key, prefix, fetched, ttl)
	return fetched, nil
}
