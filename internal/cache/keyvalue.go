package cache

import (
	"context"
	"errors"
	"time"
)

// ErrKeyNotFound is returned by KeyValueStore.Get for absent keys so
// callers can distinguish a miss from a backend failure.
var ErrKeyNotFound = errors.New("cache: key not found")

// KeyValueStore is the contract over a TTL-capable key/value backend.
// Values are opaque bytes; serialization is the caller's concern.
// Keys accepts glob-style patterns (redis KEYS semantics).
type KeyValueStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) (int64, error)
	Keys(ctx context.Context, pattern string) ([]string, error)
	Incr(ctx context.Context, key string) (int64, error)
	Decr(ctx context.Context, key string) (int64, error)
	Exists(ctx context.Context, key string) (bool, error)
	TTL(ctx context.Context, key string) (time.Duration, error)
	Ping(ctx context.Context) error
	Close() error
}
