package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testPayload struct {
	Name   string   `json:"name"`
	Amount float64  `json:"amount"`
	Tags   []string `json:"tags"`
}

func newTestService() *Service {
	return NewService(NewMemoryStore())
}

func TestServiceRoundTrip(t *testing.T) {
	ctx := context.Background()
	svc := newTestService()

	t.Run("string", func(t *testing.T) {
		require.True(t, svc.Set(ctx, "greeting", "test", "hello", time.Minute))
		var out string
		require.True(t, svc.Get(ctx, "greeting", "test", &out))
		assert.Equal(t, "hello", out)
	})

	t.Run("struct", func(t *testing.T) {
		in := testPayload{Name: "acme", Amount: 42.5, Tags: []string{"a", "b"}}
		require.True(t, svc.Set(ctx, "payload", "test", in, time.Minute))
		var out testPayload
		require.True(t, svc.Get(ctx, "payload", "test", &out))
		assert.Equal(t, in, out)
	})

	t.Run("slice", func(t *testing.T) {
		in := []int{1, 2, 3}
		require.True(t, svc.Set(ctx, "numbers", "test", in, time.Minute))
		var out []int
		require.True(t, svc.Get(ctx, "numbers", "test", &out))
		assert.Equal(t, in, out)
	})

	t.Run("no prefix", func(t *testing.T) {
		require.True(t, svc.Set(ctx, "bare", "", 7, time.Minute))
		var out int
		require.True(t, svc.Get(ctx, "bare", "", &out))
		assert.Equal(t, 7, out)
	})
}

func TestServiceGetMiss(t *testing.T) {
	ctx := context.Background()
	svc := newTestService()

	var out string
	assert.False(t, svc.Get(ctx, "absent", "test", &out))

	stats := svc.Stats()
	assert.Equal(t, int64(0), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
}

func TestWrapReadThrough(t *testing.T) {
	ctx := context.Background()
	svc := newTestService()

	calls := 0
	fetch := func() (testPayload, error) {
		calls++
		return testPayload{Name: "fetched", Amount: 1}, nil
	}

	first, err := Wrap(ctx, svc, "payload", "test", time.Minute, fetch)
	require.NoError(t, err)
	assert.Equal(t, "fetched", first.Name)
	assert.Equal(t, 1, calls)

	// Second call must come from cache without invoking the fetcher.
	second, err := Wrap(ctx, svc, "payload", "test", time.Minute, fetch)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, calls)
}

func TestWrapFetchErrorPropagates(t *testing.T) {
	ctx := context.Background()
	svc := newTestService()

	fetchErr := errors.New("store down")
	_, err := Wrap(ctx, svc, "payload", "test", time.Minute, func() (string, error) {
		return "", fetchErr
	})
	assert.ErrorIs(t, err, fetchErr)

	// A failed fetch must not leave a cached value behind.
	var out string
	assert.False(t, svc.Get(ctx, "payload", "test", &out))
}

func TestDelPatternCompleteness(t *testing.T) {
	ctx := context.Background()
	svc := newTestService()

	require.True(t, svc.Set(ctx, "records:aaa", ReconciliationPrefix, 1, time.Minute))
	require.True(t, svc.Set(ctx, "records:bbb", ReconciliationPrefix, 2, time.Minute))
	require.True(t, svc.Set(ctx, "stats", ReconciliationPrefix, 3, time.Minute))

	deleted := svc.DelPattern(ctx, PatternRecords, ReconciliationPrefix)
	assert.Equal(t, 2, deleted)

	var out int
	assert.False(t, svc.Get(ctx, "records:aaa", ReconciliationPrefix, &out))
	assert.False(t, svc.Get(ctx, "records:bbb", ReconciliationPrefix, &out))
	assert.True(t, svc.Get(ctx, "stats", ReconciliationPrefix, &out))
}

func TestDelPatternStatsCoversFiltered(t *testing.T) {
	ctx := context.Background()
	svc := newTestService()

	require.True(t, svc.Set(ctx, "stats", ReconciliationPrefix, 1, time.Minute))
	require.True(t, svc.Set(ctx, "stats:abcd1234", ReconciliationPrefix, 2, time.Minute))

	deleted := svc.DelPattern(ctx, PatternStats, ReconciliationPrefix)
	assert.Equal(t, 2, deleted)
}

func TestDelPatternNoMatches(t *testing.T) {
	svc := newTestService()
	assert.Equal(t, 0, svc.DelPattern(context.Background(), PatternRecords, ReconciliationPrefix))
}

func TestIncrDecr(t *testing.T) {
	ctx := context.Background()
	svc := newTestService()

	assert.Equal(t, int64(1), svc.Incr(ctx, "counter", "test"))
	assert.Equal(t, int64(2), svc.Incr(ctx, "counter", "test"))
	assert.Equal(t, int64(1), svc.Decr(ctx, "counter", "test"))
}

func TestStatsAccounting(t *testing.T) {
	ctx := context.Background()
	svc := newTestService()

	svc.Set(ctx, "k", "test", "v", time.Minute)

	var out string
	svc.Get(ctx, "k", "test", &out)    // hit
	svc.Get(ctx, "gone", "test", &out) // miss

	stats := svc.Stats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, int64(2), stats.Total)
	assert.InDelta(t, 0.5, stats.HitRate, 0.001)

	svc.ResetStats()
	stats = svc.Stats()
	assert.Equal(t, int64(0), stats.Total)
	assert.Equal(t, 0.0, stats.HitRate)
}

// failingStore errors on every operation, standing in for an
// unreachable backend.
type failingStore struct{}

var errBackendDown = errors.New("backend unreachable")

func (failingStore) Get(context.Context, string) ([]byte, error) { return nil, errBackendDown }
func (failingStore) Set(context.Context, string, []byte, time.Duration) error {
	return errBackendDown
}
func (failingStore) Del(context.Context, ...string) (int64, error)      { return 0, errBackendDown }
func (failingStore) Keys(context.Context, string) ([]string, error)     { return nil, errBackendDown }
func (failingStore) Incr(context.Context, string) (int64, error)        { return 0, errBackendDown }
func (failingStore) Decr(context.Context, string) (int64, error)        { return 0, errBackendDown }
func (failingStore) Exists(context.Context, string) (bool, error)       { return false, errBackendDown }
func (failingStore) TTL(context.Context, string) (time.Duration, error) { return 0, errBackendDown }
func (failingStore) Ping(context.Context) error                         { return errBackendDown }
func (failingStore) Close() error                                       { return nil }

func TestFailOpenGuarantee(t *testing.T) {
	ctx := context.Background()
	svc := NewService(failingStore{})

	var out string
	assert.False(t, svc.Get(ctx, "k", "test", &out), "get must degrade to a miss")
	assert.False(t, svc.Set(ctx, "k", "test", "v", time.Minute), "set must report false")
	assert.False(t, svc.Del(ctx, "k", "test"))
	assert.Equal(t, 0, svc.DelPattern(ctx, "*", "test"))
	assert.Equal(t, int64(0), svc.Incr(ctx, "k", "test"))
	assert.Equal(t, int64(0), svc.Decr(ctx, "k", "test"))

	// Backend failures count as misses.
	assert.Equal(t, int64(1), svc.Stats().Misses)
}

func TestWrapFailOpenFallsThroughToFetcher(t *testing.T) {
	ctx := context.Background()
	svc := NewService(failingStore{})

	calls := 0
	fetch := func() (string, error) {
		calls++
		return "live", nil
	}

	// With the backend down every call reaches the fetcher, but the
	// result still flows back to the caller.
	for i := 0; i < 2; i++ {
		out, err := Wrap(ctx, svc, "k", "test", time.Minute, fetch)
		require.NoError(t, err)
		assert.Equal(t, "live", out)
	}
	assert.Equal(t, 2, calls)
}
