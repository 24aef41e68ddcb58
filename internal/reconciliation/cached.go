package reconciliation

import (
	"context"

	"github.com/ksred/recon-api/internal/cache"
	"github.com/ksred/recon-api/internal/types"
	"github.com/rs/zerolog/log"
)

// CachedService decorates a Service with read-through caching and
// pattern invalidation. It holds a reference to the uncached
// implementation and delegates on miss; the two are interchangeable
// behind the Service interface.
//
// Invalidation runs after the underlying write has committed and is
// best effort: a failed invalidation is logged but never fails the
// mutating request, since stale entries expire on their TTL anyway.
type CachedService struct {
	inner Service
	cache *cache.Service
}

// NewCachedService wraps a Service with the caching layer.
func NewCachedService(inner Service, cacheService *cache.Service) *CachedService {
	return &CachedService{inner: inner, cache: cacheService}
}

func (c *CachedService) CreateRecord(ctx context.Context, record *Record, idempotencyKey string) error {
	if err := c.inner.CreateRecord(ctx, record, idempotencyKey); err != nil {
		return err
	}
	c.invalidateRecordViews(ctx)
	return nil
}

func (c *CachedService) GetRecord(ctx context.Context, recordNumber string) (*Record, error) {
	return cache.Wrap(ctx, c.cache, cache.RecordKey(recordNumber), cache.ReconciliationPrefix,
		cache.TTLRecords, func() (*Record, error) {
			return c.inner.GetRecord(ctx, recordNumber)
		})
}

func (c *CachedService) ListRecords(ctx context.Context, filter types.RecordFilter) ([]Record, error) {
	return cache.Wrap(ctx, c.cache, cache.RecordsKey(filter), cache.ReconciliationPrefix,
		cache.TTLRecords, func() ([]Record, error) {
			return c.inner.ListRecords(ctx, filter)
		})
}

func (c *CachedService) UpdateRecord(ctx context.Context, recordNumber string, update RecordUpdate) (*Record, error) {
	record, err := c.inner.UpdateRecord(ctx, recordNumber, update)
	if err != nil {
		return nil, err
	}
	c.invalidateRecordViews(ctx)
	c.cache.Del(ctx, cache.RecordKey(recordNumber), cache.ReconciliationPrefix)
	return record, nil
}

func (c *CachedService) ResolveRecord(ctx context.Context, recordNumber, notes string) (*Record, error) {
	record, err := c.inner.ResolveRecord(ctx, recordNumber, notes)
	if err != nil {
		return nil, err
	}
	c.invalidateRecordViews(ctx)
	c.cache.Del(ctx, cache.RecordKey(recordNumber), cache.ReconciliationPrefix)
	return record, nil
}

func (c *CachedService) Stats(ctx context.Context, filter *types.RecordFilter) (*types.ReconciliationStats, error) {
	var key string
	if filter == nil {
		key = cache.StatsKey(nil)
	} else {
		key = cache.StatsKey(*filter)
	}
	return cache.Wrap(ctx, c.cache, key, cache.ReconciliationPrefix,
		cache.TTLStats, func() (*types.ReconciliationStats, error) {
			return c.inner.Stats(ctx, filter)
		})
}

func (c *CachedService) ActiveRules(ctx context.Context) ([]Rule, error) {
	return cache.Wrap(ctx, c.cache, cache.KeyRulesActive, cache.ReconciliationPrefix,
		cache.TTLRules, func() ([]Rule, error) {
			return c.inner.ActiveRules(ctx)
		})
}

func (c *CachedService) CreateException(ctx context.Context, exception *Exception) error {
	if err := c.inner.CreateException(ctx, exception); err != nil {
		return err
	}
	c.cache.DelPattern(ctx, cache.PatternExceptions, cache.ReconciliationPrefix)
	return nil
}

func (c *CachedService) ListExceptions(ctx context.Context, filter types.ExceptionFilter) ([]Exception, error) {
	return cache.Wrap(ctx, c.cache, cache.ExceptionsKey(filter), cache.ReconciliationPrefix,
		cache.TTLExceptions, func() ([]Exception, error) {
			return c.inner.ListExceptions(ctx, filter)
		})
}

func (c *CachedService) ResolveException(ctx context.Context, exceptionID, notes string) (*Exception, error) {
	exception, err := c.inner.ResolveException(ctx, exceptionID, notes)
	if err != nil {
		return nil, err
	}
	c.cache.DelPattern(ctx, cache.PatternExceptions, cache.ReconciliationPrefix)
	return exception, nil
}

func (c *CachedService) ImportRecords(ctx context.Context, rows []ImportRow, userID string) (*ImportResult, error) {
	result, err := c.inner.ImportRecords(ctx, rows, userID)
	if err != nil {
		return nil, err
	}
	c.invalidateRecordViews(ctx)
	if result.Exceptions > 0 {
		c.cache.DelPattern(ctx, cache.PatternExceptions, cache.ReconciliationPrefix)
	}
	return result, nil
}

// InvalidateAll drops every entry under the reconciliation prefix.
// Used after bulk operations where everything is potentially stale.
func (c *CachedService) InvalidateAll(ctx context.Context) {
	deleted := c.cache.DelPattern(ctx, cache.PatternAll, cache.ReconciliationPrefix)
	log.Debug().Int("deleted", deleted).Msg("invalidated all reconciliation cache entries")
}

// invalidateRecordViews drops every cached view whose value could be
// stale after a record mutation: filtered lists, paged listings and
// stats (both bare and filtered).
func (c *CachedService) invalidateRecordViews(ctx context.Context) {
	c.cache.DelPattern(ctx, cache.PatternRecords, cache.ReconciliationPrefix)
	c.cache.DelPattern(ctx, cache.PatternLists, cache.ReconciliationPrefix)
	c.cache.DelPattern(ctx, cache.PatternStats, cache.ReconciliationPrefix)
}
