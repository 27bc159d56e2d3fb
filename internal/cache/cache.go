// Package cache puts the counterfactual store behind a layer that never fails its caller.
// Store errors are logged and degrade to "nothing cached", "0 rows written", "nothing removed"
// or empty stats, so explanation requests keep working when the database does not.
package cache

import (
	"context"
	"log"

	"tenderwatch/domain/core"
	domainCF "tenderwatch/domain/counterfactual"
	"tenderwatch/internal/errors"
	"tenderwatch/internal/metrics"
	"tenderwatch/ports"
)

// Cache wraps a ports.CounterfactualStore. A nil store disables caching.
type Cache struct {
	store   ports.CounterfactualStore
	metrics *metrics.Recorder
}

// New creates a cache over store. rec may be nil.
func New(store ports.CounterfactualStore, rec *metrics.Recorder) *Cache {
	return &Cache{store: store, metrics: rec}
}

// Enabled reports whether a store is configured.
func (c *Cache) Enabled() bool {
	return c != nil && c.store != nil
}

// GetCached returns the tender's cached set, or nil when nothing is cached or the store failed.
func (c *Cache) GetCached(ctx context.Context, tenderID core.TenderID) []domainCF.Cached {
	if !c.Enabled() {
		return nil
	}
	cached, err := c.store.GetCached(ctx, tenderID)
	if err != nil {
		c.absorb("read", tenderID, err)
		return nil
	}
	if len(cached) == 0 {
		return nil
	}
	return cached
}

// Save replaces the tender's cached set and returns the rows written, 0 on failure.
func (c *Cache) Save(ctx context.Context, tenderID core.TenderID, originalScore float64, cfs []domainCF.Counterfactual) int {
	if !c.Enabled() {
		return 0
	}
	written, err := c.store.Save(ctx, tenderID, originalScore, cfs)
	if err != nil {
		c.absorb("save", tenderID, err)
		return 0
	}
	return written
}

// Invalidate drops the tender's cached set. It reports false when nothing was removed or the store failed.
func (c *Cache) Invalidate(ctx context.Context, tenderID core.TenderID) bool {
	if !c.Enabled() {
		return false
	}
	removed, err := c.store.Invalidate(ctx, tenderID)
	if err != nil {
		c.absorb("invalidate", tenderID, err)
		return false
	}
	return removed
}

// Stats summarises the cache, zero-valued on failure.
func (c *Cache) Stats(ctx context.Context) domainCF.CacheStats {
	if !c.Enabled() {
		return domainCF.CacheStats{}
	}
	stats, err := c.store.Stats(ctx)
	if err != nil {
		c.absorb("stats", "", err)
		return domainCF.CacheStats{}
	}
	return stats
}

func (c *Cache) absorb(operation string, tenderID core.TenderID, err error) {
	degraded := errors.CacheDegraded(operation, err)
	if tenderID != "" {
		log.Printf("[Cache] %v (tender %s)", degraded, tenderID)
	} else {
		log.Printf("[Cache] %v", degraded)
	}
	c.metrics.ObserveCacheError(operation)
}
