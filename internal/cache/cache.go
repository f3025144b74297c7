// Package cache holds the single in-memory Dataset slot shared by all
// request handlers and stream sessions.
package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/wyntrades-ai/defi-yields-mcp/internal/model"
	"github.com/wyntrades-ai/defi-yields-mcp/internal/upstream"
)

const fetchKey = "pools"

// PoolCache caches the most recent upstream Dataset. Concurrent refreshes
// are deduplicated so at most one upstream call is in flight; a failed
// fetch leaves the previous snapshot in place.
type PoolCache struct {
	fetcher    upstream.Fetcher
	staleAfter time.Duration
	logger     *zap.Logger

	group singleflight.Group

	mu      sync.RWMutex
	current *model.Dataset
}

// New builds a PoolCache around the given fetcher. staleAfter bounds the
// upstream call rate: a non-forced refresh within that window returns the
// cached snapshot untouched.
func New(fetcher upstream.Fetcher, staleAfter time.Duration, logger *zap.Logger) *PoolCache {
	if staleAfter <= 0 {
		staleAfter = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PoolCache{
		fetcher:    fetcher,
		staleAfter: staleAfter,
		logger:     logger,
	}
}

// Snapshot returns the cached Dataset without touching the network. The
// first call ever has nothing to return and fetches synchronously.
func (c *PoolCache) Snapshot(ctx context.Context) (*model.Dataset, error) {
	c.mu.RLock()
	ds := c.current
	c.mu.RUnlock()

	if ds != nil {
		return ds, nil
	}
	return c.Refresh(ctx, true)
}

// Refresh fetches a new Dataset from upstream. Callers that arrive while a
// fetch is already in flight attach to it and receive the same result or
// the same error. With force false the call is a no-op returning the
// current snapshot while the cache is younger than staleAfter.
func (c *PoolCache) Refresh(ctx context.Context, force bool) (*model.Dataset, error) {
	if !force {
		c.mu.RLock()
		ds := c.current
		c.mu.RUnlock()
		if ds != nil && time.Since(ds.FetchedAt) < c.staleAfter {
			return ds, nil
		}
	}

	result, err, shared := c.group.Do(fetchKey, func() (interface{}, error) {
		ds, err := c.fetcher.FetchPools(ctx)
		if err != nil {
			return nil, err
		}

		c.mu.Lock()
		c.current = ds
		c.mu.Unlock()

		c.logger.Debug("cache refreshed",
			zap.Int("pools", len(ds.Pools)),
			zap.Time("fetched_at", ds.FetchedAt),
		)
		return ds, nil
	})
	if err != nil {
		return nil, fmt.Errorf("refresh: %w", err)
	}
	if shared {
		c.logger.Debug("refresh joined in-flight fetch")
	}

	return result.(*model.Dataset), nil
}

// Age reports how old the cached snapshot is. Zero when nothing has been
// fetched yet.
func (c *PoolCache) Age() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.current.Age(time.Now())
}
