package marketdata

import (
	"context"
	"fmt"

	"github.com/raykavin/tradedash/pkg/core"
	"github.com/raykavin/tradedash/pkg/logger"
)

// Cache stores JSON-serializable values by key
type Cache interface {
	Put(key string, value any) error
	Get(key string, out any) (bool, error)
}

// CachedFetcher serves repeated historical requests from a cache
type CachedFetcher struct {
	next  HistoricalFetcher
	cache Cache
	log   logger.Logger
}

// NewCachedFetcher wraps next with cache
func NewCachedFetcher(next HistoricalFetcher, cache Cache, log logger.Logger) *CachedFetcher {
	return &CachedFetcher{next: next, cache: cache, log: log}
}

type cachedHistorical struct {
	Candles    []core.Candle     `json:"candles"`
	Timestamps []int64           `json:"timestamps"`
	Indicators core.IndicatorSet `json:"indicatorsByFamily"`
}

func cacheKey(sel core.Selection, limit int) string {
	return fmt.Sprintf("historical:%s:%d", sel, limit)
}

func (c *CachedFetcher) Historical(ctx context.Context, sel core.Selection, limit int) (Historical, error) {
	limit = ClampLimit(limit)
	key := cacheKey(sel, limit)

	var cached cachedHistorical
	found, err := c.cache.Get(key, &cached)
	if err != nil {
		c.log.WithError(err).WithField("key", key).Warn("historical cache read failed")
	}
	if found {
		c.log.WithField("key", key).Debug("historical cache hit")
		return Historical(cached), nil
	}

	h, err := c.next.Historical(ctx, sel, limit)
	if err != nil {
		return h, err
	}

	if err := c.cache.Put(key, cachedHistorical(h)); err != nil {
		c.log.WithError(err).WithField("key", key).Warn("historical cache write failed")
	}
	return h, nil
}
