package template

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/notifyhub/platform/internal/infrastructure/cache"
	"github.com/notifyhub/platform/internal/metrics"
)

// latestVersionTag is the cache-key version component used for the
// "newest row for (code, language)" entry, kept alongside the versioned
// entries so a read for an unspecified version is a single lookup.
const latestVersionTag = "latest"

// TemplateCache is the two-tier (in-process LRU + Redis) read path in front
// of TemplateRepository, keyed on (code, language, version|"latest") per the
// cache key contract. A miss is not an error: callers fall through to the
// repository and populate the cache themselves.
type TemplateCache interface {
	// Get looks up a cached template. version is either a decimal version
	// number or "latest".
	Get(ctx context.Context, code, language, version string) (*Template, error)
	// Set populates both tiers for the given version tag.
	Set(ctx context.Context, tpl *Template, version string) error
	// NewestCached returns the highest-versioned cache entry still present
	// for (code, language), used as the stale fallback when the store's
	// breaker is open. Returns nil, nil if nothing is cached.
	NewestCached(ctx context.Context, code, language string) (*Template, error)
	// Invalidate clears every cached entry for (code, language) -
	// versioned and "latest" alike.
	Invalidate(ctx context.Context, code, language string) error
	GetStats() CacheStats
}

// CacheStats holds cache performance counters.
type CacheStats struct {
	L1Size      int     `json:"l1_size"`
	L1Hits      int64   `json:"l1_hits"`
	L1Misses    int64   `json:"l1_misses"`
	L2Hits      int64   `json:"l2_hits"`
	L2Misses    int64   `json:"l2_misses"`
	TotalHits   int64   `json:"total_hits"`
	TotalMisses int64   `json:"total_misses"`
	HitRatio    float64 `json:"hit_ratio"`
}

// TwoTierTemplateCache implements TemplateCache.
type TwoTierTemplateCache struct {
	l1Cache *lru.Cache[string, *Template]
	l2Cache cache.Cache
	logger  *slog.Logger
	metrics *metrics.Registry
	ttl     time.Duration

	mu       sync.RWMutex
	l1Hits   int64
	l1Misses int64
	l2Hits   int64
	l2Misses int64
}

// NewTwoTierTemplateCache creates a two-tier cache with an l1Size-entry LRU
// front and ttl-bounded Redis entries behind it.
func NewTwoTierTemplateCache(l2Cache cache.Cache, l1Size int, ttl time.Duration, logger *slog.Logger, reg *metrics.Registry) (TemplateCache, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if l1Size <= 0 {
		l1Size = 1000
	}
	if ttl <= 0 {
		ttl = time.Hour
	}

	l1Cache, err := lru.New[string, *Template](l1Size)
	if err != nil {
		return nil, fmt.Errorf("failed to create L1 cache: %w", err)
	}

	return &TwoTierTemplateCache{
		l1Cache: l1Cache,
		l2Cache: l2Cache,
		logger:  logger,
		metrics: reg,
		ttl:     ttl,
	}, nil
}

// Get resolves a cache entry via L1 -> L2 -> miss.
func (c *TwoTierTemplateCache) Get(ctx context.Context, code, language, version string) (*Template, error) {
	key := buildCacheKey(code, language, version)

	if tpl, found := c.l1Cache.Get(key); found {
		c.recordL1Hit()
		return tpl, nil
	}
	c.recordL1Miss()

	var tpl Template
	if err := c.l2Cache.Get(ctx, key, &tpl); err == nil {
		c.l1Cache.Add(key, &tpl)
		c.recordL2Hit()
		return &tpl, nil
	}

	c.recordL2Miss()
	return nil, nil
}

// Set populates both tiers under the given version tag.
func (c *TwoTierTemplateCache) Set(ctx context.Context, tpl *Template, version string) error {
	key := buildCacheKey(tpl.Code, tpl.Language, version)
	c.l1Cache.Add(key, tpl)

	if err := c.l2Cache.Set(ctx, key, tpl, c.ttl); err != nil {
		c.logger.Warn("failed to set template in L2 cache", "code", tpl.Code, "language", tpl.Language, "version", version, "error", err)
	}
	return nil
}

// NewestCached scans cached entries for (code, language) and returns the
// one with the highest numeric version, ignoring the "latest" alias entry
// itself. Used only as a breaker-open fallback, so an L2 scan is acceptable.
func (c *TwoTierTemplateCache) NewestCached(ctx context.Context, code, language string) (*Template, error) {
	pattern := fmt.Sprintf("template:%s:%s:*", code, language)
	keys, err := c.l2Cache.ScanKeys(ctx, pattern)
	if err != nil {
		return nil, fmt.Errorf("failed to scan cached template keys: %w", err)
	}

	best := -1
	var bestKey string
	for _, k := range keys {
		parts := strings.Split(k, ":")
		tag := parts[len(parts)-1]
		if tag == latestVersionTag {
			continue
		}
		v, err := strconv.Atoi(tag)
		if err != nil {
			continue
		}
		if v > best {
			best = v
			bestKey = k
		}
	}
	if bestKey == "" {
		return nil, nil
	}

	var tpl Template
	if err := c.l2Cache.Get(ctx, bestKey, &tpl); err != nil {
		return nil, nil
	}
	return &tpl, nil
}

// Invalidate clears every cached entry for (code, language).
func (c *TwoTierTemplateCache) Invalidate(ctx context.Context, code, language string) error {
	for _, k := range c.l1Cache.Keys() {
		if strings.HasPrefix(k, fmt.Sprintf("template:%s:%s:", code, language)) {
			c.l1Cache.Remove(k)
		}
	}

	pattern := fmt.Sprintf("template:%s:%s:*", code, language)
	keys, err := c.l2Cache.ScanKeys(ctx, pattern)
	if err != nil {
		c.logger.Warn("failed to scan template cache keys for invalidation", "code", code, "language", language, "error", err)
		return nil
	}
	for _, k := range keys {
		if err := c.l2Cache.Delete(ctx, k); err != nil {
			c.logger.Warn("failed to delete cached template key", "key", k, "error", err)
		}
	}

	c.logger.Info("template cache invalidated", "code", code, "language", language, "keys_cleared", len(keys))
	return nil
}

// GetStats returns a snapshot of cache hit/miss counters.
func (c *TwoTierTemplateCache) GetStats() CacheStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	totalHits := c.l1Hits + c.l2Hits
	totalMisses := c.l1Misses + c.l2Misses
	totalRequests := totalHits + totalMisses

	var hitRatio float64
	if totalRequests > 0 {
		hitRatio = float64(totalHits) / float64(totalRequests)
	}

	return CacheStats{
		L1Size: c.l1Cache.Len(), L1Hits: c.l1Hits, L1Misses: c.l1Misses,
		L2Hits: c.l2Hits, L2Misses: c.l2Misses,
		TotalHits: totalHits, TotalMisses: totalMisses, HitRatio: hitRatio,
	}
}

func buildCacheKey(code, language, version string) string {
	return fmt.Sprintf("template:%s:%s:%s", code, language, version)
}

func (c *TwoTierTemplateCache) recordL1Hit() {
	c.mu.Lock()
	c.l1Hits++
	c.mu.Unlock()
	if c.metrics != nil {
		c.metrics.CacheHitsTotal.WithLabelValues("l1").Inc()
	}
}

func (c *TwoTierTemplateCache) recordL1Miss() {
	c.mu.Lock()
	c.l1Misses++
	c.mu.Unlock()
	if c.metrics != nil {
		c.metrics.CacheMissesTotal.WithLabelValues("l1").Inc()
	}
}

func (c *TwoTierTemplateCache) recordL2Hit() {
	c.mu.Lock()
	c.l2Hits++
	c.mu.Unlock()
	if c.metrics != nil {
		c.metrics.CacheHitsTotal.WithLabelValues("l2").Inc()
	}
}

func (c *TwoTierTemplateCache) recordL2Miss() {
	c.mu.Lock()
	c.l2Misses++
	c.mu.Unlock()
	if c.metrics != nil {
		c.metrics.CacheMissesTotal.WithLabelValues("l2").Inc()
	}
}
