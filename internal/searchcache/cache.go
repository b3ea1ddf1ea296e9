package searchcache

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/learnhub/assistant-gateway/internal/kvstore"
	"github.com/learnhub/assistant-gateway/internal/logging"
	"github.com/learnhub/assistant-gateway/internal/metrics"
)

const keyPrefix = "mentor_search:"

// Params are the normalized mentor-search parameters. Zero values are
// part of the key, so two calls that differ only in unset fields share
// a cache entry.
type Params struct {
	Skills    string
	Languages string
	Countries string
	Query     string
	Limit     int
}

// SearchFunc is the underlying search the cache wraps. It returns the
// serialized result set.
type SearchFunc func(ctx context.Context, p Params) (string, error)

// Cache is a cache-aside wrapper around a mentor-search function.
type Cache struct {
	store  kvstore.Store
	search SearchFunc
	ttl    time.Duration
	logger *slog.Logger
}

// New creates a search cache with the given TTL.
func New(store kvstore.Store, search SearchFunc, ttl time.Duration) *Cache {
	return &Cache{
		store:  store,
		search: search,
		ttl:    ttl,
		logger: logging.WithComponent("search-cache"),
	}
}

// Key derives the deterministic cache key for a parameter set. The
// fixed-order join is base64-encoded to keep keys opaque and
// length-bounded regardless of what users type into the search box.
func Key(p Params) string {
	joined := strings.Join([]string{
		p.Skills,
		p.Languages,
		p.Countries,
		p.Query,
		fmt.Sprintf("%d", p.Limit),
	}, "|")
	return keyPrefix + base64.URLEncoding.EncodeToString([]byte(joined))
}

// GetCached returns the cached result set for the parameters, invoking
// the underlying search on miss and caching its serialized output.
func (c *Cache) GetCached(ctx context.Context, p Params) (string, error) {
	key := Key(p)

	cached, err := c.store.Get(ctx, key)
	if err == nil {
		metrics.CacheHits.WithLabelValues("search").Inc()
		return cached, nil
	}
	if !errors.Is(err, kvstore.ErrNotFound) {
		c.logger.Warn("search cache read failed", "key", key, "error", err)
	}
	metrics.CacheMisses.WithLabelValues("search").Inc()

	result, err := c.search(ctx, p)
	if err != nil {
		return "", fmt.Errorf("mentor search: %w", err)
	}

	if err := c.store.Set(ctx, key, result, c.ttl); err != nil {
		c.logger.Warn("search cache write failed", "key", key, "error", err)
	}
	return result, nil
}

// InvalidateAll deletes every cached search result.
func (c *Cache) InvalidateAll(ctx context.Context) (int, error) {
	return c.invalidate(ctx, "")
}

// InvalidateMatching deletes cached results whose decoded parameter
// string contains the given substring.
func (c *Cache) InvalidateMatching(ctx context.Context, substring string) (int, error) {
	return c.invalidate(ctx, substring)
}

func (c *Cache) invalidate(ctx context.Context, substring string) (int, error) {
	keys, err := c.store.Keys(ctx, keyPrefix)
	if err != nil {
		return 0, fmt.Errorf("invalidate search cache: %w", err)
	}

	var victims []string
	for _, key := range keys {
		if substring == "" {
			victims = append(victims, key)
			continue
		}
		decoded, err := base64.URLEncoding.DecodeString(strings.TrimPrefix(key, keyPrefix))
		if err != nil {
			continue // foreign key under our namespace, leave it
		}
		if strings.Contains(string(decoded), substring) {
			victims = append(victims, key)
		}
	}

	if len(victims) == 0 {
		return 0, nil
	}
	if err := c.store.Del(ctx, victims...); err != nil {
		return 0, fmt.Errorf("invalidate search cache: %w", err)
	}
	return len(victims), nil
}

// PreloadPopular warms the cache for known-popular parameter sets.
// Individual failures are logged and never fail the batch.
func (c *Cache) PreloadPopular(ctx context.Context, paramSets []Params) {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for _, p := range paramSets {
		p := p
		g.Go(func() error {
			if _, err := c.GetCached(ctx, p); err != nil {
				c.logger.Warn("search preload failed", "key", Key(p), "error", err)
			}
			return nil
		})
	}
	g.Wait()
}

// CleanupExpired reconciles the namespace. Cleaned counts only keys
// gone by the time we look; keys that exist without a TTL (naive
// callers can create them that way) get one applied and are counted
// separately as backfilled.
func (c *Cache) CleanupExpired(ctx context.Context) (cleaned, backfilled int, err error) {
	keys, err := c.store.Keys(ctx, keyPrefix)
	if err != nil {
		return 0, 0, fmt.Errorf("search cache cleanup: %w", err)
	}

	for _, key := range keys {
		ttl, err := c.store.TTL(ctx, key)
		if errors.Is(err, kvstore.ErrNotFound) {
			cleaned++
			continue
		}
		if err != nil {
			c.logger.Warn("search cache ttl check failed", "key", key, "error", err)
			continue
		}
		if ttl < 0 {
			if err := c.store.Expire(ctx, key, c.ttl); err != nil {
				c.logger.Warn("search cache ttl backfill failed", "key", key, "error", err)
				continue
			}
			backfilled++
		}
	}
	return cleaned, backfilled, nil
}
