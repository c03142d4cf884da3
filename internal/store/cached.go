package store

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/voyagen/livevault/internal/cache"
	"github.com/voyagen/livevault/internal/models"
)

// Cache TTLs for different read shapes.
const (
	ttlChannels = 1 * time.Minute
	ttlChannel  = 5 * time.Minute
	ttlGroups   = 5 * time.Minute
	ttlRecent   = 30 * time.Second
)

// CachedStore wraps a Store with a Redis caching layer.
// List reads are served from cache when possible; writes invalidate the
// affected keys. Snapshot always reads the inner store.
type CachedStore struct {
	inner Store
	cache *cache.Redis
	log   zerolog.Logger
}

// NewCachedStore creates a CachedStore that wraps inner with Redis caching.
func NewCachedStore(inner Store, c *cache.Redis, log zerolog.Logger) *CachedStore {
	return &CachedStore{inner: inner, cache: c, log: log}
}

// --- cached read operations ---

func (c *CachedStore) ListChannels(ctx context.Context, filter ChannelFilter) ([]models.Channel, error) {
	return cached(ctx, c, "channels:"+filterHash(filter), ttlChannels, func() ([]models.Channel, error) {
		return c.inner.ListChannels(ctx, filter)
	})
}

func (c *CachedStore) ListFavorites(ctx context.Context) ([]models.Channel, error) {
	return cached(ctx, c, "channels:favorites", ttlChannels, func() ([]models.Channel, error) {
		return c.inner.ListFavorites(ctx)
	})
}

func (c *CachedStore) ListRecent(ctx context.Context, limit int) ([]models.Channel, error) {
	return cached(ctx, c, fmt.Sprintf("channels:recent:%d", limit), ttlRecent, func() ([]models.Channel, error) {
		return c.inner.ListRecent(ctx, limit)
	})
}

func (c *CachedStore) ListGroups(ctx context.Context) ([]models.Group, error) {
	return cached(ctx, c, "groups:all", ttlGroups, func() ([]models.Group, error) {
		return c.inner.ListGroups(ctx)
	})
}

func (c *CachedStore) GetChannel(ctx context.Context, id int64) (*models.Channel, error) {
	return cached(ctx, c, channelKey(id), ttlChannel, func() (*models.Channel, error) {
		return c.inner.GetChannel(ctx, id)
	})
}

// --- passthrough ---

func (c *CachedStore) Snapshot(ctx context.Context) ([]models.Channel, error) {
	return c.inner.Snapshot(ctx)
}

// --- write operations with cache invalidation ---

func (c *CachedStore) InsertChannels(ctx context.Context, channels []models.Channel) (int, error) {
	n, err := c.inner.InsertChannels(ctx, channels)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		c.invalidatePattern(ctx, "channels:*", "groups:*")
	}
	return n, nil
}

func (c *CachedStore) SetFavorite(ctx context.Context, id int64, favorite bool) error {
	if err := c.inner.SetFavorite(ctx, id, favorite); err != nil {
		return err
	}
	c.invalidate(ctx, channelKey(id))
	c.invalidatePattern(ctx, "channels:*")
	return nil
}

func (c *CachedStore) MarkWatched(ctx context.Context, id int64, at int64) error {
	if err := c.inner.MarkWatched(ctx, id, at); err != nil {
		return err
	}
	// Every cached list carries last_updated, not only the recent one.
	c.invalidate(ctx, channelKey(id))
	c.invalidatePattern(ctx, "channels:*")
	return nil
}

func (c *CachedStore) SetLogos(ctx context.Context, logos map[int64]string) (int, error) {
	n, err := c.inner.SetLogos(ctx, logos)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		c.invalidatePattern(ctx, "channels:*", "channel:*")
	}
	return n, nil
}

func (c *CachedStore) DeleteChannel(ctx context.Context, id int64) error {
	if err := c.inner.DeleteChannel(ctx, id); err != nil {
		return err
	}
	c.invalidate(ctx, channelKey(id))
	c.invalidatePattern(ctx, "channels:*", "groups:*")
	return nil
}

func (c *CachedStore) DeleteAll(ctx context.Context) error {
	if err := c.inner.DeleteAll(ctx); err != nil {
		return err
	}
	c.invalidatePattern(ctx, "channels:*", "channel:*", "groups:*")
	return nil
}

func (c *CachedStore) ClearFavorites(ctx context.Context) error {
	if err := c.inner.ClearFavorites(ctx); err != nil {
		return err
	}
	c.invalidatePattern(ctx, "channels:*", "channel:*")
	return nil
}

func (c *CachedStore) ClearHistory(ctx context.Context) error {
	if err := c.inner.ClearHistory(ctx); err != nil {
		return err
	}
	c.invalidatePattern(ctx, "channels:*", "channel:*")
	return nil
}

// --- helpers ---

// cached serves key from Redis, falling back to load and filling the cache.
// Cache errors never fail the read.
func cached[T any](ctx context.Context, c *CachedStore, key string, ttl time.Duration, load func() (T, error)) (T, error) {
	if v, err := cache.Get[T](ctx, c.cache, key); err == nil {
		return v, nil
	} else if !errors.Is(err, redis.Nil) {
		c.log.Debug().Err(err).Str("key", key).Msg("cache get")
	}
	v, err := load()
	if err != nil {
		return v, err
	}
	if err := cache.Set(ctx, c.cache, key, v, ttl); err != nil {
		c.log.Warn().Err(err).Str("key", key).Msg("cache set")
	}
	return v, nil
}

// invalidate deletes exact cache keys, logging any errors.
func (c *CachedStore) invalidate(ctx context.Context, keys ...string) {
	if err := cache.Del(ctx, c.cache, keys...); err != nil && !errors.Is(err, redis.Nil) {
		c.log.Warn().Err(err).Strs("keys", keys).Msg("cache del")
	}
}

// invalidatePattern deletes all keys matching the given glob patterns.
func (c *CachedStore) invalidatePattern(ctx context.Context, patterns ...string) {
	for _, p := range patterns {
		if err := cache.DelPattern(ctx, c.cache, p); err != nil {
			c.log.Warn().Err(err).Str("pattern", p).Msg("cache del pattern")
		}
	}
}

func channelKey(id int64) string {
	return fmt.Sprintf("channel:%d", id)
}

// filterHash produces a short deterministic hash for a ChannelFilter so it
// can be used as part of a cache key.
func filterHash(f ChannelFilter) string {
	fav := "any"
	if f.Favorite != nil {
		fav = fmt.Sprintf("%t", *f.Favorite)
	}
	raw := fmt.Sprintf("%q|%q|%s", f.Group, f.Search, fav)
	h := sha256.Sum256([]byte(raw))
	return fmt.Sprintf("%x", h[:8])
}
