package project

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache is a Redis read-through cache in front of a Source. Project
// configuration is read on every lifecycle operation, and tolerates
// slightly stale values, so a short TTL keeps load off the database.
// Any cache failure falls through to the underlying source.
type Cache struct {
	src Source
	rdb redis.UniversalClient
	ttl time.Duration
	log *slog.Logger
}

// NewCache wraps src with a Redis cache using the given TTL.
func NewCache(src Source, rdb redis.UniversalClient, ttl time.Duration, log *slog.Logger) *Cache {
	if log == nil {
		log = slog.Default()
	}
	return &Cache{src: src, rdb: rdb, ttl: ttl, log: log}
}

func cacheKey(id string) string { return "labelpool:project:" + id }

// Get returns the cached project when present, otherwise reads through to
// the source and populates the cache.
func (c *Cache) Get(ctx context.Context, id string) (*Project, error) {
	key := cacheKey(id)
	if b, err := c.rdb.Get(ctx, key).Bytes(); err == nil {
		var p Project
		if jerr := json.Unmarshal(b, &p); jerr == nil {
			return &p, nil
		}
		// Unreadable entry: drop it and fall through.
		_ = c.rdb.Del(ctx, key).Err()
	} else if err != redis.Nil {
		c.log.Warn("project cache read failed", "project", id, "err", err)
	}

	p, err := c.src.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if b, jerr := json.Marshal(p); jerr == nil {
		if serr := c.rdb.Set(ctx, key, b, c.ttl).Err(); serr != nil {
			c.log.Warn("project cache write failed", "project", id, "err", serr)
		}
	}
	return p, nil
}

// Invalidate drops the cached entry for a project; call after Put.
func (c *Cache) Invalidate(ctx context.Context, id string) {
	if err := c.rdb.Del(ctx, cacheKey(id)).Err(); err != nil {
		c.log.Warn("project cache invalidate failed", "project", id, "err", err)
	}
}
