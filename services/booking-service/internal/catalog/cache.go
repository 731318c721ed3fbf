package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/md-rashed-zaman/studiobook/services/booking-service/internal/booking"
	"github.com/redis/go-redis/v9"
)

// Cache is a read-through Redis cache in front of another Source. Redis
// failures are logged and the request falls through to next.
type Cache struct {
	rdb    redis.UniversalClient
	next   Source
	ttl    time.Duration
	logger *slog.Logger
}

func NewCache(rdb redis.UniversalClient, next Source, ttl time.Duration, logger *slog.Logger) *Cache {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &Cache{rdb: rdb, next: next, ttl: ttl, logger: logger}
}

func cacheKey(kind booking.Kind) string {
	return "catalog:" + string(kind)
}

func (c *Cache) ListActive(ctx context.Context, kind booking.Kind) ([]booking.Resource, error) {
	key := cacheKey(kind)
	raw, err := c.rdb.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var out []booking.Resource
		if jerr := json.Unmarshal(raw, &out); jerr == nil {
			return out, nil
		}
		c.logger.Warn("catalog cache entry unreadable", "key", key)
	case !errors.Is(err, redis.Nil):
		c.logger.Warn("catalog cache read failed", "key", key, "err", err)
	}

	out, err := c.next.ListActive(ctx, kind)
	if err != nil {
		return nil, err
	}
	if raw, err := json.Marshal(out); err == nil {
		if err := c.rdb.Set(ctx, key, raw, c.ttl).Err(); err != nil {
			c.logger.Warn("catalog cache write failed", "key", key, "err", err)
		}
	}
	return out, nil
}

// Invalidate drops the cached listing for kind.
func (c *Cache) Invalidate(ctx context.Context, kind booking.Kind) error {
	return c.rdb.Del(ctx, cacheKey(kind)).Err()
}
