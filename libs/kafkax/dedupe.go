package kafkax

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisDeduper remembers event ids for ttl with SET NX.
type RedisDeduper struct {
	rdb    redis.UniversalClient
	prefix string
	ttl    time.Duration
}

func NewRedisDeduper(rdb redis.UniversalClient, prefix string, ttl time.Duration) *RedisDeduper {
	if prefix == "" {
		prefix = "evt"
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisDeduper{rdb: rdb, prefix: prefix, ttl: ttl}
}

func (d *RedisDeduper) FirstSeen(ctx context.Context, eventID string) (bool, error) {
	return d.rdb.SetNX(ctx, d.key(eventID), 1, d.ttl).Result()
}

// Forget drops eventID so the next delivery is handled again.
func (d *RedisDeduper) Forget(ctx context.Context, eventID string) error {
	return d.rdb.Del(ctx, d.key(eventID)).Err()
}

func (d *RedisDeduper) key(eventID string) string {
	return d.prefix + ":" + eventID
}
