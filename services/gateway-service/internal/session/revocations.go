// Package session tracks sessions that ended before their access tokens
// expired, so the gateway can reject those tokens early.
package session

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/md-rashed-zaman/studiobook/libs/auth"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
)

type Revocations interface {
	Revoke(ctx context.Context, sessionID string) error
	Revoked(ctx context.Context, sessionID string) (bool, error)
}

// Key is the Redis key marking sessionID as revoked.
func Key(sessionID string) string {
	return "revoked:sid:" + sessionID
}

// RedisRevocations shares revocations across gateway replicas. Entries live
// for ttl, which must be at least the access token lifetime.
type RedisRevocations struct {
	rdb redis.UniversalClient
	ttl time.Duration
}

func NewRedisRevocations(rdb redis.UniversalClient, ttl time.Duration) *RedisRevocations {
	return &RedisRevocations{rdb: rdb, ttl: ttl}
}

func (r *RedisRevocations) Revoke(ctx context.Context, sessionID string) error {
	return r.rdb.Set(ctx, Key(sessionID), 1, r.ttl).Err()
}

func (r *RedisRevocations) Revoked(ctx context.Context, sessionID string) (bool, error) {
	n, err := r.rdb.Exists(ctx, Key(sessionID)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// MemoryRevocations is the single-replica fallback used when Redis is not
// configured.
type MemoryRevocations struct {
	mu      sync.Mutex
	ttl     time.Duration
	expires map[string]time.Time
	now     func() time.Time
}

func NewMemoryRevocations(ttl time.Duration) *MemoryRevocations {
	return &MemoryRevocations{ttl: ttl, expires: map[string]time.Time{}, now: time.Now}
}

func (m *MemoryRevocations) Revoke(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	for sid, exp := range m.expires {
		if !now.Before(exp) {
			delete(m.expires, sid)
		}
	}
	m.expires[sessionID] = now.Add(m.ttl)
	return nil
}

func (m *MemoryRevocations) Revoked(_ context.Context, sessionID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	exp, ok := m.expires[sessionID]
	return ok && m.now().Before(exp), nil
}

// HandleChanges consumes session-change events and revokes every session
// whose action ends it. Unreadable events are logged and skipped.
func HandleChanges(store Revocations, logger *slog.Logger) func(ctx context.Context, msg kafka.Message) error {
	return func(ctx context.Context, msg kafka.Message) error {
		var change auth.SessionChange
		if err := json.Unmarshal(msg.Value, &change); err != nil || change.SessionID == "" {
			logger.Warn("unreadable session change", "err", err, "offset", msg.Offset)
			return nil
		}
		if !change.Action.Ends() {
			return nil
		}
		if err := store.Revoke(ctx, change.SessionID); err != nil {
			return err
		}
		logger.Info("session revoked", "session_id", change.SessionID, "user_id", change.UserID, "action", change.Action)
		return nil
	}
}
