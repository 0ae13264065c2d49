package storage

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"threatwatch/internal/schema"
)

const profileKeyPrefix = "threatwatch:profile:"

// ProfileCache keeps per-actor login profiles in Redis so the
// suspicious login detector does not rescan the history window on every
// login. Entries expire on a short TTL; a miss or a Redis error just
// means the caller rebuilds the profile from the activity log.
type ProfileCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewProfileCache creates a ProfileCache. A non-positive ttl falls back
// to ten minutes.
func NewProfileCache(rdb *redis.Client, ttl time.Duration) *ProfileCache {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &ProfileCache{rdb: rdb, ttl: ttl}
}

// GetProfile returns the cached profile for the actor, if present.
func (c *ProfileCache) GetProfile(ctx context.Context, actor string) (*schema.LoginProfile, bool) {
	data, err := c.rdb.Get(ctx, profileKeyPrefix+actor).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			slog.Warn("login profile cache read failed", "actor", actor, "error", err)
		}
		return nil, false
	}

	var profile schema.LoginProfile
	if err := json.Unmarshal(data, &profile); err != nil {
		slog.Warn("discarding corrupt login profile cache entry", "actor", actor, "error", err)
		return nil, false
	}
	return &profile, true
}

// SetProfile stores the profile, best effort.
func (c *ProfileCache) SetProfile(ctx context.Context, actor string, profile *schema.LoginProfile) {
	data, err := json.Marshal(profile)
	if err != nil {
		return
	}
	if err := c.rdb.Set(ctx, profileKeyPrefix+actor, data, c.ttl).Err(); err != nil {
		slog.Warn("login profile cache write failed", "actor", actor, "error", err)
	}
}
