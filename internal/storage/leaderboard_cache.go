package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/activity-scorer/internal/types"
)

const (
	leaderboardVersionKey = "leaderboard:version"
	leaderboardPagePrefix = "leaderboard:page"
)

// LeaderboardCache caches leaderboard pages in Redis. Pages are keyed by a
// version counter, so invalidation is a single INCR and stale pages age out
// through their TTL.
type LeaderboardCache struct {
	redis *RedisCache
	ttl   time.Duration
}

// NewLeaderboardCache creates a new leaderboard page cache
func NewLeaderboardCache(redis *RedisCache, ttl time.Duration) *LeaderboardCache {
	return &LeaderboardCache{redis: redis, ttl: ttl}
}

func (c *LeaderboardCache) version(ctx context.Context) (int64, error) {
	raw, err := c.redis.Get(ctx, leaderboardVersionKey)
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read leaderboard version: %w", err)
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, nil
	}
	return v, nil
}

func pageKey(version int64, limit, offset int) string {
	return fmt.Sprintf("%s:v%d:%d:%d", leaderboardPagePrefix, version, limit, offset)
}

// GetPage returns a cached page and the cache version it was looked up
// under. A miss returns (nil, version, false, nil); pass that version to
// SetPage so a page built before an Invalidate is never stored under the
// newer version.
func (c *LeaderboardCache) GetPage(ctx context.Context, limit, offset int) (*types.LeaderboardPage, int64, bool, error) {
	version, err := c.version(ctx)
	if err != nil {
		return nil, 0, false, err
	}

	data, err := c.redis.Get(ctx, pageKey(version, limit, offset))
	if errors.Is(err, redis.Nil) {
		return nil, version, false, nil
	}
	if err != nil {
		return nil, version, false, fmt.Errorf("failed to get leaderboard page: %w", err)
	}

	var page types.LeaderboardPage
	if err := json.Unmarshal([]byte(data), &page); err != nil {
		return nil, version, false, fmt.Errorf("failed to unmarshal cached leaderboard page: %w", err)
	}
	return &page, version, true, nil
}

// SetPage stores a page under version. A version already superseded by an
// Invalidate leaves the page unreachable.
func (c *LeaderboardCache) SetPage(ctx context.Context, version int64, page *types.LeaderboardPage) error {
	data, err := json.Marshal(page)
	if err != nil {
		return fmt.Errorf("failed to marshal leaderboard page: %w", err)
	}
	return c.redis.Set(ctx, pageKey(version, page.Limit, page.Offset), data, c.ttl)
}

// Invalidate makes every cached page unreachable
func (c *LeaderboardCache) Invalidate(ctx context.Context) error {
	if _, err := c.redis.Incr(ctx, leaderboardVersionKey); err != nil {
		return fmt.Errorf("failed to invalidate leaderboard cache: %w", err)
	}
	return nil
}
