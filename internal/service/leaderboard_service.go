package service

import (
	"context"

	apperrors "github.com/activity-scorer/internal/errors"
	"github.com/activity-scorer/internal/logging"
	"github.com/activity-scorer/internal/storage"
	"github.com/activity-scorer/internal/types"
)

const (
	// DefaultLeaderboardLimit is used when no limit is given
	DefaultLeaderboardLimit = 50
	// MaxLeaderboardLimit caps a single page
	MaxLeaderboardLimit = 100
)

// PageCache caches leaderboard pages
type PageCache interface {
	GetPage(ctx context.Context, limit, offset int) (page *types.LeaderboardPage, version int64, ok bool, err error)
	SetPage(ctx context.Context, version int64, page *types.LeaderboardPage) error
}

// LeaderboardService serves ranked pages of the stored population
type LeaderboardService struct {
	repo  storage.ActivityRepository
	cache PageCache
}

// NewLeaderboardService creates a leaderboard service. cache may be nil.
func NewLeaderboardService(repo storage.ActivityRepository, cache PageCache) *LeaderboardService {
	return &LeaderboardService{repo: repo, cache: cache}
}

// NormalizePage clamps limit to 1..MaxLeaderboardLimit (0 means default)
// and offset to >= 0
func NormalizePage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = DefaultLeaderboardLimit
	}
	if limit > MaxLeaderboardLimit {
		limit = MaxLeaderboardLimit
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

// GetPage returns one leaderboard window with the total population size
func (s *LeaderboardService) GetPage(ctx context.Context, limit, offset int) (*types.LeaderboardPage, error) {
	limit, offset = NormalizePage(limit, offset)
	logger := logging.FromContext(ctx)

	// pages are written back under the version seen before the store read
	var (
		version   int64
		cacheable bool
	)
	if s.cache != nil {
		page, v, ok, err := s.cache.GetPage(ctx, limit, offset)
		if err != nil {
			logger.WithError(err).Warn("Leaderboard cache read failed")
		} else if ok {
			return page, nil
		} else {
			version, cacheable = v, true
		}
	}

	entries, err := s.repo.ListLeaderboard(ctx, limit, offset)
	if err != nil {
		return nil, apperrors.NewDatabaseError("list leaderboard", err)
	}
	total, err := s.repo.Count(ctx)
	if err != nil {
		return nil, apperrors.NewDatabaseError("count leaderboard", err)
	}

	if entries == nil {
		entries = []types.LeaderboardEntry{}
	}
	page := &types.LeaderboardPage{
		Entries:    entries,
		TotalCount: total,
		Limit:      limit,
		Offset:     offset,
	}

	if cacheable {
		if err := s.cache.SetPage(ctx, version, page); err != nil {
			logger.WithError(err).Warn("Leaderboard cache write failed")
		}
	}
	return page, nil
}
