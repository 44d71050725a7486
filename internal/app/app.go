// Package app wires configuration into the running component graph shared
// by the server and operator commands.
package app

import (
	"fmt"
	"strings"
	"time"

	"github.com/activity-scorer/internal/adapter"
	"github.com/activity-scorer/internal/config"
	"github.com/activity-scorer/internal/logging"
	"github.com/activity-scorer/internal/retry"
	"github.com/activity-scorer/internal/scoring"
	"github.com/activity-scorer/internal/service"
	"github.com/activity-scorer/internal/storage"
)

// App holds the constructed services and the connections they depend on
type App struct {
	Activity    *service.ActivityService
	Leaderboard *service.LeaderboardService
	Bonus       *service.BonusResolver
	Ranks       *service.RankRecalculator

	closers []func()
}

// Close releases every connection opened by New, in reverse order
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// New connects the configured backends and builds the services
func New(cfg *config.Config, logger *logging.Logger) (*App, error) {
	a := &App{}

	repo, err := a.activityRepository(cfg, logger)
	if err != nil {
		a.Close()
		return nil, err
	}

	var pageCache *storage.LeaderboardCache
	if cfg.Leaderboard.CacheEnabled {
		redis, err := storage.NewRedisCache(&cfg.Database.Redis)
		if err != nil {
			logger.WithError(err).Warn("Redis unavailable, leaderboard cache disabled")
		} else {
			a.closers = append(a.closers, func() { _ = redis.Close() })
			pageCache = storage.NewLeaderboardCache(redis, cfg.Leaderboard.CacheTTL)
		}
	}

	var history service.ScoreHistory
	if cfg.History.Enabled {
		ch, err := storage.NewClickHouseDB(&cfg.Database.ClickHouse)
		if err != nil {
			logger.WithError(err).Warn("ClickHouse unavailable, score history disabled")
		} else {
			a.closers = append(a.closers, func() { _ = ch.Close() })
			history = storage.NewScoreHistoryRepository(ch)
		}
	}

	explorer := adapter.NewExplorerClient(adapter.ExplorerConfig{
		BaseURL:           cfg.Explorer.BaseURL,
		MaxPages:          cfg.Explorer.MaxPages,
		PageDelay:         cfg.Explorer.PageDelay,
		RequestTimeout:    cfg.Explorer.RequestTimeout,
		RequestsPerSecond: cfg.Explorer.RequestsPerSecond,
		Retry:             retryConfig(cfg.Retry),
		Logger:            logger,
	})

	a.Bonus = service.NewBonusResolver(
		domainResolver(cfg.Bonus),
		socialResolver(cfg.Bonus),
		explorer,
		service.BonusResolverConfig{
			TrackedCollections: cfg.Bonus.TrackedCollections,
			FeaturedCollection: cfg.Bonus.FeaturedCollection,
			CacheTTL:           cfg.Bonus.CacheTTL,
			CacheSizeMB:        cfg.Bonus.CacheSizeMB,
			LookupTimeout:      cfg.Bonus.LookupTimeout,
			BulkBatchSize:      cfg.Bonus.BulkBatchSize,
			BulkBatchDelay:     cfg.Bonus.BulkBatchDelay,
		},
	)

	// a nil *LeaderboardCache must not become a non-nil interface
	var invalidator service.CacheInvalidator
	var cache service.PageCache
	if pageCache != nil {
		invalidator = pageCache
		cache = pageCache
	}

	a.Ranks = service.NewRankRecalculator(repo, invalidator, cfg.Rank.DebounceWindow)
	a.Leaderboard = service.NewLeaderboardService(repo, cache)

	deps := service.ActivityServiceDeps{
		Repo:       repo,
		Txs:        explorer,
		Tokens:     explorer,
		Calculator: scoring.NewCalculator(cfg.Explorer.TokenContract, nil),
		Engine:     scoring.NewEngine(engineConfig(cfg.Scoring)),
		Ranks:      a.Ranks,
		Bonus:      a.Bonus,
	}
	if history != nil {
		deps.History = history
	}
	a.Activity = service.NewActivityService(deps, service.ActivityServiceConfig{
		TokenContract:      cfg.Explorer.TokenContract,
		MaxPages:           cfg.Explorer.MaxPages,
		StalenessThreshold: cfg.Staleness.Threshold,
		AggregationTimeout: cfg.Staleness.AggregationTimeout,
	})

	logger.WithFields(map[string]interface{}{
		"store":            cfg.Store.Backend,
		"leaderboardCache": pageCache != nil,
		"history":          history != nil,
	}).Info("Services initialized")

	return a, nil
}

func (a *App) activityRepository(cfg *config.Config, logger *logging.Logger) (storage.ActivityRepository, error) {
	switch strings.ToLower(cfg.Store.Backend) {
	case "memory":
		logger.Warn("Using in-memory activity store, records are lost on restart")
		return storage.NewMemoryActivityRepository(), nil
	case "", "postgres":
		db, err := storage.NewPostgresDB(&cfg.Database.Postgres)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to Postgres: %w", err)
		}
		a.closers = append(a.closers, db.Close)
		return storage.NewPostgresActivityRepository(db), nil
	default:
		return nil, fmt.Errorf("unknown store backend: %s", cfg.Store.Backend)
	}
}

func retryConfig(c config.RetryConfig) *retry.RetryConfig {
	rc := retry.DefaultRetryConfig()
	if c.MaxAttempts > 0 {
		rc.MaxAttempts = c.MaxAttempts
	}
	if c.BaseDelay > 0 {
		rc.InitialDelay = c.BaseDelay
	}
	capMultiplier := c.RateLimitCapMultiplier
	if capMultiplier <= 0 {
		capMultiplier = 10
	}
	rc.RateLimitMaxDelay = rc.InitialDelay * time.Duration(capMultiplier)
	return rc
}

func engineConfig(c config.ScoringConfig) scoring.EngineConfig {
	return scoring.EngineConfig{
		Weights: scoring.Weights{
			Tx:     c.TxWeight,
			Gas:    c.GasWeight,
			Deploy: c.DeployWeight,
			Days:   c.DaysWeight,
			Age:    c.AgeWeight,
		},
		Factors: scoring.Factors{
			OG:          c.OGMultiplier,
			Builder:     c.BuilderMultiplier,
			PowerUser:   c.PowerUserMultiplier,
			Domain:      c.DomainMultiplier,
			Farcaster:   c.FarcasterMultiplier,
			FeaturedNFT: c.FeaturedNFTMultiplier,
			NativeNFT:   c.NativeNFTMultiplier,
		},
		NetworkLaunchEpoch: c.NetworkLaunchEpoch,
		PowerUserThreshold: c.PowerUserThreshold,
	}
}

func domainResolver(c config.BonusConfig) adapter.DomainResolver {
	if c.DomainBaseURL == "" {
		return nil
	}
	return adapter.NewDomainClient(c.DomainBaseURL, c.LookupTimeout)
}

func socialResolver(c config.BonusConfig) adapter.SocialResolver {
	if c.FarcasterBaseURL == "" {
		return nil
	}
	return adapter.NewFarcasterClient(c.FarcasterBaseURL, c.FarcasterAPIKey, c.LookupTimeout)
}
