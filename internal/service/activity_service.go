package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/activity-scorer/internal/adapter"
	apperrors "github.com/activity-scorer/internal/errors"
	"github.com/activity-scorer/internal/logging"
	"github.com/activity-scorer/internal/scoring"
	"github.com/activity-scorer/internal/storage"
	"github.com/activity-scorer/internal/types"
)

// ErrAggregationFailed is the coarse signal that a refresh produced nothing
// worth persisting
var ErrAggregationFailed = errors.New("aggregation failed")

const (
	defaultHistoryLimit = 30
	maxHistoryLimit     = 365
)

// BonusSource resolves external bonus data for an address
type BonusSource interface {
	Resolve(ctx context.Context, address string) (*types.ExternalBonusData, error)
}

// RankTrigger runs a rank pass covering every write made before the call
type RankTrigger interface {
	Recalculate(ctx context.Context) error
}

// ScoreHistory is the append-only history sink
type ScoreHistory interface {
	Append(ctx context.Context, p types.ScoreHistoryPoint) error
	List(ctx context.Context, address string, limit int) ([]types.ScoreHistoryPoint, error)
}

// ActivityServiceConfig configures refresh behavior
type ActivityServiceConfig struct {
	TokenContract      string
	MaxPages           int
	StalenessThreshold time.Duration
	AggregationTimeout time.Duration
	Now                func() time.Time
}

// ActivityService owns the per-address record lifecycle: lookup, staleness
// check, de-duplicated re-aggregation and the read models built on top.
type ActivityService struct {
	repo       storage.ActivityRepository
	txs        adapter.TransactionSource
	tokens     adapter.TokenTransferSource
	calculator *scoring.Calculator
	engine     *scoring.Engine
	ranks      RankTrigger
	bonus      BonusSource
	history    ScoreHistory

	cfg   ActivityServiceConfig
	now   func() time.Time
	group singleflight.Group
}

// ActivityServiceDeps groups the collaborators of an ActivityService.
// Tokens, Bonus and History are optional.
type ActivityServiceDeps struct {
	Repo       storage.ActivityRepository
	Txs        adapter.TransactionSource
	Tokens     adapter.TokenTransferSource
	Calculator *scoring.Calculator
	Engine     *scoring.Engine
	Ranks      RankTrigger
	Bonus      BonusSource
	History    ScoreHistory
}

// NewActivityService creates a new activity service
func NewActivityService(deps ActivityServiceDeps, cfg ActivityServiceConfig) *ActivityService {
	if cfg.StalenessThreshold <= 0 {
		cfg.StalenessThreshold = 24 * time.Hour
	}
	if cfg.AggregationTimeout <= 0 {
		cfg.AggregationTimeout = 2 * time.Minute
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &ActivityService{
		repo:       deps.Repo,
		txs:        deps.Txs,
		tokens:     deps.Tokens,
		calculator: deps.Calculator,
		engine:     deps.Engine,
		ranks:      deps.Ranks,
		bonus:      deps.Bonus,
		history:    deps.History,
		cfg:        cfg,
		now:        now,
	}
}

// IsStale reports whether a record is older than the staleness threshold
func (s *ActivityService) IsStale(rec *types.UserActivityRecord) bool {
	age := s.now().Unix() - rec.LastUpdated
	return age > int64(s.cfg.StalenessThreshold/time.Second)
}

// GetOrRefresh returns the stored record, re-aggregating first when it is
// absent or stale. If the refresh fails and an older record exists, that
// record is returned with stale=true.
func (s *ActivityService) GetOrRefresh(ctx context.Context, address string) (*types.UserActivityRecord, bool, error) {
	normalized, err := adapter.NormalizeAddress(address)
	if err != nil {
		return nil, false, apperrors.NewInvalidAddressError(address)
	}
	logger := logging.FromContext(ctx).WithField("address", normalized)

	existing, err := s.repo.Get(ctx, normalized)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return nil, false, apperrors.NewTemporarilyUnavailableError(normalized, err)
	}
	if existing != nil && !s.IsStale(existing) {
		return existing, false, nil
	}

	out, err := s.refresh(ctx, normalized, false, true)
	if err == nil {
		return s.ensureRanked(ctx, out), false, nil
	}

	if existing != nil {
		logger.WithError(err).Warn("Refresh failed, serving stale record")
		return existing, true, nil
	}
	if errors.Is(err, adapter.ErrNotFound) {
		return nil, false, apperrors.NewNotFoundError("address", normalized)
	}
	logger.WithError(err).Warn("Refresh failed with no stored record")
	return nil, false, apperrors.NewTemporarilyUnavailableError(normalized, err)
}

// ensureRanked runs a rank pass when the shared run wrote a record without
// one, as happens when a reader joins an in-flight ForceRefresh
func (s *ActivityService) ensureRanked(ctx context.Context, out *refreshOutcome) *types.UserActivityRecord {
	if !out.aggregated || out.ranked {
		return out.record
	}
	if err := s.ranks.Recalculate(ctx); err != nil {
		logging.FromContext(ctx).WithError(err).WithField("address", out.record.Address).Warn("Rank pass failed after shared refresh")
		return out.record
	}
	stored, err := s.repo.Get(ctx, out.record.Address)
	if err != nil {
		return out.record
	}
	return stored
}

// ForceRefresh re-aggregates regardless of staleness and skips the rank
// pass; callers batch their own via RecalculateRanks
func (s *ActivityService) ForceRefresh(ctx context.Context, address string) (*types.UserActivityRecord, error) {
	normalized, err := adapter.NormalizeAddress(address)
	if err != nil {
		return nil, apperrors.NewInvalidAddressError(address)
	}
	out, err := s.refresh(ctx, normalized, true, false)
	if err != nil {
		return nil, err
	}
	return out.record, nil
}

// RecalculateRanks runs one rank pass
func (s *ActivityService) RecalculateRanks(ctx context.Context) error {
	return s.ranks.Recalculate(ctx)
}

type refreshOutcome struct {
	record     *types.UserActivityRecord
	aggregated bool // false when another run had already refreshed the record
	ranked     bool
}

// refresh de-duplicates concurrent aggregations of one address. The shared
// run is detached from the first caller's cancellation and bounded by the
// aggregation timeout; each caller still stops waiting when its ctx ends.
// Unless force is set, the run first re-reads the record and skips the fetch
// when an earlier run already made it fresh.
func (s *ActivityService) refresh(ctx context.Context, address string, force, rank bool) (*refreshOutcome, error) {
	ch := s.group.DoChan(address, func() (interface{}, error) {
		actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.AggregationTimeout)
		defer cancel()

		if !force {
			current, err := s.repo.Get(actx, address)
			if err == nil && !s.IsStale(current) {
				return &refreshOutcome{record: current}, nil
			}
		}

		rec, err := s.aggregate(actx, address, rank)
		if err != nil {
			return nil, err
		}
		return &refreshOutcome{record: rec, aggregated: true, ranked: rank}, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*refreshOutcome), nil
	}
}

func (s *ActivityService) aggregate(ctx context.Context, address string, rank bool) (*types.UserActivityRecord, error) {
	logger := logging.FromContext(ctx).WithField("address", address)
	began := s.now()

	var (
		txs       []*types.Transaction
		transfers []*types.TokenTransfer
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		out, err := s.txs.FetchAllTransactions(gctx, address, s.cfg.MaxPages)
		if err != nil {
			return err
		}
		txs = out
		return nil
	})
	if s.tokens != nil && s.cfg.TokenContract != "" {
		g.Go(func() error {
			out, err := s.tokens.FetchTokenTransfers(gctx, address, s.cfg.TokenContract, s.cfg.MaxPages)
			if err != nil {
				logger.WithError(err).Warn("Token transfer fetch failed, volume treated as zero")
				return nil
			}
			transfers = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrAggregationFailed, err)
	}

	metrics := s.calculator.Calculate(address, txs, transfers)
	rec := &types.UserActivityRecord{
		UserMetrics: metrics,
		Score:       s.engine.CalculateScore(metrics, nil),
		LastUpdated: s.now().Unix(),
	}

	if err := s.repo.Upsert(ctx, rec); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrAggregationFailed, err)
	}

	logger.WithFields(map[string]interface{}{
		"totalTxs":   metrics.TotalTxs,
		"score":      rec.Score,
		"durationMs": s.now().Sub(began).Milliseconds(),
	}).Info("Aggregated address activity")

	if rank {
		if err := s.ranks.Recalculate(ctx); err != nil {
			logger.WithError(err).Warn("Rank pass failed after upsert")
		}
	}

	s.appendHistory(ctx, rec)

	stored, err := s.repo.Get(ctx, address)
	if err != nil {
		logger.WithError(err).Warn("Re-read after upsert failed")
		return rec, nil
	}
	return stored, nil
}

func (s *ActivityService) appendHistory(ctx context.Context, rec *types.UserActivityRecord) {
	if s.history == nil {
		return
	}
	point := types.ScoreHistoryPoint{
		Address:     rec.Address,
		Score:       rec.Score,
		TotalTxs:    rec.TotalTxs,
		GasSpentEth: rec.GasSpentEth,
		DaysActive:  rec.DaysActive,
		ComputedAt:  rec.LastUpdated,
	}
	if err := s.history.Append(ctx, point); err != nil {
		logging.FromContext(ctx).WithError(err).WithField("address", rec.Address).Warn("Score history append failed")
	}
}

func (s *ActivityService) resolveBonus(ctx context.Context, address string) *types.ExternalBonusData {
	if s.bonus == nil {
		return nil
	}
	data, err := s.bonus.Resolve(ctx, address)
	if err != nil {
		logging.FromContext(ctx).WithError(err).Warn("Bonus resolution failed")
		return nil
	}
	return data
}

// GetUserMetrics returns the record with its base and enhanced scores
func (s *ActivityService) GetUserMetrics(ctx context.Context, address string) (*types.UserMetricsResponse, error) {
	rec, stale, err := s.GetOrRefresh(ctx, address)
	if err != nil {
		return nil, err
	}

	bonus := s.resolveBonus(ctx, rec.Address)
	mult := s.engine.GetMultipliers(rec.UserMetrics, bonus)

	return &types.UserMetricsResponse{
		Address:       rec.Address,
		Metrics:       rec.UserMetrics,
		BaseScore:     rec.Score,
		EnhancedScore: s.engine.ScoreWithMultipliers(rec.UserMetrics, mult),
		Rank:          rec.Rank,
		Multipliers:   mult,
		Bonus:         bonus,
		LastUpdated:   rec.LastUpdated,
		Stale:         stale,
	}, nil
}

// GetScoreBreakdown decomposes the score of a stored address. It never
// triggers a refresh.
func (s *ActivityService) GetScoreBreakdown(ctx context.Context, address string) (*types.ScoreBreakdownResponse, error) {
	normalized, err := adapter.NormalizeAddress(address)
	if err != nil {
		return nil, apperrors.NewInvalidAddressError(address)
	}

	rec, err := s.repo.Get(ctx, normalized)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, apperrors.NewNotFoundError("address", normalized)
		}
		return nil, apperrors.NewDatabaseError("get activity record", err)
	}

	breakdown := s.engine.GetScoreBreakdown(rec.UserMetrics, s.resolveBonus(ctx, normalized))
	return &types.ScoreBreakdownResponse{
		Address:       normalized,
		Breakdown:     breakdown,
		BaseScore:     rec.Score,
		EnhancedScore: breakdown.Score,
		Rank:          rec.Rank,
		LastUpdated:   rec.LastUpdated,
	}, nil
}

// GetBonus returns the external bonus data of an address
func (s *ActivityService) GetBonus(ctx context.Context, address string) (*types.ExternalBonusData, error) {
	if s.bonus == nil {
		return nil, apperrors.NewServiceUnavailableError("bonus resolver")
	}
	return s.bonus.Resolve(ctx, address)
}

// GetHistory returns recent history points, newest first
func (s *ActivityService) GetHistory(ctx context.Context, address string, limit int) ([]types.ScoreHistoryPoint, error) {
	normalized, err := adapter.NormalizeAddress(address)
	if err != nil {
		return nil, apperrors.NewInvalidAddressError(address)
	}
	if s.history == nil {
		return nil, apperrors.NewServiceUnavailableError("score history")
	}

	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	points, err := s.history.List(ctx, normalized, limit)
	if err != nil {
		return nil, apperrors.NewDatabaseError("list score history", err)
	}
	return points, nil
}
