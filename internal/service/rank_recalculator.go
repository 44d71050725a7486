package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/activity-scorer/internal/logging"
	"github.com/activity-scorer/internal/storage"
	"github.com/activity-scorer/internal/types"
)

// CacheInvalidator drops cached leaderboard pages after a rank pass
type CacheInvalidator interface {
	Invalidate(ctx context.Context) error
}

// RankRecalculator assigns dense 1..N ranks to every stored address.
//
// Passes are serialized. A Recalculate call made after a write is satisfied
// by any pass that started after the call was registered, so a burst of
// callers shares one pass.
type RankRecalculator struct {
	repo        storage.ActivityRepository
	invalidator CacheInvalidator
	debounce    time.Duration

	mu        sync.Mutex
	requests  atomic.Uint64
	completed uint64 // guarded by mu
}

// NewRankRecalculator creates a recalculator. invalidator may be nil.
func NewRankRecalculator(repo storage.ActivityRepository, invalidator CacheInvalidator, debounce time.Duration) *RankRecalculator {
	return &RankRecalculator{
		repo:        repo,
		invalidator: invalidator,
		debounce:    debounce,
	}
}

// Recalculate blocks until a pass covering this call has completed
func (r *RankRecalculator) Recalculate(ctx context.Context) error {
	requested := r.requests.Add(1)

	if r.debounce > 0 {
		timer := time.NewTimer(r.debounce)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.completed >= requested {
		return nil
	}

	// everything registered so far is covered by this pass
	start := r.requests.Load()
	if err := r.recompute(ctx); err != nil {
		return err
	}
	r.completed = start
	return nil
}

func (r *RankRecalculator) recompute(ctx context.Context) error {
	began := time.Now()

	scores, err := r.repo.ListScores(ctx)
	if err != nil {
		return fmt.Errorf("failed to list scores: %w", err)
	}

	ranks := AssignRanks(scores)
	if err := r.repo.UpdateRanks(ctx, ranks); err != nil {
		return fmt.Errorf("failed to write ranks: %w", err)
	}

	if r.invalidator != nil {
		if err := r.invalidator.Invalidate(ctx); err != nil {
			logging.FromContext(ctx).WithError(err).Warn("Leaderboard cache invalidation failed")
		}
	}

	logging.FromContext(ctx).WithFields(map[string]interface{}{
		"addresses":  len(ranks),
		"durationMs": time.Since(began).Milliseconds(),
	}).Debug("Rank pass completed")
	return nil
}

// AssignRanks orders by score descending, ties by address ascending, and
// numbers the result from 1
func AssignRanks(scores []types.AddressScore) []types.RankAssignment {
	sorted := make([]types.AddressScore, len(scores))
	copy(sorted, scores)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Score != sorted[j].Score {
			return sorted[i].Score > sorted[j].Score
		}
		return sorted[i].Address < sorted[j].Address
	})

	ranks := make([]types.RankAssignment, len(sorted))
	for i, s := range sorted {
		ranks[i] = types.RankAssignment{Address: s.Address, Rank: int64(i + 1)}
	}
	return ranks
}
