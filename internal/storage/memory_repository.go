package storage

import (
	"context"
	"sort"
	"sync"

	"github.com/activity-scorer/internal/types"
)

// MemoryActivityRepository keeps records in process memory. Used for local
// runs and tests; contents are lost on restart.
type MemoryActivityRepository struct {
	mu      sync.RWMutex
	records map[string]types.UserActivityRecord
}

// NewMemoryActivityRepository creates an empty in-memory repository
func NewMemoryActivityRepository() *MemoryActivityRepository {
	return &MemoryActivityRepository{records: make(map[string]types.UserActivityRecord)}
}

func copyRecord(rec types.UserActivityRecord) *types.UserActivityRecord {
	out := rec
	if rec.Rank != nil {
		rank := *rec.Rank
		out.Rank = &rank
	}
	return &out
}

// Get retrieves the record for an address
func (m *MemoryActivityRepository) Get(_ context.Context, address string) (*types.UserActivityRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.records[address]
	if !ok {
		return nil, ErrNotFound
	}
	return copyRecord(rec), nil
}

// Upsert replaces every field but keeps the stored rank
func (m *MemoryActivityRepository) Upsert(_ context.Context, rec *types.UserActivityRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	next := *copyRecord(*rec)
	next.Rank = nil
	if existing, ok := m.records[rec.Address]; ok {
		next.Rank = existing.Rank
	}
	m.records[rec.Address] = next
	return nil
}

// ListScores returns (address, score) for every stored record
func (m *MemoryActivityRepository) ListScores(_ context.Context) ([]types.AddressScore, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	scores := make([]types.AddressScore, 0, len(m.records))
	for addr, rec := range m.records {
		scores = append(scores, types.AddressScore{Address: addr, Score: rec.Score})
	}
	return scores, nil
}

// UpdateRanks applies all ranks under one lock
func (m *MemoryActivityRepository) UpdateRanks(_ context.Context, ranks []types.RankAssignment) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, rk := range ranks {
		rec, ok := m.records[rk.Address]
		if !ok {
			continue
		}
		rank := rk.Rank
		rec.Rank = &rank
		m.records[rk.Address] = rec
	}
	return nil
}

// ListLeaderboard returns one page ordered by score, ties by address
func (m *MemoryActivityRepository) ListLeaderboard(_ context.Context, limit, offset int) ([]types.LeaderboardEntry, error) {
	m.mu.RLock()
	recs := make([]types.UserActivityRecord, 0, len(m.records))
	for _, rec := range m.records {
		recs = append(recs, *copyRecord(rec))
	}
	m.mu.RUnlock()

	sort.Slice(recs, func(i, j int) bool {
		if recs[i].Score != recs[j].Score {
			return recs[i].Score > recs[j].Score
		}
		return recs[i].Address < recs[j].Address
	})

	if offset >= len(recs) {
		return []types.LeaderboardEntry{}, nil
	}
	end := offset + limit
	if end > len(recs) {
		end = len(recs)
	}

	entries := make([]types.LeaderboardEntry, 0, end-offset)
	for _, rec := range recs[offset:end] {
		entries = append(entries, ToLeaderboardEntry(rec))
	}
	return entries, nil
}

// Count returns the number of stored records
func (m *MemoryActivityRepository) Count(_ context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int64(len(m.records)), nil
}

// ToLeaderboardEntry projects a record onto a leaderboard row
func ToLeaderboardEntry(rec types.UserActivityRecord) types.LeaderboardEntry {
	return types.LeaderboardEntry{
		Address:           rec.Address,
		Rank:              rec.Rank,
		Score:             rec.Score,
		TotalTxs:          rec.TotalTxs,
		GasSpentEth:       rec.GasSpentEth,
		ContractsDeployed: rec.ContractsDeployed,
		DaysActive:        rec.DaysActive,
		LastUpdated:       rec.LastUpdated,
	}
}
