package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/activity-scorer/internal/types"
)

const (
	addrA = "0x00000000000000000000000000000000000000aa"
	addrB = "0x00000000000000000000000000000000000000bb"
	addrC = "0x00000000000000000000000000000000000000cc"
)

func sampleRecord(address string, score int64) *types.UserActivityRecord {
	return &types.UserActivityRecord{
		UserMetrics: types.UserMetrics{
			Address:           address,
			TotalTxs:          100,
			GasSpentEth:       0.1,
			ActiveGasEth:      0.05,
			GasMilestoneTier:  0,
			TokenVolume:       4.5,
			ContractsDeployed: 1,
			DaysActive:        5,
			FirstTxTimestamp:  1700000000,
			LastTxTimestamp:   1700500000,
		},
		Score:       score,
		LastUpdated: 1700600000,
	}
}

// runActivityRepositoryContract checks behavior every ActivityRepository must share
func runActivityRepositoryContract(t *testing.T, ctx context.Context, repo ActivityRepository) {
	t.Helper()

	t.Run("get missing", func(t *testing.T) {
		_, err := repo.Get(ctx, addrA)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("upsert then get", func(t *testing.T) {
		require.NoError(t, repo.Upsert(ctx, sampleRecord(addrA, 132)))

		got, err := repo.Get(ctx, addrA)
		require.NoError(t, err)
		assert.Equal(t, int64(132), got.Score)
		assert.Nil(t, got.Rank)
		assert.Equal(t, sampleRecord(addrA, 132).UserMetrics, got.UserMetrics)
	})

	t.Run("upsert preserves rank and replaces fields", func(t *testing.T) {
		require.NoError(t, repo.UpdateRanks(ctx, []types.RankAssignment{{Address: addrA, Rank: 1}}))

		next := sampleRecord(addrA, 200)
		next.TotalTxs = 7
		next.TokenVolume = 0
		require.NoError(t, repo.Upsert(ctx, next))

		got, err := repo.Get(ctx, addrA)
		require.NoError(t, err)
		require.NotNil(t, got.Rank)
		assert.Equal(t, int64(1), *got.Rank)
		assert.Equal(t, int64(7), got.TotalTxs)
		assert.Equal(t, 0.0, got.TokenVolume)
		assert.Equal(t, int64(200), got.Score)
	})

	t.Run("leaderboard ordering and paging", func(t *testing.T) {
		require.NoError(t, repo.Upsert(ctx, sampleRecord(addrB, 300)))
		require.NoError(t, repo.Upsert(ctx, sampleRecord(addrC, 200)))

		count, err := repo.Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(3), count)

		scores, err := repo.ListScores(ctx)
		require.NoError(t, err)
		assert.Len(t, scores, 3)

		entries, err := repo.ListLeaderboard(ctx, 10, 0)
		require.NoError(t, err)
		require.Len(t, entries, 3)
		assert.Equal(t, addrB, entries[0].Address)
		// equal scores fall back to address order
		assert.Equal(t, addrA, entries[1].Address)
		assert.Equal(t, addrC, entries[2].Address)

		page, err := repo.ListLeaderboard(ctx, 1, 1)
		require.NoError(t, err)
		require.Len(t, page, 1)
		assert.Equal(t, addrA, page[0].Address)

		empty, err := repo.ListLeaderboard(ctx, 10, 10)
		require.NoError(t, err)
		assert.Empty(t, empty)
	})

	t.Run("update ranks", func(t *testing.T) {
		require.NoError(t, repo.UpdateRanks(ctx, []types.RankAssignment{
			{Address: addrB, Rank: 1},
			{Address: addrA, Rank: 2},
			{Address: addrC, Rank: 3},
		}))

		entries, err := repo.ListLeaderboard(ctx, 10, 0)
		require.NoError(t, err)
		for i, e := range entries {
			require.NotNil(t, e.Rank)
			assert.Equal(t, int64(i+1), *e.Rank)
		}

		assert.NoError(t, repo.UpdateRanks(ctx, nil))
	})
}
