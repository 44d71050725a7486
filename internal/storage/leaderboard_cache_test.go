package storage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/activity-scorer/internal/types"
)

func samplePage(limit, offset int) *types.LeaderboardPage {
	rank := int64(1)
	return &types.LeaderboardPage{
		Entries: []types.LeaderboardEntry{
			{Address: "0x00000000000000000000000000000000000000aa", Rank: &rank, Score: 507, TotalTxs: 100},
		},
		TotalCount: 1,
		Limit:      limit,
		Offset:     offset,
	}
}

func TestLeaderboardCache_MissThenHit(t *testing.T) {
	cache, _ := setupTestRedis(t)
	lc := NewLeaderboardCache(cache, time.Minute)
	ctx := testContext(t)

	page, version, ok, err := lc.GetPage(ctx, 50, 0)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, page)
	assert.Zero(t, version)

	require.NoError(t, lc.SetPage(ctx, version, samplePage(50, 0)))

	page, _, ok, err = lc.GetPage(ctx, 50, 0)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, samplePage(50, 0), page)

	// different window is a separate key
	_, _, ok, err = lc.GetPage(ctx, 50, 50)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLeaderboardCache_Invalidate(t *testing.T) {
	cache, _ := setupTestRedis(t)
	lc := NewLeaderboardCache(cache, time.Minute)
	ctx := testContext(t)

	require.NoError(t, lc.SetPage(ctx, 0, samplePage(10, 0)))
	require.NoError(t, lc.Invalidate(ctx))

	_, version, ok, err := lc.GetPage(ctx, 10, 0)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, int64(1), version)

	require.NoError(t, lc.SetPage(ctx, version, samplePage(10, 0)))
	_, _, ok, err = lc.GetPage(ctx, 10, 0)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLeaderboardCache_TTL(t *testing.T) {
	cache, mr := setupTestRedis(t)
	lc := NewLeaderboardCache(cache, 30*time.Second)
	ctx := testContext(t)

	require.NoError(t, lc.SetPage(ctx, 0, samplePage(10, 0)))
	mr.FastForward(31 * time.Second)

	_, _, ok, err := lc.GetPage(ctx, 10, 0)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLeaderboardCache_CorruptEntry(t *testing.T) {
	cache, mr := setupTestRedis(t)
	lc := NewLeaderboardCache(cache, time.Minute)
	ctx := testContext(t)

	require.NoError(t, mr.Set(pageKey(0, 10, 0), "{not json"))

	_, _, ok, err := lc.GetPage(ctx, 10, 0)
	assert.Error(t, err)
	assert.False(t, ok)
}

func TestLeaderboardCache_SetAfterInvalidateIsUnreachable(t *testing.T) {
	cache, _ := setupTestRedis(t)
	lc := NewLeaderboardCache(cache, time.Minute)
	ctx := testContext(t)

	_, version, ok, err := lc.GetPage(ctx, 10, 0)
	require.NoError(t, err)
	require.False(t, ok)

	// a rank pass lands between the store read and the write-back
	require.NoError(t, lc.Invalidate(ctx))
	require.NoError(t, lc.SetPage(ctx, version, samplePage(10, 0)))

	_, _, ok, err = lc.GetPage(ctx, 10, 0)
	require.NoError(t, err)
	assert.False(t, ok)
}
