package service

import (
	"context"
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	"github.com/activity-scorer/internal/adapter"
	"github.com/activity-scorer/internal/scoring"
	"github.com/activity-scorer/internal/storage"
	"github.com/activity-scorer/internal/types"
)

const (
	testAddr  = "0x00000000000000000000000000000000000000aa"
	testAddr2 = "0x00000000000000000000000000000000000000bb"
	testToken = "0x00000000000000000000000000000000000000f0"
)

var testNow = time.Unix(1750000000, 0).UTC()

func fixedNow() time.Time { return testNow }

// fakeTxSource serves a fixed history, or err, and counts calls
type fakeTxSource struct {
	mu    sync.Mutex
	txs   []*types.Transaction
	err   error
	calls atomic.Int32
	gate  chan struct{} // when set, each call blocks until closed
}

func (f *fakeTxSource) FetchAllTransactions(ctx context.Context, _ string, _ int) ([]*types.Transaction, error) {
	f.calls.Add(1)
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return f.txs, nil
}

func (f *fakeTxSource) set(txs []*types.Transaction, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.txs, f.err = txs, err
}

type fakeTokenSource struct {
	transfers []*types.TokenTransfer
	err       error
	calls     atomic.Int32
}

func (f *fakeTokenSource) FetchTokenTransfers(_ context.Context, _, _ string, _ int) ([]*types.TokenTransfer, error) {
	f.calls.Add(1)
	return f.transfers, f.err
}

type fakeBonus struct {
	data *types.ExternalBonusData
	err  error
}

func (f *fakeBonus) Resolve(_ context.Context, address string) (*types.ExternalBonusData, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := *f.data
	out.Address = address
	return &out, nil
}

type fakeHistory struct {
	mu     sync.Mutex
	points []types.ScoreHistoryPoint
	err    error
}

func (f *fakeHistory) Append(_ context.Context, p types.ScoreHistoryPoint) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.points = append(f.points, p)
	return nil
}

func (f *fakeHistory) List(_ context.Context, address string, limit int) ([]types.ScoreHistoryPoint, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []types.ScoreHistoryPoint
	for i := len(f.points) - 1; i >= 0 && len(out) < limit; i-- {
		if f.points[i].Address == address {
			out = append(out, f.points[i])
		}
	}
	return out, nil
}

// countingRepo wraps a repository and counts rank passes
type countingRepo struct {
	storage.ActivityRepository
	listScores atomic.Int32
	hold       time.Duration
}

func (r *countingRepo) ListScores(ctx context.Context) ([]types.AddressScore, error) {
	r.listScores.Add(1)
	if r.hold > 0 {
		time.Sleep(r.hold)
	}
	return r.ActivityRepository.ListScores(ctx)
}

// parkingRepo blocks the first Get after it returns, until release is closed
type parkingRepo struct {
	storage.ActivityRepository
	once    sync.Once
	parked  chan struct{}
	release chan struct{}
}

func newParkingRepo(inner storage.ActivityRepository) *parkingRepo {
	return &parkingRepo{
		ActivityRepository: inner,
		parked:             make(chan struct{}),
		release:            make(chan struct{}),
	}
}

func (r *parkingRepo) Get(ctx context.Context, address string) (*types.UserActivityRecord, error) {
	rec, err := r.ActivityRepository.Get(ctx, address)
	first := false
	r.once.Do(func() { first = true })
	if first {
		close(r.parked)
		<-r.release
	}
	return rec, err
}

func strPtr(s string) *string { return &s }

// sampleHistory returns 4 txs over 3 UTC days, one of them a deployment
func sampleHistory(address string) []*types.Transaction {
	fee := func() *big.Int { return big.NewInt(100_000_000_000_000_000) } // 0.1 ETH
	day := int64(86400)
	base := testNow.Unix() - 20*day
	return []*types.Transaction{
		{Hash: "0x1", Timestamp: base, From: address, To: strPtr(testAddr2), Fee: fee(), Status: types.StatusSuccess},
		{Hash: "0x2", Timestamp: base + 60, From: address, To: strPtr(testAddr2), Fee: fee(), Status: types.StatusSuccess},
		{Hash: "0x3", Timestamp: base + day, From: address, To: nil, Fee: fee(), Status: types.StatusSuccess},
		{Hash: "0x4", Timestamp: base + 2*day, From: testAddr2, To: strPtr(address), Fee: fee(), Status: types.StatusFailed},
	}
}

type serviceFixture struct {
	repo    *storage.MemoryActivityRepository
	txs     *fakeTxSource
	tokens  *fakeTokenSource
	history *fakeHistory
	engine  *scoring.Engine
	service *ActivityService
}

func newServiceFixture(bonus BonusSource) *serviceFixture {
	repo := storage.NewMemoryActivityRepository()
	txs := &fakeTxSource{txs: sampleHistory(testAddr)}
	tokens := &fakeTokenSource{}
	history := &fakeHistory{}

	engineCfg := scoring.DefaultEngineConfig()
	engineCfg.Now = fixedNow
	engine := scoring.NewEngine(engineCfg)

	deps := ActivityServiceDeps{
		Repo:       repo,
		Txs:        txs,
		Tokens:     tokens,
		Calculator: scoring.NewCalculator(testToken, fixedNow),
		Engine:     engine,
		Ranks:      NewRankRecalculator(repo, nil, 0),
		History:    history,
	}
	if bonus != nil {
		deps.Bonus = bonus
	}

	svc := NewActivityService(deps, ActivityServiceConfig{
		TokenContract:      testToken,
		MaxPages:           5,
		StalenessThreshold: 24 * time.Hour,
		AggregationTimeout: 5 * time.Second,
		Now:                fixedNow,
	})

	return &serviceFixture{
		repo:    repo,
		txs:     txs,
		tokens:  tokens,
		history: history,
		engine:  engine,
		service: svc,
	}
}

var (
	_ adapter.TransactionSource   = (*fakeTxSource)(nil)
	_ adapter.TokenTransferSource = (*fakeTokenSource)(nil)
	_ ScoreHistory                = (*fakeHistory)(nil)
)
