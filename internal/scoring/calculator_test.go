package scoring

import (
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/activity-scorer/internal/types"
)

const user = "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"

func wei(s string) *big.Int {
	v, _ := new(big.Int).SetString(s, 10)
	return v
}

func strPtr(s string) *string { return &s }

func tx(ts time.Time, from string, to *string, fee string) *types.Transaction {
	return &types.Transaction{
		Timestamp: ts.Unix(),
		From:      from,
		To:        to,
		Fee:       wei(fee),
	}
}

func TestCalculate_Aggregates(t *testing.T) {
	calc := NewCalculator("", func() time.Time { return fixedNow })
	other := strPtr("0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb")

	txs := []*types.Transaction{
		tx(fixedNow.Add(-1*time.Hour), user, other, "500000000000000000"),
		tx(fixedNow.Add(-2*time.Hour), "0xAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA", nil, "700000000000000000"),
		tx(fixedNow.Add(-40*24*time.Hour), user, other, "1000000000000000000"),
		tx(fixedNow.Add(-40*24*time.Hour-time.Minute), "0xcccccccccccccccccccccccccccccccccccccccc", nil, "0"),
	}

	m := calc.Calculate(user, txs, nil)

	assert.Equal(t, user, m.Address)
	assert.Equal(t, int64(4), m.TotalTxs)
	assert.InDelta(t, 2.2, m.GasSpentEth, 1e-12)
	assert.InDelta(t, 1.2, m.ActiveGasEth, 1e-12)
	assert.Equal(t, int64(2), m.GasMilestoneTier)
	assert.Equal(t, int64(1), m.ContractsDeployed, "deployments count only when the address is the sender")
	assert.Equal(t, fixedNow.Add(-40*24*time.Hour-time.Minute).Unix(), m.FirstTxTimestamp)
	assert.Equal(t, fixedNow.Add(-1*time.Hour).Unix(), m.LastTxTimestamp)
}

func TestCalculate_DaysActiveUsesUTCDates(t *testing.T) {
	calc := NewCalculator("", func() time.Time { return fixedNow })
	to := strPtr("0xbeef")

	day := time.Date(2025, 5, 10, 0, 0, 0, 0, time.UTC)
	txs := []*types.Transaction{
		tx(day.Add(1*time.Minute), user, to, "1"),
		tx(day.Add(23*time.Hour+59*time.Minute), user, to, "1"),
		tx(day.Add(24*time.Hour), user, to, "1"),
		tx(day.Add(-1*time.Second), user, to, "1"),
	}

	m := calc.Calculate(user, txs, nil)
	assert.Equal(t, int64(3), m.DaysActive)
}

func TestCalculate_EmptyDefaultsToNow(t *testing.T) {
	calc := NewCalculator("", func() time.Time { return fixedNow })

	m := calc.Calculate(user, []*types.Transaction{}, nil)
	assert.Equal(t, int64(0), m.TotalTxs)
	assert.Equal(t, 0.0, m.GasSpentEth)
	assert.Equal(t, int64(0), m.ContractsDeployed)
	assert.Equal(t, int64(0), m.DaysActive)
	assert.Equal(t, fixedNow.Unix(), m.FirstTxTimestamp)
	assert.Equal(t, fixedNow.Unix(), m.LastTxTimestamp)
}

func TestCalculate_FeeSumKeepsPrecision(t *testing.T) {
	calc := NewCalculator("", func() time.Time { return fixedNow })
	to := strPtr("0xbeef")

	// ten thousand fees of 0.0001 ETH sum to exactly 1 ETH
	txs := make([]*types.Transaction, 0, 10000)
	for i := 0; i < 10000; i++ {
		txs = append(txs, tx(fixedNow.Add(-time.Minute), user, to, "100000000000000"))
	}

	m := calc.Calculate(user, txs, nil)
	assert.Equal(t, 1.0, m.GasSpentEth)
	assert.Equal(t, int64(1), m.GasMilestoneTier)
}

func TestCalculate_TokenVolume(t *testing.T) {
	const token = "0xToKeN"
	calc := NewCalculator(token, func() time.Time { return fixedNow })

	transfers := []*types.TokenTransfer{
		{TokenContract: "0xtoken", Decimals: 6, Amount: wei("2500000")},
		{TokenContract: "0xTOKEN", Decimals: 6, Amount: wei("500000")},
		{TokenContract: "0xother", Decimals: 6, Amount: wei("9000000")},
		{TokenContract: "0xtoken", Decimals: 18, Amount: wei("1500000000000000000")},
		{TokenContract: "0xtoken", Decimals: 6, Amount: nil},
	}

	m := calc.Calculate(user, nil, transfers)
	assert.InDelta(t, 4.5, m.TokenVolume, 1e-12)
}

func TestCalculate_Idempotent(t *testing.T) {
	calc := NewCalculator("", func() time.Time { return fixedNow })
	txs := []*types.Transaction{
		tx(fixedNow.Add(-time.Hour), user, nil, "12345"),
		tx(fixedNow.Add(-3*24*time.Hour), user, strPtr("0xbeef"), "678"),
	}

	assert.Equal(t, calc.Calculate(user, txs, nil), calc.Calculate(user, txs, nil))
}
