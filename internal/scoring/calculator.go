// Package scoring reduces raw address history into metrics and turns metrics
// into a deterministic score. Nothing in this package performs I/O.
package scoring

import (
	"math/big"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/activity-scorer/internal/types"
)

const (
	weiDecimals     = 18
	activeGasWindow = 30 * 24 * time.Hour
	secondsPerDay   = 86400
)

// Calculator reduces transactions and token transfers into UserMetrics
type Calculator struct {
	tokenContract string
	now           func() time.Time
}

// NewCalculator creates a metrics calculator. tokenContract filters token
// transfers case-insensitively; empty keeps every transfer. now defaults to time.Now.
func NewCalculator(tokenContract string, now func() time.Time) *Calculator {
	if now == nil {
		now = time.Now
	}
	return &Calculator{
		tokenContract: strings.ToLower(tokenContract),
		now:           now,
	}
}

// Calculate is total: any input, including empty lists, yields valid metrics
func (c *Calculator) Calculate(address string, txs []*types.Transaction, transfers []*types.TokenTransfer) types.UserMetrics {
	now := c.now()
	address = strings.ToLower(address)
	activeSince := now.Add(-activeGasWindow).Unix()

	metrics := types.UserMetrics{
		Address:          address,
		FirstTxTimestamp: now.Unix(),
		LastTxTimestamp:  now.Unix(),
	}

	totalFees := new(big.Int)
	activeFees := new(big.Int)
	days := make(map[string]struct{})
	counted := 0

	for _, tx := range txs {
		if tx == nil {
			continue
		}

		if counted == 0 || tx.Timestamp < metrics.FirstTxTimestamp {
			metrics.FirstTxTimestamp = tx.Timestamp
		}
		if counted == 0 || tx.Timestamp > metrics.LastTxTimestamp {
			metrics.LastTxTimestamp = tx.Timestamp
		}
		counted++

		if tx.Fee != nil && tx.Fee.Sign() > 0 {
			totalFees.Add(totalFees, tx.Fee)
			if tx.Timestamp >= activeSince {
				activeFees.Add(activeFees, tx.Fee)
			}
		}

		if tx.IsDeployment() && strings.EqualFold(tx.From, address) {
			metrics.ContractsDeployed++
		}

		days[time.Unix(tx.Timestamp, 0).UTC().Format("2006-01-02")] = struct{}{}
	}

	metrics.TotalTxs = int64(counted)
	metrics.DaysActive = int64(len(days))

	gas := decimal.NewFromBigInt(totalFees, -weiDecimals)
	metrics.GasSpentEth = gas.InexactFloat64()
	metrics.GasMilestoneTier = gas.Floor().IntPart()
	metrics.ActiveGasEth = decimal.NewFromBigInt(activeFees, -weiDecimals).InexactFloat64()
	metrics.TokenVolume = c.tokenVolume(transfers)

	return metrics
}

// tokenVolume sums amounts per declared decimals before scaling, so values
// with different precision are never added in the smallest unit
func (c *Calculator) tokenVolume(transfers []*types.TokenTransfer) float64 {
	byDecimals := make(map[int32]*big.Int)
	for _, tt := range transfers {
		if tt == nil || tt.Amount == nil || tt.Amount.Sign() <= 0 {
			continue
		}
		if c.tokenContract != "" && !strings.EqualFold(tt.TokenContract, c.tokenContract) {
			continue
		}
		sum, ok := byDecimals[tt.Decimals]
		if !ok {
			sum = new(big.Int)
			byDecimals[tt.Decimals] = sum
		}
		sum.Add(sum, tt.Amount)
	}

	total := decimal.Zero
	for d, sum := range byDecimals {
		total = total.Add(decimal.NewFromBigInt(sum, -d))
	}
	return total.InexactFloat64()
}
