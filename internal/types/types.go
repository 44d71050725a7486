// Package types provides common type definitions for the activity scorer.
package types

import "math/big"

// TransactionStatus represents transaction execution status
type TransactionStatus string

const (
	// StatusSuccess represents a successful transaction
	StatusSuccess TransactionStatus = "success"
	// StatusFailed represents a failed transaction
	StatusFailed TransactionStatus = "failed"
)

// ServiceError represents a structured error response
type ServiceError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func (e *ServiceError) Error() string {
	return e.Message
}

// Transaction is one explorer transaction for an address. Fetched, reduced, discarded.
type Transaction struct {
	Hash        string            `json:"hash"`
	BlockNumber uint64            `json:"blockNumber"`
	Timestamp   int64             `json:"timestamp"` // unix seconds
	From        string            `json:"from"`
	To          *string           `json:"to,omitempty"` // nil for contract deployments
	Value       *big.Int          `json:"value"`
	Fee         *big.Int          `json:"fee"` // smallest unit
	GasUsed     *big.Int          `json:"gasUsed"`
	GasPrice    *big.Int          `json:"gasPrice"`
	Status      TransactionStatus `json:"status"`
	Method      string            `json:"method,omitempty"`
}

// IsDeployment reports whether the transaction created a contract
func (t *Transaction) IsDeployment() bool {
	return t.To == nil
}

// TokenTransfer is one fungible token transfer touching an address
type TokenTransfer struct {
	From          string   `json:"from"`
	To            string   `json:"to"`
	Timestamp     int64    `json:"timestamp"`
	TokenContract string   `json:"tokenContract"`
	Decimals      int32    `json:"decimals"`
	Amount        *big.Int `json:"amount"` // smallest unit
}

// NFTHolding is one NFT instance held by an address
type NFTHolding struct {
	Collection string `json:"collection"`
	TokenID    string `json:"tokenId"`
}

// UserMetrics holds the aggregate activity figures for one address
type UserMetrics struct {
	Address           string  `json:"address"`
	TotalTxs          int64   `json:"totalTxs"`
	GasSpentEth       float64 `json:"gasSpentEth"`
	ActiveGasEth      float64 `json:"activeGasEth"` // last 30 days
	GasMilestoneTier  int64   `json:"gasMilestoneTier"`
	TokenVolume       float64 `json:"tokenVolume"`
	ContractsDeployed int64   `json:"contractsDeployed"`
	DaysActive        int64   `json:"daysActive"`
	FirstTxTimestamp  int64   `json:"firstTxTimestamp"`
	LastTxTimestamp   int64   `json:"lastTxTimestamp"`
}

// ExternalBonusData holds identity and NFT flags resolved from outside services
type ExternalBonusData struct {
	Address          string   `json:"address"`
	HasMegaDomain    bool     `json:"hasMegaDomain"`
	DomainName       string   `json:"domainName,omitempty"`
	HasFarcaster     bool     `json:"hasFarcaster"`
	FarcasterName    string   `json:"farcasterName,omitempty"`
	HoldsFeaturedNFT bool     `json:"holdsFeaturedNft"`
	HoldsAnyNFT      bool     `json:"holdsAnyNativeNft"`
	NFTContracts     []string `json:"nftContracts"`
	FetchedAt        int64    `json:"fetchedAt"`
}

// Multipliers are the boolean bonus flags applied to a score
type Multipliers struct {
	OGBonus        bool `json:"ogBonus"`
	BuilderBonus   bool `json:"builderBonus"`
	PowerUserBonus bool `json:"powerUserBonus"`

	// External flags, only set when bonus data was supplied
	HasMegaDomain    bool `json:"hasMegaDomain"`
	HasFarcaster     bool `json:"hasFarcaster"`
	HoldsFeaturedNFT bool `json:"holdsFeaturedNft"`
	HoldsAnyNFT      bool `json:"holdsAnyNativeNft"`
}

// ScoreBreakdown decomposes a score into its named contributions
type ScoreBreakdown struct {
	FromTxs         float64             `json:"fromTxs"`
	FromGas         float64             `json:"fromGas"`
	FromDeployments float64             `json:"fromDeployments"`
	FromDaysActive  float64             `json:"fromDaysActive"`
	FromAge         float64             `json:"fromAge"`
	AgeDays         int64               `json:"ageDays"`
	BasePoints      float64             `json:"basePoints"`
	Multipliers     []AppliedMultiplier `json:"multipliers"`
	MultiplierValue float64             `json:"multiplierValue"`
	Score           int64               `json:"score"`
}

// AppliedMultiplier names one active multiplier and its factor
type AppliedMultiplier struct {
	Name   string  `json:"name"`
	Factor float64 `json:"factor"`
}

// UserActivityRecord is the persisted per-address row
type UserActivityRecord struct {
	UserMetrics
	Score       int64  `json:"score"`
	Rank        *int64 `json:"rank"` // nil until the first rank pass
	LastUpdated int64  `json:"lastUpdated"`
}

// AddressScore is the projection scanned by the rank pass
type AddressScore struct {
	Address string
	Score   int64
}

// RankAssignment is one rank written back by the rank pass
type RankAssignment struct {
	Address string
	Rank    int64
}

// LeaderboardEntry is one row of a leaderboard page
type LeaderboardEntry struct {
	Address           string  `json:"address"`
	Rank              *int64  `json:"rank"`
	Score             int64   `json:"score"`
	TotalTxs          int64   `json:"totalTxs"`
	GasSpentEth       float64 `json:"gasSpentEth"`
	ContractsDeployed int64   `json:"contractsDeployed"`
	DaysActive        int64   `json:"daysActive"`
	LastUpdated       int64   `json:"lastUpdated"`
}

// ScoreHistoryPoint is one aggregation result appended to the history sink
type ScoreHistoryPoint struct {
	Address     string  `json:"address"`
	Score       int64   `json:"score"`
	TotalTxs    int64   `json:"totalTxs"`
	GasSpentEth float64 `json:"gasSpentEth"`
	DaysActive  int64   `json:"daysActive"`
	ComputedAt  int64   `json:"computedAt"`
}

// LeaderboardPage is one window of the ranked population
type LeaderboardPage struct {
	Entries    []LeaderboardEntry `json:"entries"`
	TotalCount int64              `json:"totalCount"`
	Limit      int                `json:"limit"`
	Offset     int                `json:"offset"`
}

// UserMetricsResponse is the read model for one address
type UserMetricsResponse struct {
	Address       string             `json:"address"`
	Metrics       UserMetrics        `json:"metrics"`
	BaseScore     int64              `json:"baseScore"`
	EnhancedScore int64              `json:"enhancedScore"`
	Rank          *int64             `json:"rank"`
	Multipliers   Multipliers        `json:"multipliers"`
	Bonus         *ExternalBonusData `json:"bonus,omitempty"`
	LastUpdated   int64              `json:"lastUpdated"`
	Stale         bool               `json:"stale"`
}

// ScoreBreakdownResponse pairs a breakdown with the persisted base score
type ScoreBreakdownResponse struct {
	Address       string         `json:"address"`
	Breakdown     ScoreBreakdown `json:"breakdown"`
	BaseScore     int64          `json:"baseScore"`
	EnhancedScore int64          `json:"enhancedScore"`
	Rank          *int64         `json:"rank"`
	LastUpdated   int64          `json:"lastUpdated"`
}
