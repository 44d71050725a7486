package scoring

import (
	"math"
	"time"

	"github.com/shopspring/decimal"

	"github.com/activity-scorer/internal/types"
)

// Multiplier names reported in breakdowns
const (
	MultiplierOG          = "og"
	MultiplierBuilder     = "builder"
	MultiplierPowerUser   = "power_user"
	MultiplierDomain      = "mega_domain"
	MultiplierFarcaster   = "farcaster"
	MultiplierFeaturedNFT = "featured_nft"
	MultiplierNativeNFT   = "native_nft"
)

// Weights are the per-unit contributions to base points
type Weights struct {
	Tx     float64
	Gas    float64
	Deploy float64
	Days   float64
	Age    float64
}

// Factors are the multiplicative bonuses applied when a flag is set
type Factors struct {
	OG          float64
	Builder     float64
	PowerUser   float64
	Domain      float64
	Farcaster   float64
	FeaturedNFT float64
	NativeNFT   float64
}

// EngineConfig holds every tunable constant of the scoring formula
type EngineConfig struct {
	Weights            Weights
	Factors            Factors
	NetworkLaunchEpoch int64   // first tx at or before this unix time earns the OG bonus
	PowerUserThreshold float64 // tx per day of age
	Now                func() time.Time
}

// DefaultEngineConfig returns the reference weights and factors
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		Weights: Weights{Tx: 0.5, Gas: 100, Deploy: 50, Days: 10, Age: 2},
		Factors: Factors{
			OG:          1.5,
			Builder:     1.2,
			PowerUser:   1.3,
			Domain:      1.1,
			Farcaster:   1.1,
			FeaturedNFT: 1.25,
			NativeNFT:   1.1,
		},
		NetworkLaunchEpoch: 1739491200,
		PowerUserThreshold: 50,
	}
}

// Engine computes scores. All methods are pure given the injected clock.
// Arithmetic runs on decimals so that flooring is exact for decimal inputs.
type Engine struct {
	cfg EngineConfig
	now func() time.Time
}

// NewEngine creates a scoring engine
func NewEngine(cfg EngineConfig) *Engine {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Engine{cfg: cfg, now: now}
}

// AgeDays returns whole days since the first transaction, never less than 1
func (e *Engine) AgeDays(m types.UserMetrics) int64 {
	age := (e.now().Unix() - m.FirstTxTimestamp) / secondsPerDay
	if age < 1 {
		return 1
	}
	return age
}

type contributions struct {
	txs, gas, deploy, days, age decimal.Decimal
}

func (c contributions) sum() decimal.Decimal {
	return c.txs.Add(c.gas).Add(c.deploy).Add(c.days).Add(c.age)
}

func (e *Engine) contributions(m types.UserMetrics) contributions {
	w := e.cfg.Weights
	return contributions{
		txs:    decimal.NewFromInt(nonNegative(m.TotalTxs)).Mul(decimal.NewFromFloat(w.Tx)),
		gas:    decimal.NewFromFloat(nonNegativeFloat(m.GasSpentEth)).Mul(decimal.NewFromFloat(w.Gas)),
		deploy: decimal.NewFromInt(nonNegative(m.ContractsDeployed)).Mul(decimal.NewFromFloat(w.Deploy)),
		days:   decimal.NewFromInt(nonNegative(m.DaysActive)).Mul(decimal.NewFromFloat(w.Days)),
		age:    decimal.NewFromInt(e.AgeDays(m)).Mul(decimal.NewFromFloat(w.Age)),
	}
}

// CalculateBasePoints returns the weighted sum before multipliers
func (e *Engine) CalculateBasePoints(m types.UserMetrics) float64 {
	return e.contributions(m).sum().InexactFloat64()
}

// GetMultipliers derives bonus flags. External flags are only set when bonus is non-nil.
func (e *Engine) GetMultipliers(m types.UserMetrics, bonus *types.ExternalBonusData) types.Multipliers {
	mult := types.Multipliers{
		OGBonus:      m.TotalTxs > 0 && m.FirstTxTimestamp <= e.cfg.NetworkLaunchEpoch,
		BuilderBonus: m.ContractsDeployed > 0,
	}

	txPerDay := float64(nonNegative(m.TotalTxs)) / float64(e.AgeDays(m))
	mult.PowerUserBonus = txPerDay > e.cfg.PowerUserThreshold

	if bonus != nil {
		mult.HasMegaDomain = bonus.HasMegaDomain
		mult.HasFarcaster = bonus.HasFarcaster
		mult.HoldsFeaturedNFT = bonus.HoldsFeaturedNFT
		mult.HoldsAnyNFT = bonus.HoldsAnyNFT
	}
	return mult
}

// AppliedMultipliers lists the active factors in a fixed order. The native
// NFT factor is skipped when the featured NFT factor applies.
func (e *Engine) AppliedMultipliers(mult types.Multipliers) []types.AppliedMultiplier {
	f := e.cfg.Factors
	applied := make([]types.AppliedMultiplier, 0, 7)
	add := func(on bool, name string, factor float64) {
		if on {
			applied = append(applied, types.AppliedMultiplier{Name: name, Factor: factor})
		}
	}

	add(mult.OGBonus, MultiplierOG, f.OG)
	add(mult.BuilderBonus, MultiplierBuilder, f.Builder)
	add(mult.PowerUserBonus, MultiplierPowerUser, f.PowerUser)
	add(mult.HasMegaDomain, MultiplierDomain, f.Domain)
	add(mult.HasFarcaster, MultiplierFarcaster, f.Farcaster)
	add(mult.HoldsFeaturedNFT, MultiplierFeaturedNFT, f.FeaturedNFT)
	add(mult.HoldsAnyNFT && !mult.HoldsFeaturedNFT, MultiplierNativeNFT, f.NativeNFT)
	return applied
}

func (e *Engine) multiplierValue(mult types.Multipliers) decimal.Decimal {
	value := decimal.NewFromInt(1)
	for _, m := range e.AppliedMultipliers(mult) {
		value = value.Mul(decimal.NewFromFloat(m.Factor))
	}
	return value
}

// GetMultiplierValue returns the product of active factors, 1 when none apply
func (e *Engine) GetMultiplierValue(mult types.Multipliers) float64 {
	return e.multiplierValue(mult).InexactFloat64()
}

// CalculateScore returns floor(base * multiplier). With a nil bonus this is the
// persisted base score; with bonus data it is the enhanced score.
func (e *Engine) CalculateScore(m types.UserMetrics, bonus *types.ExternalBonusData) int64 {
	return e.score(e.contributions(m).sum(), e.GetMultipliers(m, bonus))
}

// ScoreWithMultipliers applies explicit flags to the metrics' base points
func (e *Engine) ScoreWithMultipliers(m types.UserMetrics, mult types.Multipliers) int64 {
	return e.score(e.contributions(m).sum(), mult)
}

func (e *Engine) score(base decimal.Decimal, mult types.Multipliers) int64 {
	score := base.Mul(e.multiplierValue(mult)).Floor()
	if score.IsNegative() {
		return 0
	}
	return score.IntPart()
}

// GetScoreBreakdown decomposes CalculateScore into named contributions
func (e *Engine) GetScoreBreakdown(m types.UserMetrics, bonus *types.ExternalBonusData) types.ScoreBreakdown {
	c := e.contributions(m)
	mult := e.GetMultipliers(m, bonus)
	base := c.sum()

	return types.ScoreBreakdown{
		FromTxs:         c.txs.InexactFloat64(),
		FromGas:         c.gas.InexactFloat64(),
		FromDeployments: c.deploy.InexactFloat64(),
		FromDaysActive:  c.days.InexactFloat64(),
		FromAge:         c.age.InexactFloat64(),
		AgeDays:         e.AgeDays(m),
		BasePoints:      base.InexactFloat64(),
		Multipliers:     e.AppliedMultipliers(mult),
		MultiplierValue: e.GetMultiplierValue(mult),
		Score:           e.score(base, mult),
	}
}

func nonNegative(v int64) int64 {
	if v < 0 {
		return 0
	}
	return v
}

func nonNegativeFloat(v float64) float64 {
	if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}
