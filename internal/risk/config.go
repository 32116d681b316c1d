package risk

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/mbd888/chainwatch/internal/bridge"
	"github.com/mbd888/chainwatch/internal/chains"
)

// Tier awards Points when a metric is strictly above Above. Tier lists are
// ordered from the highest threshold down; the first match wins.
type Tier struct {
	Above  float64
	Points int
}

// AgeTier penalizes a wallet younger than MaxAge with more than MinTxs
// transactions.
type AgeTier struct {
	MaxAge time.Duration
	MinTxs int
	Points int
}

// TxWeights scores a single transaction at ingestion time.
type TxWeights struct {
	Failed       int
	LargeValue   int
	Bridge       int
	ManyTouched  int // more than TouchedLimit addresses
	TouchedLimit int
	ManyTokens   int // more than TokenLimit token transfers
	TokenLimit   int
	UnknownParty int
}

// ChainWeights scores one chain's history.
type ChainWeights struct {
	Count24h       []Tier
	FailedRatio    []Tier
	LargeCount     []Tier
	BridgeRatio    []Tier
	Counterparties []Tier
	YoungWallet    []AgeTier
	MeanTxRisk     float64 // multiplier on the mean stored transaction risk
}

// BridgeWeights scores the wallet's bridge transfers.
type BridgeWeights struct {
	Count24h        []Tier
	RoundTripWindow time.Duration
	RoundTrip       int
	LargeUncommon   int
	Failed          []Tier
	Unresolved      int // any transfer still pending or with unknown destination
	RapidWindow     time.Duration
	RapidCount      int
	Rapid           int
}

// ReuseWeights scores address reuse across account-model chains.
type ReuseWeights struct {
	Points     int
	Confidence int
}

// TimingWeights scores correlations across the merged history. A metric
// fires when its count reaches the Min value.
type TimingWeights struct {
	PairWindow  time.Duration
	PairMin     int
	Pair        int
	SyncWindow  time.Duration
	SyncOthers  int
	SyncMin     int
	Sync        int
	BurstWindow time.Duration
	BurstSize   int
	BurstMin    int
	Burst       int
}

// CompositeWeights combine the sub-scores.
type CompositeWeights struct {
	Chain  float64
	Bridge float64
	Reuse  float64
	Timing float64
}

// Breakpoints map a composite score to a level; each is inclusive.
type Breakpoints struct {
	Critical float64
	High     float64
	Medium   float64
	Low      float64
}

// Config holds every weight, threshold and tier used in scoring.
type Config struct {
	// LargeValue is the native-unit threshold at or above which a
	// transaction counts as large. LargeValueByChain overrides it per chain.
	LargeValue        decimal.Decimal
	LargeValueByChain map[chains.ID]decimal.Decimal

	Tx        TxWeights
	Chain     ChainWeights
	Bridge    BridgeWeights
	Reuse     ReuseWeights
	Timing    TimingWeights
	Composite CompositeWeights
	Levels    Breakpoints
	Transfer  bridge.ScoreConfig
}

// DefaultConfig returns the standard scoring configuration.
func DefaultConfig() Config {
	return Config{
		LargeValue: decimal.NewFromInt(10),
		LargeValueByChain: map[chains.ID]decimal.Decimal{
			chains.Polygon:   decimal.NewFromInt(20_000),
			chains.BSC:       decimal.NewFromInt(20),
			chains.Avalanche: decimal.NewFromInt(400),
			chains.Solana:    decimal.NewFromInt(100),
		},
		Tx: TxWeights{
			Failed:       20,
			LargeValue:   25,
			Bridge:       15,
			ManyTouched:  10,
			TouchedLimit: 5,
			ManyTokens:   10,
			TokenLimit:   3,
			UnknownParty: 5,
		},
		Chain: ChainWeights{
			Count24h:       []Tier{{100, 30}, {50, 20}, {20, 10}},
			FailedRatio:    []Tier{{0.5, 25}, {0.2, 15}, {0.1, 5}},
			LargeCount:     []Tier{{10, 20}, {5, 10}, {0, 5}},
			BridgeRatio:    []Tier{{0.5, 20}, {0.2, 10}},
			Counterparties: []Tier{{1000, 25}, {500, 15}, {100, 5}},
			YoungWallet: []AgeTier{
				{MaxAge: 7 * 24 * time.Hour, MinTxs: 100, Points: 20},
				{MaxAge: 30 * 24 * time.Hour, MinTxs: 500, Points: 10},
			},
			MeanTxRisk: 0.3,
		},
		Bridge: BridgeWeights{
			Count24h:        []Tier{{10, 30}, {5, 20}, {2, 10}},
			RoundTripWindow: 24 * time.Hour,
			RoundTrip:       25,
			LargeUncommon:   20,
			Failed:          []Tier{{3, 20}, {0, 10}},
			Unresolved:      5,
			RapidWindow:     time.Hour,
			RapidCount:      3,
			Rapid:           20,
		},
		Reuse: ReuseWeights{Points: 40, Confidence: 95},
		Timing: TimingWeights{
			PairWindow:  5 * time.Minute,
			PairMin:     3,
			Pair:        30,
			SyncWindow:  10 * time.Minute,
			SyncOthers:  2,
			SyncMin:     3,
			Sync:        30,
			BurstWindow: time.Hour,
			BurstSize:   10,
			BurstMin:    1,
			Burst:       25,
		},
		Composite: CompositeWeights{Chain: 0.40, Bridge: 0.30, Reuse: 0.15, Timing: 0.15},
		Levels:    Breakpoints{Critical: 80, High: 60, Medium: 40, Low: 20},
		Transfer:  bridge.DefaultScoreConfig(),
	}
}

// LargeValueFor returns the large-value threshold of a chain.
func (c Config) LargeValueFor(chain chains.ID) decimal.Decimal {
	if v, ok := c.LargeValueByChain[chain]; ok {
		return v
	}
	return c.LargeValue
}

// IsLarge reports whether value reaches the chain's large-value threshold.
func (c Config) IsLarge(chain chains.ID, value decimal.Decimal) bool {
	return value.GreaterThanOrEqual(c.LargeValueFor(chain))
}

// LevelFor maps a composite score to its level.
func (c Config) LevelFor(score float64) Level {
	switch {
	case score >= c.Levels.Critical:
		return LevelCritical
	case score >= c.Levels.High:
		return LevelHigh
	case score >= c.Levels.Medium:
		return LevelMedium
	case score >= c.Levels.Low:
		return LevelLow
	default:
		return LevelVeryLow
	}
}

func tierPoints(tiers []Tier, v float64) int {
	for _, t := range tiers {
		if v > t.Above {
			return t.Points
		}
	}
	return 0
}
