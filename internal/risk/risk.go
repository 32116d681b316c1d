// Package risk computes a wallet's composite cross-chain risk score.
//
// Four sub-scores feed the composite: per-chain transaction behavior,
// bridge activity, address reuse across account-model chains, and timing
// correlation across the merged history. Every sub-score and the composite
// range from 0 (benign) to 100. Analysis is a pure function of the stored
// data and an explicit "now"; the same inputs always yield the same
// assessment.
package risk

import (
	"context"
	"errors"
	"time"

	"github.com/mbd888/chainwatch/internal/chains"
)

var ErrNotFound = errors.New("risk: assessment not found")

// Level is the discrete bucket of a composite score.
type Level string

const (
	LevelVeryLow  Level = "very-low"
	LevelLow      Level = "low"
	LevelMedium   Level = "medium"
	LevelHigh     Level = "high"
	LevelCritical Level = "critical"
)

// Elevated reports whether the level warrants an alert.
func (l Level) Elevated() bool { return l == LevelHigh || l == LevelCritical }

// ChainRisk is the per-chain breakdown.
type ChainRisk struct {
	Chain            chains.ID  `json:"chain"`
	Score            float64    `json:"score"`
	Factors          []string   `json:"factors"`
	TransactionCount int        `json:"transactionCount"`
	LastActivity     *time.Time `json:"lastActivity,omitempty"`
}

// SubScores are the four inputs of the composite.
type SubScores struct {
	Chain  float64 `json:"chain"` // transaction-count-weighted mean of ChainRisk scores
	Bridge float64 `json:"bridge"`
	Reuse  float64 `json:"addressReuse"`
	Timing float64 `json:"timing"`
}

// Connection links two chains of the same wallet.
type Connection struct {
	Kind       string    `json:"kind"`
	ChainA     chains.ID `json:"chainA"`
	ChainB     chains.ID `json:"chainB"`
	Address    string    `json:"address"`
	Confidence int       `json:"confidence"`
}

// Pattern is a cross-chain behavior that fired.
type Pattern struct {
	Kind        string `json:"kind"`
	Description string `json:"description"`
	Count       int    `json:"count"`
}

// Pattern kinds.
const (
	PatternRoundTrip       = "round-trip-bridging"
	PatternRapidBridging   = "rapid-bridging"
	PatternAddressReuse    = "address-reuse"
	PatternRapidCrossChain = "rapid-cross-chain"
	PatternSynchronized    = "synchronized-activity"
	PatternBurst           = "burst-activity"
)

// Skip records a chain whose data could not be read for this run.
type Skip struct {
	Chain  chains.ID `json:"chain"`
	Reason string    `json:"reason"`
}

// Assessment is the stored result, one per wallet, overwritten each run.
type Assessment struct {
	WalletID        string       `json:"walletId"`
	Score           float64      `json:"overallScore"`
	Level           Level        `json:"level"`
	SubScores       SubScores    `json:"subScores"`
	Chains          []ChainRisk  `json:"chains"`
	BridgeFactors   []string     `json:"bridgeFactors"`
	TimingFactors   []string     `json:"timingFactors"`
	Connections     []Connection `json:"connections"`
	Patterns        []Pattern    `json:"patterns"`
	Recommendations []string     `json:"recommendations"`
	Skipped         []Skip       `json:"skipped,omitempty"`
	AssessedAt      time.Time    `json:"assessedAt"`
}

// HasPattern reports whether a pattern of the given kind fired.
func (a *Assessment) HasPattern(kind string) bool {
	for _, p := range a.Patterns {
		if p.Kind == kind {
			return true
		}
	}
	return false
}

// Store persists the latest assessment per wallet.
type Store interface {
	Save(ctx context.Context, a *Assessment) error
	Get(ctx context.Context, walletID string) (*Assessment, error)
	// ListHighRisk returns assessments scoring at least minScore, highest
	// first, ties by wallet id.
	ListHighRisk(ctx context.Context, minScore float64, limit int) ([]*Assessment, error)
	Delete(ctx context.Context, walletID string) error
}
