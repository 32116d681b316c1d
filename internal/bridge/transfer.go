package bridge

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mbd888/chainwatch/internal/chains"
	"github.com/mbd888/chainwatch/internal/transactions"
)

var ErrNotFound = errors.New("bridge: transfer not found")

// Status is a transfer's lifecycle state:
// initiated → pending → completed | failed.
type Status string

const (
	StatusInitiated Status = "initiated"
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Terminal reports whether no further transitions are possible.
func (s Status) Terminal() bool { return s == StatusCompleted || s == StatusFailed }

// Transfer is one detected bridge-originating transaction.
type Transfer struct {
	SourceChain        chains.ID           `json:"sourceChain"`
	SourceTxHash       string              `json:"sourceTxHash"`
	DestinationChain   chains.ID           `json:"destinationChain,omitempty"` // empty when unknown
	DestinationTxHash  string              `json:"destinationTxHash,omitempty"`
	Protocol           string              `json:"protocol"`
	SourceAddress      string              `json:"sourceAddress"`
	DestinationAddress string              `json:"destinationAddress,omitempty"`
	TokenSymbol        string              `json:"tokenSymbol"`
	Amount             decimal.Decimal     `json:"amount"`
	AmountUSD          decimal.NullDecimal `json:"amountUsd"`
	Status             Status              `json:"status"`
	RiskScore          int                 `json:"riskScore"`
	InitiatedAt        time.Time           `json:"initiatedAt"`
	UpdatedAt          time.Time           `json:"updatedAt"`
}

// DestinationKnown reports whether the destination chain has been determined.
func (t *Transfer) DestinationKnown() bool { return t.DestinationChain != "" }

// Key is the (source chain, source hash) identity.
func (t *Transfer) Key() string { return transactions.Key(t.SourceChain, t.SourceTxHash) }

// Store persists bridge transfers keyed by (source chain, source hash).
type Store interface {
	// Upsert inserts or updates a transfer. A terminal status already stored
	// is never overwritten by a non-terminal one.
	Upsert(ctx context.Context, t *Transfer) error
	Get(ctx context.Context, chain chains.ID, hash string) (*Transfer, error)
	// ListBySources returns transfers whose source address is one of refs,
	// oldest first.
	ListBySources(ctx context.Context, refs []transactions.Ref) ([]*Transfer, error)
	// DestinationUsed reports whether some transfer already claimed the
	// destination transaction.
	DestinationUsed(ctx context.Context, chain chains.ID, hash string) (bool, error)
	DeleteBySources(ctx context.Context, refs []transactions.Ref) (int, error)
}

// ScoreConfig holds the bridge-transfer risk weights.
type ScoreConfig struct {
	Base               int
	LargeAmount        decimal.Decimal
	LargeWeight        int
	VeryLargeAmount    decimal.Decimal
	VeryLargeWeight    int
	UnknownDestWeight  int
	UncommonWeight     int
	UnknownProtoWeight int
	CommonRoutes       []Route
}

// DefaultScoreConfig returns the standard weights.
func DefaultScoreConfig() ScoreConfig {
	return ScoreConfig{
		Base:               20,
		LargeAmount:        decimal.NewFromInt(10_000),
		LargeWeight:        15,
		VeryLargeAmount:    decimal.NewFromInt(100_000),
		VeryLargeWeight:    30,
		UnknownDestWeight:  10,
		UncommonWeight:     20,
		UnknownProtoWeight: 25,
		CommonRoutes:       DefaultCommonRoutes(),
	}
}

// IsCommonRoute reports whether from→to is in the allow-list.
func (c ScoreConfig) IsCommonRoute(from, to chains.ID) bool {
	for _, r := range c.CommonRoutes {
		if r.From == from && r.To == to {
			return true
		}
	}
	return false
}

// ScoredAmount is the amount the thresholds are compared against: the USD
// value when priced, the token amount otherwise.
func (t *Transfer) ScoredAmount() decimal.Decimal {
	if t.AmountUSD.Valid {
		return t.AmountUSD.Decimal
	}
	return t.Amount
}

// ScoreTransfer computes a transfer's bridge-specific risk in [0,100].
// known decides whether the protocol name is recognized.
func ScoreTransfer(cfg ScoreConfig, t *Transfer, known func(string) bool) int {
	score := cfg.Base

	amount := t.ScoredAmount()
	switch {
	case amount.GreaterThan(cfg.VeryLargeAmount):
		score += cfg.VeryLargeWeight
	case amount.GreaterThan(cfg.LargeAmount):
		score += cfg.LargeWeight
	}

	if !t.DestinationKnown() {
		score += cfg.UnknownDestWeight
	} else if !cfg.IsCommonRoute(t.SourceChain, t.DestinationChain) {
		score += cfg.UncommonWeight
	}

	if known == nil || !known(t.Protocol) {
		score += cfg.UnknownProtoWeight
	}
	return clamp(score)
}

func clamp(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
