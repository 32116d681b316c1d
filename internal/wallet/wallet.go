// Package wallet manages tracked wallets: a logical identity that owns one
// or more addresses across chains.
package wallet

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mbd888/chainwatch/internal/chains"
	"github.com/mbd888/chainwatch/internal/transactions"
)

// -----------------------------------------------------------------------------
// Errors - typed errors for programmatic handling
// -----------------------------------------------------------------------------

var (
	ErrNotFound         = errors.New("wallet: not found")
	ErrNoAddresses      = errors.New("wallet: at least one address is required")
	ErrDuplicateAddress = errors.New("wallet: address already tracked by this wallet")
)

// AddressError wraps a rejected address with the chain it was given for.
type AddressError struct {
	Chain   chains.ID
	Address string
	Err     error
}

func (e *AddressError) Error() string {
	return fmt.Sprintf("wallet: %s address %q: %v", e.Chain, e.Address, e.Err)
}

func (e *AddressError) Unwrap() error { return e.Err }

// -----------------------------------------------------------------------------
// Model
// -----------------------------------------------------------------------------

// Wallet is a tracked wallet. Addresses are stored normalized; the first one
// added is the primary address.
type Wallet struct {
	ID             string             `json:"id"`
	Label          string             `json:"label"`
	Tags           []string           `json:"tags"`
	PrimaryChain   chains.ID          `json:"primaryChain"`
	PrimaryAddress string             `json:"primaryAddress"`
	Addresses      []transactions.Ref `json:"addresses"`

	TotalUSD         decimal.Decimal `json:"totalUsd"`
	BalanceUpdatedAt *time.Time      `json:"balanceUpdatedAt,omitempty"`
	RiskScore        *float64        `json:"riskScore,omitempty"`
	RiskLevel        string          `json:"riskLevel,omitempty"`
	LastAnalyzedAt   *time.Time      `json:"lastAnalyzedAt,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Refs returns a copy of the wallet's addresses.
func (w *Wallet) Refs() []transactions.Ref {
	return append([]transactions.Ref(nil), w.Addresses...)
}

// RefsOn returns the wallet's addresses on one chain.
func (w *Wallet) RefsOn(chain chains.ID) []transactions.Ref {
	var out []transactions.Ref
	for _, r := range w.Addresses {
		if r.Chain == chain {
			out = append(out, r)
		}
	}
	return out
}

// Has reports whether the wallet already tracks ref.
func (w *Wallet) Has(ref transactions.Ref) bool {
	for _, r := range w.Addresses {
		if r == ref {
			return true
		}
	}
	return false
}

func (w *Wallet) clone() *Wallet {
	cp := *w
	cp.Tags = append([]string(nil), w.Tags...)
	cp.Addresses = append([]transactions.Ref(nil), w.Addresses...)
	if w.RiskScore != nil {
		s := *w.RiskScore
		cp.RiskScore = &s
	}
	return &cp
}

// -----------------------------------------------------------------------------
// Store
// -----------------------------------------------------------------------------

// Store persists wallets and their addresses.
type Store interface {
	Create(ctx context.Context, w *Wallet) error
	Get(ctx context.Context, id string) (*Wallet, error)
	// List returns wallets oldest first.
	List(ctx context.Context, limit, offset int) ([]*Wallet, error)
	Count(ctx context.Context) (int, error)
	AddAddress(ctx context.Context, id string, ref transactions.Ref, at time.Time) error
	// FindByAddress returns the ids of wallets tracking ref.
	FindByAddress(ctx context.Context, ref transactions.Ref) ([]string, error)
	UpdateBalance(ctx context.Context, id string, totalUSD decimal.Decimal, at time.Time) error
	UpdateRisk(ctx context.Context, id string, score float64, level string, at time.Time) error
	Delete(ctx context.Context, id string) error
}
