// Package balance reads native and token balances of a wallet's addresses
// across chains and values them in USD. The result is a per-wallet snapshot
// that is overwritten on every refresh; it is a cache, not a ledger.
package balance

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mbd888/chainwatch/internal/chains"
)

var ErrNotFound = errors.New("balance: snapshot not found")

// TokenBalance is one fungible-token position. Token is the contract or mint.
// An unknown token has no symbol and is valued at zero.
type TokenBalance struct {
	Token    string          `json:"token"`
	Symbol   string          `json:"symbol,omitempty"`
	Amount   decimal.Decimal `json:"amount"`
	PriceUSD decimal.Decimal `json:"priceUsd"`
	ValueUSD decimal.Decimal `json:"valueUsd"`
}

// ChainBalance is the position of one address on one chain. A stale entry
// could not be re-read on the latest refresh; its amounts are those read at
// ReadAt, valued at current prices.
type ChainBalance struct {
	Chain        chains.ID       `json:"chain"`
	Address      string          `json:"address"`
	NativeSymbol string          `json:"nativeSymbol"`
	Native       decimal.Decimal `json:"native"`
	NativePrice  decimal.Decimal `json:"nativePriceUsd"`
	NativeUSD    decimal.Decimal `json:"nativeUsd"`
	Tokens       []TokenBalance  `json:"tokens,omitempty"`
	TotalUSD     decimal.Decimal `json:"totalUsd"`
	ReadAt       time.Time       `json:"readAt"`
	Stale        bool            `json:"stale,omitempty"`
}

// Snapshot is the latest balance read of a wallet. Skipped lists the refs
// that failed on the last refresh; a non-empty list means TotalUSD is not
// fully current.
type Snapshot struct {
	WalletID    string          `json:"walletId"`
	Chains      []ChainBalance  `json:"chains"`
	TotalUSD    decimal.Decimal `json:"totalUsd"`
	Skipped     []Skip          `json:"skipped,omitempty"`
	RefreshedAt time.Time       `json:"refreshedAt"`
}

// Partial reports whether any ref could not be read on the last refresh.
func (s *Snapshot) Partial() bool { return len(s.Skipped) > 0 }

// Skip records a chain whose balance could not be read.
type Skip struct {
	Chain   chains.ID `json:"chain"`
	Address string    `json:"address"`
	Reason  string    `json:"reason"`
}

// Report is the partial-success result of a refresh. A skipped ref keeps its
// previous position in the snapshot, marked stale, when one exists.
type Report struct {
	Snapshot *Snapshot `json:"snapshot"`
	Skipped  []Skip    `json:"skipped,omitempty"`
	// Unpriced lists symbols the price source could not answer; they count as zero.
	Unpriced []string `json:"unpriced,omitempty"`
}

// Store keeps one snapshot per wallet.
type Store interface {
	Save(ctx context.Context, s *Snapshot) error
	Get(ctx context.Context, walletID string) (*Snapshot, error)
	Delete(ctx context.Context, walletID string) error
}
