// Package transactions stores the canonical, chain-agnostic transaction
// record produced by ingestion. One record exists per (chain, hash).
package transactions

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mbd888/chainwatch/internal/chains"
)

var ErrNotFound = errors.New("transactions: not found")

// Unknown is used for sender/receiver when no balance movement could be
// attributed on instruction-model chains.
const Unknown = "unknown"

// Status is the execution outcome of a transaction.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
)

// TokenTransfer is one fungible-token movement inside a transaction.
type TokenTransfer struct {
	Token    string          `json:"token"` // contract (account-model) or mint (instruction-model)
	Symbol   string          `json:"symbol,omitempty"`
	From     string          `json:"from"`
	To       string          `json:"to"`
	Amount   decimal.Decimal `json:"amount"` // token units when Decimals is known, raw otherwise
	Decimals int32           `json:"decimals"`
}

// Transaction is the canonical record.
type Transaction struct {
	Chain          chains.ID       `json:"chain"`
	Hash           string          `json:"hash"`
	Block          uint64          `json:"block"`
	Timestamp      time.Time       `json:"timestamp"`
	From           string          `json:"from"`
	To             string          `json:"to"`
	Value          decimal.Decimal `json:"value"` // native units
	Status         Status          `json:"status"`
	Touched        []string        `json:"touchedAddresses"`
	TokenTransfers []TokenTransfer `json:"tokenTransfers,omitempty"`
	IsBridge       bool            `json:"isBridge"`
	BridgeProtocol string          `json:"bridgeProtocol,omitempty"`
	RiskScore      int             `json:"riskScore"`
	IngestedAt     time.Time       `json:"ingestedAt"`
}

// Key is the global uniqueness key of a transaction.
func (t *Transaction) Key() string { return Key(t.Chain, t.Hash) }

// Key builds the (chain, hash) key.
func Key(chain chains.ID, hash string) string { return string(chain) + ":" + hash }

// Failed reports whether the transaction reverted.
func (t *Transaction) Failed() bool { return t.Status == StatusFailed }

// Involves reports whether addr is among the touched addresses.
func (t *Transaction) Involves(addr string) bool {
	for _, a := range t.Touched {
		if strings.EqualFold(a, addr) {
			return true
		}
	}
	return false
}

// AddressKey is the form addresses are stored and matched in. Hex
// account-model addresses compare case-insensitively, so they are lowercased;
// base58 addresses never start with "0x" and are kept exactly.
func AddressKey(addr string) string {
	if strings.HasPrefix(addr, "0x") || strings.HasPrefix(addr, "0X") {
		return strings.ToLower(addr)
	}
	return addr
}

// Counterparty returns the other side of the transfer relative to addr, or ""
// when it cannot be determined.
func (t *Transaction) Counterparty(addr string) string {
	switch {
	case strings.EqualFold(t.From, addr):
		if t.To != Unknown {
			return t.To
		}
	case strings.EqualFold(t.To, addr):
		if t.From != Unknown {
			return t.From
		}
	}
	return ""
}

// Ref names one address on one chain.
type Ref struct {
	Chain   chains.ID `json:"chain"`
	Address string    `json:"address"`
}

// Store persists canonical transactions. Writes are upserts by (chain, hash)
// so concurrent syncs of the same wallet are idempotent.
type Store interface {
	// Insert stores txs that are not yet present and returns how many were new.
	Insert(ctx context.Context, txs []*Transaction) (int, error)
	// Hashes returns the stored hashes on chain that touch address.
	Hashes(ctx context.Context, chain chains.ID, address string) (map[string]struct{}, error)
	Get(ctx context.Context, chain chains.ID, hash string) (*Transaction, error)
	// ListByAddress returns transactions touching address, newest first.
	ListByAddress(ctx context.Context, chain chains.ID, address string, limit int) ([]*Transaction, error)
	// ListInbound returns bridge-classified transactions on chain received by
	// address at or after since.
	ListInbound(ctx context.Context, chain chains.ID, address string, since time.Time) ([]*Transaction, error)
	UpdateRiskScore(ctx context.Context, chain chains.ID, hash string, score int) error
	// DeleteByRefs removes every transaction touching any of refs.
	DeleteByRefs(ctx context.Context, refs []Ref) (int, error)
}
