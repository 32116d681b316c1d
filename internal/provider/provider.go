// Package provider owns the network clients used to read chain state. Each
// chain family gets a narrow client interface so parsers and aggregators can
// be tested against fakes; the Pool constructs, caches, health-checks and
// fails over the real clients.
package provider

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/core/types"

	"github.com/mbd888/chainwatch/internal/chains"
)

// -----------------------------------------------------------------------------
// Errors
// -----------------------------------------------------------------------------

var (
	// ErrProviderUnavailable means the primary and every fallback endpoint of a
	// chain failed. Callers skip the chain for the current operation.
	ErrProviderUnavailable = errors.New("provider: unavailable")
	// ErrCircuitOpen is returned while a chain's breaker is rejecting calls.
	ErrCircuitOpen = errors.New("provider: circuit open")
	// ErrWrongFamily is returned when a client of one family is requested for
	// a chain of the other.
	ErrWrongFamily = errors.New("provider: wrong chain family")
	// ErrTxNotFound is returned when a transaction is unknown to the node.
	ErrTxNotFound = errors.New("provider: transaction not found")
)

// UnavailableError tags ErrProviderUnavailable with the chain and last cause.
type UnavailableError struct {
	Chain chains.ID
	Err   error
}

func (e *UnavailableError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("provider: %s unavailable", e.Chain)
	}
	return fmt.Sprintf("provider: %s unavailable: %v", e.Chain, e.Err)
}

func (e *UnavailableError) Unwrap() []error { return []error{ErrProviderUnavailable, e.Err} }

// -----------------------------------------------------------------------------
// Client interfaces
// -----------------------------------------------------------------------------

// Client is what every chain client can do.
type Client interface {
	// Height returns the latest block number or slot. It is the cheap read
	// used for health probes.
	Height(ctx context.Context) (uint64, error)
	Close()
}

// AccountClient reads account-model chains.
type AccountClient interface {
	Client
	NativeBalance(ctx context.Context, addr string) (*big.Int, error)
	TokenBalance(ctx context.Context, token, owner string) (*big.Int, error)
	// TransactionHashes returns up to limit hashes involving addr, most recent first.
	TransactionHashes(ctx context.Context, addr string, limit int) ([]string, error)
	Transaction(ctx context.Context, hash string) (*AccountTx, error)
}

// InstructionClient reads instruction-model chains.
type InstructionClient interface {
	Client
	NativeBalance(ctx context.Context, addr string) (*big.Int, error)
	TokenBalances(ctx context.Context, owner string) ([]TokenHolding, error)
	// Signatures returns up to limit signatures involving addr, most recent first.
	Signatures(ctx context.Context, addr string, limit int) ([]string, error)
	Transaction(ctx context.Context, sig string) (*InstructionTx, error)
}

// -----------------------------------------------------------------------------
// Chain-native shapes handed to the parsers
// -----------------------------------------------------------------------------

// AccountTx is an account-model transaction joined with its receipt.
type AccountTx struct {
	Hash      string
	Block     uint64
	Timestamp time.Time
	From      string
	To        string // empty for contract creation
	Value     *big.Int
	Success   bool
	Logs      []*types.Log
}

// InstructionTx is an instruction-model transaction with its balance metadata.
// AccountKeys are in message order, followed by any loaded lookup-table keys,
// so the indices line up with PreBalances/PostBalances.
type InstructionTx struct {
	Signature    string
	Slot         uint64
	BlockTime    time.Time
	Failed       bool
	AccountKeys  []string
	PreBalances  []uint64
	PostBalances []uint64
	ProgramIDs   []string
	PreTokens    []TokenBalanceChange
	PostTokens   []TokenBalanceChange
}

// TokenBalanceChange is one token account balance recorded in transaction
// metadata, before or after execution.
type TokenBalanceChange struct {
	AccountIndex int
	Owner        string
	Mint         string
	Amount       *big.Int
	Decimals     int32
}

// TokenHolding is one token account owned by an address.
type TokenHolding struct {
	Account string
	Mint    string
	Amount  *big.Int
}

// Health is the result of a height probe.
type Health struct {
	Chain     chains.ID `json:"chain"`
	URL       string    `json:"-"`
	Healthy   bool      `json:"healthy"`
	LatencyMs int64     `json:"latencyMs"`
	Height    uint64    `json:"height,omitempty"`
	Error     string    `json:"error,omitempty"`
}
