package ingest

import (
	"errors"
	"fmt"

	"github.com/mbd888/chainwatch/internal/chains"
)

// ErrParseFailure means one transaction's chain-native shape could not be
// decoded. Nothing is recorded for that hash; the batch continues.
var ErrParseFailure = errors.New("ingest: parse failure")

// ChainError tags a failure that stopped the sync of one address on one chain.
type ChainError struct {
	Chain   chains.ID
	Address string
	Err     error
}

func (e *ChainError) Error() string {
	return fmt.Sprintf("ingest: %s %s: %v", e.Chain, e.Address, e.Err)
}

func (e *ChainError) Unwrap() error { return e.Err }

// TxError is a per-transaction failure. It never aborts a batch.
type TxError struct {
	Chain chains.ID
	Hash  string
	Err   error
}

func (e *TxError) Error() string {
	return fmt.Sprintf("ingest: %s tx %s: %v", e.Chain, e.Hash, e.Err)
}

func (e *TxError) Unwrap() error { return e.Err }

func parseErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrParseFailure, fmt.Sprintf(format, args...))
}
