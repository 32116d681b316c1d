package provider

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

// SolanaRPC is the subset of the solana-go RPC client the adapter uses.
type SolanaRPC interface {
	GetSlot(ctx context.Context, commitment rpc.CommitmentType) (uint64, error)
	GetBalance(ctx context.Context, account solana.PublicKey, commitment rpc.CommitmentType) (*rpc.GetBalanceResult, error)
	GetSignaturesForAddressWithOpts(ctx context.Context, account solana.PublicKey, opts *rpc.GetSignaturesForAddressOpts) ([]*rpc.TransactionSignature, error)
	GetTransaction(ctx context.Context, sig solana.Signature, opts *rpc.GetTransactionOpts) (*rpc.GetTransactionResult, error)
	GetTokenAccountsByOwner(ctx context.Context, owner solana.PublicKey, conf *rpc.GetTokenAccountsConfig, opts *rpc.GetTokenAccountsOpts) (*rpc.GetTokenAccountsResult, error)
	Close() error
}

// SolanaClient implements InstructionClient over a Solana JSON-RPC node.
type SolanaClient struct {
	rpc        SolanaRPC
	commitment rpc.CommitmentType
}

// NewSolanaClient wraps an RPC client.
func NewSolanaClient(c SolanaRPC) *SolanaClient {
	return &SolanaClient{rpc: c, commitment: rpc.CommitmentFinalized}
}

// DialSolana creates a client for an instruction-model RPC endpoint. The
// solana-go client connects lazily, so no network I/O happens here.
func DialSolana(rpcURL string) *SolanaClient {
	return NewSolanaClient(rpc.New(rpcURL))
}

func (c *SolanaClient) Height(ctx context.Context) (uint64, error) {
	return c.rpc.GetSlot(ctx, c.commitment)
}

func (c *SolanaClient) Close() { _ = c.rpc.Close() }

func (c *SolanaClient) NativeBalance(ctx context.Context, addr string) (*big.Int, error) {
	pk, err := solana.PublicKeyFromBase58(addr)
	if err != nil {
		return nil, fmt.Errorf("parse address: %w", err)
	}
	res, err := c.rpc.GetBalance(ctx, pk, c.commitment)
	if err != nil {
		return nil, err
	}
	return new(big.Int).SetUint64(res.Value), nil
}

func (c *SolanaClient) TokenBalances(ctx context.Context, owner string) ([]TokenHolding, error) {
	pk, err := solana.PublicKeyFromBase58(owner)
	if err != nil {
		return nil, fmt.Errorf("parse address: %w", err)
	}
	res, err := c.rpc.GetTokenAccountsByOwner(ctx, pk,
		&rpc.GetTokenAccountsConfig{ProgramId: solana.TokenProgramID.ToPointer()},
		&rpc.GetTokenAccountsOpts{Commitment: c.commitment, Encoding: solana.EncodingBase64},
	)
	if err != nil {
		return nil, err
	}

	return tokenHoldings(res.Value), nil
}

// tokenHoldings keeps the non-empty SPL positions, skipping accounts whose
// data is missing or malformed.
func tokenHoldings(accts []*rpc.TokenAccount) []TokenHolding {
	var out []TokenHolding
	for _, acct := range accts {
		if acct == nil || acct.Account.Data == nil {
			continue
		}
		mint, amount, err := parseTokenAccount(acct.Account.Data.GetBinary())
		if err != nil {
			continue
		}
		if amount.Sign() == 0 {
			continue
		}
		out = append(out, TokenHolding{Account: acct.Pubkey.String(), Mint: mint, Amount: amount})
	}
	return out
}

// parseTokenAccount decodes the mint and raw amount from SPL token account
// data: mint(32) owner(32) amount(8, little endian), then fields we ignore.
func parseTokenAccount(data []byte) (string, *big.Int, error) {
	if len(data) < 72 {
		return "", nil, fmt.Errorf("token account data too short: %d bytes", len(data))
	}
	mint := solana.PublicKeyFromBytes(data[0:32])
	amount := new(big.Int).SetUint64(binary.LittleEndian.Uint64(data[64:72]))
	return mint.String(), amount, nil
}

func (c *SolanaClient) Signatures(ctx context.Context, addr string, limit int) ([]string, error) {
	if limit <= 0 {
		return nil, nil
	}
	pk, err := solana.PublicKeyFromBase58(addr)
	if err != nil {
		return nil, fmt.Errorf("parse address: %w", err)
	}
	sigs, err := c.rpc.GetSignaturesForAddressWithOpts(ctx, pk, &rpc.GetSignaturesForAddressOpts{
		Limit:      &limit,
		Commitment: c.commitment,
	})
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(sigs))
	for _, s := range sigs {
		if s != nil {
			out = append(out, s.Signature.String())
		}
	}
	return out, nil
}

func (c *SolanaClient) Transaction(ctx context.Context, sig string) (*InstructionTx, error) {
	signature, err := solana.SignatureFromBase58(sig)
	if err != nil {
		return nil, fmt.Errorf("parse signature: %w", err)
	}
	maxVersion := uint64(0)
	res, err := c.rpc.GetTransaction(ctx, signature, &rpc.GetTransactionOpts{
		Encoding:                       solana.EncodingBase64,
		Commitment:                     c.commitment,
		MaxSupportedTransactionVersion: &maxVersion,
	})
	if err != nil {
		if errors.Is(err, rpc.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrTxNotFound, sig)
		}
		return nil, err
	}
	if res == nil || res.Transaction == nil || res.Meta == nil {
		return nil, fmt.Errorf("%w: %s", ErrTxNotFound, sig)
	}
	tx, err := res.Transaction.GetTransaction()
	if err != nil {
		return nil, fmt.Errorf("decode transaction %s: %w", sig, err)
	}

	var blockTime time.Time
	if res.BlockTime != nil {
		blockTime = res.BlockTime.Time().UTC()
	}
	return buildInstructionTx(sig, res.Slot, blockTime, tx, res.Meta), nil
}

// buildInstructionTx flattens a decoded transaction and its metadata.
func buildInstructionTx(sig string, slot uint64, blockTime time.Time, tx *solana.Transaction, meta *rpc.TransactionMeta) *InstructionTx {
	keys := make([]string, 0, len(tx.Message.AccountKeys)+len(meta.LoadedAddresses.Writable)+len(meta.LoadedAddresses.ReadOnly))
	for _, k := range tx.Message.AccountKeys {
		keys = append(keys, k.String())
	}
	for _, k := range meta.LoadedAddresses.Writable {
		keys = append(keys, k.String())
	}
	for _, k := range meta.LoadedAddresses.ReadOnly {
		keys = append(keys, k.String())
	}

	seen := make(map[string]bool)
	var programs []string
	for _, ix := range tx.Message.Instructions {
		idx := int(ix.ProgramIDIndex)
		if idx >= len(keys) || seen[keys[idx]] {
			continue
		}
		seen[keys[idx]] = true
		programs = append(programs, keys[idx])
	}

	return &InstructionTx{
		Signature:    sig,
		Slot:         slot,
		BlockTime:    blockTime,
		Failed:       meta.Err != nil,
		AccountKeys:  keys,
		PreBalances:  append([]uint64(nil), meta.PreBalances...),
		PostBalances: append([]uint64(nil), meta.PostBalances...),
		ProgramIDs:   programs,
		PreTokens:    convertTokenBalances(meta.PreTokenBalances),
		PostTokens:   convertTokenBalances(meta.PostTokenBalances),
	}
}

func convertTokenBalances(in []rpc.TokenBalance) []TokenBalanceChange {
	out := make([]TokenBalanceChange, 0, len(in))
	for _, tb := range in {
		if tb.UiTokenAmount == nil {
			continue
		}
		amount, ok := new(big.Int).SetString(tb.UiTokenAmount.Amount, 10)
		if !ok {
			continue
		}
		change := TokenBalanceChange{
			AccountIndex: int(tb.AccountIndex),
			Mint:         tb.Mint.String(),
			Amount:       amount,
			Decimals:     int32(tb.UiTokenAmount.Decimals),
		}
		if tb.Owner != nil {
			change.Owner = tb.Owner.String()
		}
		out = append(out, change)
	}
	return out
}
