package provider

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
)

// EthClient is the subset of ethclient.Client the account-model adapter uses.
type EthClient interface {
	BlockNumber(ctx context.Context) (uint64, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	TransactionByHash(ctx context.Context, hash common.Hash) (*types.Transaction, bool, error)
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	Close()
}

// HistorySource enumerates address history for an account-model chain.
type HistorySource interface {
	TransactionHashes(ctx context.Context, chainID int64, addr string, limit int) ([]string, error)
}

const erc20ABI = `[
	{"constant":true,"inputs":[{"name":"owner","type":"address"}],"name":"balanceOf","outputs":[{"name":"","type":"uint256"}],"type":"function"}
]`

var parsedERC20 = func() abi.ABI {
	a, err := abi.JSON(strings.NewReader(erc20ABI))
	if err != nil {
		panic(fmt.Sprintf("provider: parse erc20 abi: %v", err))
	}
	return a
}()

// EVMClient implements AccountClient over a JSON-RPC node plus an explorer
// history API.
type EVMClient struct {
	eth     EthClient
	history HistorySource
	chainID int64
}

// NewEVMClient wraps an existing node client. history may be nil, in which
// case TransactionHashes returns no results.
func NewEVMClient(eth EthClient, history HistorySource, chainID int64) *EVMClient {
	return &EVMClient{eth: eth, history: history, chainID: chainID}
}

// DialEVM connects to an account-model RPC endpoint.
func DialEVM(ctx context.Context, rpcURL string, history HistorySource, chainID int64) (*EVMClient, error) {
	c, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", rpcURL, err)
	}
	return NewEVMClient(c, history, chainID), nil
}

func (c *EVMClient) Height(ctx context.Context) (uint64, error) {
	return c.eth.BlockNumber(ctx)
}

func (c *EVMClient) Close() { c.eth.Close() }

func (c *EVMClient) NativeBalance(ctx context.Context, addr string) (*big.Int, error) {
	return c.eth.BalanceAt(ctx, common.HexToAddress(addr), nil)
}

func (c *EVMClient) TokenBalance(ctx context.Context, token, owner string) (*big.Int, error) {
	data, err := parsedERC20.Pack("balanceOf", common.HexToAddress(owner))
	if err != nil {
		return nil, fmt.Errorf("pack balanceOf: %w", err)
	}
	to := common.HexToAddress(token)
	out, err := c.eth.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("call balanceOf: %w", err)
	}
	return new(big.Int).SetBytes(out), nil
}

func (c *EVMClient) TransactionHashes(ctx context.Context, addr string, limit int) ([]string, error) {
	if c.history == nil {
		return nil, nil
	}
	return c.history.TransactionHashes(ctx, c.chainID, addr, limit)
}

// Transaction joins the transaction, its receipt and the block timestamp.
func (c *EVMClient) Transaction(ctx context.Context, hash string) (*AccountTx, error) {
	h := common.HexToHash(hash)
	tx, pending, err := c.eth.TransactionByHash(ctx, h)
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return nil, fmt.Errorf("%w: %s", ErrTxNotFound, hash)
		}
		return nil, err
	}
	if pending {
		return nil, fmt.Errorf("%w: %s is pending", ErrTxNotFound, hash)
	}

	receipt, err := c.eth.TransactionReceipt(ctx, h)
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return nil, fmt.Errorf("%w: receipt for %s", ErrTxNotFound, hash)
		}
		return nil, err
	}

	header, err := c.eth.HeaderByNumber(ctx, receipt.BlockNumber)
	if err != nil {
		return nil, fmt.Errorf("header %s: %w", receipt.BlockNumber, err)
	}

	from, err := types.Sender(types.LatestSignerForChainID(tx.ChainId()), tx)
	if err != nil {
		return nil, fmt.Errorf("recover sender of %s: %w", hash, err)
	}

	out := &AccountTx{
		Hash:      tx.Hash().Hex(),
		Block:     receipt.BlockNumber.Uint64(),
		Timestamp: time.Unix(int64(header.Time), 0).UTC(), //nolint:gosec // block timestamps fit in int64
		From:      from.Hex(),
		Value:     new(big.Int).Set(tx.Value()),
		Success:   receipt.Status == types.ReceiptStatusSuccessful,
		Logs:      receipt.Logs,
	}
	if tx.To() != nil {
		out.To = tx.To().Hex()
	}
	return out, nil
}
