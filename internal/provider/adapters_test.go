package provider

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

type fakeEth struct {
	tx      *types.Transaction
	receipt *types.Receipt
	header  *types.Header
	callOut []byte
	lastTo  *common.Address
}

func (f *fakeEth) BlockNumber(context.Context) (uint64, error) { return 42, nil }
func (f *fakeEth) BalanceAt(context.Context, common.Address, *big.Int) (*big.Int, error) {
	return big.NewInt(7), nil
}
func (f *fakeEth) CallContract(_ context.Context, call ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	f.lastTo = call.To
	return f.callOut, nil
}
func (f *fakeEth) TransactionByHash(_ context.Context, h common.Hash) (*types.Transaction, bool, error) {
	if f.tx == nil || f.tx.Hash() != h {
		return nil, false, ethereum.NotFound
	}
	return f.tx, false, nil
}
func (f *fakeEth) TransactionReceipt(context.Context, common.Hash) (*types.Receipt, error) {
	return f.receipt, nil
}
func (f *fakeEth) HeaderByNumber(context.Context, *big.Int) (*types.Header, error) {
	return f.header, nil
}
func (f *fakeEth) Close() {}

func TestEVMTransactionJoinsReceiptAndHeader(t *testing.T) {
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	to := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	chainID := big.NewInt(1)
	tx, err := types.SignTx(types.NewTx(&types.DynamicFeeTx{
		ChainID: chainID, Nonce: 1, To: &to, Value: big.NewInt(1e18),
		Gas: 21000, GasFeeCap: big.NewInt(1), GasTipCap: big.NewInt(1),
	}), types.LatestSignerForChainID(chainID), key)
	if err != nil {
		t.Fatal(err)
	}

	eth := &fakeEth{
		tx:      tx,
		receipt: &types.Receipt{Status: types.ReceiptStatusFailed, BlockNumber: big.NewInt(99)},
		header:  &types.Header{Number: big.NewInt(99), Time: 1_700_000_000},
	}
	c := NewEVMClient(eth, nil, 1)

	got, err := c.Transaction(context.Background(), tx.Hash().Hex())
	if err != nil {
		t.Fatal(err)
	}
	if got.From != crypto.PubkeyToAddress(key.PublicKey).Hex() {
		t.Errorf("from = %s", got.From)
	}
	if got.To != to.Hex() || got.Block != 99 || got.Success {
		t.Errorf("unexpected tx: %+v", got)
	}
	if !got.Timestamp.Equal(time.Unix(1_700_000_000, 0)) {
		t.Errorf("timestamp = %v", got.Timestamp)
	}

	_, err = c.Transaction(context.Background(), "0x01")
	if !errors.Is(err, ErrTxNotFound) {
		t.Errorf("expected ErrTxNotFound, got %v", err)
	}
}

func TestEVMTokenBalanceCallsContract(t *testing.T) {
	out := make([]byte, 32)
	out[31] = 5
	eth := &fakeEth{callOut: out}
	c := NewEVMClient(eth, nil, 1)

	token := "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48"
	bal, err := c.TokenBalance(context.Background(), token, "0x00000000000000000000000000000000000000bb")
	if err != nil {
		t.Fatal(err)
	}
	if bal.Int64() != 5 {
		t.Errorf("balance = %s, want 5", bal)
	}
	if eth.lastTo == nil || *eth.lastTo != common.HexToAddress(token) {
		t.Error("balanceOf was not sent to the token contract")
	}
}

func TestExplorerMergesAndOrdersHistory(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("chainid") != "137" {
			t.Errorf("chainid = %s", r.URL.Query().Get("chainid"))
		}
		var result any
		switch r.URL.Query().Get("action") {
		case "txlist":
			result = []map[string]string{{"hash": "0xa", "blockNumber": "10"}, {"hash": "0xb", "blockNumber": "8"}}
		case "tokentx":
			result = []map[string]string{{"hash": "0xc", "blockNumber": "9"}, {"hash": "0xA", "blockNumber": "10"}}
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"status": "1", "message": "OK", "result": result})
	}))
	defer srv.Close()

	e := NewExplorer(srv.URL, "key")
	got, err := e.TransactionHashes(context.Background(), 137, "0xabc", 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0] != "0xa" || got[1] != "0xc" {
		t.Errorf("hashes = %v, want [0xa 0xc]", got)
	}
}

func TestExplorerEmptyHistory(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"0","message":"No transactions found","result":[]}`))
	}))
	defer srv.Close()

	got, err := NewExplorer(srv.URL, "").TransactionHashes(context.Background(), 1, "0xabc", 10)
	if err != nil || len(got) != 0 {
		t.Errorf("expected empty history, got %v, %v", got, err)
	}
}

func TestExplorerErrorResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"0","message":"NOTOK","result":"Invalid API Key"}`))
	}))
	defer srv.Close()

	if _, err := NewExplorer(srv.URL, "bad").TransactionHashes(context.Background(), 1, "0xabc", 10); err == nil {
		t.Error("expected error for NOTOK response")
	}
}

func TestParseTokenAccount(t *testing.T) {
	mint := solana.MustPublicKeyFromBase58("EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v")
	data := make([]byte, 165)
	copy(data[0:32], mint.Bytes())
	binary.LittleEndian.PutUint64(data[64:72], 1_500_000)

	gotMint, amount, err := parseTokenAccount(data)
	if err != nil {
		t.Fatal(err)
	}
	if gotMint != mint.String() || amount.Int64() != 1_500_000 {
		t.Errorf("got %s %s", gotMint, amount)
	}
	if _, _, err := parseTokenAccount(data[:40]); err == nil {
		t.Error("expected error for short data")
	}
}

func TestTokenHoldingsSkipsEmptyAccounts(t *testing.T) {
	mint := solana.MustPublicKeyFromBase58("EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v")
	funded := make([]byte, 165)
	copy(funded[0:32], mint.Bytes())
	binary.LittleEndian.PutUint64(funded[64:72], 42)
	zero := make([]byte, 165)
	copy(zero[0:32], mint.Bytes())

	holder := solana.NewWallet().PublicKey()
	accts := []*rpc.TokenAccount{
		nil,
		{Pubkey: solana.NewWallet().PublicKey()},
		{Pubkey: solana.NewWallet().PublicKey(), Account: rpc.Account{Data: rpc.DataBytesOrJSONFromBytes(funded[:10])}},
		{Pubkey: solana.NewWallet().PublicKey(), Account: rpc.Account{Data: rpc.DataBytesOrJSONFromBytes(zero)}},
		{Pubkey: holder, Account: rpc.Account{Data: rpc.DataBytesOrJSONFromBytes(funded)}},
	}

	got := tokenHoldings(accts)
	if len(got) != 1 {
		t.Fatalf("holdings = %d, want 1", len(got))
	}
	if got[0].Account != holder.String() || got[0].Mint != mint.String() || got[0].Amount.Int64() != 42 {
		t.Errorf("holding = %+v", got[0])
	}
}

func TestBuildInstructionTx(t *testing.T) {
	payer := solana.NewWallet().PublicKey()
	recv := solana.NewWallet().PublicKey()
	loaded := solana.NewWallet().PublicKey()
	mint := solana.MustPublicKeyFromBase58("EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v")

	tx := &solana.Transaction{Message: solana.Message{
		AccountKeys: solana.PublicKeySlice{payer, recv, solana.SystemProgramID},
		Instructions: []solana.CompiledInstruction{
			{ProgramIDIndex: 2},
			{ProgramIDIndex: 2},
			{ProgramIDIndex: 3},
		},
	}}
	meta := &rpc.TransactionMeta{
		Err:          map[string]any{"InstructionError": []any{0, "Custom"}},
		PreBalances:  []uint64{10, 0, 1, 0},
		PostBalances: []uint64{4, 5, 1, 0},
		LoadedAddresses: rpc.LoadedAddresses{
			Writable: solana.PublicKeySlice{loaded},
		},
		PostTokenBalances: []rpc.TokenBalance{{
			AccountIndex:  1,
			Owner:         &recv,
			Mint:          mint,
			UiTokenAmount: &rpc.UiTokenAmount{Amount: "2500000", Decimals: 6},
		}},
	}

	got := buildInstructionTx("sig", 77, time.Unix(1_700_000_000, 0), tx, meta)
	if len(got.AccountKeys) != 4 || got.AccountKeys[3] != loaded.String() {
		t.Fatalf("account keys = %v", got.AccountKeys)
	}
	if len(got.ProgramIDs) != 2 || got.ProgramIDs[0] != solana.SystemProgramID.String() || got.ProgramIDs[1] != loaded.String() {
		t.Errorf("program ids = %v", got.ProgramIDs)
	}
	if !got.Failed {
		t.Error("expected failed when meta carries an error")
	}
	if len(got.PostTokens) != 1 || got.PostTokens[0].Amount.Int64() != 2_500_000 || got.PostTokens[0].Owner != recv.String() {
		t.Errorf("post tokens = %+v", got.PostTokens)
	}
}
