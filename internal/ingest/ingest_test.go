package ingest

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"

	"github.com/mbd888/chainwatch/internal/address"
	"github.com/mbd888/chainwatch/internal/bridge"
	"github.com/mbd888/chainwatch/internal/chains"
	"github.com/mbd888/chainwatch/internal/provider"
	"github.com/mbd888/chainwatch/internal/provider/providertest"
	"github.com/mbd888/chainwatch/internal/retry"
	"github.com/mbd888/chainwatch/internal/risk"
	"github.com/mbd888/chainwatch/internal/transactions"
)

const (
	walletAddr   = "0x1111111111111111111111111111111111111111"
	peerAddr     = "0x2222222222222222222222222222222222222222"
	wormholeEth  = "0x98f3c9e6E3fAce36bAAd05FE09d375Ef1464288B"
	usdcEthereum = "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func eth(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1e18))
}

func transferLog(token, from, to string, amount *big.Int) *types.Log {
	return &types.Log{
		Address: common.HexToAddress(token),
		Topics: []common.Hash{
			transferTopic,
			common.BytesToHash(common.HexToAddress(from).Bytes()),
			common.BytesToHash(common.HexToAddress(to).Bytes()),
		},
		Data: common.LeftPadBytes(amount.Bytes(), 32),
	}
}

func solKey(t *testing.T) string {
	t.Helper()
	key, err := solana.NewRandomPrivateKey()
	if err != nil {
		t.Fatal(err)
	}
	return key.PublicKey().String()
}

func mustChain(t *testing.T, id chains.ID) chains.Config {
	t.Helper()
	for _, c := range chains.Defaults() {
		if c.ID == id {
			return c
		}
	}
	t.Fatalf("no chain %s", id)
	return chains.Config{}
}

// ---- Parsers ----

func TestParseAccount(t *testing.T) {
	cfg := mustChain(t, chains.Ethereum)
	raw := &provider.AccountTx{
		Hash:      "0xABCDEF",
		Block:     42,
		Timestamp: t0,
		From:      walletAddr,
		To:        usdcEthereum,
		Value:     big.NewInt(0),
		Success:   true,
		Logs: []*types.Log{
			transferLog(usdcEthereum, walletAddr, peerAddr, big.NewInt(1_500_000)),
			// ERC-721 Transfer has the token id as a fourth topic
			{
				Address: common.HexToAddress("0x3333333333333333333333333333333333333333"),
				Topics:  []common.Hash{transferTopic, {}, {}, {}},
			},
		},
	}

	p, err := ParseAccount(cfg, raw, common.HexToAddress(walletAddr).Hex())
	if err != nil {
		t.Fatalf("ParseAccount: %v", err)
	}
	tx := p.Tx
	if tx.Hash != "0xabcdef" {
		t.Errorf("hash = %s, want lowercase", tx.Hash)
	}
	if tx.Status != transactions.StatusSuccess {
		t.Errorf("status = %s", tx.Status)
	}
	if len(tx.TokenTransfers) != 1 {
		t.Fatalf("token transfers = %d, want 1", len(tx.TokenTransfers))
	}
	tt := tx.TokenTransfers[0]
	if tt.Symbol != "USDC" || !tt.Amount.Equal(decimal.RequireFromString("1.5")) {
		t.Errorf("token transfer = %s %s, want 1.5 USDC", tt.Amount, tt.Symbol)
	}
	if tt.To != peerAddr {
		t.Errorf("token recipient = %s", tt.To)
	}
	if !tx.Involves(walletAddr) || !tx.Involves(peerAddr) {
		t.Errorf("touched = %v", tx.Touched)
	}
	if len(p.Evidence.LogEmitters) != 2 || p.Evidence.To != strings.ToLower(usdcEthereum) {
		t.Errorf("evidence = %+v", p.Evidence)
	}
}

func TestParseAccountFailures(t *testing.T) {
	cfg := mustChain(t, chains.Ethereum)
	badLog := transferLog(usdcEthereum, walletAddr, peerAddr, big.NewInt(1))
	badLog.Data = badLog.Data[:16]

	tests := []struct {
		name string
		raw  *provider.AccountTx
	}{
		{"missing hash", &provider.AccountTx{From: walletAddr}},
		{"bad sender", &provider.AccountTx{Hash: "0x01", From: "nope"}},
		{"short transfer data", &provider.AccountTx{Hash: "0x02", From: walletAddr, Logs: []*types.Log{badLog}}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseAccount(cfg, tc.raw, walletAddr)
			if !errors.Is(err, ErrParseFailure) {
				t.Errorf("err = %v, want ErrParseFailure", err)
			}
		})
	}
}

func TestParseAccountFailedTx(t *testing.T) {
	cfg := mustChain(t, chains.Ethereum)
	p, err := ParseAccount(cfg, &provider.AccountTx{Hash: "0x03", From: walletAddr, To: peerAddr, Value: eth(2)}, walletAddr)
	if err != nil {
		t.Fatal(err)
	}
	if !p.Tx.Failed() {
		t.Error("expected failed status")
	}
	if !p.Tx.Value.Equal(decimal.NewFromInt(2)) {
		t.Errorf("value = %s, want 2", p.Tx.Value)
	}
}

func TestParseInstruction(t *testing.T) {
	cfg := mustChain(t, chains.Solana)
	a, b, c := solKey(t), solKey(t), solKey(t)
	program := "11111111111111111111111111111111"

	raw := &provider.InstructionTx{
		Signature:    "sig-1",
		Slot:         900,
		BlockTime:    t0,
		AccountKeys:  []string{a, b, c, program},
		PreBalances:  []uint64{10_000_000_000, 1_000_000_000, 5, 1},
		PostBalances: []uint64{6_999_995_000, 4_000_000_000, 5, 1},
		ProgramIDs:   []string{program},
	}

	t.Run("native transfer", func(t *testing.T) {
		p, err := ParseInstruction(cfg, raw, a)
		if err != nil {
			t.Fatal(err)
		}
		if p.Tx.From != a || p.Tx.To != b {
			t.Errorf("from/to = %s/%s", p.Tx.From, p.Tx.To)
		}
		if !p.Tx.Value.Equal(decimal.NewFromInt(3)) {
			t.Errorf("value = %s, want 3", p.Tx.Value)
		}
		if len(p.Tx.Touched) != 2 {
			t.Errorf("touched = %v, want the two moved accounts", p.Tx.Touched)
		}
		if len(p.Evidence.ProgramIDs) != 1 {
			t.Errorf("program ids = %v", p.Evidence.ProgramIDs)
		}
	})

	t.Run("tracked address untouched", func(t *testing.T) {
		p, err := ParseInstruction(cfg, raw, c)
		if err != nil {
			t.Fatal(err)
		}
		if p.Tx.From != transactions.Unknown || p.Tx.To != transactions.Unknown {
			t.Errorf("from/to = %s/%s, want unknown", p.Tx.From, p.Tx.To)
		}
		if !p.Tx.Value.IsZero() {
			t.Errorf("value = %s, want 0", p.Tx.Value)
		}
		if !p.Tx.Involves(c) {
			t.Error("tracked address must stay in touched set")
		}
	})

	t.Run("token only", func(t *testing.T) {
		usdc := "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"
		tok := *raw
		tok.Signature = "sig-2"
		tok.PreBalances = []uint64{10, 10, 5, 1}
		tok.PostBalances = []uint64{5, 10, 5, 1}
		tok.PreTokens = []provider.TokenBalanceChange{
			{AccountIndex: 1, Owner: c, Mint: usdc, Amount: big.NewInt(2_000_000), Decimals: 6},
			{AccountIndex: 2, Owner: b, Mint: usdc, Amount: big.NewInt(0), Decimals: 6},
		}
		tok.PostTokens = []provider.TokenBalanceChange{
			{AccountIndex: 1, Owner: c, Mint: usdc, Amount: big.NewInt(500_000), Decimals: 6},
			{AccountIndex: 2, Owner: b, Mint: usdc, Amount: big.NewInt(1_500_000), Decimals: 6},
		}

		p, err := ParseInstruction(cfg, &tok, c)
		if err != nil {
			t.Fatal(err)
		}
		if p.Tx.From != c || p.Tx.To != b {
			t.Errorf("from/to = %s/%s, want token parties", p.Tx.From, p.Tx.To)
		}
		if len(p.Tx.TokenTransfers) != 1 {
			t.Fatalf("token transfers = %d", len(p.Tx.TokenTransfers))
		}
		tt := p.Tx.TokenTransfers[0]
		if tt.Symbol != "USDC" || !tt.Amount.Equal(decimal.RequireFromString("1.5")) {
			t.Errorf("token transfer = %s %s", tt.Amount, tt.Symbol)
		}
	})

	t.Run("mismatched balances", func(t *testing.T) {
		bad := *raw
		bad.PostBalances = bad.PostBalances[:2]
		if _, err := ParseInstruction(cfg, &bad, a); !errors.Is(err, ErrParseFailure) {
			t.Errorf("err = %v, want ErrParseFailure", err)
		}
	})

	t.Run("token index out of range", func(t *testing.T) {
		bad := *raw
		bad.PostTokens = []provider.TokenBalanceChange{{AccountIndex: 9, Mint: "m", Amount: big.NewInt(1)}}
		if _, err := ParseInstruction(cfg, &bad, a); !errors.Is(err, ErrParseFailure) {
			t.Errorf("err = %v, want ErrParseFailure", err)
		}
	})
}

// ---- Ingestor ----

type staticPrices map[string]decimal.Decimal

func (s staticPrices) GetPrices(_ context.Context, symbols []string) (map[string]decimal.Decimal, error) {
	out := make(map[string]decimal.Decimal)
	for _, sym := range symbols {
		if p, ok := s[sym]; ok {
			out[sym] = p
		}
	}
	return out, nil
}

type fixture struct {
	registry  *chains.Registry
	dialer    *providertest.Dialer
	txs       *transactions.MemoryStore
	transfers *bridge.MemoryStore
	ingestor  *Ingestor
	account   map[chains.ID]*providertest.Account
	sol       *providertest.Instruction
}

func newFixture(t *testing.T, ids ...chains.ID) *fixture {
	t.Helper()
	f := &fixture{
		registry:  providertest.Registry(0, ids...),
		dialer:    providertest.NewDialer(),
		txs:       transactions.NewMemoryStore(),
		transfers: bridge.NewMemoryStore(),
		account:   make(map[chains.ID]*providertest.Account),
	}
	for _, id := range ids {
		if id == chains.Solana {
			f.sol = providertest.NewInstruction()
			f.dialer.Set(providertest.PrimaryURL(id), f.sol)
			continue
		}
		a := providertest.NewAccount()
		f.account[id] = a
		f.dialer.Set(providertest.PrimaryURL(id), a)
	}
	pool := provider.NewPool(f.registry, f.dialer, provider.WithRetryPolicy(retry.Policy{MaxAttempts: 1}))
	t.Cleanup(pool.Close)

	detector := bridge.DefaultDetector()
	engine := risk.NewEngine(risk.DefaultConfig(), f.registry, detector)
	f.ingestor = New(pool, f.txs, f.transfers, detector, engine,
		WithPrices(staticPrices{"ETH": decimal.NewFromInt(3000)}),
		WithClock(func() time.Time { return t0.Add(time.Hour) }),
	)
	return f
}

func (f *fixture) addTransfer(chain chains.ID, hash, from, to string, value *big.Int, at time.Time) {
	f.account[chain].AddTx(&provider.AccountTx{
		Hash: hash, Timestamp: at, From: from, To: to, Value: value, Success: true,
	}, from, to)
}

func TestSyncChainDeduplicates(t *testing.T) {
	f := newFixture(t, chains.Ethereum)
	f.addTransfer(chains.Ethereum, "0xa1", walletAddr, peerAddr, eth(1), t0)
	f.addTransfer(chains.Ethereum, "0xa2", peerAddr, walletAddr, eth(2), t0.Add(time.Minute))
	ctx := context.Background()

	res, err := f.ingestor.SyncChain(ctx, chains.Ethereum, walletAddr, 10)
	if err != nil {
		t.Fatalf("SyncChain: %v", err)
	}
	if res.Inserted != 2 {
		t.Fatalf("inserted = %d, want 2", res.Inserted)
	}
	calls := f.account[chains.Ethereum].TxCalls.Load()

	res, err = f.ingestor.SyncChain(ctx, chains.Ethereum, walletAddr, 10)
	if err != nil {
		t.Fatalf("second SyncChain: %v", err)
	}
	if res.Inserted != 0 || res.Deduped != 2 {
		t.Errorf("second sync inserted=%d deduped=%d, want 0/2", res.Inserted, res.Deduped)
	}
	if got := f.account[chains.Ethereum].TxCalls.Load(); got != calls {
		t.Errorf("stored hashes were fetched again: %d calls, want %d", got, calls)
	}

	stored, err := f.txs.ListByAddress(ctx, chains.Ethereum, walletAddr, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(stored) != 2 {
		t.Errorf("stored = %d, want 2", len(stored))
	}
}

func TestSyncChainSkipsBadTransactions(t *testing.T) {
	f := newFixture(t, chains.Ethereum)
	f.addTransfer(chains.Ethereum, "0xb1", walletAddr, peerAddr, eth(1), t0)
	f.account[chains.Ethereum].AddHash(walletAddr, "0xmissing")

	bad := transferLog(usdcEthereum, walletAddr, peerAddr, big.NewInt(1))
	bad.Data = nil
	f.account[chains.Ethereum].AddTx(&provider.AccountTx{
		Hash: "0xb2", Timestamp: t0, From: walletAddr, To: usdcEthereum, Value: big.NewInt(0), Success: true,
		Logs: []*types.Log{bad},
	}, walletAddr)

	res, err := f.ingestor.SyncChain(context.Background(), chains.Ethereum, walletAddr, 10)
	if err != nil {
		t.Fatalf("one bad transaction must not fail the chain: %v", err)
	}
	if res.Inserted != 1 {
		t.Errorf("inserted = %d, want 1", res.Inserted)
	}
	if len(res.Failures) != 2 {
		t.Fatalf("failures = %d, want 2", len(res.Failures))
	}
	var parse int
	for _, e := range res.Failures {
		if errors.Is(e, ErrParseFailure) {
			parse++
			if e.Hash != "0xb2" {
				t.Errorf("parse failure on %s, want 0xb2", e.Hash)
			}
		}
	}
	if parse != 1 {
		t.Errorf("parse failures = %d, want 1", parse)
	}
	if _, err := f.txs.Get(context.Background(), chains.Ethereum, "0xb2"); !errors.Is(err, transactions.ErrNotFound) {
		t.Errorf("unparseable transaction was stored: %v", err)
	}
}

func TestSyncChainCreatesBridgeTransfer(t *testing.T) {
	f := newFixture(t, chains.Ethereum)
	f.addTransfer(chains.Ethereum, "0xc1", walletAddr, wormholeEth, eth(2), t0)
	f.account[chains.Ethereum].AddTx(&provider.AccountTx{
		Hash: "0xc2", Timestamp: t0.Add(time.Minute), From: walletAddr, To: wormholeEth, Value: eth(1),
	}, walletAddr)
	ctx := context.Background()

	res, err := f.ingestor.SyncChain(ctx, chains.Ethereum, walletAddr, 10)
	if err != nil {
		t.Fatal(err)
	}
	if res.Transfers != 2 {
		t.Fatalf("bridge transfers = %d, want 2", res.Transfers)
	}

	tx, err := f.txs.Get(ctx, chains.Ethereum, "0xc1")
	if err != nil {
		t.Fatal(err)
	}
	if !tx.IsBridge || tx.BridgeProtocol != bridge.Wormhole {
		t.Errorf("tx classified as %v/%q", tx.IsBridge, tx.BridgeProtocol)
	}

	tr, err := f.transfers.Get(ctx, chains.Ethereum, "0xc1")
	if err != nil {
		t.Fatal(err)
	}
	if tr.Status != bridge.StatusInitiated || tr.DestinationKnown() {
		t.Errorf("transfer status=%s destination=%q", tr.Status, tr.DestinationChain)
	}
	if !tr.AmountUSD.Valid || !tr.AmountUSD.Decimal.Equal(decimal.NewFromInt(6000)) {
		t.Errorf("amount usd = %v, want 6000", tr.AmountUSD)
	}
	// base 20 + unknown destination 10
	if tr.RiskScore != 30 {
		t.Errorf("risk score = %d, want 30", tr.RiskScore)
	}

	failed, err := f.transfers.Get(ctx, chains.Ethereum, "0xc2")
	if err != nil {
		t.Fatal(err)
	}
	if failed.Status != bridge.StatusFailed {
		t.Errorf("reverted source tx gave status %s, want failed", failed.Status)
	}
}

func TestSyncWalletPartialFailure(t *testing.T) {
	f := newFixture(t, chains.Ethereum, chains.Polygon, chains.Arbitrum, chains.Solana)
	ctx := context.Background()
	sol := solKey(t)

	for _, id := range []chains.ID{chains.Ethereum, chains.Polygon, chains.Arbitrum} {
		f.addTransfer(id, "0x"+string(id)[:3]+"01", walletAddr, peerAddr, eth(1), t0)
	}
	f.sol.AddTx(&provider.InstructionTx{
		Signature: "sol-1", BlockTime: t0,
		AccountKeys: []string{sol}, PreBalances: []uint64{10}, PostBalances: []uint64{5},
	}, sol)

	refs := []transactions.Ref{
		{Chain: chains.Ethereum, Address: walletAddr},
		{Chain: chains.Polygon, Address: walletAddr},
		{Chain: chains.Arbitrum, Address: walletAddr},
		{Chain: chains.Solana, Address: sol},
	}

	// first sync stores the polygon history
	if _, err := f.ingestor.SyncChain(ctx, chains.Polygon, walletAddr, 10); err != nil {
		t.Fatal(err)
	}

	f.account[chains.Polygon].SetDown(true)
	report, err := f.ingestor.SyncWallet(ctx, "w-1", refs)
	if err != nil {
		t.Fatalf("SyncWallet: %v", err)
	}
	if report.Succeeded != 3 || report.Failed != 1 {
		t.Fatalf("succeeded=%d failed=%d, want 3/1", report.Succeeded, report.Failed)
	}
	failed := report.FailedChains()
	if len(failed) != 1 || failed[0] != chains.Polygon {
		t.Fatalf("failed chains = %v, want [polygon]", failed)
	}
	for _, r := range report.Chains {
		if r.Chain != chains.Polygon {
			continue
		}
		if !errors.Is(r.Err, provider.ErrProviderUnavailable) {
			t.Errorf("polygon error = %v, want ProviderUnavailable", r.Err)
		}
		var ce *ChainError
		if !errors.As(r.Err, &ce) || ce.Chain != chains.Polygon {
			t.Errorf("polygon error is not chain-tagged: %v", r.Err)
		}
	}

	kept, err := f.txs.ListByAddress(ctx, chains.Polygon, walletAddr, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(kept) != 1 {
		t.Errorf("previously ingested polygon transactions = %d, want 1", len(kept))
	}
	if report.Inserted != 3 {
		t.Errorf("inserted = %d, want 3", report.Inserted)
	}
}

func TestSyncWalletRejectsInvalidSoleAddress(t *testing.T) {
	f := newFixture(t, chains.Ethereum)
	_, err := f.ingestor.SyncWallet(context.Background(), "w-1", []transactions.Ref{
		{Chain: chains.Ethereum, Address: "0x1234"},
	})
	if !errors.Is(err, address.ErrInvalidAddress) {
		t.Fatalf("err = %v, want ErrInvalidAddress", err)
	}
	if f.dialer.Dials.Load() != 0 {
		t.Error("provider was dialed for an invalid address")
	}
}

func TestClassifyHash(t *testing.T) {
	f := newFixture(t, chains.Ethereum)
	f.addTransfer(chains.Ethereum, "0xd1", walletAddr, wormholeEth, eth(1), t0)
	f.addTransfer(chains.Ethereum, "0xd2", walletAddr, peerAddr, eth(1), t0)
	ctx := context.Background()

	cls, err := f.ingestor.ClassifyHash(ctx, chains.Ethereum, "0xD1")
	if err != nil {
		t.Fatal(err)
	}
	if !cls.IsBridge || cls.Protocol != bridge.Wormhole || cls.SourceChain != chains.Ethereum {
		t.Errorf("classification = %+v", cls)
	}

	cls, err = f.ingestor.ClassifyHash(ctx, chains.Ethereum, "0xd2")
	if err != nil {
		t.Fatal(err)
	}
	if cls.IsBridge {
		t.Errorf("plain transfer classified as %+v", cls)
	}

	if _, err := f.ingestor.ClassifyHash(ctx, chains.Ethereum, "0xnone"); !errors.Is(err, provider.ErrTxNotFound) {
		t.Errorf("err = %v, want ErrTxNotFound", err)
	}
}
