package balance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"slices"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/mbd888/chainwatch/internal/address"
	"github.com/mbd888/chainwatch/internal/chains"
	"github.com/mbd888/chainwatch/internal/provider"
	"github.com/mbd888/chainwatch/internal/transactions"
)

// PriceSource values symbols in USD. prices.Source satisfies it.
type PriceSource interface {
	GetPrices(ctx context.Context, symbols []string) (map[string]decimal.Decimal, error)
}

// Aggregator reads balances through the provider pool.
type Aggregator struct {
	pool        *provider.Pool
	prices      PriceSource
	store       Store
	concurrency int
	logger      *slog.Logger
	now         func() time.Time
}

// NewAggregator creates an aggregator. prices may be nil, in which case
// every position is valued at zero.
func NewAggregator(pool *provider.Pool, prices PriceSource, store Store, logger *slog.Logger) *Aggregator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Aggregator{
		pool:        pool,
		prices:      prices,
		store:       store,
		concurrency: 8,
		logger:      logger.With("component", "balance"),
		now:         time.Now,
	}
}

// WithClock replaces time.Now for snapshot timestamps.
func (a *Aggregator) WithClock(now func() time.Time) *Aggregator {
	a.now = now
	return a
}

// Read returns the unpriced balance of one address on one chain.
func (a *Aggregator) Read(ctx context.Context, chain chains.ID, addr string) (*ChainBalance, error) {
	cfg, err := a.pool.Registry().Get(chain)
	if err != nil {
		return nil, err
	}
	norm, err := address.NormalizeFamily(addr, cfg.Family)
	if err != nil {
		return nil, err
	}
	if err := a.pool.Ready(ctx, chain); err != nil {
		return nil, err
	}

	cb := &ChainBalance{Chain: chain, Address: norm, NativeSymbol: cfg.NativeSymbol}
	switch cfg.Family {
	case chains.AccountModel:
		err = a.readAccount(ctx, cfg, norm, cb)
	case chains.InstructionModel:
		err = a.readInstruction(ctx, cfg, norm, cb)
	default:
		err = fmt.Errorf("%w: %s", provider.ErrWrongFamily, cfg.Family)
	}
	if err != nil {
		return nil, err
	}
	return cb, nil
}

func (a *Aggregator) readAccount(ctx context.Context, cfg chains.Config, addr string, cb *ChainBalance) error {
	client, err := a.pool.Account(ctx, cfg.ID)
	if err != nil {
		return err
	}

	var native *big.Int
	if err := a.pool.Do(ctx, cfg.ID, func(ctx context.Context) error {
		native, err = client.NativeBalance(ctx, addr)
		return err
	}); err != nil {
		return fmt.Errorf("native balance: %w", err)
	}
	cb.Native = decimal.NewFromBigInt(native, -cfg.NativeDecimals)

	for _, tok := range cfg.Tokens {
		var raw *big.Int
		if err := a.pool.Do(ctx, cfg.ID, func(ctx context.Context) error {
			raw, err = client.TokenBalance(ctx, tok.Address, addr)
			return err
		}); err != nil {
			return fmt.Errorf("%s balance: %w", tok.Symbol, err)
		}
		if raw.Sign() == 0 {
			continue
		}
		cb.Tokens = append(cb.Tokens, TokenBalance{
			Token:  tok.Address,
			Symbol: tok.Symbol,
			Amount: decimal.NewFromBigInt(raw, -tok.Decimals),
		})
	}
	return nil
}

func (a *Aggregator) readInstruction(ctx context.Context, cfg chains.Config, addr string, cb *ChainBalance) error {
	client, err := a.pool.Instruction(ctx, cfg.ID)
	if err != nil {
		return err
	}

	var native *big.Int
	if err := a.pool.Do(ctx, cfg.ID, func(ctx context.Context) error {
		native, err = client.NativeBalance(ctx, addr)
		return err
	}); err != nil {
		return fmt.Errorf("native balance: %w", err)
	}
	cb.Native = decimal.NewFromBigInt(native, -cfg.NativeDecimals)

	var holdings []provider.TokenHolding
	if err := a.pool.Do(ctx, cfg.ID, func(ctx context.Context) error {
		holdings, err = client.TokenBalances(ctx, addr)
		return err
	}); err != nil {
		return fmt.Errorf("token accounts: %w", err)
	}

	// one owner may hold several token accounts of the same mint
	byMint := make(map[string]*big.Int)
	for _, h := range holdings {
		if h.Amount == nil || h.Amount.Sign() == 0 {
			continue
		}
		if byMint[h.Mint] == nil {
			byMint[h.Mint] = new(big.Int)
		}
		byMint[h.Mint].Add(byMint[h.Mint], h.Amount)
	}
	mints := make([]string, 0, len(byMint))
	for m := range byMint {
		mints = append(mints, m)
	}
	sort.Strings(mints)

	for _, mint := range mints {
		tb := TokenBalance{Token: mint}
		if tok, ok := cfg.TokenByAddress(mint); ok {
			tb.Symbol = tok.Symbol
			tb.Amount = decimal.NewFromBigInt(byMint[mint], -tok.Decimals)
		} else {
			tb.Amount = decimal.NewFromBigInt(byMint[mint], 0)
		}
		cb.Tokens = append(cb.Tokens, tb)
	}
	return nil
}

// Refresh reads every ref concurrently, values the positions and overwrites
// the wallet's snapshot. A ref that cannot be read is listed in Skipped on
// both the report and the stored snapshot, and its previous position is
// carried forward as stale. Only a failure to save is returned as an error.
func (a *Aggregator) Refresh(ctx context.Context, walletID string, refs []transactions.Ref) (*Report, error) {
	results := make([]*ChainBalance, len(refs))
	errs := make([]error, len(refs))

	var g errgroup.Group
	g.SetLimit(a.concurrency)
	for i, ref := range refs {
		g.Go(func() error {
			results[i], errs[i] = a.Read(ctx, ref.Chain, ref.Address)
			return nil
		})
	}
	_ = g.Wait()

	now := a.now().UTC()
	var previous *Snapshot
	if slices.ContainsFunc(errs, func(err error) bool { return err != nil }) {
		prev, err := a.store.Get(ctx, walletID)
		switch {
		case err == nil:
			previous = prev
		case !errors.Is(err, ErrNotFound):
			a.logger.Warn("previous balance snapshot unavailable", "wallet_id", walletID, "error", err)
		}
	}

	report := &Report{}
	snap := &Snapshot{WalletID: walletID, TotalUSD: decimal.Zero}
	for i, ref := range refs {
		if errs[i] == nil {
			results[i].ReadAt = now
			snap.Chains = append(snap.Chains, *results[i])
			continue
		}
		report.Skipped = append(report.Skipped, Skip{Chain: ref.Chain, Address: ref.Address, Reason: errs[i].Error()})
		a.logger.Warn("balance read skipped", "wallet_id", walletID, "chain", ref.Chain, "error", errs[i])
		if cb, ok := previous.position(ref); ok {
			cb.Stale = true
			snap.Chains = append(snap.Chains, cb)
		}
	}
	snap.Skipped = report.Skipped

	report.Unpriced = a.value(ctx, snap)
	snap.RefreshedAt = now
	if err := a.store.Save(ctx, snap); err != nil {
		a.logger.Error("balance snapshot save failed", "wallet_id", walletID, "error", err)
		return nil, fmt.Errorf("save balance snapshot: %w", err)
	}
	report.Snapshot = snap

	a.logger.Info("balances refreshed",
		"wallet_id", walletID, "chains", len(snap.Chains), "skipped", len(report.Skipped), "total_usd", snap.TotalUSD.StringFixed(2))
	return report, nil
}

// position finds the stored balance of ref. Addresses are compared in
// their stored form, so hex case differences still match.
func (s *Snapshot) position(ref transactions.Ref) (ChainBalance, bool) {
	if s == nil {
		return ChainBalance{}, false
	}
	key := transactions.AddressKey(ref.Address)
	for _, cb := range s.Chains {
		if cb.Chain == ref.Chain && transactions.AddressKey(cb.Address) == key {
			cb.Tokens = slices.Clone(cb.Tokens)
			return cb, true
		}
	}
	return ChainBalance{}, false
}

// value prices every position in place and returns the symbols that had no
// quote. A failing price source values everything it could not answer at zero.
func (a *Aggregator) value(ctx context.Context, snap *Snapshot) []string {
	var symbols []string
	seen := make(map[string]bool)
	want := func(sym string) {
		if sym != "" && !seen[sym] {
			seen[sym] = true
			symbols = append(symbols, sym)
		}
	}
	for _, cb := range snap.Chains {
		want(cb.NativeSymbol)
		for _, tb := range cb.Tokens {
			want(tb.Symbol)
		}
	}

	quotes := map[string]decimal.Decimal{}
	if a.prices != nil && len(symbols) > 0 {
		q, err := a.prices.GetPrices(ctx, symbols)
		if err != nil {
			a.logger.Warn("price lookup failed, valuing unanswered symbols at zero", "error", err)
		}
		if q != nil {
			quotes = q
		}
	}

	var unpriced []string
	for _, sym := range symbols {
		if _, ok := quotes[sym]; !ok {
			unpriced = append(unpriced, sym)
		}
	}

	total := decimal.Zero
	for i := range snap.Chains {
		cb := &snap.Chains[i]
		cb.NativePrice = quotes[cb.NativeSymbol]
		cb.NativeUSD = cb.Native.Mul(cb.NativePrice).Round(2)
		cb.TotalUSD = cb.NativeUSD
		for j := range cb.Tokens {
			tb := &cb.Tokens[j]
			if tb.Symbol != "" {
				tb.PriceUSD = quotes[tb.Symbol]
			}
			tb.ValueUSD = tb.Amount.Mul(tb.PriceUSD).Round(2)
			cb.TotalUSD = cb.TotalUSD.Add(tb.ValueUSD)
		}
		total = total.Add(cb.TotalUSD)
	}
	snap.TotalUSD = total
	return unpriced
}
