// Package ingest pulls transaction history from chain providers, converts it
// to canonical transactions, classifies bridge traffic and stores the result.
// Multi-chain syncs always return a partial-success report: one chain or one
// transaction failing never aborts the others.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/mbd888/chainwatch/internal/address"
	"github.com/mbd888/chainwatch/internal/bridge"
	"github.com/mbd888/chainwatch/internal/chains"
	"github.com/mbd888/chainwatch/internal/logging"
	"github.com/mbd888/chainwatch/internal/metrics"
	"github.com/mbd888/chainwatch/internal/provider"
	"github.com/mbd888/chainwatch/internal/risk"
	"github.com/mbd888/chainwatch/internal/traces"
	"github.com/mbd888/chainwatch/internal/transactions"
)

// PriceSource values bridge transfers in USD. prices.Source satisfies it.
type PriceSource interface {
	GetPrices(ctx context.Context, symbols []string) (map[string]decimal.Decimal, error)
}

// Ingestor syncs addresses into the transaction and bridge-transfer stores.
type Ingestor struct {
	pool        *provider.Pool
	txs         transactions.Store
	transfers   bridge.Store
	detector    *bridge.Detector
	engine      *risk.Engine
	prices      PriceSource
	txLimit     int
	concurrency int
	logger      *slog.Logger
	now         func() time.Time
}

// Option configures an Ingestor.
type Option func(*Ingestor)

// WithTxLimit sets how many recent transactions are requested per address
// when the caller passes no limit.
func WithTxLimit(n int) Option {
	return func(i *Ingestor) {
		if n > 0 {
			i.txLimit = n
		}
	}
}

// WithConcurrency bounds how many chains one wallet sync reads at once.
func WithConcurrency(n int) Option {
	return func(i *Ingestor) {
		if n > 0 {
			i.concurrency = n
		}
	}
}

// WithPrices values bridge transfers in USD.
func WithPrices(p PriceSource) Option {
	return func(i *Ingestor) { i.prices = p }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(i *Ingestor) { i.logger = l }
}

// WithClock replaces time.Now for ingestion timestamps.
func WithClock(now func() time.Time) Option {
	return func(i *Ingestor) { i.now = now }
}

// New creates an Ingestor.
func New(pool *provider.Pool, txs transactions.Store, transfers bridge.Store, detector *bridge.Detector, engine *risk.Engine, opts ...Option) *Ingestor {
	i := &Ingestor{
		pool:        pool,
		txs:         txs,
		transfers:   transfers,
		detector:    detector,
		engine:      engine,
		txLimit:     50,
		concurrency: 8,
		logger:      slog.Default(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(i)
	}
	i.logger = i.logger.With("component", "ingest")
	return i
}

// ---- Reports ----

// ChainResult is the outcome of syncing one address on one chain.
type ChainResult struct {
	Chain     chains.ID `json:"chain"`
	Address   string    `json:"address"`
	Fetched   int       `json:"fetched"`
	Deduped   int       `json:"deduped"`
	Inserted  int       `json:"inserted"`
	Transfers int       `json:"bridgeTransfers"`
	TxErrors  []string  `json:"txErrors,omitempty"`
	Error     string    `json:"error,omitempty"`

	Transactions []*transactions.Transaction `json:"-"`
	Failures     []*TxError                  `json:"-"`
	Err          error                       `json:"-"`
}

// OK reports whether the chain sync ran to completion.
func (r *ChainResult) OK() bool { return r.Err == nil }

func (r *ChainResult) fail(err error) {
	r.Err = err
	r.Error = err.Error()
}

func (r *ChainResult) txFailed(e *TxError) {
	r.Failures = append(r.Failures, e)
	r.TxErrors = append(r.TxErrors, e.Error())
}

// SyncReport is the partial-success result of a multi-chain sync.
type SyncReport struct {
	WalletID   string         `json:"walletId"`
	Chains     []*ChainResult `json:"chains"`
	Inserted   int            `json:"inserted"`
	Succeeded  int            `json:"succeeded"`
	Failed     int            `json:"failed"`
	StartedAt  time.Time      `json:"startedAt"`
	FinishedAt time.Time      `json:"finishedAt"`
}

// FailedChains lists the chains whose sync did not complete.
func (r *SyncReport) FailedChains() []chains.ID {
	var out []chains.ID
	for _, c := range r.Chains {
		if !c.OK() {
			out = append(out, c.Chain)
		}
	}
	return out
}

// ---- Single chain ----

// SyncChain fetches up to limit recent transactions of address on chain and
// stores those not seen before. The returned result is never nil and holds
// whatever was ingested even when err is non-nil; err is a *ChainError.
// An address that fails validation is rejected before any I/O.
func (i *Ingestor) SyncChain(ctx context.Context, chain chains.ID, addr string, limit int) (*ChainResult, error) {
	res := &ChainResult{Chain: chain, Address: addr}

	cfg, err := i.pool.Registry().Get(chain)
	if err != nil {
		cerr := &ChainError{Chain: chain, Address: addr, Err: err}
		res.fail(cerr)
		return res, cerr
	}
	norm, err := address.NormalizeFamily(addr, cfg.Family)
	if err != nil {
		cerr := &ChainError{Chain: chain, Address: addr, Err: err}
		res.fail(cerr)
		return res, cerr
	}
	res.Address = norm
	if limit <= 0 {
		limit = i.txLimit
	}

	ctx = logging.WithLogger(logging.WithChain(ctx, string(chain)), i.logger)
	ctx, span := traces.StartSpan(ctx, "ingest.SyncChain", traces.Chain(string(chain)), traces.Address(norm))
	defer span.End()

	start := time.Now()
	err = i.syncChain(ctx, cfg, norm, limit, res)
	metrics.ChainSyncDuration.WithLabelValues(string(chain)).Observe(time.Since(start).Seconds())
	span.SetAttributes(traces.Count("tx.inserted", res.Inserted), traces.Count("tx.errors", len(res.Failures)))

	if err != nil {
		cerr := &ChainError{Chain: chain, Address: norm, Err: err}
		res.fail(cerr)
		traces.Fail(span, cerr)
		metrics.ChainSyncTotal.WithLabelValues(string(chain), "error").Inc()
		logging.L(ctx).Warn("chain sync failed", "address", norm, "inserted", res.Inserted, "error", err)
		return res, cerr
	}

	result := "ok"
	if len(res.Failures) > 0 {
		result = "partial"
	}
	metrics.ChainSyncTotal.WithLabelValues(string(chain), result).Inc()
	logging.L(ctx).Info("chain synced",
		"address", norm, "fetched", res.Fetched, "deduped", res.Deduped,
		"inserted", res.Inserted, "bridge_transfers", res.Transfers, "tx_errors", len(res.Failures))
	return res, nil
}

func (i *Ingestor) syncChain(ctx context.Context, cfg chains.Config, addr string, limit int, res *ChainResult) error {
	if err := i.pool.Ready(ctx, cfg.ID); err != nil {
		return err
	}
	src, err := newSource(ctx, i.pool, cfg)
	if err != nil {
		return err
	}

	seen, err := i.txs.Hashes(ctx, cfg.ID, addr)
	if err != nil {
		return fmt.Errorf("load stored hashes: %w", err)
	}

	ids, err := src.Identifiers(ctx, addr, limit)
	if err != nil {
		return unavailable(cfg.ID, err)
	}

	var parsed []*Parsed
	var aborted error
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			res.Deduped++
			continue
		}
		if err := ctx.Err(); err != nil {
			aborted = err
			break
		}
		seen[id] = struct{}{}

		p, err := src.Fetch(ctx, id, addr)
		if err == nil {
			res.Fetched++
			parsed = append(parsed, p)
			continue
		}
		if errors.Is(err, ErrParseFailure) || errors.Is(err, provider.ErrTxNotFound) {
			if errors.Is(err, ErrParseFailure) {
				metrics.ParseFailuresTotal.WithLabelValues(string(cfg.ID)).Inc()
			}
			logging.L(ctx).Warn("transaction skipped", "hash", id, "error", err)
			res.txFailed(&TxError{Chain: cfg.ID, Hash: id, Err: err})
			continue
		}
		// The provider stopped answering mid-batch. Keep what was parsed.
		aborted = unavailable(cfg.ID, err)
		break
	}

	// Persist partial work even when the caller's deadline has passed.
	if err := i.store(context.WithoutCancel(ctx), cfg, addr, parsed, res); err != nil {
		return err
	}
	return aborted
}

func (i *Ingestor) store(ctx context.Context, cfg chains.Config, tracked string, parsed []*Parsed, res *ChainResult) error {
	if len(parsed) == 0 {
		return nil
	}
	now := i.now().UTC()

	txs := make([]*transactions.Transaction, 0, len(parsed))
	classes := make([]bridge.Classification, 0, len(parsed))
	for _, p := range parsed {
		cls := i.detector.Classify(p.Evidence)
		p.Tx.IsBridge = cls.IsBridge
		p.Tx.BridgeProtocol = cls.Protocol
		p.Tx.RiskScore = i.engine.ScoreTransaction(p.Tx)
		p.Tx.IngestedAt = now
		txs = append(txs, p.Tx)
		classes = append(classes, cls)
	}

	n, err := i.txs.Insert(ctx, txs)
	if err != nil {
		logging.L(ctx).Error("transaction insert failed", "count", len(txs), "error", err)
		return fmt.Errorf("insert transactions: %w", err)
	}
	res.Inserted += n
	res.Transactions = append(res.Transactions, txs...)
	metrics.TransactionsIngestedTotal.WithLabelValues(string(cfg.ID)).Add(float64(n))

	var outbound []*bridge.Transfer
	for k, tx := range txs {
		if classes[k].IsBridge && strings.EqualFold(tx.From, tracked) {
			outbound = append(outbound, newTransfer(cfg, tx, classes[k], tracked, now))
		}
	}
	if len(outbound) == 0 {
		return nil
	}
	i.price(ctx, outbound)

	for _, t := range outbound {
		t.RiskScore = i.engine.ScoreTransfer(t)
		if err := i.transfers.Upsert(ctx, t); err != nil {
			logging.L(ctx).Error("bridge transfer upsert failed", "hash", t.SourceTxHash, "error", err)
			return fmt.Errorf("upsert bridge transfer: %w", err)
		}
		res.Transfers++
		metrics.BridgeTransfersDetected.WithLabelValues(t.Protocol).Inc()
	}
	return nil
}

// newTransfer builds the initiated (or failed) transfer for an outbound
// bridge transaction. A token movement out of the tracked address takes
// precedence over the native value.
func newTransfer(cfg chains.Config, tx *transactions.Transaction, cls bridge.Classification, tracked string, now time.Time) *bridge.Transfer {
	t := &bridge.Transfer{
		SourceChain:      tx.Chain,
		SourceTxHash:     tx.Hash,
		DestinationChain: cls.DestinationChain,
		Protocol:         cls.Protocol,
		SourceAddress:    tx.From,
		TokenSymbol:      cfg.NativeSymbol,
		Amount:           tx.Value,
		Status:           bridge.StatusInitiated,
		InitiatedAt:      tx.Timestamp,
		UpdatedAt:        now,
	}
	for _, tt := range tx.TokenTransfers {
		if strings.EqualFold(tt.From, tracked) && tt.Symbol != "" {
			t.TokenSymbol = tt.Symbol
			t.Amount = tt.Amount
			break
		}
	}
	if tx.Failed() {
		t.Status = bridge.StatusFailed
	}
	return t
}

// price fills AmountUSD where a price is available. Pricing is best effort.
func (i *Ingestor) price(ctx context.Context, ts []*bridge.Transfer) {
	if i.prices == nil {
		return
	}
	var symbols []string
	seen := make(map[string]bool)
	for _, t := range ts {
		if !seen[t.TokenSymbol] {
			seen[t.TokenSymbol] = true
			symbols = append(symbols, t.TokenSymbol)
		}
	}
	quotes, err := i.prices.GetPrices(ctx, symbols)
	if err != nil {
		logging.L(ctx).Warn("bridge transfer pricing failed", "error", err)
		return
	}
	for _, t := range ts {
		if p, ok := quotes[t.TokenSymbol]; ok {
			t.AmountUSD = decimal.NewNullDecimal(t.Amount.Mul(p).Round(2))
		}
	}
}

func unavailable(chain chains.ID, err error) error {
	if errors.Is(err, provider.ErrProviderUnavailable) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return &provider.UnavailableError{Chain: chain, Err: err}
}

// ---- Wallet ----

// SyncWallet syncs every ref concurrently and reports per-chain outcomes.
// Refs whose address is invalid are reported without I/O. The only error
// returned is address.ErrInvalidAddress when some chain has no valid address
// at all; nothing is fetched in that case.
func (i *Ingestor) SyncWallet(ctx context.Context, walletID string, refs []transactions.Ref) (*SyncReport, error) {
	if err := i.precheck(refs); err != nil {
		return nil, err
	}

	ctx = logging.WithLogger(logging.WithWallet(ctx, walletID), i.logger)
	ctx, span := traces.StartSpan(ctx, "ingest.SyncWallet", traces.WalletID(walletID), traces.Count("refs", len(refs)))
	defer span.End()

	report := &SyncReport{WalletID: walletID, StartedAt: i.now().UTC()}
	results := make([]*ChainResult, len(refs))

	var g errgroup.Group
	g.SetLimit(i.concurrency)
	for k, ref := range refs {
		g.Go(func() error {
			// per-chain failures live in the result slot, never in the group error
			results[k], _ = i.SyncChain(ctx, ref.Chain, ref.Address, 0)
			return nil
		})
	}
	_ = g.Wait()

	report.Chains = results
	for _, r := range results {
		report.Inserted += r.Inserted
		if r.OK() {
			report.Succeeded++
		} else {
			report.Failed++
		}
	}
	report.FinishedAt = i.now().UTC()
	span.SetAttributes(traces.Count("chains.failed", report.Failed), traces.Count("tx.inserted", report.Inserted))

	logging.L(ctx).Info("wallet synced",
		"chains", len(results), "succeeded", report.Succeeded, "failed", report.Failed, "inserted", report.Inserted)
	return report, nil
}

// precheck rejects a request where a chain's only addresses are all invalid.
func (i *Ingestor) precheck(refs []transactions.Ref) error {
	valid := make(map[chains.ID]bool)
	firstErr := make(map[chains.ID]error)
	for _, ref := range refs {
		fam, err := i.pool.Registry().Family(ref.Chain)
		if err != nil {
			continue // reported per chain
		}
		if r := address.ValidateFamily(ref.Address, fam); r.Valid {
			valid[ref.Chain] = true
		} else if firstErr[ref.Chain] == nil {
			firstErr[ref.Chain] = r.Err()
		}
	}
	for _, ref := range refs {
		if err := firstErr[ref.Chain]; err != nil && !valid[ref.Chain] {
			return fmt.Errorf("%s: %w", ref.Chain, err)
		}
	}
	return nil
}

// ---- Classification ----

// ClassifyHash fetches one transaction and runs the bridge detector on it.
func (i *Ingestor) ClassifyHash(ctx context.Context, chain chains.ID, hash string) (bridge.Classification, error) {
	cfg, err := i.pool.Registry().Get(chain)
	if err != nil {
		return bridge.Classification{}, err
	}
	if cfg.Family == chains.AccountModel {
		hash = strings.ToLower(hash)
	}
	if err := i.pool.Ready(ctx, chain); err != nil {
		return bridge.Classification{}, err
	}
	src, err := newSource(ctx, i.pool, cfg)
	if err != nil {
		return bridge.Classification{}, err
	}
	p, err := src.Fetch(ctx, hash, "")
	if err != nil {
		return bridge.Classification{}, err
	}
	return i.detector.Classify(p.Evidence), nil
}
