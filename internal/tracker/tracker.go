// Package tracker orchestrates the per-wallet workflows behind the API:
// transaction sync, balance refresh, and risk assessment.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mbd888/chainwatch/internal/address"
	"github.com/mbd888/chainwatch/internal/balance"
	"github.com/mbd888/chainwatch/internal/bridge"
	"github.com/mbd888/chainwatch/internal/chains"
	"github.com/mbd888/chainwatch/internal/events"
	"github.com/mbd888/chainwatch/internal/ingest"
	"github.com/mbd888/chainwatch/internal/logging"
	"github.com/mbd888/chainwatch/internal/provider"
	"github.com/mbd888/chainwatch/internal/risk"
	"github.com/mbd888/chainwatch/internal/syncutil"
	"github.com/mbd888/chainwatch/internal/traces"
	"github.com/mbd888/chainwatch/internal/wallet"
)

// Deps are the components the tracker drives.
type Deps struct {
	Wallets     *wallet.Service
	Ingestor    *ingest.Ingestor
	Reconciler  *bridge.Reconciler
	Balances    *balance.Aggregator
	Snapshots   balance.Store
	Assessor    *risk.Assessor
	Assessments risk.Store
	Pool        *provider.Pool
	Emitter     *events.Emitter // optional
}

// Tracker is the facade used by the HTTP handlers, the MCP server and the
// re-sync worker.
type Tracker struct {
	Deps
	validator   *address.Validator
	locks       *syncutil.KeyedMutex
	syncTimeout time.Duration
	pageSize    int
	logger      *slog.Logger
	now         func() time.Time
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithSyncTimeout bounds one wallet sync. Zero disables the bound.
func WithSyncTimeout(d time.Duration) Option {
	return func(t *Tracker) { t.syncTimeout = d }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(t *Tracker) { t.logger = l }
}

// WithClock overrides the time source used for assessments and
// reconciliation.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// New creates a tracker.
func New(deps Deps, opts ...Option) *Tracker {
	t := &Tracker{
		Deps:        deps,
		validator:   address.NewValidator(deps.Pool.Registry()),
		locks:       syncutil.NewKeyedMutex(),
		syncTimeout: 60 * time.Second,
		pageSize:    100,
		logger:      slog.Default(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	t.logger = t.logger.With("component", "tracker")
	return t
}

// ---- Sync ----

// SyncResult is the outcome of SyncWalletTransactions.
type SyncResult struct {
	*ingest.SyncReport
	Bridges        bridge.ReconcileResult `json:"bridges"`
	ReconcileError string                 `json:"reconcileError,omitempty"`
}

// SyncWalletTransactions fetches new transactions for every address of the
// wallet, then advances its open bridge transfers. Per-chain failures are
// reported in the result.
func (t *Tracker) SyncWalletTransactions(ctx context.Context, walletID string) (*SyncResult, error) {
	w, err := t.Wallets.Get(ctx, walletID)
	if err != nil {
		return nil, err
	}

	unlock, err := t.locks.LockContext(ctx, "sync:"+w.ID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	syncCtx := ctx
	if t.syncTimeout > 0 {
		var cancel context.CancelFunc
		syncCtx, cancel = context.WithTimeout(ctx, t.syncTimeout)
		defer cancel()
	}

	report, err := t.Ingestor.SyncWallet(syncCtx, w.ID, w.Refs())
	if err != nil {
		return nil, err
	}
	res := &SyncResult{SyncReport: report}

	if t.Reconciler != nil {
		// runs even when the sync deadline was hit
		res.Bridges, err = t.Reconciler.Reconcile(context.WithoutCancel(ctx), w.Refs(), t.now())
		if err != nil {
			res.ReconcileError = err.Error()
			t.logger.Warn("bridge reconciliation failed", "wallet_id", w.ID, "error", err)
		}
	}
	return res, nil
}

// ---- Balances ----

// RefreshBalances reads the wallet's current holdings and records the total.
func (t *Tracker) RefreshBalances(ctx context.Context, walletID string) (*balance.Report, error) {
	w, err := t.Wallets.Get(ctx, walletID)
	if err != nil {
		return nil, err
	}
	report, err := t.Balances.Refresh(ctx, w.ID, w.Refs())
	if err != nil {
		return nil, err
	}
	snap := report.Snapshot
	if err := t.Wallets.RecordBalance(ctx, w.ID, snap.TotalUSD, snap.RefreshedAt); err != nil {
		return nil, fmt.Errorf("record balance: %w", err)
	}
	return report, nil
}

// GetBalances returns the last stored snapshot.
func (t *Tracker) GetBalances(ctx context.Context, walletID string) (*balance.Snapshot, error) {
	if _, err := t.Wallets.Get(ctx, walletID); err != nil {
		return nil, err
	}
	return t.Snapshots.Get(ctx, walletID)
}

// BatchResult summarizes a run over every wallet.
type BatchResult struct {
	Processed int               `json:"processed"`
	Failed    int               `json:"failed"`
	Errors    map[string]string `json:"errors,omitempty"`
}

func (r *BatchResult) record(walletID string, err error) {
	if err == nil {
		r.Processed++
		return
	}
	r.Failed++
	if r.Errors == nil {
		r.Errors = make(map[string]string)
	}
	r.Errors[walletID] = err.Error()
}

// UpdateAllBalances refreshes every tracked wallet. A failing wallet does
// not stop the run.
func (t *Tracker) UpdateAllBalances(ctx context.Context) (*BatchResult, error) {
	res := &BatchResult{}
	err := t.eachWallet(ctx, func(w *wallet.Wallet) {
		_, err := t.RefreshBalances(ctx, w.ID)
		res.record(w.ID, err)
	})
	return res, err
}

// ---- Risk ----

// AssessWalletRisk scores the wallet from its stored history, records the
// result on the wallet and publishes the assessment events. Concurrent
// assessments of one wallet are serialized.
func (t *Tracker) AssessWalletRisk(ctx context.Context, walletID string) (*risk.Assessment, error) {
	w, err := t.Wallets.Get(ctx, walletID)
	if err != nil {
		return nil, err
	}

	ctx = logging.WithWallet(ctx, w.ID)
	ctx, span := traces.StartSpan(ctx, "tracker.AssessWalletRisk", traces.WalletID(w.ID))
	defer span.End()

	unlock, err := t.locks.LockContext(ctx, "assess:"+w.ID)
	if err != nil {
		traces.Fail(span, err)
		return nil, err
	}
	defer unlock()

	a, err := t.Assessor.Assess(ctx, w.ID, w.Refs(), t.now().UTC())
	if err != nil {
		traces.Fail(span, err)
		return nil, err
	}
	if err := t.Wallets.RecordRisk(ctx, w.ID, a.Score, string(a.Level), a.AssessedAt); err != nil {
		traces.Fail(span, err)
		return nil, fmt.Errorf("record risk: %w", err)
	}
	t.Emitter.EmitAssessment(ctx, a, w.Label)
	return a, nil
}

// GetWalletRisk returns the stored assessment.
func (t *Tracker) GetWalletRisk(ctx context.Context, walletID string) (*risk.Assessment, error) {
	if _, err := t.Wallets.Get(ctx, walletID); err != nil {
		return nil, err
	}
	return t.Assessments.Get(ctx, walletID)
}

// HighRiskWallet is one row of the high-risk listing.
type HighRiskWallet struct {
	WalletID       string     `json:"walletId"`
	Label          string     `json:"label,omitempty"`
	PrimaryChain   chains.ID  `json:"primaryChain,omitempty"`
	PrimaryAddress string     `json:"primaryAddress,omitempty"`
	Score          float64    `json:"overallScore"`
	Level          risk.Level `json:"level"`
	Patterns       []string   `json:"patterns"`
	AssessedAt     time.Time  `json:"assessedAt"`
}

// GetHighRiskWallets lists assessments scoring at least minScore, highest
// first.
func (t *Tracker) GetHighRiskWallets(ctx context.Context, minScore float64, limit int) ([]HighRiskWallet, error) {
	list, err := t.Assessments.ListHighRisk(ctx, minScore, limit)
	if err != nil {
		return nil, err
	}
	out := make([]HighRiskWallet, 0, len(list))
	for _, a := range list {
		row := HighRiskWallet{
			WalletID:   a.WalletID,
			Score:      a.Score,
			Level:      a.Level,
			Patterns:   make([]string, 0, len(a.Patterns)),
			AssessedAt: a.AssessedAt,
		}
		for _, p := range a.Patterns {
			row.Patterns = append(row.Patterns, p.Kind)
		}
		if w, err := t.Wallets.Get(ctx, a.WalletID); err == nil {
			row.Label = w.Label
			row.PrimaryChain = w.PrimaryChain
			row.PrimaryAddress = w.PrimaryAddress
		} else if !errors.Is(err, wallet.ErrNotFound) {
			return nil, err
		}
		out = append(out, row)
	}
	return out, nil
}

// SyncAndAssess runs a full sync followed by an assessment for every
// wallet. It is the body of the scheduled re-sync job.
func (t *Tracker) SyncAndAssess(ctx context.Context) (*BatchResult, error) {
	res := &BatchResult{}
	err := t.eachWallet(ctx, func(w *wallet.Wallet) {
		if _, err := t.SyncWalletTransactions(ctx, w.ID); err != nil {
			res.record(w.ID, err)
			return
		}
		_, err := t.AssessWalletRisk(ctx, w.ID)
		res.record(w.ID, err)
	})
	return res, err
}

// ---- Chains ----

// ValidateAddress checks an address for a chain.
func (t *Tracker) ValidateAddress(addr string, chain chains.ID) address.Result {
	return t.validator.Validate(addr, chain)
}

// Chains lists the configured chains.
func (t *Tracker) Chains() []chains.Config {
	return t.Pool.Registry().All()
}

// ChainHealth probes a chain's active endpoint.
func (t *Tracker) ChainHealth(ctx context.Context, chain chains.ID) (provider.Health, error) {
	if !t.Pool.Registry().Has(chain) {
		return provider.Health{}, fmt.Errorf("%w: %s", chains.ErrUnknownChain, chain)
	}
	return t.Pool.TestHealth(ctx, chain), nil
}

// ClassifyBridge fetches one transaction and classifies it.
func (t *Tracker) ClassifyBridge(ctx context.Context, chain chains.ID, hash string) (bridge.Classification, error) {
	return t.Ingestor.ClassifyHash(ctx, chain, hash)
}

// eachWallet pages through all wallets until ctx is done.
func (t *Tracker) eachWallet(ctx context.Context, fn func(w *wallet.Wallet)) error {
	for offset := 0; ; offset += t.pageSize {
		page, err := t.Wallets.List(ctx, t.pageSize, offset)
		if err != nil {
			return err
		}
		for _, w := range page {
			if err := ctx.Err(); err != nil {
				return err
			}
			fn(w)
		}
		if len(page) < t.pageSize {
			return nil
		}
	}
}
