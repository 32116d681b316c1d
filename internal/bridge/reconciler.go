package bridge

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/mbd888/chainwatch/internal/chains"
	"github.com/mbd888/chainwatch/internal/transactions"
)

// InboundLister returns successful bridge-classified transactions received
// by an address, oldest first. transactions.Store satisfies it.
type InboundLister interface {
	ListInbound(ctx context.Context, chain chains.ID, address string, since time.Time) ([]*transactions.Transaction, error)
}

// Reconciler correlates open transfers with inbound bridge transactions on
// the wallet's other chains. Correlation is best-effort: a transfer that
// never matches simply stays pending.
type Reconciler struct {
	store        Store
	inbound      InboundLister
	detector     *Detector
	cfg          ScoreConfig
	pendingAfter time.Duration
	window       time.Duration
	logger       *slog.Logger
}

// ReconcilerOption configures a Reconciler.
type ReconcilerOption func(*Reconciler)

// WithPendingAfter sets how long a transfer stays initiated before it is
// considered pending.
func WithPendingAfter(d time.Duration) ReconcilerOption {
	return func(r *Reconciler) { r.pendingAfter = d }
}

// WithMatchWindow bounds how long after initiation an inbound transaction
// may complete a transfer.
func WithMatchWindow(d time.Duration) ReconcilerOption {
	return func(r *Reconciler) { r.window = d }
}

// WithReconcilerLogger sets the logger.
func WithReconcilerLogger(l *slog.Logger) ReconcilerOption {
	return func(r *Reconciler) { r.logger = l }
}

// NewReconciler creates a reconciler with a 10 minute pending grace and a
// 24 hour match window.
func NewReconciler(store Store, inbound InboundLister, detector *Detector, cfg ScoreConfig, opts ...ReconcilerOption) *Reconciler {
	r := &Reconciler{
		store:        store,
		inbound:      inbound,
		detector:     detector,
		cfg:          cfg,
		pendingAfter: 10 * time.Minute,
		window:       24 * time.Hour,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("component", "bridge.reconciler")
	return r
}

// ReconcileResult counts the transitions made by one run.
type ReconcileResult struct {
	Pending   int `json:"pending"`
	Completed int `json:"completed"`
}

// Reconcile advances every open transfer sourced from refs. refs are all of
// one wallet's addresses; a completion must land on one of them.
func (r *Reconciler) Reconcile(ctx context.Context, refs []transactions.Ref, now time.Time) (ReconcileResult, error) {
	var res ReconcileResult

	all, err := r.store.ListBySources(ctx, refs)
	if err != nil {
		return res, err
	}
	var open []*Transfer
	for _, t := range all {
		if !t.Status.Terminal() {
			open = append(open, t)
		}
	}
	if len(open) == 0 {
		return res, nil
	}

	inbound, err := r.loadInbound(ctx, refs, open[0].InitiatedAt)
	if err != nil {
		return res, err
	}
	claimed := make(map[string]bool)

	for _, t := range open {
		if match := r.findMatch(ctx, t, refs, inbound, claimed); match != nil {
			claimed[match.tx.Key()] = true
			t.Status = StatusCompleted
			t.DestinationChain = match.tx.Chain
			t.DestinationTxHash = match.tx.Hash
			t.DestinationAddress = match.address
			t.RiskScore = ScoreTransfer(r.cfg, t, r.detector.KnownProtocol)
			t.UpdatedAt = now
			if err := r.store.Upsert(ctx, t); err != nil {
				return res, err
			}
			res.Completed++
			r.logger.Info("bridge transfer completed",
				"protocol", t.Protocol, "source", t.Key(), "destination", match.tx.Key())
			continue
		}

		if t.Status == StatusInitiated && now.Sub(t.InitiatedAt) >= r.pendingAfter {
			t.Status = StatusPending
			t.UpdatedAt = now
			if err := r.store.Upsert(ctx, t); err != nil {
				return res, err
			}
			res.Pending++
		}
	}
	return res, nil
}

type inboundMatch struct {
	tx      *transactions.Transaction
	address string
}

func (r *Reconciler) loadInbound(ctx context.Context, refs []transactions.Ref, since time.Time) (map[transactions.Ref][]*transactions.Transaction, error) {
	out := make(map[transactions.Ref][]*transactions.Transaction, len(refs))
	for _, ref := range refs {
		txs, err := r.inbound.ListInbound(ctx, ref.Chain, ref.Address, since)
		if err != nil {
			return nil, fmt.Errorf("list inbound on %s: %w", ref.Chain, err)
		}
		out[ref] = txs
	}
	return out, nil
}

// findMatch returns the earliest unclaimed inbound transaction of the same
// protocol on another chain within the window.
func (r *Reconciler) findMatch(ctx context.Context, t *Transfer, refs []transactions.Ref,
	inbound map[transactions.Ref][]*transactions.Transaction, claimed map[string]bool) *inboundMatch {
	deadline := t.InitiatedAt.Add(r.window)

	var best *inboundMatch
	for _, ref := range refs {
		if ref.Chain == t.SourceChain {
			continue
		}
		if t.DestinationKnown() && ref.Chain != t.DestinationChain {
			continue
		}
		for _, tx := range inbound[ref] {
			if tx.Timestamp.Before(t.InitiatedAt) {
				continue
			}
			if tx.Timestamp.After(deadline) {
				break
			}
			if tx.BridgeProtocol != t.Protocol || claimed[tx.Key()] {
				continue
			}
			if used, err := r.store.DestinationUsed(ctx, tx.Chain, tx.Hash); err != nil || used {
				if err != nil {
					r.logger.Warn("destination lookup failed", "tx", tx.Key(), "error", err)
				}
				continue
			}
			if best == nil || tx.Timestamp.Before(best.tx.Timestamp) {
				best = &inboundMatch{tx: tx, address: ref.Address}
			}
			break
		}
	}
	return best
}
