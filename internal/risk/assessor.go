package risk

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/mbd888/chainwatch/internal/bridge"
	"github.com/mbd888/chainwatch/internal/chains"
	"github.com/mbd888/chainwatch/internal/metrics"
	"github.com/mbd888/chainwatch/internal/transactions"
)

// TransactionLister reads stored transactions. transactions.Store satisfies it.
type TransactionLister interface {
	ListByAddress(ctx context.Context, chain chains.ID, address string, limit int) ([]*transactions.Transaction, error)
}

// TransferLister reads stored bridge transfers. bridge.Store satisfies it.
type TransferLister interface {
	ListBySources(ctx context.Context, refs []transactions.Ref) ([]*bridge.Transfer, error)
}

// Assessor loads a wallet's stored history, runs the engine and persists
// the result.
type Assessor struct {
	engine       *Engine
	txs          TransactionLister
	transfers    TransferLister
	store        Store
	historyLimit int
	logger       *slog.Logger
}

// NewAssessor creates an assessor reading at most historyLimit transactions
// per address (0 for no limit).
func NewAssessor(engine *Engine, txs TransactionLister, transfers TransferLister, store Store, historyLimit int, logger *slog.Logger) *Assessor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Assessor{
		engine:       engine,
		txs:          txs,
		transfers:    transfers,
		store:        store,
		historyLimit: historyLimit,
		logger:       logger.With("component", "risk.assessor"),
	}
}

// Engine returns the scoring engine.
func (s *Assessor) Engine() *Engine { return s.engine }

// Assess scores a wallet and overwrites its stored assessment. A chain whose
// history cannot be read is listed in Skipped and scored as empty.
func (s *Assessor) Assess(ctx context.Context, walletID string, refs []transactions.Ref, now time.Time) (*Assessment, error) {
	in := Input{WalletID: walletID, Addresses: refs}

	failed := make(map[chains.ID]bool)
	for _, ref := range refs {
		if failed[ref.Chain] {
			continue
		}
		txs, err := s.txs.ListByAddress(ctx, ref.Chain, ref.Address, s.historyLimit)
		if err != nil {
			failed[ref.Chain] = true
			in.Skipped = append(in.Skipped, Skip{Chain: ref.Chain, Reason: err.Error()})
			s.logger.Warn("transaction history unavailable", "wallet_id", walletID, "chain", ref.Chain, "error", err)
			continue
		}
		in.Transactions = append(in.Transactions, txs...)
	}

	transfers, err := s.transfers.ListBySources(ctx, refs)
	if err != nil {
		return nil, fmt.Errorf("load bridge transfers: %w", err)
	}
	in.Transfers = transfers

	a := s.engine.Analyze(in, now)
	if err := s.store.Save(ctx, a); err != nil {
		return nil, fmt.Errorf("save assessment: %w", err)
	}

	metrics.RiskAssessmentsTotal.WithLabelValues(string(a.Level)).Inc()
	metrics.RiskScore.Observe(a.Score)
	s.logger.Info("wallet assessed",
		"wallet_id", walletID, "score", a.Score, "level", a.Level,
		"transactions", len(in.Transactions), "transfers", len(transfers), "skipped", len(in.Skipped))
	return a, nil
}
