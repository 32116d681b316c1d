package wallet

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mbd888/chainwatch/internal/address"
	"github.com/mbd888/chainwatch/internal/idgen"
	"github.com/mbd888/chainwatch/internal/metrics"
	"github.com/mbd888/chainwatch/internal/transactions"
)

// TransactionPurger deletes stored transactions. transactions.Store satisfies it.
type TransactionPurger interface {
	DeleteByRefs(ctx context.Context, refs []transactions.Ref) (int, error)
}

// TransferPurger deletes stored bridge transfers. bridge.Store satisfies it.
type TransferPurger interface {
	DeleteBySources(ctx context.Context, refs []transactions.Ref) (int, error)
}

// RecordPurger deletes a per-wallet record. balance.Store and risk.Store
// satisfy it.
type RecordPurger interface {
	Delete(ctx context.Context, walletID string) error
}

// CreateRequest describes a new wallet. The first address becomes the
// primary address.
type CreateRequest struct {
	Label     string             `json:"label"`
	Tags      []string           `json:"tags"`
	Addresses []transactions.Ref `json:"addresses" binding:"required"`
}

// Service manages the wallet lifecycle.
type Service struct {
	store     Store
	validator *address.Validator
	txs       TransactionPurger
	transfers TransferPurger
	records   []RecordPurger
	logger    *slog.Logger
	now       func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithCascade sets the stores cleared when a wallet is deleted.
func WithCascade(txs TransactionPurger, transfers TransferPurger, records ...RecordPurger) Option {
	return func(s *Service) {
		s.txs = txs
		s.transfers = transfers
		s.records = records
	}
}

// WithLogger sets the service logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates a wallet service.
func NewService(store Store, validator *address.Validator, opts ...Option) *Service {
	s := &Service{
		store:     store,
		validator: validator,
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "wallet")
	return s
}

// Create validates and normalizes every address, then stores the wallet.
// Duplicate addresses in the request are collapsed.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*Wallet, error) {
	if len(req.Addresses) == 0 {
		return nil, ErrNoAddresses
	}

	refs := make([]transactions.Ref, 0, len(req.Addresses))
	seen := make(map[transactions.Ref]bool, len(req.Addresses))
	for _, in := range req.Addresses {
		ref, err := s.normalize(in)
		if err != nil {
			return nil, err
		}
		if seen[ref] {
			continue
		}
		seen[ref] = true
		refs = append(refs, ref)
	}

	now := s.now().UTC()
	w := &Wallet{
		ID:             idgen.WithPrefix("wal_"),
		Label:          strings.TrimSpace(req.Label),
		Tags:           cleanTags(req.Tags),
		PrimaryChain:   refs[0].Chain,
		PrimaryAddress: refs[0].Address,
		Addresses:      refs,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.store.Create(ctx, w); err != nil {
		return nil, err
	}
	s.refreshGauge(ctx)
	s.logger.Info("wallet created", "wallet_id", w.ID, "addresses", len(refs))
	return w, nil
}

// Get returns a wallet by id.
func (s *Service) Get(ctx context.Context, id string) (*Wallet, error) {
	return s.store.Get(ctx, id)
}

// List returns wallets oldest first.
func (s *Service) List(ctx context.Context, limit, offset int) ([]*Wallet, error) {
	return s.store.List(ctx, limit, offset)
}

// AddAddress validates ref and attaches it to the wallet.
func (s *Service) AddAddress(ctx context.Context, id string, in transactions.Ref) (*Wallet, error) {
	ref, err := s.normalize(in)
	if err != nil {
		return nil, err
	}
	if err := s.store.AddAddress(ctx, id, ref, s.now().UTC()); err != nil {
		return nil, err
	}
	return s.store.Get(ctx, id)
}

// Delete removes the wallet together with its balance snapshot and
// assessment. Transactions and bridge transfers are removed only for
// addresses no other wallet tracks.
func (s *Service) Delete(ctx context.Context, id string) error {
	w, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}

	exclusive, err := s.exclusiveRefs(ctx, w)
	if err != nil {
		return err
	}
	if len(exclusive) > 0 {
		if s.transfers != nil {
			if _, err := s.transfers.DeleteBySources(ctx, exclusive); err != nil {
				return fmt.Errorf("delete bridge transfers: %w", err)
			}
		}
		if s.txs != nil {
			if _, err := s.txs.DeleteByRefs(ctx, exclusive); err != nil {
				return fmt.Errorf("delete transactions: %w", err)
			}
		}
	}
	for _, r := range s.records {
		if err := r.Delete(ctx, id); err != nil {
			return fmt.Errorf("delete wallet records: %w", err)
		}
	}

	if err := s.store.Delete(ctx, id); err != nil {
		return err
	}
	s.refreshGauge(ctx)
	s.logger.Info("wallet deleted", "wallet_id", id, "purged_addresses", len(exclusive))
	return nil
}

// RecordBalance stores the latest total USD value on the wallet.
func (s *Service) RecordBalance(ctx context.Context, id string, totalUSD decimal.Decimal, at time.Time) error {
	return s.store.UpdateBalance(ctx, id, totalUSD.Round(2), at.UTC())
}

// RecordRisk stores the latest composite score and level on the wallet.
func (s *Service) RecordRisk(ctx context.Context, id string, score float64, level string, at time.Time) error {
	return s.store.UpdateRisk(ctx, id, score, level, at.UTC())
}

func (s *Service) normalize(in transactions.Ref) (transactions.Ref, error) {
	addr, err := s.validator.Normalize(in.Address, in.Chain)
	if err != nil {
		return transactions.Ref{}, &AddressError{Chain: in.Chain, Address: in.Address, Err: err}
	}
	return transactions.Ref{Chain: in.Chain, Address: addr}, nil
}

func (s *Service) exclusiveRefs(ctx context.Context, w *Wallet) ([]transactions.Ref, error) {
	var out []transactions.Ref
	for _, ref := range w.Addresses {
		ids, err := s.store.FindByAddress(ctx, ref)
		if err != nil {
			return nil, err
		}
		shared := false
		for _, other := range ids {
			if other != w.ID {
				shared = true
				break
			}
		}
		if !shared {
			out = append(out, ref)
		}
	}
	return out, nil
}

func (s *Service) refreshGauge(ctx context.Context) {
	if n, err := s.store.Count(ctx); err == nil {
		metrics.TrackedWallets.Set(float64(n))
	}
}

func cleanTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	seen := make(map[string]bool, len(tags))
	for _, t := range tags {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}
