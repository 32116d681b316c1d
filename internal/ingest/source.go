package ingest

import (
	"context"
	"fmt"
	"strings"

	"github.com/mbd888/chainwatch/internal/bridge"
	"github.com/mbd888/chainwatch/internal/chains"
	"github.com/mbd888/chainwatch/internal/provider"
	"github.com/mbd888/chainwatch/internal/transactions"
)

// Parsed is a canonical transaction plus the raw evidence the bridge
// detector needs.
type Parsed struct {
	Tx       *transactions.Transaction
	Evidence bridge.Evidence
}

// Source lists and fetches transactions of one chain, parsing them with the
// chain family's parser. The family branch happens once, in newSource.
type Source interface {
	// Identifiers returns up to limit transaction ids involving address, most
	// recent first, in the form they are stored under.
	Identifiers(ctx context.Context, address string, limit int) ([]string, error)
	Fetch(ctx context.Context, id, tracked string) (*Parsed, error)
}

func newSource(ctx context.Context, pool *provider.Pool, cfg chains.Config) (Source, error) {
	switch cfg.Family {
	case chains.AccountModel:
		c, err := pool.Account(ctx, cfg.ID)
		if err != nil {
			return nil, err
		}
		return &accountSource{pool: pool, cfg: cfg, client: c}, nil
	case chains.InstructionModel:
		c, err := pool.Instruction(ctx, cfg.ID)
		if err != nil {
			return nil, err
		}
		return &instructionSource{pool: pool, cfg: cfg, client: c}, nil
	default:
		return nil, fmt.Errorf("%w: %s", provider.ErrWrongFamily, cfg.Family)
	}
}

type accountSource struct {
	pool   *provider.Pool
	cfg    chains.Config
	client provider.AccountClient
}

func (s *accountSource) Identifiers(ctx context.Context, address string, limit int) ([]string, error) {
	var hashes []string
	err := s.pool.Do(ctx, s.cfg.ID, func(ctx context.Context) error {
		var err error
		hashes, err = s.client.TransactionHashes(ctx, address, limit)
		return err
	})
	if err != nil {
		return nil, err
	}
	for i, h := range hashes {
		hashes[i] = strings.ToLower(h)
	}
	return hashes, nil
}

func (s *accountSource) Fetch(ctx context.Context, id, tracked string) (*Parsed, error) {
	var raw *provider.AccountTx
	err := s.pool.Do(ctx, s.cfg.ID, func(ctx context.Context) error {
		var err error
		raw, err = s.client.Transaction(ctx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return ParseAccount(s.cfg, raw, tracked)
}

type instructionSource struct {
	pool   *provider.Pool
	cfg    chains.Config
	client provider.InstructionClient
}

func (s *instructionSource) Identifiers(ctx context.Context, address string, limit int) ([]string, error) {
	var sigs []string
	err := s.pool.Do(ctx, s.cfg.ID, func(ctx context.Context) error {
		var err error
		sigs, err = s.client.Signatures(ctx, address, limit)
		return err
	})
	return sigs, err
}

func (s *instructionSource) Fetch(ctx context.Context, id, tracked string) (*Parsed, error) {
	var raw *provider.InstructionTx
	err := s.pool.Do(ctx, s.cfg.ID, func(ctx context.Context) error {
		var err error
		raw, err = s.client.Transaction(ctx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return ParseInstruction(s.cfg, raw, tracked)
}
