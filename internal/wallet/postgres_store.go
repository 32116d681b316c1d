package wallet

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/mbd888/chainwatch/internal/chains"
	"github.com/mbd888/chainwatch/internal/transactions"
)

// PostgresStore persists wallets in PostgreSQL across the wallets and
// wallet_addresses tables.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed wallet store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) Create(ctx context.Context, w *Wallet) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO wallets (id, label, tags, primary_chain, primary_address, total_usd, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, w.ID, w.Label, pq.Array(w.Tags), string(w.PrimaryChain), w.PrimaryAddress,
		w.TotalUSD.StringFixed(2), w.CreatedAt, w.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert wallet: %w", err)
	}

	for _, ref := range w.Addresses {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO wallet_addresses (wallet_id, chain, address, added_at) VALUES ($1, $2, $3, $4)
		`, w.ID, string(ref.Chain), ref.Address, w.CreatedAt); err != nil {
			return fmt.Errorf("failed to insert wallet address: %w", err)
		}
	}
	return tx.Commit()
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Wallet, error) {
	w, err := scanWallet(p.db.QueryRowContext(ctx, `SELECT `+walletColumns+` FROM wallets WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get wallet: %w", err)
	}
	if err := p.loadAddresses(ctx, []*Wallet{w}); err != nil {
		return nil, err
	}
	return w, nil
}

func (p *PostgresStore) List(ctx context.Context, limit, offset int) ([]*Wallet, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+walletColumns+` FROM wallets
		ORDER BY created_at, id
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list wallets: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*Wallet
	for rows.Next() {
		w, err := scanWallet(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := p.loadAddresses(ctx, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (p *PostgresStore) Count(ctx context.Context) (int, error) {
	var n int
	err := p.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM wallets`).Scan(&n)
	return n, err
}

func (p *PostgresStore) AddAddress(ctx context.Context, id string, ref transactions.Ref, at time.Time) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `UPDATE wallets SET updated_at = $2 WHERE id = $1`, id, at)
	if err != nil {
		return fmt.Errorf("failed to touch wallet: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}

	res, err = tx.ExecContext(ctx, `
		INSERT INTO wallet_addresses (wallet_id, chain, address, added_at) VALUES ($1, $2, $3, $4)
		ON CONFLICT DO NOTHING
	`, id, string(ref.Chain), ref.Address, at)
	if err != nil {
		return fmt.Errorf("failed to insert wallet address: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrDuplicateAddress
	}
	return tx.Commit()
}

func (p *PostgresStore) FindByAddress(ctx context.Context, ref transactions.Ref) ([]string, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT wallet_id FROM wallet_addresses WHERE chain = $1 AND address = $2 ORDER BY wallet_id
	`, string(ref.Chain), ref.Address)
	if err != nil {
		return nil, fmt.Errorf("failed to look up address: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (p *PostgresStore) UpdateBalance(ctx context.Context, id string, totalUSD decimal.Decimal, at time.Time) error {
	return p.update(ctx, `
		UPDATE wallets SET total_usd = $2, balance_updated_at = $3, updated_at = $3 WHERE id = $1
	`, id, totalUSD.StringFixed(2), at)
}

func (p *PostgresStore) UpdateRisk(ctx context.Context, id string, score float64, level string, at time.Time) error {
	return p.update(ctx, `
		UPDATE wallets SET risk_score = $2, risk_level = $3, last_analyzed_at = $4, updated_at = $4 WHERE id = $1
	`, id, score, level, at)
}

func (p *PostgresStore) Delete(ctx context.Context, id string) error {
	return p.update(ctx, `DELETE FROM wallets WHERE id = $1`, id)
}

func (p *PostgresStore) update(ctx context.Context, query string, args ...any) error {
	res, err := p.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update wallet: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *PostgresStore) loadAddresses(ctx context.Context, ws []*Wallet) error {
	if len(ws) == 0 {
		return nil
	}
	byID := make(map[string]*Wallet, len(ws))
	ids := make([]string, len(ws))
	for i, w := range ws {
		byID[w.ID] = w
		ids[i] = w.ID
	}

	rows, err := p.db.QueryContext(ctx, `
		SELECT wallet_id, chain, address FROM wallet_addresses
		WHERE wallet_id = ANY($1)
		ORDER BY added_at, chain, address
	`, pq.Array(ids))
	if err != nil {
		return fmt.Errorf("failed to load wallet addresses: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var id, chain, address string
		if err := rows.Scan(&id, &chain, &address); err != nil {
			return err
		}
		if w := byID[id]; w != nil {
			w.Addresses = append(w.Addresses, transactions.Ref{Chain: chains.ID(chain), Address: address})
		}
	}
	return rows.Err()
}

const walletColumns = `id, label, tags, primary_chain, primary_address, total_usd, balance_updated_at,
	risk_score, risk_level, last_analyzed_at, created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanWallet(row scanner) (*Wallet, error) {
	var (
		w            Wallet
		primaryChain string
		total        string
		balanceAt    sql.NullTime
		score        sql.NullFloat64
		level        sql.NullString
		analyzedAt   sql.NullTime
	)
	err := row.Scan(&w.ID, &w.Label, pq.Array(&w.Tags), &primaryChain, &w.PrimaryAddress, &total,
		&balanceAt, &score, &level, &analyzedAt, &w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		return nil, err
	}
	w.PrimaryChain = chains.ID(primaryChain)
	if w.TotalUSD, err = decimal.NewFromString(total); err != nil {
		return nil, fmt.Errorf("failed to parse total: %w", err)
	}
	if balanceAt.Valid {
		t := balanceAt.Time.UTC()
		w.BalanceUpdatedAt = &t
	}
	if score.Valid {
		s := score.Float64
		w.RiskScore = &s
	}
	w.RiskLevel = level.String
	if analyzedAt.Valid {
		t := analyzedAt.Time.UTC()
		w.LastAnalyzedAt = &t
	}
	w.CreatedAt = w.CreatedAt.UTC()
	w.UpdatedAt = w.UpdatedAt.UTC()
	return &w, nil
}
