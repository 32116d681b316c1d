package balance

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// PostgresStore persists balance snapshots in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed snapshot store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) Save(ctx context.Context, s *Snapshot) error {
	chainsJSON, err := json.Marshal(s.Chains)
	if err != nil {
		return fmt.Errorf("failed to marshal chain balances: %w", err)
	}
	skippedJSON, err := json.Marshal(s.Skipped)
	if err != nil {
		return fmt.Errorf("failed to marshal skipped chains: %w", err)
	}
	_, err = p.db.ExecContext(ctx, `
		INSERT INTO balance_snapshots (wallet_id, chains, total_usd, skipped, refreshed_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (wallet_id) DO UPDATE SET
			chains = EXCLUDED.chains,
			total_usd = EXCLUDED.total_usd,
			skipped = EXCLUDED.skipped,
			refreshed_at = EXCLUDED.refreshed_at
	`, s.WalletID, chainsJSON, s.TotalUSD.StringFixed(2), skippedJSON, s.RefreshedAt)
	if err != nil {
		return fmt.Errorf("failed to save balance snapshot: %w", err)
	}
	return nil
}

func (p *PostgresStore) Get(ctx context.Context, walletID string) (*Snapshot, error) {
	var (
		chainsJSON  []byte
		skippedJSON []byte
		total       string
	)
	s := &Snapshot{WalletID: walletID}
	err := p.db.QueryRowContext(ctx, `
		SELECT chains, total_usd, skipped, refreshed_at FROM balance_snapshots WHERE wallet_id = $1
	`, walletID).Scan(&chainsJSON, &total, &skippedJSON, &s.RefreshedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get balance snapshot: %w", err)
	}
	if err := json.Unmarshal(chainsJSON, &s.Chains); err != nil {
		return nil, fmt.Errorf("failed to decode chain balances: %w", err)
	}
	if err := json.Unmarshal(skippedJSON, &s.Skipped); err != nil {
		return nil, fmt.Errorf("failed to decode skipped chains: %w", err)
	}
	if s.TotalUSD, err = decimal.NewFromString(total); err != nil {
		return nil, fmt.Errorf("failed to parse total: %w", err)
	}
	s.RefreshedAt = s.RefreshedAt.UTC()
	return s, nil
}

func (p *PostgresStore) Delete(ctx context.Context, walletID string) error {
	_, err := p.db.ExecContext(ctx, `DELETE FROM balance_snapshots WHERE wallet_id = $1`, walletID)
	return err
}
