package risk

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

// PostgresStore persists the latest assessment per wallet in PostgreSQL.
// Sub-scores are stored as columns so the composite can be recomputed in
// SQL; the full assessment lives in the detail column.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed risk assessment store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Save(ctx context.Context, a *Assessment) error {
	detail, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("failed to marshal assessment: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO risk_assessments
			(wallet_id, overall_score, level, chain_score, bridge_score, reuse_score, timing_score, detail, assessed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (wallet_id) DO UPDATE SET
			overall_score = EXCLUDED.overall_score,
			level = EXCLUDED.level,
			chain_score = EXCLUDED.chain_score,
			bridge_score = EXCLUDED.bridge_score,
			reuse_score = EXCLUDED.reuse_score,
			timing_score = EXCLUDED.timing_score,
			detail = EXCLUDED.detail,
			assessed_at = EXCLUDED.assessed_at
	`,
		a.WalletID, a.Score, string(a.Level),
		a.SubScores.Chain, a.SubScores.Bridge, a.SubScores.Reuse, a.SubScores.Timing,
		detail, a.AssessedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save risk assessment: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, walletID string) (*Assessment, error) {
	var detail []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT detail FROM risk_assessments WHERE wallet_id = $1`, walletID).Scan(&detail)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get risk assessment: %w", err)
	}
	var a Assessment
	if err := json.Unmarshal(detail, &a); err != nil {
		return nil, fmt.Errorf("failed to decode risk assessment: %w", err)
	}
	return &a, nil
}

func (s *PostgresStore) ListHighRisk(ctx context.Context, minScore float64, limit int) ([]*Assessment, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT detail FROM risk_assessments
		WHERE overall_score >= $1
		ORDER BY overall_score DESC, wallet_id
		LIMIT $2
	`, minScore, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list high-risk wallets: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var result []*Assessment
	for rows.Next() {
		var detail []byte
		if err := rows.Scan(&detail); err != nil {
			return nil, err
		}
		var a Assessment
		if err := json.Unmarshal(detail, &a); err != nil {
			return nil, fmt.Errorf("failed to decode risk assessment: %w", err)
		}
		result = append(result, &a)
	}
	return result, rows.Err()
}

func (s *PostgresStore) Delete(ctx context.Context, walletID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM risk_assessments WHERE wallet_id = $1`, walletID)
	return err
}
