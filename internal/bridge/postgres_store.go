package bridge

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/mbd888/chainwatch/internal/chains"
	"github.com/mbd888/chainwatch/internal/transactions"
)

// PostgresStore persists bridge transfers in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed transfer store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const transferColumns = `source_chain, source_tx_hash, dest_chain, dest_tx_hash, protocol,
	source_address, dest_address, token_symbol, amount, amount_usd, status, risk_score,
	initiated_at, updated_at`

// Upsert keeps a stored terminal status unless the incoming one is terminal too.
func (s *PostgresStore) Upsert(ctx context.Context, t *Transfer) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO bridge_transfers (`+transferColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (source_chain, source_tx_hash) DO UPDATE SET
			dest_chain = EXCLUDED.dest_chain,
			dest_tx_hash = EXCLUDED.dest_tx_hash,
			dest_address = EXCLUDED.dest_address,
			amount_usd = EXCLUDED.amount_usd,
			status = EXCLUDED.status,
			risk_score = EXCLUDED.risk_score,
			updated_at = EXCLUDED.updated_at
		WHERE bridge_transfers.status NOT IN ('completed', 'failed')
		   OR EXCLUDED.status IN ('completed', 'failed')
	`,
		string(t.SourceChain), t.SourceTxHash, nullString(string(t.DestinationChain)), nullString(t.DestinationTxHash),
		t.Protocol, t.SourceAddress, nullString(t.DestinationAddress), t.TokenSymbol,
		t.Amount, t.AmountUSD, string(t.Status), t.RiskScore, t.InitiatedAt, t.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert bridge transfer %s: %w", t.SourceTxHash, err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, chain chains.ID, hash string) (*Transfer, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+transferColumns+` FROM bridge_transfers WHERE source_chain = $1 AND source_tx_hash = $2`,
		string(chain), hash)
	t, err := scanTransfer(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return t, err
}

func (s *PostgresStore) ListBySources(ctx context.Context, refs []transactions.Ref) ([]*Transfer, error) {
	var out []*Transfer
	for _, r := range refs {
		rows, err := s.db.QueryContext(ctx, `
			SELECT `+transferColumns+` FROM bridge_transfers
			WHERE source_chain = $1 AND lower(source_address) = lower($2)
		`, string(r.Chain), r.Address)
		if err != nil {
			return nil, fmt.Errorf("list bridge transfers: %w", err)
		}
		ts, err := scanTransfers(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ts...)
	}
	sortOldestFirst(out)
	return out, nil
}

func (s *PostgresStore) DestinationUsed(ctx context.Context, chain chains.ID, hash string) (bool, error) {
	var used bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM bridge_transfers WHERE dest_chain = $1 AND dest_tx_hash = $2)`,
		string(chain), hash).Scan(&used)
	if err != nil {
		return false, fmt.Errorf("check destination: %w", err)
	}
	return used, nil
}

func (s *PostgresStore) DeleteBySources(ctx context.Context, refs []transactions.Ref) (int, error) {
	total := 0
	for _, r := range refs {
		res, err := s.db.ExecContext(ctx,
			`DELETE FROM bridge_transfers WHERE source_chain = $1 AND lower(source_address) = lower($2)`,
			string(r.Chain), r.Address)
		if err != nil {
			return total, fmt.Errorf("delete bridge transfers: %w", err)
		}
		n, _ := res.RowsAffected()
		total += int(n)
	}
	return total, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTransfer(row scanner) (*Transfer, error) {
	var (
		t                 Transfer
		srcChain, status  string
		destChain, destTx sql.NullString
		destAddr          sql.NullString
	)
	if err := row.Scan(&srcChain, &t.SourceTxHash, &destChain, &destTx, &t.Protocol,
		&t.SourceAddress, &destAddr, &t.TokenSymbol, &t.Amount, &t.AmountUSD, &status, &t.RiskScore,
		&t.InitiatedAt, &t.UpdatedAt); err != nil {
		return nil, err
	}
	t.SourceChain = chains.ID(srcChain)
	t.DestinationChain = chains.ID(destChain.String)
	t.DestinationTxHash = destTx.String
	t.DestinationAddress = destAddr.String
	t.Status = Status(status)
	return &t, nil
}

func scanTransfers(rows *sql.Rows) ([]*Transfer, error) {
	defer func() { _ = rows.Close() }()
	var out []*Transfer
	for rows.Next() {
		t, err := scanTransfer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
