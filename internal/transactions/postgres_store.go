package transactions

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/mbd888/chainwatch/internal/chains"
)

// PostgresStore persists transactions in PostgreSQL. The schema lives in
// migrations/; touched addresses are a TEXT[] with a GIN index.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed transaction store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const txColumns = `chain, hash, block, ts, from_addr, to_addr, value, status, touched,
	token_transfers, is_bridge, bridge_protocol, risk_score, ingested_at`

func (s *PostgresStore) Insert(ctx context.Context, txs []*Transaction) (int, error) {
	if len(txs) == 0 {
		return 0, nil
	}
	dbTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin insert: %w", err)
	}
	defer func() { _ = dbTx.Rollback() }()

	stmt, err := dbTx.PrepareContext(ctx, `
		INSERT INTO transactions (`+txColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (chain, hash) DO NOTHING
	`)
	if err != nil {
		return 0, fmt.Errorf("prepare insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	inserted := 0
	for _, tx := range txs {
		transfers, err := json.Marshal(tx.TokenTransfers)
		if err != nil {
			return 0, fmt.Errorf("marshal token transfers: %w", err)
		}
		res, err := stmt.ExecContext(ctx,
			string(tx.Chain), tx.Hash, int64(tx.Block), tx.Timestamp, tx.From, tx.To, //nolint:gosec // block heights fit in int64
			tx.Value, string(tx.Status), pq.Array(addressKeys(tx.Touched)), transfers,
			tx.IsBridge, nullString(tx.BridgeProtocol), tx.RiskScore, tx.IngestedAt,
		)
		if err != nil {
			return 0, fmt.Errorf("insert %s: %w", tx.Hash, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			inserted++
		}
	}
	if err := dbTx.Commit(); err != nil {
		return 0, fmt.Errorf("commit insert: %w", err)
	}
	return inserted, nil
}

func (s *PostgresStore) Hashes(ctx context.Context, chain chains.ID, address string) (map[string]struct{}, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT hash FROM transactions WHERE chain = $1 AND touched @> ARRAY[$2]::text[]`,
		string(chain), AddressKey(address))
	if err != nil {
		return nil, fmt.Errorf("query hashes: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := make(map[string]struct{})
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, err
		}
		out[h] = struct{}{}
	}
	return out, rows.Err()
}

func (s *PostgresStore) Get(ctx context.Context, chain chains.ID, hash string) (*Transaction, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+txColumns+` FROM transactions WHERE chain = $1 AND hash = $2`,
		string(chain), hash)
	tx, err := scanTx(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return tx, err
}

func (s *PostgresStore) ListByAddress(ctx context.Context, chain chains.ID, address string, limit int) ([]*Transaction, error) {
	if limit <= 0 {
		limit = 10000
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+txColumns+` FROM transactions
		WHERE chain = $1 AND touched @> ARRAY[$2]::text[]
		ORDER BY ts DESC, hash
		LIMIT $3
	`, string(chain), AddressKey(address), limit)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	return scanTxs(rows)
}

func (s *PostgresStore) ListInbound(ctx context.Context, chain chains.ID, address string, since time.Time) ([]*Transaction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+txColumns+` FROM transactions
		WHERE chain = $1 AND is_bridge AND status = 'success' AND ts >= $3
		  AND touched @> ARRAY[$2]::text[] AND lower(from_addr) <> lower($2)
		ORDER BY ts ASC
	`, string(chain), AddressKey(address), since)
	if err != nil {
		return nil, fmt.Errorf("list inbound: %w", err)
	}
	return scanTxs(rows)
}

func (s *PostgresStore) UpdateRiskScore(ctx context.Context, chain chains.ID, hash string, score int) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE transactions SET risk_score = $3 WHERE chain = $1 AND hash = $2`,
		string(chain), hash, score)
	if err != nil {
		return fmt.Errorf("update risk score: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) DeleteByRefs(ctx context.Context, refs []Ref) (int, error) {
	total := 0
	for _, r := range refs {
		res, err := s.db.ExecContext(ctx,
			`DELETE FROM transactions WHERE chain = $1 AND touched @> ARRAY[$2]::text[]`,
			string(r.Chain), AddressKey(r.Address))
		if err != nil {
			return total, fmt.Errorf("delete transactions: %w", err)
		}
		n, _ := res.RowsAffected()
		total += int(n)
	}
	return total, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTx(row scanner) (*Transaction, error) {
	var (
		tx        Transaction
		chain     string
		status    string
		block     int64
		touched   pq.StringArray
		transfers []byte
		protocol  sql.NullString
	)
	if err := row.Scan(&chain, &tx.Hash, &block, &tx.Timestamp, &tx.From, &tx.To, &tx.Value,
		&status, &touched, &transfers, &tx.IsBridge, &protocol, &tx.RiskScore, &tx.IngestedAt); err != nil {
		return nil, err
	}
	tx.Chain = chains.ID(chain)
	tx.Status = Status(status)
	tx.Block = uint64(block) //nolint:gosec // stored from uint64
	tx.Touched = touched
	tx.BridgeProtocol = protocol.String
	if len(transfers) > 0 {
		if err := json.Unmarshal(transfers, &tx.TokenTransfers); err != nil {
			return nil, fmt.Errorf("decode token transfers of %s: %w", tx.Hash, err)
		}
	}
	return &tx, nil
}

func scanTxs(rows *sql.Rows) ([]*Transaction, error) {
	defer func() { _ = rows.Close() }()
	var out []*Transaction
	for rows.Next() {
		tx, err := scanTx(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, tx)
	}
	return out, rows.Err()
}

func addressKeys(addrs []string) []string {
	out := make([]string, len(addrs))
	for i, a := range addrs {
		out[i] = AddressKey(a)
	}
	return out
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
