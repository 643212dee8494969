package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// ErrRecordNotFound reports a Finalize against an unknown record id.
var ErrRecordNotFound = errors.New("history: record not found")

// sqliteTimeLayout pads the fraction to nine digits so the TEXT
// column sorts chronologically.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

const schema = `
CREATE TABLE IF NOT EXISTS transactions (
	id            TEXT PRIMARY KEY,
	created_at    TEXT NOT NULL,
	resource      TEXT NOT NULL,
	service       TEXT,
	description   TEXT,
	amount        TEXT NOT NULL,
	asset         TEXT,
	network       TEXT,
	payer         TEXT,
	recipient     TEXT,
	status        TEXT NOT NULL DEFAULT 'pending',
	settlement_id TEXT,
	error         TEXT
);
CREATE INDEX IF NOT EXISTS idx_transactions_created_at ON transactions(created_at DESC);
`

// SQLiteStore persists records in a local SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if needed) the database at path and
// ensures the schema exists.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("history: failed to open database: %w", err)
	}
	store := &SQLiteStore{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLiteStore) migrate() error {
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("history: failed to create schema: %w", err)
	}
	return nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Append implements Store.
func (s *SQLiteStore) Append(ctx context.Context, record *TransactionRecord) error {
	normalize(record)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO transactions
		 (id, created_at, resource, service, description, amount, asset, network, payer, recipient, status, settlement_id, error)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		record.ID,
		record.Timestamp.UTC().Format(sqliteTimeLayout),
		record.Resource,
		record.Service,
		record.Description,
		record.Amount,
		record.Asset,
		record.Network,
		record.Payer,
		record.Recipient,
		string(record.Status),
		record.SettlementID,
		record.Error,
	)
	if err != nil {
		return fmt.Errorf("history: failed to insert record: %w", err)
	}
	return nil
}

// List implements Store.
func (s *SQLiteStore) List(ctx context.Context, limit int) ([]TransactionRecord, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, created_at, resource, service, description, amount, asset, network, payer, recipient, status, settlement_id, error
		 FROM transactions ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("history: failed to query records: %w", err)
	}
	defer rows.Close()

	var records []TransactionRecord
	for rows.Next() {
		var (
			record      TransactionRecord
			createdAt   string
			service     sql.NullString
			description sql.NullString
			asset       sql.NullString
			network     sql.NullString
			payer       sql.NullString
			recipient   sql.NullString
			settle      sql.NullString
			errReason   sql.NullString
		)
		if err := rows.Scan(&record.ID, &createdAt, &record.Resource, &service, &description, &record.Amount,
			&asset, &network, &payer, &recipient, (*string)(&record.Status), &settle, &errReason); err != nil {
			return nil, fmt.Errorf("history: failed to scan record: %w", err)
		}
		if record.Timestamp, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
			return nil, fmt.Errorf("history: bad timestamp %q: %w", createdAt, err)
		}
		record.Service = service.String
		record.Description = description.String
		record.Asset = asset.String
		record.Network = network.String
		record.Payer = payer.String
		record.Recipient = recipient.String
		record.SettlementID = settle.String
		record.Error = errReason.String
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("history: failed to read records: %w", err)
	}
	return records, nil
}

// Finalize implements Store.
func (s *SQLiteStore) Finalize(ctx context.Context, id string, status Status, settlementID string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE transactions
		 SET status = ?, settlement_id = CASE WHEN ? != '' THEN ? ELSE settlement_id END
		 WHERE id = ?`,
		string(status), settlementID, settlementID, id)
	if err != nil {
		return fmt.Errorf("history: failed to update record: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("history: failed to check update: %w", err)
	}
	if affected == 0 {
		return ErrRecordNotFound
	}
	return nil
}
