package ledger

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// PostgresLedger is a durable SQL-based implementation of the Ledger.
type PostgresLedger struct {
	db *sql.DB
}

func NewPostgresLedger(db *sql.DB) *PostgresLedger {
	return &PostgresLedger{db: db}
}

// Ensure Schema
const pgSchema = `
CREATE TABLE IF NOT EXISTS obligations (
	id TEXT PRIMARY KEY,
	idempotency_key TEXT UNIQUE,
	intent TEXT,
	state TEXT,
	created_at TIMESTAMP,
	updated_at TIMESTAMP,
	leased_by TEXT,
	leased_until TIMESTAMP,
	hash TEXT,
	previous_hash TEXT,
	metadata TEXT,
	publisher_id TEXT
);

ALTER TABLE obligations ENABLE ROW LEVEL SECURITY;

-- Create Policy (Idempotent check required in real migrations, here simple if not exists logic)
-- Note: 'create policy if not exists' is PG 10+.
DO $$
BEGIN
    IF NOT EXISTS (
        SELECT 1 FROM pg_policies WHERE policyname = 'publisher_isolation'
    ) THEN
        CREATE POLICY publisher_isolation ON obligations
        USING (publisher_id = current_setting('app.current_publisher', true)::text);
    END IF;
END
$$;
`

func (l *PostgresLedger) Init(ctx context.Context) error {
	_, err := l.db.ExecContext(ctx, pgSchema)
	return err
}

func (l *PostgresLedger) Create(ctx context.Context, obl Obligation) error {
	// Chains this obligation to the tail of the table by created_at; a
	// separate atomic counter would scale better but obligations are
	// created at human, not request, rates.
	var lastHash string
	err := l.db.QueryRowContext(ctx, "SELECT hash FROM obligations ORDER BY created_at DESC LIMIT 1").Scan(&lastHash)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return err
	}
	if lastHash == "" {
		lastHash = "0000000000000000000000000000000000000000000000000000000000000000" // genesis
	}

	payload := lastHash + obl.ID + obl.Intent + obl.CreatedAt.String()
	obl.PreviousHash = lastHash
	obl.Hash = fmt.Sprintf("%x", sha256Sum([]byte(payload)))

	query := `
		INSERT INTO obligations (id, idempotency_key, intent, state, created_at, updated_at, hash, previous_hash, publisher_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err = l.db.ExecContext(ctx, query,
		obl.ID, obl.IdempotencyKey, obl.Intent, obl.State, obl.CreatedAt, obl.UpdatedAt,
		obl.Hash, obl.PreviousHash, obl.PublisherID,
	)
	return err
}

func sha256Sum(b []byte) []byte {
	sum := sha256.Sum256(b)
	return sum[:]
}

func (l *PostgresLedger) Get(ctx context.Context, id string) (Obligation, error) {
	// id is assumed globally unique; RLS (when app.current_publisher is
	// set) narrows this further without the query needing to know it.
	query := `SELECT id, idempotency_key, intent, state, created_at, updated_at, hash, previous_hash, metadata, publisher_id FROM obligations WHERE id = $1`
	row := l.db.QueryRowContext(ctx, query, id)

	var obl Obligation
	var hash, prevHash, metadata, publisherID sql.NullString

	err := row.Scan(&obl.ID, &obl.IdempotencyKey, &obl.Intent, &obl.State, &obl.CreatedAt, &obl.UpdatedAt, &hash, &prevHash, &metadata, &publisherID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Obligation{}, ErrNotFound
		}
		return Obligation{}, err
	}
	obl.Hash = hash.String
	obl.PreviousHash = prevHash.String
	obl.PublisherID = publisherID.String

	if metadata.Valid && metadata.String != "" {
		if err := json.Unmarshal([]byte(metadata.String), &obl.Metadata); err != nil {
			return Obligation{}, fmt.Errorf("corrupt metadata: %w", err)
		}
	}
	return obl, nil
}

func (l *PostgresLedger) AcquireLease(ctx context.Context, id, workerID string, duration time.Duration) (Obligation, error) {
	now := time.Now()
	leasedUntil := now.Add(duration)

	query := `
		UPDATE obligations 
		SET leased_by = $1, leased_until = $2, updated_at = $3
		WHERE id = $4 AND (leased_until < $3 OR leased_by = $1 OR leased_until IS NULL)
	`
	res, err := l.db.ExecContext(ctx, query, workerID, leasedUntil, now, id)
	if err != nil {
		return Obligation{}, err
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return Obligation{}, fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rows == 0 {
		return Obligation{}, errors.New("locked by another worker")
	}

	return l.Get(ctx, id)
}

// AcquireNextPending fetches and leases the next available PENDING obligation.
// It uses SKIP LOCKED to allow concurrent workers to process the queue without blocking.
func (l *PostgresLedger) AcquireNextPending(ctx context.Context, workerID string, duration time.Duration) (Obligation, error) {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return Obligation{}, err
	}
	defer func() { _ = tx.Rollback() }() // no-op if tx already committed

	querySelect := `
		SELECT id 
		FROM obligations 
		WHERE state = 'PENDING' 
		ORDER BY created_at ASC 
		LIMIT 1 
		FOR UPDATE SKIP LOCKED
	`
	var id string
	if err := tx.QueryRowContext(ctx, querySelect).Scan(&id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Obligation{}, errors.New("no pending obligations") // Normalized error
		}
		return Obligation{}, err
	}

	now := time.Now()
	leasedUntil := now.Add(duration)
	queryUpdate := `
		UPDATE obligations
		SET leased_by = $1, leased_until = $2, updated_at = $3
		WHERE id = $4
	`
	if _, err := tx.ExecContext(ctx, queryUpdate, workerID, leasedUntil, now, id); err != nil {
		return Obligation{}, err
	}

	if err := tx.Commit(); err != nil {
		return Obligation{}, err
	}

	return l.Get(ctx, id)
}

func (l *PostgresLedger) UpdateState(ctx context.Context, id string, newState State, details map[string]any) error {
	var metaJSON []byte
	if details != nil {
		var err error
		metaJSON, err = json.Marshal(details)
		if err != nil {
			return fmt.Errorf("failed to marshal metadata: %w", err)
		}
	}

	query := `UPDATE obligations SET state = $1, updated_at = $2, metadata = $3 WHERE id = $4`
	_, err := l.db.ExecContext(ctx, query, newState, time.Now(), string(metaJSON), id)
	return err
}

func (l *PostgresLedger) ListPending(ctx context.Context) ([]Obligation, error) {
	query := `SELECT id, idempotency_key, intent, state, created_at, updated_at, hash, previous_hash, metadata, publisher_id FROM obligations WHERE state = 'PENDING'`
	rows, err := l.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	result := make([]Obligation, 0)
	for rows.Next() {
		var obl Obligation
		var hash, prevHash, metadata, publisherID sql.NullString
		if err := rows.Scan(&obl.ID, &obl.IdempotencyKey, &obl.Intent, &obl.State, &obl.CreatedAt, &obl.UpdatedAt, &hash, &prevHash, &metadata, &publisherID); err != nil {
			return nil, err
		}
		obl.Hash = hash.String
		obl.PreviousHash = prevHash.String
		obl.PublisherID = publisherID.String
		if metadata.Valid && metadata.String != "" {
			_ = json.Unmarshal([]byte(metadata.String), &obl.Metadata)
		}
		result = append(result, obl)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (l *PostgresLedger) ListAll(ctx context.Context) ([]Obligation, error) {
	query := `SELECT id, idempotency_key, intent, state, created_at, updated_at, hash, previous_hash, metadata, publisher_id FROM obligations`
	rows, err := l.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	result := make([]Obligation, 0)
	for rows.Next() {
		var obl Obligation
		var hash, prevHash, metadata, publisherID sql.NullString
		if err := rows.Scan(&obl.ID, &obl.IdempotencyKey, &obl.Intent, &obl.State, &obl.CreatedAt, &obl.UpdatedAt, &hash, &prevHash, &metadata, &publisherID); err != nil {
			return nil, err
		}
		obl.Hash = hash.String
		obl.PreviousHash = prevHash.String
		obl.PublisherID = publisherID.String
		if metadata.Valid && metadata.String != "" {
			_ = json.Unmarshal([]byte(metadata.String), &obl.Metadata)
		}
		result = append(result, obl)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
