package wallet

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/packforge/distro/pkg/apperr"
	"github.com/packforge/distro/pkg/finance"
)

// Store persists wallets, ledger entries, and withdrawal requests over
// database/sql (lib/pq in production, go-sqlmock in tests).
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

const schema = `
CREATE TABLE IF NOT EXISTS wallets (
	publisher_id  TEXT PRIMARY KEY,
	balance_minor BIGINT NOT NULL DEFAULT 0,
	currency      TEXT NOT NULL DEFAULT 'USD',
	updated_at    TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS ledger_entries (
	id                     TEXT PRIMARY KEY,
	wallet_id              TEXT NOT NULL,
	type                   TEXT NOT NULL,
	amount_minor           BIGINT NOT NULL,
	currency               TEXT NOT NULL,
	related_acquisition_id TEXT NOT NULL DEFAULT '',
	related_withdrawal_id  TEXT NOT NULL DEFAULT '',
	created_at             TIMESTAMPTZ NOT NULL,
	description            TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS withdrawal_requests (
	id                  TEXT PRIMARY KEY,
	publisher_id        TEXT NOT NULL,
	amount_minor        BIGINT NOT NULL,
	currency            TEXT NOT NULL,
	payout_account_ref  TEXT NOT NULL,
	status              TEXT NOT NULL,
	requested_at        TIMESTAMPTZ NOT NULL,
	processed_at        TIMESTAMPTZ,
	processed_by        TEXT NOT NULL DEFAULT '',
	external_payout_ref TEXT NOT NULL DEFAULT '',
	notes               TEXT NOT NULL DEFAULT ''
);
`

func (s *Store) Init(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// EnsureWallet creates a zero-balance wallet for a publisher if one
// doesn't already exist.
func (s *Store) EnsureWallet(ctx context.Context, publisherID, currency string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO wallets (publisher_id, balance_minor, currency, updated_at)
		VALUES ($1, 0, $2, $3)
		ON CONFLICT (publisher_id) DO NOTHING`,
		publisherID, currency, time.Now())
	if err != nil {
		return apperr.Internal(fmt.Errorf("wallet: ensure wallet: %w", err))
	}
	return nil
}

// lockWallet takes the row lock that serializes concurrent mutations of
// one wallet (spec §5 "concurrent transactions on the same wallet
// serialize via row lock on the wallet row").
func lockWallet(ctx context.Context, tx *sql.Tx, publisherID string) (Wallet, error) {
	row := tx.QueryRowContext(ctx,
		`SELECT publisher_id, balance_minor, currency, updated_at FROM wallets WHERE publisher_id = $1 FOR UPDATE`,
		publisherID)

	var w Wallet
	var amount int64
	var currency string
	if err := row.Scan(&w.PublisherID, &amount, &currency, &w.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Wallet{}, apperr.New(apperr.KindNotFound, "wallet not found")
		}
		return Wallet{}, apperr.Internal(fmt.Errorf("wallet: lock: %w", err))
	}
	w.Balance = finance.NewMoney(amount, currency)
	return w, nil
}

// applyEntry appends a LedgerEntry and updates the wallet balance within
// tx, atomically (spec §4.7 "Ledger writes and balance update are
// transactional"). Caller must have already locked the wallet row.
func applyEntry(ctx context.Context, tx *sql.Tx, w Wallet, entryType EntryType, amount finance.Money, relatedAcquisitionID, relatedWithdrawalID, description string) (Wallet, error) {
	newBalance, err := w.Balance.Add(amount)
	if err != nil {
		return Wallet{}, apperr.Internal(err)
	}
	if newBalance.IsNegative() {
		return Wallet{}, apperr.New(apperr.KindPreconditionFailed, "wallet balance would go negative")
	}

	now := time.Now()
	entryID := uuid.NewString()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO ledger_entries (id, wallet_id, type, amount_minor, currency, related_acquisition_id, related_withdrawal_id, created_at, description)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		entryID, w.PublisherID, entryType, amount.AmountMinor, amount.Currency, relatedAcquisitionID, relatedWithdrawalID, now, description)
	if err != nil {
		return Wallet{}, apperr.Internal(fmt.Errorf("wallet: insert ledger entry: %w", err))
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE wallets SET balance_minor = $1, updated_at = $2 WHERE publisher_id = $3`,
		newBalance.AmountMinor, now, w.PublisherID)
	if err != nil {
		return Wallet{}, apperr.Internal(fmt.Errorf("wallet: update balance: %w", err))
	}

	w.Balance = newBalance
	w.UpdatedAt = now
	return w, nil
}

func (s *Store) Balance(ctx context.Context, publisherID string) (Wallet, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT publisher_id, balance_minor, currency, updated_at FROM wallets WHERE publisher_id = $1`,
		publisherID)
	var w Wallet
	var amount int64
	var currency string
	if err := row.Scan(&w.PublisherID, &amount, &currency, &w.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Wallet{}, apperr.New(apperr.KindNotFound, "wallet not found")
		}
		return Wallet{}, apperr.Internal(err)
	}
	w.Balance = finance.NewMoney(amount, currency)
	return w, nil
}

func (s *Store) PendingOrApprovedWithdrawal(ctx context.Context, publisherID string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM withdrawal_requests
		WHERE publisher_id = $1 AND status IN ('pending', 'approved')`,
		publisherID).Scan(&count)
	if err != nil {
		return false, apperr.Internal(err)
	}
	return count > 0, nil
}

func (s *Store) GetWithdrawal(ctx context.Context, id string) (WithdrawalRequest, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, publisher_id, amount_minor, currency, payout_account_ref, status,
		       requested_at, processed_at, processed_by, external_payout_ref, notes
		FROM withdrawal_requests WHERE id = $1`, id)

	var w WithdrawalRequest
	var amount int64
	var currency string
	if err := row.Scan(&w.ID, &w.PublisherID, &amount, &currency, &w.PayoutAccountRef, &w.Status,
		&w.RequestedAt, &w.ProcessedAt, &w.ProcessedBy, &w.ExternalPayoutRef, &w.Notes); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return WithdrawalRequest{}, apperr.New(apperr.KindNotFound, "withdrawal not found")
		}
		return WithdrawalRequest{}, apperr.Internal(err)
	}
	w.Amount = finance.NewMoney(amount, currency)
	return w, nil
}
