package payments

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/packforge/distro/pkg/apperr"
	"github.com/packforge/distro/pkg/finance"
)

// Store persists PaymentIntents over database/sql. WebhookCursor is the
// optimistic-concurrency column (spec §5 "a DB row-level lock or
// equivalent optimistic-concurrency column (version counter)").
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

const schema = `
CREATE TABLE IF NOT EXISTS payment_intents (
	id                 TEXT PRIMARY KEY,
	gateway_type       TEXT NOT NULL,
	gateway_payment_id TEXT NOT NULL,
	user_id            TEXT NOT NULL,
	modpack_id         TEXT NOT NULL,
	amount_minor       BIGINT NOT NULL,
	currency           TEXT NOT NULL,
	status             TEXT NOT NULL,
	created_at         TIMESTAMPTZ NOT NULL,
	webhook_cursor     BIGINT NOT NULL DEFAULT 0,
	UNIQUE (gateway_type, gateway_payment_id)
);
`

func (s *Store) Init(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

func (s *Store) Create(ctx context.Context, intent PaymentIntent) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO payment_intents (id, gateway_type, gateway_payment_id, user_id, modpack_id, amount_minor, currency, status, created_at, webhook_cursor)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 0)`,
		intent.ID, intent.GatewayType, intent.GatewayPaymentID, intent.UserID, intent.ModpackID,
		intent.Amount.AmountMinor, intent.Amount.Currency, intent.Status, intent.CreatedAt)
	if err != nil {
		return apperr.Internal(fmt.Errorf("payments: create intent: %w", err))
	}
	return nil
}

func scanIntent(row interface{ Scan(...any) error }) (PaymentIntent, error) {
	var p PaymentIntent
	var amount int64
	var currency string
	if err := row.Scan(&p.ID, &p.GatewayType, &p.GatewayPaymentID, &p.UserID, &p.ModpackID,
		&amount, &currency, &p.Status, &p.CreatedAt, &p.WebhookCursor); err != nil {
		return PaymentIntent{}, err
	}
	p.Amount = finance.NewMoney(amount, currency)
	return p, nil
}

const selectCols = `id, gateway_type, gateway_payment_id, user_id, modpack_id, amount_minor, currency, status, created_at, webhook_cursor`

func (s *Store) ByGatewayPaymentID(ctx context.Context, gatewayType GatewayType, gatewayPaymentID string) (PaymentIntent, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+selectCols+` FROM payment_intents WHERE gateway_type = $1 AND gateway_payment_id = $2`,
		gatewayType, gatewayPaymentID)
	p, err := scanIntent(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return PaymentIntent{}, false, nil
		}
		return PaymentIntent{}, false, apperr.Internal(err)
	}
	return p, true, nil
}

// LockForUpdate locks the row within tx so a concurrent webhook replay
// for the same intent serializes behind this one.
func LockForUpdate(ctx context.Context, tx *sql.Tx, gatewayType GatewayType, gatewayPaymentID string) (PaymentIntent, bool, error) {
	row := tx.QueryRowContext(ctx,
		`SELECT `+selectCols+` FROM payment_intents WHERE gateway_type = $1 AND gateway_payment_id = $2 FOR UPDATE`,
		gatewayType, gatewayPaymentID)
	p, err := scanIntent(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return PaymentIntent{}, false, nil
		}
		return PaymentIntent{}, false, apperr.Internal(err)
	}
	return p, true, nil
}

// ApplyTransition updates status and bumps webhook_cursor, conditioned
// on the row still being at expectedCursor — the optimistic-concurrency
// guard analogous to the teacher's lease UPDATE...WHERE pattern.
func ApplyTransition(ctx context.Context, tx *sql.Tx, intentID string, newStatus Status, expectedCursor int64) error {
	res, err := tx.ExecContext(ctx, `
		UPDATE payment_intents SET status = $1, webhook_cursor = webhook_cursor + 1
		WHERE id = $2 AND webhook_cursor = $3`,
		newStatus, intentID, expectedCursor)
	if err != nil {
		return apperr.Internal(fmt.Errorf("payments: apply transition: %w", err))
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return apperr.Internal(err)
	}
	if rows == 0 {
		return apperr.New(apperr.KindConflict, "payment intent was concurrently modified")
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id string) (PaymentIntent, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+selectCols+` FROM payment_intents WHERE id = $1`, id)
	p, err := scanIntent(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return PaymentIntent{}, apperr.New(apperr.KindNotFound, "payment intent not found")
		}
		return PaymentIntent{}, apperr.Internal(err)
	}
	return p, nil
}
