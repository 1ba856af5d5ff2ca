package wallet

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/packforge/distro/pkg/apperr"
	"github.com/packforge/distro/pkg/authz"
	"github.com/packforge/distro/pkg/finance"
	"github.com/packforge/distro/pkg/ledger"
	"github.com/packforge/distro/pkg/observability"
)

// Service implements the §4.7 withdrawal lifecycle and the §4.6 step-4
// sale-credit/commission-debit pair, on top of Store's row-locked
// primitives.
type Service struct {
	db             *sql.DB
	store          *Store
	authz          *authz.Engine
	minWithdrawal  finance.Money
	commissionRate float64 // e.g. 0.20 for 20%
}

func NewService(db *sql.DB, store *Store, engine *authz.Engine, minWithdrawal finance.Money, commissionRate float64) *Service {
	return &Service{db: db, store: store, authz: engine, minWithdrawal: minWithdrawal, commissionRate: commissionRate}
}

// CreditSale appends sale-credit(+amount) and platform-commission-debit
// (-amount*commissionRate) atomically (spec §4.6 step 4).
func (s *Service) CreditSale(ctx context.Context, publisherID string, amount finance.Money, acquisitionID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return apperr.Internal(err)
	}
	defer func() { _ = tx.Rollback() }()

	w, err := lockWallet(ctx, tx, publisherID)
	if err != nil {
		return err
	}

	w, err = applyEntry(ctx, tx, w, EntrySaleCredit, amount, acquisitionID, "", "modpack sale")
	if err != nil {
		return err
	}

	commission := finance.NewMoney(int64(float64(amount.AmountMinor)*s.commissionRate), amount.Currency)
	negCommission := finance.NewMoney(-commission.AmountMinor, amount.Currency)
	if _, err := applyEntry(ctx, tx, w, EntryPlatformCommission, negCommission, acquisitionID, "", "platform commission"); err != nil {
		return err
	}

	return tx.Commit()
}

// RequestWithdrawal implements spec §4.7 requestWithdrawal. Funds are
// reserved (a pending row is created) but NOT debited from the balance
// yet; the debit happens on approval.
func (s *Service) RequestWithdrawal(ctx context.Context, actorID string, superAdmin bool, publisherID string, amount finance.Money, payoutRef string) (WithdrawalRequest, error) {
	if err := s.authz.Require(ctx, actorID, superAdmin, authz.PermPublisherRequestWithdrawal, authz.Resource{PublisherID: publisherID}); err != nil {
		return WithdrawalRequest{}, err
	}
	if amount.AmountMinor < s.minWithdrawal.AmountMinor {
		return WithdrawalRequest{}, apperr.New(apperr.KindValidation, "amount below minimum withdrawal")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return WithdrawalRequest{}, apperr.Internal(err)
	}
	defer func() { _ = tx.Rollback() }()

	w, err := lockWallet(ctx, tx, publisherID)
	if err != nil {
		return WithdrawalRequest{}, err
	}

	var pendingCount int
	if err := tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM withdrawal_requests WHERE publisher_id = $1 AND status IN ('pending', 'approved')`,
		publisherID).Scan(&pendingCount); err != nil {
		return WithdrawalRequest{}, apperr.Internal(err)
	}
	if pendingCount > 0 {
		return WithdrawalRequest{}, apperr.New(apperr.KindConflict, "publisher already has a pending or approved withdrawal")
	}

	if amount.AmountMinor > w.Balance.AmountMinor {
		return WithdrawalRequest{}, apperr.New(apperr.KindPreconditionFailed, "amount exceeds wallet balance")
	}

	req := WithdrawalRequest{
		ID:               uuid.NewString(),
		PublisherID:      publisherID,
		Amount:           amount,
		PayoutAccountRef: payoutRef,
		Status:           WithdrawalPending,
		RequestedAt:      time.Now(),
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO withdrawal_requests (id, publisher_id, amount_minor, currency, payout_account_ref, status, requested_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		req.ID, req.PublisherID, req.Amount.AmountMinor, req.Amount.Currency, req.PayoutAccountRef, req.Status, req.RequestedAt)
	if err != nil {
		return WithdrawalRequest{}, apperr.Internal(fmt.Errorf("wallet: insert withdrawal: %w", err))
	}

	if err := tx.Commit(); err != nil {
		return WithdrawalRequest{}, apperr.Internal(err)
	}
	return req, nil
}

// ApproveWithdrawal is admin-only: appends withdrawal-debit(-amount) and
// re-checks balance >= amount inside the transaction (spec §4.7).
func (s *Service) ApproveWithdrawal(ctx context.Context, adminID, withdrawalID string) (WithdrawalRequest, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return WithdrawalRequest{}, apperr.Internal(err)
	}
	defer func() { _ = tx.Rollback() }()

	req, err := getWithdrawalForUpdate(ctx, tx, withdrawalID)
	if err != nil {
		return WithdrawalRequest{}, err
	}
	if req.Status != WithdrawalPending {
		return WithdrawalRequest{}, apperr.New(apperr.KindConflict, "withdrawal is not pending")
	}

	w, err := lockWallet(ctx, tx, req.PublisherID)
	if err != nil {
		return WithdrawalRequest{}, err
	}
	if req.Amount.AmountMinor > w.Balance.AmountMinor {
		return WithdrawalRequest{}, apperr.New(apperr.KindPreconditionFailed, "insufficient balance at approval time")
	}

	debit := finance.NewMoney(-req.Amount.AmountMinor, req.Amount.Currency)
	if _, err := applyEntry(ctx, tx, w, EntryWithdrawalDebit, debit, "", req.ID, "withdrawal"); err != nil {
		return WithdrawalRequest{}, err
	}

	now := time.Now()
	req.Status = WithdrawalApproved
	req.ProcessedAt = &now
	req.ProcessedBy = adminID
	if _, err := tx.ExecContext(ctx, `
		UPDATE withdrawal_requests SET status = $1, processed_at = $2, processed_by = $3 WHERE id = $4`,
		req.Status, req.ProcessedAt, req.ProcessedBy, req.ID); err != nil {
		return WithdrawalRequest{}, apperr.Internal(err)
	}

	if err := tx.Commit(); err != nil {
		return WithdrawalRequest{}, apperr.Internal(err)
	}
	observability.AddSpanEvent(ctx, "withdrawal.approved", observability.WithdrawalOperation(req.PublisherID, string(req.Status))...)
	ledger.Append(ctx, ledger.LedgerTypeWithdrawal, "approved", adminID, map[string]interface{}{"withdrawal_id": req.ID, "publisher_id": req.PublisherID, "amount_minor": req.Amount.AmountMinor})
	return req, nil
}

// RejectWithdrawal is admin-only and writes no wallet ledger entry; it
// records the rejection in the audit ledger.
func (s *Service) RejectWithdrawal(ctx context.Context, adminID, withdrawalID, notes string) (WithdrawalRequest, error) {
	req, err := s.store.GetWithdrawal(ctx, withdrawalID)
	if err != nil {
		return WithdrawalRequest{}, err
	}
	if req.Status != WithdrawalPending {
		return WithdrawalRequest{}, apperr.New(apperr.KindConflict, "withdrawal is not pending")
	}

	now := time.Now()
	_, err = s.db.ExecContext(ctx, `
		UPDATE withdrawal_requests SET status = $1, processed_at = $2, processed_by = $3, notes = $4 WHERE id = $5`,
		WithdrawalRejected, now, adminID, notes, withdrawalID)
	if err != nil {
		return WithdrawalRequest{}, apperr.Internal(err)
	}

	req.Status = WithdrawalRejected
	req.ProcessedAt = &now
	req.ProcessedBy = adminID
	req.Notes = notes
	observability.AddSpanEvent(ctx, "withdrawal.rejected", observability.WithdrawalOperation(req.PublisherID, string(req.Status))...)
	ledger.Append(ctx, ledger.LedgerTypeWithdrawal, "rejected", adminID, map[string]interface{}{"withdrawal_id": req.ID, "publisher_id": req.PublisherID, "notes": notes})
	return req, nil
}

// CompleteWithdrawal is admin-only and requires an external payout
// reference; it writes no wallet ledger entry (the debit already happened
// on approval).
func (s *Service) CompleteWithdrawal(ctx context.Context, adminID, withdrawalID, externalPayoutRef string) (WithdrawalRequest, error) {
	if externalPayoutRef == "" {
		return WithdrawalRequest{}, apperr.Field(apperr.KindValidation, "externalPayoutRef", "required to complete a withdrawal")
	}

	req, err := s.store.GetWithdrawal(ctx, withdrawalID)
	if err != nil {
		return WithdrawalRequest{}, err
	}
	if req.Status != WithdrawalApproved {
		return WithdrawalRequest{}, apperr.New(apperr.KindConflict, "withdrawal is not approved")
	}

	now := time.Now()
	_, err = s.db.ExecContext(ctx, `
		UPDATE withdrawal_requests SET status = $1, processed_at = $2, processed_by = $3, external_payout_ref = $4 WHERE id = $5`,
		WithdrawalCompleted, now, adminID, externalPayoutRef, withdrawalID)
	if err != nil {
		return WithdrawalRequest{}, apperr.Internal(err)
	}

	req.Status = WithdrawalCompleted
	req.ProcessedAt = &now
	req.ProcessedBy = adminID
	req.ExternalPayoutRef = externalPayoutRef
	observability.AddSpanEvent(ctx, "withdrawal.completed", observability.WithdrawalOperation(req.PublisherID, string(req.Status))...)
	ledger.Append(ctx, ledger.LedgerTypeWithdrawal, "completed", adminID, map[string]interface{}{"withdrawal_id": req.ID, "publisher_id": req.PublisherID, "external_payout_ref": externalPayoutRef})
	return req, nil
}

func getWithdrawalForUpdate(ctx context.Context, tx *sql.Tx, id string) (WithdrawalRequest, error) {
	row := tx.QueryRowContext(ctx, `
		SELECT id, publisher_id, amount_minor, currency, payout_account_ref, status,
		       requested_at, processed_at, processed_by, external_payout_ref, notes
		FROM withdrawal_requests WHERE id = $1 FOR UPDATE`, id)

	var w WithdrawalRequest
	var amount int64
	var currency string
	if err := row.Scan(&w.ID, &w.PublisherID, &amount, &currency, &w.PayoutAccountRef, &w.Status,
		&w.RequestedAt, &w.ProcessedAt, &w.ProcessedBy, &w.ExternalPayoutRef, &w.Notes); err != nil {
		return WithdrawalRequest{}, apperr.Internal(fmt.Errorf("wallet: lock withdrawal: %w", err))
	}
	w.Amount = finance.NewMoney(amount, currency)
	return w, nil
}
