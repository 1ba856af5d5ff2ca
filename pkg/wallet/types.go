// Package wallet implements per-publisher balances, their append-only
// ledger, and the withdrawal request lifecycle (spec §4.7).
package wallet

import (
	"time"

	"github.com/packforge/distro/pkg/finance"
)

// EntryType classifies a LedgerEntry.
type EntryType string

const (
	EntrySaleCredit         EntryType = "sale-credit"
	EntryPlatformCommission EntryType = "platform-commission-debit"
	EntryWithdrawalDebit    EntryType = "withdrawal-debit"
	EntryAdjustment         EntryType = "adjustment"
)

// Wallet is the materialized balance projection for one publisher.
type Wallet struct {
	PublisherID string
	Balance     finance.Money
	UpdatedAt   time.Time
}

// LedgerEntry is one append-only movement against a wallet. Amount is
// signed: credits positive, debits negative.
type LedgerEntry struct {
	ID                   string
	WalletID             string
	Type                 EntryType
	Amount               finance.Money
	RelatedAcquisitionID string
	RelatedWithdrawalID  string
	CreatedAt            time.Time
	Description          string
}

// WithdrawalStatus is the state of a WithdrawalRequest.
type WithdrawalStatus string

const (
	WithdrawalPending   WithdrawalStatus = "pending"
	WithdrawalApproved  WithdrawalStatus = "approved"
	WithdrawalRejected  WithdrawalStatus = "rejected"
	WithdrawalCompleted WithdrawalStatus = "completed"
)

// WithdrawalRequest is one publisher payout request (spec §4.7).
type WithdrawalRequest struct {
	ID                string
	PublisherID       string
	Amount            finance.Money
	PayoutAccountRef  string
	Status            WithdrawalStatus
	RequestedAt       time.Time
	ProcessedAt       *time.Time
	ProcessedBy       string
	ExternalPayoutRef string
	Notes             string
}
