// Package ledger is a durable, leasable job store for long-running
// obligations — currently modpack imports — that must survive a
// process restart mid-run and be safely picked up by exactly one
// worker at a time. It is distinct from pkg/ledger, which chains
// already-completed events for tamper-evidence rather than tracking
// work in flight.
package ledger

import (
	"context"
	"time"
)

// Ledger is the durable interface for Obligation management.
type Ledger interface {
	// Create persists a new ledger. ID provided or generated.
	Create(ctx context.Context, obl Obligation) error

	// Get retrieves an obligation by ID.
	Get(ctx context.Context, id string) (Obligation, error)

	// AcquireLease attempts to lock an obligation for work.
	AcquireLease(ctx context.Context, id, workerID string, duration time.Duration) (Obligation, error)

	// UpdateState transitions the obligation to a new state; the lease is not checked.
	UpdateState(ctx context.Context, id string, newState State, details map[string]any) error

	// ListPending retrieves obligations in the PENDING state.
	ListPending(ctx context.Context) ([]Obligation, error)

	// ListAll retrieves all obligations (for observability).
	ListAll(ctx context.Context) ([]Obligation, error)
}
