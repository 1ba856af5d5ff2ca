// Package payments implements the gateway abstraction, the PaymentIntent
// state machine, and idempotent webhook ingestion (spec §4.6).
package payments

import (
	"time"

	"github.com/packforge/distro/pkg/finance"
)

// GatewayType identifies one of the two supported payment providers.
type GatewayType string

const (
	GatewayA GatewayType = "A"
	GatewayB GatewayType = "B"
)

// Status is a PaymentIntent's position in the §4.6 state machine.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusCaptured Status = "captured"
	StatusFailed   Status = "failed"
	StatusRefunded Status = "refunded"
)

// transitions enumerates every edge the state machine accepts; applying
// an edge not in this table is rejected (spec P4: "the sequence of
// applied transitions is a prefix of one accepted by the state machine").
var transitions = map[Status]map[Status]bool{
	StatusPending:  {StatusApproved: true, StatusFailed: true},
	StatusApproved: {StatusCaptured: true, StatusFailed: true},
	StatusCaptured: {StatusRefunded: true},
	StatusFailed:   {},
	StatusRefunded: {},
}

// CanTransition reports whether from->to is a legal single-step edge.
func CanTransition(from, to Status) bool {
	return transitions[from][to]
}

// PaymentIntent is the internal record of one purchase attempt against
// one gateway (spec §4).
type PaymentIntent struct {
	ID               string
	GatewayType      GatewayType
	GatewayPaymentID string
	UserID           string
	ModpackID        string
	Amount           finance.Money
	Status           Status
	CreatedAt        time.Time
	WebhookCursor    int64 // monotonic count of webhook events applied; optimistic concurrency column
}

// CreateRequest is the input to CreatePayment.
type CreateRequest struct {
	UserID    string
	ModpackID string
	Amount    finance.Money
	Region    string
}

// CreateResult is the gateway's response to creating a payment.
type CreateResult struct {
	PaymentID   string
	ApprovalURL string
	Status      Status
}

// NormalizedEvent is a gateway webhook payload reduced to the fields the
// state machine needs, independent of the gateway's wire format.
type NormalizedEvent struct {
	GatewayPaymentID string
	TargetStatus     Status
	RawPayload       []byte
}
