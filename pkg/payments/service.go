package payments

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/packforge/distro/pkg/apperr"
	"github.com/packforge/distro/pkg/ledger"
	"github.com/packforge/distro/pkg/observability"
)

// AcquisitionGranter is the narrow slice of the catalog package the
// payment service needs to complete spec §4.6 step "Acquisition grant",
// kept as an interface so payments never imports catalog directly
// (spec §9: avoid pointer/package cycles, prefer lookup by id).
type AcquisitionGranter interface {
	GrantFromCapture(ctx context.Context, tx *sql.Tx, userID, modpackID, intentID string, amount AmountInfo) (granted bool, sellerPublisherID string, err error)
}

// AmountInfo is the minimal money shape passed to the catalog package to
// avoid an import cycle on finance.Money's concrete type.
type AmountInfo struct {
	AmountMinor int64
	Currency    string
}

// Service orchestrates intent creation, webhook ingestion, and the
// resulting acquisition grant + wallet credit.
type Service struct {
	db          *sql.DB
	store       *Store
	registry    *Registry
	log         *slog.Logger
	acquisition AcquisitionGranter
}

func NewService(db *sql.DB, store *Store, registry *Registry, acquisition AcquisitionGranter, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{db: db, store: store, registry: registry, acquisition: acquisition, log: log}
}

// CreatePayment creates a gateway-side payment and records a pending
// PaymentIntent (spec §4.6).
func (s *Service) CreatePayment(ctx context.Context, req CreateRequest) (PaymentIntent, CreateResult, error) {
	gw, err := s.registry.SelectByRegion(req.Region)
	if err != nil {
		return PaymentIntent{}, CreateResult{}, apperr.Wrap(apperr.KindPreconditionFailed, "no payment gateway available", err)
	}
	if !gw.IsConfigured() {
		return PaymentIntent{}, CreateResult{}, apperr.New(apperr.KindUpstreamUnavailable, "selected payment gateway is not configured")
	}

	result, err := gw.CreatePayment(ctx, req)
	if err != nil {
		return PaymentIntent{}, CreateResult{}, apperr.Wrap(apperr.KindUpstreamUnavailable, "gateway create payment failed", err)
	}

	intent := PaymentIntent{
		ID:               uuid.NewString(),
		GatewayType:      gw.Type(),
		GatewayPaymentID: result.PaymentID,
		UserID:           req.UserID,
		ModpackID:        req.ModpackID,
		Amount:           req.Amount,
		Status:           StatusPending,
		CreatedAt:        time.Now(),
	}
	if err := s.store.Create(ctx, intent); err != nil {
		return PaymentIntent{}, CreateResult{}, err
	}

	return intent, result, nil
}

// IngestWebhook implements the §4.6 three-phase webhook pipeline. It
// ALWAYS returns a nil error to the HTTP layer's contract — internal
// failures are logged and surfaced only via the bool return, never as
// an error that would cause the handler to respond non-2xx (spec:
// "the webhook endpoint ALWAYS returns 2xx after processing").
func (s *Service) IngestWebhook(ctx context.Context, requestID string, gatewayType GatewayType, payload []byte, signature string) bool {
	gw, err := s.registry.Get(gatewayType)
	if err != nil {
		s.log.Error("webhook: unknown gateway", "request_id", requestID, "gateway", gatewayType, "error", err)
		return false
	}

	// Phase 1: validate signature.
	if valid, err := gw.ValidateWebhook(ctx, payload, signature); err != nil || !valid {
		s.log.Warn("webhook: signature validation failed", "request_id", requestID, "gateway", gatewayType, "error", err)
		return false
	}

	event, err := gw.ProcessWebhook(ctx, payload)
	if err != nil {
		s.log.Error("webhook: malformed payload", "request_id", requestID, "gateway", gatewayType, "error", err)
		return false
	}

	// Phase 2+3: resolve-or-create, then apply if monotonic, inside one
	// transaction so the row lock covers both.
	return s.applyEvent(ctx, requestID, gatewayType, event)
}

func (s *Service) applyEvent(ctx context.Context, requestID string, gatewayType GatewayType, event NormalizedEvent) bool {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		s.log.Error("webhook: begin tx failed", "request_id", requestID, "error", err)
		return false
	}
	defer func() { _ = tx.Rollback() }()

	intent, found, err := LockForUpdate(ctx, tx, gatewayType, event.GatewayPaymentID)
	if err != nil {
		s.log.Error("webhook: lock intent failed", "request_id", requestID, "error", err)
		return false
	}
	if !found {
		s.log.Warn("webhook: no matching intent, dropping", "request_id", requestID, "gateway_payment_id", event.GatewayPaymentID)
		return false
	}

	if intent.Status == event.TargetStatus {
		// Phase 3 idempotence: replaying the same event is a no-op
		// after the first success (spec L2).
		_ = tx.Commit()
		return true
	}

	if !reachable(intent.Status, event.TargetStatus) {
		s.log.Warn("webhook: non-monotonic transition ignored", "request_id", requestID,
			"from", intent.Status, "to", event.TargetStatus)
		_ = tx.Commit()
		return true
	}

	if err := ApplyTransition(ctx, tx, intent.ID, event.TargetStatus, intent.WebhookCursor); err != nil {
		s.log.Error("webhook: apply transition failed", "request_id", requestID, "error", err)
		return false
	}

	if event.TargetStatus == StatusCaptured {
		granted, sellerID, err := s.acquisition.GrantFromCapture(ctx, tx, intent.UserID, intent.ModpackID, intent.ID,
			AmountInfo{AmountMinor: intent.Amount.AmountMinor, Currency: intent.Amount.Currency})
		if err != nil {
			s.log.Error("webhook: acquisition grant failed", "request_id", requestID, "error", err)
			return false
		}
		if granted {
			s.log.Info("acquisition granted", "request_id", requestID, "intent_id", intent.ID, "seller", sellerID)
		}
	}

	if err := tx.Commit(); err != nil {
		s.log.Error("webhook: commit failed", "request_id", requestID, "error", err)
		return false
	}
	observability.AddSpanEvent(ctx, "payment.transitioned", observability.PaymentOperation(string(gatewayType), string(event.TargetStatus))...)
	ledger.Append(ctx, ledger.LedgerTypePayment, "transitioned", string(gatewayType), map[string]interface{}{
		"intent_id": intent.ID, "to_status": string(event.TargetStatus), "gateway_payment_id": event.GatewayPaymentID,
	})
	return true
}

// reachable reports whether to is reachable from from via one or more
// legal edges. Gateway B collapses pending directly to captured
// (approval is implicit), which is a two-hop path in the state machine;
// this still satisfies P4 since every hop it traverses is legal.
func reachable(from, to Status) bool {
	visited := map[Status]bool{from: true}
	queue := []Status{from}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for next := range transitions[cur] {
			if next == to {
				return true
			}
			if !visited[next] {
				visited[next] = true
				queue = append(queue, next)
			}
		}
	}
	return false
}
