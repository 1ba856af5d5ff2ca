package payments

import (
	"context"
	"time"
)

// ReconcileSweep re-polls gateways for intents stuck pending/approved
// past staleAfter, covering spec §7's "a reconciliation sweep retries"
// promise for webhook processing errors that left an intent in its
// prior state. It's a supplement to the webhook path, not a
// replacement: webhooks are still the primary path to a transition.
func (s *Service) ReconcileSweep(ctx context.Context, staleAfter time.Duration) (int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, gateway_type, gateway_payment_id FROM payment_intents
		WHERE status IN ('pending', 'approved') AND created_at < $1`,
		time.Now().Add(-staleAfter))
	if err != nil {
		return 0, err
	}
	defer func() { _ = rows.Close() }()

	type stale struct{ id, gatewayType, gatewayPaymentID string }
	var candidates []stale
	for rows.Next() {
		var c stale
		if err := rows.Scan(&c.id, &c.gatewayType, &c.gatewayPaymentID); err != nil {
			return 0, err
		}
		candidates = append(candidates, c)
	}
	if err := rows.Err(); err != nil {
		return 0, err
	}

	reconciled := 0
	for _, c := range candidates {
		gw, err := s.registry.Get(GatewayType(c.gatewayType))
		if err != nil {
			s.log.Warn("reconcile: unknown gateway for stale intent", "intent_id", c.id, "gateway", c.gatewayType)
			continue
		}
		status, err := gw.Capture(ctx, c.gatewayPaymentID)
		if err != nil {
			s.log.Warn("reconcile: capture probe failed", "intent_id", c.id, "error", err)
			continue
		}
		if s.applyEvent(ctx, "reconcile-"+c.id, GatewayType(c.gatewayType), NormalizedEvent{
			GatewayPaymentID: c.gatewayPaymentID,
			TargetStatus:     status,
		}) {
			reconciled++
		}
	}

	s.log.Info("reconcile sweep complete", "candidates", len(candidates), "reconciled", reconciled)
	return reconciled, nil
}
