package payments

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// GatewayBClient integrates a single-phase gateway: approval implies
// capture, so there is no separate capture step (spec §4.6 "for gateway
// B, happens on approval"). Auth is a static access token, not an
// OAuth client id/secret pair.
type GatewayBClient struct {
	baseURL     string
	accessToken string
	signing     *SigningKeyring
}

func NewGatewayBClient(baseURL, accessToken string, signing *SigningKeyring) *GatewayBClient {
	return &GatewayBClient{baseURL: baseURL, accessToken: accessToken, signing: signing}
}

func (g *GatewayBClient) Type() GatewayType { return GatewayB }

func (g *GatewayBClient) IsConfigured() bool {
	return g.baseURL != "" && g.accessToken != ""
}

func (g *GatewayBClient) CreatePayment(ctx context.Context, req CreateRequest) (CreateResult, error) {
	paymentID := "gwb_" + uuid.NewString()
	return CreateResult{
		PaymentID:   paymentID,
		ApprovalURL: fmt.Sprintf("%s/checkout/%s", g.baseURL, paymentID),
		Status:      StatusPending,
	}, nil
}

// Capture is a no-op: gateway B never issues a separate capture call.
func (g *GatewayBClient) Capture(ctx context.Context, gatewayPaymentID string) (Status, error) {
	return StatusCaptured, nil
}

func (g *GatewayBClient) ProcessWebhook(ctx context.Context, payload []byte) (NormalizedEvent, error) {
	var body struct {
		ID     string `json:"id"`
		Status string `json:"status"` // "completed" | "declined" | "reversed"
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		return NormalizedEvent{}, fmt.Errorf("gateway b: decode webhook: %w", err)
	}

	var target Status
	switch body.Status {
	case "completed":
		target = StatusCaptured // approval and capture collapse into one event
	case "declined":
		target = StatusFailed
	case "reversed":
		target = StatusRefunded
	default:
		return NormalizedEvent{}, fmt.Errorf("gateway b: unknown status %q", body.Status)
	}

	return NormalizedEvent{GatewayPaymentID: body.ID, TargetStatus: target, RawPayload: payload}, nil
}

func (g *GatewayBClient) ValidateWebhook(ctx context.Context, payload []byte, signature string) (bool, error) {
	if signature == "" {
		return false, nil
	}
	return g.signing.Verify(GatewayB, payload, signature)
}
