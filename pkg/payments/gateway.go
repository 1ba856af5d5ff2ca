package payments

import (
	"context"
	"fmt"
)

// Gateway is the closed set of operations a payment provider must
// implement (spec §4.6 "Gateway abstraction").
type Gateway interface {
	Type() GatewayType
	CreatePayment(ctx context.Context, req CreateRequest) (CreateResult, error)
	// Capture is a no-op returning the current status for gateways (like
	// B) that capture implicitly on approval.
	Capture(ctx context.Context, gatewayPaymentID string) (Status, error)
	ProcessWebhook(ctx context.Context, payload []byte) (NormalizedEvent, error)
	ValidateWebhook(ctx context.Context, payload []byte, signature string) (bool, error)
	IsConfigured() bool
}

// Registry selects a Gateway by explicit id or by region hint. Gateways
// are registered once at startup and never mutated afterward (spec §9:
// "pass explicit dependency handles into constructors ... keep them
// immutable thereafter" — no global singleton).
type Registry struct {
	gateways    map[GatewayType]Gateway
	regionToGW  map[string]GatewayType
	defaultType GatewayType
}

// NewRegistry builds a Registry. regionToGW maps a region hint (e.g. a
// country or billing-zone code) to the gateway that should handle it;
// any region not present falls back to defaultType.
func NewRegistry(gateways []Gateway, regionToGW map[string]GatewayType, defaultType GatewayType) *Registry {
	byType := make(map[GatewayType]Gateway, len(gateways))
	for _, g := range gateways {
		byType[g.Type()] = g
	}
	return &Registry{gateways: byType, regionToGW: regionToGW, defaultType: defaultType}
}

func (r *Registry) Get(t GatewayType) (Gateway, error) {
	g, ok := r.gateways[t]
	if !ok {
		return nil, fmt.Errorf("payments: gateway %q not registered", t)
	}
	return g, nil
}

// SelectByRegion picks the gateway for a region hint, defaulting to
// defaultType for any region with no explicit mapping (spec §4.6:
// "selects the gateway by region hint ... otherwise gateway A").
func (r *Registry) SelectByRegion(region string) (Gateway, error) {
	t, ok := r.regionToGW[region]
	if !ok {
		t = r.defaultType
	}
	return r.Get(t)
}
