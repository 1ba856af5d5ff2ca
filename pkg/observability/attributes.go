// Package observability — distribution-backend-specific instrumentation
// helpers: typed attribute builders for the four core subsystems (spec
// §1): blob store, import orchestrator, access resolver, payment
// orchestrator.
package observability

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var (
	AttrModpackID   = attribute.Key("distro.modpack.id")
	AttrPublisherID = attribute.Key("distro.publisher.id")
	AttrVersionID   = attribute.Key("distro.version.id")

	AttrImportStatus     = attribute.Key("distro.import.status")
	AttrImportDownloaded = attribute.Key("distro.import.downloaded")
	AttrImportDeduped    = attribute.Key("distro.import.deduped")

	AttrAccessDecision = attribute.Key("distro.access.decision")
	AttrDenialReason   = attribute.Key("distro.access.denial_reason")

	AttrGatewayType      = attribute.Key("distro.payment.gateway")
	AttrPaymentStatus    = attribute.Key("distro.payment.status")
	AttrWithdrawalStatus = attribute.Key("distro.withdrawal.status")
)

// ImportOperation creates attributes for one import orchestrator run.
func ImportOperation(modpackID, status string, downloaded, deduped int) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrModpackID.String(modpackID),
		AttrImportStatus.String(status),
		AttrImportDownloaded.Int(downloaded),
		AttrImportDeduped.Int(deduped),
	}
}

// AccessOperation creates attributes for one access resolver decision.
func AccessOperation(modpackID string, allowed bool, reason string) []attribute.KeyValue {
	decision := "allowed"
	if !allowed {
		decision = "denied"
	}
	return []attribute.KeyValue{
		AttrModpackID.String(modpackID),
		AttrAccessDecision.String(decision),
		AttrDenialReason.String(reason),
	}
}

// PaymentOperation creates attributes for one payment state transition.
func PaymentOperation(gatewayType, status string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrGatewayType.String(gatewayType),
		AttrPaymentStatus.String(status),
	}
}

// WithdrawalOperation creates attributes for one withdrawal transition.
func WithdrawalOperation(publisherID, status string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrPublisherID.String(publisherID),
		AttrWithdrawalStatus.String(status),
	}
}

// SpanFromContext extracts the span from context.
func SpanFromContext(ctx context.Context) trace.Span {
	return trace.SpanFromContext(ctx)
}

// AddSpanEvent adds an event to the current span.
func AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	span := trace.SpanFromContext(ctx)
	span.AddEvent(name, trace.WithAttributes(attrs...))
}

// SetSpanStatus records err on the current span, if any.
func SetSpanStatus(ctx context.Context, err error) {
	span := trace.SpanFromContext(ctx)
	if err != nil {
		span.RecordError(err)
	}
}
