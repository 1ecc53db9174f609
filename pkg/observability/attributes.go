package observability

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Semantic convention attributes.
var (
	AttrOperation = attribute.Key("pilgrim.operation")
	AttrErrorCode = attribute.Key("pilgrim.error.code")
	AttrStatus    = attribute.Key("pilgrim.run.status")
	AttrRunID     = attribute.Key("pilgrim.run.id")
	AttrIntentID  = attribute.Key("pilgrim.intent.id")
	AttrSubject   = attribute.Key("pilgrim.subject")

	AttrDomain      = attribute.Key("pilgrim.invariant.domain")
	AttrInvariantID = attribute.Key("pilgrim.invariant.id")

	AttrLedgerKind  = attribute.Key("pilgrim.ledger.kind")
	AttrLedgerIndex = attribute.Key("pilgrim.ledger.index")
)

// RunAttributes describes a submission.
func RunAttributes(intentID, runID, subject string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrIntentID.String(intentID),
		AttrRunID.String(runID),
		AttrSubject.String(subject),
	}
}

// DriftAttributes describes a guarded invariant.
func DriftAttributes(domain, invariantID string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrDomain.String(domain),
		AttrInvariantID.String(invariantID),
	}
}

// AddSpanEvent adds an event to the current span.
func AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	trace.SpanFromContext(ctx).AddEvent(name, trace.WithAttributes(attrs...))
}
