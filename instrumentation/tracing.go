package instrumentation

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Common span attribute keys.
//
// SECURITY WARNING: Never put actual credential values (state tokens, access
// tokens, authorization codes, client secrets) in traces or metrics. Only
// record metadata such as attempt IDs, statuses, and classifications. Traces
// are persisted, replicated, and readable by wider audiences than the
// systems they describe.
const (
	// Flow attributes - metadata only
	AttrAttemptID      = "authcode.attempt_id"
	AttrAttemptStatus  = "authcode.attempt_status"
	AttrFailureKind    = "authcode.failure_kind"
	AttrScope          = "authcode.scope"
	AttrProviderStatus = "authcode.provider.status"
	AttrResponseFormat = "authcode.response_format"
	AttrSessionIDHash  = "authcode.session_id_hash"

	// Storage attributes
	AttrStorageOperation = "storage.operation"
	AttrStorageResult    = "storage.result"
	AttrStorageType      = "storage.type"

	// HTTP attributes (in addition to standard semantic conventions)
	AttrHTTPEndpoint   = "http.endpoint"
	AttrHTTPMethod     = "http.method"
	AttrHTTPStatusCode = "http.status_code"
)

// RecordError records an error on a span with proper status codes (nil-safe)
func RecordError(span trace.Span, err error) {
	if span != nil && err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// SetSpanSuccess marks a span as successful (nil-safe)
func SetSpanSuccess(span trace.Span) {
	if span != nil {
		span.SetStatus(codes.Ok, "")
	}
}

// SetSpanError sets an error status on a span (nil-safe)
func SetSpanError(span trace.Span, message string) {
	if span != nil {
		span.SetStatus(codes.Error, message)
	}
}

// SetSpanAttributes sets attributes on a span (nil-safe)
func SetSpanAttributes(span trace.Span, attrs ...attribute.KeyValue) {
	if span != nil {
		span.SetAttributes(attrs...)
	}
}

// AddAttemptAttributes adds common attempt attributes to a span (nil-safe)
func AddAttemptAttributes(span trace.Span, attemptID string, status string) {
	if attemptID != "" {
		SetSpanAttributes(span, attribute.String(AttrAttemptID, attemptID))
	}
	if status != "" {
		SetSpanAttributes(span, attribute.String(AttrAttemptStatus, status))
	}
}

// AddStorageAttributes adds storage operation attributes to a span (nil-safe)
func AddStorageAttributes(span trace.Span, operation, storageType string) {
	SetSpanAttributes(span,
		attribute.String(AttrStorageOperation, operation),
		attribute.String(AttrStorageType, storageType),
	)
}

// AddHTTPAttributes adds HTTP request attributes to a span (nil-safe)
func AddHTTPAttributes(span trace.Span, method, endpoint string, statusCode int) {
	SetSpanAttributes(span,
		attribute.String(AttrHTTPMethod, method),
		attribute.String(AttrHTTPEndpoint, endpoint),
		attribute.Int(AttrHTTPStatusCode, statusCode),
	)
}
