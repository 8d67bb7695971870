package instrumentation

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds all metric instruments for the authorization-code core
type Metrics struct {
	// Flow metrics
	LoginStarted       metric.Int64Counter
	CallbackProcessed  metric.Int64Counter
	ExchangeDuration   metric.Float64Histogram
	StateMismatches    metric.Int64Counter
	AttemptsExpired    metric.Int64Counter
	CodeReuseDetected  metric.Int64Counter

	// HTTP layer metrics
	HTTPRequestsTotal   metric.Int64Counter
	HTTPRequestDuration metric.Float64Histogram

	// Security metrics
	RateLimitExceeded metric.Int64Counter
	AuditEventsTotal  metric.Int64Counter

	// Storage metrics
	StorageOperationTotal    metric.Int64Counter
	StorageOperationDuration metric.Float64Histogram
	StorageAttemptsCount     metric.Int64ObservableGauge
}

// newMetrics creates and registers all metric instruments
func newMetrics(inst *Instrumentation) (*Metrics, error) {
	m := &Metrics{}

	flowMeter := inst.Meter("flow")
	httpMeter := inst.Meter("http")
	securityMeter := inst.Meter("security")
	storageMeter := inst.Meter("storage")

	var err error
	m.LoginStarted, err = flowMeter.Int64Counter(
		"authcode.login.started",
		metric.WithDescription("Number of login attempts started"),
		metric.WithUnit("{attempt}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create login.started counter: %w", err)
	}

	m.CallbackProcessed, err = flowMeter.Int64Counter(
		"authcode.callback.processed",
		metric.WithDescription("Number of provider callbacks processed, by outcome"),
		metric.WithUnit("{callback}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create callback.processed counter: %w", err)
	}

	m.ExchangeDuration, err = flowMeter.Float64Histogram(
		"authcode.exchange.duration",
		metric.WithDescription("Token exchange round-trip duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create exchange.duration histogram: %w", err)
	}

	m.StateMismatches, err = securityMeter.Int64Counter(
		"authcode.state.mismatches",
		metric.WithDescription("Number of state-token mismatches detected (potential CSRF)"),
		metric.WithUnit("{mismatch}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create state.mismatches counter: %w", err)
	}

	m.AttemptsExpired, err = flowMeter.Int64Counter(
		"authcode.attempts.expired",
		metric.WithDescription("Number of login attempts that expired before a valid callback"),
		metric.WithUnit("{attempt}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create attempts.expired counter: %w", err)
	}

	m.CodeReuseDetected, err = securityMeter.Int64Counter(
		"authcode.code.reuse_detected",
		metric.WithDescription("Number of callback replays against a completed attempt"),
		metric.WithUnit("{attempt}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create code.reuse_detected counter: %w", err)
	}

	m.HTTPRequestsTotal, err = httpMeter.Int64Counter(
		"authcode.http.requests.total",
		metric.WithDescription("Total number of HTTP requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create http.requests.total counter: %w", err)
	}

	m.HTTPRequestDuration, err = httpMeter.Float64Histogram(
		"authcode.http.request.duration",
		metric.WithDescription("HTTP request duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create http.request.duration histogram: %w", err)
	}

	m.RateLimitExceeded, err = securityMeter.Int64Counter(
		"authcode.rate_limit.exceeded",
		metric.WithDescription("Number of rate limit violations"),
		metric.WithUnit("{violation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create rate_limit.exceeded counter: %w", err)
	}

	m.AuditEventsTotal, err = securityMeter.Int64Counter(
		"authcode.audit.events.total",
		metric.WithDescription("Total number of audit events"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create audit.events.total counter: %w", err)
	}

	m.StorageOperationTotal, err = storageMeter.Int64Counter(
		"authcode.storage.operation.total",
		metric.WithDescription("Total number of storage operations"),
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage.operation.total counter: %w", err)
	}

	m.StorageOperationDuration, err = storageMeter.Float64Histogram(
		"authcode.storage.operation.duration",
		metric.WithDescription("Storage operation duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage.operation.duration histogram: %w", err)
	}

	m.StorageAttemptsCount, err = storageMeter.Int64ObservableGauge(
		"authcode.storage.attempts.count",
		metric.WithDescription("Current number of stored login attempts"),
		metric.WithUnit("{attempt}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage.attempts.count gauge: %w", err)
	}

	return m, nil
}

// Helper methods for common metric recording patterns

// RecordLoginStarted records the start of a login attempt
func (m *Metrics) RecordLoginStarted(ctx context.Context) {
	m.LoginStarted.Add(ctx, 1)
}

// RecordCallbackProcessed records a processed callback with its outcome.
// outcome is "completed" or the failure classification.
func (m *Metrics) RecordCallbackProcessed(ctx context.Context, outcome string) {
	m.CallbackProcessed.Add(ctx, 1, metric.WithAttributes(
		attribute.String("outcome", outcome),
	))
}

// RecordExchange records a token exchange round trip
func (m *Metrics) RecordExchange(ctx context.Context, statusCode int, durationMs float64) {
	m.ExchangeDuration.Record(ctx, durationMs, metric.WithAttributes(
		attribute.Int("status", statusCode),
	))
}

// RecordStateMismatch records a state-token mismatch
func (m *Metrics) RecordStateMismatch(ctx context.Context) {
	m.StateMismatches.Add(ctx, 1)
}

// RecordAttemptExpired records an attempt that outlived its window
func (m *Metrics) RecordAttemptExpired(ctx context.Context) {
	m.AttemptsExpired.Add(ctx, 1)
}

// RecordCodeReuseDetected records a replayed callback
func (m *Metrics) RecordCodeReuseDetected(ctx context.Context) {
	m.CodeReuseDetected.Add(ctx, 1)
}

// RecordHTTPRequest records an HTTP request metric
func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, endpoint string, statusCode int, durationMs float64) {
	attrs := []attribute.KeyValue{
		attribute.String("method", method),
		attribute.String("endpoint", endpoint),
		attribute.Int("status", statusCode),
	}

	m.HTTPRequestsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.HTTPRequestDuration.Record(ctx, durationMs, metric.WithAttributes(attribute.String("endpoint", endpoint)))
}

// RecordRateLimitExceeded records a rate limit violation
func (m *Metrics) RecordRateLimitExceeded(ctx context.Context) {
	m.RateLimitExceeded.Add(ctx, 1)
}

// RecordAuditEvent records an audit event
func (m *Metrics) RecordAuditEvent(ctx context.Context, eventType string) {
	m.AuditEventsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("event_type", eventType),
	))
}

// RecordStorageOperation records a storage operation
func (m *Metrics) RecordStorageOperation(ctx context.Context, operation, result string, durationMs float64) {
	attrs := []attribute.KeyValue{
		attribute.String("operation", operation),
		attribute.String("result", result),
	}

	m.StorageOperationTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.StorageOperationDuration.Record(ctx, durationMs, metric.WithAttributes(
		attribute.String("operation", operation),
	))
}
