// Package instrumentation provides OpenTelemetry (OTEL) instrumentation for
// the authcode library.
//
// It covers the flow, HTTP, security, and storage layers through:
//   - Metrics: counters, histograms, and gauges for login attempts,
//     callback outcomes, exchange latency, and storage operations
//   - Traces: spans for flow operations and storage access
//
// # Quick Start
//
//	inst, err := instrumentation.New(instrumentation.Config{
//		ServiceName:    "my-login-service",
//		ServiceVersion: "1.0.0",
//		Enabled:        true,
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer inst.Shutdown(context.Background())
//
// Wire the instance into authcode.Config and the storage backend; when
// Enabled is false, no-op providers are installed and recording has zero
// overhead.
//
// # Available Metrics
//
// Flow:
//   - authcode.login.started - login attempts started
//   - authcode.callback.processed{outcome} - callbacks processed by outcome
//   - authcode.exchange.duration{status} - token exchange round-trip latency
//   - authcode.attempts.expired - attempts that outlived their window
//
// Security:
//   - authcode.state.mismatches - state-token mismatches (potential CSRF)
//   - authcode.code.reuse_detected - callback replays on completed attempts
//   - authcode.rate_limit.exceeded - rate limit violations
//   - authcode.audit.events.total{event_type} - audit events
//
// HTTP:
//   - authcode.http.requests.total{method, endpoint, status}
//   - authcode.http.request.duration{endpoint}
//
// Storage:
//   - authcode.storage.operation.total{operation, result}
//   - authcode.storage.operation.duration{operation}
//   - authcode.storage.attempts.count - current stored attempts
package instrumentation
