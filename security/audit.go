package security

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"time"
)

// EventRecorder counts audit events alongside the log stream. The
// instrumentation Metrics type satisfies it.
type EventRecorder interface {
	RecordAuditEvent(ctx context.Context, eventType string)
}

// Auditor handles security event logging without leaking credential values.
// State tokens and access tokens are never logged raw; sensitive values are
// reduced to a short SHA-256 prefix so events can be correlated safely.
type Auditor struct {
	logger   *slog.Logger
	enabled  bool
	recorder EventRecorder
}

// NewAuditor creates a new security auditor
func NewAuditor(logger *slog.Logger, enabled bool) *Auditor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Auditor{
		logger:  logger,
		enabled: enabled,
	}
}

// SetEventRecorder wires a counter for audit events. Safe to call on a nil
// auditor.
func (a *Auditor) SetEventRecorder(recorder EventRecorder) {
	if a == nil {
		return
	}
	a.recorder = recorder
}

// Event represents a security audit event
type Event struct {
	Type      string
	AttemptID string
	SessionID string
	IPAddress string
	Details   map[string]any
	Timestamp time.Time
}

// LogEvent logs a security event with hashed session identity
func (a *Auditor) LogEvent(event Event) {
	if a == nil || !a.enabled {
		return
	}

	event.Timestamp = time.Now()

	a.logger.Info("security_audit",
		"event_type", event.Type,
		"attempt_id", event.AttemptID,
		"session_id_hash", HashForLogging(event.SessionID),
		"ip_address", event.IPAddress,
		"details", event.Details,
		"timestamp", event.Timestamp,
	)

	if a.recorder != nil {
		a.recorder.RecordAuditEvent(context.Background(), event.Type)
	}
}

// LogLoginStarted logs the start of an authorization flow
func (a *Auditor) LogLoginStarted(attemptID, sessionID string) {
	a.LogEvent(Event{
		Type:      "login_started",
		AttemptID: attemptID,
		SessionID: sessionID,
	})
}

// LogLoginCompleted logs a successful code exchange
func (a *Auditor) LogLoginCompleted(attemptID, sessionID, scopeGranted string) {
	a.LogEvent(Event{
		Type:      "login_completed",
		AttemptID: attemptID,
		SessionID: sessionID,
		Details: map[string]any{
			"scope_granted": scopeGranted,
		},
	})
}

// LogStateMismatch logs a state-token mismatch. This is treated as a
// potential CSRF attempt; the tokens themselves are hashed, never logged.
func (a *Auditor) LogStateMismatch(attemptID, sessionID, receivedState string) {
	a.LogEvent(Event{
		Type:      "state_mismatch",
		AttemptID: attemptID,
		SessionID: sessionID,
		Details: map[string]any{
			"severity":            "critical",
			"received_state_hash": HashForLogging(receivedState),
		},
	})
}

// LogCallbackFailure logs a failed callback with its classification
func (a *Auditor) LogCallbackFailure(attemptID, sessionID, reason string) {
	a.LogEvent(Event{
		Type:      "callback_failure",
		AttemptID: attemptID,
		SessionID: sessionID,
		Details: map[string]any{
			"reason": reason,
		},
	})
}

// LogAttemptExpired logs a callback that arrived after the expiry window
func (a *Auditor) LogAttemptExpired(attemptID, sessionID string) {
	a.LogEvent(Event{
		Type:      "attempt_expired",
		AttemptID: attemptID,
		SessionID: sessionID,
	})
}

// LogRateLimitExceeded logs a rate limit violation
func (a *Auditor) LogRateLimitExceeded(ipAddress string) {
	a.LogEvent(Event{
		Type:      "rate_limit_exceeded",
		IPAddress: ipAddress,
	})
}

// HashForLogging creates a short SHA-256 hash of sensitive data for logging
func HashForLogging(sensitive string) string {
	if sensitive == "" {
		return "<empty>"
	}
	hash := sha256.Sum256([]byte(sensitive))
	return hex.EncodeToString(hash[:])[:16]
}
