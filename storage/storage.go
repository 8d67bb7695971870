// Package storage defines the interface for persisting in-flight login
// attempts. It supports various backend implementations including in-memory
// and Valkey, so the core can be hosted by any session layer that supplies
// a key-value store scoped to session identity.
package storage

import (
	"context"
	"errors"
	"time"
)

// Status is the lifecycle state of a LoginAttempt.
// Pending is the only non-terminal status; every other status is final and
// an attempt never leaves it.
type Status string

const (
	// StatusPending means the attempt is waiting for the provider callback.
	StatusPending Status = "pending"

	// StatusCompleted means the callback was validated and the authorization
	// code was exchanged for an access token.
	StatusCompleted Status = "completed"

	// StatusExpired means the expiry window elapsed with no valid callback.
	StatusExpired Status = "expired"

	// StatusFailed means the callback was rejected (state mismatch, network
	// error, provider error, or malformed response).
	StatusFailed Status = "failed"
)

// Terminal reports whether the status is final.
func (s Status) Terminal() bool {
	return s != StatusPending
}

// LoginAttempt represents one in-flight authorization request.
// It is owned exclusively by the session that created it and is keyed by
// that session's identity in the AttemptStore.
type LoginAttempt struct {
	// ID uniquely identifies the attempt (for logging and correlation).
	ID string

	// SessionID is the host session this attempt belongs to.
	SessionID string

	// StateToken is the anti-forgery token round-tripped through the
	// provider. It must be validated exactly once, and only against this
	// attempt.
	StateToken string

	// Status is the attempt's lifecycle state.
	Status Status

	// FailureReason records why a failed or expired attempt terminated.
	// Empty for pending and completed attempts.
	FailureReason string

	// CreatedAt is when the attempt was issued.
	CreatedAt time.Time

	// ExpiresAt is when the attempt stops accepting callbacks.
	ExpiresAt time.Time
}

// Expired reports whether the attempt's expiry window has elapsed at the
// given instant.
func (a *LoginAttempt) Expired(now time.Time) bool {
	return now.After(a.ExpiresAt)
}

// ErrAttemptNotFound is returned when no attempt exists for a session.
var ErrAttemptNotFound = errors.New("login attempt not found")

// AttemptStore defines the interface for persisting login attempts, keyed
// by session identity. Implementations must be safe for concurrent use;
// the core never holds a store lock while a network call is in flight.
//
// Terminal attempts are kept (not deleted) when the core records an outcome
// so that failures remain observable; implementations reap them with a
// time-based sweep or key TTL.
type AttemptStore interface {
	// SaveAttempt persists the attempt for a session, replacing any
	// previous attempt for the same session.
	SaveAttempt(ctx context.Context, sessionID string, attempt *LoginAttempt) error

	// GetAttempt retrieves the attempt for a session.
	// Returns ErrAttemptNotFound (possibly wrapped) when none exists.
	GetAttempt(ctx context.Context, sessionID string) (*LoginAttempt, error)

	// DeleteAttempt removes the attempt for a session. Deleting a missing
	// attempt is not an error.
	DeleteAttempt(ctx context.Context, sessionID string) error
}
