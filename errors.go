package authcode

import (
	"errors"
	"fmt"
)

// Kind classifies why a flow operation failed. Every error returned across
// the core/host boundary carries exactly one Kind; the host decides the
// user-facing presentation.
type Kind string

const (
	// KindStateMismatch means the callback's state did not match the
	// attempt's state token. Security-relevant: treated as a potential CSRF
	// attempt, and no token exchange is performed.
	KindStateMismatch Kind = "state_mismatch"

	// KindNetworkError means the token exchange could not complete at the
	// transport level. Transient; the host may present it as "try again".
	KindNetworkError Kind = "network_error"

	// KindProviderError means the token endpoint returned an explicit error
	// payload. The provider's error code is surfaced verbatim.
	KindProviderError Kind = "provider_error"

	// KindMalformedResponse means the token response could not be decoded
	// under any supported format. Treated like a provider error.
	KindMalformedResponse Kind = "malformed_response"

	// KindExpired means the attempt outlived its expiry window before a
	// valid callback arrived.
	KindExpired Kind = "expired"

	// KindCodeAlreadyUsed means the callback targeted an attempt that has
	// already been consumed; replays are never exchanged twice.
	KindCodeAlreadyUsed Kind = "code_already_used"

	// KindAttemptNotFound means no login attempt exists for the session.
	KindAttemptNotFound Kind = "attempt_not_found"
)

// FlowError is a classified failure of a flow operation.
type FlowError struct {
	// Kind is the failure classification.
	Kind Kind

	// Description is a human-readable explanation. It never contains state
	// tokens or access tokens.
	Description string

	// ProviderCode is the provider's error code, verbatim, when Kind is
	// KindProviderError (e.g. "bad_verification_code").
	ProviderCode string

	// Err is the underlying cause, if any.
	Err error
}

// Error implements the error interface
func (e *FlowError) Error() string {
	if e.ProviderCode != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Kind, e.Description, e.ProviderCode)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Description)
}

// Unwrap returns the underlying cause
func (e *FlowError) Unwrap() error {
	return e.Err
}

// newFlowError creates a classified flow error
func newFlowError(kind Kind, description string) *FlowError {
	return &FlowError{Kind: kind, Description: description}
}

// wrapFlowError creates a classified flow error around an underlying cause
func wrapFlowError(kind Kind, description string, err error) *FlowError {
	return &FlowError{Kind: kind, Description: description, Err: err}
}

// KindOf returns the classification of err, or "" if err is not a FlowError.
func KindOf(err error) Kind {
	var fe *FlowError
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return ""
}

// IsKind reports whether err is a FlowError with the given classification.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
