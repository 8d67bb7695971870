// Package security provides security primitives for the authorization-code
// core: state-token generation, constant-time comparison, audit logging,
// encryption at rest, and rate limiting.
package security

import (
	"crypto/subtle"

	"golang.org/x/oauth2"
)

// GenerateStateToken returns a cryptographically random, URL-safe state
// token. PKCE verifiers and state tokens have the same entropy requirement
// (an unguessable, URL-safe secret), so the token is an oauth2 verifier:
// 32 random bytes, base64url encoded.
func GenerateStateToken() string {
	return oauth2.GenerateVerifier()
}

// ConstantTimeEqual compares two strings in constant time to prevent timing
// attacks on state-token validation.
func ConstantTimeEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
