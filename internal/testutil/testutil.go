// Package testutil provides testing utilities and fixtures for the authcode
// library: a controllable clock, canned token-endpoint servers, and helpers
// for generating test data.
package testutil

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oauthkit/authcode/storage"
)

// MockTime provides a controllable time source for deterministic testing.
type MockTime struct {
	mu  sync.Mutex
	now time.Time
}

// NewMockTime creates a new mock time provider.
func NewMockTime(t time.Time) *MockTime {
	return &MockTime{now: t}
}

// Now returns the current mock time.
func (m *MockTime) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Advance moves the mock time forward by the given duration.
func (m *MockTime) Advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = m.now.Add(d)
}

// Set sets the mock time to a specific value.
func (m *MockTime) Set(t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = t
}

// CountingTransport wraps a RoundTripper and counts the requests going
// through it. Use it to assert exactly how many network calls happened.
type CountingTransport struct {
	Base  http.RoundTripper
	count atomic.Int64
}

func (t *CountingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	t.count.Add(1)
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}
	return base.RoundTrip(req)
}

// Count returns the number of requests seen so far.
func (t *CountingTransport) Count() int64 {
	return t.count.Load()
}

// NewJSONTokenServer returns a test server whose token endpoint answers
// with a JSON token response.
func NewJSONTokenServer(accessToken, scope string) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"access_token":%q,"token_type":"bearer","scope":%q}`, accessToken, scope)
	}))
}

// NewFormTokenServer returns a test server whose token endpoint answers in
// GitHub's default form-urlencoded format.
func NewFormTokenServer(accessToken, scope string) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/x-www-form-urlencoded")
		fmt.Fprintf(w, "access_token=%s&token_type=bearer&scope=%s", accessToken, scope)
	}))
}

// NewErrorTokenServer returns a test server that reports an OAuth error
// with the given HTTP status. GitHub famously uses 200 here.
func NewErrorTokenServer(status int, errorCode string) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		fmt.Fprintf(w, `{"error":%q,"error_description":"test error"}`, errorCode)
	}))
}

// GenerateRandomString generates a URL-safe random string of n bytes of
// entropy.
func GenerateRandomString(n int) string {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		panic(fmt.Sprintf("failed to read random bytes: %v", err))
	}
	return base64.RawURLEncoding.EncodeToString(b)
}

// NewPendingAttempt builds a pending login attempt that expires ttl from
// now.
func NewPendingAttempt(sessionID, stateToken string, ttl time.Duration) *storage.LoginAttempt {
	now := time.Now()
	return &storage.LoginAttempt{
		ID:         GenerateRandomString(16),
		SessionID:  sessionID,
		StateToken: stateToken,
		Status:     storage.StatusPending,
		CreatedAt:  now,
		ExpiresAt:  now.Add(ttl),
	}
}
