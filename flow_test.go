package authcode

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/oauthkit/authcode/instrumentation"
	"github.com/oauthkit/authcode/internal/testutil"
	"github.com/oauthkit/authcode/security"
	"github.com/oauthkit/authcode/storage"
	"github.com/oauthkit/authcode/storage/mock"
)

func testProviderConfig(tokenURL string) ProviderConfig {
	return ProviderConfig{
		ClientID:     "test-client-id",
		ClientSecret: "test-client-secret",
		AuthorizeURL: "https://provider.example.com/authorize",
		TokenURL:     tokenURL,
		RedirectURI:  "https://app.example.com/callback",
		Scope:        "user:email",
	}
}

func newTestFlow(t *testing.T, store storage.AttemptStore, tokenURL string, transport http.RoundTripper) *Flow {
	t.Helper()

	cfg := Config{
		Provider: testProviderConfig(tokenURL),
		Attempts: store,
	}
	if transport != nil {
		cfg.HTTPClient = &http.Client{Transport: transport, Timeout: 5 * time.Second}
	}

	flow, err := NewFlow(cfg)
	if err != nil {
		t.Fatalf("NewFlow() error = %v", err)
	}
	return flow
}

func TestNewFlow_Validation(t *testing.T) {
	validProvider := testProviderConfig("https://provider.example.com/token")

	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{
			name:    "valid config",
			cfg:     Config{Provider: validProvider, Attempts: mock.NewAttemptStore()},
			wantErr: false,
		},
		{
			name:    "missing attempt store",
			cfg:     Config{Provider: validProvider},
			wantErr: true,
		},
		{
			name: "missing client ID",
			cfg: Config{
				Provider: ProviderConfig{
					ClientSecret: "secret",
					AuthorizeURL: "https://provider.example.com/authorize",
					TokenURL:     "https://provider.example.com/token",
					RedirectURI:  "https://app.example.com/callback",
				},
				Attempts: mock.NewAttemptStore(),
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewFlow(tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewFlow() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestFlow_BeginLogin(t *testing.T) {
	store := mock.NewAttemptStore()
	flow := newTestFlow(t, store, "https://provider.example.com/token", nil)

	redirectURL, attempt, err := flow.BeginLogin(context.Background(), "session-1")
	if err != nil {
		t.Fatalf("BeginLogin() error = %v", err)
	}

	u, err := url.Parse(redirectURL)
	if err != nil {
		t.Fatalf("BeginLogin() returned unparseable URL %q: %v", redirectURL, err)
	}
	if u.Host != "provider.example.com" || u.Path != "/authorize" {
		t.Errorf("redirect URL endpoint = %s%s, want provider.example.com/authorize", u.Host, u.Path)
	}

	q := u.Query()
	if got := q.Get("client_id"); got != "test-client-id" {
		t.Errorf("client_id = %q, want %q", got, "test-client-id")
	}
	if got := q.Get("redirect_uri"); got != "https://app.example.com/callback" {
		t.Errorf("redirect_uri = %q, want %q", got, "https://app.example.com/callback")
	}
	if got := q.Get("scope"); got != "user:email" {
		t.Errorf("scope = %q, want %q", got, "user:email")
	}
	if q.Get("client_secret") != "" {
		t.Error("client_secret must never appear in the authorization redirect")
	}

	state := q.Get("state")
	if state != attempt.StateToken {
		t.Errorf("state in URL = %q, want the attempt's state token %q", state, attempt.StateToken)
	}
	// 32 bytes of entropy encode to 43 URL-safe characters
	if len(state) < 20 {
		t.Errorf("state length = %d, want at least 20", len(state))
	}

	if attempt.Status != storage.StatusPending {
		t.Errorf("attempt status = %q, want %q", attempt.Status, storage.StatusPending)
	}
	if !attempt.ExpiresAt.After(attempt.CreatedAt) {
		t.Error("attempt expiry must be after creation")
	}

	saved, err := store.GetAttempt(context.Background(), "session-1")
	if err != nil {
		t.Fatalf("GetAttempt() after BeginLogin error = %v", err)
	}
	if saved.StateToken != attempt.StateToken {
		t.Error("stored attempt does not carry the issued state token")
	}
}

func TestFlow_BeginLogin_UniqueStates(t *testing.T) {
	store := mock.NewAttemptStore()
	flow := newTestFlow(t, store, "https://provider.example.com/token", nil)

	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		_, attempt, err := flow.BeginLogin(context.Background(), fmt.Sprintf("session-%d", i))
		if err != nil {
			t.Fatalf("BeginLogin() error = %v", err)
		}
		if seen[attempt.StateToken] {
			t.Fatalf("duplicate state token after %d attempts", i)
		}
		seen[attempt.StateToken] = true
	}
}

func TestFlow_BeginLogin_EmptySession(t *testing.T) {
	flow := newTestFlow(t, mock.NewAttemptStore(), "https://provider.example.com/token", nil)

	if _, _, err := flow.BeginLogin(context.Background(), ""); err == nil {
		t.Error("BeginLogin() with empty session ID should fail")
	}
}

func TestFlow_HandleCallback_Success_JSON(t *testing.T) {
	var gotRequest *http.Request
	var gotBody url.Values
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotRequest = r
		_ = r.ParseForm()
		gotBody = r.PostForm
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"access_token":"gho_abc123","token_type":"bearer","scope":"user:email"}`)
	}))
	defer server.Close()

	store := mock.NewAttemptStore()
	flow := newTestFlow(t, store, server.URL, nil)

	_, attempt, err := flow.BeginLogin(context.Background(), "session-1")
	if err != nil {
		t.Fatalf("BeginLogin() error = %v", err)
	}

	token, err := flow.HandleCallback(context.Background(), "session-1", "auth-code-1", attempt.StateToken)
	if err != nil {
		t.Fatalf("HandleCallback() error = %v", err)
	}

	if token.Value != "gho_abc123" {
		t.Errorf("token value = %q, want %q", token.Value, "gho_abc123")
	}
	if token.TokenType != "bearer" {
		t.Errorf("token type = %q, want %q", token.TokenType, "bearer")
	}
	if token.ScopeGranted != "user:email" {
		t.Errorf("scope granted = %q, want %q", token.ScopeGranted, "user:email")
	}

	if gotRequest.Method != http.MethodPost {
		t.Errorf("exchange method = %q, want POST", gotRequest.Method)
	}
	if got := gotBody.Get("code"); got != "auth-code-1" {
		t.Errorf("exchanged code = %q, want %q", got, "auth-code-1")
	}
	if got := gotBody.Get("client_id"); got != "test-client-id" {
		t.Errorf("exchanged client_id = %q, want %q", got, "test-client-id")
	}
	if got := gotBody.Get("client_secret"); got != "test-client-secret" {
		t.Errorf("exchanged client_secret = %q, want %q", got, "test-client-secret")
	}
	if got := gotBody.Get("redirect_uri"); got != "https://app.example.com/callback" {
		t.Errorf("exchanged redirect_uri = %q, want %q", got, "https://app.example.com/callback")
	}

	saved, err := store.GetAttempt(context.Background(), "session-1")
	if err != nil {
		t.Fatalf("GetAttempt() error = %v", err)
	}
	if saved.Status != storage.StatusCompleted {
		t.Errorf("attempt status after success = %q, want %q", saved.Status, storage.StatusCompleted)
	}
}

func TestFlow_HandleCallback_Success_FormResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/x-www-form-urlencoded")
		fmt.Fprint(w, "access_token=gho_form456&token_type=bearer&scope=user%3Aemail")
	}))
	defer server.Close()

	store := mock.NewAttemptStore()
	flow := newTestFlow(t, store, server.URL, nil)

	_, attempt, err := flow.BeginLogin(context.Background(), "session-1")
	if err != nil {
		t.Fatalf("BeginLogin() error = %v", err)
	}

	token, err := flow.HandleCallback(context.Background(), "session-1", "auth-code-1", attempt.StateToken)
	if err != nil {
		t.Fatalf("HandleCallback() error = %v", err)
	}
	if token.Value != "gho_form456" {
		t.Errorf("token value = %q, want %q", token.Value, "gho_form456")
	}
	if token.ScopeGranted != "user:email" {
		t.Errorf("scope granted = %q, want %q", token.ScopeGranted, "user:email")
	}
}

func TestFlow_HandleCallback_StateMismatch_NoNetworkCall(t *testing.T) {
	transport := &testutil.CountingTransport{}

	store := mock.NewAttemptStore()
	flow := newTestFlow(t, store, "https://provider.example.com/token", transport)

	_, _, err := flow.BeginLogin(context.Background(), "session-1")
	if err != nil {
		t.Fatalf("BeginLogin() error = %v", err)
	}

	_, err = flow.HandleCallback(context.Background(), "session-1", "auth-code-1", "forged-state")
	if !IsKind(err, KindStateMismatch) {
		t.Fatalf("HandleCallback() error kind = %q, want %q", KindOf(err), KindStateMismatch)
	}

	if n := transport.Count(); n != 0 {
		t.Errorf("state mismatch made %d network calls, want 0", n)
	}

	saved, err := store.GetAttempt(context.Background(), "session-1")
	if err != nil {
		t.Fatalf("GetAttempt() error = %v", err)
	}
	if saved.Status != storage.StatusFailed {
		t.Errorf("attempt status = %q, want %q", saved.Status, storage.StatusFailed)
	}
	if saved.FailureReason != string(KindStateMismatch) {
		t.Errorf("failure reason = %q, want %q", saved.FailureReason, KindStateMismatch)
	}
}

func TestFlow_HandleCallback_Replay(t *testing.T) {
	exchanges := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		exchanges++
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"access_token":"gho_abc123","token_type":"bearer"}`)
	}))
	defer server.Close()

	store := mock.NewAttemptStore()
	flow := newTestFlow(t, store, server.URL, nil)

	_, attempt, err := flow.BeginLogin(context.Background(), "session-1")
	if err != nil {
		t.Fatalf("BeginLogin() error = %v", err)
	}

	if _, err := flow.HandleCallback(context.Background(), "session-1", "auth-code-1", attempt.StateToken); err != nil {
		t.Fatalf("first HandleCallback() error = %v", err)
	}

	// Same callback again: the attempt is spent, no second exchange.
	_, err = flow.HandleCallback(context.Background(), "session-1", "auth-code-1", attempt.StateToken)
	if !IsKind(err, KindCodeAlreadyUsed) {
		t.Errorf("replay error kind = %q, want %q", KindOf(err), KindCodeAlreadyUsed)
	}
	if exchanges != 1 {
		t.Errorf("token endpoint hit %d times, want 1", exchanges)
	}
}

func TestFlow_HandleCallback_Expired(t *testing.T) {
	transport := &testutil.CountingTransport{}
	clock := testutil.NewMockTime(time.Now())

	store := mock.NewAttemptStore()
	flow := newTestFlow(t, store, "https://provider.example.com/token", transport)
	flow.now = clock.Now

	_, attempt, err := flow.BeginLogin(context.Background(), "session-1")
	if err != nil {
		t.Fatalf("BeginLogin() error = %v", err)
	}

	clock.Advance(DefaultAttemptTTL + time.Second)

	// Expiry is decided before the state comparison, so even a wrong
	// state reads as expired, not as a forgery.
	_, err = flow.HandleCallback(context.Background(), "session-1", "auth-code-1", "wrong-state")
	if !IsKind(err, KindExpired) {
		t.Fatalf("late callback error kind = %q, want %q", KindOf(err), KindExpired)
	}
	if n := transport.Count(); n != 0 {
		t.Errorf("expired callback made %d network calls, want 0", n)
	}

	saved, err := store.GetAttempt(context.Background(), "session-1")
	if err != nil {
		t.Fatalf("GetAttempt() error = %v", err)
	}
	if saved.Status != storage.StatusExpired {
		t.Errorf("attempt status = %q, want %q", saved.Status, storage.StatusExpired)
	}

	// A second callback, even with the right state, stays expired.
	_, err = flow.HandleCallback(context.Background(), "session-1", "auth-code-1", attempt.StateToken)
	if !IsKind(err, KindExpired) {
		t.Errorf("re-sent callback error kind = %q, want %q", KindOf(err), KindExpired)
	}
}

func TestFlow_HandleCallback_AttemptNotFound(t *testing.T) {
	flow := newTestFlow(t, mock.NewAttemptStore(), "https://provider.example.com/token", nil)

	_, err := flow.HandleCallback(context.Background(), "unknown-session", "code", "state")
	if !IsKind(err, KindAttemptNotFound) {
		t.Errorf("error kind = %q, want %q", KindOf(err), KindAttemptNotFound)
	}
}

func TestFlow_HandleCallback_ProviderError_Status200(t *testing.T) {
	// GitHub reports bad_verification_code with HTTP 200; the error fields
	// are authoritative.
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"error":"bad_verification_code","error_description":"The code passed is incorrect or expired."}`)
	}))
	defer server.Close()

	store := mock.NewAttemptStore()
	flow := newTestFlow(t, store, server.URL, nil)

	_, attempt, err := flow.BeginLogin(context.Background(), "session-1")
	if err != nil {
		t.Fatalf("BeginLogin() error = %v", err)
	}

	_, err = flow.HandleCallback(context.Background(), "session-1", "expired-code", attempt.StateToken)
	if !IsKind(err, KindProviderError) {
		t.Fatalf("error kind = %q, want %q", KindOf(err), KindProviderError)
	}

	var ferr *FlowError
	if !errors.As(err, &ferr) {
		t.Fatal("error is not a *FlowError")
	}
	if ferr.ProviderCode != "bad_verification_code" {
		t.Errorf("provider code = %q, want %q", ferr.ProviderCode, "bad_verification_code")
	}

	saved, _ := store.GetAttempt(context.Background(), "session-1")
	if saved.Status != storage.StatusFailed {
		t.Errorf("attempt status = %q, want %q", saved.Status, storage.StatusFailed)
	}
}

func TestFlow_HandleCallback_NetworkError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	tokenURL := server.URL
	server.Close() // connection refused from here on

	store := mock.NewAttemptStore()
	flow := newTestFlow(t, store, tokenURL, nil)

	_, attempt, err := flow.BeginLogin(context.Background(), "session-1")
	if err != nil {
		t.Fatalf("BeginLogin() error = %v", err)
	}

	_, err = flow.HandleCallback(context.Background(), "session-1", "auth-code-1", attempt.StateToken)
	if !IsKind(err, KindNetworkError) {
		t.Errorf("error kind = %q, want %q", KindOf(err), KindNetworkError)
	}
}

func TestFlow_HandleCallback_MalformedResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, "<html>not a token</html>")
	}))
	defer server.Close()

	flow := newTestFlow(t, mock.NewAttemptStore(), server.URL, nil)

	_, attempt, err := flow.BeginLogin(context.Background(), "session-1")
	if err != nil {
		t.Fatalf("BeginLogin() error = %v", err)
	}

	_, err = flow.HandleCallback(context.Background(), "session-1", "auth-code-1", attempt.StateToken)
	if !IsKind(err, KindMalformedResponse) {
		t.Errorf("error kind = %q, want %q", KindOf(err), KindMalformedResponse)
	}
}

func TestFlow_HandleCallback_ProviderError_Status500(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprint(w, "internal error")
	}))
	defer server.Close()

	flow := newTestFlow(t, mock.NewAttemptStore(), server.URL, nil)

	_, attempt, err := flow.BeginLogin(context.Background(), "session-1")
	if err != nil {
		t.Fatalf("BeginLogin() error = %v", err)
	}

	_, err = flow.HandleCallback(context.Background(), "session-1", "auth-code-1", attempt.StateToken)
	if !IsKind(err, KindProviderError) {
		t.Errorf("error kind = %q, want %q", KindOf(err), KindProviderError)
	}
}

func TestFlow_HandleCallback_MissingCode(t *testing.T) {
	transport := &testutil.CountingTransport{}

	store := mock.NewAttemptStore()
	flow := newTestFlow(t, store, "https://provider.example.com/token", transport)

	_, attempt, err := flow.BeginLogin(context.Background(), "session-1")
	if err != nil {
		t.Fatalf("BeginLogin() error = %v", err)
	}

	_, err = flow.HandleCallback(context.Background(), "session-1", "", attempt.StateToken)
	if !IsKind(err, KindProviderError) {
		t.Errorf("error kind = %q, want %q", KindOf(err), KindProviderError)
	}
	if n := transport.Count(); n != 0 {
		t.Errorf("missing code made %d network calls, want 0", n)
	}
}

func TestNewFlow_CountsAuditEvents(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	inst, err := instrumentation.New(instrumentation.Config{
		Enabled:       true,
		MeterProvider: sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)),
	})
	if err != nil {
		t.Fatalf("instrumentation.New() error = %v", err)
	}

	auditor := security.NewAuditor(nil, true)
	cfg := Config{
		Provider:        testProviderConfig("https://provider.example.com/token"),
		Attempts:        mock.NewAttemptStore(),
		Auditor:         auditor,
		Instrumentation: inst,
	}
	if _, err := NewFlow(cfg); err != nil {
		t.Fatalf("NewFlow() error = %v", err)
	}

	auditor.LogLoginStarted("attempt-1", "session-1")

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect() error = %v", err)
	}

	found := false
	for _, scope := range rm.ScopeMetrics {
		for _, m := range scope.Metrics {
			if m.Name == "authcode.audit.events.total" {
				found = true
			}
		}
	}
	if !found {
		t.Error("audit event counter not collected after an audit log call")
	}
}
