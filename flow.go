package authcode

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/oauthkit/authcode/instrumentation"
	"github.com/oauthkit/authcode/security"
	"github.com/oauthkit/authcode/storage"
)

// maxTokenResponseSize bounds how much of a token response is read (1 MiB).
// Prevents memory exhaustion from a misbehaving or hostile endpoint.
const maxTokenResponseSize = 1 << 20

// Flow drives a single OAuth authorization-code exchange end to end: it
// issues the anti-forgery state token, builds the authorization redirect,
// validates the provider's callback, and exchanges the one-time code for an
// access token.
//
// Attempts are independent and keyed by session; a Flow is safe for
// concurrent use and holds no lock while the token exchange is in flight.
type Flow struct {
	provider        ProviderConfig
	attempts        storage.AttemptStore
	encoder         TokenRequestEncoder
	decoder         TokenResponseDecoder
	httpClient      *http.Client
	attemptTTL      time.Duration
	exchangeTimeout time.Duration
	logger          *slog.Logger
	auditor         *security.Auditor
	metrics         *instrumentation.Metrics
	tracer          trace.Tracer

	// now is replaceable in tests
	now func() time.Time
}

// NewFlow creates a flow from the given configuration. Configuration errors
// are fatal at construction; they are never surfaced per-request.
func NewFlow(cfg Config) (*Flow, error) {
	if err := cfg.Provider.Validate(); err != nil {
		return nil, fmt.Errorf("invalid provider config: %w", err)
	}
	if cfg.Attempts == nil {
		return nil, fmt.Errorf("attempt store is required")
	}

	cfg.applyDefaults()

	f := &Flow{
		provider:        cfg.Provider,
		attempts:        cfg.Attempts,
		encoder:         cfg.Encoder,
		decoder:         cfg.Decoder,
		httpClient:      cfg.HTTPClient,
		attemptTTL:      cfg.AttemptTTL,
		exchangeTimeout: cfg.ExchangeTimeout,
		logger:          cfg.Logger,
		auditor:         cfg.Auditor,
		now:             time.Now,
	}

	if cfg.Instrumentation != nil {
		f.metrics = cfg.Instrumentation.Metrics()
		f.tracer = cfg.Instrumentation.Tracer("flow")
		f.auditor.SetEventRecorder(f.metrics)
	}

	return f, nil
}

// BeginLogin starts a new login attempt for the given session. It generates
// a fresh state token, registers a pending attempt against the session, and
// returns the provider authorization URL to redirect the user to.
// No network call occurs here; the only failure mode is the attempt store.
func (f *Flow) BeginLogin(ctx context.Context, sessionID string) (string, *storage.LoginAttempt, error) {
	if sessionID == "" {
		return "", nil, fmt.Errorf("session ID is required")
	}

	ctx, span := f.startSpan(ctx, "begin_login")
	defer span.End()

	state := security.GenerateStateToken()

	now := f.now()
	attempt := &storage.LoginAttempt{
		ID:         uuid.NewString(),
		SessionID:  sessionID,
		StateToken: state,
		Status:     storage.StatusPending,
		CreatedAt:  now,
		ExpiresAt:  now.Add(f.attemptTTL),
	}

	if err := f.attempts.SaveAttempt(ctx, sessionID, attempt); err != nil {
		instrumentation.RecordError(span, err)
		return "", nil, fmt.Errorf("failed to save login attempt: %w", err)
	}

	redirectURL, err := f.authorizeURL(state)
	if err != nil {
		instrumentation.RecordError(span, err)
		return "", nil, err
	}

	instrumentation.AddAttemptAttributes(span, attempt.ID, string(attempt.Status))
	f.logger.Debug("Login attempt started",
		"attempt_id", attempt.ID,
		"session_id_hash", security.HashForLogging(sessionID),
		"expires_at", attempt.ExpiresAt)
	f.auditor.LogLoginStarted(attempt.ID, sessionID)
	if f.metrics != nil {
		f.metrics.RecordLoginStarted(ctx)
	}

	return redirectURL, attempt, nil
}

// authorizeURL builds the provider authorization redirect with correct
// form-urlencoding of every parameter.
func (f *Flow) authorizeURL(state string) (string, error) {
	u, err := url.Parse(f.provider.AuthorizeURL)
	if err != nil {
		return "", fmt.Errorf("invalid authorize URL: %w", err)
	}

	q := u.Query()
	q.Set("client_id", f.provider.ClientID)
	q.Set("redirect_uri", f.provider.RedirectURI)
	q.Set("state", state)
	if f.provider.Scope != "" {
		q.Set("scope", f.provider.Scope)
	}
	u.RawQuery = q.Encode()

	return u.String(), nil
}

// HandleCallback processes the provider's callback for the given session.
// The state token is validated exactly once, before any network call; on a
// match, exactly one outbound exchange request is issued. Every outcome,
// success or failure, transitions the attempt to a terminal status that is
// recorded in the store before returning.
func (f *Flow) HandleCallback(ctx context.Context, sessionID, code, receivedState string) (*AccessToken, error) {
	ctx, span := f.startSpan(ctx, "handle_callback")
	defer span.End()

	attempt, err := f.attempts.GetAttempt(ctx, sessionID)
	if err != nil {
		ferr := wrapFlowError(KindAttemptNotFound, "no login attempt for session", err)
		instrumentation.RecordError(span, ferr)
		f.observeFailure(ctx, "", sessionID, ferr)
		return nil, ferr
	}

	instrumentation.AddAttemptAttributes(span, attempt.ID, string(attempt.Status))

	// Terminal attempts are never retried; a replayed callback against a
	// completed attempt is a code-reuse signal.
	if attempt.Status.Terminal() {
		ferr := terminalAttemptError(attempt)
		if attempt.Status == storage.StatusCompleted && f.metrics != nil {
			f.metrics.RecordCodeReuseDetected(ctx)
		}
		instrumentation.RecordError(span, ferr)
		f.observeFailure(ctx, attempt.ID, sessionID, ferr)
		return nil, ferr
	}

	// The expiry gate precedes the state comparison: a late callback is
	// expired, not suspect.
	if attempt.Expired(f.now()) {
		ferr := newFlowError(KindExpired, "login attempt expired before the callback arrived")
		f.recordOutcome(ctx, attempt, storage.StatusExpired, KindExpired)
		f.auditor.LogAttemptExpired(attempt.ID, sessionID)
		if f.metrics != nil {
			f.metrics.RecordAttemptExpired(ctx)
			f.metrics.RecordCallbackProcessed(ctx, string(KindExpired))
		}
		instrumentation.RecordError(span, ferr)
		return nil, ferr
	}

	// Mandatory anti-forgery check. On mismatch nothing is exchanged and
	// no network call is made.
	if !security.ConstantTimeEqual(receivedState, attempt.StateToken) {
		ferr := newFlowError(KindStateMismatch, "callback state does not match the login attempt")
		f.recordOutcome(ctx, attempt, storage.StatusFailed, KindStateMismatch)
		f.auditor.LogStateMismatch(attempt.ID, sessionID, receivedState)
		if f.metrics != nil {
			f.metrics.RecordStateMismatch(ctx)
			f.metrics.RecordCallbackProcessed(ctx, string(KindStateMismatch))
		}
		instrumentation.RecordError(span, ferr)
		return nil, ferr
	}

	if code == "" {
		ferr := newFlowError(KindProviderError, "callback carries no authorization code")
		f.recordOutcome(ctx, attempt, storage.StatusFailed, KindProviderError)
		f.observeFailure(ctx, attempt.ID, sessionID, ferr)
		instrumentation.RecordError(span, ferr)
		return nil, ferr
	}

	token, ferr := f.exchange(ctx, code, receivedState)
	if ferr != nil {
		f.recordOutcome(ctx, attempt, storage.StatusFailed, ferr.Kind)
		f.observeFailure(ctx, attempt.ID, sessionID, ferr)
		instrumentation.RecordError(span, ferr)
		return nil, ferr
	}

	f.recordOutcome(ctx, attempt, storage.StatusCompleted, "")
	f.auditor.LogLoginCompleted(attempt.ID, sessionID, token.ScopeGranted)
	if f.metrics != nil {
		f.metrics.RecordCallbackProcessed(ctx, "completed")
	}
	instrumentation.SetSpanSuccess(span)
	f.logger.Info("Login completed",
		"attempt_id", attempt.ID,
		"scope_granted", token.ScopeGranted)

	return token, nil
}

// exchange issues the single outbound token-exchange request and decodes
// the reply. The call always runs under an explicit timeout.
func (f *Flow) exchange(ctx context.Context, code, state string) (*AccessToken, *FlowError) {
	ctx, cancel := f.ensureContextTimeout(ctx)
	defer cancel()

	req, err := f.encoder.NewTokenRequest(ctx, f.provider, code, state)
	if err != nil {
		return nil, wrapFlowError(KindNetworkError, "failed to build token request", err)
	}

	start := time.Now()
	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, wrapFlowError(KindNetworkError, "token exchange request failed", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxTokenResponseSize))
	if err != nil {
		return nil, wrapFlowError(KindNetworkError, "failed to read token response", err)
	}

	if f.metrics != nil {
		f.metrics.RecordExchange(ctx, resp.StatusCode, float64(time.Since(start))/float64(time.Millisecond))
	}

	decoded, err := f.decoder.DecodeTokenResponse(resp.Header.Get("Content-Type"), body)
	if err != nil {
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return nil, newFlowError(KindProviderError,
				fmt.Sprintf("token endpoint returned status %d with an undecodable body", resp.StatusCode))
		}
		return nil, wrapFlowError(KindMalformedResponse, "token response not decodable under any supported format", err)
	}

	// Explicit provider errors are surfaced verbatim, never treated as
	// success. GitHub returns some of these with a 200 status.
	if decoded.IsError() {
		description := decoded.ErrorDescription
		if description == "" {
			description = "token endpoint returned an error"
		}
		return nil, &FlowError{
			Kind:         KindProviderError,
			Description:  description,
			ProviderCode: decoded.Error,
		}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, newFlowError(KindProviderError,
			fmt.Sprintf("token endpoint returned status %d", resp.StatusCode))
	}

	if decoded.AccessToken == "" {
		return nil, newFlowError(KindMalformedResponse, "token response is missing access_token")
	}

	return decoded.Token(), nil
}

// ensureContextTimeout ensures the context has a deadline, adding one if
// needed. If the context already has a deadline, the caller's bound wins.
func (f *Flow) ensureContextTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, hasDeadline := ctx.Deadline(); hasDeadline {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, f.exchangeTimeout)
}

// recordOutcome transitions the attempt to a terminal status and persists
// it so the outcome stays observable. Persistence failures are logged, not
// returned: the classified error already on its way to the caller wins.
func (f *Flow) recordOutcome(ctx context.Context, attempt *storage.LoginAttempt, status storage.Status, kind Kind) {
	attempt.Status = status
	attempt.FailureReason = string(kind)
	if err := f.attempts.SaveAttempt(ctx, attempt.SessionID, attempt); err != nil {
		f.logger.Warn("Failed to record attempt outcome",
			"attempt_id", attempt.ID,
			"status", string(status),
			"error", err)
	}
}

// observeFailure logs and audits a classified callback failure.
func (f *Flow) observeFailure(ctx context.Context, attemptID, sessionID string, ferr *FlowError) {
	f.logger.Warn("Callback rejected",
		"attempt_id", attemptID,
		"session_id_hash", security.HashForLogging(sessionID),
		"kind", string(ferr.Kind),
		"provider_code", ferr.ProviderCode)
	f.auditor.LogCallbackFailure(attemptID, sessionID, string(ferr.Kind))
	if f.metrics != nil {
		f.metrics.RecordCallbackProcessed(ctx, string(ferr.Kind))
	}
}

// terminalAttemptError maps an already-terminal attempt to the classified
// error a late or replayed callback receives.
func terminalAttemptError(attempt *storage.LoginAttempt) *FlowError {
	switch attempt.Status {
	case storage.StatusCompleted:
		return newFlowError(KindCodeAlreadyUsed, "login attempt already completed; authorization codes are single-use")
	case storage.StatusExpired:
		return newFlowError(KindExpired, "login attempt expired")
	default:
		kind := Kind(attempt.FailureReason)
		if kind == "" {
			kind = KindCodeAlreadyUsed
		}
		return newFlowError(kind, "login attempt already failed")
	}
}

// startSpan starts a flow span, or falls back to the span already on the
// context when tracing is not configured.
func (f *Flow) startSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	if f.tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return f.tracer.Start(ctx, "authcode.flow."+name,
		trace.WithAttributes(attribute.String("authcode.operation", name)))
}
