package authcode

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/oauthkit/authcode/instrumentation"
	"github.com/oauthkit/authcode/security"
)

// Defaults for the HTTP surface. All of them are overridable through
// HandlerConfig.
const (
	DefaultSessionCookieName = "authcode_session"
	DefaultLoginPath         = "/login"
	DefaultCallbackPath      = "/callback"
	DefaultHomePath          = "/"
)

// SuccessHandler renders the final response once a login attempt has
// completed and the access token is in hand.
type SuccessHandler func(w http.ResponseWriter, r *http.Request, token *AccessToken)

// ErrorHandler renders a callback failure. The error is always a *FlowError
// when it comes out of the flow; use KindOf to branch on the classification.
type ErrorHandler func(w http.ResponseWriter, r *http.Request, err error)

// HandlerConfig configures the HTTP host layer around a Flow.
type HandlerConfig struct {
	// Flow is the exchange flow the handlers drive. Required.
	Flow *Flow

	// CookieName and CookieSecure control the session cookie that keys
	// login attempts. Set CookieSecure whenever the host serves HTTPS.
	CookieName   string
	CookieSecure bool

	// LoginPath and CallbackPath are the routes RegisterRoutes claims.
	LoginPath    string
	CallbackPath string

	// HomePath is where a state-mismatch callback is bounced to. A forged
	// callback gets a bland redirect, not an error page to probe.
	HomePath string

	// OnSuccess and OnError replace the default renderers.
	OnSuccess SuccessHandler
	OnError   ErrorHandler

	// RateLimiter throttles callback handling per client IP when set.
	RateLimiter *security.RateLimiter

	// TrustProxy and TrustedProxyCount govern forwarded-header handling
	// for client IP extraction.
	TrustProxy        bool
	TrustedProxyCount int

	Logger          *slog.Logger
	Auditor         *security.Auditor
	Instrumentation *instrumentation.Instrumentation
}

// Handler hosts the login and callback endpoints over a Flow.
type Handler struct {
	flow              *Flow
	cookieName        string
	cookieSecure      bool
	loginPath         string
	callbackPath      string
	homePath          string
	onSuccess         SuccessHandler
	onError           ErrorHandler
	rateLimiter       *security.RateLimiter
	trustProxy        bool
	trustedProxyCount int
	logger            *slog.Logger
	auditor           *security.Auditor
	metrics           *instrumentation.Metrics
	tracer            trace.Tracer
}

// NewHandler creates the HTTP host layer. Missing optional fields fall back
// to the package defaults.
func NewHandler(cfg HandlerConfig) (*Handler, error) {
	if cfg.Flow == nil {
		return nil, fmt.Errorf("flow is required")
	}

	h := &Handler{
		flow:              cfg.Flow,
		cookieName:        cfg.CookieName,
		cookieSecure:      cfg.CookieSecure,
		loginPath:         cfg.LoginPath,
		callbackPath:      cfg.CallbackPath,
		homePath:          cfg.HomePath,
		onSuccess:         cfg.OnSuccess,
		onError:           cfg.OnError,
		rateLimiter:       cfg.RateLimiter,
		trustProxy:        cfg.TrustProxy,
		trustedProxyCount: cfg.TrustedProxyCount,
		logger:            cfg.Logger,
		auditor:           cfg.Auditor,
	}

	if h.cookieName == "" {
		h.cookieName = DefaultSessionCookieName
	}
	if h.loginPath == "" {
		h.loginPath = DefaultLoginPath
	}
	if h.callbackPath == "" {
		h.callbackPath = DefaultCallbackPath
	}
	if h.homePath == "" {
		h.homePath = DefaultHomePath
	}
	if h.onSuccess == nil {
		h.onSuccess = defaultSuccessHandler
	}
	if h.onError == nil {
		h.onError = defaultErrorHandler
	}
	if h.logger == nil {
		h.logger = slog.Default()
	}
	if cfg.Instrumentation != nil {
		h.metrics = cfg.Instrumentation.Metrics()
		h.tracer = cfg.Instrumentation.Tracer("handler")
		h.auditor.SetEventRecorder(h.metrics)
	}

	return h, nil
}

// startSpan starts a request span, or hands back the noop span from the
// context when tracing is not wired.
func (h *Handler) startSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	if h.tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return h.tracer.Start(ctx, "authcode.http."+name)
}

// RegisterRoutes attaches the login and callback handlers to the mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc(h.loginPath, h.HandleLogin)
	mux.HandleFunc(h.callbackPath, h.HandleCallback)
}

// HandleLogin starts a login attempt and redirects the browser to the
// provider's authorization page.
func (h *Handler) HandleLogin(rw http.ResponseWriter, r *http.Request) {
	start := time.Now()
	w := &statusRecorder{ResponseWriter: rw, status: http.StatusOK}
	ctx, span := h.startSpan(r.Context(), "login")
	defer span.End()
	r = r.WithContext(ctx)
	defer func() {
		instrumentation.AddHTTPAttributes(span, r.Method, h.loginPath, w.status)
		h.recordRequest(r, "login", w.status, start)
	}()

	if r.Method != http.MethodGet {
		instrumentation.SetSpanError(span, "method not allowed")
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	sessionID := h.ensureSession(w, r)
	instrumentation.SetSpanAttributes(span,
		attribute.String(instrumentation.AttrSessionIDHash, security.HashForLogging(sessionID)))

	redirectURL, attempt, err := h.flow.BeginLogin(r.Context(), sessionID)
	if err != nil {
		instrumentation.RecordError(span, err)
		h.logger.Error("Failed to start login attempt", "error", err)
		http.Error(w, "failed to start login", http.StatusInternalServerError)
		return
	}

	h.logger.Debug("Redirecting to authorization endpoint", "attempt_id", attempt.ID)
	http.Redirect(w, r, redirectURL, http.StatusFound)
}

// HandleCallback validates the provider callback and completes the login
// attempt. Both GET and POST callbacks are accepted; parameters are read
// from the query string or the form body accordingly.
func (h *Handler) HandleCallback(rw http.ResponseWriter, r *http.Request) {
	start := time.Now()
	w := &statusRecorder{ResponseWriter: rw, status: http.StatusOK}
	ctx, span := h.startSpan(r.Context(), "callback")
	defer span.End()
	r = r.WithContext(ctx)
	defer func() {
		instrumentation.AddHTTPAttributes(span, r.Method, h.callbackPath, w.status)
		h.recordRequest(r, "callback", w.status, start)
	}()

	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		instrumentation.SetSpanError(span, "method not allowed")
		w.Header().Set("Allow", "GET, POST")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	clientIP := security.ClientIP(r, h.trustProxy, h.trustedProxyCount)
	if h.rateLimiter != nil && !h.rateLimiter.Allow(clientIP) {
		instrumentation.SetSpanError(span, "rate limit exceeded")
		h.logger.Warn("Callback rate limit exceeded", "ip", clientIP)
		h.auditor.LogRateLimitExceeded(clientIP)
		if h.metrics != nil {
			h.metrics.RecordRateLimitExceeded(r.Context())
		}
		http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
		return
	}

	if err := r.ParseForm(); err != nil {
		instrumentation.SetSpanError(span, "malformed callback parameters")
		http.Error(w, "malformed callback parameters", http.StatusBadRequest)
		return
	}

	cookie, err := r.Cookie(h.cookieName)
	if err != nil {
		instrumentation.SetSpanError(span, string(KindAttemptNotFound))
		h.onError(w, r, newFlowError(KindAttemptNotFound, "callback arrived without a session cookie"))
		return
	}

	instrumentation.SetSpanAttributes(span,
		attribute.String(instrumentation.AttrSessionIDHash, security.HashForLogging(cookie.Value)))

	token, err := h.flow.HandleCallback(r.Context(), cookie.Value, r.Form.Get("code"), r.Form.Get("state"))
	if err != nil {
		instrumentation.SetSpanError(span, string(KindOf(err)))
		// A forged or stale state gets a quiet bounce back home rather
		// than confirmation that the check exists.
		if IsKind(err, KindStateMismatch) {
			http.Redirect(w, r, h.homePath, http.StatusFound)
			return
		}
		h.onError(w, r, err)
		return
	}

	instrumentation.SetSpanSuccess(span)
	h.onSuccess(w, r, token)
}

// ensureSession returns the session ID from the request cookie, minting and
// setting a fresh one when the browser has none yet.
func (h *Handler) ensureSession(w http.ResponseWriter, r *http.Request) string {
	if cookie, err := r.Cookie(h.cookieName); err == nil && cookie.Value != "" {
		return cookie.Value
	}

	sessionID := uuid.NewString()
	http.SetCookie(w, &http.Cookie{
		Name:     h.cookieName,
		Value:    sessionID,
		Path:     "/",
		HttpOnly: true,
		Secure:   h.cookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
	return sessionID
}

func (h *Handler) recordRequest(r *http.Request, endpoint string, status int, start time.Time) {
	if h.metrics == nil {
		return
	}
	h.metrics.RecordHTTPRequest(r.Context(), r.Method, endpoint, status,
		float64(time.Since(start))/float64(time.Millisecond))
}

// statusRecorder remembers the status written to the response so request
// metrics carry it.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(status int) {
	s.status = status
	s.ResponseWriter.WriteHeader(status)
}

// defaultSuccessHandler returns the token as JSON. Hosts that establish
// their own application session should replace this with OnSuccess.
func defaultSuccessHandler(w http.ResponseWriter, _ *http.Request, token *AccessToken) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	_ = json.NewEncoder(w).Encode(map[string]string{
		"access_token": token.Value,
		"token_type":   token.TokenType,
		"scope":        token.ScopeGranted,
	})
}

// defaultErrorHandler maps the error classification to an HTTP status and
// writes a terse JSON body that never echoes provider details beyond the
// stable error code.
func defaultErrorHandler(w http.ResponseWriter, _ *http.Request, err error) {
	kind := KindOf(err)

	status := http.StatusBadGateway
	switch kind {
	case KindAttemptNotFound:
		status = http.StatusBadRequest
	case KindExpired:
		status = http.StatusForbidden
	case KindStateMismatch:
		status = http.StatusForbidden
	case KindCodeAlreadyUsed:
		status = http.StatusConflict
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": string(kind)})
}
