package authcode

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/oauthkit/authcode/instrumentation"
	"github.com/oauthkit/authcode/security"
	"github.com/oauthkit/authcode/storage"
)

const (
	// DefaultAttemptTTL is how long a login attempt accepts callbacks.
	DefaultAttemptTTL = 10 * time.Minute

	// DefaultExchangeTimeout bounds the single outbound token exchange call.
	DefaultExchangeTimeout = 30 * time.Second
)

// Config holds the flow configuration.
type Config struct {
	// Provider is the OAuth provider to authenticate against (required).
	Provider ProviderConfig

	// Attempts is the session-scoped attempt store (required). The host
	// web layer supplies it; the core only needs get/save/delete keyed by
	// session identity.
	Attempts storage.AttemptStore

	// Encoder places the token-exchange parameters on the wire. Providers
	// disagree on placement (query vs. body vs. header); defaults to
	// FormBodyEncoder.
	Encoder TokenRequestEncoder

	// Decoder parses the token-exchange response. Providers answer in
	// either form-urlencoded or JSON; defaults to AutoDecoder.
	Decoder TokenResponseDecoder

	// HTTPClient issues the outbound token exchange.
	// Defaults to a client with ExchangeTimeout.
	HTTPClient *http.Client

	// AttemptTTL is the expiry window for pending attempts.
	// Default: 10 minutes.
	AttemptTTL time.Duration

	// ExchangeTimeout is the explicit timeout on the token exchange call.
	// Default: 30 seconds.
	ExchangeTimeout time.Duration

	// Logger for structured logging (optional, uses slog.Default if not provided)
	Logger *slog.Logger

	// Auditor records security events (optional).
	Auditor *security.Auditor

	// Instrumentation provides OpenTelemetry metrics and tracing (optional).
	Instrumentation *instrumentation.Instrumentation
}

// applyDefaults fills in the unset optional fields.
func (c *Config) applyDefaults() {
	if c.Encoder == nil {
		c.Encoder = FormBodyEncoder{}
	}
	if c.Decoder == nil {
		c.Decoder = AutoDecoder{}
	}
	if c.AttemptTTL <= 0 {
		c.AttemptTTL = DefaultAttemptTTL
	}
	if c.ExchangeTimeout <= 0 {
		c.ExchangeTimeout = DefaultExchangeTimeout
	}
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.ExchangeTimeout}
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}
