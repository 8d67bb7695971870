package authcode

import (
	"fmt"
	"net/url"
)

// ProviderConfig describes one OAuth provider. It is immutable after
// Validate and shared process-wide; loading it is the host's concern, and a
// malformed config is a startup error, never a per-request one.
type ProviderConfig struct {
	// ClientID is the application's client identifier at the provider.
	ClientID string

	// ClientSecret is the application's client secret (required).
	// SECURITY: never logged and never returned to the browser.
	ClientSecret string

	// AuthorizeURL is the provider's authorization endpoint.
	AuthorizeURL string

	// TokenURL is the provider's token endpoint.
	TokenURL string

	// RedirectURI is where the provider sends the user back.
	RedirectURI string

	// Scope is the space-separated set of permissions to request.
	Scope string
}

// Validate checks that the configuration is complete and that the endpoint
// URLs parse. Call it once at startup.
func (c *ProviderConfig) Validate() error {
	if c.ClientID == "" {
		return fmt.Errorf("client ID is required")
	}
	if c.ClientSecret == "" {
		return fmt.Errorf("client secret is required")
	}
	if c.AuthorizeURL == "" {
		return fmt.Errorf("authorize URL is required")
	}
	if _, err := url.Parse(c.AuthorizeURL); err != nil {
		return fmt.Errorf("invalid authorize URL: %w", err)
	}
	if c.TokenURL == "" {
		return fmt.Errorf("token URL is required")
	}
	if _, err := url.Parse(c.TokenURL); err != nil {
		return fmt.Errorf("invalid token URL: %w", err)
	}
	if c.RedirectURI == "" {
		return fmt.Errorf("redirect URI is required")
	}
	if _, err := url.Parse(c.RedirectURI); err != nil {
		return fmt.Errorf("invalid redirect URI: %w", err)
	}
	return nil
}

// AccessToken is the result of a successful code exchange. The core holds it
// only for the duration of the call; long-term storage is an external
// collaborator's responsibility.
type AccessToken struct {
	// Value is the opaque bearer credential.
	Value string

	// TokenType is the token's type as reported by the provider,
	// typically "bearer".
	TokenType string

	// ScopeGranted is the scope the provider actually granted, which may
	// differ from the scope requested.
	ScopeGranted string
}
