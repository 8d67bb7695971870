// Package providers carries endpoint and wire-convention profiles for known
// OAuth providers. A profile bundles the authorization and token endpoints
// with the request encoding and response decoding the provider expects, so
// hosts configure a flow without memorizing each provider's quirks.
package providers

import (
	"github.com/oauthkit/authcode"
)

// Profile describes how to talk to one OAuth provider.
type Profile struct {
	// Name identifies the provider, e.g. "github".
	Name string

	// AuthorizeURL and TokenURL are the provider's OAuth endpoints.
	AuthorizeURL string
	TokenURL     string

	// Encoder and Decoder are the wire conventions the provider's token
	// endpoint uses.
	Encoder authcode.TokenRequestEncoder
	Decoder authcode.TokenResponseDecoder

	// DefaultScope is requested when the host does not ask for one.
	DefaultScope string
}

// ProviderConfig builds the provider half of a flow configuration from this
// profile plus the host's app registration.
func (p Profile) ProviderConfig(clientID, clientSecret, redirectURI, scope string) authcode.ProviderConfig {
	if scope == "" {
		scope = p.DefaultScope
	}
	return authcode.ProviderConfig{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		AuthorizeURL: p.AuthorizeURL,
		TokenURL:     p.TokenURL,
		RedirectURI:  redirectURI,
		Scope:        scope,
	}
}

// Apply fills the provider-specific parts of a flow configuration: the
// endpoints and the wire codecs. Fields the host already set are preserved.
func (p Profile) Apply(cfg *authcode.Config, clientID, clientSecret, redirectURI, scope string) {
	cfg.Provider = p.ProviderConfig(clientID, clientSecret, redirectURI, scope)
	if cfg.Encoder == nil {
		cfg.Encoder = p.Encoder
	}
	if cfg.Decoder == nil {
		cfg.Decoder = p.Decoder
	}
}
