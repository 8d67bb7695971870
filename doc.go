// Package authcode implements the client half of the OAuth 2.0
// authorization-code flow: starting a login attempt, validating the
// provider's callback, and exchanging the one-time code for an access
// token.
//
// The core is transport-agnostic. A Flow works against any attempt store
// implementing storage.AttemptStore and any provider described by a
// ProviderConfig; wire-format quirks are absorbed by pluggable
// TokenRequestEncoder and TokenResponseDecoder strategies. Ready-made
// provider profiles live under providers/, attempt stores under storage/,
// and an optional HTTP host layer is provided by Handler.
//
// Basic usage:
//
//	store := memory.New()
//	defer store.Stop()
//
//	cfg := authcode.Config{Attempts: store}
//	github.Profile().Apply(&cfg, clientID, clientSecret, redirectURI, "")
//
//	flow, err := authcode.NewFlow(cfg)
//	...
//	redirectURL, _, err := flow.BeginLogin(ctx, sessionID)
//	// redirect the browser, then in the callback handler:
//	token, err := flow.HandleCallback(ctx, sessionID, code, state)
//
// Every failure returned by HandleCallback is a *FlowError with a stable
// Kind; use KindOf or IsKind to branch on the classification.
package authcode
