package authcode

import (
	"context"
	"encoding/json"
	"fmt"
	"mime"
	"net/http"
	"net/url"
	"strings"
)

// acceptedTokenFormats is sent on every exchange request so providers that
// honor content negotiation (GitHub does) answer in a format we can decode.
const acceptedTokenFormats = "application/json, application/x-www-form-urlencoded"

// TokenRequestEncoder builds the single outbound token-exchange request.
// Providers disagree on where the parameters go (query string, form body,
// or Authorization header), so the placement is a pluggable strategy
// selected by configuration.
type TokenRequestEncoder interface {
	// NewTokenRequest returns a request against cfg.TokenURL carrying the
	// client credentials, the authorization code, the redirect URI, and
	// the state token.
	NewTokenRequest(ctx context.Context, cfg ProviderConfig, code, state string) (*http.Request, error)
}

// TokenResponse is the decoded body of a token-endpoint reply. A reply is
// either a token grant (AccessToken set) or an explicit provider error
// (Error set); some providers return errors with a 200 status, so both are
// decoded from any reply.
type TokenResponse struct {
	AccessToken      string `json:"access_token"`
	TokenType        string `json:"token_type"`
	Scope            string `json:"scope"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
	ErrorURI         string `json:"error_uri"`
}

// IsError reports whether the provider answered with an error payload.
func (r *TokenResponse) IsError() bool {
	return r.Error != ""
}

// Token converts a successful response to an AccessToken.
func (r *TokenResponse) Token() *AccessToken {
	return &AccessToken{
		Value:        r.AccessToken,
		TokenType:    r.TokenType,
		ScopeGranted: r.Scope,
	}
}

// TokenResponseDecoder parses a token-endpoint reply body. Providers answer
// in either application/x-www-form-urlencoded or JSON, so decoding is a
// pluggable strategy like request encoding.
type TokenResponseDecoder interface {
	DecodeTokenResponse(contentType string, body []byte) (*TokenResponse, error)
}

// Compile-time checks that all strategies implement their interfaces.
var (
	_ TokenRequestEncoder = FormBodyEncoder{}
	_ TokenRequestEncoder = QueryParamEncoder{}
	_ TokenRequestEncoder = BasicAuthEncoder{}

	_ TokenResponseDecoder = JSONDecoder{}
	_ TokenResponseDecoder = FormDecoder{}
	_ TokenResponseDecoder = AutoDecoder{}
)

// exchangeParams assembles the token-exchange parameters.
// withCredentials controls whether the client credentials ride along with
// the rest of the parameters or travel separately (Basic auth header).
func exchangeParams(cfg ProviderConfig, code, state string, withCredentials bool) url.Values {
	params := url.Values{}
	if withCredentials {
		params.Set("client_id", cfg.ClientID)
		params.Set("client_secret", cfg.ClientSecret)
	}
	params.Set("code", code)
	params.Set("redirect_uri", cfg.RedirectURI)
	params.Set("state", state)
	return params
}

// FormBodyEncoder places all parameters in an x-www-form-urlencoded POST
// body. This is the convention GitHub and most providers accept, and the
// default encoder.
type FormBodyEncoder struct{}

// NewTokenRequest implements TokenRequestEncoder.
func (FormBodyEncoder) NewTokenRequest(ctx context.Context, cfg ProviderConfig, code, state string) (*http.Request, error) {
	body := exchangeParams(cfg, code, state, true).Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.TokenURL, strings.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", acceptedTokenFormats)
	return req, nil
}

// QueryParamEncoder places all parameters in the POST query string. Some
// providers historically accepted only this placement.
type QueryParamEncoder struct{}

// NewTokenRequest implements TokenRequestEncoder.
func (QueryParamEncoder) NewTokenRequest(ctx context.Context, cfg ProviderConfig, code, state string) (*http.Request, error) {
	u, err := url.Parse(cfg.TokenURL)
	if err != nil {
		return nil, fmt.Errorf("invalid token URL: %w", err)
	}
	u.RawQuery = exchangeParams(cfg, code, state, true).Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build token request: %w", err)
	}
	req.Header.Set("Accept", acceptedTokenFormats)
	return req, nil
}

// BasicAuthEncoder sends the client credentials in an Authorization: Basic
// header per RFC 6749 section 2.3.1 and the remaining parameters in the
// form body.
type BasicAuthEncoder struct{}

// NewTokenRequest implements TokenRequestEncoder.
func (BasicAuthEncoder) NewTokenRequest(ctx context.Context, cfg ProviderConfig, code, state string) (*http.Request, error) {
	body := exchangeParams(cfg, code, state, false).Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.TokenURL, strings.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build token request: %w", err)
	}
	// RFC 6749 requires the credentials to be form-urlencoded before the
	// Basic encoding.
	req.SetBasicAuth(url.QueryEscape(cfg.ClientID), url.QueryEscape(cfg.ClientSecret))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", acceptedTokenFormats)
	return req, nil
}

// JSONDecoder parses a structured JSON token response,
// e.g. {"access_token":"...","token_type":"bearer"}.
type JSONDecoder struct{}

// DecodeTokenResponse implements TokenResponseDecoder.
func (JSONDecoder) DecodeTokenResponse(_ string, body []byte) (*TokenResponse, error) {
	var resp TokenResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode JSON token response: %w", err)
	}
	if resp.AccessToken == "" && !resp.IsError() {
		return nil, fmt.Errorf("token response carries neither access_token nor error")
	}
	return &resp, nil
}

// FormDecoder parses a URL-encoded token response,
// e.g. access_token=...&token_type=bearer.
type FormDecoder struct{}

// DecodeTokenResponse implements TokenResponseDecoder.
func (FormDecoder) DecodeTokenResponse(_ string, body []byte) (*TokenResponse, error) {
	values, err := url.ParseQuery(string(body))
	if err != nil {
		return nil, fmt.Errorf("failed to decode form token response: %w", err)
	}
	resp := &TokenResponse{
		AccessToken:      values.Get("access_token"),
		TokenType:        values.Get("token_type"),
		Scope:            values.Get("scope"),
		Error:            values.Get("error"),
		ErrorDescription: values.Get("error_description"),
		ErrorURI:         values.Get("error_uri"),
	}
	if resp.AccessToken == "" && !resp.IsError() {
		return nil, fmt.Errorf("token response carries neither access_token nor error")
	}
	return resp, nil
}

// AutoDecoder branches on the response Content-Type and falls back to
// attempting both formats when the provider does not declare one.
type AutoDecoder struct{}

// DecodeTokenResponse implements TokenResponseDecoder.
func (AutoDecoder) DecodeTokenResponse(contentType string, body []byte) (*TokenResponse, error) {
	if mediaType, _, err := mime.ParseMediaType(contentType); err == nil {
		switch mediaType {
		case "application/json":
			return JSONDecoder{}.DecodeTokenResponse(contentType, body)
		case "application/x-www-form-urlencoded":
			return FormDecoder{}.DecodeTokenResponse(contentType, body)
		}
	}

	// Unknown or missing content type: try JSON first (stricter grammar),
	// then the form encoding.
	resp, jsonErr := JSONDecoder{}.DecodeTokenResponse(contentType, body)
	if jsonErr == nil {
		return resp, nil
	}
	resp, formErr := FormDecoder{}.DecodeTokenResponse(contentType, body)
	if formErr == nil {
		return resp, nil
	}
	return nil, fmt.Errorf("token response not decodable as JSON (%v) or form (%v)", jsonErr, formErr)
}
