// Package oidc builds provider profiles from OpenID Connect discovery
// documents. Instead of hard-coding endpoint URLs, hosts point the client
// at an issuer and the authorize and token endpoints are read from the
// issuer's /.well-known/openid-configuration document.
package oidc

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/oauthkit/authcode"
	"github.com/oauthkit/authcode/providers"
)

// DefaultScope requests an ID token plus the standard identity claims.
const DefaultScope = "openid email profile"

// DiscoveryDocument holds the provider metadata fields this client uses,
// as defined in RFC 8414.
type DiscoveryDocument struct {
	Issuer                 string   `json:"issuer"`
	AuthorizationEndpoint  string   `json:"authorization_endpoint"`
	TokenEndpoint          string   `json:"token_endpoint"`
	ScopesSupported        []string `json:"scopes_supported,omitempty"`
	ResponseTypesSupported []string `json:"response_types_supported,omitempty"`
}

type cachedDocument struct {
	document  *DiscoveryDocument
	fetchedAt time.Time
}

// Client fetches and caches OIDC discovery documents. It is safe for
// concurrent use.
type Client struct {
	httpClient *http.Client
	cache      sync.Map // issuer URL -> *cachedDocument
	cacheTTL   time.Duration
	logger     *slog.Logger
}

// NewClient creates a discovery client. A nil httpClient gets a 10 second
// timeout, a zero cacheTTL defaults to one hour and a nil logger falls back
// to slog.Default.
func NewClient(httpClient *http.Client, cacheTTL time.Duration, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	if cacheTTL == 0 {
		cacheTTL = 1 * time.Hour
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		httpClient: httpClient,
		cacheTTL:   cacheTTL,
		logger:     logger,
	}
}

// Discover fetches the discovery document for an issuer, serving from cache
// when a fresh copy is available. The issuer and all discovered endpoints
// must use HTTPS so that authorization codes and client credentials never
// travel over plaintext.
func (c *Client) Discover(ctx context.Context, issuerURL string) (*DiscoveryDocument, error) {
	if err := validateIssuerURL(issuerURL); err != nil {
		return nil, fmt.Errorf("invalid issuer URL: %w", err)
	}

	if cached, ok := c.cache.Load(issuerURL); ok {
		doc := cached.(*cachedDocument)
		if time.Since(doc.fetchedAt) < c.cacheTTL {
			c.logger.Debug("discovery cache hit", "issuer", issuerURL)
			return doc.document, nil
		}
		c.logger.Debug("discovery cache expired", "issuer", issuerURL)
	}

	discoveryURL := strings.TrimSuffix(issuerURL, "/") + "/.well-known/openid-configuration"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, discoveryURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create discovery request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch discovery document: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("discovery failed with status %d", resp.StatusCode)
	}

	var doc DiscoveryDocument
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to decode discovery document: %w", err)
	}

	if err := validateDocument(&doc); err != nil {
		return nil, fmt.Errorf("invalid discovery document: %w", err)
	}

	c.cache.Store(issuerURL, &cachedDocument{
		document:  &doc,
		fetchedAt: time.Now(),
	})

	c.logger.Info("discovery successful",
		"issuer", issuerURL,
		"authorization_endpoint", doc.AuthorizationEndpoint,
		"token_endpoint", doc.TokenEndpoint)

	return &doc, nil
}

// Profile discovers an issuer's endpoints and returns a profile wired for
// them. OIDC providers answer token requests with JSON, so the profile uses
// the form encoder and JSON decoder pairing.
func (c *Client) Profile(ctx context.Context, issuerURL string) (providers.Profile, error) {
	doc, err := c.Discover(ctx, issuerURL)
	if err != nil {
		return providers.Profile{}, err
	}

	name := issuerURL
	if u, err := url.Parse(doc.Issuer); err == nil && u.Host != "" {
		name = u.Host
	}

	return providers.Profile{
		Name:         name,
		AuthorizeURL: doc.AuthorizationEndpoint,
		TokenURL:     doc.TokenEndpoint,
		Encoder:      authcode.FormBodyEncoder{},
		Decoder:      authcode.JSONDecoder{},
		DefaultScope: DefaultScope,
	}, nil
}

// ClearCache removes all cached discovery documents, forcing a refresh on
// the next Discover call.
func (c *Client) ClearCache() {
	c.cache.Range(func(key, _ any) bool {
		c.cache.Delete(key)
		return true
	})
}

func validateIssuerURL(issuerURL string) error {
	u, err := url.Parse(issuerURL)
	if err != nil {
		return fmt.Errorf("unparseable URL: %w", err)
	}
	if u.Scheme != "https" {
		return fmt.Errorf("issuer must use HTTPS, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("issuer has no host")
	}
	if u.RawQuery != "" || u.Fragment != "" {
		return fmt.Errorf("issuer must not contain a query or fragment")
	}
	return nil
}

func validateDocument(doc *DiscoveryDocument) error {
	endpoints := []struct {
		name string
		url  string
	}{
		{"issuer", doc.Issuer},
		{"authorization_endpoint", doc.AuthorizationEndpoint},
		{"token_endpoint", doc.TokenEndpoint},
	}

	for _, endpoint := range endpoints {
		if endpoint.url == "" {
			return fmt.Errorf("%s is required but missing", endpoint.name)
		}
		if !strings.HasPrefix(endpoint.url, "https://") {
			return fmt.Errorf("%s must use HTTPS: %s", endpoint.name, endpoint.url)
		}
	}

	return nil
}
