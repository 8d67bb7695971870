package github

import (
	"testing"

	oauthgithub "golang.org/x/oauth2/github"

	"github.com/oauthkit/authcode"
)

func TestProfile(t *testing.T) {
	p := Profile()

	if p.Name != "github" {
		t.Errorf("name = %q, want %q", p.Name, "github")
	}
	if p.AuthorizeURL != oauthgithub.Endpoint.AuthURL {
		t.Errorf("authorize URL = %q, want %q", p.AuthorizeURL, oauthgithub.Endpoint.AuthURL)
	}
	if p.TokenURL != oauthgithub.Endpoint.TokenURL {
		t.Errorf("token URL = %q, want %q", p.TokenURL, oauthgithub.Endpoint.TokenURL)
	}
	if p.DefaultScope != DefaultScope {
		t.Errorf("default scope = %q, want %q", p.DefaultScope, DefaultScope)
	}
	// GitHub's token endpoint defaults to form-encoded responses and only
	// switches to JSON on Accept, so the auto decoder handles both.
	if _, ok := p.Encoder.(authcode.FormBodyEncoder); !ok {
		t.Errorf("encoder = %T, want FormBodyEncoder", p.Encoder)
	}
	if _, ok := p.Decoder.(authcode.AutoDecoder); !ok {
		t.Errorf("decoder = %T, want AutoDecoder", p.Decoder)
	}
}

func TestProfile_ProviderConfigValidates(t *testing.T) {
	cfg := Profile().ProviderConfig("client-id", "client-secret", "https://app.example.com/callback", "")
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() = %v, want nil", err)
	}
	if cfg.Scope != DefaultScope {
		t.Errorf("scope = %q, want %q", cfg.Scope, DefaultScope)
	}
}
