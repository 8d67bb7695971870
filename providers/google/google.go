// Package google profiles Google's OAuth endpoints and wire conventions.
// Google's token endpoint is a well-behaved JSON endpoint that takes
// credentials in the form body.
package google

import (
	oauthgoogle "golang.org/x/oauth2/google"

	"github.com/oauthkit/authcode"
	"github.com/oauthkit/authcode/providers"
)

// DefaultScope asks for the basic identity scopes.
const DefaultScope = "openid email profile"

// Profile returns the Google provider profile with endpoints from
// golang.org/x/oauth2.
func Profile() providers.Profile {
	return providers.Profile{
		Name:         "google",
		AuthorizeURL: oauthgoogle.Endpoint.AuthURL,
		TokenURL:     oauthgoogle.Endpoint.TokenURL,
		Encoder:      authcode.FormBodyEncoder{},
		Decoder:      authcode.JSONDecoder{},
		DefaultScope: DefaultScope,
	}
}
