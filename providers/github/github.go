// Package github profiles GitHub's OAuth endpoints and wire conventions.
//
// GitHub's token endpoint answers in form-urlencoded by default and only
// switches to JSON when the request carries Accept: application/json. It
// also reports some errors (bad_verification_code among them) with a 200
// status, so the error fields of the decoded response are authoritative,
// not the HTTP status.
package github

import (
	oauthgithub "golang.org/x/oauth2/github"

	"github.com/oauthkit/authcode"
	"github.com/oauthkit/authcode/providers"
)

// DefaultScope covers the common "who is this user" case.
const DefaultScope = "user:email"

// Profile returns the GitHub provider profile. Endpoints come from
// golang.org/x/oauth2; the auto decoder copes with GitHub honoring or
// ignoring the Accept header depending on API mood.
func Profile() providers.Profile {
	return providers.Profile{
		Name:         "github",
		AuthorizeURL: oauthgithub.Endpoint.AuthURL,
		TokenURL:     oauthgithub.Endpoint.TokenURL,
		Encoder:      authcode.FormBodyEncoder{},
		Decoder:      authcode.AutoDecoder{},
		DefaultScope: DefaultScope,
	}
}
