package login

import (
	"context"
	"mime"
	"net/http"
	"net/url"

	"github.com/pkg/errors"

	"github.com/jrsteele09/go-chime-client/connection"
	"github.com/jrsteele09/go-chime-client/docparse"
)

// tokenPattern matches the token carrier embedded in the final redirect of
// a successful login, e.g. 'chime://sso_sessions?Token=...'.
const tokenPattern = `['"]chime://sso_sessions\?Token=([^'"]+)['"]`

// Page is one fetched response within a login flow: status, headers, body,
// and the URL it finally came from after redirects.
type Page struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	URL        *url.URL
}

// ContentType returns the media type of the response, without parameters.
func (p *Page) ContentType() string {
	mediaType, _, err := mime.ParseMediaType(p.Header.Get("Content-Type"))
	if err != nil {
		return ""
	}
	return mediaType
}

// Document parses the page as HTML for path-expression queries.
func (p *Page) Document() (*docparse.Document, error) {
	return docparse.ParseHTML(p.Body, p.Header.Get("Content-Type"), p.URL)
}

// Provider is one identity provider's sub-protocol. Given the page fetched
// from the provider-routing path it must drive whatever intermediate steps
// the provider needs and come back with the session token, or fail. Provider
// state lives inside the Authenticate call; nothing outlives it.
type Provider interface {
	Name() string
	Authenticate(ctx context.Context, flow *Flow, page *Page) (string, error)
}

func builtinProviders() map[string]Provider {
	providers := make(map[string]Provider)
	for _, p := range []Provider{amazonProvider{}, warpdriveProvider{}} {
		providers[p.Name()] = p
	}
	return providers
}

// ExtractSessionToken pulls the session token out of a token-carrier
// response body.
func ExtractSessionToken(page *Page) (string, error) {
	token := docparse.RegexGroup(page.Body, tokenPattern, 1)
	if token == "" {
		return "", errors.Wrap(connection.ErrBadResponse, "unable to retrieve session token")
	}
	return token, nil
}
