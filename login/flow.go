// Package login drives the provider-routed web login flow: fetch the
// sign-in page, submit the account email to provider discovery, hand off to
// the provider-specific sub-flow, and deliver the extracted session token to
// the connection. A flow has exactly one terminal outcome.
package login

import (
	"context"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/jrsteele09/go-chime-client/connection"
	"github.com/jrsteele09/go-chime-client/docparse"
)

// searchFormPath locates the provider-search form on the sign-in page.
const searchFormPath = "//form[@id='picker_email']"

// Credentials are the account secrets a provider sub-flow submits.
type Credentials struct {
	Email    string
	Password string
}

// CredentialsFunc asks the host for credentials. Returning an error cancels
// the login.
type CredentialsFunc func(ctx context.Context) (Credentials, error)

// Flow is one in-progress login attempt. It owns its own HTTP session and
// cookie jar, borrows the connection for the duration, and is released by
// whichever terminal outcome fires.
type Flow struct {
	conn      *connection.Connection
	client    *http.Client
	email     string
	creds     CredentialsFunc
	log       zerolog.Logger
	providers map[string]Provider
	releaseFn sync.Once
}

// Option configures a login flow.
type Option func(*Flow)

// WithLogger sets the diagnostic logger.
func WithLogger(log zerolog.Logger) Option {
	return func(f *Flow) {
		f.log = log
	}
}

// WithHTTPClient replaces the flow's HTTP session. The client should carry
// its own cookie jar; provider sub-flows depend on cookies set along the way.
func WithHTTPClient(client *http.Client) Option {
	return func(f *Flow) {
		f.client = client
	}
}

// WithProvider adds (or overrides) an identity provider handler. Built in
// are the "amazon" and "wd" variants.
func WithProvider(provider Provider) Option {
	return func(f *Flow) {
		f.providers[provider.Name()] = provider
	}
}

// Start begins a login attempt for the given account email. The flow runs
// asynchronously; its outcome is delivered through the connection (token
// commit and Connect on success, a fatal tagged error otherwise).
func Start(ctx context.Context, conn *connection.Connection, email string, creds CredentialsFunc, options ...Option) error {
	if conn == nil {
		return errors.New("[login.Start] connection is required")
	}
	if email == "" {
		return errors.New("[login.Start] account email is required")
	}
	if creds == nil {
		return errors.New("[login.Start] credentials callback is required")
	}

	f := &Flow{
		conn:      conn,
		email:     email,
		creds:     creds,
		log:       zerolog.Nop(),
		providers: builtinProviders(),
	}
	for _, option := range options {
		option(f)
	}
	if f.client == nil {
		jar, err := cookiejar.New(nil)
		if err != nil {
			return errors.Wrap(err, "[login.Start] creating cookie jar")
		}
		f.client = &http.Client{Jar: jar}
	}

	go f.run(ctx)
	return nil
}

func (f *Flow) run(ctx context.Context) {
	token, err := f.authenticate(ctx)
	if err != nil {
		f.log.Error().Err(err).Msg("login failed")
		f.release()
		f.conn.Fail(err)
		return
	}

	f.conn.SetSessionToken(token)
	f.release()
	f.conn.Connect(ctx)
}

// authenticate walks the flow to its one terminal outcome: a session token,
// or the tagged error describing why there will not be one.
func (f *Flow) authenticate(ctx context.Context) (string, error) {
	signin, err := f.Get(ctx, f.conn.Server())
	if err != nil {
		return "", err
	}
	if signin.StatusCode >= http.StatusBadRequest {
		return "", errors.Wrapf(connection.ErrRequestFailed, "sign-in page returned status %d", signin.StatusCode)
	}

	doc, err := signin.Document()
	if err != nil {
		return "", errors.Wrap(connection.ErrBadResponse, "could not find provider search form")
	}
	form, err := doc.ExtractForm(searchFormPath)
	if err != nil || form.EmailField == "" {
		return "", errors.Wrap(connection.ErrBadResponse, "could not find provider search form")
	}
	form.Fields[form.EmailField] = f.email

	routing, err := f.SubmitForm(ctx, form)
	if err != nil {
		return "", err
	}
	if routing.StatusCode == http.StatusBadRequest {
		return "", errors.Wrapf(connection.ErrBadResponse, "invalid e-mail address <%s>", f.email)
	}
	if routing.StatusCode >= http.StatusBadRequest {
		return "", errors.Wrapf(connection.ErrRequestFailed, "provider search returned status %d", routing.StatusCode)
	}

	info := docparse.JSONObject(routing.Body, routing.Header.Get("Content-Type"))
	if info == nil {
		return "", errors.Wrap(connection.ErrBadResponse, "error parsing provider response")
	}

	provider, ok := f.providers[info["provider"]]
	if !ok {
		f.log.Error().Str("provider", info["provider"]).Msg("unrecognized login provider")
		return "", errors.Wrap(connection.ErrBadResponse, "unknown login provider")
	}
	path, ok := info["path"]
	if !ok {
		f.log.Error().Str("provider", provider.Name()).Msg("provider routing carried no path")
		return "", errors.Wrap(connection.ErrBadResponse, "incomplete provider response")
	}

	destination, err := routing.URL.Parse(path)
	if err != nil {
		return "", errors.Wrapf(connection.ErrBadResponse, "unusable provider path %q", path)
	}

	f.log.Debug().Str("provider", provider.Name()).Stringer("url", destination).Msg("dispatching to login provider")
	page, err := f.Get(ctx, destination.String())
	if err != nil {
		return "", err
	}
	if page.StatusCode >= http.StatusBadRequest {
		return "", errors.Wrapf(connection.ErrRequestFailed, "provider page returned status %d", page.StatusCode)
	}

	return provider.Authenticate(ctx, f, page)
}

// Email returns the account identifier this flow is logging in.
func (f *Flow) Email() string {
	return f.email
}

// Logger returns the flow's diagnostic logger, for provider sub-flows.
func (f *Flow) Logger() zerolog.Logger {
	return f.log
}

// Credentials asks the host for the account credentials. A refusal is an
// authentication cancel.
func (f *Flow) Credentials(ctx context.Context) (Credentials, error) {
	creds, err := f.creds(ctx)
	if err != nil {
		return Credentials{}, errors.Wrapf(connection.ErrAuthCanceled, "%v", err)
	}
	if creds.Email == "" {
		creds.Email = f.email
	}
	return creds, nil
}

// Get fetches a page within the flow's HTTP session.
func (f *Flow) Get(ctx context.Context, rawURL string) (*Page, error) {
	return f.fetch(ctx, http.MethodGet, rawURL, nil)
}

// SubmitForm submits an extracted form with its fields filled in, honoring
// the form's own method and action.
func (f *Flow) SubmitForm(ctx context.Context, form *docparse.Form) (*Page, error) {
	values := url.Values{}
	for name, value := range form.Fields {
		values.Set(name, value)
	}
	return f.fetch(ctx, form.Method, form.Action, values)
}

func (f *Flow) fetch(ctx context.Context, method, rawURL string, form url.Values) (*Page, error) {
	var body io.Reader
	if form != nil {
		if method == http.MethodGet {
			target, err := url.Parse(rawURL)
			if err != nil {
				return nil, errors.Wrapf(connection.ErrRequestFailed, "parsing %q: %v", rawURL, err)
			}
			target.RawQuery = form.Encode()
			rawURL = target.String()
		} else {
			body = strings.NewReader(form.Encode())
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return nil, errors.Wrapf(connection.ErrRequestFailed, "building %s %s: %v", method, rawURL, err)
	}
	req.Header.Set("Accept", "*/*")
	req.Header.Set("User-Agent", f.conn.UserAgent())
	if body != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, errors.Wrapf(connection.ErrRequestFailed, "%s %s: %v", method, rawURL, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrapf(connection.ErrRequestFailed, "reading %s response: %v", rawURL, err)
	}

	return &Page{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       respBody,
		URL:        resp.Request.URL,
	}, nil
}

// release drops the flow's HTTP session. It runs exactly once regardless of
// which terminal path fires.
func (f *Flow) release() {
	f.releaseFn.Do(func() {
		f.client.CloseIdleConnections()
	})
}
