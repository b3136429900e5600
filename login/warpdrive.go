package login

import (
	"context"
	"net/http"

	"github.com/pkg/errors"

	"github.com/jrsteele09/go-chime-client/connection"
	"github.com/jrsteele09/go-chime-client/docparse"
)

// warpdriveSignInForm locates the credential form on the WarpDrive SSO page.
const warpdriveSignInForm = "//form[@id='wdc_login_form']"

// warpdriveProvider handles accounts routed through the corporate WarpDrive
// SSO. When a valid SSO cookie is still around the landing page already
// carries the token; otherwise it presents a credential form whose response
// does.
type warpdriveProvider struct{}

func (warpdriveProvider) Name() string {
	return "wd"
}

func (warpdriveProvider) Authenticate(ctx context.Context, flow *Flow, page *Page) (string, error) {
	if token := docparse.RegexGroup(page.Body, tokenPattern, 1); token != "" {
		logger := flow.Logger()
		logger.Debug().Msg("warpdrive session still valid, token found on landing page")
		return token, nil
	}

	doc, err := page.Document()
	if err != nil {
		return "", errors.Wrap(connection.ErrBadResponse, "could not parse WarpDrive sign-in page")
	}

	form, err := doc.ExtractForm(warpdriveSignInForm)
	if err != nil || form.PasswordField == "" {
		return "", errors.Wrap(connection.ErrBadResponse, "could not find WarpDrive sign-in form")
	}

	creds, err := flow.Credentials(ctx)
	if err != nil {
		return "", err
	}
	if form.EmailField != "" {
		form.Fields[form.EmailField] = creds.Email
	}
	form.Fields[form.PasswordField] = creds.Password

	result, err := flow.SubmitForm(ctx, form)
	if err != nil {
		return "", err
	}
	if result.StatusCode >= http.StatusBadRequest {
		return "", errors.Wrapf(connection.ErrRequestFailed, "WarpDrive sign-in returned status %d", result.StatusCode)
	}

	return ExtractSessionToken(result)
}
