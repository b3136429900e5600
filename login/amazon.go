package login

import (
	"context"
	"net/http"

	"github.com/pkg/errors"

	"github.com/jrsteele09/go-chime-client/connection"
)

// amazonSignInForm locates the credential form on the Amazon sign-in page.
const amazonSignInForm = "//form[@name='signIn']"

// amazonProvider handles accounts routed to Amazon's own identity provider:
// one credential form, then the token carrier in the response.
type amazonProvider struct{}

func (amazonProvider) Name() string {
	return "amazon"
}

func (amazonProvider) Authenticate(ctx context.Context, flow *Flow, page *Page) (string, error) {
	doc, err := page.Document()
	if err != nil {
		return "", errors.Wrap(connection.ErrBadResponse, "could not parse Amazon sign-in page")
	}

	form, err := doc.ExtractForm(amazonSignInForm)
	if err != nil || form.PasswordField == "" {
		return "", errors.Wrap(connection.ErrBadResponse, "could not find Amazon sign-in form")
	}

	creds, err := flow.Credentials(ctx)
	if err != nil {
		return "", err
	}
	// The email input may be prefilled as a hidden field on re-auth pages.
	if form.EmailField != "" {
		form.Fields[form.EmailField] = creds.Email
	}
	form.Fields[form.PasswordField] = creds.Password

	result, err := flow.SubmitForm(ctx, form)
	if err != nil {
		return "", err
	}
	if result.StatusCode >= http.StatusBadRequest {
		return "", errors.Wrapf(connection.ErrRequestFailed, "Amazon sign-in returned status %d", result.StatusCode)
	}

	return ExtractSessionToken(result)
}
