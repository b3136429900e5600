package connection

import "github.com/pkg/errors"

// Error kinds crossing the host boundary. Every terminal failure delivered
// through Events.Failed wraps exactly one of these, so hosts can classify
// with errors.Is.
var (
	// ErrAuthCanceled reports a user-initiated abort of the login flow.
	ErrAuthCanceled = errors.New("authentication canceled by the user")

	// ErrRequestFailed reports a non-success HTTP status or transport
	// error outside the 401-renewal path.
	ErrRequestFailed = errors.New("a request failed during authentication")

	// ErrBadResponse reports a well-formed transport response whose
	// content fails an expected shape or field check.
	ErrBadResponse = errors.New("unexpected response from the service")

	// ErrRenewalFailed reports a failed session-token renewal. It is
	// always connection-fatal: a broken session cannot safely continue.
	ErrRenewalFailed = errors.New("failed to renew session token")
)
