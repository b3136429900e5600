// Package push dials the registered websocket endpoint with the session
// cookie attached. The handshake itself is delegated to a websocket client
// library; this shim only supplies the authenticated headers.
package push

import (
	"context"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"github.com/jrsteele09/go-chime-client/connection"
	"github.com/jrsteele09/go-chime-client/session"
)

// Dial connects to the session's registered websocket endpoint. The store
// must have been populated by device registration first.
func Dial(ctx context.Context, store *session.Store, userAgent string) (*websocket.Conn, error) {
	endpoint := store.Endpoints().Websocket
	if endpoint == "" {
		return nil, errors.Wrap(connection.ErrRequestFailed, "[push.Dial] websocket endpoint not registered")
	}
	token, ok := store.Token()
	if !ok {
		return nil, errors.Wrap(connection.ErrRequestFailed, "[push.Dial] no session token")
	}

	header := http.Header{}
	header.Set("Cookie", "_aws_wt_session="+token)
	header.Set("User-Agent", userAgent)

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, endpoint, header)
	if err != nil {
		if resp != nil {
			return nil, errors.Wrapf(connection.ErrRequestFailed,
				"[push.Dial] server did not accept the websocket handshake (status %d)", resp.StatusCode)
		}
		return nil, errors.Wrapf(connection.ErrRequestFailed, "[push.Dial] %v", err)
	}
	return conn, nil
}
