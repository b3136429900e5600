package connection

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime"
	"net/http"
	"net/url"

	"github.com/pkg/errors"
)

const sessionCookie = "_aws_wt_session"

// Result is the outcome of one request on the authenticated channel. JSON is
// populated iff the response carried an application/json content type and
// parsed cleanly.
type Result struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	JSON       map[string]any
}

// Callback receives the terminal outcome of a queued request: a response, or
// a transport error. A request suspended by token renewal delivers its
// outcome only after replay (or renewal failure).
type Callback func(result *Result, err error)

// pendingRequest is one request parked in the renewal queue, with everything
// needed to resubmit it.
type pendingRequest struct {
	ctx    context.Context
	method string
	url    string
	body   []byte
	cb     Callback
}

// QueueRequest submits an HTTP request on the authenticated channel. The
// current session token rides along as a cookie; a 401 response suspends the
// request until the token has been renewed, after which it is replayed
// transparently. body, when non-nil, is marshaled as application/json.
func (c *Connection) QueueRequest(ctx context.Context, method, rawURL string, body any, cb Callback) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return errors.Wrap(err, "[QueueRequest] marshaling request body")
		}
	}

	pr := &pendingRequest{ctx: ctx, method: method, url: rawURL, body: payload, cb: cb}
	go c.submit(pr, false)
	return nil
}

// submit performs one attempt of a request. Renewal requests must never be
// queued on 401, or renewal would recurse.
func (c *Connection) submit(pr *pendingRequest, isRenewal bool) {
	result, err := c.roundTrip(pr)
	if err != nil {
		c.deliver(pr, nil, err)
		return
	}

	if result.StatusCode == http.StatusUnauthorized && !isRenewal {
		c.suspend(pr)
		return
	}

	c.deliver(pr, result, nil)
}

func (c *Connection) roundTrip(pr *pendingRequest) (*Result, error) {
	var reqBody io.Reader
	if pr.body != nil {
		reqBody = bytes.NewReader(pr.body)
	}
	req, err := http.NewRequestWithContext(pr.ctx, pr.method, pr.url, reqBody)
	if err != nil {
		return nil, errors.Wrapf(ErrRequestFailed, "[roundTrip] building %s %s: %v", pr.method, pr.url, err)
	}

	if token, ok := c.session.Token(); ok {
		req.Header.Set("Cookie", sessionCookie+"="+token)
	}
	req.Header.Set("Accept", "*/*")
	req.Header.Set("User-Agent", c.userAgent)
	if pr.body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if c.debugHTTP {
		c.log.Debug().Str("method", pr.method).Str("url", pr.url).
			Bytes("body", pr.body).Msg("http request")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, errors.Wrapf(ErrRequestFailed, "[roundTrip] %s %s: %v", pr.method, pr.url, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrapf(ErrRequestFailed, "[roundTrip] reading %s response: %v", pr.url, err)
	}

	if c.debugHTTP {
		c.log.Debug().Int("status", resp.StatusCode).Str("url", pr.url).
			Bytes("body", respBody).Msg("http response")
	}

	result := &Result{StatusCode: resp.StatusCode, Header: resp.Header, Body: respBody}
	if contentType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type")); contentType == "application/json" {
		if err := json.Unmarshal(respBody, &result.JSON); err != nil {
			c.log.Warn().Err(err).Str("url", pr.url).Msg("discarding unparseable JSON response body")
		}
	}
	return result, nil
}

// deliver hands the outcome to the request's callback unless the connection
// has been released, in which case the callback becomes a no-op.
func (c *Connection) deliver(pr *pendingRequest, result *Result, err error) {
	if pr.cb == nil || c.isClosed() {
		return
	}
	pr.cb(result, err)
}

// suspend parks a request that hit 401 and kicks off renewal if none is in
// flight. Later 401s arriving while renewing just join the queue, so a 401
// wave issues exactly one renewal request.
func (c *Connection) suspend(pr *pendingRequest) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.pending = append(c.pending, pr)
	startRenewal := !c.renewing
	c.renewing = true
	c.mu.Unlock()

	if startRenewal {
		go c.renewToken(pr.ctx)
	}
}

// renewToken exchanges the current session token for a fresh one and replays
// the pending queue. Renewal failure is connection-fatal: the queue is
// abandoned and the host is told to tear the session down.
func (c *Connection) renewToken(ctx context.Context) {
	token, _ := c.session.Token()
	renewURL := c.session.Endpoints().Profile + "/tokens?Token=" + url.QueryEscape(token)
	payload, _ := json.Marshal(map[string]string{"Token": token})

	c.log.Debug().Msg("renewing session token")
	result, err := c.roundTrip(&pendingRequest{ctx: ctx, method: http.MethodPost, url: renewURL, body: payload})
	if err != nil {
		c.renewalFailed(errors.Wrapf(ErrRenewalFailed, "renewal request: %v", err))
		return
	}

	newToken, ok := result.JSON["SessionToken"].(string)
	if !ok || newToken == "" {
		c.renewalFailed(errors.Wrapf(ErrRenewalFailed, "no SessionToken in renewal response (status %d)", result.StatusCode))
		return
	}

	c.session.SetToken(newToken)

	c.mu.Lock()
	queue := c.pending
	c.pending = nil
	c.renewing = false
	c.mu.Unlock()

	// Sequential replay preserves the original submission order. The new
	// token rides along automatically because roundTrip reads the store.
	for _, queued := range queue {
		c.submit(queued, false)
	}
}

func (c *Connection) renewalFailed(err error) {
	c.mu.Lock()
	queue := c.pending
	c.pending = nil
	c.renewing = false
	c.mu.Unlock()

	c.log.Error().Err(err).Int("abandoned", len(queue)).Msg("session token renewal failed")
	for _, queued := range queue {
		c.deliver(queued, nil, err)
	}
	c.Fail(err)
}

// do runs a request on the channel and waits for its outcome.
func (c *Connection) do(ctx context.Context, method, rawURL string, body any) (*Result, error) {
	type outcome struct {
		result *Result
		err    error
	}
	done := make(chan outcome, 1)
	if err := c.QueueRequest(ctx, method, rawURL, body, func(result *Result, err error) {
		done <- outcome{result: result, err: err}
	}); err != nil {
		return nil, err
	}

	select {
	case o := <-done:
		return o.result, o.err
	case <-ctx.Done():
		return nil, errors.Wrapf(ErrRequestFailed, "%s %s: %v", method, rawURL, ctx.Err())
	}
}
