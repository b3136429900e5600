// Package connection implements the authenticated request channel of the
// Chime client: session-cookie injection, transparent token renewal on 401
// with FIFO replay of suspended requests, device registration, and the
// host-facing error boundary.
package connection

import (
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/jrsteele09/go-chime-client/session"
)

const defaultUserAgent = "go-chime-client/1.0"

// Events is the boundary to the host messaging framework. Connected fires
// once device registration has populated the session store; Failed delivers
// a fatal, terminal error for this connection.
type Events interface {
	Connected(displayName string)
	Failed(err error)
}

// Connection owns the authenticated state of one account: the session store,
// the HTTP channel with its pending-request queue, and the device identity.
// Connections are independent and share no state.
type Connection struct {
	server      string
	userAgent   string
	deviceToken string
	client      *http.Client
	session     *session.Store
	events      Events
	log         zerolog.Logger
	debugHTTP   bool

	mu       sync.Mutex
	renewing bool
	pending  []*pendingRequest
	closed   bool
	failed   bool
}

// Option configures a Connection at construction.
type Option func(*Connection)

// WithHTTPClient replaces the transport used for authenticated requests.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Connection) {
		c.client = client
	}
}

// WithLogger sets the diagnostic logger.
func WithLogger(log zerolog.Logger) Option {
	return func(c *Connection) {
		c.log = log
	}
}

// WithUserAgent overrides the User-Agent header sent on every request.
func WithUserAgent(userAgent string) Option {
	return func(c *Connection) {
		c.userAgent = userAgent
	}
}

// WithDeviceToken sets the stable device token used for registration. When
// absent a fresh one is generated.
func WithDeviceToken(deviceToken string) Option {
	return func(c *Connection) {
		c.deviceToken = deviceToken
	}
}

// WithDebugHTTP enables request/response body logging at debug level.
func WithDebugHTTP(enabled bool) Option {
	return func(c *Connection) {
		c.debugHTTP = enabled
	}
}

// New creates a connection to the given service entry URL. events is the
// host boundary and is required.
func New(server string, events Events, options ...Option) (*Connection, error) {
	if server == "" {
		return nil, errors.New("[connection.New] server URL is required")
	}
	if events == nil {
		return nil, errors.New("[connection.New] events handler is required")
	}

	c := &Connection{
		server:    server,
		userAgent: defaultUserAgent,
		client:    &http.Client{},
		session:   session.NewStore(),
		events:    events,
		log:       zerolog.Nop(),
	}
	for _, option := range options {
		option(c)
	}
	if c.deviceToken == "" {
		c.deviceToken = uuid.New().String()
	}
	return c, nil
}

// Server returns the service entry URL the login flow starts from.
func (c *Connection) Server() string {
	return c.server
}

// Session returns the session token store for this connection.
func (c *Connection) Session() *session.Store {
	return c.session
}

// UserAgent returns the product identifier sent on every request.
func (c *Connection) UserAgent() string {
	return c.userAgent
}

// SetSessionToken commits a freshly acquired session token.
func (c *Connection) SetSessionToken(token string) {
	c.session.SetToken(token)
}

// Fail transitions the connection to its fatal failure state. Only the
// first failure is delivered to the host.
func (c *Connection) Fail(err error) {
	c.mu.Lock()
	alreadyFailed := c.failed || c.closed
	c.failed = true
	c.mu.Unlock()
	if alreadyFailed {
		return
	}

	c.log.Error().Err(err).Msg("connection failed")
	c.events.Failed(err)
}

// Close releases the connection. In-flight request callbacks become no-ops
// and the pending queue is discarded.
func (c *Connection) Close() {
	c.mu.Lock()
	c.closed = true
	c.pending = nil
	c.mu.Unlock()

	c.client.CloseIdleConnections()
}

func (c *Connection) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
