package connection

import (
	"context"
	"net/http"
	"net/url"

	"github.com/pkg/errors"
)

// DeviceCapability bits advertised during registration.
type DeviceCapability int

const (
	CapPushDeliveryReceipts DeviceCapability = 1 << iota
	CapPresencePush
	CapPresenceSubscription
)

// defaultCapabilities is the fixed capability set this client registers with.
const defaultCapabilities = CapPushDeliveryReceipts | CapPresencePush | CapPresenceSubscription

const devicePlatform = "osx"

type deviceDescriptor struct {
	Platform     string           `json:"Platform"`
	DeviceToken  string           `json:"DeviceToken"`
	Capabilities DeviceCapability `json:"Capabilities"`
}

type deviceRegistration struct {
	Device deviceDescriptor `json:"Device"`
}

// Connect is the post-login entry point: with a session token in the store,
// it registers the device and reports the connected profile to the host.
// Failures are fatal for the connection.
func (c *Connection) Connect(ctx context.Context) {
	token, ok := c.session.Token()
	if !ok {
		c.Fail(errors.Wrap(ErrRequestFailed, "[Connect] no session token"))
		return
	}

	if err := c.RegisterDevice(ctx, token, c.deviceToken); err != nil {
		c.Fail(err)
		return
	}

	c.log.Info().Str("profile", c.session.ProfileID()).Msg("device registered")
	c.events.Connected(c.session.DisplayName())
}

// RegisterDevice exchanges the session token and device identity for the
// session/service-topology document and commits it into the session store.
func (c *Connection) RegisterDevice(ctx context.Context, token, deviceToken string) error {
	registerURL := c.server + "/sessions?Token=" + url.QueryEscape(token)
	body := deviceRegistration{Device: deviceDescriptor{
		Platform:     devicePlatform,
		DeviceToken:  deviceToken,
		Capabilities: defaultCapabilities,
	}}

	result, err := c.do(ctx, http.MethodPost, registerURL, body)
	if err != nil {
		return errors.Wrap(err, "[RegisterDevice] device registration failed")
	}
	if result.StatusCode != http.StatusOK && result.StatusCode != http.StatusCreated {
		return errors.Wrapf(ErrRequestFailed, "[RegisterDevice] registration returned status %d", result.StatusCode)
	}

	if err := c.session.PopulateFromRegistration(result.Body); err != nil {
		return errors.Wrapf(ErrBadResponse, "[RegisterDevice] processing registration response: %v", err)
	}
	return nil
}

// SetStatus sets the manual availability of the connected profile.
func (c *Connection) SetStatus(ctx context.Context, status string) error {
	endpoints := c.session.Endpoints()
	if endpoints.Presence == "" {
		return errors.Wrap(ErrRequestFailed, "[SetStatus] presence endpoint not registered")
	}

	result, err := c.do(ctx, http.MethodPost, endpoints.Presence+"/presencesettings",
		map[string]string{"ManualAvailability": status})
	if err != nil {
		return errors.Wrap(err, "[SetStatus] presence settings request")
	}
	if result.StatusCode != http.StatusOK && result.StatusCode != http.StatusNoContent {
		return errors.Wrapf(ErrRequestFailed, "[SetStatus] presence settings returned status %d", result.StatusCode)
	}
	return nil
}
