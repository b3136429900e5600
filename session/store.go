// Package session holds the authenticated state of one connection: the
// session token, the identifiers handed back by device registration, and the
// per-service endpoint URLs the rest of the client talks to.
package session

import (
	"encoding/json"
	"sync"

	"github.com/pkg/errors"
)

// ErrIncompleteRegistration is returned by PopulateFromRegistration when the
// registration response is missing a required field. The store is left
// untouched in that case.
var ErrIncompleteRegistration = errors.New("incomplete registration response")

// Endpoints is the set of per-service REST URLs delivered by device
// registration. It is populated atomically: either every URL is present or
// the whole registration response is rejected.
type Endpoints struct {
	Presence     string
	Profile      string
	Contacts     string
	Messaging    string
	Conference   string
	Reachability string
	Websocket    string
}

// TokenObserver is notified whenever the session token changes value.
type TokenObserver func(token string)

// Store is the session-token store for a single connection. It is created
// empty, populated once by device registration, and its token may then be
// replaced any number of times by renewal. Safe for concurrent use.
type Store struct {
	mu              sync.Mutex
	token           string
	sessionID       string
	profileID       string
	displayName     string
	profileChannel  string
	presenceChannel string
	deviceID        string
	deviceChannel   string
	endpoints       Endpoints
	authenticated   bool
	observers       []TokenObserver
}

func NewStore() *Store {
	return &Store{}
}

// SetToken replaces the session token. Setting the current value again is a
// no-op: observers are only notified when the token actually changes.
func (s *Store) SetToken(value string) {
	s.mu.Lock()
	if s.token == value {
		s.mu.Unlock()
		return
	}
	s.token = value
	observers := make([]TokenObserver, len(s.observers))
	copy(observers, s.observers)
	s.mu.Unlock()

	for _, observer := range observers {
		observer(value)
	}
}

// Token returns the current session token, and false while no token has been
// acquired yet.
func (s *Store) Token() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token, s.token != ""
}

// OnTokenChange subscribes an observer to token changes.
func (s *Store) OnTokenChange(observer TokenObserver) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = append(s.observers, observer)
}

func (s *Store) SessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionID
}

func (s *Store) ProfileID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.profileID
}

func (s *Store) DisplayName() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.displayName
}

func (s *Store) ProfileChannel() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.profileChannel
}

func (s *Store) PresenceChannel() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.presenceChannel
}

func (s *Store) DeviceID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deviceID
}

func (s *Store) DeviceChannel() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deviceChannel
}

// Endpoints returns the registered service endpoint URLs. The zero value is
// returned until registration has populated the store.
func (s *Store) Endpoints() Endpoints {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.endpoints
}

// Authenticated reports whether device registration has populated the store.
func (s *Store) Authenticated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.authenticated
}

// registrationDocument mirrors the device-registration response shape.
type registrationDocument struct {
	Session struct {
		SessionToken string `json:"SessionToken"`
		SessionID    string `json:"SessionId"`
		Profile      struct {
			ProfileChannel  string `json:"profile_channel"`
			PresenceChannel string `json:"presence_channel"`
			ID              string `json:"id"`
			DisplayName     string `json:"display_name"`
		} `json:"Profile"`
		Device struct {
			DeviceID string `json:"DeviceId"`
			Channel  string `json:"Channel"`
		} `json:"Device"`
		ServiceConfig struct {
			Presence   serviceEntry `json:"Presence"`
			Push       serviceEntry `json:"Push"`
			Profile    serviceEntry `json:"Profile"`
			Contacts   serviceEntry `json:"Contacts"`
			Messaging  serviceEntry `json:"Messaging"`
			Conference serviceEntry `json:"Conference"`
		} `json:"ServiceConfig"`
	} `json:"Session"`
}

type serviceEntry struct {
	RestURL         string `json:"RestUrl"`
	WebsocketURL    string `json:"WebsocketUrl"`
	ReachabilityURL string `json:"ReachabilityUrl"`
}

// PopulateFromRegistration fills the store from a device-registration
// response body. It is all-or-nothing: any missing required field aborts the
// populate with ErrIncompleteRegistration and leaves the store, including
// any previously held token, unchanged.
func (s *Store) PopulateFromRegistration(body []byte) error {
	var doc registrationDocument
	if err := json.Unmarshal(body, &doc); err != nil {
		return errors.Wrap(ErrIncompleteRegistration, "[PopulateFromRegistration] parsing response")
	}

	sess := doc.Session
	required := map[string]string{
		"Session.SessionToken":               sess.SessionToken,
		"Session.SessionId":                  sess.SessionID,
		"Session.Profile.profile_channel":    sess.Profile.ProfileChannel,
		"Session.Profile.presence_channel":   sess.Profile.PresenceChannel,
		"Session.Profile.id":                 sess.Profile.ID,
		"Session.Profile.display_name":       sess.Profile.DisplayName,
		"Session.Device.DeviceId":            sess.Device.DeviceID,
		"Session.Device.Channel":             sess.Device.Channel,
		"ServiceConfig.Presence.RestUrl":     sess.ServiceConfig.Presence.RestURL,
		"ServiceConfig.Profile.RestUrl":      sess.ServiceConfig.Profile.RestURL,
		"ServiceConfig.Contacts.RestUrl":     sess.ServiceConfig.Contacts.RestURL,
		"ServiceConfig.Messaging.RestUrl":    sess.ServiceConfig.Messaging.RestURL,
		"ServiceConfig.Conference.RestUrl":   sess.ServiceConfig.Conference.RestURL,
		"ServiceConfig.Push.WebsocketUrl":    sess.ServiceConfig.Push.WebsocketURL,
		"ServiceConfig.Push.ReachabilityUrl": sess.ServiceConfig.Push.ReachabilityURL,
	}
	for field, value := range required {
		if value == "" {
			return errors.Wrapf(ErrIncompleteRegistration, "[PopulateFromRegistration] missing %s", field)
		}
	}

	s.mu.Lock()
	tokenChanged := s.token != sess.SessionToken
	s.token = sess.SessionToken
	s.sessionID = sess.SessionID
	s.profileID = sess.Profile.ID
	s.displayName = sess.Profile.DisplayName
	s.profileChannel = sess.Profile.ProfileChannel
	s.presenceChannel = sess.Profile.PresenceChannel
	s.deviceID = sess.Device.DeviceID
	s.deviceChannel = sess.Device.Channel
	s.endpoints = Endpoints{
		Presence:     sess.ServiceConfig.Presence.RestURL,
		Profile:      sess.ServiceConfig.Profile.RestURL,
		Contacts:     sess.ServiceConfig.Contacts.RestURL,
		Messaging:    sess.ServiceConfig.Messaging.RestURL,
		Conference:   sess.ServiceConfig.Conference.RestURL,
		Reachability: sess.ServiceConfig.Push.ReachabilityURL,
		Websocket:    sess.ServiceConfig.Push.WebsocketURL,
	}
	s.authenticated = true
	observers := make([]TokenObserver, len(s.observers))
	copy(observers, s.observers)
	s.mu.Unlock()

	if tokenChanged {
		for _, observer := range observers {
			observer(sess.SessionToken)
		}
	}
	return nil
}
