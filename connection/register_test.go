package connection_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/jrsteele09/go-chime-client/connection"
	"github.com/stretchr/testify/require"
)

func TestRegisterDevice(t *testing.T) {
	t.Run("posts device descriptor and populates the store", func(t *testing.T) {
		var descriptor map[string]map[string]any

		mux := http.NewServeMux()
		mux.HandleFunc("/sessions", func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, http.MethodPost, r.Method)
			require.Equal(t, "login-token", r.URL.Query().Get("Token"))
			require.NoError(t, json.NewDecoder(r.Body).Decode(&descriptor))

			w.Header().Set("Content-Type", "application/json")
			require.NoError(t, json.NewEncoder(w).Encode(registrationDocument("https://profile.example.com")))
		})
		srv := httptest.NewServer(mux)
		defer srv.Close()

		conn, _ := newTestConnection(t, srv.URL)

		err := conn.RegisterDevice(context.Background(), "login-token", "device-token-1")
		require.NoError(t, err)

		device := descriptor["Device"]
		require.Equal(t, "osx", device["Platform"])
		require.Equal(t, "device-token-1", device["DeviceToken"])
		require.Equal(t, float64(connection.CapPushDeliveryReceipts|
			connection.CapPresencePush|connection.CapPresenceSubscription), device["Capabilities"])

		require.True(t, conn.Session().Authenticated())
		require.Equal(t, "John Doe", conn.Session().DisplayName())
	})

	t.Run("incomplete registration response is a bad response", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"Session":{"SessionToken":"tok-1"}}`))
		}))
		defer srv.Close()

		conn, _ := newTestConnection(t, srv.URL)

		err := conn.RegisterDevice(context.Background(), "login-token", "device-token-1")
		require.ErrorIs(t, err, connection.ErrBadResponse)
		require.False(t, conn.Session().Authenticated())
	})

	t.Run("transport failure", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer srv.Close()

		conn, _ := newTestConnection(t, srv.URL)

		err := conn.RegisterDevice(context.Background(), "login-token", "device-token-1")
		require.ErrorIs(t, err, connection.ErrRequestFailed)
	})
}

func TestConnect(t *testing.T) {
	t.Run("registers and reports connected", func(t *testing.T) {
		var srvURL string
		mux := http.NewServeMux()
		mux.HandleFunc("/sessions", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			require.NoError(t, json.NewEncoder(w).Encode(registrationDocument(srvURL)))
		})
		srv := httptest.NewServer(mux)
		defer srv.Close()
		srvURL = srv.URL

		conn, events := newTestConnection(t, srv.URL)
		conn.SetSessionToken("login-token")

		conn.Connect(context.Background())

		require.Equal(t, []string{"John Doe"}, events.connections())
		require.Empty(t, events.failures())
	})

	t.Run("without a token the connection fails", func(t *testing.T) {
		conn, events := newTestConnection(t, "https://signin.example.com")

		conn.Connect(context.Background())

		require.Len(t, events.failures(), 1)
		require.Empty(t, events.connections())
	})
}

func TestSetStatus(t *testing.T) {
	t.Run("posts manual availability to the presence service", func(t *testing.T) {
		var body map[string]string
		mux := http.NewServeMux()
		mux.HandleFunc("/presencesettings", func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, http.MethodPost, r.Method)
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			w.WriteHeader(http.StatusOK)
		})
		srv := httptest.NewServer(mux)
		defer srv.Close()

		conn, _ := newTestConnection(t, srv.URL)
		populateSession(t, conn, srv.URL)

		require.NoError(t, conn.SetStatus(context.Background(), "Busy"))
		require.Equal(t, map[string]string{"ManualAvailability": "Busy"}, body)
	})

	t.Run("requires a registered presence endpoint", func(t *testing.T) {
		conn, _ := newTestConnection(t, "https://signin.example.com")

		err := conn.SetStatus(context.Background(), "Busy")
		require.ErrorIs(t, err, connection.ErrRequestFailed)
	})
}
