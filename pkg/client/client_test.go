package client

import (
	"compress/zlib"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/burrow/pkg/proto"
)

func testOptions() Options {
	return Options{Logger: zerolog.Nop(), Timeout: 5 * time.Second}
}

func answer(t *testing.T, w http.ResponseWriter, resp proto.Response) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	require.NoError(t, json.NewEncoder(w).Encode(resp))
}

func decodeRequest(t *testing.T, r *http.Request) map[string]any {
	t.Helper()
	var reader io.Reader = r.Body
	if r.Header.Get("Content-Type") == "application/x-compress-zlib" {
		zr, err := zlib.NewReader(r.Body)
		require.NoError(t, err)
		defer zr.Close()
		reader = zr
	}
	var msg map[string]any
	require.NoError(t, json.NewDecoder(reader).Decode(&msg))
	return msg
}

func TestSendCompressedContact(t *testing.T) {
	var seen atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen.Add(1)
		assert.Equal(t, "application/x-compress-zlib", r.Header.Get("Content-Type"))
		assert.Equal(t, "agent-uuid", r.Header.Get("GLPI-Agent-ID"))
		msg := decodeRequest(t, r)
		assert.Equal(t, "contact", msg["action"])
		answer(t, w, proto.Response{Status: proto.StatusOK})
	}))
	defer srv.Close()

	glpi, err := NewGLPI(testOptions(), "agent-uuid")
	require.NoError(t, err)

	resp, err := glpi.Send(context.Background(), srv.URL, proto.Contact{Action: proto.ActionContact}, nil)
	require.NoError(t, err)
	assert.Equal(t, proto.StatusOK, resp.Status)
	assert.Equal(t, int32(1), seen.Load())
}

func TestSendPendingThenOK(t *testing.T) {
	var calls atomic.Int32
	var postID, getID string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch calls.Add(1) {
		case 1:
			assert.Equal(t, http.MethodPost, r.Method)
			postID = r.Header.Get("GLPI-Request-ID")
			answer(t, w, proto.Response{Status: proto.StatusPending, Expiration: 1})
		default:
			assert.Equal(t, http.MethodGet, r.Method)
			getID = r.Header.Get("GLPI-Request-ID")
			answer(t, w, proto.Response{Status: proto.StatusOK})
		}
	}))
	defer srv.Close()

	glpi, err := NewGLPI(testOptions(), "agent-uuid")
	require.NoError(t, err)

	start := time.Now()
	resp, err := glpi.Send(context.Background(), srv.URL, proto.Contact{Action: proto.ActionContact}, nil)
	require.NoError(t, err)

	assert.Equal(t, proto.StatusOK, resp.Status)
	assert.Equal(t, int32(2), calls.Load(), "exactly two outbound calls")
	assert.GreaterOrEqual(t, time.Since(start), time.Second, "one 1-second sleep")
	assert.NotEmpty(t, postID)
	assert.Equal(t, postID, getID, "pending poll must reuse the request id")
}

func TestSendPendingBudgetExhausted(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		answer(t, w, proto.Response{Status: proto.StatusPending})
	}))
	defer srv.Close()

	glpi, err := NewGLPI(testOptions(), "agent-uuid")
	require.NoError(t, err)

	_, err = glpi.Send(context.Background(), srv.URL, proto.Contact{Action: proto.ActionContact}, nil)
	require.ErrorIs(t, err, ErrPending)
	// Initial POST plus the full retry budget.
	assert.Equal(t, int32(1+maxPendingRetries), calls.Load())
}

func TestSendPendingPass(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		answer(t, w, proto.Response{Status: proto.StatusPending, Expiration: 30})
	}))
	defer srv.Close()

	glpi, err := NewGLPI(testOptions(), "agent-uuid")
	require.NoError(t, err)

	resp, err := glpi.Send(context.Background(), srv.URL, proto.Contact{Action: proto.ActionContact},
		&SendOptions{PendingPass: true})
	require.NoError(t, err)
	assert.Equal(t, proto.StatusPending, resp.Status)
}

func TestSendOAuthRefreshOn401(t *testing.T) {
	var tokenRequests atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/api.php/token", func(w http.ResponseWriter, r *http.Request) {
		tokenRequests.Add(1)
		var req map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "client_credentials", req["grant_type"])
		assert.Equal(t, "inventory", req["scope"])
		assert.Equal(t, "the-id", req["client_id"])
		require.NoError(t, json.NewEncoder(w).Encode(map[string]any{
			"token_type":   "Bearer",
			"access_token": "T",
			"expires_in":   60,
		}))
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer T" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		answer(t, w, proto.Response{Status: proto.StatusOK})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	opts := testOptions()
	opts.OAuthClientID = "the-id"
	opts.OAuthClientSecret = "the-secret"
	glpi, err := NewGLPI(opts, "agent-uuid")
	require.NoError(t, err)

	resp, err := glpi.Send(context.Background(), srv.URL, proto.Contact{Action: proto.ActionContact}, nil)
	require.NoError(t, err)
	assert.Equal(t, proto.StatusOK, resp.Status)
	assert.Equal(t, int32(1), tokenRequests.Load())

	// A second send within the token lifetime reuses the cached token.
	resp, err = glpi.Send(context.Background(), srv.URL, proto.Contact{Action: proto.ActionContact}, nil)
	require.NoError(t, err)
	assert.Equal(t, proto.StatusOK, resp.Status)
	assert.Equal(t, int32(1), tokenRequests.Load(), "token must be reused while valid")
}

func TestSend401WithoutCredentials(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	glpi, err := NewGLPI(testOptions(), "agent-uuid")
	require.NoError(t, err)

	_, err = glpi.Send(context.Background(), srv.URL, proto.Contact{Action: proto.ActionContact}, nil)
	require.ErrorIs(t, err, ErrAuthRequired)
}

func TestSendBasicAuthRetry(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "alice" || pass != "sesame" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		answer(t, w, proto.Response{Status: proto.StatusOK})
	}))
	defer srv.Close()

	opts := testOptions()
	opts.User = "alice"
	opts.Password = "sesame"
	glpi, err := NewGLPI(opts, "agent-uuid")
	require.NoError(t, err)

	resp, err := glpi.Send(context.Background(), srv.URL, proto.Contact{Action: proto.ActionContact}, nil)
	require.NoError(t, err)
	assert.Equal(t, proto.StatusOK, resp.Status)
}

func TestSendServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		answer(t, w, proto.Response{Status: proto.StatusError, Message: "unsupported itemtype"})
	}))
	defer srv.Close()

	glpi, err := NewGLPI(testOptions(), "agent-uuid")
	require.NoError(t, err)

	_, err = glpi.Send(context.Background(), srv.URL, proto.Contact{Action: proto.ActionContact}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported itemtype")
}

func TestGuessTokenEndpoint(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"https://glpi.example.com/", "https://glpi.example.com/api.php/token"},
		{"https://glpi.example.com/front/inventory.php", "https://glpi.example.com/front/inventory.php/api.php/token"},
		{"https://glpi.example.com/marketplace/glpiinventory/", "https://glpi.example.com/api.php/token"},
		{"https://glpi.example.com/glpi/plugins/fusioninventory/", "https://glpi.example.com/glpi/api.php/token"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := guessTokenEndpoint(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestOCSProlog(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		decoded, err := decompress(body, r.Header.Get("Content-Type"))
		require.NoError(t, err)
		assert.Contains(t, string(decoded), "<QUERY>PROLOG</QUERY>")
		assert.Contains(t, string(decoded), "<DEVICEID>dev-1</DEVICEID>")
		w.Write([]byte(`<?xml version="1.0"?><REPLY><RESPONSE>SEND</RESPONSE><PROLOG_FREQ>24</PROLOG_FREQ></REPLY>`))
	}))
	defer srv.Close()

	ocs, err := NewOCS(testOptions(), "dev-1")
	require.NoError(t, err)

	reply, err := ocs.Prolog(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "SEND", reply.Response)
	assert.Equal(t, 24, reply.PrologFreq)
}
