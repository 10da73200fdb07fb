package client

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cuemby/burrow/pkg/metrics"
	"github.com/cuemby/burrow/pkg/proto"
)

// maxPendingRetries bounds the pending long-poll: one more pending answer
// after the budget is exhausted is an error.
const maxPendingRetries = 12

var (
	// ErrPending is returned when the server keeps answering pending past
	// the retry budget.
	ErrPending = errors.New("server answer still pending")

	// ErrAuthRequired is returned on a 401 when no credential is
	// configured. Callers skip fallback handshakes on it, a retry against
	// the same server cannot do better.
	ErrAuthRequired = errors.New("authentication required and no credentials available")
)

// GLPI speaks the JSON agent protocol: contact, inventory and the deployment
// message family. Instances are short-lived; only the process-wide token
// cache outlives a request.
type GLPI struct {
	*Client
	agentID string
	proxyID string
}

// NewGLPI builds a JSON protocol client identified by agentID.
func NewGLPI(opts Options, agentID string) (*GLPI, error) {
	base, err := New(opts)
	if err != nil {
		return nil, err
	}
	return &GLPI{Client: base, agentID: agentID}, nil
}

// SetProxyID sets the GLPI-Proxy-ID header relayed on every request.
func (g *GLPI) SetProxyID(id string) { g.proxyID = id }

// SendOptions tunes one Send call.
type SendOptions struct {
	// PendingPass returns a pending response to the caller instead of
	// entering the long-poll loop.
	PendingPass bool
}

// Send serializes message, POSTs it to serverURL and returns the parsed
// answer, transparently handling authentication and the pending long-poll.
func (g *GLPI) Send(ctx context.Context, serverURL string, message any, opts *SendOptions) (*proto.Response, error) {
	if opts == nil {
		opts = &SendOptions{}
	}

	payload, err := json.Marshal(message)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize message: %w", err)
	}
	body, contentType, err := g.compress(payload, "application/json")
	if err != nil {
		return nil, fmt.Errorf("failed to compress message: %w", err)
	}

	requestID := newRequestID()
	resp, err := g.exchange(ctx, http.MethodPost, serverURL, body, contentType, requestID)
	if err != nil {
		return nil, err
	}

	for retries := 0; resp.Status == proto.StatusPending; {
		if opts.PendingPass {
			return resp, nil
		}
		retries++
		if retries > maxPendingRetries {
			return nil, fmt.Errorf("%w after %d retries", ErrPending, maxPendingRetries)
		}
		metrics.PendingRetries.Inc()

		wait := time.Duration(resp.Expiration) * time.Second
		g.logger.Debug().Int("retry", retries).Dur("wait", wait).
			Str("requestid", requestID).Msg("server answer pending")
		if wait > 0 {
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		// Pending answers are polled with a bare GET carrying the same
		// request id so the server can correlate.
		resp, err = g.exchange(ctx, http.MethodGet, serverURL, nil, "", requestID)
		if err != nil {
			return nil, err
		}
	}

	if resp.Status == proto.StatusError {
		message := unwrapServerMessage(resp.Message)
		g.logger.Error().Str("message", message).Msg("server returned an error")
		return resp, fmt.Errorf("server error: %s", message)
	}
	return resp, nil
}

// exchange performs one request with authentication fallback on 401.
func (g *GLPI) exchange(ctx context.Context, method, serverURL string, body []byte, contentType, requestID string) (*proto.Response, error) {
	httpResp, raw, err := g.roundTrip(ctx, method, serverURL, body, contentType, requestID, "")
	if err != nil {
		return nil, err
	}

	if httpResp.StatusCode == http.StatusUnauthorized {
		auth, err := g.authorization(ctx, serverURL)
		if err != nil {
			return nil, err
		}
		httpResp, raw, err = g.roundTrip(ctx, method, serverURL, body, contentType, requestID, auth)
		if err != nil {
			return nil, err
		}
		if httpResp.StatusCode == http.StatusUnauthorized {
			return nil, fmt.Errorf("authentication rejected by server")
		}
	}

	switch {
	case httpResp.StatusCode == http.StatusProxyAuthRequired:
		return nil, fmt.Errorf("proxy authentication required")
	case httpResp.StatusCode >= 400:
		return nil, fmt.Errorf("server answered %s: %s", httpResp.Status, excerpt(raw))
	}

	var resp proto.Response
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("malformed server answer: %w: %s", err, excerpt(raw))
	}
	if err := resp.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %s", err, excerpt(raw))
	}
	return &resp, nil
}

func (g *GLPI) roundTrip(ctx context.Context, method, serverURL string, body []byte, contentType, requestID, authorization string) (*http.Response, []byte, error) {
	var reader *bytes.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, serverURL, reader)
	if err != nil {
		return nil, nil, err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("GLPI-Agent-ID", g.agentID)
	if requestID != "" {
		req.Header.Set("GLPI-Request-ID", requestID)
	}
	if g.proxyID != "" {
		req.Header.Set("GLPI-Proxy-ID", g.proxyID)
	}
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	return g.do(ctx, req)
}

// authorization picks the retry credential after a 401: OAuth when client
// credentials are configured, basic auth otherwise.
func (g *GLPI) authorization(ctx context.Context, serverURL string) (string, error) {
	switch {
	case g.opts.OAuthClientID != "" && g.opts.OAuthClientSecret != "":
		token, err := g.bearerToken(ctx, serverURL)
		if err != nil {
			return "", err
		}
		return "Bearer " + token, nil
	case g.opts.User != "":
		req := &http.Request{Header: make(http.Header)}
		req.SetBasicAuth(g.opts.User, g.opts.Password)
		return req.Header.Get("Authorization"), nil
	default:
		return "", ErrAuthRequired
	}
}

// unwrapServerMessage extracts the human message from a server error, which
// may itself be a JSON blob carrying a schema violation.
func unwrapServerMessage(message string) string {
	var inner struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal([]byte(message), &inner); err == nil && inner.Message != "" {
		return inner.Message
	}
	return message
}

// newRequestID returns an 8 hex digit correlation id.
func newRequestID() string {
	var buf [4]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "00000000"
	}
	return hex.EncodeToString(buf[:])
}
