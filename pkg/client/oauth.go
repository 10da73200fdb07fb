package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"
)

// tokenCache is process-wide: targets sharing a server reuse one bearer token
// until it expires.
var tokenCache = struct {
	sync.Mutex
	tokens map[string]*oauth2.Token
}{tokens: make(map[string]*oauth2.Token)}

// guessTokenEndpoint derives the OAuth token endpoint from a server URL:
// marketplace and plugin path suffixes are stripped, then /api.php/token is
// appended to the remaining root path.
func guessTokenEndpoint(serverURL string) (string, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return "", err
	}
	path := u.Path
	for _, marker := range []string{"/marketplace", "/plugins"} {
		if idx := strings.Index(path, marker); idx >= 0 {
			path = path[:idx]
			break
		}
	}
	path = strings.TrimSuffix(path, "/")
	u.Path = path + "/api.php/token"
	u.RawQuery = ""
	u.Fragment = ""
	return u.String(), nil
}

type tokenRequest struct {
	GrantType    string `json:"grant_type"`
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
	Scope        string `json:"scope"`
}

type tokenResponse struct {
	TokenType   string `json:"token_type"`
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
}

// bearerToken returns a valid bearer token for serverURL, requesting a fresh
// one from the guessed token endpoint when the cached token is missing or
// expired.
func (c *Client) bearerToken(ctx context.Context, serverURL string) (string, error) {
	tokenCache.Lock()
	cached := tokenCache.tokens[serverURL]
	tokenCache.Unlock()
	if cached.Valid() {
		return cached.AccessToken, nil
	}

	endpoint, err := guessTokenEndpoint(serverURL)
	if err != nil {
		return "", fmt.Errorf("failed to derive token endpoint: %w", err)
	}

	body, err := json.Marshal(tokenRequest{
		GrantType:    "client_credentials",
		ClientID:     c.opts.OAuthClientID,
		ClientSecret: c.opts.OAuthClientSecret,
		Scope:        "inventory",
	})
	if err != nil {
		return "", err
	}

	c.logger.Debug().Str("endpoint", endpoint).
		Str("client_id", c.opts.OAuthClientID).
		Msg("requesting oauth token")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.opts.UserAgent != "" {
		req.Header.Set("User-Agent", c.opts.UserAgent)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("token endpoint answered %s", resp.Status)
	}

	var tr tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return "", fmt.Errorf("malformed token response: %w", err)
	}
	if tr.AccessToken == "" {
		return "", fmt.Errorf("token endpoint returned no access token")
	}

	token := &oauth2.Token{
		AccessToken: tr.AccessToken,
		TokenType:   tr.TokenType,
	}
	if tr.ExpiresIn > 0 {
		token.Expiry = time.Now().Add(time.Duration(tr.ExpiresIn) * time.Second)
	}

	tokenCache.Lock()
	tokenCache.tokens[serverURL] = token
	tokenCache.Unlock()

	return token.AccessToken, nil
}
