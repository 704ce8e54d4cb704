package entitlement

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/oauth2/clientcredentials"
)

// Client resolves policies from the entitlement HTTP service, authenticating
// with OAuth2 client credentials.
type Client struct {
	BaseURL string
	HTTP    *http.Client
}

// NewClient builds a Client whose transport injects a client-credentials
// token. clientID/clientSecret may be empty when the service allows anonymous
// lookups.
func NewClient(baseURL, tokenURL, clientID, clientSecret string) *Client {
	hc := &http.Client{Timeout: 8 * time.Second}
	if clientID != "" && clientSecret != "" {
		cc := clientcredentials.Config{ClientID: clientID, ClientSecret: clientSecret, TokenURL: tokenURL}
		hc = cc.Client(context.Background())
		hc.Timeout = 8 * time.Second
	}
	return &Client{BaseURL: baseURL, HTTP: hc}
}

// ResolvePolicy fetches /v1/policy for the user/guild pair. A non-200 response
// is an error: session starts must not proceed on a guessed allowance.
func (c *Client) ResolvePolicy(ctx context.Context, userKey, guildKey string) (Policy, error) {
	q := url.Values{}
	q.Set("user", userKey)
	q.Set("guild", guildKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/v1/policy?"+q.Encode(), nil)
	if err != nil {
		return Policy{}, err
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return Policy{}, fmt.Errorf("entitlement request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return Policy{}, fmt.Errorf("entitlement status %d", resp.StatusCode)
	}
	var p Policy
	if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
		return Policy{}, fmt.Errorf("entitlement decode: %w", err)
	}
	if p.MaxDurationSeconds <= 0 {
		p.MaxDurationSeconds = DefaultMaxDurationSeconds
	}
	return p, nil
}
