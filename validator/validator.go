// Package validator is the client for the external identity oracle that maps
// an opaque client token to an authenticated username.
package validator

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/crypto/sha3"
)

// Result is the oracle's verdict for one token.
type Result struct {
	Valid    bool   `json:"valid"`
	Identity string `json:"identity"`
}

type Client struct {
	endpoint string
	key      string
	client   *http.Client
}

func NewClient(endpoint, key string, timeout time.Duration) *Client {
	return &Client{
		endpoint: endpoint,
		key:      key,
		client:   &http.Client{Timeout: timeout},
	}
}

// Validate resolves a token against the remote oracle. Any transport error,
// non-200 status or undecodable body is returned as an error; the caller
// treats all of them as authentication failure.
func (c *Client) Validate(ctx context.Context, token string) (Result, error) {
	u, err := url.Parse(c.endpoint)
	if err != nil {
		return Result{}, fmt.Errorf("validator endpoint: %w", err)
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return Result{}, err
	}
	req.Header.Set("X-Validator-Key", c.key)

	resp, err := c.client.Do(req)
	if err != nil {
		return Result{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Result{}, fmt.Errorf("validator returned status %d", resp.StatusCode)
	}

	var result Result
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return Result{}, fmt.Errorf("decode validator response: %w", err)
	}

	return result, nil
}

// DerivedKey produces the client-visible validator key advertised in the
// connection handshake. The raw shared key never leaves the server.
func DerivedKey(key string) string {
	sum := sha3.Sum256([]byte(key))
	return "originchats-" + hex.EncodeToString(sum[:16])
}
