// Package ledger integrates with the license ledger that holds per-account
// expiry timestamps. The engine only ever extends licenses; validation and
// expiry enforcement live in the ledger service.
package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Grant is the ledger's acknowledgement of an extension. ExpiresAt is the
// new expiry: the ledger extends from its current expiry when the license is
// still valid, otherwise from now.
type Grant struct {
	Reference string
	ExpiresAt time.Time
}

// Grantor extends an account's license by a number of days.
type Grantor interface {
	Extend(ctx context.Context, accountID string, days int) (*Grant, error)
}

// Config holds license ledger configuration.
type Config struct {
	BaseURL  string
	APIToken string
}

type Client struct {
	cfg        Config
	httpClient *http.Client
}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		cl.httpClient = c
	}
}

func NewClient(cfg Config, opts ...Option) *Client {
	c := &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type extendRequest struct {
	AccountID    string `json:"accountId"`
	DurationDays int    `json:"durationDays"`
}

type extendResponse struct {
	Success   bool       `json:"success"`
	Reference string     `json:"reference,omitempty"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
	Error     string     `json:"error,omitempty"`
}

// Extend adds days to the account's license expiry.
func (c *Client) Extend(ctx context.Context, accountID string, days int) (*Grant, error) {
	body, err := json.Marshal(extendRequest{AccountID: accountID, DurationDays: days})
	if err != nil {
		return nil, fmt.Errorf("marshal extend request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/v1/licenses/extend", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create extend request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("extend license: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("extend license: ledger status %d", resp.StatusCode)
	}

	var er extendResponse
	if err := json.NewDecoder(resp.Body).Decode(&er); err != nil {
		return nil, fmt.Errorf("decode extend response: %w", err)
	}
	if !er.Success {
		return nil, fmt.Errorf("extend license: ledger refused: %s", er.Error)
	}

	grant := &Grant{Reference: er.Reference}
	if er.ExpiresAt != nil {
		grant.ExpiresAt = er.ExpiresAt.UTC()
	}
	return grant, nil
}
