// Package swap talks to the cross-chain settlement provider that allocates
// deposit addresses and reports payment status. Quote responses echo the
// recipient and destination asset; committing quotes are only trusted after
// those fields are checked against the configured settlement account.
package swap

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/sethvargo/go-retry"
	"github.com/shopspring/decimal"
)

// ErrAssetSubstitution reports a committing quote whose echoed recipient or
// destination asset differs from the configured settlement expectations.
// Never retried: a provider that redirects settled funds cannot be trusted
// with another attempt.
var ErrAssetSubstitution = errors.New("quote recipient or destination asset mismatch")

// Outcome is the result of a payment check.
type Outcome string

const (
	OutcomeReceived Outcome = "received" // funds settled since the window start
	OutcomePending  Outcome = "pending"  // funds observed, not yet settled
	OutcomeNone     Outcome = "none"     // no funds at all
)

// Config holds settlement provider configuration. SettlementAccount and
// DestinationAsset are the trust-boundary expectations every committing
// quote is verified against.
type Config struct {
	BaseURL           string
	APIKey            string
	SettlementAccount string
	DestinationAsset  string
}

// Client is a settlement provider client. Construct one per process and
// inject it; it holds no global state.
type Client struct {
	cfg        Config
	httpClient *http.Client
	logger     *slog.Logger
}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		cl.httpClient = c
	}
}

func NewClient(cfg Config, logger *slog.Logger, opts ...Option) *Client {
	c := &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		logger:     logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Preview is a non-committing price estimate. No deposit address exists.
type Preview struct {
	AmountIn  string `json:"amountIn"`
	AmountOut string `json:"amountOut"`
}

// Quote is a committed quote with an allocated deposit address.
type Quote struct {
	IntentID       string    `json:"intentId"`
	DepositAddress string    `json:"depositAddress"`
	AmountIn       string    `json:"amountIn"`
	AmountOut      string    `json:"amountOut"`
	PaymentURL     string    `json:"paymentUrl"`
	Deadline       time.Time `json:"deadline"`
}

type quoteRequest struct {
	OriginAsset      string `json:"originAsset"`
	AmountMicroUSD   int64  `json:"amountMicroUsd"`
	RefundAddress    string `json:"refundAddress,omitempty"`
	Recipient        string `json:"recipient"`
	DestinationAsset string `json:"destinationAsset"`
	Deadline         string `json:"deadline,omitempty"`
	Dry              bool   `json:"dry"`
}

type quoteResponse struct {
	IntentID         string    `json:"intentId"`
	DepositAddress   string    `json:"depositAddress"`
	AmountIn         string    `json:"amountIn"`
	AmountOut        string    `json:"amountOut"`
	Recipient        string    `json:"recipient"`
	DestinationAsset string    `json:"destinationAsset"`
	PaymentURL       string    `json:"paymentUrl"`
	Deadline         time.Time `json:"deadline"`
}

// MicroUSD converts a USD amount to integer micro-units. Amounts are never
// sent to the provider as floating point.
func MicroUSD(usd decimal.Decimal) int64 {
	return usd.Shift(6).Round(0).IntPart()
}

// QuotePreview asks the provider for a price estimate without allocating a
// deposit address.
func (c *Client) QuotePreview(ctx context.Context, originAsset string, usdAmount decimal.Decimal, refundAddress string) (*Preview, error) {
	req := quoteRequest{
		OriginAsset:      originAsset,
		AmountMicroUSD:   MicroUSD(usdAmount),
		RefundAddress:    refundAddress,
		Recipient:        c.cfg.SettlementAccount,
		DestinationAsset: c.cfg.DestinationAsset,
		Dry:              true,
	}

	var resp quoteResponse
	if err := c.postJSON(ctx, "/v0/quote", req, &resp); err != nil {
		return nil, fmt.Errorf("quote preview: %w", err)
	}
	return &Preview{AmountIn: resp.AmountIn, AmountOut: resp.AmountOut}, nil
}

// QuoteCommit allocates a real deposit address for the given amount. The
// echoed recipient and destination asset are verified before the quote is
// returned; on mismatch the address is discarded and ErrAssetSubstitution
// surfaces for alerting.
func (c *Client) QuoteCommit(ctx context.Context, originAsset string, usdAmount decimal.Decimal, refundAddress string, deadline time.Time) (*Quote, error) {
	req := quoteRequest{
		OriginAsset:      originAsset,
		AmountMicroUSD:   MicroUSD(usdAmount),
		RefundAddress:    refundAddress,
		Recipient:        c.cfg.SettlementAccount,
		DestinationAsset: c.cfg.DestinationAsset,
		Deadline:         deadline.UTC().Format(time.RFC3339),
		Dry:              false,
	}

	var resp quoteResponse
	if err := c.postJSON(ctx, "/v0/quote", req, &resp); err != nil {
		return nil, fmt.Errorf("quote commit: %w", err)
	}

	if resp.Recipient != c.cfg.SettlementAccount || resp.DestinationAsset != c.cfg.DestinationAsset {
		c.logger.Error("provider substituted quote trust fields",
			"component", "security",
			"expected_recipient", c.cfg.SettlementAccount,
			"echoed_recipient", resp.Recipient,
			"expected_destination_asset", c.cfg.DestinationAsset,
			"echoed_destination_asset", resp.DestinationAsset,
			"intent_id", resp.IntentID,
		)
		return nil, fmt.Errorf("quote commit: %w", ErrAssetSubstitution)
	}

	return &Quote{
		IntentID:       resp.IntentID,
		DepositAddress: resp.DepositAddress,
		AmountIn:       resp.AmountIn,
		AmountOut:      resp.AmountOut,
		PaymentURL:     resp.PaymentURL,
		Deadline:       resp.Deadline,
	}, nil
}

type statusResponse struct {
	Status string `json:"status"`
}

// CheckPayment reports whether the payment intent has received funds since
// the given timestamp. "pending" means funds were observed but have not
// settled; only "none" means the period is confirmed unpaid.
func (c *Client) CheckPayment(ctx context.Context, intentID string, since time.Time) (Outcome, error) {
	q := url.Values{}
	q.Set("intentId", intentID)
	q.Set("since", since.UTC().Format(time.RFC3339))

	var resp statusResponse
	if err := c.getJSON(ctx, "/v0/status?"+q.Encode(), &resp); err != nil {
		return "", fmt.Errorf("check payment: %w", err)
	}

	switch resp.Status {
	case "success":
		return OutcomeReceived, nil
	case "processing", "pending_deposit":
		return OutcomePending, nil
	case "none", "expired":
		return OutcomeNone, nil
	default:
		return "", fmt.Errorf("check payment: unknown provider status %q", resp.Status)
	}
}

func (c *Client) postJSON(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	return c.do(ctx, http.MethodPost, path, payload, out)
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	return c.do(ctx, http.MethodGet, path, nil, out)
}

// do performs the request with capped exponential backoff on network errors
// and 5xx responses. Anything left after the retries is a transient provider
// error for the caller; the next sweep resolves it.
func (c *Client) do(ctx context.Context, method, path string, payload []byte, out any) error {
	backoff := retry.WithMaxRetries(3, retry.NewExponential(500*time.Millisecond))

	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		var body io.Reader
		if payload != nil {
			body = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, body)
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		if c.cfg.APIKey != "" {
			req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return retry.RetryableError(fmt.Errorf("provider request: %w", err))
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 500 {
			return retry.RetryableError(fmt.Errorf("provider status %d", resp.StatusCode))
		}
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("provider status %d", resp.StatusCode)
		}

		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
		return nil
	})
}
