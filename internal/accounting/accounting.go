package accounting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sethvargo/go-retry"
)

// Record is the normalized accounting entry forwarded after every webhook,
// regardless of outcome. Financial reconciliation itself lives elsewhere;
// this service only guarantees the record is sent or its loss is logged.
type Record struct {
	ExternalID        string            `json:"external_id"`
	AmountUSD         float64           `json:"amount_usd"`
	CryptoAmount      float64           `json:"crypto_amount,omitempty"`
	Currency          string            `json:"currency"`
	ProductCategory   string            `json:"product_category"`
	Status            string            `json:"status"`
	PaymentDate       time.Time         `json:"payment_date"`
	UserID            int64             `json:"user_id"`
	UserEmail         string            `json:"user_email,omitempty"`
	WalletAddress     string            `json:"wallet_address,omitempty"`
	ExchangeRate      float64           `json:"exchange_rate,omitempty"`
	ProviderPaymentID string            `json:"provider_payment_id,omitempty"`
	ActuallyPaid      float64           `json:"actually_paid,omitempty"`
	Metadata          map[string]string `json:"metadata,omitempty"`
}

// Config holds the accounting sink configuration. An empty endpoint disables
// the sink entirely.
type Config struct {
	Endpoint  string
	AuthToken string
}

type Client struct {
	endpoint   string
	authToken  string
	httpClient *http.Client
}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		cl.httpClient = c
	}
}

// NewClient creates an accounting sink client. An empty endpoint means the
// sink is unconfigured and every Report call is a silent no-op.
func NewClient(endpoint, authToken string, opts ...Option) *Client {
	c := &Client{
		endpoint:  endpoint,
		authToken: authToken,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Configured returns true if an endpoint is set.
func (c *Client) Configured() bool {
	return c.endpoint != ""
}

// Report delivers a record to the sink, retrying transient failures with
// exponential backoff. Callers run this from a goroutine and only log the
// returned error; delivery failures must never fail a webhook response.
func (c *Client) Report(ctx context.Context, rec Record) error {
	if !c.Configured() {
		return nil
	}

	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal accounting record: %w", err)
	}

	backoff := retry.WithMaxRetries(3, retry.NewExponential(500*time.Millisecond))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		if c.authToken != "" {
			req.Header.Set("Authorization", "Bearer "+c.authToken)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return retry.RetryableError(fmt.Errorf("post accounting record: %w", err))
		}
		defer resp.Body.Close()
		io.Copy(io.Discard, io.LimitReader(resp.Body, 2048))

		if resp.StatusCode >= 500 {
			return retry.RetryableError(fmt.Errorf("accounting sink returned %d", resp.StatusCode))
		}
		if resp.StatusCode >= 400 {
			return fmt.Errorf("accounting sink rejected record: %d", resp.StatusCode)
		}
		return nil
	})
}
