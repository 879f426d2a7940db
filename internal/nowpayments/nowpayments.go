package nowpayments

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
)

const defaultBaseURL = "https://api.nowpayments.io/v1"

// SigHeader is the IPN signature header name.
const SigHeader = "x-nowpayments-sig"

var (
	// ErrBadSignature is returned when the IPN signature does not match.
	ErrBadSignature = errors.New("nowpayments: IPN signature mismatch")
	// ErrNoIPNSecret is returned when verification is requested but no
	// shared secret is configured and insecure mode is off.
	ErrNoIPNSecret = errors.New("nowpayments: IPN secret not configured")
)

type Config struct {
	APIKey    string
	IPNSecret string
	BaseURL   string
	// InsecureSkipVerify disables IPN signature verification when no secret
	// is configured. Development convenience only; callers must log loudly
	// whenever a webhook passes through unverified.
	InsecureSkipVerify bool
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
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	c := &Client{
		cfg:        cfg,
		httpClient: http.DefaultClient,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Configured returns true if the API key is set.
func (c *Client) Configured() bool {
	return c.cfg.APIKey != ""
}

type CreatePaymentRequest struct {
	PriceAmount      float64 `json:"price_amount"`
	PriceCurrency    string  `json:"price_currency"`
	PayCurrency      string  `json:"pay_currency"`
	OrderID          string  `json:"order_id"`
	OrderDescription string  `json:"order_description,omitempty"`
	IPNCallbackURL   string  `json:"ipn_callback_url,omitempty"`
}

type CreatePaymentResponse struct {
	PaymentID     json.Number `json:"payment_id"`
	PaymentStatus string      `json:"payment_status"`
	PayAddress    string      `json:"pay_address"`
	PayAmount     float64     `json:"pay_amount"`
	PayCurrency   string      `json:"pay_currency"`
}

// CreatePayment asks the processor to create a crypto payment for the given
// order. The processor assigns its own payment id, returned here, which the
// ledger records via AttachProviderTx.
func (c *Client) CreatePayment(ctx context.Context, req CreatePaymentRequest) (*CreatePaymentResponse, error) {
	if !c.Configured() {
		return nil, fmt.Errorf("nowpayments client not configured: missing api key")
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal payment request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/payment", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.cfg.APIKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("create payment: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, fmt.Errorf("create payment: status %d: %s", resp.StatusCode, msg)
	}

	var out CreatePaymentResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode payment response: %w", err)
	}
	return &out, nil
}

// IPNPayload is the body of an IPN callback.
type IPNPayload struct {
	PaymentID     json.Number `json:"payment_id"`
	PaymentStatus string      `json:"payment_status"`
	OrderID       string      `json:"order_id"`
	PriceAmount   float64     `json:"price_amount"`
	PriceCurrency string      `json:"price_currency"`
	PayAmount     float64     `json:"pay_amount"`
	PayCurrency   string      `json:"pay_currency"`
	PayAddress    string      `json:"pay_address"`
	ActuallyPaid  float64     `json:"actually_paid"`
	OutcomeAmount float64     `json:"outcome_amount"`
}

// ParseIPN decodes an IPN body. Verify the signature first.
func ParseIPN(body []byte) (*IPNPayload, error) {
	var p IPNPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("decode ipn payload: %w", err)
	}
	if p.OrderID == "" {
		return nil, fmt.Errorf("ipn payload missing order_id")
	}
	return &p, nil
}

// VerifyIPN checks the signature header against HMAC-SHA512 of the
// canonicalized body. Returns (true, nil) on a verified signature and
// (false, nil) when verification was skipped in insecure mode.
func (c *Client) VerifyIPN(body []byte, sigHeader string) (bool, error) {
	if c.cfg.IPNSecret == "" {
		if c.cfg.InsecureSkipVerify {
			return false, nil
		}
		return false, ErrNoIPNSecret
	}

	want, err := SignIPN(body, c.cfg.IPNSecret)
	if err != nil {
		return false, err
	}
	if !hmac.Equal([]byte(sigHeader), []byte(want)) {
		return false, ErrBadSignature
	}
	return true, nil
}

// SignIPN computes the hex HMAC-SHA512 of the canonical form of body. The
// processor signs the JSON re-serialized with all object keys sorted
// alphabetically at every depth; both sides must agree on that byte
// representation for the comparison to mean anything.
func SignIPN(body []byte, secret string) (string, error) {
	canonical, err := CanonicalJSON(body)
	if err != nil {
		return "", err
	}
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write(canonical)
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// CanonicalJSON re-serializes a JSON document deterministically with object
// keys sorted at every nesting level. Number literals pass through verbatim.
func CanonicalJSON(body []byte) ([]byte, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode ipn body: %w", err)
	}

	// encoding/json marshals map keys in sorted order at every depth, and
	// json.Number round-trips literals unchanged.
	canonical, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("canonicalize ipn body: %w", err)
	}
	return canonical, nil
}
