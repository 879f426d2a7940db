package model

import "time"

// Provider identifies the external payment rail that processed a payment.
type Provider string

const (
	ProviderStripe      Provider = "stripe"
	ProviderNowPayments Provider = "nowpayments"
	ProviderPayPal      Provider = "paypal"
)

// ProductType identifies what a payment purchases. PRO_* values map to
// license tiers; PROXY_* values map to proxy packages by slug.
type ProductType string

const (
	ProductProMonthly  ProductType = "PRO_MONTHLY"
	ProductProAnnual   ProductType = "PRO_ANNUAL"
	ProductProLifetime ProductType = "PRO_LIFETIME"

	// ProxyProductPrefix namespaces proxy package products, e.g. PROXY_GROWTH.
	ProxyProductPrefix = "PROXY_"
)

// IsLicense reports whether the product mints a license on completion.
func (p ProductType) IsLicense() bool {
	switch p {
	case ProductProMonthly, ProductProAnnual, ProductProLifetime:
		return true
	}
	return false
}

// IsProxy reports whether the product creates a proxy order on completion.
func (p ProductType) IsProxy() bool {
	return len(p) > len(ProxyProductPrefix) && string(p[:len(ProxyProductPrefix)]) == ProxyProductPrefix
}

type Payment struct {
	ID           string            `json:"id"`
	UserID       int64             `json:"user_id"`
	AmountCents  int64             `json:"amount_cents"`
	Currency     string            `json:"currency"`
	Provider     Provider          `json:"provider"`
	ProviderTxID *string           `json:"provider_tx_id"`
	Status       string            `json:"status"`
	ProductType  ProductType       `json:"product_type"`
	ProductName  string            `json:"product_name"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
}
