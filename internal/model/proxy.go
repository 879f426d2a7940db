package model

import "time"

// ProxyPackage is reference data describing a purchasable proxy bundle.
type ProxyPackage struct {
	ID          int64     `json:"id"`
	Slug        string    `json:"slug"`
	Name        string    `json:"name"`
	ProxyCount  int       `json:"proxy_count"`
	BandwidthGB int       `json:"bandwidth_gb"`
	PriceCents  int64     `json:"price_cents"`
	CreatedAt   time.Time `json:"created_at"`
}

// Proxy order status values.
const (
	ProxyOrderPending   = "PENDING"
	ProxyOrderActive    = "ACTIVE"
	ProxyOrderExpired   = "EXPIRED"
	ProxyOrderCancelled = "CANCELLED"
)

type ProxyOrder struct {
	ID           string     `json:"id"`
	UserID       int64      `json:"user_id"`
	PackageID    int64      `json:"package_id"`
	PaymentID    *string    `json:"payment_id"`
	Status       string     `json:"status"`
	StartDate    time.Time  `json:"start_date"`
	ExpiresAt    *time.Time `json:"expires_at"`
	AmountCents  int64      `json:"amount_cents"`
	Currency     string     `json:"currency"`
	Provider     Provider   `json:"provider"`
	ProviderTxID *string    `json:"provider_tx_id"`
	CreatedAt    time.Time  `json:"created_at"`
}
