package model

import "time"

// Tier is a license capability level. Tiers are ordered: FREE < PRO < LIFETIME.
type Tier string

const (
	TierFree     Tier = "FREE"
	TierPro      Tier = "PRO"
	TierLifetime Tier = "LIFETIME"
)

// Rank returns the ordering position of a tier. Unknown tiers rank as FREE.
func (t Tier) Rank() int {
	switch t {
	case TierLifetime:
		return 2
	case TierPro:
		return 1
	}
	return 0
}

// License status values.
const (
	LicensePending   = "PENDING"
	LicenseActive    = "ACTIVE"
	LicenseExpired   = "EXPIRED"
	LicenseSuspended = "SUSPENDED"
	LicenseRevoked   = "REVOKED"
)

type License struct {
	ID              int64      `json:"id"`
	Key             string     `json:"key"`
	Type            Tier       `json:"type"`
	Status          string     `json:"status"`
	UserID          int64      `json:"user_id"`
	PaymentID       *string    `json:"payment_id"`
	ActivatedAt     *time.Time `json:"activated_at"`
	ExpiresAt       *time.Time `json:"expires_at"`
	MachineID       *string    `json:"machine_id"`
	LastValidated   *time.Time `json:"last_validated"`
	ValidationCount int64      `json:"validation_count"`
	DurationMonths  int        `json:"duration_months"`
	CreatedAt       time.Time  `json:"created_at"`
}

// Expired reports whether the license has a past expiry date at the given time.
// A nil ExpiresAt never expires.
func (l *License) Expired(now time.Time) bool {
	return l.ExpiresAt != nil && l.ExpiresAt.Before(now)
}
