package license

import (
	"strings"
	"time"

	"github.com/snaprolabs/snapro/internal/model"
)

// LifetimeDurationMonths is the sentinel DurationMonths returns for
// PRO_LIFETIME: zero means "not time-bounded", never "zero months".
const LifetimeDurationMonths = 0

// ExpirationFor returns the expiry date for a purchase starting at start.
// Durations are fixed day counts (30/365), not calendar months; a lifetime
// purchase returns nil (never expires).
func ExpirationFor(product model.ProductType, start time.Time) *time.Time {
	var d time.Duration
	switch product {
	case model.ProductProMonthly:
		d = 30 * 24 * time.Hour
	case model.ProductProAnnual:
		d = 365 * 24 * time.Hour
	default:
		return nil
	}
	t := start.Add(d)
	return &t
}

// TierFor maps a license product to its tier. Non-license products map to FREE.
func TierFor(product model.ProductType) model.Tier {
	switch product {
	case model.ProductProLifetime:
		return model.TierLifetime
	case model.ProductProMonthly, model.ProductProAnnual:
		return model.TierPro
	}
	return model.TierFree
}

// DurationMonths returns the billing duration of a license product in months.
func DurationMonths(product model.ProductType) int {
	switch product {
	case model.ProductProMonthly:
		return 1
	case model.ProductProAnnual:
		return 12
	}
	return LifetimeDurationMonths
}

// ProxySlug derives a proxy package slug from its product type, e.g.
// PROXY_GROWTH -> growth. Returns "" for non-proxy products.
func ProxySlug(product model.ProductType) string {
	if !product.IsProxy() {
		return ""
	}
	return strings.ToLower(string(product[len(model.ProxyProductPrefix):]))
}
