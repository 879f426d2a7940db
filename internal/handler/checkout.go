package handler

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/snaprolabs/snapro/internal/auth"
	"github.com/snaprolabs/snapro/internal/license"
	"github.com/snaprolabs/snapro/internal/model"
	"github.com/snaprolabs/snapro/internal/nowpayments"
	"github.com/snaprolabs/snapro/internal/store"
	snaprostripe "github.com/snaprolabs/snapro/internal/stripe"
)

// licensePrices maps license products to their USD price in cents. Proxy
// package prices come from the proxy_packages table instead.
var licensePrices = map[model.ProductType]int64{
	model.ProductProMonthly:  999,
	model.ProductProAnnual:   4900,
	model.ProductProLifetime: 19900,
}

var licenseNames = map[model.ProductType]string{
	model.ProductProMonthly:  "SnapPro Monthly",
	model.ProductProAnnual:   "SnapPro Annual",
	model.ProductProLifetime: "SnapPro Lifetime",
}

type CheckoutHandler struct {
	payments       *store.PaymentStore
	packages       *store.ProxyPackageStore
	stripeClient   *snaprostripe.Client
	npClient       *nowpayments.Client
	ipnCallbackURL string
	logger         *slog.Logger
}

func NewCheckoutHandler(
	ps *store.PaymentStore,
	pps *store.ProxyPackageStore,
	sc *snaprostripe.Client,
	np *nowpayments.Client,
	ipnCallbackURL string,
	logger *slog.Logger,
) *CheckoutHandler {
	return &CheckoutHandler{
		payments:       ps,
		packages:       pps,
		stripeClient:   sc,
		npClient:       np,
		ipnCallbackURL: ipnCallbackURL,
		logger:         logger,
	}
}

// resolveProduct maps a product type to its price and display name, hitting
// the package table for proxy products.
func (h *CheckoutHandler) resolveProduct(product model.ProductType) (int64, string, error) {
	if cents, ok := licensePrices[product]; ok {
		return cents, licenseNames[product], nil
	}
	if product.IsProxy() {
		pkg, err := h.packages.GetBySlug(license.ProxySlug(product))
		if err != nil {
			return 0, "", err
		}
		if pkg == nil {
			return 0, "", fmt.Errorf("unknown proxy package")
		}
		return pkg.PriceCents, pkg.Name + " Proxy Package", nil
	}
	return 0, "", fmt.Errorf("unknown product")
}

// StripeCheckout creates a PENDING payment and a Stripe checkout session for
// it, returning the hosted checkout URL.
func (h *CheckoutHandler) StripeCheckout(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())

	if h.stripeClient == nil {
		writeError(w, http.StatusServiceUnavailable, "card payments not configured")
		return
	}

	var req struct {
		Product string `json:"product"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}

	product := model.ProductType(req.Product)
	cents, name, err := h.resolveProduct(product)
	if err != nil {
		writeError(w, http.StatusBadRequest, "unknown product")
		return
	}

	p, err := h.payments.Create(userID, cents, "USD", model.ProviderStripe, product, name, nil)
	if err != nil {
		h.logger.Error("create payment", "error", err)
		writeError(w, http.StatusInternalServerError, "unable to start checkout")
		return
	}

	sess, err := h.stripeClient.CreateCheckoutSession(cents, "usd", name, map[string]string{
		"order_id":     p.ID,
		"user_id":      strconv.FormatInt(userID, 10),
		"product_type": string(product),
		"product_name": name,
	})
	if err != nil {
		h.logger.Error("create checkout session", "payment_id", p.ID, "error", err)
		if ferr := h.payments.MarkFailed(p.ID); ferr != nil {
			h.logger.Error("mark payment failed", "payment_id", p.ID, "error", ferr)
		}
		writeError(w, http.StatusBadGateway, "payment provider unavailable")
		return
	}

	if err := h.payments.AttachProviderTx(p.ID, sess.ID, nil); err != nil {
		h.logger.Error("attach checkout session id", "payment_id", p.ID, "error", err)
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"payment_id": p.ID,
		"url":        sess.URL,
	})
}

// CryptoCheckout creates a PENDING payment and asks the crypto processor for
// a pay-to address. The response carries everything the checkout page needs
// to render the payment instructions.
func (h *CheckoutHandler) CryptoCheckout(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())

	if h.npClient == nil || !h.npClient.Configured() {
		writeError(w, http.StatusServiceUnavailable, "crypto payments not configured")
		return
	}

	var req struct {
		Product     string `json:"product"`
		PayCurrency string `json:"pay_currency"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}
	if req.PayCurrency == "" {
		req.PayCurrency = "btc"
	}

	product := model.ProductType(req.Product)
	cents, name, err := h.resolveProduct(product)
	if err != nil {
		writeError(w, http.StatusBadRequest, "unknown product")
		return
	}

	p, err := h.payments.Create(userID, cents, "USD", model.ProviderNowPayments, product, name, nil)
	if err != nil {
		h.logger.Error("create payment", "error", err)
		writeError(w, http.StatusInternalServerError, "unable to start checkout")
		return
	}

	resp, err := h.npClient.CreatePayment(r.Context(), nowpayments.CreatePaymentRequest{
		PriceAmount:      float64(cents) / 100,
		PriceCurrency:    "usd",
		PayCurrency:      req.PayCurrency,
		OrderID:          p.ID,
		OrderDescription: name,
		IPNCallbackURL:   h.ipnCallbackURL,
	})
	if err != nil {
		h.logger.Error("create crypto payment", "payment_id", p.ID, "error", err)
		if ferr := h.payments.MarkFailed(p.ID); ferr != nil {
			h.logger.Error("mark payment failed", "payment_id", p.ID, "error", ferr)
		}
		writeError(w, http.StatusBadGateway, "payment provider unavailable")
		return
	}

	if err := h.payments.AttachProviderTx(p.ID, resp.PaymentID.String(), map[string]string{
		"pay_address":  resp.PayAddress,
		"pay_currency": resp.PayCurrency,
	}); err != nil {
		h.logger.Error("attach provider payment id", "payment_id", p.ID, "error", err)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"payment_id":   p.ID,
		"pay_address":  resp.PayAddress,
		"pay_amount":   resp.PayAmount,
		"pay_currency": resp.PayCurrency,
	})
}
