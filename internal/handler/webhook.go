package handler

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	stripe "github.com/stripe/stripe-go/v82"

	"github.com/snaprolabs/snapro/internal/nowpayments"
	"github.com/snaprolabs/snapro/internal/reconcile"
	snaprostripe "github.com/snaprolabs/snapro/internal/stripe"
)

const maxWebhookBody = 65536

type WebhookHandler struct {
	stripeClient *snaprostripe.Client
	npClient     *nowpayments.Client
	reconciler   *reconcile.Reconciler
	logger       *slog.Logger
}

func NewWebhookHandler(
	sc *snaprostripe.Client,
	np *nowpayments.Client,
	rec *reconcile.Reconciler,
	logger *slog.Logger,
) *WebhookHandler {
	return &WebhookHandler{
		stripeClient: sc,
		npClient:     np,
		reconciler:   rec,
		logger:       logger,
	}
}

// HandleStripe processes Stripe webhook deliveries. Signature verification
// is the SDK's job; only checkout.session.completed drives the ledger.
func (h *WebhookHandler) HandleStripe(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "read body")
		return
	}

	event, err := h.stripeClient.ConstructWebhookEvent(body, r.Header.Get("Stripe-Signature"))
	if err != nil {
		h.logger.Warn("stripe webhook signature rejected", "error", err)
		writeError(w, http.StatusUnauthorized, "invalid signature")
		return
	}

	if event.Type != "checkout.session.completed" {
		w.WriteHeader(http.StatusOK)
		return
	}

	var sess stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
		h.logger.Error("unmarshal checkout session", "error", err)
		writeError(w, http.StatusBadRequest, "malformed event")
		return
	}

	orderID := sess.Metadata["order_id"]
	if orderID == "" {
		h.logger.Error("checkout session missing order_id", "session_id", sess.ID)
		writeError(w, http.StatusBadRequest, "missing order id")
		return
	}

	providerTxID := sess.ID
	if sess.PaymentIntent != nil {
		providerTxID = sess.PaymentIntent.ID
	}
	email := ""
	if sess.CustomerDetails != nil {
		email = sess.CustomerDetails.Email
	}

	h.apply(w, r, reconcile.Event{
		OrderID:           orderID,
		ProviderPaymentID: providerTxID,
		Kind:              reconcile.KindSuccess,
		RawStatus:         string(event.Type),
		UserEmail:         email,
	})
}

// HandleNowPayments processes IPN callbacks from the crypto processor. The
// signature is ours to verify, over the canonicalized body.
func (h *WebhookHandler) HandleNowPayments(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "read body")
		return
	}

	verified, err := h.npClient.VerifyIPN(body, r.Header.Get(nowpayments.SigHeader))
	if err != nil {
		h.logger.Warn("ipn signature rejected", "error", err)
		writeError(w, http.StatusUnauthorized, "invalid signature")
		return
	}
	if !verified {
		h.logger.Warn("SECURITY: IPN accepted without signature verification; configure the IPN secret before production")
	}

	payload, err := nowpayments.ParseIPN(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "malformed payload")
		return
	}

	h.apply(w, r, reconcile.Event{
		OrderID:           payload.OrderID,
		ProviderPaymentID: payload.PaymentID.String(),
		Kind:              reconcile.NormalizeIPNStatus(payload.PaymentStatus),
		RawStatus:         payload.PaymentStatus,
		PayAmount:         payload.PayAmount,
		PayCurrency:       payload.PayCurrency,
		PayAddress:        payload.PayAddress,
		ActuallyPaid:      payload.ActuallyPaid,
	})
}

func (h *WebhookHandler) apply(w http.ResponseWriter, r *http.Request, ev reconcile.Event) {
	err := h.reconciler.Apply(r.Context(), ev)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	case errors.Is(err, reconcile.ErrUnknownOrder):
		h.logger.Warn("webhook for unknown order", "order_id", ev.OrderID, "status", ev.RawStatus)
		writeError(w, http.StatusNotFound, "unknown order")
	default:
		h.logger.Error("reconcile webhook", "order_id", ev.OrderID, "status", ev.RawStatus, "error", err)
		writeError(w, http.StatusInternalServerError, "reconciliation failed")
	}
}
