package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/snaprolabs/snapro/internal/accounting"
	"github.com/snaprolabs/snapro/internal/license"
	"github.com/snaprolabs/snapro/internal/model"
	"github.com/snaprolabs/snapro/internal/payment"
	"github.com/snaprolabs/snapro/internal/store"
	"github.com/snaprolabs/snapro/internal/websocket"
)

// ErrUnknownOrder is returned when an event references no known payment.
// Handlers translate it to a client error; the provider retries on its own
// schedule and the order will never materialize, so no internal retry happens.
var ErrUnknownOrder = errors.New("reconcile: unknown order id")

// Kind classifies a provider status into the internal vocabulary.
type Kind int

const (
	KindUnknown Kind = iota
	KindPending
	KindSuccess
	KindFailure
	KindRefund
)

func (k Kind) String() string {
	switch k {
	case KindPending:
		return "pending"
	case KindSuccess:
		return "success"
	case KindFailure:
		return "failure"
	case KindRefund:
		return "refund"
	}
	return "unknown"
}

// NormalizeIPNStatus maps the crypto processor's status vocabulary onto the
// internal kinds. Partially-funded and in-flight states stay pending; only
// confirmed/finished release entitlements.
func NormalizeIPNStatus(status string) Kind {
	switch status {
	case "waiting", "confirming", "sending", "partially_paid":
		return KindPending
	case "confirmed", "finished":
		return KindSuccess
	case "failed", "expired":
		return KindFailure
	case "refunded":
		return KindRefund
	}
	return KindUnknown
}

// Event is a provider-agnostic payment notification. Webhook handlers verify
// authenticity and normalize the provider payload into this shape before
// handing it to the reconciler.
type Event struct {
	OrderID           string
	ProviderPaymentID string
	Kind              Kind
	RawStatus         string
	PayAmount         float64
	PayCurrency       string
	PayAddress        string
	ActuallyPaid      float64
	UserEmail         string
}

// Reconciler drives ledger transitions and entitlement creation from
// normalized payment events, exactly once per payment.
type Reconciler struct {
	payments      *store.PaymentStore
	licenses      *store.LicenseStore
	proxyOrders   *store.ProxyOrderStore
	proxyPackages *store.ProxyPackageStore
	codec         *license.Codec
	sink          *accounting.Client
	hub           *websocket.Hub
	logger        *slog.Logger
	now           func() time.Time
}

func New(
	payments *store.PaymentStore,
	licenses *store.LicenseStore,
	proxyOrders *store.ProxyOrderStore,
	proxyPackages *store.ProxyPackageStore,
	codec *license.Codec,
	sink *accounting.Client,
	hub *websocket.Hub,
	logger *slog.Logger,
) *Reconciler {
	return &Reconciler{
		payments:      payments,
		licenses:      licenses,
		proxyOrders:   proxyOrders,
		proxyPackages: proxyPackages,
		codec:         codec,
		sink:          sink,
		hub:           hub,
		logger:        logger,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the reconciler's clock. Tests only.
func (r *Reconciler) SetClock(now func() time.Time) {
	r.now = now
}

// Apply processes one event. A nil return means the provider should be acked
// with a success response — including the duplicate-success case, where the
// ledger is already COMPLETED and nothing is minted again. A non-nil return
// means the handler must answer non-2xx so the provider redelivers.
func (r *Reconciler) Apply(ctx context.Context, ev Event) error {
	p, err := r.payments.GetByID(ev.OrderID)
	if err != nil {
		return fmt.Errorf("look up order %s: %w", ev.OrderID, err)
	}
	if p == nil {
		return fmt.Errorf("%w: %s", ErrUnknownOrder, ev.OrderID)
	}

	if ev.ProviderPaymentID != "" && p.ProviderTxID == nil {
		if err := r.payments.AttachProviderTx(p.ID, ev.ProviderPaymentID, nil); err != nil {
			r.logger.Warn("attach provider tx", "payment_id", p.ID, "error", err)
		}
	}

	var newStatus payment.Status
	switch ev.Kind {
	case KindPending:
		newStatus = payment.StatusPending
		if err := r.payments.TransitionStatus(p.ID, newStatus); err != nil {
			return fmt.Errorf("reaffirm pending: %w", err)
		}
	case KindFailure:
		newStatus = payment.StatusFailed
		if err := r.payments.TransitionStatus(p.ID, newStatus); err != nil {
			return fmt.Errorf("mark failed: %w", err)
		}
	case KindRefund:
		// TODO: revoke the minted license when a payment is refunded.
		newStatus = payment.StatusRefunded
		if err := r.payments.TransitionStatus(p.ID, newStatus); err != nil {
			return fmt.Errorf("mark refunded: %w", err)
		}
	case KindSuccess:
		newStatus = payment.StatusCompleted
		did, err := r.payments.CompleteIfPending(p.ID)
		if err != nil {
			return fmt.Errorf("complete payment: %w", err)
		}
		if !did {
			r.logger.Info("duplicate success webhook ignored", "payment_id", p.ID, "provider", p.Provider)
		} else if err := r.mintEntitlement(p); err != nil {
			return err
		}
	default:
		// Unrecognized provider status: ack so the provider stops
		// redelivering, but leave a trace for investigation.
		r.logger.Warn("unhandled provider status", "payment_id", p.ID, "status", ev.RawStatus)
		return nil
	}

	if r.hub != nil {
		r.hub.NotifyUser(p.UserID, websocket.NewPaymentEvent(p.ID, string(newStatus)))
	}

	r.report(p, ev, newStatus)
	return nil
}

// mintEntitlement creates the license or proxy order a completed payment
// purchased. Runs at most once per payment: callers reach it only through
// the CompleteIfPending guard, and the unique payment_id columns back that
// up at the storage layer.
func (r *Reconciler) mintEntitlement(p *model.Payment) error {
	now := r.now()

	switch {
	case p.ProductType.IsLicense():
		key, err := r.codec.Generate()
		if err != nil {
			return fmt.Errorf("mint license key: %w", err)
		}
		canonical := license.Canonicalize(key)
		l, err := r.licenses.Create(store.CreateLicenseParams{
			Key:            canonical,
			Type:           license.TierFor(p.ProductType),
			Status:         model.LicenseActive,
			UserID:         p.UserID,
			PaymentID:      &p.ID,
			ActivatedAt:    &now,
			ExpiresAt:      license.ExpirationFor(p.ProductType, now),
			DurationMonths: license.DurationMonths(p.ProductType),
		})
		if err != nil {
			return fmt.Errorf("create license: %w", err)
		}
		r.logger.Info("license minted",
			"payment_id", p.ID, "user_id", p.UserID, "license_id", l.ID, "type", l.Type)

	case p.ProductType.IsProxy():
		slug := license.ProxySlug(p.ProductType)
		pkg, err := r.proxyPackages.GetBySlug(slug)
		if err != nil {
			return fmt.Errorf("resolve proxy package %q: %w", slug, err)
		}
		if pkg == nil {
			r.logger.Error("completed payment references unknown proxy package",
				"payment_id", p.ID, "product_type", p.ProductType, "slug", slug)
			return nil
		}
		expires := now.AddDate(0, 1, 0)
		o, err := r.proxyOrders.Create(store.CreateProxyOrderParams{
			UserID:       p.UserID,
			PackageID:    pkg.ID,
			PaymentID:    &p.ID,
			Status:       model.ProxyOrderActive,
			StartDate:    now,
			ExpiresAt:    &expires,
			AmountCents:  p.AmountCents,
			Currency:     p.Currency,
			Provider:     p.Provider,
			ProviderTxID: p.ProviderTxID,
		})
		if err != nil {
			return fmt.Errorf("create proxy order: %w", err)
		}
		r.logger.Info("proxy order created",
			"payment_id", p.ID, "user_id", p.UserID, "order_id", o.ID, "package", pkg.Slug)

	default:
		r.logger.Error("completed payment has unrecognized product type",
			"payment_id", p.ID, "product_type", p.ProductType)
	}
	return nil
}

// report forwards the accounting record off the request path. Failures are
// logged and swallowed; the webhook has already succeeded by the time this runs.
func (r *Reconciler) report(p *model.Payment, ev Event, status payment.Status) {
	if r.sink == nil || !r.sink.Configured() {
		return
	}

	category := "license"
	if p.ProductType.IsProxy() {
		category = "proxy"
	}
	rec := accounting.Record{
		ExternalID:        p.ID,
		AmountUSD:         float64(p.AmountCents) / 100,
		CryptoAmount:      ev.PayAmount,
		Currency:          p.Currency,
		ProductCategory:   category,
		Status:            string(status),
		PaymentDate:       r.now(),
		UserID:            p.UserID,
		UserEmail:         ev.UserEmail,
		WalletAddress:     ev.PayAddress,
		ProviderPaymentID: ev.ProviderPaymentID,
		ActuallyPaid:      ev.ActuallyPaid,
		Metadata:          p.Metadata,
	}
	if ev.PayAmount > 0 {
		rec.ExchangeRate = rec.AmountUSD / ev.PayAmount
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := r.sink.Report(ctx, rec); err != nil {
			r.logger.Error("accounting record lost", "payment_id", p.ID, "error", err)
		}
	}()
}
