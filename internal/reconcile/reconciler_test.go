package reconcile

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/snaprolabs/snapro/internal/accounting"
	"github.com/snaprolabs/snapro/internal/database"
	"github.com/snaprolabs/snapro/internal/license"
	"github.com/snaprolabs/snapro/internal/model"
	"github.com/snaprolabs/snapro/internal/payment"
	"github.com/snaprolabs/snapro/internal/store"
	"github.com/snaprolabs/snapro/internal/websocket"
)

type testEnv struct {
	reconciler *Reconciler
	payments   *store.PaymentStore
	licenses   *store.LicenseStore
	orders     *store.ProxyOrderStore
	codec      *license.Codec
	userID     int64
}

func setupReconciler(t *testing.T) *testEnv {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	accounts := store.NewAccountStore(db)
	a, err := accounts.Create("alice@example.com")
	if err != nil {
		t.Fatalf("create account: %v", err)
	}

	payments := store.NewPaymentStore(db)
	licenses := store.NewLicenseStore(db)
	orders := store.NewProxyOrderStore(db)
	packages := store.NewProxyPackageStore(db)
	codec := license.NewCodec("test-secret")

	r := New(payments, licenses, orders, packages, codec,
		accounting.NewClient("", ""), websocket.NewHub(slog.Default()), slog.Default())

	return &testEnv{
		reconciler: r,
		payments:   payments,
		licenses:   licenses,
		orders:     orders,
		codec:      codec,
		userID:     a.ID,
	}
}

func (e *testEnv) createPayment(t *testing.T, product model.ProductType, amountCents int64) *model.Payment {
	t.Helper()
	p, err := e.payments.Create(e.userID, amountCents, "USD", model.ProviderNowPayments, product, "test product", nil)
	if err != nil {
		t.Fatalf("create payment: %v", err)
	}
	return p
}

func TestApplySuccessMintsLicense(t *testing.T) {
	env := setupReconciler(t)
	p := env.createPayment(t, model.ProductProAnnual, 4900)

	err := env.reconciler.Apply(context.Background(), Event{
		OrderID:           p.ID,
		ProviderPaymentID: "np_100",
		Kind:              KindSuccess,
		RawStatus:         "finished",
	})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}

	got, _ := env.payments.GetByID(p.ID)
	if got.Status != string(payment.StatusCompleted) {
		t.Errorf("payment status = %q, want COMPLETED", got.Status)
	}
	if got.ProviderTxID == nil || *got.ProviderTxID != "np_100" {
		t.Errorf("provider tx id = %v, want np_100", got.ProviderTxID)
	}

	l, err := env.licenses.GetByPaymentID(p.ID)
	if err != nil {
		t.Fatalf("get license: %v", err)
	}
	if l == nil {
		t.Fatal("no license minted for completed payment")
	}
	if l.Status != model.LicenseActive {
		t.Errorf("license status = %q, want ACTIVE", l.Status)
	}
	if l.Type != model.TierPro {
		t.Errorf("license type = %q, want PRO", l.Type)
	}
	if l.DurationMonths != 12 {
		t.Errorf("duration = %d, want 12", l.DurationMonths)
	}
	if l.ExpiresAt == nil {
		t.Fatal("annual license must have an expiry")
	}
	if !env.codec.ValidateFormat(l.Key) {
		t.Errorf("minted key %q fails format validation", l.Key)
	}
	if l.ActivatedAt == nil {
		t.Error("minted license must be activated")
	}
}

func TestApplySuccessMintsLifetimeLicense(t *testing.T) {
	env := setupReconciler(t)
	p := env.createPayment(t, model.ProductProLifetime, 19900)

	if err := env.reconciler.Apply(context.Background(), Event{OrderID: p.ID, Kind: KindSuccess}); err != nil {
		t.Fatalf("apply: %v", err)
	}

	l, _ := env.licenses.GetByPaymentID(p.ID)
	if l == nil {
		t.Fatal("no license minted")
	}
	if l.Type != model.TierLifetime {
		t.Errorf("license type = %q, want LIFETIME", l.Type)
	}
	if l.ExpiresAt != nil {
		t.Errorf("lifetime license must never expire, got %v", l.ExpiresAt)
	}
	if l.DurationMonths != license.LifetimeDurationMonths {
		t.Errorf("duration = %d, want %d", l.DurationMonths, license.LifetimeDurationMonths)
	}
}

func TestApplyDuplicateSuccessIsNoOp(t *testing.T) {
	env := setupReconciler(t)
	p := env.createPayment(t, model.ProductProMonthly, 999)

	ev := Event{OrderID: p.ID, Kind: KindSuccess, RawStatus: "finished"}
	if err := env.reconciler.Apply(context.Background(), ev); err != nil {
		t.Fatalf("first apply: %v", err)
	}
	first, _ := env.licenses.GetByPaymentID(p.ID)
	if first == nil {
		t.Fatal("no license minted")
	}

	// Redelivered webhook: acked, nothing minted twice.
	if err := env.reconciler.Apply(context.Background(), ev); err != nil {
		t.Fatalf("duplicate apply: %v", err)
	}
	all, _ := env.licenses.ListByUser(env.userID)
	if len(all) != 1 {
		t.Fatalf("licenses = %d, want 1", len(all))
	}
	if all[0].Key != first.Key {
		t.Error("duplicate delivery replaced the license")
	}
}

func TestApplySuccessMintsProxyOrder(t *testing.T) {
	env := setupReconciler(t)
	p := env.createPayment(t, model.ProductType("PROXY_STARTER"), 2900)

	if err := env.reconciler.Apply(context.Background(), Event{OrderID: p.ID, Kind: KindSuccess}); err != nil {
		t.Fatalf("apply: %v", err)
	}

	o, err := env.orders.GetByPaymentID(p.ID)
	if err != nil {
		t.Fatalf("get proxy order: %v", err)
	}
	if o == nil {
		t.Fatal("no proxy order created")
	}
	if o.Status != model.ProxyOrderActive {
		t.Errorf("order status = %q, want ACTIVE", o.Status)
	}
	if o.ExpiresAt == nil {
		t.Fatal("proxy order must have an expiry")
	}
	if l, _ := env.licenses.GetByPaymentID(p.ID); l != nil {
		t.Error("proxy purchase must not mint a license")
	}
}

func TestApplyUnknownOrder(t *testing.T) {
	env := setupReconciler(t)
	err := env.reconciler.Apply(context.Background(), Event{OrderID: "nope", Kind: KindSuccess})
	if !errors.Is(err, ErrUnknownOrder) {
		t.Errorf("error = %v, want ErrUnknownOrder", err)
	}
}

func TestApplyFailureBlocksLaterSuccess(t *testing.T) {
	env := setupReconciler(t)
	p := env.createPayment(t, model.ProductProMonthly, 999)

	if err := env.reconciler.Apply(context.Background(), Event{OrderID: p.ID, Kind: KindFailure, RawStatus: "expired"}); err != nil {
		t.Fatalf("apply failure: %v", err)
	}
	got, _ := env.payments.GetByID(p.ID)
	if got.Status != string(payment.StatusFailed) {
		t.Fatalf("status = %q, want FAILED", got.Status)
	}

	err := env.reconciler.Apply(context.Background(), Event{OrderID: p.ID, Kind: KindSuccess})
	if !errors.Is(err, payment.ErrInvalidTransition) {
		t.Errorf("success after failure error = %v, want ErrInvalidTransition", err)
	}
	if l, _ := env.licenses.GetByPaymentID(p.ID); l != nil {
		t.Error("failed payment must not mint a license")
	}
}

func TestApplyRefundKeepsLicense(t *testing.T) {
	env := setupReconciler(t)
	p := env.createPayment(t, model.ProductProMonthly, 999)

	if err := env.reconciler.Apply(context.Background(), Event{OrderID: p.ID, Kind: KindSuccess}); err != nil {
		t.Fatalf("apply success: %v", err)
	}
	if err := env.reconciler.Apply(context.Background(), Event{OrderID: p.ID, Kind: KindRefund, RawStatus: "refunded"}); err != nil {
		t.Fatalf("apply refund: %v", err)
	}

	got, _ := env.payments.GetByID(p.ID)
	if got.Status != string(payment.StatusRefunded) {
		t.Errorf("status = %q, want REFUNDED", got.Status)
	}
	l, _ := env.licenses.GetByPaymentID(p.ID)
	if l == nil || l.Status != model.LicenseActive {
		t.Error("refund handling does not touch the license")
	}
}

func TestApplyPendingAttachesProviderTx(t *testing.T) {
	env := setupReconciler(t)
	p := env.createPayment(t, model.ProductProMonthly, 999)

	err := env.reconciler.Apply(context.Background(), Event{
		OrderID:           p.ID,
		ProviderPaymentID: "np_77",
		Kind:              KindPending,
		RawStatus:         "confirming",
	})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}

	got, _ := env.payments.GetByID(p.ID)
	if got.Status != string(payment.StatusPending) {
		t.Errorf("status = %q, want PENDING", got.Status)
	}
	if got.ProviderTxID == nil || *got.ProviderTxID != "np_77" {
		t.Errorf("provider tx id = %v, want np_77", got.ProviderTxID)
	}
}

func TestApplyUnknownStatusIsAcked(t *testing.T) {
	env := setupReconciler(t)
	p := env.createPayment(t, model.ProductProMonthly, 999)

	if err := env.reconciler.Apply(context.Background(), Event{OrderID: p.ID, Kind: KindUnknown, RawStatus: "weird"}); err != nil {
		t.Fatalf("apply: %v", err)
	}
	got, _ := env.payments.GetByID(p.ID)
	if got.Status != string(payment.StatusPending) {
		t.Errorf("status = %q, want PENDING untouched", got.Status)
	}
}

func TestNormalizeIPNStatus(t *testing.T) {
	tests := []struct {
		status string
		want   Kind
	}{
		{"waiting", KindPending},
		{"confirming", KindPending},
		{"sending", KindPending},
		{"partially_paid", KindPending},
		{"confirmed", KindSuccess},
		{"finished", KindSuccess},
		{"failed", KindFailure},
		{"expired", KindFailure},
		{"refunded", KindRefund},
		{"", KindUnknown},
		{"something_new", KindUnknown},
	}
	for _, tt := range tests {
		if got := NormalizeIPNStatus(tt.status); got != tt.want {
			t.Errorf("NormalizeIPNStatus(%q) = %v, want %v", tt.status, got, tt.want)
		}
	}
}
