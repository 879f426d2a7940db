package store

import (
	"errors"
	"testing"
	"time"

	"github.com/snaprolabs/snapro/internal/database"
	"github.com/snaprolabs/snapro/internal/model"
	"github.com/snaprolabs/snapro/internal/payment"
)

func setupPaymentTestDB(t *testing.T) (*PaymentStore, *AccountStore) {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewPaymentStore(db), NewAccountStore(db)
}

func TestPaymentCreate(t *testing.T) {
	ps, as := setupPaymentTestDB(t)
	a, _ := as.Create("alice@example.com")

	p, err := ps.Create(a.ID, 999, "usd", model.ProviderStripe, model.ProductProMonthly, "SnapPro Monthly", map[string]string{"source": "pricing"})
	if err != nil {
		t.Fatalf("create payment: %v", err)
	}
	if p.ID == "" {
		t.Fatal("expected non-empty payment id")
	}
	if p.Status != string(payment.StatusPending) {
		t.Errorf("status = %q, want PENDING", p.Status)
	}
	if p.Currency != "USD" {
		t.Errorf("currency = %q, want USD", p.Currency)
	}
	if p.Metadata["source"] != "pricing" {
		t.Errorf("metadata = %v", p.Metadata)
	}
	if p.ProviderTxID != nil {
		t.Error("expected nil provider tx id at creation")
	}
}

func TestPaymentUniqueIDs(t *testing.T) {
	ps, as := setupPaymentTestDB(t)
	a, _ := as.Create("alice@example.com")

	p1, _ := ps.Create(a.ID, 999, "USD", model.ProviderStripe, model.ProductProMonthly, "m", nil)
	p2, _ := ps.Create(a.ID, 999, "USD", model.ProviderStripe, model.ProductProMonthly, "m", nil)
	if p1.ID == p2.ID {
		t.Error("expected unique payment ids")
	}
}

func TestPaymentAttachProviderTx(t *testing.T) {
	ps, as := setupPaymentTestDB(t)
	a, _ := as.Create("alice@example.com")
	p, _ := ps.Create(a.ID, 4900, "USD", model.ProviderNowPayments, model.ProductProAnnual, "SnapPro Annual", map[string]string{"a": "1"})

	err := ps.AttachProviderTx(p.ID, "np_12345", map[string]string{"pay_address": "0xabc", "a": "2"})
	if err != nil {
		t.Fatalf("attach provider tx: %v", err)
	}

	got, _ := ps.GetByID(p.ID)
	if got.ProviderTxID == nil || *got.ProviderTxID != "np_12345" {
		t.Errorf("provider tx id = %v, want np_12345", got.ProviderTxID)
	}
	if got.Metadata["pay_address"] != "0xabc" {
		t.Errorf("metadata patch not merged: %v", got.Metadata)
	}
	if got.Metadata["a"] != "2" {
		t.Errorf("metadata patch should overwrite: %v", got.Metadata)
	}
}

func TestPaymentAttachProviderTxNotFound(t *testing.T) {
	ps, _ := setupPaymentTestDB(t)
	if err := ps.AttachProviderTx("missing", "tx", nil); !errors.Is(err, ErrPaymentNotFound) {
		t.Errorf("error = %v, want ErrPaymentNotFound", err)
	}
}

func TestPaymentTransitionStatus(t *testing.T) {
	ps, as := setupPaymentTestDB(t)
	a, _ := as.Create("alice@example.com")
	p, _ := ps.Create(a.ID, 999, "USD", model.ProviderStripe, model.ProductProMonthly, "m", nil)

	if err := ps.TransitionStatus(p.ID, payment.StatusPending); err != nil {
		t.Fatalf("reaffirm pending: %v", err)
	}
	if err := ps.TransitionStatus(p.ID, payment.StatusCompleted); err != nil {
		t.Fatalf("pending -> completed: %v", err)
	}
	if err := ps.TransitionStatus(p.ID, payment.StatusFailed); !errors.Is(err, payment.ErrInvalidTransition) {
		t.Errorf("completed -> failed error = %v, want ErrInvalidTransition", err)
	}
	if err := ps.TransitionStatus(p.ID, payment.StatusRefunded); err != nil {
		t.Fatalf("completed -> refunded: %v", err)
	}
	if err := ps.TransitionStatus(p.ID, payment.StatusCompleted); !errors.Is(err, payment.ErrInvalidTransition) {
		t.Errorf("refunded -> completed error = %v, want ErrInvalidTransition", err)
	}

	got, _ := ps.GetByID(p.ID)
	if got.Status != string(payment.StatusRefunded) {
		t.Errorf("final status = %q, want REFUNDED", got.Status)
	}
}

func TestPaymentTransitionStatusNotFound(t *testing.T) {
	ps, _ := setupPaymentTestDB(t)
	if err := ps.TransitionStatus("missing", payment.StatusCompleted); !errors.Is(err, ErrPaymentNotFound) {
		t.Errorf("error = %v, want ErrPaymentNotFound", err)
	}
}

func TestPaymentCompleteIfPending(t *testing.T) {
	ps, as := setupPaymentTestDB(t)
	a, _ := as.Create("alice@example.com")
	p, _ := ps.Create(a.ID, 999, "USD", model.ProviderStripe, model.ProductProMonthly, "m", nil)

	did, err := ps.CompleteIfPending(p.ID)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if !did {
		t.Fatal("first completion should report true")
	}

	// Duplicate delivery: must be a no-op, not an error.
	did, err = ps.CompleteIfPending(p.ID)
	if err != nil {
		t.Fatalf("duplicate complete: %v", err)
	}
	if did {
		t.Error("duplicate completion should report false")
	}
}

func TestPaymentCompleteIfPendingAfterFailure(t *testing.T) {
	ps, as := setupPaymentTestDB(t)
	a, _ := as.Create("alice@example.com")
	p, _ := ps.Create(a.ID, 999, "USD", model.ProviderStripe, model.ProductProMonthly, "m", nil)

	if err := ps.TransitionStatus(p.ID, payment.StatusFailed); err != nil {
		t.Fatalf("fail payment: %v", err)
	}
	if _, err := ps.CompleteIfPending(p.ID); !errors.Is(err, payment.ErrInvalidTransition) {
		t.Errorf("complete after failure error = %v, want ErrInvalidTransition", err)
	}
}

func TestPaymentExpireStalePending(t *testing.T) {
	ps, as := setupPaymentTestDB(t)
	a, _ := as.Create("alice@example.com")
	p, _ := ps.Create(a.ID, 999, "USD", model.ProviderNowPayments, model.ProductProMonthly, "m", nil)

	n, err := ps.ExpireStalePending(time.Hour)
	if err != nil {
		t.Fatalf("expire stale: %v", err)
	}
	if n != 0 {
		t.Errorf("fresh payment expired: n = %d", n)
	}

	n, err = ps.ExpireStalePending(-time.Minute)
	if err != nil {
		t.Fatalf("expire stale: %v", err)
	}
	if n != 1 {
		t.Errorf("n = %d, want 1", n)
	}
	got, _ := ps.GetByID(p.ID)
	if got.Status != string(payment.StatusFailed) {
		t.Errorf("status = %q, want FAILED", got.Status)
	}
}
