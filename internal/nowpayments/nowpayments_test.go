package nowpayments

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestCanonicalJSONSortsKeysRecursively(t *testing.T) {
	body := []byte(`{"b":1,"a":{"z":"x","m":[{"k2":2,"k1":1}]}}`)
	got, err := CanonicalJSON(body)
	if err != nil {
		t.Fatalf("canonicalize: %v", err)
	}
	want := `{"a":{"m":[{"k1":1,"k2":2}],"z":"x"},"b":1}`
	if string(got) != want {
		t.Errorf("canonical = %s, want %s", got, want)
	}
}

func TestCanonicalJSONPreservesNumbers(t *testing.T) {
	body := []byte(`{"amount":49.90,"count":10000000000000001}`)
	got, err := CanonicalJSON(body)
	if err != nil {
		t.Fatalf("canonicalize: %v", err)
	}
	want := `{"amount":49.90,"count":10000000000000001}`
	if string(got) != want {
		t.Errorf("canonical = %s, want %s", got, want)
	}
}

func TestVerifyIPN(t *testing.T) {
	c := NewClient(Config{IPNSecret: "ipn-secret"})
	body := []byte(`{"order_id":"ord-1","payment_status":"finished","pay_amount":0.05}`)

	sig, err := SignIPN(body, "ipn-secret")
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	verified, err := c.VerifyIPN(body, sig)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !verified {
		t.Error("expected verified=true")
	}

	// The signature is computed over the canonical form, so re-ordered keys
	// in the delivered body must still verify.
	reordered := []byte(`{"payment_status":"finished","pay_amount":0.05,"order_id":"ord-1"}`)
	if verified, err = c.VerifyIPN(reordered, sig); err != nil || !verified {
		t.Errorf("reordered body failed verification: %v", err)
	}
}

func TestVerifyIPNBadSignature(t *testing.T) {
	c := NewClient(Config{IPNSecret: "ipn-secret"})
	body := []byte(`{"order_id":"ord-1","payment_status":"finished"}`)

	if _, err := c.VerifyIPN(body, "deadbeef"); !errors.Is(err, ErrBadSignature) {
		t.Errorf("error = %v, want ErrBadSignature", err)
	}

	wrongSecret, _ := SignIPN(body, "other-secret")
	if _, err := c.VerifyIPN(body, wrongSecret); !errors.Is(err, ErrBadSignature) {
		t.Errorf("error = %v, want ErrBadSignature", err)
	}
}

func TestVerifyIPNNoSecret(t *testing.T) {
	body := []byte(`{"order_id":"ord-1"}`)

	c := NewClient(Config{})
	if _, err := c.VerifyIPN(body, "anything"); !errors.Is(err, ErrNoIPNSecret) {
		t.Errorf("error = %v, want ErrNoIPNSecret", err)
	}

	insecure := NewClient(Config{InsecureSkipVerify: true})
	verified, err := insecure.VerifyIPN(body, "anything")
	if err != nil {
		t.Fatalf("insecure verify: %v", err)
	}
	if verified {
		t.Error("insecure mode must report verified=false")
	}
}

func TestParseIPN(t *testing.T) {
	p, err := ParseIPN([]byte(`{"payment_id":5077125931,"payment_status":"confirmed","order_id":"ord-1","pay_address":"0xabc","actually_paid":0.05}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if p.OrderID != "ord-1" || p.PaymentStatus != "confirmed" {
		t.Errorf("payload = %+v", p)
	}
	if p.PaymentID.String() != "5077125931" {
		t.Errorf("payment id = %s", p.PaymentID)
	}

	if _, err := ParseIPN([]byte(`{"payment_status":"confirmed"}`)); err == nil {
		t.Error("expected error for missing order_id")
	}
}

func TestCreatePayment(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("x-api-key") != "test-key" {
			t.Errorf("missing api key header")
		}
		var req CreatePaymentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.OrderID != "ord-1" {
			t.Errorf("order id = %q", req.OrderID)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"payment_id":     5077125931,
			"payment_status": "waiting",
			"pay_address":    "0xabc",
			"pay_amount":     0.0521,
			"pay_currency":   "eth",
		})
	}))
	defer srv.Close()

	c := NewClient(Config{APIKey: "test-key", BaseURL: srv.URL})
	resp, err := c.CreatePayment(context.Background(), CreatePaymentRequest{
		PriceAmount:   99.0,
		PriceCurrency: "usd",
		PayCurrency:   "eth",
		OrderID:       "ord-1",
	})
	if err != nil {
		t.Fatalf("create payment: %v", err)
	}
	if resp.PaymentID.String() != "5077125931" || resp.PayAddress != "0xabc" {
		t.Errorf("response = %+v", resp)
	}
}

func TestCreatePaymentUnconfigured(t *testing.T) {
	c := NewClient(Config{})
	if _, err := c.CreatePayment(context.Background(), CreatePaymentRequest{OrderID: "x"}); err == nil {
		t.Error("expected error when api key missing")
	}
}
