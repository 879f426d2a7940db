package accounting

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestReportUnconfiguredIsNoop(t *testing.T) {
	c := NewClient("", "")
	if err := c.Report(context.Background(), Record{ExternalID: "p-1"}); err != nil {
		t.Errorf("unconfigured report: %v", err)
	}
}

func TestReportDelivers(t *testing.T) {
	var got Record
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			t.Errorf("auth header = %q", r.Header.Get("Authorization"))
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Fatalf("decode: %v", err)
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "tok")
	rec := Record{
		ExternalID:      "p-1",
		AmountUSD:       49.99,
		Currency:        "USD",
		ProductCategory: "license",
		Status:          "COMPLETED",
		PaymentDate:     time.Now().UTC(),
		UserID:          7,
	}
	if err := c.Report(context.Background(), rec); err != nil {
		t.Fatalf("report: %v", err)
	}
	if got.ExternalID != "p-1" || got.AmountUSD != 49.99 {
		t.Errorf("delivered record = %+v", got)
	}
}

func TestReportRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "")
	if err := c.Report(context.Background(), Record{ExternalID: "p-1"}); err != nil {
		t.Fatalf("report: %v", err)
	}
	if calls.Load() != 3 {
		t.Errorf("calls = %d, want 3", calls.Load())
	}
}

func TestReportDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "")
	if err := c.Report(context.Background(), Record{ExternalID: "p-1"}); err == nil {
		t.Error("expected error for rejected record")
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1 (4xx must not retry)", calls.Load())
	}
}
