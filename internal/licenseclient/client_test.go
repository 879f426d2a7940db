package licenseclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/snaprolabs/snapro/internal/model"
)

func TestFreeModeWithoutKey(t *testing.T) {
	c := NewClient(Config{Key: ""})

	if !c.IsFreeTier() {
		t.Error("expected free tier with empty key")
	}
	if c.Tier() != model.TierFree {
		t.Errorf("tier = %q, want FREE", c.Tier())
	}
	if c.AtLeast(model.TierPro) {
		t.Error("free tier must not satisfy PRO")
	}
}

func TestValidKeyTier(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req validateRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.Key != "SNAPRO-TEST-1234-ABCD" {
			t.Errorf("unexpected key: %q", req.Key)
		}
		if req.MachineID != "machine-7" {
			t.Errorf("machine id = %q, want machine-7", req.MachineID)
		}
		expires := time.Now().UTC().Add(20 * 24 * time.Hour).Format(time.RFC3339)
		json.NewEncoder(w).Encode(validateResponse{
			Valid:     true,
			Type:      model.TierPro,
			ExpiresAt: &expires,
		})
	}))
	defer server.Close()

	c := NewClient(Config{
		Key:           "SNAPRO-TEST-1234-ABCD",
		MachineID:     "machine-7",
		ValidationURL: server.URL,
	})

	if err := c.Validate(context.Background()); err != nil {
		t.Fatalf("validate: %v", err)
	}

	if c.IsFreeTier() {
		t.Error("expected paid tier")
	}
	if c.Tier() != model.TierPro {
		t.Errorf("tier = %q, want PRO", c.Tier())
	}
	if !c.AtLeast(model.TierPro) {
		t.Error("PRO tier must satisfy PRO")
	}
	if c.AtLeast(model.TierLifetime) {
		t.Error("PRO tier must not satisfy LIFETIME")
	}
}

func TestInvalidKeyDropsToFree(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(validateResponse{
			Valid: false,
			Error: "License expired",
		})
	}))
	defer server.Close()

	c := NewClient(Config{
		Key:           "SNAPRO-EXPIRED-0000",
		ValidationURL: server.URL,
	})

	c.Validate(context.Background())

	if c.Tier() != model.TierFree {
		t.Errorf("tier = %q, want FREE for invalid key", c.Tier())
	}
	status := c.Status()
	if status.Valid {
		t.Error("expected invalid status")
	}
	if status.Warning != "License expired" {
		t.Errorf("warning = %q", status.Warning)
	}
}

func TestOfflineGracePeriod(t *testing.T) {
	callCount := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		callCount++
		if callCount == 1 {
			json.NewEncoder(w).Encode(validateResponse{Valid: true, Type: model.TierLifetime})
		} else {
			http.Error(w, "server error", http.StatusInternalServerError)
		}
	}))
	defer server.Close()

	c := NewClient(Config{
		Key:           "SNAPRO-TEST-1234-ABCD",
		ValidationURL: server.URL,
		GracePeriod:   1 * time.Hour,
	})

	if err := c.Validate(context.Background()); err != nil {
		t.Fatalf("first validate: %v", err)
	}
	if c.Tier() != model.TierLifetime {
		t.Errorf("tier = %q, want LIFETIME", c.Tier())
	}

	// Server goes dark; the client keeps the last known tier inside the grace period.
	if err := c.Validate(context.Background()); err == nil {
		t.Fatal("expected error from failed validation")
	}
	if c.Tier() != model.TierLifetime {
		t.Errorf("tier = %q, want LIFETIME within grace period", c.Tier())
	}
	if !c.Status().Offline {
		t.Error("expected offline status")
	}
}

func TestSetKeyEmptyResetsToFree(t *testing.T) {
	c := NewClient(Config{Key: "SNAPRO-TEST-1234-ABCD", ValidationURL: "http://127.0.0.1:0"})
	c.SetKey("")
	if !c.IsFreeTier() {
		t.Error("expected free tier after clearing key")
	}
	if c.Tier() != model.TierFree {
		t.Errorf("tier = %q, want FREE", c.Tier())
	}
}

func TestStartStop(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(validateResponse{Valid: true, Type: model.TierPro})
	}))
	defer server.Close()

	c := NewClient(Config{
		Key:           "SNAPRO-TEST-1234-ABCD",
		ValidationURL: server.URL,
		CheckInterval: time.Hour,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c.Start(ctx)
	if c.Tier() != model.TierPro {
		t.Errorf("tier = %q, want PRO after Start", c.Tier())
	}
	c.Stop()
}
