package licenseclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/snaprolabs/snapro/internal/model"
)

// Config holds license validation configuration for the desktop client.
type Config struct {
	Key           string
	MachineID     string
	ValidationURL string
	CheckInterval time.Duration
	GracePeriod   time.Duration
}

// Status represents the current cached license status. Tier defaults to FREE
// on any validation failure; the app degrades rather than breaking.
type Status struct {
	Valid       bool       `json:"valid"`
	Tier        model.Tier `json:"tier"`
	ExpiresAt   string     `json:"expires_at,omitempty"`
	Warning     string     `json:"warning,omitempty"`
	LastChecked time.Time  `json:"last_checked"`
	Offline     bool       `json:"offline"`
}

type validateRequest struct {
	Key       string `json:"key"`
	MachineID string `json:"machine_id,omitempty"`
}

type validateResponse struct {
	Valid     bool       `json:"valid"`
	Type      model.Tier `json:"type,omitempty"`
	ExpiresAt *string    `json:"expires_at,omitempty"`
	Error     string     `json:"error,omitempty"`
}

// Client validates a license key against the licensing service and caches the
// result so the desktop app can check entitlements without network round-trips.
type Client struct {
	mu         sync.RWMutex
	cfg        Config
	status     Status
	httpClient *http.Client
	stopCh     chan struct{}
	stopped    chan struct{}
}

// NewClient creates a new license client. If key is empty, free-tier mode.
func NewClient(cfg Config) *Client {
	if cfg.CheckInterval == 0 {
		cfg.CheckInterval = 24 * time.Hour
	}
	if cfg.GracePeriod == 0 {
		cfg.GracePeriod = 7 * 24 * time.Hour
	}

	c := &Client{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		stopCh:  make(chan struct{}),
		stopped: make(chan struct{}),
	}

	if cfg.Key == "" {
		c.status = Status{Valid: false, Tier: model.TierFree}
	}

	return c
}

// Validate performs an immediate license validation against the service.
func (c *Client) Validate(ctx context.Context) error {
	c.mu.RLock()
	key := c.cfg.Key
	machineID := c.cfg.MachineID
	url := c.cfg.ValidationURL
	c.mu.RUnlock()

	if key == "" {
		c.mu.Lock()
		c.status = Status{Valid: false, Tier: model.TierFree, LastChecked: time.Now()}
		c.mu.Unlock()
		return nil
	}

	body, err := json.Marshal(validateRequest{Key: key, MachineID: machineID})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Network error: enter offline mode, keep existing status.
		c.mu.Lock()
		c.status.Offline = true
		c.status.Warning = "Unable to reach license server"
		c.mu.Unlock()
		return fmt.Errorf("validate request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.mu.Lock()
		c.status.Offline = true
		c.status.Warning = fmt.Sprintf("License server returned %d", resp.StatusCode)
		c.mu.Unlock()
		return fmt.Errorf("validate: status %d", resp.StatusCode)
	}

	var vr validateResponse
	if err := json.NewDecoder(resp.Body).Decode(&vr); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}

	c.mu.Lock()
	c.status = Status{
		Valid:       vr.Valid,
		Tier:        vr.Type,
		LastChecked: time.Now(),
		Offline:     false,
	}
	if !vr.Valid {
		c.status.Tier = model.TierFree
		c.status.Warning = vr.Error
	}
	if vr.ExpiresAt != nil {
		c.status.ExpiresAt = *vr.ExpiresAt
	}
	c.mu.Unlock()

	return nil
}

// Tier returns the effective license tier. An offline client keeps its last
// known tier within the grace period, then drops to FREE.
func (c *Client) Tier() model.Tier {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if !c.status.Valid {
		if c.status.Offline && !c.status.LastChecked.IsZero() &&
			time.Since(c.status.LastChecked) < c.cfg.GracePeriod {
			return c.status.Tier
		}
		return model.TierFree
	}

	if !c.status.LastChecked.IsZero() &&
		time.Since(c.status.LastChecked) > c.cfg.GracePeriod {
		return model.TierFree
	}

	return c.status.Tier
}

// AtLeast reports whether the effective tier meets the required tier.
func (c *Client) AtLeast(required model.Tier) bool {
	return c.Tier().Rank() >= required.Rank()
}

// Status returns the current cached license status.
func (c *Client) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

// IsFreeTier returns true if no license key is configured.
func (c *Client) IsFreeTier() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cfg.Key == ""
}

// SetKey updates the license key and triggers immediate validation.
func (c *Client) SetKey(key string) {
	c.mu.Lock()
	c.cfg.Key = key
	if key == "" {
		c.status = Status{Valid: false, Tier: model.TierFree, LastChecked: time.Now()}
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	c.Validate(context.Background())
}

// Start begins the background validation goroutine.
func (c *Client) Start(ctx context.Context) {
	c.Validate(ctx)

	go func() {
		defer close(c.stopped)
		ticker := time.NewTicker(c.cfg.CheckInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				c.Validate(ctx)
			case <-c.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop halts the background validation goroutine.
func (c *Client) Stop() {
	close(c.stopCh)
	<-c.stopped
}
