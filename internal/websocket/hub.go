package websocket

import (
	"encoding/json"
	"log/slog"
	"sync"
)

// PaymentEvent notifies a dashboard session that one of the user's payments
// changed status. Crypto payments settle minutes after checkout, so the
// pending-payment page subscribes instead of polling.
type PaymentEvent struct {
	Type      string `json:"type"`
	PaymentID string `json:"payment_id"`
	Status    string `json:"status"`
}

// NewPaymentEvent creates a payment status event.
func NewPaymentEvent(paymentID, status string) PaymentEvent {
	return PaymentEvent{Type: "payment_status", PaymentID: paymentID, Status: status}
}

// Hub maintains the set of connected dashboard clients grouped by user and
// delivers payment events to the owning user's connections only.
type Hub struct {
	mu      sync.RWMutex
	clients map[int64]map[*Client]struct{}
	logger  *slog.Logger
}

// NewHub creates a new Hub.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		clients: make(map[int64]map[*Client]struct{}),
		logger:  logger,
	}
}

// Register adds a client under its user id.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	set, ok := h.clients[c.userID]
	if !ok {
		set = make(map[*Client]struct{})
		h.clients[c.userID] = set
	}
	set[c] = struct{}{}
	h.mu.Unlock()
}

// Unregister removes a client and closes its send channel.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	if set, ok := h.clients[c.userID]; ok {
		if _, ok := set[c]; ok {
			delete(set, c)
			close(c.send)
		}
		if len(set) == 0 {
			delete(h.clients, c.userID)
		}
	}
	h.mu.Unlock()
}

// NotifyUser sends an event to every connection the user has open. Clients
// with a full buffer are skipped; a missed status update is recovered on the
// next page load.
func (h *Hub) NotifyUser(userID int64, ev PaymentEvent) {
	data, err := json.Marshal(ev)
	if err != nil {
		h.logger.Error("marshal payment event", "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.clients[userID] {
		select {
		case c.send <- data:
		default:
		}
	}
}

// ClientCount returns the number of connected clients across all users.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, set := range h.clients {
		n += len(set)
	}
	return n
}
