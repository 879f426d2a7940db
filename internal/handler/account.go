package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/snaprolabs/snapro/internal/auth"
	"github.com/snaprolabs/snapro/internal/model"
	"github.com/snaprolabs/snapro/internal/store"
)

type AccountHandler struct {
	accounts *store.AccountStore
	licenses *store.LicenseStore
	payments *store.PaymentStore
	orders   *store.ProxyOrderStore
	logger   *slog.Logger
}

func NewAccountHandler(
	as *store.AccountStore,
	ls *store.LicenseStore,
	ps *store.PaymentStore,
	os *store.ProxyOrderStore,
	logger *slog.Logger,
) *AccountHandler {
	return &AccountHandler{
		accounts: as,
		licenses: ls,
		payments: ps,
		orders:   os,
		logger:   logger,
	}
}

// Dashboard returns the account summary: identity plus the best active
// license, defaulting to FREE when none exists.
func (h *AccountHandler) Dashboard(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())

	account, err := h.accounts.GetByID(userID)
	if err != nil || account == nil {
		writeError(w, http.StatusNotFound, "account not found")
		return
	}

	tier := model.TierFree
	best, err := h.licenses.BestActiveForUser(userID, time.Now().UTC())
	if err != nil {
		h.logger.Error("best active license", "user_id", userID, "error", err)
	} else if best != nil {
		tier = best.Type
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"account": account,
		"tier":    tier,
		"license": best,
	})
}

// Licenses lists the user's licenses, newest first.
func (h *AccountHandler) Licenses(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())
	list, err := h.licenses.ListByUser(userID)
	if err != nil {
		h.logger.Error("list licenses", "user_id", userID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if list == nil {
		list = []*model.License{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"licenses": list})
}

// Orders lists the user's proxy orders, newest first.
func (h *AccountHandler) Orders(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())
	list, err := h.orders.ListByUser(userID)
	if err != nil {
		h.logger.Error("list proxy orders", "user_id", userID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if list == nil {
		list = []*model.ProxyOrder{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"orders": list})
}

// Payments lists the user's payments, newest first.
func (h *AccountHandler) Payments(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())
	list, err := h.payments.ListByUser(userID)
	if err != nil {
		h.logger.Error("list payments", "user_id", userID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if list == nil {
		list = []*model.Payment{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"payments": list})
}

// PaymentByID returns a single payment, owner-scoped. The checkout page
// polls this while waiting for a crypto payment to settle.
func (h *AccountHandler) PaymentByID(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())

	p, err := h.payments.GetByID(r.PathValue("id"))
	if err != nil {
		h.logger.Error("get payment", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if p == nil || p.UserID != userID {
		writeError(w, http.StatusNotFound, "payment not found")
		return
	}
	writeJSON(w, http.StatusOK, p)
}
