package handler

import (
	"encoding/json"
	"log/slog"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/snaprolabs/snapro/internal/license"
	"github.com/snaprolabs/snapro/internal/model"
	"github.com/snaprolabs/snapro/internal/store"
)

type LicenseHandler struct {
	licenses *store.LicenseStore
	codec    *license.Codec
	logger   *slog.Logger
}

func NewLicenseHandler(ls *store.LicenseStore, codec *license.Codec, logger *slog.Logger) *LicenseHandler {
	return &LicenseHandler{licenses: ls, codec: codec, logger: logger}
}

type validateRequest struct {
	Key       string `json:"key"`
	MachineID string `json:"machine_id,omitempty"`
}

type validateResponse struct {
	Valid         bool       `json:"valid"`
	Type          model.Tier `json:"type,omitempty"`
	ExpiresAt     *string    `json:"expires_at,omitempty"`
	DaysRemaining *int       `json:"days_remaining,omitempty"`
	Error         string     `json:"error,omitempty"`
}

// Validate serves the desktop client's license check. Unauthenticated by
// design; the key itself is the credential, and the route is rate-limited.
func (h *LicenseHandler) Validate(w http.ResponseWriter, r *http.Request) {
	var req validateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}

	if strings.TrimSpace(req.Key) == "" {
		writeJSON(w, http.StatusOK, validateResponse{Valid: false, Error: "missing key"})
		return
	}

	// Cheap rejection before touching storage: the canonical form must carry
	// the product marker and survive the checksum.
	canonical := license.Canonicalize(req.Key)
	if !strings.Contains(canonical, license.KeyPrefix) || !h.codec.ValidateFormat(canonical) {
		writeJSON(w, http.StatusOK, validateResponse{Valid: false, Error: "bad format"})
		return
	}

	l, err := h.licenses.GetByKey(canonical)
	if err != nil {
		h.logger.Error("license lookup", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if l == nil {
		writeJSON(w, http.StatusOK, validateResponse{Valid: false, Error: "License not found"})
		return
	}

	switch l.Status {
	case model.LicenseRevoked:
		writeJSON(w, http.StatusOK, validateResponse{Valid: false, Error: "License revoked"})
		return
	case model.LicenseSuspended:
		writeJSON(w, http.StatusOK, validateResponse{Valid: false, Error: "License suspended"})
		return
	}

	now := time.Now().UTC()
	if l.Status == model.LicenseExpired || l.Expired(now) {
		if l.Status != model.LicenseExpired {
			if err := h.licenses.MarkExpired(l.ID); err != nil {
				h.logger.Error("mark license expired", "license_id", l.ID, "error", err)
			}
		}
		resp := validateResponse{Valid: false, Error: "License expired"}
		if l.ExpiresAt != nil {
			s := l.ExpiresAt.Format(time.RFC3339)
			resp.ExpiresAt = &s
		}
		writeJSON(w, http.StatusOK, resp)
		return
	}

	var machineID *string
	if req.MachineID != "" {
		machineID = &req.MachineID
	}
	if err := h.licenses.RecordValidation(l.ID, machineID, now); err != nil {
		h.logger.Error("record validation", "license_id", l.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	resp := validateResponse{Valid: true, Type: l.Type}
	if l.ExpiresAt != nil {
		s := l.ExpiresAt.Format(time.RFC3339)
		resp.ExpiresAt = &s
		days := int(math.Ceil(l.ExpiresAt.Sub(now).Hours() / 24))
		if days < 0 {
			days = 0
		}
		resp.DaysRemaining = &days
	}
	writeJSON(w, http.StatusOK, resp)
}
