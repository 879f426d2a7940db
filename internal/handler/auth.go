package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/snaprolabs/snapro/internal/auth"
	"github.com/snaprolabs/snapro/internal/middleware"
	"github.com/snaprolabs/snapro/internal/store"
)

type AuthHandler struct {
	accounts *store.AccountStore
	sessions *store.SessionStore
	baseURL  string
	logger   *slog.Logger
}

func NewAuthHandler(as *store.AccountStore, ss *store.SessionStore, baseURL string, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{
		accounts: as,
		sessions: ss,
		baseURL:  baseURL,
		logger:   logger,
	}
}

// Login handles the magic link request. The account is created on first
// login; the session token doubles as the magic-link token. Without an email
// provider configured the verify URL is logged for the operator to relay.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}
	if req.Email == "" {
		writeError(w, http.StatusBadRequest, "email is required")
		return
	}

	account, err := h.accounts.GetByEmail(req.Email)
	if err != nil {
		h.logger.Error("get account", "error", err)
	}
	if account == nil {
		account, err = h.accounts.Create(req.Email)
		if err != nil {
			h.logger.Error("create account", "error", err)
			writeError(w, http.StatusInternalServerError, "unable to process request")
			return
		}
	}

	sess, err := h.sessions.Create(account.ID)
	if err != nil {
		h.logger.Error("create session", "error", err)
		writeError(w, http.StatusInternalServerError, "unable to process request")
		return
	}

	h.logger.Info("magic link token generated",
		"email", account.Email, "url", h.baseURL+"/auth/verify?token="+sess.Token)

	// Always answer the same way to prevent user enumeration.
	writeJSON(w, http.StatusOK, map[string]string{"status": "check_email"})
}

// Verify exchanges the magic link token for the session cookie.
func (h *AuthHandler) Verify(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		writeError(w, http.StatusUnauthorized, "invalid or expired link")
		return
	}

	sess, err := h.sessions.GetByToken(token)
	if err != nil || sess == nil {
		writeError(w, http.StatusUnauthorized, "invalid or expired link")
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    sess.Token,
		Path:     "/",
		MaxAge:   90 * 24 * 60 * 60, // 90 days
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})

	http.Redirect(w, r, "/account", http.StatusSeeOther)
}

// Logout destroys the session.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if ac, ok := auth.FromContext(r.Context()); ok {
		if err := h.sessions.Delete(ac.SessionID); err != nil {
			h.logger.Error("delete session", "error", err)
		}
	}

	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
	})
	writeJSON(w, http.StatusOK, map[string]string{"status": "logged_out"})
}
