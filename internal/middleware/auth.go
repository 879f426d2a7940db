package middleware

import (
	"net/http"

	"github.com/snaprolabs/snapro/internal/auth"
	"github.com/snaprolabs/snapro/internal/store"
)

// SessionCookieName is the cookie carrying the dashboard session token.
const SessionCookieName = "snapro_session"

// RequireAuth validates the session cookie and populates AuthContext. The
// dashboard is a JSON API consumed by the site's frontend, so failures answer
// 401 JSON instead of redirecting.
func RequireAuth(sessions *store.SessionStore, accounts *store.AccountStore) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cookie, err := r.Cookie(SessionCookieName)
			if err != nil || cookie.Value == "" {
				unauthorized(w)
				return
			}

			sess, err := sessions.GetByToken(cookie.Value)
			if err != nil || sess == nil {
				unauthorized(w)
				return
			}

			acct, err := accounts.GetByID(sess.AccountID)
			if err != nil || acct == nil {
				unauthorized(w)
				return
			}

			ac := auth.AuthContext{
				UserID:    acct.ID,
				Email:     acct.Email,
				SessionID: sess.ID,
			}

			ctx := auth.WithAuth(r.Context(), ac)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	w.Write([]byte(`{"error":"authentication required"}`))
}
