package server

import (
	"database/sql"
	"log/slog"
	"net/http"
	"time"

	"github.com/snaprolabs/snapro/internal/accounting"
	"github.com/snaprolabs/snapro/internal/auth"
	"github.com/snaprolabs/snapro/internal/handler"
	"github.com/snaprolabs/snapro/internal/license"
	"github.com/snaprolabs/snapro/internal/middleware"
	"github.com/snaprolabs/snapro/internal/nowpayments"
	"github.com/snaprolabs/snapro/internal/reconcile"
	"github.com/snaprolabs/snapro/internal/releases"
	"github.com/snaprolabs/snapro/internal/store"
	snaprostripe "github.com/snaprolabs/snapro/internal/stripe"
	"github.com/snaprolabs/snapro/internal/websocket"
)

// Config carries everything the server needs that is not the database.
type Config struct {
	BaseURL        string
	LicenseSecret  string
	Stripe         snaprostripe.Config
	NowPayments    nowpayments.Config
	Accounting     accounting.Config
	ReleaseStorage releases.S3Config
}

type Server struct {
	db          *sql.DB
	payments    *store.PaymentStore
	licenses    *store.LicenseStore
	sessions    *store.SessionStore
	accounts    *store.AccountStore
	rateLimiter *middleware.RateLimiter
	hub         *websocket.Hub
	logger      *slog.Logger

	authH     *handler.AuthHandler
	checkoutH *handler.CheckoutHandler
	webhookH  *handler.WebhookHandler
	licenseH  *handler.LicenseHandler
	downloadH *handler.DownloadHandler
	accountH  *handler.AccountHandler
}

func New(db *sql.DB, cfg Config, logger *slog.Logger) *Server {
	accounts := store.NewAccountStore(db)
	sessions := store.NewSessionStore(db)
	payments := store.NewPaymentStore(db)
	licenses := store.NewLicenseStore(db)
	packages := store.NewProxyPackageStore(db)
	orders := store.NewProxyOrderStore(db)
	releaseStore := store.NewReleaseStore(db)

	codec := license.NewCodec(cfg.LicenseSecret)
	hub := websocket.NewHub(logger.With("component", "websocket"))
	sink := accounting.NewClient(cfg.Accounting.Endpoint, cfg.Accounting.AuthToken)
	storage := releases.NewStorage(cfg.ReleaseStorage)

	var stripeClient *snaprostripe.Client
	if cfg.Stripe.SecretKey != "" {
		stripeClient = snaprostripe.NewClient(cfg.Stripe)
	}
	npClient := nowpayments.NewClient(cfg.NowPayments)

	reconciler := reconcile.New(payments, licenses, orders, packages, codec, sink, hub,
		logger.With("component", "reconcile"))

	s := &Server{
		db:          db,
		payments:    payments,
		licenses:    licenses,
		sessions:    sessions,
		accounts:    accounts,
		rateLimiter: middleware.NewRateLimiter(),
		hub:         hub,
		logger:      logger,

		authH: handler.NewAuthHandler(accounts, sessions, cfg.BaseURL,
			logger.With("component", "auth")),
		checkoutH: handler.NewCheckoutHandler(payments, packages, stripeClient, npClient,
			cfg.BaseURL+"/webhooks/nowpayments", logger.With("component", "checkout")),
		licenseH: handler.NewLicenseHandler(licenses, codec,
			logger.With("component", "license")),
		downloadH: handler.NewDownloadHandler(releaseStore, licenses, storage,
			logger.With("component", "download")),
		accountH: handler.NewAccountHandler(accounts, licenses, payments, orders,
			logger.With("component", "account")),
	}
	if stripeClient != nil || npClient.Configured() || cfg.NowPayments.InsecureSkipVerify {
		s.webhookH = handler.NewWebhookHandler(stripeClient, npClient, reconciler,
			logger.With("component", "webhook"))
	}
	return s
}

// SessionStore returns the session store for cleanup tasks.
func (s *Server) SessionStore() *store.SessionStore {
	return s.sessions
}

// PaymentStore returns the payment store for cleanup tasks.
func (s *Server) PaymentStore() *store.PaymentStore {
	return s.payments
}

// RateLimiter returns the rate limiter for cleanup tasks.
func (s *Server) RateLimiter() *middleware.RateLimiter {
	return s.rateLimiter
}

func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.healthCheck)

	// Auth (public, rate-limited where it writes)
	mux.Handle("POST /api/auth/login", s.rateLimited(s.authH.Login))
	mux.HandleFunc("GET /auth/verify", s.authH.Verify)

	// Webhooks (public; authenticity comes from signatures, not sessions)
	if s.webhookH != nil {
		mux.HandleFunc("POST /webhooks/stripe", s.webhookH.HandleStripe)
		mux.HandleFunc("POST /webhooks/nowpayments", s.webhookH.HandleNowPayments)
	}

	// License validation (public, rate-limited; the desktop client has no session)
	mux.Handle("POST /api/license/validate", s.rateLimited(s.licenseH.Validate))

	// Release metadata is public; the artifact itself is gated below.
	mux.HandleFunc("GET /api/releases/latest", s.downloadH.Latest)

	// Protected dashboard and checkout routes
	authMw := middleware.RequireAuth(s.sessions, s.accounts)
	mux.Handle("POST /logout", authMw(http.HandlerFunc(s.authH.Logout)))
	mux.Handle("GET /api/account", authMw(http.HandlerFunc(s.accountH.Dashboard)))
	mux.Handle("GET /api/account/licenses", authMw(http.HandlerFunc(s.accountH.Licenses)))
	mux.Handle("GET /api/account/orders", authMw(http.HandlerFunc(s.accountH.Orders)))
	mux.Handle("GET /api/account/payments", authMw(http.HandlerFunc(s.accountH.Payments)))
	mux.Handle("GET /api/payments/{id}", authMw(http.HandlerFunc(s.accountH.PaymentByID)))
	mux.Handle("POST /api/checkout/stripe", authMw(http.HandlerFunc(s.checkoutH.StripeCheckout)))
	mux.Handle("POST /api/checkout/crypto", authMw(http.HandlerFunc(s.checkoutH.CryptoCheckout)))
	mux.Handle("GET /api/download/{id}", authMw(http.HandlerFunc(s.downloadH.Download)))

	// Live payment status for the checkout page
	mux.Handle("GET /ws", authMw(websocket.Handle(s.hub, func(r *http.Request) int64 {
		return auth.UserID(r.Context())
	})))

	return mux
}

func (s *Server) rateLimited(h http.HandlerFunc) http.Handler {
	keyFunc := func(r *http.Request) string {
		return middleware.RealIP(r)
	}
	return middleware.RateLimit(s.rateLimiter, keyFunc, 10, time.Minute)(h)
}

func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}
