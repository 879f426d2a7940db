package handler

import (
	"database/sql"
	"io"
	"log/slog"
	"testing"

	"github.com/snaprolabs/snapro/internal/accounting"
	"github.com/snaprolabs/snapro/internal/database"
	"github.com/snaprolabs/snapro/internal/license"
	"github.com/snaprolabs/snapro/internal/reconcile"
	"github.com/snaprolabs/snapro/internal/store"
)

// testEnv wires real stores over an in-memory database for handler tests.
type testEnv struct {
	db         *sql.DB
	accounts   *store.AccountStore
	sessions   *store.SessionStore
	payments   *store.PaymentStore
	licenses   *store.LicenseStore
	packages   *store.ProxyPackageStore
	orders     *store.ProxyOrderStore
	releases   *store.ReleaseStore
	codec      *license.Codec
	reconciler *reconcile.Reconciler
	logger     *slog.Logger
	userID     int64
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	env := &testEnv{
		db:       db,
		accounts: store.NewAccountStore(db),
		sessions: store.NewSessionStore(db),
		payments: store.NewPaymentStore(db),
		licenses: store.NewLicenseStore(db),
		packages: store.NewProxyPackageStore(db),
		orders:   store.NewProxyOrderStore(db),
		releases: store.NewReleaseStore(db),
		codec:    license.NewCodec("test-secret"),
		logger:   logger,
	}
	env.reconciler = reconcile.New(env.payments, env.licenses, env.orders, env.packages,
		env.codec, accounting.NewClient("", ""), nil, logger)

	a, err := env.accounts.Create("alice@example.com")
	if err != nil {
		t.Fatalf("create account: %v", err)
	}
	env.userID = a.ID
	return env
}
