package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/snaprolabs/snapro/internal/accounting"
	"github.com/snaprolabs/snapro/internal/database"
	"github.com/snaprolabs/snapro/internal/logging"
	"github.com/snaprolabs/snapro/internal/middleware"
	"github.com/snaprolabs/snapro/internal/nowpayments"
	"github.com/snaprolabs/snapro/internal/releases"
	"github.com/snaprolabs/snapro/internal/server"
	snaprostripe "github.com/snaprolabs/snapro/internal/stripe"
)

func main() {
	logger := logging.Setup(os.Getenv("SNAPRO_LOG_LEVEL"), os.Getenv("SNAPRO_LOG_FORMAT"))

	port := os.Getenv("SNAPRO_PORT")
	if port == "" {
		port = "8090"
	}

	dbPath := os.Getenv("SNAPRO_DB_PATH")
	if dbPath == "" {
		dbPath = "snapro.db"
	}

	baseURL := os.Getenv("SNAPRO_BASE_URL")
	if baseURL == "" {
		baseURL = fmt.Sprintf("http://localhost:%s", port)
	}

	licenseSecret := os.Getenv("SNAPRO_LICENSE_SECRET")
	if licenseSecret == "" {
		slog.Error("SNAPRO_LICENSE_SECRET is required; minted keys must validate across restarts")
		os.Exit(1)
	}

	db, err := database.Open(dbPath)
	if err != nil {
		slog.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	cfg := server.Config{
		BaseURL:       baseURL,
		LicenseSecret: licenseSecret,
		Stripe: snaprostripe.Config{
			SecretKey:     os.Getenv("STRIPE_SECRET_KEY"),
			WebhookSecret: os.Getenv("STRIPE_WEBHOOK_SECRET"),
			SuccessURL:    baseURL + "/account?checkout=success",
			CancelURL:     baseURL + "/pricing",
		},
		NowPayments: nowpayments.Config{
			APIKey:             os.Getenv("NOWPAYMENTS_API_KEY"),
			IPNSecret:          os.Getenv("NOWPAYMENTS_IPN_SECRET"),
			InsecureSkipVerify: os.Getenv("SNAPRO_NOWPAYMENTS_INSECURE_SKIP_VERIFY") == "1",
		},
		Accounting: accounting.Config{
			Endpoint:  os.Getenv("SNAPRO_ACCOUNTING_ENDPOINT"),
			AuthToken: os.Getenv("SNAPRO_ACCOUNTING_TOKEN"),
		},
		ReleaseStorage: releases.S3Config{
			Endpoint:  os.Getenv("SNAPRO_S3_ENDPOINT"),
			Bucket:    os.Getenv("SNAPRO_S3_BUCKET"),
			Region:    os.Getenv("SNAPRO_S3_REGION"),
			AccessKey: os.Getenv("SNAPRO_S3_ACCESS_KEY"),
			SecretKey: os.Getenv("SNAPRO_S3_SECRET_KEY"),
		},
	}

	if cfg.NowPayments.InsecureSkipVerify {
		slog.Warn("SECURITY: crypto webhook signature verification is disabled; never run this in production")
	}

	srv := server.New(db, cfg, logger)

	httpServer := &http.Server{
		Addr:              ":" + port,
		Handler:           middleware.RequestLogger(logger)(srv.Router()),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// Background cleanup goroutine
	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	defer cleanupCancel()
	go func() {
		ticker := time.NewTicker(1 * time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if n, err := srv.SessionStore().DeleteExpired(); err != nil {
					slog.Error("cleanup expired sessions", "error", err)
				} else if n > 0 {
					slog.Info("cleaned up expired sessions", "count", n)
				}
				if n, err := srv.PaymentStore().ExpireStalePending(24 * time.Hour); err != nil {
					slog.Error("expire stale payments", "error", err)
				} else if n > 0 {
					slog.Info("expired stale pending payments", "count", n)
				}
				srv.RateLimiter().Cleanup()
			case <-cleanupCtx.Done():
				return
			}
		}
	}()

	go func() {
		slog.Info("snapro service starting", "addr", ":"+port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down")
	cleanupCancel()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "error", err)
		os.Exit(1)
	}
}
