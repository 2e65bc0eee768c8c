package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/promptcraft-backend/api/routes"
	"github.com/angelmondragon/promptcraft-backend/internal/accounts"
	"github.com/angelmondragon/promptcraft-backend/internal/catalog"
	"github.com/angelmondragon/promptcraft-backend/internal/characters"
	"github.com/angelmondragon/promptcraft-backend/internal/clientsync"
	"github.com/angelmondragon/promptcraft-backend/internal/consumption"
	"github.com/angelmondragon/promptcraft-backend/internal/ledger"
	"github.com/angelmondragon/promptcraft-backend/internal/payments"
	"github.com/angelmondragon/promptcraft-backend/internal/reconciler"
	"github.com/angelmondragon/promptcraft-backend/internal/referrals"
	"github.com/angelmondragon/promptcraft-backend/pkg/auth/session"
	"github.com/angelmondragon/promptcraft-backend/pkg/config"
	"github.com/angelmondragon/promptcraft-backend/pkg/db"
	"github.com/angelmondragon/promptcraft-backend/pkg/instance"
	"github.com/angelmondragon/promptcraft-backend/pkg/logger"
	"github.com/angelmondragon/promptcraft-backend/pkg/metrics"
	"github.com/angelmondragon/promptcraft-backend/pkg/migrate"
	"github.com/angelmondragon/promptcraft-backend/pkg/outbox"
	"github.com/angelmondragon/promptcraft-backend/pkg/pix"
	"github.com/angelmondragon/promptcraft-backend/pkg/redis"
)

const (
	webhookGuardScope = "pix-webhook"
	shutdownTimeout   = 20 * time.Second
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
		Format:      cfg.App.LogFormat,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, cfg.FeatureFlags.UseSQLite, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	pixClient, err := pix.NewClient(context.Background(), cfg.Pix, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap pix client", err)
		os.Exit(1)
	}

	sessionManager, err := session.NewManager(redisClient, cfg.JWT)
	if err != nil {
		logg.Error(context.Background(), "failed to create session manager", err)
		os.Exit(1)
	}

	ledgerMetrics := metrics.NewLedgerMetrics(prometheus.DefaultRegisterer)
	httpMetrics := metrics.NewHTTPMetrics(prometheus.DefaultRegisterer)

	outboxService := outbox.NewService(outbox.NewRepository(dbClient.DB()), logg)

	ledgerService, err := ledger.NewService(ledger.ServiceParams{
		DB:     dbClient,
		Conn:   dbClient.DB(),
		Outbox: outboxService,
		Logger: logg,
	})
	exitOnErr(logg, err, "failed to create ledger service")

	referralService, err := referrals.NewService(referrals.ServiceParams{
		DB:           dbClient,
		Conn:         dbClient.DB(),
		Ledger:       ledgerService,
		Outbox:       outboxService,
		Metrics:      ledgerMetrics,
		Logger:       logg,
		BonusCredits: cfg.Credits.ReferralBonus,
		MaxUses:      cfg.Credits.ReferralMaxUse,
	})
	exitOnErr(logg, err, "failed to create referral service")

	accountService, err := accounts.NewService(accounts.ServiceParams{
		DB:            dbClient,
		Conn:          dbClient.DB(),
		Ledger:        ledgerService,
		Referrals:     referralService,
		Sessions:      sessionManager,
		Outbox:        outboxService,
		JWTConfig:     cfg.JWT,
		SignupCredits: cfg.Credits.SignupCredits,
		Logger:        logg,
	})
	exitOnErr(logg, err, "failed to create account service")

	catalogService, err := catalog.NewService(catalog.NewRepository(dbClient.DB()))
	exitOnErr(logg, err, "failed to create catalog service")

	paymentService, err := payments.NewService(payments.ServiceParams{
		Catalog:  catalogService,
		Accounts: accountService,
		Gateway:  pixClient,
		Ledger:   ledgerService,
		Logger:   logg,
	})
	exitOnErr(logg, err, "failed to create payment service")

	guard, err := consumption.NewGuard(consumption.ServiceParams{
		DB:       dbClient,
		Ledger:   ledgerService,
		Metrics:  ledgerMetrics,
		Logger:   logg,
		Resource: "character",
	})
	exitOnErr(logg, err, "failed to create consumption guard")

	characterService, err := characters.NewService(characters.ServiceParams{
		Repo:     characters.NewRepository(dbClient.DB()),
		Consumer: guard,
		Logger:   logg,
		Cost:     cfg.Credits.CharacterCost,
	})
	exitOnErr(logg, err, "failed to create character service")

	reconcilerService, err := reconciler.NewService(reconciler.ServiceParams{
		Provider: pixClient,
		Ledger:   ledgerService,
		Metrics:  ledgerMetrics,
		Logger:   logg,
		Config:   cfg.Reconciler,
	})
	exitOnErr(logg, err, "failed to create reconciler")

	webhookGuard, err := reconciler.NewIdempotencyGuard(redisClient, cfg.Eventing.WebhookIdempotencyTTL, webhookGuardScope)
	exitOnErr(logg, err, "failed to create webhook guard")

	syncService, err := clientsync.NewService(clientsync.ServiceParams{
		Ledger: ledgerService,
		Config: cfg.Sync,
		Logger: logg,
	})
	exitOnErr(logg, err, "failed to create sync service")

	notifier, err := clientsync.NewNotifier(redisClient)
	exitOnErr(logg, err, "failed to create sync notifier")

	handler := routes.NewRouter(cfg, logg, routes.Deps{
		DB:          dbClient,
		Redis:       redisClient,
		Sessions:    sessionManager,
		Accounts:    accountService,
		Ledger:      ledgerService,
		Catalog:     catalogService,
		Payments:    paymentService,
		Referrals:   referralService,
		Characters:  characterService,
		Sync:        syncService,
		Notifier:    notifier,
		Reconciler:  reconcilerService,
		Pix:         pixClient,
		WebhookGate: webhookGuard,
		DeadLetters: outbox.NewDLQRepository(dbClient.DB()),
		HTTPMetrics: httpMetrics,
	})

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":      cfg.App.Env,
		"addr":     addr,
		"instance": instance.GetID(),
	})

	server := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logg.Info(ctx, "starting api server")
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logg.Error(ctx, "api server stopped unexpectedly", err)
			os.Exit(1)
		}
	case <-sigCtx.Done():
		logg.Info(ctx, "shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logg.Error(ctx, "graceful shutdown failed", err)
		}
	}
	logg.Info(ctx, "api server stopped")
}

func exitOnErr(logg *logger.Logger, err error, msg string) {
	if err == nil {
		return
	}
	logg.Error(context.Background(), msg, err)
	os.Exit(1)
}
