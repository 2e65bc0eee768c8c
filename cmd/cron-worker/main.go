package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/promptcraft-backend/internal/cron"
	"github.com/angelmondragon/promptcraft-backend/internal/ledger"
	"github.com/angelmondragon/promptcraft-backend/internal/reconciler"
	"github.com/angelmondragon/promptcraft-backend/pkg/config"
	"github.com/angelmondragon/promptcraft-backend/pkg/db"
	"github.com/angelmondragon/promptcraft-backend/pkg/logger"
	"github.com/angelmondragon/promptcraft-backend/pkg/metrics"
	"github.com/angelmondragon/promptcraft-backend/pkg/migrate"
	"github.com/angelmondragon/promptcraft-backend/pkg/outbox"
	"github.com/angelmondragon/promptcraft-backend/pkg/pix"
	"github.com/angelmondragon/promptcraft-backend/pkg/redis"
)

const (
	lockKeyFormat     = "pc:cron-worker:lock:%s"
	retentionBatch    = 500
	auditPageSize     = 100
	envRunOnce        = "PROMPTCRAFT_CRON_RUN_ONCE"
	runOnceEnabledVal = "true"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "cron-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "cron-worker"

	logg = logger.New(logger.Options{
		ServiceName: "cron-worker",
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

	cronMetrics := metrics.NewCronJobMetrics(prometheus.DefaultRegisterer)
	ledgerMetrics := metrics.NewLedgerMetrics(prometheus.DefaultRegisterer)

	outboxRepo := outbox.NewRepository(dbClient.DB())
	ledgerService, err := ledger.NewService(ledger.ServiceParams{
		DB:     dbClient,
		Conn:   dbClient.DB(),
		Outbox: outbox.NewService(outboxRepo, logg),
		Logger: logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create ledger service", err)
		os.Exit(1)
	}

	reconcilerService, err := reconciler.NewService(reconciler.ServiceParams{
		Provider: pixClient,
		Ledger:   ledgerService,
		Metrics:  ledgerMetrics,
		Logger:   logg,
		Config:   cfg.Reconciler,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create reconciler", err)
		os.Exit(1)
	}

	registry := cron.NewRegistry()
	if err := registerJobs(registry, cfg, logg, ledgerService, reconcilerService, outboxRepo, ledgerMetrics); err != nil {
		logg.Error(context.Background(), "failed to register cron jobs", err)
		os.Exit(1)
	}

	lock, err := cron.NewRedisLock(redisClient, lockKey(cfg.App.Env), 0)
	if err != nil {
		logg.Error(context.Background(), "failed to create cron lock", err)
		os.Exit(1)
	}

	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: registry,
		Lock:     lock,
		Metrics:  cronMetrics,
		Interval: cfg.Cron.Interval,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create cron service", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
		"jobs":        len(registry.Jobs()),
	})

	if os.Getenv(envRunOnce) == runOnceEnabledVal {
		logg.Info(ctx, "running single cron cycle")
		if err := service.RunOnce(ctx); err != nil {
			logg.Error(ctx, "cron cycle failed", err)
			os.Exit(1)
		}
		return
	}

	logg.Info(ctx, "starting cron worker")
	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "cron worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "cron worker shutting down gracefully")
}

func registerJobs(
	registry *cron.Registry,
	cfg *config.Config,
	logg *logger.Logger,
	ledgerService *ledger.Service,
	reconcilerService *reconciler.Service,
	outboxRepo *outbox.Repository,
	ledgerMetrics *metrics.LedgerMetrics,
) error {
	sweep, err := cron.NewPendingPaymentSweepJob(cron.PendingPaymentSweepJobParams{
		Logger:     logg,
		Ledger:     ledgerService,
		Reconciler: reconcilerService,
		StaleAfter: cfg.Reconciler.StaleAfter,
		Limit:      cfg.Reconciler.SweepLimit,
	})
	if err != nil {
		return fmt.Errorf("pending payment sweep: %w", err)
	}

	retention, err := cron.NewOutboxRetentionJob(cron.OutboxRetentionJobParams{
		Logger:     logg,
		Repository: outboxRepo,
		Retention:  cfg.Outbox.RetentionDays,
		BatchSize:  retentionBatch,
	})
	if err != nil {
		return fmt.Errorf("outbox retention: %w", err)
	}

	audit, err := cron.NewBalanceAuditJob(cron.BalanceAuditJobParams{
		Logger:   logg,
		Ledger:   ledgerService,
		Metrics:  ledgerMetrics,
		PageSize: auditPageSize,
	})
	if err != nil {
		return fmt.Errorf("balance audit: %w", err)
	}

	schedules := []struct {
		job   cron.Job
		every time.Duration
	}{
		{sweep, 0},
		{audit, cfg.Cron.AuditEvery},
		{retention, cfg.Cron.RetentionEvery},
	}
	for _, sch := range schedules {
		if err := registry.Register(sch.job, sch.every); err != nil {
			return err
		}
	}
	return nil
}

func lockKey(env string) string {
	if env == "" {
		env = "local"
	}
	return fmt.Sprintf(lockKeyFormat, env)
}
