package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/promptcraft-backend/api/controllers"
	webhookcontrollers "github.com/angelmondragon/promptcraft-backend/api/controllers/webhooks"
	"github.com/angelmondragon/promptcraft-backend/api/middleware"
	"github.com/angelmondragon/promptcraft-backend/internal/accounts"
	"github.com/angelmondragon/promptcraft-backend/internal/catalog"
	"github.com/angelmondragon/promptcraft-backend/internal/characters"
	"github.com/angelmondragon/promptcraft-backend/internal/clientsync"
	"github.com/angelmondragon/promptcraft-backend/internal/ledger"
	"github.com/angelmondragon/promptcraft-backend/internal/payments"
	"github.com/angelmondragon/promptcraft-backend/internal/reconciler"
	"github.com/angelmondragon/promptcraft-backend/internal/referrals"
	"github.com/angelmondragon/promptcraft-backend/pkg/auth/session"
	"github.com/angelmondragon/promptcraft-backend/pkg/config"
	"github.com/angelmondragon/promptcraft-backend/pkg/db"
	"github.com/angelmondragon/promptcraft-backend/pkg/enums"
	"github.com/angelmondragon/promptcraft-backend/pkg/logger"
	"github.com/angelmondragon/promptcraft-backend/pkg/metrics"
	"github.com/angelmondragon/promptcraft-backend/pkg/outbox"
	"github.com/angelmondragon/promptcraft-backend/pkg/pix"
	"github.com/angelmondragon/promptcraft-backend/pkg/redis"
)

// Deps carries everything the HTTP surface needs. Gatherer defaults to the
// global prometheus registry; Replays defaults to Redis.
type Deps struct {
	DB          db.Pinger
	Redis       *redis.Client
	Replays     redis.IdempotencyStore
	Sessions    session.AccessSessionChecker
	Accounts    *accounts.Service
	Ledger      *ledger.Service
	Catalog     *catalog.Service
	Payments    *payments.Service
	Referrals   *referrals.Service
	Characters  *characters.Service
	Sync        *clientsync.Service
	Notifier    *clientsync.Notifier
	Reconciler  *reconciler.Service
	Pix         *pix.Client
	WebhookGate *reconciler.IdempotencyGuard
	DeadLetters *outbox.DLQRepository
	HTTPMetrics *metrics.HTTPMetrics
	Gatherer    prometheus.Gatherer
}

func NewRouter(cfg *config.Config, logg *logger.Logger, deps Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.Metrics(deps.HTTPMetrics),
		middleware.CORS(cfg.App.CORSOrigins),
	)

	signupPolicy := middleware.NewRateLimitPolicy(
		"signup",
		cfg.RateLimit.SignupWindow,
		cfg.RateLimit.SignupIPLimit,
		cfg.RateLimit.SignupEmailLimit,
	)
	paymentPolicy := middleware.NewRateLimitPolicy(
		"payment",
		cfg.RateLimit.PaymentWindow,
		cfg.RateLimit.PaymentIPLimit,
		0,
	).WithAccountLimit(cfg.RateLimit.PaymentAccountLimit)

	gatherer := deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	replays := deps.Replays
	if replays == nil && deps.Redis != nil {
		replays = deps.Redis
	}
	idempotency := middleware.Idempotency(replays, logg)

	readiness := map[string]controllers.Pinger{"db": deps.DB}
	if deps.Redis != nil {
		readiness["redis"] = deps.Redis
	}

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, readiness))
	})
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	r.Route("/api/v1/webhooks", func(r chi.Router) {
		r.Post("/pix", webhookcontrollers.PixWebhook(deps.Reconciler, deps.Pix, deps.WebhookGate, logg))
	})

	r.With(middleware.RateLimit(signupPolicy, deps.Redis, logg)).
		Post("/api/v1/accounts", controllers.AccountSignup(deps.Accounts, logg))

	r.Route("/api/v1/auth", func(r chi.Router) {
		r.Post("/refresh", controllers.AuthRefresh(deps.Accounts, logg))
		r.Post("/logout", controllers.AuthLogout(deps.Accounts, cfg.JWT, logg))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, deps.Sessions, logg))
		r.Use(idempotency)

		r.Get("/accounts/me", controllers.AccountMe(deps.Accounts, logg))
		r.Delete("/accounts/me", controllers.AccountDelete(deps.Accounts, logg))

		r.Get("/ledger/balance", controllers.LedgerBalance(deps.Ledger, logg))
		r.Get("/ledger/transactions", controllers.LedgerTransactions(deps.Ledger, logg))

		r.Get("/packages", controllers.ListPackages(deps.Catalog, logg))

		r.Route("/payments", func(r chi.Router) {
			r.With(middleware.RateLimit(paymentPolicy, deps.Redis, logg)).
				Post("/intents", controllers.CreatePaymentIntent(deps.Payments, logg))
			r.Get("/{paymentId}", controllers.GetPayment(deps.Payments, logg))
		})

		r.Get("/referrals/code", controllers.ReferralCode(deps.Referrals, logg))
		r.Post("/referrals/apply", controllers.ApplyReferral(deps.Referrals, logg))

		r.Get("/characters", controllers.ListCharacters(deps.Characters, logg))
		r.Post("/characters", controllers.CreateCharacter(deps.Characters, logg))

		r.Route("/sync", func(r chi.Router) {
			r.Get("/snapshot", controllers.SyncSnapshot(deps.Sync, logg))
			r.Get("/stream", controllers.SyncStream(deps.Sync, deps.Notifier, cfg.Sync.StreamHeartbeat, logg))
			r.Get("/payments/{paymentId}", controllers.SyncPollPayment(deps.Sync, logg))
		})
	})

	r.Route("/api/admin/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, deps.Sessions, logg))
		r.Use(middleware.RequireRole(enums.AccountRoleAdmin, logg))
		r.Use(idempotency)

		r.Post("/accounts/{accountId}/adjustments", controllers.AdminAdjust(deps.Ledger, logg))
		r.Get("/reconciliation/anomalies", controllers.AdminListAnomalies(deps.Reconciler, logg))
		r.Post("/reconciliation/anomalies/{anomalyId}/resolve", controllers.AdminResolveAnomaly(deps.Reconciler, logg))
		r.Post("/payments/{paymentId}/reconcile", controllers.AdminReconcilePayment(deps.Reconciler, logg))
		r.Get("/outbox/dead-letters", controllers.AdminListDeadLetters(deps.DeadLetters, logg))
		r.Get("/outbox/dead-letters/{eventId}", controllers.AdminGetDeadLetter(deps.DeadLetters, logg))
	})

	return r
}
