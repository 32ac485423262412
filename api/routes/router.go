package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dhirensoni-certistage/certistage-app-sub001/api/controllers"
	"github.com/dhirensoni-certistage/certistage-app-sub001/api/middleware"
	"github.com/dhirensoni-certistage/certistage-app-sub001/pkg/auth/session"
	"github.com/dhirensoni-certistage/certistage-app-sub001/pkg/config"
	"github.com/dhirensoni-certistage/certistage-app-sub001/pkg/logger"
	"github.com/dhirensoni-certistage/certistage-app-sub001/pkg/redis"
)

// paymentsDirectory is the read surface the payment and invoice
// controllers share.
type paymentsDirectory interface {
	controllers.PaymentHistory
	controllers.InvoiceReader
}

func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	redisClient *redis.Client,
	sessions session.AccessSessionChecker,
	enforcer middleware.PlanEnforcer,
	usersRepo controllers.UserDirectory,
	paymentsRepo paymentsDirectory,
	plansService controllers.PlanCatalog,
	ordersService controllers.IntentCreator,
	reconcileService controllers.Reconciler,
	sweeperService controllers.OrderSyncer,
	settingsService controllers.SettingsStore,
	gatewaySecrets controllers.KeySecretSource,
	webhookService controllers.WebhookIngestor,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(),
	)

	syncPolicy := middleware.RateLimitPolicy{
		Name:   "sync",
		Window: cfg.SyncRateLimit.Window,
		Limit:  cfg.SyncRateLimit.Limit,
	}

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg))
	})
	r.Handle("/metrics", promhttp.Handler())

	// Webhook delivery carries its own HMAC; it must bypass auth and body
	// rewriting middleware so the raw bytes reach the verifier untouched.
	r.Post("/api/v1/webhooks/payment", controllers.PaymentWebhook(webhookService, logg))

	r.Get("/api/v1/plans", controllers.PlansList(plansService, logg))

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, sessions, enforcer, logg))
		r.Use(middleware.Idempotency(redisClient, logg))

		r.Post("/orders", controllers.OrdersCreate(ordersService, usersRepo, logg))
		r.Post("/payments/verify", controllers.PaymentsVerify(reconcileService, gatewaySecrets, logg))
		r.Get("/payments", controllers.PaymentsList(paymentsRepo, logg))
		r.Get("/plans/{tier}/quote", controllers.PlanQuote(plansService, usersRepo, logg))
		r.Get("/invoices/{invoiceNumber}", controllers.InvoiceGet(paymentsRepo, logg))
	})

	r.Route("/api/admin/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, sessions, enforcer, logg))
		r.Use(middleware.RequireRole("admin", logg))
		r.Use(middleware.Idempotency(redisClient, logg))

		r.Route("/payments", func(r chi.Router) {
			r.Use(middleware.RateLimit(syncPolicy, redisClient, logg))
			// POST syncs one order; PUT sweeps every pending order.
			r.Post("/sync", controllers.PaymentsSyncOrder(sweeperService, logg))
			r.Put("/sync", controllers.PaymentsSyncAll(sweeperService, logg))
		})
		r.Route("/settings", func(r chi.Router) {
			r.Get("/", controllers.SettingsList(settingsService, logg))
			r.Put("/", controllers.SettingsUpsert(settingsService, logg))
		})
	})

	return r
}
