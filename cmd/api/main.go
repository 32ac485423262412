package main

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/dhirensoni-certistage/certistage-app-sub001/api/routes"
	"github.com/dhirensoni-certistage/certistage-app-sub001/internal/invoices"
	"github.com/dhirensoni-certistage/certistage-app-sub001/internal/orders"
	"github.com/dhirensoni-certistage/certistage-app-sub001/internal/payments"
	"github.com/dhirensoni-certistage/certistage-app-sub001/internal/plans"
	"github.com/dhirensoni-certistage/certistage-app-sub001/internal/reconcile"
	"github.com/dhirensoni-certistage/certistage-app-sub001/internal/settings"
	"github.com/dhirensoni-certistage/certistage-app-sub001/internal/sweeper"
	"github.com/dhirensoni-certistage/certistage-app-sub001/internal/users"
	gatewaywebhook "github.com/dhirensoni-certistage/certistage-app-sub001/internal/webhooks/gateway"
	"github.com/dhirensoni-certistage/certistage-app-sub001/pkg/auth/session"
	"github.com/dhirensoni-certistage/certistage-app-sub001/pkg/config"
	"github.com/dhirensoni-certistage/certistage-app-sub001/pkg/db"
	"github.com/dhirensoni-certistage/certistage-app-sub001/pkg/gateway"
	"github.com/dhirensoni-certistage/certistage-app-sub001/pkg/logger"
	"github.com/dhirensoni-certistage/certistage-app-sub001/pkg/metrics"
	"github.com/dhirensoni-certistage/certistage-app-sub001/pkg/migrate"
	"github.com/dhirensoni-certistage/certistage-app-sub001/pkg/outbox"
	"github.com/dhirensoni-certistage/certistage-app-sub001/pkg/redis"
)

// Webhook event IDs stay marked long enough to cover the gateway's
// redelivery window.
const webhookDedupeTTL = 72 * time.Hour

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
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
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

	sessionManager, err := session.NewManager(redisClient, cfg.JWT)
	if err != nil {
		logg.Error(context.Background(), "failed to create session manager", err)
		os.Exit(1)
	}

	paymentsRepo := payments.NewRepository(dbClient.DB())
	usersRepo := users.NewRepository(dbClient.DB())
	plansRepo := plans.NewRepository(dbClient.DB())
	settingsRepo := settings.NewRepository(dbClient.DB())
	outboxService := outbox.NewService(outbox.NewRepository(dbClient.DB()), logg)

	settingsService, err := settings.NewService(settings.ServiceParams{
		Repo:    settingsRepo,
		Gateway: cfg.Gateway,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create settings service", err)
		os.Exit(1)
	}

	creds, err := settingsService.GatewayCredentials(context.Background())
	if err != nil {
		logg.Error(context.Background(), "failed to resolve gateway credentials", err)
		os.Exit(1)
	}
	gatewayClient, err := gateway.NewClient(context.Background(), cfg.Gateway, creds, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create gateway client", err)
		os.Exit(1)
	}

	reconcileMetrics := metrics.NewReconcileMetrics(prometheus.DefaultRegisterer)

	plansService, err := plans.NewService(plans.ServiceParams{Repo: plansRepo})
	if err != nil {
		logg.Error(context.Background(), "failed to create plans service", err)
		os.Exit(1)
	}

	invoicesService, err := invoices.NewService(invoices.ServiceParams{
		Repo:   paymentsRepo,
		Config: cfg.Invoice,
		Logger: logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create invoices service", err)
		os.Exit(1)
	}

	reconcileService, err := reconcile.NewService(reconcile.ServiceParams{
		Payments: paymentsRepo,
		Users:    usersRepo,
		Plans:    plansService,
		Invoices: invoicesService,
		Outbox:   outboxService,
		Metrics:  reconcileMetrics,
		Logger:   logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create reconcile service", err)
		os.Exit(1)
	}

	ordersService, err := orders.NewService(orders.ServiceParams{
		Payments: paymentsRepo,
		Users:    usersRepo,
		Plans:    plansService,
		Gateway:  gatewayClient,
		Logger:   logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create orders service", err)
		os.Exit(1)
	}

	sweeperService, err := sweeper.NewService(sweeper.ServiceParams{
		Payments:  paymentsRepo,
		Gateway:   gatewayClient,
		Reconcile: reconcileService,
		Logger:    logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create sweeper service", err)
		os.Exit(1)
	}

	webhookGuard, err := gatewaywebhook.NewIdempotencyGuard(redisClient, webhookDedupeTTL, "gateway-webhook")
	if err != nil {
		logg.Error(context.Background(), "failed to create webhook guard", err)
		os.Exit(1)
	}
	webhookService, err := gatewaywebhook.NewService(gatewaywebhook.ServiceParams{
		Reconcile: reconcileService,
		Secrets:   gatewayClient,
		Guard:     webhookGuard,
		Metrics:   reconcileMetrics,
		Logger:    logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create webhook service", err)
		os.Exit(1)
	}

	enforcer, err := users.NewEnforcer(users.EnforcerParams{
		Repo:   usersRepo,
		Outbox: outboxService,
		Logger: logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create plan enforcer", err)
		os.Exit(1)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":  cfg.App.Env,
		"addr": addr,
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(
			cfg,
			logg,
			redisClient,
			sessionManager,
			enforcer,
			usersRepo,
			paymentsRepo,
			plansService,
			ordersService,
			reconcileService,
			sweeperService,
			settingsService,
			gatewayClient,
			webhookService,
		),
	}

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logg.Error(ctx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}
}
