package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/multierr"

	"github.com/quickbuyer/quickbuyer-backend/api/controllers"
	"github.com/quickbuyer/quickbuyer-backend/api/routes"
	"github.com/quickbuyer/quickbuyer-backend/internal/admin"
	"github.com/quickbuyer/quickbuyer-backend/internal/checkout"
	"github.com/quickbuyer/quickbuyer-backend/internal/downloads"
	"github.com/quickbuyer/quickbuyer-backend/internal/projects"
	"github.com/quickbuyer/quickbuyer-backend/internal/purchases"
	"github.com/quickbuyer/quickbuyer-backend/internal/subscriptions"
	"github.com/quickbuyer/quickbuyer-backend/internal/uploads"
	"github.com/quickbuyer/quickbuyer-backend/internal/users"
	creemwebhook "github.com/quickbuyer/quickbuyer-backend/internal/webhooks/creem"
	"github.com/quickbuyer/quickbuyer-backend/pkg/config"
	"github.com/quickbuyer/quickbuyer-backend/pkg/creem"
	"github.com/quickbuyer/quickbuyer-backend/pkg/db"
	"github.com/quickbuyer/quickbuyer-backend/pkg/ipfs"
	"github.com/quickbuyer/quickbuyer-backend/pkg/logger"
	"github.com/quickbuyer/quickbuyer-backend/pkg/metrics"
	"github.com/quickbuyer/quickbuyer-backend/pkg/migrate"
	"github.com/quickbuyer/quickbuyer-backend/pkg/outbox"
	"github.com/quickbuyer/quickbuyer-backend/pkg/redis"
	"github.com/quickbuyer/quickbuyer-backend/pkg/storage/s3"
)

const shutdownTimeout = 15 * time.Second

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	requireResource(context.Background(), logg, "config", err)

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
		Format:      cfg.App.LogFormat,
	})
	ctx := context.Background()

	dbClient, err := db.New(ctx, cfg.DB, cfg.FeatureFlags.UseSQLite, logg)
	requireResource(ctx, logg, "database", err)

	if err := migrate.MaybeRunDev(ctx, cfg, logg, dbClient); err != nil {
		requireResource(ctx, logg, "dev migrations", err)
	}

	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	requireResource(ctx, logg, "redis", err)

	defer func() {
		if err := multierr.Combine(redisClient.Close(), dbClient.Close()); err != nil {
			logg.Error(context.Background(), "error closing api resources", err)
		}
	}()

	storageClient, err := s3.NewClient(ctx, cfg.Storage, logg)
	requireResource(ctx, logg, "object storage", err)

	pinClient, err := ipfs.NewClient(cfg.IPFS, logg)
	requireResource(ctx, logg, "ipfs gateway", err)

	creemClient, err := creem.NewClient(ctx, cfg.Creem, logg)
	requireResource(ctx, logg, "payment processor client", err)

	var (
		marketplaceMetrics *metrics.Marketplace
		gatherer           prometheus.Gatherer
	)
	if cfg.FeatureFlags.Metrics {
		registry := prometheus.NewRegistry()
		registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		marketplaceMetrics = metrics.NewMarketplace(registry)
		gatherer = registry
	}

	conn := dbClient.DB()
	usersRepo := users.NewRepository(conn)
	projectRepo := projects.NewRepository(conn)
	purchaseRepo := purchases.NewRepository(conn)
	subscriptionRepo := subscriptions.NewRepository(conn)
	events := outbox.NewService(outbox.NewRepository(conn), logg)

	// the allow-list is read once; changing it requires a restart
	adminPolicy := admin.NewPolicy(cfg.Admin.EmailSet(), usersRepo, logg)

	projectService, err := projects.NewService(projectRepo, dbClient, adminPolicy, events, logg)
	requireResource(ctx, logg, "project service", err)

	checkoutService, err := checkout.NewService(creemClient, projectRepo, cfg.App, cfg.Creem, marketplaceMetrics, logg)
	requireResource(ctx, logg, "checkout service", err)

	subscriptionService, err := subscriptions.NewService(subscriptionRepo)
	requireResource(ctx, logg, "subscription service", err)

	purchaseService, err := purchases.NewService(purchaseRepo)
	requireResource(ctx, logg, "purchase service", err)

	downloadService, err := downloads.NewService(projectRepo, purchaseRepo, subscriptionService, dbClient, events, marketplaceMetrics, logg)
	requireResource(ctx, logg, "download service", err)

	uploadService, err := uploads.NewService(storageClient, pinClient, uploads.NewRepository(conn), cfg.Storage, cfg.IPFS, marketplaceMetrics, logg)
	requireResource(ctx, logg, "upload service", err)

	webhookGuard, err := creemwebhook.NewIdempotencyGuard(redisClient, cfg.Eventing.WebhookIdempotencyTTL)
	requireResource(ctx, logg, "webhook idempotency guard", err)

	webhookService, err := creemwebhook.NewService(creemwebhook.ServiceParams{
		TransactionRunner: dbClient,
		Users:             usersRepo,
		Projects:          projectRepo,
		Purchases:         purchaseRepo,
		Subscriptions:     subscriptionRepo,
		Audit:             creemwebhook.NewAuditRepository(conn),
		Events:            events,
		Guard:             webhookGuard,
		WebhookSecret:     cfg.Creem.WebhookSecret,
		Metrics:           marketplaceMetrics,
		Logger:            logg,
	})
	requireResource(ctx, logg, "webhook service", err)

	handler := routes.NewRouter(cfg, logg, routes.Dependencies{
		Readiness: map[string]controllers.Pinger{
			"database": dbClient,
			"redis":    redisClient,
			"storage":  storageClient,
		},
		Redis:         redisClient,
		Metrics:       marketplaceMetrics,
		Gatherer:      gatherer,
		Users:         usersRepo,
		Admins:        adminPolicy,
		Projects:      projectService,
		Checkout:      checkoutService,
		Downloads:     downloadService,
		Uploads:       uploadService,
		Purchases:     purchaseService,
		Subscriptions: subscriptionService,
		Webhooks:      webhookService,
	})

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	runCtx = logg.WithFields(runCtx, map[string]any{
		"env":          cfg.App.Env,
		"addr":         addr,
		"admin_emails": len(cfg.Admin.EmailSet()),
	})

	server := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logg.Info(runCtx, "starting api server")
		serverErr <- server.ListenAndServe()
	}()

	select {
	case err := <-serverErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logg.Error(runCtx, "api server stopped unexpectedly", err)
		}
	case <-runCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logg.Error(runCtx, "api server shutdown failed", err)
		}
		logg.Info(runCtx, "api server stopped")
	}
}

func requireResource(ctx context.Context, logg *logger.Logger, resource string, err error) {
	if err == nil {
		return
	}
	logg.Error(ctx, fmt.Sprintf("resource not working: %s", resource), err)
	os.Exit(1)
}
