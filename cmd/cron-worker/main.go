package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/multierr"

	"github.com/quickbuyer/quickbuyer-backend/internal/cron"
	"github.com/quickbuyer/quickbuyer-backend/internal/subscriptions"
	"github.com/quickbuyer/quickbuyer-backend/pkg/config"
	"github.com/quickbuyer/quickbuyer-backend/pkg/db"
	"github.com/quickbuyer/quickbuyer-backend/pkg/logger"
	"github.com/quickbuyer/quickbuyer-backend/pkg/metrics"
	"github.com/quickbuyer/quickbuyer-backend/pkg/migrate"
	"github.com/quickbuyer/quickbuyer-backend/pkg/outbox"
	"github.com/quickbuyer/quickbuyer-backend/pkg/redis"
)

func main() {
	jobName := flag.String("job", "", "run one job (outbox-retention, subscription-lapse) and exit")
	flag.Parse()

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

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		_ = dbClient.Close()
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		_ = dbClient.Close()
		os.Exit(1)
	}
	defer func() {
		if err := multierr.Combine(redisClient.Close(), dbClient.Close()); err != nil {
			logg.Error(context.Background(), "error closing cron resources", err)
		}
	}()

	var workerMetrics *metrics.WorkerMetrics
	if cfg.FeatureFlags.Metrics {
		workerMetrics = metrics.NewWorkerMetrics(prometheus.DefaultRegisterer)
	}

	lock, err := cron.NewRedisLock(redisClient, redisClient.CronLockKey(cfg.App.Env), 0)
	if err != nil {
		logg.Error(context.Background(), "failed to create cron lock", err)
		os.Exit(1)
	}

	outboxRepo := outbox.NewRepository(dbClient.DB())
	retentionJob, err := cron.NewOutboxRetentionJob(cron.OutboxRetentionJobParams{
		Logger:     logg,
		DB:         dbClient,
		Repository: outboxRepo,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create outbox retention job", err)
		os.Exit(1)
	}
	lapseJob, err := cron.NewSubscriptionLapseJob(cron.SubscriptionLapseJobParams{
		Logger: logg,
		DB:     dbClient,
		Repo:   subscriptions.NewRepository(dbClient.DB()),
		Events: outbox.NewService(outboxRepo, logg),
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create subscription lapse job", err)
		os.Exit(1)
	}

	registry, err := cron.NewRegistry(retentionJob, lapseJob)
	if err != nil {
		logg.Error(context.Background(), "failed to register cron jobs", err)
		os.Exit(1)
	}

	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: registry,
		Lock:     lock,
		Metrics:  workerMetrics,
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
	})
	if *jobName != "" {
		ctx = logg.WithField(ctx, "job", *jobName)
		if err := service.RunJob(ctx, *jobName); err != nil {
			logg.Error(ctx, "cron job run failed", err)
			os.Exit(1)
		}
		logg.Info(ctx, "cron job run finished")
		return
	}

	logg.Info(logg.WithField(ctx, "jobs", registry.Names()), "starting cron worker")

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "cron worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "cron worker shutting down gracefully")
}
