package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/subboxlabs/subbox-backend/internal/catalog"
	"github.com/subboxlabs/subbox-backend/internal/cron"
	"github.com/subboxlabs/subbox-backend/internal/subscriptions"
	"github.com/subboxlabs/subbox-backend/pkg/config"
	"github.com/subboxlabs/subbox-backend/pkg/db"
	"github.com/subboxlabs/subbox-backend/pkg/logger"
	"github.com/subboxlabs/subbox-backend/pkg/metrics"
	"github.com/subboxlabs/subbox-backend/pkg/migrate"
	"github.com/subboxlabs/subbox-backend/pkg/redis"
	"github.com/subboxlabs/subbox-backend/pkg/square"
)

const lockKeyFormat = "subbox:billing-worker:lock:%s"

func main() {
	logg := logger.New(logger.Options{ServiceName: "billing-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "billing-worker"

	logg = logger.New(logger.Options{
		ServiceName: "billing-worker",
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

	squareClient, err := square.NewClient(context.Background(), cfg.Square, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap square client", err)
		os.Exit(1)
	}

	gateway, err := subscriptions.NewSquareGateway(squareClient)
	if err != nil {
		logg.Error(context.Background(), "failed to create charge gateway", err)
		os.Exit(1)
	}

	catalogService, err := catalog.NewService(catalog.NewRepository(dbClient.DB()), logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create catalog service", err)
		os.Exit(1)
	}

	mutationLock, err := subscriptions.NewRedisMutationLock(redisClient, cfg.Billing.LockTTL)
	if err != nil {
		logg.Error(context.Background(), "failed to create mutation lock", err)
		os.Exit(1)
	}

	billingMetrics := metrics.NewBillingMetrics(prometheus.DefaultRegisterer)
	subscriptionsRepo := subscriptions.NewRepository(dbClient.DB())

	engine, err := subscriptions.NewEngine(subscriptions.EngineParams{
		Repo:          subscriptionsRepo,
		DBClient:      dbClient,
		Catalog:       catalogService,
		Charges:       gateway,
		Lock:          mutationLock,
		Logger:        logg,
		Metrics:       billingMetrics,
		Currency:      cfg.Billing.Currency,
		ChargeTimeout: cfg.Billing.ChargeTimeout,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create billing engine", err)
		os.Exit(1)
	}

	billingJob, err := cron.NewBillingJob(cron.BillingJobParams{
		Logger:    logg,
		Repo:      subscriptionsRepo,
		Engine:    engine,
		BatchSize: cfg.Billing.BatchSize,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create billing job", err)
		os.Exit(1)
	}

	workerLock, err := cron.NewRedisLock(redisClient, lockKey(cfg.App.Env), 0)
	if err != nil {
		logg.Error(context.Background(), "failed to create worker lock", err)
		os.Exit(1)
	}

	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: cron.NewRegistry(billingJob),
		Lock:     workerLock,
		Metrics:  billingMetrics,
		Interval: cfg.Billing.RunInterval,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create cron service", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
	})
	logg.Info(ctx, "starting billing worker")

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "billing worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "billing worker shutting down gracefully")
}

func lockKey(env string) string {
	if env == "" {
		env = "local"
	}
	return fmt.Sprintf(lockKeyFormat, env)
}
