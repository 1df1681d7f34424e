package main

import (
	"context"
	"net/http"
	"os"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/subboxlabs/subbox-backend/api/routes"
	"github.com/subboxlabs/subbox-backend/internal/catalog"
	"github.com/subboxlabs/subbox-backend/internal/subscriptions"
	"github.com/subboxlabs/subbox-backend/pkg/config"
	"github.com/subboxlabs/subbox-backend/pkg/db"
	"github.com/subboxlabs/subbox-backend/pkg/logger"
	"github.com/subboxlabs/subbox-backend/pkg/migrate"
	"github.com/subboxlabs/subbox-backend/pkg/redis"
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

	subscriptionsService, err := subscriptions.NewService(subscriptions.ServiceParams{
		Repo:     subscriptions.NewRepository(dbClient.DB()),
		DBClient: dbClient,
		Catalog:  catalogService,
		Lock:     mutationLock,
		Logger:   logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create subscriptions service", err)
		os.Exit(1)
	}

	promRegistry := prometheus.NewRegistry()

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
		Addr:    addr,
		Handler: routes.NewRouter(cfg, logg, dbClient, redisClient, catalogService, subscriptionsService, promRegistry),
	}

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logg.Error(ctx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}
}
