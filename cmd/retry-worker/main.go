package main

import (
	"context"
	"errors"
	"os"
	"os/signal"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/edulink-io/crm-bridge/internal/delivery"
	"github.com/edulink-io/crm-bridge/internal/dispatch"
	"github.com/edulink-io/crm-bridge/internal/events"
	"github.com/edulink-io/crm-bridge/pkg/config"
	"github.com/edulink-io/crm-bridge/pkg/db"
	"github.com/edulink-io/crm-bridge/pkg/logger"
	"github.com/edulink-io/crm-bridge/pkg/metrics"
	"github.com/edulink-io/crm-bridge/pkg/migrate"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "retry-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "retry-worker"

	logg = logger.New(logger.Options{
		ServiceName: "retry-worker",
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

	repo := events.NewRepository(dbClient.DB())

	client, err := delivery.NewClient(cfg.Backend, cfg.Delivery, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to build delivery client", err)
		os.Exit(1)
	}

	dispatcher, err := dispatch.NewService(dispatch.ServiceParams{
		Logger: logg,
		Store:  repo,
		Sender: client,
		Backoff: events.BackoffConfig{
			BaseDelay: cfg.Retry.BaseDelay,
			MaxDelay:  cfg.Retry.MaxDelay,
			Jitter:    events.DefaultBackoff().Jitter,
		},
		Metrics: metrics.NewDeliveryMetrics(prometheus.DefaultRegisterer),
	})
	if err != nil {
		logg.Error(context.Background(), "failed to build dispatcher", err)
		os.Exit(1)
	}

	service, err := NewService(ServiceParams{
		Config:     cfg,
		Logger:     logg,
		DB:         dbClient,
		Events:     repo,
		Dispatcher: dispatcher,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create retry worker", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": "retry-worker",
	})
	logg.Info(ctx, "starting retry worker")

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "retry worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "retry worker shutting down gracefully")
}
