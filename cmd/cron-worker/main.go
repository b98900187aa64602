package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"

	"github.com/edulink-io/crm-bridge/internal/cron"
	"github.com/edulink-io/crm-bridge/internal/delivery"
	"github.com/edulink-io/crm-bridge/internal/dispatch"
	"github.com/edulink-io/crm-bridge/internal/events"
	"github.com/edulink-io/crm-bridge/internal/reconcile"
	"github.com/edulink-io/crm-bridge/pkg/config"
	"github.com/edulink-io/crm-bridge/pkg/db"
	"github.com/edulink-io/crm-bridge/pkg/logger"
	"github.com/edulink-io/crm-bridge/pkg/metrics"
	"github.com/edulink-io/crm-bridge/pkg/migrate"
	"github.com/edulink-io/crm-bridge/pkg/redis"
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

	eventsRepo := events.NewRepository(dbClient.DB())

	client, err := delivery.NewClient(cfg.Backend, cfg.Delivery, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to build delivery client", err)
		os.Exit(1)
	}

	dispatcher, err := dispatch.NewService(dispatch.ServiceParams{
		Logger: logg,
		Store:  eventsRepo,
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

	registry := cron.NewRegistry()

	if cfg.Reconcile.Enabled {
		referBandMax, err := decimal.NewFromString(cfg.Reconcile.ReferBandMax)
		if err != nil {
			logg.Error(context.Background(), fmt.Sprintf("invalid refer band max %q", cfg.Reconcile.ReferBandMax), err)
			os.Exit(1)
		}
		reconcileJob, err := reconcile.NewJob(reconcile.JobParams{
			Logger:       logg,
			LMS:          reconcile.NewGormLMSReader(dbClient.DB()),
			Queue:        reconcile.NewQueueRepository(dbClient.DB()),
			Dispatcher:   dispatcher,
			ReferBandMax: referBandMax,
		})
		if err != nil {
			logg.Error(context.Background(), "failed to build reconciliation job", err)
			os.Exit(1)
		}
		registry.Register(reconcileJob)
	}

	retentionJob, err := cron.NewEventRetentionJob(cron.EventRetentionJobParams{
		Logger:     logg,
		DB:         dbClient,
		Repository: eventsRepo,
		Retention:  cfg.Retention.SentRetentionDays,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to build retention job", err)
		os.Exit(1)
	}
	registry.Register(retentionJob)

	metricsCollector := metrics.NewCronJobMetrics(prometheus.DefaultRegisterer)
	lock, err := cron.NewRedisLock(redisClient, redisClient.LockKey("cron-worker:"+cfg.App.Env), 0)
	if err != nil {
		logg.Error(context.Background(), "failed to create cron lock", err)
		os.Exit(1)
	}

	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: registry,
		Lock:     lock,
		Metrics:  metricsCollector,
		Interval: cfg.Cron.Interval,
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
	logg.Info(ctx, "starting cron worker")

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "cron worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "cron worker shutting down gracefully")
}
