package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"minimarket/backend/internal/cache"
	"minimarket/backend/internal/config"
	"minimarket/backend/internal/jobs"
	"minimarket/backend/internal/logger"
	"minimarket/backend/internal/observability"
	"minimarket/backend/internal/service"
	"minimarket/backend/internal/store"
	"minimarket/backend/internal/store/memory"
	pgstore "minimarket/backend/internal/store/postgres"
)

func main() {
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	log, err := logger.New(cfg.LogLevel, cfg.LogEncoding, cfg.AppEnv)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	if cfg.RedisAddr == "" {
		log.Fatal("REDIS_ADDR is required to run the worker")
	}

	var repo store.Repository
	if cfg.DatabaseURL != "" {
		pg, err := pgstore.New(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatal("connect database", zap.Error(err))
		}
		defer func() { _ = pg.Close() }()
		repo = pg
	} else {
		log.Warn("DATABASE_URL not set; scanning the in-memory demo catalog")
		repo = memory.NewSeeded(log)
	}

	alerts := cache.NewRedisCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	defer func() { _ = alerts.Close() }()
	if err := alerts.Ping(ctx); err != nil {
		log.Warn("redis ping", zap.Error(err))
	}

	svc := service.New(repo, service.Options{
		Alerts:   alerts,
		AlertTTL: cfg.AlertSnapshotTTL,
		Logger:   log,
		Metrics:  observability.NewMetrics(),
	})

	scanTask, err := jobs.NewAlertScanTask("schedule")
	if err != nil {
		log.Fatal("build alerts scan task", zap.Error(err))
	}
	scanJob := jobs.NewAlertScanJob(svc, log)

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB},
		Logger:    log,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskInventoryAlertsScan, Handler: scanJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: cfg.AlertScanCron, Task: scanTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
		},
	})
	if err != nil {
		log.Fatal("init worker", zap.Error(err), zap.String("cron", cfg.AlertScanCron))
	}

	client := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
	defer func() { _ = client.Close() }()
	if _, err := client.EnqueueAlertScan(ctx, "startup"); err != nil {
		log.Warn("enqueue startup alerts scan", zap.Error(err))
	}

	log.Info("worker started", zap.String("alerts_cron", cfg.AlertScanCron))
	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal("worker run", zap.Error(err))
	}
	log.Info("worker stopped")
}
