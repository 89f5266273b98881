package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/buildmat/buildmat/internal/app"
	"github.com/buildmat/buildmat/internal/delivery"
	"github.com/buildmat/buildmat/internal/intent"
	jobmetrics "github.com/buildmat/buildmat/internal/jobs"
	"github.com/buildmat/buildmat/internal/notify"
	"github.com/buildmat/buildmat/internal/platform/cache"
	"github.com/buildmat/buildmat/internal/platform/db"
	"github.com/buildmat/buildmat/internal/platform/storage"
	"github.com/buildmat/buildmat/internal/shared"
	"github.com/buildmat/buildmat/internal/transfer"
	"github.com/buildmat/buildmat/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	store, err := storage.New(ctx, storage.Config{
		Endpoint:  cfg.MinioEndpoint,
		AccessKey: cfg.MinioAccessKey,
		SecretKey: cfg.MinioSecretKey,
		Bucket:    cfg.MinioBucket,
		UseSSL:    cfg.MinioUseSSL,
	})
	if err != nil {
		logger.Error("connect object store", slog.Any("error", err))
		os.Exit(1)
	}

	metrics := jobmetrics.NewMetrics(nil)

	// The sweep runs through the full delivery service so repaired rows
	// publish refresh topics the same way an operator save would.
	bus := notify.NewBus(redisClient, logger)
	deliveryRepo := delivery.NewRepository(pool)
	deliveryService := delivery.NewService(deliveryRepo, bus, store, shared.NewAuditLogger(pool))

	sweepJob := jobs.NewStatusSweepJob(deliveryService, logger, metrics)
	cleanupJob := jobs.NewAttachmentsCleanupJob(
		store,
		[]jobs.KeySource{deliveryRepo, intent.NewRepository(pool), transfer.NewRepository(pool)},
		[]string{"intent/", "transfer/", "delivery/"},
		logger,
		metrics,
	)
	idemJob := jobs.NewIdempotencyCleanupJob(shared.NewIdempotencyStore(pool), logger, metrics)

	sweepTask, err := jobs.NewStatusSweepTask(time.Now().UTC())
	if err != nil {
		logger.Error("build sweep task", slog.Any("error", err))
		os.Exit(1)
	}
	cleanupTask, err := jobs.NewAttachmentsCleanupTask(time.Now().UTC())
	if err != nil {
		logger.Error("build cleanup task", slog.Any("error", err))
		os.Exit(1)
	}
	idemTask, err := jobs.NewIdempotencyCleanupTask(cfg.IdempotencyRetainHours)
	if err != nil {
		logger.Error("build idempotency task", slog.Any("error", err))
		os.Exit(1)
	}

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB}
	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: redisOpts,
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskDeliveryStatusSweep, Handler: sweepJob.Handle},
			{Type: jobs.TaskAttachmentsCleanup, Handler: cleanupJob.Handle},
			{Type: jobs.TaskIdempotencyCleanup, Handler: idemJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: "15 1 * * *", Task: sweepTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: "45 1 * * *", Task: cleanupTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: "0 2 * * *", Task: idemTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
