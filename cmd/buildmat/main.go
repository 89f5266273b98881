package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"golang.org/x/sync/errgroup"

	"github.com/buildmat/buildmat/internal/app"
	"github.com/buildmat/buildmat/internal/auth"
	"github.com/buildmat/buildmat/internal/delivery"
	"github.com/buildmat/buildmat/internal/intent"
	"github.com/buildmat/buildmat/internal/masterdata/sites"
	"github.com/buildmat/buildmat/internal/notify"
	"github.com/buildmat/buildmat/internal/observability"
	"github.com/buildmat/buildmat/internal/platform/cache"
	"github.com/buildmat/buildmat/internal/platform/db"
	"github.com/buildmat/buildmat/internal/platform/storage"
	"github.com/buildmat/buildmat/internal/shared"
	"github.com/buildmat/buildmat/internal/transfer"
	"github.com/buildmat/buildmat/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
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

	sessionManager := shared.NewSessionManager(redisClient, cfg.SessionTTL)
	auditLogger := shared.NewAuditLogger(pool)
	idempotencyStore := shared.NewIdempotencyStore(pool)

	bus := notify.NewBus(redisClient, logger)
	hub := notify.NewSSEHub(logger)
	unbind := hub.Bind(bus)
	defer unbind()

	busGroup, busCtx := errgroup.WithContext(ctx)
	busGroup.Go(func() error { return bus.Run(busCtx) })
	busGroup.Go(func() error { return bus.RunFallbackPoll(busCtx, cfg.NotifyPollInterval) })

	authRepo := auth.NewRepository(pool)
	authService := auth.NewService(authRepo, sessionManager, logger)
	authHandler := auth.NewHandler(logger, authService)
	authMiddleware := auth.Middleware{Sessions: sessionManager, Logger: logger}

	sitesRepo := sites.NewRepository(pool)
	sitesService := sites.NewService(sitesRepo)
	sitesHandler := sites.NewHandler(logger, sitesService)

	deliveryRepo := delivery.NewRepository(pool)
	deliveryService := delivery.NewService(deliveryRepo, bus, store, auditLogger)
	deliveryHandler := delivery.NewHandler(logger, deliveryService)

	intentRepo := intent.NewRepository(pool)
	intentService := intent.NewService(intentRepo, deliveryService, sitesService, bus, store, auditLogger)
	intentHandler := intent.NewHandler(logger, intentService)

	transferRepo := transfer.NewRepository(pool)
	transferService := transfer.NewService(transferRepo, deliveryService, sitesService, bus, store, auditLogger)
	transferHandler := transfer.NewHandler(logger, transferService)

	// Origin services are registered after construction to break the cycle
	// between deliveries and the documents that spawn them.
	deliveryService.RegisterOrigin(delivery.OriginPurchaseOrder, intentService)
	deliveryService.RegisterOrigin(delivery.OriginSiteTransfer, transferService)

	notifyHandler := notify.NewHandler(logger, bus, hub)
	metrics := observability.NewMetrics()

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobHandler := jobs.NewHandler(inspector, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:          logger,
		Config:          cfg,
		Auth:            authMiddleware,
		Idempotency:     idempotencyStore,
		AuthHandler:     authHandler,
		SitesHandler:    sitesHandler,
		IntentHandler:   intentHandler,
		TransferHandler: transferHandler,
		DeliveryHandler: deliveryHandler,
		NotifyHandler:   notifyHandler,
		JobHandler:      jobHandler,
		Metrics:         metrics,
	})

	// WriteTimeout stays unset because the event stream holds its response
	// open indefinitely; per-request deadlines come from the router.
	server := &http.Server{
		Addr:        cfg.AppAddr,
		Handler:     router,
		ReadTimeout: cfg.AppReadTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
	if err := busGroup.Wait(); err != nil && err != context.Canceled {
		logger.Error("notify bus", slog.Any("error", err))
	}
}
