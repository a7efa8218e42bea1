package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"

	"github.com/kioskops/kioskops/internal/app"
	"github.com/kioskops/kioskops/internal/contracts"
	"github.com/kioskops/kioskops/internal/documents"
	jobmetrics "github.com/kioskops/kioskops/internal/jobs"
	"github.com/kioskops/kioskops/internal/notify"
	"github.com/kioskops/kioskops/internal/numbering"
	"github.com/kioskops/kioskops/internal/observability"
	"github.com/kioskops/kioskops/internal/platform/cache"
	"github.com/kioskops/kioskops/internal/platform/db"
	"github.com/kioskops/kioskops/internal/proformas"
	"github.com/kioskops/kioskops/internal/shared"
	"github.com/kioskops/kioskops/jobs"
	"github.com/kioskops/kioskops/report"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	_ = godotenv.Load()
	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger, logCloser, err := app.NewLogger(cfg)
	if err != nil {
		slog.Default().Error("init logger", slog.Any("error", err))
		os.Exit(1)
	}
	defer logCloser.Close()

	pool, err := db.New(ctx, cfg.PGDSN, db.PoolConfig{MaxConns: cfg.PGMaxConns})
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cache.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB}
	queue := jobs.NewClient(redisOpts)
	defer func() {
		if err := queue.Close(); err != nil {
			logger.Warn("queue close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()
	sweepMetrics := jobmetrics.NewMetrics(metrics.Registerer())
	numbers := numbering.NewSequence(redisClient)

	renderer, err := documents.NewRenderer(documents.Config{
		Converter:  report.NewClient(cfg.GotenbergURL, cfg.DocumentRenderTimeout),
		StorageDir: cfg.DocumentStorageDir,
		BaseURL:    cfg.DocumentBaseURL,
	})
	if err != nil {
		logger.Error("init document renderer", slog.Any("error", err))
		os.Exit(1)
	}

	contractService := contracts.NewService(contracts.NewRepository(pool), numbers, logger, contracts.ServiceConfig{
		RenderTimeout: cfg.DocumentRenderTimeout,
		StaffEmails:   cfg.StaffEmails,
	})
	contractService.SetRenderer(renderer)
	contractService.SetNotifier(notify.NewSender(queue, logger))
	contractService.SetMetrics(metrics)

	proformaService := proformas.NewService(proformas.NewRepository(pool), numbers, contractService, logger)
	proformaService.SetMetrics(metrics)

	mailer := jobs.NewMailer(jobs.MailerConfig{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		From:     cfg.SMTPFrom,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
	}, logger)
	contractSweep := jobs.NewExpirySweepJob(jobs.TaskContractExpirySweep, "contract", contractService, logger, sweepMetrics)
	proformaSweep := jobs.NewExpirySweepJob(jobs.TaskProformaExpirySweep, "proforma", proformaService, logger, sweepMetrics)
	cleanup := &jobs.IdempotencyCleanupJob{Store: shared.NewIdempotencyStore(pool), Logger: logger}

	contractTask, err := jobs.NewContractExpiryTask(time.Time{})
	if err != nil {
		logger.Error("build contract expiry task", slog.Any("error", err))
		os.Exit(1)
	}
	proformaTask, err := jobs.NewProformaExpiryTask(time.Time{})
	if err != nil {
		logger.Error("build proforma expiry task", slog.Any("error", err))
		os.Exit(1)
	}
	cleanupTask, err := jobs.NewIdempotencyCleanupTask(cfg.IdempotencyRetention)
	if err != nil {
		logger.Error("build idempotency cleanup task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts:   redisOpts,
		Logger:      logger,
		Concurrency: cfg.WorkerConcurrency,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskTypeSendEmail, Handler: mailer.Handle},
			{Type: jobs.TaskContractExpirySweep, Handler: contractSweep.Handle},
			{Type: jobs.TaskProformaExpirySweep, Handler: proformaSweep.Handle},
			{Type: jobs.TaskIdempotencyCleanup, Handler: cleanup.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: "5 0 * * *", Task: contractTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: "10 0 * * *", Task: proformaTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: "30 3 * * *", Task: cleanupTask, Options: []asynq.Option{asynq.MaxRetry(1)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	metricsServer := &http.Server{Addr: cfg.WorkerMetricsAddr, Handler: metrics.Handler(), ReadTimeout: 5 * time.Second}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("worker metrics server", slog.Any("error", err))
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsServer.Shutdown(shutdownCtx)
	}()

	if err := worker.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
