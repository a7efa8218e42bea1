package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"

	"github.com/kioskops/kioskops/cmd/kioskops/cli"
	"github.com/kioskops/kioskops/internal/app"
	"github.com/kioskops/kioskops/internal/contracts"
	"github.com/kioskops/kioskops/internal/documents"
	"github.com/kioskops/kioskops/internal/kiosks"
	"github.com/kioskops/kioskops/internal/maintenance"
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
		slog.Default().Info("test mode detected, skipping runtime startup")
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

	if len(os.Args) > 1 && os.Args[1] == "jobs" {
		if err := runJobsCommand(ctx, cfg, os.Args[2:]); err != nil {
			logger.Error("jobs command", slog.Any("error", err))
			os.Exit(1)
		}
		return
	}

	dbpool, err := db.New(ctx, cfg.PGDSN, db.PoolConfig{MaxConns: cfg.PGMaxConns})
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

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
	numbers := numbering.NewSequence(redisClient)
	sender := notify.NewSender(queue, logger)
	idempotencyStore := shared.NewIdempotencyStore(dbpool)

	reportClient := report.NewClient(cfg.GotenbergURL, cfg.DocumentRenderTimeout)
	renderer, err := documents.NewRenderer(documents.Config{
		Converter:  reportClient,
		StorageDir: cfg.DocumentStorageDir,
		BaseURL:    cfg.DocumentBaseURL,
	})
	if err != nil {
		logger.Error("init document renderer", slog.Any("error", err))
		os.Exit(1)
	}

	contractService := contracts.NewService(contracts.NewRepository(dbpool), numbers, logger, contracts.ServiceConfig{
		RenderTimeout: cfg.DocumentRenderTimeout,
		StaffEmails:   cfg.StaffEmails,
	})
	contractService.SetRenderer(renderer)
	contractService.SetNotifier(sender)
	contractService.SetMetrics(metrics)

	proformaService := proformas.NewService(proformas.NewRepository(dbpool), numbers, contractService, logger)
	proformaService.SetNotifier(sender)
	proformaService.SetMetrics(metrics)

	kioskService := kiosks.NewService(kiosks.NewRepository(dbpool), numbers, logger)
	kioskService.SetNotifier(sender, cfg.StaffEmails)

	maintenanceService := maintenance.NewService(maintenance.NewRepository(dbpool), logger)
	maintenanceService.SetMetrics(metrics)

	inspector := asynq.NewInspector(redisOpts)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	router := app.NewRouter(app.RouterParams{
		Logger:             logger,
		Config:             cfg,
		ContractHandler:    contracts.NewHandler(logger, contractService, idempotencyStore),
		ProformaHandler:    proformas.NewHandler(logger, proformaService),
		KioskHandler:       kiosks.NewHandler(logger, kioskService),
		MaintenanceHandler: maintenance.NewHandler(logger, maintenanceService),
		ReportHandler:      report.NewHandler(reportClient, logger),
		JobHandler:         jobs.NewHandler(inspector, logger),
		Metrics:            metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
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
}

// runJobsCommand handles "kioskops jobs trigger <task>" and "kioskops jobs stats".
func runJobsCommand(ctx context.Context, cfg *app.Config, args []string) error {
	c := cli.NewJobsCLI(asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB}, cfg.IdempotencyRetention)
	defer c.Close()

	if len(args) == 0 {
		return fmt.Errorf("usage: kioskops jobs trigger <%s|%s|%s> | stats | scheduled",
			jobs.TaskContractExpirySweep, jobs.TaskProformaExpirySweep, jobs.TaskIdempotencyCleanup)
	}
	switch args[0] {
	case "trigger":
		if len(args) < 2 {
			return fmt.Errorf("jobs trigger: task name required")
		}
		info, err := c.Trigger(ctx, args[1])
		if err != nil {
			return err
		}
		fmt.Printf("enqueued %s as %s on %s\n", info.Type, info.ID, info.Queue)
	case "stats":
		stats, err := c.InspectQueue(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("queue=%s pending=%d active=%d scheduled=%d retry=%d\n",
			stats.Queue, stats.Pending, stats.Active, stats.Scheduled, stats.Retry)
	case "scheduled":
		tasks, err := c.ListScheduled(ctx, 20)
		if err != nil {
			return err
		}
		for _, t := range tasks {
			fmt.Printf("%s\t%s\t%s\n", t.ID, t.Type, t.NextProcessAt.Format(time.RFC3339))
		}
	default:
		return fmt.Errorf("jobs: unknown command %q", args[0])
	}
	return nil
}
