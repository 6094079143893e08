package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/wayne-enterprises/wayne-console/internal/analytics"
	"github.com/wayne-enterprises/wayne-console/internal/app"
	"github.com/wayne-enterprises/wayne-console/internal/backend"
	jobmetrics "github.com/wayne-enterprises/wayne-console/internal/jobs"
	"github.com/wayne-enterprises/wayne-console/internal/platform/cache"
	"github.com/wayne-enterprises/wayne-console/internal/session"
	"github.com/wayne-enterprises/wayne-console/jobs"
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
	if cfg.SessionBackend != app.SessionBackendRedis {
		logger.Error("worker needs SESSION_BACKEND=redis to share the console session")
		os.Exit(1)
	}

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

	sessions := session.NewStore(session.NewRedisStorage(redisClient, ""), nil, logger.With(slog.String("component", "session")))
	adminJobs := jobs.NewAdminJobs(
		backend.NewClient(cfg.BackendURL, backend.WithTimeout(cfg.BackendTimeout)),
		sessions,
		analytics.NewReportCache(redisClient, cfg.ReportCacheTTL),
		logger,
		jobmetrics.NewMetrics(nil),
	)

	var cron []jobs.CronRegistration
	if cfg.BackupCron != "" {
		task, err := jobs.NewBackupTask("scheduled")
		if err != nil {
			logger.Error("build backup task", slog.Any("error", err))
			os.Exit(1)
		}
		cron = append(cron, jobs.CronRegistration{Spec: cfg.BackupCron, Task: task, Options: []asynq.Option{asynq.MaxRetry(3)}})
	}
	if cfg.SecurityReportCron != "" {
		task, err := jobs.NewSecurityReportTask(30)
		if err != nil {
			logger.Error("build security report task", slog.Any("error", err))
			os.Exit(1)
		}
		cron = append(cron, jobs.CronRegistration{Spec: cfg.SecurityReportCron, Task: task, Options: []asynq.Option{asynq.MaxRetry(3)}})
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB},
		Logger:    logger,
		Handlers:  adminJobs.Handlers(),
		Cron:      cron,
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
