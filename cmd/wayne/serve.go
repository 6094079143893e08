package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/hibiken/asynq"
	"github.com/spf13/cobra"

	"github.com/wayne-enterprises/wayne-console/internal/app"
	"github.com/wayne-enterprises/wayne-console/internal/console"
	"github.com/wayne-enterprises/wayne-console/internal/observability"
	"github.com/wayne-enterprises/wayne-console/jobs"
)

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := context.WithCancel(cmd.Context())
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		return err
	}
	logger := app.NewLogger(cfg)
	metrics := observability.NewMetrics()

	d, err := wireRuntime(ctx, cfg, logger, metrics.Registerer())
	if err != nil {
		return err
	}
	defer d.Close(logger)

	restored, err := d.runtime.Restore(ctx)
	if err != nil {
		logger.Warn("restore session", slog.Any("error", err))
	}
	logger.Info("console runtime ready", slog.Bool("session_restored", restored), slog.String("backend", cfg.BackendURL))

	if err := d.reports.ListenForInvalidation(ctx, func(version int64) {
		logger.Info("report cache bumped", slog.Int64("version", version))
	}); err != nil {
		logger.Warn("report cache listener", slog.Any("error", err))
	}

	var jobHandler *jobs.Handler
	if d.redis != nil {
		inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
		defer func() { _ = inspector.Close() }()
		jobHandler = jobs.NewHandler(inspector, logger)
	}

	router := app.NewRouter(app.RouterParams{
		Logger:         logger,
		Config:         cfg,
		ConsoleHandler: console.NewHandler(logger, d.runtime),
		JobHandler:     jobHandler,
		Metrics:        metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
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
	return nil
}
