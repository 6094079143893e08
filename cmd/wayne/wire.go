package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/wayne-enterprises/wayne-console/internal/analytics"
	"github.com/wayne-enterprises/wayne-console/internal/app"
	"github.com/wayne-enterprises/wayne-console/internal/backend"
	"github.com/wayne-enterprises/wayne-console/internal/console"
	"github.com/wayne-enterprises/wayne-console/internal/notify"
	"github.com/wayne-enterprises/wayne-console/internal/platform/cache"
	"github.com/wayne-enterprises/wayne-console/internal/session"
	"github.com/wayne-enterprises/wayne-console/internal/syncer"
	"github.com/wayne-enterprises/wayne-console/internal/threat"
)

// deps is the assembled console runtime plus the resources it owns.
type deps struct {
	runtime *console.Runtime
	redis   *redis.Client
	reports *analytics.ReportCache
}

func (d *deps) Close(logger *slog.Logger) {
	d.runtime.Close()
	if d.redis != nil {
		if err := d.redis.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}
}

// wireRuntime builds the console components from configuration. A nil
// registerer skips sync metrics.
func wireRuntime(ctx context.Context, cfg *app.Config, logger *slog.Logger, registerer prometheus.Registerer) (*deps, error) {
	var redisClient *redis.Client
	if cfg.UsesRedis() {
		client, err := cache.New(ctx, cache.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
		if err != nil {
			return nil, err
		}
		redisClient = client
	}

	var storage session.Storage
	if cfg.SessionBackend == app.SessionBackendRedis {
		storage = session.NewRedisStorage(redisClient, "")
	} else {
		fs, err := session.NewFileStorage(cfg.SessionDir)
		if err != nil {
			if redisClient != nil {
				_ = redisClient.Close()
			}
			return nil, fmt.Errorf("wire: session storage: %w", err)
		}
		storage = fs
	}

	queue := notify.NewQueue(notify.Config{DefaultDuration: cfg.NotifyDuration, MaxEntries: cfg.NotifyMax})
	sessions := session.NewStore(storage, queue, logger.With(slog.String("component", "session")))

	var metrics *syncer.Metrics
	if registerer != nil {
		metrics = syncer.NewMetrics(registerer)
	}
	engineCfg := syncer.DefaultConfig()
	engineCfg.Interval = cfg.SyncInterval
	engineCfg.AutoRefresh = cfg.SyncAutoRefresh
	engine := syncer.NewEngine(engineCfg, sessions, queue, logger.With(slog.String("component", "syncer")), metrics)

	detector := threat.NewDetector(threat.Config{Capacity: cfg.ThreatCapacity})
	reports := analytics.NewReportCache(redisClient, cfg.ReportCacheTTL)

	runtime := console.NewRuntime(console.Options{
		Client:        backend.NewClient(cfg.BackendURL, backend.WithTimeout(cfg.BackendTimeout)),
		Sessions:      sessions,
		Engine:        engine,
		Notifications: queue,
		Detector:      detector,
		Tracker:       analytics.NewTracker(analytics.Config{}, detector, queue, logger.With(slog.String("component", "analytics"))),
		Preferences:   session.NewPreferences(storage),
		Reports:       reports,
		Logger:        logger,
	})
	return &deps{runtime: runtime, redis: redisClient, reports: reports}, nil
}
