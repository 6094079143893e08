package e2e

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wayne-enterprises/wayne-console/internal/analytics"
	"github.com/wayne-enterprises/wayne-console/internal/app"
	"github.com/wayne-enterprises/wayne-console/internal/backend"
	"github.com/wayne-enterprises/wayne-console/internal/console"
	"github.com/wayne-enterprises/wayne-console/internal/notify"
	"github.com/wayne-enterprises/wayne-console/internal/observability"
	"github.com/wayne-enterprises/wayne-console/internal/session"
	"github.com/wayne-enterprises/wayne-console/internal/syncer"
	"github.com/wayne-enterprises/wayne-console/internal/threat"
	"github.com/wayne-enterprises/wayne-console/jobs"
	_ "github.com/wayne-enterprises/wayne-console/testing"
)

func fakeBackend(reports *atomic.Int32) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Path != "/auth/login" && r.Header.Get("Authorization") != "Bearer tok-bruce" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"detail":"Not authenticated"}`))
			return
		}
		switch r.URL.Path {
		case "/auth/login":
			_, _ = w.Write([]byte(`{"success":true,"data":{"username":"bruce","role":"admin","access_token":"tok-bruce"}}`))
		case "/admin/reports/security":
			reports.Add(1)
			_, _ = w.Write([]byte(`{"period_days":30,"alerts_by_level":[{"level":"critical","count":2}]}`))
		case "/dashboard/alerts", "/resources/", "/users/":
			_, _ = w.Write([]byte(`{"success":true,"data":[]}`))
		default:
			_, _ = w.Write([]byte(`{"success":true,"data":{}}`))
		}
	}))
}

func TestWorkerSharesConsoleSessionAndReportCache(t *testing.T) {
	ctx := context.Background()
	var reports atomic.Int32
	srv := fakeBackend(&reports)
	t.Cleanup(srv.Close)

	mr := miniredis.RunT(t)
	redisClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = redisClient.Close() })

	client := backend.NewClient(srv.URL)
	storage := session.NewRedisStorage(redisClient, "")
	queue := notify.NewQueue(notify.Config{})
	t.Cleanup(queue.Clear)
	sessions := session.NewStore(storage, queue, nil)
	cfg := syncer.DefaultConfig()
	cfg.AutoRefresh = false
	detector := threat.NewDetector(threat.Config{})
	cache := analytics.NewReportCache(redisClient, time.Minute)
	runtime := console.NewRuntime(console.Options{
		Client:        client,
		Sessions:      sessions,
		Engine:        syncer.NewEngine(cfg, sessions, queue, nil, nil),
		Notifications: queue,
		Detector:      detector,
		Tracker:       analytics.NewTracker(analytics.Config{}, detector, queue, nil),
		Preferences:   session.NewPreferences(storage),
		Reports:       cache,
	})
	t.Cleanup(runtime.Close)

	metrics := observability.NewMetrics()
	router := app.NewRouter(app.RouterParams{
		Config:         &app.Config{RateLimitPerMinute: 100},
		ConsoleHandler: console.NewHandler(nil, runtime),
		Metrics:        metrics,
	})

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/login", strings.NewReader(`{"username":"bruce","password":"alfred123"}`))
	router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	worker := jobs.NewAdminJobs(client, session.NewStore(storage, nil, nil), cache, nil, nil)
	task, err := jobs.NewSecurityReportTask(30)
	require.NoError(t, err)
	require.NoError(t, worker.HandleSecurityReport(ctx, task))
	require.EqualValues(t, 1, reports.Load())

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/reports/security", nil))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var report map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &report))
	assert.Contains(t, report, "alerts_by_level")
	assert.EqualValues(t, 1, reports.Load(), "console should read the report the worker cached")

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/refresh", nil))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Contains(t, rr.Body.String(), `"network_status":"online"`)

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Contains(t, rr.Body.String(), `route="/api/login"`)
}
