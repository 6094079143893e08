package app

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wayne-enterprises/wayne-console/internal/observability"
	_ "github.com/wayne-enterprises/wayne-console/testing"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, SessionBackendFile, cfg.SessionBackend)
	assert.Equal(t, 30*time.Second, cfg.SyncInterval)
	assert.True(t, cfg.SyncAutoRefresh)
	assert.Equal(t, 100, cfg.NotifyMax)
	assert.False(t, cfg.IsProduction())
	assert.False(t, cfg.UsesRedis())
}

func TestLoadConfigRejectsUnknownSessionBackend(t *testing.T) {
	t.Setenv("SESSION_BACKEND", "sqlite")
	_, err := LoadConfig()
	require.Error(t, err)
}

func TestInTestMode(t *testing.T) {
	assert.True(t, InTestMode())
}

func TestRouterServesHealthAndMetrics(t *testing.T) {
	router := NewRouter(RouterParams{Config: &Config{RateLimitPerMinute: 10}, Metrics: observability.NewMetrics()})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rr.Body.String())
	assert.Equal(t, "nosniff", rr.Header().Get("X-Content-Type-Options"))

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `wayne_http_requests_total{code="200",route="/healthz"} 1`)
}
