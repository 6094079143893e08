package jobs

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
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wayne-enterprises/wayne-console/internal/analytics"
	"github.com/wayne-enterprises/wayne-console/internal/backend"
	jobmetrics "github.com/wayne-enterprises/wayne-console/internal/jobs"
	"github.com/wayne-enterprises/wayne-console/internal/rbac"
	"github.com/wayne-enterprises/wayne-console/internal/session"
	_ "github.com/wayne-enterprises/wayne-console/testing"
)

type adminFixture struct {
	jobs     *AdminJobs
	redis    *redis.Client
	storage  *session.RedisStorage
	status   atomic.Int32
	backups  atomic.Int32
	registry *prometheus.Registry
}

func newAdminFixture(t *testing.T) *adminFixture {
	t.Helper()
	f := &adminFixture{}
	f.status.Store(http.StatusOK)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if code := int(f.status.Load()); code != http.StatusOK {
			w.WriteHeader(code)
			_, _ = w.Write([]byte(`{"detail":"nope"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/admin/backup":
			f.backups.Add(1)
			_, _ = w.Write([]byte(`{"message":"ok","backup_path":"/var/backups/wayne.db","backup_type":"` + r.URL.Query().Get("backup_type") + `"}`))
		case "/admin/reports/security":
			_, _ = w.Write([]byte(`{"period_days":7,"alerts_by_level":[{"level":"high","count":4},{"level":"low","count":1}]}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)

	mr := miniredis.RunT(t)
	f.redis = redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = f.redis.Close() })
	f.storage = session.NewRedisStorage(f.redis, "")
	f.registry = prometheus.NewRegistry()

	f.jobs = NewAdminJobs(
		backend.NewClient(srv.URL),
		session.NewStore(f.storage, nil, nil),
		analytics.NewReportCache(f.redis, time.Minute),
		nil,
		jobmetrics.NewMetrics(f.registry),
	)
	return f
}

func (f *adminFixture) storePrincipal(t *testing.T, role rbac.Role) {
	t.Helper()
	raw, err := json.Marshal(session.Principal{Username: "bruce", Role: role, Token: "tok"})
	require.NoError(t, err)
	require.NoError(t, f.storage.Set(context.Background(), session.PrincipalKey, raw))
}

func TestBackupRunsWithStoredAdminSession(t *testing.T) {
	f := newAdminFixture(t)
	f.storePrincipal(t, rbac.RoleAdmin)

	task, err := NewBackupTask("")
	require.NoError(t, err)
	require.NoError(t, f.jobs.HandleBackup(context.Background(), task))
	assert.EqualValues(t, 1, f.backups.Load())
}

func TestBackupSkipsWithoutAdmin(t *testing.T) {
	f := newAdminFixture(t)
	task, err := NewBackupTask("manual")
	require.NoError(t, err)

	err = f.jobs.HandleBackup(context.Background(), task)
	require.ErrorIs(t, err, asynq.SkipRetry)
	require.ErrorIs(t, err, ErrNoAdminSession)

	f.storePrincipal(t, rbac.RoleGerente)
	err = f.jobs.HandleBackup(context.Background(), task)
	require.ErrorIs(t, err, asynq.SkipRetry)
	assert.Zero(t, f.backups.Load())
}

func TestRejectedTokenInvalidatesSharedSession(t *testing.T) {
	f := newAdminFixture(t)
	f.storePrincipal(t, rbac.RoleAdmin)
	f.status.Store(http.StatusUnauthorized)

	task, err := NewBackupTask("")
	require.NoError(t, err)
	err = f.jobs.HandleBackup(context.Background(), task)
	require.ErrorIs(t, err, asynq.SkipRetry)
	assert.Equal(t, session.LoggedOut, f.jobs.Sessions.State())

	_, err = f.storage.Get(context.Background(), session.PrincipalKey)
	assert.ErrorIs(t, err, session.ErrKeyNotFound)
}

func TestServerErrorIsRetried(t *testing.T) {
	f := newAdminFixture(t)
	f.storePrincipal(t, rbac.RoleAdmin)
	f.status.Store(http.StatusInternalServerError)

	task, err := NewSecurityReportTask(7)
	require.NoError(t, err)
	err = f.jobs.HandleSecurityReport(context.Background(), task)
	require.Error(t, err)
	assert.NotErrorIs(t, err, asynq.SkipRetry)
	assert.Equal(t, session.LoggedIn, f.jobs.Sessions.State())
}

func TestSecurityReportRefreshesCache(t *testing.T) {
	f := newAdminFixture(t)
	f.storePrincipal(t, rbac.RoleAdmin)
	ctx := context.Background()

	task, err := NewSecurityReportTask(7)
	require.NoError(t, err)
	require.NoError(t, f.jobs.HandleSecurityReport(ctx, task))

	key, err := f.jobs.Reports.BuildKey(ctx, "security", "7")
	require.NoError(t, err)
	assert.Equal(t, "wayne:reports:security:7:1", key)
	raw, err := f.redis.Get(ctx, key).Result()
	require.NoError(t, err)
	assert.Contains(t, raw, "alerts_by_level")

	expected := `
# HELP wayne_security_report_alerts Alerts per level in the most recent scheduled security report.
# TYPE wayne_security_report_alerts gauge
wayne_security_report_alerts{level="high"} 4
wayne_security_report_alerts{level="low"} 1
`
	require.NoError(t, testutil.GatherAndCompare(f.registry, strings.NewReader(expected), "wayne_security_report_alerts"))
}

func TestMalformedPayloadIsNotRetried(t *testing.T) {
	f := newAdminFixture(t)
	err := f.jobs.HandleSecurityReport(context.Background(), asynq.NewTask(TaskAdminSecurityReport, []byte("{")))
	assert.ErrorIs(t, err, asynq.SkipRetry)
}
