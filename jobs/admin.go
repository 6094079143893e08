package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/hibiken/asynq"

	"github.com/wayne-enterprises/wayne-console/internal/analytics"
	"github.com/wayne-enterprises/wayne-console/internal/backend"
	jobmetrics "github.com/wayne-enterprises/wayne-console/internal/jobs"
	"github.com/wayne-enterprises/wayne-console/internal/session"
)

// ErrNoAdminSession means no stored principal may run admin tasks.
var ErrNoAdminSession = errors.New("jobs: no admin session available")

// AdminJobs runs backend admin operations on behalf of the stored principal.
type AdminJobs struct {
	Client   *backend.Client
	Sessions *session.Store
	Reports  *analytics.ReportCache
	Logger   *slog.Logger
	Metrics  *jobmetrics.Metrics
}

// NewAdminJobs constructs the admin task handlers.
func NewAdminJobs(client *backend.Client, sessions *session.Store, reports *analytics.ReportCache, logger *slog.Logger, metrics *jobmetrics.Metrics) *AdminJobs {
	return &AdminJobs{Client: client, Sessions: sessions, Reports: reports, Logger: logger, Metrics: metrics}
}

// Handlers lists the task handlers for worker registration.
func (j *AdminJobs) Handlers() []TaskHandler {
	return []TaskHandler{
		{Type: TaskAdminBackup, Handler: j.HandleBackup},
		{Type: TaskAdminSecurityReport, Handler: j.HandleSecurityReport},
	}
}

// HandleBackup asks the backend for a backup.
func (j *AdminJobs) HandleBackup(ctx context.Context, t *asynq.Task) (resultErr error) {
	var payload BackupPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	tracker := j.metrics().Track(TaskAdminBackup)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	token, err := j.adminToken(ctx)
	if err != nil {
		return err
	}
	res, err := j.Client.CreateBackup(ctx, token, payload.BackupType)
	if err != nil {
		return j.backendFailure(ctx, token, TaskAdminBackup, err)
	}
	j.logger().Info("backup created",
		slog.String("backup_type", res.BackupType),
		slog.String("path", res.BackupPath))
	return nil
}

// HandleSecurityReport fetches a fresh report, invalidates older cached copies
// and stores the new one under the bumped version.
func (j *AdminJobs) HandleSecurityReport(ctx context.Context, t *asynq.Task) (resultErr error) {
	var payload SecurityReportPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	if payload.Days <= 0 {
		payload.Days = 30
	}
	tracker := j.metrics().Track(TaskAdminSecurityReport)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	token, err := j.adminToken(ctx)
	if err != nil {
		return err
	}
	report, err := j.Client.SecurityReport(ctx, token, payload.Days)
	if err != nil {
		return j.backendFailure(ctx, token, TaskAdminSecurityReport, err)
	}

	if err := j.Reports.Bump(ctx); err != nil {
		return fmt.Errorf("jobs: security report: %w", err)
	}
	key, err := j.Reports.BuildKey(ctx, "security", strconv.Itoa(payload.Days))
	if err != nil {
		return fmt.Errorf("jobs: security report: %w", err)
	}
	var cached backend.Report
	if err := j.Reports.FetchJSON(ctx, key, &cached, func(context.Context) (any, error) {
		return report, nil
	}); err != nil {
		return fmt.Errorf("jobs: security report: %w", err)
	}

	for level, count := range alertsByLevel(report) {
		j.metrics().SetReportAlerts(level, count)
	}
	j.logger().Info("security report refreshed", slog.Int("days", payload.Days), slog.String("cache_key", key))
	return nil
}

// adminToken restores the shared session when needed and checks it may run
// admin tasks. Failures are not retried.
func (j *AdminJobs) adminToken(ctx context.Context) (string, error) {
	if j == nil || j.Client == nil || j.Sessions == nil {
		return "", fmt.Errorf("jobs: admin handler not configured: %w", asynq.SkipRetry)
	}
	if j.Sessions.State() != session.LoggedIn {
		if _, err := j.Sessions.Restore(ctx); err != nil {
			return "", fmt.Errorf("jobs: restore session: %w", err)
		}
	}
	p, ok := j.Sessions.Current()
	if !ok || !p.Capabilities().CanManageUsers {
		j.logger().Warn("admin task skipped", slog.Bool("logged_in", ok), slog.String("role", string(p.Role)))
		return "", fmt.Errorf("%w: %w", ErrNoAdminSession, asynq.SkipRetry)
	}
	return p.Token, nil
}

func (j *AdminJobs) backendFailure(ctx context.Context, token, task string, err error) error {
	j.logger().Error("admin task failed", slog.String("task", task), slog.Any("error", err))
	if backend.IsAuth(err) {
		j.Sessions.InvalidateToken(ctx, token, "")
		return fmt.Errorf("jobs: %s: %w: %w", task, err, asynq.SkipRetry)
	}
	return fmt.Errorf("jobs: %s: %w", task, err)
}

func (j *AdminJobs) logger() *slog.Logger {
	if j != nil && j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}

func (j *AdminJobs) metrics() *jobmetrics.Metrics {
	if j == nil {
		return nil
	}
	return j.Metrics
}

// alertsByLevel reads the alerts_by_level list of a security report.
func alertsByLevel(report backend.Report) map[string]int {
	out := make(map[string]int)
	rows, _ := report["alerts_by_level"].([]any)
	for _, row := range rows {
		m, ok := row.(map[string]any)
		if !ok {
			continue
		}
		level, _ := m["level"].(string)
		count, _ := m["count"].(float64)
		if level != "" {
			out[level] = int(count)
		}
	}
	return out
}
