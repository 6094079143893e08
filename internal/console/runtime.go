// Package console wires the session, sync, notification and threat components
// into one runtime and exposes it over a local JSON API.
package console

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/wayne-enterprises/wayne-console/internal/analytics"
	"github.com/wayne-enterprises/wayne-console/internal/backend"
	"github.com/wayne-enterprises/wayne-console/internal/notify"
	"github.com/wayne-enterprises/wayne-console/internal/rbac"
	"github.com/wayne-enterprises/wayne-console/internal/session"
	"github.com/wayne-enterprises/wayne-console/internal/shared"
	"github.com/wayne-enterprises/wayne-console/internal/syncer"
	"github.com/wayne-enterprises/wayne-console/internal/threat"
)

// Resource kinds kept in the sync state container.
const (
	KindDashboard = "dashboard"
	KindAlerts    = "alerts"
	KindSummary   = "summary"
	KindResources = "resources"
	KindUsers     = "users"
)

// Options groups the runtime collaborators.
type Options struct {
	Client        *backend.Client
	Sessions      *session.Store
	Engine        *syncer.Engine
	Notifications *notify.Queue
	Detector      *threat.Detector
	Tracker       *analytics.Tracker
	Preferences   *session.Preferences
	Reports       *analytics.ReportCache
	Logger        *slog.Logger
}

// Runtime drives the console lifecycle: login, polling and logout.
type Runtime struct {
	client        *backend.Client
	sessions      *session.Store
	engine        *syncer.Engine
	notifications *notify.Queue
	detector      *threat.Detector
	tracker       *analytics.Tracker
	prefs         *session.Preferences
	reports       *analytics.ReportCache
	logger        *slog.Logger
	unsubscribe   func()
}

// NewRuntime constructs a Runtime and links the engine to session transitions.
func NewRuntime(opts Options) *Runtime {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	r := &Runtime{
		client:        opts.Client,
		sessions:      opts.Sessions,
		engine:        opts.Engine,
		notifications: opts.Notifications,
		detector:      opts.Detector,
		tracker:       opts.Tracker,
		prefs:         opts.Preferences,
		reports:       opts.Reports,
		logger:        logger,
	}
	r.unsubscribe = r.sessions.Subscribe(r.onSessionEvent)
	return r
}

// Close detaches the runtime and stops polling.
func (r *Runtime) Close() {
	if r.unsubscribe != nil {
		r.unsubscribe()
	}
	r.engine.Stop()
}

func (r *Runtime) onSessionEvent(ev session.Event) {
	switch ev.State {
	case session.LoggedIn:
		if ev.Principal == nil {
			return
		}
		r.engine.SetResources(r.resourcesFor(*ev.Principal))
		r.engine.Start(ev.Principal.Token)
	case session.LoggedOut:
		r.engine.Stop()
		r.engine.Reset()
	}
}

func (r *Runtime) resourcesFor(p session.Principal) []syncer.Resource {
	resources := []syncer.Resource{
		{Kind: KindDashboard, Fetch: func(ctx context.Context, token string) (any, error) {
			return r.client.Dashboard(ctx, token)
		}},
		{Kind: KindAlerts, Fetch: func(ctx context.Context, token string) (any, error) {
			return r.client.Alerts(ctx, token)
		}},
		{Kind: KindSummary, Fetch: func(ctx context.Context, token string) (any, error) {
			return r.client.DashboardSummary(ctx, token)
		}},
		{Kind: KindResources, Fetch: func(ctx context.Context, token string) (any, error) {
			return r.client.Resources(ctx, token)
		}},
	}
	if p.Capabilities().CanManageUsers {
		resources = append(resources, syncer.Resource{Kind: KindUsers, Fetch: func(ctx context.Context, token string) (any, error) {
			return r.client.Users(ctx, token)
		}})
	}
	return resources
}

// Login authenticates against the backend and activates the session. On
// failure the session stays LoggedOut and the *backend.Error is returned.
func (r *Runtime) Login(ctx context.Context, username, password, source string) (session.Principal, error) {
	res, err := r.client.Login(ctx, backend.Credentials{Username: username, Password: password})
	if err != nil {
		r.tracker.Track(analytics.Activity{
			Name:       "login_failed",
			SourceKey:  source,
			Properties: map[string]any{"username": username, "reason": errorKind(err)},
		})
		r.logger.Warn("login failed", slog.String("username", username), slog.Any("error", err))
		return session.Principal{}, err
	}

	p := session.Principal{Username: res.Username, Role: rbac.Role(res.Role), Token: res.Token}
	if err := r.sessions.Login(ctx, p); err != nil {
		if errors.Is(err, shared.ErrValidation) {
			return session.Principal{}, fmt.Errorf("console: login: %w", err)
		}
		r.logger.Warn("session not persisted", slog.Any("error", err))
		r.notifications.Push("Logged in, but the session could not be saved on this device.", notify.KindWarning, 0)
	}

	current, _ := r.sessions.Current()
	r.tracker.Track(analytics.Activity{
		Name:       "login_success",
		SourceKey:  source,
		Properties: map[string]any{"username": current.Username, "role": string(current.Role)},
	})
	r.notifications.Push("Welcome, "+current.Username+"!", notify.KindSuccess, 0)
	return current, nil
}

// Logout revokes the token on a best-effort basis and ends the session.
func (r *Runtime) Logout(ctx context.Context) error {
	p, ok := r.sessions.Current()
	if !ok {
		return nil
	}
	if err := r.client.Logout(ctx, p.Token); err != nil {
		r.logger.Warn("backend logout", slog.Any("error", err))
	}
	r.engine.Stop()
	r.engine.Reset()
	r.tracker.TrackEvent("logout", map[string]any{"username": p.Username})
	return r.sessions.Logout(ctx)
}

// Restore resumes a persisted session. Polling starts when one is found.
func (r *Runtime) Restore(ctx context.Context) (bool, error) {
	return r.sessions.Restore(ctx)
}

// Refresh runs one sync cycle now.
func (r *Runtime) Refresh(ctx context.Context) error {
	return r.engine.ForceRefresh(ctx)
}

// Status is a point-in-time view of the console.
type Status struct {
	State          session.State        `json:"state"`
	Username       string               `json:"username,omitempty"`
	Role           rbac.Role            `json:"role,omitempty"`
	RoleName       string               `json:"role_name,omitempty"`
	Capabilities   rbac.Capabilities    `json:"capabilities"`
	TokenExpiresAt *time.Time           `json:"token_expires_at,omitempty"`
	Polling        bool                 `json:"polling"`
	NetworkStatus  syncer.NetworkStatus `json:"network_status"`
	LastSuccessAt  *time.Time           `json:"last_success_at,omitempty"`
	Notifications  int                  `json:"notifications"`
}

// Status reports the session and sync state.
func (r *Runtime) Status() Status {
	st := r.engine.State()
	out := Status{
		State:         r.sessions.State(),
		Capabilities:  rbac.ReadOnly,
		Polling:       r.engine.Running(),
		NetworkStatus: st.NetworkStatus,
		LastSuccessAt: st.LastSuccessAt,
		Notifications: r.notifications.Len(),
	}
	if p, ok := r.sessions.Current(); ok {
		out.Username = p.Username
		out.Role = p.Role
		out.RoleName = p.Role.DisplayName()
		out.Capabilities = p.Capabilities()
		if exp, ok := p.TokenExpiry(); ok {
			out.TokenExpiresAt = &exp
		}
	}
	return out
}

// SyncState returns the polled state container.
func (r *Runtime) SyncState() syncer.State {
	return r.engine.State()
}

// Notifications exposes the queue.
func (r *Runtime) Notifications() *notify.Queue {
	return r.notifications
}

// Detector exposes the threat detector.
func (r *Runtime) Detector() *threat.Detector {
	return r.detector
}

// Tracker exposes the activity tracker.
func (r *Runtime) Tracker() *analytics.Tracker {
	return r.tracker
}

// Preferences exposes the preference store.
func (r *Runtime) Preferences() *session.Preferences {
	return r.prefs
}

// Sessions exposes the session store.
func (r *Runtime) Sessions() *session.Store {
	return r.sessions
}

// authorize returns the active token when the principal passes check.
func (r *Runtime) authorize(check rbac.Check) (string, error) {
	p, ok := r.sessions.Current()
	if !ok {
		return "", shared.ErrNotLoggedIn
	}
	if check != nil && !check(p.Capabilities()) {
		r.tracker.TrackEvent("access_denied", map[string]any{"username": p.Username, "role": string(p.Role)})
		return "", shared.ErrForbidden
	}
	return p.Token, nil
}

// settle handles the outcome of a pass-through backend call: auth failures end
// the session, successes are announced and trigger a refresh.
func (r *Runtime) settle(ctx context.Context, token, op string, err error, success string) error {
	if err != nil {
		if backend.IsAuth(err) {
			r.sessions.InvalidateToken(ctx, token, "")
		}
		r.tracker.TrackError(err, map[string]any{"operation": op})
		return fmt.Errorf("console: %s: %w", op, err)
	}
	r.tracker.TrackEvent(op, nil)
	if success != "" {
		r.notifications.Push(success, notify.KindSuccess, 0)
	}
	if err := r.engine.ForceRefresh(ctx); err != nil && !backend.IsAuth(err) {
		r.logger.Debug("refresh after change", slog.String("operation", op), slog.Any("error", err))
	}
	return nil
}

// CreateResource adds an inventory resource.
func (r *Runtime) CreateResource(ctx context.Context, in backend.ResourceInput) (backend.Resource, error) {
	token, err := r.authorize(rbac.CanEdit)
	if err != nil {
		return backend.Resource{}, err
	}
	res, err := r.client.CreateResource(ctx, token, in)
	return res, r.settle(ctx, token, "resource_created", err, "Resource added successfully.")
}

// UpdateResource edits an inventory resource.
func (r *Runtime) UpdateResource(ctx context.Context, id backend.ID, in backend.ResourceInput) (backend.Resource, error) {
	token, err := r.authorize(rbac.CanEdit)
	if err != nil {
		return backend.Resource{}, err
	}
	res, err := r.client.UpdateResource(ctx, token, id, in)
	return res, r.settle(ctx, token, "resource_updated", err, "Resource updated successfully.")
}

// DeleteResource removes an inventory resource.
func (r *Runtime) DeleteResource(ctx context.Context, id backend.ID) error {
	token, err := r.authorize(rbac.CanDelete)
	if err != nil {
		return err
	}
	return r.settle(ctx, token, "resource_deleted", r.client.DeleteResource(ctx, token, id), "Resource removed successfully.")
}

// UpdateAlert edits an alert.
func (r *Runtime) UpdateAlert(ctx context.Context, id backend.ID, update backend.AlertUpdate) (backend.Alert, error) {
	token, err := r.authorize(rbac.CanEdit)
	if err != nil {
		return backend.Alert{}, err
	}
	alert, err := r.client.UpdateAlert(ctx, token, id, update)
	return alert, r.settle(ctx, token, "alert_updated", err, "Alert updated successfully.")
}

// DeleteAlert removes an alert.
func (r *Runtime) DeleteAlert(ctx context.Context, id backend.ID) error {
	token, err := r.authorize(rbac.CanDelete)
	if err != nil {
		return err
	}
	return r.settle(ctx, token, "alert_deleted", r.client.DeleteAlert(ctx, token, id), "Alert removed successfully.")
}

// Users lists accounts for principals that manage users.
func (r *Runtime) Users(ctx context.Context) ([]backend.User, error) {
	token, err := r.authorize(rbac.CanManageUsers)
	if err != nil {
		return nil, err
	}
	users, err := r.client.Users(ctx, token)
	if err != nil {
		if backend.IsAuth(err) {
			r.sessions.InvalidateToken(ctx, token, "")
		}
		return nil, fmt.Errorf("console: users: %w", err)
	}
	return users, nil
}

// SecurityReport returns the backend security report, cached when Redis is configured.
func (r *Runtime) SecurityReport(ctx context.Context, days int) (backend.Report, error) {
	token, err := r.authorize(rbac.CanEdit)
	if err != nil {
		return nil, err
	}
	if days <= 0 {
		days = 30
	}
	cache := r.reports
	key, err := cache.BuildKey(ctx, "security", strconv.Itoa(days))
	if err != nil {
		r.logger.Warn("report cache unavailable", slog.Any("error", err))
		cache = nil
	}
	var report backend.Report
	err = cache.FetchJSON(ctx, key, &report, func(ctx context.Context) (any, error) {
		return r.client.SecurityReport(ctx, token, days)
	})
	if err != nil {
		if backend.IsAuth(err) {
			r.sessions.InvalidateToken(ctx, token, "")
		}
		return nil, fmt.Errorf("console: security report: %w", err)
	}
	return report, nil
}

func errorKind(err error) string {
	if be, ok := backend.AsError(err); ok {
		return string(be.Kind)
	}
	return "unknown"
}
