package console

import (
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/wayne-enterprises/wayne-console/internal/analytics"
	"github.com/wayne-enterprises/wayne-console/internal/backend"
	"github.com/wayne-enterprises/wayne-console/internal/platform/httpx"
	"github.com/wayne-enterprises/wayne-console/internal/rbac"
	"github.com/wayne-enterprises/wayne-console/internal/threat"
)

// Handler exposes the runtime as a local JSON API.
type Handler struct {
	logger    *slog.Logger
	runtime   *Runtime
	rbac      rbac.Middleware
	validator *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, runtime *Runtime) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger:    logger,
		runtime:   runtime,
		rbac:      rbac.Middleware{Roles: runtime.Sessions(), Logger: logger},
		validator: validator.New(),
	}
}

// MountRoutes registers console routes on the provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/login", h.login)
	r.Post("/logout", h.logout)
	r.Get("/session", h.session)
	r.Get("/state", h.state)
	r.Post("/refresh", h.refresh)

	r.Get("/notifications", h.listNotifications)
	r.Delete("/notifications", h.clearNotifications)
	r.Delete("/notifications/{id}", h.dismissNotification)

	r.Get("/threats", h.listThreats)
	r.Get("/threats/summary", h.threatSummary)
	r.Post("/activity", h.trackActivity)
	r.Get("/analytics/summary", h.analyticsSummary)
	r.Delete("/analytics", h.resetAnalytics)

	r.Get("/preferences", h.getPreferences)
	r.Put("/preferences", h.putPreferences)

	r.With(h.rbac.Require(rbac.CanEdit)).Post("/resources", h.createResource)
	r.With(h.rbac.Require(rbac.CanEdit)).Put("/resources/{id}", h.updateResource)
	r.With(h.rbac.Require(rbac.CanDelete)).Delete("/resources/{id}", h.deleteResource)
	r.With(h.rbac.Require(rbac.CanEdit)).Put("/alerts/{id}", h.updateAlert)
	r.With(h.rbac.Require(rbac.CanDelete)).Delete("/alerts/{id}", h.deleteAlert)
	r.With(h.rbac.Require(rbac.CanManageUsers)).Get("/users", h.listUsers)
	r.With(h.rbac.Require(rbac.CanEdit)).Get("/reports/security", h.securityReport)
}

type loginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type preferencesBody struct {
	DarkMode *bool `json:"dark_mode" validate:"required"`
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !h.decode(w, r, &req) {
		return
	}
	if _, err := h.runtime.Login(r.Context(), req.Username, req.Password, clientKey(r)); err != nil {
		h.fail(w, "login", err)
		return
	}
	httpx.JSON(w, http.StatusOK, h.runtime.Status())
}

func (h *Handler) logout(w http.ResponseWriter, r *http.Request) {
	if err := h.runtime.Logout(r.Context()); err != nil {
		h.logger.Warn("logout", slog.Any("error", err))
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) session(w http.ResponseWriter, _ *http.Request) {
	httpx.JSON(w, http.StatusOK, h.runtime.Status())
}

func (h *Handler) state(w http.ResponseWriter, _ *http.Request) {
	httpx.JSON(w, http.StatusOK, h.runtime.SyncState())
}

func (h *Handler) refresh(w http.ResponseWriter, r *http.Request) {
	if err := h.runtime.Refresh(r.Context()); err != nil {
		h.fail(w, "refresh", err)
		return
	}
	httpx.JSON(w, http.StatusOK, h.runtime.SyncState())
}

func (h *Handler) listNotifications(w http.ResponseWriter, _ *http.Request) {
	httpx.JSON(w, http.StatusOK, h.runtime.Notifications().List())
}

func (h *Handler) clearNotifications(w http.ResponseWriter, _ *http.Request) {
	h.runtime.Notifications().Clear()
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) dismissNotification(w http.ResponseWriter, r *http.Request) {
	h.runtime.Notifications().Dismiss(chi.URLParam(r, "id"))
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) listThreats(w http.ResponseWriter, r *http.Request) {
	level := threat.RiskLevel(r.URL.Query().Get("level"))
	records := h.runtime.Detector().Records(level)
	if records == nil {
		records = []threat.Record{}
	}
	httpx.JSON(w, http.StatusOK, records)
}

func (h *Handler) threatSummary(w http.ResponseWriter, _ *http.Request) {
	httpx.JSON(w, http.StatusOK, h.runtime.Detector().Summary())
}

type activityResponse struct {
	Event  analytics.Event `json:"event"`
	Threat *threat.Record  `json:"threat,omitempty"`
}

func (h *Handler) trackActivity(w http.ResponseWriter, r *http.Request) {
	var activity analytics.Activity
	if !h.decode(w, r, &activity) {
		return
	}
	if activity.SourceKey == "" {
		activity.SourceKey = clientKey(r)
	}
	ev, rec := h.runtime.Tracker().Track(activity)
	httpx.JSON(w, http.StatusAccepted, activityResponse{Event: ev, Threat: rec})
}

type analyticsResponse struct {
	Summary  analytics.Summary        `json:"summary"`
	Security analytics.SecurityReport `json:"security"`
}

func (h *Handler) analyticsSummary(w http.ResponseWriter, _ *http.Request) {
	tracker := h.runtime.Tracker()
	httpx.JSON(w, http.StatusOK, analyticsResponse{Summary: tracker.Summary(), Security: tracker.SecurityReport()})
}

func (h *Handler) resetAnalytics(w http.ResponseWriter, _ *http.Request) {
	h.runtime.Tracker().Reset()
	h.runtime.Detector().Reset()
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) getPreferences(w http.ResponseWriter, r *http.Request) {
	dark, err := h.runtime.Preferences().DarkMode(r.Context())
	if err != nil {
		h.fail(w, "read preferences", err)
		return
	}
	httpx.JSON(w, http.StatusOK, preferencesBody{DarkMode: &dark})
}

func (h *Handler) putPreferences(w http.ResponseWriter, r *http.Request) {
	var body preferencesBody
	if !h.decode(w, r, &body) {
		return
	}
	if err := h.runtime.Preferences().SetDarkMode(r.Context(), *body.DarkMode); err != nil {
		h.fail(w, "write preferences", err)
		return
	}
	httpx.JSON(w, http.StatusOK, body)
}

func (h *Handler) createResource(w http.ResponseWriter, r *http.Request) {
	var in backend.ResourceInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	res, err := h.runtime.CreateResource(r.Context(), in)
	if err != nil {
		h.fail(w, "create resource", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, res)
}

func (h *Handler) updateResource(w http.ResponseWriter, r *http.Request) {
	var in backend.ResourceInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	res, err := h.runtime.UpdateResource(r.Context(), backend.ID(chi.URLParam(r, "id")), in)
	if err != nil {
		h.fail(w, "update resource", err)
		return
	}
	httpx.JSON(w, http.StatusOK, res)
}

func (h *Handler) deleteResource(w http.ResponseWriter, r *http.Request) {
	if err := h.runtime.DeleteResource(r.Context(), backend.ID(chi.URLParam(r, "id"))); err != nil {
		h.fail(w, "delete resource", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) updateAlert(w http.ResponseWriter, r *http.Request) {
	var update backend.AlertUpdate
	if err := httpx.DecodeJSON(r, &update); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	alert, err := h.runtime.UpdateAlert(r.Context(), backend.ID(chi.URLParam(r, "id")), update)
	if err != nil {
		h.fail(w, "update alert", err)
		return
	}
	httpx.JSON(w, http.StatusOK, alert)
}

func (h *Handler) deleteAlert(w http.ResponseWriter, r *http.Request) {
	if err := h.runtime.DeleteAlert(r.Context(), backend.ID(chi.URLParam(r, "id"))); err != nil {
		h.fail(w, "delete alert", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) listUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.runtime.Users(r.Context())
	if err != nil {
		h.fail(w, "list users", err)
		return
	}
	if users == nil {
		users = []backend.User{}
	}
	httpx.JSON(w, http.StatusOK, users)
}

func (h *Handler) securityReport(w http.ResponseWriter, r *http.Request) {
	days := 0
	if raw := r.URL.Query().Get("days"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			httpx.Problem(w, http.StatusBadRequest, "Invalid Query", "days must be a positive integer")
			return
		}
		days = parsed
	}
	report, err := h.runtime.SecurityReport(r.Context(), days)
	if err != nil {
		h.fail(w, "security report", err)
		return
	}
	httpx.JSON(w, http.StatusOK, report)
}

// decode reads a JSON body and runs struct validation, answering 400 on failure.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, target any) bool {
	if err := httpx.DecodeJSON(r, target); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return false
	}
	if err := h.validator.Struct(target); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
			return false
		}
		fields := make(map[string]string, len(verrs))
		for _, fieldErr := range verrs {
			fields[fieldErr.Field()] = fieldErr.Tag()
		}
		httpx.JSON(w, http.StatusBadRequest, httpx.ValidationProblem{
			ProblemDetail: httpx.ProblemDetail{Title: "Validation Failed", Status: http.StatusBadRequest},
			Fields:        fields,
		})
		return false
	}
	return true
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	if be, ok := backend.AsError(err); !ok || be.Kind != backend.KindValidation {
		h.logger.Warn("console request failed", slog.String("operation", op), slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}

func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
