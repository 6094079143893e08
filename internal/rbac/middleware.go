package rbac

import (
	"log/slog"
	"net/http"
)

// Middleware wires RBAC authorization helpers for HTTP handlers.
type Middleware struct {
	Roles  RoleSource
	Logger *slog.Logger
}

// Require ensures the current principal's capabilities satisfy every check.
func (m Middleware) Require(checks ...Check) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if m.Roles == nil {
				http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
				return
			}
			role, ok := m.Roles.CurrentRole()
			if !ok {
				http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
				return
			}
			caps := CapabilitiesFor(role)
			for _, check := range checks {
				if check == nil || check(caps) {
					continue
				}
				if m.Logger != nil {
					m.Logger.Warn("rbac denied", slog.String("role", string(role)), slog.String("path", r.URL.Path))
				}
				http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
