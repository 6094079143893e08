package rbac

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCapabilitiesFor(t *testing.T) {
	cases := []struct {
		role Role
		want Capabilities
	}{
		{RoleAdmin, Capabilities{CanEdit: true, CanManageUsers: true, CanDelete: true}},
		{RoleGerente, Capabilities{CanEdit: true, CanDelete: true}},
		{RoleEmpregado, ReadOnly},
		{RoleGuest, ReadOnly},
		{Role("admin"), Capabilities{CanEdit: true, CanManageUsers: true, CanDelete: true}},
		{Role(""), ReadOnly},
		{Role("ROOT"), ReadOnly},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, CapabilitiesFor(tc.role), "role %q", tc.role)
	}
	assert.True(t, CapabilitiesFor(RoleAdmin).CanManageUsers)
	assert.False(t, CapabilitiesFor(RoleGuest).CanManageUsers)
}

func TestParseRoleAndDisplayName(t *testing.T) {
	role, ok := ParseRole(" gerente ")
	assert.True(t, ok)
	assert.Equal(t, RoleGerente, role)
	assert.Equal(t, "Gerente", role.DisplayName())

	role, ok = ParseRole("user")
	assert.True(t, ok)
	assert.Equal(t, RoleGuest, role)
	assert.Equal(t, ReadOnly, CapabilitiesFor("user"))

	_, ok = ParseRole("analista")
	assert.False(t, ok)
	assert.False(t, Role("analista").Valid())
}

type staticRoles struct {
	role Role
	ok   bool
}

func (s staticRoles) CurrentRole() (Role, bool) { return s.role, s.ok }

func TestMiddlewareRequire(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	serve := func(src RoleSource, checks ...Check) int {
		rr := httptest.NewRecorder()
		Middleware{Roles: src}.Require(checks...)(next).ServeHTTP(rr, httptest.NewRequest(http.MethodDelete, "/api/resources/1", nil))
		return rr.Code
	}

	assert.Equal(t, http.StatusNoContent, serve(staticRoles{RoleGerente, true}, CanEdit, CanDelete))
	assert.Equal(t, http.StatusForbidden, serve(staticRoles{RoleGerente, true}, CanManageUsers))
	assert.Equal(t, http.StatusForbidden, serve(staticRoles{RoleGuest, true}, CanEdit))
	assert.Equal(t, http.StatusUnauthorized, serve(staticRoles{}, CanEdit))
	assert.Equal(t, http.StatusUnauthorized, serve(nil, CanEdit))
}
