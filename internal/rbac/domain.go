package rbac

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Role is the closed set of console roles issued by the backend.
type Role string

const (
	RoleAdmin     Role = "ADMIN"
	RoleGerente   Role = "GERENTE"
	RoleEmpregado Role = "EMPREGADO"
	RoleGuest     Role = "GUEST"
)

// Roles lists every known role, most privileged first.
func Roles() []Role {
	return []Role{RoleAdmin, RoleGerente, RoleEmpregado, RoleGuest}
}

// ParseRole maps a backend role string onto a Role. The backend emits lowercase
// names and uses "user" for guest accounts.
func ParseRole(raw string) (Role, bool) {
	switch Role(strings.ToUpper(strings.TrimSpace(raw))) {
	case RoleAdmin:
		return RoleAdmin, true
	case RoleGerente:
		return RoleGerente, true
	case RoleEmpregado:
		return RoleEmpregado, true
	case RoleGuest, "USER":
		return RoleGuest, true
	default:
		return "", false
	}
}

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	_, ok := ParseRole(string(r))
	return ok
}

// DisplayName renders the role for people, e.g. "Gerente".
func (r Role) DisplayName() string {
	if r == "" {
		return ""
	}
	return cases.Title(language.BrazilianPortuguese).String(strings.ToLower(string(r)))
}

// RoleSource exposes the role of the current principal.
type RoleSource interface {
	CurrentRole() (Role, bool)
}
