package rbac

// Capabilities is the set of UI actions a role may perform.
type Capabilities struct {
	CanEdit        bool `json:"can_edit"`
	CanManageUsers bool `json:"can_manage_users"`
	CanDelete      bool `json:"can_delete"`
}

// ReadOnly is the most restrictive capability set.
var ReadOnly = Capabilities{}

// CapabilitiesFor maps a role to its capabilities. Unknown roles get ReadOnly.
func CapabilitiesFor(role Role) Capabilities {
	parsed, ok := ParseRole(string(role))
	if !ok {
		return ReadOnly
	}
	switch parsed {
	case RoleAdmin:
		return Capabilities{CanEdit: true, CanManageUsers: true, CanDelete: true}
	case RoleGerente:
		return Capabilities{CanEdit: true, CanDelete: true}
	default:
		return ReadOnly
	}
}

// Check is a predicate over capabilities used to gate an action.
type Check func(Capabilities) bool

// CanEdit gates create/update actions.
func CanEdit(c Capabilities) bool { return c.CanEdit }

// CanDelete gates delete actions.
func CanDelete(c Capabilities) bool { return c.CanDelete }

// CanManageUsers gates user administration.
func CanManageUsers(c Capabilities) bool { return c.CanManageUsers }
