package backend

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// ID is a resource or alert identifier. The backend emits integers today but
// the client treats identifiers as opaque strings.
type ID string

// UnmarshalJSON accepts both JSON numbers and strings.
func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("backend: id must be a string or number: %w", err)
	}
	*id = ID(n.String())
	return nil
}

// MarshalJSON emits numeric identifiers as numbers so the backend keeps
// accepting them.
func (id ID) MarshalJSON() ([]byte, error) {
	if _, err := strconv.ParseInt(string(id), 10, 64); err == nil {
		return []byte(id), nil
	}
	return json.Marshal(string(id))
}

func (id ID) String() string {
	return string(id)
}

// DashboardStats is the aggregate block embedded in the dashboard payload.
type DashboardStats struct {
	TotalResources    int            `json:"total_resources"`
	ResourcesByStatus map[string]int `json:"resources_by_status"`
	UsersByRole       map[string]int `json:"users_by_role"`
	UnresolvedAlerts  int            `json:"unresolved_alerts"`
}

// Dashboard is the /dashboard/ payload.
type Dashboard struct {
	User  string         `json:"user"`
	Role  string         `json:"role"`
	Stats DashboardStats `json:"dashboard_stats"`
}

// Alert is a security alert raised by the backend.
type Alert struct {
	ID         ID      `json:"id"`
	Type       string  `json:"type"`
	Message    string  `json:"message"`
	Level      string  `json:"level"`
	Timestamp  string  `json:"timestamp"`
	Resolved   bool    `json:"is_resolved"`
	ResolvedBy *string `json:"resolved_by,omitempty"`
	ResolvedAt *string `json:"resolved_at,omitempty"`
}

// AlertUpdate carries the editable alert fields.
type AlertUpdate struct {
	Message  *string `json:"message,omitempty"`
	Level    *string `json:"level,omitempty" validate:"omitempty,oneof=low medium high critical"`
	Resolved *bool   `json:"is_resolved,omitempty"`
}

// Summary is the /dashboard/summary payload.
type Summary struct {
	TotalResources   int            `json:"total_resources"`
	ResourcesStatus  map[string]int `json:"resources_by_status"`
	UsersByRole      map[string]int `json:"users_by_role"`
	UnresolvedAlerts int            `json:"unresolved_alerts"`
}

// Resource status values accepted by the backend.
const (
	ResourceActive      = "active"
	ResourceMaintenance = "maintenance"
	ResourceInactive    = "inactive"
)

// Resource is an inventory item (equipment, vehicle or security device).
type Resource struct {
	ID          ID     `json:"id"`
	Name        string `json:"name"`
	Status      string `json:"status"`
	Type        string `json:"type"`
	Description string `json:"description"`
}

// ResourceInput is the create/update body for resources.
type ResourceInput struct {
	Name        string `json:"name" validate:"required,min=2,max=50"`
	Status      string `json:"status" validate:"required,oneof=active maintenance inactive"`
	Type        string `json:"type"`
	Description string `json:"description"`
}

// Normalize lowercases the status, mirroring the backend's own coercion.
func (in *ResourceInput) Normalize() {
	in.Name = strings.TrimSpace(in.Name)
	in.Status = strings.ToLower(strings.TrimSpace(in.Status))
}

// User is a console account as listed by /users/.
type User struct {
	Username string `json:"username"`
	Role     string `json:"role"`
}

// Credentials is the login form.
type Credentials struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// NewUser is the admin create-user body.
type NewUser struct {
	Username string `json:"username" validate:"required,min=3,max=50"`
	Password string `json:"password" validate:"required,min=6"`
	Role     string `json:"role" validate:"required,role"`
}

// UserEdit changes an account's role.
type UserEdit struct {
	Username string `json:"username" validate:"required"`
	Role     string `json:"role" validate:"required,role"`
}

// PasswordChange replaces an account's password.
type PasswordChange struct {
	Username    string `json:"username" validate:"required"`
	NewPassword string `json:"new_password" validate:"required,min=6"`
}

// LoginResult is the normalized outcome of a successful login.
type LoginResult struct {
	Username string
	Role     string
	Token    string
}

// BackupResult is the /admin/backup answer.
type BackupResult struct {
	Message    string `json:"message"`
	BackupPath string `json:"backup_path"`
	BackupType string `json:"backup_type"`
}

// Backup describes a backup file on the backend. Its fields vary by backend version.
type Backup map[string]any

// Report is an opaque admin report payload.
type Report map[string]any

// AuditLog is a single backend audit entry.
type AuditLog map[string]any
