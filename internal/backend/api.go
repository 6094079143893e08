package backend

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// loginPayload covers every login answer shape the backend has shipped: the
// enveloped {data: {...}}, the legacy {user: {...}} and the bare token object.
type loginPayload struct {
	Success     *bool           `json:"success"`
	Message     string          `json:"message"`
	Error       string          `json:"error"`
	Data        json.RawMessage `json:"data"`
	User        json.RawMessage `json:"user"`
	AccessToken string          `json:"access_token"`
}

type loginData struct {
	Username    string `json:"username"`
	Sub         string `json:"sub"`
	Role        string `json:"role"`
	AccessToken string `json:"access_token"`
}

// Login exchanges credentials for a bearer token. The credentials travel
// form-encoded. A rejected login, including a 200 answer carrying
// success=false or an error field, is reported as KindAuth.
func (c *Client) Login(ctx context.Context, creds Credentials) (LoginResult, error) {
	creds.Username = strings.TrimSpace(creds.Username)
	if err := Validate(creds); err != nil {
		return LoginResult{}, err
	}
	form := url.Values{}
	form.Set("username", creds.Username)
	form.Set("password", creds.Password)

	resp, err := c.Do(ctx, http.MethodPost, "/auth/login", form, "")
	if err != nil {
		return LoginResult{}, err
	}

	var payload loginPayload
	if err := json.Unmarshal(resp.Body, &payload); err != nil {
		return LoginResult{}, &Error{Kind: KindServer, Status: resp.Status, Message: "unexpected login response", Err: err}
	}
	if (payload.Success != nil && !*payload.Success) || payload.Error != "" {
		msg := payload.Message
		if msg == "" {
			msg = payload.Error
		}
		if msg == "" {
			msg = "invalid credentials"
		}
		return LoginResult{}, &Error{Kind: KindAuth, Status: resp.Status, Message: msg, Data: resp.Body}
	}

	var data loginData
	for _, raw := range []json.RawMessage{payload.Data, payload.User} {
		if len(raw) > 0 && string(raw) != "null" {
			if err := json.Unmarshal(raw, &data); err != nil {
				return LoginResult{}, &Error{Kind: KindServer, Status: resp.Status, Message: "unexpected login response", Err: err}
			}
			break
		}
	}

	out := LoginResult{
		Username: firstNonEmpty(data.Username, data.Sub),
		Role:     data.Role,
		Token:    firstNonEmpty(data.AccessToken, payload.AccessToken),
	}
	if out.Token == "" {
		return LoginResult{}, &Error{Kind: KindAuth, Status: resp.Status, Message: "login response carried no token", Data: resp.Body}
	}
	if out.Username == "" {
		out.Username = firstNonEmpty(tokenSubject(out.Token), creds.Username)
	}
	if out.Role == "" {
		info, err := c.ValidateToken(ctx, out.Token)
		if err != nil {
			return LoginResult{}, err
		}
		out.Role = info.Role
		if info.Username != "" {
			out.Username = info.Username
		}
	}
	return out, nil
}

// TokenInfo is the /auth/validate answer.
type TokenInfo struct {
	Valid    bool   `json:"valid"`
	Username string `json:"username"`
	Role     string `json:"role"`
}

// ValidateToken asks the backend whether token is still accepted.
func (c *Client) ValidateToken(ctx context.Context, token string) (TokenInfo, error) {
	var info TokenInfo
	if err := c.getData(ctx, "/auth/validate", token, &info); err != nil {
		return TokenInfo{}, err
	}
	return info, nil
}

// Logout revokes token on the backend.
func (c *Client) Logout(ctx context.Context, token string) error {
	_, err := c.Do(ctx, http.MethodPost, "/auth/logout", struct{}{}, token)
	return err
}

// Dashboard fetches the dashboard payload.
func (c *Client) Dashboard(ctx context.Context, token string) (Dashboard, error) {
	var out Dashboard
	if err := c.getData(ctx, "/dashboard/", token, &out); err != nil {
		return Dashboard{}, err
	}
	return out, nil
}

// DashboardSummary fetches aggregate statistics.
func (c *Client) DashboardSummary(ctx context.Context, token string) (Summary, error) {
	var out Summary
	if err := c.getData(ctx, "/dashboard/summary", token, &out); err != nil {
		return Summary{}, err
	}
	return out, nil
}

// Alerts lists security alerts.
func (c *Client) Alerts(ctx context.Context, token string) ([]Alert, error) {
	out := []Alert{}
	if err := c.getData(ctx, "/dashboard/alerts", token, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// UpdateAlert edits an alert.
func (c *Client) UpdateAlert(ctx context.Context, token string, id ID, update AlertUpdate) (Alert, error) {
	if err := Validate(update); err != nil {
		return Alert{}, err
	}
	var out Alert
	if err := c.sendData(ctx, http.MethodPut, "/dashboard/alerts/"+pathID(id), update, token, &out); err != nil {
		return Alert{}, err
	}
	return out, nil
}

// DeleteAlert removes an alert.
func (c *Client) DeleteAlert(ctx context.Context, token string, id ID) error {
	_, err := c.Do(ctx, http.MethodDelete, "/dashboard/alerts/"+pathID(id), nil, token)
	return err
}

// Resources lists inventory resources.
func (c *Client) Resources(ctx context.Context, token string) ([]Resource, error) {
	out := []Resource{}
	if err := c.getData(ctx, "/resources/", token, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// CreateResource adds a resource.
func (c *Client) CreateResource(ctx context.Context, token string, in ResourceInput) (Resource, error) {
	in.Normalize()
	if err := Validate(in); err != nil {
		return Resource{}, err
	}
	var out Resource
	if err := c.sendData(ctx, http.MethodPost, "/resources/", in, token, &out); err != nil {
		return Resource{}, err
	}
	return out, nil
}

// UpdateResource replaces a resource's fields.
func (c *Client) UpdateResource(ctx context.Context, token string, id ID, in ResourceInput) (Resource, error) {
	in.Normalize()
	if err := Validate(in); err != nil {
		return Resource{}, err
	}
	var out Resource
	if err := c.sendData(ctx, http.MethodPut, "/resources/"+pathID(id), in, token, &out); err != nil {
		return Resource{}, err
	}
	return out, nil
}

// DeleteResource removes a resource.
func (c *Client) DeleteResource(ctx context.Context, token string, id ID) error {
	_, err := c.Do(ctx, http.MethodDelete, "/resources/"+pathID(id), nil, token)
	return err
}

// Users lists console accounts.
func (c *Client) Users(ctx context.Context, token string) ([]User, error) {
	out := []User{}
	if err := c.getData(ctx, "/users/", token, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// CreateUser registers a new account.
func (c *Client) CreateUser(ctx context.Context, token string, in NewUser) (User, error) {
	in.Role = strings.ToLower(strings.TrimSpace(in.Role))
	if err := Validate(in); err != nil {
		return User{}, err
	}
	var out User
	if err := c.sendData(ctx, http.MethodPost, "/users/create", in, token, &out); err != nil {
		return User{}, err
	}
	return out, nil
}

// EditUser changes an account's role.
func (c *Client) EditUser(ctx context.Context, token string, in UserEdit) (User, error) {
	in.Role = strings.ToLower(strings.TrimSpace(in.Role))
	if err := Validate(in); err != nil {
		return User{}, err
	}
	var out User
	if err := c.sendData(ctx, http.MethodPut, "/users/edit", in, token, &out); err != nil {
		return User{}, err
	}
	return out, nil
}

// DeleteUser removes an account.
func (c *Client) DeleteUser(ctx context.Context, token, username string) error {
	if strings.TrimSpace(username) == "" {
		return validationError(map[string]string{"username": "is required"})
	}
	_, err := c.Do(ctx, http.MethodDelete, "/users/delete", map[string]string{"username": username}, token)
	return err
}

// ChangePassword replaces an account's password.
func (c *Client) ChangePassword(ctx context.Context, token string, in PasswordChange) error {
	if err := Validate(in); err != nil {
		return err
	}
	_, err := c.Do(ctx, http.MethodPut, "/users/change-password", in, token)
	return err
}

// CreateBackup triggers a backend backup of the given type ("manual" when empty).
func (c *Client) CreateBackup(ctx context.Context, token, backupType string) (BackupResult, error) {
	if backupType == "" {
		backupType = "manual"
	}
	path := "/admin/backup?backup_type=" + url.QueryEscape(backupType)
	var out BackupResult
	if err := c.sendData(ctx, http.MethodPost, path, map[string]string{"backup_type": backupType}, token, &out); err != nil {
		return BackupResult{}, err
	}
	return out, nil
}

// Backups lists stored backups.
func (c *Client) Backups(ctx context.Context, token string) ([]Backup, error) {
	var out struct {
		Backups []Backup `json:"backups"`
	}
	if err := c.getData(ctx, "/admin/backups", token, &out); err != nil {
		return nil, err
	}
	return out.Backups, nil
}

// RestoreBackup restores the backend from a stored backup.
func (c *Client) RestoreBackup(ctx context.Context, token, backupPath string) error {
	if strings.TrimSpace(backupPath) == "" {
		return validationError(map[string]string{"backup_path": "is required"})
	}
	path := "/admin/restore?backup_path=" + url.QueryEscape(backupPath)
	_, err := c.Do(ctx, http.MethodPost, path, map[string]string{"backup_path": backupPath}, token)
	return err
}

// SecurityReport fetches the security report covering the last days.
func (c *Client) SecurityReport(ctx context.Context, token string, days int) (Report, error) {
	if days <= 0 {
		days = 30
	}
	out := Report{}
	if err := c.getData(ctx, "/admin/reports/security?days="+strconv.Itoa(days), token, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ResourceReport fetches the resource report.
func (c *Client) ResourceReport(ctx context.Context, token string) (Report, error) {
	out := Report{}
	if err := c.getData(ctx, "/admin/reports/resources", token, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// SystemStats fetches backend health statistics.
func (c *Client) SystemStats(ctx context.Context, token string) (Report, error) {
	out := Report{}
	if err := c.getData(ctx, "/admin/system-stats", token, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// AuditLogs fetches the latest audit entries.
func (c *Client) AuditLogs(ctx context.Context, token string, limit int) ([]AuditLog, error) {
	if limit <= 0 {
		limit = 100
	}
	var out struct {
		Logs []AuditLog `json:"logs"`
	}
	if err := c.getData(ctx, "/admin/audit-logs?limit="+strconv.Itoa(limit), token, &out); err != nil {
		return nil, err
	}
	return out.Logs, nil
}

func pathID(id ID) string {
	return url.PathEscape(id.String())
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
