package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskAdminBackup asks the backend to take a database backup.
	TaskAdminBackup = "admin:backup"
	// TaskAdminSecurityReport refreshes the cached security report.
	TaskAdminSecurityReport = "admin:security_report"
)

// BackupPayload describes a backup request.
type BackupPayload struct {
	BackupType string `json:"backup_type"`
}

// SecurityReportPayload selects the report period.
type SecurityReportPayload struct {
	Days int `json:"days"`
}

// NewBackupTask constructs an Asynq task. An empty type means "scheduled".
func NewBackupTask(backupType string) (*asynq.Task, error) {
	if backupType == "" {
		backupType = "scheduled"
	}
	data, err := json.Marshal(BackupPayload{BackupType: backupType})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskAdminBackup, data, asynq.Queue(QueueDefault)), nil
}

// NewSecurityReportTask constructs an Asynq task. Non-positive days means 30.
func NewSecurityReportTask(days int) (*asynq.Task, error) {
	if days <= 0 {
		days = 30
	}
	data, err := json.Marshal(SecurityReportPayload{Days: days})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskAdminSecurityReport, data, asynq.Queue(QueueDefault)), nil
}
