package repository

import (
	"context"
	"database/sql"

	greenhouse "greenhouse_controller"
)

// SettingsRepo is the persisted key/value store backing ControlConfig.
// Missing keys fall back to the provided default without error.
type SettingsRepo interface {
	GetFloat(ctx context.Context, key string, def float64) (float64, error)
	GetInt(ctx context.Context, key string, def int) (int, error)
	PutFloat(ctx context.Context, key string, v float64) error
	PutInt(ctx context.Context, key string, v int) error
}

// SupervisorRepo persists the crash counter and rollback-pending flag
// across reboots.
type SupervisorRepo interface {
	Load(ctx context.Context) (greenhouse.CrashState, error)
	Save(ctx context.Context, s greenhouse.CrashState) error
}

// BacklogRepo is the offline telemetry buffer: two newline-delimited
// files, one holding newly buffered entries and one holding the batch
// currently being retried. Promotion is a rename, never a copy, so a
// power cut mid-promotion leaves exactly one of the two files.
type BacklogRepo interface {
	AppendNew(lines []string) error
	HasRetry() bool
	HasNew() bool
	ReadRetry() ([]string, error)
	DeleteRetry() error
	PromoteNew() error
}

type Repository struct {
	Settings   SettingsRepo
	Supervisor SupervisorRepo
	Backlog    BacklogRepo
}

func NewRepository(db *sql.DB, dataDir string) *Repository {
	return &Repository{
		Settings:   NewSettingsSQLite(db),
		Supervisor: NewSupervisorSQLite(db),
		Backlog:    NewFileBacklog(dataDir),
	}
}
