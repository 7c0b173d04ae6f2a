package repository

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"time"

	greenhouse "greenhouse_controller"
)

type SettingsSQLite struct {
	db *sql.DB
}

func NewSettingsSQLite(db *sql.DB) *SettingsSQLite {
	return &SettingsSQLite{db: db}
}

// constants and helpers for clarity and reuse
const (
	upsertSettingSQL = `
		INSERT INTO settings (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value=excluded.value,
			updated_at=excluded.updated_at
	`

	selectSettingSQL = `SELECT value FROM settings WHERE key=?`
)

func (r *SettingsSQLite) get(ctx context.Context, key string) (string, bool, error) {
	row := r.db.QueryRowContext(ctx, selectSettingSQL, key)
	var v string
	if err := row.Scan(&v); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil // key never written
		}
		return "", false, err
	}
	return v, true, nil
}

func (r *SettingsSQLite) put(ctx context.Context, key, value string) error {
	_, err := r.db.ExecContext(ctx, upsertSettingSQL, key, value, time.Now().UTC())
	return err
}

func (r *SettingsSQLite) GetFloat(ctx context.Context, key string, def float64) (float64, error) {
	v, ok, err := r.get(ctx, key)
	if err != nil || !ok {
		return def, err
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def, nil // corrupt value: fall back to default
	}
	return f, nil
}

func (r *SettingsSQLite) GetInt(ctx context.Context, key string, def int) (int, error) {
	v, ok, err := r.get(ctx, key)
	if err != nil || !ok {
		return def, err
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def, nil
	}
	return n, nil
}

func (r *SettingsSQLite) PutFloat(ctx context.Context, key string, v float64) error {
	return r.put(ctx, key, strconv.FormatFloat(v, 'f', -1, 64))
}

func (r *SettingsSQLite) PutInt(ctx context.Context, key string, v int) error {
	return r.put(ctx, key, strconv.Itoa(v))
}

// ---- supervisor state ----

type SupervisorSQLite struct {
	db *sql.DB
}

func NewSupervisorSQLite(db *sql.DB) *SupervisorSQLite {
	return &SupervisorSQLite{db: db}
}

const (
	supervisorRowID = 1

	upsertSupervisorSQL = `
		INSERT INTO supervisor_state (id, crash_count, rollback_pending, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			crash_count=excluded.crash_count,
			rollback_pending=excluded.rollback_pending,
			updated_at=excluded.updated_at
	`

	selectSupervisorSQL = `
		SELECT crash_count, rollback_pending
		FROM supervisor_state WHERE id=?
	`
)

// Load fetches the single supervisor row (id=1). A missing row is a
// fresh install and reads as the zero state.
func (r *SupervisorSQLite) Load(ctx context.Context) (greenhouse.CrashState, error) {
	row := r.db.QueryRowContext(ctx, selectSupervisorSQL, supervisorRowID)

	var s greenhouse.CrashState
	if err := row.Scan(&s.CrashCount, &s.RollbackPending); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return greenhouse.CrashState{}, nil
		}
		return greenhouse.CrashState{}, err
	}
	return s, nil
}

// Save updates or inserts the supervisor row (id always 1).
func (r *SupervisorSQLite) Save(ctx context.Context, s greenhouse.CrashState) error {
	_, err := r.db.ExecContext(ctx, upsertSupervisorSQL,
		supervisorRowID,
		s.CrashCount,
		s.RollbackPending,
		time.Now().UTC(),
	)
	return err
}
