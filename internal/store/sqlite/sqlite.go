// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package sqlite is the local/dev Store backend for single-node
// deployments, selected via DB_DRIVER=sqlite (see internal/storeopen) for
// running worker/scheduler-tick without a PostgreSQL server, and by
// integration tests that want a real SQL engine without one.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	domainerrors "github.com/flowforge/workflows/internal/errors"
	"github.com/flowforge/workflows/internal/store"
)

// Store is a SQLite-backed store.Store.
type Store struct {
	db *sql.DB
}

// Config contains SQLite connection configuration.
type Config struct {
	Path string
	WAL  bool
}

// New creates a new SQLite-backed Store.
func New(cfg Config) (*Store, error) {
	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}

	// SQLite serializes writes; one connection avoids SQLITE_BUSY storms under
	// concurrent worker/scheduler access from the same process.
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: ping: %w", err)
	}

	s := &Store{db: db}
	if err := s.configurePragmas(ctx, cfg.WAL); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: pragmas: %w", err)
	}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: migrate: %w", err)
	}
	return s, nil
}

func (s *Store) configurePragmas(ctx context.Context, enableWAL bool) error {
	pragmas := []string{
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	}
	if enableWAL {
		pragmas = append(pragmas, "PRAGMA journal_mode=WAL")
	}
	for _, p := range pragmas {
		if _, err := s.db.ExecContext(ctx, p); err != nil {
			return fmt.Errorf("execute %s: %w", p, err)
		}
	}
	return nil
}

func (s *Store) Close() error { return s.db.Close() }

// DB exposes the underlying *sql.DB, mirroring postgres.Store.DB so callers
// that need a raw connection for a sibling concern (e.g. dbsecret) don't
// need a driver-specific branch.
func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) migrate(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			is_guest INTEGER NOT NULL DEFAULT 0,
			guest_expires_at TEXT,
			created_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS guest_sessions (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			expires_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS user_balances (
			user_id TEXT PRIMARY KEY REFERENCES users(id) ON DELETE CASCADE,
			credits INTEGER NOT NULL DEFAULT 0,
			updated_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS user_purchases (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			credits INTEGER NOT NULL,
			created_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS credentials (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			name TEXT NOT NULL,
			secret_ref TEXT NOT NULL,
			is_db_secret INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL,
			UNIQUE(user_id, name)
		)`,
		`CREATE TABLE IF NOT EXISTS workflows (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			name TEXT NOT NULL,
			status TEXT NOT NULL,
			cron TEXT,
			credits_cost INTEGER,
			active_version_id TEXT,
			last_run_id TEXT,
			last_run_status TEXT,
			last_run_at TEXT,
			next_run_at TEXT,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_workflows_user ON workflows(user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_workflows_due ON workflows(status, next_run_at)`,
		`CREATE TABLE IF NOT EXISTS workflow_versions (
			id TEXT PRIMARY KEY,
			workflow_id TEXT NOT NULL REFERENCES workflows(id) ON DELETE CASCADE,
			version_number INTEGER NOT NULL,
			definition TEXT NOT NULL,
			execution_plan TEXT NOT NULL,
			is_active INTEGER NOT NULL DEFAULT 0,
			parent_version_id TEXT,
			created_by TEXT NOT NULL,
			created_at TEXT NOT NULL,
			UNIQUE(workflow_id, version_number)
		)`,
		`CREATE TABLE IF NOT EXISTS workflow_executions (
			id TEXT PRIMARY KEY,
			workflow_id TEXT NOT NULL REFERENCES workflows(id) ON DELETE CASCADE,
			user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			trigger TEXT NOT NULL,
			status TEXT NOT NULL,
			credits_consumed INTEGER,
			created_at TEXT NOT NULL,
			started_at TEXT,
			completed_at TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_workflow_executions_workflow ON workflow_executions(workflow_id)`,
		`CREATE TABLE IF NOT EXISTS execution_phases (
			id TEXT PRIMARY KEY,
			workflow_execution_id TEXT NOT NULL REFERENCES workflow_executions(id) ON DELETE CASCADE,
			user_id TEXT NOT NULL,
			number INTEGER NOT NULL,
			name TEXT NOT NULL,
			status TEXT NOT NULL,
			started_at TEXT,
			completed_at TEXT,
			node TEXT NOT NULL,
			inputs TEXT,
			outputs TEXT,
			credits_consumed INTEGER,
			UNIQUE(workflow_execution_id, number)
		)`,
		`CREATE TABLE IF NOT EXISTS execution_logs (
			id TEXT PRIMARY KEY,
			execution_phase_id TEXT NOT NULL REFERENCES execution_phases(id) ON DELETE CASCADE,
			log_level TEXT NOT NULL,
			message TEXT NOT NULL,
			timestamp TEXT NOT NULL
		)`,
	}
	for _, m := range migrations {
		if _, err := s.db.ExecContext(ctx, m); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

func fmtTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func fmtTimePtr(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: fmtTime(*t), Valid: true}
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func parseTimePtr(s sql.NullString) *time.Time {
	if !s.Valid {
		return nil
	}
	t := parseTime(s.String)
	return &t
}

func (s *Store) CreateUser(ctx context.Context, u store.User) (store.User, error) {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return store.User{}, fmt.Errorf("sqlite: begin: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO users (id, is_guest, guest_expires_at, created_at) VALUES (?, ?, ?, ?)`,
		u.ID.String(), u.IsGuest, fmtTimePtr(u.GuestExpiresAt), fmtTime(u.CreatedAt))
	if err != nil {
		return store.User{}, fmt.Errorf("sqlite: insert user: %w", err)
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO user_balances (user_id, credits, updated_at) VALUES (?, 0, ?)`,
		u.ID.String(), fmtTime(u.CreatedAt))
	if err != nil {
		return store.User{}, fmt.Errorf("sqlite: seed balance: %w", err)
	}
	return u, tx.Commit()
}

func (s *Store) GetUser(ctx context.Context, id uuid.UUID) (store.User, error) {
	var idStr string
	var isGuest bool
	var guestExpiresAt sql.NullString
	var createdAt string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, is_guest, guest_expires_at, created_at FROM users WHERE id = ?`, id.String()).
		Scan(&idStr, &isGuest, &guestExpiresAt, &createdAt)
	if err == sql.ErrNoRows {
		return store.User{}, &domainerrors.NotFoundError{Resource: "user", ID: id.String()}
	}
	if err != nil {
		return store.User{}, fmt.Errorf("sqlite: get user: %w", err)
	}
	return store.User{ID: id, IsGuest: isGuest, GuestExpiresAt: parseTimePtr(guestExpiresAt), CreatedAt: parseTime(createdAt)}, nil
}

func (s *Store) DeleteUser(ctx context.Context, id uuid.UUID) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM users WHERE id = ?`, id.String())
	if err != nil {
		return fmt.Errorf("sqlite: delete user: %w", err)
	}
	return nil
}

func (s *Store) ListExpiredGuestUsers(ctx context.Context, now time.Time) ([]store.User, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, is_guest, guest_expires_at, created_at FROM users
		 WHERE is_guest = 1 AND guest_expires_at IS NOT NULL AND guest_expires_at <= ?`, fmtTime(now))
	if err != nil {
		return nil, fmt.Errorf("sqlite: list expired guest users: %w", err)
	}
	defer rows.Close()

	var out []store.User
	for rows.Next() {
		var idStr string
		var isGuest bool
		var guestExpiresAt sql.NullString
		var createdAt string
		if err := rows.Scan(&idStr, &isGuest, &guestExpiresAt, &createdAt); err != nil {
			return nil, fmt.Errorf("sqlite: scan user: %w", err)
		}
		id, err := uuid.Parse(idStr)
		if err != nil {
			return nil, fmt.Errorf("sqlite: parse user id: %w", err)
		}
		out = append(out, store.User{ID: id, IsGuest: isGuest, GuestExpiresAt: parseTimePtr(guestExpiresAt), CreatedAt: parseTime(createdAt)})
	}
	return out, rows.Err()
}

func (s *Store) CreateGuestSession(ctx context.Context, sess store.GuestSession) (store.GuestSession, error) {
	if sess.ID == uuid.Nil {
		sess.ID = uuid.New()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO guest_sessions (id, user_id, expires_at) VALUES (?, ?, ?)`,
		sess.ID.String(), sess.UserID.String(), fmtTime(sess.ExpiresAt))
	if err != nil {
		return store.GuestSession{}, fmt.Errorf("sqlite: create guest session: %w", err)
	}
	return sess, nil
}

func (s *Store) ListExpiredGuestSessions(ctx context.Context, now time.Time) ([]store.GuestSession, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, expires_at FROM guest_sessions WHERE expires_at <= ?`, fmtTime(now))
	if err != nil {
		return nil, fmt.Errorf("sqlite: list expired guest sessions: %w", err)
	}
	defer rows.Close()

	var out []store.GuestSession
	for rows.Next() {
		var idStr, userIDStr, expiresAt string
		if err := rows.Scan(&idStr, &userIDStr, &expiresAt); err != nil {
			return nil, fmt.Errorf("sqlite: scan guest session: %w", err)
		}
		id, err := uuid.Parse(idStr)
		if err != nil {
			return nil, fmt.Errorf("sqlite: parse guest session id: %w", err)
		}
		userID, err := uuid.Parse(userIDStr)
		if err != nil {
			return nil, fmt.Errorf("sqlite: parse guest session user id: %w", err)
		}
		out = append(out, store.GuestSession{ID: id, UserID: userID, ExpiresAt: parseTime(expiresAt)})
	}
	return out, rows.Err()
}

func (s *Store) DeleteGuestSession(ctx context.Context, id uuid.UUID) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM guest_sessions WHERE id = ?`, id.String())
	if err != nil {
		return fmt.Errorf("sqlite: delete guest session: %w", err)
	}
	return nil
}

func (s *Store) CreateWorkflow(ctx context.Context, w store.Workflow) (store.Workflow, error) {
	if w.ID == uuid.Nil {
		w.ID = uuid.New()
	}
	now := time.Now().UTC()
	if w.CreatedAt.IsZero() {
		w.CreatedAt = now
	}
	w.UpdatedAt = now

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO workflows (id, user_id, name, status, cron, credits_cost, active_version_id,
			last_run_id, last_run_status, last_run_at, next_run_at, created_at, updated_at)
		 VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		w.ID.String(), w.UserID.String(), w.Name, string(w.Status), w.Cron, w.CreditsCost, uuidPtrStr(w.ActiveVersionID),
		uuidPtrStr(w.LastRunID), statusPtrStr(w.LastRunStatus), fmtTimePtr(w.LastRunAt), fmtTimePtr(w.NextRunAt),
		fmtTime(w.CreatedAt), fmtTime(w.UpdatedAt))
	if err != nil {
		return store.Workflow{}, fmt.Errorf("sqlite: create workflow: %w", err)
	}
	return w, nil
}

func uuidPtrStr(id *uuid.UUID) *string {
	if id == nil {
		return nil
	}
	v := id.String()
	return &v
}

func statusPtrStr(st *store.ExecutionStatus) *string {
	if st == nil {
		return nil
	}
	v := string(*st)
	return &v
}

func (s *Store) scanWorkflow(row interface {
	Scan(dest ...any) error
}) (store.Workflow, error) {
	var w store.Workflow
	var idStr, userIDStr, status string
	var activeVersionID, lastRunID, lastRunStatus sql.NullString
	var lastRunAt, nextRunAt sql.NullString
	var createdAt, updatedAt string
	if err := row.Scan(&idStr, &userIDStr, &w.Name, &status, &w.Cron, &w.CreditsCost,
		&activeVersionID, &lastRunID, &lastRunStatus, &lastRunAt, &nextRunAt, &createdAt, &updatedAt); err != nil {
		return store.Workflow{}, err
	}
	var err error
	if w.ID, err = uuid.Parse(idStr); err != nil {
		return store.Workflow{}, err
	}
	if w.UserID, err = uuid.Parse(userIDStr); err != nil {
		return store.Workflow{}, err
	}
	w.Status = store.WorkflowStatus(status)
	if activeVersionID.Valid {
		id, err := uuid.Parse(activeVersionID.String)
		if err != nil {
			return store.Workflow{}, err
		}
		w.ActiveVersionID = &id
	}
	if lastRunID.Valid {
		id, err := uuid.Parse(lastRunID.String)
		if err != nil {
			return store.Workflow{}, err
		}
		w.LastRunID = &id
	}
	if lastRunStatus.Valid {
		st := store.ExecutionStatus(lastRunStatus.String)
		w.LastRunStatus = &st
	}
	w.LastRunAt = parseTimePtr(lastRunAt)
	w.NextRunAt = parseTimePtr(nextRunAt)
	w.CreatedAt = parseTime(createdAt)
	w.UpdatedAt = parseTime(updatedAt)
	return w, nil
}

const workflowColumns = `id, user_id, name, status, cron, credits_cost, active_version_id,
	last_run_id, last_run_status, last_run_at, next_run_at, created_at, updated_at`

func (s *Store) GetWorkflow(ctx context.Context, id uuid.UUID) (store.Workflow, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+workflowColumns+` FROM workflows WHERE id = ?`, id.String())
	w, err := s.scanWorkflow(row)
	if err == sql.ErrNoRows {
		return store.Workflow{}, &domainerrors.NotFoundError{Resource: "workflow", ID: id.String()}
	}
	if err != nil {
		return store.Workflow{}, fmt.Errorf("sqlite: get workflow: %w", err)
	}
	return w, nil
}

func (s *Store) UpdateWorkflow(ctx context.Context, w store.Workflow) (store.Workflow, error) {
	w.UpdatedAt = time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE workflows SET name=?, status=?, cron=?, credits_cost=?, active_version_id=?,
			next_run_at=?, updated_at=? WHERE id=?`,
		w.Name, string(w.Status), w.Cron, w.CreditsCost, uuidPtrStr(w.ActiveVersionID),
		fmtTimePtr(w.NextRunAt), fmtTime(w.UpdatedAt), w.ID.String())
	if err != nil {
		return store.Workflow{}, fmt.Errorf("sqlite: update workflow: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.Workflow{}, &domainerrors.NotFoundError{Resource: "workflow", ID: w.ID.String()}
	}
	return w, nil
}

func (s *Store) DeleteWorkflow(ctx context.Context, id uuid.UUID) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM workflows WHERE id = ?`, id.String())
	if err != nil {
		return fmt.Errorf("sqlite: delete workflow: %w", err)
	}
	return nil
}

func (s *Store) ListWorkflows(ctx context.Context, userID uuid.UUID, opts store.ListOpts) ([]store.Workflow, error) {
	query := `SELECT ` + workflowColumns + ` FROM workflows WHERE user_id = ? ORDER BY created_at ` + orderDir(opts)
	query += limitOffsetClause(opts)
	rows, err := s.db.QueryContext(ctx, query, userID.String())
	if err != nil {
		return nil, fmt.Errorf("sqlite: list workflows: %w", err)
	}
	defer rows.Close()

	var out []store.Workflow
	for rows.Next() {
		w, err := s.scanWorkflow(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scan workflow: %w", err)
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

func (s *Store) GetDueWorkflows(ctx context.Context, now time.Time) ([]store.Workflow, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+workflowColumns+` FROM workflows
		 WHERE status = ? AND next_run_at IS NOT NULL AND next_run_at <= ?
		 ORDER BY next_run_at ASC`, string(store.WorkflowPublished), fmtTime(now))
	if err != nil {
		return nil, fmt.Errorf("sqlite: get due workflows: %w", err)
	}
	defer rows.Close()

	var out []store.Workflow
	for rows.Next() {
		w, err := s.scanWorkflow(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scan workflow: %w", err)
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

func (s *Store) SetNextRun(ctx context.Context, workflowID uuid.UUID, nextRunAt *time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE workflows SET next_run_at = ?, updated_at = ? WHERE id = ?`,
		fmtTimePtr(nextRunAt), fmtTime(time.Now().UTC()), workflowID.String())
	if err != nil {
		return fmt.Errorf("sqlite: set next run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &domainerrors.NotFoundError{Resource: "workflow", ID: workflowID.String()}
	}
	return nil
}

func (s *Store) RecordLastRun(ctx context.Context, workflowID, runID uuid.UUID, status store.ExecutionStatus, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE workflows SET last_run_id=?, last_run_status=?, last_run_at=?, updated_at=? WHERE id=?`,
		runID.String(), string(status), fmtTime(at), fmtTime(time.Now().UTC()), workflowID.String())
	if err != nil {
		return fmt.Errorf("sqlite: record last run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &domainerrors.NotFoundError{Resource: "workflow", ID: workflowID.String()}
	}
	return nil
}

func (s *Store) CreateVersion(ctx context.Context, v store.WorkflowVersion) (store.WorkflowVersion, error) {
	if v.ID == uuid.Nil {
		v.ID = uuid.New()
	}
	if v.CreatedAt.IsZero() {
		v.CreatedAt = time.Now().UTC()
	}
	defJSON, err := json.Marshal(v.Definition)
	if err != nil {
		return store.WorkflowVersion{}, fmt.Errorf("sqlite: marshal definition: %w", err)
	}
	planJSON, err := json.Marshal(v.ExecutionPlan)
	if err != nil {
		return store.WorkflowVersion{}, fmt.Errorf("sqlite: marshal execution plan: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO workflow_versions (id, workflow_id, version_number, definition, execution_plan,
			is_active, parent_version_id, created_by, created_at) VALUES (?,?,?,?,?,?,?,?,?)`,
		v.ID.String(), v.WorkflowID.String(), v.VersionNumber, string(defJSON), string(planJSON),
		v.IsActive, uuidPtrStr(v.ParentVersionID), v.CreatedBy.String(), fmtTime(v.CreatedAt))
	if err != nil {
		return store.WorkflowVersion{}, fmt.Errorf("sqlite: create version: %w", err)
	}
	return v, nil
}

const versionColumns = `id, workflow_id, version_number, definition, execution_plan, is_active,
	parent_version_id, created_by, created_at`

func (s *Store) scanVersion(row interface{ Scan(dest ...any) error }) (store.WorkflowVersion, error) {
	var v store.WorkflowVersion
	var idStr, workflowIDStr, createdByStr string
	var defJSON, planJSON string
	var isActive bool
	var parentVersionID sql.NullString
	var createdAt string
	if err := row.Scan(&idStr, &workflowIDStr, &v.VersionNumber, &defJSON, &planJSON, &isActive,
		&parentVersionID, &createdByStr, &createdAt); err != nil {
		return store.WorkflowVersion{}, err
	}
	var err error
	if v.ID, err = uuid.Parse(idStr); err != nil {
		return store.WorkflowVersion{}, err
	}
	if v.WorkflowID, err = uuid.Parse(workflowIDStr); err != nil {
		return store.WorkflowVersion{}, err
	}
	if v.CreatedBy, err = uuid.Parse(createdByStr); err != nil {
		return store.WorkflowVersion{}, err
	}
	if err := json.Unmarshal([]byte(defJSON), &v.Definition); err != nil {
		return store.WorkflowVersion{}, err
	}
	if err := json.Unmarshal([]byte(planJSON), &v.ExecutionPlan); err != nil {
		return store.WorkflowVersion{}, err
	}
	v.IsActive = isActive
	if parentVersionID.Valid {
		id, err := uuid.Parse(parentVersionID.String)
		if err != nil {
			return store.WorkflowVersion{}, err
		}
		v.ParentVersionID = &id
	}
	v.CreatedAt = parseTime(createdAt)
	return v, nil
}

func (s *Store) GetVersion(ctx context.Context, id uuid.UUID) (store.WorkflowVersion, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+versionColumns+` FROM workflow_versions WHERE id = ?`, id.String())
	v, err := s.scanVersion(row)
	if err == sql.ErrNoRows {
		return store.WorkflowVersion{}, &domainerrors.NotFoundError{Resource: "workflow_version", ID: id.String()}
	}
	if err != nil {
		return store.WorkflowVersion{}, fmt.Errorf("sqlite: get version: %w", err)
	}
	return v, nil
}

func (s *Store) GetActiveVersion(ctx context.Context, workflowID uuid.UUID) (store.WorkflowVersion, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+versionColumns+` FROM workflow_versions WHERE workflow_id = ? AND is_active = 1`, workflowID.String())
	v, err := s.scanVersion(row)
	if err == sql.ErrNoRows {
		return store.WorkflowVersion{}, &domainerrors.NotFoundError{Resource: "active_workflow_version", ID: workflowID.String()}
	}
	if err != nil {
		return store.WorkflowVersion{}, fmt.Errorf("sqlite: get active version: %w", err)
	}
	return v, nil
}

func (s *Store) ListVersions(ctx context.Context, workflowID uuid.UUID, opts store.ListOpts) ([]store.WorkflowVersion, error) {
	query := `SELECT ` + versionColumns + ` FROM workflow_versions WHERE workflow_id = ? ORDER BY version_number ` + orderDir(opts)
	query += limitOffsetClause(opts)
	rows, err := s.db.QueryContext(ctx, query, workflowID.String())
	if err != nil {
		return nil, fmt.Errorf("sqlite: list versions: %w", err)
	}
	defer rows.Close()

	var out []store.WorkflowVersion
	for rows.Next() {
		v, err := s.scanVersion(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scan version: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (s *Store) ActivateVersion(ctx context.Context, workflowID, versionID uuid.UUID) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `UPDATE workflow_versions SET is_active = 0 WHERE workflow_id = ?`, workflowID.String()); err != nil {
		return fmt.Errorf("sqlite: deactivate versions: %w", err)
	}
	res, err := tx.ExecContext(ctx,
		`UPDATE workflow_versions SET is_active = 1 WHERE id = ? AND workflow_id = ?`, versionID.String(), workflowID.String())
	if err != nil {
		return fmt.Errorf("sqlite: activate version: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &domainerrors.NotFoundError{Resource: "workflow_version", ID: versionID.String()}
	}
	res, err = tx.ExecContext(ctx,
		`UPDATE workflows SET active_version_id = ?, updated_at = ? WHERE id = ?`,
		versionID.String(), fmtTime(time.Now().UTC()), workflowID.String())
	if err != nil {
		return fmt.Errorf("sqlite: point workflow at active version: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &domainerrors.NotFoundError{Resource: "workflow", ID: workflowID.String()}
	}
	return tx.Commit()
}

func (s *Store) CreateExecution(ctx context.Context, e store.WorkflowExecution) (store.WorkflowExecution, error) {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO workflow_executions (id, workflow_id, user_id, trigger, status, credits_consumed,
			created_at, started_at, completed_at) VALUES (?,?,?,?,?,?,?,?,?)`,
		e.ID.String(), e.WorkflowID.String(), e.UserID.String(), string(e.Trigger), string(e.Status),
		e.CreditsConsumed, fmtTime(e.CreatedAt), fmtTimePtr(e.StartedAt), fmtTimePtr(e.CompletedAt))
	if err != nil {
		return store.WorkflowExecution{}, fmt.Errorf("sqlite: create execution: %w", err)
	}
	return e, nil
}

const executionColumns = `id, workflow_id, user_id, trigger, status, credits_consumed, created_at, started_at, completed_at`

func (s *Store) scanExecution(row interface{ Scan(dest ...any) error }) (store.WorkflowExecution, error) {
	var e store.WorkflowExecution
	var idStr, workflowIDStr, userIDStr, trigger, status string
	var createdAt string
	var startedAt, completedAt sql.NullString
	if err := row.Scan(&idStr, &workflowIDStr, &userIDStr, &trigger, &status, &e.CreditsConsumed,
		&createdAt, &startedAt, &completedAt); err != nil {
		return store.WorkflowExecution{}, err
	}
	var err error
	if e.ID, err = uuid.Parse(idStr); err != nil {
		return store.WorkflowExecution{}, err
	}
	if e.WorkflowID, err = uuid.Parse(workflowIDStr); err != nil {
		return store.WorkflowExecution{}, err
	}
	if e.UserID, err = uuid.Parse(userIDStr); err != nil {
		return store.WorkflowExecution{}, err
	}
	e.Trigger = store.ExecutionTrigger(trigger)
	e.Status = store.ExecutionStatus(status)
	e.CreatedAt = parseTime(createdAt)
	e.StartedAt = parseTimePtr(startedAt)
	e.CompletedAt = parseTimePtr(completedAt)
	return e, nil
}

func (s *Store) GetExecution(ctx context.Context, id uuid.UUID) (store.WorkflowExecution, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+executionColumns+` FROM workflow_executions WHERE id = ?`, id.String())
	e, err := s.scanExecution(row)
	if err == sql.ErrNoRows {
		return store.WorkflowExecution{}, &domainerrors.NotFoundError{Resource: "workflow_execution", ID: id.String()}
	}
	if err != nil {
		return store.WorkflowExecution{}, fmt.Errorf("sqlite: get execution: %w", err)
	}
	return e, nil
}

func (s *Store) UpdateExecutionStatus(ctx context.Context, id uuid.UUID, status store.ExecutionStatus, at time.Time) error {
	var res sql.Result
	var err error
	if status == store.ExecutionRunning {
		res, err = s.db.ExecContext(ctx,
			`UPDATE workflow_executions SET status=?, started_at=COALESCE(started_at, ?) WHERE id=?`,
			string(status), fmtTime(at), id.String())
	} else {
		res, err = s.db.ExecContext(ctx,
			`UPDATE workflow_executions SET status=?, completed_at=? WHERE id=?`, string(status), fmtTime(at), id.String())
	}
	if err != nil {
		return fmt.Errorf("sqlite: update execution status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &domainerrors.NotFoundError{Resource: "workflow_execution", ID: id.String()}
	}
	return nil
}

func (s *Store) SetExecutionCreditsConsumed(ctx context.Context, id uuid.UUID, credits int) error {
	res, err := s.db.ExecContext(ctx, `UPDATE workflow_executions SET credits_consumed = ? WHERE id = ?`, credits, id.String())
	if err != nil {
		return fmt.Errorf("sqlite: set execution credits consumed: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &domainerrors.NotFoundError{Resource: "workflow_execution", ID: id.String()}
	}
	return nil
}

func (s *Store) ListExecutions(ctx context.Context, workflowID uuid.UUID, opts store.ListOpts) ([]store.WorkflowExecution, error) {
	query := `SELECT ` + executionColumns + ` FROM workflow_executions WHERE workflow_id = ? ORDER BY created_at ` + orderDir(opts)
	query += limitOffsetClause(opts)
	rows, err := s.db.QueryContext(ctx, query, workflowID.String())
	if err != nil {
		return nil, fmt.Errorf("sqlite: list executions: %w", err)
	}
	defer rows.Close()

	var out []store.WorkflowExecution
	for rows.Next() {
		e, err := s.scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scan execution: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

const phaseColumns = `id, workflow_execution_id, user_id, number, name, status, started_at, completed_at,
	node, inputs, outputs, credits_consumed`

func (s *Store) scanPhase(row interface{ Scan(dest ...any) error }) (store.ExecutionPhase, error) {
	var p store.ExecutionPhase
	var idStr, execIDStr, userIDStr, status string
	var startedAt, completedAt sql.NullString
	var nodeJSON string
	var inputsJSON, outputsJSON sql.NullString
	if err := row.Scan(&idStr, &execIDStr, &userIDStr, &p.Number, &p.Name, &status, &startedAt, &completedAt,
		&nodeJSON, &inputsJSON, &outputsJSON, &p.CreditsConsumed); err != nil {
		return store.ExecutionPhase{}, err
	}
	var err error
	if p.ID, err = uuid.Parse(idStr); err != nil {
		return store.ExecutionPhase{}, err
	}
	if p.WorkflowExecutionID, err = uuid.Parse(execIDStr); err != nil {
		return store.ExecutionPhase{}, err
	}
	if p.UserID, err = uuid.Parse(userIDStr); err != nil {
		return store.ExecutionPhase{}, err
	}
	p.Status = store.PhaseStatus(status)
	p.StartedAt = parseTimePtr(startedAt)
	p.CompletedAt = parseTimePtr(completedAt)
	if err := json.Unmarshal([]byte(nodeJSON), &p.Node); err != nil {
		return store.ExecutionPhase{}, err
	}
	if inputsJSON.Valid && inputsJSON.String != "" {
		if err := json.Unmarshal([]byte(inputsJSON.String), &p.Inputs); err != nil {
			return store.ExecutionPhase{}, err
		}
	}
	if outputsJSON.Valid && outputsJSON.String != "" {
		if err := json.Unmarshal([]byte(outputsJSON.String), &p.Outputs); err != nil {
			return store.ExecutionPhase{}, err
		}
	}
	return p, nil
}

func (s *Store) UpsertPhase(ctx context.Context, p store.ExecutionPhase) (store.ExecutionPhase, error) {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	nodeJSON, err := json.Marshal(p.Node)
	if err != nil {
		return store.ExecutionPhase{}, fmt.Errorf("sqlite: marshal node: %w", err)
	}
	inputsJSON, err := json.Marshal(p.Inputs)
	if err != nil {
		return store.ExecutionPhase{}, fmt.Errorf("sqlite: marshal inputs: %w", err)
	}
	outputsJSON, err := json.Marshal(p.Outputs)
	if err != nil {
		return store.ExecutionPhase{}, fmt.Errorf("sqlite: marshal outputs: %w", err)
	}

	existing, found, err := s.GetPhase(ctx, p.WorkflowExecutionID, p.Node.ID)
	if err != nil {
		return store.ExecutionPhase{}, err
	}
	if found {
		p.ID = existing.ID
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO execution_phases (id, workflow_execution_id, user_id, number, name, status,
			started_at, completed_at, node, inputs, outputs, credits_consumed)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT (workflow_execution_id, number) DO UPDATE SET
			name=excluded.name, status=excluded.status, started_at=excluded.started_at,
			completed_at=excluded.completed_at, node=excluded.node, inputs=excluded.inputs,
			outputs=excluded.outputs, credits_consumed=excluded.credits_consumed`,
		p.ID.String(), p.WorkflowExecutionID.String(), p.UserID.String(), p.Number, p.Name, string(p.Status),
		fmtTimePtr(p.StartedAt), fmtTimePtr(p.CompletedAt), string(nodeJSON), string(inputsJSON), string(outputsJSON), p.CreditsConsumed)
	if err != nil {
		return store.ExecutionPhase{}, fmt.Errorf("sqlite: upsert phase: %w", err)
	}
	return p, nil
}

func (s *Store) ListPhases(ctx context.Context, executionID uuid.UUID) ([]store.ExecutionPhase, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+phaseColumns+` FROM execution_phases WHERE workflow_execution_id = ? ORDER BY number ASC`, executionID.String())
	if err != nil {
		return nil, fmt.Errorf("sqlite: list phases: %w", err)
	}
	defer rows.Close()

	var out []store.ExecutionPhase
	for rows.Next() {
		p, err := s.scanPhase(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scan phase: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) GetPhase(ctx context.Context, executionID uuid.UUID, nodeID string) (store.ExecutionPhase, bool, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+phaseColumns+` FROM execution_phases WHERE workflow_execution_id = ? AND json_extract(node, '$.id') = ?`,
		executionID.String(), nodeID)
	if err != nil {
		return store.ExecutionPhase{}, false, fmt.Errorf("sqlite: get phase: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return store.ExecutionPhase{}, false, rows.Err()
	}
	p, err := s.scanPhase(rows)
	if err != nil {
		return store.ExecutionPhase{}, false, fmt.Errorf("sqlite: scan phase: %w", err)
	}
	return p, true, nil
}

func (s *Store) AppendLog(ctx context.Context, l store.ExecutionLog) error {
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	if l.Timestamp.IsZero() {
		l.Timestamp = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO execution_logs (id, execution_phase_id, log_level, message, timestamp) VALUES (?,?,?,?,?)`,
		l.ID.String(), l.ExecutionPhaseID.String(), string(l.LogLevel), l.Message, fmtTime(l.Timestamp))
	if err != nil {
		return fmt.Errorf("sqlite: append log: %w", err)
	}
	return nil
}

func (s *Store) ListLogs(ctx context.Context, phaseID uuid.UUID) ([]store.ExecutionLog, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, execution_phase_id, log_level, message, timestamp FROM execution_logs
		 WHERE execution_phase_id = ? ORDER BY timestamp ASC`, phaseID.String())
	if err != nil {
		return nil, fmt.Errorf("sqlite: list logs: %w", err)
	}
	defer rows.Close()

	var out []store.ExecutionLog
	for rows.Next() {
		var l store.ExecutionLog
		var idStr, phaseIDStr, level, ts string
		if err := rows.Scan(&idStr, &phaseIDStr, &level, &l.Message, &ts); err != nil {
			return nil, fmt.Errorf("sqlite: scan log: %w", err)
		}
		var err error
		if l.ID, err = uuid.Parse(idStr); err != nil {
			return nil, err
		}
		if l.ExecutionPhaseID, err = uuid.Parse(phaseIDStr); err != nil {
			return nil, err
		}
		l.LogLevel = store.LogLevel(level)
		l.Timestamp = parseTime(ts)
		out = append(out, l)
	}
	return out, rows.Err()
}

func (s *Store) GetBalance(ctx context.Context, userID uuid.UUID) (store.UserBalance, error) {
	var credits int
	var updatedAt string
	err := s.db.QueryRowContext(ctx,
		`SELECT credits, updated_at FROM user_balances WHERE user_id = ?`, userID.String()).Scan(&credits, &updatedAt)
	if err == sql.ErrNoRows {
		return store.UserBalance{}, &domainerrors.NotFoundError{Resource: "user_balance", ID: userID.String()}
	}
	if err != nil {
		return store.UserBalance{}, fmt.Errorf("sqlite: get balance: %w", err)
	}
	return store.UserBalance{UserID: userID, Credits: credits, UpdatedAt: parseTime(updatedAt)}, nil
}

// AtomicDebit reads and updates the balance inside one transaction on the
// Store's single connection (New sets MaxOpenConns(1)), so no other writer
// in the process can interleave, giving the same exclusivity a row lock
// gives in the PostgreSQL backend.
func (s *Store) AtomicDebit(ctx context.Context, userID uuid.UUID, amount int) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin: %w", err)
	}
	defer tx.Rollback()

	var credits int
	err = tx.QueryRowContext(ctx, `SELECT credits FROM user_balances WHERE user_id = ?`, userID.String()).Scan(&credits)
	if err == sql.ErrNoRows {
		return &domainerrors.NotFoundError{Resource: "user_balance", ID: userID.String()}
	}
	if err != nil {
		return fmt.Errorf("sqlite: lock balance: %w", err)
	}
	if credits < amount {
		return &domainerrors.InsufficientCreditsError{UserID: userID.String(), Requested: amount, Available: credits}
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE user_balances SET credits = credits - ?, updated_at = ? WHERE user_id = ?`,
		amount, fmtTime(time.Now().UTC()), userID.String())
	if err != nil {
		return fmt.Errorf("sqlite: debit balance: %w", err)
	}
	return tx.Commit()
}

func (s *Store) AtomicCredit(ctx context.Context, userID uuid.UUID, amount int) (store.UserPurchase, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return store.UserPurchase{}, fmt.Errorf("sqlite: begin: %w", err)
	}
	defer tx.Rollback()

	now := fmtTime(time.Now().UTC())
	_, err = tx.ExecContext(ctx, `
		INSERT INTO user_balances (user_id, credits, updated_at) VALUES (?, ?, ?)
		ON CONFLICT (user_id) DO UPDATE SET credits = credits + ?, updated_at = ?`,
		userID.String(), amount, now, amount, now)
	if err != nil {
		return store.UserPurchase{}, fmt.Errorf("sqlite: credit balance: %w", err)
	}

	purchase := store.UserPurchase{ID: uuid.New(), UserID: userID, Credits: amount, CreatedAt: time.Now().UTC()}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO user_purchases (id, user_id, credits, created_at) VALUES (?,?,?,?)`,
		purchase.ID.String(), purchase.UserID.String(), purchase.Credits, fmtTime(purchase.CreatedAt))
	if err != nil {
		return store.UserPurchase{}, fmt.Errorf("sqlite: record purchase: %w", err)
	}
	return purchase, tx.Commit()
}

func (s *Store) CreateCredential(ctx context.Context, c store.Credential) (store.Credential, error) {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO credentials (id, user_id, name, secret_ref, is_db_secret, created_at) VALUES (?,?,?,?,?,?)`,
		c.ID.String(), c.UserID.String(), c.Name, c.SecretRef, c.IsDBSecret, fmtTime(c.CreatedAt))
	if err != nil {
		return store.Credential{}, fmt.Errorf("sqlite: create credential: %w", err)
	}
	return c, nil
}

func (s *Store) GetCredential(ctx context.Context, id uuid.UUID) (store.Credential, error) {
	var c store.Credential
	var idStr, userIDStr string
	var createdAt string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, name, secret_ref, is_db_secret, created_at FROM credentials WHERE id = ?`, id.String()).
		Scan(&idStr, &userIDStr, &c.Name, &c.SecretRef, &c.IsDBSecret, &createdAt)
	if err == sql.ErrNoRows {
		return store.Credential{}, &domainerrors.NotFoundError{Resource: "credential", ID: id.String()}
	}
	if err != nil {
		return store.Credential{}, fmt.Errorf("sqlite: get credential: %w", err)
	}
	var parseErr error
	if c.ID, parseErr = uuid.Parse(idStr); parseErr != nil {
		return store.Credential{}, parseErr
	}
	if c.UserID, parseErr = uuid.Parse(userIDStr); parseErr != nil {
		return store.Credential{}, parseErr
	}
	c.CreatedAt = parseTime(createdAt)
	return c, nil
}

func (s *Store) ListCredentials(ctx context.Context, userID uuid.UUID) ([]store.Credential, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, name, secret_ref, is_db_secret, created_at FROM credentials
		 WHERE user_id = ? ORDER BY name ASC`, userID.String())
	if err != nil {
		return nil, fmt.Errorf("sqlite: list credentials: %w", err)
	}
	defer rows.Close()

	var out []store.Credential
	for rows.Next() {
		var c store.Credential
		var idStr, userIDStr, createdAt string
		if err := rows.Scan(&idStr, &userIDStr, &c.Name, &c.SecretRef, &c.IsDBSecret, &createdAt); err != nil {
			return nil, fmt.Errorf("sqlite: scan credential: %w", err)
		}
		var parseErr error
		if c.ID, parseErr = uuid.Parse(idStr); parseErr != nil {
			return nil, parseErr
		}
		if c.UserID, parseErr = uuid.Parse(userIDStr); parseErr != nil {
			return nil, parseErr
		}
		c.CreatedAt = parseTime(createdAt)
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) DeleteCredential(ctx context.Context, id uuid.UUID) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM credentials WHERE id = ?`, id.String())
	if err != nil {
		return fmt.Errorf("sqlite: delete credential: %w", err)
	}
	return nil
}

func orderDir(opts store.ListOpts) string {
	if opts.Order == "desc" {
		return "DESC"
	}
	return "ASC"
}

func limitOffsetClause(opts store.ListOpts) string {
	clause := ""
	if opts.Limit > 0 {
		clause += fmt.Sprintf(" LIMIT %d", opts.Limit)
	}
	if opts.Offset > 0 {
		clause += fmt.Sprintf(" OFFSET %d", opts.Offset)
	}
	return clause
}

var _ store.Store = (*Store)(nil)
