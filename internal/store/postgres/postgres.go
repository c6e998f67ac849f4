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

// Package postgres is the production Store backend. It opens its pool
// through the pgx stdlib driver so sqlx and goqu compose on top of the
// standard database/sql interfaces, the same layering the platform's other
// SQL backends use.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/jackc/pgx/v5/stdlib"

	domainerrors "github.com/flowforge/workflows/internal/errors"
	"github.com/flowforge/workflows/internal/store"
)

var goquDialect = goqu.Dialect("postgres")

// Store is a PostgreSQL-backed store.Store.
type Store struct {
	db *sqlx.DB
}

// Config holds pool-tuning knobs. A PoolMode of "none" disables idle
// connections entirely, the shape the scheduler's tick-only deployment mode
// needs so it never outlives a single tick holding a pooled connection.
type Config struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	PoolMode        string // "pooled" (default) or "none"
}

// New opens a connection pool against cfg.DSN, runs migrations, and returns
// a ready Store.
func New(ctx context.Context, cfg Config) (*Store, error) {
	db, err := sqlx.Open("pgx", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}

	if cfg.PoolMode == "none" {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(0)
		db.SetConnMaxLifetime(0)
	} else {
		if cfg.MaxOpenConns > 0 {
			db.SetMaxOpenConns(cfg.MaxOpenConns)
		}
		if cfg.MaxIdleConns > 0 {
			db.SetMaxIdleConns(cfg.MaxIdleConns)
		}
		if cfg.ConnMaxLifetime > 0 {
			db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
		}
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres: migrate: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

// DB exposes the underlying *sql.DB so collaborators that predate this
// Store (sqlqueue, dbsecret) can share its connection pool instead of
// opening a second one.
func (s *Store) DB() *sql.DB { return s.db.DB }

func (s *Store) migrate(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id UUID PRIMARY KEY,
			is_guest BOOLEAN NOT NULL DEFAULT false,
			guest_expires_at TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_users_guest_expiry ON users(guest_expires_at) WHERE is_guest`,
		`CREATE TABLE IF NOT EXISTS guest_sessions (
			id UUID PRIMARY KEY,
			user_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			expires_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_guest_sessions_expiry ON guest_sessions(expires_at)`,
		`CREATE TABLE IF NOT EXISTS user_balances (
			user_id UUID PRIMARY KEY REFERENCES users(id) ON DELETE CASCADE,
			credits INTEGER NOT NULL DEFAULT 0,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS user_purchases (
			id UUID PRIMARY KEY,
			user_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			credits INTEGER NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS credentials (
			id UUID PRIMARY KEY,
			user_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			name VARCHAR(255) NOT NULL,
			secret_ref TEXT NOT NULL,
			is_db_secret BOOLEAN NOT NULL DEFAULT false,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE(user_id, name)
		)`,
		`CREATE TABLE IF NOT EXISTS workflows (
			id UUID PRIMARY KEY,
			user_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			name VARCHAR(255) NOT NULL,
			status VARCHAR(20) NOT NULL,
			cron VARCHAR(64),
			credits_cost INTEGER,
			active_version_id UUID,
			last_run_id UUID,
			last_run_status VARCHAR(20),
			last_run_at TIMESTAMPTZ,
			next_run_at TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_workflows_user ON workflows(user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_workflows_due ON workflows(next_run_at) WHERE status = 'PUBLISHED'`,
		`CREATE TABLE IF NOT EXISTS workflow_versions (
			id UUID PRIMARY KEY,
			workflow_id UUID NOT NULL REFERENCES workflows(id) ON DELETE CASCADE,
			version_number INTEGER NOT NULL,
			definition JSONB NOT NULL,
			execution_plan JSONB NOT NULL,
			is_active BOOLEAN NOT NULL DEFAULT false,
			parent_version_id UUID,
			created_by UUID NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE(workflow_id, version_number)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_workflow_versions_workflow ON workflow_versions(workflow_id)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_workflow_versions_active ON workflow_versions(workflow_id) WHERE is_active`,
		`CREATE TABLE IF NOT EXISTS workflow_executions (
			id UUID PRIMARY KEY,
			workflow_id UUID NOT NULL REFERENCES workflows(id) ON DELETE CASCADE,
			user_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			trigger VARCHAR(20) NOT NULL,
			status VARCHAR(20) NOT NULL,
			credits_consumed INTEGER,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			started_at TIMESTAMPTZ,
			completed_at TIMESTAMPTZ
		)`,
		`CREATE INDEX IF NOT EXISTS idx_workflow_executions_workflow ON workflow_executions(workflow_id, created_at DESC)`,
		`CREATE TABLE IF NOT EXISTS execution_phases (
			id UUID PRIMARY KEY,
			workflow_execution_id UUID NOT NULL REFERENCES workflow_executions(id) ON DELETE CASCADE,
			user_id UUID NOT NULL,
			number INTEGER NOT NULL,
			name VARCHAR(255) NOT NULL,
			status VARCHAR(20) NOT NULL,
			started_at TIMESTAMPTZ,
			completed_at TIMESTAMPTZ,
			node JSONB NOT NULL,
			inputs JSONB,
			outputs JSONB,
			credits_consumed INTEGER,
			UNIQUE(workflow_execution_id, number)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_execution_phases_execution ON execution_phases(workflow_execution_id)`,
		`CREATE TABLE IF NOT EXISTS execution_logs (
			id UUID PRIMARY KEY,
			execution_phase_id UUID NOT NULL REFERENCES execution_phases(id) ON DELETE CASCADE,
			log_level VARCHAR(10) NOT NULL,
			message TEXT NOT NULL,
			timestamp TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_execution_logs_phase ON execution_logs(execution_phase_id)`,
	}

	for _, m := range migrations {
		if _, err := s.db.ExecContext(ctx, m); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

func (s *Store) CreateUser(ctx context.Context, u store.User) (store.User, error) {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return store.User{}, fmt.Errorf("postgres: begin: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO users (id, is_guest, guest_expires_at, created_at) VALUES ($1, $2, $3, $4)`,
		u.ID, u.IsGuest, u.GuestExpiresAt, u.CreatedAt)
	if err != nil {
		return store.User{}, fmt.Errorf("postgres: insert user: %w", err)
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO user_balances (user_id, credits, updated_at) VALUES ($1, 0, $2)`,
		u.ID, u.CreatedAt)
	if err != nil {
		return store.User{}, fmt.Errorf("postgres: seed balance: %w", err)
	}
	return u, tx.Commit()
}

func (s *Store) GetUser(ctx context.Context, id uuid.UUID) (store.User, error) {
	var u store.User
	err := s.db.GetContext(ctx, &u,
		`SELECT id, is_guest, guest_expires_at, created_at FROM users WHERE id = $1`, id)
	if err == sql.ErrNoRows {
		return store.User{}, &domainerrors.NotFoundError{Resource: "user", ID: id.String()}
	}
	if err != nil {
		return store.User{}, fmt.Errorf("postgres: get user: %w", err)
	}
	return u, nil
}

func (s *Store) DeleteUser(ctx context.Context, id uuid.UUID) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("postgres: delete user: %w", err)
	}
	return nil
}

func (s *Store) ListExpiredGuestUsers(ctx context.Context, now time.Time) ([]store.User, error) {
	var out []store.User
	err := s.db.SelectContext(ctx, &out,
		`SELECT id, is_guest, guest_expires_at, created_at FROM users
		 WHERE is_guest AND guest_expires_at IS NOT NULL AND guest_expires_at <= $1`, now)
	if err != nil {
		return nil, fmt.Errorf("postgres: list expired guest users: %w", err)
	}
	return out, nil
}

func (s *Store) CreateGuestSession(ctx context.Context, sess store.GuestSession) (store.GuestSession, error) {
	if sess.ID == uuid.Nil {
		sess.ID = uuid.New()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO guest_sessions (id, user_id, expires_at) VALUES ($1, $2, $3)`,
		sess.ID, sess.UserID, sess.ExpiresAt)
	if err != nil {
		return store.GuestSession{}, fmt.Errorf("postgres: create guest session: %w", err)
	}
	return sess, nil
}

func (s *Store) ListExpiredGuestSessions(ctx context.Context, now time.Time) ([]store.GuestSession, error) {
	var out []store.GuestSession
	err := s.db.SelectContext(ctx, &out,
		`SELECT id, user_id, expires_at FROM guest_sessions WHERE expires_at <= $1`, now)
	if err != nil {
		return nil, fmt.Errorf("postgres: list expired guest sessions: %w", err)
	}
	return out, nil
}

func (s *Store) DeleteGuestSession(ctx context.Context, id uuid.UUID) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM guest_sessions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("postgres: delete guest session: %w", err)
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
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
		w.ID, w.UserID, w.Name, w.Status, w.Cron, w.CreditsCost, w.ActiveVersionID,
		w.LastRunID, w.LastRunStatus, w.LastRunAt, w.NextRunAt, w.CreatedAt, w.UpdatedAt)
	if err != nil {
		return store.Workflow{}, fmt.Errorf("postgres: create workflow: %w", err)
	}
	return w, nil
}

func (s *Store) GetWorkflow(ctx context.Context, id uuid.UUID) (store.Workflow, error) {
	var w store.Workflow
	err := s.db.GetContext(ctx, &w, `SELECT * FROM workflows WHERE id = $1`, id)
	if err == sql.ErrNoRows {
		return store.Workflow{}, &domainerrors.NotFoundError{Resource: "workflow", ID: id.String()}
	}
	if err != nil {
		return store.Workflow{}, fmt.Errorf("postgres: get workflow: %w", err)
	}
	return w, nil
}

func (s *Store) UpdateWorkflow(ctx context.Context, w store.Workflow) (store.Workflow, error) {
	w.UpdatedAt = time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE workflows SET name=$2, status=$3, cron=$4, credits_cost=$5, active_version_id=$6,
			next_run_at=$7, updated_at=$8 WHERE id=$1`,
		w.ID, w.Name, w.Status, w.Cron, w.CreditsCost, w.ActiveVersionID, w.NextRunAt, w.UpdatedAt)
	if err != nil {
		return store.Workflow{}, fmt.Errorf("postgres: update workflow: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.Workflow{}, &domainerrors.NotFoundError{Resource: "workflow", ID: w.ID.String()}
	}
	return w, nil
}

func (s *Store) DeleteWorkflow(ctx context.Context, id uuid.UUID) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM workflows WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("postgres: delete workflow: %w", err)
	}
	return nil
}

func (s *Store) ListWorkflows(ctx context.Context, userID uuid.UUID, opts store.ListOpts) ([]store.Workflow, error) {
	ds := goquDialect.From("workflows").Where(goqu.C("user_id").Eq(userID))
	ds = applyListOpts(ds, opts, "created_at")

	query, args, err := ds.Prepared(true).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("postgres: build list workflows query: %w", err)
	}
	var out []store.Workflow
	if err := s.db.SelectContext(ctx, &out, query, args...); err != nil {
		return nil, fmt.Errorf("postgres: list workflows: %w", err)
	}
	return out, nil
}

func (s *Store) GetDueWorkflows(ctx context.Context, now time.Time) ([]store.Workflow, error) {
	var out []store.Workflow
	err := s.db.SelectContext(ctx, &out,
		`SELECT * FROM workflows WHERE status = $1 AND next_run_at IS NOT NULL AND next_run_at <= $2
		 ORDER BY next_run_at ASC`, store.WorkflowPublished, now)
	if err != nil {
		return nil, fmt.Errorf("postgres: get due workflows: %w", err)
	}
	return out, nil
}

func (s *Store) SetNextRun(ctx context.Context, workflowID uuid.UUID, nextRunAt *time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE workflows SET next_run_at = $2, updated_at = NOW() WHERE id = $1`, workflowID, nextRunAt)
	if err != nil {
		return fmt.Errorf("postgres: set next run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &domainerrors.NotFoundError{Resource: "workflow", ID: workflowID.String()}
	}
	return nil
}

func (s *Store) RecordLastRun(ctx context.Context, workflowID, runID uuid.UUID, status store.ExecutionStatus, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE workflows SET last_run_id=$2, last_run_status=$3, last_run_at=$4, updated_at=NOW() WHERE id=$1`,
		workflowID, runID, status, at)
	if err != nil {
		return fmt.Errorf("postgres: record last run: %w", err)
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
		return store.WorkflowVersion{}, fmt.Errorf("postgres: marshal definition: %w", err)
	}
	planJSON, err := json.Marshal(v.ExecutionPlan)
	if err != nil {
		return store.WorkflowVersion{}, fmt.Errorf("postgres: marshal execution plan: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO workflow_versions (id, workflow_id, version_number, definition, execution_plan,
			is_active, parent_version_id, created_by, created_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		v.ID, v.WorkflowID, v.VersionNumber, defJSON, planJSON, v.IsActive, v.ParentVersionID, v.CreatedBy, v.CreatedAt)
	if err != nil {
		return store.WorkflowVersion{}, fmt.Errorf("postgres: create version: %w", err)
	}
	return v, nil
}

type versionRow struct {
	ID              uuid.UUID       `db:"id"`
	WorkflowID      uuid.UUID       `db:"workflow_id"`
	VersionNumber   int             `db:"version_number"`
	Definition      json.RawMessage `db:"definition"`
	ExecutionPlan   json.RawMessage `db:"execution_plan"`
	IsActive        bool            `db:"is_active"`
	ParentVersionID *uuid.UUID      `db:"parent_version_id"`
	CreatedBy       uuid.UUID       `db:"created_by"`
	CreatedAt       time.Time       `db:"created_at"`
}

func (r versionRow) toDomain() (store.WorkflowVersion, error) {
	v := store.WorkflowVersion{
		ID: r.ID, WorkflowID: r.WorkflowID, VersionNumber: r.VersionNumber,
		IsActive: r.IsActive, ParentVersionID: r.ParentVersionID,
		CreatedBy: r.CreatedBy, CreatedAt: r.CreatedAt,
	}
	if err := json.Unmarshal(r.Definition, &v.Definition); err != nil {
		return store.WorkflowVersion{}, fmt.Errorf("postgres: unmarshal definition: %w", err)
	}
	if err := json.Unmarshal(r.ExecutionPlan, &v.ExecutionPlan); err != nil {
		return store.WorkflowVersion{}, fmt.Errorf("postgres: unmarshal execution plan: %w", err)
	}
	return v, nil
}

func (s *Store) GetVersion(ctx context.Context, id uuid.UUID) (store.WorkflowVersion, error) {
	var row versionRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM workflow_versions WHERE id = $1`, id)
	if err == sql.ErrNoRows {
		return store.WorkflowVersion{}, &domainerrors.NotFoundError{Resource: "workflow_version", ID: id.String()}
	}
	if err != nil {
		return store.WorkflowVersion{}, fmt.Errorf("postgres: get version: %w", err)
	}
	return row.toDomain()
}

func (s *Store) GetActiveVersion(ctx context.Context, workflowID uuid.UUID) (store.WorkflowVersion, error) {
	var row versionRow
	err := s.db.GetContext(ctx, &row,
		`SELECT * FROM workflow_versions WHERE workflow_id = $1 AND is_active`, workflowID)
	if err == sql.ErrNoRows {
		return store.WorkflowVersion{}, &domainerrors.NotFoundError{Resource: "active_workflow_version", ID: workflowID.String()}
	}
	if err != nil {
		return store.WorkflowVersion{}, fmt.Errorf("postgres: get active version: %w", err)
	}
	return row.toDomain()
}

func (s *Store) ListVersions(ctx context.Context, workflowID uuid.UUID, opts store.ListOpts) ([]store.WorkflowVersion, error) {
	ds := goquDialect.From("workflow_versions").Where(goqu.C("workflow_id").Eq(workflowID))
	ds = applyListOpts(ds, opts, "version_number")
	query, args, err := ds.Prepared(true).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("postgres: build list versions query: %w", err)
	}
	var rows []versionRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("postgres: list versions: %w", err)
	}
	out := make([]store.WorkflowVersion, 0, len(rows))
	for _, r := range rows {
		v, err := r.toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func (s *Store) ActivateVersion(ctx context.Context, workflowID, versionID uuid.UUID) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("postgres: begin: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE workflow_versions SET is_active = false WHERE workflow_id = $1`, workflowID)
	if err != nil {
		return fmt.Errorf("postgres: deactivate versions: %w", err)
	}
	_ = res

	res, err = tx.ExecContext(ctx,
		`UPDATE workflow_versions SET is_active = true WHERE id = $1 AND workflow_id = $2`, versionID, workflowID)
	if err != nil {
		return fmt.Errorf("postgres: activate version: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &domainerrors.NotFoundError{Resource: "workflow_version", ID: versionID.String()}
	}

	res, err = tx.ExecContext(ctx,
		`UPDATE workflows SET active_version_id = $2, updated_at = NOW() WHERE id = $1`, workflowID, versionID)
	if err != nil {
		return fmt.Errorf("postgres: point workflow at active version: %w", err)
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
			created_at, started_at, completed_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		e.ID, e.WorkflowID, e.UserID, e.Trigger, e.Status, e.CreditsConsumed, e.CreatedAt, e.StartedAt, e.CompletedAt)
	if err != nil {
		return store.WorkflowExecution{}, fmt.Errorf("postgres: create execution: %w", err)
	}
	return e, nil
}

func (s *Store) GetExecution(ctx context.Context, id uuid.UUID) (store.WorkflowExecution, error) {
	var e store.WorkflowExecution
	err := s.db.GetContext(ctx, &e, `SELECT * FROM workflow_executions WHERE id = $1`, id)
	if err == sql.ErrNoRows {
		return store.WorkflowExecution{}, &domainerrors.NotFoundError{Resource: "workflow_execution", ID: id.String()}
	}
	if err != nil {
		return store.WorkflowExecution{}, fmt.Errorf("postgres: get execution: %w", err)
	}
	return e, nil
}

func (s *Store) UpdateExecutionStatus(ctx context.Context, id uuid.UUID, status store.ExecutionStatus, at time.Time) error {
	var query string
	switch status {
	case store.ExecutionRunning:
		query = `UPDATE workflow_executions SET status=$2, started_at=COALESCE(started_at, $3) WHERE id=$1`
	default:
		query = `UPDATE workflow_executions SET status=$2, completed_at=$3 WHERE id=$1`
	}
	res, err := s.db.ExecContext(ctx, query, id, status, at)
	if err != nil {
		return fmt.Errorf("postgres: update execution status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &domainerrors.NotFoundError{Resource: "workflow_execution", ID: id.String()}
	}
	return nil
}

func (s *Store) SetExecutionCreditsConsumed(ctx context.Context, id uuid.UUID, credits int) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE workflow_executions SET credits_consumed = $2 WHERE id = $1`, id, credits)
	if err != nil {
		return fmt.Errorf("postgres: set execution credits consumed: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &domainerrors.NotFoundError{Resource: "workflow_execution", ID: id.String()}
	}
	return nil
}

func (s *Store) ListExecutions(ctx context.Context, workflowID uuid.UUID, opts store.ListOpts) ([]store.WorkflowExecution, error) {
	ds := goquDialect.From("workflow_executions").Where(goqu.C("workflow_id").Eq(workflowID))
	ds = applyListOpts(ds, opts, "created_at")
	query, args, err := ds.Prepared(true).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("postgres: build list executions query: %w", err)
	}
	var out []store.WorkflowExecution
	if err := s.db.SelectContext(ctx, &out, query, args...); err != nil {
		return nil, fmt.Errorf("postgres: list executions: %w", err)
	}
	return out, nil
}

type phaseRow struct {
	ID                  uuid.UUID       `db:"id"`
	WorkflowExecutionID uuid.UUID       `db:"workflow_execution_id"`
	UserID              uuid.UUID       `db:"user_id"`
	Number              int             `db:"number"`
	Name                string          `db:"name"`
	Status              store.PhaseStatus `db:"status"`
	StartedAt           *time.Time      `db:"started_at"`
	CompletedAt         *time.Time      `db:"completed_at"`
	Node                json.RawMessage `db:"node"`
	Inputs              json.RawMessage `db:"inputs"`
	Outputs             json.RawMessage `db:"outputs"`
	CreditsConsumed     *int            `db:"credits_consumed"`
}

func (r phaseRow) toDomain() (store.ExecutionPhase, error) {
	p := store.ExecutionPhase{
		ID: r.ID, WorkflowExecutionID: r.WorkflowExecutionID, UserID: r.UserID,
		Number: r.Number, Name: r.Name, Status: r.Status,
		StartedAt: r.StartedAt, CompletedAt: r.CompletedAt, CreditsConsumed: r.CreditsConsumed,
	}
	if err := json.Unmarshal(r.Node, &p.Node); err != nil {
		return store.ExecutionPhase{}, fmt.Errorf("postgres: unmarshal node: %w", err)
	}
	if len(r.Inputs) > 0 {
		if err := json.Unmarshal(r.Inputs, &p.Inputs); err != nil {
			return store.ExecutionPhase{}, fmt.Errorf("postgres: unmarshal inputs: %w", err)
		}
	}
	if len(r.Outputs) > 0 {
		if err := json.Unmarshal(r.Outputs, &p.Outputs); err != nil {
			return store.ExecutionPhase{}, fmt.Errorf("postgres: unmarshal outputs: %w", err)
		}
	}
	return p, nil
}

// UpsertPhase relies on the (workflow_execution_id, number) unique
// constraint so redelivered queue messages for the same node update the
// existing row instead of inserting a duplicate.
func (s *Store) UpsertPhase(ctx context.Context, p store.ExecutionPhase) (store.ExecutionPhase, error) {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	nodeJSON, err := json.Marshal(p.Node)
	if err != nil {
		return store.ExecutionPhase{}, fmt.Errorf("postgres: marshal node: %w", err)
	}
	inputsJSON, err := json.Marshal(p.Inputs)
	if err != nil {
		return store.ExecutionPhase{}, fmt.Errorf("postgres: marshal inputs: %w", err)
	}
	outputsJSON, err := json.Marshal(p.Outputs)
	if err != nil {
		return store.ExecutionPhase{}, fmt.Errorf("postgres: marshal outputs: %w", err)
	}

	var id uuid.UUID
	err = s.db.GetContext(ctx, &id, `
		INSERT INTO execution_phases (id, workflow_execution_id, user_id, number, name, status,
			started_at, completed_at, node, inputs, outputs, credits_consumed)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		ON CONFLICT (workflow_execution_id, number) DO UPDATE SET
			name = EXCLUDED.name, status = EXCLUDED.status, started_at = EXCLUDED.started_at,
			completed_at = EXCLUDED.completed_at, node = EXCLUDED.node, inputs = EXCLUDED.inputs,
			outputs = EXCLUDED.outputs, credits_consumed = EXCLUDED.credits_consumed
		RETURNING id`,
		p.ID, p.WorkflowExecutionID, p.UserID, p.Number, p.Name, p.Status,
		p.StartedAt, p.CompletedAt, nodeJSON, inputsJSON, outputsJSON, p.CreditsConsumed)
	if err != nil {
		return store.ExecutionPhase{}, fmt.Errorf("postgres: upsert phase: %w", err)
	}
	p.ID = id
	return p, nil
}

func (s *Store) ListPhases(ctx context.Context, executionID uuid.UUID) ([]store.ExecutionPhase, error) {
	var rows []phaseRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT * FROM execution_phases WHERE workflow_execution_id = $1 ORDER BY number ASC`, executionID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list phases: %w", err)
	}
	out := make([]store.ExecutionPhase, 0, len(rows))
	for _, r := range rows {
		p, err := r.toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func (s *Store) GetPhase(ctx context.Context, executionID uuid.UUID, nodeID string) (store.ExecutionPhase, bool, error) {
	var rows []phaseRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT * FROM execution_phases WHERE workflow_execution_id = $1 AND node->>'id' = $2`, executionID, nodeID)
	if err != nil {
		return store.ExecutionPhase{}, false, fmt.Errorf("postgres: get phase: %w", err)
	}
	if len(rows) == 0 {
		return store.ExecutionPhase{}, false, nil
	}
	p, err := rows[0].toDomain()
	if err != nil {
		return store.ExecutionPhase{}, false, err
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
		`INSERT INTO execution_logs (id, execution_phase_id, log_level, message, timestamp) VALUES ($1,$2,$3,$4,$5)`,
		l.ID, l.ExecutionPhaseID, l.LogLevel, l.Message, l.Timestamp)
	if err != nil {
		return fmt.Errorf("postgres: append log: %w", err)
	}
	return nil
}

func (s *Store) ListLogs(ctx context.Context, phaseID uuid.UUID) ([]store.ExecutionLog, error) {
	var out []store.ExecutionLog
	err := s.db.SelectContext(ctx, &out,
		`SELECT * FROM execution_logs WHERE execution_phase_id = $1 ORDER BY timestamp ASC`, phaseID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list logs: %w", err)
	}
	return out, nil
}

func (s *Store) GetBalance(ctx context.Context, userID uuid.UUID) (store.UserBalance, error) {
	var b store.UserBalance
	err := s.db.GetContext(ctx, &b, `SELECT * FROM user_balances WHERE user_id = $1`, userID)
	if err == sql.ErrNoRows {
		return store.UserBalance{}, &domainerrors.NotFoundError{Resource: "user_balance", ID: userID.String()}
	}
	if err != nil {
		return store.UserBalance{}, fmt.Errorf("postgres: get balance: %w", err)
	}
	return b, nil
}

// AtomicDebit locks the balance row with SELECT ... FOR UPDATE so concurrent
// debits against the same user serialize, then checks and decrements inside
// the same transaction.
func (s *Store) AtomicDebit(ctx context.Context, userID uuid.UUID, amount int) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("postgres: begin: %w", err)
	}
	defer tx.Rollback()

	var credits int
	err = tx.GetContext(ctx, &credits,
		`SELECT credits FROM user_balances WHERE user_id = $1 FOR UPDATE`, userID)
	if err == sql.ErrNoRows {
		return &domainerrors.NotFoundError{Resource: "user_balance", ID: userID.String()}
	}
	if err != nil {
		return fmt.Errorf("postgres: lock balance: %w", err)
	}
	if credits < amount {
		return &domainerrors.InsufficientCreditsError{UserID: userID.String(), Requested: amount, Available: credits}
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE user_balances SET credits = credits - $2, updated_at = NOW() WHERE user_id = $1`, userID, amount)
	if err != nil {
		return fmt.Errorf("postgres: debit balance: %w", err)
	}
	return tx.Commit()
}

func (s *Store) AtomicCredit(ctx context.Context, userID uuid.UUID, amount int) (store.UserPurchase, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return store.UserPurchase{}, fmt.Errorf("postgres: begin: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO user_balances (user_id, credits, updated_at) VALUES ($1, $2, NOW())
		ON CONFLICT (user_id) DO UPDATE SET credits = user_balances.credits + $2, updated_at = NOW()`,
		userID, amount)
	if err != nil {
		return store.UserPurchase{}, fmt.Errorf("postgres: credit balance: %w", err)
	}

	purchase := store.UserPurchase{ID: uuid.New(), UserID: userID, Credits: amount, CreatedAt: time.Now().UTC()}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO user_purchases (id, user_id, credits, created_at) VALUES ($1,$2,$3,$4)`,
		purchase.ID, purchase.UserID, purchase.Credits, purchase.CreatedAt)
	if err != nil {
		return store.UserPurchase{}, fmt.Errorf("postgres: record purchase: %w", err)
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
		`INSERT INTO credentials (id, user_id, name, secret_ref, is_db_secret, created_at) VALUES ($1,$2,$3,$4,$5,$6)`,
		c.ID, c.UserID, c.Name, c.SecretRef, c.IsDBSecret, c.CreatedAt)
	if err != nil {
		return store.Credential{}, fmt.Errorf("postgres: create credential: %w", err)
	}
	return c, nil
}

func (s *Store) GetCredential(ctx context.Context, id uuid.UUID) (store.Credential, error) {
	var c store.Credential
	err := s.db.GetContext(ctx, &c, `SELECT * FROM credentials WHERE id = $1`, id)
	if err == sql.ErrNoRows {
		return store.Credential{}, &domainerrors.NotFoundError{Resource: "credential", ID: id.String()}
	}
	if err != nil {
		return store.Credential{}, fmt.Errorf("postgres: get credential: %w", err)
	}
	return c, nil
}

func (s *Store) ListCredentials(ctx context.Context, userID uuid.UUID) ([]store.Credential, error) {
	var out []store.Credential
	err := s.db.SelectContext(ctx, &out,
		`SELECT * FROM credentials WHERE user_id = $1 ORDER BY name ASC`, userID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list credentials: %w", err)
	}
	return out, nil
}

func (s *Store) DeleteCredential(ctx context.Context, id uuid.UUID) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM credentials WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("postgres: delete credential: %w", err)
	}
	return nil
}

func applyListOpts(ds *goqu.SelectDataset, opts store.ListOpts, defaultSort string) *goqu.SelectDataset {
	sort := opts.Sort
	if sort == "" {
		sort = defaultSort
	}
	col := goqu.C(sort)
	if opts.Order == "desc" {
		ds = ds.Order(col.Desc())
	} else {
		ds = ds.Order(col.Asc())
	}
	if opts.Limit > 0 {
		ds = ds.Limit(uint(opts.Limit))
	}
	if opts.Offset > 0 {
		ds = ds.Offset(uint(opts.Offset))
	}
	return ds.Select("*")
}

var _ store.Store = (*Store)(nil)
