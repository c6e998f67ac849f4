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

package store

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Store is the persistence gateway shared by the scheduler, worker, and
// runner. Implementations live in internal/store/postgres (production),
// internal/store/sqlite (local/dev), and internal/store/memory (tests).
//
// Every method that reads or writes more than one row does so inside a
// single transaction; callers never need to coordinate their own locking
// beyond what AtomicDebit and AtomicCredit already provide.
type Store interface {
	UserStore
	WorkflowStore
	VersionStore
	ExecutionStore
	PhaseStore
	LogStore
	BalanceStore
	CredentialStore
	GuestSessionStore

	// Close releases any underlying connection pool.
	Close() error
}

type UserStore interface {
	CreateUser(ctx context.Context, u User) (User, error)
	GetUser(ctx context.Context, id uuid.UUID) (User, error)
	DeleteUser(ctx context.Context, id uuid.UUID) error
	ListExpiredGuestUsers(ctx context.Context, now time.Time) ([]User, error)
}

type WorkflowStore interface {
	CreateWorkflow(ctx context.Context, w Workflow) (Workflow, error)
	GetWorkflow(ctx context.Context, id uuid.UUID) (Workflow, error)
	UpdateWorkflow(ctx context.Context, w Workflow) (Workflow, error)
	DeleteWorkflow(ctx context.Context, id uuid.UUID) error
	ListWorkflows(ctx context.Context, userID uuid.UUID, opts ListOpts) ([]Workflow, error)

	// GetDueWorkflows returns every PUBLISHED workflow whose next_run_at is
	// non-null and not after now, ordered by next_run_at ascending.
	GetDueWorkflows(ctx context.Context, now time.Time) ([]Workflow, error)

	// SetNextRun updates a workflow's next_run_at after the scheduler has
	// enqueued its due run, without touching any other field.
	SetNextRun(ctx context.Context, workflowID uuid.UUID, nextRunAt *time.Time) error

	// RecordLastRun updates a workflow's denormalized last-run summary
	// fields after an execution reaches a terminal status.
	RecordLastRun(ctx context.Context, workflowID uuid.UUID, runID uuid.UUID, status ExecutionStatus, at time.Time) error
}

type VersionStore interface {
	CreateVersion(ctx context.Context, v WorkflowVersion) (WorkflowVersion, error)
	GetVersion(ctx context.Context, id uuid.UUID) (WorkflowVersion, error)
	GetActiveVersion(ctx context.Context, workflowID uuid.UUID) (WorkflowVersion, error)
	ListVersions(ctx context.Context, workflowID uuid.UUID, opts ListOpts) ([]WorkflowVersion, error)

	// ActivateVersion marks versionID active and every other version of the
	// same workflow inactive, and points the workflow's active_version_id at
	// it, all in one transaction.
	ActivateVersion(ctx context.Context, workflowID, versionID uuid.UUID) error
}

type ExecutionStore interface {
	CreateExecution(ctx context.Context, e WorkflowExecution) (WorkflowExecution, error)
	GetExecution(ctx context.Context, id uuid.UUID) (WorkflowExecution, error)
	UpdateExecutionStatus(ctx context.Context, id uuid.UUID, status ExecutionStatus, at time.Time) error
	SetExecutionCreditsConsumed(ctx context.Context, id uuid.UUID, credits int) error
	ListExecutions(ctx context.Context, workflowID uuid.UUID, opts ListOpts) ([]WorkflowExecution, error)
}

type PhaseStore interface {
	// UpsertPhase creates a phase row on first call and updates it on
	// subsequent calls for the same (execution, node) pair, so that redelivery
	// of a queue message replays idempotently instead of duplicating rows.
	UpsertPhase(ctx context.Context, p ExecutionPhase) (ExecutionPhase, error)
	ListPhases(ctx context.Context, executionID uuid.UUID) ([]ExecutionPhase, error)
	GetPhase(ctx context.Context, executionID uuid.UUID, nodeID string) (ExecutionPhase, bool, error)
}

type LogStore interface {
	AppendLog(ctx context.Context, l ExecutionLog) error
	ListLogs(ctx context.Context, phaseID uuid.UUID) ([]ExecutionLog, error)
}

type BalanceStore interface {
	GetBalance(ctx context.Context, userID uuid.UUID) (UserBalance, error)

	// AtomicDebit locks the user's balance row, checks that credits are
	// sufficient, and decrements it in one transaction. On insufficient
	// credits it returns *errors.InsufficientCreditsError and leaves the
	// balance unchanged.
	AtomicDebit(ctx context.Context, userID uuid.UUID, amount int) error

	// AtomicCredit increments the user's balance and records a UserPurchase
	// row in the same transaction.
	AtomicCredit(ctx context.Context, userID uuid.UUID, amount int) (UserPurchase, error)
}

type CredentialStore interface {
	CreateCredential(ctx context.Context, c Credential) (Credential, error)
	GetCredential(ctx context.Context, id uuid.UUID) (Credential, error)
	ListCredentials(ctx context.Context, userID uuid.UUID) ([]Credential, error)
	DeleteCredential(ctx context.Context, id uuid.UUID) error
}

type GuestSessionStore interface {
	CreateGuestSession(ctx context.Context, s GuestSession) (GuestSession, error)
	ListExpiredGuestSessions(ctx context.Context, now time.Time) ([]GuestSession, error)
	DeleteGuestSession(ctx context.Context, id uuid.UUID) error
}
