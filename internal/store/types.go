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

// Package store defines the entities and the typed persistence gateway
// (C2) shared by the scheduler, worker, and runner. Two pool modes back the
// same interface: a pooled connection for long-lived processes and a
// null-pool connection for short-lived tick processes (see
// internal/store/postgres).
package store

import (
	"time"

	"github.com/google/uuid"
)

// WorkflowStatus is the lifecycle state of a Workflow.
type WorkflowStatus string

const (
	WorkflowDraft     WorkflowStatus = "DRAFT"
	WorkflowPublished WorkflowStatus = "PUBLISHED"
	WorkflowDisabled  WorkflowStatus = "DISABLED"
)

// ExecutionTrigger identifies what caused a WorkflowExecution to be created.
type ExecutionTrigger string

const (
	TriggerScheduled ExecutionTrigger = "SCHEDULED"
	TriggerManual    ExecutionTrigger = "MANUAL"
	TriggerAPI       ExecutionTrigger = "API"
)

// ExecutionStatus is the lifecycle state of a WorkflowExecution. Status is
// monotonic along one of two paths: PENDING -> RUNNING -> COMPLETED or
// PENDING -> RUNNING -> FAILED; CANCELED is reachable only from PENDING or
// RUNNING.
type ExecutionStatus string

const (
	ExecutionPending   ExecutionStatus = "PENDING"
	ExecutionRunning   ExecutionStatus = "RUNNING"
	ExecutionCompleted ExecutionStatus = "COMPLETED"
	ExecutionFailed    ExecutionStatus = "FAILED"
	ExecutionCanceled  ExecutionStatus = "CANCELED"
)

// IsTerminal reports whether status admits no further transitions.
func (s ExecutionStatus) IsTerminal() bool {
	switch s {
	case ExecutionCompleted, ExecutionFailed, ExecutionCanceled:
		return true
	default:
		return false
	}
}

// PhaseStatus is the lifecycle state of an ExecutionPhase. Transitions
// follow PENDING -> RUNNING -> (COMPLETED|FAILED); no reverse transitions.
type PhaseStatus string

const (
	PhasePending   PhaseStatus = "PENDING"
	PhaseRunning   PhaseStatus = "RUNNING"
	PhaseCompleted PhaseStatus = "COMPLETED"
	PhaseFailed    PhaseStatus = "FAILED"
)

// LogLevel mirrors the levels exposed through internal/platformlog.
type LogLevel string

const (
	LogDebug   LogLevel = "DEBUG"
	LogInfo    LogLevel = "INFO"
	LogWarning LogLevel = "WARNING"
	LogError   LogLevel = "ERROR"
)

// User owns workflows, credentials, balance, and executions. Deleting a user
// cascades to every row it owns.
type User struct {
	ID             uuid.UUID  `db:"id"`
	IsGuest        bool       `db:"is_guest"`
	GuestExpiresAt *time.Time `db:"guest_expires_at"`
	CreatedAt      time.Time  `db:"created_at"`
}

// GuestSession tracks an ephemeral session issued to a guest user,
// independent of the guest user's own expiry (supplemented from the
// original Python implementation's guest session table).
type GuestSession struct {
	ID        uuid.UUID `db:"id"`
	UserID    uuid.UUID `db:"user_id"`
	ExpiresAt time.Time `db:"expires_at"`
}

// Workflow is a user-authored DAG of nodes, optionally scheduled on a cron
// expression. next_run_at is non-null iff status is PUBLISHED and cron is
// set.
type Workflow struct {
	ID              uuid.UUID        `db:"id"`
	UserID          uuid.UUID        `db:"user_id"`
	Name            string           `db:"name"`
	Status          WorkflowStatus   `db:"status"`
	Cron            *string          `db:"cron"`
	CreditsCost     *int             `db:"credits_cost"`
	ActiveVersionID *uuid.UUID       `db:"active_version_id"`
	LastRunID       *uuid.UUID       `db:"last_run_id"`
	LastRunStatus   *ExecutionStatus `db:"last_run_status"`
	LastRunAt       *time.Time       `db:"last_run_at"`
	NextRunAt       *time.Time       `db:"next_run_at"`
	CreatedAt       time.Time        `db:"created_at"`
	UpdatedAt       time.Time        `db:"updated_at"`
}

// NodeRef identifies a node within a phase block of an execution plan.
type NodeRef struct {
	ID string `json:"id"`
}

// PhaseBlock is one entry in a WorkflowVersion's execution_plan: all nodes
// listed are runnable once every node in an earlier block has completed.
type PhaseBlock struct {
	Phase int       `json:"phase"`
	Nodes []NodeRef `json:"nodes"`
}

// DefinitionNode is one authored node in a Workflow's graph.
type DefinitionNode struct {
	ID   string         `json:"id"`
	Data DefinitionData `json:"data"`
}

// DefinitionData is the node-type and literal-input payload of an authored
// node.
type DefinitionData struct {
	Type   string         `json:"type"`
	Inputs map[string]any `json:"inputs"`
}

// DefinitionEdge connects a source node's output handle to a target node's
// input handle.
type DefinitionEdge struct {
	Source       string `json:"source"`
	SourceHandle string `json:"sourceHandle"`
	Target       string `json:"target"`
	TargetHandle string `json:"targetHandle"`
}

// Definition is the authoring graph for a WorkflowVersion.
type Definition struct {
	Nodes []DefinitionNode `json:"nodes"`
	Edges []DefinitionEdge `json:"edges"`
}

// WorkflowVersion is an immutable-ish snapshot of a Workflow's definition
// and its precomputed phased execution plan. Exactly one version per
// workflow has IsActive = true.
type WorkflowVersion struct {
	ID              uuid.UUID
	WorkflowID      uuid.UUID
	VersionNumber   int
	Definition      Definition
	ExecutionPlan   []PhaseBlock
	IsActive        bool
	ParentVersionID *uuid.UUID
	CreatedBy       uuid.UUID
	CreatedAt       time.Time
}

// WorkflowExecution is one run of a workflow's active version.
type WorkflowExecution struct {
	ID              uuid.UUID        `db:"id"`
	WorkflowID      uuid.UUID        `db:"workflow_id"`
	UserID          uuid.UUID        `db:"user_id"`
	Trigger         ExecutionTrigger `db:"trigger"`
	Status          ExecutionStatus  `db:"status"`
	CreditsConsumed *int             `db:"credits_consumed"`
	CreatedAt       time.Time        `db:"created_at"`
	StartedAt       *time.Time       `db:"started_at"`
	CompletedAt     *time.Time       `db:"completed_at"`
}

// ExecutionPhase is one persisted row per executed node.
type ExecutionPhase struct {
	ID                  uuid.UUID
	WorkflowExecutionID uuid.UUID
	UserID              uuid.UUID
	Number              int
	Name                string
	Status              PhaseStatus
	StartedAt           *time.Time
	CompletedAt         *time.Time
	Node                DefinitionNode
	Inputs              map[string]any
	Outputs             map[string]any
	CreditsConsumed     *int
}

// ExecutionLog is one append-only log line attached to a phase.
type ExecutionLog struct {
	ID               uuid.UUID
	ExecutionPhaseID uuid.UUID
	LogLevel         LogLevel
	Message          string
	Timestamp        time.Time
}

// UserBalance is the per-user credit balance. Credits never go negative at
// any commit point.
type UserBalance struct {
	UserID    uuid.UUID `db:"user_id"`
	Credits   int       `db:"credits"`
	UpdatedAt time.Time `db:"updated_at"`
}

// UserPurchase records a credit top-up, written in the same transaction as
// the corresponding balance credit.
type UserPurchase struct {
	ID        uuid.UUID `db:"id"`
	UserID    uuid.UUID `db:"user_id"`
	Credits   int       `db:"credits"`
	CreatedAt time.Time `db:"created_at"`
}

// Credential is a named reference to a secret resolved on demand through
// the secret store collaborator. SecretRef is either an opaque external
// reference or a "db:"-prefixed local-store id.
type Credential struct {
	ID         uuid.UUID `db:"id"`
	UserID     uuid.UUID `db:"user_id"`
	Name       string    `db:"name"`
	SecretRef  string    `db:"secret_ref"`
	IsDBSecret bool      `db:"is_db_secret"`
	CreatedAt  time.Time `db:"created_at"`
}

// ListOpts controls ordering and pagination for listing operations.
type ListOpts struct {
	Sort   string
	Order  string // "asc" or "desc"
	Limit  int
	Offset int
}
