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

// Package memory is an in-memory Store used by package tests that do not
// need a real database. It applies the same locking discipline as the
// postgres implementation (a single mutex standing in for row locks) so
// that tests exercising AtomicDebit/AtomicCredit races behave the same way
// against either backend.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	domainerrors "github.com/flowforge/workflows/internal/errors"
	"github.com/flowforge/workflows/internal/store"
)

// Store is an in-memory implementation of store.Store, guarded by a single
// mutex. Not intended for production use.
type Store struct {
	mu sync.Mutex

	users         map[uuid.UUID]store.User
	guestSessions map[uuid.UUID]store.GuestSession
	workflows     map[uuid.UUID]store.Workflow
	versions      map[uuid.UUID]store.WorkflowVersion
	executions    map[uuid.UUID]store.WorkflowExecution
	phases        map[uuid.UUID]store.ExecutionPhase
	logs          map[uuid.UUID][]store.ExecutionLog
	balances      map[uuid.UUID]store.UserBalance
	purchases     map[uuid.UUID]store.UserPurchase
	credentials   map[uuid.UUID]store.Credential
}

// New returns an empty in-memory store.
func New() *Store {
	return &Store{
		users:         make(map[uuid.UUID]store.User),
		guestSessions: make(map[uuid.UUID]store.GuestSession),
		workflows:     make(map[uuid.UUID]store.Workflow),
		versions:      make(map[uuid.UUID]store.WorkflowVersion),
		executions:    make(map[uuid.UUID]store.WorkflowExecution),
		phases:        make(map[uuid.UUID]store.ExecutionPhase),
		logs:          make(map[uuid.UUID][]store.ExecutionLog),
		balances:      make(map[uuid.UUID]store.UserBalance),
		purchases:     make(map[uuid.UUID]store.UserPurchase),
		credentials:   make(map[uuid.UUID]store.Credential),
	}
}

func (s *Store) Close() error { return nil }

func (s *Store) CreateUser(_ context.Context, u store.User) (store.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	s.users[u.ID] = u
	s.balances[u.ID] = store.UserBalance{UserID: u.ID, Credits: 0, UpdatedAt: u.CreatedAt}
	return u, nil
}

func (s *Store) GetUser(_ context.Context, id uuid.UUID) (store.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return store.User{}, &domainerrors.NotFoundError{Resource: "user", ID: id.String()}
	}
	return u, nil
}

func (s *Store) DeleteUser(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.users, id)
	delete(s.balances, id)
	for wfID, wf := range s.workflows {
		if wf.UserID == id {
			delete(s.workflows, wfID)
		}
	}
	for credID, c := range s.credentials {
		if c.UserID == id {
			delete(s.credentials, credID)
		}
	}
	for sessID, sess := range s.guestSessions {
		if sess.UserID == id {
			delete(s.guestSessions, sessID)
		}
	}
	return nil
}

func (s *Store) ListExpiredGuestUsers(_ context.Context, now time.Time) ([]store.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []store.User
	for _, u := range s.users {
		if u.IsGuest && u.GuestExpiresAt != nil && !u.GuestExpiresAt.After(now) {
			out = append(out, u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.String() < out[j].ID.String() })
	return out, nil
}

func (s *Store) CreateGuestSession(_ context.Context, sess store.GuestSession) (store.GuestSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess.ID == uuid.Nil {
		sess.ID = uuid.New()
	}
	s.guestSessions[sess.ID] = sess
	return sess, nil
}

func (s *Store) ListExpiredGuestSessions(_ context.Context, now time.Time) ([]store.GuestSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []store.GuestSession
	for _, sess := range s.guestSessions {
		if !sess.ExpiresAt.After(now) {
			out = append(out, sess)
		}
	}
	return out, nil
}

func (s *Store) DeleteGuestSession(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.guestSessions, id)
	return nil
}

func (s *Store) CreateWorkflow(_ context.Context, w store.Workflow) (store.Workflow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if w.ID == uuid.Nil {
		w.ID = uuid.New()
	}
	now := time.Now().UTC()
	if w.CreatedAt.IsZero() {
		w.CreatedAt = now
	}
	w.UpdatedAt = now
	s.workflows[w.ID] = w
	return w, nil
}

func (s *Store) GetWorkflow(_ context.Context, id uuid.UUID) (store.Workflow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.workflows[id]
	if !ok {
		return store.Workflow{}, &domainerrors.NotFoundError{Resource: "workflow", ID: id.String()}
	}
	return w, nil
}

func (s *Store) UpdateWorkflow(_ context.Context, w store.Workflow) (store.Workflow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.workflows[w.ID]; !ok {
		return store.Workflow{}, &domainerrors.NotFoundError{Resource: "workflow", ID: w.ID.String()}
	}
	w.UpdatedAt = time.Now().UTC()
	s.workflows[w.ID] = w
	return w, nil
}

func (s *Store) DeleteWorkflow(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.workflows, id)
	return nil
}

func (s *Store) ListWorkflows(_ context.Context, userID uuid.UUID, opts store.ListOpts) ([]store.Workflow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []store.Workflow
	for _, w := range s.workflows {
		if w.UserID == userID {
			out = append(out, w)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return paginate(out, opts), nil
}

func (s *Store) GetDueWorkflows(_ context.Context, now time.Time) ([]store.Workflow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []store.Workflow
	for _, w := range s.workflows {
		if w.Status == store.WorkflowPublished && w.NextRunAt != nil && !w.NextRunAt.After(now) {
			out = append(out, w)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NextRunAt.Before(*out[j].NextRunAt) })
	return out, nil
}

func (s *Store) SetNextRun(_ context.Context, workflowID uuid.UUID, nextRunAt *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.workflows[workflowID]
	if !ok {
		return &domainerrors.NotFoundError{Resource: "workflow", ID: workflowID.String()}
	}
	w.NextRunAt = nextRunAt
	w.UpdatedAt = time.Now().UTC()
	s.workflows[workflowID] = w
	return nil
}

func (s *Store) RecordLastRun(_ context.Context, workflowID, runID uuid.UUID, status store.ExecutionStatus, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.workflows[workflowID]
	if !ok {
		return &domainerrors.NotFoundError{Resource: "workflow", ID: workflowID.String()}
	}
	w.LastRunID = &runID
	w.LastRunStatus = &status
	w.LastRunAt = &at
	w.UpdatedAt = time.Now().UTC()
	s.workflows[workflowID] = w
	return nil
}

func (s *Store) CreateVersion(_ context.Context, v store.WorkflowVersion) (store.WorkflowVersion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v.ID == uuid.Nil {
		v.ID = uuid.New()
	}
	if v.CreatedAt.IsZero() {
		v.CreatedAt = time.Now().UTC()
	}
	s.versions[v.ID] = v
	return v, nil
}

func (s *Store) GetVersion(_ context.Context, id uuid.UUID) (store.WorkflowVersion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.versions[id]
	if !ok {
		return store.WorkflowVersion{}, &domainerrors.NotFoundError{Resource: "workflow_version", ID: id.String()}
	}
	return v, nil
}

func (s *Store) GetActiveVersion(_ context.Context, workflowID uuid.UUID) (store.WorkflowVersion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, v := range s.versions {
		if v.WorkflowID == workflowID && v.IsActive {
			return v, nil
		}
	}
	return store.WorkflowVersion{}, &domainerrors.NotFoundError{Resource: "active_workflow_version", ID: workflowID.String()}
}

func (s *Store) ListVersions(_ context.Context, workflowID uuid.UUID, opts store.ListOpts) ([]store.WorkflowVersion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []store.WorkflowVersion
	for _, v := range s.versions {
		if v.WorkflowID == workflowID {
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].VersionNumber < out[j].VersionNumber })
	return out, nil
}

func (s *Store) ActivateVersion(_ context.Context, workflowID, versionID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	target, ok := s.versions[versionID]
	if !ok || target.WorkflowID != workflowID {
		return &domainerrors.NotFoundError{Resource: "workflow_version", ID: versionID.String()}
	}
	for id, v := range s.versions {
		if v.WorkflowID == workflowID {
			v.IsActive = id == versionID
			s.versions[id] = v
		}
	}
	w, ok := s.workflows[workflowID]
	if !ok {
		return &domainerrors.NotFoundError{Resource: "workflow", ID: workflowID.String()}
	}
	w.ActiveVersionID = &versionID
	w.UpdatedAt = time.Now().UTC()
	s.workflows[workflowID] = w
	return nil
}

func (s *Store) CreateExecution(_ context.Context, e store.WorkflowExecution) (store.WorkflowExecution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	s.executions[e.ID] = e
	return e, nil
}

func (s *Store) GetExecution(_ context.Context, id uuid.UUID) (store.WorkflowExecution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.executions[id]
	if !ok {
		return store.WorkflowExecution{}, &domainerrors.NotFoundError{Resource: "workflow_execution", ID: id.String()}
	}
	return e, nil
}

func (s *Store) UpdateExecutionStatus(_ context.Context, id uuid.UUID, status store.ExecutionStatus, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.executions[id]
	if !ok {
		return &domainerrors.NotFoundError{Resource: "workflow_execution", ID: id.String()}
	}
	e.Status = status
	switch status {
	case store.ExecutionRunning:
		if e.StartedAt == nil {
			t := at
			e.StartedAt = &t
		}
	case store.ExecutionCompleted, store.ExecutionFailed, store.ExecutionCanceled:
		t := at
		e.CompletedAt = &t
	}
	s.executions[id] = e
	return nil
}

func (s *Store) SetExecutionCreditsConsumed(_ context.Context, id uuid.UUID, credits int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.executions[id]
	if !ok {
		return &domainerrors.NotFoundError{Resource: "workflow_execution", ID: id.String()}
	}
	e.CreditsConsumed = &credits
	s.executions[id] = e
	return nil
}

func (s *Store) ListExecutions(_ context.Context, workflowID uuid.UUID, opts store.ListOpts) ([]store.WorkflowExecution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []store.WorkflowExecution
	for _, e := range s.executions {
		if e.WorkflowID == workflowID {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return paginateExecutions(out, opts), nil
}

func phaseKey(executionID uuid.UUID, nodeID string) string {
	return executionID.String() + "/" + nodeID
}

func (s *Store) UpsertPhase(_ context.Context, p store.ExecutionPhase) (store.ExecutionPhase, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, existing := range s.phases {
		if existing.WorkflowExecutionID == p.WorkflowExecutionID && existing.Node.ID == p.Node.ID {
			p.ID = id
			s.phases[id] = p
			return p, nil
		}
	}
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	s.phases[p.ID] = p
	return p, nil
}

func (s *Store) ListPhases(_ context.Context, executionID uuid.UUID) ([]store.ExecutionPhase, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []store.ExecutionPhase
	for _, p := range s.phases {
		if p.WorkflowExecutionID == executionID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out, nil
}

func (s *Store) GetPhase(_ context.Context, executionID uuid.UUID, nodeID string) (store.ExecutionPhase, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.phases {
		if p.WorkflowExecutionID == executionID && p.Node.ID == nodeID {
			return p, true, nil
		}
	}
	return store.ExecutionPhase{}, false, nil
}

func (s *Store) AppendLog(_ context.Context, l store.ExecutionLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	if l.Timestamp.IsZero() {
		l.Timestamp = time.Now().UTC()
	}
	s.logs[l.ExecutionPhaseID] = append(s.logs[l.ExecutionPhaseID], l)
	return nil
}

func (s *Store) ListLogs(_ context.Context, phaseID uuid.UUID) ([]store.ExecutionLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]store.ExecutionLog, len(s.logs[phaseID]))
	copy(out, s.logs[phaseID])
	return out, nil
}

func (s *Store) GetBalance(_ context.Context, userID uuid.UUID) (store.UserBalance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.balances[userID]
	if !ok {
		return store.UserBalance{}, &domainerrors.NotFoundError{Resource: "user_balance", ID: userID.String()}
	}
	return b, nil
}

func (s *Store) AtomicDebit(_ context.Context, userID uuid.UUID, amount int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.balances[userID]
	if !ok {
		return &domainerrors.NotFoundError{Resource: "user_balance", ID: userID.String()}
	}
	if b.Credits < amount {
		return &domainerrors.InsufficientCreditsError{UserID: userID.String(), Requested: amount, Available: b.Credits}
	}
	b.Credits -= amount
	b.UpdatedAt = time.Now().UTC()
	s.balances[userID] = b
	return nil
}

func (s *Store) AtomicCredit(_ context.Context, userID uuid.UUID, amount int) (store.UserPurchase, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b := s.balances[userID]
	b.UserID = userID
	b.Credits += amount
	b.UpdatedAt = time.Now().UTC()
	s.balances[userID] = b

	purchase := store.UserPurchase{ID: uuid.New(), UserID: userID, Credits: amount, CreatedAt: b.UpdatedAt}
	s.purchases[purchase.ID] = purchase
	return purchase, nil
}

func (s *Store) CreateCredential(_ context.Context, c store.Credential) (store.Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	s.credentials[c.ID] = c
	return c, nil
}

func (s *Store) GetCredential(_ context.Context, id uuid.UUID) (store.Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.credentials[id]
	if !ok {
		return store.Credential{}, &domainerrors.NotFoundError{Resource: "credential", ID: id.String()}
	}
	return c, nil
}

func (s *Store) ListCredentials(_ context.Context, userID uuid.UUID) ([]store.Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []store.Credential
	for _, c := range s.credentials {
		if c.UserID == userID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *Store) DeleteCredential(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.credentials, id)
	return nil
}

func paginate(in []store.Workflow, opts store.ListOpts) []store.Workflow {
	if opts.Order == "desc" {
		for i, j := 0, len(in)-1; i < j; i, j = i+1, j-1 {
			in[i], in[j] = in[j], in[i]
		}
	}
	if opts.Limit <= 0 {
		return in
	}
	start := opts.Offset
	if start > len(in) {
		start = len(in)
	}
	end := start + opts.Limit
	if end > len(in) {
		end = len(in)
	}
	return in[start:end]
}

func paginateExecutions(in []store.WorkflowExecution, opts store.ListOpts) []store.WorkflowExecution {
	if opts.Order == "desc" {
		for i, j := 0, len(in)-1; i < j; i, j = i+1, j-1 {
			in[i], in[j] = in[j], in[i]
		}
	}
	if opts.Limit <= 0 {
		return in
	}
	start := opts.Offset
	if start > len(in) {
		start = len(in)
	}
	end := start + opts.Limit
	if end > len(in) {
		end = len(in)
	}
	return in[start:end]
}

var _ store.Store = (*Store)(nil)
